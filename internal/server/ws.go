package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/pkg/domain"
)

const closeWriteWait = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWS upgrades /ws/{room_id}?user= and hands the connection to a
// session, which runs for the connection's lifetime.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/ws/")
	roomID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return
	}
	username := r.URL.Query().Get("user")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	sock := newWSSocket(conn)
	defer sock.shutdown()

	// The request context dies with the handler's HTTP machinery once the
	// connection is hijacked; the session outlives it.
	sess := s.app.NewSession(sock, roomID, username)
	if err := sess.Run(context.Background()); err != nil {
		slog.Error("session failed", "room_id", roomID, "user", username, "err", err)
	}
}

// wsSocket adapts a gorilla connection to app.Socket. The tailer goroutine
// and the session's own pushes both write, so writes are serialized.
type wsSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	return &wsSocket{conn: conn}
}

func (s *wsSocket) Send(p domain.Payload) error {
	data, err := p.Encode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

func (s *wsSocket) Receive() (string, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType == websocket.TextMessage {
			return string(data), nil
		}
	}
}

// Close sends a close frame with the code and reason, then drops the
// connection.
func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	return s.conn.Close()
}

// shutdown closes the underlying connection without a close frame; used
// after the session has already finished.
func (s *wsSocket) shutdown() {
	_ = s.conn.Close()
}
