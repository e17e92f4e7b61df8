// Package server exposes the HTTP and WebSocket surface of the relay.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatrelay/internal/app"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/util"
	"chatrelay/pkg/domain"
	"chatrelay/pkg/store"
)

const roomMessagesCap = 50

// Config wires required dependencies for the server. Limiter is optional;
// when nil the write endpoints are unthrottled.
type Config struct {
	App     *app.App
	Store   store.Store
	Limiter *ratelimit.FixedWindowLimiter
}

// Server routes room/user CRUD and the chat socket.
type Server struct {
	app     *app.App
	store   store.Store
	limiter *ratelimit.FixedWindowLimiter
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:     cfg.App,
		store:   cfg.Store,
		limiter: cfg.Limiter,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/users", s.handleUsers)
	s.mux.HandleFunc("/users/", s.handleUserByName)
	s.mux.HandleFunc("/rooms", s.handleRooms)
	s.mux.HandleFunc("/rooms/", s.handleRoomByID)
	s.mux.HandleFunc("/ws/", s.handleWS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "redis unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "redis": "PONG"})
}

type userRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.limiter.Allow(r.Context(), clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req userRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Username) > 50 {
		writeError(w, http.StatusBadRequest, "username must be 1-50 characters")
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "username already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "create user failed")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleUserByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	username := strings.TrimPrefix(r.URL.Path, "/users/")
	if username == "" || strings.Contains(username, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	user, err := s.store.GetUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get user failed")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type roomRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.limiter.Allow(r.Context(), clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		var req roomRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || len(req.Name) > 100 {
			writeError(w, http.StatusBadRequest, "name must be 1-100 characters")
			return
		}
		room, err := s.store.CreateRoom(r.Context(), req.Name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "create room failed")
			return
		}
		writeJSON(w, http.StatusCreated, room)
	case http.MethodGet:
		rooms, err := s.store.ListRooms(r.Context(), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list rooms failed")
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/rooms/")
	parts := strings.SplitN(path, "/", 2)
	roomID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	room, err := s.store.GetRoom(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get room failed")
		return
	}
	if len(parts) == 1 || parts[1] == "" {
		writeJSON(w, http.StatusOK, room)
		return
	}
	if parts[1] != "messages" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.handleRoomMessages(w, r, room)
}

type messageOut struct {
	ID        int64  `json:"id"`
	RoomID    int64  `json:"room_id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request, room domain.Room) {
	limit := roomMessagesCap
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < limit {
			limit = n
		}
	}
	messages, err := s.store.RecentMessages(r.Context(), room.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load messages failed")
		return
	}
	out := make([]messageOut, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageOut{
			ID:        m.ID,
			RoomID:    m.RoomID,
			User:      m.User,
			Text:      m.Text,
			CreatedAt: m.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// clientIP identifies the caller for rate limiting; the first
// X-Forwarded-For hop wins when a proxy sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
