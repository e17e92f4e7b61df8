package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"

	"chatrelay/internal/app"
	"chatrelay/internal/ratelimit"
	"chatrelay/pkg/domain"
	"chatrelay/pkg/store"
	"chatrelay/pkg/stream"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	srv := miniredis.RunT(t)
	cfg := stream.Config{Addr: srv.Addr()}
	client := stream.NewClient(cfg)
	t.Cleanup(func() { client.Close() })

	a, err := app.New(app.Config{
		Store:  mem,
		Log:    stream.NewLog(client, cfg, stream.WithBlock(100*time.Millisecond)),
		Cache:  stream.NewCache(client),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ts := httptest.NewServer(New(Config{App: a, Store: mem}).Router())
	t.Cleanup(ts.Close)
	return ts, mem
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["ok"] != true || body["redis"] != "PONG" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestCreateUser(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/users", `{"username":"alice"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var user domain.User
	decodeBody(t, resp, &user)
	if user.Username != "alice" || user.ID == 0 {
		t.Fatalf("unexpected user: %+v", user)
	}

	resp = postJSON(t, ts.URL+"/users", `{"username":"alice"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/users", `{"username":"  "}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank username, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/users", `not json`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", resp.StatusCode)
	}
}

func TestGetUser(t *testing.T) {
	ts, mem := newTestServer(t)
	if _, err := mem.CreateUser(context.Background(), "alice"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	resp, err := http.Get(ts.URL + "/users/alice")
	if err != nil {
		t.Fatalf("GET /users/alice: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var user domain.User
	decodeBody(t, resp, &user)
	if user.Username != "alice" {
		t.Fatalf("unexpected user: %+v", user)
	}

	resp, err = http.Get(ts.URL + "/users/nobody")
	if err != nil {
		t.Fatalf("GET /users/nobody: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRooms(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/rooms", `{"name":"general"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var room domain.Room
	decodeBody(t, resp, &room)
	if room.Name != "general" || room.ID == 0 {
		t.Fatalf("unexpected room: %+v", room)
	}

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	var rooms []domain.Room
	decodeBody(t, resp, &rooms)
	if len(rooms) != 1 || rooms[0].ID != room.ID {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}

	resp, err = http.Get(fmt.Sprintf("%s/rooms/%d", ts.URL, room.ID))
	if err != nil {
		t.Fatalf("GET room: %v", err)
	}
	var got domain.Room
	decodeBody(t, resp, &got)
	if got.ID != room.ID {
		t.Fatalf("unexpected room: %+v", got)
	}

	resp, err = http.Get(ts.URL + "/rooms/999")
	if err != nil {
		t.Fatalf("GET missing room: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/rooms/abc")
	if err != nil {
		t.Fatalf("GET bad room id: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for non-numeric id, got %d", resp.StatusCode)
	}
}

func TestRoomMessages(t *testing.T) {
	ts, mem := newTestServer(t)
	ctx := context.Background()
	room, err := mem.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for i := 1; i <= 5; i++ {
		if _, err := mem.SaveMessage(ctx, room.ID, "alice", fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("save m%d: %v", i, err)
		}
	}

	resp, err := http.Get(fmt.Sprintf("%s/rooms/%d/messages", ts.URL, room.ID))
	if err != nil {
		t.Fatalf("GET messages: %v", err)
	}
	var out []messageOut
	decodeBody(t, resp, &out)
	if len(out) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(out))
	}
	for i, m := range out {
		if m.Text != fmt.Sprintf("m%d", i+1) || m.User != "alice" || m.RoomID != room.ID {
			t.Fatalf("message %d: %+v", i, m)
		}
	}

	resp, err = http.Get(fmt.Sprintf("%s/rooms/%d/messages?limit=2", ts.URL, room.ID))
	if err != nil {
		t.Fatalf("GET limited messages: %v", err)
	}
	decodeBody(t, resp, &out)
	if len(out) != 2 || out[0].Text != "m4" || out[1].Text != "m5" {
		t.Fatalf("expected last two messages, got %+v", out)
	}

	resp, err = http.Get(fmt.Sprintf("%s/rooms/%d/messages?limit=bogus", ts.URL, room.ID))
	if err != nil {
		t.Fatalf("GET bad limit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestWriteRateLimit(t *testing.T) {
	mem := store.NewMemoryStore()
	srv := miniredis.RunT(t)
	cfg := stream.Config{Addr: srv.Addr()}
	client := stream.NewClient(cfg)
	t.Cleanup(func() { client.Close() })

	a, err := app.New(app.Config{
		Store:  mem,
		Log:    stream.NewLog(client, cfg, stream.WithBlock(100*time.Millisecond)),
		Cache:  stream.NewCache(client),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ts := httptest.NewServer(New(Config{App: a, Store: mem, Limiter: limiter}).Router())
	t.Cleanup(ts.Close)

	for i := 1; i <= 2; i++ {
		resp := postJSON(t, ts.URL+"/users", fmt.Sprintf(`{"username":"user%d"}`, i))
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, resp.StatusCode)
		}
	}
	resp := postJSON(t, ts.URL+"/users", `{"username":"user3"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once over quota, got %d", resp.StatusCode)
	}
	// Reads stay unthrottled.
	getResp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readPayload(t *testing.T, conn *websocket.Conn) domain.Payload {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	p, err := domain.DecodePayload(string(data))
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return p
}

func TestWSRejectsMissingRoom(t *testing.T) {
	ts, _ := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/999"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected close error, got %v", err)
	}
	if ce.Code != app.CloseRoomNotFound || ce.Text != app.ReasonRoomNotFound {
		t.Fatalf("unexpected close: %d %q", ce.Code, ce.Text)
	}
}

func TestWSBadRoomID(t *testing.T) {
	ts, _ := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/abc"), nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 handshake response, got %+v", resp)
	}
}

func TestWSRelay(t *testing.T) {
	ts, mem := newTestServer(t)
	room, err := mem.CreateRoom(context.Background(), "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(ts, fmt.Sprintf("/ws/%d?user=alice", room.ID)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if p := readPayload(t, conn); p.Type != domain.PayloadSystem || p.Text != "alice joined" {
		t.Fatalf("expected join notice, got %+v", p)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := readPayload(t, conn)
	if p.Type != domain.PayloadMessage || p.User != "alice" || p.Text != "hi" {
		t.Fatalf("expected relayed message, got %+v", p)
	}
	if p.RoomID != room.ID || p.DBMessageID == 0 {
		t.Fatalf("payload missing identifiers: %+v", p)
	}

	// The message also lands in the durable store.
	msgs, err := mem.RecentMessages(context.Background(), room.ID, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hi" {
		t.Fatalf("expected persisted message, got %+v", msgs)
	}
}

func TestWSDefaultUsername(t *testing.T) {
	ts, mem := newTestServer(t)
	room, err := mem.CreateRoom(context.Background(), "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(ts, fmt.Sprintf("/ws/%d", room.ID)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	p := readPayload(t, conn)
	if p.Type != domain.PayloadSystem || p.User != app.DefaultUsername {
		t.Fatalf("expected anonymous join notice, got %+v", p)
	}
}
