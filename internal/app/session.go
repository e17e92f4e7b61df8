package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/domain"
	"chatrelay/pkg/store"
	"chatrelay/pkg/stream"
)

const (
	// CloseRoomNotFound is the close code sent when the target room does
	// not exist at connect time or disappears mid-session.
	CloseRoomNotFound = 1008
	// ReasonRoomNotFound is the close reason paired with CloseRoomNotFound.
	ReasonRoomNotFound = "room not found"

	// DefaultUsername applies when the client supplies no user.
	DefaultUsername = "anonymous"

	// tailerStopTimeout bounds how long teardown waits for the tailing
	// goroutine to observe cancellation at its next blocking-read boundary.
	tailerStopTimeout = stream.DefaultBlock + 2*time.Second
)

// Socket is the transport side of one client connection.
type Socket interface {
	// Send pushes a payload to the client.
	Send(p domain.Payload) error
	// Receive blocks for the next inbound text from the client. It
	// returns an error when the client disconnects.
	Receive() (string, error)
	// Close closes the socket with a code and reason.
	Close(code int, reason string) error
}

// Session is the per-connection state machine. A foreground loop receives,
// persists, logs, and caches each inbound message; a background tailer
// follows the room log on a dedicated handle and pushes entries out.
type Session struct {
	app      *App
	sock     Socket
	roomID   int64
	username string
	logger   *slog.Logger
}

// NewSession binds a socket to a room. An empty username defaults to
// DefaultUsername.
func (a *App) NewSession(sock Socket, roomID int64, username string) *Session {
	if username == "" {
		username = DefaultUsername
	}
	return &Session{
		app:      a,
		sock:     sock,
		roomID:   roomID,
		username: username,
		logger: a.logger.With(
			"session_id", uuid.NewString(),
			"room_id", roomID,
			"user", username,
		),
	}
}

// Run drives the session to completion: validate room, deliver history,
// start the tailer, announce the join, then relay inbound messages until
// the client disconnects or an unrecoverable failure occurs. Teardown
// (cancel tailer, await it, release its handle) runs on every exit path.
func (s *Session) Run(ctx context.Context) error {
	if err := s.app.validateRoom(ctx, s.roomID); err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			_ = s.sock.Close(CloseRoomNotFound, ReasonRoomNotFound)
			s.logger.Info("session rejected", "reason", ReasonRoomNotFound)
			return nil
		}
		return fmt.Errorf("validate room: %w", err)
	}

	history, err := s.app.History(ctx, s.roomID)
	if err != nil {
		return err
	}
	for _, p := range history {
		if err := s.sock.Send(p); err != nil {
			return fmt.Errorf("send history: %w", err)
		}
	}

	// The tailer's cursor is pinned before the join notice is appended,
	// so this session sees its own notice and everything after it.
	// Messages relayed between the history snapshot above and this point
	// are missed; the source behavior has the same window.
	tailer := s.app.log.NewTailer(s.roomID)
	if err := tailer.Start(ctx); err != nil {
		_ = tailer.Close()
		return err
	}
	tailCtx, cancelTail := context.WithCancel(ctx)
	tailDone := make(chan error, 1)
	go func() {
		tailDone <- s.tail(tailCtx, tailer)
	}()
	defer func() {
		cancelTail()
		select {
		case tailErr := <-tailDone:
			if tailErr != nil {
				s.logger.Warn("tailer stopped with error", "err", tailErr)
			}
		case <-time.After(tailerStopTimeout):
			s.logger.Warn("tailer did not stop in time")
		}
		if err := tailer.Close(); err != nil {
			s.logger.Warn("close tailer", "err", err)
		}
	}()

	if err := s.notify(ctx, s.username+" joined"); err != nil {
		return err
	}
	s.logger.Info("session streaming")

	for {
		text, err := s.sock.Receive()
		if err != nil {
			// Client went away; the leave notice is best-effort.
			if nerr := s.notify(ctx, s.username+" left"); nerr != nil {
				s.logger.Warn("leave notice failed", "err", nerr)
			}
			s.logger.Info("session closed")
			return nil
		}
		if err := s.relay(ctx, text); err != nil {
			if errors.Is(err, store.ErrRoomNotFound) {
				_ = s.sock.Close(CloseRoomNotFound, ReasonRoomNotFound)
				s.logger.Info("session closed", "reason", ReasonRoomNotFound)
				return nil
			}
			return err
		}
	}
}

// relay persists one inbound message, appends it to the room log, and
// records it in the cache, strictly in that order. The next inbound
// message is not read until this completes.
func (s *Session) relay(ctx context.Context, text string) error {
	var saved domain.SavedMessage
	err := s.app.workers.do(ctx, func() error {
		var serr error
		saved, serr = s.app.store.SaveMessage(ctx, s.roomID, s.username, text)
		return serr
	})
	if err != nil {
		if errors.Is(err, store.ErrRoomNotFound) {
			return store.ErrRoomNotFound
		}
		return fmt.Errorf("save message: %w", err)
	}

	p := domain.Payload{
		Type:        domain.PayloadMessage,
		RoomID:      s.roomID,
		User:        s.username,
		Text:        text,
		Ts:          nowTs(),
		DBMessageID: saved.MessageID,
		DBCreatedAt: saved.CreatedAt.Format(time.RFC3339Nano),
		DBUserID:    saved.UserID,
		DBRoomID:    saved.RoomID,
	}
	if _, err := s.app.log.Append(ctx, s.roomID, p); err != nil {
		return err
	}
	return s.app.cache.Record(ctx, s.roomID, p)
}

// notify appends a system payload to the room log. System notices reach
// live tailers only; they are never persisted or cached.
func (s *Session) notify(ctx context.Context, text string) error {
	_, err := s.app.log.Append(ctx, s.roomID, domain.Payload{
		Type:   domain.PayloadSystem,
		RoomID: s.roomID,
		User:   s.username,
		Text:   text,
		Ts:     nowTs(),
	})
	return err
}

// tail follows the room log and pushes every entry to the socket,
// advancing the cursor as it goes. Cancellation is observed at each
// blocking-read boundary and is an expected outcome, not a failure.
func (s *Session) tail(ctx context.Context, tailer *stream.Tailer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		entries, err := tailer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if err := s.sock.Send(e.Payload); err != nil {
				return fmt.Errorf("push entry %s: %w", e.ID, err)
			}
		}
	}
}

func nowTs() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
