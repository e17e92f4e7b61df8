package store

import (
	"context"
	"errors"

	"chatrelay/pkg/domain"
)

var (
	// ErrRoomNotFound indicates the target room does not exist. It is
	// checked on connect and re-checked on every message save, since a
	// room can disappear while a session is streaming.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUserNotFound indicates no user exists with the given username.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates an explicit user creation collided with
	// an existing username.
	ErrUsernameTaken = errors.New("username already exists")
)

// Store defines the durable relational operations behind the relay.
// All methods block; callers on a socket-serving path must offload them.
type Store interface {
	// GetOrCreateUser returns the id for username, inserting the row
	// inside a single transaction if it is unseen. Idempotent.
	GetOrCreateUser(ctx context.Context, username string) (int64, error)
	// GetRoom returns the room or ErrRoomNotFound.
	GetRoom(ctx context.Context, roomID int64) (domain.Room, error)
	// SaveMessage re-validates the room and inserts the message
	// atomically, creating the sender on first contact. On any failure
	// no partial row remains.
	SaveMessage(ctx context.Context, roomID int64, username, text string) (domain.SavedMessage, error)
	// RecentMessages returns the most recent limit messages for a room,
	// joined with usernames, in chronological order (oldest first).
	RecentMessages(ctx context.Context, roomID int64, limit int) ([]domain.RoomMessage, error)

	// HTTP surface.
	CreateUser(ctx context.Context, username string) (domain.User, error)
	GetUser(ctx context.Context, username string) (domain.User, error)
	CreateRoom(ctx context.Context, name string) (domain.Room, error)
	ListRooms(ctx context.Context, limit int) ([]domain.Room, error)
}
