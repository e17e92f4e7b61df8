package domain

import "time"

// Room is a chat room. The relay only checks existence; rooms are created
// and listed through the HTTP API.
type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a chat participant. Users are created lazily on first message.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// SavedMessage carries the identifiers assigned by the database when a
// message is persisted.
type SavedMessage struct {
	MessageID int64
	UserID    int64
	RoomID    int64
	CreatedAt time.Time
}

// RoomMessage is a persisted message joined with the sender's username,
// as returned by recent-message queries.
type RoomMessage struct {
	ID        int64
	RoomID    int64
	UserID    int64
	User      string
	Text      string
	CreatedAt time.Time
}
