package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID        int64     `gorm:"primaryKey"`
	Username  string    `gorm:"size:50;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type RoomModel struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"size:100;index;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (RoomModel) TableName() string { return "rooms" }

// RoomMemberModel is part of the schema but never written by the relay;
// membership is not required to join a room over the socket.
type RoomMemberModel struct {
	RoomID   int64     `gorm:"primaryKey"`
	UserID   int64     `gorm:"primaryKey;index"`
	JoinedAt time.Time `gorm:"not null"`
}

func (RoomMemberModel) TableName() string { return "room_members" }

type MessageModel struct {
	ID        int64     `gorm:"primaryKey"`
	RoomID    int64     `gorm:"not null;index;index:idx_messages_room_created_at,priority:1"`
	UserID    int64     `gorm:"not null;index"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_room_created_at,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }
