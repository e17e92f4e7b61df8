package domain

import (
	"encoding/json"
	"fmt"
)

// PayloadType tags the two payload kinds carried by the room log.
type PayloadType string

const (
	// PayloadMessage is a user message, persisted before it is relayed.
	PayloadMessage PayloadType = "message"
	// PayloadSystem is an ephemeral join/leave notice. It reaches the room
	// log and live tailers but is never written to the database.
	PayloadSystem PayloadType = "system"
)

// Payload is the wire object pushed over the socket and stored in the room
// log and recency cache. The db_* fields are set only on message payloads;
// history rows loaded from the database carry db_message_id alone.
type Payload struct {
	Type   PayloadType `json:"type"`
	RoomID int64       `json:"room_id"`
	User   string      `json:"user"`
	Text   string      `json:"text"`
	Ts     float64     `json:"ts"`

	DBMessageID int64  `json:"db_message_id,omitempty"`
	DBCreatedAt string `json:"db_created_at,omitempty"`
	DBUserID    int64  `json:"db_user_id,omitempty"`
	DBRoomID    int64  `json:"db_room_id,omitempty"`
}

// Validate checks the closed field set for the payload's type.
func (p Payload) Validate() error {
	switch p.Type {
	case PayloadMessage:
		return nil
	case PayloadSystem:
		if p.DBMessageID != 0 || p.DBCreatedAt != "" || p.DBUserID != 0 || p.DBRoomID != 0 {
			return fmt.Errorf("system payload must not carry db fields")
		}
		return nil
	default:
		return fmt.Errorf("unknown payload type %q", p.Type)
	}
}

// Encode validates and serializes the payload for the wire and the log.
func (p Payload) Encode() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses and validates a payload read back from a store.
func DecodePayload(data string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
