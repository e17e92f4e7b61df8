package stream

import "fmt"

// Room keys are derived here and nowhere else. The log and the cache must
// agree on the key for a room or history and live traffic stop correlating.

// StreamKey is the room's append-only log key.
func StreamKey(roomID int64) string {
	return fmt.Sprintf("room:%d:stream", roomID)
}

// CacheKey is the room's recent-message list key.
func CacheKey(roomID int64) string {
	return fmt.Sprintf("room:%d:recent", roomID)
}
