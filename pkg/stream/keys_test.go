package stream

import "testing"

func TestRoomKeyDerivation(t *testing.T) {
	if got := StreamKey(12); got != "room:12:stream" {
		t.Fatalf("stream key: %q", got)
	}
	if got := CacheKey(12); got != "room:12:recent" {
		t.Fatalf("cache key: %q", got)
	}
}
