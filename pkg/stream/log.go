package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatrelay/pkg/domain"
)

const (
	// CursorNow matches only entries appended strictly after the read
	// begins, so a fresh tailer never replays pre-join history.
	CursorNow = "$"
	// cursorStart reads a stream from its beginning.
	cursorStart = "0"

	// DefaultBlock bounds each blocking read so tailers can check for
	// cancellation without busy-polling.
	DefaultBlock = 5 * time.Second
	// DefaultReadCount caps entries returned per read.
	DefaultReadCount = 50

	payloadField = "msg"
)

// Config locates the Redis backing the log and cache.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a Redis client for cfg. The caller owns closing it.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Entry is one room-log record: the server-assigned stream id and the
// payload it carries. Ids are strictly increasing within a room.
type Entry struct {
	ID      string
	Payload domain.Payload
}

// Log is the durable per-room append-only log, backed by Redis streams.
// Appends go through a shared client; blocking reads get dedicated clients
// via NewTailer so one session's long poll cannot stall another's.
type Log struct {
	client *redis.Client
	cfg    Config
	block  time.Duration
	count  int64
}

// LogOption adjusts read behavior.
type LogOption func(*Log)

// WithBlock overrides the per-read blocking bound.
func WithBlock(d time.Duration) LogOption {
	return func(l *Log) {
		if d > 0 {
			l.block = d
		}
	}
}

// NewLog wraps a shared client for appends and keeps cfg for tailers.
func NewLog(client *redis.Client, cfg Config, options ...LogOption) *Log {
	l := &Log{
		client: client,
		cfg:    cfg,
		block:  DefaultBlock,
		count:  DefaultReadCount,
	}
	for _, option := range options {
		if option != nil {
			option(l)
		}
	}
	return l
}

// Append writes the payload to the room's stream and returns the assigned
// entry id.
func (l *Log) Append(ctx context.Context, roomID int64, p domain.Payload) (string, error) {
	data, err := p.Encode()
	if err != nil {
		return "", err
	}
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(roomID),
		Values: map[string]any{payloadField: data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append room %d: %w", roomID, err)
	}
	return id, nil
}

// ReadFrom blocks up to block for entries with ids greater than cursor and
// returns up to count of them in ascending id order. A timeout with no new
// data returns an empty result and no error.
func (l *Log) ReadFrom(ctx context.Context, roomID int64, cursor string, block time.Duration, count int64) ([]Entry, error) {
	if block <= 0 {
		block = l.block
	}
	if count <= 0 {
		count = l.count
	}
	streams, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamKey(roomID), cursor},
		Block:   block,
		Count:   count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read room %d: %w", roomID, err)
	}
	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			raw, ok := msg.Values[payloadField].(string)
			if !ok {
				continue
			}
			p, err := domain.DecodePayload(raw)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Payload: p})
		}
	}
	return entries, nil
}

// Ping checks the shared client's connection.
func (l *Log) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// NewTailer opens a dedicated client positioned at "now": only entries
// appended after the tailer starts are delivered.
func (l *Log) NewTailer(roomID int64) *Tailer {
	return l.NewTailerFrom(roomID, CursorNow)
}

// NewTailerFrom opens a dedicated client reading from an explicit cursor.
func (l *Log) NewTailerFrom(roomID int64, cursor string) *Tailer {
	return &Tailer{
		client: NewClient(l.cfg),
		roomID: roomID,
		cursor: cursor,
		block:  l.block,
		count:  l.count,
	}
}

// Tailer follows one room's log on its own connection, tracking the last
// delivered entry id. It lives for the duration of one session.
type Tailer struct {
	client *redis.Client
	roomID int64
	cursor string
	block  time.Duration
	count  int64
}

// Start pins the "now" sentinel to the log's current tail, so reads see
// exactly the entries appended after this call. No-op for concrete cursors.
func (t *Tailer) Start(ctx context.Context) error {
	if t.cursor != CursorNow {
		return nil
	}
	cursor, err := t.resolveNow(ctx)
	if err != nil {
		return err
	}
	t.cursor = cursor
	return nil
}

// Next blocks up to the configured bound for new entries past the cursor
// and advances the cursor over everything it returns. No new data within
// the bound yields an empty result, not an error.
func (t *Tailer) Next(ctx context.Context) ([]Entry, error) {
	// Pin the sentinel if Start was skipped, so timed-out reads do not
	// re-arm "$" and miss entries appended between polls.
	if err := t.Start(ctx); err != nil {
		return nil, err
	}
	streams, err := t.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{StreamKey(t.roomID), t.cursor},
		Block:   t.block,
		Count:   t.count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("tail room %d: %w", t.roomID, err)
	}
	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			t.cursor = msg.ID
			raw, ok := msg.Values[payloadField].(string)
			if !ok {
				continue
			}
			p, err := domain.DecodePayload(raw)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Payload: p})
		}
	}
	return entries, nil
}

func (t *Tailer) resolveNow(ctx context.Context) (string, error) {
	last, err := t.client.XRevRangeN(ctx, StreamKey(t.roomID), "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("resolve cursor for room %d: %w", t.roomID, err)
	}
	if len(last) == 0 {
		return cursorStart, nil
	}
	return last[0].ID, nil
}

// Close releases the tailer's dedicated client. Must run on every session
// exit path.
func (t *Tailer) Close() error {
	return t.client.Close()
}
