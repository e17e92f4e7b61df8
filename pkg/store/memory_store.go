package store

import (
	"context"
	"sync"
	"time"

	"chatrelay/pkg/domain"
)

// MemoryStore keeps users, rooms, and messages in-process. It backs tests
// and local development without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: username
	rooms    map[int64]domain.Room
	messages map[int64][]domain.RoomMessage // key: room id, append order
	nextUser int64
	nextRoom int64
	nextMsg  int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		rooms:    make(map[int64]domain.Room),
		messages: make(map[int64][]domain.RoomMessage),
	}
}

func (m *MemoryStore) GetOrCreateUser(_ context.Context, username string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateUserLocked(username), nil
}

func (m *MemoryStore) getOrCreateUserLocked(username string) int64 {
	if u, ok := m.users[username]; ok {
		return u.ID
	}
	m.nextUser++
	m.users[username] = domain.User{ID: m.nextUser, Username: username, CreatedAt: time.Now().UTC()}
	return m.nextUser
}

func (m *MemoryStore) GetRoom(_ context.Context, roomID int64) (domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return domain.Room{}, ErrRoomNotFound
	}
	return room, nil
}

func (m *MemoryStore) SaveMessage(_ context.Context, roomID int64, username, text string) (domain.SavedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[roomID]; !ok {
		return domain.SavedMessage{}, ErrRoomNotFound
	}
	userID := m.getOrCreateUserLocked(username)
	m.nextMsg++
	msg := domain.RoomMessage{
		ID:        m.nextMsg,
		RoomID:    roomID,
		UserID:    userID,
		User:      username,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	m.messages[roomID] = append(m.messages[roomID], msg)
	return domain.SavedMessage{
		MessageID: msg.ID,
		UserID:    userID,
		RoomID:    roomID,
		CreatedAt: msg.CreatedAt,
	}, nil
}

func (m *MemoryStore) RecentMessages(_ context.Context, roomID int64, limit int) ([]domain.RoomMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.messages[roomID]
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	out := make([]domain.RoomMessage, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, username string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return domain.User{}, ErrUsernameTaken
	}
	m.nextUser++
	user := domain.User{ID: m.nextUser, Username: username, CreatedAt: time.Now().UTC()}
	m.users[username] = user
	return user, nil
}

func (m *MemoryStore) GetUser(_ context.Context, username string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[username]
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryStore) CreateRoom(_ context.Context, name string) (domain.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRoom++
	room := domain.Room{ID: m.nextRoom, Name: name, CreatedAt: time.Now().UTC()}
	m.rooms[room.ID] = room
	return room, nil
}

// DeleteRoom removes a room and its messages. The HTTP surface has no
// deletion; this exists to exercise rooms disappearing mid-session.
func (m *MemoryStore) DeleteRoom(roomID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	delete(m.messages, roomID)
}

func (m *MemoryStore) ListRooms(_ context.Context, limit int) ([]domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Room, 0, len(m.rooms))
	for id := m.nextRoom; id > 0 && len(out) < limit; id-- {
		if room, ok := m.rooms[id]; ok {
			out = append(out, room)
		}
	}
	return out, nil
}
