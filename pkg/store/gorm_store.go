package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"chatrelay/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &RoomModel{}, &RoomMemberModel{}, &MessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// getOrCreateUserTx looks up or inserts the username inside tx. Shared by
// GetOrCreateUser and SaveMessage so both resolve users the same way.
func getOrCreateUserTx(tx *gorm.DB, username string) (UserModel, error) {
	var user UserModel
	err := tx.Where("username = ?", username).
		FirstOrCreate(&user, UserModel{Username: username}).Error
	return user, err
}

// GetOrCreateUser looks up or inserts the username in one transaction.
func (s *GormStore) GetOrCreateUser(ctx context.Context, username string) (int64, error) {
	var user UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var terr error
		user, terr = getOrCreateUserTx(tx, username)
		return terr
	})
	if err != nil {
		return 0, fmt.Errorf("get or create user: %w", err)
	}
	return user.ID, nil
}

func (s *GormStore) GetRoom(ctx context.Context, roomID int64) (domain.Room, error) {
	var room RoomModel
	if err := s.db.WithContext(ctx).First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Room{}, ErrRoomNotFound
		}
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	return domain.Room{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt}, nil
}

// SaveMessage inserts the message after re-validating the room. The whole
// operation commits or rolls back as one transaction.
func (s *GormStore) SaveMessage(ctx context.Context, roomID int64, username, text string) (domain.SavedMessage, error) {
	var saved domain.SavedMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := getOrCreateUserTx(tx, username)
		if err != nil {
			return err
		}
		var room RoomModel
		if err := tx.First(&room, roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoomNotFound
			}
			return err
		}
		msg := MessageModel{RoomID: room.ID, UserID: user.ID, Content: text}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		saved = domain.SavedMessage{
			MessageID: msg.ID,
			UserID:    user.ID,
			RoomID:    room.ID,
			CreatedAt: msg.CreatedAt,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return domain.SavedMessage{}, ErrRoomNotFound
		}
		return domain.SavedMessage{}, fmt.Errorf("save message: %w", err)
	}
	return saved, nil
}

// RecentMessages queries the newest limit messages and reverses them so the
// result reads oldest to newest.
func (s *GormStore) RecentMessages(ctx context.Context, roomID int64, limit int) ([]domain.RoomMessage, error) {
	type row struct {
		ID        int64
		RoomID    int64
		UserID    int64
		Username  string
		Content   string
		CreatedAt time.Time
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Table("messages").
		Select("messages.id, messages.room_id, messages.user_id, messages.content, messages.created_at, users.username").
		Joins("JOIN users ON users.id = messages.user_id").
		Where("messages.room_id = ?", roomID).
		Order("messages.created_at DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	out := make([]domain.RoomMessage, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		out = append(out, domain.RoomMessage{
			ID:        r.ID,
			RoomID:    r.RoomID,
			UserID:    r.UserID,
			User:      r.Username,
			Text:      r.Content,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) CreateUser(ctx context.Context, username string) (domain.User, error) {
	var user UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UserModel
		err := tx.Where("username = ?", username).Take(&existing).Error
		if err == nil {
			return ErrUsernameTaken
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		user = UserModel{Username: username}
		return tx.Create(&user).Error
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return domain.User{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt}, nil
}

func (s *GormStore) GetUser(ctx context.Context, username string) (domain.User, error) {
	var user UserModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return domain.User{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt}, nil
}

func (s *GormStore) CreateRoom(ctx context.Context, name string) (domain.Room, error) {
	room := RoomModel{Name: name}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return domain.Room{}, fmt.Errorf("create room: %w", err)
	}
	return domain.Room{ID: room.ID, Name: room.Name, CreatedAt: room.CreatedAt}, nil
}

// ListRooms returns the newest rooms first, capped at limit.
func (s *GormStore) ListRooms(ctx context.Context, limit int) ([]domain.Room, error) {
	var rooms []RoomModel
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	out := make([]domain.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, domain.Room{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt})
	}
	return out, nil
}
