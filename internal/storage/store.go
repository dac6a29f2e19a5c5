//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roomchat/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by CreateDirect when the pair already has a room.
	ErrConflict = errors.New("conflict")
)

// Directory: адаптер каталога профилей (внешний сервис, ядро только читает и меняет is_online).
// Реализации: repository.ProfileRepository (Postgres), memory.Store (для -dev и тестов).
type Directory interface {
	ResolveProfileByUserID(ctx context.Context, userID string) (*model.Profile, error)
	GetProfiles(ctx context.Context, ids []string) ([]model.Profile, error)
	SetOnline(ctx context.Context, profileID string, online bool) error
	OnlineAmong(ctx context.Context, ids []string) ([]string, error)
}

// RoomStore persists rooms, members and the per-member archived/deleted markers.
type RoomStore interface {
	GetByID(ctx context.Context, id string) (*model.Room, error)
	FindDirect(ctx context.Context, a, b string) (*model.Room, error)
	// CreateDirect inserts a direct room for exactly two members. It returns
	// ErrConflict when another room for the same pair won the race.
	CreateDirect(ctx context.Context, r *model.Room) error
	CreateGroup(ctx context.Context, r *model.Room) error
	ListForProfile(ctx context.Context, profileID string) ([]model.Room, error)
	AddArchivedBy(ctx context.Context, roomID, profileID string) error
	AddDeletedBy(ctx context.Context, roomID, profileID string) error
}

// MessageStore persists messages and their lifecycle flags.
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByRoom(ctx context.Context, roomID string) ([]model.Message, error)
	// LatestVisible returns nil, nil when the viewer sees no message in the room.
	LatestVisible(ctx context.Context, roomID, viewerID string) (*model.Message, error)
	MarkRead(ctx context.Context, id string, at time.Time) (*model.Message, error)
	// MarkAllRead marks every unread message of the room read with one timestamp
	// and returns the updated rows.
	MarkAllRead(ctx context.Context, roomID string, at time.Time) ([]model.Message, error)
	UpdateText(ctx context.Context, id, text string, at time.Time) (*model.Message, error)
	AddDeletedBy(ctx context.Context, id, profileID string) error
	// AddDeletedByAll tombstones every message of the room for profileID in one
	// atomic step and returns the number of messages in the room.
	AddDeletedByAll(ctx context.Context, roomID, profileID string) (int, error)
}

// Broker разносит события по топикам между экземплярами API.
// Реализации: redis.Broker, memory.Broker (для -dev без Redis).
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe starts delivering every published topic to deliver until ctx is done.
	// It returns once the subscription is active.
	Subscribe(ctx context.Context, deliver func(topic string, payload []byte)) error
	Close() error
}
