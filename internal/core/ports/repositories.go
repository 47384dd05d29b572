package ports

import (
	"context"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// ProfileRepository reads and upserts rows of the profiles relation.
type ProfileRepository interface {
	// Get returns domain.ErrProfileNotFound when no profile exists.
	Get(ctx context.Context, id string) (*domain.Profile, error)
	// Upsert inserts or replaces the profile keyed by its ID.
	Upsert(ctx context.Context, profile *domain.Profile) error
}

// RoomRepository queries and mutates the chat_rooms relation.
type RoomRepository interface {
	// List returns every room ordered by creation time, newest first.
	List(ctx context.Context) ([]domain.Room, error)
	Get(ctx context.Context, id string) (*domain.Room, error)
	Create(ctx context.Context, room domain.NewRoom) (*domain.Room, error)
	// Delete removes the room only when createdBy matches; otherwise it
	// returns domain.ErrRoomNotFound.
	Delete(ctx context.Context, id, createdBy string) error
}

// RoomCascadeDeleter is implemented by room repositories able to delete a
// room together with its messages in one atomic operation.
type RoomCascadeDeleter interface {
	DeleteWithMessages(ctx context.Context, id, createdBy string) error
}

// MessageRepository queries and mutates the messages relation. Reads join the
// author profile; a missing profile leaves Message.Author nil.
type MessageRepository interface {
	// ListByRoom returns the room's messages in creation order, oldest first.
	ListByRoom(ctx context.Context, roomID string) ([]domain.Message, error)
	GetWithAuthor(ctx context.Context, id string) (*domain.Message, error)
	Insert(ctx context.Context, msg domain.NewMessage) (*domain.Message, error)
	DeleteByRoom(ctx context.Context, roomID string) error
}
