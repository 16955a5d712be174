package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
// Lookups return (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByName(ctx context.Context, name string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	SetPresence(ctx context.Context, id int64, isOnline bool, lastSeen time.Time) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create inserts the message and fills in the store-assigned ID and
	// CreatedAt.
	Create(ctx context.Context, m *Message) error
	// HistoryBetween returns every message exchanged between the two
	// users, in either direction, ordered by created_at ascending with
	// id as the tiebreak. limit <= 0 means no limit.
	HistoryBetween(ctx context.Context, userA, userB int64, limit int) ([]*Message, error)
}
