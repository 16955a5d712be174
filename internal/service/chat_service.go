package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/presence"
)

// ChatService implements the domain operations behind the realtime
// event handlers: login, direct messages, history, presence snapshots,
// and disconnect bookkeeping. Identity-to-connection routing itself
// lives in the ws layer; this service only touches the store and the
// presence registry.
type ChatService struct {
	users    domain.UserRepository
	messages domain.MessageRepository
	registry *presence.Registry

	// HistoryLimit caps the number of rows a single history fetch
	// returns. Zero means unlimited.
	HistoryLimit int
}

func NewChatService(
	users domain.UserRepository,
	messages domain.MessageRepository,
	registry *presence.Registry,
	historyLimit int,
) *ChatService {
	return &ChatService{
		users:        users,
		messages:     messages,
		registry:     registry,
		HistoryLimit: historyLimit,
	}
}

// Login resolves a username to a user row, creating the row on first
// sight and marking it online. The caller binds the returned user to
// its connection and broadcasts the new snapshot.
func (s *ChatService) Login(ctx context.Context, name string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}

	user, err := s.users.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get user by name: %w", err)
	}

	now := time.Now().UTC()
	if user == nil {
		user = &domain.User{
			Name:     name,
			IsOnline: true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}

	if err := s.users.SetPresence(ctx, user.ID, true, now); err != nil {
		return nil, err
	}
	user.IsOnline = true
	user.LastSeen = now
	return user, nil
}

// MessageInput carries a send request from an authenticated connection.
// MediaURL and MediaType come pre-resolved from the upload collaborator
// and are passed through opaquely.
type MessageInput struct {
	ReceiverID int64
	Content    string
	MediaURL   *string
	MediaType  *string
}

// SendMessage validates and stores a direct message. The store assigns
// the id and timestamp. A message must carry non-empty content or a
// media url.
func (s *ChatService) SendMessage(ctx context.Context, senderID int64, in MessageInput) (*domain.Message, error) {
	if in.ReceiverID <= 0 {
		return nil, domain.ErrInvalidInput
	}

	hasMedia := in.MediaURL != nil && *in.MediaURL != ""
	if strings.TrimSpace(in.Content) == "" && !hasMedia {
		return nil, domain.ErrInvalidInput
	}

	msg := &domain.Message{
		SenderID:   senderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		MediaURL:   in.MediaURL,
		MediaType:  in.MediaType,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns every message exchanged between the two users in
// chronological order (timestamp ascending, id as tiebreak).
func (s *ChatService) History(ctx context.Context, selfID, withID int64) ([]*domain.Message, error) {
	if withID <= 0 {
		return nil, domain.ErrInvalidInput
	}
	return s.messages.HistoryBetween(ctx, selfID, withID, s.HistoryLimit)
}

// Snapshot lists all known users with IsOnline computed from the live
// registry bindings rather than the stored column.
func (s *ChatService) Snapshot(ctx context.Context) ([]*domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	s.registry.Annotate(users)
	return users, nil
}

// Disconnect records that the user's connection closed.
func (s *ChatService) Disconnect(ctx context.Context, userID int64) error {
	return s.users.SetPresence(ctx, userID, false, time.Now().UTC())
}
