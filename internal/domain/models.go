package domain

import "time"

// User represents a chat participant. A row is created the first time a
// name logs in; the id is store-assigned and never changes.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsOnline  bool      `db:"is_online" json:"is_online"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	LastSeen  time.Time `db:"last_seen" json:"last_seen"`
}

// Message is a direct message between two users. Immutable once stored;
// ID and CreatedAt are assigned by the store at insertion time so that
// history ordering has a single authority.
type Message struct {
	ID         int64     `db:"id"`
	SenderID   int64     `db:"sender_id"`
	ReceiverID int64     `db:"receiver_id"`
	Content    string    `db:"content"`
	MediaURL   *string   `db:"media_url"`
	MediaType  *string   `db:"media_type"`
	CreatedAt  time.Time `db:"created_at"`
}

// HasMedia reports whether the message carries an attachment.
func (m *Message) HasMedia() bool {
	return m.MediaURL != nil && *m.MediaURL != ""
}
