package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"chatrelay/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, media_url, media_type, created_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`
	res, err := r.db.ExecContext(ctx, query,
		m.SenderID,
		m.ReceiverID,
		m.Content,
		m.MediaURL,
		m.MediaType,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	m.ID = id

	err = r.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE id = ?`, id,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("read back message timestamp: %w", err)
	}
	return nil
}

func (r *MessageRepo) HistoryBetween(ctx context.Context, userA, userB int64, limit int) ([]*domain.Message, error) {
	// newest first so a limit keeps the most recent rows
	query := `
		SELECT id, sender_id, receiver_id, content, media_url, media_type, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC, id DESC
	`
	args := []any{userA, userB, userB, userA}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Content,
			&m.MediaURL,
			&m.MediaType,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order (query returns DESC)
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}
