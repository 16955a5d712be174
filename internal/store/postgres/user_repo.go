package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chatrelay/internal/domain"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (name, is_online)
		VALUES ($1, $2)
		RETURNING id, created_at, last_seen
	`
	err := r.db.QueryRowContext(ctx, query, u.Name, u.IsOnline).
		Scan(&u.ID, &u.CreatedAt, &u.LastSeen)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT id, name, is_online, created_at, last_seen FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

func (r *UserRepo) GetByName(ctx context.Context, name string) (*domain.User, error) {
	query := `SELECT id, name, is_online, created_at, last_seen FROM users WHERE name = $1`
	return r.scanUser(ctx, query, name)
}

func (r *UserRepo) List(ctx context.Context) ([]*domain.User, error) {
	query := `
		SELECT id, name, is_online, created_at, last_seen
		FROM users
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(
			&u.ID,
			&u.Name,
			&u.IsOnline,
			&u.CreatedAt,
			&u.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) SetPresence(ctx context.Context, id int64, isOnline bool, lastSeen time.Time) error {
	query := `UPDATE users SET is_online = $1, last_seen = $2 WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, isOnline, lastSeen.UTC(), id); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Name,
		&u.IsOnline,
		&u.CreatedAt,
		&u.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}
