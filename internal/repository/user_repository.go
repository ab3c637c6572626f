package repository

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"heartlink/internal/protocol"
)

type User struct {
	ID           string
	Username     string
	FullName     string
	AvatarURL    string
	PasswordHash string
	Status       protocol.Presence
	CreatedAt    time.Time
}

type UserRepo interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	Create(ctx context.Context, u *User) error
	SetPresence(ctx context.Context, userID string, status protocol.Presence) error
}

type PostgresUsersRepo struct {
	pool *pgxpool.Pool
}

func NewUsersRepo(pool *pgxpool.Pool) UserRepo {
	return &PostgresUsersRepo{pool: pool}
}

func (r *PostgresUsersRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `
        SELECT id, username, full_name, COALESCE(avatar_url, ''), password_hash, status, created_at
        FROM users
        WHERE username = $1
    `

	u := &User{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.FullName, &u.AvatarURL, &u.PasswordHash, &u.Status, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *PostgresUsersRepo) Create(ctx context.Context, u *User) error {
	query := `
        INSERT INTO users (id, username, full_name, avatar_url, password_hash, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `

	_, err := r.pool.Exec(ctx, query,
		u.ID, u.Username, u.FullName, u.AvatarURL, u.PasswordHash, u.Status, u.CreatedAt,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to create user %s: %v", u.Username, err)
		return err
	}
	return nil
}

func (r *PostgresUsersRepo) SetPresence(ctx context.Context, userID string, status protocol.Presence) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, userID, status)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to set presence for %s: %v", userID, err)
	}
	return err
}
