package repository

import (
	"context"
	"errors"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"heartlink/internal/protocol"
)

var ErrNoMatch = errors.New("no current match")

// MatchRepo handles dating matches. A match pairs two users with a chat
// room and expires seven days after creation.
type MatchRepo interface {
	CurrentForUser(ctx context.Context, userID string) (*protocol.Match, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type PostgresMatchesRepo struct {
	pool *pgxpool.Pool
}

func NewMatchesRepo(pool *pgxpool.Pool) MatchRepo {
	return &PostgresMatchesRepo{pool: pool}
}

func (r *PostgresMatchesRepo) CurrentForUser(ctx context.Context, userID string) (*protocol.Match, error) {
	query := `
        SELECT m.room_id, u.id, u.full_name, COALESCE(u.avatar_url, ''), u.status, m.expires_at
        FROM matches m
        JOIN users u ON u.id = CASE WHEN m.user_a = $1 THEN m.user_b ELSE m.user_a END
        WHERE (m.user_a = $1 OR m.user_b = $1) AND m.expires_at > NOW()
        ORDER BY m.created_at DESC
        LIMIT 1
    `

	match := &protocol.Match{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&match.RoomID,
		&match.Friend.ID, &match.Friend.FullName, &match.Friend.AvatarURL, &match.Friend.Status,
		&match.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoMatch
	}
	if err != nil {
		log.Printf("[REPO ERROR] Match lookup failed for user %s: %v", userID, err)
		return nil, err
	}
	return match, nil
}

func (r *PostgresMatchesRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM matches WHERE expires_at <= NOW()`)
	if err != nil {
		log.Printf("[REPO ERROR] Expired match cleanup failed: %v", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}
