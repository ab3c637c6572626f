package repository

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"heartlink/internal/protocol"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var ErrRoomNotFound = errors.New("room not found")

type RoomRepo interface {
	ListForUser(ctx context.Context, userID string) ([]protocol.Room, error)
	Members(ctx context.Context, roomID string) (string, string, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

type PostgresRoomsRepo struct {
	pool *pgxpool.Pool
}

func NewRoomsRepo(pool *pgxpool.Pool) RoomRepo {
	return &PostgresRoomsRepo{pool: pool}
}

// ListForUser returns the user's rooms with the counterpart's identity
// and presence plus the denormalized last message, ordered by room
// creation so the client sees a stable load order.
func (r *PostgresRoomsRepo) ListForUser(ctx context.Context, userID string) ([]protocol.Room, error) {
	query := `
        SELECT r.id,
               u.id, u.full_name, COALESCE(u.avatar_url, ''), u.status,
               m.id, m.room_id, m.sender_id, m.receiver_id, m.content, m.image_url,
               m.msg_type, m.is_read, m.is_recalled, m.created_at
        FROM rooms r
        JOIN users u ON u.id = CASE WHEN r.user_a = $1 THEN r.user_b ELSE r.user_a END
        LEFT JOIN LATERAL (
            SELECT * FROM messages
            WHERE room_id = r.id
            ORDER BY created_at DESC
            LIMIT 1
        ) m ON TRUE
        WHERE r.user_a = $1 OR r.user_b = $1
        ORDER BY r.created_at ASC
    `

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		log.Printf("[REPO ERROR] Room list failed for user %s: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	var rooms []protocol.Room
	for rows.Next() {
		var room protocol.Room
		// last-message columns are NULL for rooms with no traffic yet
		var (
			msgID, msgRoom, sender, receiver, content, imageURL *string
			kind                                                *protocol.MessageKind
			isRead, isRecalled                                  *bool
			createdAt                                           *time.Time
		)
		err := rows.Scan(
			&room.RoomID,
			&room.Friend.ID, &room.Friend.FullName, &room.Friend.AvatarURL, &room.Friend.Status,
			&msgID, &msgRoom, &sender, &receiver, &content, &imageURL,
			&kind, &isRead, &isRecalled, &createdAt,
		)
		if err != nil {
			log.Printf("[REPO ERROR] Room scan failed: %v", err)
			return nil, err
		}
		if msgID != nil {
			room.LastMessage = &protocol.Message{
				ID:         *msgID,
				RoomID:     *msgRoom,
				SenderID:   *sender,
				ReceiverID: *receiver,
				Content:    deref(content),
				ImageURL:   deref(imageURL),
				Kind:       *kind,
				IsRead:     *isRead,
				IsRecalled: *isRecalled,
				Timestamp:  *createdAt,
			}
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *PostgresRoomsRepo) Members(ctx context.Context, roomID string) (string, string, error) {
	var a, b string
	err := r.pool.QueryRow(ctx, `SELECT user_a, user_b FROM rooms WHERE id = $1`, roomID).Scan(&a, &b)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrRoomNotFound
	}
	if err != nil {
		log.Printf("[REPO ERROR] Members lookup failed for room %s: %v", roomID, err)
		return "", "", err
	}
	return a, b, nil
}

func (r *PostgresRoomsRepo) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	a, b, err := r.Members(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a == userID || b == userID, nil
}
