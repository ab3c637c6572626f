package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"heartlink/internal/protocol"
)

type MessageRepo interface {
	Save(ctx context.Context, m *protocol.Message) error
	FetchByRoom(ctx context.Context, roomID string, limit int) ([]protocol.Message, error)
	Recall(ctx context.Context, messageID, roomID, senderID string) (bool, error)
	MarkRead(ctx context.Context, roomID, readerID string) (int64, error)
}

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
}

func NewMessagesRepo(pool *pgxpool.Pool) MessageRepo {
	return &PostgresMessagesRepo{pool: pool}
}

func (r *PostgresMessagesRepo) Save(ctx context.Context, m *protocol.Message) error {
	query := `
        INSERT INTO messages (id, room_id, sender_id, receiver_id, content, image_url, msg_type, is_read, is_recalled, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO NOTHING
    `

	_, err := r.pool.Exec(ctx, query,
		m.ID,
		m.RoomID,
		m.SenderID,
		m.ReceiverID,
		m.Content,
		m.ImageURL,
		m.Kind,
		m.IsRead,
		m.IsRecalled,
		m.Timestamp,
	)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to save message %s from %s: %v", m.ID, m.SenderID, err)
		return err
	}
	return nil
}

// FetchByRoom returns the room's backlog oldest-first, the order the
// timeline renders in.
func (r *PostgresMessagesRepo) FetchByRoom(ctx context.Context, roomID string, limit int) ([]protocol.Message, error) {
	query := `
        SELECT id, room_id, sender_id, receiver_id, content, image_url, msg_type, is_read, is_recalled, created_at
        FROM messages
        WHERE room_id = $1
        ORDER BY created_at ASC
        LIMIT $2
    `

	rows, err := r.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		log.Printf("[REPO ERROR] Fetch failed for room %s: %v", roomID, err)
		return nil, err
	}
	defer rows.Close()

	var messages []protocol.Message
	for rows.Next() {
		var m protocol.Message
		err := rows.Scan(
			&m.ID,
			&m.RoomID,
			&m.SenderID,
			&m.ReceiverID,
			&m.Content,
			&m.ImageURL,
			&m.Kind,
			&m.IsRead,
			&m.IsRecalled,
			&m.Timestamp,
		)
		if err != nil {
			log.Printf("[REPO ERROR] Scan failed: %v", err)
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Recall tombstones a message. Only the original sender may recall, and
// recalling twice changes nothing; both rules are enforced in the WHERE
// clause so the operation stays a single statement.
func (r *PostgresMessagesRepo) Recall(ctx context.Context, messageID, roomID, senderID string) (bool, error) {
	query := `
        UPDATE messages
        SET is_recalled = TRUE, content = $4, image_url = ''
        WHERE id = $1 AND room_id = $2 AND sender_id = $3 AND is_recalled = FALSE
    `

	tag, err := r.pool.Exec(ctx, query, messageID, roomID, senderID, protocol.RecalledPlaceholder)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to recall message %s: %v", messageID, err)
		return false, fmt.Errorf("database update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRead flips every unread message in the room that the reader did
// not author. The reader's own messages are read by the counterpart,
// not by this receipt.
func (r *PostgresMessagesRepo) MarkRead(ctx context.Context, roomID, readerID string) (int64, error) {
	query := `
        UPDATE messages
        SET is_read = TRUE
        WHERE room_id = $1 AND sender_id != $2 AND is_read = FALSE
    `

	tag, err := r.pool.Exec(ctx, query, roomID, readerID)
	if err != nil {
		log.Printf("[REPO ERROR] Failed to mark messages read in room %s: %v", roomID, err)
		return 0, fmt.Errorf("database update failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
