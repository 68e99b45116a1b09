package db

import (
	"database/sql"
	"fmt"

	"guardian/internal/message"
)

type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Store persists an envelope under its client-supplied id. A repeated
// id is a retry of the same message and is ignored, which keeps the
// retry path idempotent server-side.
func (r *MessageRepository) Store(env *message.Envelope) (bool, error) {
	res, err := r.db.Exec(
		`INSERT INTO messages (id, sender_id, kind, text, resource_ref, latitude, longitude, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		env.ID, env.SenderID, env.Kind, env.Text,
		nullString(env.ResourceRef), env.Latitude, env.Longitude,
		env.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("storing message: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}

// Recent returns the newest messages in chronological order.
func (r *MessageRepository) Recent(limit int) ([]*message.Envelope, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT m.id, m.sender_id, u.username, m.kind, m.text, m.resource_ref, m.latitude, m.longitude, m.created_at
		 FROM messages m
		 LEFT JOIN users u ON m.sender_id = u.id
		 ORDER BY m.rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	envelopes := make([]*message.Envelope, 0)
	for rows.Next() {
		var env message.Envelope
		var senderName, resourceRef sql.NullString

		err := rows.Scan(&env.ID, &env.SenderID, &senderName, &env.Kind, &env.Text,
			&resourceRef, &env.Latitude, &env.Longitude, &env.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		env.SenderName = senderName.String
		env.ResourceRef = resourceRef.String
		envelopes = append(envelopes, &env)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}

	return envelopes, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
