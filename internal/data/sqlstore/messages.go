package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
)

// SaveChatMessage appends a message. Ids are UUIDv7 so they sort with time.
func (s *Store) SaveChatMessage(ctx context.Context, nm data.NewMessage) (*data.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	m := &data.Message{
		ID:        id.String(),
		UserID:    nm.UserID,
		Username:  nm.Username,
		Text:      nm.Text,
		CreatedAt: s.now().UTC(),
	}

	query := s.rebind(`INSERT INTO messages (id, user_id, username, text, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.UserID, m.Username, m.Text, m.CreatedAt); err != nil {
		return nil, apperr.Transient("insert message", err)
	}
	return m, nil
}

// FetchRecentMessages returns the newest messages ordered oldest→newest.
func (s *Store) FetchRecentMessages(ctx context.Context, limit int) ([]*data.Message, error) {
	query := s.rebind(`SELECT id, user_id, username, text, created_at FROM messages ORDER BY created_at DESC, id DESC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, data.ClampLimit(limit))
	if err != nil {
		return nil, apperr.Transient("query messages", err)
	}
	defer rows.Close()

	var msgs []*data.Message
	for rows.Next() {
		var m data.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Username, &m.Text, &m.CreatedAt); err != nil {
			return nil, apperr.Transient("scan message", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate messages", err)
	}

	data.Reverse(msgs)
	return msgs, nil
}
