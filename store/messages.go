package store

import (
	"context"
	"database/sql"
	"fmt"
)

// MessageStatus mirrors the delivery state machine driven by the message
// handler: pending -> sent -> delivered -> read, or pending -> failed.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is a row of the messages table.
type Message struct {
	ID             string
	ConversationID string
	SenderPeerID   string
	Body           string
	Status         MessageStatus
	Timestamp      int64
}

// InsertMessage records a newly originated or received message, always
// starting in MessageStatusPending per the write-path contract; the caller
// advances status afterward with UpdateMessageStatus.
func (s *Store) InsertMessage(ctx context.Context, m Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_peer_id, body, status, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.ID, m.ConversationID, m.SenderPeerID, m.Body, string(MessageStatusPending), m.Timestamp)
		if err != nil {
			return fmt.Errorf("store: insert message: %w", err)
		}
		return nil
	})
}

// UpdateMessageStatus advances a message's status in place. Moving a
// message that is already at or past the requested status (e.g. a
// duplicate ACK re-confirming "delivered") is a no-op, keeping the
// transition idempotent.
func (s *Store) UpdateMessageStatus(ctx context.Context, id string, status MessageStatus) error {
	query := fmt.Sprintf(`
		UPDATE messages SET status = ?
		WHERE id = ? AND (%s) < (%s)
	`, fmt.Sprintf(statusRankCase, "status"), fmt.Sprintf(statusRankCase, "?"))

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, string(status), id, string(status))
		if err != nil {
			return fmt.Errorf("store: update message status: %w", err)
		}
		return nil
	})
}

// MarkConversationRead advances every message in conversationID that is
// currently at or before MessageStatusDelivered to MessageStatusRead,
// mirroring the per-message idempotent advance UpdateMessageStatus applies
// to a single row.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string) error {
	query := fmt.Sprintf(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND (%s) < (%s)
	`, fmt.Sprintf(statusRankCase, "status"), fmt.Sprintf(statusRankCase, "?"))

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, string(MessageStatusRead), conversationID, string(MessageStatusRead))
		if err != nil {
			return fmt.Errorf("store: mark conversation read: %w", err)
		}
		return nil
	})
}

// statusRankCase orders MessageStatus values along the pending -> sent ->
// delivered -> read / failed state machine. UpdateMessageStatus formats it
// twice (once against the stored status, once against the requested one)
// so the idempotent advance is a single comparison, not a round trip.
const statusRankCase = `CASE %s
	WHEN 'pending' THEN 0
	WHEN 'sent' THEN 1
	WHEN 'delivered' THEN 2
	WHEN 'read' THEN 3
	WHEN 'failed' THEN 4
END`

// ListConversationMessages returns a conversation's messages ordered by
// (timestamp, id) ascending, the ordering contract shared by every client.
func (s *Store) ListConversationMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_peer_id, body, status, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: list messages: %w", err))
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var status string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderPeerID, &m.Body, &status, &m.Timestamp); err != nil {
			return nil, ioError(fmt.Errorf("store: scan message: %w", err))
		}
		m.Status = MessageStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListConversationMessagesPage returns one page of a conversation's
// messages ordered by (timestamp, id) ascending, skipping offset rows
// before taking limit — the pagination a UI conversation view needs once
// history outgrows a single fetch.
func (s *Store) ListConversationMessagesPage(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_peer_id, body, status, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ? OFFSET ?
	`, conversationID, limit, offset)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: list messages page: %w", err))
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var status string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderPeerID, &m.Body, &status, &m.Timestamp); err != nil {
			return nil, ioError(fmt.Errorf("store: scan message: %w", err))
		}
		m.Status = MessageStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchResult is one hit from a full-text search over message bodies.
type SearchResult struct {
	MessageID string
	Snippet   string
}

// SearchMessages runs a full-text query over message bodies via the
// messages_fts virtual table, returning the message id and a snippet for
// each hit.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, snippet(messages_fts, 0, '[', ']', '...', 10)
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: search messages: %w", err))
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.MessageID, &r.Snippet); err != nil {
			return nil, ioError(fmt.Errorf("store: scan search result: %w", err))
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
