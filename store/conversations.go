package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Conversation is either a direct conversation with one contact or a
// group conversation; exactly one of PeerID/GroupID is set, matching Kind.
type Conversation struct {
	ID        string
	Kind      string
	PeerID    string
	GroupID   string
	CreatedAt int64
}

// CreateDirectConversation creates the conversation row for a 1:1 contact;
// an existing row with the same id is left unchanged.
func (s *Store) CreateDirectConversation(ctx context.Context, id, peerID string, createdAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, kind, peer_id, created_at) VALUES (?, 'direct', ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, peerID, createdAt)
		if err != nil {
			return fmt.Errorf("store: create direct conversation: %w", err)
		}
		return nil
	})
}

// CreateGroupConversation creates the conversation row backing a group.
func (s *Store) CreateGroupConversation(ctx context.Context, id, groupID string, createdAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, kind, group_id, created_at) VALUES (?, 'group', ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, id, groupID, createdAt)
		if err != nil {
			return fmt.Errorf("store: create group conversation: %w", err)
		}
		return nil
	})
}

// GetDirectConversationByPeer looks up the direct conversation with peerID,
// if one has been created.
func (s *Store) GetDirectConversationByPeer(ctx context.Context, peerID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, COALESCE(peer_id, ''), COALESCE(group_id, ''), created_at
		FROM conversations WHERE kind = 'direct' AND peer_id = ?
	`, peerID)

	var c Conversation
	if err := row.Scan(&c.ID, &c.Kind, &c.PeerID, &c.GroupID, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Conversation{}, ErrNoRows
		}
		return Conversation{}, ioError(fmt.Errorf("store: get direct conversation: %w", err))
	}
	return c, nil
}

// ListConversations returns every conversation, most recently created first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, COALESCE(peer_id, ''), COALESCE(group_id, ''), created_at
		FROM conversations
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: list conversations: %w", err))
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Kind, &c.PeerID, &c.GroupID, &c.CreatedAt); err != nil {
			return nil, ioError(fmt.Errorf("store: scan conversation: %w", err))
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation looks up a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, COALESCE(peer_id, ''), COALESCE(group_id, ''), created_at
		FROM conversations WHERE id = ?
	`, id)

	var c Conversation
	if err := row.Scan(&c.ID, &c.Kind, &c.PeerID, &c.GroupID, &c.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Conversation{}, ErrNoRows
		}
		return Conversation{}, ioError(fmt.Errorf("store: get conversation: %w", err))
	}
	return c, nil
}
