package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Group is a row of the groups table: metadata only. Sender-key material
// lives in session.GroupSession and is never persisted here in the clear.
type Group struct {
	ID        string
	Name      string
	CreatedAt int64
}

// CreateGroup inserts a new group.
func (s *Store) CreateGroup(ctx context.Context, g Group) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO groups (id, name, created_at) VALUES (?, ?, ?)
		`, g.ID, g.Name, g.CreatedAt)
		if err != nil {
			return fmt.Errorf("store: create group: %w", err)
		}
		return nil
	})
}

// AddGroupMember records a member joining a group. Re-adding an existing
// member is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, peerID string, joinedAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, peer_id, joined_at) VALUES (?, ?, ?)
			ON CONFLICT(group_id, peer_id) DO NOTHING
		`, groupID, peerID, joinedAt)
		if err != nil {
			return fmt.Errorf("store: add group member: %w", err)
		}
		return nil
	})
}

// RemoveGroupMember drops a member from a group's roster; callers are
// responsible for triggering the group session's rekey-on-removal policy.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, peerID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ? AND peer_id = ?`, groupID, peerID)
		if err != nil {
			return fmt.Errorf("store: remove group member: %w", err)
		}
		return nil
	})
}

// ListGroupMembers returns every current member of a group.
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT peer_id FROM group_members WHERE group_id = ? ORDER BY joined_at ASC`, groupID)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: list group members: %w", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var peerID string
		if err := rows.Scan(&peerID); err != nil {
			return nil, ioError(fmt.Errorf("store: scan group member: %w", err))
		}
		out = append(out, peerID)
	}
	return out, rows.Err()
}
