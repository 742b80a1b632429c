package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Call is a row of the call history table.
type Call struct {
	ID        string
	PeerID    string
	Direction string
	StartedAt int64
	EndedAt   sql.NullInt64
	Outcome   string
}

// InsertCall records the start of a call.
func (s *Store) InsertCall(ctx context.Context, c Call) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calls (id, peer_id, direction, started_at, outcome)
			VALUES (?, ?, ?, ?, ?)
		`, c.ID, c.PeerID, c.Direction, c.StartedAt, c.Outcome)
		if err != nil {
			return fmt.Errorf("store: insert call: %w", err)
		}
		return nil
	})
}

// EndCall stamps a call's end time and final outcome.
func (s *Store) EndCall(ctx context.Context, id string, endedAt int64, outcome string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE calls SET ended_at = ?, outcome = ? WHERE id = ?`, endedAt, outcome, id)
		if err != nil {
			return fmt.Errorf("store: end call: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNoRows
		}
		return nil
	})
}

// ListCallsWithPeer returns call history with a peer, most recent first.
func (s *Store) ListCallsWithPeer(ctx context.Context, peerID string, limit int) ([]Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, peer_id, direction, started_at, ended_at, outcome
		FROM calls WHERE peer_id = ? ORDER BY started_at DESC LIMIT ?
	`, peerID, limit)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: list calls: %w", err))
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.ID, &c.PeerID, &c.Direction, &c.StartedAt, &c.EndedAt, &c.Outcome); err != nil {
			return nil, ioError(fmt.Errorf("store: scan call: %w", err))
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
