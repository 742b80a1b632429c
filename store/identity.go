package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PutIdentity records the engine's own public identity (never key
// material; that lives only in the encrypted keystore) so contacts can be
// cross-referenced against it.
func (s *Store) PutIdentity(ctx context.Context, peerID string, publicKey, dhPublicKey []byte, createdAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identity (peer_id, public_key, dh_public_key, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(peer_id) DO NOTHING
		`, peerID, publicKey, dhPublicKey, createdAt)
		if err != nil {
			return fmt.Errorf("store: put identity: %w", err)
		}
		return nil
	})
}

// GetIdentity returns the locally recorded identity row, if any.
func (s *Store) GetIdentity(ctx context.Context) (peerID string, publicKey, dhPublicKey []byte, createdAt int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT peer_id, public_key, dh_public_key, created_at FROM identity LIMIT 1`)
	if scanErr := row.Scan(&peerID, &publicKey, &dhPublicKey, &createdAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return "", nil, nil, 0, ErrNoRows
		}
		return "", nil, nil, 0, ioError(fmt.Errorf("store: get identity: %w", scanErr))
	}
	return peerID, publicKey, dhPublicKey, createdAt, nil
}
