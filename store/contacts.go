package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edsonmartins/mepassa/crypto"
)

// Contact is a row of the contacts table: a peer this engine has added,
// independent of whether a live connection currently exists.
type Contact struct {
	PeerID      crypto.PeerID
	DisplayName string
	PublicKey   []byte
	DHPublicKey []byte
	Status      string
	AddedAt     int64
}

// UpsertContact inserts a contact or updates its display name and status
// if the peer id is already known.
func (s *Store) UpsertContact(ctx context.Context, c Contact) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (peer_id, display_name, public_key, dh_public_key, status, added_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(peer_id) DO UPDATE SET display_name = excluded.display_name, status = excluded.status
		`, string(c.PeerID), c.DisplayName, c.PublicKey, c.DHPublicKey, c.Status, c.AddedAt)
		if err != nil {
			return fmt.Errorf("store: upsert contact: %w", err)
		}
		return nil
	})
}

// GetContact looks up a contact by peer id.
func (s *Store) GetContact(ctx context.Context, peerID crypto.PeerID) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT peer_id, display_name, public_key, dh_public_key, status, added_at
		FROM contacts WHERE peer_id = ?
	`, string(peerID))

	var c Contact
	var pid string
	if err := row.Scan(&pid, &c.DisplayName, &c.PublicKey, &c.DHPublicKey, &c.Status, &c.AddedAt); err != nil {
		if err == sql.ErrNoRows {
			return Contact{}, ErrNoRows
		}
		return Contact{}, ioError(fmt.Errorf("store: get contact: %w", err))
	}
	c.PeerID = crypto.PeerID(pid)
	return c, nil
}

// UpdateContactDHKey records the X25519 identity key a peer presented
// during a handshake, inserting a bare contact row if none exists yet so
// the key is never dropped while a display name is still pending.
func (s *Store) UpdateContactDHKey(ctx context.Context, peerID crypto.PeerID, dhPublicKey []byte, observedAt int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (peer_id, display_name, public_key, dh_public_key, status, added_at)
			VALUES (?, '', ?, ?, 'known', ?)
			ON CONFLICT(peer_id) DO UPDATE SET dh_public_key = excluded.dh_public_key
		`, string(peerID), []byte{}, dhPublicKey, observedAt)
		if err != nil {
			return fmt.Errorf("store: update contact dh key: %w", err)
		}
		return nil
	})
}

// ListContacts returns every known contact, ordered by when it was added.
func (s *Store) ListContacts(ctx context.Context) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT peer_id, display_name, public_key, dh_public_key, status, added_at
		FROM contacts ORDER BY added_at ASC
	`)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: list contacts: %w", err))
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var pid string
		if err := rows.Scan(&pid, &c.DisplayName, &c.PublicKey, &c.DHPublicKey, &c.Status, &c.AddedAt); err != nil {
			return nil, ioError(fmt.Errorf("store: scan contact: %w", err))
		}
		c.PeerID = crypto.PeerID(pid)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetContactStatus updates a contact's online status.
func (s *Store) SetContactStatus(ctx context.Context, peerID crypto.PeerID, status string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE contacts SET status = ? WHERE peer_id = ?`, status, string(peerID))
		if err != nil {
			return fmt.Errorf("store: set contact status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNoRows
		}
		return nil
	})
}
