package store

import (
	"context"
	"database/sql"
	"fmt"
)

// OfflineEnvelope is a cached copy of an encrypted envelope handed to the
// offline broker, kept locally so a retried POST after a network error is
// recognizable as the same delivery attempt rather than a duplicate.
type OfflineEnvelope struct {
	EnvelopeID      string
	RecipientPeerID string
	SenderPeerID    string
	MessageID       string
	Payload         []byte
	ReceivedAt      int64
}

// PutOfflineEnvelope stages an envelope. Re-staging the same
// (message_id, recipient_peer_id) pair is idempotent, matching the
// broker's own POST semantics.
func (s *Store) PutOfflineEnvelope(ctx context.Context, e OfflineEnvelope) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO offline_envelope_cache
				(envelope_id, recipient_peer_id, sender_peer_id, message_id, payload, received_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id, recipient_peer_id) DO NOTHING
		`, e.EnvelopeID, e.RecipientPeerID, e.SenderPeerID, e.MessageID, e.Payload, e.ReceivedAt)
		if err != nil {
			return fmt.Errorf("store: put offline envelope: %w", err)
		}
		return nil
	})
}

// DeleteOfflineEnvelopes removes cached envelopes once the broker has
// acknowledged them, mirroring the broker-side DELETE. Ids not present are
// silently skipped, keeping retry of a partially-failed DELETE safe.
func (s *Store) DeleteOfflineEnvelopes(ctx context.Context, envelopeIDs []string) error {
	if len(envelopeIDs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range envelopeIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM offline_envelope_cache WHERE envelope_id = ?`, id); err != nil {
				return fmt.Errorf("store: delete offline envelope: %w", err)
			}
		}
		return nil
	})
}

// ListOfflineEnvelopes returns every cached envelope awaiting acknowledged
// delivery, oldest first.
func (s *Store) ListOfflineEnvelopes(ctx context.Context) ([]OfflineEnvelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT envelope_id, recipient_peer_id, sender_peer_id, message_id, payload, received_at
		FROM offline_envelope_cache ORDER BY received_at ASC
	`)
	if err != nil {
		return nil, ioError(fmt.Errorf("store: list offline envelopes: %w", err))
	}
	defer rows.Close()

	var out []OfflineEnvelope
	for rows.Next() {
		var e OfflineEnvelope
		if err := rows.Scan(&e.EnvelopeID, &e.RecipientPeerID, &e.SenderPeerID, &e.MessageID, &e.Payload, &e.ReceivedAt); err != nil {
			return nil, ioError(fmt.Errorf("store: scan offline envelope: %w", err))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
