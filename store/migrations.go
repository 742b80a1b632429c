package store

import (
	"context"
	"database/sql"
)

type migration struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx) error
}

// migrations runs in order starting from schema version 1. Each entry
// leaves the schema in a state consistent with its own version stamp;
// later migrations only ever add to or alter what came before, never
// reorder history.
var migrations = []migration{
	{version: 1, apply: migration1},
}

func migration1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE identity (
			peer_id TEXT PRIMARY KEY,
			public_key BLOB NOT NULL,
			dh_public_key BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE contacts (
			peer_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			public_key BLOB NOT NULL,
			dh_public_key BLOB NOT NULL,
			status TEXT NOT NULL DEFAULT 'offline',
			added_at INTEGER NOT NULL
		)`,
		`CREATE TABLE conversations (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL CHECK (kind IN ('direct', 'group')),
			peer_id TEXT,
			group_id TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (peer_id) REFERENCES contacts(peer_id),
			FOREIGN KEY (group_id) REFERENCES groups(id)
		)`,
		`CREATE TABLE messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_peer_id TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent', 'delivered', 'read', 'failed')),
			timestamp INTEGER NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		)`,
		`CREATE INDEX idx_messages_conversation_order ON messages (conversation_id, timestamp, id)`,
		`CREATE VIRTUAL TABLE messages_fts USING fts5 (
			body,
			content='messages',
			content_rowid='rowid'
		)`,
		`CREATE TRIGGER messages_fts_insert AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts (rowid, body) VALUES (new.rowid, new.body);
		END`,
		`CREATE TRIGGER messages_fts_delete AFTER DELETE ON messages BEGIN
			INSERT INTO messages_fts (messages_fts, rowid, body) VALUES ('delete', old.rowid, old.body);
		END`,
		`CREATE TRIGGER messages_fts_update AFTER UPDATE ON messages BEGIN
			INSERT INTO messages_fts (messages_fts, rowid, body) VALUES ('delete', old.rowid, old.body);
			INSERT INTO messages_fts (rowid, body) VALUES (new.rowid, new.body);
		END`,
		`CREATE TABLE media (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			storage_path TEXT NOT NULL,
			FOREIGN KEY (message_id) REFERENCES messages(id)
		)`,
		`CREATE TABLE groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE group_members (
			group_id TEXT NOT NULL,
			peer_id TEXT NOT NULL,
			joined_at INTEGER NOT NULL,
			PRIMARY KEY (group_id, peer_id),
			FOREIGN KEY (group_id) REFERENCES groups(id)
		)`,
		`CREATE TABLE calls (
			id TEXT PRIMARY KEY,
			peer_id TEXT NOT NULL,
			direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			outcome TEXT NOT NULL DEFAULT 'pending'
		)`,
		`CREATE TABLE offline_envelope_cache (
			envelope_id TEXT PRIMARY KEY,
			recipient_peer_id TEXT NOT NULL,
			sender_peer_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			received_at INTEGER NOT NULL,
			UNIQUE (message_id, recipient_peer_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
