// Package store is the engine's durable local persistence layer: contacts,
// conversations, messages (with a full-text index over message bodies),
// media metadata, groups and their membership, call history, and the
// staging area for envelopes awaiting offline delivery.
//
// It is backed by SQLite accessed through database/sql and the
// github.com/mattn/go-sqlite3 driver, opened in write-ahead-log mode.
// Schema evolution runs as an ordered sequence of numbered migrations on
// Open; opening a database stamped with a schema version newer than the
// store understands is refused rather than silently accepted.
//
// The single underlying *sql.DB is guarded by a mutex held only for the
// duration of one transaction, mirroring the narrow per-subsystem locking
// used elsewhere in this module (session.Session, for instance).
package store
