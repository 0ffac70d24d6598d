// Package store is the relay's single source of truth: the message log,
// relay tasks, approvals, delivery attempts, blacklist, subscription
// tags, draft sessions, and the local audit mirror all live in one
// sqlite database.
package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the relay database at dbPath and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open relay db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op if column exists).
	_, _ = db.Exec(`ALTER TABLE messages ADD COLUMN media_type TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE relay_tasks ADD COLUMN sender_name TEXT`)
	_, _ = db.Exec(`ALTER TABLE approvals ADD COLUMN verdict TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE approvals ADD COLUMN console_msg_ts TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE approvals ADD COLUMN delivery_error TEXT DEFAULT ''`)
	_, _ = db.Exec(`ALTER TABLE approvals ADD COLUMN expires_at DATETIME`)
	_, _ = db.Exec(`ALTER TABLE blacklist ADD COLUMN reason TEXT`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_approvals_chat ON approvals(chat_jid)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_chat ON delivery_attempts(chat_jid)`)

	return &Store{db: db}, nil
}

// DB exposes the raw handle for components that need direct queries.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// newTaskID returns a random 128-bit hex id.
func newTaskID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("task-%d", time.Now().UnixNano())
}
