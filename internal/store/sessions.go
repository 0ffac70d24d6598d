package store

import (
	"database/sql"
	"fmt"
)

// DraftSessionID returns the cached server-side session handle for a
// conversation; ok is false when none was created yet.
func (s *Store) DraftSessionID(chatJID string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(`SELECT session_id FROM draft_sessions WHERE chat_jid = ?`, chatJID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("draft session lookup %s: %w", chatJID, err)
	}
	return id, true, nil
}

// SaveDraftSession caches a session handle. First writer wins; a handle
// already cached for the conversation is kept.
func (s *Store) SaveDraftSession(chatJID, sessionID string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO draft_sessions (chat_jid, session_id) VALUES (?, ?)`, chatJID, sessionID)
	if err != nil {
		return fmt.Errorf("save draft session %s: %w", chatJID, err)
	}
	return nil
}

// DeleteDraftSession drops the cached handle so the next draft creates a
// fresh one.
func (s *Store) DeleteDraftSession(chatJID string) error {
	_, err := s.db.Exec(`DELETE FROM draft_sessions WHERE chat_jid = ?`, chatJID)
	return err
}
