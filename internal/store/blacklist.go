package store

import (
	"database/sql"
	"fmt"
)

// Blacklist inserts or refreshes a blacklist entry for a conversation.
func (s *Store) Blacklist(chatJID, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO blacklist (chat_jid, reason, blocked_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(chat_jid) DO UPDATE SET reason = excluded.reason
	`, chatJID, reason)
	if err != nil {
		return fmt.Errorf("blacklist %s: %w", chatJID, err)
	}
	return nil
}

// Unblacklist removes an entry; reports whether one existed.
func (s *Store) Unblacklist(chatJID string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM blacklist WHERE chat_jid = ?`, chatJID)
	if err != nil {
		return false, fmt.Errorf("unblacklist %s: %w", chatJID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IsBlacklisted reports whether the conversation is blocked.
func (s *Store) IsBlacklisted(chatJID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM blacklist WHERE chat_jid = ?`, chatJID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blacklist lookup %s: %w", chatJID, err)
	}
	return true, nil
}

// ListBlacklist returns all entries, most recently blocked first.
func (s *Store) ListBlacklist() ([]BlacklistEntry, error) {
	query := `SELECT chat_jid, COALESCE(reason,''), blocked_at
	FROM blacklist ORDER BY blocked_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var entries []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.ChatJID, &e.Reason, &e.BlockedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
