package store

import (
	"database/sql"
	"fmt"
)

// SetSubscriptionTag upserts the display tier for a conversation.
func (s *Store) SetSubscriptionTag(chatJID, tag string) error {
	if !ValidTag(tag) {
		return fmt.Errorf("unknown subscription tag %q (allowed: %s, %s, %s)", tag, TagFree, TagBasic, TagPremium)
	}
	_, err := s.db.Exec(`
		INSERT INTO subscriptions (chat_jid, tag, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(chat_jid) DO UPDATE SET tag = excluded.tag, updated_at = excluded.updated_at
	`, chatJID, tag)
	return err
}

// SubscriptionTag returns the tier for a conversation, defaulting to
// free. The tag is informational only and never gates processing.
func (s *Store) SubscriptionTag(chatJID string) (string, error) {
	var tag string
	err := s.db.QueryRow(`SELECT tag FROM subscriptions WHERE chat_jid = ?`, chatJID).Scan(&tag)
	if err == sql.ErrNoRows {
		return TagFree, nil
	}
	if err != nil {
		return TagFree, fmt.Errorf("subscription lookup %s: %w", chatJID, err)
	}
	return tag, nil
}

// ListSubscriptions returns all explicitly tagged conversations.
func (s *Store) ListSubscriptions() ([]Subscription, error) {
	query := `SELECT chat_jid, tag, updated_at FROM subscriptions ORDER BY updated_at DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ChatJID, &sub.Tag, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
