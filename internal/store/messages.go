package store

import (
	"database/sql"
	"fmt"
)

// SaveMessage appends one row to the message log. Replays of the same
// (chat_jid, message_id) pair are ignored; reports whether a new row was
// inserted.
func (s *Store) SaveMessage(m *Message) (bool, error) {
	query := `
	INSERT OR IGNORE INTO messages (message_id, chat_jid, sender_jid, sender_name, is_from_me, media_type, content, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.Exec(query,
		m.MessageID,
		m.ChatJID,
		m.SenderJID,
		m.SenderName,
		m.IsFromMe,
		m.MediaType,
		m.Content,
		m.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("save message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		id, _ := res.LastInsertId()
		m.ID = id
	}
	return n > 0, nil
}

// InboundSince returns inbound rows with id greater than afterID, in log
// order. The log id is assigned at insert, so per-conversation arrival
// order is preserved. Own (outbound) rows are never returned.
func (s *Store) InboundSince(afterID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT id, message_id, chat_jid, COALESCE(sender_jid,''), COALESCE(sender_name,''), is_from_me, COALESCE(media_type,''), COALESCE(content,''), timestamp
	FROM messages
	WHERE id > ? AND is_from_me = 0
	ORDER BY id ASC
	LIMIT ?`

	rows, err := s.db.Query(query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("inbound since: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ChatWindow returns the last limit messages of one conversation, both
// directions, oldest first.
func (s *Store) ChatWindow(chatJID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, message_id, chat_jid, COALESCE(sender_jid,''), COALESCE(sender_name,''), is_from_me, COALESCE(media_type,''), COALESCE(content,''), timestamp
	FROM messages
	WHERE chat_jid = ?
	ORDER BY id DESC
	LIMIT ?`

	rows, err := s.db.Query(query, chatJID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat window: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MaxMessageID returns the highest message-log row id, or 0 for an empty
// log. Used to seed the watermark on first start so history is skipped.
func (s *Store) MaxMessageID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM messages`).Scan(&id); err != nil {
		return 0, fmt.Errorf("max message id: %w", err)
	}
	return id.Int64, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.MessageID,
			&m.ChatJID,
			&m.SenderJID,
			&m.SenderName,
			&m.IsFromMe,
			&m.MediaType,
			&m.Content,
			&m.Timestamp,
		); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
