package store

import (
	"fmt"
	"time"
)

// AppendAudit writes one row to the local audit mirror.
func (s *Store) AppendAudit(row *AuditRow) error {
	if row.At.IsZero() {
		row.At = time.Now()
	}
	query := `
	INSERT INTO audit_log (at, trace_id, chat_jid, sender_name, status, inbound, draft, final_text, detail)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.Exec(query,
		row.At,
		row.TraceID,
		row.ChatJID,
		row.SenderName,
		row.Status,
		row.Inbound,
		row.Draft,
		row.FinalText,
		row.Detail,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	id, _ := res.LastInsertId()
	row.ID = id
	return nil
}

// ListAudit returns recent audit rows, newest first, optionally filtered
// by conversation.
func (s *Store) ListAudit(chatJID string, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, at, COALESCE(trace_id,''), chat_jid, COALESCE(sender_name,''), status,
		COALESCE(inbound,''), COALESCE(draft,''), COALESCE(final_text,''), COALESCE(detail,'')
	FROM audit_log WHERE 1=1`
	args := []interface{}{}

	if chatJID != "" {
		query += " AND chat_jid = ?"
		args = append(args, chatJID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditRow
	for rows.Next() {
		var e AuditRow
		if err := rows.Scan(
			&e.ID, &e.At, &e.TraceID, &e.ChatJID, &e.SenderName, &e.Status,
			&e.Inbound, &e.Draft, &e.FinalText, &e.Detail,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
