package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateApproval inserts a new approval record. A second pending row for
// the same conversation violates the partial unique index and fails.
func (s *Store) CreateApproval(rec *Approval) error {
	if rec.Status == "" {
		rec.Status = ApprovalPending
	}
	if rec.DeliveryStatus == "" {
		rec.DeliveryStatus = DeliveryNone
	}

	query := `
	INSERT INTO approvals (id, chat_jid, sender_name, trace_id, inbound, draft, status, delivery_status, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var expiresAt interface{}
	if rec.ExpiresAt != nil {
		expiresAt = *rec.ExpiresAt
	}
	_, err := s.db.Exec(query,
		rec.ID,
		rec.ChatJID,
		rec.SenderName,
		rec.TraceID,
		rec.Inbound,
		rec.Draft,
		rec.Status,
		rec.DeliveryStatus,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("create approval: %w", err)
	}
	return nil
}

// GetApproval returns an approval by id. Returns (nil, nil) if not found
// so callers can treat unknown card ids as a callback problem, not a db
// failure.
func (s *Store) GetApproval(id string) (*Approval, error) {
	query := `SELECT id, chat_jid, COALESCE(sender_name,''), COALESCE(trace_id,''),
		COALESCE(inbound,''), COALESCE(draft,''), COALESCE(final_text,''),
		status, COALESCE(verdict,''), COALESCE(console_msg_ts,''),
		delivery_status, delivery_attempts, delivery_next_at, COALESCE(delivery_error,''),
		created_at, updated_at, expires_at, resolved_at
	FROM approvals WHERE id = ?`

	var a Approval
	var nextAt, expiresAt, resolvedAt sql.NullTime
	err := s.db.QueryRow(query, id).Scan(
		&a.ID, &a.ChatJID, &a.SenderName, &a.TraceID,
		&a.Inbound, &a.Draft, &a.FinalText,
		&a.Status, &a.Verdict, &a.ConsoleMsgTS,
		&a.DeliveryStatus, &a.DeliveryAttempts, &nextAt, &a.DeliveryError,
		&a.CreatedAt, &a.UpdatedAt, &expiresAt, &resolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	if nextAt.Valid {
		a.DeliveryNextAt = &nextAt.Time
	}
	if expiresAt.Valid {
		a.ExpiresAt = &expiresAt.Time
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}

// PendingApproval returns the conversation's pending approval, or
// (nil, nil) when there is none.
func (s *Store) PendingApproval(chatJID string) (*Approval, error) {
	query := `SELECT id, chat_jid, COALESCE(sender_name,''), COALESCE(trace_id,''),
		COALESCE(inbound,''), COALESCE(draft,''), COALESCE(final_text,''),
		status, COALESCE(verdict,''), COALESCE(console_msg_ts,''),
		delivery_status, delivery_attempts, delivery_next_at, COALESCE(delivery_error,''),
		created_at, updated_at, expires_at, resolved_at
	FROM approvals WHERE chat_jid = ? AND status = 'pending'`

	var a Approval
	var nextAt, expiresAt, resolvedAt sql.NullTime
	err := s.db.QueryRow(query, chatJID).Scan(
		&a.ID, &a.ChatJID, &a.SenderName, &a.TraceID,
		&a.Inbound, &a.Draft, &a.FinalText,
		&a.Status, &a.Verdict, &a.ConsoleMsgTS,
		&a.DeliveryStatus, &a.DeliveryAttempts, &nextAt, &a.DeliveryError,
		&a.CreatedAt, &a.UpdatedAt, &expiresAt, &resolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending approval: %w", err)
	}
	if nextAt.Valid {
		a.DeliveryNextAt = &nextAt.Time
	}
	if expiresAt.Valid {
		a.ExpiresAt = &expiresAt.Time
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}

// ListPendingApprovals returns all pending approvals, oldest first.
func (s *Store) ListPendingApprovals() ([]Approval, error) {
	query := `SELECT id, chat_jid, COALESCE(sender_name,''), COALESCE(trace_id,''),
		COALESCE(inbound,''), COALESCE(draft,''), COALESCE(final_text,''),
		status, COALESCE(verdict,''), COALESCE(console_msg_ts,''),
		delivery_status, delivery_attempts, delivery_next_at, COALESCE(delivery_error,''),
		created_at, updated_at, expires_at, resolved_at
	FROM approvals WHERE status = 'pending'
	ORDER BY created_at ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// ResolveApproval transitions a pending approval to a terminal status
// and sets the verdict, final text, and delivery status. The update is
// guarded on status = pending; reports whether the transition applied,
// so a second callback for the same card reads as a no-op.
func (s *Store) ResolveApproval(id, status, verdict, finalText, deliveryStatus string) (bool, error) {
	query := `UPDATE approvals
	SET status = ?, verdict = ?, final_text = ?, delivery_status = ?,
		resolved_at = datetime('now'), updated_at = datetime('now')
	WHERE id = ? AND status = 'pending'`

	res, err := s.db.Exec(query, status, verdict, finalText, deliveryStatus, id)
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SetApprovalConsoleTS records the console message handle for a posted
// card so later notices can reference it.
func (s *Store) SetApprovalConsoleTS(id, ts string) error {
	_, err := s.db.Exec(`UPDATE approvals SET console_msg_ts = ?, updated_at = datetime('now') WHERE id = ?`, ts, id)
	return err
}

// UpdateApprovalDelivery updates delivery_status and sets the next
// retry time and last error. countTry increments delivery_attempts and
// must be set only when a send was actually tried, so the counter stays
// in step with the attempt rows.
func (s *Store) UpdateApprovalDelivery(id, deliveryStatus string, nextAt *time.Time, errText string, countTry bool) error {
	attempts := "delivery_attempts"
	if countTry {
		attempts = "delivery_attempts + 1"
	}
	query := `UPDATE approvals
	SET delivery_status = ?, delivery_attempts = ` + attempts + `,
		delivery_next_at = ?, delivery_error = ?, updated_at = datetime('now')
	WHERE id = ?`
	var nextAtVal interface{}
	if nextAt != nil {
		nextAtVal = *nextAt
	}
	_, err := s.db.Exec(query, deliveryStatus, nextAtVal, errText, id)
	return err
}

// ListQueuedDeliveries returns approved or edited records still waiting
// for delivery, oldest first. Retry eligibility (next_at, attempt cap)
// is checked by the delivery worker.
func (s *Store) ListQueuedDeliveries(limit int) ([]Approval, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT id, chat_jid, COALESCE(sender_name,''), COALESCE(trace_id,''),
		COALESCE(inbound,''), COALESCE(draft,''), COALESCE(final_text,''),
		status, COALESCE(verdict,''), COALESCE(console_msg_ts,''),
		delivery_status, delivery_attempts, delivery_next_at, COALESCE(delivery_error,''),
		created_at, updated_at, expires_at, resolved_at
	FROM approvals
	WHERE status IN ('approved', 'edited') AND delivery_status = 'pending'
	ORDER BY created_at ASC
	LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("list queued deliveries: %w", err)
	}
	defer rows.Close()
	return scanApprovals(rows)
}

// RecordDeliveryAttempt appends one delivery attempt row.
func (s *Store) RecordDeliveryAttempt(att *DeliveryAttempt) error {
	query := `
	INSERT INTO delivery_attempts (approval_id, chat_jid, attempt, ok, error_text)
	VALUES (?, ?, ?, ?, ?)
	`
	res, err := s.db.Exec(query, att.ApprovalID, att.ChatJID, att.Attempt, att.OK, att.ErrorText)
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	id, _ := res.LastInsertId()
	att.ID = id
	return nil
}

// ListDeliveryAttempts returns all attempts for an approval in try
// order.
func (s *Store) ListDeliveryAttempts(approvalID string) ([]DeliveryAttempt, error) {
	query := `SELECT id, approval_id, chat_jid, attempt, ok, COALESCE(error_text,''), created_at
	FROM delivery_attempts WHERE approval_id = ?
	ORDER BY attempt ASC`

	rows, err := s.db.Query(query, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var atts []DeliveryAttempt
	for rows.Next() {
		var a DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.ApprovalID, &a.ChatJID, &a.Attempt, &a.OK, &a.ErrorText, &a.CreatedAt); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

func scanApprovals(rows *sql.Rows) ([]Approval, error) {
	var recs []Approval
	for rows.Next() {
		var a Approval
		var nextAt, expiresAt, resolvedAt sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.ChatJID, &a.SenderName, &a.TraceID,
			&a.Inbound, &a.Draft, &a.FinalText,
			&a.Status, &a.Verdict, &a.ConsoleMsgTS,
			&a.DeliveryStatus, &a.DeliveryAttempts, &nextAt, &a.DeliveryError,
			&a.CreatedAt, &a.UpdatedAt, &expiresAt, &resolvedAt,
		); err != nil {
			return nil, err
		}
		if nextAt.Valid {
			a.DeliveryNextAt = &nextAt.Time
		}
		if expiresAt.Valid {
			a.ExpiresAt = &expiresAt.Time
		}
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Time
		}
		recs = append(recs, a)
	}
	return recs, rows.Err()
}
