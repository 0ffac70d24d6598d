// Package audit writes the relay's append-only trail: one entry per
// lifecycle transition, fanned out to every configured sink.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Lifecycle statuses recorded in the trail.
const (
	StatusReceived        = "received"
	StatusBlockedDropped  = "blocked_dropped"
	StatusQueuedPending   = "queued_pending"
	StatusDraftFailed     = "draft_failed"
	StatusPendingApproval = "pending_approval"
	StatusApproved        = "approved"
	StatusEdited          = "edited"
	StatusBlocked         = "blocked"
	StatusExpired         = "expired"
	StatusSentAI          = "sent_ai"
	StatusSentEdited      = "sent_edited"
	StatusSentOperator    = "sent_operator"
	StatusDeliveryFailed  = "delivery_failed"
)

// Entry is one audit row: a snapshot of a lifecycle transition.
type Entry struct {
	At         time.Time `json:"at"`
	TraceID    string    `json:"trace_id,omitempty"`
	ChatJID    string    `json:"chat_jid"`
	SenderName string    `json:"sender_name,omitempty"`
	Status     string    `json:"status"`
	Inbound    string    `json:"inbound,omitempty"`
	Draft      string    `json:"draft,omitempty"`
	Final      string    `json:"final,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink receives audit entries.
type Sink interface {
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Logger fans entries out to its sinks. Sink failures are logged and
// swallowed; the trail is best-effort by contract and never blocks the
// pipeline.
type Logger struct {
	sinks []Sink
}

// NewLogger creates a fan-out logger over the given sinks.
func NewLogger(sinks ...Sink) *Logger {
	return &Logger{sinks: sinks}
}

// Append records one entry on every sink.
func (l *Logger) Append(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, s := range l.sinks {
		if err := s.Append(ctx, e); err != nil {
			slog.Warn("Audit sink append failed", "sink", fmt.Sprintf("%T", s), "status", e.Status, "chat", e.ChatJID, "error", err)
		}
	}
}

// Close closes all sinks, returning the first error.
func (l *Logger) Close() error {
	var firstErr error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
