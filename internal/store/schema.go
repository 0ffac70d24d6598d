package store

import (
	"time"
)

// Message is one row of the transport's persisted message log. Both
// directions are logged; the poller only consumes rows with IsFromMe false.
type Message struct {
	ID         int64     `json:"id"`
	MessageID  string    `json:"message_id"` // source-assigned, unique per chat
	ChatJID    string    `json:"chat_jid"`
	SenderJID  string    `json:"sender_jid,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	IsFromMe   bool      `json:"is_from_me"`
	MediaType  string    `json:"media_type,omitempty"` // text, audio, image
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// RelayTask tracks the lifecycle of one ingested message through the
// pipeline. The idempotency key dedupes replays across restarts.
type RelayTask struct {
	ID             int64     `json:"id"`
	TaskID         string    `json:"task_id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	TraceID        string    `json:"trace_id,omitempty"`
	ChatJID        string    `json:"chat_jid"`
	SenderName     string    `json:"sender_name,omitempty"`
	Status         string    `json:"status"`
	ContentIn      string    `json:"content_in,omitempty"`
	ErrorText      string    `json:"error_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Approval is the operator decision record for one draft. At most one
// row per chat may be in status pending (enforced by a partial unique
// index). Delivery state lives on the same row so an approved reply
// survives restarts mid-retry.
type Approval struct {
	ID               string     `json:"id"`
	ChatJID          string     `json:"chat_jid"`
	SenderName       string     `json:"sender_name,omitempty"`
	TraceID          string     `json:"trace_id,omitempty"`
	Inbound          string     `json:"inbound"`
	Draft            string     `json:"draft"`
	FinalText        string     `json:"final_text,omitempty"`
	Status           string     `json:"status"`
	Verdict          string     `json:"verdict,omitempty"`
	ConsoleMsgTS     string     `json:"console_msg_ts,omitempty"`
	DeliveryStatus   string     `json:"delivery_status"`
	DeliveryAttempts int        `json:"delivery_attempts"`
	DeliveryNextAt   *time.Time `json:"delivery_next_at,omitempty"`
	DeliveryError    string     `json:"delivery_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// DeliveryAttempt records one send try, success or failure.
type DeliveryAttempt struct {
	ID         int64     `json:"id"`
	ApprovalID string    `json:"approval_id"`
	ChatJID    string    `json:"chat_jid"`
	Attempt    int       `json:"attempt"`
	OK         bool      `json:"ok"`
	ErrorText  string    `json:"error_text,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// BlacklistEntry marks a conversation as never to be processed.
type BlacklistEntry struct {
	ChatJID   string    `json:"chat_jid"`
	Reason    string    `json:"reason,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
}

// Subscription is a display-only tier tag for a conversation.
type Subscription struct {
	ChatJID   string    `json:"chat_jid"`
	Tag       string    `json:"tag"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DraftSession maps a conversation to its server-side draft session.
type DraftSession struct {
	ChatJID   string    `json:"chat_jid"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditRow mirrors one audit sink entry kept locally.
type AuditRow struct {
	ID         int64     `json:"id"`
	At         time.Time `json:"at"`
	TraceID    string    `json:"trace_id,omitempty"`
	ChatJID    string    `json:"chat_jid"`
	SenderName string    `json:"sender_name,omitempty"`
	Status     string    `json:"status"`
	Inbound    string    `json:"inbound,omitempty"`
	Draft      string    `json:"draft,omitempty"`
	FinalText  string    `json:"final_text,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

const (
	TaskStatusReceived         = "received"
	TaskStatusDroppedBlacklist = "dropped_blacklist"
	TaskStatusQueuedPending    = "queued_pending"
	TaskStatusDraftFailed      = "draft_failed"
	TaskStatusAwaitingApproval = "awaiting_approval"
	TaskStatusResolved         = "resolved"

	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalEdited   = "edited"
	ApprovalBlocked  = "blocked"
	ApprovalExpired  = "expired"

	VerdictApprove   = "approve"
	VerdictEdit      = "edit"
	VerdictBlock     = "block"
	VerdictRecordOwn = "record_own"

	DeliveryNone    = "none"
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"

	TagFree    = "free"
	TagBasic   = "basic"
	TagPremium = "premium"
)

// ValidTag reports whether tag is one of the known subscription tiers.
func ValidTag(tag string) bool {
	switch tag {
	case TagFree, TagBasic, TagPremium:
		return true
	}
	return false
}

// StateIngestWatermark is the relay_state key holding the row id of the
// last message-log row handed to the dispatcher.
const StateIngestWatermark = "ingest_watermark"

const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	chat_jid TEXT NOT NULL,
	sender_jid TEXT,
	sender_name TEXT,
	is_from_me BOOLEAN NOT NULL DEFAULT 0,
	media_type TEXT DEFAULT '',
	content TEXT,
	timestamp DATETIME NOT NULL,
	UNIQUE (chat_jid, message_id)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_jid, id);

CREATE TABLE IF NOT EXISTS relay_state (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS relay_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	idempotency_key TEXT UNIQUE,
	trace_id TEXT,
	chat_jid TEXT NOT NULL,
	sender_name TEXT,
	status TEXT NOT NULL DEFAULT 'received',
	content_in TEXT,
	error_text TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_relay_tasks_idempotency ON relay_tasks(idempotency_key);
CREATE INDEX IF NOT EXISTS idx_relay_tasks_chat ON relay_tasks(chat_jid);
CREATE INDEX IF NOT EXISTS idx_relay_tasks_status ON relay_tasks(status);

CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	chat_jid TEXT NOT NULL,
	sender_name TEXT,
	trace_id TEXT,
	inbound TEXT,
	draft TEXT,
	final_text TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	verdict TEXT DEFAULT '',
	console_msg_ts TEXT DEFAULT '',
	delivery_status TEXT NOT NULL DEFAULT 'none',
	delivery_attempts INTEGER NOT NULL DEFAULT 0,
	delivery_next_at DATETIME,
	delivery_error TEXT DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
CREATE INDEX IF NOT EXISTS idx_approvals_delivery ON approvals(delivery_status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_approvals_single_pending ON approvals(chat_jid) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS delivery_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_id TEXT NOT NULL,
	chat_jid TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	ok BOOLEAN NOT NULL DEFAULT 0,
	error_text TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_delivery_attempts_approval ON delivery_attempts(approval_id);

CREATE TABLE IF NOT EXISTS blacklist (
	chat_jid TEXT PRIMARY KEY,
	reason TEXT,
	blocked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS subscriptions (
	chat_jid TEXT PRIMARY KEY,
	tag TEXT NOT NULL DEFAULT 'free',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS draft_sessions (
	chat_jid TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at DATETIME NOT NULL,
	trace_id TEXT,
	chat_jid TEXT NOT NULL,
	sender_name TEXT,
	status TEXT NOT NULL,
	inbound TEXT,
	draft TEXT,
	final_text TEXT,
	detail TEXT
);

CREATE INDEX IF NOT EXISTS idx_audit_chat ON audit_log(chat_jid);
CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit_log(trace_id);
`
