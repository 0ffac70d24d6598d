package approval

import (
	"context"
	"time"
)

// Card is the operator-facing view of one pending approval: the inbound
// message, the drafted reply, and enough context to decide.
type Card struct {
	ApprovalID   string     `json:"approval_id"`
	ChatJID      string     `json:"chat_jid"`
	SenderName   string     `json:"sender_name"`
	Inbound      string     `json:"inbound"`
	Draft        string     `json:"draft"`
	Tag          string     `json:"tag,omitempty"`
	FirstContact bool       `json:"first_contact,omitempty"`
	DraftError   string     `json:"draft_error,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Console posts cards to the operator and updates them once decided.
// PostCard returns the console's message handle so the card can be
// edited in place later.
type Console interface {
	PostCard(ctx context.Context, c Card) (string, error)
	UpdateCard(ctx context.Context, handle string, c Card, outcome string) error
}

// Decision is one operator verdict for a card.
type Decision struct {
	ApprovalID  string `json:"approval_id"`
	Verdict     string `json:"verdict"`
	Replacement string `json:"replacement,omitempty"`
	Operator    string `json:"operator,omitempty"`
}
