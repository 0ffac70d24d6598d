// Package policy decides whether inbound messages are eligible for
// processing.
package policy

import (
	"fmt"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/store"
)

// Context holds information about an inbound message under evaluation.
type Context struct {
	ChatJID    string
	SenderName string
	TraceID    string
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allow   bool
	Reason  string
	Tag     string // subscription tier, display only
	Ts      time.Time
	TraceID string
}

// Engine evaluates whether an inbound message should enter the pipeline.
type Engine interface {
	Evaluate(ctx Context) (Decision, error)
}

// Gate is the blacklist-backed policy implementation. The subscription
// tag rides along for card display; it never gates processing.
type Gate struct {
	store *store.Store
}

// NewGate creates a policy gate over the conversation store.
func NewGate(st *store.Store) *Gate {
	return &Gate{store: st}
}

// Evaluate rejects blacklisted conversations and resolves the display
// tag. A blacklist lookup failure is returned as an error so the caller
// can skip the message without recording a terminal drop.
func (g *Gate) Evaluate(ctx Context) (Decision, error) {
	d := Decision{
		Ts:      time.Now(),
		TraceID: ctx.TraceID,
		Tag:     store.TagFree,
	}

	blocked, err := g.store.IsBlacklisted(ctx.ChatJID)
	if err != nil {
		return d, fmt.Errorf("policy evaluate: %w", err)
	}
	if blocked {
		d.Allow = false
		d.Reason = "chat_blacklisted"
		return d, nil
	}

	// Tag is informational; a lookup failure falls back to free.
	if tag, err := g.store.SubscriptionTag(ctx.ChatJID); err == nil {
		d.Tag = tag
	}

	d.Allow = true
	d.Reason = "not_blacklisted"
	return d, nil
}
