// Package approval coordinates operator review of drafted replies: one
// card per conversation at a time, verdict application, and expiry of
// cards nobody answered.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/audit"
	"github.com/Relaydeck/Relaydeck/internal/relayerr"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

// OpenRequest carries everything needed to open a new card.
type OpenRequest struct {
	ChatJID      string
	SenderName   string
	TraceID      string
	Inbound      string
	Draft        string
	Tag          string
	FirstContact bool
	// DraftError is set when the generator failed; the card is posted
	// with an empty draft and asks for a manual reply.
	DraftError string
}

// Coordinator owns the approval lifecycle. Records live in the store;
// the partial unique index on pending rows is what actually enforces
// the one-card-per-conversation rule, so concurrent opens are safe
// across processes too.
type Coordinator struct {
	store   *store.Store
	console Console
	audit   *audit.Logger
	ttl     time.Duration

	sweepEvery time.Duration
}

// NewCoordinator creates a coordinator. ttl is how long a card stays
// answerable; ttl <= 0 disables expiry.
func NewCoordinator(st *store.Store, console Console, auditLog *audit.Logger, ttl time.Duration) *Coordinator {
	return &Coordinator{
		store:      st,
		console:    console,
		audit:      auditLog,
		ttl:        ttl,
		sweepEvery: 60 * time.Second,
	}
}

// SetSweepInterval overrides the expiry sweep cadence.
func (c *Coordinator) SetSweepInterval(d time.Duration) {
	if d > 0 {
		c.sweepEvery = d
	}
}

// Open creates a pending approval for the conversation and posts its
// card. When the conversation already has a pending card the existing
// record is returned with opened=false and nothing is posted; the new
// inbound rides the open card.
func (c *Coordinator) Open(ctx context.Context, req OpenRequest) (*store.Approval, bool, error) {
	if existing, err := c.store.PendingApproval(req.ChatJID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	// A block verdict can land while this chat's draft is still in
	// flight. Re-check here so the blacklist wins over the older inbound.
	if blocked, err := c.store.IsBlacklisted(req.ChatJID); err != nil {
		return nil, false, err
	} else if blocked {
		c.audit.Append(ctx, audit.Entry{
			TraceID:    req.TraceID,
			ChatJID:    req.ChatJID,
			SenderName: req.SenderName,
			Status:     audit.StatusBlockedDropped,
			Inbound:    req.Inbound,
			Detail:     "chat_blacklisted",
		})
		return nil, false, relayerr.New(relayerr.KindPolicyRejection, "approval.open",
			"chat "+req.ChatJID+" is blacklisted")
	}

	rec := &store.Approval{
		ID:         newApprovalID(),
		ChatJID:    req.ChatJID,
		SenderName: req.SenderName,
		TraceID:    req.TraceID,
		Inbound:    req.Inbound,
		Draft:      req.Draft,
	}
	if c.ttl > 0 {
		expiresAt := time.Now().Add(c.ttl)
		rec.ExpiresAt = &expiresAt
	}

	if err := c.store.CreateApproval(rec); err != nil {
		// Another opener may have won the pending slot between our
		// check and the insert. Re-read before giving up.
		if existing, lookupErr := c.store.PendingApproval(req.ChatJID); lookupErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}

	c.postCard(ctx, rec, req.Tag, req.FirstContact, req.DraftError)

	detail := req.DraftError
	if detail == "" && req.FirstContact {
		detail = "first contact"
	}
	c.audit.Append(ctx, audit.Entry{
		TraceID:    req.TraceID,
		ChatJID:    req.ChatJID,
		SenderName: req.SenderName,
		Status:     audit.StatusPendingApproval,
		Inbound:    req.Inbound,
		Draft:      req.Draft,
		Detail:     detail,
	})
	return rec, true, nil
}

// Resolve applies an operator verdict. Unknown ids and unusable verdicts
// fail as malformed; a verdict for an already-resolved card fails as
// duplicate but still returns the record so callers can show the prior
// outcome.
func (c *Coordinator) Resolve(ctx context.Context, d Decision) (*store.Approval, error) {
	rec, err := c.store.GetApproval(d.ApprovalID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, relayerr.New(relayerr.KindMalformedCallback, "approval.resolve", "unknown approval id "+d.ApprovalID)
	}
	if rec.Status != store.ApprovalPending {
		return rec, relayerr.New(relayerr.KindDuplicateCallback, "approval.resolve",
			fmt.Sprintf("approval %s already %s", rec.ID, rec.Status))
	}

	var status, finalText, deliveryStatus, auditStatus string
	switch d.Verdict {
	case store.VerdictApprove:
		if strings.TrimSpace(rec.Draft) == "" {
			return rec, relayerr.New(relayerr.KindMalformedCallback, "approval.resolve",
				"draft is empty, edit or record a reply instead")
		}
		status, finalText = store.ApprovalApproved, rec.Draft
		deliveryStatus, auditStatus = store.DeliveryPending, audit.StatusApproved
	case store.VerdictEdit:
		if strings.TrimSpace(d.Replacement) == "" {
			return rec, relayerr.New(relayerr.KindMalformedCallback, "approval.resolve", "edit needs replacement text")
		}
		status, finalText = store.ApprovalEdited, d.Replacement
		deliveryStatus, auditStatus = store.DeliveryPending, audit.StatusEdited
	case store.VerdictRecordOwn:
		if strings.TrimSpace(d.Replacement) == "" {
			return rec, relayerr.New(relayerr.KindMalformedCallback, "approval.resolve", "record_own needs content")
		}
		// The operator's own reply is delivered like an edit; the
		// verdict column keeps the provenance for the trail.
		status, finalText = store.ApprovalEdited, d.Replacement
		deliveryStatus, auditStatus = store.DeliveryPending, audit.StatusEdited
	case store.VerdictBlock:
		status, finalText = store.ApprovalBlocked, ""
		deliveryStatus, auditStatus = store.DeliveryNone, audit.StatusBlocked
	default:
		return rec, relayerr.New(relayerr.KindMalformedCallback, "approval.resolve", "unknown verdict "+d.Verdict)
	}

	if d.Verdict == store.VerdictBlock {
		// Insert before the pending slot frees up, otherwise an inbound
		// whose draft is mid-flight can slip a fresh card in between.
		if err := c.store.Blacklist(rec.ChatJID, "blocked by operator"); err != nil {
			return rec, fmt.Errorf("blacklist on block: %w", err)
		}
	}

	applied, err := c.store.ResolveApproval(rec.ID, status, d.Verdict, finalText, deliveryStatus)
	if err != nil {
		return rec, err
	}
	if !applied {
		// Lost a race with another resolver or the expiry sweep.
		rec, _ = c.store.GetApproval(rec.ID)
		return rec, relayerr.New(relayerr.KindDuplicateCallback, "approval.resolve",
			"approval "+d.ApprovalID+" resolved concurrently")
	}

	rec.Status = status
	rec.Verdict = d.Verdict
	rec.FinalText = finalText
	rec.DeliveryStatus = deliveryStatus

	c.updateCard(ctx, rec, status)
	c.closeTasks(rec.ChatJID, d.Verdict)

	c.audit.Append(ctx, audit.Entry{
		TraceID:    rec.TraceID,
		ChatJID:    rec.ChatJID,
		SenderName: rec.SenderName,
		Status:     auditStatus,
		Inbound:    rec.Inbound,
		Draft:      rec.Draft,
		Final:      finalText,
		Detail:     resolveDetail(d),
	})

	slog.Info("Approval resolved",
		"approval_id", rec.ID,
		"chat", rec.ChatJID,
		"verdict", d.Verdict,
		"operator", d.Operator)
	return rec, nil
}

// Run sweeps expired cards until ctx is done. A sweep also runs
// immediately so restarts pick up cards that aged out while the
// process was down.
func (c *Coordinator) Run(ctx context.Context) {
	if c.ttl <= 0 {
		return
	}
	slog.Info("Approval expiry sweeper started", "ttl", c.ttl.String())
	c.sweep(ctx)

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep expires pending cards whose deadline passed. Expiry is not a
// permanent drop: the pending slot frees up and the next inbound from
// that conversation opens a fresh card.
func (c *Coordinator) sweep(ctx context.Context) {
	pending, err := c.store.ListPendingApprovals()
	if err != nil {
		slog.Error("Approval sweep failed", "error", err)
		return
	}
	now := time.Now()
	for _, rec := range pending {
		if rec.ExpiresAt == nil || rec.ExpiresAt.After(now) {
			continue
		}
		applied, err := c.store.ResolveApproval(rec.ID, store.ApprovalExpired, "", "", store.DeliveryNone)
		if err != nil {
			slog.Error("Approval expire failed", "approval_id", rec.ID, "error", err)
			continue
		}
		if !applied {
			continue
		}
		rec.Status = store.ApprovalExpired
		c.closeTasks(rec.ChatJID, "expired")
		c.updateCard(ctx, &rec, store.ApprovalExpired)
		c.audit.Append(ctx, audit.Entry{
			TraceID:    rec.TraceID,
			ChatJID:    rec.ChatJID,
			SenderName: rec.SenderName,
			Status:     audit.StatusExpired,
			Inbound:    rec.Inbound,
			Draft:      rec.Draft,
		})
		slog.Info("Approval expired", "approval_id", rec.ID, "chat", rec.ChatJID)
	}
}

// RepostPending posts a fresh card for every pending approval. Called
// on startup: records survive restarts, console messages do not.
func (c *Coordinator) RepostPending(ctx context.Context) {
	pending, err := c.store.ListPendingApprovals()
	if err != nil {
		slog.Error("Repost pending failed", "error", err)
		return
	}
	now := time.Now()
	count := 0
	for _, rec := range pending {
		// Aged-out records belong to the sweep; a card for one would be
		// dead on arrival.
		if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
			continue
		}
		c.postCard(ctx, &rec, c.tagFor(rec.ChatJID), false, "")
		count++
	}
	if count > 0 {
		slog.Info("Reposted pending approvals", "count", count)
	}
}

func (c *Coordinator) postCard(ctx context.Context, rec *store.Approval, tag string, firstContact bool, draftError string) {
	if c.console == nil {
		return
	}
	card := Card{
		ApprovalID:   rec.ID,
		ChatJID:      rec.ChatJID,
		SenderName:   rec.SenderName,
		Inbound:      rec.Inbound,
		Draft:        rec.Draft,
		Tag:          tag,
		FirstContact: firstContact,
		DraftError:   draftError,
		ExpiresAt:    rec.ExpiresAt,
	}
	handle, err := c.console.PostCard(ctx, card)
	if err != nil {
		// The record stands without a card; RepostPending covers it on
		// the next start and the operator list command still shows it.
		slog.Warn("Card post failed", "approval_id", rec.ID, "error", err)
		return
	}
	if handle != "" {
		rec.ConsoleMsgTS = handle
		if err := c.store.SetApprovalConsoleTS(rec.ID, handle); err != nil {
			slog.Warn("Card handle save failed", "approval_id", rec.ID, "error", err)
		}
	}
}

func (c *Coordinator) updateCard(ctx context.Context, rec *store.Approval, outcome string) {
	if c.console == nil || rec.ConsoleMsgTS == "" {
		return
	}
	card := Card{
		ApprovalID: rec.ID,
		ChatJID:    rec.ChatJID,
		SenderName: rec.SenderName,
		Inbound:    rec.Inbound,
		Draft:      rec.Draft,
	}
	if err := c.console.UpdateCard(ctx, rec.ConsoleMsgTS, card, outcome); err != nil {
		slog.Warn("Card update failed", "approval_id", rec.ID, "error", err)
	}
}

// closeTasks marks the chat's waiting tasks resolved once a card gets a
// verdict. Inbounds that queued behind the card count as answered by it.
func (c *Coordinator) closeTasks(chatJID, verdict string) {
	for _, status := range []string{store.TaskStatusAwaitingApproval, store.TaskStatusQueuedPending} {
		tasks, err := c.store.ListTasks(status, chatJID, 0)
		if err != nil {
			continue
		}
		for _, t := range tasks {
			_ = c.store.UpdateTaskStatus(t.TaskID, store.TaskStatusResolved, verdict)
		}
	}
}

func (c *Coordinator) tagFor(chatJID string) string {
	tag, err := c.store.SubscriptionTag(chatJID)
	if err != nil {
		return store.TagFree
	}
	return tag
}

func resolveDetail(d Decision) string {
	if d.Operator == "" {
		return d.Verdict
	}
	return d.Verdict + " by " + d.Operator
}

func newApprovalID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("appr-%d", time.Now().UnixNano())
}
