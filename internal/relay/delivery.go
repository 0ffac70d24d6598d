package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/audit"
	"github.com/Relaydeck/Relaydeck/internal/bus"
	"github.com/Relaydeck/Relaydeck/internal/relayerr"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

// Sender delivers finalized replies through the chat transport.
type Sender interface {
	Send(ctx context.Context, chatJID, text string) error
}

// Deliverer polls for approved replies with pending delivery and sends
// them with bounded exponential backoff. Every try gets a
// DeliveryAttempt row; attempts for one record are strictly sequential
// because delivery state lives on the record itself.
type Deliverer struct {
	store  *store.Store
	sender Sender
	audit  *audit.Logger
	bus    *bus.MessageBus

	interval      time.Duration
	maxRetry      int
	backoffBase   time.Duration
	backoffMax    time.Duration
	sendTimeout   time.Duration
	notifyChannel string
}

// NewDeliverer creates a delivery worker with sensible defaults.
func NewDeliverer(st *store.Store, sender Sender, auditLog *audit.Logger, b *bus.MessageBus) *Deliverer {
	return &Deliverer{
		store:         st,
		sender:        sender,
		audit:         auditLog,
		bus:           b,
		interval:      5 * time.Second,
		maxRetry:      5,
		backoffBase:   30 * time.Second,
		backoffMax:    5 * time.Minute,
		sendTimeout:   30 * time.Second,
		notifyChannel: "slack",
	}
}

// SetCadence overrides the poll interval, attempt cap and per-send
// timeout. Non-positive values keep the defaults.
func (w *Deliverer) SetCadence(interval time.Duration, maxRetry int, sendTimeout time.Duration) {
	if interval > 0 {
		w.interval = interval
	}
	if maxRetry > 0 {
		w.maxRetry = maxRetry
	}
	if sendTimeout > 0 {
		w.sendTimeout = sendTimeout
	}
}

// Run starts the polling loop. Blocks until context is cancelled.
func (w *Deliverer) Run(ctx context.Context) error {
	slog.Info("Delivery worker started", "interval", w.interval, "max_retry", w.maxRetry)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Delivery worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Deliverer) poll(ctx context.Context) {
	recs, err := w.store.ListQueuedDeliveries(10)
	if err != nil {
		slog.Error("Delivery worker poll failed", "error", err)
		return
	}

	now := time.Now()
	for _, rec := range recs {
		if rec.DeliveryAttempts >= w.maxRetry {
			// Budget already burned, typically by a run that crashed
			// before it could mark the record. No new try to count.
			w.fail(ctx, &rec, fmt.Sprintf("gave up after %d attempts: %s", rec.DeliveryAttempts, rec.DeliveryError), false)
			continue
		}
		if rec.DeliveryNextAt != nil && rec.DeliveryNextAt.After(now) {
			continue
		}
		w.attempt(ctx, &rec)
	}
}

// attempt runs one send try and records its outcome.
func (w *Deliverer) attempt(ctx context.Context, rec *store.Approval) {
	sctx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	err := w.sender.Send(sctx, rec.ChatJID, rec.FinalText)
	cancel()

	tryNo := rec.DeliveryAttempts + 1
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if recErr := w.store.RecordDeliveryAttempt(&store.DeliveryAttempt{
		ApprovalID: rec.ID,
		ChatJID:    rec.ChatJID,
		Attempt:    tryNo,
		OK:         err == nil,
		ErrorText:  errText,
	}); recErr != nil {
		slog.Error("Delivery attempt record failed", "approval_id", rec.ID, "error", recErr)
	}

	if err == nil {
		if upErr := w.store.UpdateApprovalDelivery(rec.ID, store.DeliverySent, nil, "", true); upErr != nil {
			slog.Error("Delivery state update failed", "approval_id", rec.ID, "error", upErr)
			return
		}
		w.audit.Append(ctx, audit.Entry{
			TraceID:    rec.TraceID,
			ChatJID:    rec.ChatJID,
			SenderName: rec.SenderName,
			Status:     sentStatus(rec.Verdict),
			Inbound:    rec.Inbound,
			Draft:      rec.Draft,
			Final:      rec.FinalText,
		})
		slog.Info("Reply delivered", "approval_id", rec.ID, "chat", rec.ChatJID, "attempt", tryNo)
		return
	}

	if !relayerr.Retryable(err) {
		w.fail(ctx, rec, fmt.Sprintf("permanent error on attempt %d: %s", tryNo, errText), true)
		return
	}
	if tryNo >= w.maxRetry {
		w.fail(ctx, rec, fmt.Sprintf("gave up after %d attempts: %s", tryNo, errText), true)
		return
	}

	next := w.backoff(rec.DeliveryAttempts)
	if upErr := w.store.UpdateApprovalDelivery(rec.ID, store.DeliveryPending, &next, errText, true); upErr != nil {
		slog.Error("Delivery state update failed", "approval_id", rec.ID, "error", upErr)
		return
	}
	slog.Warn("Delivery attempt failed, rescheduled",
		"approval_id", rec.ID,
		"chat", rec.ChatJID,
		"attempt", tryNo,
		"next_at", next.Format(time.RFC3339),
		"error", err)
}

// fail moves the record to terminal failure and notifies the operator
// so a human can re-trigger the send. The notice is best-effort.
// countTry is true when a send was tried on the way here.
func (w *Deliverer) fail(ctx context.Context, rec *store.Approval, detail string, countTry bool) {
	if err := w.store.UpdateApprovalDelivery(rec.ID, store.DeliveryFailed, nil, detail, countTry); err != nil {
		slog.Error("Delivery state update failed", "approval_id", rec.ID, "error", err)
		return
	}
	w.audit.Append(ctx, audit.Entry{
		TraceID:    rec.TraceID,
		ChatJID:    rec.ChatJID,
		SenderName: rec.SenderName,
		Status:     audit.StatusDeliveryFailed,
		Inbound:    rec.Inbound,
		Draft:      rec.Draft,
		Final:      rec.FinalText,
		Detail:     detail,
	})
	if w.bus != nil {
		w.bus.PublishOutbound(&bus.OutboundMessage{
			Channel: w.notifyChannel,
			TraceID: rec.TraceID,
			Content: fmt.Sprintf("Delivery to %s failed (%s). Reply was: %s", rec.ChatJID, detail, rec.FinalText),
		})
	}
	slog.Error("Delivery gave up", "approval_id", rec.ID, "chat", rec.ChatJID, "detail", detail)
}

// backoff calculates the next retry time from the attempt count so far.
// Returns now + min(base * 2^attempts, cap).
func (w *Deliverer) backoff(attempts int) time.Time {
	delay := time.Duration(float64(w.backoffBase) * math.Pow(2, float64(attempts)))
	if delay > w.backoffMax {
		delay = w.backoffMax
	}
	return time.Now().Add(delay)
}

// sentStatus maps the operator verdict to the audit status of the send:
// an approved draft went out as written, an edit went out rewritten,
// record_own went out in the operator's own words.
func sentStatus(verdict string) string {
	switch verdict {
	case store.VerdictEdit:
		return audit.StatusSentEdited
	case store.VerdictRecordOwn:
		return audit.StatusSentOperator
	default:
		return audit.StatusSentAI
	}
}
