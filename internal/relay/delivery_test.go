package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/audit"
	"github.com/Relaydeck/Relaydeck/internal/relayerr"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

// queueDelivery creates an approved record ready for the worker.
func queueDelivery(t *testing.T, st *store.Store, id, chat, text, verdict string) {
	t.Helper()
	if err := st.CreateApproval(&store.Approval{
		ID:      id,
		ChatJID: chat,
		Inbound: "hola",
		Draft:   text,
	}); err != nil {
		t.Fatalf("create approval: %v", err)
	}
	status := store.ApprovalApproved
	if verdict != store.VerdictApprove {
		status = store.ApprovalEdited
	}
	applied, err := st.ResolveApproval(id, status, verdict, text, store.DeliveryPending)
	if err != nil || !applied {
		t.Fatalf("resolve: applied=%v err=%v", applied, err)
	}
}

func TestDeliveryRetriesThenGivesUp(t *testing.T) {
	rig := newTestRig(t)
	rig.worker.maxRetry = 3
	rig.sender.err = errors.New("connection reset by peer")
	ctx := context.Background()

	queueDelivery(t, rig.store, "apprX", "c@s.whatsapp.net", "hola!", store.VerdictApprove)

	for i := 0; i < 20; i++ {
		rig.worker.poll(ctx)
		rec, err := rig.store.GetApproval("apprX")
		if err != nil {
			t.Fatalf("get approval: %v", err)
		}
		if rec.DeliveryStatus == store.DeliveryFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, err := rig.store.GetApproval("apprX")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.DeliveryStatus != store.DeliveryFailed {
		t.Fatalf("expected delivery failed, got %s", rec.DeliveryStatus)
	}

	attempts, err := rig.store.ListDeliveryAttempts("apprX")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.Attempt != i+1 || a.OK {
			t.Fatalf("attempt %d malformed: %+v", i, a)
		}
	}

	statuses := auditStatuses(t, rig.store, "c@s.whatsapp.net")
	if len(statuses) != 1 || statuses[0] != audit.StatusDeliveryFailed {
		t.Fatalf("expected delivery_failed in trail, got %v", statuses)
	}
	if rig.bus.OutboundSize() != 1 {
		t.Fatalf("expected one operator notice, got %d", rig.bus.OutboundSize())
	}
}

func TestDeliveryPermanentErrorShortCircuits(t *testing.T) {
	rig := newTestRig(t)
	rig.sender.err = relayerr.New(relayerr.KindPermanentRecipient, "whatsapp.send", "unknown recipient")
	ctx := context.Background()

	queueDelivery(t, rig.store, "apprY", "bad@s.whatsapp.net", "hola!", store.VerdictApprove)
	rig.worker.poll(ctx)

	rec, err := rig.store.GetApproval("apprY")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.DeliveryStatus != store.DeliveryFailed {
		t.Fatalf("expected immediate failure, got %s", rec.DeliveryStatus)
	}
	attempts, err := rig.store.ListDeliveryAttempts("apprY")
	if err != nil || len(attempts) != 1 {
		t.Fatalf("permanent errors must not retry, got %d attempts err=%v", len(attempts), err)
	}
	if rig.sender.callCount() != 1 {
		t.Fatalf("expected one send try, got %d", rig.sender.callCount())
	}
}

func TestDeliveryRecoversAfterTransientFailures(t *testing.T) {
	rig := newTestRig(t)
	rig.sender.failTimes = 2
	ctx := context.Background()

	queueDelivery(t, rig.store, "apprZ", "c@s.whatsapp.net", "ya casi", store.VerdictApprove)

	waitForSent := func() bool {
		rig.worker.poll(ctx)
		rec, err := rig.store.GetApproval("apprZ")
		return err == nil && rec.DeliveryStatus == store.DeliverySent
	}
	waitFor(t, "delivery to recover", waitForSent)

	attempts, err := rig.store.ListDeliveryAttempts("apprZ")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 2 failures and 1 success, got %d attempts", len(attempts))
	}
	if attempts[0].OK || attempts[1].OK || !attempts[2].OK {
		t.Fatalf("unexpected attempt outcomes: %+v", attempts)
	}
}

func TestDeliveryAuditStatusFollowsVerdict(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	queueDelivery(t, rig.store, "apprOwn", "own@s.whatsapp.net", "Te llamo luego.", store.VerdictRecordOwn)
	rig.worker.poll(ctx)

	statuses := auditStatuses(t, rig.store, "own@s.whatsapp.net")
	if len(statuses) != 1 || statuses[0] != audit.StatusSentOperator {
		t.Fatalf("record_own must audit as sent_operator, got %v", statuses)
	}

	queueDelivery(t, rig.store, "apprEdit", "edit@s.whatsapp.net", "Corregido.", store.VerdictEdit)
	rig.worker.poll(ctx)
	statuses = auditStatuses(t, rig.store, "edit@s.whatsapp.net")
	if len(statuses) != 1 || statuses[0] != audit.StatusSentEdited {
		t.Fatalf("edit must audit as sent_edited, got %v", statuses)
	}
}

func TestDeliveryGiveUpKeepsAttemptCounter(t *testing.T) {
	rig := newTestRig(t)
	rig.worker.maxRetry = 3
	ctx := context.Background()

	// A prior run burned the attempt budget and crashed before marking
	// the record failed.
	queueDelivery(t, rig.store, "apprC", "c@s.whatsapp.net", "hola", store.VerdictApprove)
	for i := 1; i <= 3; i++ {
		if err := rig.store.RecordDeliveryAttempt(&store.DeliveryAttempt{
			ApprovalID: "apprC",
			ChatJID:    "c@s.whatsapp.net",
			Attempt:    i,
			OK:         false,
			ErrorText:  "connection reset by peer",
		}); err != nil {
			t.Fatalf("record attempt: %v", err)
		}
		if err := rig.store.UpdateApprovalDelivery("apprC", store.DeliveryPending, nil, "connection reset by peer", true); err != nil {
			t.Fatalf("update delivery: %v", err)
		}
	}

	rig.worker.poll(ctx)

	rec, err := rig.store.GetApproval("apprC")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.DeliveryStatus != store.DeliveryFailed {
		t.Fatalf("expected delivery failed, got %s", rec.DeliveryStatus)
	}
	if rig.sender.callCount() != 0 {
		t.Fatalf("exhausted budget must not send again, got %d sends", rig.sender.callCount())
	}
	attempts, err := rig.store.ListDeliveryAttempts("apprC")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if rec.DeliveryAttempts != len(attempts) {
		t.Fatalf("attempt counter %d out of step with %d attempt rows", rec.DeliveryAttempts, len(attempts))
	}
}

func TestDeliveryBackoffSchedule(t *testing.T) {
	w := NewDeliverer(nil, nil, nil, nil)

	checks := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 30 * time.Second},
		{1, 60 * time.Second},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 5 * time.Minute},
		{10, 5 * time.Minute},
	}
	for _, c := range checks {
		delay := time.Until(w.backoff(c.attempts))
		if delay < c.want-time.Second || delay > c.want+time.Second {
			t.Fatalf("attempts=%d: expected ~%s, got %s", c.attempts, c.want, delay)
		}
	}
}

func TestDeliveryWaitsForBackoffWindow(t *testing.T) {
	rig := newTestRig(t)
	rig.worker.backoffBase = time.Hour
	rig.sender.failTimes = 1
	ctx := context.Background()

	queueDelivery(t, rig.store, "apprW", "c@s.whatsapp.net", "hola", store.VerdictApprove)
	rig.worker.poll(ctx)
	rig.worker.poll(ctx)

	if rig.sender.callCount() != 1 {
		t.Fatalf("retry before backoff elapsed: %d sends", rig.sender.callCount())
	}
	rec, err := rig.store.GetApproval("apprW")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if rec.DeliveryStatus != store.DeliveryPending || rec.DeliveryNextAt == nil {
		t.Fatalf("expected rescheduled delivery, got %+v", rec)
	}
}
