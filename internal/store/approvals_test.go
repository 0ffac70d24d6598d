package store

import (
	"testing"
	"time"
)

func mustCreateApproval(t *testing.T, st *Store, id, chatJID string) *Approval {
	t.Helper()
	expires := time.Now().Add(15 * time.Minute)
	rec := &Approval{
		ID:         id,
		ChatJID:    chatJID,
		SenderName: "Ana",
		TraceID:    "trace-" + id,
		Inbound:    "hola",
		Draft:      "Hola! En que puedo ayudarte?",
		ExpiresAt:  &expires,
	}
	if err := st.CreateApproval(rec); err != nil {
		t.Fatalf("create approval %s: %v", id, err)
	}
	return rec
}

func TestCreateAndGetApproval(t *testing.T) {
	st := newTestStore(t)
	mustCreateApproval(t, st, "aaaa000011112222", "111@s.whatsapp.net")

	got, err := st.GetApproval("aaaa000011112222")
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got == nil {
		t.Fatalf("expected approval")
	}
	if got.Status != ApprovalPending || got.DeliveryStatus != DeliveryNone {
		t.Fatalf("unexpected state: %s / %s", got.Status, got.DeliveryStatus)
	}
	if got.ExpiresAt == nil {
		t.Fatalf("expected expires_at to round-trip")
	}

	missing, err := st.GetApproval("ffff000000000000")
	if err != nil {
		t.Fatalf("get missing approval: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestSecondPendingForChatRejected(t *testing.T) {
	st := newTestStore(t)
	mustCreateApproval(t, st, "aaaa000011112222", "111@s.whatsapp.net")

	err := st.CreateApproval(&Approval{ID: "bbbb000011112222", ChatJID: "111@s.whatsapp.net"})
	if err == nil {
		t.Fatalf("expected second pending approval to be rejected")
	}

	// A different conversation is unaffected.
	if err := st.CreateApproval(&Approval{ID: "cccc000011112222", ChatJID: "222@s.whatsapp.net"}); err != nil {
		t.Fatalf("create approval for other chat: %v", err)
	}
}

func TestResolveApprovalGuarded(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreateApproval(t, st, "aaaa000011112222", "111@s.whatsapp.net")

	applied, err := st.ResolveApproval(rec.ID, ApprovalApproved, VerdictApprove, rec.Draft, DeliveryPending)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !applied {
		t.Fatalf("expected first resolve to apply")
	}

	// A second decision for the same card is a no-op.
	applied, err = st.ResolveApproval(rec.ID, ApprovalBlocked, VerdictBlock, "", DeliveryNone)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if applied {
		t.Fatalf("expected second resolve to be ignored")
	}

	got, err := st.GetApproval(rec.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got.Status != ApprovalApproved || got.Verdict != VerdictApprove {
		t.Fatalf("unexpected resolved state: %s / %s", got.Status, got.Verdict)
	}
	if got.FinalText != rec.Draft {
		t.Fatalf("expected final text to match draft")
	}
	if got.ResolvedAt == nil {
		t.Fatalf("expected resolved_at to be set")
	}

	// Once resolved, a fresh pending for the same chat is allowed again.
	mustCreateApproval(t, st, "dddd000011112222", "111@s.whatsapp.net")
}

func TestPendingApprovalLookup(t *testing.T) {
	st := newTestStore(t)

	got, err := st.PendingApproval("111@s.whatsapp.net")
	if err != nil {
		t.Fatalf("pending lookup: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no pending approval")
	}

	rec := mustCreateApproval(t, st, "aaaa000011112222", "111@s.whatsapp.net")
	got, err = st.PendingApproval("111@s.whatsapp.net")
	if err != nil {
		t.Fatalf("pending lookup: %v", err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("expected pending approval %s", rec.ID)
	}

	all, err := st.ListPendingApprovals()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(all))
	}
}

func TestDeliveryLifecycle(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreateApproval(t, st, "aaaa000011112222", "111@s.whatsapp.net")

	if _, err := st.ResolveApproval(rec.ID, ApprovalEdited, VerdictEdit, "corrected reply", DeliveryPending); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	due, err := st.ListQueuedDeliveries(10)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(due) != 1 || due[0].ID != rec.ID {
		t.Fatalf("expected one queued delivery")
	}
	if due[0].FinalText != "corrected reply" {
		t.Fatalf("expected final text on queued row")
	}

	// First try fails, retry scheduled.
	next := time.Now().Add(30 * time.Second)
	if err := st.RecordDeliveryAttempt(&DeliveryAttempt{ApprovalID: rec.ID, ChatJID: rec.ChatJID, Attempt: 1, OK: false, ErrorText: "socket reset"}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := st.UpdateApprovalDelivery(rec.ID, DeliveryPending, &next, "socket reset", true); err != nil {
		t.Fatalf("update delivery: %v", err)
	}

	// Second try succeeds.
	if err := st.RecordDeliveryAttempt(&DeliveryAttempt{ApprovalID: rec.ID, ChatJID: rec.ChatJID, Attempt: 2, OK: true}); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := st.UpdateApprovalDelivery(rec.ID, DeliverySent, nil, "", true); err != nil {
		t.Fatalf("update delivery: %v", err)
	}

	got, err := st.GetApproval(rec.ID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if got.DeliveryStatus != DeliverySent {
		t.Fatalf("expected sent, got %s", got.DeliveryStatus)
	}
	if got.DeliveryAttempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.DeliveryAttempts)
	}

	atts, err := st.ListDeliveryAttempts(rec.ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(atts) != 2 {
		t.Fatalf("expected 2 attempt rows, got %d", len(atts))
	}
	if atts[0].OK || !atts[1].OK {
		t.Fatalf("unexpected attempt outcomes")
	}

	// Sent rows are no longer queued.
	due, err = st.ListQueuedDeliveries(10)
	if err != nil {
		t.Fatalf("list queued: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected empty delivery queue, got %d", len(due))
	}
}

func TestExpiredApprovalFreesSlot(t *testing.T) {
	st := newTestStore(t)
	rec := mustCreateApproval(t, st, "aaaa000011112222", "111@s.whatsapp.net")

	applied, err := st.ResolveApproval(rec.ID, ApprovalExpired, "", "", DeliveryNone)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !applied {
		t.Fatalf("expected expiry to apply")
	}

	// Expiry is not permanent: the next inbound can open a new card.
	mustCreateApproval(t, st, "eeee000011112222", "111@s.whatsapp.net")
}
