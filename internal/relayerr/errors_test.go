package relayerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("connection reset")
	err := Wrap(KindTransient, "whatsapp.send", base)

	if got := KindOf(err); got != KindTransient {
		t.Fatalf("expected transient, got %v", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped cause lost")
	}
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("poll cycle: %w", New(KindPermanentRecipient, "whatsapp.send", "invalid jid"))
	if got := KindOf(err); got != KindPermanentRecipient {
		t.Fatalf("expected permanent_recipient through %%w chain, got %v", got)
	}
	if Retryable(err) {
		t.Fatal("permanent recipient errors must not be retryable")
	}
}

func TestKindOfContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if got := KindOf(ctx.Err()); got != KindTimeout {
		t.Fatalf("expected timeout for deadline exceeded, got %v", got)
	}
	if !Retryable(ctx.Err()) {
		t.Fatal("timeouts should be retryable")
	}
}

func TestRetryableUnknown(t *testing.T) {
	if !Retryable(errors.New("something odd")) {
		t.Fatal("unclassified errors should default to retryable")
	}
	if Retryable(nil) {
		t.Fatal("nil error is not retryable")
	}
}

func TestErrorString(t *testing.T) {
	err := New(KindMalformedCallback, "approval.resolve", "unknown verdict")
	want := "approval.resolve: unknown verdict"
	if err.Error() != want {
		t.Fatalf("got %q want %q", err.Error(), want)
	}
}
