package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/store"
)

// Poller drives ingestion: on every tick it reads message-log rows past
// the persisted watermark and hands them to the dispatcher. The
// watermark advances per handed-off row, so a crash never re-dispatches
// what was already handed over, and the task idempotency key catches
// the rest.
type Poller struct {
	store      *store.Store
	dispatcher *Dispatcher
	interval   time.Duration
	batchSize  int
}

// NewPoller creates a poller with the default cadence.
func NewPoller(st *store.Store, d *Dispatcher) *Poller {
	return &Poller{
		store:      st,
		dispatcher: d,
		interval:   2 * time.Second,
		batchSize:  100,
	}
}

// SetCadence overrides the poll interval and batch size. Non-positive
// values keep the defaults.
func (p *Poller) SetCadence(interval time.Duration, batchSize int) {
	if interval > 0 {
		p.interval = interval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
}

// Run seeds the watermark and polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.seedWatermark(); err != nil {
		return err
	}
	slog.Info("Ingestion poller started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Ingestion poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// seedWatermark initializes the watermark to the newest logged row so
// the first run does not replay the whole history as fresh traffic.
func (p *Poller) seedWatermark() error {
	if _, ok, err := p.store.IngestWatermark(); err != nil {
		return err
	} else if ok {
		return nil
	}
	maxID, err := p.store.MaxMessageID()
	if err != nil {
		return err
	}
	slog.Info("Watermark seeded", "row_id", maxID)
	return p.store.SetIngestWatermark(maxID)
}

// poll runs one ingestion pass. Read failures are logged and retried on
// the next tick.
func (p *Poller) poll(ctx context.Context) {
	watermark, _, err := p.store.IngestWatermark()
	if err != nil {
		slog.Error("Watermark read failed", "error", err)
		return
	}
	msgs, err := p.store.InboundSince(watermark, p.batchSize)
	if err != nil {
		slog.Error("Inbound poll failed", "error", err)
		return
	}
	for _, m := range msgs {
		if err := p.dispatcher.Dispatch(ctx, m); err != nil {
			// Shutting down; the watermark stays put so the row is
			// re-read next start and deduped there.
			return
		}
		if err := p.store.SetIngestWatermark(m.ID); err != nil {
			slog.Error("Watermark update failed", "row_id", m.ID, "error", err)
			return
		}
	}
}
