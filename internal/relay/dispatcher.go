package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Relaydeck/Relaydeck/internal/store"
)

// Processor handles one inbound message end to end.
type Processor interface {
	Process(ctx context.Context, msg store.Message)
}

// Dispatcher fans inbound messages out to one worker goroutine per
// conversation. Within a conversation messages are handled serially in
// arrival order; across conversations everything runs in parallel, so
// one slow draft or send never stalls the rest.
type Dispatcher struct {
	processor Processor
	queueSize int

	// mu guards the queue map only. Message processing itself never
	// holds it.
	mu     sync.Mutex
	queues map[string]chan store.Message
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given processor.
func NewDispatcher(p Processor) *Dispatcher {
	return &Dispatcher{
		processor: p,
		queueSize: 32,
		queues:    make(map[string]chan store.Message),
	}
}

// SetQueueSize overrides the per-conversation queue depth for workers
// started after the call.
func (d *Dispatcher) SetQueueSize(n int) {
	if n > 0 {
		d.queueSize = n
	}
}

// Dispatch hands a message to its conversation worker, starting the
// worker on first contact. Blocks when that conversation's queue is
// full; other conversations are unaffected.
func (d *Dispatcher) Dispatch(ctx context.Context, msg store.Message) error {
	d.mu.Lock()
	ch, ok := d.queues[msg.ChatJID]
	if !ok {
		ch = make(chan store.Message, d.queueSize)
		d.queues[msg.ChatJID] = ch
		d.wg.Add(1)
		go d.worker(ctx, msg.ChatJID, ch)
	}
	d.mu.Unlock()

	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context, chatJID string, ch chan store.Message) {
	defer d.wg.Done()
	slog.Debug("Conversation worker started", "chat", chatJID)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			d.processor.Process(ctx, msg)
		}
	}
}

// Wait blocks until every conversation worker has exited. Call after
// cancelling the context passed to Dispatch.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Conversations returns the number of live conversation workers.
func (d *Dispatcher) Conversations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
