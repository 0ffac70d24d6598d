package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/approval"
	"github.com/Relaydeck/Relaydeck/internal/audit"
	"github.com/Relaydeck/Relaydeck/internal/bus"
	"github.com/Relaydeck/Relaydeck/internal/draft"
	"github.com/Relaydeck/Relaydeck/internal/policy"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

type stubGenerator struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
	// block, when set, parks Draft until the channel closes so tests can
	// interleave other work with an in-flight generation.
	block chan struct{}
}

func (g *stubGenerator) Draft(ctx context.Context, req draft.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	block, reply, err := g.block, g.reply, g.err
	g.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type sendCall struct {
	chat string
	text string
}

type stubSender struct {
	mu        sync.Mutex
	calls     []sendCall
	err       error
	failTimes int
}

func (s *stubSender) Send(ctx context.Context, chatJID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{chatJID, text})
	if s.failTimes > 0 {
		s.failTimes--
		if s.err != nil {
			return s.err
		}
		return errors.New("connection reset by peer")
	}
	return s.err
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubConsole struct {
	mu    sync.Mutex
	posts []approval.Card
}

func (s *stubConsole) PostCard(ctx context.Context, c approval.Card) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, c)
	return fmt.Sprintf("ts-%d", len(s.posts)), nil
}

func (s *stubConsole) UpdateCard(ctx context.Context, handle string, c approval.Card, outcome string) error {
	return nil
}

func (s *stubConsole) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

func (s *stubConsole) lastCard() approval.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[len(s.posts)-1]
}

type testRig struct {
	store  *store.Store
	bus    *bus.MessageBus
	gen    *stubGenerator
	sender *stubSender
	cards  *stubConsole
	coord  *approval.Coordinator
	orch   *Orchestrator
	worker *Deliverer
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bus.NewMessageBus()
	auditLog := audit.NewLogger(audit.NewStoreSink(st))
	cards := &stubConsole{}
	coord := approval.NewCoordinator(st, cards, auditLog, 15*time.Minute)
	gen := &stubGenerator{reply: "Hello! How can I help?"}
	orch := NewOrchestrator(Options{
		Store:        st,
		Policy:       policy.NewGate(st),
		Generator:    gen,
		Coordinator:  coord,
		Audit:        auditLog,
		DraftTimeout: 2 * time.Second,
	})
	sender := &stubSender{}
	worker := NewDeliverer(st, sender, auditLog, b)
	worker.backoffBase = time.Millisecond
	worker.sendTimeout = time.Second

	return &testRig{
		store:  st,
		bus:    b,
		gen:    gen,
		sender: sender,
		cards:  cards,
		coord:  coord,
		orch:   orch,
		worker: worker,
	}
}

func seedInbound(t *testing.T, st *store.Store, chat, msgID, content string) store.Message {
	t.Helper()
	m := store.Message{
		MessageID:  msgID,
		ChatJID:    chat,
		SenderName: "Maria",
		Content:    content,
		Timestamp:  time.Now(),
	}
	if _, err := st.SaveMessage(&m); err != nil {
		t.Fatalf("save message: %v", err)
	}
	return m
}

func auditStatuses(t *testing.T, st *store.Store, chat string) []string {
	t.Helper()
	rows, err := st.ListAudit(chat, 100)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	// ListAudit is newest first; reverse into event order.
	statuses := make([]string, len(rows))
	for i, r := range rows {
		statuses[len(rows)-1-i] = r.Status
	}
	return statuses
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
