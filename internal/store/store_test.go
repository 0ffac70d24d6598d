package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "relay.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
		_ = os.RemoveAll(dir)
	})
	return st
}

func TestSaveMessageDedup(t *testing.T) {
	st := newTestStore(t)

	m := &Message{
		MessageID: "MSG1",
		ChatJID:   "111@s.whatsapp.net",
		Content:   "hola",
		Timestamp: time.Now(),
	}
	inserted, err := st.SaveMessage(m)
	if err != nil {
		t.Fatalf("save message: %v", err)
	}
	if !inserted {
		t.Fatalf("expected first save to insert")
	}
	if m.ID == 0 {
		t.Fatalf("expected row id to be set")
	}

	again, err := st.SaveMessage(&Message{
		MessageID: "MSG1",
		ChatJID:   "111@s.whatsapp.net",
		Content:   "hola",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("save duplicate: %v", err)
	}
	if again {
		t.Fatalf("expected duplicate save to be ignored")
	}
}

func TestInboundSinceSkipsOwnRows(t *testing.T) {
	st := newTestStore(t)

	msgs := []*Message{
		{MessageID: "A1", ChatJID: "111@s.whatsapp.net", Content: "first", Timestamp: time.Now()},
		{MessageID: "A2", ChatJID: "111@s.whatsapp.net", Content: "my reply", IsFromMe: true, Timestamp: time.Now()},
		{MessageID: "B1", ChatJID: "222@s.whatsapp.net", Content: "other chat", Timestamp: time.Now()},
	}
	for _, m := range msgs {
		if _, err := st.SaveMessage(m); err != nil {
			t.Fatalf("save message %s: %v", m.MessageID, err)
		}
	}

	got, err := st.InboundSince(0, 10)
	if err != nil {
		t.Fatalf("inbound since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 inbound rows, got %d", len(got))
	}
	if got[0].MessageID != "A1" || got[1].MessageID != "B1" {
		t.Fatalf("unexpected order: %s, %s", got[0].MessageID, got[1].MessageID)
	}
	if got[0].ID >= got[1].ID {
		t.Fatalf("expected ascending ids")
	}

	rest, err := st.InboundSince(got[0].ID, 10)
	if err != nil {
		t.Fatalf("inbound since watermark: %v", err)
	}
	if len(rest) != 1 || rest[0].MessageID != "B1" {
		t.Fatalf("expected only rows past the watermark")
	}
}

func TestChatWindowBothDirectionsOldestFirst(t *testing.T) {
	st := newTestStore(t)

	chat := "111@s.whatsapp.net"
	seq := []*Message{
		{MessageID: "W1", ChatJID: chat, Content: "hi", Timestamp: time.Now()},
		{MessageID: "W2", ChatJID: chat, Content: "hello there", IsFromMe: true, Timestamp: time.Now()},
		{MessageID: "W3", ChatJID: chat, Content: "price?", Timestamp: time.Now()},
		{MessageID: "X1", ChatJID: "999@s.whatsapp.net", Content: "noise", Timestamp: time.Now()},
	}
	for _, m := range seq {
		if _, err := st.SaveMessage(m); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	win, err := st.ChatWindow(chat, 2)
	if err != nil {
		t.Fatalf("chat window: %v", err)
	}
	if len(win) != 2 {
		t.Fatalf("expected window of 2, got %d", len(win))
	}
	if win[0].MessageID != "W2" || win[1].MessageID != "W3" {
		t.Fatalf("unexpected window: %s, %s", win[0].MessageID, win[1].MessageID)
	}
	if !win[0].IsFromMe {
		t.Fatalf("expected own row inside the window")
	}
}

func TestIngestWatermarkRoundTrip(t *testing.T) {
	st := newTestStore(t)

	if _, ok, err := st.IngestWatermark(); err != nil || ok {
		t.Fatalf("expected no watermark on fresh store, ok=%v err=%v", ok, err)
	}

	if err := st.SetIngestWatermark(42); err != nil {
		t.Fatalf("set watermark: %v", err)
	}
	id, ok, err := st.IngestWatermark()
	if err != nil {
		t.Fatalf("get watermark: %v", err)
	}
	if !ok || id != 42 {
		t.Fatalf("expected watermark 42, got %d ok=%v", id, ok)
	}

	if err := st.SetIngestWatermark(43); err != nil {
		t.Fatalf("advance watermark: %v", err)
	}
	id, _, _ = st.IngestWatermark()
	if id != 43 {
		t.Fatalf("expected watermark 43, got %d", id)
	}
}

func TestMaxMessageID(t *testing.T) {
	st := newTestStore(t)

	id, err := st.MaxMessageID()
	if err != nil {
		t.Fatalf("max message id: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected 0 on empty log, got %d", id)
	}

	m := &Message{MessageID: "M1", ChatJID: "111@s.whatsapp.net", Content: "x", Timestamp: time.Now()}
	if _, err := st.SaveMessage(m); err != nil {
		t.Fatalf("save message: %v", err)
	}
	id, err = st.MaxMessageID()
	if err != nil {
		t.Fatalf("max message id: %v", err)
	}
	if id != m.ID {
		t.Fatalf("expected max id %d, got %d", m.ID, id)
	}
}
