package draft

import (
	"context"
	"fmt"

	"github.com/Relaydeck/Relaydeck/internal/store"
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = "You draft short, friendly replies on behalf of the account owner. " +
	"Match the language of the conversation and keep answers under three sentences. " +
	"Every reply is reviewed by a human before sending, so never promise actions you cannot see through."

// Request carries everything needed to draft one reply. Window is the
// conversation's recent history, oldest first, and already contains the
// incoming message (the transport logged it before the poller saw it).
type Request struct {
	ChatJID    string
	SenderName string
	Incoming   string
	Window     []store.Message
}

// Generator produces a reply draft for an inbound message.
type Generator interface {
	Draft(ctx context.Context, req Request) (string, error)
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// StatelessGenerator reconstructs context from the stored window on
// every call.
type StatelessGenerator struct {
	client       *Client
	systemPrompt string
}

func NewStatelessGenerator(client *Client, systemPrompt string) *StatelessGenerator {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &StatelessGenerator{client: client, systemPrompt: systemPrompt}
}

func (g *StatelessGenerator) Draft(ctx context.Context, req Request) (string, error) {
	msgs := make([]Message, 0, len(req.Window)+2)
	msgs = append(msgs, Message{Role: "system", Content: g.systemPrompt})
	for _, m := range req.Window {
		role := "user"
		if m.IsFromMe {
			role = "assistant"
		}
		msgs = append(msgs, Message{Role: role, Content: m.Content})
	}
	if len(req.Window) == 0 && req.Incoming != "" {
		msgs = append(msgs, Message{Role: "user", Content: req.Incoming})
	}
	return g.client.ChatCompletion(ctx, msgs)
}

// SessionGenerator keeps one backend thread per conversation. Handles
// are cached in the store with create-if-absent semantics. Callers are
// serialized per conversation by the dispatcher; cross-process races
// are settled by the store's first-writer-wins insert.
type SessionGenerator struct {
	client *Client
	store  *store.Store
}

func NewSessionGenerator(client *Client, st *store.Store) *SessionGenerator {
	return &SessionGenerator{client: client, store: st}
}

func (g *SessionGenerator) Draft(ctx context.Context, req Request) (string, error) {
	sessionID, err := g.ensureSession(ctx, req.ChatJID)
	if err != nil {
		return "", err
	}
	return g.client.ContinueSession(ctx, sessionID, req.Incoming)
}

// ensureSession returns the conversation's session handle, creating it
// exactly once per conversation.
func (g *SessionGenerator) ensureSession(ctx context.Context, chatJID string) (string, error) {
	id, ok, err := g.store.DraftSessionID(chatJID)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	id, err = g.client.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if err := g.store.SaveDraftSession(chatJID, id); err != nil {
		return "", err
	}
	// Re-read: if another process created the session first, its handle
	// won and ours is abandoned.
	if saved, ok, err := g.store.DraftSessionID(chatJID); err == nil && ok {
		return saved, nil
	}
	return id, nil
}
