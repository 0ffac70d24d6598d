package channels

import (
	"context"

	"github.com/Relaydeck/Relaydeck/internal/bus"
)

// Channel defines the interface for relay endpoints: the chat
// transport carrying the conversations and the console carrying the
// operator.
type Channel interface {
	// Name returns the channel name (e.g. "whatsapp").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send sends a text message to a specific chat.
	Send(ctx context.Context, chatJID, text string) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}
