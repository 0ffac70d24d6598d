package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/config"
	"github.com/Relaydeck/Relaydeck/internal/relayerr"
	"github.com/Relaydeck/Relaydeck/internal/store"
	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Transcriber turns a downloaded voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// WhatsAppChannel is the native WhatsApp transport. Inbound traffic is
// appended to the message log where the poller picks it up; outbound
// sends go through Send, driven by the delivery worker.
type WhatsAppChannel struct {
	config      config.WhatsAppConfig
	store       *store.Store
	transcriber Transcriber

	sessionPath string
	qrPath      string
	mediaDir    string

	client    *whatsmeow.Client
	container *sqlstore.Container
}

// NewWhatsAppChannel creates a new WhatsApp channel. transcriber may be
// nil; voice notes are then logged as a placeholder.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, paths config.PathsConfig, st *store.Store, transcriber Transcriber) *WhatsAppChannel {
	return &WhatsAppChannel{
		config:      cfg,
		store:       st,
		transcriber: transcriber,
		sessionPath: paths.WASessionPath,
		qrPath:      paths.QRPath,
		mediaDir:    filepath.Join(paths.DataDir, "media"),
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Start connects to WhatsApp, pairing a new device when no session
// exists yet.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "WARN", true)

	if err := os.MkdirAll(filepath.Dir(c.sessionPath), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite", "file:"+c.sessionPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("init whatsapp session db: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		return c.pair(ctx)
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	slog.Info("WhatsApp connected", "jid", c.client.Store.ID.String())
	return nil
}

// pair runs the QR pairing flow. The code is written as a PNG so it
// can be scanned even when the relay runs on a headless host.
func (c *WhatsAppChannel) pair(ctx context.Context) error {
	qrChan, _ := c.client.GetQRChannel(ctx)
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	fmt.Println("WhatsApp: no linked device, scan the QR code to pair.")
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			_ = os.MkdirAll(filepath.Dir(c.qrPath), 0o755)
			if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, c.qrPath); err != nil {
				slog.Warn("QR write failed", "path", c.qrPath, "error", err)
				continue
			}
			fmt.Printf("WhatsApp: QR code saved to %s\n", c.qrPath)
			fmt.Println("Open it and scan with your phone: WhatsApp > Linked Devices > Link a Device.")
		case "success":
			fmt.Println("WhatsApp: paired")
			return nil
		case "timeout":
			return fmt.Errorf("pairing timed out, run setup again")
		default:
			slog.Debug("WhatsApp pairing event", "event", evt.Event)
		}
	}
	return nil
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		c.container.Close()
	}
	return nil
}

// Send delivers one text message to a chat. Errors are classified so
// the delivery worker can tell retryable failures from permanent ones.
func (c *WhatsAppChannel) Send(ctx context.Context, chatJID, text string) error {
	if strings.TrimSpace(chatJID) == "" {
		return relayerr.New(relayerr.KindPermanentRecipient, "whatsapp.send", "empty chat JID")
	}
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return relayerr.Wrap(relayerr.KindPermanentRecipient, "whatsapp.send", fmt.Errorf("invalid JID %q: %w", chatJID, err))
	}
	if c.client == nil {
		return relayerr.New(relayerr.KindTransient, "whatsapp.send", "client not started")
	}
	if !c.client.IsConnected() {
		return relayerr.New(relayerr.KindTransient, "whatsapp.send", "not connected")
	}

	waMsg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, jid, waMsg); err != nil {
		return relayerr.Wrap(classifySendError(err), "whatsapp.send", err)
	}
	return nil
}

// classifySendError maps whatsmeow send failures onto retry classes.
// Recipient-shape errors can never succeed; everything else gets
// another attempt.
func classifySendError(err error) relayerr.Kind {
	switch {
	case errors.Is(err, whatsmeow.ErrUnknownServer),
		errors.Is(err, whatsmeow.ErrRecipientADJID),
		errors.Is(err, whatsmeow.ErrBroadcastListUnsupported):
		return relayerr.KindPermanentRecipient
	case errors.Is(err, whatsmeow.ErrMessageTimedOut),
		errors.Is(err, context.DeadlineExceeded):
		return relayerr.KindTimeout
	default:
		return relayerr.KindTransient
	}
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.LoggedOut:
		slog.Error("WhatsApp session logged out, pair again with the setup command")
	case *events.Disconnected:
		slog.Warn("WhatsApp disconnected")
	}
}

// handleMessage appends one live message to the log. Both directions
// are logged so the drafting window sees the full conversation; the
// poller only dispatches the inbound side.
func (c *WhatsAppChannel) handleMessage(v *events.Message) {
	if v.Info.Chat.Server == types.BroadcastServer {
		return
	}
	if v.Info.IsGroup && !c.config.AllowGroups {
		return
	}

	content, mediaType := c.extractContent(v)
	if strings.TrimSpace(content) == "" {
		return
	}

	m := &store.Message{
		MessageID:  v.Info.ID,
		ChatJID:    v.Info.Chat.String(),
		SenderJID:  v.Info.Sender.ToNonAD().String(),
		SenderName: v.Info.PushName,
		IsFromMe:   v.Info.IsFromMe,
		MediaType:  mediaType,
		Content:    content,
		Timestamp:  v.Info.Timestamp,
	}
	inserted, err := c.store.SaveMessage(m)
	if err != nil {
		slog.Error("Message log append failed", "message_id", v.Info.ID, "error", err)
		return
	}
	if inserted {
		slog.Debug("Message logged", "chat", m.ChatJID, "from_me", m.IsFromMe, "media_type", mediaType)
	}
}

// extractContent pulls text out of the supported message shapes.
// Unknown shapes return empty content and are skipped.
func (c *WhatsAppChannel) extractContent(v *events.Message) (content, mediaType string) {
	msg := v.Message
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), ""
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText(), ""
	case msg.GetAudioMessage() != nil:
		return c.audioContent(v), "audio"
	case msg.GetImageMessage() != nil:
		if caption := msg.GetImageMessage().GetCaption(); caption != "" {
			return caption, "image"
		}
		return "[image]", "image"
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		title := doc.GetTitle()
		if title == "" {
			title = doc.GetFileName()
		}
		return fmt.Sprintf("[document: %s]", title), "document"
	}
	return "", ""
}

// audioContent downloads a voice note and transcribes it so the logged
// content is text the drafting window can use. Failures degrade to a
// placeholder instead of dropping the message.
func (c *WhatsAppChannel) audioContent(v *events.Message) string {
	const placeholder = "[voice message]"
	audio := v.Message.GetAudioMessage()

	data, err := c.client.Download(context.Background(), audio)
	if err != nil {
		slog.Warn("Audio download failed", "message_id", v.Info.ID, "error", err)
		return placeholder
	}

	ext := "ogg"
	if strings.Contains(audio.GetMimetype(), "mp4") {
		ext = "m4a"
	}
	dir := filepath.Join(c.mediaDir, "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Media dir create failed", "dir", dir, "error", err)
		return placeholder
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.%s", v.Info.ID, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("Audio write failed", "path", path, "error", err)
		return placeholder
	}

	if c.transcriber == nil {
		return placeholder
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	text, err := c.transcriber.Transcribe(ctx, path)
	if err != nil {
		slog.Warn("Transcription failed", "message_id", v.Info.ID, "error", err)
		return placeholder
	}
	if strings.TrimSpace(text) == "" {
		return placeholder
	}
	return strings.TrimSpace(text)
}
