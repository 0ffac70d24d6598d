package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Relaydeck/Relaydeck/internal/approval"
	"github.com/Relaydeck/Relaydeck/internal/bus"
	"github.com/Relaydeck/Relaydeck/internal/config"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Card button action ids. The values carry the approval id; clicks are
// normalized into the same commands operators type by hand.
const (
	actionApprove = "approve"
	actionBlock   = "block"
)

// SlackConsole is the operator side of the relay: approval cards with
// buttons, free-text commands, and relay notices, all in one Slack
// channel over Socket Mode.
type SlackConsole struct {
	BaseChannel
	config config.SlackConfig

	api       *slack.Client
	sock      *socketmode.Client
	botUserID string
}

// NewSlackConsole creates the console on the given bus.
func NewSlackConsole(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackConsole {
	return &SlackConsole{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
	}
}

func (c *SlackConsole) Name() string { return "slack" }

// Start opens the Socket Mode connection and wires the console to the
// bus: operator input flows inbound, relay notices flow outbound.
func (c *SlackConsole) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	if strings.TrimSpace(c.config.BotToken) == "" || strings.TrimSpace(c.config.AppToken) == "" {
		return fmt.Errorf("slack console needs bot and app tokens")
	}
	if strings.TrimSpace(c.config.OperatorChannel) == "" {
		return fmt.Errorf("slack console needs an operator channel")
	}

	c.api = slack.New(c.config.BotToken, slack.OptionAppLevelToken(c.config.AppToken))
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	c.botUserID = auth.UserID
	c.sock = socketmode.New(c.api)

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		go c.notify(msg)
	})

	go c.consumeEvents(ctx)
	go func() {
		if err := c.sock.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Slack socket closed", "error", err)
		}
	}()

	slog.Info("Slack console started", "channel", c.config.OperatorChannel, "bot", auth.User)
	return nil
}

func (c *SlackConsole) Stop() error { return nil }

func (c *SlackConsole) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sock.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				slog.Info("Slack socket connected")
			case socketmode.EventTypeConnectionError:
				slog.Warn("Slack socket connection error")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					c.sock.Ack(*evt.Request)
				}
				if ev, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
					c.handleOperatorMessage(ev)
				}
			case socketmode.EventTypeInteractive:
				cb, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				if evt.Request != nil {
					c.sock.Ack(*evt.Request)
				}
				c.handleInteraction(cb)
			}
		}
	}
}

// handleOperatorMessage forwards operator text from the ops channel to
// the relay console loop. Bot echoes, edits and other channels are
// dropped.
func (c *SlackConsole) handleOperatorMessage(ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType != "" || ev.User == "" || ev.User == c.botUserID {
		return
	}
	if ev.Channel != c.config.OperatorChannel {
		return
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: ev.User,
		ChatID:   ev.Channel,
		Content:  text,
	})
}

// handleInteraction maps card button clicks onto console commands.
func (c *SlackConsole) handleInteraction(cb slack.InteractionCallback) {
	if cb.Type != slack.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]
	command := commandForAction(action.ActionID, action.Value)
	if command == "" {
		return
	}
	c.Bus.PublishInbound(&bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: cb.User.ID,
		ChatID:   cb.Channel.ID,
		Content:  command,
	})
}

func commandForAction(actionID, value string) string {
	switch actionID {
	case actionApprove:
		return "approve " + value
	case actionBlock:
		return "block " + value
	default:
		return ""
	}
}

// notify posts a relay notice (command replies, delivery failures) to
// the operator channel.
func (c *SlackConsole) notify(msg *bus.OutboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.Send(ctx, msg.ChatID, msg.Content); err != nil {
		slog.Warn("Slack notice failed", "error", err)
	}
}

// Send posts plain text. An empty chatID targets the operator channel.
func (c *SlackConsole) Send(ctx context.Context, chatID, text string) error {
	if c.api == nil {
		return fmt.Errorf("slack console not started")
	}
	if strings.TrimSpace(chatID) == "" {
		chatID = c.config.OperatorChannel
	}
	return withRetry(3, 200*time.Millisecond, func() (bool, error) {
		_, _, err := c.api.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
		return retryDecision(err)
	})
}

// PostCard posts one approval card and returns its message timestamp,
// the handle later updates use.
func (c *SlackConsole) PostCard(ctx context.Context, card approval.Card) (string, error) {
	if c.api == nil {
		return "", fmt.Errorf("slack console not started")
	}
	var ts string
	err := withRetry(3, 200*time.Millisecond, func() (bool, error) {
		var postErr error
		_, ts, postErr = c.api.PostMessageContext(ctx, c.config.OperatorChannel,
			slack.MsgOptionText(cardFallback(card), false),
			slack.MsgOptionBlocks(cardBlocks(card, "")...))
		return retryDecision(postErr)
	})
	if err != nil {
		return "", fmt.Errorf("post card: %w", err)
	}
	return ts, nil
}

// UpdateCard rewrites the card in place, replacing the buttons with the
// outcome.
func (c *SlackConsole) UpdateCard(ctx context.Context, handle string, card approval.Card, outcome string) error {
	if c.api == nil {
		return fmt.Errorf("slack console not started")
	}
	err := withRetry(3, 200*time.Millisecond, func() (bool, error) {
		_, _, _, updateErr := c.api.UpdateMessageContext(ctx, c.config.OperatorChannel, handle,
			slack.MsgOptionText(cardFallback(card), false),
			slack.MsgOptionBlocks(cardBlocks(card, outcome)...))
		return retryDecision(updateErr)
	})
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return nil
}

// cardBlocks renders an approval card. With an outcome set the action
// buttons are replaced by a closing context line.
func cardBlocks(card approval.Card, outcome string) []slack.Block {
	title := fmt.Sprintf("*Reply approval* `%s`", card.ApprovalID)
	if card.FirstContact {
		title += "\n:wave: First contact with this sender."
	}

	from := card.ChatJID
	if card.SenderName != "" {
		from = fmt.Sprintf("%s (%s)", card.SenderName, card.ChatJID)
	}
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*From:*\n"+from, false, false),
	}
	if card.Tag != "" {
		fields = append(fields, slack.NewTextBlockObject(slack.MarkdownType, "*Tag:*\n"+card.Tag, false, false))
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, title, false, false), fields, nil),
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "*Inbound:*\n"+quoted(card.Inbound), false, false), nil, nil),
	}

	hasDraft := card.DraftError == "" && strings.TrimSpace(card.Draft) != ""
	switch {
	case card.DraftError != "":
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			":warning: *Draft failed:* "+card.DraftError, false, false), nil, nil))
	case hasDraft:
		blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType,
			"*Draft:*\n"+card.Draft, false, false), nil, nil))
	}

	if outcome != "" {
		return append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "*"+outcome+"*", false, false)))
	}

	hint := fmt.Sprintf("`edit %s <text>` or `own %s <text>` to reply yourself", card.ApprovalID, card.ApprovalID)
	if card.ExpiresAt != nil {
		hint += " | expires " + card.ExpiresAt.Format("15:04:05")
	}
	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType, hint, false, false)))

	var buttons []slack.BlockElement
	if hasDraft {
		buttons = append(buttons, slack.NewButtonBlockElement(actionApprove, card.ApprovalID,
			slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false)).WithStyle(slack.StylePrimary))
	}
	buttons = append(buttons, slack.NewButtonBlockElement(actionBlock, card.ApprovalID,
		slack.NewTextBlockObject(slack.PlainTextType, "Block sender", false, false)).WithStyle(slack.StyleDanger))
	return append(blocks, slack.NewActionBlock("", buttons...))
}

// cardFallback is the notification text for clients that do not render
// blocks.
func cardFallback(card approval.Card) string {
	from := card.SenderName
	if from == "" {
		from = card.ChatJID
	}
	return fmt.Sprintf("Reply approval %s from %s", card.ApprovalID, from)
}

func quoted(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

// retryDecision reports whether a Slack API failure is worth another
// attempt, honoring rate-limit waits.
func retryDecision(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) && rle != nil {
		if rle.RetryAfter > 0 {
			time.Sleep(rle.RetryAfter)
		}
		return true, err
	}
	return false, err
}

func withRetry(attempts int, baseDelay time.Duration, fn func() (retryable bool, err error)) error {
	if attempts <= 0 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable || i == attempts-1 {
			break
		}
		time.Sleep(baseDelay * time.Duration(1<<i))
	}
	return lastErr
}
