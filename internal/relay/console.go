package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Relaydeck/Relaydeck/internal/approval"
	"github.com/Relaydeck/Relaydeck/internal/bus"
	"github.com/Relaydeck/Relaydeck/internal/relayerr"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

// Console consumes operator traffic from the bus: decision callbacks
// for approval cards plus the handful of management commands. Button
// presses arrive pre-normalized to the same text commands.
type Console struct {
	bus         *bus.MessageBus
	store       *store.Store
	coordinator *approval.Coordinator
}

// NewConsole creates the operator command loop.
func NewConsole(b *bus.MessageBus, st *store.Store, coord *approval.Coordinator) *Console {
	return &Console{bus: b, store: st, coordinator: coord}
}

// Run processes operator messages until context is cancelled.
func (c *Console) Run(ctx context.Context) error {
	slog.Info("Operator console started")
	for {
		msg, err := c.bus.ConsumeInbound(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Console consume failed", "error", err)
			continue
		}

		reply := c.handle(ctx, msg)
		if reply != "" {
			c.bus.PublishOutbound(&bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				TraceID: msg.TraceID,
				Content: reply,
			})
		}
	}
}

// handle parses one operator message and returns the reply text.
// Malformed input never crashes the loop; it comes back as a usage hint.
func (c *Console) handle(ctx context.Context, msg *bus.InboundMessage) string {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return ""
	}
	fields := strings.Fields(content)
	verb := strings.ToLower(fields[0])

	switch verb {
	case "approve":
		if len(fields) != 2 {
			return "Usage: approve <card>"
		}
		return c.resolve(ctx, approval.Decision{ApprovalID: fields[1], Verdict: store.VerdictApprove, Operator: msg.SenderID})

	case "edit":
		parts := strings.SplitN(content, " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return "Usage: edit <card> <replacement text>"
		}
		return c.resolve(ctx, approval.Decision{ApprovalID: fields[1], Verdict: store.VerdictEdit, Replacement: strings.TrimSpace(parts[2]), Operator: msg.SenderID})

	case "own":
		parts := strings.SplitN(content, " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return "Usage: own <card> <your reply>"
		}
		return c.resolve(ctx, approval.Decision{ApprovalID: fields[1], Verdict: store.VerdictRecordOwn, Replacement: strings.TrimSpace(parts[2]), Operator: msg.SenderID})

	case "block":
		if len(fields) != 2 {
			return "Usage: block <card>"
		}
		return c.resolve(ctx, approval.Decision{ApprovalID: fields[1], Verdict: store.VerdictBlock, Operator: msg.SenderID})

	case "pending":
		return c.listPending()

	case "tag":
		if len(fields) != 3 {
			return "Usage: tag <chat> <free|basic|premium>"
		}
		if err := c.store.SetSubscriptionTag(fields[1], strings.ToLower(fields[2])); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return fmt.Sprintf("Tagged %s as %s.", fields[1], strings.ToLower(fields[2]))

	case "unblock":
		if len(fields) != 2 {
			return "Usage: unblock <chat>"
		}
		removed, err := c.store.Unblacklist(fields[1])
		if err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		if !removed {
			return fmt.Sprintf("%s was not blacklisted.", fields[1])
		}
		return fmt.Sprintf("Unblocked %s.", fields[1])

	case "blacklist":
		if len(fields) == 1 {
			return c.listBlacklist()
		}
		reason := ""
		if len(fields) > 2 {
			reason = strings.Join(fields[2:], " ")
		}
		if err := c.store.Blacklist(fields[1], reason); err != nil {
			return fmt.Sprintf("Error: %v", err)
		}
		return fmt.Sprintf("Blacklisted %s.", fields[1])

	case "history":
		if len(fields) != 2 {
			return "Usage: history <chat>"
		}
		return c.listHistory(fields[1])

	case "help":
		return helpText

	default:
		return "Unknown command. Try help."
	}
}

// resolve applies one decision and words the outcome for the operator.
func (c *Console) resolve(ctx context.Context, d approval.Decision) string {
	rec, err := c.coordinator.Resolve(ctx, d)
	switch relayerr.KindOf(err) {
	case relayerr.KindDuplicateCallback:
		if rec != nil {
			return fmt.Sprintf("Card %s was already %s, nothing changed.", d.ApprovalID, rec.Status)
		}
		return fmt.Sprintf("Card %s was already handled, nothing changed.", d.ApprovalID)
	case relayerr.KindMalformedCallback:
		return fmt.Sprintf("Cannot apply that decision: %v", err)
	}
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	switch d.Verdict {
	case store.VerdictApprove:
		return fmt.Sprintf("Approved %s, reply queued for delivery.", rec.ID)
	case store.VerdictEdit:
		return fmt.Sprintf("Edited %s, your text is queued for delivery.", rec.ID)
	case store.VerdictRecordOwn:
		return fmt.Sprintf("Recorded your reply on %s, queued for delivery.", rec.ID)
	case store.VerdictBlock:
		return fmt.Sprintf("Blocked card %s and blacklisted %s.", rec.ID, rec.ChatJID)
	}
	return "Done."
}

func (c *Console) listPending() string {
	recs, err := c.store.ListPendingApprovals()
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(recs) == 0 {
		return "No cards waiting."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d card(s) waiting:\n", len(recs))
	for _, r := range recs {
		fmt.Fprintf(&b, "- %s  %s (%s): %s\n", r.ID, r.SenderName, r.ChatJID, truncate(r.Inbound, 80))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Console) listBlacklist() string {
	entries, err := c.store.ListBlacklist()
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(entries) == 0 {
		return "Blacklist is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d blacklisted:\n", len(entries))
	for _, e := range entries {
		line := "- " + e.ChatJID
		if e.Reason != "" {
			line += " (" + e.Reason + ")"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Console) listHistory(chatJID string) string {
	rows, err := c.store.ListAudit(chatJID, 10)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if len(rows) == 0 {
		return fmt.Sprintf("No history for %s.", chatJID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d event(s) for %s:\n", len(rows), chatJID)
	for _, r := range rows {
		text := r.FinalText
		if text == "" {
			text = r.Inbound
		}
		fmt.Fprintf(&b, "- %s  %s: %s\n", r.At.Format("Jan 2 15:04"), r.Status, truncate(text, 60))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

const helpText = `Relaydeck commands:
  approve <card>          send the draft as written
  edit <card> <text>      send your text instead of the draft
  own <card> <text>       send your own reply (voice notes arrive transcribed)
  block <card>            discard the draft and blacklist the conversation
  pending                 list open cards
  history <chat>          recent lifecycle events for a conversation
  tag <chat> <tier>       label a conversation free, basic or premium
  unblock <chat>          lift a blacklist entry
  blacklist [chat] [why]  list entries, or add one directly`
