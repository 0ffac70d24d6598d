// Package relay implements the message-lifecycle pipeline: polling the
// transport log, policy filtering, draft generation, approval handoff
// and delivery with retry.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Relaydeck/Relaydeck/internal/approval"
	"github.com/Relaydeck/Relaydeck/internal/audit"
	"github.com/Relaydeck/Relaydeck/internal/draft"
	"github.com/Relaydeck/Relaydeck/internal/policy"
	"github.com/Relaydeck/Relaydeck/internal/relayerr"
	"github.com/Relaydeck/Relaydeck/internal/store"
)

// Options configures the orchestrator.
type Options struct {
	Store       *store.Store
	Policy      policy.Engine
	Generator   draft.Generator
	Coordinator *approval.Coordinator
	Audit       *audit.Logger

	// WindowSize bounds the conversation context handed to the
	// generator. DraftTimeout bounds one generation call.
	WindowSize   int
	DraftTimeout time.Duration
}

// Orchestrator runs one inbound message through the relay pipeline:
// dedup, policy gate, single-flight check, draft, approval card.
type Orchestrator struct {
	store        *store.Store
	policy       policy.Engine
	generator    draft.Generator
	coordinator  *approval.Coordinator
	audit        *audit.Logger
	windowSize   int
	draftTimeout time.Duration

	// window loads the conversation context; overridable in tests.
	window func(chatJID string, limit int) ([]store.Message, error)
}

// NewOrchestrator creates an orchestrator with defaults filled in.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.WindowSize <= 0 {
		opts.WindowSize = 10
	}
	if opts.DraftTimeout <= 0 {
		opts.DraftTimeout = 60 * time.Second
	}
	return &Orchestrator{
		store:        opts.Store,
		policy:       opts.Policy,
		generator:    opts.Generator,
		coordinator:  opts.Coordinator,
		audit:        opts.Audit,
		windowSize:   opts.WindowSize,
		draftTimeout: opts.DraftTimeout,
		window:       opts.Store.ChatWindow,
	}
}

// Process handles one inbound message. The dispatcher serializes calls
// per conversation, so everything here runs free of per-chat races;
// cross-process coherence comes from the store's uniqueness guards.
func (o *Orchestrator) Process(ctx context.Context, msg store.Message) {
	idempKey := "wa:" + msg.MessageID
	existing, err := o.store.GetTaskByIdempotencyKey(idempKey)
	if err != nil {
		slog.Error("Dedup lookup failed", "message_id", msg.MessageID, "error", err)
		return
	}
	if existing != nil {
		slog.Debug("Duplicate inbound skipped", "message_id", msg.MessageID, "task_id", existing.TaskID)
		return
	}

	traceID := uuid.New().String()
	task, err := o.store.CreateTask(&store.RelayTask{
		IdempotencyKey: idempKey,
		TraceID:        traceID,
		ChatJID:        msg.ChatJID,
		SenderName:     msg.SenderName,
		ContentIn:      msg.Content,
	})
	if err != nil {
		// A replayed row can lose the insert race after passing the
		// lookup; the unique key keeps processing at most once.
		slog.Warn("Task create failed", "message_id", msg.MessageID, "error", err)
		return
	}

	decision, err := o.policy.Evaluate(policy.Context{ChatJID: msg.ChatJID, SenderName: msg.SenderName, TraceID: traceID})
	if err != nil {
		// Not a drop: the task stays in received and the operator can
		// see it in the task list. Next inbound retries the lookup.
		slog.Error("Policy evaluate failed", "chat", msg.ChatJID, "error", err)
		return
	}
	if !decision.Allow {
		_ = o.store.UpdateTaskStatus(task.TaskID, store.TaskStatusDroppedBlacklist, decision.Reason)
		o.audit.Append(ctx, audit.Entry{
			TraceID:    traceID,
			ChatJID:    msg.ChatJID,
			SenderName: msg.SenderName,
			Status:     audit.StatusBlockedDropped,
			Inbound:    msg.Content,
			Detail:     decision.Reason,
		})
		slog.Info("Inbound dropped by policy", "chat", msg.ChatJID, "reason", decision.Reason)
		return
	}

	o.audit.Append(ctx, audit.Entry{
		TraceID:    traceID,
		ChatJID:    msg.ChatJID,
		SenderName: msg.SenderName,
		Status:     audit.StatusReceived,
		Inbound:    msg.Content,
	})

	pending, err := o.store.PendingApproval(msg.ChatJID)
	if err != nil {
		slog.Error("Pending lookup failed", "chat", msg.ChatJID, "error", err)
		return
	}
	if pending != nil {
		// The open card stays authoritative. The new content is already
		// in the log, so the window behind the eventual reply has it.
		o.queueBehind(ctx, task, msg, traceID, pending.ID)
		return
	}

	window, err := o.window(msg.ChatJID, o.windowSize)
	if err != nil {
		// Draft without history rather than drop the message. The flag
		// stays off: we cannot tell whether the chat is actually new.
		slog.Warn("Window load failed", "chat", msg.ChatJID, "error", err)
	}
	firstContact := err == nil && len(window) <= 1

	dctx, cancel := context.WithTimeout(ctx, o.draftTimeout)
	draftText, draftErr := o.generator.Draft(dctx, draft.Request{
		ChatJID:    msg.ChatJID,
		SenderName: msg.SenderName,
		Incoming:   msg.Content,
		Window:     window,
	})
	cancel()

	var draftErrText string
	if draftErr != nil {
		// The operator still gets a card: empty draft, manual reply.
		draftErrText = draftErr.Error()
		draftText = ""
		_ = o.store.UpdateTaskStatus(task.TaskID, store.TaskStatusDraftFailed, draftErrText)
		o.audit.Append(ctx, audit.Entry{
			TraceID:    traceID,
			ChatJID:    msg.ChatJID,
			SenderName: msg.SenderName,
			Status:     audit.StatusDraftFailed,
			Inbound:    msg.Content,
			Detail:     draftErrText,
		})
		slog.Warn("Draft generation failed", "chat", msg.ChatJID, "error", draftErr)
	}

	rec, opened, err := o.coordinator.Open(ctx, approval.OpenRequest{
		ChatJID:      msg.ChatJID,
		SenderName:   msg.SenderName,
		TraceID:      traceID,
		Inbound:      msg.Content,
		Draft:        draftText,
		Tag:          decision.Tag,
		FirstContact: firstContact,
		DraftError:   draftErrText,
	})
	if err != nil {
		if relayerr.KindOf(err) == relayerr.KindPolicyRejection {
			// The operator blocked the chat while the draft was in
			// flight; the coordinator already audited the drop.
			_ = o.store.UpdateTaskStatus(task.TaskID, store.TaskStatusDroppedBlacklist, "chat_blacklisted")
			slog.Info("Inbound dropped by policy", "chat", msg.ChatJID, "reason", "chat_blacklisted")
			return
		}
		slog.Error("Approval open failed", "chat", msg.ChatJID, "error", err)
		return
	}
	if !opened {
		o.queueBehind(ctx, task, msg, traceID, rec.ID)
		return
	}

	_ = o.store.UpdateTaskStatus(task.TaskID, store.TaskStatusAwaitingApproval, draftErrText)
	slog.Info("Approval card opened",
		"chat", msg.ChatJID,
		"approval_id", rec.ID,
		"task_id", task.TaskID,
		"first_contact", firstContact)
}

func (o *Orchestrator) queueBehind(ctx context.Context, task *store.RelayTask, msg store.Message, traceID, approvalID string) {
	_ = o.store.UpdateTaskStatus(task.TaskID, store.TaskStatusQueuedPending, "")
	o.audit.Append(ctx, audit.Entry{
		TraceID:    traceID,
		ChatJID:    msg.ChatJID,
		SenderName: msg.SenderName,
		Status:     audit.StatusQueuedPending,
		Inbound:    msg.Content,
		Detail:     "rides approval " + approvalID,
	})
	slog.Info("Inbound queued behind open card", "chat", msg.ChatJID, "approval_id", approvalID)
}
