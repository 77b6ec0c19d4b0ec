// Package executor carries out a finalized Action: AI generation, template
// selection, the actual send, and the owner alert for emergencies.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"standin/internal/domain"
	"standin/internal/template"
)

// Outcome is what actually happened for one Action. The engine attributes
// statistics from this, never from the pre-execution Action alone.
type Outcome struct {
	Action  domain.Action // final action; an AI failure downgrades to skip(ai_error)
	Reply   string        // text that was (or would have been) sent
	SendErr error         // non-nil when the transport rejected the send
}

// Executor resolves an Action into a send. It never touches rate counters or
// persisted state.
type Executor struct {
	provider     domain.Provider
	sender       domain.Sender
	notifier     domain.Notifier
	templates    *template.Selector
	replyTimeout time.Duration
	logger       *slog.Logger
}

type Config struct {
	Provider     domain.Provider
	Sender       domain.Sender
	Notifier     domain.Notifier
	Templates    *template.Selector
	ReplyTimeout time.Duration
	DryRun       bool
	Logger       *slog.Logger
}

func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sender := cfg.Sender
	if cfg.DryRun {
		sender = &dryRunSender{logger: logger}
	}
	timeout := cfg.ReplyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		provider:     cfg.Provider,
		sender:       sender,
		notifier:     cfg.Notifier,
		templates:    cfg.Templates,
		replyTimeout: timeout,
		logger:       logger,
	}
}

// Execute performs the send side of an Action. Skips return immediately. AI
// generation failures come back as skip(ai_error) rather than an empty send.
func (e *Executor) Execute(ctx context.Context, action domain.Action, msg domain.InboundMessage, history []domain.ContextMessage) Outcome {
	switch action.Kind {
	case domain.ActionSkip:
		return Outcome{Action: action}

	case domain.ActionFlagEmergency:
		reply := e.templates.Pick(domain.CategoryEmergency, "")
		out := Outcome{Action: action, Reply: reply}
		out.SendErr = e.send(ctx, msg.ChatID, reply)
		e.alertOwner(ctx, msg)
		return out

	case domain.ActionSendTemplate:
		reply := e.templates.Pick(action.Category, msg.MediaType)
		out := Outcome{Action: action, Reply: reply}
		out.SendErr = e.send(ctx, msg.ChatID, reply)
		return out

	case domain.ActionSendAIReply:
		gctx, cancel := context.WithTimeout(ctx, e.replyTimeout)
		defer cancel()

		reply, err := e.provider.GenerateReply(gctx, domain.ReplyRequest{
			Message: msg.Text,
			Context: history,
		})
		if err != nil || reply == "" {
			if err == nil {
				err = fmt.Errorf("provider returned empty reply")
			}
			e.logger.Warn("AI reply generation failed", "error", err, "message_id", msg.ID)
			return Outcome{Action: domain.SkipAction(domain.SkipAIError, action.Category)}
		}

		out := Outcome{Action: action, Reply: reply}
		out.SendErr = e.send(ctx, msg.ChatID, reply)
		return out

	default:
		return Outcome{Action: domain.SkipAction(domain.SkipAIError, action.Category),
			SendErr: fmt.Errorf("unknown action kind %q", action.Kind)}
	}
}

func (e *Executor) send(ctx context.Context, chatID, text string) error {
	if err := e.sender.Send(ctx, chatID, text); err != nil {
		e.logger.Error("send failed", "chat_id", chatID, "error", err)
		return err
	}
	return nil
}

// alertOwner pushes the emergency out of band. Best effort: a notifier
// failure is logged, never escalated.
func (e *Executor) alertOwner(ctx context.Context, msg domain.InboundMessage) {
	if e.notifier == nil {
		return
	}
	text := fmt.Sprintf("Emergency flagged from %s at %s:\n%s",
		msg.SenderID, msg.Timestamp.Format(time.RFC3339), msg.Text)
	if err := e.notifier.Notify(ctx, text); err != nil {
		e.logger.Error("owner alert failed", "error", err)
	}
}

// dryRunSender logs the would-be send and transmits nothing.
type dryRunSender struct {
	logger *slog.Logger
}

func (s *dryRunSender) Send(ctx context.Context, chatID, text string) error {
	s.logger.Info("dry run, send suppressed", "chat_id", chatID, "text", text)
	return nil
}
