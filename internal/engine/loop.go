package engine

import (
	"context"
	"log/slog"
	"time"

	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/executor"
	"standin/internal/metrics"
	"standin/internal/state"
)

// Loop consumes inbound messages one at a time, in receipt order. Serializing
// on a single goroutine is what keeps the rate counters and the persisted
// statistics consistent; the only suspensions are the classification and send
// network calls, which never hold the counters.
type Loop struct {
	cfg      config.Config
	router   *Router
	exec     *executor.Executor
	store    *state.Store
	messages <-chan domain.InboundMessage
	snap     *state.Snapshot
	now      func() time.Time
	logger   *slog.Logger
}

type LoopConfig struct {
	Config   config.Config
	Router   *Router
	Executor *executor.Executor
	Store    *state.Store
	Messages <-chan domain.InboundMessage
	Snapshot *state.Snapshot
	Now      func() time.Time // defaults to time.Now
	Logger   *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg.Config,
		router:   cfg.Router,
		exec:     cfg.Executor,
		store:    cfg.Store,
		messages: cfg.Messages,
		snap:     cfg.Snapshot,
		now:      now,
		logger:   logger,
	}
}

// Run processes messages until the context is cancelled or the inbound
// channel closes. A message in flight when shutdown starts is finished and
// committed; nothing is half-applied.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("engine started",
		"target_chat", l.cfg.TargetChatID,
		"busy_mode", l.cfg.BusyMode,
		"dry_run", l.cfg.DryRun)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("engine stopping")
			return nil
		case msg, ok := <-l.messages:
			if !ok {
				l.logger.Info("inbound channel closed")
				return nil
			}
			l.process(msg)
		}
	}
}

// process runs the full decide-execute-commit cycle for one message. All
// per-message errors end in a terminal outcome; nothing here panics the loop.
func (l *Loop) process(msg domain.InboundMessage) {
	// Commits still go through during shutdown, so use a fresh context.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if msg.ChatID != l.cfg.TargetChatID {
		l.logger.Debug("message for unwatched chat ignored", "chat_id", msg.ChatID)
		return
	}

	seen, err := l.store.Seen(ctx, msg.ID)
	if err != nil {
		l.logger.Error("dedup lookup failed, message dropped", "message_id", msg.ID, "error", err)
		return
	}
	if seen {
		l.logger.Debug("duplicate delivery ignored", "message_id", msg.ID)
		return
	}

	now := l.now()
	l.snap.Stats.MessagesProcessed++
	metrics.MessagesTotal.Inc()

	action := l.router.Decide(ctx, msg, l.snap, now)

	var history []domain.ContextMessage
	if action.Kind == domain.ActionSendAIReply {
		history = l.loadHistory(ctx)
	}

	out := l.exec.Execute(ctx, action, msg, history)
	l.record(out)

	if msg.Text != "" {
		if err := l.store.AppendHistory(ctx, false, msg.Text, msg.Timestamp, l.cfg.State.MaxHistory); err != nil {
			l.logger.Error("history append failed", "error", err)
		}
	}
	if out.Reply != "" && out.SendErr == nil {
		if err := l.store.AppendHistory(ctx, true, out.Reply, now, l.cfg.State.MaxHistory); err != nil {
			l.logger.Error("history append failed", "error", err)
		}
	}

	l.snap.LastProcessedID = msg.ID
	l.snap.LastProcessedAt = now

	if err := l.store.Commit(ctx, l.snap, msg.ID); err != nil {
		l.logger.Error("state commit failed", "message_id", msg.ID, "error", err)
	}

	l.logger.Info("message handled",
		"message_id", msg.ID,
		"action", out.Action.Kind,
		"category", out.Action.Category,
		"skip_reason", out.Action.Reason)
}

// record attributes the outcome to exactly one terminal statistics bucket.
func (l *Loop) record(out executor.Outcome) {
	switch {
	case out.Action.Kind == domain.ActionSkip:
		l.snap.Stats.Skip(out.Action.Reason)
		metrics.SkipCounter(string(out.Action.Reason)).Inc()
	case out.SendErr != nil:
		l.snap.Stats.FailedSends++
		metrics.FailedSendsTotal.Inc()
	case out.Action.Kind == domain.ActionFlagEmergency:
		l.snap.Stats.EmergenciesFlagged++
		metrics.EmergenciesTotal.Inc()
	default:
		l.snap.Stats.RepliesSent++
		metrics.RepliesTotal.Inc()
	}
}

func (l *Loop) loadHistory(ctx context.Context) []domain.ContextMessage {
	limit := l.cfg.AI.ContextMessages
	entries, err := l.store.History(ctx, limit)
	if err != nil {
		l.logger.Warn("history load failed, replying without context", "error", err)
		return nil
	}
	msgs := make([]domain.ContextMessage, len(entries))
	for i, e := range entries {
		msgs[i] = domain.ContextMessage{FromMe: e.FromMe, Text: e.Text}
	}
	return msgs
}
