// Package engine turns each inbound message into exactly one Action by
// running a fixed-precedence policy pipeline over the clock, the rate
// limiter, and the classifier.
package engine

import (
	"context"
	"log/slog"
	"time"

	"standin/internal/classify"
	"standin/internal/clock"
	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/ratelimit"
	"standin/internal/state"
)

// Router evaluates the policy pipeline. It holds no mutable state of its
// own: counters live in the Snapshot the caller passes in, and config is an
// immutable snapshot taken at startup.
type Router struct {
	cfg        config.Config
	hours      *clock.Window
	limiter    *ratelimit.Limiter
	classifier classify.Classifier
	emergency  *classify.KeywordMatcher
	stop       *classify.KeywordMatcher
	logger     *slog.Logger
}

func NewRouter(cfg config.Config, hours *clock.Window, limiter *ratelimit.Limiter, classifier classify.Classifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:        cfg,
		hours:      hours,
		limiter:    limiter,
		classifier: classifier,
		emergency:  classify.NewKeywordMatcher(cfg.EmergencyWords),
		stop:       classify.NewKeywordMatcher(cfg.StopWords),
		logger:     logger,
	}
}

// Decide runs the pipeline for one message. Precedence is fixed:
//
//  1. persisted kill-switch
//  2. stop keyword (flips the kill-switch)
//  3. emergency keyword, exempt from every gate below and from quota
//  4. master switches (enable_auto_reply, busy_mode)
//  5. allowed hours
//  6. rate limit, consumed here for every send path including templates
//  7. classification routing
//
// Decide may mutate snap (rate windows, kill-switch); the caller commits the
// snapshot once the final outcome is known.
func (r *Router) Decide(ctx context.Context, msg domain.InboundMessage, snap *state.Snapshot, now time.Time) domain.Action {
	if snap.Disabled {
		return domain.SkipAction(domain.SkipStopped, "")
	}

	if kw := r.stop.Match(msg.Text); kw != "" {
		snap.Disabled = true
		snap.DisabledReason = "stop keyword: " + kw
		snap.DisabledAt = now
		r.logger.Warn("stop keyword received, auto-reply disabled", "keyword", kw, "message_id", msg.ID)
		return domain.SkipAction(domain.SkipStopped, "")
	}

	// Emergencies communicate user status, not conversation, so they bypass
	// the switches, the hours gate, and the quota.
	if kw := r.emergency.Match(msg.Text); kw != "" {
		r.logger.Warn("emergency keyword flagged", "keyword", kw, "message_id", msg.ID)
		return domain.Action{Kind: domain.ActionFlagEmergency, Category: domain.CategoryEmergency}
	}

	if !r.cfg.EnableAutoReply || !r.cfg.BusyMode {
		return domain.SkipAction(domain.SkipDisabled, "")
	}

	if !r.hours.Contains(now) {
		return domain.SkipAction(domain.SkipOutsideHours, "")
	}

	if res := r.limiter.TryConsume(&snap.Windows, now); !res.Allowed {
		return domain.SkipAction(res.Reason, "")
	}

	cls := r.classifier.Classify(ctx, msg)
	r.logger.Debug("message classified",
		"category", cls.Category, "confidence", cls.Confidence, "message_id", msg.ID)

	switch cls.Category {
	case domain.CategoryLogistical:
		return domain.Action{Kind: domain.ActionSendAIReply, Category: cls.Category}
	case domain.CategoryEmergency:
		// Semantic verdict without a keyword hit; quota is already consumed.
		return domain.Action{Kind: domain.ActionFlagEmergency, Category: cls.Category}
	default:
		// EMOTIONAL, CONFLICT, MEDIA, OTHER all stay on canned templates.
		return domain.TemplateAction(cls.Category)
	}
}
