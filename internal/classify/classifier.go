package classify

import (
	"context"
	"log/slog"
	"time"

	"standin/internal/domain"
	"standin/internal/metrics"
)

// Classifier decides the category of one inbound message.
type Classifier interface {
	Classify(ctx context.Context, msg domain.InboundMessage) domain.Classification
}

// Rules chains the cheap deterministic checks in front of the semantic
// classifier: emergency keywords, then media-only, then the AI. A semantic
// failure degrades to OTHER so a flaky provider can never unlock the AI
// reply path.
type Rules struct {
	emergency       *KeywordMatcher
	semantic        domain.Provider
	semanticTimeout time.Duration
	logger          *slog.Logger
}

type Config struct {
	EmergencyKeywords []string
	Provider          domain.Provider
	Timeout           time.Duration
	Logger            *slog.Logger
}

func New(cfg Config) *Rules {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rules{
		emergency:       NewKeywordMatcher(cfg.EmergencyKeywords),
		semantic:        cfg.Provider,
		semanticTimeout: timeout,
		logger:          logger,
	}
}

func (r *Rules) Classify(ctx context.Context, msg domain.InboundMessage) domain.Classification {
	if kw := r.emergency.Match(msg.Text); kw != "" {
		r.logger.Info("emergency keyword matched", "keyword", kw, "message_id", msg.ID)
		return domain.Classification{
			Category:   domain.CategoryEmergency,
			Confidence: 1.0,
			Reasoning:  "matched emergency keyword: " + kw,
		}
	}

	if msg.HasMediaOnly() {
		return domain.Classification{
			Category:   domain.CategoryMedia,
			Confidence: 1.0,
			Reasoning:  "media attachment with no text",
		}
	}

	if r.semantic == nil {
		return otherFallback("no semantic classifier configured")
	}

	cctx, cancel := context.WithTimeout(ctx, r.semanticTimeout)
	defer cancel()

	start := time.Now()
	cls, err := r.semantic.Classify(cctx, msg.Text)
	metrics.ClassifyLatency.ObserveSince(start)
	if err != nil {
		r.logger.Warn("semantic classification failed, degrading to OTHER",
			"error", err, "message_id", msg.ID)
		return otherFallback("classification error: " + err.Error())
	}

	// A semantic EMERGENCY verdict is honored even without a keyword hit.
	return cls
}

func otherFallback(reasoning string) domain.Classification {
	return domain.Classification{
		Category:   domain.CategoryOther,
		Confidence: 0,
		Reasoning:  reasoning,
	}
}
