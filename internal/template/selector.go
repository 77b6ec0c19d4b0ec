// Package template picks canned replies for the non-AI categories.
package template

import (
	"math/rand"

	"standin/internal/config"
	"standin/internal/domain"
)

// Selector picks a reply from the configured pool for a category. Selection
// is uniform over the pool; the rng is injectable so tests are deterministic.
type Selector struct {
	emotional []string
	conflict  []string
	emergency []string
	media     map[string][]string
	fallback  string
	rng       *rand.Rand
}

func NewSelector(cfg config.TemplatesConfig, rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Selector{
		emotional: cfg.Emotional,
		conflict:  cfg.Conflict,
		emergency: cfg.Emergency,
		media:     cfg.Media,
		fallback:  cfg.Fallback,
		rng:       rng,
	}
}

// Pick returns a reply for the category. Media messages get a pool keyed by
// media type when one exists. An empty pool falls back to the generic line,
// so a send never goes out blank.
func (s *Selector) Pick(category domain.Category, mediaType string) string {
	var pool []string
	switch category {
	case domain.CategoryEmotional:
		pool = s.emotional
	case domain.CategoryConflict:
		pool = s.conflict
	case domain.CategoryEmergency:
		pool = s.emergency
	case domain.CategoryMedia:
		pool = s.media[mediaType]
		if len(pool) == 0 {
			pool = s.media["default"]
		}
	}

	if len(pool) == 0 {
		return s.fallback
	}
	return pool[s.rng.Intn(len(pool))]
}
