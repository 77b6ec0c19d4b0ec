// Package classify assigns a Category to each inbound message. Cheap rule
// checks run first; the AI classifier is only consulted when no rule fires.
package classify

import "strings"

// KeywordMatcher does case-insensitive substring matching against a fixed
// keyword list.
type KeywordMatcher struct {
	lowerKeywords []string // pre-computed lowercase keywords
}

func NewKeywordMatcher(keywords []string) *KeywordMatcher {
	// Pre-compute lowercase keywords to avoid repeated ToLower on every message.
	lower := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw != "" {
			lower = append(lower, kw)
		}
	}
	return &KeywordMatcher{lowerKeywords: lower}
}

// Match returns the first keyword contained in text, or "" when none match.
func (m *KeywordMatcher) Match(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range m.lowerKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}
