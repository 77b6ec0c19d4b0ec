// Package provider implements the AI capability against the Anthropic
// messages API: one cheap model for classification, one for reply drafting.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"standin/internal/config"
	"standin/internal/domain"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	defaultHTTPTimeout  = 120 * time.Second
)

const defaultClassifyPrompt = `You classify WhatsApp messages sent to a busy person. Reply with a single JSON object, nothing else:
{"category": "...", "confidence": 0.0-1.0, "reasoning": "one short sentence"}
Categories: LOGISTICAL (scheduling, plans, questions with factual answers), EMOTIONAL (affection, loneliness, needing support), CONFLICT (complaints, accusations, arguments), EMERGENCY (urgent danger or crisis), OTHER (anything else).`

const defaultReplyPrompt = `You write short WhatsApp replies on behalf of someone who is busy right now. Match a warm, casual texting tone. Keep it under two sentences. Only answer logistical questions; never make promises or commitments the person did not already make.`

// retryPolicy bounds how the client retries transient API failures.
// attempts is the total number of tries including the first.
type retryPolicy struct {
	attempts int
	backoff  func(attempt int) time.Duration
}

// defaultRetryPolicy waits attempt² seconds plus jitter between tries.
func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		attempts: 4,
		backoff: func(attempt int) time.Duration {
			base := time.Duration(attempt*attempt) * time.Second
			return base + time.Duration(rand.Int64N(int64(base/2+1)))
		},
	}
}

// retryableStatus reports whether a response status is worth retrying.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// Anthropic implements domain.Provider over the Anthropic messages API.
type Anthropic struct {
	apiKey         string
	classifyModel  string
	replyModel     string
	maxTokens      int
	temperature    float64
	classifyPrompt string
	replyPrompt    string
	baseURL        string
	retry          retryPolicy
	client         *http.Client
	logger         *slog.Logger
}

func NewAnthropic(cfg config.AIConfig, apiKey string, logger *slog.Logger) *Anthropic {
	if logger == nil {
		logger = slog.Default()
	}
	classifyPrompt := cfg.ClassifyPrompt
	if classifyPrompt == "" {
		classifyPrompt = defaultClassifyPrompt
	}
	replyPrompt := cfg.ReplyPrompt
	if replyPrompt == "" {
		replyPrompt = defaultReplyPrompt
	}
	maxTokens := cfg.ReplyMaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}
	return &Anthropic{
		apiKey:         apiKey,
		classifyModel:  cfg.ClassifyModel,
		replyModel:     cfg.ReplyModel,
		maxTokens:      maxTokens,
		temperature:    cfg.ReplyTemperature,
		classifyPrompt: classifyPrompt,
		replyPrompt:    replyPrompt,
		baseURL:        anthropicAPIURL,
		retry:          defaultRetryPolicy(),
		client:         &http.Client{Timeout: defaultHTTPTimeout},
		logger:         logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Healthy(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("anthropic: no API key configured")
	}
	return nil
}

type apiRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []apiMsg  `json:"messages"`
}

type apiMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// classifyVerdict is the JSON object the classify prompt asks for.
type classifyVerdict struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (a *Anthropic) Classify(ctx context.Context, text string) (domain.Classification, error) {
	raw, err := a.complete(ctx, apiRequest{
		Model:     a.classifyModel,
		MaxTokens: 150,
		System:    a.classifyPrompt,
		Messages:  []apiMsg{{Role: "user", Content: text}},
	})
	if err != nil {
		return domain.Classification{}, err
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("parse classification: %w", err)
	}
	return domain.Classification{
		Category:   domain.ParseCategory(verdict.Category),
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
	}, nil
}

func (a *Anthropic) GenerateReply(ctx context.Context, req domain.ReplyRequest) (string, error) {
	msgs := make([]apiMsg, 0, len(req.Context)+1)
	for _, m := range req.Context {
		role := "user"
		if m.FromMe {
			role = "assistant"
		}
		msgs = append(msgs, apiMsg{Role: role, Content: m.Text})
	}
	msgs = append(msgs, apiMsg{Role: "user", Content: req.Message})
	msgs = mergeConsecutiveRoles(msgs)

	temp := a.temperature
	reply, err := a.complete(ctx, apiRequest{
		Model:       a.replyModel,
		MaxTokens:   a.maxTokens,
		Temperature: &temp,
		System:      a.replyPrompt,
		Messages:    msgs,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// complete posts one messages request and returns the concatenated text
// blocks of the response.
func (a *Anthropic) complete(ctx context.Context, body apiRequest) (string, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	resp, err := a.send(ctx, jsonBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("anthropic %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	var parts []string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, ""), nil
}

// send posts the request body, retrying network errors, 5xx, and 429
// according to the client's retry policy. The body is re-read per attempt.
func (a *Anthropic) send(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < a.retry.attempts; attempt++ {
		if attempt > 0 {
			wait := a.retry.backoff(attempt)
			a.logger.Warn("retrying anthropic request", "attempt", attempt+1, "backoff", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = err
			a.logger.Warn("anthropic request failed, will retry", "error", err)
			continue
		}
		if retryableStatus(resp.StatusCode) {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("anthropic %d: %s", resp.StatusCode, string(respBody))
			a.logger.Warn("anthropic server error, will retry", "status", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("anthropic request failed after %d attempts: %w", a.retry.attempts, lastErr)
}

// parseVerdict extracts the JSON verdict, tolerating code fences and prose
// around the object.
func parseVerdict(raw string) (classifyVerdict, error) {
	var v classifyVerdict

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return v, fmt.Errorf("no JSON object in %q", raw)
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return v, err
	}
	if v.Category == "" {
		return v, fmt.Errorf("missing category in %q", raw)
	}
	return v, nil
}

// mergeConsecutiveRoles joins adjacent turns from the same role; the API
// requires strict user/assistant alternation.
func mergeConsecutiveRoles(msgs []apiMsg) []apiMsg {
	if len(msgs) < 2 {
		return msgs
	}
	merged := msgs[:1]
	for _, m := range msgs[1:] {
		last := &merged[len(merged)-1]
		if m.Role == last.Role {
			last.Content += "\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}
	return merged
}
