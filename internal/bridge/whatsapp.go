// Package bridge connects standin to the WhatsApp Business Cloud API: a
// webhook server for inbound messages and a Sender for outbound replies.
package bridge

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"standin/internal/config"
	"standin/internal/domain"
	"standin/internal/metrics"
)

const whatsappAPIBase = "https://graph.facebook.com/v21.0"

// WhatsApp handles the Cloud API webhook handshake, inbound payloads, and
// outbound sends.
type WhatsApp struct {
	cfg     config.WhatsAppConfig
	bus     domain.MessageBus
	logger  *slog.Logger
	client  *http.Client
	apiBase string
}

func NewWhatsApp(cfg config.WhatsAppConfig, bus domain.MessageBus, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsApp{
		cfg:     cfg,
		bus:     bus,
		logger:  logger,
		client:  &http.Client{Timeout: 30 * time.Second},
		apiBase: whatsappAPIBase,
	}
}

// Handler returns the webhook mux, mounted on the daemon's HTTP server.
func (w *WhatsApp) Handler() http.Handler {
	mux := http.NewServeMux()
	path := w.cfg.WebhookPath
	if path == "" {
		path = "/webhook/whatsapp"
	}
	mux.HandleFunc("GET "+path, w.handleVerification)
	mux.HandleFunc("POST "+path, w.handleIncoming)
	return mux
}

// handleVerification answers the Cloud API subscribe challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming verifies the payload signature, extracts messages, and
// publishes them to the bus. Always answers 200 for valid payloads so the
// Cloud API does not retry storms at us; dedup happens in the engine.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !w.verifySignature(body, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "error", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				w.publish(msg)
			}
		}
	}

	rw.WriteHeader(http.StatusOK)
}

func (w *WhatsApp) publish(msg waMessage) {
	inbound := domain.InboundMessage{
		ID:        msg.ID,
		ChatID:    msg.From,
		SenderID:  msg.From,
		Timestamp: parseWaTimestamp(msg.Timestamp),
	}
	if msg.Type == "text" && msg.Text != nil {
		inbound.Text = msg.Text.Body
	} else {
		inbound.MediaType = msg.Type
		if msg.Caption() != "" {
			inbound.Text = msg.Caption()
		}
	}

	w.logger.Info("whatsapp message received",
		"from", msg.From, "type", msg.Type, "message_id", msg.ID)
	w.bus.Publish(inbound)
}

// verifySignature checks the X-Hub-Signature-256 header.
func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// Send transmits a text message via the Cloud API. Implements domain.Sender.
func (w *WhatsApp) Send(ctx context.Context, to string, text string) error {
	start := time.Now()
	defer metrics.SendLatency.ObserveSince(start)

	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func parseWaTimestamp(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

// Cloud API webhook payload types.

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string   `json:"from"`
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Timestamp string   `json:"timestamp"`
	Text      *waText  `json:"text,omitempty"`
	Image     *waMedia `json:"image,omitempty"`
	Video     *waMedia `json:"video,omitempty"`
	Document  *waMedia `json:"document,omitempty"`
}

// Caption returns the attachment caption when one is present.
func (m waMessage) Caption() string {
	for _, media := range []*waMedia{m.Image, m.Video, m.Document} {
		if media != nil && media.Caption != "" {
			return media.Caption
		}
	}
	return ""
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption,omitempty"`
}
