package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"standin/internal/bus"
	"standin/internal/config"
	"standin/internal/domain"
)

func testBridge(appSecret string) (*WhatsApp, *bus.InMemoryBus) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(8, logger)
	w := NewWhatsApp(config.WhatsAppConfig{
		WebhookPath: "/webhook/whatsapp",
		VerifyToken: "verify-me",
		AppSecret:   appSecret,
	}, b, logger)
	return w, b
}

func TestVerification_Handshake(t *testing.T) {
	w, _ := testBridge("")
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "12345" {
		t.Fatalf("challenge should be echoed, got %q", body)
	}
}

func TestVerification_WrongTokenRejected(t *testing.T) {
	w, _ := testBridge("")
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

const textPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{"id": "1", "changes": [{"field": "messages", "value": {
		"messaging_product": "whatsapp",
		"messages": [{"from": "919900000000", "id": "wamid.x1", "type": "text",
			"timestamp": "1766300000", "text": {"body": "when home?"}}]
	}}]}]
}`

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestIncoming_TextMessagePublished(t *testing.T) {
	w, b := testBridge("")
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhook/whatsapp", "application/json", strings.NewReader(textPayload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	select {
	case msg := <-b.Subscribe():
		if msg.ID != "wamid.x1" || msg.Text != "when home?" || msg.ChatID != "919900000000" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.MediaType != "" {
			t.Fatalf("text message should have no media type, got %q", msg.MediaType)
		}
		if msg.Timestamp.Unix() != 1766300000 {
			t.Fatalf("timestamp should come from the payload, got %v", msg.Timestamp)
		}
	case <-time.After(time.Second):
		t.Fatal("message not published")
	}
}

func TestIncoming_SignatureEnforced(t *testing.T) {
	w, b := testBridge("topsecret")
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	// Missing signature is rejected.
	resp, err := http.Post(srv.URL+"/webhook/whatsapp", "application/json", strings.NewReader(textPayload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("unsigned payload should be rejected, got %d", resp.StatusCode)
	}

	// Valid signature is accepted.
	req, _ := http.NewRequest("POST", srv.URL+"/webhook/whatsapp", strings.NewReader(textPayload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", sign("topsecret", textPayload))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("signed POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signed payload should be accepted, got %d", resp.StatusCode)
	}

	select {
	case msg := <-b.Subscribe():
		if msg.ID != "wamid.x1" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("signed message not published")
	}
}

func TestIncoming_MediaMessageCarriesType(t *testing.T) {
	w, b := testBridge("")
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "1", "changes": [{"field": "messages", "value": {
			"messages": [
				{"from": "919900000000", "id": "wamid.v1", "type": "audio", "timestamp": "1766300001"},
				{"from": "919900000000", "id": "wamid.v2", "type": "image", "timestamp": "1766300002",
					"image": {"id": "media1", "caption": "look at this"}}
			]
		}}]}]
	}`

	resp, err := http.Post(srv.URL+"/webhook/whatsapp", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()

	first := <-b.Subscribe()
	if first.MediaType != "audio" || first.Text != "" {
		t.Fatalf("voice note should be media-only: %+v", first)
	}
	if !first.HasMediaOnly() {
		t.Fatal("voice note should report media-only")
	}

	second := <-b.Subscribe()
	if second.MediaType != "image" || second.Text != "look at this" {
		t.Fatalf("captioned image should carry caption text: %+v", second)
	}
	if second.HasMediaOnly() {
		t.Fatal("captioned image is not media-only")
	}
}

func TestIncoming_BadJSONRejected(t *testing.T) {
	w, _ := testBridge("")
	srv := httptest.NewServer(w.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/webhook/whatsapp", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSend_PostsToGraphAPI(t *testing.T) {
	var gotAuth, gotBody string
	api := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWhatsApp(config.WhatsAppConfig{
		AccessToken:   "tok123",
		PhoneNumberID: "555",
	}, bus.New(1, logger), logger)
	w.apiBase = api.URL

	if err := w.Send(context.Background(), "919900000000", "on my way"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	if !strings.Contains(gotBody, `"on my way"`) || !strings.Contains(gotBody, `"919900000000"`) {
		t.Fatalf("unexpected request body: %s", gotBody)
	}
}

var _ domain.Sender = (*WhatsApp)(nil)
