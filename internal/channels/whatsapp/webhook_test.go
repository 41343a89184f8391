package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

const testSecret = "test_app_secret"

type capturePublisher struct {
	events []conversation.InboundEvent
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, event conversation.InboundEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type countingObserver map[string]int

func (o countingObserver) ObserveWebhook(result string) { o[result]++ }

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const inboundPayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA_1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550000000", "phone_number_id": "PNID_1"},
        "contacts": [{"wa_id": "15550001111", "profile": {"name": "Ana Ruiz"}}],
        "messages": [
          {"from": "15550001111", "id": "wamid.A", "timestamp": "1773133200", "type": "text", "text": {"body": "book tomorrow"}},
          {"from": "15550001111", "id": "wamid.B", "timestamp": "1773133205", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "book_s2", "title": "Wed 2:00 PM", "description": "haircut"}}},
          {"from": "15550001111", "id": "wamid.C", "timestamp": "1773133210", "type": "image"}
        ]
      }
    }]
  }]
}`

func newTestWebhook(t *testing.T, pub EventPublisher) *WebhookHandler {
	t.Helper()
	tenants, err := NewTenantResolver(`{"PNID_1":"tenant-1"}`, "")
	if err != nil {
		t.Fatal(err)
	}
	return NewWebhookHandler("verify_me", testSecret, tenants, pub, nil)
}

func TestHandleInboundPublishesEvents(t *testing.T) {
	pub := &capturePublisher{}
	obs := countingObserver{}
	h := newTestWebhook(t, pub).WithObserver(obs)

	body := []byte(inboundPayload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(pub.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(pub.events))
	}

	text := pub.events[0]
	if text.TenantID != "tenant-1" || text.Text != "book tomorrow" || text.MessageID != "wamid.A" || text.ProfileName != "Ana Ruiz" {
		t.Fatalf("unexpected text event %+v", text)
	}
	list := pub.events[1]
	if list.Type != conversation.InboundTypeInteractive || list.Interactive == nil || list.Interactive.ID != "book_s2" {
		t.Fatalf("unexpected interactive event %+v", list)
	}
	if pub.events[2].Type != conversation.InboundTypeImage {
		t.Fatalf("expected image type to pass through, got %s", pub.events[2].Type)
	}
	if obs["accepted"] != 3 {
		t.Fatalf("expected 3 accepted observations, got %v", obs)
	}
}

func TestHandleInboundRejectsBadSignature(t *testing.T) {
	pub := &capturePublisher{}
	h := newTestWebhook(t, pub)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader([]byte(inboundPayload)))
	req.Header.Set("X-Hub-Signature-256", sign([]byte("other")))
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)

	if w.Code != http.StatusUnauthorized || len(pub.events) != 0 {
		t.Fatalf("expected 401 and nothing published, got %d (%d events)", w.Code, len(pub.events))
	}
}

func TestHandleInboundQueueFailureAsksForRedelivery(t *testing.T) {
	h := newTestWebhook(t, &capturePublisher{err: errors.New("sqs down")})

	body := []byte(inboundPayload)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestHandleInboundIgnoresStatusesAndUnknownNumbers(t *testing.T) {
	pub := &capturePublisher{}
	h := newTestWebhook(t, pub)

	body := []byte(`{"object":"whatsapp_business_account","entry":[{"id":"W","changes":[
		{"field":"messages","value":{"metadata":{"phone_number_id":"PNID_1"},"statuses":[{"id":"wamid.X","status":"delivered"}]}},
		{"field":"messages","value":{"metadata":{"phone_number_id":"PNID_9"},"messages":[{"from":"1","id":"m","type":"text","text":{"body":"hi"}}]}}
	]}]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	h.HandleInbound(w, req)

	if w.Code != http.StatusOK || len(pub.events) != 0 {
		t.Fatalf("expected 200 with nothing published, got %d (%d events)", w.Code, len(pub.events))
	}
}

func TestHandleVerification(t *testing.T) {
	h := newTestWebhook(t, &capturePublisher{})

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify_me&hub.challenge=CHALLENGE_123", nil)
	w := httptest.NewRecorder()
	h.HandleVerification(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "CHALLENGE_123" {
		t.Fatalf("expected challenge echo, got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=X", nil)
	w = httptest.NewRecorder()
	h.HandleVerification(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	valid := sign(body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{"valid signature", testSecret, body, valid, true},
		{"empty signature", testSecret, body, "", false},
		{"empty secret", "", body, valid, false},
		{"missing prefix", testSecret, body, valid[len("sha256="):], false},
		{"tampered body", testSecret, []byte(`tampered`), valid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTenantResolver(t *testing.T) {
	r, err := NewTenantResolver(`{"PNID_1":"tenant-1"}`, "fallback")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := r.Resolve("PNID_1"); !ok || got != "tenant-1" {
		t.Fatalf("expected mapped tenant, got %q", got)
	}
	if got, ok := r.Resolve("PNID_2"); !ok || got != "fallback" {
		t.Fatalf("expected fallback tenant, got %q", got)
	}
	if _, err := NewTenantResolver("{not json", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
