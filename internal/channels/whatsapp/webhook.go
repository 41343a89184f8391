package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wolfman30/chat-engine/internal/conversation"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

const maxWebhookBody = 1 << 20

// EventPublisher hands parsed events to the processing pipeline. conversation.Publisher
// implements it.
type EventPublisher interface {
	Publish(ctx context.Context, event conversation.InboundEvent) error
}

// WebhookObserver counts webhook outcomes. metrics.EngineMetrics implements it.
type WebhookObserver interface {
	ObserveWebhook(result string)
}

// WebhookHandler handles WhatsApp webhook verification and inbound messages.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	tenants     *TenantResolver
	publisher   EventPublisher
	observer    WebhookObserver
	logger      *logging.Logger
}

// NewWebhookHandler creates a webhook handler that publishes every parsed message.
func NewWebhookHandler(verifyToken, appSecret string, tenants *TenantResolver, publisher EventPublisher, logger *logging.Logger) *WebhookHandler {
	if publisher == nil {
		panic("whatsapp: event publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		tenants:     tenants,
		publisher:   publisher,
		logger:      logger,
	}
}

// WithObserver attaches webhook metrics.
func (h *WebhookHandler) WithObserver(obs WebhookObserver) *WebhookHandler {
	h.observer = obs
	return h
}

func (h *WebhookHandler) observe(result string) {
	if h.observer != nil {
		h.observer.ObserveWebhook(result)
	}
}

// HandleVerification handles the GET webhook verification challenge from Meta.
func (h *WebhookHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && hmac.Equal([]byte(token), []byte(h.verifyToken)) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	http.Error(w, "Forbidden", http.StatusForbidden)
}

// HandleInbound handles POST webhook events. Events are queued before answering 200; a queue
// failure answers 500 so Meta redelivers, and redeliveries are deduplicated downstream.
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.observe("bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		h.observe("unauthorized")
		h.logger.SecurityEvent("whatsapp: webhook signature rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.observe("bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	for _, parsed := range h.parse(event) {
		if err := h.publisher.Publish(r.Context(), parsed); err != nil {
			h.observe("publish_failed")
			h.logger.Error("whatsapp: failed to queue inbound message",
				"tenant_id", parsed.TenantID,
				"message_id", parsed.MessageID,
				"error", err,
			)
			http.Error(w, "Temporarily unavailable", http.StatusInternalServerError)
			return
		}
		h.observe("accepted")
	}
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) parse(event WebhookEvent) []conversation.InboundEvent {
	var out []conversation.InboundEvent
	for _, change := range changes(event) {
		tenantID, ok := h.tenants.Resolve(change.Metadata.PhoneNumberID)
		if !ok {
			h.logger.Warn("whatsapp: no tenant for business number",
				"phone_number_id", change.Metadata.PhoneNumberID,
				"messages", len(change.Messages),
			)
			continue
		}
		out = append(out, ParseMessages(tenantID, change)...)
	}
	return out
}

func changes(event WebhookEvent) []ChangeValue {
	var out []ChangeValue
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			if change.Field != "" && change.Field != "messages" {
				continue
			}
			if len(change.Value.Messages) == 0 {
				continue
			}
			out = append(out, change.Value)
		}
	}
	return out
}

// ParseMessages converts the messages of one change into engine events. Status receipts are
// ignored.
func ParseMessages(tenantID string, value ChangeValue) []conversation.InboundEvent {
	names := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		names[c.WaID] = c.Profile.Name
	}

	out := make([]conversation.InboundEvent, 0, len(value.Messages))
	for _, m := range value.Messages {
		event := conversation.InboundEvent{
			TenantID:    tenantID,
			From:        m.From,
			MessageID:   m.ID,
			Timestamp:   m.Timestamp,
			ProfileName: names[m.From],
			Type:        m.Type,
		}
		switch m.Type {
		case "text":
			if m.Text != nil {
				event.Text = m.Text.Body
			}
		case "interactive":
			event.Interactive = interactive(m.Interactive)
		case "button":
			if m.Button != nil {
				event.Type = conversation.InboundTypeInteractive
				event.Interactive = &conversation.Interactive{Type: "button", ID: m.Button.Payload, Title: m.Button.Text}
			}
		}
		out = append(out, event)
	}
	return out
}

func interactive(in *InteractiveInbound) *conversation.Interactive {
	if in == nil {
		return nil
	}
	item := in.ButtonReply
	if in.ListReply != nil {
		item = in.ListReply
	}
	if item == nil {
		return nil
	}
	return &conversation.Interactive{Type: in.Type, ID: item.ID, Title: item.Title, Description: item.Description}
}

// VerifySignature verifies the X-Hub-Signature-256 header.
func VerifySignature(appSecret string, body []byte, signature string) bool {
	if appSecret == "" || signature == "" {
		return false
	}

	// Signature format: "sha256=<hex>"
	const prefix = "sha256="
	if len(signature) <= len(prefix) || signature[:len(prefix)] != prefix {
		return false
	}
	sigHex := signature[len(prefix):]

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sigHex))
}
