package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/chat-engine/pkg/logging"
)

const (
	defaultTranscriptLimit = 50
	maxTranscriptLimit     = 500
)

// ConversationLookup reads a conversation without creating it.
type ConversationLookup interface {
	Get(ctx context.Context, tenantID, address string) (*Conversation, error)
}

// Handler serves the read-only admin view of conversations.
type Handler struct {
	conversations ConversationLookup
	transcripts   TranscriptReader
	logger        *logging.Logger
}

// NewHandler creates an admin conversation handler.
func NewHandler(conversations ConversationLookup, transcripts TranscriptReader, logger *logging.Logger) *Handler {
	if conversations == nil {
		panic("conversation: conversation lookup cannot be nil")
	}
	if transcripts == nil {
		panic("conversation: transcript reader cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{conversations: conversations, transcripts: transcripts, logger: logger}
}

// TranscriptResponse is the body of GET .../messages.
type TranscriptResponse struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// GetConversation handles GET /admin/conversations/{tenantID}/{address}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

// GetTranscript handles GET /admin/conversations/{tenantID}/{address}/messages?limit=N.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookup(w, r)
	if !ok {
		return
	}

	limit := defaultTranscriptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	messages, err := h.transcripts.ListMessages(r.Context(), conv.TenantID, conv.ID, limit)
	if err != nil {
		h.logger.Error("failed to list transcript", "conversation_id", conv.ID, "error", err)
		http.Error(w, "Failed to load transcript", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []Message{}
	}
	h.writeJSON(w, http.StatusOK, TranscriptResponse{ConversationID: conv.ID, Messages: messages})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*Conversation, bool) {
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	address := NormalizeAddress(chi.URLParam(r, "address"))
	if tenantID == "" || address == "" {
		http.Error(w, "tenantID and address are required", http.StatusBadRequest)
		return nil, false
	}

	conv, err := h.conversations.Get(r.Context(), tenantID, address)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load conversation", "tenant_id", tenantID, "error", err)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
