package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/chat-engine/internal/channels/whatsapp"
	"github.com/wolfman30/chat-engine/internal/conversation"
	httpmiddleware "github.com/wolfman30/chat-engine/internal/http/middleware"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

const testAdminSecret = "admin-secret"

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, conversation.InboundEvent) error { return nil }

func newTestRouter(t *testing.T, checks map[string]HealthCheck) http.Handler {
	t.Helper()

	logger := logging.Default()
	conversations := conversation.NewMemoryConversationStore()
	conv, err := conversations.GetOrCreate(context.Background(), "tenant-1", "15550001111", conversation.Sender{Role: conversation.RoleCustomer})
	require.NoError(t, err)

	transcripts := conversation.NewMemoryMessageLog()
	_, err = transcripts.Append(context.Background(), conversation.Message{
		MessageID:      "wamid.A",
		TenantID:       "tenant-1",
		ConversationID: conv.ID,
		Direction:      conversation.DirectionInbound,
		Type:           "text",
		Payload:        json.RawMessage(`{"text":"hi"}`),
		Status:         "received",
	})
	require.NoError(t, err)

	tenants, err := whatsapp.NewTenantResolver(`{"PNID_1":"tenant-1"}`, "")
	require.NoError(t, err)

	return New(&Config{
		Logger:              logger,
		WhatsApp:            whatsapp.NewWebhookHandler("verify_me", "app-secret", tenants, noopPublisher{}, logger),
		ConversationHandler: conversation.NewHandler(conversations, transcripts, logger),
		AdminAuthSecret:     testAdminSecret,
		WebhookLimiter:      httpmiddleware.NewRateLimiter(0, 1),
		HealthChecks:        checks,
	})
}

func adminToken(t *testing.T, tenants ...string) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{
		Tenants: tenants,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAdminSecret))
	require.NoError(t, err)
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "ok", resp.Status)
}

func TestRouterHealthDegraded(t *testing.T) {
	router := newTestRouter(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Equal(t, "degraded", resp.Status)
	require.Contains(t, resp.Checks, "redis")
	require.NotContains(t, resp.Checks, "postgres")
}

func TestRouterWhatsAppVerification(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify_me&hub.challenge=42", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "42", rr.Body.String())

	// Limiter allows a burst of one per IP.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe", nil))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRouterAdminTranscript(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/conversations/tenant-1/15550001111/messages", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "tenant-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp conversation.TranscriptResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "wamid.A", resp.Messages[0].MessageID)
}

func TestRouterAdminAuthorization(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"other tenant", adminToken(t, "tenant-2"), http.StatusForbidden},
		{"all tenants", adminToken(t), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/conversations/tenant-1/15550001111", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			require.Equal(t, tt.want, rr.Code)
		})
	}
}
