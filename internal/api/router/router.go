package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/chat-engine/internal/channels/whatsapp"
	"github.com/wolfman30/chat-engine/internal/conversation"
	httpmiddleware "github.com/wolfman30/chat-engine/internal/http/middleware"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	WhatsApp            *whatsapp.WebhookHandler
	ConversationHandler *conversation.Handler
	AdminAuthSecret     string
	MetricsHandler      http.Handler
	WebhookLimiter      *httpmiddleware.RateLimiter
	HealthChecks        map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WhatsApp != nil {
			public.Route("/webhooks/whatsapp", func(wh chi.Router) {
				if cfg.WebhookLimiter != nil {
					wh.Use(httpmiddleware.RateLimit(cfg.WebhookLimiter, cfg.Logger))
				}
				wh.Get("/", cfg.WhatsApp.HandleVerification)
				wh.Post("/", cfg.WhatsApp.HandleInbound)
			})
		}
	})

	if cfg.AdminAuthSecret != "" && cfg.ConversationHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(middleware.Compress(5))
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Route("/conversations/{tenantID}/{address}", func(conv chi.Router) {
				conv.Use(tenantFromPath("tenantID"))
				conv.Use(httpmiddleware.RequireTenant(tenantFromRequest))
				conv.Get("/", cfg.ConversationHandler.GetConversation)
				conv.Get("/messages", cfg.ConversationHandler.GetTranscript)
			})
		})
	}

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				if resp.Checks == nil {
					resp.Checks = map[string]string{}
				}
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
