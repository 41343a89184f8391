package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/chat-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/chat-engine/internal/config"
	"github.com/wolfman30/chat-engine/internal/conversation"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

func TestSetupMetricsExposesEngineMetrics(t *testing.T) {
	handler, m := setupMetrics()
	if handler == nil || m == nil {
		t.Fatalf("expected non-nil handler and metrics")
	}

	m.ObserveWebhook("accepted")
	m.ObserveTurn("DONE", "greeting", "ok", 0.02)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "chatengine_messaging_inbound_webhook_total") {
		t.Fatalf("expected webhook counter to be exported")
	}
	if !strings.Contains(body, "chatengine_conversation_turns_total") {
		t.Fatalf("expected turn counter to be exported")
	}
}

func TestSetupInProcessWorkerSkippedForSQS(t *testing.T) {
	worker, err := setupInProcessWorker(&appconfig.Config{}, nil, nil, nil, nil, logging.New("error"))
	if err != nil || worker != nil {
		t.Fatalf("expected no in-process worker, got %v, %v", worker, err)
	}
}

func TestSetupInProcessWorkerMemoryQueue(t *testing.T) {
	cfg := &appconfig.Config{
		UseMemoryQueue:        true,
		WorkerCount:           1,
		WhatsAppAccessToken:   "token",
		WhatsAppPhoneNumberID: "1555",
	}
	logger := logging.New("error")
	stores, err := bootstrap.BuildStores(cfg, nil, nil, logger)
	if err != nil {
		t.Fatalf("build stores: %v", err)
	}
	worker, err := setupInProcessWorker(cfg, stores, nil, conversation.NewMemoryQueue(4), nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if worker == nil {
		t.Fatalf("expected worker")
	}
}

func TestHealthChecksIncludeRedis(t *testing.T) {
	if checks := healthChecks(nil, nil); len(checks) != 0 {
		t.Fatalf("expected no checks, got %d", len(checks))
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checks := healthChecks(nil, client)
	check, ok := checks["redis"]
	if !ok {
		t.Fatalf("expected redis check")
	}
	if err := check(context.Background()); err != nil {
		t.Fatalf("redis check: %v", err)
	}
}
