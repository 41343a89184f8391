package bootstrap

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	appconfig "github.com/wolfman30/chat-engine/internal/config"
	"github.com/wolfman30/chat-engine/internal/conversation"
	"github.com/wolfman30/chat-engine/internal/messaging"
	"github.com/wolfman30/chat-engine/internal/observability/metrics"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

type stubSender struct {
	mu      sync.Mutex
	replies []conversation.Reply
}

func (s *stubSender) Send(_ context.Context, _ string, reply conversation.Reply) (conversation.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, reply)
	return conversation.SendResult{ProviderMessageID: "wamid.out", Attempts: 1}, nil
}

func testConfig(t *testing.T, redisAddr string) *appconfig.Config {
	t.Helper()
	t.Setenv("REDIS_ADDR", redisAddr)
	t.Setenv("DATABASE_URL", "")
	return appconfig.Load()
}

func TestBuildRedisClientVerifiesConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())

	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected redis client")
	}
	defer client.Close()

	mr.Close()
	if down := BuildRedisClient(context.Background(), cfg, logging.New("error"), true); down != nil {
		t.Fatalf("expected nil client when redis is unreachable")
	}
}

func TestBuildRedisClientDisabled(t *testing.T) {
	if BuildRedisClient(context.Background(), nil, nil, false) != nil {
		t.Fatalf("expected nil client for nil config")
	}
	if BuildRedisClient(context.Background(), &appconfig.Config{}, nil, false) != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
}

func TestBuildDatabasesWithoutURL(t *testing.T) {
	if _, err := BuildDatabases(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	dbs, err := BuildDatabases(context.Background(), &appconfig.Config{}, nil)
	if err != nil || dbs != nil {
		t.Fatalf("expected (nil, nil) without DATABASE_URL, got %v, %v", dbs, err)
	}
	dbs.Close()
}

func TestBuildEngineInMemoryWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr.Addr())
	logger := logging.New("error")
	client := BuildRedisClient(context.Background(), cfg, logger, true)
	if client == nil {
		t.Fatalf("expected redis client")
	}
	defer client.Close()

	stores, err := BuildStores(cfg, nil, client, logger)
	if err != nil {
		t.Fatalf("build stores: %v", err)
	}
	if _, ok := stores.Locker.(*conversation.RedisLocker); !ok {
		t.Fatalf("expected redis locker, got %T", stores.Locker)
	}
	dir, collaborators := BuildCollaborators(cfg, nil, logger)
	if dir != nil || collaborators.Booking != nil {
		t.Fatalf("expected no collaborators without a database")
	}

	sender := &stubSender{}
	engine, err := BuildEngine(cfg, EngineDeps{
		Stores:        stores,
		Directory:     dir,
		Collaborators: collaborators,
		Sender:        sender,
		Metrics:       metrics.NewEngineMetrics(prometheus.NewRegistry()),
	}, logger)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	ctx := context.Background()
	event := conversation.InboundEvent{TenantID: "t1", From: "15550001111", Text: "hello", MessageID: "wamid.1", Type: "text"}
	res, err := engine.HandleInbound(ctx, event)
	if err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if !res.Sent || res.ConversationID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	again, err := engine.HandleInbound(ctx, event)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !again.Duplicate {
		t.Fatalf("expected duplicate on redelivery")
	}

	msgs, err := stores.Messages.ListMessages(ctx, "t1", res.ConversationID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected inbound and reply in transcript, got %d", len(msgs))
	}
	if len(sender.replies) != 1 {
		t.Fatalf("expected one reply sent, got %d", len(sender.replies))
	}
}

func TestBuildStoresWithoutRedisUsesMemoryLocker(t *testing.T) {
	stores, err := BuildStores(&appconfig.Config{}, nil, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("build stores: %v", err)
	}
	if _, ok := stores.Locker.(*conversation.MemoryLocker); !ok {
		t.Fatalf("expected memory locker, got %T", stores.Locker)
	}
	if _, ok := stores.Messages.(*conversation.MemoryMessageLog); !ok {
		t.Fatalf("expected memory message log, got %T", stores.Messages)
	}
}

func TestBuildEngineRequiresDependencies(t *testing.T) {
	if _, err := BuildEngine(nil, EngineDeps{}, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := BuildEngine(&appconfig.Config{}, EngineDeps{Sender: &stubSender{}}, nil); err == nil {
		t.Fatalf("expected error without stores")
	}
	stores, _ := BuildStores(&appconfig.Config{}, nil, nil, logging.New("error"))
	if _, err := BuildEngine(&appconfig.Config{}, EngineDeps{Stores: stores}, nil); err == nil {
		t.Fatalf("expected error without sender")
	}
}

func TestBuildChannelSender(t *testing.T) {
	if _, err := BuildChannelSender(&appconfig.Config{}, nil); err == nil {
		t.Fatalf("expected error without credentials")
	}
	sender, err := BuildChannelSender(&appconfig.Config{
		WhatsAppAccessToken:   "token",
		WhatsAppPhoneNumberID: "1555",
		WhatsAppGraphBaseURL:  "http://127.0.0.1:9",
	}, nil)
	if err != nil {
		t.Fatalf("build sender: %v", err)
	}
	if _, ok := sender.(*messaging.RetrySender); !ok {
		t.Fatalf("expected retry sender, got %T", sender)
	}
}

func TestBuildWebhookHandlerRejectsBadTenantMap(t *testing.T) {
	cfg := &appconfig.Config{WhatsAppTenantMapJSON: "{not json"}
	if _, err := BuildWebhookHandler(cfg, nil, nil, nil); err == nil {
		t.Fatalf("expected tenant map error")
	}
}
