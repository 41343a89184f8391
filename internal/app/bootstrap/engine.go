package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/chat-engine/internal/bookings"
	"github.com/wolfman30/chat-engine/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/chat-engine/internal/config"
	"github.com/wolfman30/chat-engine/internal/conversation"
	"github.com/wolfman30/chat-engine/internal/directory"
	"github.com/wolfman30/chat-engine/internal/messaging"
	"github.com/wolfman30/chat-engine/internal/observability/metrics"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

// ConversationStore is both the engine's repository and the admin lookup.
type ConversationStore interface {
	conversation.ConversationRepository
	conversation.ConversationLookup
}

// Stores are the persistence pieces shared by the engine and the admin API.
type Stores struct {
	Conversations ConversationStore
	Messages      conversation.MessageStore
	Locker        conversation.Locker
}

// BuildStores selects Postgres stores when db is set and in-memory ones otherwise. With Redis the
// conversation lock is a Redis lease and transcripts are read through a Redis cache; without it
// the lock is process-local.
func BuildStores(cfg *appconfig.Config, db *Databases, redisClient *redis.Client, logger *logging.Logger) (*Stores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	stores := &Stores{}
	if db != nil && db.Pool != nil {
		stores.Conversations = conversation.NewConversationStore(db.Pool)
		stores.Messages = messaging.NewStore(db.Pool)
	} else {
		logger.Warn("no database configured; using in-memory conversation stores")
		stores.Conversations = conversation.NewMemoryConversationStore()
		stores.Messages = conversation.NewMemoryMessageLog()
	}

	if redisClient != nil {
		stores.Locker = conversation.NewRedisLocker(redisClient, cfg.LockTTL)
		stores.Messages = conversation.NewTranscriptCache(stores.Messages, redisClient, cfg.TranscriptCacheTTL, logger)
	} else {
		logger.Warn("redis not configured; conversation locks are process-local")
		stores.Locker = conversation.NewMemoryLocker()
	}
	return stores, nil
}

// BuildCollaborators wires the Postgres booking and directory adapters. Without a database the
// engine runs with no directory and every business action answers service_unavailable.
func BuildCollaborators(cfg *appconfig.Config, db *Databases, logger *logging.Logger) (conversation.Directory, conversation.Collaborators) {
	var collaborators conversation.Collaborators
	if db == nil || db.Pool == nil {
		return nil, collaborators
	}
	svc := bookings.NewService(bookings.NewRepository(db.Pool), logger, bookings.WithLocation(cfg.Location()))
	collaborators = conversation.Collaborators{
		Availability: svc,
		Booking:      svc,
		Schedule:     svc,
		CheckIn:      svc,
		Catalog:      svc,
	}
	if db.SQL == nil {
		return nil, collaborators
	}
	people := directory.NewRepository(db.SQL)
	collaborators.Loyalty = people
	return people, collaborators
}

// EngineDeps are the wired pieces BuildEngine assembles.
type EngineDeps struct {
	Stores        *Stores
	Directory     conversation.Directory
	Collaborators conversation.Collaborators
	Sender        conversation.ChannelSender
	Metrics       *metrics.EngineMetrics
}

// BuildEngine creates the conversation engine with timing settings from config.
func BuildEngine(cfg *appconfig.Config, deps EngineDeps, logger *logging.Logger) (*conversation.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Stores == nil {
		return nil, fmt.Errorf("bootstrap: stores are required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("bootstrap: channel sender is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	opts := []conversation.EngineOption{
		conversation.WithLogger(logger),
		conversation.WithLockWait(cfg.LockWait),
		conversation.WithTurnTimeout(cfg.TurnTimeout),
		conversation.WithPendingFlowTTL(cfg.PendingFlowTTL),
		conversation.WithTimezone(cfg.Location()),
	}
	if cfg.DirectoryRetryAttempts > 0 {
		opts = append(opts, conversation.WithDirectoryRetry(cfg.DirectoryRetryAttempts, 100*time.Millisecond))
	}
	if deps.Metrics != nil {
		opts = append(opts, conversation.WithObserver(deps.Metrics))
	}

	return conversation.NewEngine(conversation.EngineDeps{
		Directory:     deps.Directory,
		Conversations: deps.Stores.Conversations,
		Messages:      deps.Stores.Messages,
		Locker:        deps.Stores.Locker,
		Sender:        deps.Sender,
		Collaborators: deps.Collaborators,
		Vocabulary:    conversation.DefaultVocabulary,
	}, opts...), nil
}

// BuildChannelSender returns the WhatsApp Cloud API client wrapped in bounded send retries.
func BuildChannelSender(cfg *appconfig.Config, logger *logging.Logger) (conversation.ChannelSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if strings.TrimSpace(cfg.WhatsAppAccessToken) == "" || strings.TrimSpace(cfg.WhatsAppPhoneNumberID) == "" {
		return nil, fmt.Errorf("bootstrap: WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID are required")
	}
	client := whatsapp.NewClient(cfg.WhatsAppAccessToken, cfg.WhatsAppPhoneNumberID)
	if base := strings.TrimSpace(cfg.WhatsAppGraphBaseURL); base != "" {
		client.SetGraphAPIBase(base)
	}
	return messaging.NewRetrySender(client, cfg.SendMaxAttempts, cfg.SendBaseDelay, logger), nil
}

// BuildWebhookHandler wires WhatsApp webhook verification and ingestion onto publisher.
func BuildWebhookHandler(cfg *appconfig.Config, publisher whatsapp.EventPublisher, m *metrics.EngineMetrics, logger *logging.Logger) (*whatsapp.WebhookHandler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	tenants, err := whatsapp.NewTenantResolver(cfg.WhatsAppTenantMapJSON, cfg.DefaultTenantID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	if cfg.WhatsAppAppSecret == "" && logger != nil {
		logger.Warn("WHATSAPP_APP_SECRET not set; signed webhook deliveries will be rejected")
	}
	handler := whatsapp.NewWebhookHandler(cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, tenants, publisher, logger)
	if m != nil {
		handler = handler.WithObserver(m)
	}
	return handler, nil
}

// BuildWorker creates the inbound worker pool over queue.
func BuildWorker(cfg *appconfig.Config, handler conversation.InboundHandler, queue conversation.Queue, logger *logging.Logger) *conversation.Worker {
	return conversation.NewWorker(handler, queue, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithMaxDeliveryAttempts(cfg.MaxDeliveryAttempts),
	)
}
