package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/chat-engine/pkg/logging"
)

const defaultTranscriptTTL = 2 * time.Minute

// MessageStore is the canonical log: it accepts appends and serves transcripts.
type MessageStore interface {
	MessageLog
	TranscriptReader
}

// TranscriptCache fronts a MessageStore with a short-lived Redis copy of recent transcripts.
// Appends go straight to the store and invalidate the cached copy.
type TranscriptCache struct {
	store  MessageStore
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
}

// NewTranscriptCache wraps store. ttl <= 0 uses two minutes.
func NewTranscriptCache(store MessageStore, client *redis.Client, ttl time.Duration, logger *logging.Logger) *TranscriptCache {
	if store == nil {
		panic("conversation: message store cannot be nil")
	}
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTranscriptTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TranscriptCache{
		store:  store,
		redis:  client,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("chatengine.internal.conversation.transcript"),
	}
}

func transcriptKey(tenantID, conversationID string) string {
	return fmt.Sprintf("transcript:%s:%s", tenantID, conversationID)
}

// Append writes through to the store and drops the cached transcript.
func (c *TranscriptCache) Append(ctx context.Context, msg Message) (WriteResult, error) {
	res, err := c.store.Append(ctx, msg)
	if err != nil || res == WriteDuplicate {
		return res, err
	}
	if delErr := c.redis.Del(ctx, transcriptKey(msg.TenantID, msg.ConversationID)).Err(); delErr != nil {
		c.logger.Warn("conversation: transcript cache invalidation failed",
			"conversation_id", msg.ConversationID,
			"error", delErr,
		)
	}
	return res, nil
}

// ListMessages serves the full transcript from Redis when present and trims it to limit.
func (c *TranscriptCache) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]Message, error) {
	ctx, span := c.tracer.Start(ctx, "conversation.list_transcript")
	defer span.End()

	key := transcriptKey(tenantID, conversationID)
	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []Message
		if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
			return tail(cached, limit), nil
		}
	case !errors.Is(err, redis.Nil):
		span.RecordError(err)
		c.logger.Warn("conversation: transcript cache read failed", "conversation_id", conversationID, "error", err)
	}

	messages, err := c.store.ListMessages(ctx, tenantID, conversationID, 0)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list transcript: %w", err)
	}
	if encoded, jsonErr := json.Marshal(messages); jsonErr == nil {
		if setErr := c.redis.Set(ctx, key, encoded, c.ttl).Err(); setErr != nil {
			c.logger.Warn("conversation: transcript cache write failed", "conversation_id", conversationID, "error", setErr)
		}
	}
	return tail(messages, limit), nil
}

func tail(messages []Message, limit int) []Message {
	if limit > 0 && len(messages) > limit {
		return messages[len(messages)-limit:]
	}
	return messages
}
