package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is the canonical transcript in Postgres. Every inbound and outbound message is written
// exactly once per (tenant_id, direction, message_id).
type Store struct {
	pool   Querier
	tracer trace.Tracer
}

var (
	_ conversation.MessageLog       = (*Store)(nil)
	_ conversation.TranscriptReader = (*Store)(nil)
)

// NewStore returns nil when pool is nil so callers can fall back to the in-memory log.
func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool, tracer: otel.Tracer("chatengine.internal.messaging.store")}
}

// Append inserts msg. A message that was already logged reports WriteDuplicate and changes nothing.
func (s *Store) Append(ctx context.Context, msg conversation.Message) (conversation.WriteResult, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.append")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatengine.direction", string(msg.Direction)),
		attribute.String("chatengine.message_id", msg.MessageID),
	)

	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversation_messages (
			tenant_id, conversation_id, direction, message_id, type, payload,
			provider_message_id, status, send_attempts, error_reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11)
		ON CONFLICT (tenant_id, direction, message_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		msg.TenantID, msg.ConversationID, string(msg.Direction), msg.MessageID, msg.Type, []byte(payload),
		msg.ProviderMessageID, msg.Status, msg.SendAttempts, msg.ErrorReason, createdAt,
	)
	if err != nil {
		span.RecordError(err)
		return conversation.WriteWritten, fmt.Errorf("messaging: append message: %w: %w", conversation.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return conversation.WriteDuplicate, nil
	}
	return conversation.WriteWritten, nil
}

// ListMessages returns the most recent limit messages of a conversation, oldest first. limit <= 0
// returns the full transcript.
func (s *Store) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]conversation.Message, error) {
	ctx, span := s.tracer.Start(ctx, "messaging.list_messages")
	defer span.End()

	query := `
		SELECT message_id, tenant_id, conversation_id, direction, type, payload,
			COALESCE(provider_message_id, ''), status, send_attempts, COALESCE(error_reason, ''), created_at
		FROM (
			SELECT *
			FROM conversation_messages
			WHERE tenant_id = $1 AND conversation_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT NULLIF($3, 0)
		) recent
		ORDER BY created_at ASC, id ASC
	`
	if limit < 0 {
		limit = 0
	}
	rows, err := s.pool.Query(ctx, query, tenantID, conversationID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("messaging: list messages: %w", err)
	}
	defer rows.Close()

	var out []conversation.Message
	for rows.Next() {
		var (
			m         conversation.Message
			direction string
			payload   []byte
		)
		if err := rows.Scan(&m.MessageID, &m.TenantID, &m.ConversationID, &direction, &m.Type, &payload,
			&m.ProviderMessageID, &m.Status, &m.SendAttempts, &m.ErrorReason, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan message: %w", err)
		}
		m.Direction = conversation.Direction(direction)
		m.Payload = json.RawMessage(payload)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging: iterate messages: %w", err)
	}
	return out, nil
}
