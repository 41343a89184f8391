package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConversationStore persists conversations in PostgreSQL keyed by (tenant_id, channel_address).
type ConversationStore struct {
	db     rowQuerier
	tracer trace.Tracer
}

// NewConversationStore creates a Postgres-backed conversation store.
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return newConversationStoreWithQuerier(pool)
}

func newConversationStoreWithQuerier(db rowQuerier) *ConversationStore {
	if db == nil {
		panic("conversation: querier required")
	}
	return &ConversationStore{db: db, tracer: otel.Tracer("chatengine.internal.conversation.store")}
}

const upsertConversationSQL = `
	INSERT INTO conversations (id, tenant_id, channel_address, sender_role_last_seen, context)
	VALUES ($1, $2, $3, $4, '{}'::jsonb)
	ON CONFLICT (tenant_id, channel_address)
	DO UPDATE SET sender_role_last_seen = EXCLUDED.sender_role_last_seen,
		updated_at = now()
	RETURNING id, tenant_id, channel_address, sender_role_last_seen, created_at, context
`

// GetOrCreate returns the canonical conversation for the address, creating it on first contact.
// Concurrent callers racing on creation all receive the same row.
func (s *ConversationStore) GetOrCreate(ctx context.Context, tenantID, address string, sender Sender) (*Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.get_or_create")
	defer span.End()

	row := s.db.QueryRow(ctx, upsertConversationSQL, uuid.New(), tenantID, address, string(sender.Role))
	conv, err := scanConversation(row)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: get or create: %w: %w", ErrPersistence, err)
	}
	return conv, nil
}

// Save writes the conversation's context and last seen role.
func (s *ConversationStore) Save(ctx context.Context, conv *Conversation) error {
	ctx, span := s.tracer.Start(ctx, "conversation.save")
	defer span.End()

	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation: save: %w: missing conversation id", ErrPersistence)
	}
	data, err := json.Marshal(conv.Context)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: encode context: %w", err)
	}

	query := `
		UPDATE conversations
		SET sender_role_last_seen = $2, context = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, query, conv.ID, string(conv.SenderRoleLastSeen), data)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: save: %w: %w", ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation: save %s: %w: %w", conv.ID, ErrPersistence, ErrNotFound)
	}
	return nil
}

// Get loads a conversation without creating it. It returns ErrNotFound for unknown addresses.
func (s *ConversationStore) Get(ctx context.Context, tenantID, address string) (*Conversation, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.get")
	defer span.End()

	query := `
		SELECT id, tenant_id, channel_address, sender_role_last_seen, created_at, context
		FROM conversations
		WHERE tenant_id = $1 AND channel_address = $2
	`
	conv, err := scanConversation(s.db.QueryRow(ctx, query, tenantID, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: get: %w", err)
	}
	return conv, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv    Conversation
		role    string
		rawCtx  []byte
		created time.Time
	)
	if err := row.Scan(&conv.ID, &conv.TenantID, &conv.ChannelAddress, &role, &created, &rawCtx); err != nil {
		return nil, err
	}
	conv.SenderRoleLastSeen = Role(role)
	conv.CreatedAt = created.UTC()
	if len(rawCtx) > 0 {
		if err := json.Unmarshal(rawCtx, &conv.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	return &conv, nil
}

// MemoryConversationStore is an in-process ConversationRepository for tests and local runs.
type MemoryConversationStore struct {
	mu    sync.Mutex
	byKey map[string]*Conversation
	now   func() time.Time
}

// NewMemoryConversationStore creates an empty in-memory store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{byKey: make(map[string]*Conversation), now: time.Now}
}

func memoryKey(tenantID, address string) string {
	return tenantID + "|" + address
}

// GetOrCreate implements ConversationRepository.
func (s *MemoryConversationStore) GetOrCreate(_ context.Context, tenantID, address string, sender Sender) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(tenantID, address)
	conv, ok := s.byKey[key]
	if !ok {
		conv = &Conversation{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			ChannelAddress: address,
			CreatedAt:      s.now().UTC(),
		}
		s.byKey[key] = conv
	}
	conv.SenderRoleLastSeen = sender.Role
	out := *conv
	return &out, nil
}

// Save implements ConversationRepository.
func (s *MemoryConversationStore) Save(_ context.Context, conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation: save: %w: nil conversation", ErrPersistence)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey(conv.TenantID, conv.ChannelAddress)
	existing, ok := s.byKey[key]
	if !ok || existing.ID != conv.ID {
		return fmt.Errorf("conversation: save %s: %w: %w", conv.ID, ErrPersistence, ErrNotFound)
	}
	stored := *conv
	s.byKey[key] = &stored
	return nil
}

// Get returns a copy of the stored conversation or ErrNotFound.
func (s *MemoryConversationStore) Get(_ context.Context, tenantID, address string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byKey[memoryKey(tenantID, address)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *conv
	return &out, nil
}
