package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultLockTTL   = 30 * time.Second
	lockPollInterval = 50 * time.Millisecond
)

// releaseScript deletes the lease only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockKey is the per-conversation lock key.
func LockKey(tenantID, address string) string {
	return fmt.Sprintf("conversation_lock:%s:%s", tenantID, address)
}

// RedisLocker hands out per-conversation leases stored in Redis with SET NX PX. A crashed
// holder's lease expires after the TTL.
type RedisLocker struct {
	redis  *redis.Client
	ttl    time.Duration
	poll   time.Duration
	tracer trace.Tracer
}

// NewRedisLocker builds a locker. ttl <= 0 uses 30s.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{
		redis:  client,
		ttl:    ttl,
		poll:   lockPollInterval,
		tracer: otel.Tracer("chatengine.internal.conversation.locker"),
	}
}

// Acquire polls until the lease is taken or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	ctx, span := l.tracer.Start(ctx, "conversation.lock_acquire")
	defer span.End()

	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		acquired, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("conversation: acquire %s: %w", key, ErrLockNotAcquired)
			}
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: acquire %s: %w: %w", key, ErrLockNotAcquired, err)
		}
		if acquired {
			return &redisLease{redis: l.redis, key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("conversation: acquire %s: %w", key, ErrLockNotAcquired)
		case <-ticker.C:
		}
	}
}

type redisLease struct {
	redis *redis.Client
	key   string
	token string
	once  sync.Once
	err   error
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := releaseScript.Run(ctx, l.redis, []string{l.key}, l.token).Err(); err != nil {
			l.err = fmt.Errorf("conversation: release %s: %w", l.key, err)
		}
	})
	return l.err
}

// MemoryLocker is a process-local Locker for tests and single-instance runs. A key's slot is
// dropped once nobody holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*memorySlot
}

type memorySlot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*memorySlot)}
}

func (l *MemoryLocker) join(key string) *memorySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &memorySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *MemoryLocker) leave(key string, slot *memorySlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 && l.slots[key] == slot {
		delete(l.slots, key)
	}
}

// Acquire blocks until the key is free or ctx is done.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	slot := l.join(key)
	select {
	case slot.ch <- struct{}{}:
		return &memoryLease{locker: l, key: key, slot: slot}, nil
	case <-ctx.Done():
		l.leave(key, slot)
		return nil, fmt.Errorf("conversation: acquire %s: %w", key, ErrLockNotAcquired)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *MemoryLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	slot   *memorySlot
	once   sync.Once
}

func (l *memoryLease) Release(context.Context) error {
	l.once.Do(func() {
		<-l.slot.ch
		l.locker.leave(l.key, l.slot)
	})
	return nil
}
