package conversation

import (
	"context"
	"sort"
	"sync"
)

// TranscriptReader lists logged messages of a conversation in transcript order.
type TranscriptReader interface {
	ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]Message, error)
}

// MemoryMessageLog is an in-process MessageLog with the same dedup rules as the Postgres log.
type MemoryMessageLog struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	messages []Message
}

// NewMemoryMessageLog creates an empty log.
func NewMemoryMessageLog() *MemoryMessageLog {
	return &MemoryMessageLog{seen: make(map[string]struct{})}
}

// Append implements MessageLog.
func (l *MemoryMessageLog) Append(_ context.Context, msg Message) (WriteResult, error) {
	key := msg.TenantID + "|" + string(msg.Direction) + "|" + msg.MessageID
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[key]; dup {
		return WriteDuplicate, nil
	}
	l.seen[key] = struct{}{}
	l.messages = append(l.messages, msg)
	return WriteWritten, nil
}

// ListMessages implements TranscriptReader. limit <= 0 returns everything.
func (l *MemoryMessageLog) ListMessages(_ context.Context, tenantID, conversationID string, limit int) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Message
	for _, m := range l.messages {
		if m.TenantID == tenantID && m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Messages returns a snapshot of everything logged.
func (l *MemoryMessageLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...)
}
