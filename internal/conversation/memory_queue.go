package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by MemoryQueue.Send after Close.
var ErrQueueClosed = errors.New("conversation: queue closed")

// MemoryQueue is a Queue backed by a buffered channel. Delayed sends are delivered by a
// goroutine, so a requeued job does not block the worker that requeued it.
type MemoryQueue struct {
	ch        chan QueueMessage
	done      chan struct{}
	closeOnce sync.Once
	pending   sync.WaitGroup
}

// NewMemoryQueue creates a MemoryQueue with the provided buffer capacity.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryQueue{ch: make(chan QueueMessage, buffer), done: make(chan struct{})}
}

// Send enqueues body after delay. Immediate sends block until there is room or ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string, delay time.Duration) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	msg := QueueMessage{ID: uuid.NewString(), Body: body, ReceiptHandle: uuid.NewString()}
	if delay > 0 {
		q.pending.Add(1)
		go q.deliverAfter(delay, msg)
		return nil
	}
	select {
	case q.ch <- msg:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) deliverAfter(delay time.Duration, msg QueueMessage) {
	defer q.pending.Done()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.done:
		return
	}
	select {
	case q.ch <- msg:
	case <-q.done:
	}
}

// Close stops accepting sends and abandons delayed deliveries that have not landed yet. It
// waits for their goroutines to exit.
func (q *MemoryQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
	q.pending.Wait()
}

// Receive waits up to waitSeconds (forever when 0) for at least one message.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, nil
	case first := <-q.ch:
		batch := []QueueMessage{first}
		for len(batch) < maxMessages {
			select {
			case msg := <-q.ch:
				batch = append(batch, msg)
			default:
				return batch, nil
			}
		}
		return batch, nil
	}
}

// Delete is a no-op; received messages are already gone from the channel.
func (q *MemoryQueue) Delete(context.Context, string) error {
	return nil
}

// Len reports how many messages are waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
