package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/chat-engine/pkg/logging"
)

// Queue carries serialized inbound jobs between the webhook and the worker pool. MemoryQueue
// and SQSQueue implement it.
type Queue interface {
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received job.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// inboundJob is the queued form of an inbound event. Attempt starts at 1 and grows with every
// requeue.
type inboundJob struct {
	ID         string       `json:"id"`
	Attempt    int          `json:"attempt"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
	Event      InboundEvent `json:"event"`
}

func encodeJob(job inboundJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("conversation: failed to encode job: %w", err)
	}
	return string(body), nil
}

func decodeJob(body string) (inboundJob, error) {
	var job inboundJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return inboundJob{}, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	return job, nil
}

// Publisher enqueues inbound events for the worker pool so webhooks can be acknowledged
// immediately.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
	now    func() time.Time
}

// NewPublisher wraps a queue (MemoryQueue or SQSQueue).
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger, now: time.Now}
}

// Publish enqueues one inbound event.
func (p *Publisher) Publish(ctx context.Context, event InboundEvent) error {
	body, err := encodeJob(inboundJob{EnqueuedAt: p.now().UTC(), Event: event})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body, 0); err != nil {
		return fmt.Errorf("conversation: publish inbound: %w", err)
	}
	p.logger.Debug("conversation: inbound event queued",
		"tenant_id", event.TenantID,
		"message_id", event.MessageID,
	)
	return nil
}
