package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/chat-engine/pkg/logging"
)

const (
	defaultWorkerCount    = 2
	defaultWaitSeconds    = 2
	defaultBatchSize      = 5
	maxWaitSeconds        = 20
	maxReceiveBatchSize   = 10
	defaultMaxAttempts    = 5
	defaultRequeueBackoff = time.Second
	maxRequeueBackoff     = 30 * time.Second
	deleteTimeout         = 5 * time.Second
)

// InboundHandler processes queued events. *Engine implements it.
type InboundHandler interface {
	HandleInbound(ctx context.Context, event InboundEvent) (TurnResult, error)
	Apologize(ctx context.Context, event InboundEvent) error
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	maxAttempts      int
	requeueBackoff   time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait for each receive call.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize overrides how many messages each poll may return.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithMaxDeliveryAttempts caps how often a retryable event is requeued.
func WithMaxDeliveryAttempts(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.maxAttempts = n
		}
	}
}

// WithRequeueBackoff sets the base delay before a requeued event becomes visible again.
func WithRequeueBackoff(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d >= 0 {
			cfg.requeueBackoff = d
		}
	}
}

// Worker consumes inbound jobs and runs them through the engine. Events that fail with a
// retryable error are requeued with a growing delay.
type Worker struct {
	handler InboundHandler
	queue   Queue
	logger  *logging.Logger
	cfg     workerConfig
	wg      sync.WaitGroup
}

// NewWorker builds a worker pool over queue.
func NewWorker(handler InboundHandler, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: inbound handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
		requeueBackoff:   defaultRequeueBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{handler: handler, queue: queue, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("conversation worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg QueueMessage) {
	if w.processMessage(ctx, msg) {
		w.deleteMessage(msg.ReceiptHandle)
	}
}

// processMessage reports whether the received message is finished with and may be deleted.
// A retryable job whose requeue failed is kept so the queue redelivers it.
func (w *Worker) processMessage(ctx context.Context, msg QueueMessage) bool {
	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("dropping undecodable conversation job", "error", err, "msg_id", msg.ID)
		return true
	}

	result, err := w.handler.HandleInbound(ctx, job.Event)
	if err == nil {
		return true
	}
	if !retryable(err) {
		w.logger.Error("conversation job failed permanently",
			"job_id", job.ID,
			"message_id", job.Event.MessageID,
			"state", result.State,
			"error", err,
		)
		return true
	}

	if job.Attempt >= w.cfg.maxAttempts {
		w.logger.Error("conversation job exhausted delivery attempts",
			"job_id", job.ID,
			"message_id", job.Event.MessageID,
			"attempts", job.Attempt,
			"error", err,
		)
		apologyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
		defer cancel()
		if apErr := w.handler.Apologize(apologyCtx, job.Event); apErr != nil {
			w.logger.Error("failed to apologize for dropped job", "job_id", job.ID, "error", apErr)
		}
		return true
	}

	job.Attempt++
	delay := w.requeueDelay(job.Attempt)
	body, encErr := encodeJob(job)
	if encErr == nil {
		requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
		encErr = w.queue.Send(requeueCtx, body, delay)
		cancel()
	}
	if encErr != nil {
		w.logger.Error("failed to requeue conversation job, leaving it for redelivery",
			"job_id", job.ID,
			"message_id", job.Event.MessageID,
			"error", encErr,
		)
		return false
	}
	w.logger.Warn("conversation job requeued",
		"job_id", job.ID,
		"message_id", job.Event.MessageID,
		"attempt", job.Attempt,
		"delay", delay.String(),
		"error", err,
	)
	return true
}

func (w *Worker) requeueDelay(attempt int) time.Duration {
	if w.cfg.requeueBackoff <= 0 {
		return 0
	}
	delay := w.cfg.requeueBackoff
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= maxRequeueBackoff {
			return maxRequeueBackoff
		}
	}
	return delay
}

func retryable(err error) bool {
	return errors.Is(err, ErrLockNotAcquired) || errors.Is(err, ErrPersistence)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
