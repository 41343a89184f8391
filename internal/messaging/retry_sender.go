package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/chat-engine/internal/conversation"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

// ErrPermanent marks a send failure that will not succeed on retry (bad recipient, rejected
// payload). Channel clients wrap it so RetrySender stops early.
var ErrPermanent = errors.New("messaging: permanent send failure")

const (
	defaultSendAttempts  = 3
	defaultSendBaseDelay = 250 * time.Millisecond
)

// RetrySender retries a channel send with exponential backoff.
type RetrySender struct {
	next        conversation.ChannelSender
	maxAttempts int
	baseDelay   time.Duration
	logger      *logging.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

var _ conversation.ChannelSender = (*RetrySender)(nil)

// NewRetrySender wraps next. Non-positive values fall back to 3 attempts and a 250ms base delay.
func NewRetrySender(next conversation.ChannelSender, maxAttempts int, baseDelay time.Duration, logger *logging.Logger) *RetrySender {
	if next == nil {
		panic("messaging: channel sender cannot be nil")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultSendAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultSendBaseDelay
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RetrySender{next: next, maxAttempts: maxAttempts, baseDelay: baseDelay, logger: logger, sleep: sleepCtx}
}

// Send delivers reply, retrying transient failures. The returned SendResult always carries the
// number of attempts made.
func (s *RetrySender) Send(ctx context.Context, to string, reply conversation.Reply) (conversation.SendResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		res, err := s.next.Send(ctx, to, reply)
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrPermanent) || ctx.Err() != nil || attempt == s.maxAttempts {
			return conversation.SendResult{Attempts: attempt}, fmt.Errorf("messaging: send after %d attempt(s): %w", attempt, err)
		}

		delay := s.baseDelay * time.Duration(1<<(attempt-1))
		s.logger.Warn("channel send failed; retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return conversation.SendResult{Attempts: attempt}, fmt.Errorf("messaging: send interrupted: %w", lastErr)
		}
	}
	return conversation.SendResult{Attempts: s.maxAttempts}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
