package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/chat-engine/pkg/logging"
)

// TurnState is a step of the per-message pipeline.
type TurnState string

const (
	StateResolvingSender     TurnState = "RESOLVING_SENDER"
	StateLoadingConversation TurnState = "LOADING_CONVERSATION"
	StateCheckingDuplicate   TurnState = "CHECKING_DUPLICATE"
	StateLoggingInbound      TurnState = "LOGGING_INBOUND"
	StateClassifying         TurnState = "CLASSIFYING"
	StateDispatching         TurnState = "DISPATCHING"
	StateComposing           TurnState = "COMPOSING"
	StateSending             TurnState = "SENDING"
	StateLoggingOutbound     TurnState = "LOGGING_OUTBOUND"
	StateUpdatingContext     TurnState = "UPDATING_CONTEXT"
	StateDone                TurnState = "DONE"
	StateFailed              TurnState = "FAILED"
)

// ErrInvalidEvent rejects events that cannot be answered (no tenant or sender address).
var ErrInvalidEvent = errors.New("conversation: invalid inbound event")

// Observer receives turn-level measurements. metrics.EngineMetrics implements it.
type Observer interface {
	ObserveTurn(state, action, outcome string, seconds float64)
	ObserveDuplicate()
	ObserveRoleDenied(role, action string)
	ObserveSend(status string, attempts int)
}

type noopObserver struct{}

func (noopObserver) ObserveTurn(string, string, string, float64) {}
func (noopObserver) ObserveDuplicate()                           {}
func (noopObserver) ObserveRoleDenied(string, string)            {}
func (noopObserver) ObserveSend(string, int)                     {}

// TurnResult describes what happened to one inbound event.
type TurnResult struct {
	ConversationID string
	State          TurnState
	FailedAt       TurnState
	Duplicate      bool
	Sender         Sender
	Intent         Intent
	Action         Action
	Outcome        Outcome
	Reply          *Reply
	Sent           bool
}

// EngineDeps are the collaborators wired into an Engine. Conversations, Messages and Sender are
// required.
type EngineDeps struct {
	Directory     Directory
	Conversations ConversationRepository
	Messages      MessageLog
	Locker        Locker
	Sender        ChannelSender
	Collaborators Collaborators
	Vocabulary    Vocabulary
}

const (
	contextSaveAttempts = 3
	contextSaveBackoff  = 50 * time.Millisecond
)

type engineConfig struct {
	lockWait          time.Duration
	turnTimeout       time.Duration
	flowTTL           time.Duration
	directoryAttempts int
	directoryBackoff  time.Duration
	location          *time.Location
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(obs Observer) EngineOption {
	return func(e *Engine) {
		if obs != nil {
			e.observer = obs
		}
	}
}

// WithLockWait bounds how long a turn waits for the conversation lock.
func WithLockWait(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.cfg.lockWait = d
		}
	}
}

// WithTurnTimeout bounds a whole turn.
func WithTurnTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.cfg.turnTimeout = d
		}
	}
}

// WithPendingFlowTTL sets the pending flow expiry.
func WithPendingFlowTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.cfg.flowTTL = d
		}
	}
}

// WithDirectoryRetry sets how often a failing directory lookup is retried before the sender
// is treated as anonymous.
func WithDirectoryRetry(attempts int, backoff time.Duration) EngineOption {
	return func(e *Engine) {
		if attempts > 0 {
			e.cfg.directoryAttempts = attempts
		}
		if backoff >= 0 {
			e.cfg.directoryBackoff = backoff
		}
	}
}

// WithTimezone sets the business timezone used for dates and times.
func WithTimezone(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.cfg.location = loc
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs the conversational pipeline for one inbound event at a time per conversation.
type Engine struct {
	identity      *IdentityResolver
	conversations ConversationRepository
	messages      MessageLog
	locker        Locker
	sender        ChannelSender
	classifier    *Classifier
	dispatcher    *Dispatcher
	composer      *Composer
	observer      Observer
	logger        *logging.Logger
	tracer        trace.Tracer
	now           func() time.Time
	cfg           engineConfig
}

// NewEngine wires the pipeline.
func NewEngine(deps EngineDeps, opts ...EngineOption) *Engine {
	if deps.Conversations == nil {
		panic("conversation: conversation repository cannot be nil")
	}
	if deps.Messages == nil {
		panic("conversation: message log cannot be nil")
	}
	if deps.Sender == nil {
		panic("conversation: channel sender cannot be nil")
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewMemoryLocker()
	}

	e := &Engine{
		identity:      NewIdentityResolver(deps.Directory),
		conversations: deps.Conversations,
		messages:      deps.Messages,
		locker:        locker,
		sender:        deps.Sender,
		observer:      noopObserver{},
		logger:        logging.Default(),
		tracer:        otel.Tracer("chatengine.internal.conversation.engine"),
		now:           time.Now,
		cfg: engineConfig{
			lockWait:          5 * time.Second,
			turnTimeout:       15 * time.Second,
			flowTTL:           defaultFlowTTL,
			directoryAttempts: 3,
			directoryBackoff:  100 * time.Millisecond,
			location:          time.UTC,
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.classifier = NewClassifier(deps.Vocabulary, e.cfg.location)
	e.dispatcher = NewDispatcher(deps.Collaborators,
		WithDispatcherLogger(e.logger),
		WithLocation(e.cfg.location),
		WithFlowTTL(e.cfg.flowTTL),
	)
	e.composer = NewComposer(e.cfg.location)
	return e
}

type turn struct {
	event  InboundEvent
	result TurnResult
	conv   *Conversation
	log    *logging.Logger
}

func (t *turn) enter(state TurnState) {
	t.result.State = state
}

// HandleInbound processes one event. It returns an error only when the delivery should be
// retried (ErrLockNotAcquired, ErrPersistence) or can never be processed (ErrInvalidEvent);
// every other failure is answered with an apology and reported through TurnResult.
func (e *Engine) HandleInbound(ctx context.Context, event InboundEvent) (TurnResult, error) {
	started := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.turnTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "conversation.handle_inbound")
	defer span.End()

	t := &turn{event: event}
	defer func() {
		e.observer.ObserveTurn(string(t.result.State), string(t.result.Action), string(t.result.Outcome), e.now().Sub(started).Seconds())
	}()

	if event.TenantID == "" || NormalizeAddress(event.From) == "" {
		t.result.State = StateFailed
		e.logger.Error("conversation: dropping event without tenant or sender", "message_id", event.MessageID)
		return t.result, ErrInvalidEvent
	}
	if event.MessageID == "" {
		t.event.MessageID = syntheticMessageID(event)
	}
	t.log = e.logger.With(
		"tenant_id", event.TenantID,
		"message_id", t.event.MessageID,
	)
	span.SetAttributes(
		attribute.String("chatengine.tenant_id", event.TenantID),
		attribute.String("chatengine.message_id", t.event.MessageID),
	)

	t.enter(StateResolvingSender)
	sender := e.resolveSender(ctx, t)
	t.result.Sender = sender

	t.enter(StateLoadingConversation)
	lockCtx, cancelLock := context.WithTimeout(ctx, e.cfg.lockWait)
	lease, err := e.locker.Acquire(lockCtx, LockKey(event.TenantID, sender.ChannelAddress))
	cancelLock()
	if err != nil {
		t.result.FailedAt, t.result.State = StateLoadingConversation, StateFailed
		t.log.Warn("conversation: lock not acquired, delivery will be retried", "error", err)
		if !errors.Is(err, ErrLockNotAcquired) {
			err = fmt.Errorf("%w: %w", ErrLockNotAcquired, err)
		}
		return t.result, err
	}
	defer func() {
		releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancelRelease()
		if err := lease.Release(releaseCtx); err != nil {
			t.log.Warn("conversation: lock release failed", "error", err)
		}
	}()

	conv, err := e.conversations.GetOrCreate(ctx, event.TenantID, sender.ChannelAddress, sender)
	if err != nil {
		return e.persistenceFailure(t, err)
	}
	t.conv = conv
	t.result.ConversationID = conv.ID
	t.log = t.log.With("conversation_id", conv.ID)

	t.enter(StateCheckingDuplicate)
	written, err := e.messages.Append(ctx, Message{
		MessageID:      t.event.MessageID,
		TenantID:       event.TenantID,
		ConversationID: conv.ID,
		Direction:      DirectionInbound,
		Type:           inboundType(event),
		Payload:        event.Payload(),
		Status:         StatusReceived,
		CreatedAt:      e.now().UTC(),
	})
	if err != nil {
		return e.persistenceFailure(t, err)
	}
	if written == WriteDuplicate {
		t.result.Duplicate = true
		t.enter(StateDone)
		e.observer.ObserveDuplicate()
		t.log.Info("conversation: duplicate inbound message ignored")
		return t.result, nil
	}
	t.enter(StateLoggingInbound)

	t.enter(StateClassifying)
	now := e.now()
	pending := conv.Context.ActiveFlow(now)
	if pending == nil && conv.Context.PendingFlow != nil {
		t.log.Debug("conversation: pending flow expired", "flow", conv.Context.PendingFlow.Name)
	}
	intent := e.classifier.Classify(event.Input(), sender.Role, pending, now)
	t.result.Intent = intent

	t.enter(StateDispatching)
	dispatched, err := e.dispatcher.Dispatch(ctx, intent, sender, conv, now)
	if err != nil {
		return e.fail(ctx, t, err)
	}
	t.result.Action = dispatched.Action
	t.result.Outcome = dispatched.Result.Outcome
	if dispatched.Result.ErrorCode == CodeRoleNotPermitted {
		e.observer.ObserveRoleDenied(string(sender.Role), string(dispatched.Action))
	}

	t.enter(StateComposing)
	reply := e.composer.Compose(dispatched.Action, dispatched.Result)
	t.result.Reply = &reply

	t.enter(StateSending)
	sent, sendErr := e.sender.Send(ctx, sender.ChannelAddress, reply)

	t.enter(StateLoggingOutbound)
	outbound := e.outboundMessage(t, replyMessageID(t.event.MessageID), reply, sent, sendErr)
	if _, err := e.messages.Append(context.WithoutCancel(ctx), outbound); err != nil {
		return e.persistenceFailure(t, err)
	}
	if sendErr != nil {
		e.observer.ObserveSend(StatusFailed, sent.Attempts)
		return e.fail(ctx, t, fmt.Errorf("%w: %w", ErrSendFailed, sendErr))
	}
	e.observer.ObserveSend(StatusSent, sent.Attempts)
	t.result.Sent = true

	t.enter(StateUpdatingContext)
	conv.Context = dispatched.Context
	conv.SenderRoleLastSeen = sender.Role
	if err := e.saveContext(context.WithoutCancel(ctx), t, conv); err != nil {
		return e.persistenceFailure(t, err)
	}

	t.enter(StateDone)
	t.log.Info("conversation: turn complete",
		"role", sender.Role,
		"action", dispatched.Action,
		"outcome", dispatched.Result.Outcome,
		"from_flow", intent.FromFlow,
	)
	return t.result, nil
}

// resolveSender retries transient directory failures and then falls back to anonymous, the
// least privileged role.
func (e *Engine) resolveSender(ctx context.Context, t *turn) Sender {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.directoryAttempts; attempt++ {
		sender, err := e.identity.Resolve(ctx, t.event.TenantID, t.event.From)
		if err == nil {
			if sender.DisplayName == "" {
				sender.DisplayName = t.event.ProfileName
			}
			return sender
		}
		lastErr = err
		if attempt == e.cfg.directoryAttempts {
			break
		}
		delay := e.cfg.directoryBackoff * time.Duration(1<<(attempt-1))
		select {
		case <-ctx.Done():
			attempt = e.cfg.directoryAttempts
		case <-time.After(delay):
		}
	}
	t.log.SecurityEvent("conversation: directory unavailable, treating sender as anonymous",
		"attempts", e.cfg.directoryAttempts,
		"error", lastErr,
	)
	return Sender{
		Role:           RoleAnonymous,
		ChannelAddress: NormalizeAddress(t.event.From),
		DisplayName:    t.event.ProfileName,
	}
}

// saveContext retries Save within the turn. The reply is already sent, so a redelivery stops
// at the duplicate gate and never gets here again.
func (e *Engine) saveContext(ctx context.Context, t *turn, conv *Conversation) error {
	var err error
	for attempt := 1; attempt <= contextSaveAttempts; attempt++ {
		if err = e.conversations.Save(ctx, conv); err == nil {
			return nil
		}
		if attempt == contextSaveAttempts {
			break
		}
		t.log.Warn("conversation: context save failed, retrying", "attempt", attempt, "error", err)
		time.Sleep(contextSaveBackoff * time.Duration(attempt))
	}
	return err
}

func (e *Engine) persistenceFailure(t *turn, err error) (TurnResult, error) {
	t.result.FailedAt = t.result.State
	t.result.State = StateFailed
	t.log.Error("conversation: persistence failure, delivery will be retried",
		"failed_at", t.result.FailedAt,
		"error", err,
	)
	if !errors.Is(err, ErrPersistence) {
		err = fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return t.result, err
}

// fail moves the turn to FAILED: the sender gets an apology and any pending flow is dropped.
func (e *Engine) fail(ctx context.Context, t *turn, cause error) (TurnResult, error) {
	t.result.FailedAt = t.result.State
	t.result.State = StateFailed
	t.log.Error("conversation: turn failed",
		"failed_at", t.result.FailedAt,
		"error", cause,
	)

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	apology := TextReply(ApologyMessage)
	if t.result.Reply == nil {
		t.result.Reply = &apology
	}
	sent, err := e.sender.Send(bg, t.result.Sender.ChannelAddress, apology)
	if err != nil {
		t.log.Error("conversation: apology send failed", "error", err)
	}
	if t.conv == nil {
		return t.result, nil
	}
	msg := e.outboundMessage(t, apologyMessageID(t.event.MessageID), apology, sent, err)
	if _, appendErr := e.messages.Append(bg, msg); appendErr != nil {
		t.log.Error("conversation: apology log failed", "error", appendErr)
	}

	t.conv.Context = Context{LastIntent: t.result.Action, LastUpdatedAt: e.now()}
	t.conv.SenderRoleLastSeen = t.result.Sender.Role
	if saveErr := e.conversations.Save(bg, t.conv); saveErr != nil {
		t.log.Error("conversation: context reset failed", "error", saveErr)
	}
	return t.result, nil
}

// Apologize answers an event that will not be processed any further, for example after its
// delivery attempts ran out. It does not touch conversation state.
func (e *Engine) Apologize(ctx context.Context, event InboundEvent) error {
	address := NormalizeAddress(event.From)
	if address == "" {
		return ErrInvalidEvent
	}
	if _, err := e.sender.Send(ctx, address, TextReply(ApologyMessage)); err != nil {
		return fmt.Errorf("conversation: apologize: %w", err)
	}
	return nil
}

func (e *Engine) outboundMessage(t *turn, id string, reply Reply, sent SendResult, sendErr error) Message {
	payload, err := json.Marshal(reply)
	if err != nil {
		payload = []byte(`{}`)
	}
	msg := Message{
		MessageID:         id,
		TenantID:          t.event.TenantID,
		ConversationID:    t.conv.ID,
		Direction:         DirectionOutbound,
		Type:              string(reply.Kind),
		Payload:           payload,
		ProviderMessageID: sent.ProviderMessageID,
		Status:            StatusSent,
		SendAttempts:      sent.Attempts,
		CreatedAt:         e.now().UTC(),
	}
	if sendErr != nil {
		msg.Status = StatusFailed
		msg.ErrorReason = sendErr.Error()
	}
	return msg
}

func inboundType(event InboundEvent) string {
	if event.Type == "" {
		return InboundTypeText
	}
	return event.Type
}

func replyMessageID(inboundID string) string {
	return inboundID + ":reply"
}

func apologyMessageID(inboundID string) string {
	return inboundID + ":apology"
}

// syntheticMessageID derives a stable id for events that arrived without one, so redeliveries
// still deduplicate.
func syntheticMessageID(event InboundEvent) string {
	sum := sha256.Sum256([]byte(event.TenantID + "\x00" + event.From + "\x00" + event.Timestamp + "\x00" + event.Text))
	return "synthetic:" + hex.EncodeToString(sum[:12])
}
