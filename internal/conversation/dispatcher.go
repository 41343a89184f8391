package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/wolfman30/chat-engine/pkg/logging"
)

const (
	defaultFlowTTL       = 10 * time.Minute
	defaultMaxSlots      = 10
	defaultBreakDuration = 30 * time.Minute
)

// Collaborators are the business systems the dispatcher calls. Any of them may be nil; the
// actions that need a missing collaborator answer with service_unavailable.
type Collaborators struct {
	Availability Availability
	Booking      Booking
	Loyalty      Loyalty
	Schedule     Schedule
	CheckIn      CheckIn
	Catalog      Catalog
}

// Payloads carried in ActionResult.Payload.
type (
	GreetingPayload struct {
		Role Role
		Name string
	}
	SlotsPayload struct {
		Date         time.Time
		Slots        []Slot
		Rescheduling bool
	}
	BookingPayload struct {
		Booking     BookingRecord
		Rescheduled bool
	}
	// BookingsPayload lists upcoming bookings for the sender to pick from.
	BookingsPayload struct {
		Purpose  Action
		Bookings []BookingRecord
	}
	CancellationPayload struct {
		Booking BookingRecord
	}
	ServicesPayload struct {
		Services []Service
	}
	LoyaltyPayload struct {
		Balance LoyaltyBalance
	}
	SchedulePayload struct {
		Date         time.Time
		Appointments []Appointment
	}
	CheckInPayload struct {
		Appointment Appointment
		Completed   bool
	}
	BreakPayload struct {
		From  time.Time
		Until time.Time
	}
)

// Dispatched is the result of one dispatch: the action that actually ran, its result and the
// context to persist.
type Dispatched struct {
	Action  Action
	Result  ActionResult
	Context Context
}

type routeKey struct {
	role   Role
	action Action
}

type actionHandler func(ctx context.Context, req *actionRequest) ActionResult

type actionRequest struct {
	tenantID string
	intent   Intent
	sender   Sender
	now      time.Time
	next     *PendingFlow
}

// Dispatcher executes intents through a table keyed by (role, action).
type Dispatcher struct {
	collab   Collaborators
	routes   map[routeKey]actionHandler
	known    map[Action]bool
	logger   *logging.Logger
	location *time.Location
	flowTTL  time.Duration
	maxSlots int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithLocation sets the timezone used to resolve dates.
func WithLocation(loc *time.Location) DispatcherOption {
	return func(d *Dispatcher) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithFlowTTL sets how long a pending flow stays open.
func WithFlowTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.flowTTL = ttl
		}
	}
}

// WithMaxSlots caps how many slots are offered per list.
func WithMaxSlots(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxSlots = n
		}
	}
}

// NewDispatcher builds the default action table.
func NewDispatcher(collab Collaborators, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		collab:   collab,
		routes:   make(map[routeKey]actionHandler),
		known:    make(map[Action]bool),
		logger:   logging.Default(),
		location: time.UTC,
		flowTTL:  defaultFlowTTL,
		maxSlots: defaultMaxSlots,
	}
	for _, opt := range opts {
		opt(d)
	}

	clients := []Role{RoleCustomer, RoleAnonymous}
	d.register(ActionGreeting, d.greet, RoleStaff, RoleCustomer, RoleAnonymous)
	d.register(ActionBookAppointment, d.bookAppointment, clients...)
	d.register(ActionConfirmBooking, d.confirmBooking, clients...)
	d.register(ActionCancelAppointment, d.listBookings(ActionCancelAppointment), clients...)
	d.register(ActionConfirmCancellation, d.confirmCancellation, clients...)
	d.register(ActionRescheduleAppointment, d.listBookings(ActionRescheduleAppointment), clients...)
	d.register(ActionRescheduleSelected, d.rescheduleSelected, clients...)
	d.register(ActionViewServices, d.viewServices, clients...)
	d.register(ActionCheckLoyalty, d.checkLoyalty, RoleCustomer)
	d.register(ActionCheckLoyalty, d.notRegistered, RoleAnonymous)
	d.register(ActionStaffSchedule, d.staffSchedule, RoleStaff)
	d.register(ActionStaffCheckIn, d.staffCheckIn, RoleStaff)
	d.register(ActionCompleteService, d.completeService, RoleStaff)
	d.register(ActionStaffBreak, d.staffBreak, RoleStaff)
	return d
}

func (d *Dispatcher) register(action Action, handler actionHandler, roles ...Role) {
	d.known[action] = true
	for _, role := range roles {
		d.routes[routeKey{role: role, action: action}] = handler
	}
}

// Permitted reports whether role may run action.
func (d *Dispatcher) Permitted(role Role, action Action) bool {
	_, ok := d.routes[routeKey{role: role, action: action}]
	return ok
}

// Dispatch runs the handler for (sender.Role, intent.Action). Known actions the role may not
// run are declined with role_not_permitted; unknown actions fall back to a greeting. The only
// error returned is the context's, when the turn ran out of time.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent, sender Sender, conv *Conversation, now time.Time) (Dispatched, error) {
	req := &actionRequest{
		tenantID: conv.TenantID,
		intent:   intent,
		sender:   sender,
		now:      now,
	}

	action := intent.Action
	handler, ok := d.routes[routeKey{role: sender.Role, action: action}]
	if !ok && d.known[action] {
		d.logger.SecurityEvent("conversation: action not permitted for role",
			"tenant_id", conv.TenantID,
			"conversation_id", conv.ID,
			"role", sender.Role,
			"action", action,
		)
		return Dispatched{
			Action:  action,
			Result:  businessError(CodeRoleNotPermitted),
			Context: d.nextContext(req, action),
		}, nil
	}
	if !ok {
		action = ActionGreeting
		handler = d.greet
	}

	result := handler(ctx, req)
	if err := ctx.Err(); err != nil {
		return Dispatched{}, fmt.Errorf("conversation: dispatch %s: %w", action, err)
	}
	return Dispatched{Action: action, Result: result, Context: d.nextContext(req, action)}, nil
}

func (d *Dispatcher) nextContext(req *actionRequest, action Action) Context {
	return Context{
		LastIntent:    action,
		PendingFlow:   req.next,
		LastUpdatedAt: req.now,
	}
}

func (d *Dispatcher) await(req *actionRequest, flow Flow, entities map[string]string, options []FlowOption) {
	req.next = &PendingFlow{
		Name:      flow,
		Entities:  entities,
		Options:   options,
		ExpiresAt: req.now.Add(d.flowTTL),
	}
}

func succeeded(payload any) ActionResult {
	return ActionResult{Outcome: OutcomeOK, Payload: payload}
}

func businessError(code string) ActionResult {
	return ActionResult{Outcome: OutcomeBusinessError, ErrorCode: code}
}

func needsMoreInfo(message string) ActionResult {
	return ActionResult{Outcome: OutcomeNeedsMoreInfo, Message: message}
}

func (d *Dispatcher) collaboratorFailed(req *actionRequest, op string, err error) ActionResult {
	d.logger.Error("conversation: collaborator call failed",
		"tenant_id", req.tenantID,
		"action", req.intent.Action,
		"operation", op,
		"error", err,
	)
	return businessError(CodeServiceUnavailable)
}

func (d *Dispatcher) greet(_ context.Context, req *actionRequest) ActionResult {
	return succeeded(GreetingPayload{Role: req.sender.Role, Name: req.sender.DisplayName})
}

func (d *Dispatcher) bookAppointment(ctx context.Context, req *actionRequest) ActionResult {
	if d.collab.Availability == nil {
		return businessError(CodeServiceUnavailable)
	}
	date := d.entityDate(req.intent)
	query := SlotQuery{
		Date:    date,
		Around:  TimeOfDay(req.intent.Entity(EntityTime)),
		Service: req.intent.Entity(EntityService),
		Staff:   req.intent.Entity(EntityPreferredStaff),
		Limit:   d.maxSlots,
	}
	slots, err := d.collab.Availability.ListSlots(ctx, req.tenantID, query)
	if err != nil {
		return d.collaboratorFailed(req, "list_slots", err)
	}

	carry := copyEntities(req.intent.Entities)
	delete(carry, EntityDate)
	delete(carry, EntitySlotID)
	rescheduleOf := req.intent.Entity(EntityRescheduleOf)

	if len(slots) == 0 {
		d.await(req, FlowAwaitingDate, carry, nil)
		if date.IsZero() {
			return needsMoreInfo("There are no openings right now. Which day would you like instead?")
		}
		return needsMoreInfo(fmt.Sprintf("There are no openings on %s. Which other day works for you?", date.Format("Monday, Jan 2")))
	}

	sort.SliceStable(slots, func(i, j int) bool { return slots[i].StartsAt.Before(slots[j].StartsAt) })
	if len(slots) > d.maxSlots {
		slots = slots[:d.maxSlots]
	}
	options := make([]FlowOption, 0, len(slots))
	for _, s := range slots {
		options = append(options, FlowOption{ID: s.ID, Label: TimeLabel(s.StartsAt, d.location)})
	}
	flowEntities := map[string]string{}
	if rescheduleOf != "" {
		flowEntities[EntityRescheduleOf] = rescheduleOf
	}
	d.await(req, FlowAwaitingSlotSelection, flowEntities, options)
	return succeeded(SlotsPayload{Date: date, Slots: slots, Rescheduling: rescheduleOf != ""})
}

func (d *Dispatcher) confirmBooking(ctx context.Context, req *actionRequest) ActionResult {
	if d.collab.Booking == nil {
		return businessError(CodeServiceUnavailable)
	}
	slotID := req.intent.Entity(EntitySlotID)
	if slotID == "" {
		return needsMoreInfo("Which time would you like? Ask to book and I'll send the openings.")
	}

	rescheduleOf := req.intent.Entity(EntityRescheduleOf)
	var (
		record BookingRecord
		err    error
	)
	if rescheduleOf != "" {
		record, err = d.collab.Booking.Reschedule(ctx, req.tenantID, rescheduleOf, slotID, req.sender)
	} else {
		record, err = d.collab.Booking.Confirm(ctx, req.tenantID, slotID, req.sender)
	}
	switch {
	case err == nil:
		return succeeded(BookingPayload{Booking: record, Rescheduled: rescheduleOf != ""})
	case errors.Is(err, ErrSlotUnavailable):
		return businessError(CodeSlotUnavailable)
	case errors.Is(err, ErrNotFound) && rescheduleOf != "":
		return businessError(CodeBookingNotFound)
	case errors.Is(err, ErrNotFound):
		return businessError(CodeSlotUnavailable)
	case errors.Is(err, ErrBookingConflict):
		return businessError(CodeBookingConflict)
	default:
		return d.collaboratorFailed(req, "confirm_booking", err)
	}
}

func (d *Dispatcher) listBookings(purpose Action) actionHandler {
	return func(ctx context.Context, req *actionRequest) ActionResult {
		if d.collab.Booking == nil {
			return businessError(CodeServiceUnavailable)
		}
		bookings, err := d.collab.Booking.Upcoming(ctx, req.tenantID, req.sender)
		if err != nil {
			return d.collaboratorFailed(req, "upcoming_bookings", err)
		}
		if len(bookings) > d.maxSlots {
			bookings = bookings[:d.maxSlots]
		}
		return succeeded(BookingsPayload{Purpose: purpose, Bookings: bookings})
	}
}

func (d *Dispatcher) confirmCancellation(ctx context.Context, req *actionRequest) ActionResult {
	if d.collab.Booking == nil {
		return businessError(CodeServiceUnavailable)
	}
	bookingID := req.intent.Entity(EntityBookingID)
	if bookingID == "" {
		return businessError(CodeBookingNotFound)
	}
	record, err := d.collab.Booking.Cancel(ctx, req.tenantID, bookingID, req.sender)
	switch {
	case err == nil:
		return succeeded(CancellationPayload{Booking: record})
	case errors.Is(err, ErrNotFound):
		return businessError(CodeBookingNotFound)
	case errors.Is(err, ErrBookingConflict):
		return businessError(CodeBookingConflict)
	default:
		return d.collaboratorFailed(req, "cancel_booking", err)
	}
}

func (d *Dispatcher) rescheduleSelected(_ context.Context, req *actionRequest) ActionResult {
	bookingID := req.intent.Entity(EntityBookingID)
	if bookingID == "" {
		return businessError(CodeBookingNotFound)
	}
	d.await(req, FlowAwaitingDate, map[string]string{EntityRescheduleOf: bookingID}, nil)
	return needsMoreInfo("Which day would you like to move it to?")
}

func (d *Dispatcher) viewServices(ctx context.Context, req *actionRequest) ActionResult {
	if d.collab.Catalog == nil {
		return businessError(CodeServiceUnavailable)
	}
	services, err := d.collab.Catalog.ListServices(ctx, req.tenantID)
	if err != nil {
		return d.collaboratorFailed(req, "list_services", err)
	}
	if len(services) > 0 {
		options := make([]FlowOption, 0, len(services))
		for _, s := range services {
			options = append(options, FlowOption{ID: s.ID, Label: s.Name})
		}
		d.await(req, FlowAwaitingServiceSelection, map[string]string{}, options)
	}
	return succeeded(ServicesPayload{Services: services})
}

func (d *Dispatcher) checkLoyalty(ctx context.Context, req *actionRequest) ActionResult {
	if d.collab.Loyalty == nil {
		return businessError(CodeServiceUnavailable)
	}
	if req.sender.DirectoryID == "" {
		return businessError(CodeNotRegistered)
	}
	balance, err := d.collab.Loyalty.GetBalance(ctx, req.tenantID, req.sender.DirectoryID)
	switch {
	case err == nil:
		return succeeded(LoyaltyPayload{Balance: balance})
	case errors.Is(err, ErrNotFound):
		return businessError(CodeNotRegistered)
	default:
		return d.collaboratorFailed(req, "loyalty_balance", err)
	}
}

func (d *Dispatcher) notRegistered(context.Context, *actionRequest) ActionResult {
	return businessError(CodeNotRegistered)
}

func (d *Dispatcher) staffSchedule(ctx context.Context, req *actionRequest) ActionResult {
	if d.collab.Schedule == nil {
		return businessError(CodeServiceUnavailable)
	}
	date := d.entityDate(req.intent)
	if date.IsZero() {
		local := req.now.In(d.location)
		date = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.location)
	}
	appointments, err := d.collab.Schedule.ForStaff(ctx, req.tenantID, req.sender.DirectoryID, date)
	if err != nil {
		return d.collaboratorFailed(req, "staff_schedule", err)
	}
	return succeeded(SchedulePayload{Date: date, Appointments: appointments})
}

func (d *Dispatcher) staffCheckIn(ctx context.Context, req *actionRequest) ActionResult {
	return d.markClient(ctx, req, ActionStaffCheckIn)
}

func (d *Dispatcher) completeService(ctx context.Context, req *actionRequest) ActionResult {
	return d.markClient(ctx, req, ActionCompleteService)
}

func (d *Dispatcher) markClient(ctx context.Context, req *actionRequest, action Action) ActionResult {
	if d.collab.CheckIn == nil {
		return businessError(CodeServiceUnavailable)
	}
	client := req.intent.Entity(EntityClientName)
	if client == "" {
		d.await(req, FlowAwaitingCheckInClient, map[string]string{EntityFlowAction: string(action)}, nil)
		if action == ActionCompleteService {
			return needsMoreInfo("Which client did you just finish with?")
		}
		return needsMoreInfo("Who are you checking in?")
	}

	var (
		appt Appointment
		err  error
	)
	if action == ActionCompleteService {
		appt, err = d.collab.CheckIn.Complete(ctx, req.tenantID, req.sender.DirectoryID, client)
	} else {
		appt, err = d.collab.CheckIn.Mark(ctx, req.tenantID, req.sender.DirectoryID, client)
	}
	switch {
	case err == nil:
		return succeeded(CheckInPayload{Appointment: appt, Completed: action == ActionCompleteService})
	case errors.Is(err, ErrNotFound):
		return businessError(CodeClientNotFound)
	default:
		return d.collaboratorFailed(req, string(action), err)
	}
}

func (d *Dispatcher) staffBreak(ctx context.Context, req *actionRequest) ActionResult {
	if d.collab.Schedule == nil {
		return businessError(CodeServiceUnavailable)
	}
	duration := defaultBreakDuration
	if v := req.intent.Entity(EntityDurationMinutes); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			duration = time.Duration(minutes) * time.Minute
		}
	}
	from := req.now
	until := from.Add(duration)
	if err := d.collab.Schedule.SetUnavailable(ctx, req.tenantID, req.sender.DirectoryID, from, until); err != nil {
		return d.collaboratorFailed(req, "set_unavailable", err)
	}
	return succeeded(BreakPayload{From: from, Until: until})
}

func (d *Dispatcher) entityDate(intent Intent) time.Time {
	v := intent.Entity(EntityDate)
	if v == "" {
		return time.Time{}
	}
	date, err := time.ParseInLocation(time.DateOnly, v, d.location)
	if err != nil {
		return time.Time{}
	}
	return date
}

// TimeOfDay parses a time entity ("2pm", "2:30pm") into an offset from midnight. It returns nil
// for an empty or unparseable value.
func TimeOfDay(v string) *time.Duration {
	if v == "" {
		return nil
	}
	for _, layout := range []string{"3pm", "3:04pm"} {
		if t, err := time.Parse(layout, v); err == nil {
			d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
			return &d
		}
	}
	return nil
}

// TimeLabel renders t as the compact label used to match typed slot replies ("2pm", "2:30pm").
func TimeLabel(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if local.Minute() == 0 {
		return local.Format("3pm")
	}
	return local.Format("3:04pm")
}
