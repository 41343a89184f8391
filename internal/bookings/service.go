package bookings

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/chat-engine/internal/conversation"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

var bookingsTracer = otel.Tracer("chatengine.internal.bookings")

var (
	_ conversation.Availability = (*Service)(nil)
	_ conversation.Booking      = (*Service)(nil)
	_ conversation.Schedule     = (*Service)(nil)
	_ conversation.CheckIn      = (*Service)(nil)
	_ conversation.Catalog      = (*Service)(nil)
)

// Service serves availability, bookings, staff schedules, check-ins and the service catalog
// for the conversation engine.
type Service struct {
	repo     *Repository
	logger   *logging.Logger
	location *time.Location
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the business timezone used for day boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a bookings service.
func NewService(repo *Repository, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		repo:     repo,
		logger:   logger,
		location: time.UTC,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) dayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(s.location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	return start, start.AddDate(0, 0, 1)
}

// ListSlots returns open slots on q.Date, or on the next day with openings when q.Date is zero.
func (s *Service) ListSlots(ctx context.Context, tenantID string, q conversation.SlotQuery) ([]conversation.Slot, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.list_slots")
	defer span.End()
	span.SetAttributes(attribute.String("chatengine.tenant_id", tenantID))

	now := s.now()
	day := q.Date
	if day.IsZero() {
		next, err := s.repo.NextOpenDay(ctx, tenantID, now, q.Service, q.Staff)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if next.IsZero() {
			return nil, nil
		}
		day = next
	}
	from, until := s.dayBounds(day)
	limit := q.Limit
	if q.Around != nil {
		limit = 0
	}
	slots, err := s.repo.OpenSlots(ctx, tenantID, now, from, until, q.Service, q.Staff, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if q.Around != nil {
		slots = nearest(slots, from.Add(*q.Around), q.Limit)
	}
	return slots, nil
}

// nearest keeps the limit slots starting closest to target, in start order.
func nearest(slots []conversation.Slot, target time.Time, limit int) []conversation.Slot {
	distance := func(s conversation.Slot) time.Duration {
		d := s.StartsAt.Sub(target)
		if d < 0 {
			return -d
		}
		return d
	}
	sort.SliceStable(slots, func(i, j int) bool { return distance(slots[i]) < distance(slots[j]) })
	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].StartsAt.Before(slots[j].StartsAt) })
	return slots
}

// Confirm books slotID for the customer after checking it is still open.
func (s *Service) Confirm(ctx context.Context, tenantID, slotID string, customer conversation.Sender) (conversation.BookingRecord, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatengine.tenant_id", tenantID),
		attribute.String("chatengine.slot_id", slotID),
	)

	record, err := s.repo.InsertConfirmed(ctx, tenantID, s.newID(), slotID, customer, s.now())
	if err != nil {
		span.RecordError(err)
		return conversation.BookingRecord{}, err
	}
	s.logger.Info("booking confirmed", "tenant_id", tenantID, "booking_id", record.ID, "slot_id", slotID, "starts_at", record.StartsAt)
	return record, nil
}

// Upcoming lists the customer's future confirmed bookings.
func (s *Service) Upcoming(ctx context.Context, tenantID string, customer conversation.Sender) ([]conversation.BookingRecord, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.upcoming")
	defer span.End()
	return s.repo.Upcoming(ctx, tenantID, customer, s.now())
}

// Cancel cancels one of the customer's bookings.
func (s *Service) Cancel(ctx context.Context, tenantID, bookingID string, customer conversation.Sender) (conversation.BookingRecord, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("chatengine.booking_id", bookingID))

	record, err := s.repo.Cancel(ctx, tenantID, bookingID, customer, s.now())
	if err != nil {
		span.RecordError(err)
		return conversation.BookingRecord{}, err
	}
	s.logger.Info("booking cancelled", "tenant_id", tenantID, "booking_id", bookingID)
	return record, nil
}

// Reschedule moves one of the customer's bookings to slotID.
func (s *Service) Reschedule(ctx context.Context, tenantID, bookingID, slotID string, customer conversation.Sender) (conversation.BookingRecord, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.reschedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("chatengine.booking_id", bookingID),
		attribute.String("chatengine.slot_id", slotID),
	)

	record, err := s.repo.Reschedule(ctx, tenantID, bookingID, slotID, customer, s.now())
	if err != nil {
		span.RecordError(err)
		return conversation.BookingRecord{}, err
	}
	s.logger.Info("booking rescheduled", "tenant_id", tenantID, "booking_id", bookingID, "slot_id", slotID, "starts_at", record.StartsAt)
	return record, nil
}

// ForStaff lists the staff member's appointments on date.
func (s *Service) ForStaff(ctx context.Context, tenantID, staffID string, date time.Time) ([]conversation.Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.staff_schedule")
	defer span.End()
	from, until := s.dayBounds(date)
	return s.repo.StaffAppointments(ctx, tenantID, staffID, from, until)
}

// SetUnavailable blocks the staff member's slots between from and until.
func (s *Service) SetUnavailable(ctx context.Context, tenantID, staffID string, from, until time.Time) error {
	if !until.After(from) {
		return errors.New("bookings: break must end after it starts")
	}
	ctx, span := bookingsTracer.Start(ctx, "bookings.set_unavailable")
	defer span.End()
	if err := s.repo.InsertBreak(ctx, tenantID, staffID, from, until); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("staff break recorded", "tenant_id", tenantID, "staff_id", staffID, "from", from, "until", until)
	return nil
}

// Mark checks in the staff member's next confirmed appointment today for clientName.
func (s *Service) Mark(ctx context.Context, tenantID, staffID, clientName string) (conversation.Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.check_in")
	defer span.End()
	now := s.now()
	from, until := s.dayBounds(now)
	return s.repo.Transition(ctx, tenantID, staffID, clientName, from, until, []string{"confirmed"}, "checked_in", now)
}

// Complete marks today's appointment for clientName as completed.
func (s *Service) Complete(ctx context.Context, tenantID, staffID, clientName string) (conversation.Appointment, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.complete")
	defer span.End()
	now := s.now()
	from, until := s.dayBounds(now)
	return s.repo.Transition(ctx, tenantID, staffID, clientName, from, until, []string{"checked_in", "confirmed"}, "completed", now)
}

// ListServices returns the tenant's catalog.
func (s *Service) ListServices(ctx context.Context, tenantID string) ([]conversation.Service, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.list_services")
	defer span.End()
	return s.repo.Services(ctx, tenantID)
}
