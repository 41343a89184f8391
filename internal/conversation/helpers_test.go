package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) // a Tuesday

type fakeDirectory struct {
	staff     map[string]Sender
	customers map[string]Sender
	err       error
	failures  int32
	calls     atomic.Int32
}

func (d *fakeDirectory) LookupStaff(_ context.Context, _, address string) (*Sender, error) {
	n := d.calls.Add(1)
	if d.err != nil && (d.failures == 0 || n <= d.failures) {
		return nil, d.err
	}
	if s, ok := d.staff[address]; ok {
		return &s, nil
	}
	return nil, nil
}

func (d *fakeDirectory) LookupCustomer(_ context.Context, _, address string) (*Sender, error) {
	if s, ok := d.customers[address]; ok {
		return &s, nil
	}
	return nil, nil
}

type fakeAvailability struct {
	mu      sync.Mutex
	slots   []Slot
	err     error
	queries []SlotQuery
}

func (a *fakeAvailability) ListSlots(_ context.Context, _ string, q SlotQuery) ([]Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries = append(a.queries, q)
	if a.err != nil {
		return nil, a.err
	}
	return append([]Slot(nil), a.slots...), nil
}

type fakeBooking struct {
	mu          sync.Mutex
	open        map[string]Slot
	upcoming    []BookingRecord
	confirms    int
	rescheduled map[string]string
	cancelled   []string
	err         error
}

func newFakeBooking(slots ...Slot) *fakeBooking {
	b := &fakeBooking{open: make(map[string]Slot), rescheduled: make(map[string]string)}
	for _, s := range slots {
		b.open[s.ID] = s
	}
	return b
}

func (b *fakeBooking) take(slotID string) (Slot, error) {
	slot, ok := b.open[slotID]
	if !ok {
		return Slot{}, ErrSlotUnavailable
	}
	delete(b.open, slotID)
	return slot, nil
}

func (b *fakeBooking) Confirm(_ context.Context, _, slotID string, customer Sender) (BookingRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return BookingRecord{}, b.err
	}
	slot, err := b.take(slotID)
	if err != nil {
		return BookingRecord{}, err
	}
	b.confirms++
	return BookingRecord{ID: "bk-" + slotID, SlotID: slotID, StartsAt: slot.StartsAt, Service: slot.Service, StaffName: slot.StaffName, CustomerID: customer.DirectoryID, Status: "confirmed"}, nil
}

func (b *fakeBooking) Upcoming(context.Context, string, Sender) ([]BookingRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BookingRecord(nil), b.upcoming...), nil
}

func (b *fakeBooking) Cancel(_ context.Context, _, bookingID string, _ Sender) (BookingRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range b.upcoming {
		if rec.ID == bookingID {
			b.cancelled = append(b.cancelled, bookingID)
			rec.Status = "cancelled"
			return rec, nil
		}
	}
	return BookingRecord{}, ErrNotFound
}

func (b *fakeBooking) Reschedule(_ context.Context, _, bookingID, slotID string, _ Sender) (BookingRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, err := b.take(slotID)
	if err != nil {
		return BookingRecord{}, err
	}
	b.rescheduled[bookingID] = slotID
	return BookingRecord{ID: bookingID, SlotID: slotID, StartsAt: slot.StartsAt, Service: slot.Service, Status: "confirmed"}, nil
}

type fakeLoyalty struct {
	balance LoyaltyBalance
	err     error
}

func (l *fakeLoyalty) GetBalance(context.Context, string, string) (LoyaltyBalance, error) {
	return l.balance, l.err
}

type fakeSchedule struct {
	mu           sync.Mutex
	appointments []Appointment
	breaks       [][2]time.Time
	staffIDs     []string
}

func (s *fakeSchedule) ForStaff(_ context.Context, _, staffID string, _ time.Time) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staffIDs = append(s.staffIDs, staffID)
	return s.appointments, nil
}

func (s *fakeSchedule) SetUnavailable(_ context.Context, _, _ string, from, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaks = append(s.breaks, [2]time.Time{from, until})
	return nil
}

type fakeCheckIn struct {
	clients  map[string]Appointment
	marked   []string
	complete []string
}

func (c *fakeCheckIn) Mark(_ context.Context, _, _, client string) (Appointment, error) {
	appt, ok := c.clients[client]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	c.marked = append(c.marked, client)
	return appt, nil
}

func (c *fakeCheckIn) Complete(_ context.Context, _, _, client string) (Appointment, error) {
	appt, ok := c.clients[client]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	c.complete = append(c.complete, client)
	return appt, nil
}

type fakeCatalog struct {
	services []Service
}

func (c *fakeCatalog) ListServices(context.Context, string) ([]Service, error) {
	return c.services, nil
}

type sentReply struct {
	to    string
	reply Reply
}

type recordingSender struct {
	mu       sync.Mutex
	sent     []sentReply
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (s *recordingSender) Send(ctx context.Context, to string, reply Reply) (SendResult, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return SendResult{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentReply{to: to, reply: reply})
	if s.err != nil {
		return SendResult{Attempts: 3}, s.err
	}
	return SendResult{ProviderMessageID: "wamid." + to, Attempts: 1}, nil
}

func (s *recordingSender) replies() []sentReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentReply(nil), s.sent...)
}

func testSlots() []Slot {
	return []Slot{
		{ID: "s1", StartsAt: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), Service: "haircut", StaffName: "Emma", DurationMinutes: 45},
		{ID: "s2", StartsAt: time.Date(2026, 3, 11, 14, 0, 0, 0, time.UTC), Service: "haircut", StaffName: "Emma", DurationMinutes: 45},
		{ID: "s3", StartsAt: time.Date(2026, 3, 11, 18, 30, 0, 0, time.UTC), Service: "haircut", StaffName: "Liam", DurationMinutes: 45},
	}
}

func textEvent(id, from, text string) InboundEvent {
	return InboundEvent{TenantID: "tenant-1", From: from, Text: text, MessageID: id, Type: InboundTypeText}
}

func buttonEvent(id, from, replyID, title string) InboundEvent {
	return InboundEvent{
		TenantID:    "tenant-1",
		From:        from,
		MessageID:   id,
		Type:        InboundTypeInteractive,
		Interactive: &Interactive{Type: "list_reply", ID: replyID, Title: title},
	}
}
