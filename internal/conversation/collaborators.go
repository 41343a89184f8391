package conversation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDirectoryUnavailable marks a transient identity lookup failure.
	ErrDirectoryUnavailable = errors.New("conversation: directory unavailable")
	// ErrPersistence marks a conversation or message store failure; the delivery should be retried.
	ErrPersistence = errors.New("conversation: persistence failure")
	// ErrLockNotAcquired is returned when the per-conversation lease could not be taken in time.
	ErrLockNotAcquired = errors.New("conversation: lock not acquired")
	// ErrSendFailed marks an outbound send that exhausted its retries.
	ErrSendFailed = errors.New("conversation: send failed")
	// ErrNotFound is returned by collaborators when the referenced record does not exist.
	ErrNotFound = errors.New("conversation: not found")
	// ErrSlotUnavailable is returned when a slot is unknown or already taken.
	ErrSlotUnavailable = errors.New("conversation: slot unavailable")
	// ErrBookingConflict is returned when a booking changed underneath the request.
	ErrBookingConflict = errors.New("conversation: booking conflict")
)

// Directory looks up known staff and customers by channel address.
// Both lookups return (nil, nil) when the address is unknown.
type Directory interface {
	LookupStaff(ctx context.Context, tenantID, address string) (*Sender, error)
	LookupCustomer(ctx context.Context, tenantID, address string) (*Sender, error)
}

// Slot is a bookable appointment opening.
type Slot struct {
	ID              string    `json:"id"`
	StartsAt        time.Time `json:"starts_at"`
	Service         string    `json:"service"`
	StaffName       string    `json:"staff_name"`
	DurationMinutes int       `json:"duration_minutes"`
}

// SlotQuery narrows an availability lookup. A zero Date means the next open day. Around, when
// set, is the preferred time of day as an offset from local midnight; openings closest to it
// are returned first.
type SlotQuery struct {
	Date    time.Time
	Around  *time.Duration
	Service string
	Staff   string
	Limit   int
}

// BookingRecord is a confirmed appointment.
type BookingRecord struct {
	ID         string    `json:"id"`
	SlotID     string    `json:"slot_id"`
	StartsAt   time.Time `json:"starts_at"`
	Service    string    `json:"service"`
	StaffName  string    `json:"staff_name"`
	CustomerID string    `json:"customer_id,omitempty"`
	Status     string    `json:"status"`
}

// Appointment is a booking as seen from a staff schedule.
type Appointment struct {
	BookingID  string    `json:"booking_id"`
	StartsAt   time.Time `json:"starts_at"`
	ClientName string    `json:"client_name"`
	Service    string    `json:"service"`
	Status     string    `json:"status"`
}

// LoyaltyBalance is a customer's loyalty standing.
type LoyaltyBalance struct {
	Points int    `json:"points"`
	Tier   string `json:"tier"`
}

// Service is a catalog entry.
type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	PriceCents      int64  `json:"price_cents"`
	Currency        string `json:"currency"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Availability lists open slots.
type Availability interface {
	ListSlots(ctx context.Context, tenantID string, q SlotQuery) ([]Slot, error)
}

// Booking confirms and manages customer bookings. Confirm and Reschedule must check live
// availability and return ErrSlotUnavailable when the slot is gone.
type Booking interface {
	Confirm(ctx context.Context, tenantID, slotID string, customer Sender) (BookingRecord, error)
	Upcoming(ctx context.Context, tenantID string, customer Sender) ([]BookingRecord, error)
	Cancel(ctx context.Context, tenantID, bookingID string, customer Sender) (BookingRecord, error)
	Reschedule(ctx context.Context, tenantID, bookingID, slotID string, customer Sender) (BookingRecord, error)
}

// Loyalty reads loyalty balances.
type Loyalty interface {
	GetBalance(ctx context.Context, tenantID, customerID string) (LoyaltyBalance, error)
}

// Schedule reads and adjusts staff schedules.
type Schedule interface {
	ForStaff(ctx context.Context, tenantID, staffID string, date time.Time) ([]Appointment, error)
	SetUnavailable(ctx context.Context, tenantID, staffID string, from, until time.Time) error
}

// CheckIn records client arrivals and completed services. Both return ErrNotFound when no
// matching appointment exists for the staff member today.
type CheckIn interface {
	Mark(ctx context.Context, tenantID, staffID, clientName string) (Appointment, error)
	Complete(ctx context.Context, tenantID, staffID, clientName string) (Appointment, error)
}

// Catalog lists the services a tenant offers.
type Catalog interface {
	ListServices(ctx context.Context, tenantID string) ([]Service, error)
}

// ConversationRepository owns conversation rows.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, tenantID, address string, sender Sender) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
}

// MessageLog is the append-only transcript. Append must be idempotent on
// (tenant, direction, message_id).
type MessageLog interface {
	Append(ctx context.Context, msg Message) (WriteResult, error)
}

// Lease is a held per-conversation lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out per-conversation leases. Acquire waits until ctx is done and then
// returns ErrLockNotAcquired.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// SendResult describes a delivered outbound message.
type SendResult struct {
	ProviderMessageID string
	Attempts          int
}

// ChannelSender transmits a reply to a channel address.
type ChannelSender interface {
	Send(ctx context.Context, to string, reply Reply) (SendResult, error)
}
