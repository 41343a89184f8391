package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

// Querier is the subset of pgxpool.Pool used by the repository.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository provides persistence helpers for slots, bookings, staff breaks and services.
type Repository struct {
	db Querier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(db Querier) *Repository {
	if db == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: db}
}

// customerKey identifies a booking owner. Anonymous senders are keyed by channel address.
type customerKey struct {
	id      string
	address string
}

func keyFor(s conversation.Sender) customerKey {
	return customerKey{id: s.DirectoryID, address: s.ChannelAddress}
}

const openSlotFilter = `
	NOT s.booked
	AND s.starts_at > $2
	AND NOT EXISTS (
		SELECT 1 FROM staff_breaks b
		WHERE b.tenant_id = s.tenant_id
		  AND b.staff_id = s.staff_id
		  AND b.starts_at < s.starts_at + make_interval(mins => s.duration_minutes)
		  AND b.ends_at > s.starts_at
	)`

// NextOpenDay returns the start time of the earliest open slot after now, or the zero time.
func (r *Repository) NextOpenDay(ctx context.Context, tenantID string, now time.Time, service, staff string) (time.Time, error) {
	var next time.Time
	err := r.db.QueryRow(ctx, `
		SELECT s.starts_at
		FROM slots s
		WHERE s.tenant_id = $1 AND `+openSlotFilter+`
		  AND ($3 = '' OR lower(s.service) = lower($3))
		  AND ($4 = '' OR lower(s.staff_name) = lower($4))
		ORDER BY s.starts_at
		LIMIT 1`,
		tenantID, now, service, staff).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("bookings: next open day: %w", err)
	}
	return next, nil
}

// OpenSlots lists open slots starting in [from, until).
func (r *Repository) OpenSlots(ctx context.Context, tenantID string, now, from, until time.Time, service, staff string, limit int) ([]conversation.Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.starts_at, s.service, s.staff_name, s.duration_minutes
		FROM slots s
		WHERE s.tenant_id = $1 AND `+openSlotFilter+`
		  AND s.starts_at >= $3 AND s.starts_at < $4
		  AND ($5 = '' OR lower(s.service) = lower($5))
		  AND ($6 = '' OR lower(s.staff_name) = lower($6))
		ORDER BY s.starts_at
		LIMIT NULLIF($7, 0)`,
		tenantID, now, from, until, service, staff, limit)
	if err != nil {
		return nil, fmt.Errorf("bookings: list slots: %w", err)
	}
	defer rows.Close()

	var out []conversation.Slot
	for rows.Next() {
		var s conversation.Slot
		if err := rows.Scan(&s.ID, &s.StartsAt, &s.Service, &s.StaffName, &s.DurationMinutes); err != nil {
			return nil, fmt.Errorf("bookings: scan slot: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: list slots: %w", err)
	}
	return out, nil
}

// InsertConfirmed claims the slot and inserts a confirmed booking in one statement. It returns
// conversation.ErrSlotUnavailable when the slot is unknown, taken or in the past.
func (r *Repository) InsertConfirmed(ctx context.Context, tenantID, bookingID, slotID string, customer conversation.Sender, now time.Time) (conversation.BookingRecord, error) {
	var b conversation.BookingRecord
	err := r.db.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE slots
			SET booked = TRUE
			WHERE tenant_id = $1 AND id = $2 AND NOT booked AND starts_at > $3
			RETURNING id, staff_id, staff_name, service, starts_at
		)
		INSERT INTO bookings (id, tenant_id, slot_id, staff_id, staff_name, service, starts_at,
			customer_id, customer_address, client_name, status, created_at, updated_at)
		SELECT $4, $1, id, staff_id, staff_name, service, starts_at,
			NULLIF($5, ''), $6, $7, 'confirmed', $3, $3
		FROM claimed
		RETURNING id, slot_id, starts_at, service, staff_name, COALESCE(customer_id, ''), status`,
		tenantID, slotID, now, bookingID, customer.DirectoryID, customer.ChannelAddress, customer.DisplayName,
	).Scan(&b.ID, &b.SlotID, &b.StartsAt, &b.Service, &b.StaffName, &b.CustomerID, &b.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.BookingRecord{}, conversation.ErrSlotUnavailable
	}
	if err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: insert confirmed: %w", err)
	}
	return b, nil
}

// Upcoming lists the customer's confirmed bookings starting after now.
func (r *Repository) Upcoming(ctx context.Context, tenantID string, customer conversation.Sender, now time.Time) ([]conversation.BookingRecord, error) {
	key := keyFor(customer)
	rows, err := r.db.Query(ctx, `
		SELECT id, slot_id, starts_at, service, staff_name, COALESCE(customer_id, ''), status
		FROM bookings
		WHERE tenant_id = $1
		  AND ((customer_id IS NOT NULL AND customer_id = NULLIF($2, '')) OR customer_address = $3)
		  AND status = 'confirmed'
		  AND starts_at > $4
		ORDER BY starts_at`,
		tenantID, key.id, key.address, now)
	if err != nil {
		return nil, fmt.Errorf("bookings: upcoming: %w", err)
	}
	defer rows.Close()

	var out []conversation.BookingRecord
	for rows.Next() {
		var b conversation.BookingRecord
		if err := rows.Scan(&b.ID, &b.SlotID, &b.StartsAt, &b.Service, &b.StaffName, &b.CustomerID, &b.Status); err != nil {
			return nil, fmt.Errorf("bookings: scan booking: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: upcoming: %w", err)
	}
	return out, nil
}

func lockOwnedBooking(ctx context.Context, tx pgx.Tx, tenantID, bookingID string, customer conversation.Sender) (conversation.BookingRecord, error) {
	key := keyFor(customer)
	var b conversation.BookingRecord
	err := tx.QueryRow(ctx, `
		SELECT id, slot_id, starts_at, service, staff_name, COALESCE(customer_id, ''), status
		FROM bookings
		WHERE tenant_id = $1 AND id = $2
		  AND ((customer_id IS NOT NULL AND customer_id = NULLIF($3, '')) OR customer_address = $4)
		FOR UPDATE`,
		tenantID, bookingID, key.id, key.address,
	).Scan(&b.ID, &b.SlotID, &b.StartsAt, &b.Service, &b.StaffName, &b.CustomerID, &b.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.BookingRecord{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: load booking: %w", err)
	}
	if b.Status != "confirmed" {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: booking is %s: %w", b.Status, conversation.ErrBookingConflict)
	}
	return b, nil
}

// Cancel marks an owned booking cancelled and frees its slot.
func (r *Repository) Cancel(ctx context.Context, tenantID, bookingID string, customer conversation.Sender, now time.Time) (conversation.BookingRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := lockOwnedBooking(ctx, tx, tenantID, bookingID, customer)
	if err != nil {
		return conversation.BookingRecord{}, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE bookings SET status = 'cancelled', updated_at = $3
		WHERE tenant_id = $1 AND id = $2`, tenantID, bookingID, now); err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: cancel: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE slots SET booked = FALSE
		WHERE tenant_id = $1 AND id = $2`, tenantID, b.SlotID); err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: release slot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: commit cancel: %w", err)
	}
	b.Status = "cancelled"
	return b, nil
}

// Reschedule moves an owned booking onto a new open slot and frees the old one.
func (r *Repository) Reschedule(ctx context.Context, tenantID, bookingID, slotID string, customer conversation.Sender, now time.Time) (conversation.BookingRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := lockOwnedBooking(ctx, tx, tenantID, bookingID, customer)
	if err != nil {
		return conversation.BookingRecord{}, err
	}

	var staffID string
	err = tx.QueryRow(ctx, `
		UPDATE slots
		SET booked = TRUE
		WHERE tenant_id = $1 AND id = $2 AND NOT booked AND starts_at > $3
		RETURNING staff_id, staff_name, service, starts_at`,
		tenantID, slotID, now,
	).Scan(&staffID, &b.StaffName, &b.Service, &b.StartsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.BookingRecord{}, conversation.ErrSlotUnavailable
	}
	if err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: claim slot: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE slots SET booked = FALSE
		WHERE tenant_id = $1 AND id = $2`, tenantID, b.SlotID); err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: release slot: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE bookings
		SET slot_id = $3, staff_id = $4, staff_name = $5, service = $6, starts_at = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, bookingID, slotID, staffID, b.StaffName, b.Service, b.StartsAt, now); err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: move booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return conversation.BookingRecord{}, fmt.Errorf("bookings: commit reschedule: %w", err)
	}
	b.SlotID = slotID
	return b, nil
}

// StaffAppointments lists a staff member's bookings starting in [from, until).
func (r *Repository) StaffAppointments(ctx context.Context, tenantID, staffID string, from, until time.Time) ([]conversation.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, starts_at, client_name, service, status
		FROM bookings
		WHERE tenant_id = $1 AND staff_id = $2
		  AND starts_at >= $3 AND starts_at < $4
		  AND status <> 'cancelled'
		ORDER BY starts_at`,
		tenantID, staffID, from, until)
	if err != nil {
		return nil, fmt.Errorf("bookings: staff schedule: %w", err)
	}
	defer rows.Close()

	var out []conversation.Appointment
	for rows.Next() {
		var a conversation.Appointment
		if err := rows.Scan(&a.BookingID, &a.StartsAt, &a.ClientName, &a.Service, &a.Status); err != nil {
			return nil, fmt.Errorf("bookings: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: staff schedule: %w", err)
	}
	return out, nil
}

// InsertBreak records a staff unavailability window.
func (r *Repository) InsertBreak(ctx context.Context, tenantID, staffID string, from, until time.Time) error {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO staff_breaks (tenant_id, staff_id, starts_at, ends_at)
		VALUES ($1, $2, $3, $4)`, tenantID, staffID, from, until); err != nil {
		return fmt.Errorf("bookings: insert break: %w", err)
	}
	return nil
}

// Transition moves the staff member's earliest matching appointment in [from, until) from one of
// the allowed statuses to the target status. Client names match case-insensitively by literal
// prefix.
func (r *Repository) Transition(ctx context.Context, tenantID, staffID, clientName string, from, until time.Time, allowed []string, target string, now time.Time) (conversation.Appointment, error) {
	var a conversation.Appointment
	err := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $7, updated_at = $8
		WHERE id = (
			SELECT id FROM bookings
			WHERE tenant_id = $1 AND staff_id = $2
			  AND starts_with(lower(client_name), lower($3))
			  AND starts_at >= $4 AND starts_at < $5
			  AND status = ANY($6)
			ORDER BY starts_at
			LIMIT 1
		)
		RETURNING id, starts_at, client_name, service, status`,
		tenantID, staffID, clientName, from, until, allowed, target, now,
	).Scan(&a.BookingID, &a.StartsAt, &a.ClientName, &a.Service, &a.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return conversation.Appointment{}, conversation.ErrNotFound
	}
	if err != nil {
		return conversation.Appointment{}, fmt.Errorf("bookings: mark %s: %w", target, err)
	}
	return a, nil
}

// Services lists the tenant's active catalog entries.
func (r *Repository) Services(ctx context.Context, tenantID string) ([]conversation.Service, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, category, price_cents, currency, duration_minutes
		FROM services
		WHERE tenant_id = $1 AND active
		ORDER BY category, name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("bookings: list services: %w", err)
	}
	defer rows.Close()

	var out []conversation.Service
	for rows.Next() {
		var s conversation.Service
		if err := rows.Scan(&s.ID, &s.Name, &s.Category, &s.PriceCents, &s.Currency, &s.DurationMinutes); err != nil {
			return nil, fmt.Errorf("bookings: scan service: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bookings: list services: %w", err)
	}
	return out, nil
}
