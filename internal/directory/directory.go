// Package directory resolves channel addresses to staff members and customers and serves
// customer loyalty balances from the tenant's Postgres database.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/chat-engine/internal/conversation"
)

// Repository is a read-only directory over the staff and customers tables.
type Repository struct {
	db     *sql.DB
	tracer trace.Tracer
}

var (
	_ conversation.Directory = (*Repository)(nil)
	_ conversation.Loyalty   = (*Repository)(nil)
)

// NewRepository wraps an open database/sql handle (driver "postgres").
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("directory: db cannot be nil")
	}
	return &Repository{db: db, tracer: otel.Tracer("chatengine.internal.directory")}
}

// addressVariants returns the stored spellings an address may have: bare digits and E.164.
func addressVariants(address string) []string {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}
	digits := strings.TrimPrefix(address, "+")
	if digits == address && strings.Trim(address, "0123456789") != "" {
		return []string{address}
	}
	return []string{digits, "+" + digits}
}

// LookupStaff returns the active staff member registered for address, or nil.
func (r *Repository) LookupStaff(ctx context.Context, tenantID, address string) (*conversation.Sender, error) {
	ctx, span := r.tracer.Start(ctx, "directory.lookup_staff")
	defer span.End()
	span.SetAttributes(attribute.String("chatengine.tenant_id", tenantID))

	var s conversation.Sender
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name
		FROM staff
		WHERE tenant_id = $1 AND channel_address = ANY($2) AND active
		LIMIT 1`, tenantID, pq.Array(addressVariants(address))).Scan(&s.DirectoryID, &s.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("directory: lookup staff: %w: %w", conversation.ErrDirectoryUnavailable, err)
	}
	s.Role = conversation.RoleStaff
	return &s, nil
}

// LookupCustomer returns the customer registered for address, or nil.
func (r *Repository) LookupCustomer(ctx context.Context, tenantID, address string) (*conversation.Sender, error) {
	ctx, span := r.tracer.Start(ctx, "directory.lookup_customer")
	defer span.End()
	span.SetAttributes(attribute.String("chatengine.tenant_id", tenantID))

	var s conversation.Sender
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name
		FROM customers
		WHERE tenant_id = $1 AND channel_address = ANY($2)
		LIMIT 1`, tenantID, pq.Array(addressVariants(address))).Scan(&s.DirectoryID, &s.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("directory: lookup customer: %w: %w", conversation.ErrDirectoryUnavailable, err)
	}
	s.Role = conversation.RoleCustomer
	return &s, nil
}

// GetBalance implements conversation.Loyalty.
func (r *Repository) GetBalance(ctx context.Context, tenantID, customerID string) (conversation.LoyaltyBalance, error) {
	ctx, span := r.tracer.Start(ctx, "directory.loyalty_balance")
	defer span.End()

	var b conversation.LoyaltyBalance
	err := r.db.QueryRowContext(ctx, `
		SELECT loyalty_points, loyalty_tier
		FROM customers
		WHERE tenant_id = $1 AND id = $2`, tenantID, customerID).Scan(&b.Points, &b.Tier)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.LoyaltyBalance{}, conversation.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return conversation.LoyaltyBalance{}, fmt.Errorf("directory: loyalty balance: %w", err)
	}
	return b, nil
}
