package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// IdentityResolver maps a channel address to a Sender: staff first, then customers,
// otherwise anonymous. It never writes anything.
type IdentityResolver struct {
	directory Directory
	tracer    trace.Tracer
}

// NewIdentityResolver builds a resolver over the directory. A nil directory resolves
// every address as anonymous.
func NewIdentityResolver(directory Directory) *IdentityResolver {
	return &IdentityResolver{
		directory: directory,
		tracer:    otel.Tracer("chatengine.internal.conversation.identity"),
	}
}

// Resolve returns the sender for address. Directory failures are wrapped with
// ErrDirectoryUnavailable and never degrade to a guessed role.
func (r *IdentityResolver) Resolve(ctx context.Context, tenantID, address string) (Sender, error) {
	address = NormalizeAddress(address)
	anonymous := Sender{Role: RoleAnonymous, ChannelAddress: address}
	if r == nil || r.directory == nil {
		return anonymous, nil
	}

	ctx, span := r.tracer.Start(ctx, "conversation.resolve_sender")
	defer span.End()
	span.SetAttributes(attribute.String("chatengine.tenant_id", tenantID))

	staff, err := r.directory.LookupStaff(ctx, tenantID, address)
	if err != nil {
		span.RecordError(err)
		return Sender{}, directoryError("lookup staff", err)
	}
	if staff != nil {
		return fillSender(*staff, RoleStaff, address), nil
	}

	customer, err := r.directory.LookupCustomer(ctx, tenantID, address)
	if err != nil {
		span.RecordError(err)
		return Sender{}, directoryError("lookup customer", err)
	}
	if customer != nil {
		return fillSender(*customer, RoleCustomer, address), nil
	}
	return anonymous, nil
}

func fillSender(s Sender, role Role, address string) Sender {
	s.Role = role
	s.ChannelAddress = address
	return s
}

func directoryError(op string, err error) error {
	if errors.Is(err, ErrDirectoryUnavailable) {
		return fmt.Errorf("conversation: %s: %w", op, err)
	}
	return fmt.Errorf("conversation: %s: %w: %v", op, ErrDirectoryUnavailable, err)
}

// NormalizeAddress reduces a phone-like address to its digits. Non-numeric addresses are
// returned trimmed.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	var digits strings.Builder
	for _, r := range address {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')' || r == '.':
		default:
			return address
		}
	}
	if digits.Len() == 0 {
		return address
	}
	return digits.String()
}
