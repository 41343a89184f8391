package conversation

import (
	"encoding/json"
	"time"
)

// Role identifies who is on the other end of a conversation.
type Role string

const (
	RoleStaff     Role = "staff"
	RoleCustomer  Role = "customer"
	RoleAnonymous Role = "anonymous"
)

// Sender is the resolved identity behind a channel address. It is resolved fresh for every
// inbound message and never persisted by the engine.
type Sender struct {
	Role           Role   `json:"role"`
	ChannelAddress string `json:"channel_address"`
	DirectoryID    string `json:"directory_id,omitempty"`
	DisplayName    string `json:"display_name,omitempty"`
}

// IsStaff reports whether the sender resolved to a staff member.
func (s Sender) IsStaff() bool {
	return s.Role == RoleStaff
}

// Conversation is the durable per-sender dialogue record keyed by tenant and channel address.
type Conversation struct {
	ID                 string    `json:"id"`
	TenantID           string    `json:"tenant_id"`
	ChannelAddress     string    `json:"channel_address"`
	SenderRoleLastSeen Role      `json:"sender_role_last_seen"`
	CreatedAt          time.Time `json:"created_at"`
	Context            Context   `json:"context"`
}

// Flow names a multi-turn interaction that is waiting on the sender.
type Flow string

const (
	FlowAwaitingDate             Flow = "awaiting_date_for_booking"
	FlowAwaitingSlotSelection    Flow = "awaiting_slot_selection"
	FlowAwaitingServiceSelection Flow = "awaiting_service_selection"
	FlowAwaitingCheckInClient    Flow = "awaiting_checkin_client"
)

// FlowOption is a choice that was offered to the sender while a flow is pending.
type FlowOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// PendingFlow is the single in-progress multi-turn interaction of a conversation.
type PendingFlow struct {
	Name      Flow              `json:"name"`
	Entities  map[string]string `json:"entities,omitempty"`
	Options   []FlowOption      `json:"options,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the flow can no longer be continued at now.
func (p *PendingFlow) Expired(now time.Time) bool {
	if p == nil {
		return true
	}
	return !now.Before(p.ExpiresAt)
}

// Context is the small structured state persisted with a conversation after every turn.
type Context struct {
	LastIntent    Action       `json:"last_intent,omitempty"`
	PendingFlow   *PendingFlow `json:"pending_flow,omitempty"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
}

// ActiveFlow returns the pending flow when it exists and has not expired.
func (c Context) ActiveFlow(now time.Time) *PendingFlow {
	if c.PendingFlow == nil || c.PendingFlow.Expired(now) {
		return nil
	}
	return c.PendingFlow
}

// Direction of a logged message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message delivery statuses recorded in the log.
const (
	StatusReceived = "received"
	StatusSent     = "sent"
	StatusFailed   = "failed"
)

// Message is an immutable transcript entry.
type Message struct {
	MessageID         string          `json:"message_id"`
	TenantID          string          `json:"tenant_id"`
	ConversationID    string          `json:"conversation_id"`
	Direction         Direction       `json:"direction"`
	Type              string          `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	ProviderMessageID string          `json:"provider_message_id,omitempty"`
	Status            string          `json:"status"`
	SendAttempts      int             `json:"send_attempts,omitempty"`
	ErrorReason       string          `json:"error_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// WriteResult reports what Append did with a message.
type WriteResult int

const (
	WriteWritten WriteResult = iota
	WriteDuplicate
)

func (r WriteResult) String() string {
	if r == WriteDuplicate {
		return "duplicate"
	}
	return "written"
}

// Action is the classified intent action.
type Action string

const (
	ActionGreeting              Action = "greeting"
	ActionBookAppointment       Action = "book_appointment"
	ActionConfirmBooking        Action = "confirm_booking"
	ActionCancelAppointment     Action = "cancel_appointment"
	ActionConfirmCancellation   Action = "confirm_cancellation"
	ActionRescheduleAppointment Action = "reschedule_appointment"
	ActionRescheduleSelected    Action = "reschedule_selected"
	ActionViewServices          Action = "view_services"
	ActionCheckLoyalty          Action = "check_loyalty"
	ActionStaffSchedule         Action = "staff_schedule"
	ActionStaffCheckIn          Action = "staff_checkin"
	ActionCompleteService       Action = "complete_service"
	ActionStaffBreak            Action = "staff_break"
)

// Entity keys extracted into an Intent.
const (
	EntityDate           = "date"
	EntityTime           = "time"
	EntityService        = "service"
	EntityServiceID      = "service_id"
	EntityPreferredStaff = "preferred_staff"
	EntityClientName     = "client_name"
	EntitySlotID         = "slot_id"
	EntityBookingID      = "booking_id"
	EntityRescheduleOf   = "reschedule_of"
)

// Intent is the classified action plus extracted entities for one inbound message.
type Intent struct {
	Action     Action            `json:"action"`
	Entities   map[string]string `json:"entities,omitempty"`
	Confidence float64           `json:"confidence"`
	// FromFlow is set when the pending flow consumed the input.
	FromFlow bool `json:"from_flow,omitempty"`
}

// Entity returns the named entity or "".
func (i Intent) Entity(key string) string {
	if i.Entities == nil {
		return ""
	}
	return i.Entities[key]
}

// Outcome of a dispatched action.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeBusinessError Outcome = "business_error"
	OutcomeNeedsMoreInfo Outcome = "needs_more_info"
)

// Business error codes surfaced to senders.
const (
	CodeRoleNotPermitted   = "role_not_permitted"
	CodeSlotUnavailable    = "slot_unavailable"
	CodeBookingConflict    = "booking_conflict"
	CodeNotRegistered      = "not_registered"
	CodeClientNotFound     = "client_not_found"
	CodeBookingNotFound    = "booking_not_found"
	CodeServiceUnavailable = "service_unavailable"
)

// ActionResult is what a dispatched action produced.
type ActionResult struct {
	Outcome   Outcome `json:"outcome"`
	Payload   any     `json:"payload,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// ReplyKind is the channel-neutral shape of an outbound reply.
type ReplyKind string

const (
	ReplyText       ReplyKind = "text"
	ReplyButtonMenu ReplyKind = "button_menu"
	ReplyListMenu   ReplyKind = "list_menu"
)

// Option is a selectable row or button in a menu reply.
type Option struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Section groups menu options under an optional title.
type Section struct {
	Title   string   `json:"title,omitempty"`
	Options []Option `json:"options"`
}

// Reply is the channel-neutral outbound payload.
type Reply struct {
	Kind        ReplyKind `json:"kind"`
	Header      string    `json:"header,omitempty"`
	Body        string    `json:"body"`
	ButtonLabel string    `json:"button_label,omitempty"`
	Sections    []Section `json:"sections,omitempty"`
}

// Options flattens every option across sections in order.
func (r Reply) Options() []Option {
	var out []Option
	for _, s := range r.Sections {
		out = append(out, s.Options...)
	}
	return out
}

// TextReply builds a plain text reply.
func TextReply(body string) Reply {
	return Reply{Kind: ReplyText, Body: body}
}
