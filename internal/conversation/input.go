package conversation

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Inbound message types accepted from the channel.
const (
	InboundTypeText        = "text"
	InboundTypeInteractive = "interactive"
	InboundTypeImage       = "image"
	InboundTypeDocument    = "document"
)

// InboundEvent is the normalized webhook event handed to the engine.
type InboundEvent struct {
	TenantID    string       `json:"tenant_id"`
	From        string       `json:"from"`
	Text        string       `json:"text"`
	MessageID   string       `json:"message_id"`
	Type        string       `json:"type"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Timestamp   string       `json:"timestamp"`
	ProfileName string       `json:"profile_name,omitempty"`
}

// Interactive carries a button or list selection made by the sender.
type Interactive struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// ReceivedAt parses the provider timestamp (unix seconds or RFC3339), falling back to fallback.
func (e InboundEvent) ReceivedAt(fallback time.Time) time.Time {
	ts := strings.TrimSpace(e.Timestamp)
	if ts == "" {
		return fallback
	}
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		return parsed.UTC()
	}
	return fallback
}

// Payload renders the raw inbound content for the message log. The provider timestamp is kept
// as sent_at; the log row itself is stamped by the engine clock.
func (e InboundEvent) Payload() json.RawMessage {
	body := map[string]any{"type": e.Type}
	if e.Text != "" {
		body["text"] = e.Text
	}
	if e.Interactive != nil {
		body["interactive"] = e.Interactive
	}
	if sentAt := e.ReceivedAt(time.Time{}); !sentAt.IsZero() {
		body["sent_at"] = sentAt.Format(time.RFC3339)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// Input decodes the event into what the classifier consumes.
func (e InboundEvent) Input() Input {
	switch e.Type {
	case InboundTypeInteractive:
		if e.Interactive == nil {
			return Input{Unsupported: true}
		}
		return Input{
			Text:       e.Interactive.Title,
			QuickReply: DecodeQuickReply(e.Interactive.ID, e.Interactive.Title),
		}
	case InboundTypeText, "":
		return Input{Text: e.Text}
	default:
		return Input{Unsupported: true}
	}
}

// Input is the classifier-facing view of an inbound message. QuickReply is nil for free text.
type Input struct {
	Text        string
	QuickReply  QuickReply
	Unsupported bool
}

// Quick-reply id prefixes used on the wire.
const (
	PrefixBooking    = "book_"
	PrefixService    = "svc_"
	PrefixMenu       = "menu_"
	PrefixCancel     = "cancel_"
	PrefixReschedule = "resched_"
)

// QuickReply is a decoded menu selection. Implementations are the Selection types below.
type QuickReply interface {
	quickReply()
}

// BookingSelection picks an offered appointment slot.
type BookingSelection struct{ SlotID string }

// ServiceSelection picks a service from the catalog menu.
type ServiceSelection struct {
	ServiceID string
	Title     string
}

// MenuSelection picks a top-level action from a greeting menu.
type MenuSelection struct{ Action Action }

// CancelSelection picks an upcoming booking to cancel.
type CancelSelection struct{ BookingID string }

// RescheduleSelection picks an upcoming booking to move.
type RescheduleSelection struct{ BookingID string }

// UnknownSelection is any id the engine does not recognize.
type UnknownSelection struct {
	ID    string
	Title string
}

func (BookingSelection) quickReply()    {}
func (ServiceSelection) quickReply()    {}
func (MenuSelection) quickReply()       {}
func (CancelSelection) quickReply()     {}
func (RescheduleSelection) quickReply() {}
func (UnknownSelection) quickReply()    {}

// DecodeQuickReply turns a wire id into a typed selection.
func DecodeQuickReply(id, title string) QuickReply {
	id = strings.TrimSpace(id)
	rest := func(prefix string) (string, bool) {
		if !strings.HasPrefix(id, prefix) {
			return "", false
		}
		v := strings.TrimSpace(strings.TrimPrefix(id, prefix))
		return v, v != ""
	}
	if v, ok := rest(PrefixBooking); ok {
		return BookingSelection{SlotID: v}
	}
	if v, ok := rest(PrefixService); ok {
		return ServiceSelection{ServiceID: v, Title: title}
	}
	if v, ok := rest(PrefixMenu); ok {
		return MenuSelection{Action: Action(v)}
	}
	if v, ok := rest(PrefixCancel); ok {
		return CancelSelection{BookingID: v}
	}
	if v, ok := rest(PrefixReschedule); ok {
		return RescheduleSelection{BookingID: v}
	}
	return UnknownSelection{ID: id, Title: title}
}

// BookingOptionID encodes a slot id for a menu row.
func BookingOptionID(slotID string) string { return PrefixBooking + slotID }

// ServiceOptionID encodes a service id for a menu row.
func ServiceOptionID(serviceID string) string { return PrefixService + serviceID }

// MenuOptionID encodes a top-level action for a menu button.
func MenuOptionID(action Action) string { return PrefixMenu + string(action) }

// CancelOptionID encodes a booking id for a cancellation menu row.
func CancelOptionID(bookingID string) string { return PrefixCancel + bookingID }

// RescheduleOptionID encodes a booking id for a reschedule menu row.
func RescheduleOptionID(bookingID string) string { return PrefixReschedule + bookingID }
