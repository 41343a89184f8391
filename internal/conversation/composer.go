package conversation

import (
	"fmt"
	"strings"
	"time"
)

// ApologyMessage is sent whenever a turn fails or an error code has no specific wording.
const ApologyMessage = "Sorry, something went wrong on our side. Please try again in a moment."

var errorMessages = map[string]string{
	CodeRoleNotPermitted:   "Sorry, that option isn't available from this number.",
	CodeSlotUnavailable:    "That time was just taken. Ask to book again and I'll send fresh openings.",
	CodeBookingConflict:    "That booking changed while we were updating it. Please try again.",
	CodeNotRegistered:      "I couldn't find a loyalty account for this number. Book a visit to join!",
	CodeClientNotFound:     "I couldn't find an appointment for that client today.",
	CodeBookingNotFound:    "I couldn't find that booking. It may already have been cancelled.",
	CodeServiceUnavailable: "Our booking system is unavailable right now. Please try again shortly.",
}

type menuEntry struct {
	action Action
	title  string
}

var greetingMenus = map[Role][]menuEntry{
	RoleStaff: {
		{ActionStaffSchedule, "My schedule"},
		{ActionStaffCheckIn, "Check in client"},
		{ActionStaffBreak, "Take a break"},
	},
	RoleCustomer: {
		{ActionBookAppointment, "Book appointment"},
		{ActionViewServices, "Services & prices"},
		{ActionCheckLoyalty, "My points"},
	},
	RoleAnonymous: {
		{ActionBookAppointment, "Book appointment"},
		{ActionViewServices, "Services & prices"},
		{ActionRescheduleAppointment, "Reschedule"},
	},
}

// Composer renders action results as channel-neutral replies. It has no side effects.
type Composer struct {
	location *time.Location
}

// NewComposer builds a composer rendering times in loc (UTC when nil).
func NewComposer(loc *time.Location) *Composer {
	if loc == nil {
		loc = time.UTC
	}
	return &Composer{location: loc}
}

// Compose maps the result of action to a Reply.
func (c *Composer) Compose(action Action, result ActionResult) Reply {
	switch result.Outcome {
	case OutcomeBusinessError:
		return ErrorReply(result.ErrorCode)
	case OutcomeNeedsMoreInfo:
		if result.Message == "" {
			return TextReply("Could you tell me a bit more?")
		}
		return TextReply(result.Message)
	}

	switch p := result.Payload.(type) {
	case GreetingPayload:
		return c.greeting(p)
	case SlotsPayload:
		return c.slots(p)
	case BookingPayload:
		return c.booked(p)
	case BookingsPayload:
		return c.bookings(p)
	case CancellationPayload:
		return TextReply(fmt.Sprintf("Your %s on %s is cancelled.", serviceName(p.Booking.Service), c.when(p.Booking.StartsAt)))
	case ServicesPayload:
		return c.services(p)
	case LoyaltyPayload:
		return c.loyalty(p)
	case SchedulePayload:
		return c.schedule(p)
	case CheckInPayload:
		return c.checkIn(p)
	case BreakPayload:
		return TextReply(fmt.Sprintf("You're marked unavailable until %s.", c.clock(p.Until)))
	}

	if action == ActionGreeting {
		return c.greeting(GreetingPayload{Role: RoleAnonymous})
	}
	return TextReply("Done.")
}

// ErrorReply renders a business error code, falling back to the generic apology.
func ErrorReply(code string) Reply {
	if msg, ok := errorMessages[code]; ok {
		return TextReply(msg)
	}
	return TextReply(ApologyMessage)
}

func (c *Composer) greeting(p GreetingPayload) Reply {
	menu, ok := greetingMenus[p.Role]
	if !ok {
		menu = greetingMenus[RoleAnonymous]
	}
	body := "Hi! How can I help you today?"
	if name := firstName(p.Name); name != "" {
		body = fmt.Sprintf("Hi %s! How can I help you today?", name)
	}
	options := make([]Option, 0, len(menu))
	for _, m := range menu {
		options = append(options, Option{ID: MenuOptionID(m.action), Title: m.title})
	}
	return Reply{Kind: ReplyButtonMenu, Body: body, Sections: []Section{{Options: options}}}
}

func (c *Composer) slots(p SlotsPayload) Reply {
	var morning, afternoon, evening []Option
	for _, s := range p.Slots {
		local := s.StartsAt.In(c.location)
		opt := Option{
			ID:          BookingOptionID(s.ID),
			Title:       local.Format("Mon 3:04 PM"),
			Description: slotDescription(s),
		}
		switch h := local.Hour(); {
		case h < 12:
			morning = append(morning, opt)
		case h < 17:
			afternoon = append(afternoon, opt)
		default:
			evening = append(evening, opt)
		}
	}

	var sections []Section
	for _, group := range []Section{
		{Title: "Morning", Options: morning},
		{Title: "Afternoon", Options: afternoon},
		{Title: "Evening", Options: evening},
	} {
		if len(group.Options) > 0 {
			sections = append(sections, group)
		}
	}

	body := "Here are the next openings. Pick a time:"
	if !p.Date.IsZero() {
		body = fmt.Sprintf("Here are the openings for %s. Pick a time:", p.Date.Format("Monday, Jan 2"))
	}
	if p.Rescheduling {
		body = "Pick a new time for your appointment:"
	}
	return Reply{Kind: ReplyListMenu, Header: "Available times", Body: body, ButtonLabel: "View times", Sections: sections}
}

func slotDescription(s Slot) string {
	var parts []string
	if s.Service != "" {
		parts = append(parts, serviceName(s.Service))
	}
	if s.StaffName != "" {
		parts = append(parts, "with "+s.StaffName)
	}
	if s.DurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("(%d min)", s.DurationMinutes))
	}
	return strings.Join(parts, " ")
}

func (c *Composer) booked(p BookingPayload) Reply {
	b := p.Booking
	verb := "You're booked"
	if p.Rescheduled {
		verb = "Your appointment is moved"
	}
	msg := fmt.Sprintf("%s for %s on %s", verb, serviceName(b.Service), c.when(b.StartsAt))
	if b.StaffName != "" {
		msg += " with " + b.StaffName
	}
	return TextReply(msg + ". See you then!")
}

func (c *Composer) bookings(p BookingsPayload) Reply {
	if len(p.Bookings) == 0 {
		return TextReply("You have no upcoming appointments. Would you like to book one?")
	}
	encode, body := CancelOptionID, "Which appointment would you like to cancel?"
	if p.Purpose == ActionRescheduleAppointment {
		encode, body = RescheduleOptionID, "Which appointment would you like to move?"
	}
	options := make([]Option, 0, len(p.Bookings))
	for _, b := range p.Bookings {
		options = append(options, Option{
			ID:          encode(b.ID),
			Title:       b.StartsAt.In(c.location).Format("Mon Jan 2 3:04 PM"),
			Description: serviceName(b.Service),
		})
	}
	return Reply{Kind: ReplyListMenu, Header: "Your appointments", Body: body, ButtonLabel: "Choose", Sections: []Section{{Options: options}}}
}

func (c *Composer) services(p ServicesPayload) Reply {
	if len(p.Services) == 0 {
		return TextReply("We don't have any services listed yet.")
	}
	var order []string
	byCategory := map[string][]Option{}
	for _, s := range p.Services {
		category := s.Category
		if category == "" {
			category = "Services"
		}
		if _, seen := byCategory[category]; !seen {
			order = append(order, category)
		}
		byCategory[category] = append(byCategory[category], Option{
			ID:          ServiceOptionID(s.ID),
			Title:       s.Name,
			Description: servicePrice(s),
		})
	}
	sections := make([]Section, 0, len(order))
	for _, category := range order {
		sections = append(sections, Section{Title: category, Options: byCategory[category]})
	}
	return Reply{Kind: ReplyListMenu, Header: "Our services", Body: "Pick a service to see openings:", ButtonLabel: "View services", Sections: sections}
}

func servicePrice(s Service) string {
	var parts []string
	if s.PriceCents > 0 {
		currency := s.Currency
		if currency == "" || strings.EqualFold(currency, "USD") {
			parts = append(parts, fmt.Sprintf("$%d.%02d", s.PriceCents/100, s.PriceCents%100))
		} else {
			parts = append(parts, fmt.Sprintf("%d.%02d %s", s.PriceCents/100, s.PriceCents%100, strings.ToUpper(currency)))
		}
	}
	if s.DurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("%d min", s.DurationMinutes))
	}
	return strings.Join(parts, " · ")
}

func (c *Composer) loyalty(p LoyaltyPayload) Reply {
	tier := p.Balance.Tier
	if tier == "" {
		return TextReply(fmt.Sprintf("You have %d loyalty points.", p.Balance.Points))
	}
	return TextReply(fmt.Sprintf("You have %d loyalty points (%s tier).", p.Balance.Points, tier))
}

func (c *Composer) schedule(p SchedulePayload) Reply {
	day := p.Date.Format("Monday, Jan 2")
	if len(p.Appointments) == 0 {
		return TextReply(fmt.Sprintf("No appointments on %s.", day))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your appointments on %s:", day)
	for _, a := range p.Appointments {
		fmt.Fprintf(&b, "\n%s %s", c.clock(a.StartsAt), a.ClientName)
		if a.Service != "" {
			fmt.Fprintf(&b, " (%s)", serviceName(a.Service))
		}
	}
	return TextReply(b.String())
}

func (c *Composer) checkIn(p CheckInPayload) Reply {
	name := p.Appointment.ClientName
	if p.Completed {
		return TextReply(fmt.Sprintf("Marked %s's %s as complete.", name, serviceName(p.Appointment.Service)))
	}
	return TextReply(fmt.Sprintf("%s is checked in for %s at %s.", name, serviceName(p.Appointment.Service), c.clock(p.Appointment.StartsAt)))
}

func (c *Composer) when(t time.Time) string {
	return t.In(c.location).Format("Monday, Jan 2 at 3:04 PM")
}

func (c *Composer) clock(t time.Time) string {
	return t.In(c.location).Format("3:04 PM")
}

func serviceName(s string) string {
	if s == "" {
		return "appointment"
	}
	return s
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
