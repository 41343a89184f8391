package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComposeGreetingMenusPerRole(t *testing.T) {
	c := NewComposer(time.UTC)

	staffReply := c.Compose(ActionGreeting, succeeded(GreetingPayload{Role: RoleStaff, Name: "Emma Stone"}))
	require.Equal(t, ReplyButtonMenu, staffReply.Kind)
	require.Equal(t, "Hi Emma! How can I help you today?", staffReply.Body)
	require.Len(t, staffReply.Options(), 3)
	require.Equal(t, "menu_staff_schedule", staffReply.Options()[0].ID)

	customerReply := c.Compose(ActionGreeting, succeeded(GreetingPayload{Role: RoleCustomer}))
	for _, opt := range customerReply.Options() {
		require.False(t, strings.Contains(opt.ID, "staff"), "customer menu leaked %s", opt.ID)
	}
}

func TestComposeSlotsGroupedByTimeOfDay(t *testing.T) {
	c := NewComposer(time.UTC)
	reply := c.Compose(ActionBookAppointment, succeeded(SlotsPayload{
		Date:  time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
		Slots: testSlots(),
	}))

	require.Equal(t, ReplyListMenu, reply.Kind)
	require.Len(t, reply.Sections, 3)
	require.Equal(t, "Morning", reply.Sections[0].Title)
	require.Equal(t, "Afternoon", reply.Sections[1].Title)
	require.Equal(t, "Evening", reply.Sections[2].Title)

	first := reply.Sections[0].Options[0]
	require.Equal(t, "book_s1", first.ID)
	require.Equal(t, "Wed 9:00 AM", first.Title)
	require.Equal(t, "haircut with Emma (45 min)", first.Description)
	require.Contains(t, reply.Body, "Wednesday, Mar 11")
}

func TestComposeSkipsEmptyGroups(t *testing.T) {
	c := NewComposer(time.UTC)
	reply := c.Compose(ActionBookAppointment, succeeded(SlotsPayload{Slots: testSlots()[1:2]}))
	require.Len(t, reply.Sections, 1)
	require.Equal(t, "Afternoon", reply.Sections[0].Title)
}

func TestComposeServicesGroupedByCategory(t *testing.T) {
	c := NewComposer(time.UTC)
	reply := c.Compose(ActionViewServices, succeeded(ServicesPayload{Services: []Service{
		{ID: "1", Name: "Haircut", Category: "Hair", PriceCents: 4500, DurationMinutes: 45},
		{ID: "2", Name: "Facial", Category: "Skin", PriceCents: 8000, Currency: "eur"},
		{ID: "3", Name: "Blowout", Category: "Hair", PriceCents: 3000},
	}}))

	require.Len(t, reply.Sections, 2)
	require.Equal(t, "Hair", reply.Sections[0].Title)
	require.Len(t, reply.Sections[0].Options, 2)
	require.Equal(t, "svc_1", reply.Sections[0].Options[0].ID)
	require.Equal(t, "$45.00 · 45 min", reply.Sections[0].Options[0].Description)
	require.Equal(t, "80.00 EUR", reply.Sections[1].Options[0].Description)
}

func TestComposeErrors(t *testing.T) {
	c := NewComposer(time.UTC)

	denied := c.Compose(ActionStaffSchedule, businessError(CodeRoleNotPermitted))
	require.Equal(t, ReplyText, denied.Kind)
	require.Equal(t, errorMessages[CodeRoleNotPermitted], denied.Body)

	unknown := c.Compose(ActionBookAppointment, businessError("flux_capacitor"))
	require.Equal(t, ApologyMessage, unknown.Body)

	prompt := c.Compose(ActionBookAppointment, needsMoreInfo("Which day?"))
	require.Equal(t, TextReply("Which day?"), prompt)
}

func TestComposeLoyaltyAndSchedule(t *testing.T) {
	c := NewComposer(time.UTC)

	reply := c.Compose(ActionCheckLoyalty, succeeded(LoyaltyPayload{Balance: LoyaltyBalance{Points: 340, Tier: "Gold"}}))
	require.Equal(t, "You have 340 loyalty points (Gold tier).", reply.Body)

	reply = c.Compose(ActionStaffSchedule, succeeded(SchedulePayload{
		Date:         time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Appointments: []Appointment{{ClientName: "Jane Doe", Service: "facial", StartsAt: time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)}},
	}))
	require.Equal(t, "Your appointments on Tuesday, Mar 10:\n10:30 AM Jane Doe (facial)", reply.Body)
}

func TestComposeBookingLists(t *testing.T) {
	c := NewComposer(time.UTC)
	bookings := []BookingRecord{{ID: "bk-1", Service: "massage", StartsAt: time.Date(2026, 3, 12, 15, 0, 0, 0, time.UTC)}}

	cancel := c.Compose(ActionCancelAppointment, succeeded(BookingsPayload{Purpose: ActionCancelAppointment, Bookings: bookings}))
	require.Equal(t, "cancel_bk-1", cancel.Options()[0].ID)

	move := c.Compose(ActionRescheduleAppointment, succeeded(BookingsPayload{Purpose: ActionRescheduleAppointment, Bookings: bookings}))
	require.Equal(t, "resched_bk-1", move.Options()[0].ID)

	none := c.Compose(ActionCancelAppointment, succeeded(BookingsPayload{Purpose: ActionCancelAppointment}))
	require.Equal(t, ReplyText, none.Kind)
}
