package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Vocabulary is the fixed term list used for best-effort entity extraction.
type Vocabulary struct {
	Services []string
	Staff    []string
}

// DefaultVocabulary covers the salon/spa verticals the suite ships with.
var DefaultVocabulary = Vocabulary{
	Services: []string{
		"haircut", "hair color", "highlights", "blowout", "beard trim", "shave",
		"manicure", "pedicure", "facial", "massage", "waxing", "eyebrows",
	},
	Staff: []string{"emma", "olivia", "sophia", "mia", "liam", "noah", "james", "lucas"},
}

type keywordRule struct {
	action   Action
	keywords []string
}

// Rules are evaluated top to bottom; the first keyword hit wins.
var customerRules = []keywordRule{
	{ActionCancelAppointment, []string{"cancel"}},
	{ActionRescheduleAppointment, []string{"reschedule"}},
	{ActionBookAppointment, []string{"book", "appointment"}},
	{ActionViewServices, []string{"service", "price"}},
	{ActionCheckLoyalty, []string{"points", "loyalty"}},
}

var staffRules = []keywordRule{
	{ActionStaffCheckIn, []string{"check in", "check-in", "checkin"}},
	{ActionStaffSchedule, []string{"schedule", "appointments"}},
	{ActionCompleteService, []string{"complete"}},
	{ActionStaffBreak, []string{"break", "unavailable"}},
}

var (
	timePattern     = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	checkInPattern  = regexp.MustCompile(`(?i)\bcheck[\s-]?in\b(.*)$`)
	completePattern = regexp.MustCompile(`(?i)\bcomplete(?:d)?\b(.*)$`)
	durationPattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(m|min|mins|minutes|h|hr|hrs|hour|hours)\b`)
	optionIndex     = regexp.MustCompile(`^\s*#?(\d{1,2})\s*[.)]?\s*$`)
)

const (
	// EntityDurationMinutes is the requested break length.
	EntityDurationMinutes = "duration_minutes"
	// EntityFlowAction records which staff action a client-name prompt belongs to.
	EntityFlowAction = "flow_action"
)

// Classifier turns inbound input into an Intent using a role-scoped keyword table. It never
// fails: anything it cannot place becomes a greeting.
type Classifier struct {
	vocab    Vocabulary
	location *time.Location
}

// NewClassifier builds a classifier. Dates are resolved in loc (UTC when nil).
func NewClassifier(vocab Vocabulary, loc *time.Location) *Classifier {
	if len(vocab.Services) == 0 && len(vocab.Staff) == 0 {
		vocab = DefaultVocabulary
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{vocab: vocab, location: loc}
}

// Classify resolves the intent for one message. Typed quick replies win outright, then an
// active pending flow gets the first chance to consume the input, then keyword rules run.
func (c *Classifier) Classify(in Input, role Role, pending *PendingFlow, now time.Time) Intent {
	if in.Unsupported {
		return greetingIntent()
	}
	if pending != nil && pending.Expired(now) {
		pending = nil
	}

	if intent, ok := c.fromQuickReply(in.QuickReply, pending); ok {
		return intent
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return greetingIntent()
	}

	if pending != nil {
		if intent, ok := c.continueFlow(text, role, pending, now); ok {
			return intent
		}
	}

	return c.fromRules(text, role, now)
}

func greetingIntent() Intent {
	return Intent{Action: ActionGreeting}
}

func (c *Classifier) fromQuickReply(qr QuickReply, pending *PendingFlow) (Intent, bool) {
	switch sel := qr.(type) {
	case BookingSelection:
		entities := map[string]string{EntitySlotID: sel.SlotID}
		if pending != nil && pending.Entities[EntityRescheduleOf] != "" {
			entities[EntityRescheduleOf] = pending.Entities[EntityRescheduleOf]
		}
		return Intent{Action: ActionConfirmBooking, Entities: entities, Confidence: 1}, true
	case ServiceSelection:
		entities := map[string]string{EntityServiceID: sel.ServiceID}
		if name := strings.ToLower(strings.TrimSpace(sel.Title)); name != "" {
			entities[EntityService] = name
		}
		return Intent{Action: ActionBookAppointment, Entities: entities, Confidence: 1}, true
	case MenuSelection:
		if !knownAction(sel.Action) {
			return greetingIntent(), true
		}
		return Intent{Action: sel.Action, Confidence: 1}, true
	case CancelSelection:
		return Intent{
			Action:     ActionConfirmCancellation,
			Entities:   map[string]string{EntityBookingID: sel.BookingID},
			Confidence: 1,
		}, true
	case RescheduleSelection:
		return Intent{
			Action:     ActionRescheduleSelected,
			Entities:   map[string]string{EntityBookingID: sel.BookingID},
			Confidence: 1,
		}, true
	}
	return Intent{}, false
}

func (c *Classifier) continueFlow(text string, role Role, flow *PendingFlow, now time.Time) (Intent, bool) {
	lower := strings.ToLower(text)
	switch flow.Name {
	case FlowAwaitingDate:
		date := c.extractDate(lower, now)
		if date == "" {
			return Intent{}, false
		}
		entities := copyEntities(flow.Entities)
		c.mergeBookingEntities(entities, lower, now)
		entities[EntityDate] = date
		return Intent{Action: ActionBookAppointment, Entities: entities, Confidence: 1, FromFlow: true}, true

	case FlowAwaitingSlotSelection:
		slotID := matchOption(lower, flow.Options)
		if slotID == "" {
			return Intent{}, false
		}
		entities := map[string]string{EntitySlotID: slotID}
		if v := flow.Entities[EntityRescheduleOf]; v != "" {
			entities[EntityRescheduleOf] = v
		}
		return Intent{Action: ActionConfirmBooking, Entities: entities, Confidence: 1, FromFlow: true}, true

	case FlowAwaitingServiceSelection:
		service := firstTerm(lower, c.vocab.Services)
		if service == "" {
			return Intent{}, false
		}
		entities := copyEntities(flow.Entities)
		c.mergeBookingEntities(entities, lower, now)
		return Intent{Action: ActionBookAppointment, Entities: entities, Confidence: 1, FromFlow: true}, true

	case FlowAwaitingCheckInClient:
		if role != RoleStaff || matchRule(lower, staffRules) != "" {
			return Intent{}, false
		}
		name := trimName(text)
		if name == "" {
			return Intent{}, false
		}
		action := ActionStaffCheckIn
		if Action(flow.Entities[EntityFlowAction]) == ActionCompleteService {
			action = ActionCompleteService
		}
		return Intent{
			Action:     action,
			Entities:   map[string]string{EntityClientName: name},
			Confidence: 1,
			FromFlow:   true,
		}, true
	}
	return Intent{}, false
}

func (c *Classifier) fromRules(text string, role Role, now time.Time) Intent {
	lower := strings.ToLower(text)

	rules := customerRules
	if role == RoleStaff {
		rules = staffRules
	}
	action := matchRule(lower, rules)
	if action == "" {
		return greetingIntent()
	}

	intent := Intent{Action: action, Entities: map[string]string{}, Confidence: 1}
	switch action {
	case ActionBookAppointment, ActionRescheduleAppointment:
		c.mergeBookingEntities(intent.Entities, lower, now)
	case ActionStaffSchedule:
		if date := c.extractDate(lower, now); date != "" {
			intent.Entities[EntityDate] = date
		}
	case ActionStaffCheckIn:
		if m := checkInPattern.FindStringSubmatch(text); m != nil {
			if name := trimName(m[1]); name != "" {
				intent.Entities[EntityClientName] = name
			}
		}
	case ActionCompleteService:
		if m := completePattern.FindStringSubmatch(text); m != nil {
			if name := trimName(stripLeadingWords(m[1], "service", "for", "with")); name != "" {
				intent.Entities[EntityClientName] = name
			}
		}
	case ActionStaffBreak:
		if minutes := extractDurationMinutes(lower); minutes > 0 {
			intent.Entities[EntityDurationMinutes] = strconv.Itoa(minutes)
		}
	}
	if len(intent.Entities) == 0 {
		intent.Entities = nil
	}
	return intent
}

func (c *Classifier) mergeBookingEntities(entities map[string]string, lower string, now time.Time) {
	if date := c.extractDate(lower, now); date != "" {
		entities[EntityDate] = date
	}
	if t := extractTime(lower); t != "" {
		entities[EntityTime] = t
	}
	if service := firstTerm(lower, c.vocab.Services); service != "" {
		entities[EntityService] = service
	}
	if staff := firstTerm(lower, c.vocab.Staff); staff != "" {
		entities[EntityPreferredStaff] = staff
	}
}

// extractDate understands today, tomorrow, weekday names and ISO dates.
func (c *Classifier) extractDate(lower string, now time.Time) string {
	local := now.In(c.location)
	switch {
	case containsWord(lower, "today"):
		return local.Format(time.DateOnly)
	case containsWord(lower, "tomorrow"):
		return local.AddDate(0, 0, 1).Format(time.DateOnly)
	}
	if m := isoDatePattern.FindStringSubmatch(lower); m != nil {
		if _, err := time.ParseInLocation(time.DateOnly, m[1], c.location); err == nil {
			return m[1]
		}
	}
	for offset := 0; offset < 7; offset++ {
		day := local.AddDate(0, 0, offset)
		if containsWord(lower, strings.ToLower(day.Weekday().String())) {
			return day.Format(time.DateOnly)
		}
	}
	return ""
}

func extractTime(lower string) string {
	m := timePattern.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 1 || hour > 12 {
		return ""
	}
	if m[2] != "" && m[2] != "00" {
		return strconv.Itoa(hour) + ":" + m[2] + m[3]
	}
	return strconv.Itoa(hour) + m[3]
}

func extractDurationMinutes(lower string) int {
	m := durationPattern.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	if strings.HasPrefix(m[2], "h") {
		return n * 60
	}
	return n
}

func matchRule(lower string, rules []keywordRule) Action {
	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.action
			}
		}
	}
	return ""
}

// matchOption resolves a typed reply against offered options, by 1-based index or by the
// option label (a normalized time such as "2pm").
func matchOption(lower string, options []FlowOption) string {
	if m := optionIndex.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= len(options) {
			return options[n-1].ID
		}
	}
	t := extractTime(lower)
	if t == "" {
		return ""
	}
	for _, opt := range options {
		if opt.Label == t {
			return opt.ID
		}
	}
	return ""
}

func firstTerm(lower string, terms []string) string {
	for _, term := range terms {
		if containsWord(lower, term) {
			return term
		}
	}
	return ""
}

func containsWord(lower, word string) bool {
	if word == "" {
		return false
	}
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if isBoundary(lower, start-1) && isBoundary(lower, end) {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	b := s[i]
	return !(b >= 'a' && b <= 'z' || b >= '0' && b <= '9')
}

func trimName(s string) string {
	return strings.Trim(strings.TrimSpace(s), " \t:,.-!?")
}

func stripLeadingWords(s string, words ...string) string {
	s = strings.TrimSpace(s)
	for changed := true; changed; {
		changed = false
		lower := strings.ToLower(s)
		for _, w := range words {
			if strings.HasPrefix(lower, w+" ") || lower == w {
				s = strings.TrimSpace(s[len(w):])
				changed = true
				break
			}
		}
	}
	return s
}

func copyEntities(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func knownAction(a Action) bool {
	switch a {
	case ActionGreeting, ActionBookAppointment, ActionConfirmBooking, ActionCancelAppointment,
		ActionConfirmCancellation, ActionRescheduleAppointment, ActionRescheduleSelected,
		ActionViewServices, ActionCheckLoyalty, ActionStaffSchedule, ActionStaffCheckIn,
		ActionCompleteService, ActionStaffBreak:
		return true
	}
	return false
}
