package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRule is matched by every InvalidRuleError.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// InvalidRuleError reports a malformed or unsupported recurrence specification.
type InvalidRuleError struct {
	Spec   string
	Reason string
}

func (e *InvalidRuleError) Error() string {
	if e.Spec == "" {
		return fmt.Sprintf("invalid recurrence rule: %s", e.Reason)
	}
	return fmt.Sprintf("invalid recurrence rule %q: %s", e.Spec, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidRule) hold.
func (e *InvalidRuleError) Is(target error) bool {
	return target == ErrInvalidRule
}

func invalid(spec, format string, args ...any) error {
	return &InvalidRuleError{Spec: spec, Reason: fmt.Sprintf(format, args...)}
}

// Frequency is the base repetition unit of a rule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// MonthlyPattern selects how a monthly rule picks its day.
type MonthlyPattern string

const (
	DayOfMonth MonthlyPattern = "day_of_month"
	DayOfWeek  MonthlyPattern = "day_of_week"
)

// LastWeek is the ordinal for "last <weekday> of the month".
const LastWeek = -1

// Rule is a parsed recurrence pattern.
//
// Monthly rules carry either MonthDay (day_of_month) or Ordinal+OrdinalWeekday
// (day_of_week). When neither is set the pattern is unanchored and Anchor fills it
// from the series start date.
type Rule struct {
	Frequency      Frequency
	Interval       int
	Weekdays       []time.Weekday
	MonthlyPattern MonthlyPattern
	MonthDay       int
	Ordinal        int
	OrdinalWeekday time.Weekday

	// Optional DTSTART / COUNT / UNTIL carried by the serialized form.
	Start time.Time
	End   EndCondition
}

var weekdayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

var codeByWeekday = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

// Parse reads a canonical rule string such as "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,TU".
// An "RRULE:" prefix and DTSTART, COUNT and UNTIL parts are accepted.
func Parse(spec string) (Rule, error) {
	raw := strings.TrimSpace(spec)
	body := raw
	if len(body) >= 6 && strings.EqualFold(body[:6], "RRULE:") {
		body = body[6:]
	}
	if body == "" {
		return Rule{}, invalid(raw, "empty rule")
	}

	rule := Rule{Interval: 1}
	seen := make(map[string]bool)
	var byDay, byMonthDay string

	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, invalid(raw, "malformed part %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if seen[key] {
			return Rule{}, invalid(raw, "duplicate %s", key)
		}
		seen[key] = true

		switch key {
		case "FREQ":
			switch strings.ToUpper(value) {
			case "DAILY":
				rule.Frequency = Daily
			case "WEEKLY":
				rule.Frequency = Weekly
			case "MONTHLY":
				rule.Frequency = Monthly
			default:
				return Rule{}, invalid(raw, "unsupported frequency %q", value)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Rule{}, invalid(raw, "interval %q is not a number", value)
			}
			rule.Interval = n
		case "BYDAY":
			byDay = strings.ToUpper(value)
		case "BYMONTHDAY":
			byMonthDay = value
		case "X-MONTHLY-PATTERN":
			switch strings.ToLower(value) {
			case string(DayOfMonth):
				rule.MonthlyPattern = DayOfMonth
			case string(DayOfWeek):
				rule.MonthlyPattern = DayOfWeek
			default:
				return Rule{}, invalid(raw, "unsupported monthly pattern %q", value)
			}
		case "DTSTART":
			d, err := parseRuleDate(value)
			if err != nil {
				return Rule{}, invalid(raw, "DTSTART: %v", err)
			}
			rule.Start = d
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return Rule{}, invalid(raw, "COUNT must be a positive number")
			}
			if n > MaxCount {
				return Rule{}, invalid(raw, "COUNT must be at most %d", MaxCount)
			}
			rule.End = AfterCount(n)
		case "UNTIL":
			d, err := parseRuleDate(value)
			if err != nil {
				return Rule{}, invalid(raw, "UNTIL: %v", err)
			}
			rule.End = OnDate(d)
		default:
			return Rule{}, invalid(raw, "unsupported key %s", key)
		}
	}

	if seen["COUNT"] && seen["UNTIL"] {
		return Rule{}, invalid(raw, "COUNT and UNTIL are mutually exclusive")
	}
	if rule.Frequency == "" {
		return Rule{}, invalid(raw, "FREQ is required")
	}

	switch rule.Frequency {
	case Daily:
		if byDay != "" || byMonthDay != "" {
			return Rule{}, invalid(raw, "daily rules take no BYDAY or BYMONTHDAY")
		}
	case Weekly:
		if byMonthDay != "" {
			return Rule{}, invalid(raw, "weekly rules take no BYMONTHDAY")
		}
		days, err := parseWeekdayList(byDay)
		if err != nil {
			return Rule{}, invalid(raw, "%v", err)
		}
		rule.Weekdays = days
	case Monthly:
		if byDay != "" && byMonthDay != "" {
			return Rule{}, invalid(raw, "BYDAY and BYMONTHDAY are mutually exclusive")
		}
		if byMonthDay != "" {
			n, err := strconv.Atoi(byMonthDay)
			if err != nil || n < 1 {
				return Rule{}, invalid(raw, "BYMONTHDAY %q must be a day between 1 and 31", byMonthDay)
			}
			rule.MonthDay = n
			rule.MonthlyPattern = DayOfMonth
		}
		if byDay != "" {
			ordinal, wd, err := parseOrdinalWeekday(byDay)
			if err != nil {
				return Rule{}, invalid(raw, "%v", err)
			}
			rule.Ordinal = ordinal
			rule.OrdinalWeekday = wd
			rule.MonthlyPattern = DayOfWeek
		}
		if rule.MonthlyPattern == "" {
			rule.MonthlyPattern = DayOfMonth
		}
	}

	if err := rule.validate(raw); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// MustParse is Parse for rules known to be valid at compile time.
func MustParse(spec string) Rule {
	rule, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return rule
}

// Validate checks the structural constraints of a rule built in code.
func (r Rule) Validate() error {
	return r.validate("")
}

func (r Rule) validate(spec string) error {
	if r.Interval < 1 {
		return invalid(spec, "interval must be at least 1")
	}
	if r.Frequency != Monthly && (r.MonthlyPattern != "" || r.MonthDay != 0 || r.Ordinal != 0) {
		return invalid(spec, "only monthly rules take a monthly pattern")
	}
	switch r.Frequency {
	case Daily:
		if len(r.Weekdays) > 0 {
			return invalid(spec, "daily rules take no weekday set")
		}
	case Weekly:
		if len(r.Weekdays) == 0 {
			return invalid(spec, "weekly rules need at least one weekday")
		}
		for _, wd := range r.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return invalid(spec, "weekday %d out of range", wd)
			}
		}
	case Monthly:
		if len(r.Weekdays) > 0 {
			return invalid(spec, "monthly rules take no weekday set")
		}
		switch r.monthlyPattern() {
		case DayOfMonth:
			if r.Ordinal != 0 {
				return invalid(spec, "day_of_month rules take no ordinal")
			}
			if r.MonthDay < 0 || r.MonthDay > 31 {
				return invalid(spec, "month day %d out of range", r.MonthDay)
			}
		case DayOfWeek:
			if r.MonthDay != 0 {
				return invalid(spec, "day_of_week rules take no month day")
			}
			if r.Ordinal != 0 && r.Ordinal != LastWeek && (r.Ordinal < 1 || r.Ordinal > 5) {
				return invalid(spec, "ordinal %d out of range", r.Ordinal)
			}
		default:
			return invalid(spec, "unsupported monthly pattern %q", r.MonthlyPattern)
		}
	default:
		return invalid(spec, "unsupported frequency %q", r.Frequency)
	}
	return r.End.validate(spec)
}

func (r Rule) monthlyPattern() MonthlyPattern {
	switch {
	case r.MonthDay > 0:
		return DayOfMonth
	case r.Ordinal != 0:
		return DayOfWeek
	case r.MonthlyPattern == "":
		return DayOfMonth
	default:
		return r.MonthlyPattern
	}
}

// Anchored reports whether the rule is fully determined without a start date.
func (r Rule) Anchored() bool {
	if r.Frequency != Monthly {
		return true
	}
	return r.MonthDay > 0 || r.Ordinal != 0
}

// Anchor fills an unanchored monthly pattern from start: the day of month, or the
// ordinal weekday (a fifth weekday becomes "last").
func (r Rule) Anchor(start time.Time) Rule {
	if r.Frequency != Monthly || r.Anchored() {
		return r
	}
	start = DateOf(start)
	out := r
	out.Weekdays = append([]time.Weekday(nil), r.Weekdays...)
	if r.monthlyPattern() == DayOfWeek {
		ordinal := (start.Day()-1)/7 + 1
		if ordinal == 5 {
			ordinal = LastWeek
		}
		out.Ordinal = ordinal
		out.OrdinalWeekday = start.Weekday()
		out.MonthlyPattern = DayOfWeek
		return out
	}
	out.MonthDay = start.Day()
	out.MonthlyPattern = DayOfMonth
	return out
}

// Pattern returns the rule without DTSTART and end condition.
func (r Rule) Pattern() Rule {
	out := r
	out.Weekdays = append([]time.Weekday(nil), r.Weekdays...)
	out.Start = time.Time{}
	out.End = EndCondition{}
	return out
}

// SamePattern reports whether two rules expand identically for the same start and end.
func (r Rule) SamePattern(other Rule) bool {
	return r.Pattern().String() == other.Pattern().String()
}

// String serializes the rule canonically; Parse(r.String()) yields an equal rule.
func (r Rule) String() string {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	parts := make([]string, 0, 6)
	if !r.Start.IsZero() {
		parts = append(parts, "DTSTART="+DateOf(r.Start).Format(ruleDateLayout))
	}
	parts = append(parts, "FREQ="+strings.ToUpper(string(r.Frequency)), "INTERVAL="+strconv.Itoa(interval))

	switch r.Frequency {
	case Weekly:
		codes := make([]string, 0, len(r.Weekdays))
		for _, wd := range SortWeekdays(r.Weekdays) {
			codes = append(codes, codeByWeekday[wd])
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	case Monthly:
		switch {
		case r.MonthDay > 0:
			parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.MonthDay))
		case r.Ordinal != 0:
			parts = append(parts, "BYDAY="+strconv.Itoa(r.Ordinal)+codeByWeekday[r.OrdinalWeekday])
		case r.monthlyPattern() == DayOfWeek:
			parts = append(parts, "X-MONTHLY-PATTERN="+strings.ToUpper(string(DayOfWeek)))
		}
	}

	switch r.End.Type {
	case EndAfterCount:
		parts = append(parts, "COUNT="+strconv.Itoa(r.End.Count))
	case EndOnDate:
		parts = append(parts, "UNTIL="+DateOf(r.End.Until).Format(ruleDateLayout))
	}
	return strings.Join(parts, ";")
}

// SortWeekdays returns a deduplicated copy ordered Monday first.
func SortWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return mondayIndex(out[i]) < mondayIndex(out[j])
	})
	return out
}

func mondayIndex(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

func parseWeekdayList(value string) ([]time.Weekday, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("weekly rules need at least one weekday")
	}
	var days []time.Weekday
	for _, code := range strings.Split(value, ",") {
		code = strings.TrimSpace(code)
		wd, ok := weekdayCodes[code]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", code)
		}
		days = append(days, wd)
	}
	return SortWeekdays(days), nil
}

func parseOrdinalWeekday(value string) (int, time.Weekday, error) {
	if strings.Contains(value, ",") {
		return 0, 0, fmt.Errorf("monthly rules take a single BYDAY entry")
	}
	if len(value) < 3 {
		return 0, 0, fmt.Errorf("monthly BYDAY %q needs an ordinal", value)
	}
	code := value[len(value)-2:]
	wd, ok := weekdayCodes[code]
	if !ok {
		return 0, 0, fmt.Errorf("unknown weekday %q", code)
	}
	ordinal, err := strconv.Atoi(strings.TrimPrefix(value[:len(value)-2], "+"))
	if err != nil {
		return 0, 0, fmt.Errorf("ordinal %q is not a number", value[:len(value)-2])
	}
	if ordinal == 0 {
		return 0, 0, fmt.Errorf("ordinal must not be zero")
	}
	return ordinal, wd, nil
}
