package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Describe renders the rule for humans, e.g. "Weekly on Mon, Tue" or
// "Every 2 months on the last Friday, 10 times".
func (r Rule) Describe() string {
	var b strings.Builder
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	switch r.Frequency {
	case Daily:
		if interval == 1 {
			b.WriteString("Daily")
		} else {
			fmt.Fprintf(&b, "Every %d days", interval)
		}
	case Weekly:
		if interval == 1 {
			b.WriteString("Weekly")
		} else {
			fmt.Fprintf(&b, "Every %d weeks", interval)
		}
		if names := WeekdayNames(r.Weekdays); len(names) > 0 {
			b.WriteString(" on ")
			b.WriteString(strings.Join(names, ", "))
		}
	case Monthly:
		if interval == 1 {
			b.WriteString("Monthly")
		} else {
			fmt.Fprintf(&b, "Every %d months", interval)
		}
		switch {
		case r.MonthDay > 0:
			fmt.Fprintf(&b, " on day %d", r.MonthDay)
		case r.Ordinal != 0:
			fmt.Fprintf(&b, " on the %s %s", ordinalWord(r.Ordinal), r.OrdinalWeekday)
		case r.monthlyPattern() == DayOfWeek:
			b.WriteString(" on the same weekday of the month as the first class")
		default:
			b.WriteString(" on the same day of the month as the first class")
		}
	default:
		return "Custom schedule"
	}

	switch r.End.Type {
	case EndAfterCount:
		if r.End.Count == 1 {
			b.WriteString(", once")
		} else {
			fmt.Fprintf(&b, ", %d times", r.End.Count)
		}
	case EndOnDate:
		fmt.Fprintf(&b, ", until %s", r.End.Until.Format("Jan 2, 2006"))
	}
	return b.String()
}

func ordinalWord(n int) string {
	switch n {
	case LastWeek:
		return "last"
	case 1:
		return "1st"
	case 2:
		return "2nd"
	case 3:
		return "3rd"
	default:
		return fmt.Sprintf("%dth", n)
	}
}

// WeekdayNames renders weekdays as short names ordered Monday first.
func WeekdayNames(days []time.Weekday) []string {
	out := make([]string, 0, len(days))
	for _, wd := range SortWeekdays(days) {
		out = append(out, wd.String()[:3])
	}
	return out
}
