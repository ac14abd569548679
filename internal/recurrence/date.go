package recurrence

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for civil dates.
const DateLayout = "2006-01-02"

const ruleDateLayout = "20060102"

// DateOf truncates t to its calendar date, expressed as midnight UTC. All dates in this
// package are civil dates in that form so they compare with Equal and sort with Before.
func DateOf(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a civil date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// parseRuleDate accepts the RFC 5545 DATE and DATE-TIME forms and keeps only the date.
func parseRuleDate(value string) (time.Time, error) {
	for _, layout := range []string{ruleDateLayout, "20060102T150405Z", "20060102T150405", DateLayout} {
		if t, err := time.Parse(layout, value); err == nil {
			return DateOf(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", value)
}

// DateSet is a set of civil dates.
type DateSet map[time.Time]struct{}

// NewDateSet normalises dates with DateOf.
func NewDateSet(dates []time.Time) DateSet {
	set := make(DateSet, len(dates))
	for _, d := range dates {
		set[DateOf(d)] = struct{}{}
	}
	return set
}

// Has reports whether the date of t is in the set.
func (s DateSet) Has(t time.Time) bool {
	_, ok := s[DateOf(t)]
	return ok
}

// EndType selects how a series ends.
type EndType string

const (
	EndNever      EndType = "never"
	EndOnDate     EndType = "on_date"
	EndAfterCount EndType = "after_count"
)

// EndCondition bounds generation by date or count. The zero value means never.
type EndCondition struct {
	Type  EndType
	Until time.Time
	Count int
}

// Never is an open-ended condition, bounded only by the generation horizon.
func Never() EndCondition { return EndCondition{Type: EndNever} }

// OnDate ends generation after the given date (inclusive).
func OnDate(until time.Time) EndCondition {
	return EndCondition{Type: EndOnDate, Until: DateOf(until)}
}

// MaxCount is the largest occurrence count an AfterCount condition accepts.
const MaxCount = 1000

// AfterCount ends generation after n occurrences. n must be between 1 and MaxCount.
func AfterCount(n int) EndCondition { return EndCondition{Type: EndAfterCount, Count: n} }

// IsNever reports whether the condition is open-ended.
func (e EndCondition) IsNever() bool {
	return e.Type == "" || e.Type == EndNever
}

// Validate checks the condition's fields against its type.
func (e EndCondition) Validate() error {
	return e.validate("")
}

func (e EndCondition) validate(spec string) error {
	switch e.Type {
	case "", EndNever:
		return nil
	case EndOnDate:
		if e.Until.IsZero() {
			return invalid(spec, "end date is required")
		}
	case EndAfterCount:
		if e.Count < 1 {
			return invalid(spec, "occurrence count must be at least 1")
		}
		if e.Count > MaxCount {
			return invalid(spec, "occurrence count must be at most %d", MaxCount)
		}
	default:
		return invalid(spec, "unsupported end type %q", e.Type)
	}
	return nil
}
