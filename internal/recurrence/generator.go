package recurrence

import (
	"fmt"
	"iter"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultMaxSteps caps how many candidate dates one expansion may inspect. A count
// condition raises the cap to its count plus the number of skip dates, so AfterCount
// is never cut short.
const DefaultMaxSteps = 5000

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Generate expands rule from start into civil dates. The sequence is lazy, finite and
// restartable: it stops at the earlier of end and horizon (both inclusive), and every
// range over it expands again from start.
//
// Skip dates are dropped before the count limit is applied, so with AfterCount(n) the
// sequence still yields n dates and runs past a skipped one. Counts above MaxCount are
// rejected. Open-ended expansions stop after DefaultMaxSteps candidates.
func Generate(rule Rule, start time.Time, end EndCondition, skipDates []time.Time, horizon time.Time) (iter.Seq[time.Time], error) {
	return generate(rule, start, end, skipDates, horizon, DefaultMaxSteps)
}

func generate(rule Rule, start time.Time, end EndCondition, skipDates []time.Time, horizon time.Time, maxSteps int) (iter.Seq[time.Time], error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := end.Validate(); err != nil {
		return nil, err
	}
	if start.IsZero() {
		return nil, fmt.Errorf("generate: start date is required")
	}
	if horizon.IsZero() {
		return nil, fmt.Errorf("generate: horizon is required")
	}

	start = DateOf(start)
	limit := DateOf(horizon)
	if end.Type == EndOnDate && DateOf(end.Until).Before(limit) {
		limit = DateOf(end.Until)
	}
	rr, err := toRRule(rule.Anchor(start), start)
	if err != nil {
		return nil, err
	}
	skips := NewDateSet(skipDates)
	if end.Type == EndAfterCount && end.Count+len(skipDates) > maxSteps {
		maxSteps = end.Count + len(skipDates)
	}

	return func(yield func(time.Time) bool) {
		if limit.Before(start) {
			return
		}
		next := rr.Iterator()
		emitted := 0
		for step := 0; step < maxSteps; step++ {
			d, ok := next()
			if !ok {
				return
			}
			d = DateOf(d)
			if d.After(limit) {
				return
			}
			if skips.Has(d) {
				continue
			}
			if !yield(d) {
				return
			}
			emitted++
			if end.Type == EndAfterCount && emitted >= end.Count {
				return
			}
		}
	}, nil
}

// Dates collects Generate into a slice.
func Dates(rule Rule, start time.Time, end EndCondition, skipDates []time.Time, horizon time.Time) ([]time.Time, error) {
	seq, err := Generate(rule, start, end, skipDates, horizon)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for d := range seq {
		out = append(out, d)
	}
	return out, nil
}

// CountBefore returns how many dates the rule yields strictly before cutoff.
func CountBefore(rule Rule, start time.Time, skipDates []time.Time, cutoff time.Time) (int, error) {
	cutoff = DateOf(cutoff)
	if !cutoff.After(DateOf(start)) {
		return 0, nil
	}
	seq, err := Generate(rule, start, Never(), skipDates, cutoff.AddDate(0, 0, -1))
	if err != nil {
		return 0, err
	}
	n := 0
	for range seq {
		n++
	}
	return n, nil
}

func toRRule(rule Rule, start time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart:  start,
		Interval: rule.Interval,
		Wkst:     rrule.MO,
	}
	switch rule.Frequency {
	case Daily:
		opt.Freq = rrule.DAILY
	case Weekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range SortWeekdays(rule.Weekdays) {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	case Monthly:
		opt.Freq = rrule.MONTHLY
		if rule.MonthDay > 0 {
			opt.Bymonthday = []int{rule.MonthDay}
		} else {
			wd := rruleWeekdays[rule.OrdinalWeekday]
			opt.Byweekday = []rrule.Weekday{wd.Nth(rule.Ordinal)}
		}
	}
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, invalid(rule.String(), "%v", err)
	}
	return rr, nil
}
