package models

import (
	"time"

	"github.com/lib/pq"

	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
)

// SeriesStatus captures the lifecycle of a recurring class series.
type SeriesStatus string

const (
	SeriesStatusActive SeriesStatus = "active"
	SeriesStatusPaused SeriesStatus = "paused"
	SeriesStatusEnded  SeriesStatus = "ended"
)

// Series is a recurring class definition that generates dated occurrences.
type Series struct {
	ID              string         `db:"id" json:"id"`
	Name            string         `db:"name" json:"name"`
	InstructorID    string         `db:"instructor_id" json:"instructorId"`
	LocationID      string         `db:"location_id" json:"locationId"`
	RoomID          *string        `db:"room_id" json:"roomId,omitempty"`
	Rule            string         `db:"rule" json:"rule"`
	StartDate       time.Time      `db:"start_date" json:"startDate"`
	EndDate         *time.Time     `db:"end_date" json:"endDate,omitempty"`
	OccurrenceCount *int           `db:"occurrence_count" json:"occurrenceCount,omitempty"`
	StartTime       string         `db:"start_time" json:"startTime"`
	EndTime         string         `db:"end_time" json:"endTime"`
	Capacity        int            `db:"capacity" json:"capacity"`
	PriceCents      int64          `db:"price_cents" json:"priceCents"`
	Status          SeriesStatus   `db:"status" json:"status"`
	SkipDates       pq.StringArray `db:"skip_dates" json:"skipDates"`
	ParentSeriesID  *string        `db:"parent_series_id" json:"parentSeriesId,omitempty"`
	Version         int            `db:"version" json:"version"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
}

// ParsedRule parses the stored recurrence rule.
func (s Series) ParsedRule() (recurrence.Rule, error) {
	return recurrence.Parse(s.Rule)
}

// End converts the optional end date or occurrence count into an end condition.
func (s Series) End() recurrence.EndCondition {
	switch {
	case s.EndDate != nil:
		return recurrence.OnDate(*s.EndDate)
	case s.OccurrenceCount != nil:
		return recurrence.AfterCount(*s.OccurrenceCount)
	default:
		return recurrence.Never()
	}
}

// SetEnd stores an end condition on the series, clearing the other kind.
func (s *Series) SetEnd(end recurrence.EndCondition) {
	s.EndDate = nil
	s.OccurrenceCount = nil
	switch end.Type {
	case recurrence.EndOnDate:
		until := recurrence.DateOf(end.Until)
		s.EndDate = &until
	case recurrence.EndAfterCount:
		count := end.Count
		s.OccurrenceCount = &count
	}
}

// SkipDateList returns the parsed skip dates, ignoring malformed entries.
func (s Series) SkipDateList() []time.Time {
	out := make([]time.Time, 0, len(s.SkipDates))
	for _, raw := range s.SkipDates {
		d, err := recurrence.ParseDate(raw)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// HasSkipDate reports whether date is excluded from generation.
func (s Series) HasSkipDate(date time.Time) bool {
	key := recurrence.DateOf(date).Format(recurrence.DateLayout)
	for _, raw := range s.SkipDates {
		if raw == key {
			return true
		}
	}
	return false
}

// Generates reports whether the series may materialize new occurrences.
func (s Series) Generates() bool {
	return s.Status == SeriesStatusActive
}

// SeriesFilter constrains series listing queries.
type SeriesFilter struct {
	Status       []SeriesStatus
	InstructorID string
	LocationID   string
	Page         int
	PageSize     int
}

// DateRange is an inclusive civil date window. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d time.Time) bool {
	d = recurrence.DateOf(d)
	if !r.From.IsZero() && d.Before(recurrence.DateOf(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(recurrence.DateOf(r.To)) {
		return false
	}
	return true
}

// Pagination describes a page of list results.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
