package models

import "time"

// OccurrenceStatus enumerates occurrence states. Cancelled and completed are terminal.
type OccurrenceStatus string

const (
	OccurrenceStatusScheduled OccurrenceStatus = "scheduled"
	OccurrenceStatusCancelled OccurrenceStatus = "cancelled"
	OccurrenceStatusCompleted OccurrenceStatus = "completed"
)

// Occurrence is one concrete dated instance of a series.
//
// OriginalDate is the slot the rule generated and, together with SeriesID, the
// materialization key. Date differs from it only for a rescheduled exception.
type Occurrence struct {
	ID           string           `db:"id" json:"id"`
	SeriesID     string           `db:"series_id" json:"seriesId"`
	OriginalDate time.Time        `db:"original_date" json:"originalDate"`
	Date         time.Time        `db:"date" json:"date"`
	StartTime    string           `db:"start_time" json:"startTime"`
	EndTime      string           `db:"end_time" json:"endTime"`
	InstructorID string           `db:"instructor_id" json:"instructorId"`
	LocationID   string           `db:"location_id" json:"locationId"`
	RoomID       *string          `db:"room_id" json:"roomId,omitempty"`
	Capacity     int              `db:"capacity" json:"capacity"`
	PriceCents   int64            `db:"price_cents" json:"priceCents"`
	Status       OccurrenceStatus `db:"status" json:"status"`
	IsException  bool             `db:"is_exception" json:"isException"`
	CancelReason *string          `db:"cancel_reason" json:"cancelReason,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updatedAt"`
}

// Active reports whether the occurrence still counts toward an edit scope.
func (o Occurrence) Active() bool {
	return o.Status != OccurrenceStatusCancelled
}

// InheritDefaults copies the series defaults onto a non-exception occurrence.
func (o *Occurrence) InheritDefaults(s Series) {
	o.StartTime = s.StartTime
	o.EndTime = s.EndTime
	o.InstructorID = s.InstructorID
	o.LocationID = s.LocationID
	o.RoomID = s.RoomID
	o.Capacity = s.Capacity
	o.PriceCents = s.PriceCents
}

// NewOccurrence builds a scheduled occurrence for date carrying the series defaults.
func NewOccurrence(id string, s Series, date time.Time) Occurrence {
	o := Occurrence{
		ID:           id,
		SeriesID:     s.ID,
		OriginalDate: date,
		Date:         date,
		Status:       OccurrenceStatusScheduled,
	}
	o.InheritDefaults(s)
	return o
}

// OccurrenceOverrides are per-occurrence attribute changes. Nil fields are left as is.
type OccurrenceOverrides struct {
	Date         *time.Time `json:"date,omitempty"`
	StartTime    *string    `json:"startTime,omitempty"`
	EndTime      *string    `json:"endTime,omitempty"`
	InstructorID *string    `json:"instructorId,omitempty"`
	LocationID   *string    `json:"locationId,omitempty"`
	RoomID       *string    `json:"roomId,omitempty"`
	Capacity     *int       `json:"capacity,omitempty"`
	PriceCents   *int64     `json:"priceCents,omitempty"`
}

// Empty reports whether no override is set.
func (o OccurrenceOverrides) Empty() bool {
	return o.Date == nil && o.StartTime == nil && o.EndTime == nil && o.InstructorID == nil &&
		o.LocationID == nil && o.RoomID == nil && o.Capacity == nil && o.PriceCents == nil
}

// ApplyTo writes the overrides onto occ.
func (o OccurrenceOverrides) ApplyTo(occ *Occurrence) {
	if o.Date != nil {
		occ.Date = *o.Date
	}
	if o.StartTime != nil {
		occ.StartTime = *o.StartTime
	}
	if o.EndTime != nil {
		occ.EndTime = *o.EndTime
	}
	if o.InstructorID != nil {
		occ.InstructorID = *o.InstructorID
	}
	if o.LocationID != nil {
		occ.LocationID = *o.LocationID
	}
	if o.RoomID != nil {
		room := *o.RoomID
		if room == "" {
			occ.RoomID = nil
		} else {
			occ.RoomID = &room
		}
	}
	if o.Capacity != nil {
		occ.Capacity = *o.Capacity
	}
	if o.PriceCents != nil {
		occ.PriceCents = *o.PriceCents
	}
}
