package models

import "time"

// EditScope is the breadth of an edit. It is computed per request and never stored.
type EditScope string

const (
	EditScopeThisOnly         EditScope = "this_only"
	EditScopeThisAndFollowing EditScope = "this_and_following"
	EditScopeEntireSeries     EditScope = "entire_series"
)

// Valid reports whether the scope is one of the known values.
func (s EditScope) Valid() bool {
	switch s {
	case EditScopeThisOnly, EditScopeThisAndFollowing, EditScopeEntireSeries:
		return true
	}
	return false
}

// ClientResolutionPolicy tells the booking subsystem how to treat affected clients.
type ClientResolutionPolicy string

const (
	ResolutionAutoMove        ClientResolutionPolicy = "auto_move"
	ResolutionOfferCredit     ClientResolutionPolicy = "offer_credit"
	ResolutionAllowRefund     ClientResolutionPolicy = "allow_refund"
	ResolutionSendRebookLinks ClientResolutionPolicy = "send_rebook_links"
)

// Valid reports whether the policy is known. The empty policy means no client action.
func (p ClientResolutionPolicy) Valid() bool {
	switch p {
	case "", ResolutionAutoMove, ResolutionOfferCredit, ResolutionAllowRefund, ResolutionSendRebookLinks:
		return true
	}
	return false
}

// SeriesChanges describes an edit across a scope. Nil fields are unchanged.
//
// Rule and Name only apply to series-level scopes; Date only applies to this_only.
type SeriesChanges struct {
	OccurrenceOverrides
	Name         *string `json:"name,omitempty"`
	Rule         *string `json:"rule,omitempty"`
	Cancel       bool    `json:"cancel,omitempty"`
	CancelReason string  `json:"cancelReason,omitempty"`
}

// Empty reports whether the change carries nothing to apply.
func (c SeriesChanges) Empty() bool {
	return !c.Cancel && c.Name == nil && c.Rule == nil && c.OccurrenceOverrides.Empty()
}

// ApplyToSeries writes the default-level changes onto a series.
func (c SeriesChanges) ApplyToSeries(s *Series) {
	if c.Name != nil {
		s.Name = *c.Name
	}
	if c.Rule != nil {
		s.Rule = *c.Rule
	}
	tmpl := Occurrence{}
	tmpl.InheritDefaults(*s)
	defaults := c.OccurrenceOverrides
	defaults.Date = nil
	defaults.ApplyTo(&tmpl)
	s.StartTime = tmpl.StartTime
	s.EndTime = tmpl.EndTime
	s.InstructorID = tmpl.InstructorID
	s.LocationID = tmpl.LocationID
	s.RoomID = tmpl.RoomID
	s.Capacity = tmpl.Capacity
	s.PriceCents = tmpl.PriceCents
}

// Resolution is the outcome of resolving an edit scope against a series.
type Resolution struct {
	SeriesID              string     `json:"seriesId"`
	Scope                 EditScope  `json:"scope"`
	FromDate              time.Time  `json:"fromDate"`
	AffectedOccurrenceIDs []string   `json:"affectedOccurrenceIds"`
	PreservedExceptionIDs []string   `json:"preservedExceptionIds"`
	RequiresSplit         bool       `json:"requiresSplit"`
	NewSeriesStartDate    *time.Time `json:"newSeriesStartDate,omitempty"`
	SeriesVersion         int        `json:"seriesVersion"`
}

// BookingStats is the booking subsystem's view of one occurrence.
type BookingStats struct {
	OccurrenceID string   `json:"occurrenceId"`
	Booked       int      `json:"booked"`
	Waitlist     int      `json:"waitlist"`
	HasPayments  bool     `json:"hasPayments"`
	ClientIDs    []string `json:"clientIds,omitempty"`
}

// ImpactSummary forecasts the effect of a change on bookings. It is never stored.
type ImpactSummary struct {
	AffectedOccurrences int   `json:"affectedOccurrences"`
	AffectedClients     int   `json:"affectedClients"`
	RevenueAtRiskCents  int64 `json:"revenueAtRiskCents"`
	WaitlistCount       int   `json:"waitlistCount"`
	RefundsRequired     int   `json:"refundsRequired"`
}

// ChangeSet is the unit of atomic commit.
//
// A series with Version zero is inserted at version 1. Any other series is updated
// only if its stored version still equals Version, and is committed at Version+1.
// Occurrences are upserted by id.
type ChangeSet struct {
	Series      []Series
	Occurrences []Occurrence
}

// Empty reports whether the change set writes nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Series) == 0 && len(c.Occurrences) == 0
}

// CapacityOverflow reports an occurrence whose bookings exceed its new capacity.
type CapacityOverflow struct {
	OccurrenceID string `json:"occurrenceId"`
	Capacity     int    `json:"capacity"`
	Booked       int    `json:"booked"`
	Overflow     int    `json:"overflow"`
}

// CommitResult describes an applied change.
type CommitResult struct {
	Resolution             Resolution         `json:"resolution"`
	Series                 []Series           `json:"series"`
	NewSeriesID            *string            `json:"newSeriesId,omitempty"`
	UpdatedOccurrenceIDs   []string           `json:"updatedOccurrenceIds"`
	CancelledOccurrenceIDs []string           `json:"cancelledOccurrenceIds"`
	CreatedOccurrenceIDs   []string           `json:"createdOccurrenceIds"`
	PreservedExceptionIDs  []string           `json:"preservedExceptionIds"`
	OverCapacity           []CapacityOverflow `json:"overCapacity,omitempty"`
	Impact                 ImpactSummary      `json:"impact"`
	Warnings               []string           `json:"warnings,omitempty"`
}

// SchedulingMetrics is a point-in-time summary of service counters.
type SchedulingMetrics struct {
	RequestsTotal           uint64    `json:"requestsTotal"`
	PreviewCacheHitRatio    float64   `json:"previewCacheHitRatio"`
	OccurrencesMaterialized uint64    `json:"occurrencesMaterialized"`
	Commits                 uint64    `json:"commits"`
	Conflicts               uint64    `json:"conflicts"`
	Goroutines              int       `json:"goroutines"`
	GeneratedAt             time.Time `json:"generatedAt"`
}
