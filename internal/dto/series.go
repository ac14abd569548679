package dto

import (
	"github.com/noah-isme/studio-schedule-api/internal/models"
)

// CreateSeriesRequest creates a recurring class series. Dates use YYYY-MM-DD and
// times HH:MM in the studio time zone.
type CreateSeriesRequest struct {
	Name            string   `json:"name" validate:"required,max=120"`
	InstructorID    string   `json:"instructorId" validate:"required"`
	LocationID      string   `json:"locationId" validate:"required"`
	RoomID          *string  `json:"roomId" validate:"omitempty,min=1"`
	Rule            string   `json:"rule" validate:"required"`
	StartDate       string   `json:"startDate" validate:"required,civil_date"`
	EndDate         *string  `json:"endDate" validate:"omitempty,civil_date"`
	OccurrenceCount *int     `json:"occurrenceCount" validate:"omitempty,min=1,max=1000"`
	StartTime       string   `json:"startTime" validate:"required,clock"`
	EndTime         string   `json:"endTime" validate:"required,clock"`
	Capacity        int      `json:"capacity" validate:"required,min=1"`
	PriceCents      int64    `json:"priceCents" validate:"min=0"`
	SkipDates       []string `json:"skipDates" validate:"omitempty,dive,civil_date"`
}

// ListSeriesQuery filters series listings.
type ListSeriesQuery struct {
	Status       []string `form:"status" validate:"omitempty,dive,oneof=active paused ended"`
	InstructorID string   `form:"instructorId"`
	LocationID   string   `form:"locationId"`
	Page         int      `form:"page" validate:"omitempty,min=1"`
	PageSize     int      `form:"pageSize" validate:"omitempty,min=1,max=200"`
}

// ChangesRequest carries attribute changes. Omitted fields are unchanged.
type ChangesRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=120"`
	Rule         *string `json:"rule" validate:"omitempty,min=1"`
	Date         *string `json:"date" validate:"omitempty,civil_date"`
	StartTime    *string `json:"startTime" validate:"omitempty,clock"`
	EndTime      *string `json:"endTime" validate:"omitempty,clock"`
	InstructorID *string `json:"instructorId" validate:"omitempty,min=1"`
	LocationID   *string `json:"locationId" validate:"omitempty,min=1"`
	RoomID       *string `json:"roomId"`
	Capacity     *int    `json:"capacity" validate:"omitempty,min=1"`
	PriceCents   *int64  `json:"priceCents" validate:"omitempty,min=0"`
	Cancel       bool    `json:"cancel"`
	CancelReason string  `json:"cancelReason" validate:"max=500"`
}

// PreviewRequest asks for the impact of a prospective change.
type PreviewRequest struct {
	FromDate string          `json:"fromDate" validate:"required,civil_date"`
	Scope    string          `json:"scope" validate:"required,edit_scope"`
	Changes  *ChangesRequest `json:"changes" validate:"omitempty"`
}

// ApplyRequest commits a change. ExpectedVersion may also arrive as If-Match.
type ApplyRequest struct {
	FromDate        string         `json:"fromDate" validate:"required,civil_date"`
	Scope           string         `json:"scope" validate:"required,edit_scope"`
	Changes         ChangesRequest `json:"changes"`
	Policy          string         `json:"policy" validate:"omitempty,resolution_policy"`
	ExpectedVersion int            `json:"expectedVersion" validate:"required,min=1"`
}

// PreviewResponse is the impact preview shown before commit.
type PreviewResponse struct {
	Resolution   models.Resolution         `json:"resolution"`
	Impact       models.ImpactSummary      `json:"impact"`
	OverCapacity []models.CapacityOverflow `json:"overCapacity,omitempty"`
	Cached       bool                      `json:"cached"`
}

// UpdateOccurrenceRequest overrides one occurrence.
type UpdateOccurrenceRequest struct {
	Date         *string `json:"date" validate:"omitempty,civil_date"`
	StartTime    *string `json:"startTime" validate:"omitempty,clock"`
	EndTime      *string `json:"endTime" validate:"omitempty,clock"`
	InstructorID *string `json:"instructorId" validate:"omitempty,min=1"`
	LocationID   *string `json:"locationId" validate:"omitempty,min=1"`
	RoomID       *string `json:"roomId"`
	Capacity     *int    `json:"capacity" validate:"omitempty,min=1"`
	PriceCents   *int64  `json:"priceCents" validate:"omitempty,min=0"`
}

// CancelOccurrenceRequest cancels one occurrence.
type CancelOccurrenceRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// SkipDateRequest excludes a date from a series.
type SkipDateRequest struct {
	Date   string `json:"date" validate:"required,civil_date"`
	Reason string `json:"reason" validate:"max=500"`
}

// SkipDateResponse reports the updated series and any occurrence it cancelled.
type SkipDateResponse struct {
	Series                 models.Series `json:"series"`
	CancelledOccurrenceIDs []string      `json:"cancelledOccurrenceIds"`
	// Warnings are reported in the response meta.
	Warnings []string `json:"-"`
}

// EndSeriesResponse reports the ended series and the occurrences it cancelled.
type EndSeriesResponse struct {
	Series                 models.Series `json:"series"`
	CancelledOccurrenceIDs []string      `json:"cancelledOccurrenceIds"`
	Warnings               []string      `json:"-"`
}

// EndSeriesRequest ends a series.
type EndSeriesRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// MaterializeRequest extends materialization, by default to the configured horizon.
type MaterializeRequest struct {
	Through *string `json:"through" validate:"omitempty,civil_date"`
}

// MaterializeResponse lists newly written occurrences.
type MaterializeResponse struct {
	Created []models.Occurrence `json:"created"`
}

// OccurrenceQuery bounds an occurrence listing.
type OccurrenceQuery struct {
	From string `form:"from" validate:"omitempty,civil_date"`
	To   string `form:"to" validate:"omitempty,civil_date"`
}

// DescribeRequest renders a rule for humans.
type DescribeRequest struct {
	Rule      string  `json:"rule" validate:"required"`
	StartDate *string `json:"startDate" validate:"omitempty,civil_date"`
	EndDate   *string `json:"endDate" validate:"omitempty,civil_date"`
	Count     *int    `json:"count" validate:"omitempty,min=1,max=1000"`
	Preview   int     `json:"preview" validate:"omitempty,min=1,max=50"`
}

// DescribeResponse is the parsed rule with a short date preview.
type DescribeResponse struct {
	Rule                 string   `json:"rule"`
	Description          string   `json:"description"`
	NextDates            []string `json:"nextDates,omitempty"`
	EstimatedOccurrences *int     `json:"estimatedOccurrences,omitempty"`
}
