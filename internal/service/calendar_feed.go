package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-ical"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
	"github.com/noah-isme/studio-schedule-api/pkg/feedtoken"
)

const feedProductID = "-//studio-schedule-api//class feed//EN"

// FeedToken is a subscription link credential for one series.
type FeedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CalendarFeed renders materialized occurrences as an iCalendar feed.
type CalendarFeed struct {
	store  *SeriesStore
	signer *feedtoken.Signer
}

// NewCalendarFeed constructs a feed renderer. A nil signer serves feeds without tokens.
func NewCalendarFeed(store *SeriesStore, signer *feedtoken.Signer) *CalendarFeed {
	return &CalendarFeed{store: store, signer: signer}
}

// Token issues a subscription token for the series.
func (f *CalendarFeed) Token(ctx context.Context, seriesID string) (*FeedToken, error) {
	if _, err := f.store.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	if f.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "calendar feed tokens are not configured")
	}
	token, expiresAt, err := f.signer.Generate(seriesID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to issue feed token")
	}
	return &FeedToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Render encodes the series occurrences in window as a VCALENDAR document.
// Cancelled occurrences are kept with STATUS:CANCELLED so subscribers drop them.
func (f *CalendarFeed) Render(ctx context.Context, seriesID, token string, window models.DateRange) ([]byte, error) {
	if f.signer != nil {
		if err := f.signer.Verify(token, seriesID); err != nil {
			if errors.Is(err, feedtoken.ErrInvalid) {
				return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired feed token")
			}
			return nil, appErrors.Internal(err, "failed to verify feed token")
		}
	}
	series, err := f.store.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	occurrences, err := f.store.GetOccurrences(ctx, seriesID, window)
	if err != nil {
		return nil, err
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, feedProductID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText("X-WR-CALNAME", series.Name)

	stamp := f.store.now().UTC()
	for _, occ := range occurrences {
		cal.Children = append(cal.Children, f.event(*series, occ, stamp).Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, appErrors.Internal(err, "failed to encode calendar feed")
	}
	return buf.Bytes(), nil
}

func (f *CalendarFeed) event(series models.Series, occ models.Occurrence, stamp time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, occ.ID+"@studio-schedule")
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	event.Props.SetDateTime(ical.PropDateTimeStart, occurrenceStart(occ, f.store.location).UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, occurrenceEnd(occ, f.store.location).UTC())
	event.Props.SetText(ical.PropSummary, series.Name)
	event.Props.SetText(ical.PropLocation, occ.LocationID)
	event.Props.SetText(ical.PropDescription, fmt.Sprintf("Instructor %s, capacity %d", occ.InstructorID, occ.Capacity))
	event.Props.SetDateTime(ical.PropLastModified, occ.UpdatedAt.UTC())

	status := "CONFIRMED"
	if occ.Status == models.OccurrenceStatusCancelled {
		status = "CANCELLED"
	}
	event.Props.SetText(ical.PropStatus, status)
	return event
}
