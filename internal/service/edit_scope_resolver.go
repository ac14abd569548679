package service

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

type scopeReader interface {
	GetSeries(ctx context.Context, id string) (*models.Series, error)
	ListOccurrences(ctx context.Context, seriesID string, window models.DateRange) ([]models.Occurrence, error)
}

// EditScopeResolver computes which occurrences an edit touches.
type EditScopeResolver struct {
	repo scopeReader
}

// NewEditScopeResolver constructs the resolver.
func NewEditScopeResolver(repo scopeReader) *EditScopeResolver {
	return &EditScopeResolver{repo: repo}
}

// Resolve loads the series and its occurrences and resolves scope from fromDate.
func (r *EditScopeResolver) Resolve(ctx context.Context, seriesID string, fromDate time.Time, scope models.EditScope) (*models.Resolution, error) {
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidScope, fmt.Sprintf("unknown edit scope %q", scope))
	}
	series, err := r.repo.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, repoError(err, "series", seriesID, "failed to load series")
	}
	occurrences, err := r.repo.ListOccurrences(ctx, seriesID, models.DateRange{})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list occurrences")
	}
	return resolveScope(*series, occurrences, fromDate, scope)
}

// resolveScope is the pure part of Resolve. occurrences must be ordered by date.
//
// this_only and this_and_following need a non-cancelled occurrence on fromDate.
// Exceptions in a series-level scope are reported as preserved: their attributes are
// never overwritten by an edit.
func resolveScope(series models.Series, occurrences []models.Occurrence, fromDate time.Time, scope models.EditScope) (*models.Resolution, error) {
	if !scope.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidScope, fmt.Sprintf("unknown edit scope %q", scope))
	}
	from := recurrence.DateOf(fromDate)
	if from.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrInvalidScope, "fromDate is required")
	}
	if from.Before(series.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrInvalidScope, fmt.Sprintf("fromDate %s precedes series start %s", dateKey(from), dateKey(series.StartDate)))
	}

	res := &models.Resolution{
		SeriesID:              series.ID,
		Scope:                 scope,
		FromDate:              from,
		AffectedOccurrenceIDs: []string{},
		PreservedExceptionIDs: []string{},
		SeriesVersion:         series.Version,
	}

	var anchor *models.Occurrence
	for i := range occurrences {
		occ := occurrences[i]
		if occ.Active() && recurrence.DateOf(occ.Date).Equal(from) {
			anchor = &occ
			break
		}
	}
	if scope != models.EditScopeEntireSeries && anchor == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidScope, fmt.Sprintf("series has no occurrence on %s", dateKey(from)))
	}

	switch scope {
	case models.EditScopeThisOnly:
		res.AffectedOccurrenceIDs = append(res.AffectedOccurrenceIDs, anchor.ID)
	case models.EditScopeThisAndFollowing:
		for _, occ := range occurrences {
			if !occ.Active() || recurrence.DateOf(occ.Date).Before(from) {
				continue
			}
			res.AffectedOccurrenceIDs = append(res.AffectedOccurrenceIDs, occ.ID)
			if occ.IsException {
				res.PreservedExceptionIDs = append(res.PreservedExceptionIDs, occ.ID)
			}
		}
		if from.After(series.StartDate) {
			if err := checkSplitSides(occurrences, from); err != nil {
				return nil, err
			}
			res.RequiresSplit = true
			start := from
			res.NewSeriesStartDate = &start
		}
	case models.EditScopeEntireSeries:
		for _, occ := range occurrences {
			if !occ.Active() {
				continue
			}
			res.AffectedOccurrenceIDs = append(res.AffectedOccurrenceIDs, occ.ID)
			if occ.IsException {
				res.PreservedExceptionIDs = append(res.PreservedExceptionIDs, occ.ID)
			}
		}
	}
	return res, nil
}

// checkSplitSides rejects a split when an active occurrence was rescheduled across
// from. A split hands occurrences to the new series by original date, so such an
// occurrence would end up owned by a series that does not cover its actual date.
func checkSplitSides(occurrences []models.Occurrence, from time.Time) error {
	for _, occ := range occurrences {
		if !occ.Active() {
			continue
		}
		originalAfter := !recurrence.DateOf(occ.OriginalDate).Before(from)
		actualAfter := !recurrence.DateOf(occ.Date).Before(from)
		if originalAfter != actualAfter {
			return appErrors.Clone(appErrors.ErrInvalidScope, fmt.Sprintf(
				"occurrence %s was moved from %s to %s across %s; edit it on its own first",
				occ.ID, dateKey(occ.OriginalDate), dateKey(occ.Date), dateKey(from)))
		}
	}
	return nil
}
