package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

const sixtyDays = 60 * 24 * time.Hour

func TestMaterializeWeeklySeriesHonoursSkipDate(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	req := mondaySeries()
	req.SkipDates = []string{"2024-02-05"}

	series := f.create(t, req)

	assert.Equal(t, 1, series.Version)
	assert.Equal(t, []string{
		"2024-01-08", "2024-01-15", "2024-01-22", "2024-01-29",
		"2024-02-12", "2024-02-19", "2024-02-26",
	}, dateStrings(f.occurrences(t, series.ID)))
	for _, occ := range f.occurrences(t, series.ID) {
		assert.Equal(t, "09:00", occ.StartTime)
		assert.Equal(t, 20, occ.Capacity)
		assert.False(t, occ.IsException)
		assert.Equal(t, occ.OriginalDate, occ.Date)
	}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	before := f.occurrences(t, series.ID)

	created, err := f.store.Materialize(context.Background(), series.ID)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Equal(t, before, f.occurrences(t, series.ID))
	assert.Equal(t, 1, f.series(t, series.ID).Version)
}

func TestMaterializeExtendsWithTheHorizon(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	require.Len(t, f.occurrences(t, series.ID), 8)

	f.now = f.now.AddDate(0, 0, 7)
	created, err := f.store.Materialize(context.Background(), series.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-04"}, dateStrings(created))
	assert.Len(t, f.occurrences(t, series.ID), 9)
}

func TestMaterializeRespectsCount(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	req := mondaySeries()
	req.OccurrenceCount = intPtr(3)

	series := f.create(t, req)
	assert.Equal(t, []string{"2024-01-08", "2024-01-15", "2024-01-22"}, dateStrings(f.occurrences(t, series.ID)))
}

func TestPausedSeriesGeneratesNothing(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	ctx := context.Background()

	_, err := f.service.Pause(ctx, series.ID, "")
	require.NoError(t, err)

	f.now = f.now.AddDate(0, 0, 14)
	created, err := f.store.Materialize(ctx, series.ID)
	require.NoError(t, err)
	assert.Empty(t, created)

	resumed, err := f.service.Resume(ctx, series.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.SeriesStatusActive, resumed.Status)
	assert.Len(t, f.occurrences(t, series.ID), 10)
}

func TestTransitionRejectsLeavingEnded(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	ctx := context.Background()

	_, err := f.store.Transition(ctx, series.ID, models.SeriesStatusEnded)
	require.NoError(t, err)

	_, err = f.store.Transition(ctx, series.ID, models.SeriesStatusActive)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
}

func TestApplyExceptionMarksOccurrence(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	target := f.occurrenceOn(t, series.ID, "2024-01-15")

	moved := recurrence.Date(2024, time.January, 16)
	updated, err := f.store.ApplyException(context.Background(), target.ID, models.OccurrenceOverrides{
		Date:      &moved,
		StartTime: strPtr("18:00"),
		EndTime:   strPtr("19:00"),
	})
	require.NoError(t, err)
	assert.True(t, updated.IsException)
	assert.Equal(t, moved, updated.Date)
	assert.Equal(t, recurrence.Date(2024, time.January, 15), updated.OriginalDate)
	assert.Equal(t, 2, f.series(t, series.ID).Version)

	// the vacated slot is not regenerated
	created, err := f.store.Materialize(context.Background(), series.ID)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestApplyExceptionRejectsInvalidTimes(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	target := f.occurrenceOn(t, series.ID, "2024-01-15")

	_, err := f.store.ApplyException(context.Background(), target.ID, models.OccurrenceOverrides{EndTime: strPtr("08:00")})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.False(t, f.occurrenceOn(t, series.ID, "2024-01-15").IsException)
}

func TestCancelOccurrence(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	target := f.occurrenceOn(t, series.ID, "2024-01-22")
	ctx := context.Background()

	cancelled, err := f.store.Cancel(ctx, target.ID, "studio closed")
	require.NoError(t, err)
	assert.Equal(t, models.OccurrenceStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "studio closed", *cancelled.CancelReason)

	version := f.series(t, series.ID).Version
	again, err := f.store.Cancel(ctx, target.ID, "other")
	require.NoError(t, err)
	assert.Equal(t, "studio closed", *again.CancelReason)
	assert.Equal(t, version, f.series(t, series.ID).Version)

	created, err := f.store.Materialize(ctx, series.ID)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestCancelRejectsCompletedOccurrence(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	ctx := context.Background()

	f.now = time.Date(2024, 1, 8, 11, 0, 0, 0, time.UTC)
	completed, err := f.store.CompletePast(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	first := f.occurrenceOn(t, series.ID, "2024-01-08")
	assert.Equal(t, models.OccurrenceStatusCompleted, first.Status)
	_, err = f.store.Cancel(ctx, first.ID, "late")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidState))
}

func TestCompletePastWaitsForEndTime(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())

	f.now = time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC)
	completed, err := f.store.CompletePast(context.Background())
	require.NoError(t, err)
	assert.Zero(t, completed)
	assert.Equal(t, models.OccurrenceStatusScheduled, f.occurrenceOn(t, series.ID, "2024-01-08").Status)
}

func TestCloseFinishedEndsExhaustedSeries(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	req := mondaySeries()
	req.OccurrenceCount = intPtr(2)
	counted := f.create(t, req)
	open := f.create(t, mondaySeries())
	ctx := context.Background()

	ended, err := f.store.CloseFinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, ended)

	f.now = time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	ended, err = f.store.CloseFinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{counted.ID}, ended)
	assert.Equal(t, models.SeriesStatusEnded, f.series(t, counted.ID).Status)
	assert.Equal(t, models.SeriesStatusActive, f.series(t, open.ID).Status)
}

func TestAddSkipDateCancelsGeneratedOccurrence(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	target := f.occurrenceOn(t, series.ID, "2024-02-05")

	updated, cancelled, err := f.store.AddSkipDate(context.Background(), series.ID, recurrence.Date(2024, time.February, 5), "")
	require.NoError(t, err)
	assert.Equal(t, []string{target.ID}, cancelled)
	assert.True(t, updated.HasSkipDate(recurrence.Date(2024, time.February, 5)))
	assert.Equal(t, models.OccurrenceStatusCancelled, f.occurrenceOn(t, series.ID, "2024-02-05").Status)

	_, err = f.store.AddSkipDate(context.Background(), series.ID, recurrence.Date(2024, time.January, 1), "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestEndCancelsUpcomingOccurrences(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	series := f.create(t, mondaySeries())
	f.now = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	ended, cancelled, err := f.store.End(context.Background(), series.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.SeriesStatusEnded, ended.Status)
	assert.Len(t, cancelled, 4)
	for _, occ := range f.occurrences(t, series.ID) {
		if occ.Date.Before(recurrence.Date(2024, time.February, 1)) {
			assert.Equal(t, models.OccurrenceStatusScheduled, occ.Status)
			continue
		}
		assert.Equal(t, models.OccurrenceStatusCancelled, occ.Status)
		assert.Equal(t, "series ended", *occ.CancelReason)
	}
}

func TestGetSeriesNotFound(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	_, err := f.store.GetSeries(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
