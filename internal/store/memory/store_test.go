package memory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

func fixedClock() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }

func seedSeries(t *testing.T, store *Store) models.Series {
	t.Helper()
	series := models.Series{
		ID:           "series-1",
		Name:         "Morning Flow",
		InstructorID: "ins-1",
		LocationID:   "loc-1",
		Rule:         "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO",
		StartDate:    recurrence.Date(2024, 1, 8),
		StartTime:    "07:00",
		EndTime:      "08:00",
		Capacity:     12,
		PriceCents:   2500,
		Status:       models.SeriesStatusActive,
	}
	occurrences := []models.Occurrence{
		models.NewOccurrence("occ-2", series, recurrence.Date(2024, 1, 15)),
		models.NewOccurrence("occ-1", series, recurrence.Date(2024, 1, 8)),
	}
	committed, err := store.Commit(context.Background(), models.ChangeSet{Series: []models.Series{series}, Occurrences: occurrences})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	return committed[0]
}

func TestCommitInsertsAtVersionOne(t *testing.T) {
	store := New(WithClock(fixedClock))
	series := seedSeries(t, store)

	assert.Equal(t, 1, series.Version)
	assert.Equal(t, fixedClock(), series.CreatedAt)

	got, err := store.GetSeries(context.Background(), "series-1")
	require.NoError(t, err)
	assert.Equal(t, series, *got)

	list, err := store.ListOccurrences(context.Background(), "series-1", models.DateRange{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "occ-1", list[0].ID)
	assert.Equal(t, "occ-2", list[1].ID)
}

func TestCommitRejectsStaleVersion(t *testing.T) {
	store := New()
	series := seedSeries(t, store)

	first := series
	first.Capacity = 10
	_, err := store.Commit(context.Background(), models.ChangeSet{Series: []models.Series{first}})
	require.NoError(t, err)

	stale := series
	stale.Capacity = 8
	occ := models.NewOccurrence("occ-3", stale, recurrence.Date(2024, 1, 22))
	_, err = store.Commit(context.Background(), models.ChangeSet{Series: []models.Series{stale}, Occurrences: []models.Occurrence{occ}})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConcurrentModification)

	got, err := store.GetSeries(context.Background(), "series-1")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Capacity)
	assert.Equal(t, 2, got.Version)

	_, err = store.GetOccurrence(context.Background(), "occ-3")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCommitRejectsDuplicateSlot(t *testing.T) {
	store := New()
	series := seedSeries(t, store)

	dup := models.NewOccurrence("occ-dup", series, recurrence.Date(2024, 1, 8))
	_, err := store.Commit(context.Background(), models.ChangeSet{Occurrences: []models.Occurrence{dup}})
	assert.ErrorIs(t, err, appErrors.ErrConcurrentModification)

	list, err := store.ListOccurrences(context.Background(), "series-1", models.DateRange{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCommitMovesOccurrenceToNewSeries(t *testing.T) {
	store := New()
	original := seedSeries(t, store)

	split := original
	split.ID = "series-2"
	split.Version = 0
	moved, err := store.GetOccurrence(context.Background(), "occ-2")
	require.NoError(t, err)
	moved.SeriesID = split.ID

	_, err = store.Commit(context.Background(), models.ChangeSet{
		Series:      []models.Series{original, split},
		Occurrences: []models.Occurrence{*moved},
	})
	require.NoError(t, err)

	// the vacated slot on the original series can be claimed again
	refill := models.NewOccurrence("occ-refill", original, recurrence.Date(2024, 1, 15))
	_, err = store.Commit(context.Background(), models.ChangeSet{Occurrences: []models.Occurrence{refill}})
	require.NoError(t, err)

	remaining, err := store.ListOccurrences(context.Background(), "series-1", models.DateRange{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
	taken, err := store.ListOccurrences(context.Background(), "series-2", models.DateRange{})
	require.NoError(t, err)
	require.Len(t, taken, 1)
	assert.Equal(t, "occ-2", taken[0].ID)
}

func TestCommitRejectsUnknownSeries(t *testing.T) {
	store := New()
	orphan := models.Occurrence{ID: "occ-x", SeriesID: "missing", OriginalDate: recurrence.Date(2024, 1, 1), Date: recurrence.Date(2024, 1, 1)}
	_, err := store.Commit(context.Background(), models.ChangeSet{Occurrences: []models.Occurrence{orphan}})
	assert.Error(t, err)
}

func TestListOccurrencesFiltersByEffectiveDate(t *testing.T) {
	store := New()
	seedSeries(t, store)

	list, err := store.ListOccurrences(context.Background(), "series-1", models.DateRange{From: recurrence.Date(2024, 1, 10)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "occ-2", list[0].ID)

	due, err := store.ListDueOccurrences(context.Background(), recurrence.Date(2024, 1, 8))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "occ-1", due[0].ID)
}

func TestListSeriesFiltersAndPaginates(t *testing.T) {
	store := New()
	seedSeries(t, store)
	other := models.Series{ID: "series-b", InstructorID: "ins-2", Rule: "FREQ=DAILY;INTERVAL=1", StartDate: recurrence.Date(2024, 1, 1), Status: models.SeriesStatusPaused}
	_, err := store.Commit(context.Background(), models.ChangeSet{Series: []models.Series{other}})
	require.NoError(t, err)

	list, total, err := store.ListSeries(context.Background(), models.SeriesFilter{Status: []models.SeriesStatus{models.SeriesStatusPaused}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "series-b", list[0].ID)

	list, total, err = store.ListSeries(context.Background(), models.SeriesFilter{Page: 2, PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 1)
}

func TestGetSeriesReturnsIsolatedCopy(t *testing.T) {
	store := New()
	seedSeries(t, store)

	got, err := store.GetSeries(context.Background(), "series-1")
	require.NoError(t, err)
	got.SkipDates = append(got.SkipDates, "2024-02-05")

	again, err := store.GetSeries(context.Background(), "series-1")
	require.NoError(t, err)
	assert.Empty(t, again.SkipDates)
}
