package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

var (
	seriesColumnNames = []string{"id", "name", "instructor_id", "location_id", "room_id", "rule", "start_date", "end_date",
		"occurrence_count", "start_time", "end_time", "capacity", "price_cents", "status", "skip_dates", "parent_series_id",
		"version", "created_at", "updated_at"}
	occurrenceColumnNames = []string{"id", "series_id", "original_date", "date", "start_time", "end_time", "instructor_id",
		"location_id", "room_id", "capacity", "price_cents", "status", "is_exception", "cancel_reason", "created_at", "updated_at"}
)

func newSeriesRepoMock(t *testing.T) (*SeriesRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := NewSeriesRepository(sqlx.NewDb(db, "sqlmock"))
	repo.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	return repo, mock, func() { db.Close() }
}

func seriesRow(rows *sqlmock.Rows, id string, version int) *sqlmock.Rows {
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return rows.AddRow(id, "Morning Flow", "ins-1", "loc-1", nil, "FREQ=WEEKLY;BYDAY=MO",
		time.Date(2024, 1, 8, 0, 0, 0, 0, time.FixedZone("", 0)), nil, nil, "09:00", "10:00", 20, int64(2500),
		"active", "{2024-01-15}", nil, version, created, created)
}

func TestSeriesRepositoryGetSeries(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM class_series WHERE id = $1")).
		WithArgs("series-1").
		WillReturnRows(seriesRow(sqlmock.NewRows(seriesColumnNames), "series-1", 3))

	series, err := repo.GetSeries(context.Background(), "series-1")
	require.NoError(t, err)
	assert.Equal(t, 3, series.Version)
	assert.Equal(t, recurrence.Date(2024, time.January, 8), series.StartDate)
	assert.Equal(t, pq.StringArray{"2024-01-15"}, series.SkipDates)
	assert.True(t, series.HasSkipDate(recurrence.Date(2024, time.January, 15)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryGetSeriesNotFound(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM class_series WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetSeries(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryListSeriesFilters(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("FROM class_series WHERE 1=1 AND status = ANY($1) AND instructor_id = $2 ORDER BY created_at ASC, id ASC LIMIT 10 OFFSET 10")).
		WithArgs(pq.Array([]string{"active", "paused"}), "ins-1").
		WillReturnRows(seriesRow(sqlmock.NewRows(seriesColumnNames), "series-11", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM class_series WHERE 1=1 AND status = ANY($1) AND instructor_id = $2")).
		WithArgs(pq.Array([]string{"active", "paused"}), "ins-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	list, total, err := repo.ListSeries(context.Background(), models.SeriesFilter{
		Status:       []models.SeriesStatus{models.SeriesStatusActive, models.SeriesStatusPaused},
		InstructorID: "ins-1",
		Page:         2,
		PageSize:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, 11, total)
	require.Len(t, list, 1)
	assert.Equal(t, "series-11", list[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryListSeriesUnpaged(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(`FROM class_series WHERE 1=1 ORDER BY created_at ASC, id ASC$`).
		WillReturnRows(seriesRow(seriesRow(sqlmock.NewRows(seriesColumnNames), "series-1", 1), "series-2", 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM class_series WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	list, total, err := repo.ListSeries(context.Background(), models.SeriesFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryListOccurrencesWindow(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	from := recurrence.Date(2024, time.January, 8)
	to := recurrence.Date(2024, time.January, 31)
	stamp := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(occurrenceColumnNames).
		AddRow("occ-1", "series-1", from, from, "09:00", "10:00", "ins-1", "loc-1", nil, 20, int64(2500), "scheduled", false, nil, stamp, stamp).
		AddRow("occ-2", "series-1", from.AddDate(0, 0, 14), from.AddDate(0, 0, 16), "09:00", "10:00", "ins-1", "loc-1", nil, 20, int64(2500), "scheduled", true, nil, stamp, stamp)
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_occurrences WHERE series_id = $1 AND date >= $2 AND date <= $3 ORDER BY date ASC")).
		WithArgs("series-1", from, to).
		WillReturnRows(rows)

	list, err := repo.ListOccurrences(context.Background(), "series-1", models.DateRange{From: from, To: to})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[1].IsException)
	assert.Equal(t, recurrence.Date(2024, time.January, 24), list[1].Date)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryListOccurrencesByIDsEmpty(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	list, err := repo.ListOccurrencesByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryListDueOccurrences(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	through := time.Date(2024, 2, 1, 18, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM class_occurrences WHERE status = $1 AND date <= $2")).
		WithArgs("scheduled", recurrence.Date(2024, time.February, 1)).
		WillReturnRows(sqlmock.NewRows(occurrenceColumnNames))

	list, err := repo.ListDueOccurrences(context.Background(), through)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryCommitInsertsAndUpdates(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	start := recurrence.Date(2024, time.January, 8)
	original := models.Series{ID: "series-1", Name: "Morning Flow", StartDate: start, Status: models.SeriesStatusActive, Version: 4}
	child := models.Series{ID: "series-2", Name: "Morning Flow", StartDate: start.AddDate(0, 0, 21), Status: models.SeriesStatusActive}
	occ := models.NewOccurrence("occ-4", child, start.AddDate(0, 0, 21))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_series SET name = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_series")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_occurrences")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	committed, err := repo.Commit(context.Background(), models.ChangeSet{
		Series:      []models.Series{original, child},
		Occurrences: []models.Occurrence{occ},
	})
	require.NoError(t, err)
	require.Len(t, committed, 2)
	assert.Equal(t, 5, committed[0].Version)
	assert.Equal(t, 1, committed[1].Version)
	assert.Equal(t, repo.now(), committed[1].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryCommitStaleVersion(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_series SET name = $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Commit(context.Background(), models.ChangeSet{
		Series: []models.Series{{ID: "series-1", Version: 2}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConcurrentModification))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeriesRepositoryCommitDuplicateSlot(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	series := models.Series{ID: "series-1", Version: 1}
	occ := models.NewOccurrence("occ-x", series, recurrence.Date(2024, time.January, 8))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_series SET name = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_occurrences")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "class_occurrences_series_original_date_key"})
	mock.ExpectRollback()

	_, err := repo.Commit(context.Background(), models.ChangeSet{
		Series:      []models.Series{series},
		Occurrences: []models.Occurrence{occ},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrConcurrentModification))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// argsWith returns n placeholders matching anything except position i.
func argsWith(n, i int, v driver.Value) []driver.Value {
	args := make([]driver.Value, n)
	for k := range args {
		args[k] = sqlmock.AnyArg()
	}
	args[i] = v
	return args
}

func TestSeriesRepositoryCommitBindsEmptySkipDates(t *testing.T) {
	repo, mock, cleanup := newSeriesRepoMock(t)
	defer cleanup()

	start := recurrence.Date(2024, time.January, 8)
	original := models.Series{ID: "series-1", Name: "Morning Flow", StartDate: start, Status: models.SeriesStatusActive, Version: 2}
	child := models.Series{ID: "series-2", Name: "Morning Flow", StartDate: start.AddDate(0, 0, 28), Status: models.SeriesStatusActive}
	withSkips := models.Series{ID: "series-3", Name: "Evening Yin", StartDate: start, Status: models.SeriesStatusActive,
		SkipDates: pq.StringArray{"2024-02-05"}, Version: 1}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_series SET name = $1")).
		WithArgs(argsWith(18, 13, "{}")...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO class_series")).
		WithArgs(argsWith(19, 14, "{}")...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE class_series SET name = $1")).
		WithArgs(argsWith(18, 13, `{"2024-02-05"}`)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	committed, err := repo.Commit(context.Background(), models.ChangeSet{Series: []models.Series{original, child, withSkips}})
	require.NoError(t, err)
	require.Len(t, committed, 3)
	assert.NotNil(t, committed[0].SkipDates)
	assert.Empty(t, committed[1].SkipDates)
	assert.NoError(t, mock.ExpectationsWereMet())
}
