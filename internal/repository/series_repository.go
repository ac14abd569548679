package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

const (
	seriesColumns = `id, name, instructor_id, location_id, room_id, rule, start_date, end_date, occurrence_count, start_time, end_time,
capacity, price_cents, status, skip_dates, parent_series_id, version, created_at, updated_at`
	occurrenceColumns = `id, series_id, original_date, date, start_time, end_time, instructor_id, location_id, room_id,
capacity, price_cents, status, is_exception, cancel_reason, created_at, updated_at`

	uniqueViolation = "23505"
)

// SeriesRepository persists class series and their occurrences in Postgres.
type SeriesRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSeriesRepository constructs the repository.
func NewSeriesRepository(db *sqlx.DB) *SeriesRepository {
	return &SeriesRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// GetSeries loads a series by id. Missing rows return sql.ErrNoRows.
func (r *SeriesRepository) GetSeries(ctx context.Context, id string) (*models.Series, error) {
	query := `SELECT ` + seriesColumns + ` FROM class_series WHERE id = $1`
	var series models.Series
	if err := r.db.GetContext(ctx, &series, query, id); err != nil {
		return nil, err
	}
	normalizeSeries(&series)
	return &series, nil
}

// ListSeries returns series matching the filter and the total match count. A
// non-positive page size returns every match.
func (r *SeriesRepository) ListSeries(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statuses))
	}
	if filter.InstructorID != "" {
		where = append(where, fmt.Sprintf("instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.LocationID != "" {
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)+1))
		args = append(args, filter.LocationID)
	}
	whereClause := strings.Join(where, " AND ")

	query := fmt.Sprintf("SELECT %s FROM class_series WHERE %s ORDER BY created_at ASC, id ASC", seriesColumns, whereClause)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PageSize, (page-1)*filter.PageSize)
	}

	var list []models.Series
	if err := r.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list class series: %w", err)
	}
	for i := range list {
		normalizeSeries(&list[i])
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM class_series WHERE %s", whereClause)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count class series: %w", err)
	}
	return list, total, nil
}

// GetOccurrence loads one occurrence. Missing rows return sql.ErrNoRows.
func (r *SeriesRepository) GetOccurrence(ctx context.Context, id string) (*models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM class_occurrences WHERE id = $1`
	var occ models.Occurrence
	if err := r.db.GetContext(ctx, &occ, query, id); err != nil {
		return nil, err
	}
	normalizeOccurrence(&occ)
	return &occ, nil
}

// ListOccurrences returns a series' occurrences whose effective date falls in window.
func (r *SeriesRepository) ListOccurrences(ctx context.Context, seriesID string, window models.DateRange) ([]models.Occurrence, error) {
	where := []string{"series_id = $1"}
	args := []interface{}{seriesID}
	if !window.From.IsZero() {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, recurrence.DateOf(window.From))
	}
	if !window.To.IsZero() {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, recurrence.DateOf(window.To))
	}
	query := fmt.Sprintf("SELECT %s FROM class_occurrences WHERE %s ORDER BY date ASC, original_date ASC, id ASC",
		occurrenceColumns, strings.Join(where, " AND "))
	return r.selectOccurrences(ctx, "list class occurrences", query, args...)
}

// ListOccurrencesByIDs returns the known occurrences among ids.
func (r *SeriesRepository) ListOccurrencesByIDs(ctx context.Context, ids []string) ([]models.Occurrence, error) {
	if len(ids) == 0 {
		return []models.Occurrence{}, nil
	}
	query := `SELECT ` + occurrenceColumns + ` FROM class_occurrences WHERE id = ANY($1) ORDER BY date ASC, original_date ASC, id ASC`
	return r.selectOccurrences(ctx, "list class occurrences by id", query, pq.Array(ids))
}

// ListDueOccurrences returns scheduled occurrences dated on or before through.
func (r *SeriesRepository) ListDueOccurrences(ctx context.Context, through time.Time) ([]models.Occurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM class_occurrences WHERE status = $1 AND date <= $2 ORDER BY date ASC, original_date ASC, id ASC`
	return r.selectOccurrences(ctx, "list due class occurrences", query, string(models.OccurrenceStatusScheduled), recurrence.DateOf(through))
}

func (r *SeriesRepository) selectOccurrences(ctx context.Context, op, query string, args ...interface{}) ([]models.Occurrence, error) {
	var list []models.Occurrence
	if err := r.db.SelectContext(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if list == nil {
		list = []models.Occurrence{}
	}
	for i := range list {
		normalizeOccurrence(&list[i])
	}
	return list, nil
}

// Commit writes the change set in one transaction. A series with version zero is
// inserted; any other series is updated only while its stored version matches.
// Occurrences are upserted by id.
func (r *SeriesRepository) Commit(ctx context.Context, cs models.ChangeSet) (committed []models.Series, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin series commit: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := r.now()
	committed = make([]models.Series, 0, len(cs.Series))
	for _, series := range cs.Series {
		if series.ID == "" {
			return nil, fmt.Errorf("commit: series id is required")
		}
		series.StartDate = recurrence.DateOf(series.StartDate)
		// a nil pq.StringArray binds NULL; skip_dates is NOT NULL
		if series.SkipDates == nil {
			series.SkipDates = pq.StringArray{}
		}
		if series.CreatedAt.IsZero() {
			series.CreatedAt = now
		}
		series.UpdatedAt = now
		if series.Version == 0 {
			err = r.insertSeries(ctx, tx, &series)
		} else {
			err = r.updateSeries(ctx, tx, &series)
		}
		if err != nil {
			return nil, err
		}
		committed = append(committed, series)
	}

	for _, occ := range cs.Occurrences {
		if occ.ID == "" {
			return nil, fmt.Errorf("commit: occurrence id is required")
		}
		occ.OriginalDate = recurrence.DateOf(occ.OriginalDate)
		occ.Date = recurrence.DateOf(occ.Date)
		if occ.CreatedAt.IsZero() {
			occ.CreatedAt = now
		}
		occ.UpdatedAt = now
		if err = upsertOccurrence(ctx, tx, &occ); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, commitError(fmt.Errorf("commit series change set: %w", err))
	}
	return committed, nil
}

func (r *SeriesRepository) insertSeries(ctx context.Context, tx *sqlx.Tx, series *models.Series) error {
	series.Version = 1
	query := `INSERT INTO class_series (` + seriesColumns + `)
VALUES (:id, :name, :instructor_id, :location_id, :room_id, :rule, :start_date, :end_date, :occurrence_count, :start_time, :end_time,
:capacity, :price_cents, :status, :skip_dates, :parent_series_id, :version, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, series); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConcurrentModification, fmt.Sprintf("series %s already exists", series.ID))
		}
		return fmt.Errorf("insert class series: %w", err)
	}
	return nil
}

func (r *SeriesRepository) updateSeries(ctx context.Context, tx *sqlx.Tx, series *models.Series) error {
	const query = `UPDATE class_series SET name = $1, instructor_id = $2, location_id = $3, room_id = $4, rule = $5, start_date = $6,
end_date = $7, occurrence_count = $8, start_time = $9, end_time = $10, capacity = $11, price_cents = $12, status = $13,
skip_dates = $14, parent_series_id = $15, version = version + 1, updated_at = $16
WHERE id = $17 AND version = $18`
	result, err := tx.ExecContext(ctx, query,
		series.Name, series.InstructorID, series.LocationID, series.RoomID, series.Rule, series.StartDate,
		series.EndDate, series.OccurrenceCount, series.StartTime, series.EndTime, series.Capacity, series.PriceCents, series.Status,
		series.SkipDates, series.ParentSeriesID, series.UpdatedAt,
		series.ID, series.Version,
	)
	if err != nil {
		return fmt.Errorf("update class series: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("class series rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrConcurrentModification, fmt.Sprintf("series %s was modified concurrently", series.ID))
	}
	series.Version++
	return nil
}

func upsertOccurrence(ctx context.Context, tx *sqlx.Tx, occ *models.Occurrence) error {
	query := `INSERT INTO class_occurrences (` + occurrenceColumns + `)
VALUES (:id, :series_id, :original_date, :date, :start_time, :end_time, :instructor_id, :location_id, :room_id,
:capacity, :price_cents, :status, :is_exception, :cancel_reason, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET series_id = EXCLUDED.series_id, original_date = EXCLUDED.original_date, date = EXCLUDED.date,
start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, instructor_id = EXCLUDED.instructor_id,
location_id = EXCLUDED.location_id, room_id = EXCLUDED.room_id, capacity = EXCLUDED.capacity, price_cents = EXCLUDED.price_cents,
status = EXCLUDED.status, is_exception = EXCLUDED.is_exception, cancel_reason = EXCLUDED.cancel_reason, updated_at = EXCLUDED.updated_at`
	if _, err := tx.NamedExecContext(ctx, query, occ); err != nil {
		return commitError(fmt.Errorf("upsert class occurrence %s: %w", occ.ID, err))
	}
	return nil
}

// commitError maps a (series_id, original_date) collision to a concurrent modification.
// The constraint is deferred, so it may surface on COMMIT.
func commitError(err error) error {
	if isUniqueViolation(err) {
		return appErrors.Wrap(err, appErrors.ErrConcurrentModification.Code, appErrors.ErrConcurrentModification.Status,
			"an occurrence for that date was materialized concurrently")
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func normalizeSeries(s *models.Series) {
	s.StartDate = recurrence.DateOf(s.StartDate)
	if s.EndDate != nil {
		end := recurrence.DateOf(*s.EndDate)
		s.EndDate = &end
	}
}

func normalizeOccurrence(o *models.Occurrence) {
	o.OriginalDate = recurrence.DateOf(o.OriginalDate)
	o.Date = recurrence.DateOf(o.Date)
}
