package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
	"github.com/noah-isme/studio-schedule-api/pkg/lock"
)

type seriesRepository interface {
	GetSeries(ctx context.Context, id string) (*models.Series, error)
	ListSeries(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error)
	GetOccurrence(ctx context.Context, id string) (*models.Occurrence, error)
	ListOccurrences(ctx context.Context, seriesID string, window models.DateRange) ([]models.Occurrence, error)
	ListOccurrencesByIDs(ctx context.Context, ids []string) ([]models.Occurrence, error)
	ListDueOccurrences(ctx context.Context, through time.Time) ([]models.Occurrence, error)
	Commit(ctx context.Context, cs models.ChangeSet) ([]models.Series, error)
}

// SeriesStore owns series and their materialized occurrences. Every write runs under
// the per-series lock.
type SeriesStore struct {
	repo     seriesRepository
	locker   lock.Locker
	horizon  time.Duration
	location *time.Location
	now      func() time.Time
	newID    func() string
	metrics  *MetricsService
	logger   *zap.Logger

	observersMu sync.RWMutex
	observers   []func(ctx context.Context, seriesID string)
}

// SeriesStoreOption configures the store.
type SeriesStoreOption func(*SeriesStore)

// WithLocker replaces the in-process keyed mutex.
func WithLocker(locker lock.Locker) SeriesStoreOption {
	return func(s *SeriesStore) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithHorizon sets how far past today Materialize generates.
func WithHorizon(horizon time.Duration) SeriesStoreOption {
	return func(s *SeriesStore) {
		if horizon > 0 {
			s.horizon = horizon
		}
	}
}

// WithLocation sets the studio time zone used to decide "today" and class end times.
func WithLocation(loc *time.Location) SeriesStoreOption {
	return func(s *SeriesStore) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SeriesStoreOption {
	return func(s *SeriesStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(newID func() string) SeriesStoreOption {
	return func(s *SeriesStore) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithStoreMetrics attaches metrics collection.
func WithStoreMetrics(metrics *MetricsService) SeriesStoreOption {
	return func(s *SeriesStore) {
		s.metrics = metrics
	}
}

// NewSeriesStore constructs the store with a 90 day horizon.
func NewSeriesStore(repo seriesRepository, logger *zap.Logger, opts ...SeriesStoreOption) *SeriesStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SeriesStore{
		repo:     repo,
		locker:   lock.NewKeyedMutex(),
		horizon:  90 * 24 * time.Hour,
		location: time.UTC,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// OnMaterialized registers fn to run after materialization adds occurrences to a
// series. Materialization does not bump the series version, so anything keyed by
// version, such as cached previews, has to be dropped here.
func (s *SeriesStore) OnMaterialized(fn func(ctx context.Context, seriesID string)) {
	if fn == nil {
		return
	}
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *SeriesStore) materialized(ctx context.Context, seriesID string) {
	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(ctx, seriesID)
	}
}

// Today returns the current civil date in the studio time zone.
func (s *SeriesStore) Today() time.Time {
	return recurrence.DateOf(s.now().In(s.location))
}

// HorizonDate is the last date Materialize generates up to.
func (s *SeriesStore) HorizonDate() time.Time {
	return recurrence.DateOf(s.now().In(s.location).Add(s.horizon))
}

func (s *SeriesStore) lock(ctx context.Context, seriesID string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, "series:"+seriesID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to acquire series lock")
	}
	return unlock, nil
}

// GetSeries loads a series.
func (s *SeriesStore) GetSeries(ctx context.Context, id string) (*models.Series, error) {
	series, err := s.repo.GetSeries(ctx, id)
	if err != nil {
		return nil, repoError(err, "series", id, "failed to load series")
	}
	return series, nil
}

// GetOccurrence loads an occurrence.
func (s *SeriesStore) GetOccurrence(ctx context.Context, id string) (*models.Occurrence, error) {
	occ, err := s.repo.GetOccurrence(ctx, id)
	if err != nil {
		return nil, repoError(err, "occurrence", id, "failed to load occurrence")
	}
	return occ, nil
}

// GetOccurrences returns the series occurrences in window ordered by date.
func (s *SeriesStore) GetOccurrences(ctx context.Context, seriesID string, window models.DateRange) ([]models.Occurrence, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListOccurrences(ctx, seriesID, window)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list occurrences")
	}
	return list, nil
}

// Materialize generates occurrences up to the configured horizon.
func (s *SeriesStore) Materialize(ctx context.Context, seriesID string) ([]models.Occurrence, error) {
	return s.MaterializeUntil(ctx, seriesID, s.HorizonDate())
}

// MaterializeUntil writes the occurrences the rule yields up to horizon that are not
// stored yet. Re-running it with the same series and horizon writes nothing. Paused
// and ended series generate nothing.
func (s *SeriesStore) MaterializeUntil(ctx context.Context, seriesID string, horizon time.Time) ([]models.Occurrence, error) {
	unlock, err := s.lock(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	series, err := s.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if !series.Generates() {
		return nil, nil
	}
	existing, err := s.repo.ListOccurrences(ctx, seriesID, models.DateRange{})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list occurrences")
	}
	created, err := s.pending(*series, existing, horizon)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, nil
	}
	if _, err := s.repo.Commit(ctx, models.ChangeSet{Occurrences: created}); err != nil {
		return nil, repoError(err, "series", seriesID, "failed to materialize occurrences")
	}
	s.metrics.AddMaterialized(len(created))
	s.materialized(ctx, seriesID)
	s.logger.Debug("occurrences materialized",
		zap.String("series_id", seriesID),
		zap.Int("created", len(created)),
		zap.String("horizon", dateKey(horizon)),
	)
	return created, nil
}

// pending returns new occurrences for every generated date not already keyed by an
// existing occurrence's original date.
func (s *SeriesStore) pending(series models.Series, existing []models.Occurrence, horizon time.Time) ([]models.Occurrence, error) {
	rule, err := series.ParsedRule()
	if err != nil {
		return nil, ruleError(err)
	}
	taken := make(map[time.Time]bool, len(existing))
	for _, occ := range existing {
		taken[recurrence.DateOf(occ.OriginalDate)] = true
	}
	seq, err := recurrence.Generate(rule, series.StartDate, series.End(), series.SkipDateList(), horizon)
	if err != nil {
		return nil, ruleError(err)
	}
	var created []models.Occurrence
	for date := range seq {
		if taken[date] {
			continue
		}
		created = append(created, models.NewOccurrence(s.newID(), series, date))
	}
	return created, nil
}

// ApplyException overrides attributes of one scheduled occurrence and marks it as an
// exception. The series version is bumped.
func (s *SeriesStore) ApplyException(ctx context.Context, occurrenceID string, overrides models.OccurrenceOverrides) (*models.Occurrence, error) {
	if overrides.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no overrides provided")
	}
	if err := validateOverrides(overrides); err != nil {
		return nil, err
	}
	return s.mutateOccurrence(ctx, occurrenceID, func(occ *models.Occurrence) (bool, error) {
		if occ.Status != models.OccurrenceStatusScheduled {
			return false, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("occurrence is %s", occ.Status))
		}
		overrides.ApplyTo(occ)
		if err := validateTimes(occ.StartTime, occ.EndTime); err != nil {
			return false, err
		}
		occ.Date = recurrence.DateOf(occ.Date)
		occ.IsException = true
		return true, nil
	})
}

// Cancel moves a scheduled occurrence to cancelled. Cancelling twice is a no-op.
func (s *SeriesStore) Cancel(ctx context.Context, occurrenceID, reason string) (*models.Occurrence, error) {
	return s.mutateOccurrence(ctx, occurrenceID, func(occ *models.Occurrence) (bool, error) {
		switch occ.Status {
		case models.OccurrenceStatusCancelled:
			return false, nil
		case models.OccurrenceStatusCompleted:
			return false, appErrors.Clone(appErrors.ErrInvalidState, "completed occurrences cannot be cancelled")
		}
		cancelOccurrence(occ, reason)
		return true, nil
	})
}

func (s *SeriesStore) mutateOccurrence(ctx context.Context, occurrenceID string, mutate func(*models.Occurrence) (bool, error)) (*models.Occurrence, error) {
	occ, err := s.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	unlock, err := s.lock(ctx, occ.SeriesID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// reload under the lock; a split may have moved it to another series meanwhile
	if occ, err = s.GetOccurrence(ctx, occurrenceID); err != nil {
		return nil, err
	}
	series, err := s.GetSeries(ctx, occ.SeriesID)
	if err != nil {
		return nil, err
	}
	changed, err := mutate(occ)
	if err != nil || !changed {
		return occ, err
	}
	if _, err := s.repo.Commit(ctx, models.ChangeSet{Series: []models.Series{*series}, Occurrences: []models.Occurrence{*occ}}); err != nil {
		return nil, repoError(err, "occurrence", occurrenceID, "failed to update occurrence")
	}
	stored, err := s.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// CompletePast marks scheduled occurrences whose end time has passed as completed and
// returns how many were updated.
func (s *SeriesStore) CompletePast(ctx context.Context) (int, error) {
	now := s.now().In(s.location)
	due, err := s.repo.ListDueOccurrences(ctx, recurrence.DateOf(now))
	if err != nil {
		return 0, appErrors.Internal(err, "failed to list due occurrences")
	}
	bySeries := make(map[string][]string)
	order := make([]string, 0)
	for _, occ := range due {
		if occurrenceEnd(occ, s.location).After(now) {
			continue
		}
		if _, ok := bySeries[occ.SeriesID]; !ok {
			order = append(order, occ.SeriesID)
		}
		bySeries[occ.SeriesID] = append(bySeries[occ.SeriesID], occ.ID)
	}

	completed := 0
	for _, seriesID := range order {
		n, err := s.completeSeries(ctx, seriesID, bySeries[seriesID], now)
		if err != nil {
			return completed, err
		}
		completed += n
	}
	return completed, nil
}

func (s *SeriesStore) completeSeries(ctx context.Context, seriesID string, ids []string, now time.Time) (int, error) {
	unlock, err := s.lock(ctx, seriesID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	current, err := s.repo.ListOccurrencesByIDs(ctx, ids)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to reload occurrences")
	}
	updates := make([]models.Occurrence, 0, len(current))
	for _, occ := range current {
		if occ.Status != models.OccurrenceStatusScheduled || occ.SeriesID != seriesID || occurrenceEnd(occ, s.location).After(now) {
			continue
		}
		occ.Status = models.OccurrenceStatusCompleted
		updates = append(updates, occ)
	}
	if len(updates) == 0 {
		return 0, nil
	}
	if _, err := s.repo.Commit(ctx, models.ChangeSet{Occurrences: updates}); err != nil {
		return 0, repoError(err, "series", seriesID, "failed to complete occurrences")
	}
	return len(updates), nil
}

// CloseFinished ends series whose last generated date is before today.
func (s *SeriesStore) CloseFinished(ctx context.Context) ([]string, error) {
	list, _, err := s.repo.ListSeries(ctx, models.SeriesFilter{Status: []models.SeriesStatus{models.SeriesStatusActive, models.SeriesStatusPaused}})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list series")
	}
	today := s.Today()
	var ended []string
	for _, series := range list {
		finished, err := s.finished(series, today)
		if err != nil {
			s.logger.Warn("skip series with unreadable rule", zap.String("series_id", series.ID), zap.Error(err))
			continue
		}
		if !finished {
			continue
		}
		if _, err := s.Transition(ctx, series.ID, models.SeriesStatusEnded); err != nil {
			if isConflict(err) {
				continue
			}
			return ended, err
		}
		ended = append(ended, series.ID)
	}
	return ended, nil
}

func (s *SeriesStore) finished(series models.Series, today time.Time) (bool, error) {
	end := series.End()
	switch end.Type {
	case recurrence.EndOnDate:
		return recurrence.DateOf(end.Until).Before(today), nil
	case recurrence.EndAfterCount:
		rule, err := series.ParsedRule()
		if err != nil {
			return false, err
		}
		dates, err := recurrence.Dates(rule, series.StartDate, end, series.SkipDateList(), today)
		if err != nil {
			return false, err
		}
		return len(dates) == end.Count && dates[len(dates)-1].Before(today), nil
	default:
		return false, nil
	}
}

// Transition moves a series through active ⇄ paused → ended. Ended is terminal.
func (s *SeriesStore) Transition(ctx context.Context, seriesID string, to models.SeriesStatus) (*models.Series, error) {
	unlock, err := s.lock(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	series, err := s.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if series.Status == to {
		return series, nil
	}
	if !allowedTransition(series.Status, to) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot move series from %s to %s", series.Status, to))
	}
	series.Status = to
	committed, err := s.repo.Commit(ctx, models.ChangeSet{Series: []models.Series{*series}})
	if err != nil {
		return nil, repoError(err, "series", seriesID, "failed to update series status")
	}
	return &committed[0], nil
}

func allowedTransition(from, to models.SeriesStatus) bool {
	switch from {
	case models.SeriesStatusActive:
		return to == models.SeriesStatusPaused || to == models.SeriesStatusEnded
	case models.SeriesStatusPaused:
		return to == models.SeriesStatusActive || to == models.SeriesStatusEnded
	default:
		return false
	}
}

// AddSkipDate excludes date from generation and cancels a scheduled non-exception
// occurrence already materialized for it.
func (s *SeriesStore) AddSkipDate(ctx context.Context, seriesID string, date time.Time, reason string) (*models.Series, []string, error) {
	date = recurrence.DateOf(date)
	unlock, err := s.lock(ctx, seriesID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	series, err := s.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, nil, err
	}
	if date.Before(series.StartDate) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "skip date precedes the series start")
	}
	if series.HasSkipDate(date) {
		return series, nil, nil
	}
	series.SkipDates = append(series.SkipDates, dateKey(date))

	occs, err := s.repo.ListOccurrences(ctx, seriesID, models.DateRange{})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list occurrences")
	}
	var cancelled []models.Occurrence
	for _, occ := range occs {
		if occ.Status == models.OccurrenceStatusScheduled && !occ.IsException && recurrence.DateOf(occ.OriginalDate).Equal(date) {
			if reason == "" {
				reason = "date skipped"
			}
			cancelOccurrence(&occ, reason)
			cancelled = append(cancelled, occ)
		}
	}
	committed, err := s.repo.Commit(ctx, models.ChangeSet{Series: []models.Series{*series}, Occurrences: cancelled})
	if err != nil {
		return nil, nil, repoError(err, "series", seriesID, "failed to add skip date")
	}
	return &committed[0], occurrenceIDs(cancelled), nil
}

func cancelOccurrence(occ *models.Occurrence, reason string) {
	occ.Status = models.OccurrenceStatusCancelled
	if reason != "" {
		r := reason
		occ.CancelReason = &r
	}
}

func validateOverrides(o models.OccurrenceOverrides) error {
	if o.Capacity != nil && *o.Capacity < 1 {
		return appErrors.Clone(appErrors.ErrValidation, "capacity must be at least 1")
	}
	if o.PriceCents != nil && *o.PriceCents < 0 {
		return appErrors.Clone(appErrors.ErrValidation, "price must not be negative")
	}
	if o.InstructorID != nil && *o.InstructorID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "instructor id must not be empty")
	}
	if o.LocationID != nil && *o.LocationID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "location id must not be empty")
	}
	return nil
}

// End terminates a series and cancels its scheduled occurrences from today on, in
// one commit. It returns the cancelled occurrence ids.
func (s *SeriesStore) End(ctx context.Context, seriesID, reason string) (*models.Series, []string, error) {
	unlock, err := s.lock(ctx, seriesID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	series, err := s.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, nil, err
	}
	if series.Status == models.SeriesStatusEnded {
		return series, nil, nil
	}
	upcoming, err := s.repo.ListOccurrences(ctx, seriesID, models.DateRange{From: s.Today()})
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list occurrences")
	}
	if reason == "" {
		reason = "series ended"
	}
	var cancelled []models.Occurrence
	for _, occ := range upcoming {
		if occ.Status != models.OccurrenceStatusScheduled {
			continue
		}
		cancelOccurrence(&occ, reason)
		cancelled = append(cancelled, occ)
	}
	series.Status = models.SeriesStatusEnded
	committed, err := s.repo.Commit(ctx, models.ChangeSet{Series: []models.Series{*series}, Occurrences: cancelled})
	if err != nil {
		return nil, nil, repoError(err, "series", seriesID, "failed to end series")
	}
	return &committed[0], occurrenceIDs(cancelled), nil
}
