// Package memory is an in-process series store with the same commit semantics as
// the Postgres repository. It backs development mode and service tests.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

type occurrenceKey struct {
	seriesID string
	date     time.Time
}

func keyOf(o models.Occurrence) occurrenceKey {
	return occurrenceKey{seriesID: o.SeriesID, date: recurrence.DateOf(o.OriginalDate)}
}

// Store keeps series and occurrences in maps guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	series      map[string]models.Series
	occurrences map[string]models.Occurrence
	keys        map[occurrenceKey]string
	now         func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		series:      make(map[string]models.Series),
		occurrences: make(map[string]models.Occurrence),
		keys:        make(map[occurrenceKey]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetSeries returns a copy of the series or sql.ErrNoRows.
func (s *Store) GetSeries(_ context.Context, id string) (*models.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneSeries(series)
	return &out, nil
}

// ListSeries returns a page of series ordered by creation time and the total match count.
func (s *Store) ListSeries(_ context.Context, filter models.SeriesFilter) ([]models.Series, int, error) {
	s.mu.RLock()
	matched := make([]models.Series, 0, len(s.series))
	for _, series := range s.series {
		if matchesFilter(series, filter) {
			matched = append(matched, cloneSeries(series))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if filter.PageSize <= 0 {
		return matched, total, nil
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * filter.PageSize
	if start >= total {
		return []models.Series{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matchesFilter(series models.Series, filter models.SeriesFilter) bool {
	if filter.InstructorID != "" && series.InstructorID != filter.InstructorID {
		return false
	}
	if filter.LocationID != "" && series.LocationID != filter.LocationID {
		return false
	}
	if len(filter.Status) == 0 {
		return true
	}
	for _, status := range filter.Status {
		if series.Status == status {
			return true
		}
	}
	return false
}

// GetOccurrence returns a copy of the occurrence or sql.ErrNoRows.
func (s *Store) GetOccurrence(_ context.Context, id string) (*models.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	occ, ok := s.occurrences[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &occ, nil
}

// ListOccurrences returns the series occurrences whose effective date falls in window.
func (s *Store) ListOccurrences(_ context.Context, seriesID string, window models.DateRange) ([]models.Occurrence, error) {
	s.mu.RLock()
	out := make([]models.Occurrence, 0)
	for _, occ := range s.occurrences {
		if occ.SeriesID == seriesID && window.Contains(occ.Date) {
			out = append(out, occ)
		}
	}
	s.mu.RUnlock()
	sortOccurrences(out)
	return out, nil
}

// ListOccurrencesByIDs returns the known occurrences among ids; unknown ids are skipped.
func (s *Store) ListOccurrencesByIDs(_ context.Context, ids []string) ([]models.Occurrence, error) {
	s.mu.RLock()
	out := make([]models.Occurrence, 0, len(ids))
	for _, id := range ids {
		if occ, ok := s.occurrences[id]; ok {
			out = append(out, occ)
		}
	}
	s.mu.RUnlock()
	sortOccurrences(out)
	return out, nil
}

// ListDueOccurrences returns scheduled occurrences dated on or before through.
func (s *Store) ListDueOccurrences(_ context.Context, through time.Time) ([]models.Occurrence, error) {
	through = recurrence.DateOf(through)
	s.mu.RLock()
	out := make([]models.Occurrence, 0)
	for _, occ := range s.occurrences {
		if occ.Status == models.OccurrenceStatusScheduled && !occ.Date.After(through) {
			out = append(out, occ)
		}
	}
	s.mu.RUnlock()
	sortOccurrences(out)
	return out, nil
}

// Commit applies the change set atomically. Nothing is written when a version check
// or the (series, original date) uniqueness check fails.
func (s *Store) Commit(_ context.Context, cs models.ChangeSet) ([]models.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pendingSeries := make(map[string]bool, len(cs.Series))
	for _, series := range cs.Series {
		current, exists := s.series[series.ID]
		switch {
		case series.ID == "":
			return nil, fmt.Errorf("commit: series id is required")
		case series.Version == 0 && exists:
			return nil, appErrors.Clone(appErrors.ErrConcurrentModification, fmt.Sprintf("series %s already exists", series.ID))
		case series.Version != 0 && (!exists || current.Version != series.Version):
			return nil, appErrors.Clone(appErrors.ErrConcurrentModification, fmt.Sprintf("series %s was modified concurrently", series.ID))
		}
		pendingSeries[series.ID] = true
	}

	released := make(map[occurrenceKey]bool)
	for _, occ := range cs.Occurrences {
		if previous, ok := s.occurrences[occ.ID]; ok {
			released[keyOf(previous)] = true
		}
	}
	claimed := make(map[occurrenceKey]string, len(cs.Occurrences))
	for _, occ := range cs.Occurrences {
		if occ.ID == "" {
			return nil, fmt.Errorf("commit: occurrence id is required")
		}
		if _, ok := s.series[occ.SeriesID]; !ok && !pendingSeries[occ.SeriesID] {
			return nil, fmt.Errorf("commit: occurrence %s references unknown series %s", occ.ID, occ.SeriesID)
		}
		k := keyOf(occ)
		if id, ok := claimed[k]; ok && id != occ.ID {
			return nil, duplicateSlot(k)
		}
		if id, ok := s.keys[k]; ok && id != occ.ID && !released[k] {
			return nil, duplicateSlot(k)
		}
		claimed[k] = occ.ID
	}

	now := s.now()
	committed := make([]models.Series, 0, len(cs.Series))
	for _, series := range cs.Series {
		series = cloneSeries(series)
		series.StartDate = recurrence.DateOf(series.StartDate)
		if series.CreatedAt.IsZero() {
			series.CreatedAt = now
		}
		series.UpdatedAt = now
		series.Version++
		s.series[series.ID] = series
		committed = append(committed, cloneSeries(series))
	}

	for k := range released {
		delete(s.keys, k)
	}
	for _, occ := range cs.Occurrences {
		occ.OriginalDate = recurrence.DateOf(occ.OriginalDate)
		occ.Date = recurrence.DateOf(occ.Date)
		if occ.CreatedAt.IsZero() {
			occ.CreatedAt = now
		}
		occ.UpdatedAt = now
		s.occurrences[occ.ID] = occ
		s.keys[keyOf(occ)] = occ.ID
	}
	return committed, nil
}

func duplicateSlot(k occurrenceKey) error {
	return appErrors.Clone(appErrors.ErrConcurrentModification,
		fmt.Sprintf("series %s already has an occurrence for %s", k.seriesID, k.date.Format(recurrence.DateLayout)))
}

func sortOccurrences(list []models.Occurrence) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.Before(list[j].Date)
		}
		if !list[i].OriginalDate.Equal(list[j].OriginalDate) {
			return list[i].OriginalDate.Before(list[j].OriginalDate)
		}
		return list[i].ID < list[j].ID
	})
}

func cloneSeries(series models.Series) models.Series {
	if series.SkipDates != nil {
		series.SkipDates = append([]string(nil), series.SkipDates...)
	}
	return series
}
