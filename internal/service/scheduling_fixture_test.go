package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/dto"
	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	"github.com/noah-isme/studio-schedule-api/internal/store/memory"
)

type schedulingFixture struct {
	repo       *memory.Store
	store      *SeriesStore
	ledger     *BookingLedger
	dispatcher *NotificationDispatcher
	resolver   *EditScopeResolver
	impact     *ImpactCalculator
	applier    *ChangeApplier
	service    *SeriesService
	metrics    *MetricsService
	now        time.Time
}

func newSchedulingFixture(t *testing.T, horizon time.Duration, opts ...SeriesServiceOption) *schedulingFixture {
	t.Helper()
	f := &schedulingFixture{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	var seq int64
	newID := func() string { return fmt.Sprintf("id-%03d", atomic.AddInt64(&seq, 1)) }

	f.metrics = NewMetricsService()
	f.repo = memory.New(memory.WithClock(clock))
	f.store = NewSeriesStore(f.repo, zap.NewNop(),
		WithHorizon(horizon),
		WithClock(clock),
		WithIDGenerator(newID),
		WithStoreMetrics(f.metrics),
	)
	f.ledger = NewBookingLedger()
	f.dispatcher = NewNotificationDispatcher(f.ledger, NewLogNotifier(zap.NewNop()), f.metrics, zap.NewNop())
	f.resolver = NewEditScopeResolver(f.repo)
	f.impact = NewImpactCalculator(f.repo, f.ledger)
	f.applier = NewChangeApplier(f.store, f.impact, f.ledger, zap.NewNop(),
		WithNotifier(f.dispatcher),
		WithApplierMetrics(f.metrics),
	)
	opts = append([]SeriesServiceOption{WithServiceNotifier(f.dispatcher)}, opts...)
	f.service = NewSeriesService(f.store, f.resolver, f.impact, f.applier, f.ledger, NewValidator(), zap.NewNop(), opts...)
	return f
}

func mondaySeries() dto.CreateSeriesRequest {
	return dto.CreateSeriesRequest{
		Name:         "Morning Vinyasa",
		InstructorID: "inst-1",
		LocationID:   "loc-1",
		Rule:         "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO",
		StartDate:    "2024-01-08",
		StartTime:    "09:00",
		EndTime:      "10:00",
		Capacity:     20,
		PriceCents:   2500,
	}
}

func (f *schedulingFixture) create(t *testing.T, req dto.CreateSeriesRequest) *models.Series {
	t.Helper()
	series, err := f.service.Create(context.Background(), req, "req-create")
	require.NoError(t, err)
	return series
}

func (f *schedulingFixture) occurrences(t *testing.T, seriesID string) []models.Occurrence {
	t.Helper()
	list, err := f.store.GetOccurrences(context.Background(), seriesID, models.DateRange{})
	require.NoError(t, err)
	return list
}

func (f *schedulingFixture) occurrenceOn(t *testing.T, seriesID, date string) models.Occurrence {
	t.Helper()
	d, err := recurrence.ParseDate(date)
	require.NoError(t, err)
	for _, occ := range f.occurrences(t, seriesID) {
		if occ.Date.Equal(d) {
			return occ
		}
	}
	t.Fatalf("series %s has no occurrence on %s", seriesID, date)
	return models.Occurrence{}
}

func (f *schedulingFixture) series(t *testing.T, id string) *models.Series {
	t.Helper()
	series, err := f.store.GetSeries(context.Background(), id)
	require.NoError(t, err)
	return series
}

func dateStrings(list []models.Occurrence) []string {
	out := make([]string, 0, len(list))
	for _, occ := range list {
		out = append(out, dateKey(occ.Date))
	}
	return out
}

func activeOnly(list []models.Occurrence) []models.Occurrence {
	var out []models.Occurrence
	for _, occ := range list {
		if occ.Active() {
			out = append(out, occ)
		}
	}
	return out
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func int64Ptr(v int64) *int64 { return &v }
