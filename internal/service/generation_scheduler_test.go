package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/models"
)

func TestGenerationSchedulerRunOnce(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	open := f.create(t, mondaySeries())
	req := mondaySeries()
	req.OccurrenceCount = intPtr(2)
	counted := f.create(t, req)
	paused := f.create(t, mondaySeries())
	_, err := f.service.Pause(context.Background(), paused.ID, "")
	require.NoError(t, err)

	f.now = time.Date(2024, 1, 23, 9, 0, 0, 0, time.UTC)
	scheduler := NewGenerationScheduler(f.store, "@every 1h", f.metrics, zap.NewNop())

	report, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	// Jan 8, 15 and 22 of all three series have finished
	assert.Equal(t, 8, report.Completed)
	assert.Equal(t, []string{counted.ID}, report.Ended)
	assert.Equal(t, 1, report.SeriesScanned)
	assert.Equal(t, 3, report.Materialized)
	assert.Zero(t, report.Failures)

	assert.Equal(t, "2024-03-18", dateKey(f.occurrences(t, open.ID)[10].Date))
	assert.Len(t, f.occurrences(t, paused.ID), 8)
	assert.Equal(t, models.SeriesStatusEnded, f.series(t, counted.ID).Status)

	again, err := scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Materialized)
	assert.Zero(t, again.Completed)
	assert.Empty(t, again.Ended)
}

func TestGenerationSchedulerRejectsBadSpec(t *testing.T) {
	f := newSchedulingFixture(t, sixtyDays)
	scheduler := NewGenerationScheduler(f.store, "not a schedule", nil, nil)

	assert.Error(t, scheduler.Start(context.Background()))
}
