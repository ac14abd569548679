package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/pkg/jobs"
)

type recordingClients struct {
	received chan Notification
}

func (r *recordingClients) Notify(_ context.Context, n Notification) error {
	r.received <- n
	return nil
}

func TestNotificationDispatcherDeliversThroughQueue(t *testing.T) {
	ledger := NewBookingLedger()
	ledger.Book("occ-1", "c1", true)
	clients := &recordingClients{received: make(chan Notification, 1)}
	dispatcher := NewNotificationDispatcher(ledger, clients, nil, zap.NewNop())
	queue := jobs.NewQueue("notifications", dispatcher.Handle, jobs.QueueConfig{Workers: 1, RetryDelay: 10 * time.Millisecond})
	queue.Start(context.Background())
	defer queue.Stop()
	dispatcher.AttachQueue(queue)

	require.NoError(t, dispatcher.Dispatch(context.Background(), Notification{
		Kind:          NotificationOccurrencesCancelled,
		SeriesID:      "series-1",
		OccurrenceIDs: []string{"occ-1"},
	}))
	require.NoError(t, dispatcher.Dispatch(context.Background(), Notification{
		Kind:          NotificationClientResolution,
		SeriesID:      "series-1",
		OccurrenceIDs: []string{"occ-1"},
		Policy:        models.ResolutionAllowRefund,
	}))

	assert.Eventually(t, func() bool { return ledger.Cancelled("occ-1") }, time.Second, 10*time.Millisecond)
	select {
	case n := <-clients.received:
		assert.Equal(t, models.ResolutionAllowRefund, n.Policy)
	case <-time.After(time.Second):
		t.Fatal("client notification not delivered")
	}
}

func TestNotificationDispatcherRejectsUnknownKind(t *testing.T) {
	dispatcher := NewNotificationDispatcher(nil, nil, NewMetricsService(), nil)

	err := dispatcher.Dispatch(context.Background(), Notification{Kind: "carrier_pigeon"})
	assert.Error(t, err)
}

func TestBookingLedgerCapacityReducedDemotesLatest(t *testing.T) {
	ledger := NewBookingLedger()
	for _, c := range []string{"c1", "c2", "c3", "c4"} {
		ledger.Book("occ-1", c, false)
	}
	ledger.Waitlist("occ-1", "w1")

	require.NoError(t, ledger.CapacityReduced(context.Background(), "series-1", []models.CapacityOverflow{
		{OccurrenceID: "occ-1", Capacity: 2, Booked: 4, Overflow: 2},
	}))

	stats, err := ledger.Stats(context.Background(), []string{"occ-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, stats["occ-1"].ClientIDs)
	assert.Equal(t, 3, stats["occ-1"].Waitlist)
	assert.Equal(t, []string{"c3", "c4", "w1"}, ledger.entries["occ-1"].waitlist)
}
