package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/pkg/jobs"
)

// NotificationKind names a downstream notice.
type NotificationKind string

const (
	NotificationOccurrencesCancelled NotificationKind = "occurrences_cancelled"
	NotificationOccurrencesChanged   NotificationKind = "occurrences_changed"
	NotificationCapacityReduced      NotificationKind = "capacity_reduced"
	NotificationClientResolution     NotificationKind = "client_resolution"
)

// Notification is the payload queued after a commit.
type Notification struct {
	Kind          NotificationKind              `json:"kind"`
	SeriesID      string                        `json:"seriesId"`
	OccurrenceIDs []string                      `json:"occurrenceIds,omitempty"`
	Reason        string                        `json:"reason,omitempty"`
	Policy        models.ClientResolutionPolicy `json:"policy,omitempty"`
	Overflow      []models.CapacityOverflow     `json:"overflow,omitempty"`
	RequestID     string                        `json:"requestId,omitempty"`
}

// BookingNotifier receives schedule changes on behalf of the booking subsystem.
type BookingNotifier interface {
	OccurrencesCancelled(ctx context.Context, seriesID string, occurrenceIDs []string, reason string) error
	OccurrencesChanged(ctx context.Context, seriesID string, occurrenceIDs []string) error
	// CapacityReduced asks the booking subsystem to move overflow bookings to the waitlist.
	CapacityReduced(ctx context.Context, seriesID string, overflow []models.CapacityOverflow) error
}

// ClientNotifier sends client communications according to a resolution policy.
type ClientNotifier interface {
	Notify(ctx context.Context, n Notification) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationDispatcher fans notifications out through the job queue. Delivery is
// fire-and-forget: failures are logged and counted, never propagated to the commit.
type NotificationDispatcher struct {
	queue    jobEnqueuer
	bookings BookingNotifier
	clients  ClientNotifier
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewNotificationDispatcher constructs a dispatcher. Without a queue it delivers inline.
func NewNotificationDispatcher(bookings BookingNotifier, clients ClientNotifier, metrics *MetricsService, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationDispatcher{bookings: bookings, clients: clients, metrics: metrics, logger: logger}
}

// AttachQueue routes dispatches through queue. The queue handler must be Handle.
func (d *NotificationDispatcher) AttachQueue(queue jobEnqueuer) {
	d.queue = queue
}

// Dispatch queues n. The returned error is informational only.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if d == nil {
		return nil
	}
	var err error
	if d.queue != nil {
		err = d.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: string(n.Kind), Payload: n})
	} else {
		err = d.deliver(ctx, n)
	}
	if err != nil {
		d.metrics.RecordNotificationFailure(string(n.Kind))
		d.logger.Warn("notification dispatch failed",
			zap.String("kind", string(n.Kind)),
			zap.String("series_id", n.SeriesID),
			zap.String("request_id", n.RequestID),
			zap.Error(err),
		)
		return fmt.Errorf("%s notification: %w", n.Kind, err)
	}
	return nil
}

// Handle is the job queue handler.
func (d *NotificationDispatcher) Handle(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(Notification)
	if !ok {
		d.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return d.deliver(ctx, n)
}

// Exhausted is the queue's OnExhausted hook for notifications that ran out of retries.
func (d *NotificationDispatcher) Exhausted(job jobs.Job, err error) {
	d.metrics.RecordNotificationFailure(job.Type)
	d.logger.Error("notification dropped",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Type),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
}

func (d *NotificationDispatcher) deliver(ctx context.Context, n Notification) error {
	switch n.Kind {
	case NotificationOccurrencesCancelled:
		if d.bookings == nil {
			return nil
		}
		return d.bookings.OccurrencesCancelled(ctx, n.SeriesID, n.OccurrenceIDs, n.Reason)
	case NotificationOccurrencesChanged:
		if d.bookings == nil {
			return nil
		}
		return d.bookings.OccurrencesChanged(ctx, n.SeriesID, n.OccurrenceIDs)
	case NotificationCapacityReduced:
		if d.bookings == nil {
			return nil
		}
		return d.bookings.CapacityReduced(ctx, n.SeriesID, n.Overflow)
	case NotificationClientResolution:
		if d.clients == nil {
			return nil
		}
		return d.clients.Notify(ctx, n)
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}

// LogNotifier records notifications in the service log. Delivery transports live
// outside this service.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements ClientNotifier.
func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.logger.Info("client notification",
		zap.String("series_id", msg.SeriesID),
		zap.String("policy", string(msg.Policy)),
		zap.Strings("occurrence_ids", msg.OccurrenceIDs),
		zap.String("request_id", msg.RequestID),
	)
	return nil
}
