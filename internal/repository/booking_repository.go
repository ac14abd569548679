package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/studio-schedule-api/internal/models"
)

// Booking statuses in the shared bookings table.
const (
	BookingStatusBooked          = "booked"
	BookingStatusWaitlisted      = "waitlisted"
	BookingStatusStudioCancelled = "studio_cancelled"
)

// BookingRepository reads and adjusts the booking subsystem's table. It serves
// impact stats and receives schedule notices.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs the repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

type bookingStatsRow struct {
	OccurrenceID string         `db:"occurrence_id"`
	Booked       int            `db:"booked"`
	Waitlist     int            `db:"waitlist"`
	HasPayments  bool           `db:"has_payments"`
	ClientIDs    pq.StringArray `db:"client_ids"`
}

// Stats returns booking stats keyed by occurrence id. Occurrences without any
// booking are absent.
func (r *BookingRepository) Stats(ctx context.Context, occurrenceIDs []string) (map[string]models.BookingStats, error) {
	out := make(map[string]models.BookingStats, len(occurrenceIDs))
	if len(occurrenceIDs) == 0 {
		return out, nil
	}
	const query = `SELECT occurrence_id,
COUNT(*) FILTER (WHERE status = 'booked') AS booked,
COUNT(*) FILTER (WHERE status = 'waitlisted') AS waitlist,
COALESCE(BOOL_OR(paid) FILTER (WHERE status = 'booked'), FALSE) AS has_payments,
COALESCE(ARRAY_AGG(DISTINCT client_id) FILTER (WHERE status = 'booked'), '{}') AS client_ids
FROM bookings WHERE occurrence_id = ANY($1) GROUP BY occurrence_id`
	var rows []bookingStatsRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(occurrenceIDs)); err != nil {
		return nil, fmt.Errorf("load booking stats: %w", err)
	}
	for _, row := range rows {
		out[row.OccurrenceID] = models.BookingStats{
			OccurrenceID: row.OccurrenceID,
			Booked:       row.Booked,
			Waitlist:     row.Waitlist,
			HasPayments:  row.HasPayments,
			ClientIDs:    []string(row.ClientIDs),
		}
	}
	return out, nil
}

// OccurrencesCancelled marks live bookings on the occurrences as cancelled by the
// studio. Refunds and credits are issued by the booking subsystem from that status.
func (r *BookingRepository) OccurrencesCancelled(ctx context.Context, _ string, occurrenceIDs []string, reason string) error {
	if len(occurrenceIDs) == 0 {
		return nil
	}
	const query = `UPDATE bookings SET status = $1, cancel_reason = $2, updated_at = $3
WHERE occurrence_id = ANY($4) AND status IN ('booked', 'waitlisted')`
	if _, err := r.db.ExecContext(ctx, query, BookingStatusStudioCancelled, reason, time.Now().UTC(), pq.Array(occurrenceIDs)); err != nil {
		return fmt.Errorf("cancel bookings: %w", err)
	}
	return nil
}

// OccurrencesChanged flags bookings so the booking subsystem re-sends confirmations.
func (r *BookingRepository) OccurrencesChanged(ctx context.Context, _ string, occurrenceIDs []string) error {
	if len(occurrenceIDs) == 0 {
		return nil
	}
	const query = `UPDATE bookings SET schedule_changed_at = $1 WHERE occurrence_id = ANY($2) AND status IN ('booked', 'waitlisted')`
	if _, err := r.db.ExecContext(ctx, query, time.Now().UTC(), pq.Array(occurrenceIDs)); err != nil {
		return fmt.Errorf("flag changed bookings: %w", err)
	}
	return nil
}

// CapacityReduced demotes the most recent bookings beyond capacity to the head of
// the waitlist, keeping their booking order among themselves.
func (r *BookingRepository) CapacityReduced(ctx context.Context, _ string, overflow []models.CapacityOverflow) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin capacity reduction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const shiftQuery = `UPDATE bookings SET waitlist_position = waitlist_position + $1 WHERE occurrence_id = $2 AND status = 'waitlisted'`
	const demoteQuery = `UPDATE bookings b SET status = 'waitlisted', waitlist_position = d.pos, updated_at = $1
FROM (
	SELECT id, ROW_NUMBER() OVER (ORDER BY booked_at ASC, id ASC) AS pos
	FROM (SELECT id, booked_at FROM bookings WHERE occurrence_id = $2 AND status = 'booked' ORDER BY booked_at DESC, id DESC LIMIT $3) latest
) d
WHERE b.id = d.id`

	now := time.Now().UTC()
	for _, o := range overflow {
		if o.Overflow <= 0 {
			continue
		}
		if _, err = tx.ExecContext(ctx, shiftQuery, o.Overflow, o.OccurrenceID); err != nil {
			return fmt.Errorf("shift waitlist for %s: %w", o.OccurrenceID, err)
		}
		if _, err = tx.ExecContext(ctx, demoteQuery, now, o.OccurrenceID, o.Overflow); err != nil {
			return fmt.Errorf("demote bookings for %s: %w", o.OccurrenceID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit capacity reduction: %w", err)
	}
	return nil
}
