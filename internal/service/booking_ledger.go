package service

import (
	"context"
	"sync"

	"github.com/noah-isme/studio-schedule-api/internal/models"
)

type ledgerEntry struct {
	booked      []string
	waitlist    []string
	hasPayments bool
	cancelled   bool
}

// BookingLedger is an in-process stand-in for the booking subsystem. It serves
// booking stats and applies capacity reductions by demoting the latest bookings.
type BookingLedger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry
}

// NewBookingLedger constructs an empty ledger.
func NewBookingLedger() *BookingLedger {
	return &BookingLedger{entries: make(map[string]*ledgerEntry)}
}

func (l *BookingLedger) entry(occurrenceID string) *ledgerEntry {
	e, ok := l.entries[occurrenceID]
	if !ok {
		e = &ledgerEntry{}
		l.entries[occurrenceID] = e
	}
	return e
}

// Book records a booking in arrival order.
func (l *BookingLedger) Book(occurrenceID, clientID string, paid bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entry(occurrenceID)
	e.booked = append(e.booked, clientID)
	e.hasPayments = e.hasPayments || paid
}

// Waitlist appends a client to the waitlist.
func (l *BookingLedger) Waitlist(occurrenceID, clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entry(occurrenceID)
	e.waitlist = append(e.waitlist, clientID)
}

// Stats implements BookingSource.
func (l *BookingLedger) Stats(_ context.Context, occurrenceIDs []string) (map[string]models.BookingStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]models.BookingStats, len(occurrenceIDs))
	for _, id := range occurrenceIDs {
		e, ok := l.entries[id]
		if !ok {
			continue
		}
		out[id] = models.BookingStats{
			OccurrenceID: id,
			Booked:       len(e.booked),
			Waitlist:     len(e.waitlist),
			HasPayments:  e.hasPayments,
			ClientIDs:    append([]string(nil), e.booked...),
		}
	}
	return out, nil
}

// OccurrencesCancelled implements BookingNotifier. Refunds and credits are issued by
// the booking subsystem; the ledger only flags the entries.
func (l *BookingLedger) OccurrencesCancelled(_ context.Context, _ string, occurrenceIDs []string, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range occurrenceIDs {
		if e, ok := l.entries[id]; ok {
			e.cancelled = true
		}
	}
	return nil
}

// OccurrencesChanged implements BookingNotifier.
func (l *BookingLedger) OccurrencesChanged(context.Context, string, []string) error {
	return nil
}

// CapacityReduced moves the most recent bookings beyond capacity to the head of the
// waitlist so they are promoted first if seats free up again.
func (l *BookingLedger) CapacityReduced(_ context.Context, _ string, overflow []models.CapacityOverflow) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range overflow {
		e, ok := l.entries[o.OccurrenceID]
		if !ok || o.Overflow <= 0 {
			continue
		}
		n := o.Overflow
		if n > len(e.booked) {
			n = len(e.booked)
		}
		cut := len(e.booked) - n
		demoted := append([]string(nil), e.booked[cut:]...)
		e.booked = e.booked[:cut]
		e.waitlist = append(demoted, e.waitlist...)
	}
	return nil
}

// Cancelled reports whether the ledger was told the occurrence is cancelled.
func (l *BookingLedger) Cancelled(occurrenceID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[occurrenceID]
	return ok && e.cancelled
}
