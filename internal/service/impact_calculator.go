package service

import (
	"context"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

// BookingSource supplies booking stats owned by the booking subsystem. Occurrences
// without bookings may be absent from the result.
type BookingSource interface {
	Stats(ctx context.Context, occurrenceIDs []string) (map[string]models.BookingStats, error)
}

type occurrenceLister interface {
	ListOccurrencesByIDs(ctx context.Context, ids []string) ([]models.Occurrence, error)
}

// ImpactCalculator forecasts the effect of a change. It never writes.
type ImpactCalculator struct {
	repo     occurrenceLister
	bookings BookingSource
}

// NewImpactCalculator constructs the calculator.
func NewImpactCalculator(repo occurrenceLister, bookings BookingSource) *ImpactCalculator {
	return &ImpactCalculator{repo: repo, bookings: bookings}
}

// Compute summarises the bookings behind occurrenceIDs. Unknown ids are ignored.
func (c *ImpactCalculator) Compute(ctx context.Context, occurrenceIDs []string) (models.ImpactSummary, error) {
	if len(occurrenceIDs) == 0 {
		return models.ImpactSummary{}, nil
	}
	occurrences, err := c.repo.ListOccurrencesByIDs(ctx, occurrenceIDs)
	if err != nil {
		return models.ImpactSummary{}, appErrors.Internal(err, "failed to load occurrences")
	}
	stats, err := c.stats(ctx, occurrenceIDs)
	if err != nil {
		return models.ImpactSummary{}, err
	}
	return summarize(occurrences, stats), nil
}

func (c *ImpactCalculator) stats(ctx context.Context, ids []string) (map[string]models.BookingStats, error) {
	if c.bookings == nil {
		return map[string]models.BookingStats{}, nil
	}
	stats, err := c.bookings.Stats(ctx, ids)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load booking stats")
	}
	return stats, nil
}

// summarize applies the impact formulas. Clients are counted by id when the booking
// source exposes ids and by booked seats otherwise.
func summarize(occurrences []models.Occurrence, stats map[string]models.BookingStats) models.ImpactSummary {
	summary := models.ImpactSummary{AffectedOccurrences: len(occurrences)}
	clients := make(map[string]struct{})
	anonymous := 0
	for _, occ := range occurrences {
		st := stats[occ.ID]
		summary.WaitlistCount += st.Waitlist
		if st.HasPayments {
			summary.RefundsRequired++
		}
		if !occ.Active() || st.Booked <= 0 {
			continue
		}
		summary.RevenueAtRiskCents += occ.PriceCents * int64(st.Booked)
		if len(st.ClientIDs) == 0 {
			anonymous += st.Booked
			continue
		}
		for _, id := range st.ClientIDs {
			clients[id] = struct{}{}
		}
	}
	summary.AffectedClients = len(clients) + anonymous
	return summary
}

// overflow reports occurrences whose bookings exceed their capacity.
func overflow(occurrences []models.Occurrence, stats map[string]models.BookingStats) []models.CapacityOverflow {
	var out []models.CapacityOverflow
	for _, occ := range occurrences {
		st, ok := stats[occ.ID]
		if !ok || !occ.Active() || st.Booked <= occ.Capacity {
			continue
		}
		out = append(out, models.CapacityOverflow{
			OccurrenceID: occ.ID,
			Capacity:     occ.Capacity,
			Booked:       st.Booked,
			Overflow:     st.Booked - occ.Capacity,
		})
	}
	return out
}
