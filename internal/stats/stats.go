// Package stats aggregates a set of attendances into the dashboard numbers:
// headline totals plus a ranked per-item breakdown of every service and
// consumed-product line, with drill-down records per item.
package stats

import (
	"math"
	"sort"
	"time"

	"navalha/backend/internal/domain"
)

const (
	ItemKindService = "service"
	ItemKindProduct = "product"
)

// ItemRecord is one drill-down row behind a breakdown bar.
type ItemRecord struct {
	ClientName string    `json:"client_name"`
	OccurredAt time.Time `json:"occurred_at"`
	Hour       string    `json:"hour,omitempty"`
	ValueCents int64     `json:"value_cents"`
}

type BreakdownItem struct {
	Name        string       `json:"name"`
	Kind        string       `json:"kind"`
	Occurrences int          `json:"occurrences"`
	TotalCents  int64        `json:"total_cents"`
	Percent     float64      `json:"percent"`
	Records     []ItemRecord `json:"records"`
}

type Summary struct {
	Count              int   `json:"count"`
	TotalRevenueCents  int64 `json:"total_revenue_cents"`
	AverageTicketCents int64 `json:"average_ticket_cents"`
	// HasData separates "nothing recorded in the window" from a window whose
	// attendances are all zero-valued.
	HasData   bool            `json:"has_data"`
	Breakdown []BreakdownItem `json:"breakdown"`
}

// Aggregate is pure and deterministic: the headline totals are insensitive to
// input order, and the breakdown ranking is a stable sort by value so a fixed
// input always produces the same output.
func Aggregate(attendances []domain.Attendance) Summary {
	summary := Summary{
		Count:     len(attendances),
		HasData:   len(attendances) > 0,
		Breakdown: []BreakdownItem{},
	}

	for _, att := range attendances {
		summary.TotalRevenueCents += att.TotalCents
	}
	if summary.Count > 0 {
		summary.AverageTicketCents = summary.TotalRevenueCents / int64(summary.Count)
	}

	byName := make(map[string]*BreakdownItem)
	order := make([]string, 0)

	collect := func(att domain.Attendance, items []domain.LineItem, kind string) {
		for _, line := range items {
			item, seen := byName[line.Name]
			if !seen {
				item = &BreakdownItem{Name: line.Name, Kind: kind}
				byName[line.Name] = item
				order = append(order, line.Name)
			}
			// A name sold both as a service and as consumption keeps the
			// kind of its most recent line, matching the source behavior.
			item.Kind = kind
			item.Occurrences++
			item.TotalCents += line.PriceCents
			item.Records = append(item.Records, ItemRecord{
				ClientName: att.ClientName,
				OccurredAt: att.OccurredAt,
				Hour:       att.Hour,
				ValueCents: line.PriceCents,
			})
		}
	}

	for _, att := range attendances {
		collect(att, att.Services, ItemKindService)
		collect(att, att.ConsumedProducts, ItemKindProduct)
	}

	var grandTotal int64
	for _, name := range order {
		grandTotal += byName[name].TotalCents
	}

	ranked := make([]BreakdownItem, 0, len(order))
	for _, name := range order {
		ranked = append(ranked, *byName[name])
	}
	// Stable: ties keep first-encounter order.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalCents > ranked[j].TotalCents
	})

	for i := range ranked {
		if grandTotal > 0 {
			pct := float64(ranked[i].TotalCents) / float64(grandTotal) * 100
			ranked[i].Percent = math.Round(pct*10) / 10
		}
	}

	summary.Breakdown = ranked
	return summary
}
