// Package filter applies the management table's compound filters over an
// attendance list already loaded in memory. All criteria combine with AND
// and absent criteria impose no constraint.
package filter

import (
	"strings"

	"navalha/backend/internal/domain"
)

type Criteria struct {
	ClientSubstring  string `json:"client_substring,omitempty"`
	ExactServiceName string `json:"exact_service_name,omitempty"`
	DayOfMonth       int    `json:"day_of_month,omitempty"`
	Month            int    `json:"month,omitempty"` // 1-12
	Year             int    `json:"year,omitempty"`
	HourPrefix       string `json:"hour_prefix,omitempty"` // first two digits of the stored hour label
}

func (c Criteria) IsZero() bool {
	return c == Criteria{}
}

// Apply filters without resorting: the output preserves the input's relative
// order, and empty criteria return the input unchanged.
func Apply(attendances []domain.Attendance, criteria Criteria) []domain.Attendance {
	if criteria.IsZero() {
		return attendances
	}

	filtered := make([]domain.Attendance, 0, len(attendances))
	for _, att := range attendances {
		if Matches(att, criteria) {
			filtered = append(filtered, att)
		}
	}
	return filtered
}

func Matches(att domain.Attendance, criteria Criteria) bool {
	if criteria.ClientSubstring != "" {
		needle := strings.ToLower(strings.TrimSpace(criteria.ClientSubstring))
		if !strings.Contains(strings.ToLower(att.ClientName), needle) {
			return false
		}
	}

	// Only service lines count here; a product consumed under the same name
	// does not make the attendance match.
	if criteria.ExactServiceName != "" {
		found := false
		for _, svc := range att.Services {
			if svc.Name == criteria.ExactServiceName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	// Calendar components in local time, matching how records were entered.
	if criteria.DayOfMonth != 0 && att.OccurredAt.Day() != criteria.DayOfMonth {
		return false
	}
	if criteria.Month != 0 && int(att.OccurredAt.Month()) != criteria.Month {
		return false
	}
	if criteria.Year != 0 && att.OccurredAt.Year() != criteria.Year {
		return false
	}

	if criteria.HourPrefix != "" {
		prefix := criteria.HourPrefix
		if len(prefix) > 2 {
			prefix = prefix[:2]
		}
		// Records without a stored hour label never match an hour filter.
		if att.Hour == "" || !strings.HasPrefix(att.Hour, prefix) {
			return false
		}
	}

	return true
}
