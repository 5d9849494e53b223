// Package normalize is the single ingestion boundary that maps raw stored
// attendance documents into canonical in-memory records. Historical data
// carries the occurred-at field in three encodings (a document-store timestamp
// object, a string, an integer epoch) and may omit fields entirely; everything
// read from either backend passes through here before any other code sees it.
package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"navalha/backend/internal/domain"
)

// RawLineItem tolerates missing names and non-numeric prices.
type RawLineItem struct {
	Name       string           `json:"name"`
	PriceCents *json.RawMessage `json:"price_cents"`
}

// RawAttendance is the persisted document shape before normalization.
// OccurredAt is deliberately untyped.
type RawAttendance struct {
	ID               string           `json:"id"`
	ShopID           string           `json:"shop_id"`
	ClientName       string           `json:"client_name"`
	Services         []RawLineItem    `json:"services"`
	ConsumedProducts []RawLineItem    `json:"consumed_products"`
	TotalCents       *json.RawMessage `json:"total_cents"`
	OccurredAt       any              `json:"occurred_at"`
	Hour             string           `json:"hour"`
	Note             string           `json:"note"`
}

// timestampDoc is the document-store server timestamp encoding. Its Seconds
// field plays the role of a toDate-style conversion.
type timestampDoc struct {
	Seconds int64 `json:"seconds"`
	Nanos   int64 `json:"nanos"`
}

// Record never fails: malformed fields coerce to safe defaults so that
// pre-validation historical records still load. A missing or unparseable
// occurred-at falls back to now (injected by the caller).
func Record(raw RawAttendance, now time.Time) domain.Attendance {
	return domain.Attendance{
		ID:               raw.ID,
		ShopID:           raw.ShopID,
		ClientName:       raw.ClientName,
		Services:         lineItems(raw.Services),
		ConsumedProducts: lineItems(raw.ConsumedProducts),
		TotalCents:       cents(raw.TotalCents),
		OccurredAt:       Instant(raw.OccurredAt, now),
		Hour:             strings.TrimSpace(raw.Hour),
		Note:             raw.Note,
	}
}

// Instant resolves the heterogeneous occurred-at encodings, in order: a
// timestamp object, a string, an integer epoch. Absent or unparseable values
// fall back to now rather than erroring; a dashboard must keep loading even
// when one legacy record is broken.
func Instant(value any, now time.Time) time.Time {
	switch v := value.(type) {
	case nil:
		return now
	case time.Time:
		return v
	case timestampDoc:
		return time.Unix(v.Seconds, v.Nanos).In(now.Location())
	case string:
		if t, ok := parseInstantString(v); ok {
			return t
		}
		return now
	case float64:
		// JSON numbers decode as float64.
		return epochInstant(int64(v), now)
	case int64:
		return epochInstant(v, now)
	case int:
		return epochInstant(int64(v), now)
	case map[string]any:
		// A decoded timestamp object: {"seconds": ..., "nanos": ...}.
		if secs, ok := v["seconds"].(float64); ok {
			nanos, _ := v["nanos"].(float64)
			return time.Unix(int64(secs), int64(nanos)).In(now.Location())
		}
		return now
	default:
		return now
	}
}

func parseInstantString(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	} {
		if layout == time.RFC3339Nano || layout == time.RFC3339 {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// epochInstant treats values that look like milliseconds as milliseconds.
// Anything recorded after ~2001 in seconds stays below 1e12.
func epochInstant(v int64, now time.Time) time.Time {
	if v <= 0 {
		return now
	}
	if v >= 1_000_000_000_000 {
		return time.UnixMilli(v).In(now.Location())
	}
	return time.Unix(v, 0).In(now.Location())
}

func lineItems(raw []RawLineItem) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(raw))
	for _, item := range raw {
		items = append(items, domain.LineItem{
			Name:       strings.TrimSpace(item.Name),
			PriceCents: cents(item.PriceCents),
		})
	}
	return items
}

// cents coerces a raw JSON value into int64 cents; non-numeric input becomes 0.
func cents(raw *json.RawMessage) int64 {
	if raw == nil || len(*raw) == 0 {
		return 0
	}
	var asInt int64
	if err := json.Unmarshal(*raw, &asInt); err == nil {
		return asInt
	}
	var asFloat float64
	if err := json.Unmarshal(*raw, &asFloat); err == nil {
		return int64(asFloat)
	}
	var asString string
	if err := json.Unmarshal(*raw, &asString); err == nil {
		var parsed float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(asString)), &parsed); err == nil {
			return int64(parsed)
		}
	}
	return 0
}

// RawCents wraps an integer for building RawAttendance values in tests and
// in the local store's write path.
func RawCents(v int64) *json.RawMessage {
	encoded, _ := json.Marshal(v)
	msg := json.RawMessage(encoded)
	return &msg
}
