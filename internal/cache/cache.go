package cache

import (
	"context"
	"time"

	"navalha/backend/internal/domain"
	"navalha/backend/internal/stats"
)

// DashboardPayload is the cached result of one dashboard load: the aggregated
// summary plus the attendances the summary was computed from.
type DashboardPayload struct {
	Summary stats.Summary       `json:"summary"`
	Recent  []domain.Attendance `json:"recent"`
}

// DashboardCache keeps recently computed dashboard windows. Writes to a
// shop's attendances invalidate the shop's cached windows best-effort; a
// missed invalidation only extends staleness until the TTL expires.
type DashboardCache interface {
	Get(ctx context.Context, key string) (*DashboardPayload, bool, error)
	Set(ctx context.Context, key string, value *DashboardPayload, ttl time.Duration) error
	InvalidateShop(ctx context.Context, shopID string) error
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*DashboardPayload, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *DashboardPayload, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) InvalidateShop(_ context.Context, _ string) error {
	return nil
}
