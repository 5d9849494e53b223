package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"navalha/backend/internal/cache"
	"navalha/backend/internal/domain"
	"navalha/backend/internal/filter"
	"navalha/backend/internal/period"
	"navalha/backend/internal/stats"
	"navalha/backend/internal/store"
)

var (
	// ErrSuperseded marks a dashboard load that finished after a newer load
	// for the same shop had already started. The caller discards the result.
	ErrSuperseded = errors.New("dashboard load superseded")

	ErrModuleNotInPlan = errors.New("module not included in the active plan")
	ErrUnknownPlan     = errors.New("unknown plan")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// loadTracker hands out per-shop generation numbers so a stale dashboard load
// can be detected at completion time instead of overwriting a newer one.
type loadTracker struct {
	mu     sync.Mutex
	latest map[string]uint64
}

func newLoadTracker() *loadTracker {
	return &loadTracker{latest: make(map[string]uint64)}
}

func (t *loadTracker) begin(shopID string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest[shopID]++
	return t.latest[shopID]
}

func (t *loadTracker) isCurrent(shopID string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest[shopID] == gen
}

type Service struct {
	repo     store.Repository
	cache    cache.DashboardCache
	cacheTTL time.Duration
	now      func() time.Time
	loads    *loadTracker
}

func New(repo store.Repository, dashCache cache.DashboardCache, cacheTTL time.Duration) *Service {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Service{
		repo:     repo,
		cache:    dashCache,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now() },
		loads:    newLoadTracker(),
	}
}

// WithClock fixes the service clock; tests use it to pin date windows.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type DashboardResponse struct {
	Window      period.Window       `json:"window"`
	Summary     stats.Summary       `json:"summary"`
	Attendances []domain.Attendance `json:"attendances"`
}

// Dashboard loads the shop's attendances for a preset period and aggregates
// them. A custom window, when the caller validated and resolved one, takes
// precedence over the kind.
func (s *Service) Dashboard(ctx context.Context, shopID string, kind period.Kind, custom *period.Window) (DashboardResponse, error) {
	if shopID == "" {
		return DashboardResponse{}, fmt.Errorf("%w: shop id required", store.ErrValidation)
	}

	window := period.Resolve(kind, s.now())
	if custom != nil {
		window = *custom
	}

	gen := s.loads.begin(shopID)

	key := cache.ShopKey(shopID, window.Start, window.End)
	if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		if !s.loads.isCurrent(shopID, gen) {
			return DashboardResponse{}, ErrSuperseded
		}
		return DashboardResponse{Window: window, Summary: cached.Summary, Attendances: cached.Recent}, nil
	} else if err != nil {
		log.Printf("[service] WARN: dashboard cache read failed shop=%s: %v", shopID, err)
	}

	attendances, err := s.repo.ListAttendancesInWindow(ctx, shopID, window)
	if err != nil {
		return DashboardResponse{}, err
	}

	summary := stats.Aggregate(attendances)

	// A load that lost the race stays out of both the cache and the caller.
	if !s.loads.isCurrent(shopID, gen) {
		return DashboardResponse{}, ErrSuperseded
	}

	if err := s.cache.Set(ctx, key, &cache.DashboardPayload{Summary: summary, Recent: attendances}, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: dashboard cache write failed shop=%s: %v", shopID, err)
	}

	return DashboardResponse{Window: window, Summary: summary, Attendances: attendances}, nil
}

// CustomWindow validates explicit bounds before anything downstream sees them.
func (s *Service) CustomWindow(startDate, endDate string) (*period.Window, error) {
	start, err := time.ParseInLocation("2006-01-02", startDate, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: start date must be YYYY-MM-DD", store.ErrValidation)
	}
	end, err := time.ParseInLocation("2006-01-02", endDate, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: end date must be YYYY-MM-DD", store.ErrValidation)
	}
	window, err := period.Custom(start, end)
	if err != nil {
		return nil, err
	}
	return &window, nil
}

// ListAttendances returns the shop's full attendance history, optionally
// narrowed by the management table's compound filters. Filtering happens over
// the already-loaded list; both backends return the same logical set.
func (s *Service) ListAttendances(ctx context.Context, shopID string, criteria filter.Criteria) ([]domain.Attendance, error) {
	if shopID == "" {
		return nil, fmt.Errorf("%w: shop id required", store.ErrValidation)
	}
	attendances, err := s.repo.ListAttendances(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return filter.Apply(attendances, criteria), nil
}

func (s *Service) RegisterAttendance(ctx context.Context, shopID string, req domain.AttendanceCreateRequest) (domain.Attendance, error) {
	if shopID == "" {
		return domain.Attendance{}, fmt.Errorf("%w: shop id required", store.ErrValidation)
	}

	req.ClientName = strings.TrimSpace(req.ClientName)
	if req.ClientName == "" {
		return domain.Attendance{}, fmt.Errorf("%w: client name required", store.ErrValidation)
	}
	if len(req.Services) == 0 {
		return domain.Attendance{}, fmt.Errorf("%w: at least one service required", store.ErrValidation)
	}
	if len(req.Note) > 200 {
		return domain.Attendance{}, fmt.Errorf("%w: note longer than 200 characters", store.ErrValidation)
	}

	lineSum := sumLines(req.Services) + sumLines(req.ConsumedProducts)
	total := req.TotalCents
	if total <= 0 {
		total = lineSum
	}
	if total <= 0 {
		return domain.Attendance{}, fmt.Errorf("%w: total value must be positive", store.ErrValidation)
	}
	if req.TotalCents > 0 && req.TotalCents != lineSum {
		// Historical behavior tolerates a divergent submitted total; keep it
		// but flag the record for data-quality review.
		log.Printf("[service] WARN: attendance total %d diverges from line sum %d (shop=%s client=%s)", req.TotalCents, lineSum, shopID, req.ClientName)
	}

	occurredAt, hour, err := s.occurredAtFromForm(req.Date, req.Hour)
	if err != nil {
		return domain.Attendance{}, err
	}

	att := domain.Attendance{
		ShopID:           shopID,
		ClientName:       req.ClientName,
		Services:         cloneLines(req.Services),
		ConsumedProducts: cloneLines(req.ConsumedProducts),
		TotalCents:       total,
		OccurredAt:       occurredAt,
		Hour:             hour,
		Note:             req.Note,
	}

	created, err := s.repo.CreateAttendance(ctx, att)
	if err != nil {
		return domain.Attendance{}, err
	}

	s.invalidateDashboards(ctx, shopID)
	return *created, nil
}

// occurredAtFromForm combines the form's date and hour fields into one
// instant. Drafts are validated strictly, unlike stored records, which go
// through the lenient normalization boundary on read.
func (s *Service) occurredAtFromForm(date string, hour string) (time.Time, string, error) {
	hour = strings.TrimSpace(hour)
	now := s.now()

	if strings.TrimSpace(date) == "" {
		if hour == "" {
			hour = now.Format("15:04")
		}
		return now, hour, nil
	}

	if hour == "" {
		at, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		return at, "", nil
	}

	at, err := time.ParseInLocation("2006-01-02T15:04", date+"T"+hour, time.Local)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: date/hour must be YYYY-MM-DD and HH:MM", store.ErrValidation)
	}
	return at, hour, nil
}

func (s *Service) UpdateAttendance(ctx context.Context, shopID string, id string, patch domain.AttendanceUpdateRequest) (domain.Attendance, error) {
	if shopID == "" || id == "" {
		return domain.Attendance{}, fmt.Errorf("%w: shop id and attendance id required", store.ErrValidation)
	}
	if patch.ClientName != nil && strings.TrimSpace(*patch.ClientName) == "" {
		return domain.Attendance{}, fmt.Errorf("%w: client name required", store.ErrValidation)
	}
	if patch.Services != nil && len(*patch.Services) == 0 {
		return domain.Attendance{}, fmt.Errorf("%w: at least one service required", store.ErrValidation)
	}
	if patch.TotalCents != nil && *patch.TotalCents <= 0 {
		return domain.Attendance{}, fmt.Errorf("%w: total value must be positive", store.ErrValidation)
	}
	if patch.Note != nil && len(*patch.Note) > 200 {
		return domain.Attendance{}, fmt.Errorf("%w: note longer than 200 characters", store.ErrValidation)
	}

	updated, err := s.repo.UpdateAttendance(ctx, shopID, id, patch)
	if err != nil {
		return domain.Attendance{}, err
	}

	s.invalidateDashboards(ctx, shopID)
	return *updated, nil
}

func (s *Service) DeleteAttendance(ctx context.Context, shopID string, id string) error {
	if shopID == "" || id == "" {
		return fmt.Errorf("%w: shop id and attendance id required", store.ErrValidation)
	}
	if err := s.repo.DeleteAttendance(ctx, shopID, id); err != nil {
		return err
	}
	s.invalidateDashboards(ctx, shopID)
	return nil
}

func (s *Service) invalidateDashboards(ctx context.Context, shopID string) {
	if err := s.cache.InvalidateShop(ctx, shopID); err != nil {
		log.Printf("[service] WARN: dashboard cache invalidation failed shop=%s: %v", shopID, err)
	}
}

func (s *Service) ListCatalog(ctx context.Context, shopID string, kind string) ([]domain.CatalogItem, error) {
	if err := s.requireCatalogModule(ctx, shopID, kind); err != nil {
		return nil, err
	}
	return s.repo.ListCatalogItems(ctx, shopID, kind)
}

func (s *Service) CreateCatalogItem(ctx context.Context, shopID string, kind string, req domain.CatalogItemCreateRequest) (domain.CatalogItem, error) {
	if err := s.requireCatalogModule(ctx, shopID, kind); err != nil {
		return domain.CatalogItem{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.CatalogItem{}, fmt.Errorf("%w: name required", store.ErrValidation)
	}
	if req.PriceCents < 0 {
		return domain.CatalogItem{}, fmt.Errorf("%w: price must not be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateCatalogItem(ctx, domain.CatalogItem{
		ShopID:     shopID,
		Kind:       kind,
		Name:       req.Name,
		PriceCents: req.PriceCents,
	})
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return *created, nil
}

// UpdateCatalogItem renames or reprices a catalog entry. Existing attendances
// keep their snapshotted name and price; there is no bulk relabel.
func (s *Service) UpdateCatalogItem(ctx context.Context, shopID string, kind string, id string, patch domain.CatalogItemUpdateRequest) (domain.CatalogItem, error) {
	if err := s.requireCatalogModule(ctx, shopID, kind); err != nil {
		return domain.CatalogItem{}, err
	}
	if id == "" {
		return domain.CatalogItem{}, fmt.Errorf("%w: item id required", store.ErrValidation)
	}

	updated, err := s.repo.UpdateCatalogItem(ctx, shopID, id, patch)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteCatalogItem(ctx context.Context, shopID string, kind string, id string) error {
	if err := s.requireCatalogModule(ctx, shopID, kind); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: item id required", store.ErrValidation)
	}
	return s.repo.DeleteCatalogItem(ctx, shopID, id)
}

func (s *Service) requireCatalogModule(ctx context.Context, shopID string, kind string) error {
	if shopID == "" {
		return fmt.Errorf("%w: shop id required", store.ErrValidation)
	}
	switch kind {
	case domain.CatalogKindService:
		return s.RequireModule(ctx, shopID, domain.ModuleServices)
	case domain.CatalogKindProduct:
		return s.RequireModule(ctx, shopID, domain.ModuleProducts)
	default:
		return fmt.Errorf("%w: unknown catalog kind %q", store.ErrValidation, kind)
	}
}

func (s *Service) ListClients(ctx context.Context, shopID string) ([]domain.Client, error) {
	if shopID == "" {
		return nil, fmt.Errorf("%w: shop id required", store.ErrValidation)
	}
	return s.repo.ListClients(ctx, shopID)
}

func (s *Service) CreateClient(ctx context.Context, shopID string, req domain.ClientCreateRequest) (domain.Client, error) {
	if shopID == "" {
		return domain.Client{}, fmt.Errorf("%w: shop id required", store.ErrValidation)
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Client{}, fmt.Errorf("%w: client name required", store.ErrValidation)
	}

	created, err := s.repo.CreateClient(ctx, domain.Client{
		ShopID: shopID,
		Name:   req.Name,
		Phone:  strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Client{}, err
	}
	return *created, nil
}

func (s *Service) DeleteClient(ctx context.Context, shopID string, id string) error {
	if shopID == "" || id == "" {
		return fmt.Errorf("%w: shop id and client id required", store.ErrValidation)
	}
	return s.repo.DeleteClient(ctx, shopID, id)
}

func (s *Service) GetShop(ctx context.Context, shopID string) (domain.Shop, error) {
	if shopID == "" {
		return domain.Shop{}, fmt.Errorf("%w: shop id required", store.ErrValidation)
	}
	shop, err := s.repo.GetShop(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

func (s *Service) SelectPlan(ctx context.Context, shopID string, planID string) (domain.Shop, error) {
	if shopID == "" {
		return domain.Shop{}, fmt.Errorf("%w: shop id required", store.ErrValidation)
	}
	plan, ok := domain.Plans[planID]
	if !ok {
		return domain.Shop{}, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}

	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleOwner {
		return domain.Shop{}, fmt.Errorf("owner role required")
	}

	updated, err := s.repo.UpdateShopPlan(ctx, shopID, plan)
	if err != nil {
		return domain.Shop{}, err
	}
	log.Printf("[service] shop %s switched to plan %s", shopID, plan.ID)
	return *updated, nil
}

// RequireModule gates plan-restricted features. The shop's active module list
// is authoritative; plans only seed it.
func (s *Service) RequireModule(ctx context.Context, shopID string, module string) error {
	shop, err := s.repo.GetShop(ctx, shopID)
	if err != nil {
		return err
	}
	if !shop.HasModule(module) {
		return fmt.Errorf("%w: %s", ErrModuleNotInPlan, module)
	}
	return nil
}

func sumLines(items []domain.LineItem) int64 {
	var sum int64
	for _, item := range items {
		sum += item.PriceCents
	}
	return sum
}

func cloneLines(items []domain.LineItem) []domain.LineItem {
	cloned := make([]domain.LineItem, len(items))
	copy(cloned, items)
	return cloned
}
