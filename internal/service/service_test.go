package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"navalha/backend/internal/cache"
	"navalha/backend/internal/domain"
	"navalha/backend/internal/filter"
	"navalha/backend/internal/normalize"
	"navalha/backend/internal/period"
	"navalha/backend/internal/store"
	"navalha/backend/internal/store/memory"
)

const testShop = "shop-test"

var testNow = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.Local)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewEmpty(testShop).WithClock(func() time.Time { return testNow })
	svc := New(repo, cache.NoopDashboardCache{}, time.Second).WithClock(func() time.Time { return testNow })
	return svc, repo
}

func register(t *testing.T, svc *Service, client, date, hour string, services []domain.LineItem, products []domain.LineItem) domain.Attendance {
	t.Helper()
	att, err := svc.RegisterAttendance(context.Background(), testShop, domain.AttendanceCreateRequest{
		ClientName:       client,
		Services:         services,
		ConsumedProducts: products,
		Date:             date,
		Hour:             hour,
	})
	if err != nil {
		t.Fatalf("register attendance for %s: %v", client, err)
	}
	return att
}

func corte() []domain.LineItem { return []domain.LineItem{{Name: "Corte", PriceCents: 3500}} }

func TestRegisterAttendanceValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.AttendanceCreateRequest
	}{
		{"empty client", domain.AttendanceCreateRequest{Services: corte()}},
		{"no services", domain.AttendanceCreateRequest{ClientName: "Ana"}},
		{"zero total with free lines", domain.AttendanceCreateRequest{
			ClientName: "Ana",
			Services:   []domain.LineItem{{Name: "Cortesia", PriceCents: 0}},
		}},
		{"long note", domain.AttendanceCreateRequest{
			ClientName: "Ana",
			Services:   corte(),
			Note:       string(make([]byte, 201)),
		}},
		{"bad date", domain.AttendanceCreateRequest{
			ClientName: "Ana",
			Services:   corte(),
			Date:       "10/06/2024",
			Hour:       "14:00",
		}},
	}

	for _, tc := range cases {
		if _, err := svc.RegisterAttendance(ctx, testShop, tc.req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	// Validation fails before any I/O: nothing was persisted.
	list, err := svc.ListAttendances(ctx, testShop, filter.Criteria{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("failed registrations must not persist, found %d", len(list))
	}
}

func TestRegisterAttendanceDerivesTotalFromLines(t *testing.T) {
	svc, _ := newTestService()

	att := register(t, svc, "Ana", "2024-06-10", "14:30",
		corte(), []domain.LineItem{{Name: "Cerveja", PriceCents: 500}})

	if att.TotalCents != 4000 {
		t.Fatalf("expected derived total 4000, got %d", att.TotalCents)
	}
	if att.Hour != "14:30" {
		t.Fatalf("expected stored hour label, got %q", att.Hour)
	}
	if att.OccurredAt.Day() != 10 || att.OccurredAt.Hour() != 14 {
		t.Fatalf("occurred-at should combine date and hour, got %v", att.OccurredAt)
	}
}

func TestRegisterAttendanceKeepsDivergentSubmittedTotal(t *testing.T) {
	svc, _ := newTestService()

	att, err := svc.RegisterAttendance(context.Background(), testShop, domain.AttendanceCreateRequest{
		ClientName: "Ana",
		Services:   corte(),
		TotalCents: 9999, // diverges from the 3500 line sum; warned, not rejected
		Date:       "2024-06-10",
		Hour:       "10:00",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if att.TotalCents != 9999 {
		t.Fatalf("divergent submitted total should be kept, got %d", att.TotalCents)
	}
}

func TestDashboardDayWindowSelectsSameCalendarDay(t *testing.T) {
	svc, _ := newTestService()

	register(t, svc, "Ana", "2024-06-10", "09:00", corte(), nil)
	register(t, svc, "Bia", "2024-06-10", "18:30", corte(), nil)
	register(t, svc, "Caio", "2024-06-11", "10:00", corte(), nil)

	resp, err := svc.Dashboard(context.Background(), testShop, period.Day, nil)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if resp.Summary.Count != 2 {
		t.Fatalf("day window for Jun 10 should select exactly 2 attendances, got %d", resp.Summary.Count)
	}
	if resp.Summary.TotalRevenueCents != 7000 {
		t.Fatalf("expected revenue 7000, got %d", resp.Summary.TotalRevenueCents)
	}
	for _, att := range resp.Attendances {
		if att.OccurredAt.Day() != 10 {
			t.Fatalf("attendance outside the day window leaked in: %v", att.OccurredAt)
		}
	}
}

func TestDashboardCustomWindowPrecedence(t *testing.T) {
	svc, _ := newTestService()

	register(t, svc, "Ana", "2024-06-10", "09:00", corte(), nil)
	register(t, svc, "Bia", "2024-05-02", "09:00", corte(), nil)

	window, err := svc.CustomWindow("2024-05-01", "2024-05-31")
	if err != nil {
		t.Fatalf("custom window: %v", err)
	}

	resp, err := svc.Dashboard(context.Background(), testShop, period.Day, window)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if resp.Summary.Count != 1 || resp.Attendances[0].ClientName != "Bia" {
		t.Fatalf("custom window should override the preset kind: %+v", resp.Summary)
	}
}

func TestCustomWindowRejectsInvertedRange(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.CustomWindow("2024-06-10", "2024-06-01"); !errors.Is(err, period.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestDashboardEmptyShopSignalsNoData(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.Dashboard(context.Background(), testShop, period.Month, nil)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if resp.Summary.HasData || resp.Summary.Count != 0 {
		t.Fatalf("empty shop should report no data: %+v", resp.Summary)
	}
}

// hookRepo lets a test interleave a second dashboard load while the first is
// still inside its repository read.
type hookRepo struct {
	store.Repository
	onListWindow func()
}

func (h *hookRepo) ListAttendancesInWindow(ctx context.Context, shopID string, window period.Window) ([]domain.Attendance, error) {
	if h.onListWindow != nil {
		hook := h.onListWindow
		h.onListWindow = nil
		hook()
	}
	return h.Repository.ListAttendancesInWindow(ctx, shopID, window)
}

func TestDashboardDiscardsSupersededLoad(t *testing.T) {
	repo := memory.NewEmpty(testShop).WithClock(func() time.Time { return testNow })
	hooked := &hookRepo{Repository: repo}
	svc := New(hooked, cache.NoopDashboardCache{}, time.Second).WithClock(func() time.Time { return testNow })

	var second DashboardResponse
	var secondErr error
	hooked.onListWindow = func() {
		second, secondErr = svc.Dashboard(context.Background(), testShop, period.Day, nil)
	}

	_, firstErr := svc.Dashboard(context.Background(), testShop, period.Day, nil)
	if !errors.Is(firstErr, ErrSuperseded) {
		t.Fatalf("older load must be discarded, got %v", firstErr)
	}
	if secondErr != nil {
		t.Fatalf("newer load should win: %v", secondErr)
	}
	if second.Summary.Count != 0 {
		t.Fatalf("unexpected newer result: %+v", second.Summary)
	}
}

func TestListAttendancesAppliesTableFilters(t *testing.T) {
	svc, _ := newTestService()

	register(t, svc, "João", "2024-06-10", "09:15", corte(), nil)
	register(t, svc, "joão Silva", "2024-06-11", "14:30",
		[]domain.LineItem{{Name: "Barba", PriceCents: 3000}}, nil)
	register(t, svc, "Pedro", "2024-07-10", "14:45",
		[]domain.LineItem{{Name: "Barba", PriceCents: 3000}},
		[]domain.LineItem{{Name: "Corte", PriceCents: 500}})

	got, err := svc.ListAttendances(context.Background(), testShop, filter.Criteria{ClientSubstring: "joão"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("case-insensitive substring should match both Joãos, got %d", len(got))
	}

	got, err = svc.ListAttendances(context.Background(), testShop, filter.Criteria{ExactServiceName: "Corte"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ClientName != "João" {
		t.Fatalf("consumed products must not satisfy the service filter: %+v", got)
	}
}

func TestUpdateAttendancePatchesOnlyProvidedFields(t *testing.T) {
	svc, _ := newTestService()
	att := register(t, svc, "Ana", "2024-06-10", "14:30", corte(), nil)

	newName := "Ana Paula"
	updated, err := svc.UpdateAttendance(context.Background(), testShop, att.ID, domain.AttendanceUpdateRequest{
		ClientName: &newName,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ClientName != "Ana Paula" {
		t.Fatalf("client name not patched: %+v", updated)
	}
	if updated.TotalCents != att.TotalCents || len(updated.Services) != 1 {
		t.Fatalf("unpatched fields must stay untouched: %+v", updated)
	}
	if !updated.OccurredAt.Equal(att.OccurredAt) {
		t.Fatalf("occurred-at is immutable, got %v", updated.OccurredAt)
	}
}

func TestDeleteAttendance(t *testing.T) {
	svc, _ := newTestService()
	att := register(t, svc, "Ana", "2024-06-10", "14:30", corte(), nil)

	if err := svc.DeleteAttendance(context.Background(), testShop, att.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteAttendance(context.Background(), testShop, att.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestTenantScopingIsStructural(t *testing.T) {
	svc, _ := newTestService()
	att := register(t, svc, "Ana", "2024-06-10", "14:30", corte(), nil)

	// The id alone must never cross a tenant boundary.
	if err := svc.DeleteAttendance(context.Background(), "other-shop", att.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-tenant delete should be not found, got %v", err)
	}
	if _, err := svc.UpdateAttendance(context.Background(), "other-shop", att.ID, domain.AttendanceUpdateRequest{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-tenant update should be not found, got %v", err)
	}
}

func TestLegacyRecordsLoadThroughNormalization(t *testing.T) {
	svc, repo := newTestService()

	// Three historical encodings of the same field plus a record with no
	// occurred-at at all. None of them may break a dashboard load.
	repo.SeedRaw(testShop, normalize.RawAttendance{
		ID: "legacy-string", ClientName: "A",
		Services:   []normalize.RawLineItem{{Name: "Corte", PriceCents: normalize.RawCents(3500)}},
		TotalCents: normalize.RawCents(3500),
		OccurredAt: "2024-06-10T09:00:00",
	})
	repo.SeedRaw(testShop, normalize.RawAttendance{
		ID: "legacy-epoch", ClientName: "B",
		Services:   []normalize.RawLineItem{{Name: "Corte", PriceCents: normalize.RawCents(3500)}},
		TotalCents: normalize.RawCents(3500),
		OccurredAt: float64(time.Date(2024, time.June, 10, 15, 0, 0, 0, time.Local).Unix()),
	})
	repo.SeedRaw(testShop, normalize.RawAttendance{
		ID: "legacy-missing", ClientName: "C",
		Services:   []normalize.RawLineItem{{Name: "Corte", PriceCents: normalize.RawCents(3500)}},
		TotalCents: normalize.RawCents(3500),
	})

	resp, err := svc.Dashboard(context.Background(), testShop, period.Day, nil)
	if err != nil {
		t.Fatalf("dashboard over legacy records: %v", err)
	}
	// The missing-date record falls back to the store clock (testNow), which
	// is inside the day window too.
	if resp.Summary.Count != 3 {
		t.Fatalf("expected all 3 legacy records in the day window, got %d", resp.Summary.Count)
	}
}

func TestCatalogModuleGating(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// The empty test shop starts on the inicial plan, which includes the
	// products module.
	if _, err := svc.CreateCatalogItem(ctx, testShop, domain.CatalogKindProduct, domain.CatalogItemCreateRequest{
		Name: "Cerveja", PriceCents: 500,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	if _, err := svc.ListCatalog(ctx, testShop, "agenda"); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("unknown catalog kind should fail validation, got %v", err)
	}
}

func TestSelectPlanRequiresOwner(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.SelectPlan(context.Background(), testShop, "platinum"); err == nil {
		t.Fatalf("plan selection without owner session should fail")
	}

	ctx := WithActor(context.Background(), domain.Actor{Username: "owner", ShopID: testShop, Role: domain.RoleOwner})
	shop, err := svc.SelectPlan(ctx, testShop, "platinum")
	if err != nil {
		t.Fatalf("select plan: %v", err)
	}
	if shop.PlanID != "platinum" || !shop.HasModule(domain.ModuleScheduling) {
		t.Fatalf("plan modules not applied: %+v", shop)
	}

	if _, err := svc.SelectPlan(ctx, testShop, "gold"); !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestCatalogEditsDoNotRewriteAttendances(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	item, err := svc.CreateCatalogItem(ctx, testShop, domain.CatalogKindService, domain.CatalogItemCreateRequest{
		Name: "Corte", PriceCents: 3500,
	})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	att := register(t, svc, "Ana", "2024-06-10", "14:30", corte(), nil)

	newName := "Corte Premium"
	newPrice := int64(5000)
	if _, err := svc.UpdateCatalogItem(ctx, testShop, domain.CatalogKindService, item.ID, domain.CatalogItemUpdateRequest{
		Name: &newName, PriceCents: &newPrice,
	}); err != nil {
		t.Fatalf("update catalog item: %v", err)
	}

	reloaded, err := svc.ListAttendances(ctx, testShop, filter.Criteria{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if reloaded[0].Services[0].Name != "Corte" || reloaded[0].Services[0].PriceCents != 3500 {
		t.Fatalf("attendance snapshot must survive catalog edits: %+v", reloaded[0].Services)
	}
	_ = att
}

func TestDashboardUsesCache(t *testing.T) {
	repo := memory.NewEmpty(testShop).WithClock(func() time.Time { return testNow })
	fake := &countingCache{store: map[string]*cache.DashboardPayload{}}
	svc := New(repo, fake, time.Minute).WithClock(func() time.Time { return testNow })

	register(t, svc, "Ana", "2024-06-10", "09:00", corte(), nil)

	if _, err := svc.Dashboard(context.Background(), testShop, period.Day, nil); err != nil {
		t.Fatalf("first dashboard: %v", err)
	}
	if fake.sets != 1 {
		t.Fatalf("first load should populate the cache, sets=%d", fake.sets)
	}

	if _, err := svc.Dashboard(context.Background(), testShop, period.Day, nil); err != nil {
		t.Fatalf("second dashboard: %v", err)
	}
	if fake.hits != 1 {
		t.Fatalf("second load should hit the cache, hits=%d", fake.hits)
	}

	// A write sweeps the shop's cached windows.
	register(t, svc, "Bia", "2024-06-10", "10:00", corte(), nil)
	if fake.invalidations == 0 {
		t.Fatalf("attendance writes must invalidate the dashboard cache")
	}
}

type countingCache struct {
	store         map[string]*cache.DashboardPayload
	sets          int
	hits          int
	invalidations int
}

func (c *countingCache) Get(_ context.Context, key string) (*cache.DashboardPayload, bool, error) {
	payload, ok := c.store[key]
	if ok {
		c.hits++
	}
	return payload, ok, nil
}

func (c *countingCache) Set(_ context.Context, key string, value *cache.DashboardPayload, _ time.Duration) error {
	c.store[key] = value
	c.sets++
	return nil
}

func (c *countingCache) InvalidateShop(_ context.Context, _ string) error {
	c.invalidations++
	c.store = map[string]*cache.DashboardPayload{}
	return nil
}
