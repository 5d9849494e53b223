package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"navalha/backend/internal/domain"
	"navalha/backend/internal/normalize"
	"navalha/backend/internal/period"
	"navalha/backend/internal/store"
)

var storeNow = time.Date(2024, time.June, 10, 12, 0, 0, 0, time.Local)

func newTestStore() *Store {
	return NewEmpty("shop-mem").WithClock(func() time.Time { return storeNow })
}

func mustCreate(t *testing.T, s *Store, clientName string, occurredAt time.Time) domain.Attendance {
	t.Helper()
	created, err := s.CreateAttendance(context.Background(), domain.Attendance{
		ShopID:     "shop-mem",
		ClientName: clientName,
		Services:   []domain.LineItem{{Name: "Corte", PriceCents: 3500}},
		TotalCents: 3500,
		OccurredAt: occurredAt,
	})
	if err != nil {
		t.Fatalf("create attendance: %v", err)
	}
	return *created
}

func TestWindowBoundsAreInclusive(t *testing.T) {
	s := newTestStore()
	window := period.Resolve(period.Day, storeNow)

	mustCreate(t, s, "At Start", window.Start)
	mustCreate(t, s, "At End", window.End)
	mustCreate(t, s, "Before", window.Start.Add(-time.Nanosecond))
	mustCreate(t, s, "After", window.End.Add(time.Nanosecond))

	got, err := s.ListAttendancesInWindow(context.Background(), "shop-mem", window)
	if err != nil {
		t.Fatalf("list in window: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected exactly the boundary records, got %d", len(got))
	}
	for _, att := range got {
		if att.ClientName != "At Start" && att.ClientName != "At End" {
			t.Fatalf("record outside bounds selected: %s", att.ClientName)
		}
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := newTestStore()
	mustCreate(t, s, "Oldest", storeNow.Add(-2*time.Hour))
	mustCreate(t, s, "Newest", storeNow)
	mustCreate(t, s, "Middle", storeNow.Add(-time.Hour))

	got, err := s.ListAttendances(context.Background(), "shop-mem")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"Newest", "Middle", "Oldest"}
	for i, name := range want {
		if got[i].ClientName != name {
			t.Fatalf("position %d: expected %s, got %s", i, name, got[i].ClientName)
		}
	}
}

func TestRawDocumentsNormalizeOnRead(t *testing.T) {
	s := newTestStore()

	// A stored document with a legacy string date and a quoted total.
	quoted := normalize.RawCents(3500)
	s.SeedRaw("shop-mem", normalize.RawAttendance{
		ID:         "legacy-1",
		ClientName: "Ana",
		Services:   []normalize.RawLineItem{{Name: "Corte", PriceCents: quoted}},
		TotalCents: quoted,
		OccurredAt: "2024-06-10T09:30:00",
	})
	// A document with no date at all.
	s.SeedRaw("shop-mem", normalize.RawAttendance{
		ID:         "legacy-2",
		ClientName: "Bia",
		Services:   []normalize.RawLineItem{{Name: "Corte", PriceCents: quoted}},
		TotalCents: quoted,
	})

	got, err := s.ListAttendances(context.Background(), "shop-mem")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for _, att := range got {
		if att.OccurredAt.IsZero() {
			t.Fatalf("normalization must never leave a zero occurred-at: %+v", att)
		}
		if att.Services == nil || att.ConsumedProducts == nil {
			t.Fatalf("normalization must never leave nil slices: %+v", att)
		}
	}

	dateless, err := s.GetAttendance(context.Background(), "shop-mem", "legacy-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !dateless.OccurredAt.Equal(storeNow) {
		t.Fatalf("missing date should fall back to the store clock, got %v", dateless.OccurredAt)
	}
}

func TestAttendancesAreShopScoped(t *testing.T) {
	s := newTestStore()
	att := mustCreate(t, s, "Ana", storeNow)

	if _, err := s.GetAttendance(context.Background(), "another-shop", att.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-shop get expected not found, got %v", err)
	}

	got, err := s.ListAttendances(context.Background(), "another-shop")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cross-shop list should be empty, got %d", len(got))
	}
}

func TestCreateAttendanceValidates(t *testing.T) {
	s := newTestStore()

	cases := []domain.Attendance{
		{ClientName: "Ana", Services: []domain.LineItem{{Name: "Corte", PriceCents: 3500}}, TotalCents: 3500}, // no shop
		{ShopID: "shop-mem", Services: []domain.LineItem{{Name: "Corte", PriceCents: 3500}}, TotalCents: 3500},
		{ShopID: "shop-mem", ClientName: "Ana", TotalCents: 3500},
		{ShopID: "shop-mem", ClientName: "Ana", Services: []domain.LineItem{{Name: "Corte", PriceCents: 3500}}},
	}
	for i, att := range cases {
		if _, err := s.CreateAttendance(context.Background(), att); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestUpdateAttendanceRevalidates(t *testing.T) {
	s := newTestStore()
	att := mustCreate(t, s, "Ana", storeNow)

	empty := ""
	if _, err := s.UpdateAttendance(context.Background(), "shop-mem", att.ID, domain.AttendanceUpdateRequest{
		ClientName: &empty,
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("blank client patch expected validation error, got %v", err)
	}

	// The failed patch must not have corrupted the stored record.
	reloaded, err := s.GetAttendance(context.Background(), "shop-mem", att.ID)
	if err != nil {
		t.Fatalf("get after failed patch: %v", err)
	}
	if reloaded.ClientName != "Ana" {
		t.Fatalf("record mutated by failed patch: %+v", reloaded)
	}
}

func TestCatalogNameUniquePerShopAndKind(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	if _, err := s.CreateCatalogItem(ctx, domain.CatalogItem{
		ShopID: "shop-mem", Kind: domain.CatalogKindService, Name: "Corte", PriceCents: 3500,
	}); err != nil {
		t.Fatalf("create service: %v", err)
	}
	if _, err := s.CreateCatalogItem(ctx, domain.CatalogItem{
		ShopID: "shop-mem", Kind: domain.CatalogKindService, Name: "Corte", PriceCents: 4000,
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate service expected conflict, got %v", err)
	}
	// The same name in the other kind does not collide.
	if _, err := s.CreateCatalogItem(ctx, domain.CatalogItem{
		ShopID: "shop-mem", Kind: domain.CatalogKindProduct, Name: "Corte", PriceCents: 500,
	}); err != nil {
		t.Fatalf("same name under product kind: %v", err)
	}
}

func TestSeededStoreHasDemoShop(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	shop, err := s.GetShop(ctx, "barbearia-demo")
	if err != nil {
		t.Fatalf("get demo shop: %v", err)
	}
	if shop.PlanID != "inicial" || !shop.HasModule(domain.ModuleDashboard) {
		t.Fatalf("demo shop not on the starter plan: %+v", shop)
	}

	services, err := s.ListCatalogItems(ctx, "barbearia-demo", domain.CatalogKindService)
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if len(services) == 0 {
		t.Fatalf("seeded store should carry a service catalog")
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "owner" {
		t.Fatalf("expected a single seeded owner account, got %+v", users)
	}
}
