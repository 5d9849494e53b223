// Package memory is the local fallback store used when no DATABASE_URL is
// configured. It keeps the shop's records as raw documents, the same logical
// shape the remote store persists, and normalizes them on every read so both
// backends share one ingestion path. Window filtering happens in process here;
// the remote backend pushes the same inclusive comparison into its query.
package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"navalha/backend/internal/domain"
	"navalha/backend/internal/normalize"
	"navalha/backend/internal/period"
	"navalha/backend/internal/store"
	"navalha/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	now             func() time.Time
	attendances     map[string][]normalize.RawAttendance // shopID -> raw documents
	catalogByID     map[string]domain.CatalogItem
	clientsByID     map[string]domain.Client
	shopsByID       map[string]domain.Shop
	usersByUsername map[string]domain.UserAccount
}

const seedShopID = "barbearia-demo"

// seedUsers builds the initial owner account for dev/demo mode. The password
// comes from SEED_OWNER_PASSWORD; a hardcoded dev default is used with a
// warning when unset. Production deployments configure DATABASE_URL and never
// reach this store.
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(ownerPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}
	return map[string]domain.UserAccount{
		"owner": {
			Username:  "owner",
			Password:  string(hash),
			ShopID:    seedShopID,
			Role:      domain.RoleOwner,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	plan := domain.Plans["inicial"]
	now := time.Now().UTC()

	catalog := map[string]domain.CatalogItem{}
	for _, item := range []domain.CatalogItem{
		{ID: xid.New("svc"), ShopID: seedShopID, Kind: domain.CatalogKindService, Name: "Corte", PriceCents: 3500, CreatedAt: now},
		{ID: xid.New("svc"), ShopID: seedShopID, Kind: domain.CatalogKindService, Name: "Barba", PriceCents: 3000, CreatedAt: now},
		{ID: xid.New("svc"), ShopID: seedShopID, Kind: domain.CatalogKindService, Name: "Corte + Barba", PriceCents: 6000, CreatedAt: now},
		{ID: xid.New("svc"), ShopID: seedShopID, Kind: domain.CatalogKindService, Name: "Sobrancelha", PriceCents: 1500, CreatedAt: now},
		{ID: xid.New("prd"), ShopID: seedShopID, Kind: domain.CatalogKindProduct, Name: "Cerveja", PriceCents: 500, CreatedAt: now},
		{ID: xid.New("prd"), ShopID: seedShopID, Kind: domain.CatalogKindProduct, Name: "Refrigerante", PriceCents: 400, CreatedAt: now},
		{ID: xid.New("prd"), ShopID: seedShopID, Kind: domain.CatalogKindProduct, Name: "Pomada", PriceCents: 2500, CreatedAt: now},
	} {
		catalog[item.ID] = item
	}

	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		attendances: map[string][]normalize.RawAttendance{seedShopID: {}},
		catalogByID: catalog,
		clientsByID: map[string]domain.Client{},
		shopsByID: map[string]domain.Shop{
			seedShopID: {
				ID:             seedShopID,
				Name:           "Barbearia Demo",
				PlanID:         plan.ID,
				PlanName:       plan.Name,
				PlanPriceCents: plan.PriceCents,
				Modules:        slices.Clone(plan.Modules),
				CreatedAt:      now,
			},
		},
		usersByUsername: seedUsers(),
	}
}

// NewEmpty returns a store with a single shop and no seed data. Tests use it
// together with WithClock to fix the normalization fallback instant.
func NewEmpty(shopID string) *Store {
	plan := domain.Plans["inicial"]
	return &Store{
		now:         func() time.Time { return time.Now().UTC() },
		attendances: map[string][]normalize.RawAttendance{shopID: {}},
		catalogByID: map[string]domain.CatalogItem{},
		clientsByID: map[string]domain.Client{},
		shopsByID: map[string]domain.Shop{
			shopID: {
				ID:             shopID,
				Name:           shopID,
				PlanID:         plan.ID,
				PlanName:       plan.Name,
				PlanPriceCents: plan.PriceCents,
				Modules:        slices.Clone(plan.Modules),
				CreatedAt:      time.Now().UTC(),
			},
		},
		usersByUsername: map[string]domain.UserAccount{},
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SeedRaw injects a raw document directly, bypassing create validation. Tests
// use it to exercise the normalization of legacy encodings.
func (s *Store) SeedRaw(shopID string, raw normalize.RawAttendance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw.ShopID = shopID
	if raw.ID == "" {
		raw.ID = xid.New("at")
	}
	s.attendances[shopID] = append(s.attendances[shopID], raw)
}

func (s *Store) ListAttendancesInWindow(_ context.Context, shopID string, window period.Window) ([]domain.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	result := make([]domain.Attendance, 0, len(s.attendances[shopID]))
	for _, raw := range s.attendances[shopID] {
		att := normalize.Record(raw, now)
		if window.Contains(att.OccurredAt) {
			result = append(result, att)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *Store) ListAttendances(_ context.Context, shopID string) ([]domain.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	result := make([]domain.Attendance, 0, len(s.attendances[shopID]))
	for _, raw := range s.attendances[shopID] {
		result = append(result, normalize.Record(raw, now))
	}
	sortNewestFirst(result)
	return result, nil
}

func (s *Store) GetAttendance(_ context.Context, shopID string, id string) (*domain.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, raw := range s.attendances[shopID] {
		if raw.ID == id {
			att := normalize.Record(raw, s.now())
			return &att, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateAttendance(_ context.Context, att domain.Attendance) (*domain.Attendance, error) {
	if att.ShopID == "" || att.ClientName == "" || len(att.Services) == 0 || att.TotalCents <= 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if att.ID == "" {
		att.ID = xid.New("at")
	}
	if att.OccurredAt.IsZero() {
		att.OccurredAt = s.now()
	}
	s.attendances[att.ShopID] = append(s.attendances[att.ShopID], toRaw(att))

	created := att
	return &created, nil
}

func (s *Store) UpdateAttendance(_ context.Context, shopID string, id string, patch domain.AttendanceUpdateRequest) (*domain.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.attendances[shopID]
	for i, raw := range docs {
		if raw.ID != id {
			continue
		}
		current := normalize.Record(raw, s.now())
		if patch.ClientName != nil {
			current.ClientName = *patch.ClientName
		}
		if patch.Services != nil {
			current.Services = slices.Clone(*patch.Services)
		}
		if patch.ConsumedProducts != nil {
			current.ConsumedProducts = slices.Clone(*patch.ConsumedProducts)
		}
		if patch.TotalCents != nil {
			current.TotalCents = *patch.TotalCents
		}
		if patch.Note != nil {
			current.Note = *patch.Note
		}
		if current.ClientName == "" || len(current.Services) == 0 || current.TotalCents <= 0 {
			return nil, store.ErrValidation
		}
		docs[i] = toRaw(current)
		updated := current
		return &updated, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) DeleteAttendance(_ context.Context, shopID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.attendances[shopID]
	for i, raw := range docs {
		if raw.ID == id {
			s.attendances[shopID] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListCatalogItems(_ context.Context, shopID string, kind string) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.CatalogItem, 0, len(s.catalogByID))
	for _, item := range s.catalogByID {
		if item.ShopID != shopID {
			continue
		}
		if kind != "" && item.Kind != kind {
			continue
		}
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.CatalogItem) int {
		if a.Kind == b.Kind {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Kind, b.Kind)
	})
	return items, nil
}

func (s *Store) CreateCatalogItem(_ context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if item.ShopID == "" || item.Name == "" || item.PriceCents < 0 {
		return nil, store.ErrValidation
	}
	if item.Kind != domain.CatalogKindService && item.Kind != domain.CatalogKindProduct {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.catalogByID {
		if existing.ShopID == item.ShopID && existing.Kind == item.Kind && existing.Name == item.Name {
			return nil, store.ErrConflict
		}
	}

	if item.ID == "" {
		prefix := "svc"
		if item.Kind == domain.CatalogKindProduct {
			prefix = "prd"
		}
		item.ID = xid.New(prefix)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	s.catalogByID[item.ID] = item
	created := item
	return &created, nil
}

func (s *Store) UpdateCatalogItem(_ context.Context, shopID string, id string, patch domain.CatalogItemUpdateRequest) (*domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.catalogByID[id]
	if !ok || item.ShopID != shopID {
		return nil, store.ErrNotFound
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, store.ErrValidation
		}
		for _, existing := range s.catalogByID {
			if existing.ID != id && existing.ShopID == shopID && existing.Kind == item.Kind && existing.Name == name {
				return nil, store.ErrConflict
			}
		}
		item.Name = name
	}
	if patch.PriceCents != nil {
		if *patch.PriceCents < 0 {
			return nil, store.ErrValidation
		}
		item.PriceCents = *patch.PriceCents
	}

	s.catalogByID[id] = item
	updated := item
	return &updated, nil
}

func (s *Store) DeleteCatalogItem(_ context.Context, shopID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.catalogByID[id]
	if !ok || item.ShopID != shopID {
		return store.ErrNotFound
	}
	delete(s.catalogByID, id)
	return nil
}

func (s *Store) ListClients(_ context.Context, shopID string) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clientsByID))
	for _, client := range s.clientsByID {
		if client.ShopID == shopID {
			clients = append(clients, client)
		}
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		return strings.Compare(a.Name, b.Name)
	})
	return clients, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	if client.ShopID == "" || client.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = s.now()
	}
	s.clientsByID[client.ID] = client
	created := client
	return &created, nil
}

func (s *Store) DeleteClient(_ context.Context, shopID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clientsByID[id]
	if !ok || client.ShopID != shopID {
		return store.ErrNotFound
	}
	delete(s.clientsByID, id)
	return nil
}

func (s *Store) GetShop(_ context.Context, shopID string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, ok := s.shopsByID[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copyShop := shop
	copyShop.Modules = slices.Clone(shop.Modules)
	return &copyShop, nil
}

func (s *Store) UpdateShopPlan(_ context.Context, shopID string, plan domain.Plan) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop, ok := s.shopsByID[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	shop.PlanID = plan.ID
	shop.PlanName = plan.Name
	shop.PlanPriceCents = plan.PriceCents
	shop.Modules = slices.Clone(plan.Modules)
	s.shopsByID[shopID] = shop

	updated := shop
	return &updated, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.ShopID == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func sortNewestFirst(list []domain.Attendance) {
	slices.SortFunc(list, func(a, b domain.Attendance) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.OccurredAt.After(b.OccurredAt) {
			return -1
		}
		return 1
	})
}

func toRaw(att domain.Attendance) normalize.RawAttendance {
	return normalize.RawAttendance{
		ID:               att.ID,
		ShopID:           att.ShopID,
		ClientName:       att.ClientName,
		Services:         toRawItems(att.Services),
		ConsumedProducts: toRawItems(att.ConsumedProducts),
		TotalCents:       normalize.RawCents(att.TotalCents),
		OccurredAt:       att.OccurredAt.Format(time.RFC3339Nano),
		Hour:             att.Hour,
		Note:             att.Note,
	}
}

func toRawItems(items []domain.LineItem) []normalize.RawLineItem {
	raw := make([]normalize.RawLineItem, 0, len(items))
	for _, item := range items {
		raw = append(raw, normalize.RawLineItem{Name: item.Name, PriceCents: normalize.RawCents(item.PriceCents)})
	}
	return raw
}
