package domain

import "time"

// LineItem is a snapshot of a catalog entry at the moment an attendance was
// recorded. Renaming or repricing the catalog later never rewrites it.
type LineItem struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type Attendance struct {
	ID               string     `json:"id"`
	ShopID           string     `json:"shop_id"`
	ClientName       string     `json:"client_name"`
	Services         []LineItem `json:"services"`
	ConsumedProducts []LineItem `json:"consumed_products"`
	TotalCents       int64      `json:"total_cents"`
	OccurredAt       time.Time  `json:"occurred_at"`
	// Hour is the display label entered on the form ("14:30"). Kept alongside
	// OccurredAt because the hour table filter matches the stored label, and
	// legacy records may carry a label without a resolvable instant.
	Hour string `json:"hour,omitempty"`
	Note string `json:"note,omitempty"`
}

type AttendanceCreateRequest struct {
	ClientName       string     `json:"client_name"`
	Services         []LineItem `json:"services"`
	ConsumedProducts []LineItem `json:"consumed_products,omitempty"`
	TotalCents       int64      `json:"total_cents"`
	Date             string     `json:"date"` // YYYY-MM-DD
	Hour             string     `json:"hour"` // HH:MM
	Note             string     `json:"note,omitempty"`
}

// AttendanceUpdateRequest patches an attendance in place. ID and OccurredAt are
// immutable after creation, so neither appears here.
type AttendanceUpdateRequest struct {
	ClientName       *string     `json:"client_name,omitempty"`
	Services         *[]LineItem `json:"services,omitempty"`
	ConsumedProducts *[]LineItem `json:"consumed_products,omitempty"`
	TotalCents       *int64      `json:"total_cents,omitempty"`
	Note             *string     `json:"note,omitempty"`
}

const (
	CatalogKindService = "service"
	CatalogKindProduct = "product"
)

type CatalogItem struct {
	ID         string    `json:"id"`
	ShopID     string    `json:"shop_id"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

type CatalogItemCreateRequest struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type CatalogItemUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
}

type Client struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ClientCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type Shop struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PlanID         string    `json:"plan_id"`
	PlanName       string    `json:"plan_name"`
	PlanPriceCents int64     `json:"plan_price_cents"`
	Modules        []string  `json:"modules"`
	LogoURL        string    `json:"logo_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type SelectPlanRequest struct {
	PlanID string `json:"plan_id"`
}

// Plan is a subscription tier. Modules gate feature access per shop.
type Plan struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	PriceCents int64    `json:"price_cents"`
	Modules    []string `json:"modules"`
}

const (
	ModuleDashboard   = "dashboard"
	ModuleServices    = "servicos"
	ModuleAttendances = "atendimentos"
	ModuleProducts    = "produtos"
	ModuleScheduling  = "agendamento"
	ModuleTeam        = "equipe"
	ModuleBranches    = "unidades"
)

var Plans = map[string]Plan{
	"inicial": {
		ID: "inicial", Name: "Plano Inicial", PriceCents: 3490,
		Modules: []string{ModuleDashboard, ModuleServices, ModuleAttendances, ModuleProducts},
	},
	"platinum": {
		ID: "platinum", Name: "Platinum", PriceCents: 6990,
		Modules: []string{ModuleDashboard, ModuleServices, ModuleAttendances, ModuleProducts, ModuleScheduling},
	},
	"empresarial": {
		ID: "empresarial", Name: "Empresarial", PriceCents: 13990,
		Modules: []string{ModuleDashboard, ModuleServices, ModuleAttendances, ModuleProducts, ModuleScheduling, ModuleTeam, ModuleBranches},
	},
}

func (s Shop) HasModule(module string) bool {
	for _, m := range s.Modules {
		if m == module {
			return true
		}
	}
	return false
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ShopID      string `json:"shop_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated session. ShopID is the tenant every repository
// call is scoped by; it comes from the token claims, never from request input.
type Actor struct {
	Username string
	ShopID   string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	ShopID    string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleOwner   = "owner"
	RoleManager = "manager"
)
