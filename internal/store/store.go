package store

import (
	"context"
	"errors"

	"navalha/backend/internal/domain"
	"navalha/backend/internal/period"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrValidation = errors.New("invalid record")
)

// Repository is the single persistence capability behind the dashboard. One
// implementation is chosen at startup (remote Postgres or the local in-memory
// fallback) and stays fixed for the process lifetime. Every operation is
// scoped by shop id; an id alone never reaches another tenant's data. Both
// implementations pass each stored attendance document through the
// normalization boundary before returning it.
type Repository interface {
	// ListAttendancesInWindow returns the shop's attendances with occurred-at
	// inside the inclusive window, newest first. The remote backend pushes
	// the window into the query; the local backend filters in memory with
	// identical semantics.
	ListAttendancesInWindow(ctx context.Context, shopID string, window period.Window) ([]domain.Attendance, error)
	// ListAttendances returns all of the shop's attendances, newest first.
	ListAttendances(ctx context.Context, shopID string) ([]domain.Attendance, error)
	GetAttendance(ctx context.Context, shopID string, id string) (*domain.Attendance, error)
	CreateAttendance(ctx context.Context, att domain.Attendance) (*domain.Attendance, error)
	// UpdateAttendance patches only the provided fields; id and occurred-at
	// are immutable.
	UpdateAttendance(ctx context.Context, shopID string, id string, patch domain.AttendanceUpdateRequest) (*domain.Attendance, error)
	DeleteAttendance(ctx context.Context, shopID string, id string) error

	ListCatalogItems(ctx context.Context, shopID string, kind string) ([]domain.CatalogItem, error)
	CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error)
	UpdateCatalogItem(ctx context.Context, shopID string, id string, patch domain.CatalogItemUpdateRequest) (*domain.CatalogItem, error)
	DeleteCatalogItem(ctx context.Context, shopID string, id string) error

	ListClients(ctx context.Context, shopID string) ([]domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)
	DeleteClient(ctx context.Context, shopID string, id string) error

	GetShop(ctx context.Context, shopID string) (*domain.Shop, error)
	UpdateShopPlan(ctx context.Context, shopID string, plan domain.Plan) (*domain.Shop, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}
