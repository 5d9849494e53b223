// Package postgres is the remote document store backend. Date-window and
// tenant constraints are pushed into the query; line items travel as JSONB
// documents and pass through the normalization boundary on every read, the
// same path the local fallback store uses.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"navalha/backend/internal/domain"
	"navalha/backend/internal/normalize"
	"navalha/backend/internal/period"
	"navalha/backend/internal/store"
	"navalha/backend/internal/xid"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const attendanceColumns = `id, shop_id, client_name, services, consumed_products, total_cents, occurred_at, hour, note`

func (s *Store) ListAttendancesInWindow(ctx context.Context, shopID string, window period.Window) ([]domain.Attendance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendances
		WHERE shop_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at DESC, id DESC
	`, shopID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanAttendances(rows)
}

func (s *Store) ListAttendances(ctx context.Context, shopID string) ([]domain.Attendance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendances
		WHERE shop_id = $1
		ORDER BY occurred_at DESC, id DESC
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanAttendances(rows)
}

func (s *Store) scanAttendances(rows *sql.Rows) ([]domain.Attendance, error) {
	now := s.now()
	attendances := make([]domain.Attendance, 0, 64)
	for rows.Next() {
		att, err := scanAttendance(rows, now)
		if err != nil {
			return nil, err
		}
		attendances = append(attendances, att)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attendances, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner, now time.Time) (domain.Attendance, error) {
	var (
		raw         normalize.RawAttendance
		servicesDoc []byte
		productsDoc []byte
		totalCents  int64
		occurredAt  time.Time
		hour, note  sql.NullString
	)
	if err := row.Scan(&raw.ID, &raw.ShopID, &raw.ClientName, &servicesDoc, &productsDoc, &totalCents, &occurredAt, &hour, &note); err != nil {
		return domain.Attendance{}, err
	}

	// JSONB documents may predate validation; decode errors leave the slice
	// empty and the normalizer supplies the defaults.
	_ = json.Unmarshal(servicesDoc, &raw.Services)
	_ = json.Unmarshal(productsDoc, &raw.ConsumedProducts)
	raw.TotalCents = normalize.RawCents(totalCents)
	raw.OccurredAt = occurredAt
	raw.Hour = hour.String
	raw.Note = note.String

	return normalize.Record(raw, now), nil
}

func (s *Store) GetAttendance(ctx context.Context, shopID string, id string) (*domain.Attendance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+attendanceColumns+`
		FROM attendances
		WHERE shop_id = $1 AND id = $2
	`, shopID, id)

	att, err := scanAttendance(row, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &att, nil
}

func (s *Store) CreateAttendance(ctx context.Context, att domain.Attendance) (*domain.Attendance, error) {
	if att.ShopID == "" || att.ClientName == "" || len(att.Services) == 0 || att.TotalCents <= 0 {
		return nil, store.ErrValidation
	}
	if att.ID == "" {
		att.ID = xid.New("at")
	}
	if att.OccurredAt.IsZero() {
		att.OccurredAt = s.now()
	}

	services, err := json.Marshal(att.Services)
	if err != nil {
		return nil, err
	}
	products, err := json.Marshal(att.ConsumedProducts)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attendances (id, shop_id, client_name, services, consumed_products, total_cents, occurred_at, hour, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, att.ID, att.ShopID, att.ClientName, services, products, att.TotalCents, att.OccurredAt, att.Hour, att.Note)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := att
	return &created, nil
}

func (s *Store) UpdateAttendance(ctx context.Context, shopID string, id string, patch domain.AttendanceUpdateRequest) (*domain.Attendance, error) {
	current, err := s.GetAttendance(ctx, shopID, id)
	if err != nil {
		return nil, err
	}

	if patch.ClientName != nil {
		current.ClientName = *patch.ClientName
	}
	if patch.Services != nil {
		current.Services = *patch.Services
	}
	if patch.ConsumedProducts != nil {
		current.ConsumedProducts = *patch.ConsumedProducts
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

	services, err := json.Marshal(current.Services)
	if err != nil {
		return nil, err
	}
	products, err := json.Marshal(current.ConsumedProducts)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE attendances
		SET client_name = $3, services = $4, consumed_products = $5, total_cents = $6, note = $7, updated_at = now()
		WHERE shop_id = $1 AND id = $2
	`, shopID, id, current.ClientName, services, products, current.TotalCents, current.Note)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return current, nil
}

func (s *Store) DeleteAttendance(ctx context.Context, shopID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM attendances WHERE shop_id = $1 AND id = $2
	`, shopID, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCatalogItems(ctx context.Context, shopID string, kind string) ([]domain.CatalogItem, error) {
	query := `
		SELECT id, shop_id, kind, name, price_cents, created_at
		FROM catalog_items
		WHERE shop_id = $1
	`
	args := []any{shopID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY kind, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 32)
	for rows.Next() {
		var item domain.CatalogItem
		if err := rows.Scan(&item.ID, &item.ShopID, &item.Kind, &item.Name, &item.PriceCents, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateCatalogItem(ctx context.Context, item domain.CatalogItem) (*domain.CatalogItem, error) {
	if item.ShopID == "" || item.Name == "" || item.PriceCents < 0 {
		return nil, store.ErrValidation
	}
	if item.Kind != domain.CatalogKindService && item.Kind != domain.CatalogKindProduct {
		return nil, store.ErrValidation
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_items (id, shop_id, kind, name, price_cents, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, item.ID, item.ShopID, item.Kind, item.Name, item.PriceCents, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) UpdateCatalogItem(ctx context.Context, shopID string, id string, patch domain.CatalogItemUpdateRequest) (*domain.CatalogItem, error) {
	var item domain.CatalogItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, kind, name, price_cents, created_at
		FROM catalog_items
		WHERE shop_id = $1 AND id = $2
	`, shopID, id).Scan(&item.ID, &item.ShopID, &item.Kind, &item.Name, &item.PriceCents, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, store.ErrValidation
		}
		item.Name = *patch.Name
	}
	if patch.PriceCents != nil {
		if *patch.PriceCents < 0 {
			return nil, store.ErrValidation
		}
		item.PriceCents = *patch.PriceCents
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE catalog_items SET name = $3, price_cents = $4 WHERE shop_id = $1 AND id = $2
	`, shopID, id, item.Name, item.PriceCents)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	return &item, nil
}

func (s *Store) DeleteCatalogItem(ctx context.Context, shopID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM catalog_items WHERE shop_id = $1 AND id = $2
	`, shopID, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListClients(ctx context.Context, shopID string) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, phone, created_at
		FROM clients
		WHERE shop_id = $1
		ORDER BY name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 32)
	for rows.Next() {
		var client domain.Client
		var phone sql.NullString
		if err := rows.Scan(&client.ID, &client.ShopID, &client.Name, &phone, &client.CreatedAt); err != nil {
			return nil, err
		}
		client.Phone = phone.String
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.ShopID == "" || client.Name == "" {
		return nil, store.ErrValidation
	}
	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, shop_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, client.ID, client.ShopID, client.Name, client.Phone, client.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := client
	return &created, nil
}

func (s *Store) DeleteClient(ctx context.Context, shopID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM clients WHERE shop_id = $1 AND id = $2
	`, shopID, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetShop(ctx context.Context, shopID string) (*domain.Shop, error) {
	var (
		shop       domain.Shop
		modulesDoc []byte
		logo       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, plan_id, plan_name, plan_price_cents, modules, logo_url, created_at
		FROM shops
		WHERE id = $1
	`, shopID).Scan(&shop.ID, &shop.Name, &shop.PlanID, &shop.PlanName, &shop.PlanPriceCents, &modulesDoc, &logo, &shop.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(modulesDoc, &shop.Modules)
	shop.LogoURL = logo.String
	return &shop, nil
}

func (s *Store) UpdateShopPlan(ctx context.Context, shopID string, plan domain.Plan) (*domain.Shop, error) {
	modules, err := json.Marshal(plan.Modules)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE shops
		SET plan_id = $2, plan_name = $3, plan_price_cents = $4, modules = $5, plan_updated_at = now()
		WHERE id = $1
	`, shopID, plan.ID, plan.Name, plan.PriceCents, modules)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetShop(ctx, shopID)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.ShopID == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, shop_id, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.ShopID, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, shop_id, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.ShopID, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
