package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"navalha/backend/internal/domain"
	"navalha/backend/internal/filter"
	"navalha/backend/internal/period"
	"navalha/backend/internal/service"
	"navalha/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

// generateCSRFToken returns a token valid for the current hour bucket.
func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/dashboard", a.requireAuth(a.handleDashboard))
	mux.HandleFunc("/api/v1/attendances", a.requireAuth(a.handleAttendances))
	mux.HandleFunc("/api/v1/attendances/", a.requireAuth(a.handleAttendanceActions))

	mux.HandleFunc("/api/v1/catalog/services", a.requireAuth(a.catalogHandler(domain.CatalogKindService)))
	mux.HandleFunc("/api/v1/catalog/services/", a.requireAuth(a.catalogActionHandler(domain.CatalogKindService, "/api/v1/catalog/services/")))
	mux.HandleFunc("/api/v1/catalog/products", a.requireAuth(a.catalogHandler(domain.CatalogKindProduct)))
	mux.HandleFunc("/api/v1/catalog/products/", a.requireAuth(a.catalogActionHandler(domain.CatalogKindProduct, "/api/v1/catalog/products/")))

	mux.HandleFunc("/api/v1/clients", a.requireAuth(a.handleClients))
	mux.HandleFunc("/api/v1/clients/", a.requireAuth(a.handleClientActions))

	mux.HandleFunc("/api/v1/shop", a.requireAuth(a.handleShop))
	mux.HandleFunc("/api/v1/shop/plan", a.requireAuth(a.handleShopPlan, domain.RoleOwner))

	return a.withMiddleware(mux)
}

// requireAuth validates the bearer token and resolves the tenant from its
// claims. Handlers never read a shop id from the request itself.
func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func actorShop(r *http.Request) (domain.Actor, bool) {
	return service.ActorFromContext(r.Context())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation. Login is
// excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
// Returns false and writes an error response if validation fails.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

// handleDashboard serves the aggregated view for one period. The filter query
// parameter selects a preset period; explicit start/end dates override it.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorShop(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing session"))
		return
	}

	query := r.URL.Query()
	kind := period.Day
	if rawKind := strings.TrimSpace(query.Get("filter")); rawKind != "" {
		parsed, err := period.ParseKind(rawKind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		kind = parsed
	}

	var custom *period.Window
	startDate := strings.TrimSpace(query.Get("start"))
	endDate := strings.TrimSpace(query.Get("end"))
	if startDate != "" || endDate != "" {
		if startDate == "" || endDate == "" {
			writeError(w, http.StatusBadRequest, errors.New("custom range needs both start and end"))
			return
		}
		window, err := a.service.CustomWindow(startDate, endDate)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		custom = window
	}

	resp, err := a.service.Dashboard(r.Context(), actor.ShopID, kind, custom)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleAttendances(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorShop(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing session"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		criteria, err := criteriaFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		attendances, err := a.service.ListAttendances(r.Context(), actor.ShopID, criteria)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attendances": attendances})
	case http.MethodPost:
		var req domain.AttendanceCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.RegisterAttendance(r.Context(), actor.ShopID, req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"attendance": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleAttendanceActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorShop(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing session"))
		return
	}

	id := pathTail(r.URL.Path, "/api/v1/attendances/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("attendance id required"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req domain.AttendanceUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		updated, err := a.service.UpdateAttendance(r.Context(), actor.ShopID, id, req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attendance": updated})
	case http.MethodDelete:
		if err := a.service.DeleteAttendance(r.Context(), actor.ShopID, id); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) catalogHandler(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorShop(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}

		switch r.Method {
		case http.MethodGet:
			items, err := a.service.ListCatalog(r.Context(), actor.ShopID, kind)
			if err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": items})
		case http.MethodPost:
			var req domain.CatalogItemCreateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			created, err := a.service.CreateCatalogItem(r.Context(), actor.ShopID, kind, req)
			if err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"item": created})
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) catalogActionHandler(kind string, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorShop(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing session"))
			return
		}

		id := pathTail(r.URL.Path, prefix)
		if id == "" {
			writeError(w, http.StatusBadRequest, errors.New("item id required"))
			return
		}

		switch r.Method {
		case http.MethodPatch:
			var req domain.CatalogItemUpdateRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			updated, err := a.service.UpdateCatalogItem(r.Context(), actor.ShopID, kind, id, req)
			if err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": updated})
		case http.MethodDelete:
			if err := a.service.DeleteCatalogItem(r.Context(), actor.ShopID, kind, id); err != nil {
				writeError(w, statusForError(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeMethodNotAllowed(w)
		}
	}
}

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorShop(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing session"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		clients, err := a.service.ListClients(r.Context(), actor.ShopID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
	case http.MethodPost:
		var req domain.ClientCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		created, err := a.service.CreateClient(r.Context(), actor.ShopID, req)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"client": created})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleClientActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorShop(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing session"))
		return
	}

	id := pathTail(r.URL.Path, "/api/v1/clients/")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("client id required"))
		return
	}

	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}
	if err := a.service.DeleteClient(r.Context(), actor.ShopID, id); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleShop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorShop(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing session"))
		return
	}

	shop, err := a.service.GetShop(r.Context(), actor.ShopID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shop": shop})
}

func (a *API) handleShopPlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	actor, ok := actorShop(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing session"))
		return
	}

	var req domain.SelectPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	shop, err := a.service.SelectPlan(r.Context(), actor.ShopID, req.PlanID)
	if err != nil {
		status := statusForError(err)
		if strings.Contains(strings.ToLower(err.Error()), "owner role required") {
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shop": shop})
}

// criteriaFromQuery maps the management table's filter query parameters onto
// the compound criteria. An absent parameter leaves its dimension inactive.
func criteriaFromQuery(r *http.Request) (filter.Criteria, error) {
	query := r.URL.Query()
	criteria := filter.Criteria{
		ClientSubstring:  strings.TrimSpace(query.Get("client")),
		ExactServiceName: strings.TrimSpace(query.Get("service")),
		HourPrefix:       strings.TrimSpace(query.Get("hour")),
	}

	for _, dim := range []struct {
		param string
		dest  *int
	}{
		{"day", &criteria.DayOfMonth},
		{"month", &criteria.Month},
		{"year", &criteria.Year},
	} {
		raw := strings.TrimSpace(query.Get(dim.param))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return filter.Criteria{}, fmt.Errorf("invalid %s filter %q", dim.param, raw)
		}
		*dim.dest = parsed
	}
	return criteria, nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, period.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, service.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, service.ErrModuleNotInPlan):
		return http.StatusForbidden
	case errors.Is(err, service.ErrUnknownPlan):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func pathTail(path string, prefix string) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Enforce CSRF protection for all state-changing requests.
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// For 5xx responses, return a generic message to avoid leaking internal
	// implementation details (stack traces, SQL errors, file paths, etc.).
	// 4xx responses are user-facing so we return the original error message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
