// Package handler exposes the caller's dashboard permissions.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"command-center/backend/internal/access/domain"
	"command-center/backend/internal/audit"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/platform/rbac"
	"command-center/backend/internal/policy/engine"
	"command-center/backend/internal/server/middleware"
)

// Handler serves /access/permissions, /access/check and /access/tabs/{tab}.
type Handler struct {
	profiles  rbac.ProfileGetter
	perms     rbac.PermissionsGetter
	checker   engine.ScopeChecker
	auditor   audit.AuditLogger
	dbTimeout time.Duration
}

// NewHandler returns a Handler. auditor may be nil.
func NewHandler(profiles rbac.ProfileGetter, perms rbac.PermissionsGetter, checker engine.ScopeChecker, auditor audit.AuditLogger, dbTimeout time.Duration) *Handler {
	if dbTimeout <= 0 {
		dbTimeout = 5 * time.Second
	}
	return &Handler{profiles: profiles, perms: perms, checker: checker, auditor: auditor, dbTimeout: dbTimeout}
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/access/permissions", h.Permissions).Methods(http.MethodGet)
	r.HandleFunc("/access/check", h.Check).Methods(http.MethodGet)
	scope := middleware.ScopeDeps{Checker: h.checker, Profiles: h.profiles, Perms: h.perms, Auditor: h.auditor}
	r.Handle("/access/tabs/{tab}", middleware.RequireScope("", scope)(http.HandlerFunc(h.Tab))).Methods(http.MethodGet)
}

type companyJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type tabJSON struct {
	ID          string `json:"id"`
	IDName      string `json:"id_name"`
	DisplayName string `json:"display_name"`
}

type permissionsResponse struct {
	AllowedCompanies  []companyJSON `json:"allowed_companies"`
	AllowedWarehouses []companyJSON `json:"allowed_warehouses"`
	AllowedTabs       []tabJSON     `json:"allowed_tabs"`
}

func toPermissionsResponse(p *domain.Permissions) permissionsResponse {
	out := permissionsResponse{
		AllowedCompanies:  []companyJSON{},
		AllowedWarehouses: []companyJSON{},
		AllowedTabs:       []tabJSON{},
	}
	if p == nil {
		return out
	}
	for _, c := range p.Companies {
		out.AllowedCompanies = append(out.AllowedCompanies, companyJSON{ID: c.ID, Name: c.Name})
	}
	for _, w := range p.Warehouses {
		out.AllowedWarehouses = append(out.AllowedWarehouses, companyJSON{ID: w.ID, Name: w.Name})
	}
	for _, t := range p.Tabs {
		out.AllowedTabs = append(out.AllowedTabs, tabJSON{ID: t.ID, IDName: t.IDName, DisplayName: t.DisplayName})
	}
	return out
}

// profile returns the caller's authorized profile, or writes the denial and returns nil.
func (h *Handler) profile(ctx context.Context, w http.ResponseWriter, r *http.Request, bearerOnly bool) *domain.AccessProfile {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok || (bearerOnly && id.Via != middleware.ViaBearer) {
		if middleware.AuthFailed(r.Context()) {
			middleware.WriteError(w, http.StatusUnauthorized, "Token is invalid or expired", "token_not_valid")
		} else {
			middleware.WriteError(w, http.StatusUnauthorized, "Authentication credentials were not provided.", "not_authenticated")
		}
		return nil
	}
	if p, ok := middleware.ProfileFrom(r.Context()); ok {
		return p
	}
	p, err := rbac.RequireAuthorizedProfile(ctx, h.profiles, id.AccountID)
	if err != nil {
		middleware.DenyProfile(w, r, err, h.auditor)
		return nil
	}
	return p
}

// Permissions lists the companies, warehouses and tabs granted to the bearer's profile.
func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.dbTimeout)
	defer cancel()
	p := h.profile(ctx, w, r, true)
	if p == nil {
		return
	}
	granted, err := h.perms.Permissions(ctx, p.ID)
	if err != nil {
		logs.Logger.WithError(err).WithField("profile_id", p.ID).Error("load permissions")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toPermissionsResponse(granted))
}

// Check reports whether the policy allows the tab, company and warehouse named in the query.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.dbTimeout)
	defer cancel()
	p := h.profile(ctx, w, r, false)
	if p == nil {
		return
	}
	scope := middleware.ScopeFromRequest(r, "")
	if scope.Tab == "" {
		middleware.WriteError(w, http.StatusBadRequest, "The tab parameter is required.", "invalid_request")
		return
	}
	allowed, err := rbac.CheckScope(ctx, h.checker, h.perms, p, scope)
	if err != nil {
		logs.Logger.WithError(err).WithField("profile_id", p.ID).Error("scope check failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// Tab returns the granted tab named in the route. RequireScope has already checked the grant.
func (h *Handler) Tab(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.dbTimeout)
	defer cancel()
	p, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusForbidden, "You do not have access to this tab.", middleware.CodeTabForbidden)
		return
	}
	granted, err := h.perms.Permissions(ctx, p.ID)
	if err != nil {
		logs.Logger.WithError(err).WithField("profile_id", p.ID).Error("load permissions")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	name := mux.Vars(r)["tab"]
	for _, t := range granted.Tabs {
		if t.IDName == name {
			middleware.WriteJSON(w, http.StatusOK, tabJSON{ID: t.ID, IDName: t.IDName, DisplayName: t.DisplayName})
			return
		}
	}
	middleware.WriteError(w, http.StatusForbidden, "You do not have access to this tab.", middleware.CodeTabForbidden)
}
