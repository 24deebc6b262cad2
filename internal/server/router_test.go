package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	accessdomain "command-center/backend/internal/access/domain"
	accesshandler "command-center/backend/internal/access/handler"
	accessservice "command-center/backend/internal/access/service"
	healthhandler "command-center/backend/internal/health/handler"
	identitydomain "command-center/backend/internal/identity/domain"
	identityhandler "command-center/backend/internal/identity/handler"
	identityservice "command-center/backend/internal/identity/service"
	"command-center/backend/internal/memstoretest"
	"command-center/backend/internal/oauthstate"
	"command-center/backend/internal/policy/engine"
	"command-center/backend/internal/provider"
	"command-center/backend/internal/security"
	"command-center/backend/internal/server/middleware"
	tokenservice "command-center/backend/internal/token/service"
	"command-center/backend/internal/transport"
)

// stubProvider returns the same assertion for every code.
type stubProvider struct {
	name      string
	assertion identitydomain.Assertion
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AuthCodeURL(state, verifier string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Exchange(ctx context.Context, code, verifier string) (identitydomain.Assertion, error) {
	return p.assertion, nil
}

type testServer struct {
	*Server
	store  *memstoretest.Store
	google *stubProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memstoretest.New()
	checker, err := engine.NewOPAEvaluator(ctx, engine.DefaultPolicy)
	if err != nil {
		t.Fatal(err)
	}
	manager := tokenservice.NewManager(security.MustTestCodec(), store.Tokens(), time.Hour, 24*time.Hour, 10*time.Minute,
		tokenservice.WithSessions(store.Sessions()))
	rc := transport.NewReconciler(transport.Options{APIPrefixes: []string{"/auth/", "/access/", "/api/"}})
	google := &stubProvider{name: string(identitydomain.ProviderGoogle)}

	s := New(Deps{
		Identity: identityhandler.NewHandler(identityhandler.Deps{
			Providers:   provider.Registry{google.name: google},
			States:      oauthstate.NewMemoryStore(),
			Resolver:    identityservice.NewResolver(store, accessservice.NewLinker(), 24*time.Hour),
			Tokens:      manager,
			Accounts:    store.Accounts(),
			Profiles:    store.Profiles(),
			Sessions:    store.Sessions(),
			Reconciler:  rc,
			FrontendURL: "https://dash.example.com",
		}),
		Access:     accesshandler.NewHandler(store.Profiles(), store.Profiles(), checker, nil, time.Second),
		Health:     healthhandler.NewServer(nil, checker),
		Tokens:     manager,
		Sessions:   store.Sessions(),
		Reconciler: rc,
		Profiles:   store.Profiles(),
		Perms:      store.Profiles(),
		Checker:    checker,
		Exemptions: middleware.Exemptions{
			Exact:    []string{"/auth/profile", "/auth/token", "/auth/token/refresh", "/auth/logout", "/access/permissions", "/healthz", "/readyz", "/metrics"},
			Prefixes: []string{"/login/"},
		},
	})
	s.HandleScoped("/api/dashboard/{tab}", "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	})).Methods(http.MethodGet)
	return &testServer{Server: s, store: store, google: google}
}

func (s *testServer) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, r)
	return rec
}

// login runs the browser flow and returns the access token from the dashboard redirect.
func (s *testServer) login(t *testing.T, sub, email string) string {
	t.Helper()
	s.google.assertion = identitydomain.Assertion{Provider: identitydomain.ProviderGoogle, Subject: sub, Claims: identitydomain.Claims{Email: email}}
	rec := s.do(httptest.NewRequest(http.MethodGet, "/login/google-oauth2", nil))
	loc, _ := url.Parse(rec.Header().Get("Location"))
	rec = s.do(httptest.NewRequest(http.MethodGet, "/login/google-oauth2/callback?code=c&state="+url.QueryEscape(loc.Query().Get("state")), nil))
	loc, _ = url.Parse(rec.Header().Get("Location"))
	access := loc.Query().Get("access")
	if access == "" {
		t.Fatalf("login did not reach the dashboard: %s", loc)
	}
	return access
}

func bearerGet(path, token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func code(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&body)
	c, _ := body["code"].(string)
	return c
}

func TestServer_HealthAndNotFound(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := s.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
	rec := s.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound || code(t, rec) != "not_found" {
		t.Errorf("unknown path = %d", rec.Code)
	}
	if rec.Header().Get(middleware.HeaderRequestID) == "" {
		t.Error("request id header missing")
	}
}

// A pre-provisioned address in one case logs in with another, and the gate follows the profile.
func TestServer_ProvisionedLoginReachesScopedRoute(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	prov := accessservice.NewProvisioner(s.store.Profiles(), s.store.Catalog())
	tab, err := prov.EnsureTab(ctx, "ceo_view", "CEO View")
	if err != nil {
		t.Fatal(err)
	}
	orphan, err := prov.Preprovision(ctx, "a@b.com", true, accessdomain.Grants{TabIDs: []string{tab.ID}})
	if err != nil {
		t.Fatal(err)
	}

	access := s.login(t, "g-1", "A@B.COM")

	rec := s.do(bearerGet("/auth/profile", access))
	var profile map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&profile)
	if profile["is_app_authorized"] != true || profile["email"] != "a@b.com" {
		t.Fatalf("profile = %v", profile)
	}
	linked, err := s.store.Profiles().GetOrphanByEmail(ctx, "a@b.com")
	if err != nil || linked != nil {
		t.Errorf("orphan still unlinked: %+v, %v", linked, err)
	}
	claims, err := security.MustTestCodec().Parse(access)
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.store.Profiles().GetByAccount(ctx, claims.Subject)
	if err != nil || p == nil || p.ID != orphan.ID || p.Email != "a@b.com" {
		t.Fatalf("profile for account = %+v, %v", p, err)
	}

	rec = s.do(bearerGet("/access/permissions", access))
	var perms struct {
		Tabs []map[string]string `json:"allowed_tabs"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&perms)
	if rec.Code != http.StatusOK || len(perms.Tabs) != 1 || perms.Tabs[0]["id_name"] != "ceo_view" {
		t.Errorf("permissions = %d %+v", rec.Code, perms)
	}

	if rec := s.do(bearerGet("/access/tabs/ceo_view", access)); rec.Code != http.StatusOK {
		t.Errorf("granted tab endpoint = %d", rec.Code)
	}
	if rec := s.do(bearerGet("/access/tabs/finance", access)); rec.Code != http.StatusForbidden {
		t.Errorf("ungranted tab endpoint = %d", rec.Code)
	}

	if rec := s.do(bearerGet("/api/dashboard/ceo_view", access)); rec.Code != http.StatusOK {
		t.Errorf("granted tab = %d", rec.Code)
	}
	rec = s.do(bearerGet("/api/dashboard/finance", access))
	if rec.Code != http.StatusForbidden || code(t, rec) != middleware.CodeTabForbidden {
		t.Errorf("ungranted tab = %d", rec.Code)
	}
}

func TestServer_GateDeniesWithoutProfile(t *testing.T) {
	s := newTestServer(t)
	access := s.login(t, "g-2", "stranger@example.com")

	// Exempt: the profile endpoint answers and reports the account as unauthorized.
	rec := s.do(bearerGet("/auth/profile", access))
	if rec.Code != http.StatusOK {
		t.Fatalf("profile = %d", rec.Code)
	}
	rec = s.do(bearerGet("/access/check?tab=ceo_view", access))
	if rec.Code != http.StatusForbidden || code(t, rec) != middleware.CodeProfileNotFound {
		t.Errorf("gated path = %d", rec.Code)
	}
	rec = s.do(bearerGet("/api/dashboard/ceo_view", access))
	if rec.Code != http.StatusForbidden {
		t.Errorf("scoped path = %d", rec.Code)
	}
}

func TestServer_AdminPathRefusesBearer(t *testing.T) {
	s := newTestServer(t)
	access := s.login(t, "g-3", "c@d.com")
	if rec := s.do(bearerGet("/admin/", access)); rec.Code != http.StatusForbidden {
		t.Errorf("admin with bearer = %d, want 403", rec.Code)
	}
}
