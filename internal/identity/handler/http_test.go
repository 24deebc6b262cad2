package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	accessdomain "command-center/backend/internal/access/domain"
	accessservice "command-center/backend/internal/access/service"
	auditdomain "command-center/backend/internal/audit/domain"
	identitydomain "command-center/backend/internal/identity/domain"
	"command-center/backend/internal/identity/service"
	"command-center/backend/internal/memstoretest"
	"command-center/backend/internal/oauthstate"
	"command-center/backend/internal/provider"
	"command-center/backend/internal/security"
	"command-center/backend/internal/server/middleware"
	tokendomain "command-center/backend/internal/token/domain"
	tokenservice "command-center/backend/internal/token/service"
	"command-center/backend/internal/transport"
)

const frontend = "https://dash.example.com"

// fakeProvider hands out the assertion registered for an authorization code.
type fakeProvider struct {
	name  string
	mu    sync.Mutex
	codes map[string]identitydomain.Assertion
	err   error
	// verifiers records the verifier each exchange was called with.
	verifiers []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state, verifier string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code, verifier string) (identitydomain.Assertion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifiers = append(p.verifiers, verifier)
	if p.err != nil {
		return identitydomain.Assertion{}, p.err
	}
	a, ok := p.codes[code]
	if !ok {
		return identitydomain.Assertion{}, fmt.Errorf("%w: unknown code", provider.ErrUpstreamIdentityProvider)
	}
	return a, nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAuditor) LogEvent(ctx context.Context, accountID, action, resource string, metadata map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingAuditor) has(action string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, got := range a.actions {
		if got == action {
			return true
		}
	}
	return false
}

type fixture struct {
	store     *memstoretest.Store
	manager   *tokenservice.Manager
	states    *oauthstate.MemoryStore
	google    *fakeProvider
	microsoft *fakeProvider
	auditor   *recordingAuditor
	deps      Deps
	router    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstoretest.New()
	manager := tokenservice.NewManager(security.MustTestCodec(), store.Tokens(), time.Hour, 24*time.Hour, 10*time.Minute,
		tokenservice.WithSessions(store.Sessions()))
	rc := transport.NewReconciler(transport.Options{
		APIPrefixes: []string{"/auth/", "/access/"},
		FrontendURL: frontend,
	})
	f := &fixture{
		store:     store,
		manager:   manager,
		states:    oauthstate.NewMemoryStore(),
		google:    &fakeProvider{name: string(identitydomain.ProviderGoogle), codes: map[string]identitydomain.Assertion{}},
		microsoft: &fakeProvider{name: string(identitydomain.ProviderMicrosoft), codes: map[string]identitydomain.Assertion{}},
		auditor:   &recordingAuditor{},
	}
	f.mount(Deps{
		Providers: provider.Registry{
			f.google.name:    f.google,
			f.microsoft.name: f.microsoft,
		},
		States:      f.states,
		Resolver:    service.NewResolver(store, accessservice.NewLinker(), 24*time.Hour),
		Tokens:      manager,
		Accounts:    store.Accounts(),
		Profiles:    store.Profiles(),
		Sessions:    store.Sessions(),
		Reconciler:  rc,
		Auditor:     f.auditor,
		FrontendURL: frontend + "/",
	})
	return f
}

// mount serves a handler built from d behind the same authentication as the server.
func (f *fixture) mount(d Deps) {
	f.deps = d
	r := mux.NewRouter()
	NewHandler(d).Register(r, nil)
	f.router = middleware.RequestID(middleware.Authenticate(f.manager, f.store.Sessions(), d.Reconciler)(r))
}

func (f *fixture) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func cookieValue(rec *httptest.ResponseRecorder, name string) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.MaxAge >= 0 {
			return c.Value
		}
	}
	return ""
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

// loginResult is what a completed callback handed back to the browser.
type loginResult struct {
	access, refresh, session string
	location                 *url.URL
}

// login runs the start and callback legs for p with the given assertion. sessionCookie, when set,
// is presented on the callback.
func (f *fixture) login(t *testing.T, p *fakeProvider, a identitydomain.Assertion, sessionCookie string) loginResult {
	t.Helper()
	rec := f.do(httptest.NewRequest(http.MethodGet, "/login/"+p.name, nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("login start = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("no state in authorize redirect")
	}

	code := fmt.Sprintf("code-%d", time.Now().UnixNano())
	p.mu.Lock()
	p.codes[code] = a
	p.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/login/"+p.name+"/callback?state="+url.QueryEscape(state)+"&code="+code, nil)
	if sessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: transport.SessionCookie, Value: sessionCookie})
	}
	rec = f.do(req)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback = %d", rec.Code)
	}
	loc, err = url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	return loginResult{
		access:   cookieValue(rec, transport.AccessCookie),
		refresh:  cookieValue(rec, transport.RefreshCookie),
		session:  cookieValue(rec, transport.SessionCookie),
		location: loc,
	}
}

func assertion(p identitydomain.Provider, sub, email string) identitydomain.Assertion {
	return identitydomain.Assertion{Provider: p, Subject: sub, Claims: identitydomain.Claims{Email: email, GivenName: "Ann", FamilyName: "Lee"}}
}

func TestLogin_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/login/github", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestLogin_StoresStateWithVerifier(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/login/google-oauth2", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	p, ok := f.states.Take(context.Background(), loc.Query().Get("state"))
	if !ok || p.Provider != "google-oauth2" || p.Verifier == "" {
		t.Errorf("pending = %+v ok=%v", p, ok)
	}
}

func TestCallback_Success(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com"), "")

	if res.location.Path != "/dashboard" || !strings.HasPrefix(res.location.String(), frontend+"/dashboard?") {
		t.Fatalf("redirect = %s", res.location)
	}
	q := res.location.Query()
	if q.Get("access") == "" || q.Get("refresh") == "" || q.Get("provider") != "google-oauth2" {
		t.Errorf("redirect query = %v", q)
	}
	if res.access != q.Get("access") || res.refresh != q.Get("refresh") || res.session == "" {
		t.Errorf("cookies access=%q refresh=%q session=%q", res.access, res.refresh, res.session)
	}
	claims, err := f.manager.Validate(context.Background(), res.access, tokendomain.KindAccess)
	if err != nil {
		t.Fatalf("issued access token invalid: %v", err)
	}
	if claims.SessionID == "" || claims.Email != "ann@example.com" {
		t.Errorf("claims = %+v", claims)
	}
	if f.google.verifiers[0] == "" {
		t.Error("exchange must receive the PKCE verifier")
	}
	for _, a := range []string{auditdomain.ActionLoginSuccess, auditdomain.ActionTokenIssued} {
		if !f.auditor.has(a) {
			t.Errorf("missing audit %s", a)
		}
	}
}

func TestCallback_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture) string
		wantCode string
	}{
		{"provider error param", func(f *fixture) string {
			return "/login/google-oauth2/callback?error=access_denied"
		}, ErrorAuthFailed},
		{"unknown state", func(f *fixture) string {
			return "/login/google-oauth2/callback?state=nope&code=x"
		}, ErrorAuthFailed},
		{"state for another provider", func(f *fixture) string {
			f.states.Put(context.Background(), "s1", oauthstate.Pending{Provider: "azuread-oauth2", Verifier: "v"}, time.Now().Add(time.Minute))
			return "/login/google-oauth2/callback?state=s1&code=x"
		}, ErrorAuthFailed},
		{"missing code", func(f *fixture) string {
			f.states.Put(context.Background(), "s2", oauthstate.Pending{Provider: "google-oauth2", Verifier: "v"}, time.Now().Add(time.Minute))
			return "/login/google-oauth2/callback?state=s2"
		}, ErrorAuthFailed},
		{"upstream failure", func(f *fixture) string {
			f.states.Put(context.Background(), "s3", oauthstate.Pending{Provider: "google-oauth2", Verifier: "v"}, time.Now().Add(time.Minute))
			return "/login/google-oauth2/callback?state=s3&code=unknown"
		}, ErrorProviderError},
		{"unexpected exchange error", func(f *fixture) string {
			f.google.err = errors.New("boom")
			f.states.Put(context.Background(), "s4", oauthstate.Pending{Provider: "google-oauth2", Verifier: "v"}, time.Now().Add(time.Minute))
			return "/login/google-oauth2/callback?state=s4&code=x"
		}, ErrorServerError},
		{"blank subject", func(f *fixture) string {
			f.google.codes["blank"] = assertion(identitydomain.ProviderGoogle, "  ", "x@example.com")
			f.states.Put(context.Background(), "s5", oauthstate.Pending{Provider: "google-oauth2", Verifier: "v"}, time.Now().Add(time.Minute))
			return "/login/google-oauth2/callback?state=s5&code=blank"
		}, ErrorAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(httptest.NewRequest(http.MethodGet, tt.setup(f), nil))
			if rec.Code != http.StatusFound {
				t.Fatalf("status = %d", rec.Code)
			}
			loc, _ := url.Parse(rec.Header().Get("Location"))
			if loc.Path != "/login" || loc.Query().Get("error") != tt.wantCode {
				t.Errorf("redirect = %s, want error=%s", loc, tt.wantCode)
			}
			if cookieValue(rec, transport.AccessCookie) != "" {
				t.Error("failed login must not set credentials")
			}
			if !f.auditor.has(auditdomain.ActionLoginFailure) {
				t.Error("missing login_failure audit")
			}
			if f.store.AccountCount() != 0 {
				t.Error("failed login created an account")
			}
		})
	}
}

func TestCallback_StateIsSingleUse(t *testing.T) {
	f := newFixture(t)
	f.google.codes["c"] = assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com")
	f.states.Put(context.Background(), "once", oauthstate.Pending{Provider: "google-oauth2", Verifier: "v"}, time.Now().Add(time.Minute))

	first := f.do(httptest.NewRequest(http.MethodGet, "/login/google-oauth2/callback?state=once&code=c", nil))
	second := f.do(httptest.NewRequest(http.MethodGet, "/login/google-oauth2/callback?state=once&code=c", nil))
	if !strings.Contains(first.Header().Get("Location"), "/dashboard") {
		t.Errorf("first = %s", first.Header().Get("Location"))
	}
	if !strings.Contains(second.Header().Get("Location"), "error=auth_failed") {
		t.Errorf("replayed state = %s", second.Header().Get("Location"))
	}
}

// Two providers asserting the same address in different case land on one account, and the second
// login reuses the browser's session.
func TestCallback_CaseInsensitiveEmailAcrossProviders(t *testing.T) {
	f := newFixture(t)
	first := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "a@b.com"), "")
	second := f.login(t, f.microsoft, assertion(identitydomain.ProviderMicrosoft, "m-1", "A@B.COM"), first.session)

	if f.store.AccountCount() != 1 || f.store.IdentityCount() != 2 {
		t.Fatalf("accounts=%d identities=%d, want 1 and 2", f.store.AccountCount(), f.store.IdentityCount())
	}
	c1, err := f.manager.Validate(context.Background(), first.access, tokendomain.KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := f.manager.Validate(context.Background(), second.access, tokendomain.KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	if c1.AccountID != c2.AccountID {
		t.Errorf("accounts differ: %s vs %s", c1.AccountID, c2.AccountID)
	}
	if c1.SessionID != c2.SessionID {
		t.Errorf("session not reused: %s vs %s", c1.SessionID, c2.SessionID)
	}
	if second.session != first.session {
		t.Error("reused session must keep its token")
	}
	if f.auditor.has(auditdomain.ActionIdentitySwitched) {
		t.Error("same account must not be reported as a switch")
	}
}

func TestCallback_SwitchRevokesPreviousSession(t *testing.T) {
	f := newFixture(t)
	ann := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-ann", "ann@example.com"), "")
	bob := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-bob", "bob@example.com"), ann.session)

	if bob.session == "" || bob.session == ann.session {
		t.Fatal("switch must mint a new session")
	}
	if !f.auditor.has(auditdomain.ActionIdentitySwitched) {
		t.Error("missing identity_switched audit")
	}
	annClaims, _ := security.MustTestCodec().Parse(ann.access)
	if s := f.store.Session(annClaims.SessionID); s == nil || s.RevokedAt == nil {
		t.Errorf("previous session not revoked: %+v", s)
	}
	// Ann's bearer token was not touched by the switch.
	if _, err := f.manager.Validate(context.Background(), ann.access, tokendomain.KindAccess); err != nil {
		t.Errorf("previous account's token revoked: %v", err)
	}
}

func TestProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := accessservice.NewProvisioner(f.store.Profiles(), f.store.Catalog()).
		Preprovision(ctx, "ann@example.com", true, accessdomain.Grants{}); err != nil {
		t.Fatal(err)
	}
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "Ann@Example.com"), "")

	req := httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer "+res.access)
	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["email"] != "ann@example.com" || body["first_name"] != "Ann" || body["is_app_authorized"] != true {
		t.Errorf("profile = %v", body)
	}

	// Session cookie alone is not enough for the profile endpoint.
	req = httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.AddCookie(&http.Cookie{Name: transport.SessionCookie, Value: res.session})
	if rec := f.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("cookie-only profile = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/auth/profile", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = f.do(req)
	if rec.Code != http.StatusUnauthorized || decode(t, rec)["code"] != "token_not_valid" {
		t.Errorf("bad bearer = %d", rec.Code)
	}
}

func TestToken_FromSessionCookie(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com"), "")

	req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	req.AddCookie(&http.Cookie{Name: transport.SessionCookie, Value: res.session})
	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	access, _ := body["access"].(string)
	claims, err := f.manager.Validate(context.Background(), access, tokendomain.KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	orig, _ := f.manager.Validate(context.Background(), res.access, tokendomain.KindAccess)
	if claims.SessionID != orig.SessionID {
		t.Errorf("token bound to %s, want session %s", claims.SessionID, orig.SessionID)
	}
	if cookieValue(rec, transport.AccessCookie) != access {
		t.Error("access cookie not refreshed")
	}

	if rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/token", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous = %d, want 401", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com"), "")

	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/token/refresh", strings.NewReader(`{"refresh":"`+res.refresh+`"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d body=%s", rec.Code, rec.Body.String())
	}
	next := decode(t, rec)
	if next["refresh"] == res.refresh || next["access"] == "" {
		t.Errorf("pair not rotated: %v", next)
	}
	if !f.auditor.has(auditdomain.ActionTokenRefreshed) {
		t.Error("missing token_refreshed audit")
	}

	// The rotated refresh token is spent.
	rec = f.do(httptest.NewRequest(http.MethodPost, "/auth/token/refresh", strings.NewReader(`{"refresh":"`+res.refresh+`"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay = %d, want 401", rec.Code)
	}
	body := decode(t, rec)
	if body["detail"] != "Token is invalid or expired" || body["code"] != "token_not_valid" {
		t.Errorf("body = %v", body)
	}
	if !f.auditor.has(auditdomain.ActionTokenRefreshReject) {
		t.Error("missing token_refresh_rejected audit")
	}

	// Cookie fallback with a legacy cookie name.
	req := httptest.NewRequest(http.MethodPost, "/auth/token/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "jwt_refresh", Value: next["refresh"].(string)})
	if rec := f.do(req); rec.Code != http.StatusOK {
		t.Errorf("cookie refresh = %d", rec.Code)
	}

	// An access token is not a refresh token.
	rec = f.do(httptest.NewRequest(http.MethodPost, "/auth/token/refresh", strings.NewReader(`{"refresh":"`+res.access+`"}`)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("access as refresh = %d", rec.Code)
	}

	if rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/token/refresh", nil)); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d", rec.Code)
	}
}

func TestLogout_BearerRevokesSessionTokens(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com"), "")

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+res.access)
	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["detail"] != "Successfully logged out." || body["blacklisted"] != true {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("Clear-Site-Data") == "" {
		t.Error("missing Clear-Site-Data")
	}
	for _, raw := range []struct {
		tok  string
		kind tokendomain.Kind
	}{{res.access, tokendomain.KindAccess}, {res.refresh, tokendomain.KindRefresh}} {
		if _, err := f.manager.Validate(context.Background(), raw.tok, raw.kind); !errors.Is(err, tokendomain.ErrTokenInvalid) {
			t.Errorf("%s token still valid after logout: %v", raw.kind, err)
		}
	}
	claims, _ := security.MustTestCodec().Parse(res.access)
	if s := f.store.Session(claims.SessionID); s == nil || s.RevokedAt == nil {
		t.Error("session not revoked")
	}
	if !f.auditor.has(auditdomain.ActionLogout) {
		t.Error("missing logout audit")
	}
}

func TestLogout_RefreshQueryParam(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com"), "")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/logout?refresh_token="+url.QueryEscape(res.refresh), nil))
	if rec.Code != http.StatusOK || decode(t, rec)["blacklisted"] != true {
		t.Fatalf("logout = %d", rec.Code)
	}
	if _, err := f.manager.Rotate(context.Background(), res.refresh); !errors.Is(err, tokendomain.ErrTokenInvalid) {
		t.Errorf("refresh usable after logout: %v", err)
	}
}

func TestLogout_AnonymousStillSucceeds(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: transport.RefreshCookie, Value: "garbage"})
	rec := f.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["blacklisted"] != false {
		t.Errorf("body = %v", body)
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Error("logout must expire credential cookies")
	}
}

func TestLogout_SessionCookieOnly(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com"), "")

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: transport.SessionCookie, Value: res.session})
	if rec := f.do(req); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// Tokens issued for the session are revoked along with it.
	if _, err := f.manager.Validate(context.Background(), res.access, tokendomain.KindAccess); !errors.Is(err, tokendomain.ErrTokenInvalid) {
		t.Errorf("access valid after session logout: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	req.AddCookie(&http.Cookie{Name: transport.SessionCookie, Value: res.session})
	if rec := f.do(req); rec.Code != http.StatusUnauthorized {
		t.Errorf("session still authenticates: %d", rec.Code)
	}
}

// brokenRevocation issues and rotates normally but cannot revoke anything.
type brokenRevocation struct {
	TokenManager
}

var errRevocationStore = errors.New("revocation store unavailable")

func (brokenRevocation) Revoke(ctx context.Context, raw, reason string) (bool, error) {
	return false, errRevocationStore
}

func (brokenRevocation) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	return 0, errRevocationStore
}

func (brokenRevocation) RevokeRecent(ctx context.Context, accountID string) (int, error) {
	return 0, errRevocationStore
}

func TestLogout_RevocationFailureStillClearsCookies(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, f.google, assertion(identitydomain.ProviderGoogle, "g-1", "ann@example.com"), "")

	d := f.deps
	d.Tokens = brokenRevocation{TokenManager: f.manager}
	f.mount(d)

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"bearer with cookies", func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
			req.Header.Set("Authorization", "Bearer "+res.access)
			req.AddCookie(&http.Cookie{Name: transport.RefreshCookie, Value: res.refresh})
			req.AddCookie(&http.Cookie{Name: transport.SessionCookie, Value: res.session})
			return req
		}},
		{"refresh query only", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/auth/logout?refresh_token="+url.QueryEscape(res.refresh), nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.req())
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			body := decode(t, rec)
			if body["detail"] != "Successfully logged out." || body["blacklisted"] != false {
				t.Errorf("body = %v", body)
			}
			if rec.Header().Get("Clear-Site-Data") == "" {
				t.Error("missing Clear-Site-Data")
			}
			cookies := rec.Result().Cookies()
			if len(cookies) == 0 {
				t.Fatal("no cookies cleared")
			}
			for _, c := range cookies {
				if c.MaxAge >= 0 || c.Value != "" {
					t.Errorf("cookie %s (domain %q path %q) not expired", c.Name, c.Domain, c.Path)
				}
			}
		})
	}

	// The revocation set was never written.
	if _, err := f.manager.Validate(context.Background(), res.refresh, tokendomain.KindRefresh); err != nil {
		t.Errorf("refresh in revocation set after failed revocation: %v", err)
	}
}
