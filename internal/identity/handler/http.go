// Package handler serves the login, token and logout endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	accessdomain "command-center/backend/internal/access/domain"
	accountdomain "command-center/backend/internal/account/domain"
	"command-center/backend/internal/audit"
	auditdomain "command-center/backend/internal/audit/domain"
	identitydomain "command-center/backend/internal/identity/domain"
	"command-center/backend/internal/identity/service"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/oauthstate"
	"command-center/backend/internal/provider"
	"command-center/backend/internal/security"
	"command-center/backend/internal/server/middleware"
	sessiondomain "command-center/backend/internal/session/domain"
	"command-center/backend/internal/telemetry"
	telemetrydomain "command-center/backend/internal/telemetry/domain"
	tokendomain "command-center/backend/internal/token/domain"
	"command-center/backend/internal/transport"
)

// Login failure codes carried in the frontend redirect.
const (
	ErrorAuthFailed    = "auth_failed"
	ErrorProviderError = "provider_error"
	ErrorServerError   = "server_error"
)

const (
	detailTokenInvalid = "Token is invalid or expired"
	codeTokenInvalid   = "token_not_valid"
	detailLoggedOut    = "Successfully logged out."
)

// TokenManager is the token lifecycle the handlers drive.
type TokenManager interface {
	Issue(ctx context.Context, sub tokendomain.Subject) (*tokendomain.Pair, error)
	Rotate(ctx context.Context, raw string) (*tokendomain.Pair, error)
	Revoke(ctx context.Context, raw, reason string) (bool, error)
	RevokeSession(ctx context.Context, sessionID string) (int, error)
	RevokeRecent(ctx context.Context, accountID string) (int, error)
}

// IdentityResolver maps an assertion to an account and login session.
type IdentityResolver interface {
	Resolve(ctx context.Context, a identitydomain.Assertion, activeSessionToken string, client service.Client) (*service.ResolvedIdentity, error)
}

// AccountGetter loads accounts.
type AccountGetter interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
}

// ProfileGetter loads the account's access profile.
type ProfileGetter interface {
	GetByAccount(ctx context.Context, accountID string) (*accessdomain.AccessProfile, error)
}

// SessionStore finds and revokes login sessions.
type SessionStore interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error)
	Revoke(ctx context.Context, id string, at time.Time) error
}

// Deps are the handler's collaborators. Auditor and Emitter may be nil.
type Deps struct {
	Providers   provider.Registry
	States      oauthstate.Store
	StateTTL    time.Duration
	Resolver    IdentityResolver
	Tokens      TokenManager
	Accounts    AccountGetter
	Profiles    ProfileGetter
	Sessions    SessionStore
	Reconciler  *transport.Reconciler
	Auditor     audit.AuditLogger
	Emitter     telemetry.EventEmitter
	FrontendURL string
	DBTimeout   time.Duration
}

// Handler serves the identity endpoints.
type Handler struct {
	d Deps
}

// NewHandler returns a Handler. A zero StateTTL or DBTimeout gets the default.
func NewHandler(d Deps) *Handler {
	if d.StateTTL <= 0 {
		d.StateTTL = 10 * time.Minute
	}
	if d.DBTimeout <= 0 {
		d.DBTimeout = 5 * time.Second
	}
	d.FrontendURL = strings.TrimRight(d.FrontendURL, "/")
	return &Handler{d: d}
}

// Register mounts the routes on r. throttle wraps the login start and token endpoints.
func (h *Handler) Register(r *mux.Router, throttle func(http.Handler) http.Handler) {
	if throttle == nil {
		throttle = func(next http.Handler) http.Handler { return next }
	}
	r.Handle("/login/{provider}", throttle(http.HandlerFunc(h.Login))).Methods(http.MethodGet)
	r.HandleFunc("/login/{provider}/callback", h.Callback).Methods(http.MethodGet)
	r.HandleFunc("/auth/profile", h.Profile).Methods(http.MethodGet)
	r.Handle("/auth/token", throttle(http.HandlerFunc(h.Token))).Methods(http.MethodGet)
	r.HandleFunc("/auth/token/refresh", h.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodGet, http.MethodPost)
}

func (h *Handler) log(r *http.Request) *logrus.Entry {
	return logs.Logger.WithField("request_id", middleware.RequestIDFrom(r.Context()))
}

func (h *Handler) audit(ctx context.Context, accountID, action, resource string, meta map[string]any) {
	if h.d.Auditor != nil {
		h.d.Auditor.LogEvent(ctx, accountID, action, resource, meta)
	}
}

func (h *Handler) emit(ctx context.Context, accountID, sessionID, eventType string, meta map[string]any) {
	if h.d.Emitter == nil {
		return
	}
	b, _ := json.Marshal(meta)
	telemetry.EmitAsync(h.d.Emitter, ctx, &telemetrydomain.Event{
		AccountID: accountID,
		SessionID: sessionID,
		EventType: eventType,
		Source:    "identity_handler",
		Metadata:  b,
		CreatedAt: time.Now().UTC(),
	})
}

func (h *Handler) dbContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.d.DBTimeout)
}

// Login starts the authorization-code flow: it stores a one-shot state with the PKCE verifier and
// redirects to the provider.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	p, ok := h.d.Providers.Get(name)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Unknown identity provider.", "unknown_provider")
		return
	}
	state, err := oauthstate.NewState()
	if err != nil {
		h.log(r).WithError(err).Error("login: generate state")
		h.redirectError(w, r, ErrorServerError)
		return
	}
	verifier := provider.NewVerifier()
	h.d.States.Put(r.Context(), state, oauthstate.Pending{Provider: name, Verifier: verifier}, time.Now().UTC().Add(h.d.StateTTL))
	http.Redirect(w, r, p.AuthCodeURL(state, verifier), http.StatusFound)
}

// Callback finishes the flow: state check, code exchange, identity resolution and token issue.
// Every failure redirects to the frontend login page with an error code.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	q := r.URL.Query()
	fail := func(code, reason string, err error) {
		entry := h.log(r).WithFields(logrus.Fields{"provider": name, "reason": reason})
		if err != nil {
			entry = entry.WithError(err)
		}
		if code == ErrorAuthFailed {
			entry.Warn("login failed")
		} else {
			entry.Error("login failed")
		}
		h.audit(r.Context(), "", auditdomain.ActionLoginFailure, "login", map[string]any{"provider": name, "reason": reason})
		h.redirectError(w, r, code)
	}

	p, ok := h.d.Providers.Get(name)
	if !ok {
		fail(ErrorAuthFailed, "unknown_provider", nil)
		return
	}
	if e := q.Get("error"); e != "" {
		fail(ErrorAuthFailed, "provider_denied:"+e, nil)
		return
	}
	pending, ok := h.d.States.Take(r.Context(), q.Get("state"))
	if !ok || pending.Provider != name {
		fail(ErrorAuthFailed, "invalid_state", nil)
		return
	}
	code := q.Get("code")
	if code == "" {
		fail(ErrorAuthFailed, "missing_code", nil)
		return
	}

	assertion, err := p.Exchange(r.Context(), code, pending.Verifier)
	switch {
	case errors.Is(err, service.ErrIdentityAssertionInvalid):
		fail(ErrorAuthFailed, "invalid_assertion", err)
		return
	case errors.Is(err, provider.ErrUpstreamIdentityProvider):
		fail(ErrorProviderError, "upstream", err)
		return
	case err != nil:
		fail(ErrorServerError, "exchange", err)
		return
	}

	var activeSession string
	if c, err := r.Cookie(transport.SessionCookie); err == nil {
		activeSession = c.Value
	}
	ctx, cancel := h.dbContext(r)
	defer cancel()
	client := service.Client{IP: middleware.ClientIPFrom(r.Context()), UserAgent: r.UserAgent()}
	res, err := h.d.Resolver.Resolve(ctx, assertion, activeSession, client)
	switch {
	case errors.Is(err, service.ErrIdentityAssertionInvalid):
		fail(ErrorAuthFailed, "invalid_assertion", err)
		return
	case err != nil:
		fail(ErrorServerError, "resolve", err)
		return
	}

	pair, err := h.d.Tokens.Issue(ctx, tokendomain.Subject{
		AccountID: res.Account.ID,
		SessionID: res.Session.ID,
		Email:     res.Account.Email,
		Name:      res.Account.DisplayName(),
	})
	if err != nil {
		fail(ErrorServerError, "issue", err)
		return
	}

	meta := map[string]any{"provider": name, "outcome": res.Outcome(), "session_id": res.Session.ID}
	h.audit(r.Context(), res.Account.ID, auditdomain.ActionLoginSuccess, "login", meta)
	if res.Switched {
		h.audit(r.Context(), res.Account.ID, auditdomain.ActionIdentitySwitched, "session",
			map[string]any{"previous_account_id": res.PreviousAccountID, "provider": name})
		h.emit(r.Context(), res.Account.ID, res.Session.ID, telemetrydomain.EventIdentitySwitched, meta)
	}
	h.audit(r.Context(), res.Account.ID, auditdomain.ActionTokenIssued, "token", map[string]any{"session_id": res.Session.ID})
	h.emit(r.Context(), res.Account.ID, res.Session.ID, telemetrydomain.EventLogin, meta)

	h.d.Reconciler.SetLoginCookies(w, pair, res.SessionToken)
	v := url.Values{}
	v.Set("access", pair.Access)
	v.Set("refresh", pair.Refresh)
	v.Set("provider", name)
	http.Redirect(w, r, h.d.FrontendURL+"/dashboard?"+v.Encode(), http.StatusFound)
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, h.d.FrontendURL+"/login?error="+url.QueryEscape(code), http.StatusFound)
}

// unauthenticated writes the 401 for a request without a usable identity.
func unauthenticated(w http.ResponseWriter, r *http.Request) {
	if middleware.AuthFailed(r.Context()) {
		middleware.WriteError(w, http.StatusUnauthorized, detailTokenInvalid, codeTokenInvalid)
		return
	}
	middleware.WriteError(w, http.StatusUnauthorized, "Authentication credentials were not provided.", "not_authenticated")
}

type profileResponse struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	IsAppAuthorized bool   `json:"is_app_authorized"`
}

// Profile returns the bearer's account and whether it is authorized to use the app.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok || id.Via != middleware.ViaBearer {
		unauthenticated(w, r)
		return
	}
	ctx, cancel := h.dbContext(r)
	defer cancel()
	acc, err := h.d.Accounts.GetByID(ctx, id.AccountID)
	if err != nil {
		h.log(r).WithError(err).Error("profile: load account")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	if acc == nil {
		middleware.WriteError(w, http.StatusUnauthorized, "User not found", "user_not_found")
		return
	}
	p, err := h.d.Profiles.GetByAccount(ctx, acc.ID)
	if err != nil {
		h.log(r).WithError(err).Error("profile: load access profile")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, profileResponse{
		ID:              acc.ID,
		Username:        acc.Username,
		Email:           acc.Email,
		FirstName:       acc.FirstName,
		LastName:        acc.LastName,
		IsAppAuthorized: accessdomain.Authorize(p) == nil,
	})
}

type pairResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Token issues a fresh pair bound to the caller's login session. Cookie-authenticated callers use it
// to obtain bearer tokens.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		unauthenticated(w, r)
		return
	}
	ctx, cancel := h.dbContext(r)
	defer cancel()
	acc, err := h.d.Accounts.GetByID(ctx, id.AccountID)
	if err != nil || acc == nil {
		if err != nil {
			h.log(r).WithError(err).Error("token: load account")
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	pair, err := h.d.Tokens.Issue(ctx, tokendomain.Subject{
		AccountID: acc.ID,
		SessionID: id.SessionID,
		Email:     acc.Email,
		Name:      acc.DisplayName(),
	})
	if err != nil {
		h.log(r).WithError(err).Error("token: issue")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	h.audit(r.Context(), acc.ID, auditdomain.ActionTokenIssued, "token", map[string]any{"via": id.Via, "session_id": id.SessionID})
	h.d.Reconciler.SetLoginCookies(w, pair, "")
	middleware.WriteJSON(w, http.StatusOK, pairResponse{Access: pair.Access, Refresh: pair.Refresh})
}

// Refresh rotates a refresh token taken from the JSON body, else from the refresh cookie.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body)
	}
	raw := strings.TrimSpace(body.Refresh)
	if raw == "" {
		raw = transport.RefreshFromCookies(r)
	}
	if raw == "" {
		middleware.WriteError(w, http.StatusUnauthorized, detailTokenInvalid, codeTokenInvalid)
		return
	}

	ctx, cancel := h.dbContext(r)
	defer cancel()
	pair, err := h.d.Tokens.Rotate(ctx, raw)
	if err != nil {
		if errors.Is(err, tokendomain.ErrTokenInvalid) {
			h.log(r).WithField("reason", tokendomain.RejectionReason(err)).Info("refresh rejected")
			h.audit(r.Context(), "", auditdomain.ActionTokenRefreshReject, "token", map[string]any{"reason": tokendomain.RejectionReason(err)})
			middleware.WriteError(w, http.StatusUnauthorized, detailTokenInvalid, codeTokenInvalid)
			return
		}
		h.log(r).WithError(err).Error("refresh: rotate")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal server error.", "server_error")
		return
	}
	h.audit(r.Context(), "", auditdomain.ActionTokenRefreshed, "token", map[string]any{"refresh_jti": pair.RefreshJTI})
	h.emit(r.Context(), "", "", telemetrydomain.EventTokenRotated, map[string]any{"refresh_jti": pair.RefreshJTI})
	h.d.Reconciler.SetLoginCookies(w, pair, "")
	middleware.WriteJSON(w, http.StatusOK, pairResponse{Access: pair.Access, Refresh: pair.Refresh})
}

type logoutResponse struct {
	Detail      string `json:"detail"`
	Blacklisted bool   `json:"blacklisted"`
}

// Logout revokes whatever credentials the request can name, clears every credential cookie and
// always answers 200. Each revocation step is best-effort; blacklisted reports whether any token
// was newly revoked.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.dbContext(r)
	defer cancel()
	id, authed := middleware.IdentityFrom(r.Context())

	refresh := transport.RefreshFromCookies(r)
	if refresh == "" {
		refresh = r.URL.Query().Get("refresh_token")
	}

	blacklisted := false
	note := func(step string, n int, err error) {
		if err != nil {
			h.log(r).WithError(err).WithField("step", step).Warn("logout: revocation failed")
			return
		}
		if n > 0 {
			blacklisted = true
		}
	}
	revokeRaw := func(step, raw string) {
		ok, err := h.d.Tokens.Revoke(ctx, raw, tokendomain.RevokedLogout)
		n := 0
		if ok {
			n = 1
		}
		if errors.Is(err, tokendomain.ErrTokenInvalid) {
			err = nil // foreign or garbled token: nothing to revoke
		}
		note(step, n, err)
	}

	sessionIDs := []string{}
	if authed {
		switch {
		case id.SessionID != "":
			n, err := h.d.Tokens.RevokeSession(ctx, id.SessionID)
			note("session_tokens", n, err)
			sessionIDs = append(sessionIDs, id.SessionID)
		case refresh == "":
			n, err := h.d.Tokens.RevokeRecent(ctx, id.AccountID)
			note("recent_tokens", n, err)
		}
	}
	if refresh != "" {
		revokeRaw("refresh", refresh)
	}
	if authed && id.Via == middleware.ViaBearer {
		revokeRaw("access", transport.BearerToken(r))
	}
	if c, err := r.Cookie(transport.SessionCookie); err == nil && c.Value != "" {
		s, err := h.d.Sessions.GetByTokenHash(ctx, security.HashToken(c.Value))
		if err != nil {
			h.log(r).WithError(err).Warn("logout: session lookup failed")
		} else if s != nil {
			sessionIDs = append(sessionIDs, s.ID)
		}
	}
	now := time.Now().UTC()
	seen := map[string]bool{}
	for _, sid := range sessionIDs {
		if seen[sid] {
			continue
		}
		seen[sid] = true
		if err := h.d.Sessions.Revoke(ctx, sid, now); err != nil {
			h.log(r).WithError(err).WithField("session_id", sid).Warn("logout: session revoke failed")
		}
	}

	var accountID string
	if authed {
		accountID = id.AccountID
	}
	h.audit(r.Context(), accountID, auditdomain.ActionLogout, "session", map[string]any{"blacklisted": blacklisted})
	h.emit(r.Context(), accountID, "", telemetrydomain.EventLogout, map[string]any{"blacklisted": blacklisted})

	h.d.Reconciler.ClearAll(w, r)
	middleware.WriteJSON(w, http.StatusOK, logoutResponse{Detail: detailLoggedOut, Blacklisted: blacklisted})
}
