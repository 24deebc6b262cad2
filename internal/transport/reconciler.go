// Package transport reconciles the two credential carriers a browser may send: the Authorization
// header used by the API and the cookies left behind by login flows.
package transport

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"command-center/backend/internal/config"
	"command-center/backend/internal/token/domain"
)

// Cookie names.
const (
	SessionCookie = "sessionid"
	RefreshCookie = "refresh_token"
	AccessCookie  = "access_token"
)

// CredentialCookies are every cookie name a login flow, current or legacy, may have set.
var CredentialCookies = []string{
	"csrftoken",
	"refresh_token",
	"refreshToken",
	"access_token",
	"accessToken",
	"jwt_refresh",
	"jwt_access",
	"sessionid",
	"social_auth_last_login_backend",
	"oauth_state",
	"g_state",
	"social_auth_google-oauth2_state",
	"social_auth_azuread-oauth2_state",
	"next",
	"partial_pipeline_token",
}

// RefreshCookieNames are the cookies logout and refresh read a refresh token from, in order.
var RefreshCookieNames = []string{"refresh_token", "refreshToken", "jwt_refresh"}

// Options configure cookie attributes and the paths the reconciler treats as API.
type Options struct {
	Domain        string
	Path          string
	AdminPath     string
	Secure        bool
	SameSite      http.SameSite
	RefreshMaxAge time.Duration
	AccessMaxAge  time.Duration
	SessionMaxAge time.Duration
	LegacyDomains []string
	LegacyPaths   []string
	APIPrefixes   []string
	// FrontendURL is used to clear cookies scoped to the frontend host.
	FrontendURL string
}

// OptionsFromConfig maps config to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Domain:        cfg.CookieDomain,
		Path:          cfg.CookiePath,
		AdminPath:     cfg.AdminCookiePath,
		Secure:        cfg.CookieSecure,
		SameSite:      ParseSameSite(cfg.CookieSameSite),
		RefreshMaxAge: cfg.RefreshCookieAge(),
		AccessMaxAge:  cfg.AccessTTL(),
		SessionMaxAge: cfg.SessionLifetime(),
		LegacyDomains: config.SplitList(cfg.LegacyCookieDomains),
		LegacyPaths:   config.SplitList(cfg.LegacyCookiePaths),
		APIPrefixes:   config.SplitList(cfg.APIPathPrefixes),
		FrontendURL:   cfg.FrontendBaseURL,
	}
}

// ParseSameSite maps lax, strict and none (any case) to http.SameSite; anything else is Lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Reconciler decides which credential a request carries and manages credential cookies on responses.
type Reconciler struct {
	opts Options
}

// NewReconciler returns a Reconciler. Empty paths default to "/" and "/admin".
func NewReconciler(opts Options) *Reconciler {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.AdminPath == "" {
		opts.AdminPath = "/admin"
	}
	return &Reconciler{opts: opts}
}

// Credentials carried by a request.
type Credentials struct {
	Bearer  string
	Session string // raw sessionid cookie; empty whenever Bearer is set
}

// BearerToken returns the token from an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Credentials returns the bearer token when present; the session cookie is then ignored.
func (rc *Reconciler) Credentials(r *http.Request) Credentials {
	if tok := BearerToken(r); tok != "" {
		return Credentials{Bearer: tok}
	}
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return Credentials{Session: c.Value}
	}
	return Credentials{}
}

// IsAPIPath reports whether path belongs to the API family.
func (rc *Reconciler) IsAPIPath(path string) bool {
	for _, p := range rc.opts.APIPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (rc *Reconciler) isAdminPath(path string) bool {
	admin := strings.TrimRight(rc.opts.AdminPath, "/")
	return path == admin || strings.HasPrefix(path, admin+"/")
}

// Middleware keeps the two carriers apart:
//   - a bearer request to the admin area without a session cookie is refused;
//   - a bearer request to an API path that also sends a session cookie gets that cookie expired.
func (rc *Reconciler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBearer := BearerToken(r) != ""
		_, cookieErr := r.Cookie(SessionCookie)
		hasSession := cookieErr == nil

		if hasBearer && !hasSession && rc.isAdminPath(r.URL.Path) {
			http.Error(w, "Admin site requires session authentication.", http.StatusForbidden)
			return
		}
		if hasBearer && hasSession && rc.IsAPIPath(r.URL.Path) {
			w = &expireSessionWriter{ResponseWriter: w, cookies: rc.expired(SessionCookie, rc.opts.Domain, rc.opts.Path, rc.opts.AdminPath)}
		}
		next.ServeHTTP(w, r)
	})
}

// expireSessionWriter appends expiring session cookies just before the header is written,
// unless the handler set a session cookie itself.
type expireSessionWriter struct {
	http.ResponseWriter
	cookies     []*http.Cookie
	wroteHeader bool
}

func (w *expireSessionWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if !setsCookie(w.Header(), SessionCookie) {
			for _, c := range w.cookies {
				http.SetCookie(w.ResponseWriter, c)
			}
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *expireSessionWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *expireSessionWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func setsCookie(h http.Header, name string) bool {
	for _, line := range h.Values("Set-Cookie") {
		if strings.HasPrefix(line, name+"=") && !strings.Contains(line, "Max-Age=0") {
			return true
		}
	}
	return false
}

func (rc *Reconciler) cookie(name, value, path string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   rc.opts.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   rc.opts.Secure,
		HttpOnly: true,
		SameSite: rc.opts.SameSite,
	}
}

// SetLoginCookies sets the refresh and access cookies on the API path and, when sessionToken is
// non-empty, the session cookie on the admin path.
func (rc *Reconciler) SetLoginCookies(w http.ResponseWriter, pair *domain.Pair, sessionToken string) {
	http.SetCookie(w, rc.cookie(RefreshCookie, pair.Refresh, rc.opts.Path, rc.opts.RefreshMaxAge))
	http.SetCookie(w, rc.cookie(AccessCookie, pair.Access, rc.opts.Path, rc.opts.AccessMaxAge))
	if sessionToken != "" {
		http.SetCookie(w, rc.cookie(SessionCookie, sessionToken, rc.opts.AdminPath, rc.opts.SessionMaxAge))
	}
}

// SetSessionCookie sets only the session cookie.
func (rc *Reconciler) SetSessionCookie(w http.ResponseWriter, sessionToken string) {
	http.SetCookie(w, rc.cookie(SessionCookie, sessionToken, rc.opts.AdminPath, rc.opts.SessionMaxAge))
}

// RefreshFromCookies returns the first non-empty refresh cookie.
func RefreshFromCookies(r *http.Request) string {
	for _, name := range RefreshCookieNames {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return ""
}

func (rc *Reconciler) expired(name, domain string, paths ...string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(paths))
	for _, p := range dedupe(paths) {
		out = append(out, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     p,
			Domain:   domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			Secure:   rc.opts.Secure,
			SameSite: rc.opts.SameSite,
		})
	}
	return out
}

// Domains returns the cookie domains ClearAll expires for r, in a fixed order without duplicates.
func (rc *Reconciler) Domains(r *http.Request) []string {
	domains := []string{"", rc.opts.Domain}
	domains = append(domains, rc.opts.LegacyDomains...)
	domains = append(domains, hostVariants(hostOnly(r.Host))...)
	if u, err := url.Parse(rc.opts.FrontendURL); err == nil {
		domains = append(domains, hostVariants(u.Hostname())...)
	}
	out := dedupe(domains)
	// keep host-only first even though dedupe drops empty strings
	return append([]string{""}, out...)
}

// Paths returns the cookie paths ClearAll expires, in a fixed order without duplicates.
func (rc *Reconciler) Paths() []string {
	paths := append([]string{rc.opts.Path, rc.opts.AdminPath}, rc.opts.LegacyPaths...)
	return dedupe(paths)
}

// ClearAll expires every credential cookie across all domains and paths and asks the browser to drop site data.
func (rc *Reconciler) ClearAll(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	h := w.Header()
	for _, name := range CredentialCookies {
		for _, d := range rc.Domains(r) {
			for _, c := range rc.expired(name, d, rc.Paths()...) {
				line := c.String()
				if line == "" || seen[line] {
					continue
				}
				seen[line] = true
				h.Add("Set-Cookie", line)
			}
		}
	}
	h.Set("Clear-Site-Data", `"cookies", "storage"`)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

// hostVariants returns host and .host; IP addresses and empty hosts have no dotted variant.
func hostVariants(host string) []string {
	host = strings.TrimPrefix(strings.TrimSpace(host), ".")
	if host == "" {
		return nil
	}
	if net.ParseIP(host) != nil {
		return []string{host}
	}
	return []string{host, "." + host}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
