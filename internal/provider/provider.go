// Package provider runs the OAuth2 authorization-code flow against Microsoft and Google and turns the
// callback into an identity assertion.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"command-center/backend/internal/config"
	"command-center/backend/internal/identity/domain"
	identityservice "command-center/backend/internal/identity/service"
)

// ErrUpstreamIdentityProvider covers transport failures, non-2xx responses and undecodable payloads from a provider.
var ErrUpstreamIdentityProvider = errors.New("upstream identity provider error")

// maxUserInfoBytes bounds the userinfo body we are willing to decode.
const maxUserInfoBytes = 1 << 20

// Provider is one external identity provider.
type Provider interface {
	Name() string
	// AuthCodeURL returns the provider URL to redirect the browser to. verifier is the PKCE code verifier.
	AuthCodeURL(state, verifier string) string
	// Exchange trades the authorization code for tokens and fetches the user's profile.
	Exchange(ctx context.Context, code, verifier string) (domain.Assertion, error)
}

// Endpoints override the provider's URLs. Empty fields keep the defaults.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// Options configure a provider.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Endpoints    Endpoints
}

type decodeFunc func(body []byte) (domain.Assertion, error)

type oauthProvider struct {
	name        domain.Provider
	conf        *oauth2.Config
	userInfoURL string
	client      *http.Client
	timeout     time.Duration
	decode      decodeFunc
}

func newOAuthProvider(name domain.Provider, endpoint oauth2.Endpoint, userInfoURL string, scopes []string, opts Options, decode decodeFunc) *oauthProvider {
	if opts.Endpoints.AuthURL != "" {
		endpoint.AuthURL = opts.Endpoints.AuthURL
	}
	if opts.Endpoints.TokenURL != "" {
		endpoint.TokenURL = opts.Endpoints.TokenURL
	}
	if opts.Endpoints.UserInfoURL != "" {
		userInfoURL = opts.Endpoints.UserInfoURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &oauthProvider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		userInfoURL: userInfoURL,
		client:      client,
		timeout:     timeout,
		decode:      decode,
	}
}

func (p *oauthProvider) Name() string { return string(p.name) }

func (p *oauthProvider) AuthCodeURL(state, verifier string) string {
	return p.conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *oauthProvider) Exchange(ctx context.Context, code, verifier string) (domain.Assertion, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return domain.Assertion{}, fmt.Errorf("%w: %s token exchange: %v", ErrUpstreamIdentityProvider, p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return domain.Assertion{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return domain.Assertion{}, fmt.Errorf("%w: %s userinfo: %v", ErrUpstreamIdentityProvider, p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Assertion{}, fmt.Errorf("%w: %s userinfo status %d", ErrUpstreamIdentityProvider, p.name, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return domain.Assertion{}, fmt.Errorf("%w: %s userinfo read: %v", ErrUpstreamIdentityProvider, p.name, err)
	}
	a, err := p.decode(body)
	if err != nil {
		return domain.Assertion{}, fmt.Errorf("%w: %s userinfo decode: %v", ErrUpstreamIdentityProvider, p.name, err)
	}
	a.Provider = p.name
	if strings.TrimSpace(a.Subject) == "" {
		return domain.Assertion{}, identityservice.ErrIdentityAssertionInvalid
	}
	return a, nil
}

// NewMicrosoft returns the Azure AD provider for tenant ("common" when empty). Profiles come from Graph /v1.0/me.
func NewMicrosoft(tenant string, opts Options) Provider {
	if tenant == "" {
		tenant = "common"
	}
	return newOAuthProvider(domain.ProviderMicrosoft, microsoft.AzureADEndpoint(tenant),
		"https://graph.microsoft.com/v1.0/me",
		[]string{"openid", "profile", "email", "User.Read"}, opts, decodeGraphUser)
}

func decodeGraphUser(body []byte) (domain.Assertion, error) {
	var u struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		DisplayName       string `json:"displayName"`
		GivenName         string `json:"givenName"`
		Surname           string `json:"surname"`
		JobTitle          string `json:"jobTitle"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return domain.Assertion{}, err
	}
	return domain.Assertion{
		Subject: u.ID,
		Claims: domain.Claims{
			Email:      u.Mail,
			UPN:        u.UserPrincipalName,
			Name:       u.DisplayName,
			GivenName:  u.GivenName,
			FamilyName: u.Surname,
			JobTitle:   u.JobTitle,
		},
	}, nil
}

var googleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// NewGoogle returns the Google provider. Profiles come from the OIDC userinfo endpoint.
func NewGoogle(opts Options) Provider {
	return newOAuthProvider(domain.ProviderGoogle, googleEndpoint,
		"https://openidconnect.googleapis.com/v1/userinfo",
		[]string{"openid", "email", "profile"}, opts, decodeGoogleUser)
}

func decodeGoogleUser(body []byte) (domain.Assertion, error) {
	var u struct {
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		Name       string `json:"name"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := json.Unmarshal(body, &u); err != nil {
		return domain.Assertion{}, err
	}
	return domain.Assertion{
		Subject: u.Sub,
		Claims: domain.Claims{
			Email:      u.Email,
			Name:       u.Name,
			GivenName:  u.GivenName,
			FamilyName: u.FamilyName,
		},
	}, nil
}

// Registry maps provider names (the /login/{provider} path segment) to providers.
type Registry map[string]Provider

// Get returns the provider registered as name.
func (r Registry) Get(name string) (Provider, bool) {
	p, ok := r[name]
	return p, ok
}

// FromConfig builds a provider for every client id that is configured.
func FromConfig(cfg *config.Config) Registry {
	reg := Registry{}
	base := strings.TrimRight(cfg.OAuthRedirectBaseURL, "/")
	callback := func(p domain.Provider) string { return base + "/login/" + string(p) + "/callback" }
	timeout := cfg.ProviderTimeoutDuration()
	if cfg.AzureADClientID != "" {
		reg[string(domain.ProviderMicrosoft)] = NewMicrosoft(cfg.AzureADTenantID, Options{
			ClientID:     cfg.AzureADClientID,
			ClientSecret: cfg.AzureADClientSecret,
			RedirectURL:  callback(domain.ProviderMicrosoft),
			Timeout:      timeout,
		})
	}
	if cfg.GoogleClientID != "" {
		reg[string(domain.ProviderGoogle)] = NewGoogle(Options{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  callback(domain.ProviderGoogle),
			Timeout:      timeout,
		})
	}
	return reg
}

// NewVerifier returns a PKCE code verifier.
func NewVerifier() string { return oauth2.GenerateVerifier() }
