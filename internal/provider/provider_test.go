package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"command-center/backend/internal/config"
	"command-center/backend/internal/identity/domain"
	identityservice "command-center/backend/internal/identity/service"
)

type fakeIdP struct {
	userStatus   int
	userBody     string
	tokenStatus  int
	gotVerifier  string
	gotAuthToken string
}

func (f *fakeIdP) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		f.gotVerifier = r.PostForm.Get("code_verifier")
		if f.tokenStatus != 0 {
			w.WriteHeader(f.tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"upstream-at","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.gotAuthToken = r.Header.Get("Authorization")
		status := f.userStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(f.userBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func endpoints(srv *httptest.Server) Endpoints {
	return Endpoints{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token", UserInfoURL: srv.URL + "/userinfo"}
}

func TestGoogle_Exchange(t *testing.T) {
	idp := &fakeIdP{userBody: `{"sub":"g-123","email":"A@B.com","name":"Ann Lee","given_name":"Ann","family_name":"Lee"}`}
	srv := idp.server(t)
	p := NewGoogle(Options{ClientID: "cid", ClientSecret: "sec", RedirectURL: "http://app/cb", Endpoints: endpoints(srv)})

	a, err := p.Exchange(context.Background(), "code-1", "verifier-1")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if a.Provider != domain.ProviderGoogle || a.Subject != "g-123" {
		t.Errorf("assertion = %+v", a)
	}
	if a.Claims.Email != "A@B.com" || a.Claims.GivenName != "Ann" {
		t.Errorf("claims = %+v", a.Claims)
	}
	if idp.gotVerifier != "verifier-1" {
		t.Errorf("code_verifier = %q", idp.gotVerifier)
	}
	if idp.gotAuthToken != "Bearer upstream-at" {
		t.Errorf("userinfo auth = %q", idp.gotAuthToken)
	}
}

func TestMicrosoft_ExchangeMapsGraphFields(t *testing.T) {
	idp := &fakeIdP{userBody: `{"id":"oid-1","mail":null,"userPrincipalName":"ann@corp.com","givenName":"Ann","surname":"Lee","jobTitle":"CFO"}`}
	srv := idp.server(t)
	p := NewMicrosoft("", Options{ClientID: "cid", Endpoints: endpoints(srv)})

	a, err := p.Exchange(context.Background(), "code", "v")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if a.Provider != domain.ProviderMicrosoft || a.Subject != "oid-1" {
		t.Errorf("assertion = %+v", a)
	}
	if a.ContactEmail() != "ann@corp.com" || a.Claims.JobTitle != "CFO" {
		t.Errorf("claims = %+v", a.Claims)
	}
}

func TestExchange_Failures(t *testing.T) {
	tests := []struct {
		name string
		idp  *fakeIdP
		want error
	}{
		{"token endpoint rejects", &fakeIdP{tokenStatus: http.StatusBadRequest}, ErrUpstreamIdentityProvider},
		{"userinfo 500", &fakeIdP{userStatus: http.StatusInternalServerError, userBody: `{}`}, ErrUpstreamIdentityProvider},
		{"userinfo not json", &fakeIdP{userBody: `<html>`}, ErrUpstreamIdentityProvider},
		{"empty subject", &fakeIdP{userBody: `{"email":"a@b.com"}`}, identityservice.ErrIdentityAssertionInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tt.idp.server(t)
			p := NewGoogle(Options{ClientID: "cid", Endpoints: endpoints(srv)})
			if _, err := p.Exchange(context.Background(), "code", "v"); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExchange_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()
	p := NewGoogle(Options{ClientID: "cid", Timeout: 20 * time.Millisecond, Endpoints: endpoints(srv)})
	if _, err := p.Exchange(context.Background(), "code", "v"); !errors.Is(err, ErrUpstreamIdentityProvider) {
		t.Fatalf("err = %v, want ErrUpstreamIdentityProvider", err)
	}
}

func TestAuthCodeURL_CarriesStateAndPKCE(t *testing.T) {
	p := NewGoogle(Options{ClientID: "cid", RedirectURL: "http://app/login/google-oauth2/callback",
		Endpoints: Endpoints{AuthURL: "https://idp.test/authorize"}})
	raw := p.AuthCodeURL("state-1", NewVerifier())
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-1" || q.Get("client_id") != "cid" {
		t.Errorf("query = %v", q)
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Errorf("missing PKCE challenge: %v", q)
	}
	if !strings.HasPrefix(raw, "https://idp.test/authorize?") {
		t.Errorf("url = %s", raw)
	}
}

func TestFromConfig(t *testing.T) {
	reg := FromConfig(&config.Config{OAuthRedirectBaseURL: "http://api/", GoogleClientID: "g"})
	if _, ok := reg.Get("google-oauth2"); !ok {
		t.Error("google should be registered")
	}
	if _, ok := reg.Get("azuread-oauth2"); ok {
		t.Error("azure without client id should be disabled")
	}
}
