package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	accessdomain "command-center/backend/internal/access/domain"
	accessservice "command-center/backend/internal/access/service"
	"command-center/backend/internal/identity/domain"
	"command-center/backend/internal/memstoretest"
)

var client = Client{IP: "10.0.0.1", UserAgent: "test"}

func newTestResolver(t *testing.T) (*Resolver, *memstoretest.Store) {
	t.Helper()
	store := memstoretest.New()
	return NewResolver(store, accessservice.NewLinker(), 24*time.Hour), store
}

func googleUser(sub, email string) domain.Assertion {
	return domain.Assertion{
		Provider: domain.ProviderGoogle,
		Subject:  sub,
		Claims:   domain.Claims{Email: email, GivenName: "Ann", FamilyName: "Lee"},
	}
}

func TestResolve_NewAccountLinksOrphanProfile(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	orphan, err := accessservice.NewProvisioner(store.Profiles(), store.Catalog()).
		Preprovision(ctx, "A@B.COM", true, accessdomain.Grants{})
	if err != nil {
		t.Fatalf("Preprovision: %v", err)
	}

	res, err := r.Resolve(ctx, googleUser("g-1", "a@b.com"), "", client)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Created || res.Switched {
		t.Errorf("Created=%v Switched=%v", res.Created, res.Switched)
	}
	if res.Account.Username != "a@b.com" || res.Account.Email != "a@b.com" {
		t.Errorf("account = %+v", res.Account)
	}
	if res.Account.FirstName != "Ann" || res.Account.LastLoginAt == nil {
		t.Errorf("names or last login not set: %+v", res.Account)
	}
	if res.Profile == nil || res.Profile.ID != orphan.ID {
		t.Fatalf("profile = %+v, want linked orphan %s", res.Profile, orphan.ID)
	}
	if res.Session == nil || res.SessionToken == "" {
		t.Fatal("a session must be created")
	}
	if res.Session.AccountID != res.Account.ID || res.Session.IPAddress != "10.0.0.1" {
		t.Errorf("session = %+v", res.Session)
	}
}

func TestResolve_ExistingIdentityIsReused(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	first, err := r.Resolve(ctx, googleUser("g-1", "a@b.com"), "", client)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	again := googleUser("g-1", "a@b.com")
	again.Claims.GivenName = "Annie"
	second, err := r.Resolve(ctx, again, "", client)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if second.Created {
		t.Error("second login must not create")
	}
	if second.Account.ID != first.Account.ID {
		t.Errorf("account = %s, want %s", second.Account.ID, first.Account.ID)
	}
	if second.Account.FirstName != "Annie" {
		t.Errorf("names should refresh from claims, got %q", second.Account.FirstName)
	}
	if store.AccountCount() != 1 || store.IdentityCount() != 1 {
		t.Errorf("accounts=%d identities=%d, want 1/1", store.AccountCount(), store.IdentityCount())
	}
}

func TestResolve_NoEmailUsesProviderSubject(t *testing.T) {
	r, _ := newTestResolver(t)
	res, err := r.Resolve(context.Background(), domain.Assertion{Provider: domain.ProviderMicrosoft, Subject: "oid-7"}, "", client)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Account.Username != "azuread-oauth2:oid-7" {
		t.Errorf("username = %q", res.Account.Username)
	}
	if res.Profile != nil {
		t.Errorf("profile = %+v, want pending authorization", res.Profile)
	}
}

func TestResolve_SameEmailAcrossProvidersSharesAccount(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	g, err := r.Resolve(ctx, googleUser("g-1", "a@b.com"), "", client)
	if err != nil {
		t.Fatalf("Resolve google: %v", err)
	}
	m, err := r.Resolve(ctx, domain.Assertion{
		Provider: domain.ProviderMicrosoft, Subject: "oid-1", Claims: domain.Claims{UPN: "A@B.com"},
	}, "", client)
	if err != nil {
		t.Fatalf("Resolve microsoft: %v", err)
	}
	if m.Account.ID != g.Account.ID {
		t.Errorf("accounts differ: %s vs %s", m.Account.ID, g.Account.ID)
	}
	if store.IdentityCount() != 2 {
		t.Errorf("identities = %d, want 2", store.IdentityCount())
	}
}

func TestResolve_InvalidAssertion(t *testing.T) {
	r, store := newTestResolver(t)
	tests := []struct {
		name string
		a    domain.Assertion
	}{
		{"blank subject", domain.Assertion{Provider: domain.ProviderGoogle, Subject: "  "}},
		{"unknown provider", domain.Assertion{Provider: "github", Subject: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.a, "", client)
			if !errors.Is(err, ErrIdentityAssertionInvalid) {
				t.Fatalf("err = %v, want ErrIdentityAssertionInvalid", err)
			}
		})
	}
	if store.AccountCount() != 0 {
		t.Error("invalid assertions must not write")
	}
}

func TestResolve_ReusesOwnActiveSession(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()
	first, _ := r.Resolve(ctx, googleUser("g-1", "a@b.com"), "", client)

	again, err := r.Resolve(ctx, googleUser("g-1", "a@b.com"), first.SessionToken, client)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if again.Switched {
		t.Error("same account must not switch")
	}
	if again.Session.ID != first.Session.ID || again.SessionToken != first.SessionToken {
		t.Errorf("session = %s, want reuse of %s", again.Session.ID, first.Session.ID)
	}
}

func TestResolve_ConflictSwitchesOnlyActiveSession(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	a1, _ := r.Resolve(ctx, googleUser("g-a", "a@b.com"), "", client)
	a2, _ := r.Resolve(ctx, googleUser("g-a", "a@b.com"), "", client) // A's second browser
	b, _ := r.Resolve(ctx, googleUser("g-b", "b@b.com"), "", client)

	got, err := r.Resolve(ctx, googleUser("g-b", "b@b.com"), a1.SessionToken, client)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Account.ID != b.Account.ID {
		t.Fatalf("resolved %s, want B %s", got.Account.ID, b.Account.ID)
	}
	if !got.Switched || got.PreviousAccountID != a1.Account.ID {
		t.Errorf("Switched=%v previous=%q", got.Switched, got.PreviousAccountID)
	}
	if got.Session.ID == a1.Session.ID || got.Session.AccountID != b.Account.ID {
		t.Errorf("expected a fresh session for B, got %+v", got.Session)
	}

	now := time.Now().UTC()
	if store.Session(a1.Session.ID).Active(now) {
		t.Error("A's active session must be revoked")
	}
	if !store.Session(a2.Session.ID).Active(now) {
		t.Error("A's other session must be untouched")
	}
	if !store.Session(b.Session.ID).Active(now) {
		t.Error("B's earlier session must be untouched")
	}
}

func TestResolve_ExpiredActiveSessionIsReplaced(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.SetClock(func() time.Time { return start })
	first, _ := r.Resolve(ctx, googleUser("g-1", "a@b.com"), "", client)

	r.SetClock(func() time.Time { return start.Add(48 * time.Hour) })
	again, err := r.Resolve(ctx, googleUser("g-1", "a@b.com"), first.SessionToken, client)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if again.Switched || again.Session.ID == first.Session.ID {
		t.Errorf("want a fresh session without switch, got switched=%v id=%s", again.Switched, again.Session.ID)
	}
}

func TestResolve_ConcurrentFirstLoginCreatesOneAccount(t *testing.T) {
	r, store := newTestResolver(t)
	ctx := context.Background()
	const n = 10
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve(ctx, googleUser("g-1", "a@b.com"), "", client)
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			ids <- res.Account.ID
		}()
	}
	wg.Wait()
	close(ids)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("accounts differ: %s vs %s", id, first)
		}
	}
	if store.AccountCount() != 1 || store.IdentityCount() != 1 {
		t.Errorf("accounts=%d identities=%d, want 1/1", store.AccountCount(), store.IdentityCount())
	}
}

func TestResolve_StorageFailureRollsBack(t *testing.T) {
	r, store := newTestResolver(t)
	store.FailNext = errors.New("db down")
	_, err := r.Resolve(context.Background(), googleUser("g-1", "a@b.com"), "", client)
	if err == nil || errors.Is(err, ErrIdentityAssertionInvalid) {
		t.Fatalf("err = %v, want wrapped storage error", err)
	}
	if store.AccountCount() != 0 {
		t.Error("nothing should be stored")
	}
}
