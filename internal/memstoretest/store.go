// Package memstoretest is an in-memory implementation of every repository for tests. Production code
// must not import it.
// It enforces the same uniqueness rules as the Postgres schema.
package memstoretest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	accessdomain "command-center/backend/internal/access/domain"
	accessrepo "command-center/backend/internal/access/repository"
	accountdomain "command-center/backend/internal/account/domain"
	accountrepo "command-center/backend/internal/account/repository"
	identitydomain "command-center/backend/internal/identity/domain"
	identityrepo "command-center/backend/internal/identity/repository"
	sessiondomain "command-center/backend/internal/session/domain"
	sessionrepo "command-center/backend/internal/session/repository"
	tokendomain "command-center/backend/internal/token/domain"
	tokenrepo "command-center/backend/internal/token/repository"
)

type grantSet struct {
	companies  map[string]bool
	warehouses map[string]bool
	tabs       map[string]bool
}

type state struct {
	accounts   map[string]accountdomain.Account
	identities map[string]identitydomain.ExternalIdentity
	profiles   map[string]accessdomain.AccessProfile
	grants     map[string]grantSet
	companies  map[string]accessdomain.Company
	warehouses map[string]accessdomain.Warehouse
	tabs       map[string]accessdomain.Tab
	sessions   map[string]sessiondomain.Session
	issued     map[string]tokendomain.IssuedToken
	revoked    map[string]tokendomain.Revocation
}

func newState() state {
	return state{
		accounts:   map[string]accountdomain.Account{},
		identities: map[string]identitydomain.ExternalIdentity{},
		profiles:   map[string]accessdomain.AccessProfile{},
		grants:     map[string]grantSet{},
		companies:  map[string]accessdomain.Company{},
		warehouses: map[string]accessdomain.Warehouse{},
		tabs:       map[string]accessdomain.Tab{},
		sessions:   map[string]sessiondomain.Session{},
		issued:     map[string]tokendomain.IssuedToken{},
		revoked:    map[string]tokendomain.Revocation{},
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	grants := make(map[string]grantSet, len(s.grants))
	for k, g := range s.grants {
		grants[k] = grantSet{companies: copyMap(g.companies), warehouses: copyMap(g.warehouses), tabs: copyMap(g.tabs)}
	}
	return state{
		accounts:   copyMap(s.accounts),
		identities: copyMap(s.identities),
		profiles:   copyMap(s.profiles),
		grants:     grants,
		companies:  copyMap(s.companies),
		warehouses: copyMap(s.warehouses),
		tabs:       copyMap(s.tabs),
		sessions:   copyMap(s.sessions),
		issued:     copyMap(s.issued),
		revoked:    copyMap(s.revoked),
	}
}

// Store holds all rows. Do serializes units of work and restores the previous state when fn fails.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	s    state

	// FailNext, when set, is returned (once) by the next repository call. Used to simulate storage failures.
	FailNext error
}

// New returns an empty Store.
func New() *Store {
	return &Store{s: newState()}
}

func (st *Store) lock() error {
	st.mu.Lock()
	if err := st.FailNext; err != nil {
		st.FailNext = nil
		st.mu.Unlock()
		return err
	}
	return nil
}

// Accounts returns the account repository.
func (st *Store) Accounts() accountrepo.Repository { return accounts{st} }

// Identities returns the external identity repository.
func (st *Store) Identities() identityrepo.Repository { return identities{st} }

// Profiles returns the access profile repository.
func (st *Store) Profiles() accessrepo.Repository { return profiles{st} }

// Catalog returns the catalog repository.
func (st *Store) Catalog() accessrepo.CatalogRepository { return catalog{st} }

// Sessions returns the login session repository.
func (st *Store) Sessions() sessionrepo.Repository { return sessions{st} }

// Tokens returns the token repository.
func (st *Store) Tokens() tokenrepo.Repository { return tokens{st} }

// Repos returns all identity repositories.
func (st *Store) Repos() identityrepo.Repos {
	return identityrepo.Repos{Accounts: st.Accounts(), Identities: st.Identities(), Profiles: st.Profiles(), Sessions: st.Sessions()}
}

// Do implements identityrepo.UnitOfWork.
func (st *Store) Do(ctx context.Context, fn func(ctx context.Context, r identityrepo.Repos) error) error {
	st.txMu.Lock()
	defer st.txMu.Unlock()
	st.mu.Lock()
	snapshot := st.s.clone()
	st.mu.Unlock()
	if err := fn(ctx, st.Repos()); err != nil {
		st.mu.Lock()
		st.s = snapshot
		st.mu.Unlock()
		return err
	}
	return nil
}

// AccountCount returns the number of stored accounts.
func (st *Store) AccountCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.s.accounts)
}

// IdentityCount returns the number of stored external identities.
func (st *Store) IdentityCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.s.identities)
}

// Session returns a copy of the session row, or nil.
func (st *Store) Session(id string) *sessiondomain.Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.s.sessions[id]
	if !ok {
		return nil
	}
	return &s
}

type accounts struct{ st *Store }

func (r accounts) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	a, ok := r.st.s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r accounts) GetByUsername(ctx context.Context, username string) (*accountdomain.Account, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for _, a := range r.st.s.accounts {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, nil
}

func (r accounts) CreateIfAbsent(ctx context.Context, a *accountdomain.Account) (*accountdomain.Account, bool, error) {
	if err := a.Validate(); err != nil {
		return nil, false, err
	}
	if err := r.st.lock(); err != nil {
		return nil, false, err
	}
	defer r.st.mu.Unlock()
	for _, existing := range r.st.s.accounts {
		if existing.Username == a.Username || (a.Email != "" && existing.Email == a.Email) {
			return &existing, false, nil
		}
	}
	r.st.s.accounts[a.ID] = *a
	out := *a
	return &out, true, nil
}

func (r accounts) UpdateProfile(ctx context.Context, id, firstName, lastName string, loginAt time.Time) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	a, ok := r.st.s.accounts[id]
	if !ok {
		return nil
	}
	if firstName != "" {
		a.FirstName = firstName
	}
	if lastName != "" {
		a.LastName = lastName
	}
	a.LastLoginAt = &loginAt
	a.UpdatedAt = loginAt
	r.st.s.accounts[id] = a
	return nil
}

type identities struct{ st *Store }

func (r identities) GetByProviderSubject(ctx context.Context, provider identitydomain.Provider, subject string) (*identitydomain.ExternalIdentity, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for _, i := range r.st.s.identities {
		if i.Provider == provider && i.Subject == subject {
			return &i, nil
		}
	}
	return nil, nil
}

func (r identities) ListByAccount(ctx context.Context, accountID string) ([]*identitydomain.ExternalIdentity, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	var out []*identitydomain.ExternalIdentity
	for _, i := range r.st.s.identities {
		if i.AccountID == accountID {
			i := i
			out = append(out, &i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (r identities) CreateIfAbsent(ctx context.Context, i *identitydomain.ExternalIdentity) (*identitydomain.ExternalIdentity, bool, error) {
	if err := r.st.lock(); err != nil {
		return nil, false, err
	}
	defer r.st.mu.Unlock()
	for _, existing := range r.st.s.identities {
		if existing.Provider == i.Provider && existing.Subject == i.Subject {
			return &existing, false, nil
		}
	}
	r.st.s.identities[i.ID] = *i
	out := *i
	return &out, true, nil
}

func (r identities) UpdateExtraData(ctx context.Context, id string, extra json.RawMessage) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	if i, ok := r.st.s.identities[id]; ok {
		i.ExtraData = extra
		r.st.s.identities[id] = i
	}
	return nil
}

type profiles struct{ st *Store }

func (r profiles) GetByAccount(ctx context.Context, accountID string) (*accessdomain.AccessProfile, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for _, p := range r.st.s.profiles {
		if p.AccountID != "" && p.AccountID == accountID {
			return &p, nil
		}
	}
	return nil, nil
}

func (r profiles) orphan(email string) *accessdomain.AccessProfile {
	var found *accessdomain.AccessProfile
	for _, p := range r.st.s.profiles {
		if p.IsOrphan() && accessdomain.NormalizeEmail(p.Email) == email {
			if found == nil || p.CreatedAt.Before(found.CreatedAt) {
				p := p
				found = &p
			}
		}
	}
	return found
}

func (r profiles) GetOrphanByEmail(ctx context.Context, email string) (*accessdomain.AccessProfile, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	return r.orphan(accessdomain.NormalizeEmail(email)), nil
}

func (r profiles) Create(ctx context.Context, p *accessdomain.AccessProfile) error {
	if err := p.ValidateNew(); err != nil {
		return err
	}
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	for _, existing := range r.st.s.profiles {
		if p.IsOrphan() && existing.IsOrphan() && existing.Email == p.Email {
			return accessdomain.ErrDuplicateOrphanProfile
		}
		if !p.IsOrphan() && existing.AccountID == p.AccountID {
			return accessdomain.ErrProfileExists
		}
	}
	r.st.s.profiles[p.ID] = *p
	return nil
}

func (r profiles) AttachOrphan(ctx context.Context, email, accountID string, at time.Time) (*accessdomain.AccessProfile, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	p := r.orphan(accessdomain.NormalizeEmail(email))
	if p == nil {
		return nil, nil
	}
	for _, existing := range r.st.s.profiles {
		if existing.AccountID == accountID {
			return nil, accessdomain.ErrProfileExists
		}
	}
	p.AccountID = accountID
	p.UpdatedAt = at
	r.st.s.profiles[p.ID] = *p
	return p, nil
}

func (r profiles) SetAuthorized(ctx context.Context, profileID string, authorized bool) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	if p, ok := r.st.s.profiles[profileID]; ok {
		p.IsAuthorized = authorized
		r.st.s.profiles[profileID] = p
	}
	return nil
}

func (r profiles) Grant(ctx context.Context, profileID string, g accessdomain.Grants) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	set, ok := r.st.s.grants[profileID]
	if !ok {
		set = grantSet{companies: map[string]bool{}, warehouses: map[string]bool{}, tabs: map[string]bool{}}
	}
	for _, id := range g.CompanyIDs {
		set.companies[id] = true
	}
	for _, id := range g.WarehouseIDs {
		set.warehouses[id] = true
	}
	for _, id := range g.TabIDs {
		set.tabs[id] = true
	}
	r.st.s.grants[profileID] = set
	return nil
}

func (r profiles) Permissions(ctx context.Context, profileID string) (*accessdomain.Permissions, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	perms := &accessdomain.Permissions{}
	set := r.st.s.grants[profileID]
	for id := range set.companies {
		if c, ok := r.st.s.companies[id]; ok {
			perms.Companies = append(perms.Companies, c)
		}
	}
	for id := range set.warehouses {
		if w, ok := r.st.s.warehouses[id]; ok {
			perms.Warehouses = append(perms.Warehouses, w)
		}
	}
	for id := range set.tabs {
		if t, ok := r.st.s.tabs[id]; ok {
			perms.Tabs = append(perms.Tabs, t)
		}
	}
	sort.Slice(perms.Companies, func(a, b int) bool { return perms.Companies[a].Name < perms.Companies[b].Name })
	sort.Slice(perms.Warehouses, func(a, b int) bool { return perms.Warehouses[a].Name < perms.Warehouses[b].Name })
	sort.Slice(perms.Tabs, func(a, b int) bool { return perms.Tabs[a].DisplayName < perms.Tabs[b].DisplayName })
	return perms, nil
}

type catalog struct{ st *Store }

func (r catalog) UpsertCompany(ctx context.Context, c *accessdomain.Company) (*accessdomain.Company, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for _, existing := range r.st.s.companies {
		if existing.Name == c.Name {
			return &existing, nil
		}
	}
	r.st.s.companies[c.ID] = *c
	out := *c
	return &out, nil
}

func (r catalog) UpsertWarehouse(ctx context.Context, w *accessdomain.Warehouse) (*accessdomain.Warehouse, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for _, existing := range r.st.s.warehouses {
		if existing.CompanyID == w.CompanyID && existing.Name == w.Name {
			return &existing, nil
		}
	}
	r.st.s.warehouses[w.ID] = *w
	out := *w
	return &out, nil
}

func (r catalog) UpsertTab(ctx context.Context, t *accessdomain.Tab) (*accessdomain.Tab, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for id, existing := range r.st.s.tabs {
		if existing.IDName == t.IDName {
			existing.DisplayName = t.DisplayName
			r.st.s.tabs[id] = existing
			return &existing, nil
		}
	}
	r.st.s.tabs[t.ID] = *t
	out := *t
	return &out, nil
}

func (r catalog) GetTabByIDName(ctx context.Context, idName string) (*accessdomain.Tab, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for _, t := range r.st.s.tabs {
		if t.IDName == idName {
			return &t, nil
		}
	}
	return nil, nil
}

type sessions struct{ st *Store }

func (r sessions) GetByID(ctx context.Context, id string) (*sessiondomain.Session, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	s, ok := r.st.s.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r sessions) GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	for _, s := range r.st.s.sessions {
		if s.TokenHash == tokenHash {
			return &s, nil
		}
	}
	return nil, nil
}

func (r sessions) Create(ctx context.Context, s *sessiondomain.Session) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	r.st.s.sessions[s.ID] = *s
	return nil
}

func (r sessions) Revoke(ctx context.Context, id string, at time.Time) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	if s, ok := r.st.s.sessions[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
		r.st.s.sessions[id] = s
	}
	return nil
}

func (r sessions) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	if s, ok := r.st.s.sessions[id]; ok {
		s.LastSeenAt = at
		r.st.s.sessions[id] = s
	}
	return nil
}

func (r sessions) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := r.st.lock(); err != nil {
		return 0, err
	}
	defer r.st.mu.Unlock()
	var n int64
	for id, s := range r.st.s.sessions {
		if s.ExpiresAt.Before(before) {
			delete(r.st.s.sessions, id)
			n++
		}
	}
	return n, nil
}

type tokens struct{ st *Store }

func (r tokens) RecordIssued(ctx context.Context, ts ...*tokendomain.IssuedToken) error {
	if err := r.st.lock(); err != nil {
		return err
	}
	defer r.st.mu.Unlock()
	for _, t := range ts {
		r.st.s.issued[t.JTI] = *t
	}
	return nil
}

func (r tokens) Revoke(ctx context.Context, rev *tokendomain.Revocation) (bool, error) {
	if err := r.st.lock(); err != nil {
		return false, err
	}
	defer r.st.mu.Unlock()
	if _, ok := r.st.s.revoked[rev.JTI]; ok {
		return false, nil
	}
	r.st.s.revoked[rev.JTI] = *rev
	return true, nil
}

func (r tokens) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := r.st.lock(); err != nil {
		return false, err
	}
	defer r.st.mu.Unlock()
	_, ok := r.st.s.revoked[jti]
	return ok, nil
}

func (r tokens) revokeWhere(match func(tokendomain.IssuedToken) bool, reason string, at time.Time) []*tokendomain.Revocation {
	var out []*tokendomain.Revocation
	for _, t := range r.st.s.issued {
		if !match(t) || !t.ExpiresAt.After(at) {
			continue
		}
		if _, ok := r.st.s.revoked[t.JTI]; ok {
			continue
		}
		rev := tokendomain.Revocation{JTI: t.JTI, AccountID: t.AccountID, Reason: reason, RevokedAt: at, ExpiresAt: t.ExpiresAt}
		r.st.s.revoked[t.JTI] = rev
		out = append(out, &rev)
	}
	return out
}

func (r tokens) RevokeBySession(ctx context.Context, sessionID, reason string, at time.Time) ([]*tokendomain.Revocation, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	return r.revokeWhere(func(t tokendomain.IssuedToken) bool { return t.SessionID == sessionID }, reason, at), nil
}

func (r tokens) RevokeRecentByAccount(ctx context.Context, accountID string, since time.Time, reason string, at time.Time) ([]*tokendomain.Revocation, error) {
	if err := r.st.lock(); err != nil {
		return nil, err
	}
	defer r.st.mu.Unlock()
	return r.revokeWhere(func(t tokendomain.IssuedToken) bool {
		return t.AccountID == accountID && !t.IssuedAt.Before(since)
	}, reason, at), nil
}

func (r tokens) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	if err := r.st.lock(); err != nil {
		return 0, err
	}
	defer r.st.mu.Unlock()
	var n int64
	for jti, t := range r.st.s.issued {
		if t.ExpiresAt.Before(before) {
			delete(r.st.s.issued, jti)
			n++
		}
	}
	for jti, rev := range r.st.s.revoked {
		if rev.ExpiresAt.Before(before) {
			delete(r.st.s.revoked, jti)
			n++
		}
	}
	return n, nil
}
