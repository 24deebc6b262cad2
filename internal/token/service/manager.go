package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"command-center/backend/internal/ids"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/obs"
	"command-center/backend/internal/security"
	sessiondomain "command-center/backend/internal/session/domain"
	"command-center/backend/internal/token/cache"
	"command-center/backend/internal/token/domain"
	"command-center/backend/internal/token/repository"
)

var tracer = otel.Tracer("command-center/token")

// Manager issues, validates, rotates and revokes bearer tokens.
//
// Revocation is eventually-immediate: a token is rejected from the moment its revocation row
// commits. Requests validating the same token before that commit may still pass.
type Manager struct {
	codec        *security.Codec
	repo         repository.Repository
	cache        cache.RevocationCache
	accessTTL    time.Duration
	refreshTTL   time.Duration
	recentWindow time.Duration
	sessions     SessionLookup
	now          func() time.Time
}

// SessionLookup loads the login session a refresh token is bound to.
type SessionLookup interface {
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache adds a write-through revocation cache in front of the repository.
func WithCache(c cache.RevocationCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithSessions makes Rotate refuse refresh tokens whose login session is revoked, expired or gone.
func WithSessions(s SessionLookup) Option {
	return func(m *Manager) { m.sessions = s }
}

// WithClock overrides the clock; used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager. Lifetimes are policy: access and refresh are configured independently.
func NewManager(codec *security.Codec, repo repository.Repository, accessTTL, refreshTTL, recentWindow time.Duration, opts ...Option) *Manager {
	m := &Manager{
		codec:        codec,
		repo:         repo,
		accessTTL:    accessTTL,
		refreshTTL:   refreshTTL,
		recentWindow: recentWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AccessTTL returns the access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// Issue signs a fresh access/refresh pair for sub and records both jtis.
func (m *Manager) Issue(ctx context.Context, sub domain.Subject) (*domain.Pair, error) {
	ctx, span := tracer.Start(ctx, "token.Issue")
	defer span.End()
	if sub.AccountID == "" {
		return nil, errors.New("issue: account id is required")
	}

	now := m.now()
	pair := &domain.Pair{
		AccessJTI:        ids.NewJTI(now),
		RefreshJTI:       ids.NewJTI(now),
		AccessExpiresAt:  now.Add(m.accessTTL),
		RefreshExpiresAt: now.Add(m.refreshTTL),
	}
	var err error
	if pair.Access, err = m.sign(sub, pair.AccessJTI, domain.KindAccess, now, pair.AccessExpiresAt); err != nil {
		return nil, fmt.Errorf("sign access: %w", err)
	}
	if pair.Refresh, err = m.sign(sub, pair.RefreshJTI, domain.KindRefresh, now, pair.RefreshExpiresAt); err != nil {
		return nil, fmt.Errorf("sign refresh: %w", err)
	}
	err = m.repo.RecordIssued(ctx,
		&domain.IssuedToken{JTI: pair.AccessJTI, AccountID: sub.AccountID, SessionID: sub.SessionID, Kind: domain.KindAccess, IssuedAt: now, ExpiresAt: pair.AccessExpiresAt},
		&domain.IssuedToken{JTI: pair.RefreshJTI, AccountID: sub.AccountID, SessionID: sub.SessionID, Kind: domain.KindRefresh, IssuedAt: now, ExpiresAt: pair.RefreshExpiresAt},
	)
	if err != nil {
		return nil, fmt.Errorf("record issued: %w", err)
	}
	obs.TokensIssued.WithLabelValues(string(domain.KindAccess)).Inc()
	obs.TokensIssued.WithLabelValues(string(domain.KindRefresh)).Inc()
	return pair, nil
}

func (m *Manager) sign(sub domain.Subject, jti string, kind domain.Kind, now, exp time.Time) (string, error) {
	return m.codec.Sign(&security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TokenType: string(kind),
		SessionID: sub.SessionID,
		Email:     sub.Email,
		Name:      sub.Name,
	})
}

func toClaims(c *security.Claims) *domain.Claims {
	out := &domain.Claims{
		AccountID: c.Subject,
		JTI:       c.ID,
		Kind:      domain.Kind(c.TokenType),
		SessionID: c.SessionID,
		Email:     c.Email,
		Name:      c.Name,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

func reject(reason string) error {
	obs.TokenRejections.WithLabelValues(reason).Inc()
	return domain.Invalid(reason)
}

// Validate checks raw in a fixed order: signature and structure, kind, expiry, revocation.
// The first failing check decides the rejection; every rejection satisfies errors.Is(err, domain.ErrTokenInvalid).
// Other errors are infrastructure failures while consulting the revocation set.
func (m *Manager) Validate(ctx context.Context, raw string, kind domain.Kind) (*domain.Claims, error) {
	ctx, span := tracer.Start(ctx, "token.Validate")
	defer span.End()

	parsed, err := m.codec.Parse(raw)
	if err != nil {
		return nil, reject(domain.ReasonMalformed)
	}
	claims := toClaims(parsed)
	if claims.Kind != kind {
		return nil, reject(domain.ReasonWrongKind)
	}
	if !m.now().Before(claims.ExpiresAt) {
		return nil, reject(domain.ReasonExpired)
	}
	revoked, err := m.isRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, reject(domain.ReasonRevoked)
	}
	span.SetAttributes(attribute.String("token.kind", string(kind)))
	return claims, nil
}

func (m *Manager) isRevoked(ctx context.Context, jti string) (bool, error) {
	if m.cache != nil {
		hit, err := m.cache.IsRevoked(ctx, jti)
		if err != nil {
			logs.Logger.WithError(err).Warn("revocation cache lookup failed; using database")
		} else if hit {
			return true, nil
		}
	}
	return m.repo.IsRevoked(ctx, jti)
}

// Rotate consumes a refresh token and returns a fresh pair bound to the same session.
// When the same refresh token is presented concurrently, only the caller whose revocation
// insert lands first succeeds; the others get ErrTokenInvalid.
func (m *Manager) Rotate(ctx context.Context, raw string) (*domain.Pair, error) {
	ctx, span := tracer.Start(ctx, "token.Rotate")
	defer span.End()

	claims, err := m.Validate(ctx, raw, domain.KindRefresh)
	if err != nil {
		return nil, err
	}
	if m.sessions != nil && claims.SessionID != "" {
		sess, err := m.sessions.GetByID(ctx, claims.SessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if !sess.Active(m.now()) {
			return nil, reject(domain.ReasonRevoked)
		}
	}
	won, err := m.revoke(ctx, claims, domain.RevokedRotated)
	if err != nil {
		return nil, fmt.Errorf("revoke consumed refresh: %w", err)
	}
	if !won {
		return nil, reject(domain.ReasonRevoked)
	}
	return m.Issue(ctx, domain.Subject{
		AccountID: claims.AccountID,
		SessionID: claims.SessionID,
		Email:     claims.Email,
		Name:      claims.Name,
	})
}

// Revoke adds the jti of raw to the revocation set. Expired tokens may be revoked; revoking twice is not an error.
// It reports whether this call newly revoked the token.
func (m *Manager) Revoke(ctx context.Context, raw, reason string) (bool, error) {
	parsed, err := m.codec.Parse(raw)
	if err != nil {
		return false, domain.Invalid(domain.ReasonMalformed)
	}
	return m.revoke(ctx, toClaims(parsed), reason)
}

// RevokeClaims revokes an already validated token.
func (m *Manager) RevokeClaims(ctx context.Context, claims *domain.Claims, reason string) (bool, error) {
	return m.revoke(ctx, claims, reason)
}

func (m *Manager) revoke(ctx context.Context, claims *domain.Claims, reason string) (bool, error) {
	now := m.now()
	won, err := m.repo.Revoke(ctx, &domain.Revocation{
		JTI:       claims.JTI,
		AccountID: claims.AccountID,
		Reason:    reason,
		RevokedAt: now,
		ExpiresAt: claims.ExpiresAt,
	})
	if err != nil {
		return false, err
	}
	if won {
		obs.TokensRevoked.WithLabelValues(reason).Inc()
		m.markCached(ctx, claims.JTI, claims.ExpiresAt.Sub(now))
	}
	return won, nil
}

func (m *Manager) markCached(ctx context.Context, jti string, ttl time.Duration) {
	if m.cache == nil {
		return
	}
	if err := m.cache.MarkRevoked(ctx, jti, ttl); err != nil {
		logs.Logger.WithError(err).WithField("jti", jti).Warn("revocation cache write failed")
	}
}

func (m *Manager) markAll(ctx context.Context, revs []*domain.Revocation, reason string) int {
	now := m.now()
	for _, r := range revs {
		m.markCached(ctx, r.JTI, r.ExpiresAt.Sub(now))
	}
	if len(revs) > 0 {
		obs.TokensRevoked.WithLabelValues(reason).Add(float64(len(revs)))
	}
	return len(revs)
}

// RevokeSession revokes every outstanding token issued under the login session.
func (m *Manager) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}
	revs, err := m.repo.RevokeBySession(ctx, sessionID, domain.RevokedSession, m.now())
	if err != nil {
		return 0, err
	}
	return m.markAll(ctx, revs, domain.RevokedSession), nil
}

// RevokeRecent revokes the account's outstanding tokens issued within the recent window.
// Older tokens, which may belong to unrelated logins, are left alone.
func (m *Manager) RevokeRecent(ctx context.Context, accountID string) (int, error) {
	now := m.now()
	revs, err := m.repo.RevokeRecentByAccount(ctx, accountID, now.Add(-m.recentWindow), domain.RevokedRecent, now)
	if err != nil {
		return 0, err
	}
	return m.markAll(ctx, revs, domain.RevokedRecent), nil
}

// Prune deletes bookkeeping for tokens that expired before now.
func (m *Manager) Prune(ctx context.Context) (int64, error) {
	return m.repo.PruneExpired(ctx, m.now())
}
