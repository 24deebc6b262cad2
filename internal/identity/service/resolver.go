package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	accessdomain "command-center/backend/internal/access/domain"
	accessservice "command-center/backend/internal/access/service"
	accountdomain "command-center/backend/internal/account/domain"
	"command-center/backend/internal/identity/domain"
	"command-center/backend/internal/identity/repository"
	"command-center/backend/internal/logs"
	"command-center/backend/internal/obs"
	"command-center/backend/internal/security"
	sessiondomain "command-center/backend/internal/session/domain"
)

// ErrIdentityAssertionInvalid is returned for an assertion with an unknown provider or a blank subject.
var ErrIdentityAssertionInvalid = errors.New("identity assertion is invalid")

// errLostRace rolls back a unit of work that created an account but lost the identity insert to a concurrent login.
var errLostRace = errors.New("lost identity insert race")

const maxAttempts = 3

var tracer = otel.Tracer("command-center/identity")

// Resolution outcomes, used as metric labels.
const (
	OutcomeExisting = "existing"
	OutcomeCreated  = "created"
	OutcomeSwitched = "switched"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Client describes the caller of a login; stored on new sessions.
type Client struct {
	IP        string
	UserAgent string
}

// ResolvedIdentity is the outcome of Resolve.
type ResolvedIdentity struct {
	Account  *accountdomain.Account
	Identity *domain.ExternalIdentity
	// Profile is nil while the account is pending authorization.
	Profile *accessdomain.AccessProfile
	Session *sessiondomain.Session
	// SessionToken is the raw cookie secret for Session.
	SessionToken string
	Created      bool
	// Switched is set when the active cookie session belonged to another account and was revoked.
	Switched          bool
	PreviousAccountID string
}

// Outcome returns the metric label for r.
func (r *ResolvedIdentity) Outcome() string {
	switch {
	case r.Switched:
		return OutcomeSwitched
	case r.Created:
		return OutcomeCreated
	default:
		return OutcomeExisting
	}
}

// Resolver maps a provider assertion to a local account and login session.
type Resolver struct {
	uow        repository.UnitOfWork
	linker     *accessservice.Linker
	sessionTTL time.Duration
	now        func() time.Time
}

// NewResolver returns a Resolver. Every write of one resolution goes through a single unit of work.
func NewResolver(uow repository.UnitOfWork, linker *accessservice.Linker, sessionTTL time.Duration) *Resolver {
	return &Resolver{
		uow:        uow,
		linker:     linker,
		sessionTTL: sessionTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock. Tests only.
func (s *Resolver) SetClock(now func() time.Time) { s.now = now }

// Resolve finds or creates the account behind a, then reconciles the caller's active cookie session
// (identified by its raw token, possibly empty) with it.
//
// An existing (provider, subject) link always wins over whatever account is locally active. If the
// active session belongs to another account only that session is revoked and Switched is set; no other
// session or token of the previous account is touched.
func (s *Resolver) Resolve(ctx context.Context, a domain.Assertion, activeSessionToken string, client Client) (*ResolvedIdentity, error) {
	ctx, span := tracer.Start(ctx, "identity.Resolve")
	defer span.End()

	a.Subject = strings.TrimSpace(a.Subject)
	if !a.Provider.Known() || a.Subject == "" {
		obs.IdentityResolutions.WithLabelValues(OutcomeInvalid).Inc()
		return nil, ErrIdentityAssertionInvalid
	}
	span.SetAttributes(attribute.String("identity.provider", string(a.Provider)))

	var res *ResolvedIdentity
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.uow.Do(ctx, func(ctx context.Context, r repository.Repos) error {
			var innerErr error
			res, innerErr = s.resolve(ctx, r, a, activeSessionToken, client)
			return innerErr
		})
		if !errors.Is(err, errLostRace) {
			break
		}
	}
	if err != nil {
		obs.IdentityResolutions.WithLabelValues(OutcomeError).Inc()
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	obs.IdentityResolutions.WithLabelValues(res.Outcome()).Inc()
	if res.Switched {
		logs.Logger.WithFields(logrus.Fields{
			"account_id":          res.Account.ID,
			"previous_account_id": res.PreviousAccountID,
			"provider":            string(a.Provider),
		}).Info("active session belonged to another account; switched")
	}
	return res, nil
}

func (s *Resolver) resolve(ctx context.Context, r repository.Repos, a domain.Assertion, activeSessionToken string, client Client) (*ResolvedIdentity, error) {
	now := s.now()
	extra, err := json.Marshal(a.Claims)
	if err != nil {
		return nil, err
	}
	first, last := a.Names()
	res := &ResolvedIdentity{}

	ident, err := r.Identities.GetByProviderSubject(ctx, a.Provider, a.Subject)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if ident == nil {
		if ident, err = s.createIdentity(ctx, r, a, extra, res, now); err != nil {
			return nil, err
		}
	} else if err := r.Identities.UpdateExtraData(ctx, ident.ID, extra); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	res.Identity = ident

	if err := r.Accounts.UpdateProfile(ctx, ident.AccountID, first, last, now); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if res.Account, err = r.Accounts.GetByID(ctx, ident.AccountID); err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if res.Account == nil {
		return nil, fmt.Errorf("identity %s points at missing account %s", ident.ID, ident.AccountID)
	}
	if res.Profile, err = r.Profiles.GetByAccount(ctx, res.Account.ID); err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if err := s.reconcileSession(ctx, r, res, a.Provider, activeSessionToken, client, now); err != nil {
		return nil, err
	}
	return res, nil
}

// createIdentity creates (or adopts) the account and links the new external identity to it.
func (s *Resolver) createIdentity(ctx context.Context, r repository.Repos, a domain.Assertion, extra []byte, res *ResolvedIdentity, now time.Time) (*domain.ExternalIdentity, error) {
	email := accountdomain.NormalizeEmail(a.ContactEmail())
	username := email
	if username == "" {
		username = string(a.Provider) + ":" + a.Subject
	}
	first, last := a.Names()
	acc, created, err := r.Accounts.CreateIfAbsent(ctx, &accountdomain.Account{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		FirstName: first,
		LastName:  last,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if created {
		res.Created = true
		if _, err := s.linker.Link(ctx, r.Profiles, acc); err != nil {
			return nil, fmt.Errorf("link profile: %w", err)
		}
	}

	ident, inserted, err := r.Identities.CreateIfAbsent(ctx, &domain.ExternalIdentity{
		ID:        uuid.New().String(),
		AccountID: acc.ID,
		Provider:  a.Provider,
		Subject:   a.Subject,
		ExtraData: extra,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	if !inserted && ident.AccountID != acc.ID && created {
		// A concurrent login linked this subject to a different account first.
		return nil, errLostRace
	}
	if !inserted {
		res.Created = false
	}
	return ident, nil
}

func (s *Resolver) reconcileSession(ctx context.Context, r repository.Repos, res *ResolvedIdentity, provider domain.Provider, activeSessionToken string, client Client, now time.Time) error {
	if activeSessionToken != "" {
		active, err := r.Sessions.GetByTokenHash(ctx, security.HashToken(activeSessionToken))
		if err != nil {
			return fmt.Errorf("load active session: %w", err)
		}
		if active.Active(now) {
			if active.AccountID == res.Account.ID {
				if err := r.Sessions.UpdateLastSeen(ctx, active.ID, now); err != nil {
					return fmt.Errorf("touch session: %w", err)
				}
				active.LastSeenAt = now
				res.Session = active
				res.SessionToken = activeSessionToken
				return nil
			}
			if err := r.Sessions.Revoke(ctx, active.ID, now); err != nil {
				return fmt.Errorf("revoke previous session: %w", err)
			}
			res.Switched = true
			res.PreviousAccountID = active.AccountID
		}
	}

	sess, token, err := sessiondomain.New(res.Account.ID, string(provider), client.IP, client.UserAgent, s.sessionTTL, now)
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	if err := r.Sessions.Create(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	res.Session = sess
	res.SessionToken = token
	return nil
}
