package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrProfileNotFound means the account has no access profile yet (pending authorization).
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNotAuthorized means the profile exists but is_authorized is false.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrDuplicateOrphanProfile is returned when an unlinked profile already exists for the email, in any casing.
	ErrDuplicateOrphanProfile = errors.New("an unlinked access profile already exists for this email")
	// ErrProfileExists is returned when the account already owns a profile.
	ErrProfileExists = errors.New("account already has an access profile")
	// ErrInvalidProfile is returned when a new profile does not name exactly one of account or email.
	ErrInvalidProfile = errors.New("access profile must have exactly one of account or email")
)

// AccessProfile carries the authorization state for one account. A profile with no AccountID
// is an orphan, pre-provisioned by email and waiting for its first login.
type AccessProfile struct {
	ID           string
	AccountID    string // empty for orphan profiles
	Email        string // normalized; kept after linking
	IsAuthorized bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsOrphan reports whether the profile is not yet bound to an account.
func (p *AccessProfile) IsOrphan() bool { return p.AccountID == "" }

// NormalizeEmail lower-cases and trims an email before any uniqueness check or persistence.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewOrphanProfile builds a pre-provisioned profile keyed by email.
func NewOrphanProfile(id, email string, authorized bool, now time.Time) (*AccessProfile, error) {
	p := &AccessProfile{ID: id, Email: NormalizeEmail(email), IsAuthorized: authorized, CreatedAt: now, UpdatedAt: now}
	if err := p.ValidateNew(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewAccountProfile builds a profile bound directly to an account.
func NewAccountProfile(id, accountID string, authorized bool, now time.Time) (*AccessProfile, error) {
	p := &AccessProfile{ID: id, AccountID: accountID, IsAuthorized: authorized, CreatedAt: now, UpdatedAt: now}
	if err := p.ValidateNew(); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateNew enforces the creation rule: exactly one of AccountID or Email is set, and Email is normalized.
func (p *AccessProfile) ValidateNew() error {
	if p.ID == "" {
		return errors.New("id is required")
	}
	if (p.AccountID == "") == (p.Email == "") {
		return ErrInvalidProfile
	}
	if p.Email != NormalizeEmail(p.Email) {
		return errors.New("email must be normalized")
	}
	return nil
}

// Authorize maps the profile state to the gate outcome: ErrProfileNotFound for nil, ErrNotAuthorized when not authorized.
func Authorize(p *AccessProfile) error {
	if p == nil {
		return ErrProfileNotFound
	}
	if !p.IsAuthorized {
		return ErrNotAuthorized
	}
	return nil
}
