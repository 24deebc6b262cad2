package domain

import (
	"errors"
	"strings"
	"time"
)

// Account is a local login identity. Access rights live on its AccessProfile, not here.
type Account struct {
	ID          string
	Username    string
	Email       string // normalized; empty when the provider did not supply one
	FirstName   string
	LastName    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

// NormalizeEmail lower-cases and trims an email. All uniqueness checks and persistence use the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DisplayName returns "First Last", falling back to the username.
func (a *Account) DisplayName() string {
	name := strings.TrimSpace(a.FirstName + " " + a.LastName)
	if name == "" {
		return a.Username
	}
	return name
}

// Validate validates the account for persistence. Returns an error describing the first validation failure.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(a.Username) == "" {
		return errors.New("username is required")
	}
	if a.Email != NormalizeEmail(a.Email) {
		return errors.New("email must be normalized")
	}
	return nil
}
