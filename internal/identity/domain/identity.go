package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ExternalIdentity links a provider subject to a local account. (Provider, Subject) is unique.
type ExternalIdentity struct {
	ID        string
	AccountID string
	Provider  Provider
	Subject   string
	ExtraData json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Provider names an external identity provider. Values match the provider path segment.
type Provider string

const (
	ProviderMicrosoft Provider = "azuread-oauth2"
	ProviderGoogle    Provider = "google-oauth2"
)

// Known reports whether p is a supported provider.
func (p Provider) Known() bool {
	return p == ProviderMicrosoft || p == ProviderGoogle
}

// Claims are the profile attributes a provider returned for the subject.
type Claims struct {
	Email      string `json:"email,omitempty"`
	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	UPN        string `json:"upn,omitempty"`
	JobTitle   string `json:"job_title,omitempty"`
}

// Assertion is a verified identity statement from a provider.
type Assertion struct {
	Provider Provider
	Subject  string
	Claims   Claims
}

// ContactEmail returns the email claim, falling back to the UPN when it looks like an address.
func (a Assertion) ContactEmail() string {
	if e := strings.TrimSpace(a.Claims.Email); e != "" {
		return e
	}
	if strings.Contains(a.Claims.UPN, "@") {
		return strings.TrimSpace(a.Claims.UPN)
	}
	return ""
}

// Names returns first and last name, splitting Name when the given/family claims are absent.
func (a Assertion) Names() (first, last string) {
	first, last = strings.TrimSpace(a.Claims.GivenName), strings.TrimSpace(a.Claims.FamilyName)
	if first != "" || last != "" {
		return first, last
	}
	parts := strings.Fields(a.Claims.Name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
