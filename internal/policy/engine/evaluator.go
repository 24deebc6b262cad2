package engine

import "context"

// ScopeInput is the document a scope decision is made over.
type ScopeInput struct {
	Authorized bool
	Tabs       []string
	Companies  []string
	Warehouses []string

	// Requested scope. Empty fields are not checked.
	Tab       string
	Company   string
	Warehouse string
}

// ScopeChecker decides whether a profile may use a tab, optionally narrowed to a company and warehouse.
type ScopeChecker interface {
	Allow(ctx context.Context, in ScopeInput) (bool, error)
}
