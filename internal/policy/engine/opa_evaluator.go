package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.dashboard.access.allow"

// DefaultPolicy grants a request when the profile is authorized, the requested tab is granted and
// any requested company or warehouse is in the profile's grants.
const DefaultPolicy = `package dashboard.access

default allow := false

tab_ok if input.request.tab in input.profile.tabs

company_ok if input.request.company == ""

company_ok if input.request.company in input.profile.companies

warehouse_ok if input.request.warehouse == ""

warehouse_ok if input.request.warehouse in input.profile.warehouses

allow if {
	input.profile.authorized
	tab_ok
	company_ok
	warehouse_ok
}
`

// OPAEvaluator evaluates scope decisions with an in-process Rego query prepared once at startup.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// LoadPolicy returns the Rego source at path, or DefaultPolicy when path is empty.
func LoadPolicy(path string) (string, error) {
	if path == "" {
		return DefaultPolicy, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy %s: %w", path, err)
	}
	return string(b), nil
}

// NewOPAEvaluator compiles policy and prepares the allow query. The policy must define data.dashboard.access.allow.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("dashboard_access.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// Allow evaluates the prepared query. A policy that yields no boolean result denies.
func (e *OPAEvaluator) Allow(ctx context.Context, in ScopeInput) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, _ := rs[0].Expressions[0].Value.(bool)
	return allowed, nil
}

// HealthCheck evaluates the prepared query over a minimal input. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(ScopeInput{})))
	if err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

func buildInput(in ScopeInput) map[string]interface{} {
	return map[string]interface{}{
		"profile": map[string]interface{}{
			"authorized": in.Authorized,
			"tabs":       orEmpty(in.Tabs),
			"companies":  orEmpty(in.Companies),
			"warehouses": orEmpty(in.Warehouses),
		},
		"request": map[string]interface{}{
			"tab":       in.Tab,
			"company":   in.Company,
			"warehouse": in.Warehouse,
		},
	}
}

// orEmpty keeps nil slices from becoming JSON null, which "in" cannot iterate.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
