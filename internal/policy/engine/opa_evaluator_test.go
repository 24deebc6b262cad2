package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newDefaultEvaluator(t *testing.T) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), DefaultPolicy)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	if err := newDefaultEvaluator(t).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_Allow_DefaultPolicy(t *testing.T) {
	granted := ScopeInput{
		Authorized: true,
		Tabs:       []string{"ceo_view", "sales"},
		Companies:  []string{"c1"},
		Warehouses: []string{"w1"},
	}
	tests := []struct {
		name string
		mod  func(in ScopeInput) ScopeInput
		want bool
	}{
		{"granted tab", func(in ScopeInput) ScopeInput { in.Tab = "ceo_view"; return in }, true},
		{"granted tab company warehouse", func(in ScopeInput) ScopeInput {
			in.Tab, in.Company, in.Warehouse = "sales", "c1", "w1"
			return in
		}, true},
		{"no tab requested", func(in ScopeInput) ScopeInput { return in }, false},
		{"company without tab", func(in ScopeInput) ScopeInput { in.Company = "c1"; return in }, false},
		{"missing tab", func(in ScopeInput) ScopeInput { in.Tab = "finance"; return in }, false},
		{"foreign company", func(in ScopeInput) ScopeInput { in.Tab, in.Company = "sales", "c2"; return in }, false},
		{"foreign warehouse", func(in ScopeInput) ScopeInput { in.Tab, in.Warehouse = "sales", "w9"; return in }, false},
		{"not authorized", func(in ScopeInput) ScopeInput { in.Authorized = false; in.Tab = "sales"; return in }, false},
		{"no grants", func(ScopeInput) ScopeInput { return ScopeInput{Authorized: true, Tab: "sales"} }, false},
	}
	e := newDefaultEvaluator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Allow(context.Background(), tt.mod(granted))
			if err != nil {
				t.Fatalf("Allow: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allow = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package dashboard.access\nallow if {"); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestOPAEvaluator_UndefinedAllowDenies(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "package dashboard.access\n\nallow if input.never\n")
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, err := e.Allow(context.Background(), ScopeInput{Authorized: true})
	if err != nil || got {
		t.Errorf("Allow = %v, %v; want false, nil", got, err)
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil || p != DefaultPolicy {
		t.Fatalf("LoadPolicy(\"\") = %q, %v", p, err)
	}

	path := filepath.Join(t.TempDir(), "custom.rego")
	custom := "package dashboard.access\n\nallow := true\n"
	if err := os.WriteFile(path, []byte(custom), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicy(path)
	if err != nil || p != custom {
		t.Fatalf("LoadPolicy(file) = %q, %v", p, err)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.rego")); err == nil {
		t.Error("expected error for missing file")
	}
}
