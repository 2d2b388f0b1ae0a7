package policy

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/pulumi/compliance-policies-sub001/pkg/telemetry"
)

func registerAB(t *testing.T, m *Manager) {
	t.Helper()
	if _, err := m.RegisterPolicy(RegisterArgs{
		Policy:   newTestPolicy("A"),
		Vendors:  []string{"aws"},
		Services: []string{"s3"},
		Severity: "high",
	}); err != nil {
		t.Fatalf("RegisterPolicy(A) error: %v", err)
	}
	if _, err := m.RegisterPolicy(RegisterArgs{
		Policy:   newTestPolicy("B"),
		Vendors:  []string{"aws"},
		Services: []string{"ec2"},
		Severity: "low",
	}); err != nil {
		t.Fatalf("RegisterPolicy(B) error: %v", err)
	}
}

func TestManagerScenario(t *testing.T) {
	m := NewManager(silentLogger())
	registerAB(t, m)

	if got := names(m.SelectPolicies(Criteria{Vendors: []string{"AWS"}}, "")); !equalNames(got, []string{"A", "B"}) {
		t.Fatalf("first selection = %v, want [A B]", got)
	}
	if got := m.SelectPolicies(Criteria{Vendors: []string{"AWS"}}, ""); len(got) != 0 {
		t.Fatalf("second selection = %v, want []", names(got))
	}

	m.ResetSelector()
	if got := names(m.SelectPolicies(Criteria{Services: []string{"s3"}}, "")); !equalNames(got, []string{"A"}) {
		t.Errorf("after reset = %v, want [A]", got)
	}
}

func TestManagerRegisterReturnsPolicy(t *testing.T) {
	m := NewManager(silentLogger())
	p := newTestPolicy("passthrough")
	p.EnforcementLevel = ""

	got, err := m.RegisterPolicy(RegisterArgs{Policy: p})
	if err != nil {
		t.Fatalf("RegisterPolicy() error: %v", err)
	}
	if got.Name != p.Name || got.EnforcementLevel != "" {
		t.Errorf("RegisterPolicy() = %+v, want the argument unchanged", got)
	}
}

func TestManagerDuplicate(t *testing.T) {
	m := NewManager(silentLogger())
	registerAB(t, m)

	_, err := m.RegisterPolicy(RegisterArgs{Policy: newTestPolicy("A"), Vendors: []string{"gcp"}})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("error = %v, want duplicate name", err)
	}
	if got := m.GetSelectionStats().PolicyCount; got != 2 {
		t.Errorf("PolicyCount = %d, want 2", got)
	}
}

func TestManagerGetPolicyByName(t *testing.T) {
	m := NewManager(silentLogger())
	registerAB(t, m)

	if _, ok := m.GetPolicyByName(""); ok {
		t.Error("GetPolicyByName(\"\") should not be found")
	}
	if _, ok := m.GetPolicyByName("missing"); ok {
		t.Error("GetPolicyByName(missing) should not be found")
	}

	m.SelectPolicies(Criteria{}, "")
	if p, ok := m.GetPolicyByName("B"); !ok || p.Name != "B" {
		t.Errorf("GetPolicyByName(B) = %+v, %v", p, ok)
	}
}

func TestManagerOverrideLaw(t *testing.T) {
	m := NewManager(silentLogger())
	registerAB(t, m)

	for _, p := range m.SelectPolicies(Criteria{Vendors: []string{"aws"}}, EnforcementMandatory) {
		if p.EnforcementLevel != EnforcementMandatory {
			t.Errorf("%s level = %q, want mandatory", p.Name, p.EnforcementLevel)
		}
	}

	m.ResetSelector()
	for _, p := range m.SelectPolicies(Criteria{Vendors: []string{"aws"}}, "") {
		if p.EnforcementLevel != EnforcementAdvisory {
			t.Errorf("%s level = %q after reset, want advisory", p.Name, p.EnforcementLevel)
		}
	}
}

func TestManagerMetrics(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	m := NewManager(silentLogger(), WithMetrics(metrics))
	registerAB(t, m)
	_, _ = m.RegisterPolicy(RegisterArgs{Policy: newTestPolicy("A")})
	m.SelectPolicies(Criteria{Services: []string{"s3"}}, EnforcementMandatory)

	count, err := testutil.GatherAndCount(metrics.Registry(),
		"test_policies_registered",
		"test_policy_registration_errors_total",
		"test_selections_total",
		"test_policies_dispensed_total",
		"test_policies_remaining",
	)
	if err != nil {
		t.Fatalf("GatherAndCount() error: %v", err)
	}
	if count != 5 {
		t.Errorf("gathered %d series, want 5", count)
	}
}

func TestManagerIndependentSelector(t *testing.T) {
	m := NewManager(silentLogger())
	registerAB(t, m)
	m.SelectPolicies(Criteria{}, "")

	s := m.NewSelector()
	if got := s.Select(Criteria{}, ""); len(got) != 2 {
		t.Errorf("independent selector got %d policies, want 2", len(got))
	}
	if m.Catalog().Len() != 2 {
		t.Errorf("Catalog().Len() = %d", m.Catalog().Len())
	}
}
