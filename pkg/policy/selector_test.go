package policy

import (
	"context"
	"sync"
	"testing"
)

func TestSelectorExactlyOnce(t *testing.T) {
	c := seedCatalog(t)
	s := NewSelector(c, silentLogger())

	first := names(s.Select(Criteria{Vendors: []string{"aws"}}, ""))
	if !equalNames(first, []string{"aws-s3-public-read", "aws-ec2-imdsv2"}) {
		t.Fatalf("first Select() = %v", first)
	}

	second := s.Select(Criteria{Vendors: []string{"aws"}}, "")
	if second == nil || len(second) != 0 {
		t.Fatalf("second Select() = %v, want empty non-nil slice", second)
	}

	// Overlapping criteria only yield what is left.
	rest := names(s.Select(Criteria{Frameworks: []string{"pcidss"}}, ""))
	if !equalNames(rest, []string{"azure-storage-https"}) {
		t.Errorf("overlapping Select() = %v", rest)
	}
}

func TestSelectorReset(t *testing.T) {
	c := seedCatalog(t)
	s := NewSelector(c, silentLogger())

	criteria := Criteria{Topics: []string{"storage", "compute"}}
	before := names(s.Select(criteria, ""))
	s.Reset()
	after := names(s.Select(criteria, ""))

	if !equalNames(before, after) {
		t.Errorf("after Reset() Select() = %v, want %v", after, before)
	}
	if c.Len() != 4 {
		t.Errorf("Reset() changed catalog size to %d", c.Len())
	}
}

func TestSelectorEnforcementOverride(t *testing.T) {
	c := NewCatalog(silentLogger())
	c.MustRegister(newTestPolicy("p1"), Classification{Vendors: []string{"aws"}})

	p2 := newTestPolicy("p2")
	p2.EnforcementLevel = EnforcementMandatory
	c.MustRegister(p2, Classification{Vendors: []string{"aws"}})

	s := NewSelector(c, silentLogger())

	for _, p := range s.Select(Criteria{}, EnforcementDisabled) {
		if p.EnforcementLevel != EnforcementDisabled {
			t.Errorf("%s level = %q, want disabled", p.Name, p.EnforcementLevel)
		}
	}

	s.Reset()
	got := s.Select(Criteria{}, "")
	if got[0].EnforcementLevel != EnforcementAdvisory || got[1].EnforcementLevel != EnforcementMandatory {
		t.Errorf("authored levels not restored: %q, %q", got[0].EnforcementLevel, got[1].EnforcementLevel)
	}

	stored, _ := c.GetByName("p1")
	if stored.EnforcementLevel != EnforcementAdvisory {
		t.Errorf("catalog record mutated: %q", stored.EnforcementLevel)
	}
}

func TestSelectorIgnoresUnknownOverride(t *testing.T) {
	c := NewCatalog(silentLogger())
	p := newTestPolicy("p")
	p.EnforcementLevel = EnforcementMandatory
	c.MustRegister(p, Classification{})

	s := NewSelector(c, silentLogger())
	got := s.Select(Criteria{}, "blocking")
	if len(got) != 1 || got[0].EnforcementLevel != EnforcementMandatory {
		t.Errorf("unknown override applied: %+v", got)
	}
}

func TestSelectorPreservesValidate(t *testing.T) {
	c := NewCatalog(silentLogger())
	called := false
	p := newTestPolicy("p")
	p.Validate = func(ctx context.Context, r Resource, cfg Config, report ReportFunc) error {
		called = true
		report("violation")
		return nil
	}
	c.MustRegister(p, Classification{})

	s := NewSelector(c, silentLogger())
	got := s.Select(Criteria{}, EnforcementMandatory)

	var reported []string
	if err := got[0].Validate(context.Background(), Resource{}, nil, func(m string) { reported = append(reported, m) }); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !called || len(reported) != 1 {
		t.Errorf("dispensed Validate did not run the registered body")
	}
}

func TestSelectorStats(t *testing.T) {
	c := seedCatalog(t)
	s := NewSelector(c, silentLogger())

	s.Select(Criteria{Vendors: []string{"azure"}}, "")
	s.Select(Criteria{Severities: []string{"critical"}}, "")

	stats := s.Stats()
	if stats.PolicyCount != 4 {
		t.Errorf("PolicyCount = %d, want 4", stats.PolicyCount)
	}
	if stats.RemainingPolicyCount != 2 {
		t.Errorf("RemainingPolicyCount = %d, want 2", stats.RemainingPolicyCount)
	}
	if stats.SelectedPoliciesCount != 2 {
		t.Errorf("SelectedPoliciesCount = %d, want 2", stats.SelectedPoliciesCount)
	}
	if !equalNames(stats.SelectedPolicyNames, []string{"azure-storage-https", "aws-s3-public-read"}) {
		t.Errorf("SelectedPolicyNames = %v", stats.SelectedPolicyNames)
	}

	stats.SelectedPolicyNames[0] = "mutated"
	if s.Stats().SelectedPolicyNames[0] != "azure-storage-https" {
		t.Error("Stats() should return a copy of the audit trail")
	}

	s.Reset()
	stats = s.Stats()
	if stats.RemainingPolicyCount != 4 || stats.SelectedPoliciesCount != 0 || len(stats.SelectedPolicyNames) != 0 {
		t.Errorf("Stats() after Reset() = %+v", stats)
	}
}

func TestSelectorLateRegistration(t *testing.T) {
	c := seedCatalog(t)
	s := NewSelector(c, silentLogger())

	s.Select(Criteria{Vendors: []string{"aws"}}, "")
	c.MustRegister(newTestPolicy("aws-late"), Classification{Vendors: []string{"aws"}})

	got := names(s.Select(Criteria{Vendors: []string{"aws"}}, ""))
	if !equalNames(got, []string{"aws-late"}) {
		t.Errorf("Select() after late registration = %v, want [aws-late]", got)
	}
	if s.Stats().PolicyCount != 5 {
		t.Errorf("PolicyCount = %d, want 5", s.Stats().PolicyCount)
	}
}

func TestSelectorGetByNameIgnoresPool(t *testing.T) {
	c := seedCatalog(t)
	s := NewSelector(c, silentLogger())
	s.Select(Criteria{}, "")

	if _, ok := s.GetByName("aws-ec2-imdsv2"); !ok {
		t.Error("GetByName() should find dispensed policies")
	}
}

func TestSelectorConcurrentSelectDispensesOnce(t *testing.T) {
	c := NewCatalog(silentLogger())
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		c.MustRegister(newTestPolicy(n), Classification{Vendors: []string{"aws"}})
	}
	s := NewSelector(c, silentLogger())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = map[string]int{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, p := range s.Select(Criteria{Vendors: []string{"aws"}}, "") {
				mu.Lock()
				total[p.Name]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(total) != 8 {
		t.Errorf("dispensed %d distinct policies, want 8", len(total))
	}
	for name, n := range total {
		if n != 1 {
			t.Errorf("%s dispensed %d times", name, n)
		}
	}
}

func TestIndependentSelectors(t *testing.T) {
	c := seedCatalog(t)
	a := NewSelector(c, silentLogger())
	b := NewSelector(c, silentLogger())

	if got := a.Select(Criteria{}, ""); len(got) != 4 {
		t.Fatalf("selector a got %d", len(got))
	}
	if got := b.Select(Criteria{}, ""); len(got) != 4 {
		t.Errorf("selector b got %d, want 4: selectors must not share pools", len(got))
	}
}
