package policy

import (
	"sync"

	"github.com/rs/zerolog"
)

// Selector dispenses policies from a Catalog exactly once between resets.
//
// Each Select call filters the remaining pool, removes every match from it and
// returns detached copies. A Selector is safe for concurrent use, but the
// exactly-once guarantee is per Selector: independent callers assembling
// independent packs should each use their own.
type Selector struct {
	mu        sync.Mutex
	catalog   *Catalog
	pool      []*record
	seen      int
	dispensed []string
	logger    zerolog.Logger
}

// NewSelector creates a Selector whose pool is a snapshot of catalog.
func NewSelector(catalog *Catalog, logger zerolog.Logger) *Selector {
	s := &Selector{
		catalog: catalog,
		logger:  logger.With().Str("component", "policy-selector").Logger(),
	}
	s.resetLocked()
	return s
}

// Select dispenses every remaining policy matching criteria, in registration
// order. A recognised override replaces the enforcement level on the returned
// copies; an empty or unrecognised override leaves each policy at its
// authored level. The catalog's records are never modified.
func (s *Selector) Select(criteria Criteria, override EnforcementLevel) []Policy {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked()

	if override != "" && !override.Valid() {
		s.logger.Warn().
			Str("enforcement_level", string(override)).
			Msg("Ignoring unrecognised enforcement level override")
	}

	s.catalog.mu.RLock()
	matched := match(s.pool, s.catalog.lookup, criteria)
	s.catalog.mu.RUnlock()

	if len(matched) == 0 {
		s.logger.Debug().
			Int("remaining", len(s.pool)).
			Msg("Selection matched no remaining policies")
		return []Policy{}
	}

	taken := make(map[*record]struct{}, len(matched))
	out := make([]Policy, len(matched))
	for i, rec := range matched {
		taken[rec] = struct{}{}
		out[i] = detach(rec.policy).WithEnforcementLevel(override)
		s.dispensed = append(s.dispensed, rec.policy.Name)
	}

	remaining := make([]*record, 0, len(s.pool)-len(matched))
	for _, rec := range s.pool {
		if _, ok := taken[rec]; !ok {
			remaining = append(remaining, rec)
		}
	}
	s.pool = remaining

	s.logger.Debug().
		Int("selected", len(out)).
		Int("remaining", len(s.pool)).
		Str("override", string(override)).
		Msg("Policies selected")

	return out
}

// Reset refills the pool with every registered policy and clears the audit
// trail. The catalog is not affected.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.logger.Debug().Int("remaining", len(s.pool)).Msg("Selector reset")
}

// GetByName looks a policy up in the catalog regardless of pool state.
func (s *Selector) GetByName(name string) (Policy, bool) {
	return s.catalog.GetByName(name)
}

// Stats reports catalog size, pool size and the audit trail.
func (s *Selector) Stats() SelectionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncLocked()

	return SelectionStats{
		PolicyCount:           s.catalog.Len(),
		RemainingPolicyCount:  len(s.pool),
		SelectedPoliciesCount: len(s.dispensed),
		SelectedPolicyNames:   append([]string{}, s.dispensed...),
	}
}

func (s *Selector) resetLocked() {
	s.pool = s.catalog.since(0)
	s.seen = len(s.pool)
	s.dispensed = nil
}

// syncLocked appends records registered since the last snapshot.
func (s *Selector) syncLocked() {
	late := s.catalog.since(s.seen)
	if len(late) == 0 {
		return
	}
	s.pool = append(s.pool, late...)
	s.seen += len(late)
}
