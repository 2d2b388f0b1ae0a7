package policy

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/pulumi/compliance-policies-sub001/pkg/telemetry"
)

// Manager ties a Catalog to its default Selector. It is the object policy
// bundles register into and pack authors select from.
type Manager struct {
	catalog  *Catalog
	selector *Selector
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records catalog and selection metrics on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a Manager with an empty catalog.
func NewManager(logger zerolog.Logger, opts ...Option) *Manager {
	catalog := NewCatalog(logger)
	m := &Manager{
		catalog:  catalog,
		selector: NewSelector(catalog, logger),
		logger:   logger.With().Str("component", "policy-manager").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterPolicy adds args.Policy with its classification and returns the
// policy unchanged, so bundles can re-export what they register.
func (m *Manager) RegisterPolicy(args RegisterArgs) (Policy, error) {
	p, err := m.catalog.Register(args.Policy, args.Classification())
	if err != nil {
		m.metrics.RecordRegistrationError(registrationFailureReason(err))
		return Policy{}, err
	}
	m.metrics.SetPoliciesRegistered(m.catalog.Len())
	return p, nil
}

// MustRegister is like RegisterPolicy but panics on error.
func (m *Manager) MustRegister(args RegisterArgs) Policy {
	p, err := m.RegisterPolicy(args)
	if err != nil {
		panic(err)
	}
	return p
}

// SelectPolicies dispenses every not-yet-dispensed policy matching criteria.
// A recognised level overrides the enforcement level on the returned copies.
func (m *Manager) SelectPolicies(criteria Criteria, level EnforcementLevel) []Policy {
	selected := m.selector.Select(criteria, level)

	levels := make([]string, len(selected))
	for i, p := range selected {
		levels[i] = string(p.EnforcementLevel)
	}
	m.metrics.RecordSelection(levels, m.selector.Stats().RemainingPolicyCount)

	return selected
}

// GetPolicyByName returns the named policy whether or not it has been
// dispensed.
func (m *Manager) GetPolicyByName(name string) (Policy, bool) {
	return m.selector.GetByName(name)
}

// GetSelectionStats reports the default selector's state.
func (m *Manager) GetSelectionStats() SelectionStats {
	return m.selector.Stats()
}

// ResetSelector makes every registered policy available again.
func (m *Manager) ResetSelector() {
	m.selector.Reset()
	m.metrics.RecordReset(m.selector.Stats().RemainingPolicyCount)
}

// Catalog exposes the underlying catalog.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// NewSelector returns an independent Selector over the same catalog.
func (m *Manager) NewSelector() *Selector {
	return NewSelector(m.catalog, m.logger)
}

func registrationFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, ErrInvalidPolicy):
		return "invalid"
	default:
		return "unknown"
	}
}
