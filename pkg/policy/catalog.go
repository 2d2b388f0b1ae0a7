package policy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// record is a registered policy together with its classification. Records are
// never mutated after registration.
type record struct {
	policy         Policy
	classification Classification
}

// Catalog is the append-only registry of policies and their category indices.
type Catalog struct {
	mu       sync.RWMutex
	records  []*record
	byName   map[string]*record
	indices  map[Category]map[string][]*record
	logger   zerolog.Logger
	validate *validator.Validate
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger zerolog.Logger) *Catalog {
	indices := make(map[Category]map[string][]*record, len(Categories))
	for _, cat := range Categories {
		indices[cat] = make(map[string][]*record)
	}

	return &Catalog{
		byName:   make(map[string]*record),
		indices:  indices,
		logger:   logger.With().Str("component", "policy-catalog").Logger(),
		validate: validator.New(),
	}
}

// Register adds p to the catalog under classification c and returns p
// unchanged. It fails if the name is taken or the record is malformed; a
// failed registration leaves the catalog untouched.
func (c *Catalog) Register(p Policy, class Classification) (Policy, error) {
	if err := c.validatePolicy(p); err != nil {
		return Policy{}, err
	}

	stored := p
	if stored.EnforcementLevel == "" {
		stored.EnforcementLevel = EnforcementAdvisory
	}
	rec := &record{
		policy:         stored,
		classification: class.clone(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byName[p.Name]; exists {
		return Policy{}, &DuplicateNameError{Name: p.Name}
	}

	c.records = append(c.records, rec)
	c.byName[p.Name] = rec
	for _, cat := range Categories {
		for _, v := range rec.classification.values(cat) {
			key := NormalizeValue(v)
			c.indices[cat][key] = append(c.indices[cat][key], rec)
		}
	}

	c.logger.Debug().
		Str("policy", p.Name).
		Str("enforcement_level", string(stored.EnforcementLevel)).
		Int("total", len(c.records)).
		Msg("Policy registered")

	return p, nil
}

// MustRegister is like Register but panics on error. It is meant for bundle
// initialisation where a failure is a build defect.
func (c *Catalog) MustRegister(p Policy, class Classification) Policy {
	out, err := c.Register(p, class)
	if err != nil {
		panic(err)
	}
	return out
}

// GetByName returns the policy registered under name. Empty and unknown names
// report false.
func (c *Catalog) GetByName(name string) (Policy, bool) {
	if name == "" {
		return Policy{}, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.byName[name]
	if !ok {
		return Policy{}, false
	}
	return detach(rec.policy), true
}

// Classification returns the classification a policy was registered with.
func (c *Catalog) Classification(name string) (Classification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.byName[name]
	if !ok {
		return Classification{}, false
	}
	return rec.classification.clone(), true
}

// Len returns the number of registered policies. It never decreases.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Names returns every registered name in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.records))
	for i, rec := range c.records {
		names[i] = rec.policy.Name
	}
	return names
}

// Find returns every policy matching criteria without dispensing anything.
func (c *Catalog) Find(criteria Criteria) []Policy {
	c.mu.RLock()
	matched := match(c.records, c.lookup, criteria)
	c.mu.RUnlock()

	out := make([]Policy, len(matched))
	for i, rec := range matched {
		out[i] = detach(rec.policy)
	}
	return out
}

// since returns the records registered after the first n. Callers use it to
// extend a pool with late registrations.
func (c *Catalog) since(n int) []*record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n >= len(c.records) {
		return nil
	}
	return append([]*record(nil), c.records[n:]...)
}

// lookup returns the records indexed under value for cat. The caller must
// hold c.mu.
func (c *Catalog) lookup(cat Category, value string) []*record {
	return c.indices[cat][NormalizeValue(value)]
}

func (c *Catalog) validatePolicy(p Policy) error {
	err := c.validate.Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Name:    p.Name,
			Field:   fe.Field(),
			Message: fmt.Sprintf("failed %q constraint (value %v)", fe.Tag(), fe.Value()),
			Err:     err,
		}
	}
	return &ValidationError{Name: p.Name, Field: "policy", Message: err.Error(), Err: err}
}

// NormalizeValue lowercases a classification value the way the catalog
// indexes it. Values that only differ in case compare equal.
func NormalizeValue(v string) string {
	return cases.Lower(language.Und).String(v)
}

// detach returns a copy of p that shares nothing mutable with the catalog
// except the Validate capability.
func detach(p Policy) Policy {
	p.ConfigSchema = cloneSchema(p.ConfigSchema)
	return p
}

func cloneSchema(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneSchema(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
