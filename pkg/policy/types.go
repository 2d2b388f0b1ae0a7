package policy

import (
	"context"
	"strings"
)

// EnforcementLevel controls whether a violation of a policy blocks the
// operation it was raised for.
type EnforcementLevel string

const (
	// EnforcementAdvisory reports violations without blocking.
	EnforcementAdvisory EnforcementLevel = "advisory"

	// EnforcementMandatory blocks the operation on violation.
	EnforcementMandatory EnforcementLevel = "mandatory"

	// EnforcementRemediate asks the host to fix the resource instead of blocking.
	EnforcementRemediate EnforcementLevel = "remediate"

	// EnforcementDisabled turns the policy off.
	EnforcementDisabled EnforcementLevel = "disabled"
)

// EnforcementLevels lists every recognised level in declaration order.
var EnforcementLevels = []EnforcementLevel{
	EnforcementAdvisory,
	EnforcementMandatory,
	EnforcementRemediate,
	EnforcementDisabled,
}

// Valid reports whether l is one of the recognised levels.
func (l EnforcementLevel) Valid() bool {
	for _, known := range EnforcementLevels {
		if l == known {
			return true
		}
	}
	return false
}

// ParseEnforcementLevel parses s case-insensitively. It returns false for an
// empty or unrecognised level.
func ParseEnforcementLevel(s string) (EnforcementLevel, bool) {
	l := EnforcementLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", false
	}
	return l, true
}

// Resource is the observed configuration of a single cloud resource handed to
// a check body.
type Resource struct {
	// Type is the provider resource type token (e.g. "aws:s3/bucket:Bucket").
	Type string `json:"type" yaml:"type"`

	// Name is the logical name of the resource.
	Name string `json:"name" yaml:"name"`

	// URN uniquely identifies the resource in its stack, if known.
	URN string `json:"urn,omitempty" yaml:"urn,omitempty"`

	// Props is the resource's observed property bag.
	Props map[string]any `json:"props" yaml:"props"`
}

// Config is the policy configuration supplied by a pack, validated against the
// policy's ConfigSchema before it reaches a check.
type Config map[string]any

// ReportFunc records one human-readable violation.
type ReportFunc func(message string)

// ValidateFunc is a check body. It inspects a resource and calls report zero or
// more times. The engine never calls it; errors it returns belong to whoever
// runs the check.
type ValidateFunc func(ctx context.Context, resource Resource, config Config, report ReportFunc) error

// Policy is the dispensable view of a registered check. It is a value type:
// copies handed out by a Selector are detached from the Catalog.
type Policy struct {
	// Name is the globally unique identifier.
	Name string `json:"name" validate:"required"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty"`

	// EnforcementLevel is the authored default level.
	EnforcementLevel EnforcementLevel `json:"enforcementLevel" validate:"omitempty,oneof=advisory mandatory remediate disabled"`

	// ConfigSchema is an optional JSON schema for the policy's configuration.
	// The engine passes it through untouched.
	ConfigSchema map[string]any `json:"configSchema,omitempty"`

	// Validate is the check body.
	Validate ValidateFunc `json:"-"`
}

// WithEnforcementLevel returns a copy of p carrying level. An unrecognised
// level leaves the copy at p's own level.
func (p Policy) WithEnforcementLevel(level EnforcementLevel) Policy {
	if level.Valid() {
		p.EnforcementLevel = level
	}
	return p
}

// Category names a classification dimension.
type Category string

const (
	CategoryVendor    Category = "vendor"
	CategoryService   Category = "service"
	CategoryFramework Category = "framework"
	CategoryTopic     Category = "topic"
	CategorySeverity  Category = "severity"
)

// Categories is the fixed order the filter applies categories in.
var Categories = []Category{
	CategoryVendor,
	CategoryService,
	CategoryFramework,
	CategoryTopic,
	CategorySeverity,
}

// Classification is the metadata a policy is indexed by. Severity is single
// valued on a record even though queries accept several severities.
type Classification struct {
	Vendors    []string `json:"vendors,omitempty"`
	Services   []string `json:"services,omitempty"`
	Frameworks []string `json:"frameworks,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Severity   string   `json:"severity,omitempty"`
}

// values returns the authored values for category c.
func (c Classification) values(cat Category) []string {
	switch cat {
	case CategoryVendor:
		return c.Vendors
	case CategoryService:
		return c.Services
	case CategoryFramework:
		return c.Frameworks
	case CategoryTopic:
		return c.Topics
	case CategorySeverity:
		if c.Severity == "" {
			return nil
		}
		return []string{c.Severity}
	}
	return nil
}

func (c Classification) clone() Classification {
	return Classification{
		Vendors:    append([]string(nil), c.Vendors...),
		Services:   append([]string(nil), c.Services...),
		Frameworks: append([]string(nil), c.Frameworks...),
		Topics:     append([]string(nil), c.Topics...),
		Severity:   c.Severity,
	}
}

// RegisterArgs bundles a policy with its classification for RegisterPolicy.
type RegisterArgs struct {
	Policy     Policy
	Vendors    []string
	Services   []string
	Frameworks []string
	Severity   string
	Topics     []string
}

// Classification extracts the classification part of the args.
func (a RegisterArgs) Classification() Classification {
	return Classification{
		Vendors:    a.Vendors,
		Services:   a.Services,
		Frameworks: a.Frameworks,
		Topics:     a.Topics,
		Severity:   a.Severity,
	}
}

// Criteria selects policies. Values are OR'd within a category and categories
// are AND'd. Empty categories do not narrow the result.
type Criteria struct {
	Vendors    []string `json:"vendors,omitempty" yaml:"vendors,omitempty"`
	Services   []string `json:"services,omitempty" yaml:"services,omitempty"`
	Frameworks []string `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
	Topics     []string `json:"topics,omitempty" yaml:"topics,omitempty"`
	Severities []string `json:"severities,omitempty" yaml:"severities,omitempty"`
}

// values returns the requested values for category c.
func (c Criteria) values(cat Category) []string {
	switch cat {
	case CategoryVendor:
		return c.Vendors
	case CategoryService:
		return c.Services
	case CategoryFramework:
		return c.Frameworks
	case CategoryTopic:
		return c.Topics
	case CategorySeverity:
		return c.Severities
	}
	return nil
}

// IsEmpty reports whether no category is constrained.
func (c Criteria) IsEmpty() bool {
	for _, cat := range Categories {
		if len(c.values(cat)) > 0 {
			return false
		}
	}
	return true
}

// SelectionStats describes a Selector's state.
type SelectionStats struct {
	PolicyCount           int      `json:"policyCount"`
	RemainingPolicyCount  int      `json:"remainingPolicyCount"`
	SelectedPoliciesCount int      `json:"selectedPoliciesCount"`
	SelectedPolicyNames   []string `json:"selectedPolicyNames"`
}
