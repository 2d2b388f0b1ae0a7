package pack

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// Definition describes how to assemble a pack from the catalog.
type Definition struct {
	// Name identifies the pack.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Description is free text.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// EnforcementLevel overrides the authored level of every selected policy
	// unless a selection sets its own.
	EnforcementLevel policy.EnforcementLevel `json:"enforcementLevel,omitempty" yaml:"enforcementLevel,omitempty" validate:"omitempty,oneof=advisory mandatory remediate disabled"`

	// Selections are applied in order; a policy matched by an earlier
	// selection is not matched again.
	Selections []Selection `json:"selections" yaml:"selections" validate:"dive"`

	// Include names policies to add regardless of classification.
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`

	// Config holds per-policy configuration keyed by policy name.
	Config map[string]policy.Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// Selection is one criteria query with an optional level override.
type Selection struct {
	Vendors          []string                `json:"vendors,omitempty" yaml:"vendors,omitempty"`
	Services         []string                `json:"services,omitempty" yaml:"services,omitempty"`
	Frameworks       []string                `json:"frameworks,omitempty" yaml:"frameworks,omitempty"`
	Topics           []string                `json:"topics,omitempty" yaml:"topics,omitempty"`
	Severities       []string                `json:"severities,omitempty" yaml:"severities,omitempty"`
	EnforcementLevel policy.EnforcementLevel `json:"enforcementLevel,omitempty" yaml:"enforcementLevel,omitempty" validate:"omitempty,oneof=advisory mandatory remediate disabled"`
}

// Criteria returns the selection's filter.
func (s Selection) Criteria() policy.Criteria {
	return policy.Criteria{
		Vendors:    s.Vendors,
		Services:   s.Services,
		Frameworks: s.Frameworks,
		Topics:     s.Topics,
		Severities: s.Severities,
	}
}

// packSchema constrains CUE pack definitions. Definitions are closed, so
// misspelled fields are rejected.
const packSchema = `
#Level: "advisory" | "mandatory" | "remediate" | "disabled"

#Selection: {
	vendors?:          [...string]
	services?:         [...string]
	frameworks?:       [...string]
	topics?:           [...string]
	severities?:       [...string]
	enforcementLevel?: #Level
}

#Pack: {
	name:              string & =~"^[A-Za-z0-9._-]+$"
	description?:      string
	enforcementLevel?: #Level
	selections:        [...#Selection] | *[]
	include?:          [...string]
	config?:           [string]: {...}
}
`

var structValidator = validator.New()

// ParseYAML decodes a YAML pack definition.
func ParseYAML(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to parse pack definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseCUE compiles a CUE pack definition and unifies it with the pack
// schema before decoding.
func ParseCUE(filename string, data []byte) (*Definition, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(packSchema, cue.Filename("pack-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile pack schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", filename, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Pack")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("pack definition %s does not match schema: %w", filename, err)
	}

	var def Definition
	if err := unified.Decode(&def); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads a .yaml, .yml or .cue definition from path.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack definition: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".cue":
		return ParseCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported pack definition format: %s", path)
	}
}

// Validate checks the definition's structure.
func (d *Definition) Validate() error {
	err := structValidator.Struct(d)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Errorf("invalid pack definition: %s failed %q constraint", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid pack definition: %w", err)
}
