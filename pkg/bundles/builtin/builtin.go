// Package builtin is the policy bundle shipped with policyctl. Importing it
// registers the bundle with the plugin registry under Name.
package builtin

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/pulumi/compliance-policies-sub001/pkg/checks"
	"github.com/pulumi/compliance-policies-sub001/pkg/plugins"
	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
	"github.com/pulumi/compliance-policies-sub001/pkg/version"
)

const (
	// Name is the module path the bundle is registered under.
	Name = "builtin"

	// Version is the bundle's own version.
	Version = "1.0.0"
)

//go:embed policies
var policyFS embed.FS

// classification holds the catalog metadata for one builtin check.
type classification struct {
	level      policy.EnforcementLevel
	vendors    []string
	services   []string
	frameworks []string
	topics     []string
	severity   string
}

// regoPolicies maps embedded Rego modules to their catalog metadata.
var regoPolicies = map[string]classification{
	"aws_s3_bucket_public_read": {
		level:      policy.EnforcementMandatory,
		vendors:    []string{"aws"},
		services:   []string{"s3"},
		frameworks: []string{"cis", "pcidss"},
		topics:     []string{"storage", "access"},
		severity:   "critical",
	},
	"azure_storage_account_https_only": {
		level:      policy.EnforcementAdvisory,
		vendors:    []string{"azure"},
		services:   []string{"storage"},
		frameworks: []string{"cis"},
		topics:     []string{"encryption", "network"},
		severity:   "high",
	},
}

func init() {
	plugins.Register(Name, Factory)
}

// Factory returns the builtin bundle.
func Factory() (*plugins.Bundle, error) {
	return &plugins.Bundle{
		Name:                 Name,
		Version:              Version,
		PolicyManagerVersion: version.PolicyManager,
		Install:              install,
	}, nil
}

func install(ctx context.Context, target plugins.Registrar) error {
	args, err := Policies(ctx)
	if err != nil {
		return err
	}
	for _, a := range args {
		if _, err := target.RegisterPolicy(a); err != nil {
			return fmt.Errorf("failed to register %s: %w", a.Policy.Name, err)
		}
	}
	return nil
}

// Policies compiles every builtin check. Order is stable: Rego modules in
// file order, then the CEL, Go and Starlark checks.
func Policies(ctx context.Context) ([]policy.RegisterArgs, error) {
	var out []policy.RegisterArgs

	regoArgs, err := regoChecks(ctx)
	if err != nil {
		return nil, err
	}
	out = append(out, regoArgs...)

	imds, err := imdsv2Check()
	if err != nil {
		return nil, err
	}
	out = append(out, imds, uniformAccessCheck(), backupRetentionCheck())

	ebs, err := ebsEncryptionCheck()
	if err != nil {
		return nil, err
	}
	out = append(out, ebs)

	return out, nil
}

func regoChecks(ctx context.Context) ([]policy.RegisterArgs, error) {
	modules, err := checks.LoadRegoModules(policyFS, "policies")
	if err != nil {
		return nil, err
	}

	out := make([]policy.RegisterArgs, 0, len(modules))
	for _, m := range modules {
		meta, ok := regoPolicies[m.Name]
		if !ok {
			return nil, fmt.Errorf("no metadata for rego module %s", m.Name)
		}
		validate, err := checks.Rego(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, meta.args(policy.Policy{
			Name:        policyName(m.Name),
			Description: m.Description,
			Validate:    validate,
		}))
	}
	return out, nil
}

func (c classification) args(p policy.Policy) policy.RegisterArgs {
	p.EnforcementLevel = c.level
	return policy.RegisterArgs{
		Policy:     p,
		Vendors:    c.vendors,
		Services:   c.services,
		Frameworks: c.frameworks,
		Topics:     c.topics,
		Severity:   c.severity,
	}
}

// policyName turns a module file name into a catalog name.
func policyName(module string) string {
	return strings.ReplaceAll(module, "_", "-")
}
