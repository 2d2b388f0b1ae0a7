package checks

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// RegoModule is a parsed Rego check body.
type RegoModule struct {
	// Name identifies the module, usually the file name without extension.
	Name string

	// Package is the Rego package path, e.g. "compliance.aws.s3".
	Package string

	// Description is taken from the leading comment block.
	Description string

	// Source is the module text.
	Source string
}

// ParseRegoModule parses source and extracts its package and description.
func ParseRegoModule(name, source string) (*RegoModule, error) {
	module, err := ast.ParseModule(name, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rego module %s: %w", name, err)
	}

	return &RegoModule{
		Name:        name,
		Package:     strings.TrimPrefix(module.Package.Path.String(), "data."),
		Description: extractDescription(source),
		Source:      source,
	}, nil
}

// LoadRegoModules reads every .rego file under dir in fsys.
func LoadRegoModules(fsys fs.FS, dir string) ([]*RegoModule, error) {
	var modules []*RegoModule

	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".rego") {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		module, err := ParseRegoModule(strings.TrimSuffix(path.Base(p), ".rego"), string(data))
		if err != nil {
			return err
		}
		modules = append(modules, module)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	return modules, nil
}

// Rego compiles module and returns a check body that reports every element of
// data.<package>.deny. Elements may be strings or objects with a "message" key.
func Rego(ctx context.Context, module *RegoModule) (policy.ValidateFunc, error) {
	query, err := rego.New(
		rego.Module(module.Name+".rego", module.Source),
		rego.Query(fmt.Sprintf("data.%s.deny", module.Package)),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego query for %s: %w", module.Name, err)
	}

	return func(ctx context.Context, resource policy.Resource, config policy.Config, report policy.ReportFunc) error {
		results, err := query.Eval(ctx, rego.EvalInput(Input(resource, config)))
		if err != nil {
			return fmt.Errorf("rego evaluation error in %s: %w", module.Name, err)
		}

		for _, result := range results {
			if len(result.Expressions) == 0 {
				continue
			}
			denySet, ok := result.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				report(violationMessage(d))
			}
		}
		return nil
	}, nil
}

// violationMessage extracts the message from a deny element.
func violationMessage(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", result)
}

// extractDescription joins the leading comment block of a Rego module.
func extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment == "" {
				continue
			}
			if description.Len() > 0 {
				description.WriteString(" ")
			}
			description.WriteString(comment)
		} else if trimmed != "" {
			break
		}
	}

	return description.String()
}
