package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/pulumi/compliance-policies-sub001/pkg/checks"
	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// StarlarkBundleFile is the entry point of an on-disk bundle.
const StarlarkBundleFile = "policies.star"

// Globals a Starlark bundle must define.
const (
	starlarkVersionGlobal       = "version"
	starlarkEngineVersionGlobal = "policy_manager_version"
	starlarkPoliciesGlobal      = "policies"
)

// LoadStarlarkBundle executes the bundle file at path. The returned bundle
// carries whatever version globals the file set; the loader checks them
// before calling Install.
func LoadStarlarkBundle(name, path string) (*Bundle, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, _ string) {},
	}
	globals, err := starlark.ExecFile(thread, path, src, starlark.StringDict{
		"struct": starlarkstruct.Default,
		"policy": starlark.NewBuiltin("policy", starlarkstruct.Make),
	})
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	globals.Freeze()

	bundle := &Bundle{
		Name:                 name,
		Version:              stringGlobal(globals, starlarkVersionGlobal),
		PolicyManagerVersion: stringGlobal(globals, starlarkEngineVersionGlobal),
	}

	list, _ := globals[starlarkPoliciesGlobal].(*starlark.List)
	dir := filepath.Dir(path)
	bundle.Install = func(ctx context.Context, target Registrar) error {
		if list == nil {
			return nil
		}
		for i := 0; i < list.Len(); i++ {
			args, err := starlarkPolicy(ctx, list.Index(i), dir)
			if err != nil {
				return fmt.Errorf("%s: policies[%d]: %w", path, i, err)
			}
			if _, err := target.RegisterPolicy(args); err != nil {
				return err
			}
		}
		return nil
	}

	return bundle, nil
}

func stringGlobal(globals starlark.StringDict, name string) string {
	s, ok := globals[name].(starlark.String)
	if !ok {
		return ""
	}
	return string(s)
}

// starlarkPolicy converts one policy(...) struct into registration args. The
// check body is either a validate callable or a wasm module path relative to
// the bundle directory.
func starlarkPolicy(ctx context.Context, v starlark.Value, dir string) (policy.RegisterArgs, error) {
	s, ok := v.(*starlarkstruct.Struct)
	if !ok {
		return policy.RegisterArgs{}, fmt.Errorf("expected policy(...) struct, got %s", v.Type())
	}

	var args policy.RegisterArgs
	var err error

	if args.Policy.Name, err = structString(s, "name"); err != nil {
		return args, err
	}
	if args.Policy.Description, err = structString(s, "description"); err != nil {
		return args, err
	}
	level, err := structString(s, "enforcement_level")
	if err != nil {
		return args, err
	}
	args.Policy.EnforcementLevel = policy.EnforcementLevel(level)

	if args.Severity, err = structString(s, "severity"); err != nil {
		return args, err
	}
	for field, dst := range map[string]*[]string{
		"vendors":    &args.Vendors,
		"services":   &args.Services,
		"frameworks": &args.Frameworks,
		"topics":     &args.Topics,
	} {
		if *dst, err = structStrings(s, field); err != nil {
			return args, err
		}
	}

	if raw, err := s.Attr("config_schema"); err == nil && raw != starlark.None {
		schema, err := checks.FromStarlarkValue(raw)
		if err != nil {
			return args, fmt.Errorf("config_schema: %w", err)
		}
		m, ok := schema.(map[string]interface{})
		if !ok {
			return args, fmt.Errorf("config_schema must be a dict")
		}
		args.Policy.ConfigSchema = m
	}

	wasmFile, err := structString(s, "wasm")
	if err != nil {
		return args, err
	}
	if wasmFile != "" {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(wasmFile)))
		if err != nil {
			return args, fmt.Errorf("policy %q: %w", args.Policy.Name, err)
		}
		check, err := checks.NewWASMCheck(ctx, data, checks.WASMConfig{})
		if err != nil {
			return args, fmt.Errorf("policy %q: %w", args.Policy.Name, err)
		}
		args.Policy.Validate = check.Validate
		return args, nil
	}

	fnVal, err := s.Attr("validate")
	if err != nil {
		return args, fmt.Errorf("policy %q has neither a validate function nor a wasm module", args.Policy.Name)
	}
	fn, ok := fnVal.(starlark.Callable)
	if !ok {
		return args, fmt.Errorf("policy %q: validate must be callable, got %s", args.Policy.Name, fnVal.Type())
	}
	args.Policy.Validate = checks.Starlark(args.Policy.Name, fn)

	return args, nil
}

func structString(s *starlarkstruct.Struct, field string) (string, error) {
	v, err := s.Attr(field)
	if err != nil || v == starlark.None {
		return "", nil
	}
	str, ok := v.(starlark.String)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", field, v.Type())
	}
	return string(str), nil
}

func structStrings(s *starlarkstruct.Struct, field string) ([]string, error) {
	v, err := s.Attr(field)
	if err != nil || v == starlark.None {
		return nil, nil
	}
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s must be a list of strings, got %s", field, v.Type())
	}

	var out []string
	iter := iterable.Iterate()
	defer iter.Done()
	var item starlark.Value
	for iter.Next(&item) {
		str, ok := item.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("%s must contain strings, got %s", field, item.Type())
		}
		out = append(out, string(str))
	}
	return out, nil
}
