package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// configSchema constrains both YAML and CUE config files. Definitions are
// closed, so unknown keys are rejected at every level.
const configSchema = `
#Level: "advisory" | "mandatory" | "remediate" | "disabled"

#Config: {
	plugins?: {
		patterns?:       [...string]
		modules?:        [...string]
		search_paths?:   [...string]
		module_cache?:   string
		work_dir?:       string
		engine_version?: string
	}
	selection?: {
		default_enforcement_level?: #Level
	}
	telemetry?: {
		service_name?:    string
		service_version?: string
		environment?:     string
		logging?: {
			level?:               "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?:              "console" | "json"
			output?:              string
			enable_caller?:       bool
			enable_sampling?:     bool
			sampling_initial?:    int & >=0
			sampling_thereafter?: int & >=0
			time_format?:         string
		}
		tracing?: {
			enabled?:               bool
			exporter?:              "otlp" | "stdout" | "none"
			endpoint?:              string
			sampling_rate?:         number & >=0 & <=1
			max_export_batch_size?: int & >0
			export_timeout?:        string | int
			headers?: [string]: string
			insecure?: bool
		}
		metrics?: {
			enabled?:        bool
			listen_address?: string
			path?:           string
			namespace?:      string
		}
	}
}
`

// Load reads the config file at path. Relative plugin paths are resolved
// against the file's directory and environment overrides are applied last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	cfg.ResolvePaths(abs)
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML or CUE config document over the defaults. The format
// is picked from filename's extension.
func Parse(filename string, data []byte) (*Config, error) {
	var (
		doc []byte
		err error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml", "":
		doc, err = checkYAML(filename, data)
	case ".cue":
		doc, err = evalCUE(filename, data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filename)
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(doc, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return cfg, nil
}

// checkYAML validates a YAML document against the schema and returns it
// unchanged.
func checkYAML(filename string, data []byte) ([]byte, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	ctx := cuecontext.New()
	val := ctx.Encode(raw)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	if _, err := unify(ctx, filename, val); err != nil {
		return nil, err
	}
	return data, nil
}

// evalCUE evaluates a CUE config against the schema and exports it as JSON,
// which the YAML decoder reads as-is.
func evalCUE(filename string, data []byte) ([]byte, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile %s: %s", filename, describe(err))
	}

	unified, err := unify(ctx, filename, val)
	if err != nil {
		return nil, err
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", filename, err)
	}
	return out, nil
}

func unify(ctx *cue.Context, filename string, val cue.Value) (cue.Value, error) {
	schema := ctx.CompileString(configSchema, cue.Filename("config-schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, fmt.Errorf("config %s does not match schema: %s", filename, describe(err))
	}
	return unified, nil
}

// describe flattens a CUE error list into one line.
func describe(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}

	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return strings.Join(msgs, "; ")
}
