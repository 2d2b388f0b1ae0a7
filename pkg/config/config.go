package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
	"github.com/pulumi/compliance-policies-sub001/pkg/telemetry"
)

// Environment variables that override file settings.
const (
	EnvLogLevel      = "POLICYCTL_LOG_LEVEL"
	EnvEngineVersion = "POLICYCTL_ENGINE_VERSION"
	EnvPlugins       = "POLICYCTL_PLUGINS"
)

// DefaultPluginPattern matches every required module whose path ends in
// "-policies".
const DefaultPluginPattern = "**-policies"

// Config is the policyctl configuration.
type Config struct {
	// Plugins controls extension bundle discovery.
	Plugins PluginsConfig `yaml:"plugins"`

	// Selection holds selection defaults.
	Selection SelectionConfig `yaml:"selection"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// PluginsConfig configures the extension loader.
type PluginsConfig struct {
	// Patterns are glob patterns matched against required module paths.
	Patterns []string `yaml:"patterns" validate:"dive,required"`

	// Modules are bundle names loaded without consulting the manifest.
	Modules []string `yaml:"modules" validate:"dive,required"`

	// SearchPaths are directories holding Starlark bundles.
	SearchPaths []string `yaml:"search_paths" validate:"dive,required"`

	// ModuleCache overrides the Go module cache location.
	ModuleCache string `yaml:"module_cache"`

	// WorkDir is where manifest discovery starts. Defaults to the process
	// working directory.
	WorkDir string `yaml:"work_dir"`

	// EngineVersion overrides the engine version bundles are gated against.
	EngineVersion string `yaml:"engine_version"`
}

// SelectionConfig holds selection defaults.
type SelectionConfig struct {
	// DefaultEnforcementLevel is applied to selections that do not set one.
	DefaultEnforcementLevel policy.EnforcementLevel `yaml:"default_enforcement_level" validate:"omitempty,oneof=advisory mandatory remediate disabled"`
}

var structValidator = validator.New()

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Plugins: PluginsConfig{
			Patterns: []string{DefaultPluginPattern},
			Modules:  []string{"builtin"},
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Telemetry.Logging.Level = strings.ToLower(level)
	}
	if v := os.Getenv(EnvEngineVersion); v != "" {
		c.Plugins.EngineVersion = v
	}
	if v := os.Getenv(EnvPlugins); v != "" {
		var patterns []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		c.Plugins.Patterns = patterns
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid config: %s failed %q constraint", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Telemetry == nil {
		return errors.New("invalid config: telemetry section is required")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// ResolvePaths makes relative plugin paths relative to base.
func (c *Config) ResolvePaths(base string) {
	for i, p := range c.Plugins.SearchPaths {
		c.Plugins.SearchPaths[i] = resolve(base, p)
	}
	if c.Plugins.ModuleCache != "" {
		c.Plugins.ModuleCache = resolve(base, c.Plugins.ModuleCache)
	}
	if c.Plugins.WorkDir != "" {
		c.Plugins.WorkDir = resolve(base, c.Plugins.WorkDir)
	}
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
