package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/rs/zerolog"

	"github.com/pulumi/compliance-policies-sub001/pkg/config"
	"github.com/pulumi/compliance-policies-sub001/pkg/pack"
	"github.com/pulumi/compliance-policies-sub001/pkg/plugins"
	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
	"github.com/pulumi/compliance-policies-sub001/pkg/telemetry"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	manager *policy.Manager
	loader  *plugins.Loader

	// defaultPatterns is set when discovery uses the built-in pattern rather
	// than patterns the user asked for.
	defaultPatterns bool
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}

	cfg := config.Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp loads the config, builds telemetry and the manager, and installs
// every configured bundle. patterns, when non-nil, replaces the configured
// plugin patterns.
func newApp(ctx context.Context, patterns []string) (*app, context.Context, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, ctx, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if patterns != nil {
		cfg.Plugins.Patterns = patterns
	}
	defaultPatterns := patterns == nil && slices.Equal(cfg.Plugins.Patterns, []string{config.DefaultPluginPattern})

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)

	logger := tel.Logger.Zerolog()
	manager := policy.NewManager(logger, policy.WithMetrics(tel.Metrics))

	opts := []plugins.Option{
		plugins.WithMetrics(tel.Metrics),
		plugins.WithTracer(tel.Tracer),
		plugins.WithSearchPaths(cfg.Plugins.SearchPaths...),
	}
	if cfg.Plugins.EngineVersion != "" {
		opts = append(opts, plugins.WithEngineVersion(cfg.Plugins.EngineVersion))
	}
	if cfg.Plugins.WorkDir != "" {
		opts = append(opts, plugins.WithWorkDir(cfg.Plugins.WorkDir))
	}
	if cfg.Plugins.ModuleCache != "" {
		opts = append(opts, plugins.WithModuleCache(cfg.Plugins.ModuleCache))
	}

	a := &app{
		cfg:     cfg,
		tel:     tel,
		logger:  logger,
		manager: manager,
		loader:  plugins.NewLoader(manager, logger, opts...),

		defaultPatterns: defaultPatterns,
	}

	if err := a.loadBundles(ctx); err != nil {
		_ = a.close(ctx)
		return nil, ctx, err
	}
	return a, ctx, nil
}

func (a *app) loadBundles(ctx context.Context) error {
	op := telemetry.StartOperation(ctx, "policyctl.load_bundles")
	op.Logger.Debug("Loading policy bundles")
	err := a.doLoadBundles(op.Ctx)
	op.End(err)
	return err
}

// doLoadBundles installs the configured modules, then every bundle matching
// the plugin patterns. A missing go.mod is only tolerated for the built-in
// pattern; patterns the user set must be resolvable.
func (a *app) doLoadBundles(ctx context.Context) error {
	if err := a.loader.LoadModules(ctx, a.cfg.Plugins.Modules...); err != nil {
		return err
	}
	if len(a.cfg.Plugins.Patterns) == 0 {
		return nil
	}

	err := a.loader.Load(ctx, a.cfg.Plugins.Patterns)
	if a.defaultPatterns && errors.Is(err, plugins.ErrManifestMissing) {
		a.logger.Warn().Err(err).Msg("No go.mod found, skipping bundle discovery")
		return nil
	}
	return err
}

// applyDefaults fills a definition's level from the config.
func (a *app) applyDefaults(def *pack.Definition) {
	if def.EnforcementLevel == "" {
		def.EnforcementLevel = a.cfg.Selection.DefaultEnforcementLevel
	}
}

func (a *app) builder() *pack.Builder {
	return pack.NewBuilder(a.manager.Catalog(), a.logger,
		pack.WithMetrics(a.tel.Metrics),
		pack.WithTracer(a.tel.Tracer),
	)
}

func (a *app) close(ctx context.Context) error {
	if err := a.tel.Flush(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	return a.tel.Shutdown(ctx)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
