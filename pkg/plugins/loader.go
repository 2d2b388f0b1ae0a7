package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"golang.org/x/mod/module"

	"github.com/pulumi/compliance-policies-sub001/pkg/telemetry"
	"github.com/pulumi/compliance-policies-sub001/pkg/version"
)

// Bundle sources recorded in LoadedBundle.Source.
const (
	SourceRegistry = "registry"
	SourceStarlark = "starlark"
)

// LoadedBundle describes a bundle that passed the version gate and installed.
type LoadedBundle struct {
	Name                 string `json:"name"`
	Version              string `json:"version"`
	PolicyManagerVersion string `json:"policyManagerVersion"`
	Source               string `json:"source"`
	Path                 string `json:"path,omitempty"`
}

// Loader discovers policy bundles among the host project's dependencies and
// installs them into a Registrar.
type Loader struct {
	mu            sync.Mutex
	target        Registrar
	registry      *Registry
	engineVersion string
	workDir       string
	searchPaths   []string
	modCache      string
	loaded        []LoadedBundle
	metrics       *telemetry.Metrics
	tracer        *telemetry.Tracer
	logger        zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithEngineVersion overrides the policy manager version bundles are checked
// against. It exists for tests and for hosts embedding a renamed engine; the
// loader warns whenever the override differs from version.PolicyManager.
func WithEngineVersion(v string) Option {
	return func(l *Loader) { l.engineVersion = v }
}

// WithRegistry resolves Go bundles from r instead of the process-wide
// registry.
func WithRegistry(r *Registry) Option {
	return func(l *Loader) { l.registry = r }
}

// WithWorkDir sets the directory manifest discovery starts from.
func WithWorkDir(dir string) Option {
	return func(l *Loader) { l.workDir = dir }
}

// WithSearchPaths adds directories holding <module path>/policies.star
// bundles.
func WithSearchPaths(paths ...string) Option {
	return func(l *Loader) { l.searchPaths = append(l.searchPaths, paths...) }
}

// WithModuleCache sets the Go module cache root used to find on-disk bundles.
func WithModuleCache(dir string) Option {
	return func(l *Loader) { l.modCache = dir }
}

// WithMetrics records plugin_loads_total on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// WithTracer wraps each bundle load in a span.
func WithTracer(t *telemetry.Tracer) Option {
	return func(l *Loader) { l.tracer = t }
}

// NewLoader creates a Loader that installs into target.
func NewLoader(target Registrar, logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		target:        target,
		registry:      defaultRegistry,
		engineVersion: version.PolicyManager,
		workDir:       ".",
		modCache:      defaultModCache(),
		logger:        logger.With().Str("component", "plugin-loader").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.engineVersion != version.PolicyManager {
		l.logger.Warn().
			Str("engine_version", l.engineVersion).
			Str("built_in_version", version.PolicyManager).
			Msg("Policy manager version overridden, bundles are gated against the override")
	}
	return l
}

// Load finds the nearest go.mod, selects the requirements matching any of
// patterns and loads each as a bundle. The first failure aborts the load;
// bundles installed before it stay installed.
func (l *Loader) Load(ctx context.Context, patterns []string) error {
	if _, err := compilePatterns(patterns); err != nil {
		return err
	}

	manifest, err := FindManifest(l.workDir)
	if err != nil {
		return err
	}

	deps, err := ReadDependencies(manifest)
	if err != nil {
		return err
	}

	matched, err := MatchDependencies(deps, patterns)
	if err != nil {
		return err
	}

	l.logger.Debug().
		Str("manifest", manifest).
		Int("dependencies", len(deps)).
		Int("matched", len(matched)).
		Strs("patterns", patterns).
		Msg("Resolved policy bundle dependencies")

	if len(matched) == 0 {
		l.logger.Warn().Strs("patterns", patterns).Msg("No dependencies matched the policy bundle patterns")
	}

	for _, dep := range matched {
		if err := l.loadModule(ctx, dep); err != nil {
			return err
		}
	}
	return nil
}

// LoadModules loads the named bundles directly, skipping manifest discovery.
func (l *Loader) LoadModules(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := l.loadModule(ctx, Dependency{Path: name}); err != nil {
			return err
		}
	}
	return nil
}

// Loaded returns the bundles installed so far, in load order.
func (l *Loader) Loaded() []LoadedBundle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LoadedBundle(nil), l.loaded...)
}

func (l *Loader) loadModule(ctx context.Context, dep Dependency) (err error) {
	ctx, finish := l.startSpan(ctx, dep.Path)
	defer func() { finish(err) }()

	bundle, source, path, err := l.resolve(dep)
	if err != nil {
		l.metrics.RecordPluginLoad("load_error")
		return &ModuleLoadError{Module: dep.Path, Err: err}
	}
	if bundle == nil {
		l.metrics.RecordPluginLoad("load_error")
		return &ModuleLoadError{Module: dep.Path, Err: errors.New("bundle factory returned nothing")}
	}

	var missing []string
	if bundle.Version == "" {
		missing = append(missing, "version")
	}
	if bundle.PolicyManagerVersion == "" {
		missing = append(missing, "policyManagerVersion")
	}
	if len(missing) > 0 {
		l.metrics.RecordPluginLoad("missing_exports")
		return &MissingExportsError{Module: dep.Path, Missing: missing}
	}

	if !versionsEqual(bundle.PolicyManagerVersion, l.engineVersion) {
		l.metrics.RecordPluginLoad("version_mismatch")
		return &VersionMismatchError{
			Module:   dep.Path,
			Required: bundle.PolicyManagerVersion,
			Engine:   l.engineVersion,
		}
	}

	if bundle.Install != nil {
		if err := bundle.Install(ctx, l.target); err != nil {
			l.metrics.RecordPluginLoad("install_error")
			return fmt.Errorf("failed to install policy bundle %s: %w", dep.Path, err)
		}
	}

	l.metrics.RecordPluginLoad("ok")

	l.mu.Lock()
	l.loaded = append(l.loaded, LoadedBundle{
		Name:                 dep.Path,
		Version:              bundle.Version,
		PolicyManagerVersion: bundle.PolicyManagerVersion,
		Source:               source,
		Path:                 path,
	})
	l.mu.Unlock()

	l.logger.Info().
		Str("bundle_name", dep.Path).
		Str("bundle_version", bundle.Version).
		Str("source", source).
		Msg("Policy bundle loaded")

	return nil
}

// startSpan opens a plugin.load span when a tracer is configured. The
// returned func ends it with err's status.
func (l *Loader) startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	if l.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := l.tracer.StartPluginSpan(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}
}

// resolve finds a bundle for dep: the Go registry first, then a Starlark file
// in the search paths, then one in the module cache.
func (l *Loader) resolve(dep Dependency) (*Bundle, string, string, error) {
	if factory, ok := l.registry.Lookup(dep.Path); ok {
		b, err := factory()
		return b, SourceRegistry, "", err
	}

	for _, candidate := range l.starlarkCandidates(dep) {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		b, err := LoadStarlarkBundle(dep.Path, candidate)
		return b, SourceStarlark, candidate, err
	}

	return nil, "", "", ErrBundleNotFound
}

func (l *Loader) starlarkCandidates(dep Dependency) []string {
	candidates := make([]string, 0, len(l.searchPaths)+1)
	for _, sp := range l.searchPaths {
		candidates = append(candidates, filepath.Join(sp, filepath.FromSlash(dep.Path), StarlarkBundleFile))
	}

	if l.modCache == "" || dep.Version == "" {
		return candidates
	}
	escaped, err := module.EscapePath(dep.Path)
	if err != nil {
		l.logger.Debug().Err(err).Str("module", dep.Path).Msg("Module path cannot be located in the module cache")
		return candidates
	}
	escapedVersion, err := module.EscapeVersion(dep.Version)
	if err != nil {
		return candidates
	}
	return append(candidates, filepath.Join(l.modCache, filepath.FromSlash(escaped)+"@"+escapedVersion, StarlarkBundleFile))
}

// versionsEqual reports whether two versions are the same release. A leading
// "v" is ignored; otherwise both must be complete MAJOR.MINOR.PATCH versions
// with equal pre-release and build metadata, or identical strings.
func versionsEqual(a, b string) bool {
	a, b = strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v")
	va, errA := semver.StrictNewVersion(a)
	vb, errB := semver.StrictNewVersion(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return va.Equal(vb) && va.Metadata() == vb.Metadata()
}

func defaultModCache() string {
	if dir := os.Getenv("GOMODCACHE"); dir != "" {
		return dir
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		return filepath.Join(filepath.SplitList(gopath)[0], "pkg", "mod")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "go", "pkg", "mod")
	}
	return ""
}
