package pack

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
	"github.com/pulumi/compliance-policies-sub001/pkg/telemetry"
)

// Pack is an assembled, deployable set of policies.
type Pack struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Policies    []PackPolicy `json:"policies"`

	// Digest is the hex SHA-256 of the canonical JSON manifest. It covers
	// names, levels and config, but not ID.
	Digest string `json:"digest"`
}

// PackPolicy is a dispensed policy plus the config the pack supplies for it.
type PackPolicy struct {
	policy.Policy
	Config policy.Config `json:"config,omitempty"`
}

// Names returns the policy names in pack order.
func (p *Pack) Names() []string {
	out := make([]string, len(p.Policies))
	for i, pp := range p.Policies {
		out[i] = pp.Name
	}
	return out
}

type manifestEntry struct {
	Name             string                  `json:"name"`
	EnforcementLevel policy.EnforcementLevel `json:"enforcementLevel"`
	Config           policy.Config           `json:"config,omitempty"`
}

type manifest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Policies    []manifestEntry `json:"policies"`
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMetrics counts assembled packs.
func WithMetrics(m *telemetry.Metrics) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

// WithTracer wraps each build in a span.
func WithTracer(t *telemetry.Tracer) BuilderOption {
	return func(b *Builder) { b.tracer = t }
}

// Builder assembles packs from a catalog. Every build uses its own Selector,
// so builds never consume each other's policies.
type Builder struct {
	catalog *policy.Catalog
	base    zerolog.Logger
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// NewBuilder creates a Builder over catalog.
func NewBuilder(catalog *policy.Catalog, logger zerolog.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		catalog: catalog,
		base:    logger,
		logger:  logger.With().Str("component", "pack-builder").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles def into a Pack.
func (b *Builder) Build(ctx context.Context, def *Definition) (pack *Pack, err error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	finish := b.startSpan(ctx, def.Name)
	defer func() { finish(pack, err) }()

	selector := policy.NewSelector(b.catalog, b.base)

	var policies []PackPolicy
	for i, sel := range def.Selections {
		level := sel.EnforcementLevel
		if level == "" {
			level = def.EnforcementLevel
		}
		if level != "" && !level.Valid() {
			return nil, fmt.Errorf("selection %d: unknown enforcement level %q", i, level)
		}
		for _, p := range selector.Select(sel.Criteria(), level) {
			policies = append(policies, PackPolicy{Policy: p})
		}
	}

	included := make(map[string]bool, len(policies))
	for _, pp := range policies {
		included[pp.Name] = true
	}
	for _, name := range def.Include {
		if included[name] {
			continue
		}
		p, ok := b.catalog.GetByName(name)
		if !ok {
			return nil, fmt.Errorf("included policy %q is not registered", name)
		}
		policies = append(policies, PackPolicy{Policy: p.WithEnforcementLevel(def.EnforcementLevel)})
		included[name] = true
	}

	index := make(map[string]int, len(policies))
	for i, pp := range policies {
		index[pp.Name] = i
	}
	for _, name := range sortedKeys(def.Config) {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("config supplied for policy %q which is not in the pack", name)
		}
		cfg := def.Config[name]
		if err := ValidateConfig(policies[i].Policy, cfg); err != nil {
			return nil, err
		}
		policies[i].Config = cfg
	}

	if policies == nil {
		policies = []PackPolicy{}
	}

	pack = &Pack{
		ID:          uuid.New().String(),
		Name:        def.Name,
		Description: def.Description,
		Policies:    policies,
	}
	pack.Digest, err = Digest(pack)
	if err != nil {
		return nil, err
	}

	b.metrics.RecordPackBuilt()
	b.logger.Info().
		Str("pack_name", pack.Name).
		Str("pack_id", pack.ID).
		Int("policies", len(pack.Policies)).
		Str("digest", pack.Digest).
		Msg("Pack assembled")

	return pack, nil
}

func (b *Builder) startSpan(ctx context.Context, name string) func(*Pack, error) {
	if b.tracer == nil {
		return func(*Pack, error) {}
	}
	_, span := b.tracer.StartPackSpan(ctx, name)
	return func(p *Pack, err error) {
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetAttributes(span,
				telemetry.AttrPackID.String(p.ID),
				telemetry.AttrPackDigest.String(p.Digest),
			)
			telemetry.RecordSuccess(span)
		}
		span.End()
	}
}

// Digest computes the canonical digest of pack's contents.
func Digest(pack *Pack) (string, error) {
	m := manifest{
		Name:        pack.Name,
		Description: pack.Description,
		Policies:    make([]manifestEntry, len(pack.Policies)),
	}
	for i, pp := range pack.Policies {
		m.Policies[i] = manifestEntry{
			Name:             pp.Name,
			EnforcementLevel: pp.EnforcementLevel,
			Config:           pp.Config,
		}
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode pack manifest: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize pack manifest: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateConfig checks cfg against p's ConfigSchema. A policy without a
// schema accepts any config.
func ValidateConfig(p policy.Policy, cfg policy.Config) error {
	if len(p.ConfigSchema) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(p.ConfigSchema)
	if err != nil {
		return fmt.Errorf("policy %q: failed to encode config schema: %w", p.Name, err)
	}

	id := "inmemory://policies/" + p.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(id, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("policy %q: invalid config schema: %w", p.Name, err)
	}
	schema, err := compiler.Compile(id)
	if err != nil {
		return fmt.Errorf("policy %q: invalid config schema: %w", p.Name, err)
	}

	if cfg == nil {
		cfg = policy.Config{}
	}
	doc, err := jsonDocument(cfg)
	if err != nil {
		return fmt.Errorf("policy %q: failed to encode config: %w", p.Name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("policy %q: config does not match schema: %w", p.Name, err)
	}
	return nil
}

// jsonDocument round-trips v through encoding/json so the validator sees
// plain JSON values.
func jsonDocument(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func sortedKeys(m map[string]policy.Config) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
