package pack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
	"github.com/pulumi/compliance-policies-sub001/pkg/telemetry"
)

// Violation is one report raised by a check against a resource.
type Violation struct {
	Policy           string                  `json:"policy"`
	EnforcementLevel policy.EnforcementLevel `json:"enforcementLevel"`
	ResourceType     string                  `json:"resourceType"`
	ResourceName     string                  `json:"resourceName"`
	URN              string                  `json:"urn,omitempty"`
	Message          string                  `json:"message"`
}

// CheckError records a check body that returned an error.
type CheckError struct {
	Policy       string `json:"policy"`
	ResourceName string `json:"resourceName"`
	Err          error  `json:"-"`
	Message      string `json:"error"`
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("policy %s on %s: %v", e.Policy, e.ResourceName, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Report is the outcome of running a pack.
type Report struct {
	PackName   string       `json:"packName"`
	PackID     string       `json:"packId"`
	Digest     string       `json:"digest"`
	Resources  int          `json:"resources"`
	Checks     int          `json:"checks"`
	Skipped    []string     `json:"skipped,omitempty"`
	Violations []Violation  `json:"violations"`
	Errors     []CheckError `json:"errors,omitempty"`
}

// Blocking reports whether any violation came from a mandatory policy.
func (r *Report) Blocking() bool {
	for _, v := range r.Violations {
		if v.EnforcementLevel == policy.EnforcementMandatory {
			return true
		}
	}
	return false
}

// Err joins every check error, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Errors))
	for i := range r.Errors {
		errs[i] = &r.Errors[i]
	}
	return errors.Join(errs...)
}

// DefaultParallelism is the number of checks a Runner executes at once.
const DefaultParallelism = 4

// Runner executes a pack's checks against resources.
type Runner struct {
	logger      zerolog.Logger
	metrics     *telemetry.Metrics
	tracer      *telemetry.Tracer
	parallelism int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithParallelism bounds how many checks run at once. Values below one mean
// sequential execution.
func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.parallelism = n
	}
}

// NewRunner creates a Runner. metrics and tracer may be nil.
func NewRunner(logger zerolog.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer, opts ...RunnerOption) *Runner {
	r := &Runner{
		logger:      logger.With().Str("component", "pack-runner").Logger(),
		metrics:     metrics,
		tracer:      tracer,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// checkUnit is one policy applied to one resource.
type checkUnit struct {
	index    int
	policy   PackPolicy
	resource policy.Resource
}

type checkResult struct {
	ran        bool
	violations []Violation
	err        error
}

// Run calls every enabled policy of pack on every resource. Disabled policies
// are skipped. Checks run concurrently but the report lists violations and
// errors in pack order, then resource order. Check errors are collected in
// the report; Run itself only fails when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, pack *Pack, resources []policy.Resource) (*Report, error) {
	report := &Report{
		PackName:   pack.Name,
		PackID:     pack.ID,
		Digest:     pack.Digest,
		Resources:  len(resources),
		Violations: []Violation{},
	}

	logger := r.logger.With().Str("pack_name", pack.Name).Str("pack_id", pack.ID).Logger()

	var units []checkUnit
	for _, pp := range pack.Policies {
		if pp.EnforcementLevel == policy.EnforcementDisabled || pp.Validate == nil {
			report.Skipped = append(report.Skipped, pp.Name)
			continue
		}
		for _, res := range resources {
			units = append(units, checkUnit{index: len(units), policy: pp, resource: res})
		}
	}

	results := make([]checkResult, len(units))

	workerCount := r.parallelism
	if len(units) < workerCount {
		workerCount = len(units)
	}

	workQueue := make(chan checkUnit, len(units))
	for _, u := range units {
		workQueue <- u
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range workQueue {
				if ctx.Err() != nil {
					return
				}
				results[u.index] = r.runOne(ctx, u, logger)
			}
		}()
	}
	wg.Wait()

	for _, res := range results {
		if !res.ran {
			continue
		}
		report.Checks++
		report.Violations = append(report.Violations, res.violations...)
		if res.err != nil {
			var checkErr *CheckError
			if errors.As(res.err, &checkErr) {
				report.Errors = append(report.Errors, *checkErr)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}

	logger.Info().
		Int("checks", report.Checks).
		Int("violations", len(report.Violations)).
		Int("errors", len(report.Errors)).
		Msg("Pack run complete")

	return report, nil
}

func (r *Runner) runOne(ctx context.Context, u checkUnit, logger zerolog.Logger) checkResult {
	pp, res := u.policy, u.resource

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.StartCheckSpan(ctx, pp.Name, res.Type)
		defer span.End()
		telemetry.SetAttributes(span,
			telemetry.AttrEnforcementLevel.String(string(pp.EnforcementLevel)),
			telemetry.AttrResourceURN.String(res.URN),
		)
	}

	timer := telemetry.NewTimer()
	result := checkResult{ran: true}

	reportFn := func(message string) {
		result.violations = append(result.violations, Violation{
			Policy:           pp.Name,
			EnforcementLevel: pp.EnforcementLevel,
			ResourceType:     res.Type,
			ResourceName:     res.Name,
			URN:              res.URN,
			Message:          message,
		})
		if span != nil {
			telemetry.AddViolationEvent(span, pp.Name, message)
		}
	}

	err := pp.Validate(ctx, res, pp.Config, reportFn)

	outcome := "pass"
	switch {
	case err != nil:
		outcome = "error"
		result.err = &CheckError{
			Policy:       pp.Name,
			ResourceName: res.Name,
			Err:          err,
			Message:      err.Error(),
		}
		logger.Warn().Err(err).
			Str("policy", pp.Name).
			Str("resource", res.Name).
			Msg("Check failed")
		if span != nil {
			telemetry.RecordError(span, err)
		}
	case len(result.violations) > 0:
		outcome = "violation"
	}
	r.metrics.RecordCheckRun(pp.Name, outcome, timer.Duration())

	return result
}

// ParseResources decodes a YAML list of resources.
func ParseResources(data []byte) ([]policy.Resource, error) {
	var resources []policy.Resource
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&resources); err != nil {
		return nil, fmt.Errorf("failed to parse resources: %w", err)
	}
	for i, res := range resources {
		if res.Type == "" {
			return nil, fmt.Errorf("resource %d: type is required", i)
		}
	}
	return resources, nil
}

// LoadResources reads a YAML resource list from path.
func LoadResources(path string) ([]policy.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resources: %w", err)
	}
	return ParseResources(data)
}
