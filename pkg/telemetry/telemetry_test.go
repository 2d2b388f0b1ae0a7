package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = "" },
			wantErr: "service name",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "bad exporter when enabled",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "zipkin"
			},
			wantErr: "invalid trace exporter",
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: "sampling rate",
		},
		{
			name: "metrics without address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			wantErr: "listen address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SetPoliciesRegistered(3)
	m.RecordSelection([]string{"advisory"}, 1)
	m.RecordReset(4)
	m.RecordPluginLoad("ok")
	m.RecordPackBuilt()
	m.RecordCheckRun("p", "pass", time.Millisecond)

	if m.Registry() != nil {
		t.Error("nil metrics should have nil registry")
	}
	if err := m.StartMetricsServer(); err != nil {
		t.Errorf("StartMetricsServer() on nil metrics: %v", err)
	}
}

func TestMetricsRecording(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test", Path: "/metrics", ListenAddress: ":0"})
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	m.SetPoliciesRegistered(5)
	m.RecordSelection([]string{"mandatory", "mandatory", "advisory"}, 2)
	m.RecordPluginLoad("version_mismatch")

	if got := testutil.ToFloat64(m.policiesRegistered); got != 5 {
		t.Errorf("policies_registered = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.selections); got != 1 {
		t.Errorf("selections_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.policiesDispensed.WithLabelValues("mandatory")); got != 2 {
		t.Errorf("policies_dispensed_total{mandatory} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.policiesRemaining); got != 2 {
		t.Errorf("policies_remaining = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.pluginLoads.WithLabelValues("version_mismatch")); got != 1 {
		t.Errorf("plugin_loads_total = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_policies_registered 5") {
		t.Errorf("metrics output missing gauge:\n%s", rec.Body.String())
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	op := StartOperation(context.Background(), "noop")
	if op.Span != nil {
		t.Error("expected no span without telemetry in context")
	}
	if op.Logger == nil || op.Timer == nil {
		t.Fatal("expected logger and timer")
	}
	op.End(errors.New("ignored"))
}

func TestStartOperationWithTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stdout"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error: %v", err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Fatal("telemetry not found in context")
	}

	op := StartOperation(ctx, "pack.build", AttrPackName.String("baseline"))
	if op.Span == nil {
		t.Fatal("expected a span")
	}
	op.End(nil)
}
