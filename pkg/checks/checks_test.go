package checks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

const publicBucketRego = `# Checks that S3 buckets are not publicly readable.
# Applies to aws:s3/bucket:Bucket only.
package compliance.test.s3

import rego.v1

deny contains msg if {
	input.resource.type == "aws:s3/bucket:Bucket"
	input.resource.props.acl == "public-read"
	msg := sprintf("bucket %s is publicly readable", [input.resource.name])
}

deny contains violation if {
	input.resource.type == "aws:s3/bucket:Bucket"
	not input.resource.props.versioning
	input.config.requireVersioning
	violation := {"message": "versioning must be enabled"}
}
`

func bucket(acl string, versioning bool) policy.Resource {
	return policy.Resource{
		Type: "aws:s3/bucket:Bucket",
		Name: "logs",
		Props: map[string]any{
			"acl":        acl,
			"versioning": versioning,
		},
	}
}

func TestParseRegoModule(t *testing.T) {
	module, err := ParseRegoModule("s3", publicBucketRego)
	if err != nil {
		t.Fatalf("ParseRegoModule() error: %v", err)
	}

	if module.Package != "compliance.test.s3" {
		t.Errorf("Package = %q, want compliance.test.s3", module.Package)
	}
	want := "Checks that S3 buckets are not publicly readable. Applies to aws:s3/bucket:Bucket only."
	if module.Description != want {
		t.Errorf("Description = %q, want %q", module.Description, want)
	}

	if _, err := ParseRegoModule("broken", "package x\n deny contains"); err == nil {
		t.Error("expected parse error for broken module")
	}
}

func TestRego(t *testing.T) {
	ctx := context.Background()
	module, err := ParseRegoModule("s3", publicBucketRego)
	if err != nil {
		t.Fatalf("ParseRegoModule() error: %v", err)
	}
	validate, err := Rego(ctx, module)
	if err != nil {
		t.Fatalf("Rego() error: %v", err)
	}

	tests := []struct {
		name     string
		resource policy.Resource
		config   policy.Config
		want     []string
	}{
		{
			name:     "private bucket",
			resource: bucket("private", true),
		},
		{
			name:     "public bucket",
			resource: bucket("public-read", true),
			want:     []string{"bucket logs is publicly readable"},
		},
		{
			name:     "object violation with config",
			resource: bucket("private", false),
			config:   policy.Config{"requireVersioning": true},
			want:     []string{"versioning must be enabled"},
		},
		{
			name:     "other resource type",
			resource: policy.Resource{Type: "aws:ec2/instance:Instance", Name: "web"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(ctx, validate, tt.resource, tt.config)
			if err != nil {
				t.Fatalf("validate error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("violations = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("violation[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadRegoModules(t *testing.T) {
	fsys := fstest.MapFS{
		"rego/s3.rego":       {Data: []byte(publicBucketRego)},
		"rego/README.md":     {Data: []byte("not a module")},
		"rego/nested/x.rego": {Data: []byte("package nested.x\n\nimport rego.v1\n\ndeny contains \"always\" if { true }\n")},
	}

	modules, err := LoadRegoModules(fsys, "rego")
	if err != nil {
		t.Fatalf("LoadRegoModules() error: %v", err)
	}
	if len(modules) != 2 {
		t.Fatalf("loaded %d modules, want 2", len(modules))
	}

	names := map[string]bool{}
	for _, m := range modules {
		names[m.Name] = true
	}
	if !names["s3"] || !names["x"] {
		t.Errorf("module names = %v", names)
	}
}

func TestCEL(t *testing.T) {
	ctx := context.Background()

	t.Run("boolean condition", func(t *testing.T) {
		validate, err := CEL(CELRule{
			Expr:    `resource.props.acl != "public-read"`,
			Message: "bucket must not be public",
		})
		if err != nil {
			t.Fatalf("CEL() error: %v", err)
		}

		got, err := Collect(ctx, validate, bucket("public-read", true), nil)
		if err != nil {
			t.Fatalf("validate error: %v", err)
		}
		if len(got) != 1 || got[0] != "bucket must not be public" {
			t.Errorf("violations = %v", got)
		}

		got, err = Collect(ctx, validate, bucket("private", true), nil)
		if err != nil {
			t.Fatalf("validate error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("violations = %v, want none", got)
		}
	})

	t.Run("list of messages", func(t *testing.T) {
		validate, err := CEL(CELRule{
			Expr: `config.blocked.filter(t, t == resource.type).map(t, "type " + t + " is blocked")`,
		})
		if err != nil {
			t.Fatalf("CEL() error: %v", err)
		}

		cfg := policy.Config{"blocked": []any{"aws:ec2/instance:Instance"}}
		got, err := Collect(ctx, validate, policy.Resource{Type: "aws:ec2/instance:Instance"}, cfg)
		if err != nil {
			t.Fatalf("validate error: %v", err)
		}
		if len(got) != 1 || got[0] != "type aws:ec2/instance:Instance is blocked" {
			t.Errorf("violations = %v", got)
		}
	})

	t.Run("default message", func(t *testing.T) {
		validate, err := CEL(CELRule{Expr: `false`})
		if err != nil {
			t.Fatalf("CEL() error: %v", err)
		}
		got, _ := Collect(ctx, validate, policy.Resource{}, nil)
		if len(got) != 1 || !strings.Contains(got[0], "false") {
			t.Errorf("violations = %v", got)
		}
	})

	t.Run("compile error", func(t *testing.T) {
		if _, err := CEL(CELRule{Expr: `resource.(`}); err == nil {
			t.Error("expected compile error")
		}
	})
}

func TestStarlarkSource(t *testing.T) {
	src := `
def validate(resource, config, report):
    if resource["props"].get("encrypted") != True:
        report("volume %s is not encrypted" % resource["name"])
    for tag in config.get("requiredTags", []):
        if tag not in resource["props"].get("tags", {}):
            report("missing tag %s" % tag)
`
	validate, err := StarlarkSource("ebs.star", src, "validate")
	if err != nil {
		t.Fatalf("StarlarkSource() error: %v", err)
	}

	res := policy.Resource{
		Type: "aws:ebs/volume:Volume",
		Name: "data",
		Props: map[string]any{
			"encrypted": false,
			"tags":      map[string]any{"owner": "platform"},
		},
	}
	cfg := policy.Config{"requiredTags": []any{"owner", "cost-center"}}

	got, err := Collect(context.Background(), validate, res, cfg)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	want := []string{"volume data is not encrypted", "missing tag cost-center"}
	if len(got) != len(want) {
		t.Fatalf("violations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("violation[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := StarlarkSource("empty.star", "x = 1\n", "validate"); err == nil {
		t.Error("expected error for missing validate function")
	}
}

func TestStarlarkCheckError(t *testing.T) {
	validate, err := StarlarkSource("fail.star", "def validate(r, c, report):\n    fail(\"boom\")\n", "validate")
	if err != nil {
		t.Fatalf("StarlarkSource() error: %v", err)
	}
	if _, err := Collect(context.Background(), validate, policy.Resource{}, nil); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected boom error, got %v", err)
	}
}

func TestStarlarkSourceFreezesGlobals(t *testing.T) {
	src := `
seen = []
limits = {"max": 1}

def validate(resource, config, report):
    if len(resource["props"]) > limits["max"]:
        report("too many props")

def remember(resource, config, report):
    seen.append(resource["name"])
`
	validate, err := StarlarkSource("state.star", src, "validate")
	if err != nil {
		t.Fatalf("StarlarkSource() error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := policy.Resource{Name: "r", Props: map[string]any{"a": 1, "b": 2}}
			got, err := Collect(context.Background(), validate, res, nil)
			if err == nil && len(got) != 1 {
				err = fmt.Errorf("got %d violations, want 1", len(got))
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent check: %v", err)
		}
	}

	remember, err := StarlarkSource("state.star", src, "remember")
	if err != nil {
		t.Fatalf("StarlarkSource() error: %v", err)
	}
	_, err = Collect(context.Background(), remember, policy.Resource{Name: "r"}, nil)
	if err == nil || !strings.Contains(err.Error(), "frozen") {
		t.Errorf("err = %v, want frozen list error", err)
	}
}

func TestForType(t *testing.T) {
	calls := 0
	fn := ForType("aws:s3/bucket:Bucket", func(context.Context, policy.Resource, policy.Config, policy.ReportFunc) error {
		calls++
		return nil
	})

	ctx := context.Background()
	_ = fn(ctx, policy.Resource{Type: "aws:s3/bucket:Bucket"}, nil, func(string) {})
	_ = fn(ctx, policy.Resource{Type: "aws:ec2/instance:Instance"}, nil, func(string) {})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	prefixed := ForTypePrefix("aws:s3/", func(context.Context, policy.Resource, policy.Config, policy.ReportFunc) error {
		calls++
		return nil
	})
	_ = prefixed(ctx, policy.Resource{Type: "aws:s3/bucketPolicy:BucketPolicy"}, nil, func(string) {})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestNewWASMCheckRejectsInvalidModule(t *testing.T) {
	if _, err := NewWASMCheck(context.Background(), []byte("not wasm"), WASMConfig{}); err == nil {
		t.Error("expected error for invalid WASM bytes")
	}
}

func TestWASMCheck(t *testing.T) {
	module, err := os.ReadFile(filepath.Join("testdata", "violation.wasm"))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	check, err := NewWASMCheck(ctx, module, WASMConfig{})
	if err != nil {
		t.Fatalf("NewWASMCheck: %v", err)
	}
	defer check.Close(ctx)

	for i := 0; i < 2; i++ {
		msgs, err := Collect(ctx, check.Validate, bucket("private", true), nil)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if len(msgs) != 1 || msgs[0] != "resource is not compliant" {
			t.Errorf("messages = %v", msgs)
		}
	}
}
