package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pulumi/compliance-policies-sub001/pkg/plugins"
	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

const quietConfig = "plugins:\n  patterns: []\ntelemetry:\n  logging:\n    level: error\n"

// run executes policyctl with args and a quiet config.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runWithConfig(t, quietConfig, args...)
}

// runWithConfig executes policyctl with args and the given config document.
func runWithConfig(t *testing.T, config string, args ...string) (string, error) {
	t.Helper()

	configPath, verbose, jsonOutput = "", false, false

	cfg := filepath.Join(t.TempDir(), "policyctl.yaml")
	if err := os.WriteFile(cfg, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", cfg}, args...))

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestListJSON(t *testing.T) {
	out, err := run(t, "list", "--vendor", "aws", "--service", "s3", "--json")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	var listed []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(listed) != 1 || listed[0].Name != "aws-s3-bucket-public-read" {
		t.Errorf("listed = %+v, want only aws-s3-bucket-public-read", listed)
	}
}

func TestStats(t *testing.T) {
	out, err := run(t, "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "Policies registered: 6") {
		t.Errorf("unexpected stats output:\n%s", out)
	}
}

func TestPlugins(t *testing.T) {
	out, err := run(t, "plugins")
	if err != nil {
		t.Fatalf("plugins failed: %v", err)
	}
	if !strings.Contains(out, "builtin") || !strings.Contains(out, "1 bundles loaded") {
		t.Errorf("unexpected plugins output:\n%s", out)
	}
}

func TestPack(t *testing.T) {
	def := writeFile(t, "pack.yaml", `
name: aws-baseline
selections:
  - vendors: [aws]
    frameworks: [pcidss]
  - vendors: [aws]
    enforcementLevel: advisory
`)

	out, err := run(t, "pack", def)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	for _, want := range []string{"Pack:   aws-baseline", "aws-ec2-instance-imdsv2", "4 policies"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckBlocksOnMandatoryViolation(t *testing.T) {
	def := writeFile(t, "pack.yaml", "name: s3\nselections:\n  - services: [s3]\n")
	resources := writeFile(t, "resources.yaml", `
- type: aws:s3/bucket:Bucket
  name: site
  props:
    acl: public-read
`)

	out, err := run(t, "check", def, resources)
	if !errors.Is(err, errBlocked) {
		t.Fatalf("err = %v, want errBlocked", err)
	}
	if !strings.Contains(out, "bucket site uses the public-read ACL") {
		t.Errorf("violation missing from output:\n%s", out)
	}
}

func TestCheckPassesWhenAdvisory(t *testing.T) {
	def := writeFile(t, "pack.yaml", "name: s3\nenforcementLevel: advisory\nselections:\n  - services: [s3]\n")
	resources := writeFile(t, "resources.yaml", "- type: aws:s3/bucket:Bucket\n  name: site\n  props:\n    acl: public-read\n")

	if _, err := run(t, "check", def, resources); err != nil {
		t.Fatalf("advisory violations should not fail the command: %v", err)
	}
}

// noManifestDir returns a directory with no go.mod above it, or skips.
func noManifestDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := plugins.FindManifest(dir); err == nil {
		t.Skip("temp dir is inside a Go module")
	}
	return dir
}

func TestExplicitPatternsRequireManifest(t *testing.T) {
	dir := noManifestDir(t)
	config := "plugins:\n  patterns: [\"acme-*\"]\n  work_dir: " + dir + "\ntelemetry:\n  logging:\n    level: error\n"

	_, err := runWithConfig(t, config, "stats")
	if !errors.Is(err, plugins.ErrManifestMissing) {
		t.Errorf("err = %v, want ErrManifestMissing", err)
	}
}

func TestDefaultPatternToleratesMissingManifest(t *testing.T) {
	dir := noManifestDir(t)
	config := "plugins:\n  work_dir: " + dir + "\ntelemetry:\n  logging:\n    level: error\n"

	out, err := runWithConfig(t, config, "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "Policies registered: 6") {
		t.Errorf("unexpected stats output:\n%s", out)
	}
}

func TestComputeStatsNormalizesVendors(t *testing.T) {
	mgr := policy.NewManager(zerolog.New(nil).Level(zerolog.Disabled))
	register := func(name string, level policy.EnforcementLevel, vendors ...string) {
		t.Helper()
		_, err := mgr.RegisterPolicy(policy.RegisterArgs{
			Policy:  policy.Policy{Name: name, EnforcementLevel: level},
			Vendors: vendors,
		})
		if err != nil {
			t.Fatalf("RegisterPolicy(%s): %v", name, err)
		}
	}
	register("upper", policy.EnforcementAdvisory, "AWS")
	register("lower", policy.EnforcementMandatory, "aws")
	register("mixed", policy.EnforcementAdvisory, "Aws", "aws", "Azure")

	stats := computeStats(mgr)

	want := map[string]int{"aws": 3, "azure": 1}
	if !reflect.DeepEqual(stats.ByVendor, want) {
		t.Errorf("ByVendor = %v, want %v", stats.ByVendor, want)
	}
	if stats.ByLevel[policy.EnforcementAdvisory] != 2 || stats.ByLevel[policy.EnforcementMandatory] != 1 {
		t.Errorf("ByLevel = %v", stats.ByLevel)
	}
	if stats.PolicyCount != 3 {
		t.Errorf("PolicyCount = %d, want 3", stats.PolicyCount)
	}
}
