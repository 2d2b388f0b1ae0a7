package builtin

import (
	"context"
	"fmt"

	"github.com/pulumi/compliance-policies-sub001/pkg/checks"
	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

const defaultMinRetentionDays = 7

func imdsv2Check() (policy.RegisterArgs, error) {
	validate, err := checks.CEL(checks.CELRule{
		Expr: `has(resource.props.metadataOptions) &&
			has(resource.props.metadataOptions.httpTokens) &&
			resource.props.metadataOptions.httpTokens == "required"`,
		Message: "instance does not require IMDSv2 session tokens",
	})
	if err != nil {
		return policy.RegisterArgs{}, err
	}

	return classification{
		level:      policy.EnforcementMandatory,
		vendors:    []string{"aws"},
		services:   []string{"ec2"},
		frameworks: []string{"cis"},
		topics:     []string{"security", "network"},
		severity:   "high",
	}.args(policy.Policy{
		Name:        "aws-ec2-instance-imdsv2",
		Description: "EC2 instances must require IMDSv2.",
		Validate:    checks.ForType("aws:ec2/instance:Instance", validate),
	}), nil
}

func uniformAccessCheck() policy.RegisterArgs {
	return classification{
		level:      policy.EnforcementAdvisory,
		vendors:    []string{"gcp"},
		services:   []string{"storage"},
		frameworks: []string{"cis"},
		topics:     []string{"access"},
		severity:   "medium",
	}.args(policy.Policy{
		Name:        "gcp-storage-bucket-uniform-access",
		Description: "Cloud Storage buckets must use uniform bucket-level access.",
		Validate: checks.ForType("gcp:storage/bucket:Bucket", func(_ context.Context, r policy.Resource, _ policy.Config, report policy.ReportFunc) error {
			if enabled, _ := r.Props["uniformBucketLevelAccess"].(bool); !enabled {
				report(fmt.Sprintf("bucket %s does not enforce uniform bucket-level access", r.Name))
			}
			return nil
		}),
	})
}

func backupRetentionCheck() policy.RegisterArgs {
	return classification{
		level:      policy.EnforcementAdvisory,
		vendors:    []string{"aws"},
		services:   []string{"rds"},
		frameworks: []string{"pcidss", "iso27001"},
		topics:     []string{"backup", "resilience"},
		severity:   "medium",
	}.args(policy.Policy{
		Name:        "aws-rds-instance-backup-retention",
		Description: "RDS instances must retain automated backups for a minimum number of days.",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"minRetentionDays": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": 35,
				},
			},
			"additionalProperties": false,
		},
		Validate: checks.ForType("aws:rds/instance:Instance", func(_ context.Context, r policy.Resource, cfg policy.Config, report policy.ReportFunc) error {
			minDays := float64(defaultMinRetentionDays)
			if v, ok := number(cfg["minRetentionDays"]); ok {
				minDays = v
			}

			days, ok := number(r.Props["backupRetentionPeriod"])
			if !ok {
				days = 0
			}
			if days < minDays {
				report(fmt.Sprintf("instance %s retains backups for %g days, at least %g required", r.Name, days, minDays))
			}
			return nil
		}),
	})
}

func ebsEncryptionCheck() (policy.RegisterArgs, error) {
	src, err := policyFS.ReadFile("policies/aws_ebs_volume_encrypted.star")
	if err != nil {
		return policy.RegisterArgs{}, err
	}
	validate, err := checks.StarlarkSource("aws_ebs_volume_encrypted.star", string(src), "validate")
	if err != nil {
		return policy.RegisterArgs{}, err
	}

	return classification{
		level:      policy.EnforcementMandatory,
		vendors:    []string{"aws"},
		services:   []string{"ebs"},
		frameworks: []string{"pcidss", "hitrust"},
		topics:     []string{"encryption", "storage"},
		severity:   "high",
	}.args(policy.Policy{
		Name:        "aws-ebs-volume-encrypted",
		Description: "EBS volumes must be encrypted at rest.",
		Validate:    validate,
	}), nil
}

// number reads a numeric property decoded from YAML or JSON.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
