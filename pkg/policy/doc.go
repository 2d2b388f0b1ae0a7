// Package policy is the catalog and selection engine for compliance checks.
//
// Checks are registered once, together with the vendors, services,
// frameworks, topics and severity they apply to. Pack authors then select
// them by criteria; a selection dispenses each check at most once until the
// selector is reset, so a pack assembled from several overlapping selections
// never contains the same check twice.
//
// # Architecture
//
//  1. Catalog - append-only registry with per-category indices
//  2. Filter - OR within a category, AND across categories
//  3. Selector - exactly-once dispensing with an audit trail
//  4. Manager - a Catalog plus its default Selector
//
// # Usage
//
// Registering a check:
//
//	mgr := policy.NewManager(logger)
//	_, err := mgr.RegisterPolicy(policy.RegisterArgs{
//	    Policy: policy.Policy{
//	        Name:             "aws-s3-bucket-disallow-public-read",
//	        Description:      "Checks that S3 buckets are not publicly readable.",
//	        EnforcementLevel: policy.EnforcementMandatory,
//	        Validate:         checkBucketACL,
//	    },
//	    Vendors:    []string{"aws"},
//	    Services:   []string{"s3"},
//	    Frameworks: []string{"pcidss", "iso27001"},
//	    Severity:   "critical",
//	    Topics:     []string{"storage", "security"},
//	})
//
// Selecting checks for a pack:
//
//	checks := mgr.SelectPolicies(policy.Criteria{
//	    Vendors:    []string{"aws"},
//	    Severities: []string{"high", "critical"},
//	}, policy.EnforcementMandatory)
//
// Classification values are compared case-insensitively. Returned policies
// are detached copies; overriding their enforcement level never changes the
// registered record.
package policy
