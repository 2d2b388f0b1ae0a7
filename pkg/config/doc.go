// Package config loads the policyctl configuration.
//
// A config file may be YAML or CUE. Both are checked against a closed CUE
// schema before being decoded over Default, so a typo in a key is reported
// instead of silently ignored:
//
//	plugins:
//	  patterns: ["github.com/acme/**-policies"]
//	  search_paths: [./bundles]
//	selection:
//	  default_enforcement_level: mandatory
//	telemetry:
//	  logging:
//	    level: debug
//	    format: json
//
// Relative paths are resolved against the file's directory. The environment
// variables POLICYCTL_LOG_LEVEL, POLICYCTL_ENGINE_VERSION and POLICYCTL_PLUGINS
// override the file.
package config
