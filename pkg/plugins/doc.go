// Package plugins loads policy bundles distributed as Go modules.
//
// A host project lists its bundles as ordinary requirements in go.mod. The
// Loader finds the nearest go.mod, keeps the requirements whose module path
// matches one of the configured glob patterns and loads each one:
//
//   - a Go bundle registered with Register from the bundle package's init
//     function (import it for side effects, like a database/sql driver), or
//   - a Starlark bundle, a policies.star file found under a search path or in
//     the module's directory in the Go module cache.
//
// Before a bundle installs anything it must declare its own version and the
// policy manager version it targets. A bundle built for a different engine
// version is rejected with a VersionMismatchError:
//
//	loader := plugins.NewLoader(mgr, logger)
//	if err := loader.Load(ctx, []string{"github.com/acme/*-policies"}); err != nil {
//	    var mismatch *plugins.VersionMismatchError
//	    if errors.As(err, &mismatch) {
//	        ...
//	    }
//	}
//
// A Starlark bundle looks like this:
//
//	version = "1.4.0"
//	policy_manager_version = "1.0.0"
//
//	def _no_public_buckets(resource, config, report):
//	    if resource["props"].get("acl") == "public-read":
//	        report("bucket is publicly readable")
//
//	policies = [
//	    policy(
//	        name = "acme-s3-no-public-read",
//	        description = "S3 buckets must not be publicly readable.",
//	        enforcement_level = "mandatory",
//	        vendors = ["aws"],
//	        services = ["s3"],
//	        severity = "critical",
//	        validate = _no_public_buckets,
//	    ),
//	]
//
// A policy may name a WASM module instead of a validate function, with a path
// relative to the bundle directory: wasm = "checks/encryption.wasm".
package plugins
