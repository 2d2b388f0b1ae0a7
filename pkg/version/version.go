// Package version holds the version constants shared by the policy engine and
// the bundles built against it.
package version

// PolicyManager is the version of the policy engine. Extension bundles declare
// the engine version they were built against and the plugin loader refuses
// any bundle whose declaration differs.
//
// Set via ldflags during release builds.
var PolicyManager = "1.0.0"
