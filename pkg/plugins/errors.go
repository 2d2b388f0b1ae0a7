package plugins

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by errors.Is for the typed errors below.
var (
	ErrManifestMissing = errors.New("dependency manifest not found")
	ErrManifestParse   = errors.New("dependency manifest malformed")
	ErrModuleLoad      = errors.New("bundle could not be loaded")
	ErrMissingExports  = errors.New("bundle is missing required exports")
	ErrVersionMismatch = errors.New("bundle targets a different policy manager version")
	ErrInvalidPattern  = errors.New("invalid dependency pattern")

	// ErrBundleNotFound is wrapped by a ModuleLoadError when no registered or
	// on-disk bundle exists for a module.
	ErrBundleNotFound = errors.New("no bundle found")
)

// ManifestMissingError is returned when no go.mod exists at or above the
// working directory.
type ManifestMissingError struct {
	Dir string
}

func (e *ManifestMissingError) Error() string {
	return fmt.Sprintf("no go.mod found in %s or any parent directory", e.Dir)
}

func (e *ManifestMissingError) Is(target error) bool { return target == ErrManifestMissing }

// ManifestParseError is returned when the manifest cannot be read or parsed.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

func (e *ManifestParseError) Is(target error) bool { return target == ErrManifestParse }

// ModuleLoadError is returned when a matched bundle cannot be resolved or its
// factory fails.
type ModuleLoadError struct {
	Module string
	Err    error
}

func (e *ModuleLoadError) Error() string {
	return fmt.Sprintf("failed to load policy bundle %s: %v", e.Module, e.Err)
}

func (e *ModuleLoadError) Unwrap() error { return e.Err }

func (e *ModuleLoadError) Is(target error) bool { return target == ErrModuleLoad }

// MissingExportsError is returned when a bundle does not declare its own
// version or the policy manager version it was built against.
type MissingExportsError struct {
	Module  string
	Missing []string
}

func (e *MissingExportsError) Error() string {
	return fmt.Sprintf("policy bundle %s does not export %s", e.Module, strings.Join(e.Missing, ", "))
}

func (e *MissingExportsError) Is(target error) bool { return target == ErrMissingExports }

// VersionMismatchError is returned when a bundle was built against a policy
// manager version other than the running engine's.
type VersionMismatchError struct {
	Module   string
	Required string
	Engine   string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("policy bundle %s requires policy manager version %s, but the running version is %s",
		e.Module, e.Required, e.Engine)
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrVersionMismatch }

// PatternError is returned for a dependency pattern that does not compile.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid dependency pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

func (e *PatternError) Is(target error) bool { return target == ErrInvalidPattern }
