package plugins

import (
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"golang.org/x/mod/modfile"
)

// ManifestName is the dependency manifest the loader looks for.
const ManifestName = "go.mod"

// Dependency is one required module of the host project.
type Dependency struct {
	Path     string
	Version  string
	Indirect bool
}

// FindManifest walks upward from dir and returns the path of the nearest
// go.mod.
func FindManifest(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", &ManifestMissingError{Dir: dir}
	}

	for current := abs; ; {
		candidate := filepath.Join(current, ManifestName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", &ManifestMissingError{Dir: abs}
		}
		current = parent
	}
}

// ReadDependencies parses the manifest at path and returns its requirements
// in file order.
func ReadDependencies(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestParseError{Path: path, Err: err}
	}

	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil, &ManifestParseError{Path: path, Err: err}
	}

	deps := make([]Dependency, 0, len(f.Require))
	for _, r := range f.Require {
		deps = append(deps, Dependency{
			Path:     r.Mod.Path,
			Version:  r.Mod.Version,
			Indirect: r.Indirect,
		})
	}
	return deps, nil
}

// compilePatterns compiles dependency globs with '/' as the separator, so
// "github.com/acme/*-policies" does not cross path segments.
func compilePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, &PatternError{Pattern: p, Err: err}
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// MatchDependencies returns the dependencies whose path matches any pattern,
// in manifest order and without duplicates.
func MatchDependencies(deps []Dependency, patterns []string) ([]Dependency, error) {
	globs, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}

	var matched []Dependency
	seen := make(map[string]bool)
	for _, d := range deps {
		if seen[d.Path] {
			continue
		}
		for _, g := range globs {
			if g.Match(d.Path) {
				matched = append(matched, d)
				seen[d.Path] = true
				break
			}
		}
	}
	return matched, nil
}
