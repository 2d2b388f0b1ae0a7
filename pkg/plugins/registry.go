package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pulumi/compliance-policies-sub001/pkg/policy"
)

// Registrar is where a bundle installs its policies. *policy.Manager
// satisfies it.
type Registrar interface {
	RegisterPolicy(args policy.RegisterArgs) (policy.Policy, error)
}

// Bundle is a loaded extension module. Version and PolicyManagerVersion are
// the two exports the loader requires before Install is called.
type Bundle struct {
	// Name is the module path the bundle was resolved for.
	Name string

	// Version is the bundle's own version.
	Version string

	// PolicyManagerVersion is the engine version the bundle was built against.
	PolicyManagerVersion string

	// Install registers the bundle's policies. It runs only after the version
	// gate has passed.
	Install func(ctx context.Context, target Registrar) error
}

// Factory builds a bundle. Returning a nil bundle is a load failure.
type Factory func() (*Bundle, error)

// Registry maps module paths to bundle factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes a bundle factory available under name. It panics if called
// twice with the same name or with a nil factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory == nil {
		panic("plugins: Register factory is nil")
	}
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("plugins: Register called twice for bundle %s", name))
	}
	r.factories[name] = factory
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered bundle names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Register adds a bundle factory to the process-wide registry. Bundles call
// it from init, the way database/sql drivers do.
func Register(name string, factory Factory) {
	defaultRegistry.Register(name, factory)
}

// Registered returns the names in the process-wide registry.
func Registered() []string {
	return defaultRegistry.Names()
}

// StaticBundle is a convenience for Go bundles whose policies are known at
// compile time.
func StaticBundle(name, version, policyManagerVersion string, args ...policy.RegisterArgs) Factory {
	return func() (*Bundle, error) {
		return &Bundle{
			Name:                 name,
			Version:              version,
			PolicyManagerVersion: policyManagerVersion,
			Install: func(_ context.Context, target Registrar) error {
				for _, a := range args {
					if _, err := target.RegisterPolicy(a); err != nil {
						return err
					}
				}
				return nil
			},
		}, nil
	}
}
