package exectx

import (
	"fmt"

	"github.com/fyrsmithlabs/execd/internal/jobs"
)

// Compile-time interface satisfaction check.
var _ jobs.ModelResolver = (*StaticResolver)(nil)

// namedModel is a resolved model handle.
type namedModel string

func (m namedModel) Name() string { return string(m) }

// StaticResolver resolves model names against a configured allow-list.
type StaticResolver struct {
	available   map[string]struct{}
	defaultCode string
}

// NewStaticResolver creates a resolver. available lists the model names
// jobs may request; defaultCode is used when a spec has no code-model
// override and must be part of the available set.
func NewStaticResolver(available []string, defaultCode string) (*StaticResolver, error) {
	if len(available) == 0 {
		return nil, fmt.Errorf("at least one available model is required")
	}
	set := make(map[string]struct{}, len(available))
	for _, name := range available {
		set[name] = struct{}{}
	}
	if defaultCode != "" {
		if _, ok := set[defaultCode]; !ok {
			return nil, fmt.Errorf("default code model %q is not in the available set", defaultCode)
		}
	}
	return &StaticResolver{available: set, defaultCode: defaultCode}, nil
}

// Resolve returns the model registered under name.
func (r *StaticResolver) Resolve(name string) (jobs.Model, error) {
	if _, ok := r.available[name]; !ok {
		return nil, fmt.Errorf("model %q is not available", name)
	}
	return namedModel(name), nil
}

// DefaultCodeModel returns the configured default, or nil when none is
// configured.
func (r *StaticResolver) DefaultCodeModel() jobs.Model {
	if r.defaultCode == "" {
		return nil
	}
	return namedModel(r.defaultCode)
}
