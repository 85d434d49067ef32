package plugin

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable view of the registered plugins.
//
// Descriptors returned by a Snapshot are shared by every reader and must
// not be modified; use Descriptor.Clone to obtain a private copy.
type Snapshot struct {
	version uint64
	byName  map[string]*Descriptor
	ordered []*Descriptor // sorted by name
}

// Version increases by one on every Replace.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of registered plugins, enabled or not.
func (s *Snapshot) Len() int {
	return len(s.ordered)
}

// Lookup returns the descriptor registered under name.
func (s *Snapshot) Lookup(name string) (*Descriptor, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// All returns every registered descriptor, sorted by name.
func (s *Snapshot) All() []*Descriptor {
	return slices.Clone(s.ordered)
}

// Enabled returns the enabled descriptors, sorted by name.
func (s *Snapshot) Enabled() []*Descriptor {
	out := make([]*Descriptor, 0, len(s.ordered))
	for _, d := range s.ordered {
		if d.Enabled() {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the registered plugin names, sorted.
func (s *Snapshot) Names() []string {
	names := make([]string, len(s.ordered))
	for i, d := range s.ordered {
		names[i] = d.Name()
	}
	return names
}

// Registry holds the current plugin set. Reads are lock-free; Replace
// swaps the whole set atomically.
type Registry struct {
	// mu serializes writers so versions are assigned in order.
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry holding ds. Invalid descriptors are
// skipped.
func NewRegistry(ds ...*Descriptor) *Registry {
	r := &Registry{}
	r.current.Store(&Snapshot{byName: map[string]*Descriptor{}})
	if len(ds) > 0 {
		_ = r.Replace(ds)
	}
	return r
}

// Snapshot returns the current plugin set.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Replace installs a copy of ds as the new plugin set.
//
// Invalid descriptors are left out and reported through the returned
// error; the valid ones are installed regardless. When two descriptors
// share a name the later one wins.
func (r *Registry) Replace(ds []*Descriptor) error {
	byName := make(map[string]*Descriptor, len(ds))
	var errs []error
	for i, d := range ds {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("descriptor %d: %w", i, err))
			continue
		}
		byName[d.Name()] = d.Clone()
	}

	ordered := make([]*Descriptor, 0, len(byName))
	for _, d := range byName {
		ordered = append(ordered, d)
	}
	slices.SortFunc(ordered, func(a, b *Descriptor) int {
		return strings.Compare(a.Name(), b.Name())
	})

	r.mu.Lock()
	next := &Snapshot{
		version: r.current.Load().version + 1,
		byName:  byName,
		ordered: ordered,
	}
	r.current.Store(next)
	r.mu.Unlock()

	return errors.Join(errs...)
}

// Get returns a private copy of the named descriptor.
func (r *Registry) Get(name string) (*Descriptor, error) {
	d, ok := r.Snapshot().Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return d.Clone(), nil
}
