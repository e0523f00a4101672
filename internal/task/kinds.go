package task

import (
	"sort"
	"strconv"
	"sync"

	"github.com/Iron-Ham/kaubo/internal/errors"
)

// DefaultKind names the Base behavior.
const DefaultKind = "default"

// Constructor builds fresh hooks for one task.
type Constructor func() Hooks

// Registry maps task kind names to constructors. The parent and the worker
// process must register the same kinds, which holds when both are the same
// binary populating the registry the same way.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

// NewRegistry returns a registry holding DefaultKind.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]Constructor)}
	r.kinds[DefaultKind] = func() Hooks { return Base{} }
	return r
}

// Register adds or replaces a kind. The constructor must return non-nil
// hooks.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return errors.NewFactoryError("register task kind "+strconv.Quote(name), errors.ErrInvalidTaskKind)
	}
	if ctor() == nil {
		return errors.NewFactoryError("task kind "+strconv.Quote(name)+" builds nil hooks", errors.ErrInvalidTaskKind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[name] = ctor
	return nil
}

// Lookup returns the constructor for name.
func (r *Registry) Lookup(name string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.kinds[name]
	if !ok {
		return nil, errors.NewFactoryError("unknown task kind "+strconv.Quote(name), errors.ErrInvalidTaskKind)
	}
	return ctor, nil
}

// Build constructs hooks of the named kind.
func (r *Registry) Build(name string) (Hooks, error) {
	ctor, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return ctor(), nil
}

// Kinds returns the registered names in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
