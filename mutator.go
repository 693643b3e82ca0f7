package spacesync

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"
)

// Mutator is a named deterministic state transition. Given the same dataset
// and the same args it must stage the same writes: no clock, no randomness,
// no I/O. Client-side speculative execution and server-side authoritative
// execution run the identical function; only the server's result is canonical.
type Mutator func(ctx context.Context, tx Tx, args json.RawMessage) error

// Registry maps mutation names to mutators. The domain layer owns the
// registrations; the engine only dispatches. A name nobody registered is
// recorded as a no-op so the issuing client is never stuck retrying.
type Registry struct {
	lock     sync.RWMutex
	mutators map[string]Mutator
}

func NewRegistry() *Registry {
	return &Registry{mutators: make(map[string]Mutator)}
}

// Register binds a mutator to a name, replacing any previous binding.
func (r *Registry) Register(name string, fn Mutator) {
	r.lock.Lock()
	r.mutators[name] = fn
	r.lock.Unlock()
}

func (r *Registry) Lookup(name string) (Mutator, bool) {
	r.lock.RLock()
	fn, ok := r.mutators[name]
	r.lock.RUnlock()
	return fn, ok
}

func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.mutators))
	for name := range r.mutators {
		names = append(names, name)
	}
	return names
}
