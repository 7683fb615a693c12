package ephemeral

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// DefaultRegistryCapacity bounds how many minimized commands a Registry
// retains before evicting the oldest. Without a bound a user who
// minimizes many one-shot commands over a long session would leak a
// Runner (and its log store buffers) per command forever.
const DefaultRegistryCapacity = 50

// Registry is the background collection a UI hands a Runner off to when
// the owning view minimizes: a fresh id, a place to swap in new
// listeners, and nothing else. No process state changes on hand-off.
// It is grounded on the allowlisted driver's size-limited response
// cache (insertion-order eviction once over capacity), adapted from
// caching exec results to retaining live Runner handles.
type Registry struct {
	mu       sync.Mutex
	items    map[string]*Runner
	order    []string
	capacity int
}

func NewRegistry() *Registry {
	return NewRegistryWithCapacity(DefaultRegistryCapacity)
}

func NewRegistryWithCapacity(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRegistryCapacity
	}
	return &Registry{items: make(map[string]*Runner), capacity: capacity}
}

// Handoff stores r under a freshly generated id and returns it,
// evicting the oldest entry if the registry is over capacity. Eviction
// cancels the evicted runner: a command nobody can see anymore still
// holds a child process open otherwise.
func (reg *Registry) Handoff(r *Runner) string {
	id := uuid.NewString()

	reg.mu.Lock()
	reg.items[id] = r
	reg.order = append(reg.order, id)
	var evicted *Runner
	for len(reg.order) > reg.capacity {
		victimID := reg.order[0]
		reg.order = reg.order[1:]
		evicted = reg.items[victimID]
		delete(reg.items, victimID)
	}
	reg.mu.Unlock()

	if evicted != nil {
		_ = evicted.Cancel(context.Background())
	}
	return id
}

func (reg *Registry) Get(id string) (*Runner, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.items[id]
	return r, ok
}

// Remove drops id from the registry without touching the runner's
// process; callers typically call this after Cancel or after the
// command reached a terminal status and the user dismissed it.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.items, id)
	for i, existing := range reg.order {
		if existing == id {
			reg.order = append(reg.order[:i], reg.order[i+1:]...)
			break
		}
	}
}

func (reg *Registry) List() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]string, 0, len(reg.order))
	out = append(out, reg.order...)
	return out
}
