// Package history keeps completed cycles: a bounded in-memory ring for the
// running process and an optional sqlite archive that outlives it.
package history

import (
	"sync"

	"github.com/metalagman/steward/internal/model"
)

// Ring holds the most recent cycles, oldest first.
type Ring struct {
	mu     sync.RWMutex
	size   int
	cycles []model.Cycle
}

// NewRing creates a ring holding at most size cycles. size < 1 is treated as 1.
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{size: size, cycles: make([]model.Cycle, 0, size)}
}

// Push appends c and evicts the oldest cycle when full.
func (r *Ring) Push(c model.Cycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, c)
	if over := len(r.cycles) - r.size; over > 0 {
		r.cycles = append(r.cycles[:0:0], r.cycles[over:]...)
	}
}

// Resize changes the capacity, dropping the oldest cycles if needed.
func (r *Ring) Resize(size int) {
	if size < 1 {
		size = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.size = size
	if over := len(r.cycles) - size; over > 0 {
		r.cycles = append(r.cycles[:0:0], r.cycles[over:]...)
	}
}

// List returns a copy of the held cycles, oldest first.
func (r *Ring) List() []model.Cycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Cycle, len(r.cycles))
	copy(out, r.cycles)
	return out
}

// Get finds a cycle by id.
func (r *Ring) Get(id string) (model.Cycle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.cycles) - 1; i >= 0; i-- {
		if r.cycles[i].ID == id {
			return r.cycles[i], true
		}
	}
	return model.Cycle{}, false
}

// Len returns the number of held cycles.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cycles)
}
