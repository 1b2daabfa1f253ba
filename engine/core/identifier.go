package core

import (
	"fmt"
	"sync"
)

// IdentifierPool hands out reusable slot indices. Every slot carries a generation that
// is bumped on release, so an index paired with an old generation can be detected as
// stale after the slot was reused.
type IdentifierPool[T any] struct {
	mu          sync.RWMutex
	owners      []T
	used        []bool
	generations []uint32
	free        []uint32
}

func NewIdentifierPool[T any](capacity int) *IdentifierPool[T] {
	return &IdentifierPool[T]{
		owners:      make([]T, 0, capacity),
		used:        make([]bool, 0, capacity),
		generations: make([]uint32, 0, capacity),
	}
}

// Acquire stores owner in a free slot and returns the slot index with its generation.
func (p *IdentifierPool[T]) Acquire(owner T) (uint32, uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Existing free spot. Take it.
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		p.owners[id] = owner
		p.used[id] = true
		return id, p.generations[id]
	}

	// No free slot, push a new one.
	var zero T
	p.owners = append(p.owners, zero)
	p.used = append(p.used, false)
	p.generations = append(p.generations, 1)
	id := uint32(len(p.owners) - 1)
	p.owners[id] = owner
	p.used[id] = true
	return id, p.generations[id]
}

// Lookup returns the owner stored at id if generation still matches.
func (p *IdentifierPool[T]) Lookup(id, generation uint32) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var zero T
	if int(id) >= len(p.owners) || !p.used[id] || p.generations[id] != generation {
		return zero, false
	}
	return p.owners[id], true
}

// Release frees id so it can be handed out again with a new generation.
func (p *IdentifierPool[T]) Release(id, generation uint32) (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	length := uint32(len(p.owners))
	if id >= length {
		return zero, fmt.Errorf("identifier release: id '%d' out of range (max=%d): %w", id, length, ErrInvalidHandle)
	}
	if !p.used[id] || p.generations[id] != generation {
		return zero, fmt.Errorf("identifier release: id '%d' generation %d is stale: %w", id, generation, ErrInvalidHandle)
	}

	owner := p.owners[id]
	p.owners[id] = zero
	p.used[id] = false
	p.generations[id]++
	p.free = append(p.free, id)
	return owner, nil
}

// Len returns the number of live identifiers.
func (p *IdentifierPool[T]) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.owners) - len(p.free)
}

// Each calls fn for every live owner. fn must not call back into the pool.
func (p *IdentifierPool[T]) Each(fn func(id, generation uint32, owner T)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := range p.owners {
		if p.used[i] {
			fn(uint32(i), p.generations[i], p.owners[i])
		}
	}
}
