package vector

import "sync/atomic"

// Ref holds the index snapshot that queries read. Swapping in a new snapshot
// is atomic: a query sees either the old index or the new one, never a mix.
// Snapshots must not be modified after they are stored.
type Ref struct {
	p atomic.Pointer[MemoryIndex]
}

// Load returns the current snapshot, or nil before the first Swap.
func (r *Ref) Load() *MemoryIndex { return r.p.Load() }

// Swap replaces the current snapshot and returns the previous one.
func (r *Ref) Swap(idx *MemoryIndex) *MemoryIndex { return r.p.Swap(idx) }
