// Package collection implements the collections registry: the mapping
// from caller-chosen collection names to the small integer cids used
// internally everywhere else (spec.md §2 item 5, §3 Collection).
package collection

import (
	"sync"

	"github.com/cuemby/entidb/internal/errs"
)

// Registry maps collection names to monotonically allocated cids. It
// is owned exclusively by the database (spec.md §3 Ownership) and
// mutated only by the single writer; reads may run concurrently with
// that writer.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]uint32
	byCID   map[uint32]string
	nextCID uint32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]uint32),
		byCID:  make(map[uint32]string),
	}
}

// Lookup returns the cid for name and whether it is registered.
func (r *Registry) Lookup(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cid, ok := r.byName[name]
	return cid, ok
}

// Name returns the name registered for cid, if any.
func (r *Registry) Name(cid uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byCID[cid]
	return name, ok
}

// EnsureAllocated returns the cid for name, allocating and registering
// a new monotonic cid if it is not yet known. created reports whether
// this call allocated a new cid. The new cid is visible to other
// readers as soon as this returns; durably recording a CollectionDecl
// for it is left to the caller.
func (r *Registry) EnsureAllocated(name string) (cid uint32, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cid, ok := r.byName[name]; ok {
		return cid, false
	}
	cid = r.nextCID
	r.nextCID++
	r.byName[name] = cid
	r.byCID[cid] = name
	return cid, true
}

// Declare registers an already-allocated (name, cid) pair, as replayed
// from a persisted CollectionDecl record. It advances nextCID past cid
// if necessary so future allocation stays monotonic across restarts.
func (r *Registry) Declare(name string, cid uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = cid
	r.byCID[cid] = name
	if cid >= r.nextCID {
		r.nextCID = cid + 1
	}
}

// Names returns every registered collection name. Order is
// unspecified.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}

// Resolve is a convenience for callers that must fail with NotFound
// rather than silently auto-creating a collection (e.g. index and
// backup code paths operating on a cid the caller claims already
// exists).
func (r *Registry) Resolve(name string) (uint32, error) {
	if cid, ok := r.Lookup(name); ok {
		return cid, nil
	}
	return 0, errs.New(errs.NotFound, "collection.Resolve", nil)
}
