// Package hash implements the equality secondary index: per
// (collection, field) a mapping from key bytes to the set of entity
// ids holding that key, with an optional uniqueness constraint
// (spec.md §4.5).
package hash

import (
	"sync"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/internal/errs"
)

type fieldKey struct {
	cid   uint32
	field string
}

type postings map[string]map[identifier.EntityId]struct{}

// Index holds every hash index registered across every (cid, field).
// It is owned exclusively by the database and mutated only under the
// writer lock; lookups may run concurrently with the writer.
type Index struct {
	mu      sync.RWMutex
	byField map[fieldKey]postings
	unique  map[fieldKey]bool
}

// New returns an empty hash-index set.
func New() *Index {
	return &Index{
		byField: make(map[fieldKey]postings),
		unique:  make(map[fieldKey]bool),
	}
}

// Create registers a hash index on (cid, field). Calling Create again
// on an already-registered (cid, field) is a no-op that leaves the
// existing postings and uniqueness flag untouched.
func (ix *Index) Create(cid uint32, field string, unique bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := fieldKey{cid, field}
	if _, ok := ix.byField[k]; ok {
		return
	}
	ix.byField[k] = make(postings)
	ix.unique[k] = unique
}

// Insert adds id to the posting list for key. If the index is unique
// and key already has a distinct member, it fails ConstraintViolation
// without mutating the index.
func (ix *Index) Insert(cid uint32, field string, key []byte, id identifier.EntityId) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := fieldKey{cid, field}
	p, ok := ix.byField[k]
	if !ok {
		return errs.New(errs.NotFound, "hash.Index.Insert", nil)
	}
	sk := string(key)
	members := p[sk]
	if ix.unique[k] {
		for existing := range members {
			if existing != id {
				return errs.New(errs.ConstraintViolation, "hash.Index.Insert", nil)
			}
		}
	}
	if members == nil {
		members = make(map[identifier.EntityId]struct{})
		p[sk] = members
	}
	members[id] = struct{}{}
	return nil
}

// Remove deletes id from the posting list for key. Absent is a no-op.
func (ix *Index) Remove(cid uint32, field string, key []byte, id identifier.EntityId) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := fieldKey{cid, field}
	p, ok := ix.byField[k]
	if !ok {
		return errs.New(errs.NotFound, "hash.Index.Remove", nil)
	}
	sk := string(key)
	if members, ok := p[sk]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(p, sk)
		}
	}
	return nil
}

// Lookup returns the member ids for key in arbitrary order.
func (ix *Index) Lookup(cid uint32, field string, key []byte) ([]identifier.EntityId, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.byField[fieldKey{cid, field}]
	if !ok {
		return nil, errs.New(errs.NotFound, "hash.Index.Lookup", nil)
	}
	members := p[string(key)]
	out := make([]identifier.EntityId, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out, nil
}

// Len returns the total number of (key, id) pairs held in the index.
func (ix *Index) Len(cid uint32, field string) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	p, ok := ix.byField[fieldKey{cid, field}]
	if !ok {
		return 0, errs.New(errs.NotFound, "hash.Index.Len", nil)
	}
	n := 0
	for _, members := range p {
		n += len(members)
	}
	return n, nil
}

// Drop removes the index entirely. Subsequent operations against
// (cid, field) fail NotFound.
func (ix *Index) Drop(cid uint32, field string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := fieldKey{cid, field}
	delete(ix.byField, k)
	delete(ix.unique, k)
}

// Exists reports whether (cid, field) is registered.
func (ix *Index) Exists(cid uint32, field string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byField[fieldKey{cid, field}]
	return ok
}

// Decl describes one registered (cid, field) index's configuration,
// without its postings — used by backup to serialize HashIndexDecl
// records.
type Decl struct {
	CID    uint32
	Field  string
	Unique bool
}

// Decls returns the configuration of every registered index. Order is
// unspecified.
func (ix *Index) Decls() []Decl {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]Decl, 0, len(ix.byField))
	for k := range ix.byField {
		out = append(out, Decl{CID: k.cid, Field: k.field, Unique: ix.unique[k]})
	}
	return out
}
