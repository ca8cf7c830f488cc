// Package ordered implements the range-capable secondary index: a
// (collection, field) mapping from key bytes to the set of entity ids
// holding that key, kept in lexicographic byte order by a
// github.com/google/btree tree so range(lo, hi) can walk a contiguous
// span instead of scanning every key (spec.md §4.6).
package ordered

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/internal/errs"
)

const treeDegree = 32

type fieldKey struct {
	cid   uint32
	field string
}

// node is the btree element: a key and the set of ids currently
// holding it. The tree orders purely on key; ids never participate in
// comparison.
type node struct {
	key []byte
	ids map[identifier.EntityId]struct{}
}

func nodeLess(a, b *node) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type field struct {
	tree   *btree.BTreeG[*node]
	unique bool
}

// Index holds every ordered index registered across every (cid, field).
// Owned exclusively by the database and mutated only under the writer
// lock; lookups and ranges may run concurrently with the writer.
type Index struct {
	mu     sync.RWMutex
	fields map[fieldKey]*field
}

// New returns an empty ordered-index set.
func New() *Index {
	return &Index{fields: make(map[fieldKey]*field)}
}

// Create registers an ordered index on (cid, field). Re-registering an
// already-registered (cid, field) is a no-op.
func (ix *Index) Create(cid uint32, fieldName string, unique bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	k := fieldKey{cid, fieldName}
	if _, ok := ix.fields[k]; ok {
		return
	}
	ix.fields[k] = &field{
		tree:   btree.NewG(treeDegree, nodeLess),
		unique: unique,
	}
}

// Insert adds id under key. If the index is unique and key already
// holds a distinct member, it fails ConstraintViolation without
// mutating the index.
func (ix *Index) Insert(cid uint32, fieldName string, key []byte, id identifier.EntityId) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	f, ok := ix.fields[fieldKey{cid, fieldName}]
	if !ok {
		return errs.New(errs.NotFound, "ordered.Index.Insert", nil)
	}
	probe := &node{key: key}
	existing, found := f.tree.Get(probe)
	if found {
		if f.unique {
			for other := range existing.ids {
				if other != id {
					return errs.New(errs.ConstraintViolation, "ordered.Index.Insert", nil)
				}
			}
		}
		existing.ids[id] = struct{}{}
		return nil
	}
	n := &node{key: append([]byte(nil), key...), ids: map[identifier.EntityId]struct{}{id: {}}}
	f.tree.ReplaceOrInsert(n)
	return nil
}

// Remove deletes id from key's membership. Absent is a no-op.
func (ix *Index) Remove(cid uint32, fieldName string, key []byte, id identifier.EntityId) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	f, ok := ix.fields[fieldKey{cid, fieldName}]
	if !ok {
		return errs.New(errs.NotFound, "ordered.Index.Remove", nil)
	}
	probe := &node{key: key}
	existing, found := f.tree.Get(probe)
	if !found {
		return nil
	}
	delete(existing.ids, id)
	if len(existing.ids) == 0 {
		f.tree.Delete(probe)
	}
	return nil
}

// Lookup returns the member ids for key in arbitrary order.
func (ix *Index) Lookup(cid uint32, fieldName string, key []byte) ([]identifier.EntityId, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	f, ok := ix.fields[fieldKey{cid, fieldName}]
	if !ok {
		return nil, errs.New(errs.NotFound, "ordered.Index.Lookup", nil)
	}
	existing, found := f.tree.Get(&node{key: key})
	if !found {
		return nil, nil
	}
	out := make([]identifier.EntityId, 0, len(existing.ids))
	for id := range existing.ids {
		out = append(out, id)
	}
	return out, nil
}

// Range returns every id whose key satisfies lo <= key <= hi (both
// inclusive), in ascending key order. A nil lo means unbounded below;
// a nil hi means unbounded above. Within a key, order is unspecified.
func (ix *Index) Range(cid uint32, fieldName string, lo, hi []byte) ([]identifier.EntityId, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	f, ok := ix.fields[fieldKey{cid, fieldName}]
	if !ok {
		return nil, errs.New(errs.NotFound, "ordered.Index.Range", nil)
	}

	var out []identifier.EntityId
	visit := func(n *node) bool {
		if hi != nil && bytes.Compare(n.key, hi) > 0 {
			return false
		}
		for id := range n.ids {
			out = append(out, id)
		}
		return true
	}
	if lo == nil {
		f.tree.Ascend(visit)
	} else {
		f.tree.AscendGreaterOrEqual(&node{key: lo}, visit)
	}
	return out, nil
}

// Len returns the total number of (key, id) pairs held in the index.
func (ix *Index) Len(cid uint32, fieldName string) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	f, ok := ix.fields[fieldKey{cid, fieldName}]
	if !ok {
		return 0, errs.New(errs.NotFound, "ordered.Index.Len", nil)
	}
	n := 0
	f.tree.Ascend(func(nd *node) bool {
		n += len(nd.ids)
		return true
	})
	return n, nil
}

// Drop removes the index entirely. Subsequent operations against
// (cid, field) fail NotFound.
func (ix *Index) Drop(cid uint32, fieldName string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.fields, fieldKey{cid, fieldName})
}

// Exists reports whether (cid, field) is registered.
func (ix *Index) Exists(cid uint32, fieldName string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.fields[fieldKey{cid, fieldName}]
	return ok
}

// Decl describes one registered (cid, field) index's configuration,
// without its postings — used by backup to serialize OrderedIndexDecl
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
	out := make([]Decl, 0, len(ix.fields))
	for k, f := range ix.fields {
		out = append(out, Decl{CID: k.cid, Field: k.field, Unique: f.unique})
	}
	return out
}
