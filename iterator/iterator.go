// Package iterator implements the entity cursor: iter(cid) fixes its
// id list at construction, so an entity created afterward is never
// yielded. Payloads are not copied at construction; see Next for how
// later updates and deletions show through (spec.md §4.3, §9).
package iterator

import (
	"github.com/cuemby/entidb/identifier"
)

// visibilityReader is the minimal surface iterator needs from
// store.Visibility; it is defined here rather than imported to avoid
// this package depending on internal/store for a two-method contract.
type visibilityReader interface {
	Get(cid uint32, id identifier.EntityId) ([]byte, bool)
}

// EntityIterator walks a fixed list of ids taken at construction,
// reading each payload from the live visibility map as it goes. It is
// not safe for concurrent use by multiple goroutines.
type EntityIterator struct {
	vis  visibilityReader
	cid  uint32
	ids  []identifier.EntityId
	next int
}

// New builds an iterator over cid's live entities as of right now. ids
// should be the result of a Visibility.List(cid) call; New copies
// nothing further and assumes the caller already took a stable
// snapshot by calling List once.
func New(vis visibilityReader, cid uint32, ids []identifier.EntityId) *EntityIterator {
	return &EntityIterator{vis: vis, cid: cid, ids: append([]identifier.EntityId(nil), ids...)}
}

// Remaining returns how many ids of the construction-time list Next has
// not yet reached. Ids that Next will skip (tombstoned since
// construction) are included in the count.
func (it *EntityIterator) Remaining() int {
	return len(it.ids) - it.next
}

// Next returns the next (id, payload) pair, or ok=false once the
// snapshot is exhausted. The id set is fixed at construction, but each
// payload is re-read from the live visibility map lazily; an id since
// tombstoned or deleted is skipped rather than yielded stale.
func (it *EntityIterator) Next() (id identifier.EntityId, payload []byte, ok bool) {
	for it.next < len(it.ids) {
		candidate := it.ids[it.next]
		it.next++
		if p, present := it.vis.Get(it.cid, candidate); present {
			return candidate, p, true
		}
	}
	return identifier.EntityId{}, nil, false
}

// Close releases the iterator's snapshot. It is a no-op beyond
// marking the iterator exhausted, provided for symmetry with the
// other handle types' close() semantics (spec.md §9); double-close is
// a no-op.
func (it *EntityIterator) Close() error {
	it.ids = nil
	it.next = 0
	return nil
}
