package store

import (
	"sync"

	"github.com/cuemby/entidb/identifier"
)

// visKey is the visibility map's composite key: a committed record is
// addressed by (collection, entity).
type visKey struct {
	cid uint32
	id  identifier.EntityId
}

// Entry is the latest committed record known for one key: either a
// live payload or a tombstone.
type Entry struct {
	Seq       uint64
	Tombstone bool
	Payload   []byte
}

// Visibility is the in-memory map from (cid, id) to the latest
// committed record (spec.md §3 invariant 2). It is read-optimized: the
// single writer holds an external lock while mutating, but Get/Count/
// List may run concurrently with each other and with the writer,
// observing a torn-but-consistent-enough snapshot the way a sharded or
// copy-on-write map would (spec.md §9 "Concurrency primitives" calls
// for exactly this shape; a sync.RWMutex-guarded map is the minimal
// instance of it).
type Visibility struct {
	mu      sync.RWMutex
	entries map[visKey]Entry
}

// NewVisibility returns an empty visibility map.
func NewVisibility() *Visibility {
	return &Visibility{entries: make(map[visKey]Entry)}
}

// Apply installs a new latest-record for (cid, id). Callers must only
// call this with monotonically increasing seq per key in practice
// (the transaction manager guarantees this), but Apply itself does not
// enforce it — it is not reentrant-safe against out-of-order callers.
func (v *Visibility) Apply(cid uint32, id identifier.EntityId, e Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[visKey{cid, id}] = e
}

// Get returns the live payload for (cid, id), or (nil, false) if the
// key is absent or its latest record is a tombstone.
func (v *Visibility) Get(cid uint32, id identifier.EntityId) ([]byte, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.entries[visKey{cid, id}]
	if !ok || e.Tombstone {
		return nil, false
	}
	return e.Payload, true
}

// List returns the id of every live entry in cid. Order is
// unspecified; callers that need a stable snapshot should copy the
// result immediately, which List already does.
func (v *Visibility) List(cid uint32) []identifier.EntityId {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []identifier.EntityId
	for k, e := range v.entries {
		if k.cid == cid && !e.Tombstone {
			out = append(out, k.id)
		}
	}
	return out
}

// Count returns the number of live entries in cid.
func (v *Visibility) Count(cid uint32) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n := 0
	for k, e := range v.entries {
		if k.cid == cid && !e.Tombstone {
			n++
		}
	}
	return n
}

// LiveSnapshot returns every live (cid, id, payload) triple, used by
// checkpoint compaction and backup.
func (v *Visibility) LiveSnapshot() map[uint32]map[identifier.EntityId][]byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[uint32]map[identifier.EntityId][]byte)
	for k, e := range v.entries {
		if e.Tombstone {
			continue
		}
		m, ok := out[k.cid]
		if !ok {
			m = make(map[identifier.EntityId][]byte)
			out[k.cid] = m
		}
		m[k.id] = e.Payload
	}
	return out
}

// TombstoneSnapshot returns every (cid, id) currently tombstoned, used
// by backup_with_options(include_tombstones=true).
func (v *Visibility) TombstoneSnapshot() map[uint32][]identifier.EntityId {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[uint32][]identifier.EntityId)
	for k, e := range v.entries {
		if e.Tombstone {
			out[k.cid] = append(out[k.cid], k.id)
		}
	}
	return out
}

// Replace atomically swaps the entire map, used after loading a
// checkpoint snapshot at open.
func (v *Visibility) Replace(entries map[visKey]Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = entries
}
