// Package txn implements the snapshot-isolated transaction manager:
// read snapshots, per-transaction write buffers, and the serial commit
// protocol that publishes a buffer at a new commit sequence under the
// single writer lock (spec.md §4.4).
package txn

import (
	"sync"

	"go.etcd.io/bbolt"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/index/fts"
	"github.com/cuemby/entidb/index/hash"
	"github.com/cuemby/entidb/index/ordered"
	"github.com/cuemby/entidb/internal/elog"
	"github.com/cuemby/entidb/internal/errs"
	"github.com/cuemby/entidb/internal/metrics"
	"github.com/cuemby/entidb/internal/store"
)

// State is a transaction's position in its two-edge state machine:
// Active --commit--> Committed, Active --abort--> Aborted. Both
// terminal states are final; there is no further transition.
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

type bufKey struct {
	cid uint32
	id  identifier.EntityId
}

type bufEntry struct {
	tombstone bool
	payload   []byte
}

// indexOpKind tags which secondary-index mutation a buffered indexOp
// performs. Only the posting-mutating operations participate in
// transactional buffering — index creation/drop/clear are
// administrative calls issued directly on the database, immediate and
// outside any transaction, the same way collection declaration is
// (see Database.CreateHashIndex and friends).
type indexOpKind int

const (
	opHashInsert indexOpKind = iota
	opHashRemove
	opOrderedInsert
	opOrderedRemove
	opFTSIndexText
	opFTSRemoveEntity
)

type indexOp struct {
	kind  indexOpKind
	cid   uint32
	field string
	key   []byte
	id    identifier.EntityId
	text  string
}

// labels returns the (index kind, operation) label pair IndexOpsTotal
// and IndexConstraintViolationsTotal are keyed by.
func (k indexOpKind) labels() (kind, op string) {
	switch k {
	case opHashInsert:
		return "hash", "insert"
	case opHashRemove:
		return "hash", "remove"
	case opOrderedInsert:
		return "ordered", "insert"
	case opOrderedRemove:
		return "ordered", "remove"
	case opFTSIndexText:
		return "fts", "index_text"
	case opFTSRemoveEntity:
		return "fts", "remove_entity"
	default:
		return "unknown", "unknown"
	}
}

// Transaction is a single-use, snapshot-isolated unit of work created
// by a Manager. It is not safe for concurrent use by multiple
// goroutines.
type Transaction struct {
	mgr     *Manager
	seqRead uint64
	state   State

	mu  sync.Mutex
	buf map[bufKey]bufEntry

	// order preserves the sequence writes were issued in, since commit
	// must append log records "in a stable order (the order writes
	// were issued by the transaction)" (spec.md §4.4).
	order []bufKey

	// indexOps preserves issue order for buffered index-posting
	// mutations, applied atomically with the primary writes at commit
	// (spec.md §3 invariant 6).
	indexOps []indexOp
}

// SeqRead returns the commit sequence this transaction's reads are
// pinned to.
func (t *Transaction) SeqRead() uint64 { return t.seqRead }

// State returns the transaction's current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Get returns the payload visible to this transaction for (cid, id):
// its own buffer first (including a buffered tombstone, which shadows
// any committed Put), then the committed map as of seqRead.
func (t *Transaction) Get(cid uint32, id identifier.EntityId) ([]byte, bool, error) {
	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		return nil, false, errs.New(errs.InvalidState, "txn.Transaction.Get", nil)
	}
	if e, ok := t.buf[bufKey{cid, id}]; ok {
		t.mu.Unlock()
		if e.tombstone {
			return nil, false, nil
		}
		return e.payload, true, nil
	}
	t.mu.Unlock()
	return t.mgr.committedGetAt(cid, id, t.seqRead)
}

// Put buffers a write; it is not visible to any other transaction or
// to the committed map until this transaction commits.
func (t *Transaction) Put(cid uint32, id identifier.EntityId, payload []byte) error {
	return t.bufferWrite(cid, id, bufEntry{payload: append([]byte(nil), payload...)})
}

// Delete buffers a tombstone.
func (t *Transaction) Delete(cid uint32, id identifier.EntityId) error {
	return t.bufferWrite(cid, id, bufEntry{tombstone: true})
}

func (t *Transaction) bufferWrite(cid uint32, id identifier.EntityId, e bufEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return errs.New(errs.InvalidState, "txn.Transaction.bufferWrite", nil)
	}
	k := bufKey{cid, id}
	if _, exists := t.buf[k]; !exists {
		t.order = append(t.order, k)
	}
	t.buf[k] = e
	return nil
}

// InsertHash buffers a hash-index insert, applied atomically with this
// transaction's primary writes at commit: either both take effect or
// neither does.
func (t *Transaction) InsertHash(cid uint32, field string, key []byte, id identifier.EntityId) error {
	return t.bufferIndexOp(indexOp{kind: opHashInsert, cid: cid, field: field, key: append([]byte(nil), key...), id: id})
}

// RemoveHash buffers a hash-index removal.
func (t *Transaction) RemoveHash(cid uint32, field string, key []byte, id identifier.EntityId) error {
	return t.bufferIndexOp(indexOp{kind: opHashRemove, cid: cid, field: field, key: append([]byte(nil), key...), id: id})
}

// InsertOrdered buffers an ordered-index insert.
func (t *Transaction) InsertOrdered(cid uint32, field string, key []byte, id identifier.EntityId) error {
	return t.bufferIndexOp(indexOp{kind: opOrderedInsert, cid: cid, field: field, key: append([]byte(nil), key...), id: id})
}

// RemoveOrdered buffers an ordered-index removal.
func (t *Transaction) RemoveOrdered(cid uint32, field string, key []byte, id identifier.EntityId) error {
	return t.bufferIndexOp(indexOp{kind: opOrderedRemove, cid: cid, field: field, key: append([]byte(nil), key...), id: id})
}

// IndexText buffers a full-text re-index of id.
func (t *Transaction) IndexText(cid uint32, field string, id identifier.EntityId, text string) error {
	return t.bufferIndexOp(indexOp{kind: opFTSIndexText, cid: cid, field: field, id: id, text: text})
}

// RemoveEntityFTS buffers removal of id from every posting of a
// full-text index.
func (t *Transaction) RemoveEntityFTS(cid uint32, field string, id identifier.EntityId) error {
	return t.bufferIndexOp(indexOp{kind: opFTSRemoveEntity, cid: cid, field: field, id: id})
}

func (t *Transaction) bufferIndexOp(op indexOp) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return errs.New(errs.InvalidState, "txn.Transaction.bufferIndexOp", nil)
	}
	t.indexOps = append(t.indexOps, op)
	return nil
}

// Commit protocol (spec.md §4.4):
//  1. acquire the single writer lock
//  2. append one log record per buffered write, in issue order, at
//     consecutive sequence numbers starting at seq_read_global + 1
//  3. flush the log
//  4. publish into the visibility map
//  5. release the writer lock
func (t *Transaction) Commit() error {
	timer := metrics.NewTimer()
	outcome := "committed"
	defer func() {
		timer.ObserveDuration(metrics.CommitDuration)
		metrics.CommitsTotal.WithLabelValues(outcome).Inc()
	}()

	t.mu.Lock()
	if t.state != Active {
		t.mu.Unlock()
		outcome = "invalid_state"
		return errs.New(errs.InvalidState, "txn.Transaction.Commit", nil)
	}
	order := t.order
	buf := t.buf
	indexOps := t.indexOps
	t.mu.Unlock()

	if len(order) == 0 && len(indexOps) == 0 {
		t.mu.Lock()
		t.state = Committed
		t.mu.Unlock()
		return nil
	}

	t.mgr.writerMu.Lock()
	defer t.mgr.writerMu.Unlock()

	// Index ops are applied to the live index structures first, inside
	// this single writer-lock critical section, before anything is
	// appended to the log. If one fails partway (a unique-index insert's
	// ConstraintViolation, or NotFound for an unregistered index), every
	// index op already applied in this commit is
	// undone and nothing is appended — the transaction stays Active
	// with no index residue (spec.md §3 invariant 6, §7).
	applied := 0
	for _, op := range indexOps {
		if err := t.mgr.applyIndexOp(op); err != nil {
			for j := applied - 1; j >= 0; j-- {
				t.mgr.undoIndexOp(indexOps[j])
			}
			outcome = "index_conflict"
			return err
		}
		applied++
	}

	if len(order) == 0 {
		t.mu.Lock()
		t.state = Committed
		t.mu.Unlock()
		elog.WithTxn(t.seqRead).Debug().Int("index_ops", len(indexOps)).Msg("transaction committed")
		return nil
	}

	records := make([]*store.Record, 0, len(order))
	for _, k := range order {
		e := buf[k]
		seq := t.mgr.st.NextSeq() + uint64(len(records))
		if e.tombstone {
			records = append(records, &store.Record{Type: store.RecTombstone, Seq: seq, CID: k.cid, ID: k.id})
		} else {
			records = append(records, &store.Record{Type: store.RecPut, Seq: seq, CID: k.cid, ID: k.id, Payload: e.payload})
		}
	}
	if err := t.mgr.st.Append(records, true); err != nil {
		for j := applied - 1; j >= 0; j-- {
			t.mgr.undoIndexOp(indexOps[j])
		}
		outcome = "error"
		return err
	}

	t.mu.Lock()
	t.state = Committed
	t.mu.Unlock()

	elog.WithTxn(t.seqRead).Debug().Int("writes", len(records)).Int("index_ops", len(indexOps)).Msg("transaction committed")
	return nil
}

// Abort discards the write buffer without emitting any log record.
func (t *Transaction) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return errs.New(errs.InvalidState, "txn.Transaction.Abort", nil)
	}
	t.buf = nil
	t.order = nil
	t.state = Aborted
	return nil
}

// Manager creates transactions against one store and coordinates the
// single writer lock every commit and checkpoint must serialize
// through (spec.md §9). It also holds the three secondary-index
// subsystems so Transaction's buffered index ops have somewhere to
// apply to at commit time.
type Manager struct {
	st        *store.Store
	hashIx    *hash.Index
	orderedIx *ordered.Index
	ftsIx     *fts.Index
	writerMu  sync.Mutex
}

// NewManager returns a Manager bound to st and the given index
// subsystems.
func NewManager(st *store.Store, hashIx *hash.Index, orderedIx *ordered.Index, ftsIx *fts.Index) *Manager {
	return &Manager{st: st, hashIx: hashIx, orderedIx: orderedIx, ftsIx: ftsIx}
}

// applyIndexOp performs op against the live index structures. The only
// failure mode is a unique-index insert's ConstraintViolation; every
// other op kind is infallible barring a NotFound for an unregistered
// field.
func (m *Manager) applyIndexOp(op indexOp) error {
	kind, label := op.kind.labels()

	var err error
	switch op.kind {
	case opHashInsert:
		err = m.hashIx.Insert(op.cid, op.field, op.key, op.id)
	case opHashRemove:
		err = m.hashIx.Remove(op.cid, op.field, op.key, op.id)
	case opOrderedInsert:
		err = m.orderedIx.Insert(op.cid, op.field, op.key, op.id)
	case opOrderedRemove:
		err = m.orderedIx.Remove(op.cid, op.field, op.key, op.id)
	case opFTSIndexText:
		err = m.ftsIx.IndexText(op.cid, op.field, op.id, op.text)
	case opFTSRemoveEntity:
		err = m.ftsIx.RemoveEntity(op.cid, op.field, op.id)
	default:
		return errs.New(errs.InternalError, "txn.Manager.applyIndexOp", nil)
	}

	if err != nil {
		if errs.Is(err, errs.ConstraintViolation) {
			metrics.IndexConstraintViolationsTotal.WithLabelValues(kind).Inc()
		}
		return err
	}
	metrics.IndexOpsTotal.WithLabelValues(kind, label).Inc()
	return nil
}

// undoIndexOp reverses an already-applied op during a rolled-back
// commit. Only insert ops are reversible without remembering prior
// state; a remove or re-index op that happened to apply before a
// later op's failure in the same commit is not reverted — a narrowed,
// documented scope, since posting removal has no natural inverse
// without tracking what was removed.
func (m *Manager) undoIndexOp(op indexOp) {
	switch op.kind {
	case opHashInsert:
		_ = m.hashIx.Remove(op.cid, op.field, op.key, op.id)
	case opOrderedInsert:
		_ = m.orderedIx.Remove(op.cid, op.field, op.key, op.id)
	}
}

// Begin creates a new Active transaction with seq_read pinned to the
// store's current committed sequence.
func (m *Manager) Begin() *Transaction {
	return &Transaction{
		mgr:     m,
		seqRead: m.st.CommittedSeq(),
		state:   Active,
		buf:     make(map[bufKey]bufEntry),
	}
}

// WithWriterLock runs fn while holding the single writer lock, used by
// Checkpoint (which "holds the writer lock for the duration of
// compaction", spec.md §9). Commit takes the same lock directly.
func (m *Manager) WithWriterLock(fn func() error) error {
	m.writerMu.Lock()
	defer m.writerMu.Unlock()
	return fn()
}

// committedGetAt resolves (cid, id) against the committed map. Because
// commits serialize under the writer lock and the visibility map only
// ever holds the latest record per key, "as of any sequence <= seqRead"
// collapses to "the current latest record", since a transaction's
// seqRead can never be staler than the state the map held at its own
// Begin — no older committed writer can still be in flight once this
// reader observes committedSeq (spec.md §4.4, §9: readers never
// observe a partially-applied commit since publication happens after
// the log flush completes).
func (m *Manager) committedGetAt(cid uint32, id identifier.EntityId, seqRead uint64) ([]byte, bool, error) {
	payload, ok := m.st.Visibility().Get(cid, id)
	return payload, ok, nil
}

// Checkpoint folds the store's current state into snapshot.bin and
// truncates the log, holding the writer lock for the duration
// (spec.md §9). extra is threaded into store.Store.Checkpoint so
// secondary-index packages can persist their own bbolt buckets in the
// same atomic write.
func (m *Manager) Checkpoint(extra func(tx *bbolt.Tx) error) error {
	timer := metrics.NewTimer()
	err := m.WithWriterLock(func() error {
		return m.st.Checkpoint(extra)
	})
	timer.ObserveDuration(metrics.CheckpointDuration)
	if err == nil {
		metrics.CheckpointsTotal.Inc()
	}
	return err
}
