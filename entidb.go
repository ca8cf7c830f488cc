// Package entidb is the embedded entity-oriented storage engine: opaque
// binary payloads keyed by a 128-bit entity id within named
// collections, under snapshot-isolated transactions, with hash,
// ordered, and full-text secondary indexes and a self-describing
// backup/restore stream.
//
// Database is the single entry point. Mutations issued directly on it
// (Put, Delete, InsertHash and friends) run as an implicit one-shot
// transaction: begin, apply, commit. Callers that need a primary write
// and its index maintenance to become visible atomically use Begin to
// get an explicit *txn.Transaction and pair Put with InsertHash/
// InsertOrdered/IndexText on it before calling Commit.
//
// Index registration (CreateHashIndex, CreateOrderedIndex,
// CreateFTSIndex, and their Drop/Clear counterparts) is administrative
// rather than transactional, the same way collection declaration is:
// it takes effect immediately and is not part of any transaction's
// buffered state.
package entidb

import (
	"github.com/cuemby/entidb/backup"
	"github.com/cuemby/entidb/collection"
	"github.com/cuemby/entidb/crypto"
	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/index/fts"
	"github.com/cuemby/entidb/index/hash"
	"github.com/cuemby/entidb/index/ordered"
	"github.com/cuemby/entidb/internal/config"
	"github.com/cuemby/entidb/internal/elog"
	"github.com/cuemby/entidb/internal/errs"
	"github.com/cuemby/entidb/internal/metrics"
	"github.com/cuemby/entidb/internal/store"
	"github.com/cuemby/entidb/iterator"
	"github.com/cuemby/entidb/txn"
)

// Options controls how Open constructs a Database.
type Options struct {
	// Dir is the on-disk directory holding log.bin/snapshot.bin/meta.
	// Empty means a purely in-memory database: nothing touches the
	// filesystem and Checkpoint/Close are bookkeeping no-ops.
	Dir string

	// KDFIterations is the PBKDF2 round count DeriveKey uses. Zero
	// falls back to config.Defaults().KDFIterations; the CLI's
	// --config flag is the usual way to override it process-wide.
	KDFIterations int

	// FTSMinTokenLength and FTSMaxTokenLength are the default token
	// bounds CreateFTSIndex uses when a caller passes <= 0 for either.
	// Zero falls back to config.Defaults()'s bounds.
	FTSMinTokenLength int
	FTSMaxTokenLength int
}

func (o Options) withDefaults() Options {
	d := config.Defaults()
	if o.KDFIterations <= 0 {
		o.KDFIterations = d.KDFIterations
	}
	if o.FTSMinTokenLength <= 0 {
		o.FTSMinTokenLength = d.FTSMinTokenLength
	}
	if o.FTSMaxTokenLength <= 0 {
		o.FTSMaxTokenLength = d.FTSMaxTokenLength
	}
	return o
}

// Database is the top-level handle: the durability layer, the
// transaction manager, and the three secondary-index subsystems,
// wired together behind one writer lock.
type Database struct {
	name string
	st   *store.Store
	mgr  *txn.Manager
	hash *hash.Index
	ord  *ordered.Index
	fts  *fts.Index

	opts      Options
	collector *metrics.Collector

	closed bool
}

// Open replays any existing on-disk state under opts.Dir (or starts
// empty for an in-memory database) and returns a ready Database. Index
// declarations and postings are kept in memory only: after a restart
// no index is registered, and the caller re-creates each index
// (CreateHashIndex/CreateOrderedIndex/CreateFTSIndex) and rebuilds its
// postings by iterating the entities and re-issuing InsertHash/
// InsertOrdered/IndexText (see DESIGN.md).
//
// Open also registers the package's prometheus collectors (safe to
// call from every Open across a process) and starts a Collector that
// periodically samples entity counts and log size into them.
func Open(name string, opts Options) (*Database, error) {
	opts = opts.withDefaults()

	st, err := store.Open(opts.Dir, nil)
	if err != nil {
		return nil, err
	}

	metrics.Register()

	db := &Database{
		name: name,
		st:   st,
		hash: hash.New(),
		ord:  ordered.New(),
		fts:  fts.New(),
		opts: opts,
	}
	db.mgr = txn.NewManager(st, db.hash, db.ord, db.fts)

	db.collector = metrics.NewCollector(st)
	db.collector.Start()

	elog.WithDB(name).Info().Str("dir", opts.Dir).Msg("database opened")
	return db, nil
}

// Name returns the database's name, used only for logging scope.
func (db *Database) Name() string { return db.name }

// Collection resolves name to its cid, declaring it on first use.
func (db *Database) Collection(name string) (uint32, error) {
	if db.closed {
		return 0, errs.New(errs.InvalidState, "entidb.Database.Collection", nil)
	}
	return db.st.ResolveOrDeclareCollection(name, db.st.NextSeq(), true)
}

// Collections exposes the underlying registry for read-only queries
// (names, resolving an already-declared collection).
func (db *Database) Collections() *collection.Registry { return db.st.Collections() }

// Get returns the live payload for (cid, id), or ok=false if absent or
// tombstoned.
func (db *Database) Get(cid uint32, id identifier.EntityId) ([]byte, bool) {
	return db.st.Visibility().Get(cid, id)
}

// Put writes payload for (cid, id) as an implicit one-shot transaction.
func (db *Database) Put(cid uint32, id identifier.EntityId, payload []byte) error {
	if db.closed {
		return errs.New(errs.InvalidState, "entidb.Database.Put", nil)
	}
	t := db.mgr.Begin()
	if err := t.Put(cid, id, payload); err != nil {
		return err
	}
	return t.Commit()
}

// Delete tombstones (cid, id) as an implicit one-shot transaction.
func (db *Database) Delete(cid uint32, id identifier.EntityId) error {
	if db.closed {
		return errs.New(errs.InvalidState, "entidb.Database.Delete", nil)
	}
	t := db.mgr.Begin()
	if err := t.Delete(cid, id); err != nil {
		return err
	}
	return t.Commit()
}

// Count returns the number of live entities in cid.
func (db *Database) Count(cid uint32) int {
	return db.st.Visibility().Count(cid)
}

// CommittedSeq returns the engine's current committed sequence.
func (db *Database) CommittedSeq() uint64 { return db.st.CommittedSeq() }

// Iter returns an iterator over cid's live entities whose id list is
// fixed at this call; payloads are read as the iterator advances.
func (db *Database) Iter(cid uint32) *iterator.EntityIterator {
	ids := db.st.Visibility().List(cid)
	return iterator.New(db.st.Visibility(), cid, ids)
}

// Begin starts an explicit transaction against this database.
func (db *Database) Begin() *txn.Transaction { return db.mgr.Begin() }

// DeriveKey derives an AEAD key manager from password and salt at this
// database's configured KDF iteration count (Options.KDFIterations,
// defaulted from config.Defaults() when unset), for callers that want
// to encrypt payloads before Put or decrypt them after Get.
func (db *Database) DeriveKey(password string, salt []byte) (*crypto.Manager, error) {
	return crypto.FromPasswordWithIterations(password, salt, db.opts.KDFIterations)
}

// CreateHashIndex registers a hash index on (cid, field). Immediate,
// not transactional.
func (db *Database) CreateHashIndex(cid uint32, field string, unique bool) {
	db.hash.Create(cid, field, unique)
}

// InsertHash inserts (key, id) into a hash index as an implicit
// one-shot transaction, so a unique-constraint violation never leaves
// a partially-applied write.
func (db *Database) InsertHash(cid uint32, field string, key []byte, id identifier.EntityId) error {
	t := db.mgr.Begin()
	if err := t.InsertHash(cid, field, key, id); err != nil {
		return err
	}
	return t.Commit()
}

// RemoveHash removes (key, id) from a hash index.
func (db *Database) RemoveHash(cid uint32, field string, key []byte, id identifier.EntityId) error {
	t := db.mgr.Begin()
	if err := t.RemoveHash(cid, field, key, id); err != nil {
		return err
	}
	return t.Commit()
}

// LookupHash returns the member ids for key.
func (db *Database) LookupHash(cid uint32, field string, key []byte) ([]identifier.EntityId, error) {
	return db.hash.Lookup(cid, field, key)
}

// DropHashIndex removes a hash index entirely. Immediate, not
// transactional.
func (db *Database) DropHashIndex(cid uint32, field string) { db.hash.Drop(cid, field) }

// CreateOrderedIndex registers a range-capable index on (cid, field).
// Immediate, not transactional.
func (db *Database) CreateOrderedIndex(cid uint32, field string, unique bool) {
	db.ord.Create(cid, field, unique)
}

// InsertOrdered inserts (key, id) into an ordered index as an implicit
// one-shot transaction.
func (db *Database) InsertOrdered(cid uint32, field string, key []byte, id identifier.EntityId) error {
	t := db.mgr.Begin()
	if err := t.InsertOrdered(cid, field, key, id); err != nil {
		return err
	}
	return t.Commit()
}

// RemoveOrdered removes (key, id) from an ordered index.
func (db *Database) RemoveOrdered(cid uint32, field string, key []byte, id identifier.EntityId) error {
	t := db.mgr.Begin()
	if err := t.RemoveOrdered(cid, field, key, id); err != nil {
		return err
	}
	return t.Commit()
}

// RangeOrdered returns every id whose key satisfies lo <= key <= hi.
func (db *Database) RangeOrdered(cid uint32, field string, lo, hi []byte) ([]identifier.EntityId, error) {
	return db.ord.Range(cid, field, lo, hi)
}

// DropOrderedIndex removes an ordered index entirely. Immediate, not
// transactional.
func (db *Database) DropOrderedIndex(cid uint32, field string) { db.ord.Drop(cid, field) }

// CreateFTSIndex registers a full-text index on (cid, field). Immediate,
// not transactional. minTokenLen/maxTokenLen <= 0 fall back to the
// database's configured defaults (Options.FTSMinTokenLength/
// FTSMaxTokenLength, themselves defaulted from config.Defaults()).
func (db *Database) CreateFTSIndex(cid uint32, field string, minTokenLen, maxTokenLen int, caseSensitive bool) {
	if minTokenLen <= 0 {
		minTokenLen = db.opts.FTSMinTokenLength
	}
	if maxTokenLen <= 0 {
		maxTokenLen = db.opts.FTSMaxTokenLength
	}
	db.fts.Create(cid, field, minTokenLen, maxTokenLen, caseSensitive)
}

// IndexText re-indexes id's tokens for (cid, field) as an implicit
// one-shot transaction.
func (db *Database) IndexText(cid uint32, field string, id identifier.EntityId, text string) error {
	t := db.mgr.Begin()
	if err := t.IndexText(cid, field, id, text); err != nil {
		return err
	}
	return t.Commit()
}

// RemoveEntityFTS removes id from every posting of (cid, field).
func (db *Database) RemoveEntityFTS(cid uint32, field string, id identifier.EntityId) error {
	t := db.mgr.Begin()
	if err := t.RemoveEntityFTS(cid, field, id); err != nil {
		return err
	}
	return t.Commit()
}

// SearchFTS returns the AND-semantics match set for q.
func (db *Database) SearchFTS(cid uint32, field, q string) ([]identifier.EntityId, error) {
	return db.fts.Search(cid, field, q)
}

// SearchAnyFTS returns the OR-semantics match set for q.
func (db *Database) SearchAnyFTS(cid uint32, field, q string) ([]identifier.EntityId, error) {
	return db.fts.SearchAny(cid, field, q)
}

// SearchPrefixFTS returns the match set for tokens starting with p.
func (db *Database) SearchPrefixFTS(cid uint32, field, p string) ([]identifier.EntityId, error) {
	return db.fts.SearchPrefix(cid, field, p)
}

// ClearFTSIndex empties postings for (cid, field); the index remains
// registered. Immediate, not transactional.
func (db *Database) ClearFTSIndex(cid uint32, field string) error { return db.fts.Clear(cid, field) }

// DropFTSIndex removes a full-text index entirely. Immediate, not
// transactional.
func (db *Database) DropFTSIndex(cid uint32, field string) { db.fts.Drop(cid, field) }

// Checkpoint folds the log into snapshot.bin and truncates the log
// tail, holding the writer lock for the duration (spec.md §9).
func (db *Database) Checkpoint() error {
	if db.closed {
		return errs.New(errs.InvalidState, "entidb.Database.Checkpoint", nil)
	}
	return db.mgr.Checkpoint(nil)
}

// Backup serializes the current committed state and every registered
// index's declaration into the normative backup byte format.
func (db *Database) Backup(opts backup.Options, createdUnixSeconds uint64) ([]byte, error) {
	return backup.Backup(db.st, backup.Indexes{Hash: db.hash, Ordered: db.ord, FTS: db.fts}, opts, createdUnixSeconds)
}

// Restore atomically applies a backup stream into this database.
// Index postings are not carried by the backup format; callers that
// need them back must re-run InsertHash/InsertOrdered/IndexText over
// the restored entities.
func (db *Database) Restore(data []byte) (backup.RestoreStats, error) {
	return backup.Restore(db.st, backup.Indexes{Hash: db.hash, Ordered: db.ord, FTS: db.fts}, data)
}

// Close releases the log and snapshot file handles. Double-close is a
// no-op.
func (db *Database) Close() error {
	if db.closed {
		return nil
	}
	db.closed = true
	db.collector.Stop()
	elog.WithDB(db.name).Info().Msg("database closed")
	return db.st.Close()
}
