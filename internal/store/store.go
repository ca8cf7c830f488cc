package store

import (
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/entidb/collection"
	"github.com/cuemby/entidb/internal/elog"
)

// Store is the durability layer for one database: the append-only log,
// its bbolt-backed compacted checkpoint, the meta watermark file, the
// in-memory visibility map they replay into, and the collection name
// registry. It has no notion of transactions — txn.Manager sits above
// it and is the only caller expected to hold the single writer lock
// while mutating.
type Store struct {
	dir  string
	mem  bool
	log  *Log
	snap *Snapshot
	meta *Meta
	vis  *Visibility
	reg  *collection.Registry

	committedSeq uint64
}

// Open replays dir's log.bin (if any) on top of snapshot.bin (if any)
// and returns a ready Store. dir == "" opens a purely in-memory store:
// no files are created or read, and Checkpoint/Close are no-ops beyond
// bookkeeping. extra, if non-nil, is threaded into the snapshot load so
// secondary-index packages can restore their own bbolt buckets from
// the same file in the same transaction.
func Open(dir string, extra func(tx *bolt.Tx) error) (*Store, error) {
	s := &Store{
		vis: NewVisibility(),
		reg: collection.NewRegistry(),
	}

	if dir == "" {
		s.mem = true
		log, err := OpenLog("")
		if err != nil {
			return nil, err
		}
		snap, err := OpenSnapshot("")
		if err != nil {
			return nil, err
		}
		s.log, s.snap, s.meta = log, snap, OpenMeta("")
		return s, nil
	}

	s.dir = dir
	log, err := OpenLog(filepath.Join(dir, "log.bin"))
	if err != nil {
		return nil, err
	}
	snap, err := OpenSnapshot(filepath.Join(dir, "snapshot.bin"))
	if err != nil {
		return nil, err
	}
	s.log, s.snap = log, snap
	s.meta = OpenMeta(filepath.Join(dir, "meta"))

	seq, err := s.snap.Load(s.vis, s.reg, extra)
	if err != nil {
		return nil, err
	}
	s.committedSeq = seq

	if err := s.log.Replay(func(r *Record) error {
		s.applyRecord(r)
		if r.Seq > s.committedSeq {
			s.committedSeq = r.Seq
		}
		return nil
	}); err != nil {
		return nil, err
	}

	elog.WithDB(filepath.Base(dir)).Info().
		Uint64("committed_seq", s.committedSeq).
		Int("collections", len(s.reg.Names())).
		Msg("store opened")
	return s, nil
}

// applyRecord folds one replayed (or freshly committed) record into
// the in-memory visibility map and collection registry. Secondary
// indexes are not part of the log format at all — postings live only
// in memory and the caller above this package rebuilds them by
// re-issuing insert/index-text over the replayed entities.
func (s *Store) applyRecord(r *Record) {
	switch r.Type {
	case RecCollectionDecl:
		s.reg.Declare(r.Name, r.CID)
	case RecPut:
		s.vis.Apply(r.CID, r.ID, Entry{Seq: r.Seq, Payload: r.Payload})
	case RecTombstone:
		s.vis.Apply(r.CID, r.ID, Entry{Seq: r.Seq, Tombstone: true})
	}
}

// Visibility returns the in-memory latest-record map.
func (s *Store) Visibility() *Visibility { return s.vis }

// Collections returns the name<->cid registry.
func (s *Store) Collections() *collection.Registry { return s.reg }

// CommittedSeq returns the highest sequence number folded into the
// store so far.
func (s *Store) CommittedSeq() uint64 { return s.committedSeq }

// Snapshot exposes the bbolt-backed checkpoint file handle so callers
// above this package can open their own buckets inside Checkpoint's
// transaction via the extra hook.
func (s *Store) Snapshot() *Snapshot { return s.snap }

// LogSize returns the current on-disk size of log.bin in bytes, used by
// the metrics collector to report entidb_log_bytes.
func (s *Store) LogSize() (int64, error) { return s.log.Size() }

// Append durably appends records at the end of the log (or, for an
// in-memory store, only applies them in place) and folds them into the
// visibility map and registry. flush controls whether the log is
// fsynced before returning — the durability point a commit must wait
// on (spec.md §4.3).
func (s *Store) Append(records []*Record, flush bool) error {
	if err := s.log.Append(records, flush); err != nil {
		return err
	}
	var maxSeq uint64
	for _, r := range records {
		s.applyRecord(r)
		if r.Seq > maxSeq {
			maxSeq = r.Seq
		}
	}
	if maxSeq > s.committedSeq {
		s.committedSeq = maxSeq
	}
	if !s.mem {
		return s.meta.Write(s.committedSeq)
	}
	return nil
}

// Checkpoint compacts the current visibility map and registry into
// snapshot.bin, then truncates log.bin (spec.md §4.4: a successful
// checkpoint is required before the log may be discarded). extra runs
// inside the same bbolt transaction as the primary-data write, letting
// secondary-index packages persist their own state atomically with it.
func (s *Store) Checkpoint(extra func(tx *bolt.Tx) error) error {
	if s.mem {
		return nil
	}
	if err := s.snap.Write(s.vis, s.reg, s.committedSeq, extra); err != nil {
		return err
	}
	if err := s.log.Truncate(); err != nil {
		return err
	}
	elog.WithDB(filepath.Base(s.dir)).Info().
		Uint64("seq", s.committedSeq).
		Msg("checkpoint complete")
	return nil
}

// NextSeq returns the sequence number the next commit should use.
func (s *Store) NextSeq() uint64 { return s.committedSeq + 1 }

// ResolveOrDeclareCollection returns cid for name, allocating one and
// appending a durable CollectionDecl record if it is new. seq is the
// sequence the decl (if any) is recorded at.
func (s *Store) ResolveOrDeclareCollection(name string, seq uint64, flush bool) (cid uint32, err error) {
	cid, created := s.reg.EnsureAllocated(name)
	if !created {
		return cid, nil
	}
	rec := &Record{Type: RecCollectionDecl, Seq: seq, CID: cid, Name: name}
	if err := s.Append([]*Record{rec}, flush); err != nil {
		return 0, err
	}
	return cid, nil
}

// Close releases the log and snapshot file handles.
func (s *Store) Close() error {
	if err := s.log.Close(); err != nil {
		return err
	}
	return s.snap.Close()
}
