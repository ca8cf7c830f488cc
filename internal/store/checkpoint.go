package store

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/entidb/collection"
	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/internal/errs"
)

// snapshot.bin bucket layout: one bucket per live collection, named
// "records/<cid>" with key = EntityId bytes and value = raw payload,
// plus a fixed "collections" bucket mapping name -> cid and a fixed
// "meta" bucket holding the committed sequence the snapshot was taken
// at. The extra hook lets a caller add further buckets of its own
// inside the same bbolt transaction. No index package uses it: the
// facade passes nil, so index declarations and postings are not
// written to snapshot.bin.
var (
	bucketCollections = []byte("collections")
	bucketMeta        = []byte("meta")
	keyCommittedSeq   = []byte("committed_seq")
)

func recordsBucketName(cid uint32) []byte {
	b := make([]byte, 4+len("records/"))
	copy(b, "records/")
	binary.BigEndian.PutUint32(b[len("records/"):], cid)
	return b
}

// Snapshot is the bbolt-backed compacted checkpoint file (snapshot.bin).
type Snapshot struct {
	db *bolt.DB
}

// OpenSnapshot opens (creating if absent) the snapshot file at path. An
// empty path yields a Snapshot with no backing file: Write only runs
// extra (with a nil tx) and Load returns zero, so nothing is stored
// (matching an in-memory Database, which never restarts from disk
// anyway).
func OpenSnapshot(path string) (*Snapshot, error) {
	if path == "" {
		return &Snapshot{}, nil
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errs.New(errs.IoError, "store.OpenSnapshot", err)
	}
	return &Snapshot{db: db}, nil
}

// Close releases the underlying bbolt handle.
func (s *Snapshot) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errs.New(errs.IoError, "store.Snapshot.Close", err)
	}
	return nil
}

// DB exposes the underlying bbolt handle so callers above this package
// (secondary index subsystems, via the facade) can read or write their
// own buckets inside the same transaction a checkpoint or load uses.
func (s *Snapshot) DB() *bolt.DB {
	return s.db
}

// Write compacts the current visibility map and collection registry
// into the snapshot file and records seq as the checkpoint's committed
// sequence. extra, if non-nil, runs inside the same bbolt.Update
// transaction, letting the caller fold secondary-index state into the
// same atomic write.
func (s *Snapshot) Write(vis *Visibility, reg *collection.Registry, seq uint64, extra func(tx *bolt.Tx) error) error {
	if s.db == nil {
		if extra != nil {
			return extra(nil)
		}
		return nil
	}
	live := vis.LiveSnapshot()

	return s.db.Update(func(tx *bolt.Tx) error {
		// Replace every records/<cid> bucket wholesale: a checkpoint
		// writes the live set, not a delta.
		existingCids, err := existingRecordCIDs(tx)
		if err != nil {
			return err
		}
		for _, cid := range existingCids {
			if _, ok := live[cid]; !ok {
				if err := tx.DeleteBucket(recordsBucketName(cid)); err != nil && err != bolt.ErrBucketNotFound {
					return err
				}
			}
		}
		for cid, entities := range live {
			b, err := tx.CreateBucketIfNotExists(recordsBucketName(cid))
			if err != nil {
				return err
			}
			// Bolt buckets are additive; drop whatever isn't live
			// anymore within this bucket before repopulating.
			var stale [][]byte
			_ = b.ForEach(func(k, _ []byte) error {
				var id identifier.EntityId
				copy(id[:], k)
				if _, ok := entities[id]; !ok {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			})
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			for id, payload := range entities {
				if err := b.Put(id.ToBytes(), payload); err != nil {
					return err
				}
			}
		}

		cb, err := tx.CreateBucketIfNotExists(bucketCollections)
		if err != nil {
			return err
		}
		for _, name := range reg.Names() {
			cid, _ := reg.Lookup(name)
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, cid)
			if err := cb.Put([]byte(name), buf); err != nil {
				return err
			}
		}

		mb, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		seqBuf := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBuf, seq)
		if err := mb.Put(keyCommittedSeq, seqBuf); err != nil {
			return err
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
}

func existingRecordCIDs(tx *bolt.Tx) ([]uint32, error) {
	var cids []uint32
	err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
		if len(name) == 4+len("records/") && string(name[:len("records/")]) == "records/" {
			cids = append(cids, binary.BigEndian.Uint32(name[len("records/"):]))
		}
		return nil
	})
	return cids, err
}

// Load reads the compacted records and collection registry back out of
// the snapshot file. It is a no-op for an in-memory snapshot. extra, if
// non-nil, runs inside the same bbolt.View so secondary-index packages
// can restore their own buckets from the same file.
func (s *Snapshot) Load(vis *Visibility, reg *collection.Registry, extra func(tx *bolt.Tx) error) (committedSeq uint64, err error) {
	if s.db == nil {
		return 0, nil
	}
	entries := make(map[visKey]Entry)

	err = s.db.View(func(tx *bolt.Tx) error {
		if cb := tx.Bucket(bucketCollections); cb != nil {
			if err := cb.ForEach(func(k, v []byte) error {
				if len(v) != 4 {
					return errs.New(errs.IoError, "store.Snapshot.Load", nil)
				}
				reg.Declare(string(k), binary.BigEndian.Uint32(v))
				return nil
			}); err != nil {
				return err
			}
		}

		if err := tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			if len(name) != 4+len("records/") || string(name[:len("records/")]) != "records/" {
				return nil
			}
			cid := binary.BigEndian.Uint32(name[len("records/"):])
			return b.ForEach(func(k, v []byte) error {
				id, err := identifier.FromBytes(k)
				if err != nil {
					return err
				}
				entries[visKey{cid, id}] = Entry{Payload: append([]byte(nil), v...)}
				return nil
			})
		}); err != nil {
			return err
		}

		if mb := tx.Bucket(bucketMeta); mb != nil {
			if v := mb.Get(keyCommittedSeq); v != nil {
				committedSeq = binary.BigEndian.Uint64(v)
			}
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return 0, errs.New(errs.IoError, "store.Snapshot.Load", err)
	}
	vis.Replace(entries)
	return committedSeq, nil
}
