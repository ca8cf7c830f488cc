package store

import (
	"io"
	"os"
	"sync"

	"github.com/cuemby/entidb/internal/errs"
)

// Log is the append-only record log backing log.bin. It is safe for
// concurrent readers (Replay is intended to run once, at open, before
// concurrent access begins) but append/truncate must be serialized by
// the caller's writer lock — Log itself only protects its own file
// handle bookkeeping.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File // nil for in-memory stores
	mem  bool
}

// OpenLog opens (creating if absent) the log file at path. If path is
// empty the log is purely in-memory and Append/Truncate are no-ops
// beyond bookkeeping — the caller is expected to keep durability
// entirely in the in-process visibility map in that mode.
func OpenLog(path string) (*Log, error) {
	if path == "" {
		return &Log{mem: true}, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errs.New(errs.IoError, "store.OpenLog", err)
	}
	return &Log{path: path, file: f}, nil
}

// Replay reads every record from the beginning of the log in order and
// invokes fn for each. It stops and returns an error if fn does, or if
// the log is corrupt/truncated mid-record.
func (l *Log) Replay(fn func(*Record) error) error {
	if l.mem {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return errs.New(errs.IoError, "store.Log.Replay", err)
	}
	for {
		rec, err := readRecord(l.file)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	// Leave the file position at EOF so subsequent Append calls extend
	// the file rather than overwrite it.
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return errs.New(errs.IoError, "store.Log.Replay", err)
	}
	return nil
}

// Append writes records to the log in order and, if flush is true,
// fsyncs before returning — the durability point spec.md §4.3
// describes ("a write is durable once flushed to the log").
func (l *Log) Append(records []*Record, flush bool) error {
	if l.mem {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range records {
		if err := writeRecord(l.file, r); err != nil {
			return err
		}
	}
	if flush {
		if err := l.file.Sync(); err != nil {
			return errs.New(errs.IoError, "store.Log.Append", err)
		}
	}
	return nil
}

// Truncate discards the entire log tail, used right after a checkpoint
// has folded every record up to and including seq into snapshot.bin.
// The committed sequence itself is unaffected — Truncate only shrinks
// the replay-on-open work, never semantic state.
func (l *Log) Truncate() error {
	if l.mem {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Truncate(0); err != nil {
		return errs.New(errs.IoError, "store.Log.Truncate", err)
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return errs.New(errs.IoError, "store.Log.Truncate", err)
	}
	return nil
}

// Size returns the current on-disk size of the log in bytes, 0 for an
// in-memory store.
func (l *Log) Size() (int64, error) {
	if l.mem {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.file.Stat()
	if err != nil {
		return 0, errs.New(errs.IoError, "store.Log.Size", err)
	}
	return info.Size(), nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	if l.mem || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return errs.New(errs.IoError, "store.Log.Close", err)
	}
	return nil
}
