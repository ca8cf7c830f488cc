package store

import (
	"encoding/binary"
	"os"

	"github.com/cuemby/entidb/internal/errs"
)

// Meta is the tiny fixed-layout file tracking the last committed
// sequence number, rewritten after every commit. store.Open does not
// read it back: it replays log.bin in full on top of snapshot.bin, so
// Meta carries no data that isn't independently derivable from the log
// and snapshot. A hand-rolled 8-byte binary.BigEndian file needs no
// library: there is nothing here a parser would buy back.
type Meta struct {
	path string
}

const metaSize = 8

// OpenMeta returns a Meta for the file at path without touching the
// filesystem; the file is created by the first Write. An empty path
// yields an in-memory-only Meta whose Write/Read are no-ops.
func OpenMeta(path string) *Meta {
	return &Meta{path: path}
}

// Write persists seq as the last committed sequence number.
func (m *Meta) Write(seq uint64) error {
	if m.path == "" {
		return nil
	}
	buf := make([]byte, metaSize)
	binary.BigEndian.PutUint64(buf, seq)
	if err := os.WriteFile(m.path, buf, 0600); err != nil {
		return errs.New(errs.IoError, "store.Meta.Write", err)
	}
	return nil
}

// Read returns the last persisted committed sequence number, or 0 if
// the file doesn't exist yet.
func (m *Meta) Read() (uint64, error) {
	if m.path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errs.New(errs.IoError, "store.Meta.Read", err)
	}
	if len(data) != metaSize {
		return 0, errs.New(errs.IoError, "store.Meta.Read", nil)
	}
	return binary.BigEndian.Uint64(data), nil
}
