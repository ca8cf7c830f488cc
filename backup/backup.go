// Package backup implements the self-describing backup stream: a
// normative byte format covering header, body records, and a CRC32C
// footer (spec.md §6), plus the backup/validate/restore operations
// built on top of it (spec.md §4.8).
package backup

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/index/fts"
	"github.com/cuemby/entidb/index/hash"
	"github.com/cuemby/entidb/index/ordered"
	"github.com/cuemby/entidb/internal/elog"
	"github.com/cuemby/entidb/internal/metrics"
	"github.com/cuemby/entidb/internal/store"
)

// magic is the fixed 8-byte ASCII identifier at the start of every
// backup stream, invariant for this format version.
var magic = [8]byte{'E', 'N', 'T', 'I', 'D', 'B', 'B', 'K'}

const formatVersion uint16 = 1

const (
	flagIncludesTombstones uint16 = 1 << 0
)

// Body record types (spec.md §6).
const (
	recCollectionDecl   byte = 0x01
	recEntityPut        byte = 0x02
	recTombstone        byte = 0x03
	recHashIndexDecl    byte = 0x10
	recOrderedIndexDecl byte = 0x11
	recFTSIndexDecl     byte = 0x12
)

// headerSize is MAGIC(8) + VERSION(2) + FLAGS(2) + CREATED(8) + SOURCE_SEQ(8).
const headerSize = 8 + 2 + 2 + 8 + 8

// footerSize is RECORD_COUNT(8) + CRC32C(4).
const footerSize = 8 + 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Indexes bundles the three secondary-index subsystems so Backup and
// Restore can serialize/recreate their declarations without depending
// on the not-yet-constructed top-level facade.
type Indexes struct {
	Hash    *hash.Index
	Ordered *ordered.Index
	FTS     *fts.Index
}

// Options controls what Backup includes beyond live entity data.
type Options struct {
	IncludeTombstones bool
}

// Backup serializes st's current committed state (and, optionally, its
// tombstones) plus every registered index's declaration into the
// normative backup byte format. createdUnixSeconds is supplied by the
// caller rather than read from the system clock, so this package never
// reads the clock itself. Body records follow map iteration order, so
// two backups of the same state may differ in record order.
func Backup(st *store.Store, ix Indexes, opts Options, createdUnixSeconds uint64) ([]byte, error) {
	var body bytes.Buffer
	var recordCount uint64

	for _, name := range st.Collections().Names() {
		cid, _ := st.Collections().Lookup(name)
		writeBodyRecord(&body, recCollectionDecl, encodeCollectionDecl(cid, name))
		recordCount++
	}

	for cid, entities := range st.Visibility().LiveSnapshot() {
		for id, payload := range entities {
			writeBodyRecord(&body, recEntityPut, encodeEntityPut(cid, id, payload))
			recordCount++
		}
	}

	if opts.IncludeTombstones {
		for cid, ids := range st.Visibility().TombstoneSnapshot() {
			for _, id := range ids {
				writeBodyRecord(&body, recTombstone, encodeTombstone(cid, id))
				recordCount++
			}
		}
	}

	for _, d := range ix.Hash.Decls() {
		writeBodyRecord(&body, recHashIndexDecl, encodeUniqueIndexDecl(d.CID, d.Field, d.Unique))
		recordCount++
	}
	for _, d := range ix.Ordered.Decls() {
		writeBodyRecord(&body, recOrderedIndexDecl, encodeUniqueIndexDecl(d.CID, d.Field, d.Unique))
		recordCount++
	}
	for _, d := range ix.FTS.Decls() {
		writeBodyRecord(&body, recFTSIndexDecl, encodeFTSIndexDecl(d))
		recordCount++
	}

	var flags uint16
	if opts.IncludeTombstones {
		flags |= flagIncludesTombstones
	}

	header := make([]byte, headerSize)
	copy(header[0:8], magic[:])
	binary.BigEndian.PutUint16(header[8:10], formatVersion)
	binary.BigEndian.PutUint16(header[10:12], flags)
	binary.BigEndian.PutUint64(header[12:20], createdUnixSeconds)
	binary.BigEndian.PutUint64(header[20:28], st.CommittedSeq())

	out := make([]byte, 0, len(header)+body.Len()+footerSize)
	out = append(out, header...)
	out = append(out, body.Bytes()...)

	footer := make([]byte, footerSize)
	binary.BigEndian.PutUint64(footer[0:8], recordCount)
	checksum := crc32.Checksum(out, crc32cTable)
	binary.BigEndian.PutUint32(footer[8:12], checksum)
	out = append(out, footer...)

	metrics.BackupsTotal.Inc()
	metrics.BackupBytes.Observe(float64(len(out)))

	elog.Logger.Debug().Uint64("records", recordCount).Int("bytes", len(out)).Msg("backup serialized")
	return out, nil
}

func writeBodyRecord(buf *bytes.Buffer, typ byte, payload []byte) {
	buf.WriteByte(typ)
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
	buf.Write(lenBuf)
	buf.Write(payload)
}

func encodeCollectionDecl(cid uint32, name string) []byte {
	buf := make([]byte, 4+2+len(name))
	binary.BigEndian.PutUint32(buf[0:4], cid)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(name)))
	copy(buf[6:], name)
	return buf
}

func encodeEntityPut(cid uint32, id identifier.EntityId, payload []byte) []byte {
	buf := make([]byte, 4+identifier.Size+4+len(payload))
	off := 0
	binary.BigEndian.PutUint32(buf[off:], cid)
	off += 4
	copy(buf[off:], id.ToBytes())
	off += identifier.Size
	binary.BigEndian.PutUint32(buf[off:], uint32(len(payload)))
	off += 4
	copy(buf[off:], payload)
	return buf
}

func encodeTombstone(cid uint32, id identifier.EntityId) []byte {
	buf := make([]byte, 4+identifier.Size)
	binary.BigEndian.PutUint32(buf[0:4], cid)
	copy(buf[4:], id.ToBytes())
	return buf
}

func encodeUniqueIndexDecl(cid uint32, field string, unique bool) []byte {
	buf := make([]byte, 4+2+len(field)+1)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], cid)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(field)))
	off += 2
	copy(buf[off:], field)
	off += len(field)
	if unique {
		buf[off] = 1
	}
	return buf
}

func encodeFTSIndexDecl(d fts.Decl) []byte {
	buf := make([]byte, 4+2+len(d.Field)+1+2+2)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], d.CID)
	off += 4
	binary.BigEndian.PutUint16(buf[off:], uint16(len(d.Field)))
	off += 2
	copy(buf[off:], d.Field)
	off += len(d.Field)
	if d.CaseSensitive {
		buf[off] = 1
	}
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(d.MinTokenLen))
	off += 2
	binary.BigEndian.PutUint16(buf[off:], uint16(d.MaxTokenLen))
	return buf
}
