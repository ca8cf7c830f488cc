// Package store implements EntiDB's append-only log and the in-memory
// visibility map it replays into: the durability layer beneath the
// transaction manager (spec.md §4.3).
//
// On disk a store directory holds three files, mirroring the teacher's
// BoltStore-per-data-directory layout but splitting the durability
// concerns the way a WAL-based engine does (grounded on the
// LeeNgari-RDBMS WAL writer retrieved alongside this spec):
//
//	log.bin      append-only record log (this file)
//	snapshot.bin compacted checkpoint, bbolt-backed (checkpoint.go)
//	meta         last committed seq only, 8-byte big-endian file (meta.go);
//	             the next cid is not stored here
package store

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/internal/errs"
)

// RecordType tags a log record's kind.
type RecordType byte

const (
	RecCollectionDecl RecordType = 0x01
	RecPut            RecordType = 0x02
	RecTombstone      RecordType = 0x03
)

// recordHeaderSize is Type(1) + Length(4) + Seq(8) + CRC32(4).
const recordHeaderSize = 1 + 4 + 8 + 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Record is one decoded log entry together with the sequence it was
// committed at.
type Record struct {
	Type RecordType
	Seq  uint64

	// CollectionDecl / Put / Tombstone
	CID uint32

	// CollectionDecl
	Name string

	// Put / Tombstone
	ID identifier.EntityId

	// Put
	Payload []byte
}

// encode serializes the record's type-specific payload (everything
// after the shared header).
func (r *Record) encodePayload() []byte {
	switch r.Type {
	case RecCollectionDecl:
		buf := make([]byte, 4+2+len(r.Name))
		binary.BigEndian.PutUint32(buf[0:4], r.CID)
		binary.BigEndian.PutUint16(buf[4:6], uint16(len(r.Name)))
		copy(buf[6:], r.Name)
		return buf
	case RecPut:
		buf := make([]byte, 4+identifier.Size+4+len(r.Payload))
		off := 0
		binary.BigEndian.PutUint32(buf[off:], r.CID)
		off += 4
		copy(buf[off:], r.ID[:])
		off += identifier.Size
		binary.BigEndian.PutUint32(buf[off:], uint32(len(r.Payload)))
		off += 4
		copy(buf[off:], r.Payload)
		return buf
	case RecTombstone:
		buf := make([]byte, 4+identifier.Size)
		binary.BigEndian.PutUint32(buf[0:4], r.CID)
		copy(buf[4:], r.ID[:])
		return buf
	default:
		return nil
	}
}

func decodePayload(typ RecordType, seq uint64, payload []byte) (*Record, error) {
	r := &Record{Type: typ, Seq: seq}
	const op = "store.decodePayload"

	switch typ {
	case RecCollectionDecl:
		if len(payload) < 6 {
			return nil, errs.New(errs.IoError, op, nil)
		}
		r.CID = binary.BigEndian.Uint32(payload[0:4])
		nameLen := int(binary.BigEndian.Uint16(payload[4:6]))
		if len(payload) < 6+nameLen {
			return nil, errs.New(errs.IoError, op, nil)
		}
		r.Name = string(payload[6 : 6+nameLen])
		return r, nil

	case RecPut:
		if len(payload) < 4+identifier.Size+4 {
			return nil, errs.New(errs.IoError, op, nil)
		}
		off := 0
		r.CID = binary.BigEndian.Uint32(payload[off:])
		off += 4
		id, err := identifier.FromBytes(payload[off : off+identifier.Size])
		if err != nil {
			return nil, errs.New(errs.IoError, op, err)
		}
		r.ID = id
		off += identifier.Size
		plen := int(binary.BigEndian.Uint32(payload[off:]))
		off += 4
		if len(payload) < off+plen {
			return nil, errs.New(errs.IoError, op, nil)
		}
		r.Payload = append([]byte(nil), payload[off:off+plen]...)
		return r, nil

	case RecTombstone:
		if len(payload) < 4+identifier.Size {
			return nil, errs.New(errs.IoError, op, nil)
		}
		r.CID = binary.BigEndian.Uint32(payload[0:4])
		id, err := identifier.FromBytes(payload[4 : 4+identifier.Size])
		if err != nil {
			return nil, errs.New(errs.IoError, op, err)
		}
		r.ID = id
		return r, nil

	default:
		return nil, errs.New(errs.IoError, op, nil)
	}
}

// writeRecord frames and writes one record: Type(1) Length(4,BE)
// Seq(8,BE) CRC32C(4,BE over payload) Payload(Length bytes).
func writeRecord(w io.Writer, r *Record) error {
	payload := r.encodePayload()
	header := make([]byte, recordHeaderSize)
	header[0] = byte(r.Type)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(payload)))
	binary.BigEndian.PutUint64(header[5:13], r.Seq)
	binary.BigEndian.PutUint32(header[13:17], crc32.Checksum(payload, crc32cTable))

	if _, err := w.Write(header); err != nil {
		return errs.New(errs.IoError, "store.writeRecord", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errs.New(errs.IoError, "store.writeRecord", err)
		}
	}
	return nil
}

// readRecord reads and validates one framed record from r. It returns
// io.EOF (unwrapped) when the stream is exhausted cleanly at a record
// boundary.
func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errs.New(errs.IoError, "store.readRecord", err)
	}

	typ := RecordType(header[0])
	length := binary.BigEndian.Uint32(header[1:5])
	seq := binary.BigEndian.Uint64(header[5:13])
	wantCRC := binary.BigEndian.Uint32(header[13:17])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errs.New(errs.IoError, "store.readRecord", err)
		}
	}
	if gotCRC := crc32.Checksum(payload, crc32cTable); gotCRC != wantCRC {
		return nil, errs.New(errs.IoError, "store.readRecord", nil)
	}

	return decodePayload(typ, seq, payload)
}
