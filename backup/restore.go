package backup

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/cuemby/entidb/identifier"
	"github.com/cuemby/entidb/internal/elog"
	"github.com/cuemby/entidb/internal/errs"
	"github.com/cuemby/entidb/internal/metrics"
	"github.com/cuemby/entidb/internal/store"
)

// BackupInfo summarizes a backup stream without loading it into any
// engine (spec.md §4.8).
type BackupInfo struct {
	Valid       bool
	RecordCount uint64
	Size        int
	Timestamp   uint64
}

// ValidateBackup parses header and footer and verifies the checksum
// without loading any record into memory beyond what's needed to scan
// the body once. Any corruption or truncation fails IoError.
func ValidateBackup(data []byte) (BackupInfo, error) {
	const op = "backup.ValidateBackup"
	if len(data) < headerSize+footerSize {
		return BackupInfo{}, errs.New(errs.IoError, op, nil)
	}
	if !bytes.Equal(data[0:8], magic[:]) {
		return BackupInfo{}, errs.New(errs.IoError, op, nil)
	}
	version := binary.BigEndian.Uint16(data[8:10])
	if version != formatVersion {
		return BackupInfo{}, errs.New(errs.IoError, op, nil)
	}
	created := binary.BigEndian.Uint64(data[12:20])

	footerStart := len(data) - footerSize
	wantCount := binary.BigEndian.Uint64(data[footerStart : footerStart+8])
	wantCRC := binary.BigEndian.Uint32(data[footerStart+8 : footerStart+12])

	gotCRC := crc32.Checksum(data[:footerStart], crc32cTable)
	if gotCRC != wantCRC {
		return BackupInfo{}, errs.New(errs.IoError, op, nil)
	}

	body := data[headerSize:footerStart]
	gotCount, err := countBodyRecords(body)
	if err != nil {
		return BackupInfo{}, errs.New(errs.IoError, op, err)
	}
	if gotCount != wantCount {
		return BackupInfo{}, errs.New(errs.IoError, op, nil)
	}

	return BackupInfo{
		Valid:       true,
		RecordCount: wantCount,
		Size:        len(data),
		Timestamp:   created,
	}, nil
}

func countBodyRecords(body []byte) (uint64, error) {
	var n uint64
	for len(body) > 0 {
		if len(body) < 5 {
			return 0, errs.New(errs.IoError, "backup.countBodyRecords", nil)
		}
		length := binary.BigEndian.Uint32(body[1:5])
		if uint32(len(body)-5) < length {
			return 0, errs.New(errs.IoError, "backup.countBodyRecords", nil)
		}
		body = body[5+length:]
		n++
	}
	return n, nil
}

// RestoreStats reports what a successful Restore applied.
type RestoreStats struct {
	EntitiesRestored  uint64
	TombstonesApplied uint64
	BackupTimestamp   uint64
	BackupSequence    uint64
}

// Restore validates data, then atomically applies it into target: a
// single logical transaction where partial failure leaves target
// unchanged (spec.md §4.8). Collections and index declarations are
// recreated via ix; index postings are not part of the backup format
// (spec.md §6 enumerates only Decl record types for indexes) and are
// left for the caller to rebuild, e.g. by re-running index_text/insert
// over the restored entities.
func Restore(target *store.Store, ix Indexes, data []byte) (stats RestoreStats, err error) {
	const op = "backup.Restore"

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.RestoreDuration)
		outcome := "restored"
		if err != nil {
			outcome = "failed"
		}
		metrics.RestoresTotal.WithLabelValues(outcome).Inc()
	}()

	info, err := ValidateBackup(data)
	if err != nil {
		return RestoreStats{}, err
	}

	header := data[0:headerSize]
	sourceSeq := binary.BigEndian.Uint64(header[20:28])

	type planPut struct {
		cid     uint32
		id      identifier.EntityId
		payload []byte
	}
	type planTombstone struct {
		cid uint32
		id  identifier.EntityId
	}
	type planCollection struct {
		cid  uint32
		name string
	}

	var (
		collections []planCollection
		puts        []planPut
		tombstones  []planTombstone
		hashDecls   []planIndexDecl
		orderedDecl []planIndexDecl
		ftsDecls    []planFTSDecl
	)

	body := data[headerSize : len(data)-footerSize]
	for len(body) > 0 {
		typ := body[0]
		length := binary.BigEndian.Uint32(body[1:5])
		payload := body[5 : 5+length]
		body = body[5+length:]

		switch typ {
		case recCollectionDecl:
			if len(payload) < 6 {
				return RestoreStats{}, errs.New(errs.IoError, op, nil)
			}
			cid := binary.BigEndian.Uint32(payload[0:4])
			nameLen := int(binary.BigEndian.Uint16(payload[4:6]))
			if len(payload) < 6+nameLen {
				return RestoreStats{}, errs.New(errs.IoError, op, nil)
			}
			collections = append(collections, planCollection{cid: cid, name: string(payload[6 : 6+nameLen])})

		case recEntityPut:
			if len(payload) < 4+identifier.Size+4 {
				return RestoreStats{}, errs.New(errs.IoError, op, nil)
			}
			off := 0
			cid := binary.BigEndian.Uint32(payload[off:])
			off += 4
			id, err := identifier.FromBytes(payload[off : off+identifier.Size])
			if err != nil {
				return RestoreStats{}, errs.New(errs.IoError, op, err)
			}
			off += identifier.Size
			plen := int(binary.BigEndian.Uint32(payload[off:]))
			off += 4
			if len(payload) < off+plen {
				return RestoreStats{}, errs.New(errs.IoError, op, nil)
			}
			puts = append(puts, planPut{cid: cid, id: id, payload: append([]byte(nil), payload[off:off+plen]...)})

		case recTombstone:
			if len(payload) < 4+identifier.Size {
				return RestoreStats{}, errs.New(errs.IoError, op, nil)
			}
			cid := binary.BigEndian.Uint32(payload[0:4])
			id, err := identifier.FromBytes(payload[4 : 4+identifier.Size])
			if err != nil {
				return RestoreStats{}, errs.New(errs.IoError, op, err)
			}
			tombstones = append(tombstones, planTombstone{cid: cid, id: id})

		case recHashIndexDecl:
			d, err := decodeUniqueIndexDecl(payload)
			if err != nil {
				return RestoreStats{}, errs.New(errs.IoError, op, err)
			}
			hashDecls = append(hashDecls, d)

		case recOrderedIndexDecl:
			d, err := decodeUniqueIndexDecl(payload)
			if err != nil {
				return RestoreStats{}, errs.New(errs.IoError, op, err)
			}
			orderedDecl = append(orderedDecl, d)

		case recFTSIndexDecl:
			d, err := decodeFTSIndexDecl(payload)
			if err != nil {
				return RestoreStats{}, errs.New(errs.IoError, op, err)
			}
			ftsDecls = append(ftsDecls, d)

		default:
			return RestoreStats{}, errs.New(errs.IoError, op, nil)
		}
	}

	// Everything above is pure parsing with no side effects: if we
	// reached here the whole stream is well-formed, so the apply phase
	// below cannot fail partway through for a format reason. This is
	// what makes restore atomic without needing a rollback path.
	for _, c := range collections {
		target.Collections().Declare(c.name, c.cid)
	}
	records := make([]*store.Record, 0, len(puts)+len(tombstones))
	for _, p := range puts {
		records = append(records, &store.Record{Type: store.RecPut, Seq: target.NextSeq() + uint64(len(records)), CID: p.cid, ID: p.id, Payload: p.payload})
	}
	for _, ts := range tombstones {
		records = append(records, &store.Record{Type: store.RecTombstone, Seq: target.NextSeq() + uint64(len(records)), CID: ts.cid, ID: ts.id})
	}
	if len(records) > 0 {
		if err := target.Append(records, true); err != nil {
			return RestoreStats{}, err
		}
	}

	for _, d := range hashDecls {
		ix.Hash.Create(d.cid, d.field, d.unique)
	}
	for _, d := range orderedDecl {
		ix.Ordered.Create(d.cid, d.field, d.unique)
	}
	for _, d := range ftsDecls {
		ix.FTS.Create(d.cid, d.field, d.minTokenLen, d.maxTokenLen, d.caseSensitive)
	}

	elog.Logger.Debug().
		Uint64("entities", uint64(len(puts))).
		Uint64("tombstones", uint64(len(tombstones))).
		Msg("restore applied")

	return RestoreStats{
		EntitiesRestored:  uint64(len(puts)),
		TombstonesApplied: uint64(len(tombstones)),
		BackupTimestamp:   info.Timestamp,
		BackupSequence:    sourceSeq,
	}, nil
}

type planIndexDecl struct {
	cid    uint32
	field  string
	unique bool
}

type planFTSDecl struct {
	cid           uint32
	field         string
	minTokenLen   int
	maxTokenLen   int
	caseSensitive bool
}

func decodeUniqueIndexDecl(payload []byte) (planIndexDecl, error) {
	if len(payload) < 4+2 {
		return planIndexDecl{}, errs.New(errs.IoError, "backup.decodeUniqueIndexDecl", nil)
	}
	off := 0
	cid := binary.BigEndian.Uint32(payload[off:])
	off += 4
	fieldLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if len(payload) < off+fieldLen+1 {
		return planIndexDecl{}, errs.New(errs.IoError, "backup.decodeUniqueIndexDecl", nil)
	}
	field := string(payload[off : off+fieldLen])
	off += fieldLen
	unique := payload[off] != 0
	return planIndexDecl{cid: cid, field: field, unique: unique}, nil
}

func decodeFTSIndexDecl(payload []byte) (planFTSDecl, error) {
	if len(payload) < 4+2 {
		return planFTSDecl{}, errs.New(errs.IoError, "backup.decodeFTSIndexDecl", nil)
	}
	off := 0
	cid := binary.BigEndian.Uint32(payload[off:])
	off += 4
	fieldLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	if len(payload) < off+fieldLen+1+2+2 {
		return planFTSDecl{}, errs.New(errs.IoError, "backup.decodeFTSIndexDecl", nil)
	}
	field := string(payload[off : off+fieldLen])
	off += fieldLen
	caseSensitive := payload[off] != 0
	off++
	minLen := int(binary.BigEndian.Uint16(payload[off:]))
	off += 2
	maxLen := int(binary.BigEndian.Uint16(payload[off:]))
	return planFTSDecl{cid: cid, field: field, minTokenLen: minLen, maxTokenLen: maxLen, caseSensitive: caseSensitive}, nil
}
