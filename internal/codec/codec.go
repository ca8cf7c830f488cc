// Package codec implements EntiDB's canonical payload encoding: a
// deterministic, definite-length-only binary encoding used to build
// cross-implementation test vectors (spec.md §6). The storage engine
// itself never interprets payload bytes — this codec exists purely so
// bindings in different host languages can agree on one canonical byte
// representation for a value.
//
// The wire shape follows CBOR's major-type layout (unsigned/negative
// integers, byte strings, text, arrays, maps), restricted to what
// spec.md §6 allows: definite lengths only, no floats, no tags, and map
// keys sorted by (encoded length ascending, then lexicographically over
// the encoded key bytes).
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/cuemby/entidb/internal/errs"
)

// Major types, matching CBOR's layout.
const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorText     = 3
	majorArray    = 4
	majorMap      = 5
)

// MapEntry is one key/value pair of a Map value.
type MapEntry struct {
	Key Value
	Val Value
}

// Map is an ordered list of entries. Encode sorts a copy of the list
// canonically before writing; Decode returns entries in the order they
// appear on the wire (it neither sorts nor rejects an out-of-order map),
// so a value produced by this package's Encode round-trips byte-for-byte.
type Map []MapEntry

// Value is any one of: int64 (signed integer, positive or negative),
// uint64 (unsigned integer outside int64's positive range), []byte,
// string, []Value, or Map. Encode also accepts a plain int, encoding it
// as int64. Any other dynamic type passed to Encode is an
// InvalidArgument error.
type Value interface{}

// Encode serializes v into EntiDB's canonical payload encoding.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses b, which must be exactly one encoded value with no
// trailing bytes.
func Decode(b []byte) (Value, error) {
	v, rest, err := decodeValue(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errs.New(errs.InvalidArgument, "codec.Decode", fmt.Errorf("%d trailing bytes", len(rest)))
	}
	return v, nil
}

func encodeValue(buf *bytes.Buffer, v Value) error {
	switch x := v.(type) {
	case int64:
		if x >= 0 {
			writeHead(buf, majorUnsigned, uint64(x))
		} else {
			writeHead(buf, majorNegative, uint64(-1-x))
		}
		return nil
	case uint64:
		writeHead(buf, majorUnsigned, x)
		return nil
	case int:
		return encodeValue(buf, int64(x))
	case []byte:
		writeHead(buf, majorBytes, uint64(len(x)))
		buf.Write(x)
		return nil
	case string:
		writeHead(buf, majorText, uint64(len(x)))
		buf.WriteString(x)
		return nil
	case []Value:
		writeHead(buf, majorArray, uint64(len(x)))
		for _, item := range x {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		return nil
	case Map:
		return encodeMap(buf, x)
	default:
		return errs.New(errs.InvalidArgument, "codec.Encode", fmt.Errorf("unsupported value type %T", v))
	}
}

func encodeMap(buf *bytes.Buffer, m Map) error {
	type encodedEntry struct {
		keyBytes []byte
		valBytes []byte
	}
	entries := make([]encodedEntry, len(m))
	for i, e := range m {
		kb, err := Encode(e.Key)
		if err != nil {
			return err
		}
		vb, err := Encode(e.Val)
		if err != nil {
			return err
		}
		entries[i] = encodedEntry{keyBytes: kb, valBytes: vb}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].keyBytes, entries[j].keyBytes
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return bytes.Compare(a, b) < 0
	})

	writeHead(buf, majorMap, uint64(len(entries)))
	for _, e := range entries {
		buf.Write(e.keyBytes)
		buf.Write(e.valBytes)
	}
	return nil
}

// writeHead writes a major type + definite-length argument, using the
// shortest encoding (direct value 0-23, else a 1/2/4/8-byte follow-on
// field), matching canonical CBOR's length-minimization rule.
func writeHead(buf *bytes.Buffer, major byte, n uint64) {
	switch {
	case n < 24:
		buf.WriteByte(major<<5 | byte(n))
	case n <= 0xFF:
		buf.WriteByte(major<<5 | 24)
		buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(major<<5 | 25)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	case n <= 0xFFFFFFFF:
		buf.WriteByte(major<<5 | 26)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(major<<5 | 27)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		buf.Write(b[:])
	}
}

func readHead(b []byte) (major byte, n uint64, rest []byte, err error) {
	if len(b) == 0 {
		return 0, 0, nil, errs.New(errs.IoError, "codec.readHead", fmt.Errorf("empty input"))
	}
	first := b[0]
	major = first >> 5
	info := first & 0x1F
	rest = b[1:]

	switch {
	case info < 24:
		return major, uint64(info), rest, nil
	case info == 24:
		if len(rest) < 1 {
			return 0, 0, nil, errs.New(errs.IoError, "codec.readHead", fmt.Errorf("truncated length"))
		}
		return major, uint64(rest[0]), rest[1:], nil
	case info == 25:
		if len(rest) < 2 {
			return 0, 0, nil, errs.New(errs.IoError, "codec.readHead", fmt.Errorf("truncated length"))
		}
		return major, uint64(binary.BigEndian.Uint16(rest[:2])), rest[2:], nil
	case info == 26:
		if len(rest) < 4 {
			return 0, 0, nil, errs.New(errs.IoError, "codec.readHead", fmt.Errorf("truncated length"))
		}
		return major, uint64(binary.BigEndian.Uint32(rest[:4])), rest[4:], nil
	case info == 27:
		if len(rest) < 8 {
			return 0, 0, nil, errs.New(errs.IoError, "codec.readHead", fmt.Errorf("truncated length"))
		}
		return major, binary.BigEndian.Uint64(rest[:8]), rest[8:], nil
	default:
		// 28-30 reserved, 31 would be indefinite-length: both rejected.
		return 0, 0, nil, errs.New(errs.InvalidArgument, "codec.readHead", fmt.Errorf("indefinite-length or reserved item rejected"))
	}
}

func decodeValue(b []byte) (Value, []byte, error) {
	major, n, rest, err := readHead(b)
	if err != nil {
		return nil, nil, err
	}

	switch major {
	case majorUnsigned:
		if n <= 1<<63-1 {
			return int64(n), rest, nil
		}
		return n, rest, nil
	case majorNegative:
		return -1 - int64(n), rest, nil
	case majorBytes:
		if uint64(len(rest)) < n {
			return nil, nil, errs.New(errs.IoError, "codec.Decode", fmt.Errorf("truncated byte string"))
		}
		out := make([]byte, n)
		copy(out, rest[:n])
		return out, rest[n:], nil
	case majorText:
		if uint64(len(rest)) < n {
			return nil, nil, errs.New(errs.IoError, "codec.Decode", fmt.Errorf("truncated text"))
		}
		return string(rest[:n]), rest[n:], nil
	case majorArray:
		items := make([]Value, 0, n)
		cur := rest
		for i := uint64(0); i < n; i++ {
			var item Value
			var err error
			item, cur, err = decodeValue(cur)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, item)
		}
		return items, cur, nil
	case majorMap:
		entries := make(Map, 0, n)
		cur := rest
		for i := uint64(0); i < n; i++ {
			var key, val Value
			var err error
			key, cur, err = decodeValue(cur)
			if err != nil {
				return nil, nil, err
			}
			val, cur, err = decodeValue(cur)
			if err != nil {
				return nil, nil, err
			}
			entries = append(entries, MapEntry{Key: key, Val: val})
		}
		return entries, cur, nil
	default:
		return nil, nil, errs.New(errs.InvalidArgument, "codec.Decode", fmt.Errorf("unsupported major type %d", major))
	}
}
