// ABOUTME: Typed value record codec — the on-disk row format for B+Tree values
// ABOUTME: Closed sum type {NULL,BOOL,INT64,FLOAT64,TEXT,BLOB}, dispatch by tag switch

package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Kind is the tag of a Value. Dispatch on Kind is always an explicit
// switch — never runtime polymorphism (see spec.md §9 "Dynamic dispatch on
// value kind").
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindText
	KindBlob
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindBool:
		return "BOOL"
	case KindInt64:
		return "INT64"
	case KindFloat64:
		return "FLOAT64"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Errors surfaced by the codec. These are part of the taxonomy in
// spec.md §7; callers match on errors.Is.
var (
	ErrMalformed = errors.New("record: malformed encoding")
)

// Value is a single field in a Record. Exactly one of the typed members is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind
	B    bool
	I    int64
	F    float64
	S    string // TEXT
	Blob []byte // BLOB
}

func NullValue() Value            { return Value{Kind: KindNull} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, B: b} }
func Int64Value(i int64) Value    { return Value{Kind: KindInt64, I: i} }
func Float64Value(f float64) Value { return Value{Kind: KindFloat64, F: f} }
func TextValue(s string) Value    { return Value{Kind: KindText, S: s} }
func BlobValue(b []byte) Value    { return Value{Kind: KindBlob, Blob: b} }

// Record is an ordered list of fields, the payload of a B+Tree leaf cell or
// overflow chain.
type Record []Value

// Encode serializes a record as:
//
//	[field-count varint][value...]
//
// and each value as [kind u8][length varint][payload]. A length varint is
// always emitted, even for NULL (payload length zero), for uniformity of
// the decoder.
func Encode(rec Record) []byte {
	out := make([]byte, 0, 16+len(rec)*9)
	out = appendUvarint(out, uint64(len(rec)))
	for _, v := range rec {
		out = appendValue(out, v)
	}
	return out
}

func appendValue(out []byte, v Value) []byte {
	out = append(out, byte(v.Kind))
	switch v.Kind {
	case KindNull:
		out = appendUvarint(out, 0)
	case KindBool:
		out = appendUvarint(out, 1)
		if v.B {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case KindInt64:
		payload := appendVarint(nil, v.I)
		out = appendUvarint(out, uint64(len(payload)))
		out = append(out, payload...)
	case KindFloat64:
		out = appendUvarint(out, 8)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.F))
		out = append(out, buf[:]...)
	case KindText:
		b := []byte(v.S)
		out = appendUvarint(out, uint64(len(b)))
		out = append(out, b...)
	case KindBlob:
		out = appendUvarint(out, uint64(len(v.Blob)))
		out = append(out, v.Blob...)
	default:
		panic(fmt.Sprintf("record: unknown kind %d", v.Kind))
	}
	return out
}

// Decode deserializes a record previously produced by Encode. It is total:
// every malformed byte sequence surfaces ErrMalformed rather than panicking.
func Decode(data []byte) (Record, error) {
	fieldCount, n, err := takeUvarint(data)
	if err != nil {
		return nil, err
	}
	data = data[n:]

	// Field count is bounded by the containing page's usable bytes: each
	// field needs at least 2 bytes (kind + zero-length varint), so a field
	// count exceeding the remaining byte length can never be legal.
	if fieldCount > uint64(len(data)) {
		return nil, fmt.Errorf("record: %w: field count %d exceeds available bytes", ErrMalformed, fieldCount)
	}

	rec := make(Record, 0, fieldCount)
	for i := uint64(0); i < fieldCount; i++ {
		v, consumed, err := takeValue(data)
		if err != nil {
			return nil, err
		}
		rec = append(rec, v)
		data = data[consumed:]
	}
	return rec, nil
}

func takeValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, fmt.Errorf("record: %w: truncated value header", ErrMalformed)
	}
	kind := Kind(data[0])
	rest := data[1:]

	length, n, err := takeUvarint(rest)
	if err != nil {
		return Value{}, 0, err
	}
	rest = rest[n:]
	if length > uint64(len(rest)) {
		return Value{}, 0, fmt.Errorf("record: %w: value payload truncated", ErrMalformed)
	}
	payload := rest[:length]
	consumed := 1 + n + int(length)

	switch kind {
	case KindNull:
		if length != 0 {
			return Value{}, 0, fmt.Errorf("record: %w: NULL with non-zero length", ErrMalformed)
		}
		return NullValue(), consumed, nil

	case KindBool:
		if length != 1 {
			return Value{}, 0, fmt.Errorf("record: %w: BOOL length must be 1", ErrMalformed)
		}
		if payload[0] > 1 {
			return Value{}, 0, fmt.Errorf("record: %w: invalid BOOL payload", ErrMalformed)
		}
		return BoolValue(payload[0] == 1), consumed, nil

	case KindInt64:
		i, n2, err := takeVarint(payload)
		if err != nil {
			return Value{}, 0, err
		}
		if n2 != int(length) {
			return Value{}, 0, fmt.Errorf("record: %w: INT64 varint length mismatch", ErrMalformed)
		}
		return Int64Value(i), consumed, nil

	case KindFloat64:
		if length != 8 {
			return Value{}, 0, fmt.Errorf("record: %w: FLOAT64 length must be 8", ErrMalformed)
		}
		bits := binary.LittleEndian.Uint64(payload)
		return Float64Value(math.Float64frombits(bits)), consumed, nil

	case KindText:
		if !utf8.Valid(payload) {
			return Value{}, 0, fmt.Errorf("record: %w: TEXT is not valid UTF-8", ErrMalformed)
		}
		// Copy out of the shared page buffer so the Value outlives it.
		s := string(payload)
		return TextValue(s), consumed, nil

	case KindBlob:
		b := make([]byte, len(payload))
		copy(b, payload)
		return BlobValue(b), consumed, nil

	default:
		return Value{}, 0, fmt.Errorf("record: %w: unknown kind %d", ErrMalformed, kind)
	}
}

// EncodedLen returns the number of bytes Encode(rec) would produce, without
// allocating.
func EncodedLen(rec Record) int {
	n := 0
	u := uint64(len(rec))
	for {
		n++
		if u < 0x80 {
			break
		}
		u >>= 7
	}
	for _, v := range rec {
		n++ // kind byte
		switch v.Kind {
		case KindNull:
			n += 1 // zero-length varint
		case KindBool:
			n += 1 + 1
		case KindInt64:
			vl := varintLen(v.I)
			n += uvarintLen(uint64(vl)) + vl
		case KindFloat64:
			n += uvarintLen(8) + 8
		case KindText:
			n += uvarintLen(uint64(len(v.S))) + len(v.S)
		case KindBlob:
			n += uvarintLen(uint64(len(v.Blob))) + len(v.Blob)
		}
	}
	return n
}

func uvarintLen(u uint64) int {
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}
