package record

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{
		NullValue(),
		BoolValue(true),
		BoolValue(false),
		Int64Value(0),
		Int64Value(1),
		Int64Value(-1),
		Int64Value(63),
		Int64Value(64),
		Int64Value(math.MaxInt64),
		Int64Value(math.MinInt64),
		Float64Value(3.14159),
		Float64Value(0),
		Float64Value(-0.0),
		TextValue(""),
		TextValue("hello, world"),
		TextValue("héllo wörld — NFKC café"),
		BlobValue(nil),
		BlobValue([]byte{0x00, 0x01, 0xFF, 0xFE}),
	}

	buf := Encode(rec)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: unexpected error: %v", err)
	}
	if len(got) != len(rec) {
		t.Fatalf("Decode: got %d fields, want %d", len(got), len(rec))
	}
	for i := range rec {
		if got[i].Kind != rec[i].Kind {
			t.Fatalf("field %d: kind mismatch got %v want %v", i, got[i].Kind, rec[i].Kind)
		}
		switch rec[i].Kind {
		case KindNull:
		case KindBool:
			if got[i].B != rec[i].B {
				t.Fatalf("field %d: BOOL mismatch", i)
			}
		case KindInt64:
			if got[i].I != rec[i].I {
				t.Fatalf("field %d: INT64 mismatch got %d want %d", i, got[i].I, rec[i].I)
			}
		case KindFloat64:
			if math.Float64bits(got[i].F) != math.Float64bits(rec[i].F) {
				t.Fatalf("field %d: FLOAT64 mismatch got %v want %v", i, got[i].F, rec[i].F)
			}
		case KindText:
			if got[i].S != rec[i].S {
				t.Fatalf("field %d: TEXT mismatch got %q want %q", i, got[i].S, rec[i].S)
			}
		case KindBlob:
			if !bytes.Equal(got[i].Blob, rec[i].Blob) {
				t.Fatalf("field %d: BLOB mismatch", i)
			}
		}
	}
}

func TestIntegerEncodingLengths(t *testing.T) {
	// spec.md concrete scenario S4: encode(0), encode(1), encode(-1), encode(63)
	// each produce a 1-byte varint payload; encode(64) produces 2 bytes.
	cases := []struct {
		x        int64
		wantLen  int
	}{
		{0, 1}, {1, 1}, {-1, 1}, {63, 1}, {64, 2},
	}
	for _, c := range cases {
		buf := Encode(Record{Int64Value(c.x)})
		// [field-count varint=1][kind u8][length varint][payload]
		rec, err := Decode(buf)
		if err != nil {
			t.Fatalf("encode(%d): Decode error: %v", c.x, err)
		}
		if rec[0].I != c.x {
			t.Fatalf("encode(%d): round trip got %d", c.x, rec[0].I)
		}
		// byte 0 = field count (1), byte 1 = kind, byte 2 = length varint (==1 byte since wantLen<128)
		payloadLen := int(buf[2])
		if payloadLen != c.wantLen {
			t.Errorf("encode(%d): payload length %d, want %d", c.x, payloadLen, c.wantLen)
		}
	}
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	buf := Encode(Record{TextValue("placeholder")})
	// Corrupt the TEXT payload bytes with an invalid UTF-8 sequence.
	textStart := len(buf) - len("placeholder")
	corrupt := append([]byte(nil), buf[:textStart]...)
	corrupt = append(corrupt, 0xFF, 0xFE, 0xFD, 0xFC, 0xFB, 0xFA, 0xF9, 0xF8, 0xF7, 0xF6, 0xF5)
	_, err := Decode(corrupt)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for invalid UTF-8, got %v", err)
	}
}

func TestDecodeRejectsOversizedFieldCount(t *testing.T) {
	// Field count claims far more fields than remaining bytes could hold.
	buf := appendUvarint(nil, 1000)
	_, err := Decode(buf)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for oversized field count, got %v", err)
	}
}

func TestDecodeRejectsTruncatedValue(t *testing.T) {
	buf := Encode(Record{BlobValue([]byte{1, 2, 3, 4, 5})})
	_, err := Decode(buf[:len(buf)-2])
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for truncated value, got %v", err)
	}
}

func TestDecodeRejectsBadBoolPayload(t *testing.T) {
	buf := Encode(Record{BoolValue(true)})
	corrupt := append([]byte(nil), buf...)
	corrupt[len(corrupt)-1] = 2 // only 0/1 are legal
	_, err := Decode(corrupt)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for invalid BOOL payload, got %v", err)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	buf := Encode(Record{Int64Value(0)})
	corrupt := append([]byte(nil), buf...)
	corrupt[1] = 0xEE // kind byte, well past KindBlob
	_, err := Decode(corrupt)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for unknown kind, got %v", err)
	}
}

func TestEncodedLenMatchesEncode(t *testing.T) {
	rec := Record{
		NullValue(),
		BoolValue(true),
		Int64Value(math.MinInt64),
		Float64Value(2.71828),
		TextValue("trigram café"),
		BlobValue([]byte{1, 2, 3}),
	}
	if got, want := EncodedLen(rec), len(Encode(rec)); got != want {
		t.Fatalf("EncodedLen() = %d, want %d", got, want)
	}
}

func TestEmptyRecord(t *testing.T) {
	buf := Encode(Record{})
	rec, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode empty record: %v", err)
	}
	if len(rec) != 0 {
		t.Fatalf("expected 0 fields, got %d", len(rec))
	}
}
