package record

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestZigZagRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, 64, -64, -65, 127, -128, math.MaxInt64, math.MinInt64}
	for _, x := range cases {
		u := zigZagEncode(x)
		got := zigZagDecode(u)
		if got != x {
			t.Fatalf("zigZag round trip: got %d, want %d", got, x)
		}
	}
}

func TestVarintBoundaryLengths(t *testing.T) {
	// spec.md concrete scenario: encode(0), encode(1), encode(-1), encode(63)
	// each take 1 byte; encode(64) takes 2 bytes.
	cases := []struct {
		x    int64
		want int
	}{
		{0, 1},
		{1, 1},
		{-1, 1},
		{63, 1},
		{64, 2},
	}
	for _, c := range cases {
		buf := appendVarint(nil, c.x)
		if len(buf) != c.want {
			t.Errorf("appendVarint(%d): got %d bytes, want %d", c.x, len(buf), c.want)
		}
		if got := varintLen(c.x); got != c.want {
			t.Errorf("varintLen(%d): got %d, want %d", c.x, got, c.want)
		}
	}
}

func TestVarintRoundTripThroughBuffer(t *testing.T) {
	cases := []int64{0, 1, -1, 63, 64, -64, 1000000, -1000000, math.MaxInt64, math.MinInt64}
	for _, x := range cases {
		buf := appendVarint(nil, x)
		got, n, err := takeVarint(buf)
		if err != nil {
			t.Fatalf("takeVarint(%d): unexpected error %v", x, err)
		}
		if n != len(buf) {
			t.Fatalf("takeVarint(%d): consumed %d, want %d", x, n, len(buf))
		}
		if got != x {
			t.Fatalf("takeVarint(%d): got %d", x, got)
		}
	}
}

func TestTakeUvarintRejectsElevenByteEncoding(t *testing.T) {
	// 11 bytes, all continuation bits set except a final terminator —
	// spec.md §8 boundary behavior: "Decoding an 11-byte varint yields Malformed".
	buf := bytes.Repeat([]byte{0x80}, 10)
	buf = append(buf, 0x01)
	_, _, err := takeUvarint(buf)
	if err == nil {
		t.Fatal("expected error decoding 11-byte varint, got nil")
	}
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestTakeUvarintRejectsTruncated(t *testing.T) {
	buf := []byte{0x80, 0x80}
	_, _, err := takeUvarint(buf)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for truncated varint, got %v", err)
	}
}

func TestTakeUvarintRejectsTenthByteOverflow(t *testing.T) {
	buf := append(bytes.Repeat([]byte{0xFF}, 9), 0x02) // 10th byte contributes >1 bit
	_, _, err := takeUvarint(buf)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for 64-bit overflow, got %v", err)
	}
}
