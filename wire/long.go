package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Long carries a 64-bit integer as two 32-bit halves. The codec itself works
// on int64/uint64; Long exists for callers that hand over 64-bit values split
// into halves or as decimal strings.
type Long struct {
	Low      uint32
	High     uint32
	Unsigned bool
}

// LongFromBits assembles a Long from its low and high halves.
func LongFromBits(low, high uint32, unsigned bool) Long {
	return Long{Low: low, High: high, Unsigned: unsigned}
}

// LongFromInt64 converts a signed value.
func LongFromInt64(v int64) Long {
	return Long{Low: uint32(uint64(v)), High: uint32(uint64(v) >> 32)}
}

// LongFromUint64 converts an unsigned value.
func LongFromUint64(v uint64) Long {
	return Long{Low: uint32(v), High: uint32(v >> 32), Unsigned: true}
}

// ParseLong parses a decimal literal, with an optional leading sign for
// signed values.
func ParseLong(s string, unsigned bool) (Long, error) {
	s = strings.TrimSpace(s)
	if unsigned {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Long{}, fmt.Errorf("%w: %q", ErrInvalidLongLiteral, s)
		}
		return LongFromUint64(v), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Long{}, fmt.Errorf("%w: %q", ErrInvalidLongLiteral, s)
	}
	return LongFromInt64(v), nil
}

// Bits returns the low and high halves, the layout a varint encoder consumes.
func (l Long) Bits() (low, high uint32) {
	return l.Low, l.High
}

// Uint64 returns the 64 bits as an unsigned value.
func (l Long) Uint64() uint64 {
	return uint64(l.High)<<32 | uint64(l.Low)
}

// Int64 returns the 64 bits as a two's-complement value.
func (l Long) Int64() int64 {
	return int64(l.Uint64())
}

// String formats the value in decimal.
func (l Long) String() string {
	if l.Unsigned {
		return strconv.FormatUint(l.Uint64(), 10)
	}
	return strconv.FormatInt(l.Int64(), 10)
}

// Compare returns -1, 0 or +1. Mixed signedness compares by numeric value.
func (l Long) Compare(o Long) int {
	ln, on := !l.Unsigned && l.Int64() < 0, !o.Unsigned && o.Int64() < 0
	switch {
	case ln && !on:
		return -1
	case !ln && on:
		return 1
	case ln && on:
		return cmpInt64(l.Int64(), o.Int64())
	}
	a, b := l.Uint64(), o.Uint64()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
