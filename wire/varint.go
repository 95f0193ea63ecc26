package wire

import "fmt"

// MaxVarintLen is the longest encoding of a 64-bit varint.
const MaxVarintLen = 10

// AppendVarint appends v to b as a base-128 varint.
func AppendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// EncodeVarint returns the varint encoding of v.
func EncodeVarint(v uint64) []byte {
	return AppendVarint(make([]byte, 0, SizeVarint(v)), v)
}

// ConsumeVarint decodes a varint from the front of b and returns the value and
// the number of bytes read.
func ConsumeVarint(b []byte) (uint64, int, error) {
	var result uint64
	for i := 0; i < MaxVarintLen; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("%w: input ends after %d bytes", ErrMalformedVarint, i)
		}
		c := b[i]
		if i == MaxVarintLen-1 && c > 1 {
			// Only one bit of a uint64 is left for the tenth byte.
			return 0, 0, fmt.Errorf("%w: overflows 64 bits", ErrMalformedVarint)
		}
		result |= uint64(c&0x7F) << (7 * uint(i))
		if c&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("%w: no terminator within %d bytes", ErrMalformedVarint, MaxVarintLen)
}

// SizeVarint returns the number of bytes needed to encode the given varint
func SizeVarint(v uint64) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	case v < 1<<28:
		return 4
	case v < 1<<35:
		return 5
	case v < 1<<42:
		return 6
	case v < 1<<49:
		return 7
	case v < 1<<56:
		return 8
	case v < 1<<63:
		return 9
	default:
		return 10
	}
}

// DecodeZigZag32 decodes a zigzag-encoded 32-bit integer
func DecodeZigZag32(encoded uint64) int32 {
	return int32((uint32(encoded) >> 1) ^ uint32(-int32(encoded&1)))
}

// DecodeZigZag64 decodes a zigzag-encoded 64-bit integer
func DecodeZigZag64(encoded uint64) int64 {
	return int64((encoded >> 1) ^ uint64(-int64(encoded&1)))
}

// EncodeZigZag32 encodes a signed 32-bit integer using zigzag encoding
func EncodeZigZag32(v int32) uint64 {
	return uint64((uint32(v) << 1) ^ uint32(v>>31))
}

// EncodeZigZag64 encodes a signed 64-bit integer using zigzag encoding
func EncodeZigZag64(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// READER METHODS

// ReadVarint decodes a varint at the cursor.
func (r *Reader) ReadVarint() (uint64, error) {
	v, n, err := ConsumeVarint(r.buf[r.pos:r.limit])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// ReadInt32 reads a plain (two's-complement) int32 varint.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadVarint()
	return int32(v), err
}

// ReadInt64 reads a plain (two's-complement) int64 varint.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadVarint()
	return int64(v), err
}

// ReadSint32 reads a zigzag-encoded int32.
func (r *Reader) ReadSint32() (int32, error) {
	v, err := r.ReadVarint()
	return DecodeZigZag32(v), err
}

// ReadSint64 reads a zigzag-encoded int64.
func (r *Reader) ReadSint64() (int64, error) {
	v, err := r.ReadVarint()
	return DecodeZigZag64(v), err
}

// ReadBool reads a varint as bool; any non-zero value is true.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadVarint()
	return v != 0, err
}

// skipVarint drops a varint with the same validation ReadVarint applies.
func (r *Reader) skipVarint() error {
	_, n, err := ConsumeVarint(r.buf[r.pos:r.limit])
	if err != nil {
		return err
	}
	r.pos += n
	return nil
}

// WRITER METHODS

// WriteVarint appends v as a varint.
func (w *Writer) WriteVarint(v uint64) {
	n := len(w.buf)
	w.buf = AppendVarint(w.buf, v)
	w.size += len(w.buf) - n
}

// WriteInt32 writes a plain int32; negative values are sign-extended to ten bytes.
func (w *Writer) WriteInt32(v int32) {
	w.WriteVarint(uint64(int64(v)))
}

// WriteInt64 writes a plain int64.
func (w *Writer) WriteInt64(v int64) {
	w.WriteVarint(uint64(v))
}

// WriteUint32 writes a uint32 varint.
func (w *Writer) WriteUint32(v uint32) {
	w.WriteVarint(uint64(v))
}

// WriteSint32 writes a zigzag-encoded int32.
func (w *Writer) WriteSint32(v int32) {
	w.WriteVarint(EncodeZigZag32(v))
}

// WriteSint64 writes a zigzag-encoded int64.
func (w *Writer) WriteSint64(v int64) {
	w.WriteVarint(EncodeZigZag64(v))
}

// WriteBool writes a bool as a one-byte varint.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteVarint(1)
	} else {
		w.WriteVarint(0)
	}
}
