package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// READER METHODS

// ReadFixed32 decodes a little-endian 32-bit value.
func (r *Reader) ReadFixed32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, fmt.Errorf("%w: not enough data for fixed32", ErrTruncatedMessage)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadFixed64 decodes a little-endian 64-bit value.
func (r *Reader) ReadFixed64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, fmt.Errorf("%w: not enough data for fixed64", ErrTruncatedMessage)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadFloat reads an IEEE-754 single from a fixed32 field.
func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadFixed32()
	return math.Float32frombits(v), err
}

// ReadDouble reads an IEEE-754 double from a fixed64 field.
func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadFixed64()
	return math.Float64frombits(v), err
}

// WRITER METHODS

// WriteFixed32 appends v as 4 little-endian bytes.
func (w *Writer) WriteFixed32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	w.size += 4
}

// WriteFixed64 appends v as 8 little-endian bytes.
func (w *Writer) WriteFixed64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	w.size += 8
}

// WriteFloat writes the IEEE-754 bits of v as fixed32.
func (w *Writer) WriteFloat(v float32) {
	w.WriteFixed32(math.Float32bits(v))
}

// WriteDouble writes the IEEE-754 bits of v as fixed64.
func (w *Writer) WriteDouble(v float64) {
	w.WriteFixed64(math.Float64bits(v))
}
