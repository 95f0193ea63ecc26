package wire

import "fmt"

// segmentThreshold is the payload size from which WriteBytes references the
// caller's slice as its own segment instead of copying it into the tail.
const segmentThreshold = 512

// READER METHODS

// ReadLength reads a length prefix and checks it against the remaining bytes.
func (r *Reader) ReadLength() (int, error) {
	start := r.pos
	v, err := r.ReadVarint()
	if err != nil {
		return 0, fmt.Errorf("length at offset %d: %w", start, err)
	}
	if v > uint64(r.Remaining()) {
		return 0, fmt.Errorf("%w: length %d at offset %d exceeds %d remaining bytes", ErrTruncatedMessage, v, start, r.Remaining())
	}
	return int(v), nil
}

// ReadLengthDelimited reads a length-prefixed payload. The result aliases the
// reader's buffer.
func (r *Reader) ReadLengthDelimited() ([]byte, error) {
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	data := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return data, nil
}

// ReadBytes reads a length-prefixed payload into a new slice.
func (r *Reader) ReadBytes() ([]byte, error) {
	data, err := r.ReadLengthDelimited()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() (string, error) {
	data, err := r.ReadLengthDelimited()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WRITER METHODS

// WriteBytes writes a length prefix followed by data.
func (w *Writer) WriteBytes(data []byte) {
	w.WriteVarint(uint64(len(data)))
	if len(data) >= segmentThreshold {
		w.flush()
		w.segs = append(w.segs, data)
		w.size += len(data)
		return
	}
	w.buf = append(w.buf, data...)
	w.size += len(data)
}

// WriteString writes a length-prefixed string.
func (w *Writer) WriteString(s string) {
	w.WriteVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
	w.size += len(s)
}

// WriteRaw appends already-encoded bytes without a length prefix.
func (w *Writer) WriteRaw(data []byte) {
	w.buf = append(w.buf, data...)
	w.size += len(data)
}

// BytesSize returns the size needed to encode the given bytes
func BytesSize(n int) int {
	return SizeVarint(uint64(n)) + n
}
