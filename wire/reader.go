package wire

import "fmt"

// Reader is a forward-only cursor over an encoded buffer. The buffer is
// borrowed; slices returned by ReadLengthDelimited alias it.
//
// Invariant: 0 <= pos <= limit <= len(buf).
type Reader struct {
	buf   []byte
	pos   int
	limit int
}

// NewReader creates a reader over the whole of data.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data, limit: len(data)}
}

// Pos returns the cursor offset from the start of the buffer.
func (r *Reader) Pos() int { return r.pos }

// Limit returns the offset the reader stops at.
func (r *Reader) Limit() int { return r.limit }

// Remaining returns the number of unread bytes before the limit.
func (r *Reader) Remaining() int { return r.limit - r.pos }

// AtEnd reports whether the cursor reached the limit.
func (r *Reader) AtEnd() bool { return r.pos == r.limit }

// ReadTag decodes a field tag and splits it into field number and wire type.
func (r *Reader) ReadTag() (FieldNumber, WireType, error) {
	start := r.pos
	v, err := r.ReadVarint()
	if err != nil {
		return 0, 0, fmt.Errorf("tag at offset %d: %w", start, err)
	}
	if v>>3 > uint64(MaxFieldNumber) || v>>3 == 0 {
		return 0, 0, fmt.Errorf("%w: %d at offset %d", ErrInvalidFieldNumber, v>>3, start)
	}
	num, wt := ParseTag(Tag(v))
	if !wt.Valid() {
		return 0, 0, fmt.Errorf("%w: %d (%s) for field %d at offset %d", ErrInvalidWireType, wt, wt, num, start)
	}
	return num, wt, nil
}

// Skip advances past one field value of the given wire type without
// interpreting it.
func (r *Reader) Skip(wt WireType) error {
	switch wt {
	case WireVarint:
		return r.skipVarint()
	case WireFixed64:
		return r.skipN(8)
	case WireFixed32:
		return r.skipN(4)
	case WireBytes:
		// ReadLength bounds n by Remaining, so pos stays within limit.
		n, err := r.ReadLength()
		if err != nil {
			return err
		}
		r.pos += n
		return nil
	default:
		return fmt.Errorf("%w: cannot skip %d (%s)", ErrInvalidWireType, wt, wt)
	}
}

// SubReader returns an independent cursor over the next n bytes and moves
// this reader past them.
func (r *Reader) SubReader(n int) (*Reader, error) {
	if n < 0 || n > r.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedMessage, n, r.Remaining())
	}
	sub := &Reader{buf: r.buf[r.pos : r.pos+n], limit: n}
	r.pos += n
	return sub, nil
}

func (r *Reader) skipN(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedMessage, n, r.Remaining())
	}
	r.pos += n
	return nil
}
