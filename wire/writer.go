package wire

import "fmt"

// Writer accumulates an encoded message. Output is kept as a list of segments
// so that Fork/Join can place a submessage's length prefix in front of it
// without moving the bytes already written.
type Writer struct {
	buf   []byte   // open tail of the current frame
	segs  [][]byte // closed segments of the current frame, in order
	size  int      // bytes in segs plus buf
	stack []frame  // parents of the current frame
}

type frame struct {
	buf  []byte
	segs [][]byte
	size int
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Len returns the number of bytes written to the current frame.
func (w *Writer) Len() int { return w.size }

// Depth returns the number of open forks.
func (w *Writer) Depth() int { return len(w.stack) }

// WriteTag writes fieldNumber<<3 | wireType as a varint.
func (w *Writer) WriteTag(fieldNumber FieldNumber, wireType WireType) {
	w.WriteVarint(uint64(MakeTag(fieldNumber, wireType)))
}

// Fork opens a frame for a value whose length prefix is written by Join.
func (w *Writer) Fork() {
	w.stack = append(w.stack, frame{buf: w.buf, segs: w.segs, size: w.size})
	w.buf = nil
	w.segs = nil
	w.size = 0
}

// Join closes the innermost frame, writing its byte count as a varint into the
// parent frame followed by the frame's contents.
func (w *Writer) Join() error {
	if len(w.stack) == 0 {
		return fmt.Errorf("%w: join without fork", ErrUnbalancedFork)
	}
	w.flush()
	childSegs, childSize := w.segs, w.size

	parent := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]
	w.buf, w.segs, w.size = parent.buf, parent.segs, parent.size

	w.WriteVarint(uint64(childSize))
	w.flush()
	w.segs = append(w.segs, childSegs...)
	w.size += childSize
	return nil
}

// Finish returns the encoded bytes. It fails while forks are still open.
func (w *Writer) Finish() ([]byte, error) {
	if len(w.stack) != 0 {
		return nil, fmt.Errorf("%w: %d forks still open", ErrUnbalancedFork, len(w.stack))
	}
	out := make([]byte, 0, w.size)
	for _, s := range w.segs {
		out = append(out, s...)
	}
	return append(out, w.buf...), nil
}

// Reset discards all written data and open forks.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.segs = w.segs[:0]
	w.size = 0
	w.stack = w.stack[:0]
}

// flush closes the open tail into a segment. The next tail reuses the spare
// capacity behind the closed one, which no segment covers.
func (w *Writer) flush() {
	if len(w.buf) == 0 {
		return
	}
	w.segs = append(w.segs, w.buf)
	w.buf = w.buf[len(w.buf):]
}
