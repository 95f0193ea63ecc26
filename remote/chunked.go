package remote

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/anirudhraja/protocodec/dynamic"
)

// ErrChecksum is returned for a streamed frame whose CRC does not match.
var ErrChecksum = errors.New("chunked frame checksum mismatch")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ChunkedWriter writes a streamed remote-read response. Every frame is the
// uvarint size of the message, its big-endian CRC32-C, then the message.
type ChunkedWriter struct {
	c *Codec
	w io.Writer
}

// NewChunkedWriter returns a writer of ChunkedReadResponse frames.
func (c *Codec) NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{c: c, w: w}
}

// Write encodes resp as one frame.
func (cw *ChunkedWriter) Write(resp *dynamic.Message) error {
	if resp == nil || resp.Descriptor() != cw.c.chunkedReadResponse {
		return fmt.Errorf("%w: want %s", ErrWrongType, cw.c.chunkedReadResponse.FullName)
	}
	data, err := cw.c.marshal.Marshal(resp)
	if err != nil {
		return err
	}
	var header [binary.MaxVarintLen64 + 4]byte
	n := binary.PutUvarint(header[:], uint64(len(data)))
	binary.BigEndian.PutUint32(header[n:], crc32.Checksum(data, castagnoli))
	if _, err := cw.w.Write(header[:n+4]); err != nil {
		return err
	}
	_, err = cw.w.Write(data)
	return err
}

// ChunkedReader reads a streamed remote-read response.
type ChunkedReader struct {
	c   *Codec
	r   *bufio.Reader
	buf []byte
}

// NewChunkedReader returns a reader of ChunkedReadResponse frames.
func (c *Codec) NewChunkedReader(r io.Reader) *ChunkedReader {
	return &ChunkedReader{c: c, r: bufio.NewReader(r)}
}

// Next decodes the next frame. It returns io.EOF after the last one.
func (cr *ChunkedReader) Next() (*dynamic.Message, error) {
	size, err := binary.ReadUvarint(cr.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("chunked frame size: %w", err)
	}
	if size > uint64(cr.c.maxDecodedSize) {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrTooLarge, size, cr.c.maxDecodedSize)
	}

	var sum [4]byte
	if _, err := io.ReadFull(cr.r, sum[:]); err != nil {
		return nil, fmt.Errorf("chunked frame checksum: %w", io.ErrUnexpectedEOF)
	}
	if cap(cr.buf) < int(size) {
		cr.buf = make([]byte, size)
	}
	cr.buf = cr.buf[:size]
	if _, err := io.ReadFull(cr.r, cr.buf); err != nil {
		return nil, fmt.Errorf("chunked frame body: %w", io.ErrUnexpectedEOF)
	}
	if crc32.Checksum(cr.buf, castagnoli) != binary.BigEndian.Uint32(sum[:]) {
		return nil, ErrChecksum
	}
	return cr.c.unmarshal.Unmarshal(cr.buf, cr.c.chunkedReadResponse)
}
