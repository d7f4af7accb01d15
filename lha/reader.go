package lha

import (
	"fmt"
	"io"

	"github.com/bodgit/plumbing"
)

// Reader produces a lazy, finite, non-restartable sequence of (Header,
// body) pairs from a sequential LHA byte stream, per spec.md section
// 4.5's shared codec contract.
type Reader struct {
	r   io.Reader
	raw io.Reader // the bounded PackedSize slice of r for the current entry

	cur io.Reader
	crc uint16
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Next discards any unread bytes of the current entry's packed data, then
// parses and returns the next Header.
func (lr *Reader) Next() (*Header, error) {
	if err := lr.skipCurrent(); err != nil {
		return nil, err
	}

	hdr, err := readHeader(lr.r)
	if err != nil {
		return nil, err
	}

	packed := io.LimitReader(lr.r, hdr.PackedSize)
	lr.raw = packed

	decoder, ok := Decompressors.Lookup(hdr.Method)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errAlgorithm, hdr.Method)
	}

	body, err := decoder(packed, hdr.PackedSize, hdr.OriginalSize)
	if err != nil {
		return nil, err
	}

	lr.crc = 0
	lr.cur = &crc16Reader{r: plumbing.LimitReadCloser(io.NopCloser(body), hdr.OriginalSize), want: hdr.CRC16, sum: &lr.crc}

	return hdr, nil
}

// crc16Reader tracks the running CRC16 of everything read through it and
// surfaces a ChecksumMismatch-style error once the stream is exhausted.
type crc16Reader struct {
	r    io.ReadCloser
	sum  *uint16
	want uint16
	done bool
}

func (c *crc16Reader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		*c.sum = crc16(*c.sum, p[:n])
	}

	if err == io.EOF && !c.done {
		c.done = true

		if *c.sum != c.want {
			return n, fmt.Errorf("%w: got %#04x, want %#04x", errChecksum16, *c.sum, c.want)
		}
	}

	return n, err
}

// Read reads from the current entry's decompressed body.
func (lr *Reader) Read(p []byte) (int, error) {
	if lr.cur == nil {
		return 0, io.EOF
	}

	return lr.cur.Read(p)
}

func (lr *Reader) skipCurrent() error {
	if lr.raw == nil {
		return nil
	}

	if _, err := io.Copy(io.Discard, lr.raw); err != nil {
		return fmt.Errorf("lha: discarding entry body: %w", err)
	}

	lr.raw = nil
	lr.cur = nil

	return nil
}
