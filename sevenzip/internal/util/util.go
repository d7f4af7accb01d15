// Package util contains small helpers shared between the reader and the
// per-coder decoder adapters.
package util

import (
	"bufio"
	"io"
)

// SizeReadSeekCloser is the interface satisfied by an open folder stream:
// readable, seekable, closeable and aware of its own total size.
type SizeReadSeekCloser interface {
	io.ReadSeekCloser
	Size() int64
}

// ReadCloser is an io.ReadCloser that also implements io.ByteReader, which
// several coders (bcj2 in particular) require of their input streams.
type ReadCloser interface {
	io.ReadCloser
	io.ByteReader
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

// NopCloser returns an io.ReadCloser wrapping r with a no-op Close, used for
// the packed-stream section readers that don't own any underlying resource.
func NopCloser(r io.Reader) io.ReadCloser {
	return nopCloser{r}
}

// byteReadCloser adapts an io.ReadCloser that isn't already an io.ByteReader
// by wrapping it in a bufio.Reader.
type byteReadCloser struct {
	io.Closer
	*bufio.Reader
}

// ByteReadCloser returns rc as a util.ReadCloser, wrapping it in a
// *bufio.Reader if it doesn't already implement io.ByteReader.
func ByteReadCloser(rc io.ReadCloser) ReadCloser {
	if brc, ok := rc.(ReadCloser); ok {
		return brc
	}

	return &byteReadCloser{Closer: rc, Reader: bufio.NewReader(rc)}
}

// CRC32Equal compares a computed CRC32 sum (as returned by hash.Hash.Sum)
// against an on-disk little-endian uint32, without allocating.
func CRC32Equal(sum []byte, want uint32) bool {
	if len(sum) != 4 {
		return false
	}

	got := uint32(sum[0]) | uint32(sum[1])<<8 | uint32(sum[2])<<16 | uint32(sum[3])<<24

	return got == want
}
