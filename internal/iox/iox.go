// Package iox provides the small byte-oriented interfaces shared by every
// format in this module: a random-access or sequential source to read an
// archive from, and a sink (optionally split across multiple underlying
// files) to write one to.
package iox

import "io"

// ByteSource is a random-access byte source with a known total size. Both
// the 7z reader (a single file or a multi-volume [go4.org/readerutil]
// composition) and the ZIP reader (a single file or a split-segment
// composition) are used through this interface once opened.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// ByteSink is a sequential destination that also reports how many bytes
// have been written so far, the position a writer needs to backpatch
// fields such as a local file header's offset in the central directory.
type ByteSink interface {
	io.Writer
	Position() int64
}

// sizedReaderAt adapts an io.ReaderAt with a known size into a ByteSource.
type sizedReaderAt struct {
	io.ReaderAt
	size int64
}

// NewByteSource wraps r, reporting size for [ByteSource.Size].
func NewByteSource(r io.ReaderAt, size int64) ByteSource {
	return sizedReaderAt{ReaderAt: r, size: size}
}

func (s sizedReaderAt) Size() int64 { return s.size }

// countingSink adapts an io.Writer into a ByteSink by tracking the number
// of bytes written.
type countingSink struct {
	w   io.Writer
	pos int64
}

// NewByteSink wraps w, tracking the cumulative write count for
// [ByteSink.Position].
func NewByteSink(w io.Writer) ByteSink {
	return &countingSink{w: w}
}

func (s *countingSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.pos += int64(n)

	return n, err //nolint:wrapcheck
}

func (s *countingSink) Position() int64 { return s.pos }

// RandomAccessOutput is a [ByteSink] that can also backpatch already-
// written bytes at an absolute position, the capability the ZIP
// OutputEngine needs to fix up a local file header's CRC/size fields
// after streaming an entry's compressed body when the data-descriptor bit
// isn't set. Implementations that span multiple segments (see
// package zip's split writer) translate the absolute position into the
// segment and in-segment offset that holds it.
type RandomAccessOutput interface {
	ByteSink
	WriteAt(p []byte, off int64) (int, error)
}
