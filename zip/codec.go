package zip

import (
	"io"

	"github.com/bodgit/archive/internal/codec"
	"github.com/bodgit/archive/sevenzip/internal/deflate"
	"github.com/klauspost/compress/flate"
)

//nolint:gochecknoinits
func init() {
	RegisterDecompressor(Store, func(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
		if len(readers) != 1 {
			return nil, ErrAlgorithm
		}

		return readers[0], nil
	})

	// The 7z coder package already wraps klauspost/compress/flate with a
	// pooled flate.Reader; ZIP's Deflate entries are decoded through the
	// identical function, since the wire format (a raw deflate stream,
	// no zlib/gzip framing) and the Decompressor signature are the same
	// across both containers.
	RegisterDecompressor(Deflate, codec.Decompressor(deflate.NewReader))

	RegisterCompressor(Store, func(w io.Writer) (io.WriteCloser, []byte, error) {
		return nopWriteCloser{w}, nil, nil
	})

	RegisterCompressor(Deflate, func(w io.Writer) (io.WriteCloser, []byte, error) {
		fw, err := flate.NewWriter(w, flate.DefaultCompression)

		return fw, nil, err //nolint:wrapcheck
	})
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// RegisterDecompressor registers a decoder constructor for a ZIP
// compression method id.
func RegisterDecompressor(method uint16, dcomp codec.Decompressor) {
	codec.ZipDecompressors.Register(method, dcomp)
}

// RegisterCompressor registers an encoder constructor for a ZIP
// compression method id.
func RegisterCompressor(method uint16, comp codec.Compressor) {
	codec.ZipCompressors.Register(method, comp)
}

func decompressor(method uint16) (codec.Decompressor, bool) {
	return codec.ZipDecompressors.Lookup(method)
}

func compressor(method uint16) (codec.Compressor, bool) {
	return codec.ZipCompressors.Lookup(method)
}
