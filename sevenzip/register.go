package sevenzip

import (
	"io"

	"github.com/bodgit/archive/internal/codec"
	"github.com/bodgit/archive/sevenzip/internal/aes7z"
	"github.com/bodgit/archive/sevenzip/internal/bcj2"
	"github.com/bodgit/archive/sevenzip/internal/bra"
	"github.com/bodgit/archive/sevenzip/internal/brotli"
	"github.com/bodgit/archive/sevenzip/internal/bzip2"
	"github.com/bodgit/archive/sevenzip/internal/deflate"
	"github.com/bodgit/archive/sevenzip/internal/delta"
	"github.com/bodgit/archive/sevenzip/internal/lz4"
	"github.com/bodgit/archive/sevenzip/internal/lzma"
	"github.com/bodgit/archive/sevenzip/internal/lzma2"
	"github.com/bodgit/archive/sevenzip/internal/zstd"
)

// Decompressor builds an [io.ReadCloser] that decodes a coder's output
// from its packed/bound input streams, given the coder's properties and
// its expected decoded size. It is an alias of [codec.Decompressor] so
// that coder implementations shared with the ZIP method registry (Deflate
// today) need only one function type between the two formats.
type Decompressor = codec.Decompressor

//nolint:gochecknoglobals
var decompressors = codec.Decompressors

//nolint:gochecknoinits
func init() {
	RegisterDecompressor([]byte{0x00}, func(_ []byte, _ uint64, readers []io.ReadCloser) (io.ReadCloser, error) {
		if len(readers) != 1 {
			return nil, errAlgorithm
		}

		return readers[0], nil
	})

	RegisterDecompressor([]byte{0x03}, Decompressor(delta.NewReader))
	RegisterDecompressor([]byte{0x04}, Decompressor(bra.NewBCJReader))
	RegisterDecompressor([]byte{0x05}, Decompressor(bra.NewPPCReader))
	RegisterDecompressor([]byte{0x07}, Decompressor(bra.NewARMReader))
	RegisterDecompressor([]byte{0x09}, Decompressor(bra.NewSPARCReader))
	RegisterDecompressor([]byte{0x0a}, Decompressor(bra.NewARM64Reader))
	RegisterDecompressor([]byte{0x21}, Decompressor(lzma2.NewReader))
	RegisterDecompressor([]byte{0x03, 0x01, 0x01}, Decompressor(lzma.NewReader))
	RegisterDecompressor([]byte{0x03, 0x03, 0x01, 0x1b}, Decompressor(bcj2.NewReader))
	RegisterDecompressor([]byte{0x04, 0x01, 0x08}, Decompressor(deflate.NewReader))
	RegisterDecompressor([]byte{0x04, 0x02, 0x02}, Decompressor(bzip2.NewReader))
	RegisterDecompressor([]byte{0x06, 0xf1, 0x07, 0x01}, Decompressor(aes7z.NewReader))

	// Extended methods used by the 7-Zip-ZStd fork, kept under the same
	// vendor-prefixed method IDs it assigns them.
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x01}, Decompressor(zstd.NewReader))
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x02}, Decompressor(brotli.NewReader))
	RegisterDecompressor([]byte{0x04, 0xf7, 0x11, 0x04}, Decompressor(lz4.NewReader))
}

// RegisterDecompressor registers a [Decompressor] for the given 7z method
// ID. It panics if method is already registered, which can only happen
// from a programming error in an init function.
func RegisterDecompressor(method []byte, dcomp Decompressor) {
	decompressors.Register(string(method), dcomp)
}

func decompressor(method []byte) Decompressor {
	dcomp, ok := decompressors.Lookup(string(method))
	if !ok {
		return nil
	}

	return dcomp
}

