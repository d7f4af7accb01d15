package codec

import "io"

// Decompressor builds a reader that decodes one coder's output given its
// raw properties blob, its declared uncompressed size, and the input
// stream(s) feeding it. The 7z folder engine calls this with however many
// input readers the coder's bind pairs wire up (almost always one); the
// ZIP reader always calls it with exactly one.
type Decompressor func(properties []byte, size uint64, readers []io.ReadCloser) (io.ReadCloser, error)

// Compressor builds a writer that encodes a single stream for a given
// method, returning the writer plus the properties blob a decoder will
// need to reverse it (empty for methods like Deflate that don't carry
// side-channel parameters).
type Compressor func(w io.Writer) (io.WriteCloser, []byte, error)

// Decompressors is a registry of 7z-style coder decompressors, keyed by
// the coder's method ID bytes converted to a string (7z method IDs are
// 1-15 raw bytes, not a fixed-width integer, so a string key is the
// natural comparable type).
var Decompressors = NewRegistry[string, Decompressor]()

// ZipDecompressors and ZipCompressors are keyed by the ZIP format's 16-bit
// compression method id.
var (
	ZipDecompressors = NewRegistry[uint16, Decompressor]()
	ZipCompressors   = NewRegistry[uint16, Compressor]()
)
