package lha

import (
	"io"

	"github.com/bodgit/archive/internal/codec"
)

// Decompressors is keyed by the 5-byte method id ("-lh5-", "-lhd-", …),
// reusing the same generic registry internal/codec.Registry already
// backs the 7z coder-id and ZIP method-id tables with.
var Decompressors = codec.NewRegistry[string, func(r io.Reader, packedSize, originalSize int64) (io.Reader, error)]()

func init() {
	stored := func(r io.Reader, _, originalSize int64) (io.Reader, error) {
		return io.LimitReader(r, originalSize), nil
	}

	// -lh0- and -lhd- both mean "stored, no compression" -- the former
	// for files, the latter for directory placeholder entries (which
	// carry OriginalSize 0 in practice but are handled identically).
	Decompressors.Register("-lh0-", stored)
	Decompressors.Register("-lhd-", stored)
	Decompressors.Register("-lh5-", newLZSSReader)
}
