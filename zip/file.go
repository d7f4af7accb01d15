package zip

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	iofs "io/fs"

	"github.com/bodgit/plumbing"
)

// openFile builds the decompressed content reader for f: it re-reads the
// local file header (whose extra-field length can differ from the central
// directory's copy) purely to learn where the payload starts, then wraps
// the payload in the registered decompressor and a CRC32 check over
// exactly UncompressedSize64 bytes.
func (z *Reader) openFile(f *File) (iofs.File, error) {
	var lfh [fileHeaderLen]byte
	if _, err := z.r.ReadAt(lfh[:], int64(f.LocalHeaderOffset)); err != nil {
		return nil, fmt.Errorf("zip: error reading local file header: %w", err)
	}

	if binary.LittleEndian.Uint32(lfh[:]) != fileHeaderSignature {
		return nil, &CorruptHeaderError{Reason: "bad local file header signature"}
	}

	nameLen := int(binary.LittleEndian.Uint16(lfh[26:]))
	extraLen := int(binary.LittleEndian.Uint16(lfh[28:]))

	dataStart := int64(f.LocalHeaderOffset) + fileHeaderLen + int64(nameLen) + int64(extraLen)

	dcomp, ok := decompressor(f.Method)
	if !ok {
		return nil, ErrAlgorithm
	}

	body := io.NewSectionReader(z.r, dataStart, int64(f.CompressedSize64))

	decoded, err := dcomp(nil, f.UncompressedSize64, []io.ReadCloser{io.NopCloser(body)})
	if err != nil {
		return nil, fmt.Errorf("zip: error constructing decompressor: %w", err)
	}

	bounded := plumbing.LimitReadCloser(decoded, int64(f.UncompressedSize64))

	return &fileReader{
		f:      f,
		r:      bounded,
		crc32:  crc32.NewIEEE(),
		remain: int64(f.UncompressedSize64),
	}, nil
}

// fileReader drives the bounded decompressed stream and checks the
// running CRC32 against f.CRC32 once the declared size has been read in
// full.
type fileReader struct {
	f      *File
	r      io.ReadCloser
	crc32  hash.Hash32
	remain int64
}

func (fr *fileReader) Read(p []byte) (int, error) {
	n, err := fr.r.Read(p)
	if n > 0 {
		_, _ = fr.crc32.Write(p[:n])
		fr.remain -= int64(n)
	}

	if err == io.EOF && fr.remain == 0 && fr.crc32.Sum32() != fr.f.CRC32 {
		return n, ErrChecksum
	}

	return n, err //nolint:wrapcheck
}

func (fr *fileReader) Close() error {
	return fr.r.Close() //nolint:wrapcheck
}

func (fr *fileReader) Stat() (iofs.FileInfo, error) {
	return fr.f.FileInfo(), nil
}
