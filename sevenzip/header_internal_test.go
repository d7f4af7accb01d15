package sevenzip

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadNumber(t *testing.T) {
	t.Parallel()

	tables := []struct {
		name string
		in   []byte
		want uint64
	}{
		{"zero", []byte{0x00}, 0},
		{"one byte max", []byte{0x7f}, 0x7f},
		{"two byte", []byte{0x80, 0x01}, 1},
		{"two byte high", []byte{0xbf, 0xff}, 0x3fff},
		{"eight byte marker", []byte{0xff, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 1},
	}

	for _, table := range tables {
		table := table

		t.Run(table.name, func(t *testing.T) {
			t.Parallel()

			got, err := readNumber(bufio.NewReader(bytes.NewReader(table.in)))
			require.NoError(t, err)
			assert.Equal(t, table.want, got)
		})
	}
}

func TestReadBitVector(t *testing.T) {
	t.Parallel()

	// 0b10110000 -> true, false, true, true, false, false, false, false
	v, err := readBitVector(bufio.NewReader(bytes.NewReader([]byte{0b10110000})), 5)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, true, false}, v)
}

func TestReadAllOrBitVectorAllDefined(t *testing.T) {
	t.Parallel()

	v, err := readAllOrBitVector(bufio.NewReader(bytes.NewReader([]byte{0x01})), 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true}, v)
}

func TestReadAllOrBitVectorExplicit(t *testing.T) {
	t.Parallel()

	v, err := readAllOrBitVector(bufio.NewReader(bytes.NewReader([]byte{0x00, 0b10100000})), 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, v)
}

func TestReadDigests(t *testing.T) {
	t.Parallel()

	// all defined, two uint32 values
	buf := []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	digest, defined, err := readDigests(bufio.NewReader(bytes.NewReader(buf)), 2)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, defined)
	assert.Equal(t, []uint32{1, 2}, digest)
}

func TestSplitUTF16Names(t *testing.T) {
	t.Parallel()

	// "a\0b\0" in UTF-16LE, two names "a" and "b"
	buf := []byte{'a', 0x00, 0x00, 0x00, 'b', 0x00, 0x00, 0x00}

	names, err := splitUTF16Names(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestSplitUTF16NamesCountMismatch(t *testing.T) {
	t.Parallel()

	buf := []byte{'a', 0x00, 0x00, 0x00}

	_, err := splitUTF16Names(buf, 2)
	assert.Error(t, err)
}

func TestMemoryLimitEstimate(t *testing.T) {
	t.Parallel()

	s := stat{folders: 1, coders: 1, numIn: 1, numOut: 1, entries: 1, packedStreams: 1}

	err := s.checkMemoryLimit(0)
	require.Error(t, err)

	var memErr *MemoryLimitError

	require.ErrorAs(t, err, &memErr)
	assert.Positive(t, memErr.RequestedKiB)
	assert.Equal(t, uint64(0), memErr.LimitKiB)

	require.NoError(t, s.checkMemoryLimit(1<<20))
}

// encodeNumber builds the 7z variable-length UINT64 encoding for v using
// the 0xff "next 8 bytes are a raw little-endian uint64" escape, so tests
// can craft an implausibly large count without hand-rolling the general
// variable-width encoding.
func encodeNumber(v uint64) []byte {
	b := make([]byte, 9)
	b[0] = 0xff

	for i := 0; i < 8; i++ {
		b[1+i] = byte(v >> (8 * i))
	}

	return b
}

// withMemoryLimit sets currentMemoryLimitKiB for the duration of the test
// and restores it afterwards, since it is a package-level value scoped to
// a single parse (see the comment above its declaration in header.go).
// Callers must not run in parallel with other tests touching this value.
func withMemoryLimit(t *testing.T, limitKiB uint64) {
	t.Helper()

	old := currentMemoryLimitKiB
	currentMemoryLimitKiB = limitKiB

	t.Cleanup(func() { currentMemoryLimitKiB = old })
}

func TestReadPackInfoRejectsOversizedStreamCount(t *testing.T) {
	withMemoryLimit(t, 1)

	var buf bytes.Buffer
	buf.Write(encodeNumber(0))       // position
	buf.Write(encodeNumber(1 << 40)) // streams: absurdly large

	_, err := readPackInfo(bufio.NewReader(&buf), &stat{})

	var memErr *MemoryLimitError

	require.ErrorAs(t, err, &memErr)
}

func TestReadUnpackInfoRejectsOversizedFolderCount(t *testing.T) {
	withMemoryLimit(t, 1)

	var buf bytes.Buffer
	buf.WriteByte(idFolder)
	buf.Write(encodeNumber(1 << 40)) // numFolders: absurdly large
	buf.WriteByte(0x00)              // external flag

	_, err := readUnpackInfo(bufio.NewReader(&buf), &stat{})

	var memErr *MemoryLimitError

	require.ErrorAs(t, err, &memErr)
}

func TestReadFilesInfoRejectsOversizedFileCount(t *testing.T) {
	withMemoryLimit(t, 1)

	var buf bytes.Buffer
	buf.Write(encodeNumber(1 << 40)) // numFiles: absurdly large

	_, err := readFilesInfo(bufio.NewReader(&buf), &stat{})

	var memErr *MemoryLimitError

	require.ErrorAs(t, err, &memErr)
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Options{}.validate()) //nolint:testifylint

	err := Options{TryToRecoverBrokenArchives: true}.validate()
	assert.ErrorIs(t, err, errRecoveryNeedsMemoryLimit)

	assert.NoError(t, Options{ //nolint:testifylint
		TryToRecoverBrokenArchives: true,
		MaxMemoryLimitKiB:          1024,
	}.validate())
}
