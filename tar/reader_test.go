package tar

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegativeSizeIsCorrupt(t *testing.T) {
	t.Parallel()

	blk := make([]byte, blockSize)
	copy(field(blk, offName, lenName), "bad.bin")
	// Base-256 binary encoding of -1: flag bit set, all bits one.
	neg := field(blk, offSize, lenSize)
	for i := range neg {
		neg[i] = 0xff
	}

	blk[offTypeflag] = TypeReg
	copy(field(blk, offMagic, lenMagic), magicUSTAR)
	copy(field(blk, offVersion, lenVersion), versionUSTAR)
	computeChecksum(blk)

	var buf bytes.Buffer
	buf.Write(blk)
	buf.Write(make([]byte, blockSize*2))

	r := NewReader(&buf)
	_, err := r.Next()

	var corrupt *CorruptHeaderError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "negative size", corrupt.Reason)
}

func TestEmptyArchive(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write(make([]byte, blockSize*2))

	r := NewReader(&buf)
	_, err := r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
