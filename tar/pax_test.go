package tar

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPAXOverlaySize covers spec.md section 8 scenario 6: a USTAR header
// declaring size=0, a PAX extended header overlaying size=12345, then a
// body of that many bytes.
func TestPAXOverlaySize(t *testing.T) {
	t.Parallel()

	body := bytes.Repeat([]byte{'z'}, 12345)

	var buf bytes.Buffer

	// Hand-build the archive: a PAX 'x' header whose body carries the
	// size override, followed by a USTAR header with size=0 and the
	// real body padded to a block boundary.
	pax := formatPAXRecord("size", "12345")

	writeRawHeader(&buf, &Header{Name: "PaxHeaders.0/big.bin", Typeflag: TypeXHeader, Size: int64(len(pax))})
	buf.WriteString(pax)
	buf.Write(make([]byte, padding(int64(len(pax)))))

	writeRawHeader(&buf, &Header{Name: "big.bin", Typeflag: TypeReg, Size: 0})
	buf.Write(body)
	buf.Write(make([]byte, padding(int64(len(body)))))
	buf.Write(make([]byte, blockSize*2))

	r := NewReader(&buf)

	hdr, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(12345), hdr.Size)

	got := make([]byte, hdr.Size)
	_, err = r.Read(got)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestPAXRecordsRoundTrip(t *testing.T) {
	t.Parallel()

	rec := formatPAXRecord("path", "hello/world.txt")

	records, err := parsePAXRecords([]byte(rec))
	require.NoError(t, err)
	assert.Equal(t, "hello/world.txt", records["path"])
}

func TestParsePAXRecordsMalformed(t *testing.T) {
	t.Parallel()

	_, err := parsePAXRecords([]byte("not a valid record"))
	assert.Error(t, err)
}

// writeRawHeader writes a single block-aligned header without going
// through Writer, so tests can construct archives Writer itself wouldn't
// (a PAX header followed by a zero-size USTAR header).
func writeRawHeader(buf *bytes.Buffer, hdr *Header) {
	blk := make([]byte, blockSize)
	copy(field(blk, offName, lenName), hdr.Name)
	formatNumeric(field(blk, offSize, lenSize), hdr.Size)
	blk[offTypeflag] = hdr.Typeflag
	copy(field(blk, offMagic, lenMagic), magicUSTAR)
	copy(field(blk, offVersion, lenVersion), versionUSTAR)
	computeChecksum(blk)
	buf.Write(blk)
}
