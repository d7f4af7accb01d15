package cpio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripNewASCII(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriter(&buf)

	hdr := &Header{Name: "hello.txt", Mode: 0o100644, UID: 1000, GID: 1000, NLink: 1, Size: 5}
	require.NoError(t, w.WriteHeader(hdr))
	_, err := w.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", got.Name)
	assert.Equal(t, int64(5), got.Size)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "world", string(body))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRoundTripOldASCII(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriterFormat(&buf, FormatOldASCII)

	require.NoError(t, w.WriteHeader(&Header{Name: "a", Mode: 0o100644, NLink: 1, Size: 3}))
	_, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)

	got, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, FormatOldASCII, got.Format)

	body, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))
}

func TestNewCRCChecksumMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	w := NewWriterFormat(&buf, FormatNewCRC)

	hdr := &Header{Name: "bad", NLink: 1, Size: 4, Check: 999}
	require.NoError(t, w.WriteHeader(hdr))
	_, err := w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf)

	_, err = r.Next()
	require.NoError(t, err)

	_, err = io.ReadAll(r)
	require.NoError(t, err)

	// The checksum is only verified once the next entry is requested
	// (or Next hits the trailer), mirroring how the 7z folder CRC is
	// checked only once the whole folder has been consumed.
	_, err = r.Next()
	assert.ErrorIs(t, err, errChecksum)
}

func TestZeroNameSizeIsCorrupt(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.WriteString(magicNewASCII)
	// ino=1 mode=0100644 uid=gid=0 nlink=1 mtime=0 filesize=5 dev*=0 namesize=0 check=0
	buf.WriteString("00000001000081a40000000000000000000000010000000000000005000000000000000000000000000000000000000000000000")

	r := NewReader(&buf)
	_, err := r.Next()

	var corrupt *CorruptHeaderError
	require.ErrorAs(t, err, &corrupt)
}
