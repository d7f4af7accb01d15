package extrafield_test

import (
	"testing"
	"time"

	"github.com/bodgit/archive/zip/internal/extrafield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZip64RoundTrip(t *testing.T) {
	t.Parallel()

	f := &extrafield.Zip64{
		UncompressedSize:  1 << 40,
		CompressedSize:    1 << 39,
		LocalHeaderOffset: 1 << 20,
	}

	local := f.EmitLocal()
	require.Len(t, local, 16)

	parsed := extrafield.ParseLocal(extrafield.IDZip64, local)
	got, ok := parsed.(*extrafield.Zip64)
	require.True(t, ok)
	assert.Equal(t, f.UncompressedSize, got.UncompressedSize)
	assert.Equal(t, f.CompressedSize, got.CompressedSize)

	central := f.EmitCentral()
	require.Len(t, central, 28)

	parsedCentral := extrafield.ParseCentral(extrafield.IDZip64, central)
	gotCentral, ok := parsedCentral.(*extrafield.Zip64)
	require.True(t, ok)
	assert.Equal(t, f.LocalHeaderOffset, gotCentral.LocalHeaderOffset)
}

func TestNTFSRoundTrip(t *testing.T) {
	t.Parallel()

	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &extrafield.NTFS{Modified: mtime, Accessed: mtime, Created: mtime}

	data := f.EmitLocal()

	parsed := extrafield.ParseLocal(extrafield.IDNTFS, data)
	got, ok := parsed.(*extrafield.NTFS)
	require.True(t, ok)

	assert.WithinDuration(t, mtime, got.Modified, time.Microsecond)
	assert.WithinDuration(t, mtime, got.Accessed, time.Microsecond)
	assert.WithinDuration(t, mtime, got.Created, time.Microsecond)
}

func TestExtendedTimestampLocalCarriesAllThree(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1_700_000_000, 0).UTC()
	atime := time.Unix(1_700_000_100, 0).UTC()
	ctime := time.Unix(1_700_000_200, 0).UTC()

	f := &extrafield.ExtendedTimestamp{
		Flags:    0x7,
		Modified: mtime,
		Accessed: atime,
		Created:  ctime,
	}

	data := f.EmitLocal()
	assert.Len(t, data, 1+4+4+4)

	parsed := extrafield.ParseLocal(extrafield.IDExtendedTimestamp, data)
	got, ok := parsed.(*extrafield.ExtendedTimestamp)
	require.True(t, ok)

	assert.Equal(t, mtime, got.Modified)
	assert.Equal(t, atime, got.Accessed)
	assert.Equal(t, ctime, got.Created)
}

func TestExtendedTimestampCentralOnlyCarriesModified(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1_700_000_000, 0).UTC()

	f := &extrafield.ExtendedTimestamp{
		Flags:    0x7,
		Modified: mtime,
		Accessed: mtime,
		Created:  mtime,
	}

	data := f.EmitCentral()
	assert.Len(t, data, 1+4)

	parsed := extrafield.ParseCentral(extrafield.IDExtendedTimestamp, data)
	got, ok := parsed.(*extrafield.ExtendedTimestamp)
	require.True(t, ok)

	assert.Equal(t, mtime, got.Modified)
	assert.True(t, got.Accessed.IsZero())
	assert.Equal(t, byte(0x7), got.Flags)
}

func TestUnicodePathRoundTrip(t *testing.T) {
	t.Parallel()

	f := &extrafield.UnicodePath{Version: 1, NameCRC32: 0xdeadbeef, Name: "café.txt"}

	data := f.EmitLocal()

	parsed := extrafield.ParseLocal(extrafield.IDUnicodePath, data)
	got, ok := parsed.(*extrafield.UnicodePath)
	require.True(t, ok)

	assert.Equal(t, f.Version, got.Version)
	assert.Equal(t, f.NameCRC32, got.NameCRC32)
	assert.Equal(t, f.Name, got.Name)
}

func TestUnicodeCommentRoundTrip(t *testing.T) {
	t.Parallel()

	f := &extrafield.UnicodeComment{Version: 1, CommentCRC32: 0x1234, Comment: "note"}

	data := f.EmitCentral()

	parsed := extrafield.ParseCentral(extrafield.IDUnicodeComment, data)
	got, ok := parsed.(*extrafield.UnicodeComment)
	require.True(t, ok)
	assert.Equal(t, f.Comment, got.Comment)
}

func TestPaddingAndResourceAlignmentAreDistinct(t *testing.T) {
	t.Parallel()

	padding := extrafield.ParseLocal(extrafield.IDPadding, make([]byte, 6))
	_, ok := padding.(*extrafield.Padding)
	require.True(t, ok)

	alignment := extrafield.ParseLocal(extrafield.IDResourceAlignment, append([]byte{0x10, 0x00}, make([]byte, 4)...))
	ra, ok := alignment.(*extrafield.ResourceAlignment)
	require.True(t, ok)
	assert.Equal(t, uint16(0x10), ra.Alignment)

	assert.NotEqual(t, padding.ID(), alignment.ID())
}

func TestParseUnknownIDYieldsOpaque(t *testing.T) {
	t.Parallel()

	parsed := extrafield.ParseLocal(0x9999, []byte{1, 2, 3})
	got, ok := parsed.(*extrafield.Opaque)
	require.True(t, ok)
	assert.Equal(t, extrafield.ID(0x9999), got.ID())
	assert.Equal(t, []byte{1, 2, 3}, got.Data)
}

func TestParseKnownIDWithBadPayloadYieldsUnparseable(t *testing.T) {
	t.Parallel()

	parsed := extrafield.ParseLocal(extrafield.IDNTFS, []byte{1, 2})
	got, ok := parsed.(*extrafield.Unparseable)
	require.True(t, ok)
	assert.Equal(t, extrafield.IDNTFS, got.ID())
	require.Error(t, got.Reason)
	assert.ErrorIs(t, got, got.Reason)
}
