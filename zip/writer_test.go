package zip

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"

	"github.com/bodgit/archive/internal/iox"
	"github.com/bodgit/archive/zip/internal/extrafield"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRandomAccess is a minimal in-memory [iox.RandomAccessOutput], used
// only to exercise the backpatching path without touching a real
// filesystem.
type memRandomAccess struct {
	buf bytes.Buffer
	pos int64
}

func (m *memRandomAccess) Write(p []byte) (int, error) {
	n, err := m.buf.Write(p)
	m.pos += int64(n)

	return n, err
}

func (m *memRandomAccess) Position() int64 { return m.pos }

func (m *memRandomAccess) WriteAt(p []byte, off int64) (int, error) {
	b := m.buf.Bytes()
	if off < 0 || off+int64(len(p)) > int64(len(b)) {
		return 0, io.ErrShortBuffer
	}

	return copy(b[off:], p), nil
}

var (
	_ iox.ByteSink       = (*memRandomAccess)(nil)
	_ randomAccessWriter = (*memRandomAccess)(nil)
)

func readBack(t *testing.T, data []byte) *Reader {
	t.Helper()

	src := iox.NewByteSource(bytes.NewReader(data), int64(len(data)))

	r, err := NewReader(src)
	require.NoError(t, err)

	return r
}

func TestOutputEngineDataDescriptorRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	sink := iox.NewByteSink(&buf)
	engine := NewOutputEngine(sink, Zip64AsNeeded)

	fh := &FileHeader{Name: "hello.txt", Method: Deflate}
	require.NoError(t, engine.AddEntry(fh, bytes.NewReader([]byte("hello, world"))))

	names, err := engine.Finish()
	require.NoError(t, err)
	assert.Nil(t, names)

	r := readBack(t, buf.Bytes())
	require.Len(t, r.File, 1)
	assert.Equal(t, "hello.txt", r.File[0].Name)
	assert.NotZero(t, r.File[0].Flags&flagDataDescriptor)

	rc, err := r.File[0].Open()
	require.NoError(t, err)

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "hello, world", string(content))
}

func TestOutputEngineBackpatchRoundTrip(t *testing.T) {
	t.Parallel()

	sink := &memRandomAccess{}
	engine := NewOutputEngine(sink, Zip64AsNeeded)

	fh := &FileHeader{Name: "store.bin", Method: Store}
	require.NoError(t, engine.AddEntry(fh, bytes.NewReader([]byte("raw bytes"))))

	_, err := engine.Finish()
	require.NoError(t, err)

	r := readBack(t, sink.buf.Bytes())
	require.Len(t, r.File, 1)
	assert.Zero(t, r.File[0].Flags&flagDataDescriptor)

	rc, err := r.File[0].Open()
	require.NoError(t, err)

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "raw bytes", string(content))
}

func TestOutputEngineMultipleEntries(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64AsNeeded)
	require.NoError(t, engine.SetComment("archive comment"))

	payloads := map[string]string{
		"a.txt": "aaaa",
		"b.txt": "bbbb bbbb bbbb",
		"dir/":  "",
	}

	for _, name := range []string{"a.txt", "b.txt", "dir/"} {
		fh := &FileHeader{Name: name, Method: Deflate}
		require.NoError(t, engine.AddEntry(fh, bytes.NewReader([]byte(payloads[name]))))
	}

	_, err := engine.Finish()
	require.NoError(t, err)

	r := readBack(t, buf.Bytes())
	require.Len(t, r.File, 3)
	assert.Equal(t, "archive comment", r.Comment)

	for _, f := range r.File {
		if f.Name == "dir/" {
			assert.True(t, f.Mode().IsDir() || f.UncompressedSize64 == 0)

			continue
		}

		rc, err := f.Open()
		require.NoError(t, err)

		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		assert.Equal(t, payloads[f.Name], string(content))
	}
}

func TestOutputEngineZip64Always(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64Always)

	fh := &FileHeader{Name: "small.txt", Method: Store}
	require.NoError(t, engine.AddEntry(fh, bytes.NewReader([]byte("tiny"))))

	_, err := engine.Finish()
	require.NoError(t, err)

	// Zip64 end-of-central-directory record signature must appear.
	assert.True(t, bytes.Contains(buf.Bytes(), []byte{0x50, 0x4b, 0x06, 0x06}))
}

func TestOutputEngineZip64NeverErrorsOnOverflow(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64Never)

	fh := &FileHeader{
		Name:               "huge.bin",
		Method:             Store,
		CompressedSize64:   uint64(uint32max) + 1,
		UncompressedSize64: uint64(uint32max) + 1,
	}

	// Force the size fields directly since AddEntry would otherwise
	// recompute them from the actual (small) payload; writeCentralDirectory
	// consults fh.isZip64() which reads these fields back.
	require.NoError(t, engine.AddEntry(fh, bytes.NewReader([]byte("x"))))
	fh.CompressedSize64 = uint64(uint32max) + 1
	fh.UncompressedSize64 = uint64(uint32max) + 1

	_, err := engine.Finish()
	require.Error(t, err)

	var zerr *Zip64RequiredError
	assert.ErrorAs(t, err, &zerr)
}

func TestOutputEngineRawEntry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64AsNeeded)

	var compressed bytes.Buffer

	comp, ok := compressor(Store)
	require.True(t, ok)

	cw, _, err := comp(&compressed)
	require.NoError(t, err)
	_, err = cw.Write([]byte("precompressed"))
	require.NoError(t, err)
	require.NoError(t, cw.Close())

	fh := &FileHeader{
		Name:               "raw.bin",
		Method:             Store,
		CompressedSize64:   uint64(compressed.Len()),
		UncompressedSize64: uint64(len("precompressed")),
	}
	fh.CRC32 = crc32.ChecksumIEEE([]byte("precompressed"))

	require.NoError(t, engine.AddRawEntry(fh, bytes.NewReader(compressed.Bytes())))

	_, err = engine.Finish()
	require.NoError(t, err)

	r := readBack(t, buf.Bytes())
	require.Len(t, r.File, 1)

	rc, err := r.File[0].Open()
	require.NoError(t, err)

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, "precompressed", string(content))
}

// TestOutputEngineZip64AlwaysLocalHeaderBackpatch drives a streamed entry
// through the backpatching path under Zip64Always and inspects the raw
// local header bytes directly: the 32-bit size fields must read the
// 0xFFFFFFFF sentinel, and the Zip64 extra that follows the name must
// carry the real sizes, not the placeholder zeros reserved before
// compression began.
func TestOutputEngineZip64AlwaysLocalHeaderBackpatch(t *testing.T) {
	t.Parallel()

	sink := &memRandomAccess{}
	engine := NewOutputEngine(sink, Zip64Always)

	content := []byte("tiny payload, promoted anyway")
	fh := &FileHeader{Name: "big.bin", Method: Store}
	require.NoError(t, engine.AddEntry(fh, bytes.NewReader(content)))

	_, err := engine.Finish()
	require.NoError(t, err)

	raw := sink.buf.Bytes()

	require.Equal(t, uint32(fileHeaderSignature), binary.LittleEndian.Uint32(raw[0:]))

	compSizeField := binary.LittleEndian.Uint32(raw[18:])
	uncompSizeField := binary.LittleEndian.Uint32(raw[22:])
	assert.Equal(t, uint32(uint32max), compSizeField)
	assert.Equal(t, uint32(uint32max), uncompSizeField)

	nameLen := int(binary.LittleEndian.Uint16(raw[26:]))
	extraLen := int(binary.LittleEndian.Uint16(raw[28:]))
	require.Equal(t, len("big.bin"), nameLen)
	require.GreaterOrEqual(t, extraLen, 20)

	extra := raw[fileHeaderLen+nameLen : fileHeaderLen+nameLen+extraLen]
	assert.Equal(t, uint16(extrafield.IDZip64), binary.LittleEndian.Uint16(extra[0:]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(extra[2:]))
	assert.Equal(t, uint64(len(content)), binary.LittleEndian.Uint64(extra[4:]))
	assert.Equal(t, uint64(len(content)), binary.LittleEndian.Uint64(extra[12:]))

	r := readBack(t, raw)
	require.Len(t, r.File, 1)

	rc, err := r.File[0].Open()
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, string(content), string(got))
}

// TestOutputEngineRawEntryZip64Always exercises AddRawEntry's header
// construction, which already knows its sizes before the local header is
// written and so promotes without any backpatch step.
func TestOutputEngineRawEntryZip64Always(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64Always)

	payload := []byte("precompressed, promoted anyway")

	comp, ok := compressor(Store)
	require.True(t, ok)

	var compressed bytes.Buffer

	cw, _, err := comp(&compressed)
	require.NoError(t, err)
	_, err = cw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, cw.Close())

	fh := &FileHeader{
		Name:               "raw-big.bin",
		Method:             Store,
		CompressedSize64:   uint64(compressed.Len()),
		UncompressedSize64: uint64(len(payload)),
	}
	fh.CRC32 = crc32.ChecksumIEEE(payload)

	require.NoError(t, engine.AddRawEntry(fh, bytes.NewReader(compressed.Bytes())))

	raw := buf.Bytes()

	compSizeField := binary.LittleEndian.Uint32(raw[18:])
	uncompSizeField := binary.LittleEndian.Uint32(raw[22:])
	assert.Equal(t, uint32(uint32max), compSizeField)
	assert.Equal(t, uint32(uint32max), uncompSizeField)

	nameLen := int(binary.LittleEndian.Uint16(raw[26:]))
	extraLen := int(binary.LittleEndian.Uint16(raw[28:]))
	require.GreaterOrEqual(t, extraLen, 20)

	extra := raw[fileHeaderLen+nameLen : fileHeaderLen+nameLen+extraLen]
	assert.Equal(t, uint16(extrafield.IDZip64), binary.LittleEndian.Uint16(extra[0:]))
	assert.Equal(t, uint64(len(payload)), binary.LittleEndian.Uint64(extra[4:]))
	assert.Equal(t, uint64(compressed.Len()), binary.LittleEndian.Uint64(extra[12:]))

	_, err = engine.Finish()
	require.NoError(t, err)

	r := readBack(t, buf.Bytes())
	require.Len(t, r.File, 1)

	rc, err := r.File[0].Open()
	require.NoError(t, err)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	assert.Equal(t, string(payload), string(got))
}

// TestOutputEngineZip64OffsetPromotionDiffersByMode checks that Always
// forces the central directory's offset field to promote unconditionally,
// while AlwaysWithCompatibility only promotes it when the literal offset
// would overflow 32 bits, per their distinct documented behaviour.
func TestOutputEngineZip64OffsetPromotionDiffersByMode(t *testing.T) {
	t.Parallel()

	tables := []struct {
		name         string
		mode         Zip64Mode
		wantOffsetFF bool
	}{
		{"Always", Zip64Always, true},
		{"AlwaysWithCompatibility", Zip64AlwaysWithCompatibility, false},
	}

	for _, table := range tables {
		table := table

		t.Run(table.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer

			engine := NewOutputEngine(iox.NewByteSink(&buf), table.mode)

			fh := &FileHeader{Name: "small.txt", Method: Store}
			require.NoError(t, engine.AddEntry(fh, bytes.NewReader([]byte("x"))))

			_, err := engine.Finish()
			require.NoError(t, err)

			raw := buf.Bytes()

			var sigBytes [4]byte
			binary.LittleEndian.PutUint32(sigBytes[:], directoryHeaderSignature)

			idx := bytes.Index(raw, sigBytes[:])
			require.GreaterOrEqual(t, idx, 0)

			offsetField := binary.LittleEndian.Uint32(raw[idx+42:])
			assert.Equal(t, table.wantOffsetFF, offsetField == uint32max)
		})
	}
}
