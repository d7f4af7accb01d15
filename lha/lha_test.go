package lha

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildLevel0 hand-assembles a minimal level-0 "-lh0-" (stored) header
// plus body, since there is no writer for this read-only format.
func buildLevel0(t *testing.T, name string, body []byte) []byte {
	t.Helper()

	var fields bytes.Buffer
	fields.WriteString("-lh0-")

	var packed, orig [4]byte
	binary.LittleEndian.PutUint32(packed[:], uint32(len(body)))
	binary.LittleEndian.PutUint32(orig[:], uint32(len(body)))
	fields.Write(packed[:])
	fields.Write(orig[:])
	fields.Write(make([]byte, 4)) // MS-DOS time, zeroed
	fields.WriteByte(0x20)        // attribute
	fields.WriteByte(0)           // level 0

	var nameBuf bytes.Buffer
	nameBuf.WriteByte(byte(len(name)))
	nameBuf.WriteString(name)

	crc := crc16(0, body)

	var crcBuf [2]byte
	binary.LittleEndian.PutUint16(crcBuf[:], crc)

	headerLen := fields.Len() + nameBuf.Len() + 2 // fields + name + crc (headerSize and checksum bytes themselves not counted, matches LHA convention)

	var checksum byte

	full := append(fields.Bytes(), nameBuf.Bytes()...)
	full = append(full, crcBuf[:]...)

	for _, b := range full {
		checksum += b
	}

	out := []byte{byte(headerLen), checksum}
	out = append(out, full...)
	out = append(out, body...)

	return out
}

func TestReadLevel0Stored(t *testing.T) {
	t.Parallel()

	body := []byte("hello, lha")
	data := buildLevel0(t, "greeting.txt", body)
	data = append(data, 0) // terminating zero-size byte

	r := NewReader(bytes.NewReader(data))

	hdr, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "greeting.txt", hdr.Name)
	assert.Equal(t, "-lh0-", hdr.Method)
	assert.Equal(t, int64(len(body)), hdr.OriginalSize)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnsupportedLevelRejected(t *testing.T) {
	t.Parallel()

	blk := make([]byte, 21)
	blk[0] = 21
	blk[20] = 9 // not in {0,1,2,3}, and not even 3

	r := NewReader(bytes.NewReader(blk))
	_, err := r.Next()
	assert.ErrorIs(t, err, errBadLevel)
}

func TestCRC16KnownVector(t *testing.T) {
	t.Parallel()

	// "123456789" is the standard CRC check string; CRC-16/ARC (poly
	// 0xA001 reflected) of it is 0xBB3D.
	got := crc16(0, []byte("123456789"))
	assert.Equal(t, uint16(0xBB3D), got)
}
