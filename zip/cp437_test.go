package zip

import (
	"bytes"
	"testing"

	"github.com/bodgit/archive/internal/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonUTF8NameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64AsNeeded)

	fh := &FileHeader{Name: "résumé.txt", NonUTF8: true, Method: Store}
	require.NoError(t, engine.AddEntry(fh, bytes.NewReader([]byte("x"))))

	_, err := engine.Finish()
	require.NoError(t, err)

	r := readBack(t, buf.Bytes())
	require.Len(t, r.File, 1)

	assert.Equal(t, "résumé.txt", r.File[0].Name)
	assert.Zero(t, r.File[0].Flags&flagUTF8)
	assert.True(t, r.File[0].NonUTF8)
}

func TestDecodeNameUTF8PassThrough(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain.txt", decodeName([]byte("plain.txt"), true))
}
