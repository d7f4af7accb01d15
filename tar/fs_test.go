package tar

import (
	"bytes"
	iofs "io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	w := NewWriter(&buf)

	for name, body := range entries {
		require.NoError(t, w.WriteHeader(&Header{
			Name:     name,
			Size:     int64(len(body)),
			Mode:     0o644,
			Typeflag: TypeReg,
		}))
		_, err := w.Write([]byte(body))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	return buf.Bytes()
}

func TestFSOpenAndReadDir(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, map[string]string{
		"dir/a.txt": "hello",
		"dir/b.txt": "world",
		"top.txt":   "root file",
	})

	fsys := NewFS(bytes.NewReader(data))

	f, err := fsys.Open("dir/a.txt")
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	require.NoError(t, f.Close())

	root, err := fsys.Open(".")
	require.NoError(t, err)

	rd, ok := root.(iofs.ReadDirFile)
	require.True(t, ok)

	entries, err := rd.ReadDir(-1)
	require.NoError(t, err)
	assert.Len(t, entries, 2) // "dir" and "top.txt"

	_, err = fsys.Open("missing.txt")
	assert.ErrorIs(t, err, iofs.ErrNotExist)
}
