package zip

import (
	"bytes"
	"io"
	"testing"

	"github.com/bodgit/archive/internal/iox"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScatterGatherBuilderRoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/spill", 0o755))

	supply := NewTempBackingStoreSupplier(fs, "/spill")

	builder := NewScatterGatherBuilder(2, fs, supply, Deflate)

	entries := map[string]string{
		"one.txt":   "the quick brown fox",
		"two.txt":   "jumps over the lazy dog",
		"three.txt": "pack my box with five dozen liquor jugs",
	}

	for name, content := range entries {
		content := content

		builder.AddEntry(&FileHeader{Name: name}, func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader([]byte(content))), nil
		})
	}

	var buf bytes.Buffer

	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64AsNeeded)
	require.NoError(t, builder.WriteTo(engine))

	_, err := engine.Finish()
	require.NoError(t, err)

	r := readBack(t, buf.Bytes())
	require.Len(t, r.File, len(entries))

	seen := map[string]string{}

	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)

		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		seen[f.Name] = string(content)
	}

	assert.Equal(t, entries, seen)

	// Spill files are removed once WriteTo completes.
	matches, err := afero.Glob(fs, "/spill/*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestScatterGatherBuilderPropagatesUnknownMethod(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/spill", 0o755))

	supply := NewTempBackingStoreSupplier(fs, "/spill")

	builder := NewScatterGatherBuilder(1, fs, supply, 99)

	builder.AddEntry(&FileHeader{Name: "x"}, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte("data"))), nil
	})

	var buf bytes.Buffer
	engine := NewOutputEngine(iox.NewByteSink(&buf), Zip64AsNeeded)

	err := builder.WriteTo(engine)
	assert.ErrorIs(t, err, ErrAlgorithm)
}
