package zip

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOutputRejectsSizeOutOfRange(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	_, err := newSplitOutput(fs, "archive", 1024)
	assert.Error(t, err)

	_, err = newSplitOutput(fs, "archive", int64(maxSegmentSize)+1)
	assert.Error(t, err)
}

func TestSplitOutputRollsSegments(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	s, err := newSplitOutput(fs, "archive", minSegmentSize)
	require.NoError(t, err)

	payload := make([]byte, minSegmentSize*2+100)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := s.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	names, err := s.finish()
	require.NoError(t, err)
	require.Len(t, names, 3)

	assert.Equal(t, "archive.z01", names[0])
	assert.Equal(t, "archive.z02", names[1])
	assert.Equal(t, "archive.zip", names[2])

	for _, name := range names {
		_, err := fs.Stat(name)
		assert.NoError(t, err)
	}
}

func TestSplitOutputPrepareUnsplittable(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	s, err := newSplitOutput(fs, "archive", minSegmentSize)
	require.NoError(t, err)

	// Fill the segment to within 10 bytes of full.
	_, err = s.Write(make([]byte, minSegmentSize-s.curSize-10))
	require.NoError(t, err)

	before := s.curIndex

	require.NoError(t, s.prepareUnsplittable(50))
	assert.Equal(t, before+1, s.curIndex)

	// Plenty of room: no roll needed.
	require.NoError(t, s.prepareUnsplittable(10))
	assert.Equal(t, before+1, s.curIndex)
}

func TestSplitOutputWriteAtWithinOpenSegment(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	s, err := newSplitOutput(fs, "archive", minSegmentSize)
	require.NoError(t, err)

	_, err = s.Write([]byte("0123456789"))
	require.NoError(t, err)

	// First 4 bytes are the spanning signature, "0123456789" follows;
	// patch the "23" at absolute offset 6.
	_, err = s.WriteAt([]byte("AB"), 6)
	require.NoError(t, err)

	_, err = s.finish()
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "archive.zip")
	require.NoError(t, err)

	assert.Equal(t, "AB", string(data[6:8]))
}
