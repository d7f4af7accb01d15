package iox_test

import (
	"bytes"
	"testing"

	"github.com/bodgit/archive/internal/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteSource(t *testing.T) {
	t.Parallel()

	r := bytes.NewReader([]byte("hello world"))
	src := iox.NewByteSource(r, int64(r.Len()))

	assert.Equal(t, int64(11), src.Size())

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
}

func TestByteSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	sink := iox.NewByteSink(&buf)

	n, err := sink.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), sink.Position())

	n, err = sink.Write([]byte("de"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(5), sink.Position())
	assert.Equal(t, "abcde", buf.String())
}
