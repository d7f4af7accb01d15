package zip

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileHeaderModeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []os.FileMode{
		0o644,
		0o755 | os.ModeDir,
		0o777 | os.ModeSymlink,
		0o600 | os.ModeSetuid,
	}

	for _, mode := range tests {
		fh := &FileHeader{Name: "file"}
		fh.SetMode(mode)

		assert.Equal(t, mode, fh.Mode())
	}
}

func TestFileHeaderModeDirectoryFromTrailingSlash(t *testing.T) {
	t.Parallel()

	fh := &FileHeader{Name: "dir/"}
	fh.SetMode(os.ModeDir | 0o755)

	assert.True(t, fh.Mode().IsDir())
}

func TestMsDosTimeRoundTrip(t *testing.T) {
	t.Parallel()

	date, dosTime := timeToMsDosTime(msDosTimeToTime(0x5a21, 0x6a00))
	assert.Equal(t, uint16(0x5a21), date)
	assert.Equal(t, uint16(0x6a00), dosTime)
}

func TestFileHeaderFileInfo(t *testing.T) {
	t.Parallel()

	fh := &FileHeader{Name: "example.txt", UncompressedSize64: 42}
	fh.SetMode(0o644)

	info := fh.FileInfo()
	assert.Equal(t, "example.txt", info.Name())
	assert.Equal(t, int64(42), info.Size())
	assert.False(t, info.IsDir())
}
