package zip

import (
	"fmt"

	"github.com/bodgit/archive/internal/iox"
	"github.com/spf13/afero"
)

// minSegmentSize and maxSegmentSize bound a split archive's per-file size:
// below the minimum there's no point splitting at all, above the maximum
// a segment's own size would overflow the 32-bit fields several ZIP tools
// still assume for split-archive bookkeeping.
const (
	minSegmentSize = 64 << 10
	maxSegmentSize = uint32max
)

// splitOutput is a [iox.RandomAccessOutput] spanning a sequence of files
// named "<base>.z01", "<base>.z02", …, "<base>.zNN", "<base>.zip" (the
// last segment, opened under a temporary name until Finish renames it).
// Sequential Write calls roll over to a new segment once the current one
// reaches splitSize; WriteAt translates an absolute archive position into
// the segment and in-segment offset that holds it, for backpatching a
// local file header after the fact — valid only while that offset's
// segment is still the currently-open one, which is the writer's
// responsibility to arrange (see prepareUnsplittable).
type splitOutput struct {
	fs        afero.Fs
	base      string
	splitSize int64

	segments  []segmentInfo
	current   afero.File
	curIndex  int
	curSize   int64
	total     int64
	finished  bool
}

type segmentInfo struct {
	name string
	size int64
}

// newSplitOutput creates the first segment and writes the spanning
// signature into it, per the format's requirement that every split
// archive's very first 4 bytes identify it as such.
func newSplitOutput(fs afero.Fs, base string, splitSize int64) (*splitOutput, error) {
	if splitSize < minSegmentSize {
		return nil, fmt.Errorf("zip: split size %d below minimum %d", splitSize, minSegmentSize)
	}

	if splitSize > maxSegmentSize {
		return nil, fmt.Errorf("zip: split size %d above maximum %d", splitSize, maxSegmentSize)
	}

	s := &splitOutput{fs: fs, base: base, splitSize: splitSize, curIndex: 1}

	if err := s.openSegment(segmentName(base, 1)); err != nil {
		return nil, err
	}

	var sig [4]byte
	sig[0], sig[1], sig[2], sig[3] = 0x50, 0x4b, 0x07, 0x08

	if _, err := s.current.Write(sig[:]); err != nil {
		return nil, fmt.Errorf("zip: error writing spanning signature: %w", err)
	}

	s.curSize = int64(len(sig))
	s.total = s.curSize

	return s, nil
}

func segmentName(base string, index int) string {
	return fmt.Sprintf("%s.z%02d.tmp", base, index)
}

func (s *splitOutput) openSegment(name string) error {
	f, err := s.fs.Create(name)
	if err != nil {
		return fmt.Errorf("zip: error creating segment: %w", err)
	}

	s.current = f

	return nil
}

// Write implements [iox.ByteSink]. It rolls to a new segment whenever the
// current one is full, mid-write if necessary, since an entry's payload
// is free to straddle a segment boundary (only EOCD/Zip64-locator records
// may not — see prepareUnsplittable).
func (s *splitOutput) Write(p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		room := s.splitSize - s.curSize
		if room <= 0 {
			if err := s.rollSegment(); err != nil {
				return written, err
			}

			room = s.splitSize - s.curSize
		}

		chunk := p
		if int64(len(chunk)) > room {
			chunk = chunk[:room]
		}

		n, err := s.current.Write(chunk)
		written += n
		s.curSize += int64(n)
		s.total += int64(n)
		p = p[n:]

		if err != nil {
			return written, fmt.Errorf("zip: error writing segment: %w", err)
		}
	}

	return written, nil
}

func (s *splitOutput) rollSegment() error {
	s.segments = append(s.segments, segmentInfo{name: s.current.Name(), size: s.curSize})

	if err := s.current.Close(); err != nil {
		return fmt.Errorf("zip: error closing segment: %w", err)
	}

	s.curIndex++
	s.curSize = 0

	return s.openSegment(segmentName(s.base, s.curIndex))
}

// Position reports the total bytes written across every segment so far.
func (s *splitOutput) Position() int64 { return s.total }

// prepareUnsplittable rolls to a fresh segment if the current one has
// fewer than size bytes of room left, guaranteeing that a subsequent
// Write of that many bytes lands entirely within one segment. The EOCD
// and the Zip64-EOCD-locator records use this before they're emitted.
func (s *splitOutput) prepareUnsplittable(size int64) error {
	if s.splitSize-s.curSize < size {
		return s.rollSegment()
	}

	return nil
}

// WriteAt backpatches already-written bytes at an absolute archive
// position. It is used only to fix up a local file header's CRC/size
// fields after a non-data-descriptor entry body has been streamed, always
// at an offset within the segment that's still open — cross-segment
// backpatching of historical segments isn't needed by this writer since
// every LFH is patched immediately after its own body, before any segment
// roll past it.
func (s *splitOutput) WriteAt(p []byte, off int64) (int, error) {
	segStart := s.total - s.curSize

	if off < segStart || off+int64(len(p)) > s.total {
		return 0, fmt.Errorf("zip: backpatch offset %d spans a closed segment", off)
	}

	n, err := s.current.WriteAt(p, off-segStart)
	if err != nil {
		return n, fmt.Errorf("zip: error backpatching segment: %w", err)
	}

	return n, nil
}

// finish closes the final segment and atomically renames every segment
// from its ".tmp" working name to its public name, the last one becoming
// "<base>.zip".
func (s *splitOutput) finish() ([]string, error) {
	if s.finished {
		return nil, fmt.Errorf("zip: split output already finished")
	}

	s.finished = true
	s.segments = append(s.segments, segmentInfo{name: s.current.Name(), size: s.curSize})

	if err := s.current.Close(); err != nil {
		return nil, fmt.Errorf("zip: error closing final segment: %w", err)
	}

	names := make([]string, len(s.segments))

	for i, seg := range s.segments {
		final := seg.name[:len(seg.name)-len(".tmp")]
		if i == len(s.segments)-1 {
			final = s.base + ".zip"
		}

		if err := s.fs.Rename(seg.name, final); err != nil {
			return nil, fmt.Errorf("zip: error renaming segment: %w", err)
		}

		names[i] = final
	}

	return names, nil
}

var _ iox.RandomAccessOutput = (*splitOutput)(nil)
