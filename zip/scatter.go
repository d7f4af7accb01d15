package zip

import (
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// BackingStoreSupplier creates a fresh append-only spill stream for a
// worker on its first dispatch. The returned afero.File is owned by that
// worker for the builder's lifetime; name is advisory, used only to make
// spill files distinguishable on disk for debugging.
type BackingStoreSupplier func(name string) (afero.File, error)

// NewTempBackingStoreSupplier returns a BackingStoreSupplier that creates
// uniquely-named files under dir via fs, the default when a caller has no
// reason to redirect spill storage (e.g. to a memory filesystem in
// tests).
func NewTempBackingStoreSupplier(fs afero.Fs, dir string) BackingStoreSupplier {
	return func(name string) (afero.File, error) {
		f, err := afero.TempFile(fs, dir, "scatter-"+name+"-*")
		if err != nil {
			return nil, fmt.Errorf("zip: error creating spill file: %w", err)
		}

		return f, nil
	}
}

// PayloadSupplier produces the (uncompressed) bytes for one entry,
// supplied lazily so the worker that ends up compressing it is the one
// that pays for reading it.
type PayloadSupplier func() (io.ReadCloser, error)

type scatterJob struct {
	header  *FileHeader
	payload PayloadSupplier
}

// scatterRecord is what a worker produces for one completed job: enough
// to raw-insert the entry later via OutputEngine.AddRawEntry.
type scatterRecord struct {
	header          *FileHeader
	workerSpill     int
	spillOffset     int64
	compressedSize  int64
}

// ScatterGatherBuilder accepts addEntry calls from an arbitrary caller
// goroutine, dispatches each to a fixed-size worker pool, and merges the
// resulting spill files into an OutputEngine in submission order within
// each worker (ordering across workers is not guaranteed, matching a
// shared-nothing parallel compressor).
type ScatterGatherBuilder struct {
	fs      afero.Fs
	supply  BackingStoreSupplier
	method  uint16
	group   *errgroup.Group
	jobs    chan scatterJob

	mu       sync.Mutex
	spills   []afero.File
	records  [][]scatterRecord // per worker, in submission order
	closed   bool
}

// NewScatterGatherBuilder starts a pool of n workers, each lazily opening
// its own spill file from supply on its first dispatched entry. method is
// the compression method applied to every entry's payload. fs is used
// only to remove spill files once they're no longer needed; it should be
// the same filesystem supply creates them on.
func NewScatterGatherBuilder(n int, fs afero.Fs, supply BackingStoreSupplier, method uint16) *ScatterGatherBuilder {
	if n < 1 {
		n = 1
	}

	b := &ScatterGatherBuilder{
		fs:      fs,
		supply:  supply,
		method:  method,
		jobs:    make(chan scatterJob, n),
		records: make([][]scatterRecord, n),
		spills:  make([]afero.File, n),
	}

	b.group = new(errgroup.Group)
	b.group.SetLimit(n)

	for i := 0; i < n; i++ {
		i := i

		b.group.Go(func() error {
			return b.runWorker(i)
		})
	}

	return b
}

// AddEntry submits an entry for background compression. It returns once
// the job is queued, blocking while the queue (one slot per worker) is
// full; errors surface later from WriteTo. Calling AddEntry after
// WriteTo has started is a programming error.
func (b *ScatterGatherBuilder) AddEntry(header *FileHeader, payload PayloadSupplier) {
	header.Method = b.method
	b.jobs <- scatterJob{header: header, payload: payload}
}

// closeJobs signals that no more entries will be submitted; it must be
// called exactly once, before WriteTo waits on the pool.
func (b *ScatterGatherBuilder) closeJobs() {
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
}

func (b *ScatterGatherBuilder) runWorker(id int) error {
	var (
		spill  afero.File
		offset int64
	)

	for job := range b.jobs {
		if spill == nil {
			var err error

			spill, err = b.supply(fmt.Sprintf("%d", id))
			if err != nil {
				return err
			}

			b.mu.Lock()
			b.spills[id] = spill
			b.mu.Unlock()
		}

		rc, err := job.payload()
		if err != nil {
			return fmt.Errorf("zip: error opening entry payload: %w", err)
		}

		comp, ok := compressor(b.method)
		if !ok {
			_ = rc.Close()

			return ErrAlgorithm
		}

		cw, _, err := comp(spill)
		if err != nil {
			_ = rc.Close()

			return fmt.Errorf("zip: error constructing compressor: %w", err)
		}

		hash := crc32.NewIEEE()

		n, err := io.Copy(io.MultiWriter(cw, hash), rc)
		closeErr := rc.Close()

		if err != nil {
			return fmt.Errorf("zip: error compressing spilled entry: %w", err)
		}

		if closeErr != nil {
			return fmt.Errorf("zip: error closing entry payload: %w", closeErr)
		}

		if err := cw.Close(); err != nil {
			return fmt.Errorf("zip: error finishing compressed spill: %w", err)
		}

		info, err := spill.Stat()
		if err != nil {
			return fmt.Errorf("zip: error stating spill file: %w", err)
		}

		compressedSize := info.Size() - offset

		job.header.UncompressedSize64 = uint64(n)
		job.header.CompressedSize64 = uint64(compressedSize)
		job.header.CRC32 = hash.Sum32()

		b.mu.Lock()
		b.records[id] = append(b.records[id], scatterRecord{
			header:         job.header,
			workerSpill:    id,
			spillOffset:    offset,
			compressedSize: compressedSize,
		})
		b.mu.Unlock()

		offset = info.Size()
	}

	return nil
}

// WriteTo blocks until every worker has finished, then streams each
// worker's spill file into out in the order that worker produced its
// records (ordering between different workers' entries is unspecified).
// Every spill file is removed on the way out, whether or not the build
// succeeded; the first worker error, if any, is returned after cleanup.
func (b *ScatterGatherBuilder) WriteTo(out *OutputEngine) error {
	b.closeJobs()

	buildErr := b.group.Wait()

	defer b.cleanupSpills()

	if buildErr != nil {
		return buildErr
	}

	for id, records := range b.records {
		spill := b.spills[id]
		if spill == nil {
			continue
		}

		for _, rec := range records {
			section := io.NewSectionReader(spill, rec.spillOffset, rec.compressedSize)

			if err := out.AddRawEntry(rec.header, section); err != nil {
				return err
			}
		}
	}

	return nil
}

func (b *ScatterGatherBuilder) cleanupSpills() {
	for _, spill := range b.spills {
		if spill == nil {
			continue
		}

		name := spill.Name()
		_ = spill.Close()
		_ = b.fsRemove(name)
	}
}

func (b *ScatterGatherBuilder) fsRemove(name string) error {
	if b.fs == nil {
		return nil
	}

	return b.fs.Remove(name) //nolint:wrapcheck
}
