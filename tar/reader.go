package tar

import (
	"fmt"
	"io"

	"github.com/bodgit/plumbing"
)

// Reader produces a lazy, finite, non-restartable sequence of (Header,
// body) pairs from a sequential byte source, per spec.md section 4.5's
// shared codec contract. The caller need not read the current entry's
// body to the end: Next discards whatever is left of it.
type Reader struct {
	r   io.Reader
	cur io.ReadCloser // bounded reader over the current entry's body
	pad int64         // padding remaining after the current entry's body

	// longName/longLink carry a GNU 'L'/'K' continuation block's payload
	// forward onto the header that follows it.
	longName string
	longLink string

	// paxRecords carries a pending PAX 'x' extended header's records
	// forward onto the header that follows it.
	paxRecords map[string]string

	// globalRecords accumulates 'g' PAX global headers, applied as a
	// base layer under every subsequent entry's local PAX overlay.
	globalRecords map[string]string

	sparse0x1 []SparseEntry
	sparseExt bool
}

// NewReader returns a Reader reading from r, which must yield a bare tar
// byte stream (the caller is responsible for any outer compression, per
// spec.md section 1's Non-goals).
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, globalRecords: make(map[string]string)}
}

// Next discards the remainder of the current entry's body (if any) and
// returns the next Header, or io.EOF once two consecutive zero blocks (or
// a short read) terminate the archive.
func (tr *Reader) Next() (*Header, error) {
	if err := tr.skipCurrent(); err != nil {
		return nil, err
	}

	for {
		blk, err := tr.readBlock()
		if err != nil {
			return nil, err
		}

		if isZeroBlock(blk) {
			blk2, err := tr.readBlock()
			if err != nil && err != io.EOF {
				return nil, err
			}

			if err == io.EOF || isZeroBlock(blk2) {
				return nil, io.EOF
			}

			return nil, &CorruptHeaderError{Reason: "zero block not followed by end of archive"}
		}

		hdr, raw, err := tr.parseHeaderBlock(blk)
		if err != nil {
			return nil, err
		}

		switch hdr.Typeflag {
		case TypeGNULongName, TypeGNULongLink:
			data, err := tr.readFullBody(hdr.Size)
			if err != nil {
				return nil, err
			}

			name := trimNUL(data)

			if hdr.Typeflag == TypeGNULongName {
				tr.longName = name
			} else {
				tr.longLink = name
			}

			continue

		case TypeXHeader, TypeXGlobalHeader:
			data, err := tr.readFullBody(hdr.Size)
			if err != nil {
				return nil, err
			}

			records, err := parsePAXRecords(data)
			if err != nil {
				return nil, err
			}

			if hdr.Typeflag == TypeXGlobalHeader {
				for k, v := range records {
					tr.globalRecords[k] = v
				}
			} else {
				tr.paxRecords = records
			}

			continue
		}

		if tr.longName != "" {
			hdr.Name = tr.longName
			tr.longName = ""
		}

		if tr.longLink != "" {
			hdr.LinkName = tr.longLink
			tr.longLink = ""
		}

		merged := make(map[string]string, len(tr.globalRecords))
		for k, v := range tr.globalRecords {
			merged[k] = v
		}

		for k, v := range tr.paxRecords {
			merged[k] = v
		}

		tr.paxRecords = nil

		if len(merged) > 0 {
			if err := applyPAXOverlay(hdr, merged); err != nil {
				return nil, err
			}

			if err := parseGNUSparsePAX(hdr, merged); err != nil {
				return nil, err
			}
		}

		if hdr.Typeflag == TypeGNUSparse {
			entries, extended, realSize, err := parseGNUSparse0x1Header(raw)
			if err != nil {
				return nil, err
			}

			hdr.Sparse = entries
			hdr.RealSize = realSize
			tr.sparseExt = extended

			if extended {
				more, err := tr.readSparseExtensionBlocks()
				if err != nil {
					return nil, err
				}

				hdr.Sparse = append(hdr.Sparse, more...)
			}
		}

		if hdr.Size < 0 {
			return nil, &CorruptHeaderError{Reason: "negative size"}
		}

		tr.cur = plumbing.LimitReadCloser(io.NopCloser(tr.r), hdr.Size)
		tr.pad = padding(hdr.Size)

		return hdr, nil
	}
}

// readSparseExtensionBlocks consumes additional 512-byte blocks, each
// holding up to 21 (offset, numbytes) pairs plus a continuation flag, for
// a GNU oldgnu sparse header whose isextended flag was set.
func (tr *Reader) readSparseExtensionBlocks() ([]SparseEntry, error) {
	const (
		entriesPerBlock = 21
		entrySize       = 24
		extFlagOffset   = 504
	)

	var out []SparseEntry

	for {
		blk, err := tr.readBlock()
		if err != nil {
			return nil, err
		}

		for i := 0; i < entriesPerBlock; i++ {
			base := i * entrySize

			off, e1 := parseNumeric(blk[base : base+12])
			num, e2 := parseNumeric(blk[base+12 : base+24])

			if e1 != nil || e2 != nil {
				return nil, &CorruptHeaderError{Reason: "invalid sparse extension entry"}
			}

			if off == 0 && num == 0 {
				continue
			}

			out = append(out, SparseEntry{Offset: off, Length: num})
		}

		if blk[extFlagOffset] == 0 {
			return out, nil
		}
	}
}

// Read reads from the current entry's body, which Next bounds to exactly
// the entry's declared Size.
func (tr *Reader) Read(p []byte) (int, error) {
	if tr.cur == nil {
		return 0, io.EOF
	}

	return tr.cur.Read(p) //nolint:wrapcheck
}

func (tr *Reader) skipCurrent() error {
	if tr.cur == nil {
		return nil
	}

	if _, err := io.Copy(io.Discard, tr.cur); err != nil {
		return fmt.Errorf("tar: discarding entry body: %w", err)
	}

	if tr.pad > 0 {
		if _, err := io.CopyN(io.Discard, tr.r, tr.pad); err != nil {
			return fmt.Errorf("%w: %v", errTruncated, err)
		}
	}

	tr.cur = nil
	tr.pad = 0

	return nil
}

func (tr *Reader) readFullBody(size int64) ([]byte, error) {
	if size < 0 {
		return nil, &CorruptHeaderError{Reason: "negative size"}
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(tr.r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", errTruncated, err)
	}

	if p := padding(size); p > 0 {
		if _, err := io.CopyN(io.Discard, tr.r, p); err != nil {
			return nil, fmt.Errorf("%w: %v", errTruncated, err)
		}
	}

	return buf, nil
}

func (tr *Reader) readBlock() ([]byte, error) {
	blk := make([]byte, blockSize)

	if _, err := io.ReadFull(tr.r, blk); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("tar: %w", err)
	}

	return blk, nil
}

func padding(size int64) int64 {
	if rem := size % blockSize; rem != 0 {
		return blockSize - rem
	}

	return 0
}

func isZeroBlock(blk []byte) bool {
	for _, b := range blk {
		if b != 0 {
			return false
		}
	}

	return true
}

func trimNUL(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}
