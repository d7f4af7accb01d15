package cpio

import (
	"fmt"
	"io"
)

// Writer emits cpio archives in one of the portable ASCII formats (old or
// new). Old binary is read-only in this package: spec.md only requires
// producing it for round-trip testing of the new formats, which every
// modern cpio writer defaults to.
type Writer struct {
	w    io.Writer
	fmt  Format
	size int64
	n    int64
	sum  uint32
}

// NewWriter returns a Writer emitting new-portable-ASCII ("070701")
// headers, the default modern cpio format.
func NewWriter(w io.Writer) *Writer { return &Writer{w: w, fmt: FormatNewASCII} }

// NewWriterFormat returns a Writer emitting the given format, which must
// be FormatOldASCII, FormatNewASCII or FormatNewCRC.
func NewWriterFormat(w io.Writer, format Format) *Writer { return &Writer{w: w, fmt: format} }

// WriteHeader finishes the previous entry's padding and writes hdr.
func (cw *Writer) WriteHeader(hdr *Header) error {
	if err := cw.finishEntry(); err != nil {
		return err
	}

	var err error

	switch cw.fmt {
	case FormatOldASCII:
		err = cw.writeOldASCII(hdr)
	case FormatNewASCII, FormatNewCRC:
		err = cw.writeNew(hdr)
	default:
		return fmt.Errorf("cpio: unsupported output format %d", cw.fmt)
	}

	if err != nil {
		return err
	}

	cw.size = hdr.Size
	cw.n = 0
	cw.sum = 0

	return nil
}

func (cw *Writer) writeOldASCII(hdr *Header) error {
	namesize := len(hdr.Name) + 1

	s := fmt.Sprintf("%s%06o%06o%06o%06o%06o%06o%06o%011o%06o%011o",
		magicOldASCII, hdr.Dev, hdr.Ino, hdr.Mode, hdr.UID, hdr.GID,
		hdr.NLink, hdr.RDev, hdr.ModTime, namesize, hdr.Size)

	if _, err := io.WriteString(cw.w, s); err != nil {
		return fmt.Errorf("cpio: writing header: %w", err)
	}

	if _, err := io.WriteString(cw.w, hdr.Name+"\x00"); err != nil {
		return fmt.Errorf("cpio: writing name: %w", err)
	}

	return nil
}

func (cw *Writer) writeNew(hdr *Header) error {
	namesize := len(hdr.Name) + 1
	devmajor, devminor := hdr.RDev>>32, hdr.RDev&0xffffffff

	magic := magicNewASCII
	if cw.fmt == FormatNewCRC {
		magic = magicNewCRC
	}

	s := fmt.Sprintf("%s%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x%08x",
		magic, hdr.Ino, hdr.Mode, hdr.UID, hdr.GID, hdr.NLink, hdr.ModTime,
		hdr.Size, devmajor, devminor, uint64(0), uint64(0), namesize, hdr.Check)

	if _, err := io.WriteString(cw.w, s); err != nil {
		return fmt.Errorf("cpio: writing header: %w", err)
	}

	if _, err := io.WriteString(cw.w, hdr.Name+"\x00"); err != nil {
		return fmt.Errorf("cpio: writing name: %w", err)
	}

	if skip := headerNameSkip(110+namesize, 4); skip > 0 {
		if _, err := cw.w.Write(make([]byte, skip)); err != nil {
			return fmt.Errorf("cpio: writing name padding: %w", err)
		}
	}

	return nil
}

// Write writes to the current entry's body. When the writer's format is
// FormatNewCRC, the caller is expected to have set hdr.Check to the sum
// of the body's bytes before calling WriteHeader; Write itself tracks the
// running sum only to let tests double check their fixtures.
func (cw *Writer) Write(p []byte) (int, error) {
	if cw.n+int64(len(p)) > cw.size {
		return 0, fmt.Errorf("cpio: %w", errTooMuch)
	}

	n, err := cw.w.Write(p)
	cw.n += int64(n)

	for _, b := range p[:n] {
		cw.sum += uint32(b)
	}

	if err != nil {
		return n, fmt.Errorf("cpio: %w", err)
	}

	return n, nil
}

// Close finishes the final entry's padding and writes the TRAILER!!!
// record that marks the end of the archive.
func (cw *Writer) Close() error {
	if err := cw.WriteHeader(&Header{Name: trailerName, NLink: 1}); err != nil {
		return err
	}

	return cw.finishEntry()
}

func (cw *Writer) finishEntry() error {
	if cw.n < cw.size {
		return &CorruptHeaderError{Reason: "entry body shorter than declared size"}
	}

	switch cw.fmt {
	case FormatNewASCII, FormatNewCRC:
		if skip := headerNameSkip(int(cw.size), 4); skip > 0 {
			if _, err := cw.w.Write(make([]byte, skip)); err != nil {
				return fmt.Errorf("cpio: writing body padding: %w", err)
			}
		}
	case FormatOldASCII:
		// no body alignment padding in the old ASCII format
	}

	return nil
}
