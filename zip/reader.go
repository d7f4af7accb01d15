package zip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strings"

	"github.com/bodgit/archive/internal/iox"
	"github.com/bodgit/archive/zip/internal/extrafield"
	"github.com/spf13/afero"
	"go4.org/readerutil"
)

// eocdSearchWindow bounds the backward scan for the end-of-central-
// directory signature: the record itself is at most directoryEndLen+64KiB
// bytes from the end of the file (22-byte fixed record plus up to a
// 65535-byte comment).
const eocdSearchWindow = directoryEndLen + 1<<16

// File is one entry of an opened archive, combining its parsed header with
// the ability to open its (decompressed) content.
type File struct {
	FileHeader
	zip *Reader
}

// Open returns a reader for the entry's decompressed content. The caller
// must Close it when done. Once the entry's full declared size has been
// read, Read verifies the CRC32 and returns ErrChecksum if it doesn't
// match; Close does not check it.
func (f *File) Open() (rc iofs.File, err error) {
	return f.zip.openFile(f)
}

// Reader reads the central directory of a ZIP archive, locating the
// EOCD/Zip64-EOCD record possibly across split segments, then serves
// random-access entry reads from it.
type Reader struct {
	r       iox.ByteSource
	File    []*File
	Comment string
}

// NewReader returns a Reader reading from r, whose r.Size() bytes hold
// the ZIP data (the concatenation of every split segment, if any, in
// order).
func NewReader(r iox.ByteSource) (*Reader, error) {
	zr := &Reader{r: r}
	if err := zr.init(); err != nil {
		return nil, err
	}

	return zr, nil
}

// ReadCloser is a Reader that also owns the underlying file(s), closed by
// Close.
type ReadCloser struct {
	Reader

	files []afero.File
}

// Close releases every underlying segment file.
func (rc *ReadCloser) Close() error {
	errs := make([]error, 0, len(rc.files))
	for _, f := range rc.files {
		errs = append(errs, f.Close())
	}

	return errors.Join(errs...)
}

// OpenReader opens the ZIP archive at name using the default OS
// filesystem. If name looks like the final segment of a split archive
// (its siblings "<base>.z01", "<base>.z02", … exist), every segment is
// opened and composed into one random-access source the same way the 7z
// reader composes ".001" volumes.
func OpenReader(name string) (*ReadCloser, error) {
	return OpenReaderFs(afero.NewOsFs(), name)
}

// OpenReaderFs is OpenReader against an explicit afero.Fs, for tests that
// want an in-memory archive.
func OpenReaderFs(fs afero.Fs, name string) (*ReadCloser, error) {
	r, size, files, err := openSplit(fs, name)
	if err != nil {
		return nil, err
	}

	rc := &ReadCloser{files: files}
	rc.r = iox.NewByteSource(r, size)

	if err := rc.init(); err != nil {
		for _, f := range files {
			_ = f.Close()
		}

		return nil, err
	}

	return rc, nil
}

func openSplit(fs afero.Fs, name string) (readerutil.SizeReaderAt, int64, []afero.File, error) {
	ext := filepath.Ext(name)
	if ext != ".zip" {
		f, size, err := openOne(fs, name)
		if err != nil {
			return nil, 0, nil, err
		}

		return newSizeReaderAt(f, size), size, []afero.File{f}, nil
	}

	base := strings.TrimSuffix(name, ext)

	var (
		parts []readerutil.SizeReaderAt
		files []afero.File
	)

	for i := 1; ; i++ {
		segName := fmt.Sprintf("%s.z%02d", base, i)

		f, size, err := openOne(fs, segName)
		if err != nil {
			if errors.Is(err, iofs.ErrNotExist) {
				break
			}

			closeAll(files)

			return nil, 0, nil, err
		}

		files = append(files, f)
		parts = append(parts, newSizeReaderAt(f, size))
	}

	f, size, err := openOne(fs, name)
	if err != nil {
		closeAll(files)

		return nil, 0, nil, err
	}

	files = append(files, f)
	parts = append(parts, newSizeReaderAt(f, size))

	mr := readerutil.NewMultiReaderAt(parts...)

	return mr, mr.Size(), files, nil
}

func closeAll(files []afero.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func openOne(fs afero.Fs, name string) (afero.File, int64, error) {
	f, err := fs.Open(filepath.Clean(name))
	if err != nil {
		return nil, 0, fmt.Errorf("zip: error opening: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, 0, fmt.Errorf("zip: error stating: %w", err)
	}

	return f, info.Size(), nil
}

// newSizeReaderAt avoids importing io solely for this helper's
// signature while keeping the intent obvious at the call site.
func newSizeReaderAt(f afero.File, size int64) readerutil.SizeReaderAt {
	return sizeReaderAtFile{f: f, size: size}
}

type sizeReaderAtFile struct {
	f    afero.File
	size int64
}

func (s sizeReaderAtFile) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s sizeReaderAtFile) Size() int64                             { return s.size }

func (z *Reader) init() error {
	end, directoryOffset, err := z.readEOCD()
	if err != nil {
		return err
	}

	z.Comment = end.comment

	buf := make([]byte, end.directorySize)
	if _, err := z.r.ReadAt(buf, directoryOffset); err != nil {
		return fmt.Errorf("zip: error reading central directory: %w", err)
	}

	return z.readCentralDirectory(buf, end.directoryRecords)
}

type endOfCentralDirectory struct {
	diskNumber       uint32
	directoryRecords uint64
	directorySize    uint64
	directoryOffset  uint64
	comment          string
}

func (z *Reader) readEOCD() (*endOfCentralDirectory, int64, error) {
	size := z.r.Size()

	window := int64(eocdSearchWindow)
	if window > size {
		window = size
	}

	buf := make([]byte, window)
	if _, err := z.r.ReadAt(buf, size-window); err != nil {
		return nil, 0, fmt.Errorf("zip: error reading trailer: %w", err)
	}

	idx := bytes.LastIndex(buf, []byte{0x50, 0x4b, 0x05, 0x06})
	if idx < 0 {
		return nil, 0, ErrFormat
	}

	eocdOffset := size - window + int64(idx)

	rec := buf[idx:]
	if len(rec) < directoryEndLen {
		return nil, 0, &CorruptHeaderError{Reason: "truncated end of central directory record"}
	}

	end := &endOfCentralDirectory{
		diskNumber:       uint32(binary.LittleEndian.Uint16(rec[4:])),
		directoryRecords: uint64(binary.LittleEndian.Uint16(rec[10:])),
		directorySize:    uint64(binary.LittleEndian.Uint32(rec[12:])),
		directoryOffset:  uint64(binary.LittleEndian.Uint32(rec[16:])),
	}

	commentLen := binary.LittleEndian.Uint16(rec[20:])
	if int(commentLen) <= len(rec)-directoryEndLen {
		end.comment = string(rec[directoryEndLen : directoryEndLen+int(commentLen)])
	}

	// Zip64: the locator sits in the 20 bytes immediately before the
	// EOCD record we just found.
	if eocdOffset >= directory64LocLen {
		locBuf := make([]byte, directory64LocLen)
		if _, err := z.r.ReadAt(locBuf, eocdOffset-directory64LocLen); err == nil &&
			binary.LittleEndian.Uint32(locBuf) == directory64LocSignature {
			zip64EOCDOffset := int64(binary.LittleEndian.Uint64(locBuf[8:]))

			zBuf := make([]byte, directory64EndLen)
			if _, err := z.r.ReadAt(zBuf, zip64EOCDOffset); err == nil &&
				binary.LittleEndian.Uint32(zBuf) == directory64EndSignature {
				end.directoryRecords = binary.LittleEndian.Uint64(zBuf[32:])
				end.directorySize = binary.LittleEndian.Uint64(zBuf[40:])
				end.directoryOffset = binary.LittleEndian.Uint64(zBuf[48:])
			}
		}
	}

	return end, int64(end.directoryOffset), nil
}

func (z *Reader) readCentralDirectory(buf []byte, count uint64) error {
	z.File = make([]*File, 0, count)

	for len(buf) > 0 {
		if len(buf) < directoryHeaderLen || binary.LittleEndian.Uint32(buf) != directoryHeaderSignature {
			break
		}

		f := &File{zip: z}
		f.CreatorVersion = binary.LittleEndian.Uint16(buf[4:])
		f.ReaderVersion = binary.LittleEndian.Uint16(buf[6:])
		f.Flags = binary.LittleEndian.Uint16(buf[8:])
		f.Method = binary.LittleEndian.Uint16(buf[10:])

		modTime := binary.LittleEndian.Uint16(buf[12:])
		modDate := binary.LittleEndian.Uint16(buf[14:])
		f.Modified = msDosTimeToTime(modDate, modTime)

		f.CRC32 = binary.LittleEndian.Uint32(buf[16:])
		f.CompressedSize64 = uint64(binary.LittleEndian.Uint32(buf[20:]))
		f.UncompressedSize64 = uint64(binary.LittleEndian.Uint32(buf[24:]))

		nameLen := int(binary.LittleEndian.Uint16(buf[28:]))
		extraLen := int(binary.LittleEndian.Uint16(buf[30:]))
		commentLen := int(binary.LittleEndian.Uint16(buf[32:]))
		f.DiskStart = uint32(binary.LittleEndian.Uint16(buf[34:]))
		f.ExternalAttrs = binary.LittleEndian.Uint32(buf[38:])
		f.LocalHeaderOffset = uint64(binary.LittleEndian.Uint32(buf[42:]))

		buf = buf[directoryHeaderLen:]

		if len(buf) < nameLen+extraLen+commentLen {
			return &CorruptHeaderError{Reason: "truncated central directory record"}
		}

		f.NonUTF8 = f.Flags&flagUTF8 == 0

		f.Name = decodeName(buf[:nameLen], !f.NonUTF8)
		buf = buf[nameLen:]

		extra := buf[:extraLen]
		buf = buf[extraLen:]

		f.Comment = decodeName(buf[:commentLen], !f.NonUTF8)
		buf = buf[commentLen:]

		if err := parseCentralExtra(f, extra); err != nil {
			return err
		}

		z.File = append(z.File, f)
	}

	return nil
}

func parseCentralExtra(f *File, extra []byte) error {
	needZip64 := f.CompressedSize64 == uint32max || f.UncompressedSize64 == uint32max ||
		f.LocalHeaderOffset == uint32max

	for len(extra) >= 4 {
		id := extrafield.ID(binary.LittleEndian.Uint16(extra))
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		extra = extra[4:]

		if len(extra) < size {
			return &CorruptHeaderError{Reason: "truncated extra field"}
		}

		data := extra[:size]
		extra = extra[size:]

		field := extrafield.ParseCentral(id, data)
		f.Extras = append(f.Extras, field)

		switch v := field.(type) {
		case *extrafield.UnicodePath:
			f.Name = v.Name
		case *extrafield.UnicodeComment:
			f.Comment = v.Comment
		}

		if id == extrafield.IDZip64 && needZip64 {
			if z, ok := field.(*extrafield.Zip64); ok {
				if f.UncompressedSize64 == uint32max {
					f.UncompressedSize64 = z.UncompressedSize
				}

				if f.CompressedSize64 == uint32max {
					f.CompressedSize64 = z.CompressedSize
				}

				if f.LocalHeaderOffset == uint32max {
					f.LocalHeaderOffset = z.LocalHeaderOffset
				}
			}
		}
	}

	return nil
}
