// Package zip implements the on-disk structures and engines for reading and
// writing ZIP archives: central-directory location across split segments,
// Zip64 promotion, raw-entry insertion, and a parallel scatter-gather
// builder for producing large archives without serialising compression
// work.
package zip

import (
	"os"
	"path"
	"time"

	"github.com/bodgit/archive/zip/internal/extrafield"
)

// Compression methods. Additional methods are registered through
// internal/codec and looked up by the numeric id; these two are always
// available since every archive must support at least Store.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50
	spanningSignature        = 0x08074b50

	fileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22
	dataDescriptorLen  = 16
	dataDescriptor64Len = 24
	directory64LocLen  = 20
	directory64EndLen  = 56

	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19

	zipVersion20 = 20
	zipVersion45 = 45

	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	flagDataDescriptor = 0x8
	flagUTF8           = 0x800

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Zip64Mode selects when the writer promotes a record's size/offset fields
// to their 8-byte Zip64 forms.
type Zip64Mode int

const (
	// Zip64AsNeeded promotes only the fields that don't fit their 32-bit
	// or 16-bit on-disk representation.
	Zip64AsNeeded Zip64Mode = iota

	// Zip64Always emits the Zip64 extra with 8-byte sizes on every
	// entry and always uses the Zip64 EOCD pair.
	Zip64Always

	// Zip64Never fails the write with a Zip64RequiredError instead of
	// promoting any field.
	Zip64Never

	// Zip64AlwaysWithCompatibility emits 8-byte sizes like Zip64Always
	// but only promotes per-entry CD offsets/disk numbers when needed,
	// which several 7z/Excel ZIP readers parse more reliably than a
	// fully-promoted record.
	Zip64AlwaysWithCompatibility
)

// FileHeader describes one entry of a ZIP archive, for both reading and
// writing. Extra fields recognised by the registry in
// zip/internal/extrafield are parsed eagerly into Extras; unrecognised ids
// come back as *extrafield.Opaque so they round-trip losslessly.
type FileHeader struct {
	// Name is a relative, forward-slash-separated path. A trailing
	// slash marks a directory entry.
	Name string

	Comment string

	// NonUTF8 forces the UTF-8 general-purpose flag bit off even if
	// Name/Comment would otherwise qualify, for producing archives
	// targeting readers that mishandle that bit.
	NonUTF8 bool

	CreatorVersion uint16
	ReaderVersion  uint16
	Flags          uint16

	// Method is the compression method id. Zero means Store.
	Method uint16

	Modified time.Time

	CRC32 uint32

	CompressedSize64   uint64
	UncompressedSize64 uint64
	ExternalAttrs      uint32

	// Extras holds every extra field attached to this entry, in the
	// order encountered. Reparsing the raw on-disk blob (for an
	// already-decoded FileHeader) is unnecessary; callers that build a
	// FileHeader by hand populate this slice directly.
	Extras []extrafield.Field

	// Alignment requests that the writer pad the local header so this
	// entry's payload begins at an offset that's a multiple of
	// Alignment, a power of two. Zero disables alignment.
	Alignment uint16

	// LocalHeaderOffset and DiskStart are populated by the reader from
	// the central directory record; the writer does not set them and
	// tracks each entry's offset itself.
	LocalHeaderOffset uint64
	DiskStart         uint32
}

// isZip64 reports whether the file's declared sizes alone would require
// Zip64 promotion, independent of the writer's Zip64Mode policy.
func (h *FileHeader) isZip64() bool {
	return h.CompressedSize64 >= uint32max || h.UncompressedSize64 >= uint32max
}

// FileInfo adapts the header to an os.FileInfo.
func (h *FileHeader) FileInfo() os.FileInfo {
	return headerFileInfo{h}
}

type headerFileInfo struct {
	fh *FileHeader
}

func (fi headerFileInfo) Name() string       { return path.Base(fi.fh.Name) }
func (fi headerFileInfo) Size() int64        { return int64(fi.fh.UncompressedSize64) }
func (fi headerFileInfo) IsDir() bool        { return fi.Mode().IsDir() }
func (fi headerFileInfo) ModTime() time.Time { return fi.fh.Modified }
func (fi headerFileInfo) Mode() os.FileMode  { return fi.fh.Mode() }
func (fi headerFileInfo) Sys() interface{}   { return fi.fh }

// FileInfoHeader builds a partially-populated FileHeader from an
// os.FileInfo. Since FileInfo only reports a base name, callers usually
// need to set Name to the full archive path afterwards.
func FileInfoHeader(fi os.FileInfo) *FileHeader {
	size := fi.Size()

	fh := &FileHeader{
		Name:               fi.Name(),
		UncompressedSize64: uint64(size),
		CompressedSize64:   uint64(size),
		Modified:           fi.ModTime(),
	}
	fh.SetMode(fi.Mode())

	return fh
}

// timeToMsDosTime converts t to the legacy MS-DOS date/time pair, 2s
// resolution, in t's own location (the ZIP format has no timezone field).
func timeToMsDosTime(t time.Time) (date, dosTime uint16) {
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	dosTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)

	return
}

func msDosTimeToTime(date, dosTime uint16) time.Time {
	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}

// Unix mode bits the specification doesn't define but every writer/reader
// agrees on in practice.
const (
	sIFMT   = 0xf000
	sIFSOCK = 0xc000
	sIFLNK  = 0xa000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sISUID  = 0x800
	sISGID  = 0x400
	sISVTX  = 0x200
)

// Mode returns the Unix permission/type bits for the entry, derived from
// ExternalAttrs according to whichever OS wrote CreatorVersion's upper
// byte.
func (h *FileHeader) Mode() (mode os.FileMode) {
	switch h.CreatorVersion >> 8 {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(h.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(h.ExternalAttrs)
	}

	if len(h.Name) > 0 && h.Name[len(h.Name)-1] == '/' {
		mode |= os.ModeDir
	}

	return mode
}

// SetMode encodes mode into ExternalAttrs as a Unix creator would, and
// mirrors the directory/read-only bits into the MS-DOS attribute byte too,
// the way every major ZIP writer does for maximum reader compatibility.
func (h *FileHeader) SetMode(mode os.FileMode) {
	h.CreatorVersion = h.CreatorVersion&0xff | creatorUnix<<8
	h.ExternalAttrs = fileModeToUnixMode(mode) << 16

	if mode&os.ModeDir != 0 {
		h.ExternalAttrs |= msdosDir
	}

	if mode&0o200 == 0 {
		h.ExternalAttrs |= msdosReadOnly
	}
}

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0o777
	} else {
		mode = 0o666
	}

	if m&msdosReadOnly != 0 {
		mode &^= 0o222
	}

	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32

	switch mode & os.ModeType {
	default:
		m = sIFREG
	case os.ModeDir:
		m = sIFDIR
	case os.ModeSymlink:
		m = sIFLNK
	case os.ModeNamedPipe:
		m = sIFIFO
	case os.ModeSocket:
		m = sIFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = sIFCHR
		} else {
			m = sIFBLK
		}
	}

	if mode&os.ModeSetuid != 0 {
		m |= sISUID
	}

	if mode&os.ModeSetgid != 0 {
		m |= sISGID
	}

	if mode&os.ModeSticky != 0 {
		m |= sISVTX
	}

	return m | uint32(mode&0o777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0o777)

	switch m & sIFMT {
	case sIFBLK:
		mode |= os.ModeDevice
	case sIFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case sIFDIR:
		mode |= os.ModeDir
	case sIFIFO:
		mode |= os.ModeNamedPipe
	case sIFLNK:
		mode |= os.ModeSymlink
	case sIFREG:
	case sIFSOCK:
		mode |= os.ModeSocket
	}

	if m&sISGID != 0 {
		mode |= os.ModeSetgid
	}

	if m&sISUID != 0 {
		mode |= os.ModeSetuid
	}

	if m&sISVTX != 0 {
		mode |= os.ModeSticky
	}

	return mode
}
