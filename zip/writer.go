package zip

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/bodgit/archive/internal/codec"
	"github.com/bodgit/archive/internal/iox"
	"github.com/bodgit/archive/zip/internal/extrafield"
	"github.com/spf13/afero"
)

// unsplittablePreparer is implemented by [splitOutput]; a plain
// single-file sink has nothing to prepare since it never straddles a
// segment boundary in the first place.
type unsplittablePreparer interface {
	prepareUnsplittable(size int64) error
}

// finisher is implemented by [splitOutput] to rename its working segment
// files to their public names.
type finisher interface {
	finish() ([]string, error)
}

// randomAccessWriter is implemented by a sink that supports backpatching,
// i.e. [iox.RandomAccessOutput]. AddEntry asserts against it to decide
// between backpatching the local header and emitting a data descriptor.
type randomAccessWriter interface {
	WriteAt(p []byte, off int64) (int, error)
}

// OutputEngine writes entries to a ZIP archive, applying the configured
// Zip64 promotion policy to every local and central directory record. The
// sink only needs to support sequential writes with a position counter
// ([iox.ByteSink]); when it also implements [randomAccessWriter] (i.e. is
// an [iox.RandomAccessOutput]), AddEntry backpatches local headers
// instead of emitting a data descriptor.
type OutputEngine struct {
	w    iox.ByteSink
	mode Zip64Mode

	dir     []*FileHeader
	offsets []uint64
	comment string
}

// NewOutputEngine wraps w, an already-open sink, for sequential entry
// writes followed by a single Finish.
func NewOutputEngine(w iox.ByteSink, mode Zip64Mode) *OutputEngine {
	return &OutputEngine{w: w, mode: mode}
}

// NewSplitOutputEngine creates a split-segment archive named
// "<base>.z01", …, "<base>.zip" with each segment at most splitSize
// bytes.
func NewSplitOutputEngine(fs afero.Fs, base string, splitSize int64, mode Zip64Mode) (*OutputEngine, error) {
	s, err := newSplitOutput(fs, base, splitSize)
	if err != nil {
		return nil, err
	}

	return NewOutputEngine(s, mode), nil
}

// SetComment sets the archive-level comment written into the EOCD record.
func (e *OutputEngine) SetComment(comment string) error {
	if len(comment) > uint16max {
		return errLongExtra
	}

	e.comment = comment

	return nil
}

func fieldsToBytes(fields []extrafield.Field, central bool) []byte {
	var buf []byte

	for _, f := range fields {
		var data []byte

		if central {
			if e, ok := f.(extrafield.CentralEmitter); ok {
				data = e.EmitCentral()
			}
		} else if e, ok := f.(extrafield.LocalEmitter); ok {
			data = e.EmitLocal()
		}

		if data == nil {
			continue
		}

		var hdr [4]byte
		binary.LittleEndian.PutUint16(hdr[0:], uint16(f.ID()))
		binary.LittleEndian.PutUint16(hdr[2:], uint16(len(data)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, data...)
	}

	return buf
}

// alignmentPadding returns the padding extra field needed to make the
// payload (starting right after the local header + name + existing
// extras) land on a multiple of align, or nil if no padding is needed.
func alignmentPadding(headerLen int, align uint16) extrafield.Field {
	if align == 0 {
		return nil
	}

	// +4 for the padding field's own {id,size} prefix.
	need := (int(align) - (headerLen+4)%int(align)) % int(align)

	return &extrafield.Padding{Data: make([]byte, need)}
}

// zip64LocalExtraBytes returns the on-disk {id, size, data} bytes for a
// Zip64 extra field sized for a local file header (uncompressed size then
// compressed size only; a local header never carries the offset/disk
// fields the central directory variant does). Called with zeros to
// reserve a placeholder ahead of streamed compression, whose real values
// aren't known until it finishes, or with the real sizes when they're
// already known up front.
func zip64LocalExtraBytes(uncompressedSize, compressedSize uint64) []byte {
	data := (&extrafield.Zip64{UncompressedSize: uncompressedSize, CompressedSize: compressedSize}).EmitLocal()

	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(extrafield.IDZip64))
	binary.LittleEndian.PutUint16(hdr[2:], uint16(len(data)))

	return append(hdr[:], data...)
}

// AddEntry compresses content with fh.Method and writes it as a new
// entry. When the sink supports random-access backpatching, the local
// header's CRC/size fields are patched in afterwards and no data
// descriptor is emitted; otherwise a data descriptor follows the
// compressed body, per the format's policy for sequential-only sinks.
func (e *OutputEngine) AddEntry(fh *FileHeader, content io.Reader) error {
	if len(fh.Name) > uint16max {
		return errLongName
	}

	prepareEntry(fh)

	comp, ok := compressor(fh.Method)
	if !ok {
		return ErrAlgorithm
	}

	if pad := alignmentPadding(fileHeaderLen+len(encodeEntryName(fh)), fh.Alignment); pad != nil {
		fh.Extras = append(fh.Extras, pad)
	}

	extra := fieldsToBytes(fh.Extras, false)

	// The compressed/uncompressed sizes aren't known until the body has
	// streamed through the compressor, so whenever the policy hasn't
	// already ruled out Zip64 entirely, reserve a placeholder extra now
	// rather than try to grow the header after the fact. Whichever of
	// backpatching or the trailing data descriptor ends up used fills in
	// the real values once they're known.
	reserveZip64 := e.mode != Zip64Never
	if reserveZip64 {
		extra = append(extra, zip64LocalExtraBytes(0, 0)...)
	}

	if len(extra) > uint16max {
		return errLongExtra
	}

	entryOffset := e.w.Position()

	_, canBackpatch := e.w.(randomAccessWriter)
	if canBackpatch {
		fh.Flags &^= flagDataDescriptor
	} else {
		fh.Flags |= flagDataDescriptor
	}

	if err := e.writeLocalHeader(fh, extra, 0, 0, 0); err != nil {
		return err
	}

	crcFieldOffset := entryOffset + 14 // past signature, version, flags, method, time, date

	zip64Offset := int64(-1)
	if reserveZip64 {
		zip64Offset = entryOffset + int64(fileHeaderLen) + int64(len(encodeEntryName(fh))) + int64(len(extra)) - 16
	}

	if err := e.streamCompressedBody(fh, content, comp, crcFieldOffset, zip64Offset); err != nil {
		return err
	}

	e.dir = append(e.dir, fh)
	e.offsets = append(e.offsets, uint64(entryOffset))

	return nil
}

func (e *OutputEngine) streamCompressedBody(
	fh *FileHeader,
	content io.Reader,
	comp codec.Compressor,
	crcFieldOffset int64,
	zip64Offset int64,
) error {
	cw, _, err := comp(e.w)
	if err != nil {
		return fmt.Errorf("zip: error constructing compressor: %w", err)
	}

	hash := crc32.NewIEEE()
	before := e.w.Position()

	n, err := io.Copy(io.MultiWriter(cw, hash), content)
	if err != nil {
		return fmt.Errorf("zip: error compressing entry: %w", err)
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("zip: error closing compressor: %w", err)
	}

	fh.UncompressedSize64 = uint64(n)
	fh.CompressedSize64 = uint64(e.w.Position() - before)
	fh.CRC32 = hash.Sum32()

	if e.mode == Zip64Never && fh.isZip64() {
		return &Zip64RequiredError{Field: fh.Name}
	}

	promote := fh.isZip64() || e.mode == Zip64Always || e.mode == Zip64AlwaysWithCompatibility

	if fh.Flags&flagDataDescriptor != 0 {
		if _, err := e.w.Write(makeDataDescriptor(fh, promote)); err != nil {
			return fmt.Errorf("zip: error writing data descriptor: %w", err)
		}

		return nil
	}

	return e.backpatchLocalHeader(fh, crcFieldOffset, zip64Offset, promote)
}

func (e *OutputEngine) backpatchLocalHeader(fh *FileHeader, crcFieldOffset, zip64Offset int64, promote bool) error {
	raw, ok := e.w.(randomAccessWriter)
	if !ok {
		return fmt.Errorf("zip: sink does not support backpatching")
	}

	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], fh.CRC32)

	if promote && zip64Offset >= 0 {
		binary.LittleEndian.PutUint32(buf[4:], uint32max)
		binary.LittleEndian.PutUint32(buf[8:], uint32max)
	} else {
		binary.LittleEndian.PutUint32(buf[4:], uint32(fh.CompressedSize64))
		binary.LittleEndian.PutUint32(buf[8:], uint32(fh.UncompressedSize64))
	}

	if _, err := raw.WriteAt(buf[:], crcFieldOffset); err != nil {
		return fmt.Errorf("zip: error backpatching local header: %w", err)
	}

	if zip64Offset >= 0 {
		var zbuf [16]byte
		binary.LittleEndian.PutUint64(zbuf[0:], fh.UncompressedSize64)
		binary.LittleEndian.PutUint64(zbuf[8:], fh.CompressedSize64)

		if _, err := raw.WriteAt(zbuf[:], zip64Offset); err != nil {
			return fmt.Errorf("zip: error backpatching zip64 local extra: %w", err)
		}
	}

	return nil
}

func (e *OutputEngine) writeLocalHeader(fh *FileHeader, extra []byte, crcVal, compSize, uncompSize uint32) error {
	name := encodeEntryName(fh)

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(fh.ReaderVersion)
	b.uint16(fh.Flags)
	b.uint16(fh.Method)

	date, modTime := timeToMsDosTime(fh.Modified)
	b.uint16(modTime)
	b.uint16(date)
	b.uint32(crcVal)
	b.uint32(compSize)
	b.uint32(uncompSize)
	b.uint16(uint16(len(name)))
	b.uint16(uint16(len(extra)))

	if _, err := e.w.Write(buf[:]); err != nil {
		return fmt.Errorf("zip: error writing local header: %w", err)
	}

	if _, err := e.w.Write(name); err != nil {
		return fmt.Errorf("zip: error writing entry name: %w", err)
	}

	if _, err := e.w.Write(extra); err != nil {
		return fmt.Errorf("zip: error writing local extra: %w", err)
	}

	return nil
}

// encodeEntryName returns fh.Name's on-disk bytes: UTF-8 unless NonUTF8
// forces the legacy code page 437 encoding.
func encodeEntryName(fh *FileHeader) []byte {
	if fh.NonUTF8 {
		return encodeNonUTF8(fh.Name)
	}

	return []byte(fh.Name)
}

// encodeEntryComment is encodeEntryName for fh.Comment.
func encodeEntryComment(fh *FileHeader) []byte {
	if fh.NonUTF8 {
		return encodeNonUTF8(fh.Comment)
	}

	return []byte(fh.Comment)
}

// AddRawEntry inserts an already-compressed stream whose method, CRC32,
// and sizes are pre-known, copying bytes verbatim. This is how
// ScatterGatherBuilder.WriteTo merges spill files, and is the path a raw
// stream copy (zip-to-zip, unchanged payload) would use.
func (e *OutputEngine) AddRawEntry(fh *FileHeader, raw io.Reader) error {
	if len(fh.Name) > uint16max {
		return errLongName
	}

	prepareEntry(fh)
	fh.Flags &^= flagDataDescriptor

	if pad := alignmentPadding(fileHeaderLen+len(encodeEntryName(fh)), fh.Alignment); pad != nil {
		fh.Extras = append(fh.Extras, pad)
	}

	extra := fieldsToBytes(fh.Extras, false)

	if e.mode == Zip64Never && fh.isZip64() {
		return &Zip64RequiredError{Field: fh.Name}
	}

	promote := fh.isZip64() || e.mode == Zip64Always || e.mode == Zip64AlwaysWithCompatibility

	if promote {
		fh.ReaderVersion = zipVersion45
		extra = append(extra, zip64LocalExtraBytes(fh.UncompressedSize64, fh.CompressedSize64)...)
	}

	if len(extra) > uint16max {
		return errLongExtra
	}

	offset := e.w.Position()

	compSize, uncompSize := uint32(fh.CompressedSize64), uint32(fh.UncompressedSize64)
	if promote {
		compSize, uncompSize = uint32max, uint32max
	}

	if err := e.writeLocalHeader(fh, extra, fh.CRC32, compSize, uncompSize); err != nil {
		return err
	}

	if _, err := io.CopyN(e.w, raw, int64(fh.CompressedSize64)); err != nil {
		return fmt.Errorf("zip: error copying raw entry payload: %w", err)
	}

	e.dir = append(e.dir, fh)
	e.offsets = append(e.offsets, uint64(offset))

	return nil
}

type writeBuf []byte

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// makeDataDescriptor builds the trailer that follows a streamed entry's
// compressed body when the sink can't support backpatching. zip64 selects
// the 8-byte size variant, for an entry the Zip64 policy has promoted.
func makeDataDescriptor(fh *FileHeader, zip64 bool) []byte {
	if zip64 {
		buf := make([]byte, dataDescriptor64Len)
		b := writeBuf(buf)
		b.uint32(dataDescriptorSignature)
		b.uint32(fh.CRC32)
		b.uint64(fh.CompressedSize64)
		b.uint64(fh.UncompressedSize64)

		return buf
	}

	buf := make([]byte, dataDescriptorLen)
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(fh.CRC32)
	b.uint32(uint32(fh.CompressedSize64))
	b.uint32(uint32(fh.UncompressedSize64))

	return buf
}

// prepareEntry fills in the version/flag bookkeeping every written entry
// needs, mirroring the UTF-8-or-CP437 detection and directory-Store
// conventions every mainstream ZIP writer applies.
func prepareEntry(fh *FileHeader) {
	if !fh.NonUTF8 {
		fh.Flags |= flagUTF8
	}

	fh.CreatorVersion = fh.CreatorVersion&0xff00 | zipVersion20
	fh.ReaderVersion = zipVersion20

	if strings.HasSuffix(fh.Name, "/") {
		fh.Method = Store
		fh.CompressedSize64 = 0
		fh.UncompressedSize64 = 0
	}
}

// Finish writes the central directory and EOCD (plus the Zip64 pair when
// the policy or field overflow requires it), then finalises the
// underlying sink. For a split archive this renames every segment to its
// public name and returns those names; for a single-file sink it returns
// nil.
func (e *OutputEngine) Finish() ([]string, error) {
	start := e.w.Position()

	if err := e.writeCentralDirectory(); err != nil {
		return nil, err
	}

	end := e.w.Position()
	size := uint64(end - start)
	records := uint64(len(e.dir))

	needZip64 := e.mode == Zip64Always ||
		records >= uint16max || size >= uint32max || uint64(start) >= uint32max

	if e.mode == Zip64Never && needZip64 {
		return nil, &Zip64RequiredError{Field: "central directory"}
	}

	zip64Len := int64(0)
	if needZip64 {
		zip64Len = directory64EndLen + directory64LocLen
	}

	if p, ok := e.w.(unsplittablePreparer); ok {
		if err := p.prepareUnsplittable(zip64Len + directoryEndLen + int64(len(e.comment))); err != nil {
			return nil, fmt.Errorf("zip: error preparing end records: %w", err)
		}
	}

	if needZip64 {
		if err := e.writeZip64End(uint64(start), size, records); err != nil {
			return nil, err
		}
	}

	if err := e.writeEOCD(uint64(start), size, records, needZip64); err != nil {
		return nil, err
	}

	if f, ok := e.w.(finisher); ok {
		names, err := f.finish()
		if err != nil {
			return nil, err
		}

		return names, nil
	}

	return nil, nil
}

func (e *OutputEngine) writeCentralDirectory() error {
	for i, fh := range e.dir {
		offset := e.offsets[i]

		extras := append([]extrafield.Field(nil), fh.Extras...)

		promoteOffset := offset >= uint32max
		promoteSize := fh.isZip64()

		switch e.mode {
		case Zip64Always:
			// Always forces every field, offset included, unlike
			// AlwaysWithCompatibility which only promotes the
			// offset when the 32-bit field would overflow.
			promoteOffset = true
			promoteSize = true
		case Zip64AlwaysWithCompatibility:
			promoteSize = true
		}

		if promoteOffset || (promoteSize && e.mode != Zip64Never) {
			z := &extrafield.Zip64{
				UncompressedSize:  fh.UncompressedSize64,
				CompressedSize:    fh.CompressedSize64,
				LocalHeaderOffset: offset,
			}
			extras = append(extras, z)
		}

		if e.mode == Zip64Never && (promoteOffset || promoteSize) {
			return &Zip64RequiredError{Field: fh.Name}
		}

		extra := fieldsToBytes(extras, true)
		name := encodeEntryName(fh)
		comment := encodeEntryComment(fh)

		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(directoryHeaderSignature)
		b.uint16(fh.CreatorVersion)
		b.uint16(fh.ReaderVersion)
		b.uint16(fh.Flags)
		b.uint16(fh.Method)

		date, modTime := timeToMsDosTime(fh.Modified)
		b.uint16(modTime)
		b.uint16(date)
		b.uint32(fh.CRC32)

		if promoteSize {
			b.uint32(uint32max)
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(fh.CompressedSize64))
			b.uint32(uint32(fh.UncompressedSize64))
		}

		b.uint16(uint16(len(name)))
		b.uint16(uint16(len(extra)))
		b.uint16(uint16(len(comment)))
		b.uint16(0) // disk number start
		b.uint16(0) // internal file attrs
		b.uint32(fh.ExternalAttrs)

		if promoteOffset {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(offset))
		}

		if _, err := e.w.Write(buf[:]); err != nil {
			return fmt.Errorf("zip: error writing central directory record: %w", err)
		}

		if _, err := e.w.Write(name); err != nil {
			return fmt.Errorf("zip: error writing central directory name: %w", err)
		}

		if _, err := e.w.Write(extra); err != nil {
			return fmt.Errorf("zip: error writing central directory extra: %w", err)
		}

		if _, err := e.w.Write(comment); err != nil {
			return fmt.Errorf("zip: error writing central directory comment: %w", err)
		}
	}

	return nil
}

func (e *OutputEngine) writeZip64End(offset, size, records uint64) error {
	var buf [directory64EndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directory64EndSignature)
	b.uint64(directory64EndLen - 12)
	b.uint16(zipVersion45)
	b.uint16(zipVersion45)
	b.uint32(0)
	b.uint32(0)
	b.uint64(records)
	b.uint64(records)
	b.uint64(size)
	b.uint64(offset)

	if _, err := e.w.Write(buf[:]); err != nil {
		return fmt.Errorf("zip: error writing zip64 end of central directory: %w", err)
	}

	zip64EndOffset := offset + size

	var locBuf [directory64LocLen]byte
	lb := writeBuf(locBuf[:])
	lb.uint32(directory64LocSignature)
	lb.uint32(0)
	lb.uint64(zip64EndOffset)
	lb.uint32(1)

	if _, err := e.w.Write(locBuf[:]); err != nil {
		return fmt.Errorf("zip: error writing zip64 end locator: %w", err)
	}

	return nil
}

func (e *OutputEngine) writeEOCD(offset, size, records uint64, zip64 bool) error {
	outRecords, outSize, outOffset := records, size, offset

	if zip64 {
		outRecords = uint16max
		outSize = uint32max
		outOffset = uint32max
	}

	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b.uint16(0) // disk number
	b.uint16(0) // disk with start of CD
	b.uint16(uint16(outRecords))
	b.uint16(uint16(outRecords))
	b.uint32(uint32(outSize))
	b.uint32(uint32(outOffset))
	b.uint16(uint16(len(e.comment)))

	if _, err := e.w.Write(buf[:]); err != nil {
		return fmt.Errorf("zip: error writing end of central directory: %w", err)
	}

	if _, err := io.WriteString(e.w, e.comment); err != nil {
		return fmt.Errorf("zip: error writing end of central directory comment: %w", err)
	}

	return nil
}
