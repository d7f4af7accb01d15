package cpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/bodgit/plumbing"
)

const (
	magicOldBinary = 0o070707
	magicOldASCII  = "070707"
	magicNewASCII  = "070701"
	magicNewCRC    = "070702"
)

// Reader produces a lazy, finite, non-restartable sequence of (Header,
// body) pairs, auto-detecting the variant from the magic bytes at the
// start of the stream (spec.md section 4.5: "first 2/6 bytes").
type Reader struct {
	r   io.Reader
	cur io.Reader
	pad int

	sum     uint32 // running sum of the current entry's body bytes, for new-CRC verification
	wantSum uint32
	checkCRC bool
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Next discards the remainder of the current entry's body, if any, then
// parses and returns the next Header. It returns io.EOF once the
// "TRAILER!!!" record is consumed.
func (cr *Reader) Next() (*Header, error) {
	if err := cr.skipCurrent(); err != nil {
		return nil, err
	}

	magic := make([]byte, 6)
	if _, err := io.ReadFull(cr.r, magic[:2]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("%w: %v", errTruncated, err)
	}

	var (
		hdr *Header
		err error
	)

	switch {
	case isOldBinaryMagic(magic[:2]):
		hdr, err = cr.readOldBinary(magic[:2])
	default:
		if _, err := io.ReadFull(cr.r, magic[2:]); err != nil {
			return nil, fmt.Errorf("%w: %v", errTruncated, err)
		}

		switch string(magic) {
		case magicOldASCII:
			hdr, err = cr.readOldASCII()
		case magicNewASCII:
			hdr, err = cr.readNew(FormatNewASCII)
		case magicNewCRC:
			hdr, err = cr.readNew(FormatNewCRC)
		default:
			return nil, errBadMagic
		}
	}

	if err != nil {
		return nil, err
	}

	if hdr.Name == trailerName {
		return nil, io.EOF
	}

	cr.cur = plumbing.LimitReadCloser(io.NopCloser(cr.r), hdr.Size)
	cr.sum = 0
	cr.wantSum = hdr.Check
	cr.checkCRC = hdr.Format == FormatNewCRC

	if cr.checkCRC {
		cr.cur = crcTrackingReader{r: cr.cur, sum: &cr.sum}
	}

	return hdr, nil
}

type crcTrackingReader struct {
	r   io.Reader
	sum *uint32
}

func (c crcTrackingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	for _, b := range p[:n] {
		*c.sum += uint32(b)
	}

	return n, err
}

// Read reads from the current entry's body.
func (cr *Reader) Read(p []byte) (int, error) {
	if cr.cur == nil {
		return 0, io.EOF
	}

	return cr.cur.Read(p) //nolint:wrapcheck
}

// skipCurrent drains any unread tail of the current entry's body (running
// the checksum tracker over it for new-CRC entries), consumes alignment
// padding, and verifies the checksum before moving on.
func (cr *Reader) skipCurrent() error {
	if cr.cur == nil {
		return nil
	}

	if _, err := io.Copy(io.Discard, cr.cur); err != nil {
		return fmt.Errorf("cpio: discarding entry body: %w", err)
	}

	if cr.pad > 0 {
		if _, err := io.CopyN(io.Discard, cr.r, int64(cr.pad)); err != nil {
			return fmt.Errorf("%w: %v", errTruncated, err)
		}
	}

	if cr.checkCRC && cr.sum != cr.wantSum {
		return fmt.Errorf("%w: got %#x, want %#x", errChecksum, cr.sum, cr.wantSum)
	}

	cr.cur = nil
	cr.pad = 0
	cr.checkCRC = false

	return nil
}

func isOldBinaryMagic(b []byte) bool {
	le := binary.LittleEndian.Uint16(b)
	be := binary.BigEndian.Uint16(b)

	return le == magicOldBinary || be == magicOldBinary
}

// readOldBinary decodes the old binary header: fixed-width 16-bit fields
// (32-bit fields split into two halfwords) in whichever byte order the
// magic indicated, per spec.md section 6's "either byte order" note.
func (cr *Reader) readOldBinary(magic []byte) (*Header, error) {
	order := binary.ByteOrder(binary.LittleEndian)
	if binary.BigEndian.Uint16(magic) == magicOldBinary {
		order = binary.BigEndian
	}

	var raw [24]byte
	if _, err := io.ReadFull(cr.r, raw[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", errTruncated, err)
	}

	u16 := func(off int) uint32 { return uint32(order.Uint16(raw[off : off+2])) }
	u32 := func(off int) uint32 {
		// Two halfwords, most-significant first, each independently
		// in the header's byte order -- the "half-word swapping"
		// spec.md section 1 calls out for this variant.
		hi := order.Uint16(raw[off : off+2])
		lo := order.Uint16(raw[off+2 : off+4])

		return uint32(hi)<<16 | uint32(lo)
	}

	hdr := &Header{
		Format: FormatOldBinary,
		Dev:    uint64(u16(0)),
		Ino:    uint64(u16(2)),
		Mode:   u16(4),
		UID:    u16(6),
		GID:    u16(8),
		NLink:  u16(10),
		RDev:   uint64(u16(12)),
	}

	hdr.ModTime = int64(u32(14))

	namesize := int(u16(18))

	hdr.Size = int64(u32(20))

	name, err := cr.readName(namesize, 2)
	if err != nil {
		return nil, err
	}

	hdr.Name = name

	cr.pad = padEven(int(hdr.Size))

	return hdr, nil
}

func (cr *Reader) readName(size, align int) (string, error) {
	if size <= 0 {
		return "", &CorruptHeaderError{Reason: "zero-length name"}
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(cr.r, buf); err != nil {
		return "", fmt.Errorf("%w: %v", errTruncated, err)
	}

	if align > 1 {
		total := headerNameSkip(size, align)
		if total > 0 {
			if _, err := io.CopyN(io.Discard, cr.r, int64(total)); err != nil {
				return "", fmt.Errorf("%w: %v", errTruncated, err)
			}
		}
	}

	return trimNUL(buf), nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}

func padEven(n int) int {
	if n%2 != 0 {
		return 1
	}

	return 0
}

// headerNameSkip returns the number of alignment-padding bytes that
// follow a name field of the given size, for formats that pad the name
// (old binary: to an even boundary, measured from the start of the
// filename field itself).
func headerNameSkip(size, align int) int {
	if rem := size % align; rem != 0 {
		return align - rem
	}

	return 0
}

// readOldASCII decodes the old portable ASCII header ("070707"): eight
// 6-character octal fields, then an 11-character mtime, a 6-character
// namesize and an 11-character filesize, no alignment padding anywhere.
func (cr *Reader) readOldASCII() (*Header, error) {
	raw := make([]byte, 70)
	if _, err := io.ReadFull(cr.r, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errTruncated, err)
	}

	fields := []int{6, 6, 6, 6, 6, 6, 6, 11, 6, 11}
	vals := make([]uint64, len(fields))
	pos := 0

	for i, w := range fields {
		n, err := strconv.ParseUint(string(raw[pos:pos+w]), 8, 64)
		if err != nil {
			return nil, &CorruptHeaderError{Reason: "non-octal field in old-ASCII header"}
		}

		vals[i] = n
		pos += w
	}

	hdr := &Header{
		Format:  FormatOldASCII,
		Dev:     vals[0],
		Ino:     vals[1],
		Mode:    uint32(vals[2]),
		UID:     uint32(vals[3]),
		GID:     uint32(vals[4]),
		NLink:   uint32(vals[5]),
		RDev:    vals[6],
		ModTime: int64(vals[7]),
		Size:    int64(vals[9]),
	}

	name, err := cr.readName(int(vals[8]), 1)
	if err != nil {
		return nil, err
	}

	hdr.Name = name

	return hdr, nil
}

// readNew decodes the new portable ASCII header ("070701"/"070702"):
// thirteen 8-character hex fields, name padded to a 4-byte boundary
// measured from the start of the 110-byte fixed header, body padded to a
// 4-byte boundary measured from the start of the body.
func (cr *Reader) readNew(format Format) (*Header, error) {
	raw := make([]byte, 104)
	if _, err := io.ReadFull(cr.r, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errTruncated, err)
	}

	hex := func(off int) (uint64, error) {
		n, err := strconv.ParseUint(string(raw[off:off+8]), 16, 64)
		if err != nil {
			return 0, &CorruptHeaderError{Reason: "non-hex field in new-format header"}
		}

		return n, nil
	}

	ino, err := hex(0)
	if err != nil {
		return nil, err
	}

	mode, err := hex(8)
	if err != nil {
		return nil, err
	}

	uid, err := hex(16)
	if err != nil {
		return nil, err
	}

	gid, err := hex(24)
	if err != nil {
		return nil, err
	}

	nlink, err := hex(32)
	if err != nil {
		return nil, err
	}

	mtime, err := hex(40)
	if err != nil {
		return nil, err
	}

	filesize, err := hex(48)
	if err != nil {
		return nil, err
	}

	devmajor, err := hex(56)
	if err != nil {
		return nil, err
	}

	devminor, err := hex(64)
	if err != nil {
		return nil, err
	}

	_, err = hex(72) // rdevmajor: unused for regular files, still consumed
	if err != nil {
		return nil, err
	}

	_, err = hex(80) // rdevminor
	if err != nil {
		return nil, err
	}

	namesize, err := hex(88)
	if err != nil {
		return nil, err
	}

	check, err := hex(96)
	if err != nil {
		return nil, err
	}

	hdr := &Header{
		Format:  format,
		Ino:     ino,
		Mode:    uint32(mode),
		UID:     uint32(uid),
		GID:     uint32(gid),
		NLink:   uint32(nlink),
		RDev:    devmajor<<32 | devminor,
		ModTime: int64(mtime),
		Size:    int64(filesize),
		Check:   uint32(check),
	}

	// The 110-byte fixed header (6-byte magic + 104 bytes just read)
	// plus the name must land on a 4-byte boundary before the body.
	nameField := int(namesize)

	name, err := cr.readName(nameField, 1)
	if err != nil {
		return nil, err
	}

	if skip := headerNameSkip(110+nameField, 4); skip > 0 {
		if _, err := io.CopyN(io.Discard, cr.r, int64(skip)); err != nil {
			return nil, fmt.Errorf("%w: %v", errTruncated, err)
		}
	}

	hdr.Name = name

	cr.pad = headerNameSkip(int(filesize), 4)

	return hdr, nil
}
