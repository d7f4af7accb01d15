package extrafield

import (
	"encoding/binary"
	"fmt"
	"time"
)

var errShort = fmt.Errorf("extrafield: payload too short")

// Zip64 carries the 8-byte size/offset fields that don't fit the regular
// 32-bit local/central record fields. Per the spec the fields present
// depend on which 32-bit fields were set to 0xFFFFFFFF in the record that
// references this extra; the writer that emits one knows which subset to
// write, so ParseLocal/ParseCentral here decode whatever is present in
// declaration order (uncompressed size, compressed size, local header
// offset, disk start number) rather than a fixed layout.
type Zip64 struct {
	UncompressedSize uint64
	CompressedSize   uint64
	LocalHeaderOffset uint64
	DiskStart        uint32
}

func (f *Zip64) ID() ID { return IDZip64 }

func (f *Zip64) parse(b []byte) error {
	// The field only stores the subset of values the referencing record
	// promoted to 64-bit, in this fixed order; callers that know which
	// 32-bit fields read as the 0xFFFFFFFF sentinel slice b accordingly
	// before calling parse. Here we accept whatever length is given and
	// fill from the front.
	var vals []uint64

	for len(b) >= 8 {
		vals = append(vals, le64(b))
		b = b[8:]
	}

	if len(vals) > 0 {
		f.UncompressedSize = vals[0]
	}

	if len(vals) > 1 {
		f.CompressedSize = vals[1]
	}

	if len(vals) > 2 {
		f.LocalHeaderOffset = vals[2]
	}

	if len(vals) > 2 && len(b) >= 4 {
		f.DiskStart = binary.LittleEndian.Uint32(b)
	}

	return nil
}

func (f *Zip64) ParseLocal(b []byte) error   { return f.parse(b) }
func (f *Zip64) ParseCentral(b []byte) error { return f.parse(b) }

// EmitCentral writes all four fields; callers that only need a subset
// slice the result themselves, matching how the writer decides per-record
// which 32-bit fields were actually promoted.
func (f *Zip64) EmitCentral() []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint64(buf[0:], f.UncompressedSize)
	binary.LittleEndian.PutUint64(buf[8:], f.CompressedSize)
	binary.LittleEndian.PutUint64(buf[16:], f.LocalHeaderOffset)
	binary.LittleEndian.PutUint32(buf[24:], f.DiskStart)

	return buf
}

func (f *Zip64) EmitLocal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:], f.UncompressedSize)
	binary.LittleEndian.PutUint64(buf[8:], f.CompressedSize)

	return buf
}

// ntfsEpoch is 1601-01-01 00:00:00 UTC, the epoch NTFS FILETIME ticks (100ns
// units) count from.
var ntfsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

func ntfsTicksToTime(ticks uint64) time.Time {
	return ntfsEpoch.Add(time.Duration(ticks * 100))
}

func timeToNTFSTicks(t time.Time) uint64 {
	return uint64(t.Sub(ntfsEpoch) / 100)
}

// NTFS carries high-resolution mtime/atime/ctime as NTFS FILETIME ticks.
// Both local and central records use the identical layout: a reserved
// uint32, then one attribute-tag block {tag=1, size=24, mtime, atime,
// ctime}.
type NTFS struct {
	Modified time.Time
	Accessed time.Time
	Created  time.Time
}

func (f *NTFS) ID() ID { return IDNTFS }

func (f *NTFS) parse(b []byte) error {
	if len(b) < 4 {
		return errShort
	}

	b = b[4:] // reserved

	for len(b) >= 4 {
		tag := le16(b)
		size := le16(b[2:])
		b = b[4:]

		if len(b) < int(size) {
			return errShort
		}

		if tag == 1 && size >= 24 {
			f.Modified = ntfsTicksToTime(le64(b[0:]))
			f.Accessed = ntfsTicksToTime(le64(b[8:]))
			f.Created = ntfsTicksToTime(le64(b[16:]))
		}

		b = b[size:]
	}

	return nil
}

func (f *NTFS) ParseLocal(b []byte) error   { return f.parse(b) }
func (f *NTFS) ParseCentral(b []byte) error { return f.parse(b) }

func (f *NTFS) emit() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint16(buf[4:], 1)
	binary.LittleEndian.PutUint16(buf[6:], 24)
	binary.LittleEndian.PutUint64(buf[8:], timeToNTFSTicks(f.Modified))
	binary.LittleEndian.PutUint64(buf[16:], timeToNTFSTicks(f.Accessed))
	binary.LittleEndian.PutUint64(buf[24:], timeToNTFSTicks(f.Created))

	return buf
}

func (f *NTFS) EmitLocal() []byte   { return f.emit() }
func (f *NTFS) EmitCentral() []byte { return f.emit() }

// ExtendedTimestamp carries Unix-epoch-second mtime/atime/ctime. The
// central-directory variant omits atime/ctime values but, per the on-disk
// convention, still carries their flag bits from the local header so a
// reader knows they were originally present.
type ExtendedTimestamp struct {
	Flags    byte
	Modified time.Time
	Accessed time.Time
	Created  time.Time
}

func (f *ExtendedTimestamp) ID() ID { return IDExtendedTimestamp }

func (f *ExtendedTimestamp) ParseLocal(b []byte) error {
	if len(b) < 1 {
		return errShort
	}

	f.Flags = b[0]
	b = b[1:]

	for i, has := range []struct {
		bit byte
		set func(time.Time)
	}{
		{0x1, func(t time.Time) { f.Modified = t }},
		{0x2, func(t time.Time) { f.Accessed = t }},
		{0x4, func(t time.Time) { f.Created = t }},
	} {
		_ = i

		if f.Flags&has.bit == 0 {
			continue
		}

		if len(b) < 4 {
			return errShort
		}

		has.set(time.Unix(int64(int32(le32(b))), 0).UTC())
		b = b[4:]
	}

	return nil
}

// ParseCentral decodes only the mtime value (if the flag bit is set),
// which is all the central-directory copy of this field carries.
func (f *ExtendedTimestamp) ParseCentral(b []byte) error {
	if len(b) < 1 {
		return errShort
	}

	f.Flags = b[0]
	b = b[1:]

	if f.Flags&0x1 != 0 {
		if len(b) < 4 {
			return errShort
		}

		f.Modified = time.Unix(int64(int32(le32(b))), 0).UTC()
	}

	return nil
}

func (f *ExtendedTimestamp) EmitLocal() []byte {
	buf := []byte{f.Flags}

	if f.Flags&0x1 != 0 {
		buf = appendUint32(buf, uint32(f.Modified.Unix()))
	}

	if f.Flags&0x2 != 0 {
		buf = appendUint32(buf, uint32(f.Accessed.Unix()))
	}

	if f.Flags&0x4 != 0 {
		buf = appendUint32(buf, uint32(f.Created.Unix()))
	}

	return buf
}

func (f *ExtendedTimestamp) EmitCentral() []byte {
	buf := []byte{f.Flags}

	if f.Flags&0x1 != 0 {
		buf = appendUint32(buf, uint32(f.Modified.Unix()))
	}

	return buf
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)

	return append(b, tmp[:]...)
}

// UnicodePath carries a UTF-8 name plus the CRC32 of the original
// (possibly non-UTF-8) name field it overrides, so a reader can detect a
// stale extra field left behind by an editor that renamed the entry.
type UnicodePath struct {
	Version   byte
	NameCRC32 uint32
	Name      string
}

func (f *UnicodePath) ID() ID { return IDUnicodePath }

func (f *UnicodePath) parse(b []byte) error {
	if len(b) < 5 {
		return errShort
	}

	f.Version = b[0]
	f.NameCRC32 = le32(b[1:])
	f.Name = string(b[5:])

	return nil
}

func (f *UnicodePath) ParseLocal(b []byte) error   { return f.parse(b) }
func (f *UnicodePath) ParseCentral(b []byte) error { return f.parse(b) }

func (f *UnicodePath) emit() []byte {
	buf := make([]byte, 5+len(f.Name))
	buf[0] = f.Version
	binary.LittleEndian.PutUint32(buf[1:], f.NameCRC32)
	copy(buf[5:], f.Name)

	return buf
}

func (f *UnicodePath) EmitLocal() []byte   { return f.emit() }
func (f *UnicodePath) EmitCentral() []byte { return f.emit() }

// UnicodeComment is UnicodePath's counterpart for the entry comment.
type UnicodeComment struct {
	Version      byte
	CommentCRC32 uint32
	Comment      string
}

func (f *UnicodeComment) ID() ID { return IDUnicodeComment }

func (f *UnicodeComment) parse(b []byte) error {
	if len(b) < 5 {
		return errShort
	}

	f.Version = b[0]
	f.CommentCRC32 = le32(b[1:])
	f.Comment = string(b[5:])

	return nil
}

func (f *UnicodeComment) ParseLocal(b []byte) error   { return f.parse(b) }
func (f *UnicodeComment) ParseCentral(b []byte) error { return f.parse(b) }

func (f *UnicodeComment) emit() []byte {
	buf := make([]byte, 5+len(f.Comment))
	buf[0] = f.Version
	binary.LittleEndian.PutUint32(buf[1:], f.CommentCRC32)
	copy(buf[5:], f.Comment)

	return buf
}

func (f *UnicodeComment) EmitLocal() []byte   { return f.emit() }
func (f *UnicodeComment) EmitCentral() []byte { return f.emit() }

// Padding is the zipalign/alignment filler field: arbitrary-length bytes
// with no semantic content, used to push the following entry's payload to
// an aligned offset.
type Padding struct {
	Data []byte
}

func (f *Padding) ID() ID                  { return IDPadding }
func (f *Padding) ParseLocal(b []byte) error   { f.Data = append([]byte(nil), b...); return nil }
func (f *Padding) ParseCentral(b []byte) error { return f.ParseLocal(b) }
func (f *Padding) EmitLocal() []byte           { return f.Data }
func (f *Padding) EmitCentral() []byte         { return f.Data }

// ResourceAlignment is Info-ZIP's macOS-oriented alignment field (id
// 0xa11e), kept as a distinct type from Padding even though both are
// alignment filler: tools that specifically look for 0xa11e (ditto,
// Xcode's zip) ignore 0xFFFF padding and vice versa, so collapsing them
// into one type would lose which convention a given archive used.
type ResourceAlignment struct {
	Alignment uint16
	Data      []byte
}

func (f *ResourceAlignment) ID() ID { return IDResourceAlignment }

func (f *ResourceAlignment) parse(b []byte) error {
	if len(b) < 2 {
		return errShort
	}

	f.Alignment = le16(b)
	f.Data = append([]byte(nil), b[2:]...)

	return nil
}

func (f *ResourceAlignment) ParseLocal(b []byte) error   { return f.parse(b) }
func (f *ResourceAlignment) ParseCentral(b []byte) error { return f.parse(b) }

func (f *ResourceAlignment) emit() []byte {
	buf := make([]byte, 2+len(f.Data))
	binary.LittleEndian.PutUint16(buf, f.Alignment)
	copy(buf[2:], f.Data)

	return buf
}

func (f *ResourceAlignment) EmitLocal() []byte   { return f.emit() }
func (f *ResourceAlignment) EmitCentral() []byte { return f.emit() }

// Opaque is returned for a header id the registry has no constructor for.
// The raw bytes are preserved verbatim so a reader that only inspects
// known fields and re-emits the rest losslessly round-trips them.
type Opaque struct {
	Header ID
	Data   []byte
}

func (f *Opaque) ID() ID            { return f.Header }
func (f *Opaque) EmitLocal() []byte   { return f.Data }
func (f *Opaque) EmitCentral() []byte { return f.Data }

// Unparseable is returned for a header id the registry does recognise
// whose payload failed to parse (too short, malformed). Distinct from
// Opaque so callers can tell "we understood this id but the bytes were
// garbage" from "we never had a parser for this id at all".
type Unparseable struct {
	Header ID
	Data   []byte
	Reason error
}

func (f *Unparseable) ID() ID    { return f.Header }
func (f *Unparseable) Unwrap() error { return f.Reason }
func (f *Unparseable) Error() string {
	return fmt.Sprintf("extrafield: id %#04x: %v", uint16(f.Header), f.Reason)
}
