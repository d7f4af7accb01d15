package tar

import (
	"fmt"
	"strings"
	"time"
)

// Standard 512-byte header field offsets, common to USTAR and GNU
// layouts up to byte 345; per spec.md section 6.
const (
	offName     = 0
	lenName     = 100
	offMode     = 100
	lenMode     = 8
	offUID      = 108
	lenUID      = 8
	offGID      = 116
	lenGID      = 8
	offSize     = 124
	lenSize     = 12
	offMtime    = 136
	lenMtime    = 12
	offChksum   = 148
	lenChksum   = 8
	offTypeflag = 156
	offLinkName = 157
	lenLinkName = 100
	offMagic    = 257
	lenMagic    = 6
	offVersion  = 263
	lenVersion  = 2
	offUname    = 265
	lenUname    = 32
	offGname    = 297
	lenGname    = 32
	offDevMajor = 329
	lenDevMajor = 8
	offDevMinor = 337
	lenDevMinor = 8
	offPrefix   = 345
	lenPrefix   = 155

	magicUSTAR   = "ustar\x00"
	versionUSTAR = "00"
	magicGNU     = "ustar "
	versionGNU   = " \x00"
)

func field(blk []byte, off, n int) []byte { return blk[off : off+n] }

// parseHeaderBlock decodes one 512-byte block into a Header. raw is
// returned alongside so GNU sparse-specific byte ranges beyond the common
// prefix can be reparsed by the caller without redoing the copy.
func (tr *Reader) parseHeaderBlock(blk []byte) (*Header, []byte, error) {
	if err := verifyChecksum(blk); err != nil {
		return nil, nil, err
	}

	hdr := &Header{}

	name := trimNUL(field(blk, offName, lenName))

	mode, err := parseNumeric(field(blk, offMode, lenMode))
	if err != nil {
		return nil, nil, err
	}

	hdr.Mode = mode

	uid, err := parseNumeric(field(blk, offUID, lenUID))
	if err != nil {
		return nil, nil, err
	}

	hdr.UID = uint64(uid)

	gid, err := parseNumeric(field(blk, offGID, lenGID))
	if err != nil {
		return nil, nil, err
	}

	hdr.GID = uint64(gid)

	size, err := parseNumeric(field(blk, offSize, lenSize))
	if err != nil {
		return nil, nil, err
	}

	if size < 0 {
		return nil, nil, &CorruptHeaderError{Reason: "negative size"}
	}

	hdr.Size = size
	hdr.RealSize = size

	mtime, err := parseNumeric(field(blk, offMtime, lenMtime))
	if err != nil {
		return nil, nil, err
	}

	hdr.ModTime = time.Unix(mtime, 0).UTC()
	hdr.Typeflag = blk[offTypeflag]
	hdr.LinkName = trimNUL(field(blk, offLinkName, lenLinkName))
	hdr.Magic = string(field(blk, offMagic, lenMagic))
	hdr.Version = string(field(blk, offVersion, lenVersion))
	hdr.Uname = trimNUL(field(blk, offUname, lenUname))
	hdr.Gname = trimNUL(field(blk, offGname, lenGname))

	devMajor, err := parseNumeric(field(blk, offDevMajor, lenDevMajor))
	if err != nil {
		return nil, nil, err
	}

	hdr.DevMajor = devMajor

	devMinor, err := parseNumeric(field(blk, offDevMinor, lenDevMinor))
	if err != nil {
		return nil, nil, err
	}

	hdr.DevMinor = devMinor

	switch {
	case hdr.Magic == magicUSTAR:
		hdr.Format = FormatUSTAR

		if prefix := trimNUL(field(blk, offPrefix, lenPrefix)); prefix != "" {
			name = prefix + "/" + name
		}
	case hdr.Magic == magicGNU:
		hdr.Format = FormatGNU

		atime, err := parseNumeric(field(blk, 345, 12))
		if err == nil && atime != 0 {
			hdr.AccessTime = time.Unix(atime, 0).UTC()
		}

		ctime, err := parseNumeric(field(blk, 357, 12))
		if err == nil && ctime != 0 {
			hdr.ChangeTime = time.Unix(ctime, 0).UTC()
		}
	default:
		hdr.Format = FormatUnknown
	}

	hdr.Name = name

	return hdr, blk, nil
}

// verifyChecksum recomputes the header checksum treating the checksum
// field itself as eight ASCII spaces, per spec.md section 6, and accepts
// either the signed or unsigned variant some writers (old GNU tar) emit.
func verifyChecksum(blk []byte) error {
	var unsigned, signed int64

	for i, b := range blk {
		v := b
		if i >= offChksum && i < offChksum+lenChksum {
			v = ' '
		}

		unsigned += int64(v)
		signed += int64(int8(v))
	}

	stored, err := parseNumeric(field(blk, offChksum, lenChksum))
	if err != nil {
		return fmt.Errorf("%w: %v", errChecksum, err)
	}

	if stored != unsigned && stored != signed {
		return errChecksum
	}

	return nil
}

// computeChecksum mirrors verifyChecksum for the writer: the checksum
// field is blanked to spaces, the sum of all 512 bytes computed, then the
// six-digit octal value followed by a NUL and a space is written back.
func computeChecksum(blk []byte) {
	for i := offChksum; i < offChksum+lenChksum; i++ {
		blk[i] = ' '
	}

	var sum int64

	for _, b := range blk {
		sum += int64(b)
	}

	s := fmt.Sprintf("%06o\x00 ", sum)
	copy(blk[offChksum:offChksum+lenChksum], s)
}

func splitLongName(name string) (prefix, suffix string, fits bool) {
	if len(name) <= lenName {
		return "", name, true
	}

	if len(name) > lenPrefix+lenName+1 {
		return "", "", false
	}

	i := strings.LastIndexByte(name[:min(len(name), lenPrefix+1)], '/')
	for i > 0 {
		p, s := name[:i], name[i+1:]
		if len(p) <= lenPrefix && len(s) <= lenName {
			return p, s, true
		}

		i = strings.LastIndexByte(name[:i], '/')
	}

	return "", "", false
}
