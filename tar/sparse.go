package tar

import (
	"strconv"
	"strings"
)

// parseGNUSparsePAX extracts a GNU.sparse.* PAX overlay (format versions
// 0.0/0.1 use one record per offset/length pair or a single
// comma-separated map record; 1.0 stores the map as the first bytes of
// the data stream itself, which nothing in this package parses) into
// hdr.Sparse/hdr.RealSize.
func parseGNUSparsePAX(hdr *Header, records map[string]string) error {
	if size, ok := records["GNU.sparse.realsize"]; ok {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			return &CorruptHeaderError{Reason: "invalid GNU.sparse.realsize"}
		}

		hdr.RealSize = n
	}

	if m, ok := records["GNU.sparse.map"]; ok {
		entries, err := parseSparseMapString(m)
		if err != nil {
			return err
		}

		hdr.Sparse = entries

		return nil
	}

	// The older offset/numbytes form repeats "GNU.sparse.offset" and
	// "GNU.sparse.numbytes" once per map entry. records holds one value
	// per key, the last one in the extended header, so only the last pair
	// survives here, as a one-entry map; modern GNU tar writers use
	// GNU.sparse.map instead.
	off, hasOff := records["GNU.sparse.offset"]
	num, hasNum := records["GNU.sparse.numbytes"]

	if hasOff && hasNum {
		o, err1 := strconv.ParseInt(off, 10, 64)
		n, err2 := strconv.ParseInt(num, 10, 64)

		if err1 != nil || err2 != nil || o < 0 || n < 0 {
			return &CorruptHeaderError{Reason: "invalid GNU.sparse offset/numbytes"}
		}

		hdr.Sparse = append(hdr.Sparse, SparseEntry{Offset: o, Length: n})
	}

	return nil
}

func parseSparseMapString(s string) ([]SparseEntry, error) {
	if s == "" {
		return nil, nil
	}

	fields := strings.Split(s, ",")
	if len(fields)%2 != 0 {
		return nil, &CorruptHeaderError{Reason: "odd number of fields in GNU.sparse.map"}
	}

	entries := make([]SparseEntry, 0, len(fields)/2)

	for i := 0; i < len(fields); i += 2 {
		off, err1 := strconv.ParseInt(fields[i], 10, 64)
		length, err2 := strconv.ParseInt(fields[i+1], 10, 64)

		if err1 != nil || err2 != nil || off < 0 || length < 0 {
			return nil, &CorruptHeaderError{Reason: "invalid GNU.sparse.map entry"}
		}

		entries = append(entries, SparseEntry{Offset: off, Length: length})
	}

	return entries, nil
}

// parseGNUSparse0x1Header decodes the classic GNU sparse extension's
// in-header representation: up to 4 (offset, numbytes) pairs directly in
// the 512-byte header, an "isextended" flag byte selecting whether more
// pairs follow in extension blocks preceding the data, and the real size
// in the header's own size-like trailer field.
func parseGNUSparse0x1Header(blk []byte) (entries []SparseEntry, extended bool, realSize int64, err error) {
	const (
		gnuSparseOffset     = 386
		sparseEntrySize     = 24
		maxHeaderEntries    = 4
		gnuIsExtendedOffset = 482
		gnuRealSizeOffset   = 483
	)

	for i := 0; i < maxHeaderEntries; i++ {
		base := gnuSparseOffset + i*sparseEntrySize
		off, e1 := parseNumeric(blk[base : base+12])
		num, e2 := parseNumeric(blk[base+12 : base+24])

		if e1 != nil || e2 != nil {
			return nil, false, 0, &CorruptHeaderError{Reason: "invalid GNU sparse header entry"}
		}

		if off == 0 && num == 0 {
			continue
		}

		entries = append(entries, SparseEntry{Offset: off, Length: num})
	}

	extended = blk[gnuIsExtendedOffset] != 0
	realSize, err = parseNumeric(blk[gnuRealSizeOffset : gnuRealSizeOffset+12])

	return entries, extended, realSize, err
}
