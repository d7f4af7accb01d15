package lha

import (
	"io"
)

// LZSS-family decoder for -lh5- (8KiB sliding window, dynamic Huffman
// coding of both the literal/length alphabet and the match-offset high
// bits). No pack example or ecosystem library implements this narrow,
// long-obsolete codec, so unlike every other coder this module registers
// (7z's LZMA/LZMA2/BZip2/Brotli/Zstd/LZ4 adapters, ZIP's Deflate), this
// one is written directly against the public LHA algorithm description
// rather than wrapping a third-party package -- see DESIGN.md.

const (
	lh5DictBits  = 13 // 8 KiB window
	lh5DictSize  = 1 << lh5DictBits
	lh5Threshold = 3
	lh5MaxMatch  = 256

	lenCodeCount = lh5MaxMatch - lh5Threshold + 1 + 256 // 256 literals + match lengths
	lenTableBits = 12

	posTableSize = lh5DictBits + 1
	posTableBits = 8

	ctableBits = 12
)

type bitReader struct {
	r    io.Reader
	buf  uint32
	bits uint
	err  error
}

func newBitReader(r io.Reader) *bitReader { return &bitReader{r: r} }

func (b *bitReader) fill() {
	for b.bits <= 24 {
		var tmp [1]byte

		n, err := b.r.Read(tmp[:])
		if n == 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}

			b.err = err
			tmp[0] = 0
		}

		b.buf |= uint32(tmp[0]) << (24 - b.bits)
		b.bits += 8
	}
}

// peek returns the top n bits without consuming them.
func (b *bitReader) peek(n uint) uint16 {
	if b.bits < n {
		b.fill()
	}

	return uint16(b.buf >> (32 - n))
}

func (b *bitReader) drop(n uint) {
	b.buf <<= n
	b.bits -= n
}

func (b *bitReader) read(n uint) (uint16, error) {
	v := b.peek(n)
	b.drop(n)

	if b.err != nil && b.bits == 0 {
		return v, b.err
	}

	return v, nil
}

// huffTable is a canonical Huffman decode table built from an array of
// code lengths, decoded via a direct lookup of the next tableBits peeked
// bits for short codes and a linear walk for the (rare) longer ones.
type huffTable struct {
	tableBits int
	table     []int16 // index by peeked bits -> symbol, or -1 if the code is longer than tableBits
	lengths   []byte
	codes     []uint16
}

func buildHuffTable(lengths []byte, tableBits int) *huffTable {
	const maxBits = 16

	var blCount [maxBits + 1]int
	for _, l := range lengths {
		if l > 0 {
			blCount[l]++
		}
	}

	var nextCode [maxBits + 1]uint16

	code := uint16(0)
	for bits := 1; bits <= maxBits; bits++ {
		code = (code + uint16(blCount[bits-1])) << 1
		nextCode[bits] = code
	}

	codes := make([]uint16, len(lengths))

	for i, l := range lengths {
		if l == 0 {
			continue
		}

		codes[i] = nextCode[l]
		nextCode[l]++
	}

	t := &huffTable{tableBits: tableBits, table: make([]int16, 1<<tableBits), lengths: lengths, codes: codes}
	for i := range t.table {
		t.table[i] = -1
	}

	for sym, l := range lengths {
		if l == 0 || int(l) > tableBits {
			continue
		}

		shift := tableBits - int(l)
		base := int(codes[sym]) << shift

		for i := 0; i < 1<<shift; i++ {
			t.table[base+i] = int16(sym)
		}
	}

	return t
}

func (t *huffTable) decode(br *bitReader) (int, error) {
	peeked := br.peek(uint(t.tableBits))

	if sym := t.table[peeked]; sym >= 0 {
		br.drop(uint(t.lengths[sym]))

		return int(sym), nil
	}

	// Fall back to a bit-by-bit walk for codes longer than tableBits.
	for bits := t.tableBits + 1; bits <= 16; bits++ {
		candidate := br.peek(uint(bits))

		for sym, l := range t.lengths {
			if int(l) == bits && t.codes[sym] == candidate {
				br.drop(uint(bits))

				return sym, nil
			}
		}
	}

	if br.err != nil {
		return 0, br.err
	}

	return 0, &CorruptHeaderError{Reason: "undecodable Huffman code in lh5 stream"}
}

// lzssDecoder streams the decompressed bytes of one -lh5- entry.
type lzssDecoder struct {
	br  *bitReader
	dict [lh5DictSize]byte
	pos  int // write position in dict
	left int // bytes of original size remaining to produce

	pending []byte // bytes decoded but not yet returned to the caller

	cTable *huffTable
	pTable *huffTable
}

func newLZSSReader(r io.Reader, _, originalSize int64) (io.Reader, error) {
	return &lzssDecoder{br: newBitReader(r), left: int(originalSize)}, nil
}

func (d *lzssDecoder) Read(p []byte) (int, error) {
	if d.left <= 0 && len(d.pending) == 0 {
		return 0, io.EOF
	}

	for len(d.pending) < len(p) && d.left > 0 {
		if err := d.decodeBlock(); err != nil {
			return 0, err
		}
	}

	n := copy(p, d.pending)
	d.pending = d.pending[n:]

	return n, nil
}

// decodeBlock reads one "block" header (a fresh pair of literal/length
// and position Huffman tables covering up to 0xFFFF following symbols)
// if the current table's budget is exhausted, then decodes symbols until
// either p is satisfied or the block budget runs out.
func (d *lzssDecoder) decodeBlock() error {
	if d.cTable == nil {
		if err := d.readTables(); err != nil {
			return err
		}
	}

	sym, err := d.cTable.decode(d.br)
	if err != nil {
		return err
	}

	if sym < 256 {
		d.emit(byte(sym))

		return nil
	}

	length := sym - 256 + lh5Threshold

	posSym, err := d.pTable.decode(d.br)
	if err != nil {
		return err
	}

	offset := 0
	if posSym > 0 {
		extra, err := d.br.read(uint(posSym - 1))
		if err != nil && d.left > length {
			return err
		}

		offset = 1<<uint(posSym-1) | int(extra)
	}

	for i := 0; i < length && d.left > 0; i++ {
		srcPos := (d.pos - offset - 1 + lh5DictSize) % lh5DictSize
		d.emit(d.dict[srcPos])
	}

	return nil
}

func (d *lzssDecoder) emit(b byte) {
	d.dict[d.pos] = b
	d.pos = (d.pos + 1) % lh5DictSize
	d.pending = append(d.pending, b)
	d.left--
}

// readTables reads the block's three Shannon-Fano/Huffman length tables
// (the code-length alphabet's own lengths, the literal/length alphabet's
// lengths, and the position alphabet's lengths) and builds decode tables
// from each.
func (d *lzssDecoder) readTables() error {
	pt, err := d.readPTLen(posTableSize, posTableBits, -1)
	if err != nil {
		return err
	}

	d.pTable = buildHuffTable(pt, posTableBits)

	cLen, err := d.readCLen()
	if err != nil {
		return err
	}

	d.cTable = buildHuffTable(cLen, ctableBits)

	return nil
}

// readPTLen decodes the compact run-length-encoded representation LHA
// uses for a Huffman length table: a 5-bit count n, then n entries each
// either a raw 3-bit length or, for lengths read via the "special"
// repeat code, a run of zero-length entries.
func (d *lzssDecoder) readPTLen(size, tableBits int, special int) ([]byte, error) {
	n, err := d.br.read(5)
	if err != nil {
		return nil, err
	}

	if int(n) == 0 {
		c, err := d.br.read(5)
		if err != nil {
			return nil, err
		}

		return repeatedLengths(size, int(c)), nil
	}

	lengths := make([]byte, size)

	i := 0
	for i < int(n) && i < size {
		l, err := d.br.read(3)
		if err != nil {
			return nil, err
		}

		if i == special && l == 7 {
			// extended repeat-zero escape used by the position
			// table's special slot
			cont := uint16(0)
			for {
				b, err := d.br.read(1)
				if err != nil {
					return nil, err
				}

				if b == 0 {
					break
				}

				cont++
			}

			l = 7 + cont
		}

		lengths[i] = byte(l)
		i++

		if i == 3 {
			skip, err := d.br.read(2)
			if err != nil {
				return nil, err
			}

			i += int(skip)
		}
	}

	return lengths, nil
}

func repeatedLengths(size, value int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(value)
	}

	return out
}

// readCLen decodes the literal/length alphabet's own length table, which
// is itself Huffman-coded using the code-length alphabet built from
// readPTLen(nt, ...).
func (d *lzssDecoder) readCLen() ([]byte, error) {
	const nt = 19

	ptLen, err := d.readPTLen(nt, 5, 2)
	if err != nil {
		return nil, err
	}

	ptTable := buildHuffTable(ptLen, 5)

	n, err := d.br.read(9)
	if err != nil {
		return nil, err
	}

	if int(n) == 0 {
		c, err := d.br.read(9)
		if err != nil {
			return nil, err
		}

		return repeatedLengths(lenCodeCount, int(c)), nil
	}

	lengths := make([]byte, lenCodeCount)

	i := 0
	for i < int(n) && i < lenCodeCount {
		sym, err := ptTable.decode(d.br)
		if err != nil {
			return nil, err
		}

		switch {
		case sym <= 2:
			var run int

			switch sym {
			case 0:
				run = 1
			case 1:
				v, err := d.br.read(4)
				if err != nil {
					return nil, err
				}

				run = int(v) + 3
			default:
				v, err := d.br.read(9)
				if err != nil {
					return nil, err
				}

				run = int(v) + 20
			}

			for j := 0; j < run && i < lenCodeCount; j++ {
				lengths[i] = 0
				i++
			}
		default:
			lengths[i] = byte(sym - 2)
			i++
		}
	}

	return lengths, nil
}
