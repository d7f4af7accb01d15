// Package extrafield implements the ZIP extra-field registry: a mapping
// from the 16-bit header id found in the `{headerId, dataSize, data}`
// framing of both local and central-directory extra blocks to a typed
// variant, with opaque and unparseable fallbacks for everything the
// registry doesn't recognise or can't decode.
package extrafield

import (
	"encoding/binary"
	"fmt"

	"github.com/bodgit/archive/internal/codec"
)

// ID is the 16-bit extra-field header id.
type ID uint16

// Known header ids.
const (
	IDZip64             ID = 0x0001
	IDNTFS              ID = 0x000a
	IDUnicodeComment    ID = 0x6375
	IDUnicodePath       ID = 0x7075
	IDExtendedTimestamp ID = 0x5455
	IDPadding           ID = 0xffff
	IDResourceAlignment ID = 0xa11e
)

// Field is an extra field recognised by ID. A concrete type implements
// whichever of LocalParser/CentralParser/LocalEmitter/CentralEmitter it
// supports; a field present only in the central directory, say, leaves the
// local capabilities unimplemented.
type Field interface {
	ID() ID
}

// LocalParser decodes a field's bytes as they appear in a local file header.
type LocalParser interface {
	ParseLocal([]byte) error
}

// CentralParser decodes a field's bytes as they appear in a central
// directory record. Several fields (extended timestamp, in particular)
// encode a different subset of data here than in the local header.
type CentralParser interface {
	ParseCentral([]byte) error
}

// LocalEmitter serialises a field for inclusion in a local file header.
type LocalEmitter interface {
	EmitLocal() []byte
}

// CentralEmitter serialises a field for inclusion in a central directory
// record.
type CentralEmitter interface {
	EmitCentral() []byte
}

type constructor func() Field

var registry = codec.NewRegistry[ID, constructor]()

// Register adds a constructor for the given header id. It panics on a
// duplicate id, the same policy internal/codec already enforces for the 7z
// coder registry.
func Register(id ID, new func() Field) {
	registry.Register(id, new)
}

func init() {
	Register(IDZip64, func() Field { return &Zip64{} })
	Register(IDNTFS, func() Field { return &NTFS{} })
	Register(IDExtendedTimestamp, func() Field { return &ExtendedTimestamp{} })
	Register(IDUnicodePath, func() Field { return &UnicodePath{} })
	Register(IDUnicodeComment, func() Field { return &UnicodeComment{} })
	Register(IDPadding, func() Field { return &Padding{} })
	Register(IDResourceAlignment, func() Field { return &ResourceAlignment{} })
}

// ParseLocal decodes one extra-field record (as it appears in a local file
// header) keyed by id. An id absent from the registry yields Opaque; an id
// present in the registry whose payload fails to parse yields Unparseable
// rather than an error, matching the registry's "never block the rest of
// the archive on one bad extra field" policy.
func ParseLocal(id ID, data []byte) Field {
	return parse(id, data, func(f Field, b []byte) error {
		p, ok := f.(LocalParser)
		if !ok {
			return errNotApplicable
		}

		return p.ParseLocal(b)
	})
}

// ParseCentral is ParseLocal for central directory extra-field records.
func ParseCentral(id ID, data []byte) Field {
	return parse(id, data, func(f Field, b []byte) error {
		p, ok := f.(CentralParser)
		if !ok {
			return errNotApplicable
		}

		return p.ParseCentral(b)
	})
}

var errNotApplicable = fmt.Errorf("extrafield: field has no parser for this record kind")

func parse(id ID, data []byte, apply func(Field, []byte) error) Field {
	new, ok := registry.Lookup(id)
	if !ok {
		return &Opaque{Header: id, Data: append([]byte(nil), data...)}
	}

	f := new()
	if err := apply(f, data); err != nil {
		return &Unparseable{Header: id, Data: append([]byte(nil), data...), Reason: err}
	}

	return f
}

// le16/le32/le64 read little-endian integers without pulling in
// encoding/binary's Read reflection path for what are always fixed-width
// extra-field payloads.
func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func le64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
