package zip

import (
	"golang.org/x/text/encoding/charmap"
)

// decodeName converts raw name/comment bytes to a Go string. When utf8 is
// false the general-purpose UTF-8 flag bit wasn't set, so the bytes are
// legacy IBM code page 437 (the code page every mainstream ZIP tool falls
// back to), not UTF-8.
func decodeName(raw []byte, utf8 bool) string {
	if utf8 {
		return string(raw)
	}

	out, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}

	return string(out)
}

// encodeNonUTF8 converts s to code page 437 bytes for a NonUTF8 entry.
// If s holds a character with no CP437 representation the encoder fails
// and s is returned as its UTF-8 bytes, unchanged; callers that need
// strict fidelity should
// leave NonUTF8 false and let the UTF-8 flag bit do the work instead.
func encodeNonUTF8(s string) []byte {
	out, err := charmap.CodePage437.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}

	return out
}
