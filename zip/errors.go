package zip

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat is returned when the central directory / EOCD signature
	// can't be located at all.
	ErrFormat = errors.New("zip: not a valid zip file")

	// ErrAlgorithm is returned when an entry's compression method has no
	// registered decoder.
	ErrAlgorithm = errors.New("zip: unsupported compression algorithm")

	// ErrChecksum is returned when an entry's decompressed bytes don't
	// match its declared CRC32.
	ErrChecksum = errors.New("zip: checksum error")

	errLongName  = errors.New("zip: FileHeader.Name too long")
	errLongExtra = errors.New("zip: FileHeader.Extra too long")

	// errBuildTimedOut is wrapped by BuildTimedOutError.
	errBuildTimedOut = errors.New("zip: scatter-gather build timed out")
)

// CorruptHeaderError reports a structural problem in a local or central
// directory record: a bad length, an out-of-range index, an ordering
// violation.
type CorruptHeaderError struct {
	Reason string
}

func (e *CorruptHeaderError) Error() string {
	return fmt.Sprintf("zip: corrupt header: %s", e.Reason)
}

// Zip64RequiredError is returned in Zip64Never mode when a field's
// canonical value doesn't fit its 32-bit or 16-bit on-disk representation.
type Zip64RequiredError struct {
	Field string
}

func (e *Zip64RequiredError) Error() string {
	return fmt.Sprintf("zip: field %s requires zip64 but Zip64Never is set", e.Field)
}

// BuildTimedOutError wraps errBuildTimedOut. It carries no fields, and no
// function in this package returns it: ScatterGatherBuilder.WriteTo takes
// no timeout or context and waits until every worker has finished.
type BuildTimedOutError struct{}

func (e *BuildTimedOutError) Error() string { return errBuildTimedOut.Error() }
func (e *BuildTimedOutError) Unwrap() error { return errBuildTimedOut }
