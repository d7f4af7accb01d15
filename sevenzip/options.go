package sevenzip

import "errors"

// MemoryLimitError is returned when a header's estimated decoded memory
// footprint exceeds the configured limit. The check happens before the
// corresponding allocation is made.
type MemoryLimitError struct {
	RequestedKiB uint64
	LimitKiB     uint64
}

func (e *MemoryLimitError) Error() string {
	return "sevenzip: memory limit exceeded"
}

var errUnsupportedFeature = errors.New("sevenzip: unsupported feature")

// UnsupportedFeatureError is returned for archive features this package
// deliberately doesn't implement, such as additional streams or non-trivial
// coder fan-in/fan-out (see the Open Questions recorded in DESIGN.md).
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return "sevenzip: unsupported feature: " + e.Feature
}

func (e *UnsupportedFeatureError) Unwrap() error {
	return errUnsupportedFeature
}

// defaultMaxMemoryLimitKiB is used when Options.MaxMemoryLimitKiB is zero.
// It is deliberately generous; callers that need a hard ceiling (e.g. when
// processing untrusted archives) should set it explicitly.
const defaultMaxMemoryLimitKiB = 4 << 20 // 4 GiB

// Options configures how a Reader parses an archive. The zero value selects
// sensible defaults.
type Options struct {
	// MaxMemoryLimitKiB bounds the estimated memory footprint of the
	// decoded header, checked before any allocation derived from an
	// on-disk count or size is made. Zero selects defaultMaxMemoryLimitKiB.
	MaxMemoryLimitKiB uint64

	// TryToRecoverBrokenArchives enables the backwards scan for a
	// plausible header when the start header's CRC doesn't match. It is
	// rejected unless MaxMemoryLimitKiB is also set explicitly, since a
	// recovered header from an untrusted offset is exactly the case the
	// memory limit exists to guard against.
	TryToRecoverBrokenArchives bool
}

func (o Options) memoryLimitKiB() uint64 {
	if o.MaxMemoryLimitKiB == 0 {
		return defaultMaxMemoryLimitKiB
	}

	return o.MaxMemoryLimitKiB
}

var errRecoveryNeedsMemoryLimit = errors.New(
	"sevenzip: TryToRecoverBrokenArchives requires an explicit MaxMemoryLimitKiB")

func (o Options) validate() error {
	if o.TryToRecoverBrokenArchives && o.MaxMemoryLimitKiB == 0 {
		return errRecoveryNeedsMemoryLimit
	}

	return nil
}
