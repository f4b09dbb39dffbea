// Package errs defines the sentinel errors shared across epocha packages.
//
// Errors are grouped by failure kind. Callers wrap them with context via
// fmt.Errorf("%w: detail", errs.ErrX) and match them with errors.Is.
package errs

import "errors"

// Configuration errors: invalid parameters, surfaced immediately and
// never retried.
var (
	ErrInvalidThreshold   = errors.New("invalid rejection threshold")
	ErrUnknownChannelType = errors.New("unknown channel type")
	ErrInvalidDecim       = errors.New("invalid decimation factor")
	ErrInvalidTimeWindow  = errors.New("invalid time window")
	ErrInvalidDetrend     = errors.New("detrend must be constant or linear")
	ErrInvalidBaseline    = errors.New("invalid baseline interval")
	ErrInvalidPrecision   = errors.New("precision must be single or double")
)

// Data-shape errors, surfaced at construction.
var (
	ErrDataShape     = errors.New("data shape mismatch")
	ErrChannelCount  = errors.New("channel count mismatch")
	ErrEventCount    = errors.New("epoch count does not match event count")
	ErrEmptySegment  = errors.New("empty data segment")
	ErrInvalidPick   = errors.New("channel pick out of range")
	ErrInvalidIndex  = errors.New("epoch index out of bounds")
	ErrInvalidEvents = errors.New("invalid event array")
)

// Consistency errors.
var (
	ErrDuplicateEvents  = errors.New("event samples are not unique")
	ErrMissingEvent     = errors.New("no matching events found for event id")
	ErrNoMatchingEvents = errors.New("no desired events found")
	ErrSelectionShape   = errors.New("selection length mismatch")
	ErrMetadataRows     = errors.New("metadata row count does not match events")
	ErrIncompatible     = errors.New("collections are not compatible")
)

// Storage errors carry enough detail at the wrap site (required minimum
// size, part index) to let a caller retry with adjusted parameters.
var (
	ErrSplitSize           = errors.New("split size too small")
	ErrTooManyParts        = errors.New("split would produce too many parts")
	ErrMalformedBlock      = errors.New("malformed container block tree")
	ErrSampleCountMismatch = errors.New("stored sample count mismatch")
	ErrChecksumMismatch    = errors.New("container checksum mismatch")
	ErrBadFileName         = errors.New("file name does not end in an epoch-file suffix")
	ErrUnsupportedElement  = errors.New("unsupported element type")
	ErrFileExists          = errors.New("destination file exists")
	ErrPartIdentity        = errors.New("chained part has a different measurement id")
	ErrEpochsNotFound      = errors.New("no epochs block in container")
)

// Irreversible-operation errors: recoverable only by starting from a
// copy taken before the operation.
var (
	ErrThresholdLoosened = errors.New("new rejection thresholds are less strict than previously applied ones")
	ErrBaselineRemoval   = errors.New("baseline correction cannot be removed once data is materialized")
	ErrNotPreloaded      = errors.New("operation requires preloaded data")
	ErrBadsNotDropped    = errors.New("bad epochs have not been dropped yet")
)
