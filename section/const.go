// Package section owns the wire-format constants of the epoch container:
// the fixed tag header layout, tag kinds, block kinds, element-type codes
// and the recognized epoch-file suffixes.
//
// A container file is a flat sequence of tags. Each tag is a 16-byte
// big-endian header (kind, element type, payload size, reserved) followed
// by the payload. Block-start and block-end tags carry a block-kind payload
// and give the flat sequence its tree structure.
package section

// TagHeaderSize is the fixed byte size of a tag header:
// kind (int32), element type (int32), payload size (uint32), reserved (int32).
const TagHeaderSize = 16

// Magic is the payload of the leading file-start tag. "EPO1" in ASCII.
const Magic = 0x45504F31

// Tag kinds. Values below 100 frame the file, 100-199 structure blocks,
// 200+ carry data.
const (
	TagFileStart = 1 // int32 magic
	TagFileEnd   = 2 // empty payload, last tag in every part

	TagBlockStart = 100 // int32 block kind
	TagBlockEnd   = 101 // int32 block kind

	TagMeasurementID = 200 // 16-byte id shared by all chained parts
	TagSampleRate    = 201 // float64, samples per second
	TagChannelInfo   = 202 // JSON channel descriptions

	TagEventList   = 210 // int32 matrix, n_events x 3 row-major
	TagEventIDs    = 211 // "name:code;name:code" description string
	TagMetadata    = 212 // opaque serialized per-epoch metadata
	TagFirstSample = 213 // int32
	TagLastSample  = 214 // int32
	TagBaselineMin = 215 // float64
	TagBaselineMax = 216 // float64
	TagEpochData   = 217 // bulk numeric array, n_epochs x n_channels x n_times
	TagDropLog     = 218 // JSON drop log
	TagRejectFlat  = 219 // JSON reject/flat parameter set
	TagSelection   = 220 // int32 vector
	TagChecksum    = 221 // uint64 xxhash64 of the epoch data payload

	TagRefRole     = 300 // int32, see RefRoleNextFile
	TagRefFileName = 301 // next part's base name
	TagRefFileID   = 302 // next part's measurement id (must match ours)
	TagRefFileNum  = 303 // int32 sequence index of the next part
)

// Block kinds carried by TagBlockStart / TagBlockEnd payloads.
const (
	BlockMeasurement   = 1
	BlockProcessedData = 2
	BlockEpochs        = 3
	BlockEvents        = 4
	BlockMetadata      = 5
	BlockRef           = 6
)

// Element-type codes describing tag payload contents.
const (
	ElemEmpty      = 0
	ElemInt32      = 3
	ElemFloat32    = 4
	ElemFloat64    = 5
	ElemUint64     = 8
	ElemString     = 10
	ElemID         = 15
	ElemComplex64  = 20
	ElemComplex128 = 21
)

// RefRoleNextFile marks a reference block that names the next part of a
// split collection.
const RefRoleNextFile = 1

// MaxParts bounds write-side splitting; needing more parts than this is
// treated as a configuration problem rather than silently writing hundreds
// of files.
const MaxParts = 100

// MaxEventSample is the largest event sample number the int32 event list
// encoding can carry.
const MaxEventSample = 1<<31 - 1

// EpochFileSuffixes are the recognized endings for epoch container files.
// The .gz forms are transparently gzip-compressed.
var EpochFileSuffixes = []string{"-epo.eph", "-epo.eph.gz", "_epo.eph", "_epo.eph.gz"}

// ElemSize returns the byte size of one element of the given type, or 0
// for variable-size payloads (strings, empty tags).
func ElemSize(etype int32) int {
	switch etype {
	case ElemInt32, ElemFloat32:
		return 4
	case ElemFloat64, ElemUint64, ElemComplex64:
		return 8
	case ElemID:
		return 16
	case ElemComplex128:
		return 16
	default:
		return 0
	}
}
