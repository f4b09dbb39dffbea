package epoch

import (
	"fmt"

	"github.com/epochio/epocha/errs"
)

// RawSegment carries one epoch's raw samples, or the reason they are
// unavailable (for example "segment excluded by annotation"). Exactly one
// of Data and Reason is set.
type RawSegment struct {
	Data   [][]float64
	Reason string
}

// DataSource provides one epoch's raw samples. A collection holds exactly
// one source and never branches on its concrete type: the in-memory,
// continuous-recording and container-file variants all satisfy this
// interface.
type DataSource interface {
	// Fetch returns the raw samples of the epoch at index idx in the
	// collection's current event order. An unavailable segment is not an
	// error; it comes back with a Reason and the epoch is dropped with
	// that reason.
	Fetch(idx int) (RawSegment, error)

	// Close releases any resources (open file handles) held by the source.
	Close() error
}

// ContinuousSource is the contract for an opaque continuous-recording
// reader. Given a global half-open sample range it returns a
// channels-by-samples buffer, or a reason string when the range is
// unusable (too short, overlapping an excluded annotation).
type ContinuousSource interface {
	Segment(start, stop int64) (data [][]float64, reason string, err error)
}

// memorySource serves epochs from a preloaded array.
type memorySource struct {
	data *Array3
}

// NewMemorySource wraps a preloaded array as a DataSource.
func NewMemorySource(data *Array3) DataSource {
	return &memorySource{data: data}
}

func (s *memorySource) Fetch(idx int) (RawSegment, error) {
	if idx < 0 || idx >= s.data.NEpochs() {
		return RawSegment{}, fmt.Errorf("%w: %d of %d epochs", errs.ErrInvalidIndex, idx, s.data.NEpochs())
	}

	return RawSegment{Data: s.data.Epoch(idx)}, nil
}

func (s *memorySource) Close() error { return nil }

// rawSource extracts epochs from a continuous recording by sample range.
type rawSource struct {
	src     ContinuousSource
	samples []int64 // event onset sample per epoch
	first   int     // epoch start relative to the onset
	nTimes  int     // raw samples per epoch, before decimation
}

// NewRawSource builds a source reading fixed-length segments around the
// given event onset samples. first is the offset of the epoch start
// relative to the onset and nTimes the undecimated sample count.
func NewRawSource(src ContinuousSource, samples []int64, first, nTimes int) DataSource {
	return &rawSource{src: src, samples: append([]int64(nil), samples...), first: first, nTimes: nTimes}
}

func (s *rawSource) Fetch(idx int) (RawSegment, error) {
	if idx < 0 || idx >= len(s.samples) {
		return RawSegment{}, fmt.Errorf("%w: %d of %d epochs", errs.ErrInvalidIndex, idx, len(s.samples))
	}

	start := s.samples[idx] + int64(s.first)
	stop := start + int64(s.nTimes)
	data, reason, err := s.src.Segment(start, stop)
	if err != nil {
		return RawSegment{}, err
	}
	if reason != "" {
		return RawSegment{Reason: reason}, nil
	}
	if len(data) == 0 {
		return RawSegment{}, fmt.Errorf("%w: source returned no rows for [%d, %d)",
			errs.ErrEmptySegment, start, stop)
	}

	return RawSegment{Data: data}, nil
}

func (s *rawSource) Close() error { return nil }

// reorderSource remaps epoch indices, used when a collection keeps a
// subset of its source's epochs after drops.
type reorderSource struct {
	inner DataSource
	index []int
}

func newReorderSource(inner DataSource, index []int) DataSource {
	return &reorderSource{inner: inner, index: append([]int(nil), index...)}
}

func (s *reorderSource) Fetch(idx int) (RawSegment, error) {
	if idx < 0 || idx >= len(s.index) {
		return RawSegment{}, fmt.Errorf("%w: %d of %d epochs", errs.ErrInvalidIndex, idx, len(s.index))
	}

	return s.inner.Fetch(s.index[idx])
}

func (s *reorderSource) Close() error { return s.inner.Close() }
