package epoch

import (
	"fmt"
	"math"

	"github.com/epochio/epocha/errs"
)

// TimeGrid is the immutable per-collection time axis derived from
// (tmin, tmax, sampling rate). The sample values are never mutated in
// place: every operation that changes the axis builds a new grid and the
// owner swaps it in wholesale.
type TimeGrid struct {
	sfreq float64
	times []float64
	first int // sample index of times[0] relative to the time-lock point
}

// NewTimeGrid builds the axis covering [tmin, tmax] at sfreq samples per
// second. Sample positions snap to the sample raster, matching the source
// recording: first = round(tmin*sfreq), last = round(tmax*sfreq).
func NewTimeGrid(tmin, tmax, sfreq float64) (*TimeGrid, error) {
	if sfreq <= 0 {
		return nil, fmt.Errorf("%w: sample rate %g", errs.ErrInvalidTimeWindow, sfreq)
	}
	if tmin > tmax {
		return nil, fmt.Errorf("%w: tmin %g > tmax %g", errs.ErrInvalidTimeWindow, tmin, tmax)
	}

	first := int(math.Round(tmin * sfreq))
	last := int(math.Round(tmax * sfreq))
	times := make([]float64, last-first+1)
	for i := range times {
		times[i] = float64(first+i) / sfreq
	}

	return &TimeGrid{sfreq: sfreq, times: times, first: first}, nil
}

// SFreq returns the sampling rate of this axis.
func (g *TimeGrid) SFreq() float64 { return g.sfreq }

// NTimes returns the number of samples on the axis.
func (g *TimeGrid) NTimes() int { return len(g.times) }

// TMin returns the first time point in seconds.
func (g *TimeGrid) TMin() float64 { return g.times[0] }

// TMax returns the last time point in seconds.
func (g *TimeGrid) TMax() float64 { return g.times[len(g.times)-1] }

// FirstSample returns the sample index of the first time point relative to
// the time-lock event.
func (g *TimeGrid) FirstSample() int { return g.first }

// LastSample returns the sample index of the last time point.
func (g *TimeGrid) LastSample() int { return g.first + len(g.times) - 1 }

// Times returns the sample positions in seconds. The returned slice is
// shared and must be treated as read-only.
func (g *TimeGrid) Times() []float64 { return g.times }

// IndexAtOrAfter returns the first index whose time is >= t, or -1.
func (g *TimeGrid) IndexAtOrAfter(t float64) int {
	for i, v := range g.times {
		if v >= t || closeTimes(v, t, g.sfreq) {
			return i
		}
	}

	return -1
}

// IndexAtOrBefore returns the last index whose time is <= t, or -1.
func (g *TimeGrid) IndexAtOrBefore(t float64) int {
	for i := len(g.times) - 1; i >= 0; i-- {
		if g.times[i] <= t || closeTimes(g.times[i], t, g.sfreq) {
			return i
		}
	}

	return -1
}

// decimate returns a new grid keeping every step-th sample starting at
// start, with the sampling rate divided accordingly.
func (g *TimeGrid) decimate(start, step int) *TimeGrid {
	times := make([]float64, 0, (len(g.times)-start+step-1)/step)
	for i := start; i < len(g.times); i += step {
		times = append(times, g.times[i])
	}

	return &TimeGrid{sfreq: g.sfreq / float64(step), times: times, first: g.first + start}
}

// cropMask returns the indices kept when restricting the axis to
// [tmin, tmax], and the resulting grid.
func (g *TimeGrid) cropMask(tmin, tmax float64, includeTmax bool) ([]int, *TimeGrid) {
	var idx []int
	times := make([]float64, 0, len(g.times))
	for i, v := range g.times {
		if v < tmin && !closeTimes(v, tmin, g.sfreq) {
			continue
		}
		if v > tmax && !closeTimes(v, tmax, g.sfreq) {
			continue
		}
		if !includeTmax && closeTimes(v, tmax, g.sfreq) {
			continue
		}
		idx = append(idx, i)
		times = append(times, v)
	}

	first := g.first
	if len(idx) > 0 {
		first = g.first + idx[0]
	}

	return idx, &TimeGrid{sfreq: g.sfreq, times: times, first: first}
}

// closeTimes compares two time points with a tolerance well below one
// sample period, absorbing float rounding on the raster.
func closeTimes(a, b, sfreq float64) bool {
	return math.Abs(a-b) < 0.5/sfreq*1e-6
}
