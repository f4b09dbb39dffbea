package epoch

import (
	"fmt"

	"github.com/epochio/epocha/errs"
)

// Array3 is a dense (n_epochs, n_channels, n_times) float64 array backed by
// one contiguous buffer. Epoch rows are laid out consecutively, which makes
// the in-place truncation after rejection a cheap reslice.
type Array3 struct {
	nEpochs   int
	nChannels int
	nTimes    int
	buf       []float64
}

// NewArray3 allocates a zeroed array of the given shape.
func NewArray3(nEpochs, nChannels, nTimes int) *Array3 {
	return &Array3{
		nEpochs:   nEpochs,
		nChannels: nChannels,
		nTimes:    nTimes,
		buf:       make([]float64, nEpochs*nChannels*nTimes),
	}
}

// NewArray3FromSlice wraps an existing flat buffer of length
// nEpochs*nChannels*nTimes. The array takes ownership of the slice.
func NewArray3FromSlice(nEpochs, nChannels, nTimes int, buf []float64) (*Array3, error) {
	if len(buf) != nEpochs*nChannels*nTimes {
		return nil, fmt.Errorf("%w: %d values for shape (%d, %d, %d)",
			errs.ErrDataShape, len(buf), nEpochs, nChannels, nTimes)
	}

	return &Array3{nEpochs: nEpochs, nChannels: nChannels, nTimes: nTimes, buf: buf}, nil
}

// NEpochs returns the first dimension.
func (a *Array3) NEpochs() int { return a.nEpochs }

// NChannels returns the second dimension.
func (a *Array3) NChannels() int { return a.nChannels }

// NTimes returns the third dimension.
func (a *Array3) NTimes() int { return a.nTimes }

// At returns the value at (epoch, channel, time).
func (a *Array3) At(e, c, t int) float64 {
	return a.buf[(e*a.nChannels+c)*a.nTimes+t]
}

// Set stores v at (epoch, channel, time).
func (a *Array3) Set(e, c, t int, v float64) {
	a.buf[(e*a.nChannels+c)*a.nTimes+t] = v
}

// Epoch returns per-channel views into epoch e. The rows alias the
// underlying buffer; writing through them mutates the array.
func (a *Array3) Epoch(e int) [][]float64 {
	out := make([][]float64, a.nChannels)
	base := e * a.nChannels * a.nTimes
	for c := 0; c < a.nChannels; c++ {
		out[c] = a.buf[base+c*a.nTimes : base+(c+1)*a.nTimes]
	}

	return out
}

// Row returns the time course of one channel in one epoch, aliasing the
// underlying buffer.
func (a *Array3) Row(e, c int) []float64 {
	base := (e*a.nChannels + c) * a.nTimes

	return a.buf[base : base+a.nTimes]
}

// SetEpoch copies seg (channels x times) into epoch e.
func (a *Array3) SetEpoch(e int, seg [][]float64) {
	for c, row := range seg {
		copy(a.Row(e, c), row)
	}
}

// Truncate shrinks the epoch dimension to nEpochs in place, keeping the
// leading rows. It never grows the array.
func (a *Array3) Truncate(nEpochs int) {
	if nEpochs >= a.nEpochs {
		return
	}
	a.nEpochs = nEpochs
	a.buf = a.buf[:nEpochs*a.nChannels*a.nTimes]
}

// Select returns a new array holding the given epoch rows in order.
func (a *Array3) Select(idx []int) *Array3 {
	out := NewArray3(len(idx), a.nChannels, a.nTimes)
	rowLen := a.nChannels * a.nTimes
	for i, e := range idx {
		copy(out.buf[i*rowLen:(i+1)*rowLen], a.buf[e*rowLen:(e+1)*rowLen])
	}

	return out
}

// SelectChannels returns a new array restricted to the given channels.
func (a *Array3) SelectChannels(picks []int) *Array3 {
	out := NewArray3(a.nEpochs, len(picks), a.nTimes)
	for e := 0; e < a.nEpochs; e++ {
		for i, c := range picks {
			copy(out.Row(e, i), a.Row(e, c))
		}
	}

	return out
}

// SelectTimes returns a new array keeping only the time indices in idx.
func (a *Array3) SelectTimes(idx []int) *Array3 {
	out := NewArray3(a.nEpochs, a.nChannels, len(idx))
	for e := 0; e < a.nEpochs; e++ {
		for c := 0; c < a.nChannels; c++ {
			src := a.Row(e, c)
			dst := out.Row(e, c)
			for i, t := range idx {
				dst[i] = src[t]
			}
		}
	}

	return out
}

// Clone returns a deep copy.
func (a *Array3) Clone() *Array3 {
	buf := make([]float64, len(a.buf))
	copy(buf, a.buf)

	return &Array3{nEpochs: a.nEpochs, nChannels: a.nChannels, nTimes: a.nTimes, buf: buf}
}

// Raw exposes the flat backing buffer (epoch-major, then channel, then time).
func (a *Array3) Raw() []float64 {
	return a.buf
}
