// Package linfit provides the small amount of numerical fitting the epoch
// pipeline needs: ordinary least-squares line fitting for linear detrending,
// mean removal for constant detrending, and monotonic linear interpolation
// used by the event-count equalizer.
package linfit

// Line holds the coefficients of a fitted line y = Intercept + Slope*x.
type Line struct {
	Intercept float64
	Slope     float64
}

// FitLine fits y = a + b*x over x = 0..len(y)-1 by simple linear regression.
func FitLine(y []float64) Line {
	n := len(y)
	if n == 0 {
		return Line{}
	}
	if n == 1 {
		return Line{Intercept: y[0]}
	}

	var sumX, sumY, sumXY, sumX2 float64
	for i := 0; i < n; i++ {
		xi := float64(i)
		yi := y[i]
		sumX += xi
		sumY += yi
		sumXY += xi * yi
		sumX2 += xi * xi
	}

	fn := float64(n)
	meanX := sumX / fn
	meanY := sumY / fn
	slope := (sumXY - fn*meanX*meanY) / (sumX2 - fn*meanX*meanX)
	intercept := meanY - slope*meanX

	return Line{Intercept: intercept, Slope: slope}
}

// RemoveLine subtracts the least-squares line from y in place.
func RemoveLine(y []float64) {
	line := FitLine(y)
	for i := range y {
		y[i] -= line.Intercept + line.Slope*float64(i)
	}
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

// RemoveMean subtracts the mean of y from y in place.
func RemoveMean(y []float64) {
	m := Mean(y)
	for i := range y {
		y[i] -= m
	}
}

// Interp evaluates a piecewise-linear function defined by the sample values
// ys at integer positions 0..len(ys)-1, at position x. Positions beyond the
// last sample clamp to the final value; positions before the first clamp to
// the first value. ys must be non-empty.
func Interp(ys []float64, x float64) float64 {
	n := len(ys)
	if x <= 0 {
		return ys[0]
	}
	if x >= float64(n-1) {
		return ys[n-1]
	}

	lo := int(x)
	frac := x - float64(lo)

	return ys[lo] + frac*(ys[lo+1]-ys[lo])
}
