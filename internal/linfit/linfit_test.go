package linfit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFitLine(t *testing.T) {
	t.Run("ExactLine", func(t *testing.T) {
		// y = 2 + 3x
		y := []float64{2, 5, 8, 11, 14}
		line := FitLine(y)
		require.InDelta(t, 2.0, line.Intercept, 1e-12)
		require.InDelta(t, 3.0, line.Slope, 1e-12)
	})

	t.Run("Constant", func(t *testing.T) {
		line := FitLine([]float64{7, 7, 7})
		require.InDelta(t, 7.0, line.Intercept, 1e-12)
		require.InDelta(t, 0.0, line.Slope, 1e-12)
	})

	t.Run("SinglePoint", func(t *testing.T) {
		line := FitLine([]float64{4})
		require.InDelta(t, 4.0, line.Intercept, 1e-12)
		require.InDelta(t, 0.0, line.Slope, 1e-12)
	})
}

func TestRemoveLine(t *testing.T) {
	y := []float64{2, 5, 8, 11}
	RemoveLine(y)
	for i, v := range y {
		require.InDeltaf(t, 0.0, v, 1e-12, "sample %d", i)
	}
}

func TestRemoveMean(t *testing.T) {
	y := []float64{1, 2, 3}
	RemoveMean(y)
	require.InDelta(t, -1.0, y[0], 1e-12)
	require.InDelta(t, 0.0, y[1], 1e-12)
	require.InDelta(t, 1.0, y[2], 1e-12)
}

func TestInterp(t *testing.T) {
	ys := []float64{0, 10, 20}

	t.Run("OnGrid", func(t *testing.T) {
		require.InDelta(t, 10.0, Interp(ys, 1), 1e-12)
	})

	t.Run("Between", func(t *testing.T) {
		require.InDelta(t, 5.0, Interp(ys, 0.5), 1e-12)
		require.InDelta(t, 15.0, Interp(ys, 1.5), 1e-12)
	})

	t.Run("ClampedRight", func(t *testing.T) {
		require.InDelta(t, 20.0, Interp(ys, 5), 1e-12)
	})

	t.Run("ClampedLeft", func(t *testing.T) {
		require.InDelta(t, 0.0, Interp(ys, -1), 1e-12)
	})
}
