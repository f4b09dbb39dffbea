package reject

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epochio/epocha/errs"
)

var eegLayout = map[string][]int{"eeg": {0, 1}, "eog": {2}}

func testNames() []string { return []string{"EEG 001", "EEG 002", "EOG 061"} }

func TestApply(t *testing.T) {
	t.Run("UnknownChannelType", func(t *testing.T) {
		p := NewPolicy()
		err := p.Apply(Thresholds{"grad": 4e-13}, nil, eegLayout)
		require.ErrorIs(t, err, errs.ErrUnknownChannelType)
	})

	t.Run("NegativeThreshold", func(t *testing.T) {
		p := NewPolicy()
		err := p.Apply(Thresholds{"eeg": -1}, nil, eegLayout)
		require.ErrorIs(t, err, errs.ErrInvalidThreshold)
	})

	t.Run("Installs", func(t *testing.T) {
		p := NewPolicy()
		require.NoError(t, p.Apply(Thresholds{"eeg": 100e-6}, Thresholds{"eeg": 1e-9}, eegLayout))
		require.True(t, p.Active())
	})
}

func TestStrictness(t *testing.T) {
	p := NewPolicy()
	require.NoError(t, p.Apply(Thresholds{"eeg": 100e-6}, Thresholds{"eeg": 1e-9}, eegLayout))

	t.Run("TighterRejectOK", func(t *testing.T) {
		q := *p
		require.NoError(t, q.Apply(Thresholds{"eeg": 50e-6}, Thresholds{"eeg": 1e-9}, eegLayout))
	})

	t.Run("LooserRejectRefused", func(t *testing.T) {
		q := *p
		err := q.Apply(Thresholds{"eeg": 150e-6}, Thresholds{"eeg": 1e-9}, eegLayout)
		require.ErrorIs(t, err, errs.ErrThresholdLoosened)
	})

	t.Run("RemovedRejectKeyRefused", func(t *testing.T) {
		q := *p
		err := q.Apply(nil, Thresholds{"eeg": 1e-9}, eegLayout)
		require.ErrorIs(t, err, errs.ErrThresholdLoosened)
	})

	t.Run("LooserFlatRefused", func(t *testing.T) {
		q := *p
		err := q.Apply(Thresholds{"eeg": 100e-6}, Thresholds{"eeg": 1e-12}, eegLayout)
		require.ErrorIs(t, err, errs.ErrThresholdLoosened)
	})

	t.Run("TighterFlatOK", func(t *testing.T) {
		q := *p
		require.NoError(t, q.Apply(Thresholds{"eeg": 100e-6}, Thresholds{"eeg": 1e-6}, eegLayout))
	})
}

func TestEvaluate(t *testing.T) {
	flatRow := func(v float64, n int) []float64 {
		row := make([]float64, n)
		for i := range row {
			row[i] = v
		}
		return row
	}
	rampRow := func(amp float64, n int) []float64 {
		row := make([]float64, n)
		for i := range row {
			row[i] = amp * float64(i) / float64(n-1)
		}
		return row
	}

	t.Run("NoData", func(t *testing.T) {
		p := NewPolicy()
		good, reasons := p.Evaluate(nil, testNames(), eegLayout, nil, 10)
		require.False(t, good)
		require.Equal(t, []string{ReasonNoData}, reasons)
	})

	t.Run("TooShort", func(t *testing.T) {
		p := NewPolicy()
		seg := [][]float64{flatRow(0, 5), flatRow(0, 5), flatRow(0, 5)}
		good, reasons := p.Evaluate(seg, testNames(), eegLayout, nil, 10)
		require.False(t, good)
		require.Equal(t, []string{ReasonTooShort}, reasons)
	})

	t.Run("NoThresholdsAlwaysGood", func(t *testing.T) {
		p := NewPolicy()
		seg := [][]float64{rampRow(1, 10), rampRow(1, 10), rampRow(1, 10)}
		good, reasons := p.Evaluate(seg, testNames(), eegLayout, nil, 10)
		require.True(t, good)
		require.Nil(t, reasons)
	})

	t.Run("AmplitudeOffender", func(t *testing.T) {
		p := NewPolicy()
		require.NoError(t, p.Apply(Thresholds{"eeg": 100e-6}, nil, eegLayout))
		seg := [][]float64{rampRow(150e-6, 10), rampRow(50e-6, 10), rampRow(1, 10)}
		good, reasons := p.Evaluate(seg, testNames(), eegLayout, nil, 10)
		require.False(t, good)
		require.Equal(t, []string{"EEG 001"}, reasons)
	})

	t.Run("FlatOffender", func(t *testing.T) {
		p := NewPolicy()
		require.NoError(t, p.Apply(nil, Thresholds{"eeg": 1e-9}, eegLayout))
		seg := [][]float64{rampRow(50e-6, 10), flatRow(3, 10), flatRow(0, 10)}
		good, reasons := p.Evaluate(seg, testNames(), eegLayout, nil, 10)
		require.False(t, good)
		require.Equal(t, []string{"EEG 002"}, reasons)
	})

	t.Run("IgnoredBadChannel", func(t *testing.T) {
		p := NewPolicy()
		require.NoError(t, p.Apply(Thresholds{"eeg": 100e-6}, nil, eegLayout))
		seg := [][]float64{rampRow(150e-6, 10), rampRow(50e-6, 10), flatRow(0, 10)}
		ignore := map[string]struct{}{"EEG 001": {}}
		good, reasons := p.Evaluate(seg, testNames(), eegLayout, ignore, 10)
		require.True(t, good)
		require.Nil(t, reasons)
	})

	t.Run("Window", func(t *testing.T) {
		p := NewPolicy()
		require.NoError(t, p.Apply(Thresholds{"eeg": 100e-6}, nil, eegLayout))
		// Spike outside the evaluated window.
		row := flatRow(0, 10)
		row[9] = 1
		seg := [][]float64{row, flatRow(0, 10), flatRow(0, 10)}
		require.NoError(t, p.SetWindow(0, 5))
		good, _ := p.Evaluate(seg, testNames(), eegLayout, nil, 10)
		require.True(t, good)

		require.NoError(t, p.SetWindow(0, -1))
		good, _ = p.Evaluate(seg, testNames(), eegLayout, nil, 10)
		require.False(t, good)
	})
}
