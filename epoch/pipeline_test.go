package epoch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/event"
	"github.com/epochio/epocha/reject"
)

func testRaw(nCh int, n int64, sfreq float64) *sineRaw {
	amp := make([]float64, nCh)
	dc := make([]float64, nCh)
	for i := range amp {
		amp[i] = 10e-6
	}

	return &sineRaw{nCh: nCh, n: n, sfreq: sfreq, amp: amp, dc: dc}
}

func TestFromRawLazy(t *testing.T) {
	info := testInfo(2, 100)
	raw := testRaw(3, 10000, 100)
	events := evenEvents(5, 1000, 1)

	col, err := FromRaw(info, raw, events, WithNoBaseline())
	require.NoError(t, err)
	require.False(t, col.Preloaded())
	require.Equal(t, 5, col.NEpochs())
	require.Len(t, col.Times(), 71) // [-0.2, 0.5] at 100 Hz

	data, err := col.GetData()
	require.NoError(t, err)
	require.Equal(t, 5, data.NEpochs())
	require.Equal(t, 71, data.NTimes())
	require.True(t, col.BadDropped())
}

func TestLazyRejectionCommit(t *testing.T) {
	info := testInfo(2, 100)
	raw := testRaw(3, 10000, 100)
	raw.amp[0] = 500e-6 // channel 0 swings past any sane bound

	events := evenEvents(4, 1000, 1)
	col, err := FromRaw(info, raw, events,
		WithNoBaseline(),
		WithReject(reject.Thresholds{"eeg": 100e-6}))
	require.NoError(t, err)

	_, err = col.GetData()
	require.ErrorIs(t, err, errs.ErrNoMatchingEvents)
}

func TestLazySegmentReasons(t *testing.T) {
	info := testInfo(1, 100)
	raw := testRaw(2, 1500, 100)
	raw.badSpan = [2]int64{900, 1100}
	events := []event.Event{
		{Sample: 500, Code: 1},
		{Sample: 1000, Code: 1}, // inside the skipped span
		{Sample: 1490, Code: 1}, // epoch runs past the recording end
	}

	col, err := FromRaw(info, raw, events, WithNoBaseline())
	require.NoError(t, err)
	require.NoError(t, col.LoadData())

	require.Equal(t, 1, col.NEpochs())
	require.Equal(t, []string{"BAD_ACQ_SKIP"}, col.DropLog()[1])
	require.Equal(t, []string{"TOO_SHORT"}, col.DropLog()[2])
	require.NoError(t, col.CheckConsistency())
	require.True(t, col.Preloaded())
}

func TestLazyBaseline(t *testing.T) {
	info := testInfo(1, 100)
	raw := testRaw(2, 5000, 100)
	raw.amp = []float64{0, 0}
	raw.dc = []float64{5, 7}

	col, err := FromRaw(info, raw, evenEvents(3, 1000, 1)) // default baseline (start, 0]
	require.NoError(t, err)

	data, err := col.GetData()
	require.NoError(t, err)
	// Constant channels are fully removed by their baseline mean.
	require.InDelta(t, 0.0, data.At(0, 0, 10), 1e-12)
	require.InDelta(t, 0.0, data.At(2, 1, 50), 1e-12)
}

func TestLazyDetrend(t *testing.T) {
	info := testInfo(1, 100)
	ramp := &rampRaw{nCh: 2, n: 5000}

	col, err := FromRaw(info, ramp, evenEvents(2, 1000, 1),
		WithNoBaseline(), WithDetrend(DetrendLinear))
	require.NoError(t, err)

	data, err := col.GetData()
	require.NoError(t, err)
	// Channel 0 is eeg: the ramp is removed entirely.
	require.InDelta(t, 0.0, data.At(0, 0, 30), 1e-9)
	// Channel 1 is stim: kept as is, nonzero away from the fitted region.
	require.NotZero(t, data.At(0, 1, 0))
}

// rampRaw returns sample index as the value on every channel.
type rampRaw struct {
	nCh int
	n   int64
}

func (r *rampRaw) Segment(start, stop int64) ([][]float64, string, error) {
	if start < 0 || stop > r.n {
		return nil, "TOO_SHORT", nil
	}
	out := make([][]float64, r.nCh)
	for ch := range out {
		row := make([]float64, stop-start)
		for i := range row {
			row[i] = float64(start + int64(i))
		}
		out[ch] = row
	}

	return out, "", nil
}

func TestLazyDecim(t *testing.T) {
	info := testInfo(1, 100)
	raw := testRaw(2, 5000, 100)

	col, err := FromRaw(info, raw, evenEvents(2, 1000, 1),
		WithNoBaseline(), WithDecim(2, 0))
	require.NoError(t, err)
	require.InDelta(t, 50.0, col.SFreq(), 1e-9)
	require.Len(t, col.Times(), 36)

	data, err := col.GetData()
	require.NoError(t, err)
	require.Equal(t, 36, data.NTimes())
}

func TestLazyOffset(t *testing.T) {
	info := testInfo(1, 100)
	raw := testRaw(2, 5000, 100)
	raw.amp = []float64{0, 0}

	col, err := FromRaw(info, raw, evenEvents(2, 1000, 1), WithNoBaseline())
	require.NoError(t, err)
	require.NoError(t, col.SetOffset([]float64{1, 2}))
	require.NoError(t, col.SetOffset([]float64{1, 2}))

	data, err := col.GetData()
	require.NoError(t, err)
	require.InDelta(t, 2.0, data.At(0, 0, 0), 1e-12)
	require.InDelta(t, 4.0, data.At(0, 1, 0), 1e-12)
}

func TestDelayedProjection(t *testing.T) {
	info := testInfo(2, 100)
	// Projector that zeroes channel 0 and keeps the rest.
	proj := [][]float64{
		{0, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}
	raw := testRaw(3, 10000, 100)
	raw.amp = []float64{500e-6, 1e-6, 0}
	events := evenEvents(3, 1000, 1)
	thresholds := reject.Thresholds{"eeg": 100e-6}

	t.Run("EagerProjectionPasses", func(t *testing.T) {
		col, err := FromRaw(info, raw, events,
			WithNoBaseline(), WithProjector(proj), WithReject(thresholds))
		require.NoError(t, err)
		data, err := col.GetData()
		require.NoError(t, err)
		require.Equal(t, 3, data.NEpochs())
		require.InDelta(t, 0.0, data.At(0, 0, 10), 1e-12)
	})

	t.Run("DelayedProjectionRejects", func(t *testing.T) {
		col, err := FromRaw(info, raw, events,
			WithNoBaseline(), WithProjector(proj), WithReject(thresholds),
			WithDelayedProjection())
		require.NoError(t, err)
		_, err = col.GetData()
		// Rejection saw the un-projected 500 uV swing on channel 0.
		require.ErrorIs(t, err, errs.ErrNoMatchingEvents)
	})
}

func TestRejectWindow(t *testing.T) {
	info := testInfo(1, 100)
	// Spike only in the first 100 ms of each epoch.
	spiky := &spikeRaw{nCh: 2, n: 10000, spikeEvery: 1000, spikeLen: 10}

	events := evenEvents(3, 1000, 1)
	thresholds := reject.Thresholds{"eeg": 100e-6}

	t.Run("WindowAvoidsSpike", func(t *testing.T) {
		col, err := FromRaw(info, spiky, events, WithNoBaseline(),
			WithReject(thresholds), WithRejectWindow(0.2, 0.5))
		require.NoError(t, err)
		data, err := col.GetData()
		require.NoError(t, err)
		require.Equal(t, 3, data.NEpochs())
	})

	t.Run("FullWindowRejects", func(t *testing.T) {
		col, err := FromRaw(info, spiky, events, WithNoBaseline(),
			WithReject(thresholds))
		require.NoError(t, err)
		_, err = col.GetData()
		require.ErrorIs(t, err, errs.ErrNoMatchingEvents)
	})
}

// spikeRaw is flat except for a large spike right after every event
// sample.
type spikeRaw struct {
	nCh        int
	n          int64
	spikeEvery int64
	spikeLen   int64
}

func (s *spikeRaw) Segment(start, stop int64) ([][]float64, string, error) {
	if start < 0 || stop > s.n {
		return nil, "TOO_SHORT", nil
	}
	out := make([][]float64, s.nCh)
	for ch := range out {
		row := make([]float64, stop-start)
		for i := range row {
			abs := start + int64(i)
			if rel := abs % s.spikeEvery; rel < s.spikeLen {
				row[i] = 1e-3
			}
		}
		out[ch] = row
	}

	return out, "", nil
}

func TestLoadDataIdempotent(t *testing.T) {
	info := testInfo(1, 100)
	raw := testRaw(2, 5000, 100)
	col, err := FromRaw(info, raw, evenEvents(2, 1000, 1), WithNoBaseline())
	require.NoError(t, err)

	require.NoError(t, col.LoadData())
	require.NoError(t, col.LoadData())
	require.True(t, col.Preloaded())

	data, err := col.GetData()
	require.NoError(t, err)
	require.Equal(t, 2, data.NEpochs())
}

func TestApplyFunction(t *testing.T) {
	info := testInfo(1, 100)
	col, err := FromArray(info, constArray(2, 2, 10, 1), evenEvents(2, 100, 1))
	require.NoError(t, err)

	require.NoError(t, col.ApplyFunction(func(samples []float64) error {
		for i := range samples {
			samples[i] *= 2
		}
		return nil
	}, 0))

	data, err := col.GetData()
	require.NoError(t, err)
	require.InDelta(t, 2.0, data.At(0, 0, 0), 1e-12)
	// Channel 1 untouched.
	require.InDelta(t, 2.0, data.At(0, 1, 0), 1e-12)
}

func TestMemorySource(t *testing.T) {
	backing := constArray(3, 3, 20, 0)
	col, err := FromSource(testInfo(2, 100), NewMemorySource(backing), evenEvents(3, 100, 1),
		WithTimeRange(0, 0.19), WithNoBaseline())
	require.NoError(t, err)
	defer col.Close()

	require.False(t, col.Preloaded())
	data, err := col.GetData()
	require.NoError(t, err)
	require.Equal(t, 3, data.NEpochs())
	require.InDelta(t, 10.0, data.At(1, 0, 0), 1e-12)

	t.Run("OutOfRange", func(t *testing.T) {
		_, err := NewMemorySource(backing).Fetch(3)
		require.ErrorIs(t, err, errs.ErrInvalidIndex)
	})
}

func TestRawSourceEmptySegment(t *testing.T) {
	src := NewRawSource(&emptyRaw{}, []int64{100}, 0, 10)
	_, err := src.Fetch(0)
	require.ErrorIs(t, err, errs.ErrEmptySegment)
}

// emptyRaw violates the ContinuousSource contract by returning neither
// rows nor a reason.
type emptyRaw struct{}

func (emptyRaw) Segment(start, stop int64) ([][]float64, string, error) {
	return nil, "", nil
}
