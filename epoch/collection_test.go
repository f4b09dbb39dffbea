package epoch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/event"
	"github.com/epochio/epocha/reject"
)

func TestFromArrayBasics(t *testing.T) {
	info := testInfo(2, 100)
	events := []event.Event{
		{Sample: 100, Code: 1},
		{Sample: 200, Code: 1},
		{Sample: 300, Code: 2},
	}
	data := constArray(3, 3, 50, 0)

	col, err := FromArray(info, data, events)
	require.NoError(t, err)
	require.Equal(t, 3, col.NEpochs())
	require.True(t, col.Preloaded())
	require.Equal(t, []int{0, 1, 2}, col.Selection())
	require.Len(t, col.DropLog(), 3)
	for _, entry := range col.DropLog() {
		require.Empty(t, entry)
	}
	require.NoError(t, col.CheckConsistency())
	require.InDelta(t, 0.0, col.TMin(), 1e-12)
	require.InDelta(t, 0.49, col.TMax(), 1e-12)

	t.Run("DefaultIDs", func(t *testing.T) {
		require.Equal(t, event.IDMap{"1": 1, "2": 2}, col.EventIDs())
	})

	t.Run("ShapeMismatch", func(t *testing.T) {
		_, err := FromArray(info, constArray(2, 3, 50, 0), events)
		require.ErrorIs(t, err, errs.ErrEventCount)

		_, err = FromArray(info, constArray(3, 2, 50, 0), events)
		require.ErrorIs(t, err, errs.ErrChannelCount)
	})
}

func TestEventIDFiltering(t *testing.T) {
	info := testInfo(2, 100)
	events := []event.Event{
		{Sample: 100, Code: 1},
		{Sample: 200, Code: 7},
		{Sample: 300, Code: 1},
	}

	col, err := FromArray(info, constArray(2, 3, 50, 0), events,
		WithEventIDs(event.IDMap{"cond": 1}))
	require.NoError(t, err)
	require.Equal(t, 2, col.NEpochs())
	require.Equal(t, []int{0, 2}, col.Selection())
	require.Equal(t, []string{ReasonIgnored}, col.DropLog()[1])

	t.Run("NoMatches", func(t *testing.T) {
		_, err := FromArray(info, constArray(0, 3, 50, 0), events,
			WithEventIDs(event.IDMap{"cond": 9}), WithOnMissing(MissingIgnore))
		require.ErrorIs(t, err, errs.ErrNoMatchingEvents)
	})
}

func TestOnMissing(t *testing.T) {
	info := testInfo(1, 100)
	events := []event.Event{{Sample: 100, Code: 1}}
	ids := event.IDMap{"present": 1, "absent": 3}

	t.Run("Raise", func(t *testing.T) {
		_, err := FromArray(info, constArray(1, 2, 10, 0), events, WithEventIDs(ids))
		require.ErrorIs(t, err, errs.ErrMissingEvent)
	})

	t.Run("Ignore", func(t *testing.T) {
		col, err := FromArray(info, constArray(1, 2, 10, 0), events,
			WithEventIDs(ids), WithOnMissing(MissingIgnore))
		require.NoError(t, err)
		require.Equal(t, 1, col.NEpochs())
	})

	t.Run("Warn", func(t *testing.T) {
		col, err := FromArray(info, constArray(1, 2, 10, 0), events,
			WithEventIDs(ids), WithOnMissing(MissingWarn))
		require.NoError(t, err)
		require.Equal(t, 1, col.NEpochs())
	})
}

func TestDrop(t *testing.T) {
	info := testInfo(2, 100)
	col, err := FromArray(info, constArray(4, 3, 20, 0), evenEvents(4, 100, 1))
	require.NoError(t, err)

	require.NoError(t, col.Drop([]int{1, 3}, "USER"))
	require.Equal(t, 2, col.NEpochs())
	require.Equal(t, []int{0, 2}, col.Selection())
	require.Equal(t, []string{"USER"}, col.DropLog()[1])
	require.Equal(t, []string{"USER"}, col.DropLog()[3])
	require.NoError(t, col.CheckConsistency())

	t.Run("NegativeIndex", func(t *testing.T) {
		require.NoError(t, col.Drop([]int{-1}, "tail"))
		require.Equal(t, 1, col.NEpochs())
		require.Equal(t, []string{"tail"}, col.DropLog()[2])
	})

	t.Run("OutOfRange", func(t *testing.T) {
		require.ErrorIs(t, col.Drop([]int{5}, ""), errs.ErrInvalidIndex)
	})

	t.Run("DataNarrowed", func(t *testing.T) {
		data, err := col.GetData()
		require.NoError(t, err)
		require.Equal(t, 1, data.NEpochs())
		// Epoch 0 survived everything.
		require.InDelta(t, 0.0, data.At(0, 0, 0), 1e-12)
	})
}

func TestDropBad(t *testing.T) {
	info := testInfo(2, 100)
	// Epoch 1 has a 200 uV swing on channel 0; others are flat ramps.
	data := NewArray3(3, 3, 20)
	for e := 0; e < 3; e++ {
		for c := 0; c < 3; c++ {
			for ts := 0; ts < 20; ts++ {
				v := 1e-6 * float64(ts) / 19
				if e == 1 && c == 0 {
					v = 200e-6 * float64(ts) / 19
				}
				data.Set(e, c, ts, v)
			}
		}
	}

	col, err := FromArray(info, data, evenEvents(3, 100, 1))
	require.NoError(t, err)

	require.NoError(t, col.DropBad(reject.Thresholds{"eeg": 100e-6}, nil))
	require.Equal(t, 2, col.NEpochs())
	require.True(t, col.BadDropped())
	require.Equal(t, []string{chName(0)}, col.DropLog()[1])

	t.Run("Idempotent", func(t *testing.T) {
		require.NoError(t, col.DropBad(nil, nil))
		require.Equal(t, 2, col.NEpochs())
	})

	t.Run("LooseningRefused", func(t *testing.T) {
		err := col.DropBad(reject.Thresholds{"eeg": 300e-6}, nil)
		require.ErrorIs(t, err, errs.ErrThresholdLoosened)
	})

	t.Run("TighteningAllowed", func(t *testing.T) {
		require.NoError(t, col.DropBad(reject.Thresholds{"eeg": 50e-6}, nil))
		require.Equal(t, 2, col.NEpochs())
	})
}

func TestDropBadAllRejected(t *testing.T) {
	info := testInfo(1, 100)
	data := NewArray3(1, 2, 10)
	for ts := 0; ts < 10; ts++ {
		data.Set(0, 0, ts, 1e-3*float64(ts))
	}
	col, err := FromArray(info, data, evenEvents(1, 100, 1))
	require.NoError(t, err)

	err = col.DropBad(reject.Thresholds{"eeg": 1e-6}, nil)
	require.ErrorIs(t, err, errs.ErrNoMatchingEvents)
}

func TestCopy(t *testing.T) {
	info := testInfo(2, 100)
	col, err := FromArray(info, constArray(2, 3, 10, 0), evenEvents(2, 100, 1))
	require.NoError(t, err)

	dup := col.Copy()
	require.NoError(t, dup.Drop([]int{0}, "USER"))
	require.Equal(t, 2, col.NEpochs())
	require.Equal(t, 1, dup.NEpochs())
	require.Empty(t, col.DropLog()[0])
	require.Equal(t, []string{"USER"}, dup.DropLog()[0])

	data, err := dup.GetData()
	require.NoError(t, err)
	data.Set(0, 0, 0, 99)
	orig, err := col.GetData()
	require.NoError(t, err)
	require.InDelta(t, 0.0, orig.At(0, 0, 0), 1e-12)
}

func TestSubsetByName(t *testing.T) {
	info := testInfo(1, 100)
	events := []event.Event{
		{Sample: 100, Code: 1},
		{Sample: 200, Code: 2},
		{Sample: 300, Code: 1},
	}
	ids := event.IDMap{"aud/left": 1, "aud/right": 2}
	col, err := FromArray(info, constArray(3, 2, 10, 0), events, WithEventIDs(ids))
	require.NoError(t, err)
	require.NoError(t, col.DropBad(nil, nil))

	t.Run("Exact", func(t *testing.T) {
		sub, err := col.SubsetByName("aud/left")
		require.NoError(t, err)
		require.Equal(t, 2, sub.NEpochs())
	})

	t.Run("Component", func(t *testing.T) {
		sub, err := col.SubsetByName("aud")
		require.NoError(t, err)
		require.Equal(t, 3, sub.NEpochs())
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := col.SubsetByName("vis")
		require.ErrorIs(t, err, errs.ErrMissingEvent)
	})
}

func TestSubsetDropLog(t *testing.T) {
	info := testInfo(1, 100)
	col, err := FromArray(info, constArray(3, 2, 10, 0), evenEvents(3, 100, 1))
	require.NoError(t, err)
	require.NoError(t, col.DropBad(nil, nil))

	sub, err := col.Subset([]int{0, 2})
	require.NoError(t, err)
	require.Equal(t, 2, sub.NEpochs())
	require.Equal(t, []string{ReasonUser}, sub.DropLog()[1])
	require.NoError(t, sub.CheckConsistency())

	t.Run("RepeatedIndicesResetLog", func(t *testing.T) {
		boot, err := col.Subset([]int{1, 1, 0})
		require.NoError(t, err)
		require.Equal(t, 3, boot.NEpochs())
		require.Equal(t, []int{0, 1, 2}, boot.Selection())
		require.NoError(t, boot.CheckConsistency())
	})

	t.Run("RequiresBadDropped", func(t *testing.T) {
		fresh, err := FromArray(info, constArray(2, 2, 10, 0), evenEvents(2, 100, 1))
		require.NoError(t, err)
		_, err = fresh.Subset([]int{0})
		require.ErrorIs(t, err, errs.ErrBadsNotDropped)
	})
}

func TestResetDropLog(t *testing.T) {
	info := testInfo(1, 100)
	col, err := FromArray(info, constArray(3, 2, 10, 0), evenEvents(3, 100, 1))
	require.NoError(t, err)
	require.NoError(t, col.Drop([]int{1}, "USER"))

	col.ResetDropLog()
	require.Equal(t, []int{0, 1}, col.Selection())
	require.Len(t, col.DropLog(), 2)
	for _, entry := range col.DropLog() {
		require.Empty(t, entry)
	}
	require.NoError(t, col.CheckConsistency())
}

func TestDropLogStats(t *testing.T) {
	info := testInfo(1, 100)
	events := []event.Event{
		{Sample: 100, Code: 1},
		{Sample: 200, Code: 7}, // ignored by selection
		{Sample: 300, Code: 1},
		{Sample: 400, Code: 1},
	}
	col, err := FromArray(info, constArray(3, 2, 10, 0), events,
		WithEventIDs(event.IDMap{"c": 1}))
	require.NoError(t, err)
	require.NoError(t, col.Drop([]int{0}, "USER"))

	// One of three scored epochs dropped; the ignored one does not count.
	require.InDelta(t, 100.0/3, col.DropLogStats(ReasonIgnored), 1e-9)
}

func TestMetadata(t *testing.T) {
	info := testInfo(1, 100)
	md, err := NewMetadata([]string{"rt"}, [][]string{{"0.3"}, {"0.4"}, {"0.5"}})
	require.NoError(t, err)

	col, err := FromArray(info, constArray(3, 2, 10, 0), evenEvents(3, 100, 1), WithMetadata(md))
	require.NoError(t, err)
	require.NoError(t, col.Drop([]int{0}, "USER"))
	require.Equal(t, 2, col.Metadata().NRows())
	require.Equal(t, "0.4", col.Metadata().Rows[0][0])

	t.Run("RowMismatch", func(t *testing.T) {
		bad, err := NewMetadata([]string{"rt"}, [][]string{{"0.3"}})
		require.NoError(t, err)
		_, err = FromArray(info, constArray(3, 2, 10, 0), evenEvents(3, 100, 1), WithMetadata(bad))
		require.ErrorIs(t, err, errs.ErrMetadataRows)
	})
}

func TestCropAndDecimate(t *testing.T) {
	info := testInfo(1, 100)
	col, err := FromArray(info, constArray(2, 2, 100, 0), evenEvents(2, 200, 1))
	require.NoError(t, err)

	require.NoError(t, col.Crop(0.1, 0.5, true))
	require.InDelta(t, 0.1, col.TMin(), 1e-9)
	require.InDelta(t, 0.5, col.TMax(), 1e-9)
	require.Len(t, col.Times(), 41)

	require.NoError(t, col.Decimate(2, 0))
	require.Len(t, col.Times(), 21)
	require.InDelta(t, 50.0, col.SFreq(), 1e-9)

	data, err := col.GetData()
	require.NoError(t, err)
	require.Equal(t, 21, data.NTimes())

	t.Run("BadFactor", func(t *testing.T) {
		require.ErrorIs(t, col.Decimate(0, 0), errs.ErrInvalidDecim)
		require.ErrorIs(t, col.Decimate(2, 2), errs.ErrInvalidDecim)
	})
}

func TestApplyBaselineAndOffset(t *testing.T) {
	info := testInfo(1, 100)
	col, err := FromArray(info, constArray(2, 2, 10, 5), evenEvents(2, 100, 1))
	require.NoError(t, err)

	require.NoError(t, col.ApplyBaseline(0, 0.05))
	data, err := col.GetData()
	require.NoError(t, err)
	// Constant epochs minus their own mean are zero.
	require.InDelta(t, 0.0, data.At(0, 0, 3), 1e-12)
	require.InDelta(t, 0.0, data.At(1, 1, 7), 1e-12)
	require.NotNil(t, col.Baseline())

	t.Run("RemovalRefused", func(t *testing.T) {
		require.ErrorIs(t, col.ClearBaseline(), errs.ErrBaselineRemoval)
	})

	t.Run("Offset", func(t *testing.T) {
		require.NoError(t, col.SetOffset([]float64{2, 3}))
		data, err := col.GetData()
		require.NoError(t, err)
		require.InDelta(t, 2.0, data.At(0, 0, 0), 1e-12)
		require.InDelta(t, 3.0, data.At(0, 1, 0), 1e-12)
	})

	t.Run("OffsetShape", func(t *testing.T) {
		require.ErrorIs(t, col.SetOffset([]float64{1}), errs.ErrChannelCount)
	})
}

func TestCombineEventIDs(t *testing.T) {
	info := testInfo(1, 100)
	events := []event.Event{
		{Sample: 100, Code: 1},
		{Sample: 200, Code: 2},
		{Sample: 300, Code: 3},
	}
	ids := event.IDMap{"aud": 1, "vis": 2, "smell": 3}
	col, err := FromArray(info, constArray(3, 2, 10, 0), events, WithEventIDs(ids))
	require.NoError(t, err)

	require.NoError(t, col.CombineEventIDs([]string{"aud", "vis"}, "sensory", 12))
	require.Equal(t, event.IDMap{"sensory": 12, "smell": 3}, col.EventIDs())
	require.Equal(t, int32(12), col.Events()[0].Code)
	require.Equal(t, int32(12), col.Events()[1].Code)
	require.Equal(t, int32(3), col.Events()[2].Code)

	t.Run("UnknownName", func(t *testing.T) {
		require.ErrorIs(t, col.CombineEventIDs([]string{"nope"}, "x", 0), errs.ErrMissingEvent)
	})

	t.Run("CodeCollision", func(t *testing.T) {
		require.ErrorIs(t, col.CombineEventIDs([]string{"smell"}, "x", 12), errs.ErrDuplicateEvents)
	})

	t.Run("AutoAllocate", func(t *testing.T) {
		require.NoError(t, col.CombineEventIDs([]string{"smell"}, "odor", 0))
		code := col.EventIDs()["odor"]
		require.NotZero(t, code)
		require.Equal(t, code, col.Events()[2].Code)
	})
}

func TestAverage(t *testing.T) {
	info := testInfo(1, 100)
	data := NewArray3(2, 2, 4)
	for ts := 0; ts < 4; ts++ {
		data.Set(0, 0, ts, 1)
		data.Set(1, 0, ts, 3)
	}
	col, err := FromArray(info, data, evenEvents(2, 100, 1))
	require.NoError(t, err)

	avg, err := col.Average()
	require.NoError(t, err)
	require.Equal(t, 2, avg.NAve)
	require.Equal(t, "average", avg.Kind)
	require.InDelta(t, 2.0, avg.Data[0][0], 1e-12)

	se, err := col.StandardError()
	require.NoError(t, err)
	require.Equal(t, "standard_error", se.Kind)
	// Population sd is 1, n = 2.
	require.InDelta(t, 1/math.Sqrt2, se.Data[0][0], 1e-12)
}
