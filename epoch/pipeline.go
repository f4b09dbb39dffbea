package epoch

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/internal/linfit"
	"github.com/epochio/epocha/reject"
)

// materialize runs the full pipeline over every retained epoch and
// returns the good rows. On the first full pass (badDropped still false)
// the failing epochs are committed to the drop log and pruned; afterwards
// every retained epoch is known good and evaluation is skipped.
// syncRejectWindow maps the reject window from seconds to sample indices
// on the current axis, which decimation and cropping may have changed
// since construction.
func (c *Collection) syncRejectWindow() {
	start, stop := 0, -1
	if c.rejectTmin != nil {
		if i := c.grid.IndexAtOrAfter(*c.rejectTmin); i >= 0 {
			start = i
		}
	}
	if c.rejectTmax != nil {
		if i := c.grid.IndexAtOrBefore(*c.rejectTmax); i >= 0 {
			stop = i
		}
	}
	c.policy.WindowStart, c.policy.WindowStop = start, stop
}

func (c *Collection) materialize() (*Array3, error) {
	c.syncRejectWindow()
	nCh := len(c.info.Channels)
	nRaw := c.rawGrid.NTimes()
	nOut := c.grid.NTimes()
	n := len(c.events)

	buf := NewArray3(n, nCh, nOut)
	names := c.info.ChannelNames()
	typeIdx := c.info.TypeIndex()
	bads := c.info.BadSet()

	good := make([]int, 0, n)
	reasons := make(map[int][]string)

	for i := 0; i < n; i++ {
		seg, err := c.source.Fetch(i)
		if err != nil {
			return nil, err
		}
		if seg.Reason != "" {
			reasons[i] = []string{seg.Reason}
			continue
		}
		if seg.Data == nil {
			reasons[i] = []string{reject.ReasonNoData}
			continue
		}
		if len(seg.Data) != nCh {
			return nil, fmt.Errorf("%w: source returned %d channels, layout has %d",
				errs.ErrChannelCount, len(seg.Data), nCh)
		}
		short := false
		for _, row := range seg.Data {
			if len(row) < nRaw {
				short = true
				break
			}
		}
		if short {
			reasons[i] = []string{reject.ReasonTooShort}
			continue
		}

		// processBase leaves a delayed projector pending, so rejection
		// evaluates un-projected values in that mode.
		rows := c.processBase(seg.Data)
		if !c.badDropped {
			ok, why := c.policy.Evaluate(rows, names, typeIdx, bads, nOut)
			if !ok {
				reasons[i] = why
				continue
			}
		}

		dst := buf.Epoch(len(good))
		for ch := range rows {
			copy(dst[ch], rows[ch])
		}
		good = append(good, i)
	}

	buf.Truncate(len(good))

	if !c.badDropped {
		if len(reasons) > 0 {
			newLog := make([][]string, len(c.dropLog))
			copy(newLog, c.dropLog)
			for i, why := range reasons {
				sel := c.selection[i]
				newLog[sel] = append(append([]string(nil), newLog[sel]...), why...)
			}
			c.dropLog = newLog
			c.selectEpochs(good, "", true)
			slog.Info("dropped epochs during materialization", "count", len(reasons))
		}
		c.badDropped = true
		if len(c.events) == 0 {
			return nil, fmt.Errorf("%w: all epochs rejected", errs.ErrNoMatchingEvents)
		}
		if err := c.CheckConsistency(); err != nil {
			return nil, err
		}
	}

	return buf, nil
}

// processBase applies the per-epoch transforms that precede rejection
// evaluation: detrend on data channels, baseline correction on the raw
// axis, decimation, pending offsets, and (in eager projection mode) the
// projector. The input rows are copied, never mutated.
func (c *Collection) processBase(seg [][]float64) [][]float64 {
	nRaw := c.rawGrid.NTimes()
	rows := make([][]float64, len(seg))
	for ch := range seg {
		rows[ch] = append([]float64(nil), seg[ch][:nRaw]...)
	}

	if c.detrend != DetrendOff {
		for _, p := range c.info.DataPicks() {
			switch c.detrend {
			case DetrendConstant:
				linfit.RemoveMean(rows[p])
			case DetrendLinear:
				linfit.RemoveLine(rows[p])
			}
		}
	}

	if c.doBaseline && c.baseline != nil {
		imin := c.rawGrid.IndexAtOrAfter(c.baseline.Min)
		imax := c.rawGrid.IndexAtOrBefore(c.baseline.Max)
		rescaleRows(rows, imin, imax)
	}

	if c.decimStep > 1 || c.decimStart > 0 {
		for ch := range rows {
			out := make([]float64, 0, c.grid.NTimes())
			for i := c.decimStart; i < len(rows[ch]); i += c.decimStep {
				out = append(out, rows[ch][i])
			}
			rows[ch] = out
		}
	}

	if c.offset != nil {
		for ch := range rows {
			for t := range rows[ch] {
				rows[ch][t] += c.offset[ch]
			}
		}
	}

	if !c.delayedProj && c.applyProj && c.projector != nil {
		projectInPlace(c.projector, rows)
	}

	return rows
}

// rescaleRows subtracts from every channel its mean over samples
// [imin, imax] inclusive.
func rescaleRows(rows [][]float64, imin, imax int) {
	if imin < 0 || imax < imin {
		return
	}
	for ch := range rows {
		row := rows[ch]
		hi := imax + 1
		if hi > len(row) {
			hi = len(row)
		}
		m := linfit.Mean(row[imin:hi])
		for t := range row {
			row[t] -= m
		}
	}
}

// projectInPlace applies a square channel-space projection matrix to one
// epoch's rows, sample by sample.
func projectInPlace(proj [][]float64, rows [][]float64) {
	n := len(rows)
	if n == 0 {
		return
	}
	nt := len(rows[0])
	col := make([]float64, n)
	for t := 0; t < nt; t++ {
		for j := 0; j < n; j++ {
			col[j] = rows[j][t]
		}
		for i := 0; i < n; i++ {
			var s float64
			for j := 0; j < n; j++ {
				s += proj[i][j] * col[j]
			}
			rows[i][t] = s
		}
	}
}

// LoadData materializes every epoch into memory. Bad epochs are committed
// to the drop log on the way. Idempotent.
func (c *Collection) LoadData() error {
	if c.preload {
		return nil
	}
	if c.source == nil {
		return fmt.Errorf("%w: no data source attached", errs.ErrNotPreloaded)
	}

	buf, err := c.materialize()
	if err != nil {
		return err
	}
	c.data = buf
	c.preload = true
	if err := c.source.Close(); err != nil {
		return err
	}
	c.source = nil

	return nil
}

// GetData returns a copy of the epoch data, shaped (n_epochs, n_channels,
// n_times), restricted to picks when any are given. For a lazy collection
// the first call commits rejection drops.
func (c *Collection) GetData(picks ...int) (*Array3, error) {
	var buf *Array3
	if c.preload {
		if !c.badDropped {
			if err := c.dropBadPreloaded(); err != nil {
				return nil, err
			}
		}
		buf = c.data.Clone()
	} else {
		var err error
		buf, err = c.materialize()
		if err != nil {
			return nil, err
		}
	}

	if c.delayedProj && c.applyProj && c.projector != nil {
		for e := 0; e < buf.NEpochs(); e++ {
			projectInPlace(c.projector, buf.Epoch(e))
		}
	}

	if len(picks) > 0 {
		if err := c.info.checkPicks(picks); err != nil {
			return nil, err
		}
		buf = buf.SelectChannels(picks)
	}

	return buf, nil
}

// DropBad evaluates the rejection policy over every epoch and permanently
// removes the failures. Passing nil thresholds reuses the current policy;
// new thresholds must be at least as strict as the applied ones.
// Idempotent once the thresholds are unchanged.
func (c *Collection) DropBad(rej, flat reject.Thresholds) error {
	changed := rej != nil || flat != nil
	if changed {
		if err := c.policy.Apply(rej, flat, c.info.TypeIndex()); err != nil {
			return err
		}
		c.badDropped = false
	}
	if c.badDropped {
		return nil
	}

	if c.preload {
		return c.dropBadPreloaded()
	}

	if _, err := c.materialize(); err != nil {
		return err
	}

	return nil
}

// dropBadPreloaded sweeps the in-memory buffer against the policy. Stored
// rows already carry every pipeline transform except a delayed projector,
// so rejection naturally sees un-projected values in delayed mode.
func (c *Collection) dropBadPreloaded() error {
	c.syncRejectWindow()
	names := c.info.ChannelNames()
	typeIdx := c.info.TypeIndex()
	bads := c.info.BadSet()
	nOut := c.grid.NTimes()

	good := make([]int, 0, len(c.events))
	reasons := make(map[int][]string)
	for i := 0; i < c.data.NEpochs(); i++ {
		ok, why := c.policy.Evaluate(c.data.Epoch(i), names, typeIdx, bads, nOut)
		if !ok {
			reasons[i] = why
			continue
		}
		good = append(good, i)
	}

	if len(reasons) > 0 {
		newLog := make([][]string, len(c.dropLog))
		copy(newLog, c.dropLog)
		for i, why := range reasons {
			sel := c.selection[i]
			newLog[sel] = append(append([]string(nil), newLog[sel]...), why...)
		}
		c.dropLog = newLog
		c.selectEpochs(good, "", true)
		slog.Info("dropped bad epochs", "count", len(reasons))
	}
	c.badDropped = true
	if len(c.events) == 0 {
		return fmt.Errorf("%w: all epochs rejected", errs.ErrNoMatchingEvents)
	}

	return c.CheckConsistency()
}

// ApplyBaseline rescales the in-memory data by subtracting, per channel
// and per epoch, the mean over [bmin, bmax] seconds. NaN ends pin to the
// epoch edges. Requires preloaded data.
func (c *Collection) ApplyBaseline(bmin, bmax float64) error {
	if !c.preload {
		return fmt.Errorf("%w: baseline correction modifies data", errs.ErrNotPreloaded)
	}
	base, err := c.resolveBaseline(bmin, bmax)
	if err != nil {
		return err
	}

	imin := c.grid.IndexAtOrAfter(base.Min)
	imax := c.grid.IndexAtOrBefore(base.Max)
	for e := 0; e < c.data.NEpochs(); e++ {
		rescaleRows(c.data.Epoch(e), imin, imax)
	}
	c.baseline = base
	c.doBaseline = false

	return nil
}

// ClearBaseline forgets the correction interval. Refused once a baseline
// has actually been subtracted from the data, since that cannot be undone.
func (c *Collection) ClearBaseline() error {
	if c.baseline == nil {
		return nil
	}
	if c.preload || !c.doBaseline {
		return fmt.Errorf("%w: interval [%g, %g] already subtracted",
			errs.ErrBaselineRemoval, c.baseline.Min, c.baseline.Max)
	}
	c.baseline = nil
	c.doBaseline = false

	return nil
}

// Crop restricts the collection to [tmin, tmax] seconds, in place.
// Requires preloaded data.
func (c *Collection) Crop(tmin, tmax float64, includeTmax bool) error {
	if !c.preload {
		return fmt.Errorf("%w: cropping modifies data", errs.ErrNotPreloaded)
	}
	if tmin > tmax {
		return fmt.Errorf("%w: tmin %g > tmax %g", errs.ErrInvalidTimeWindow, tmin, tmax)
	}
	if tmin < c.grid.TMin() {
		tmin = c.grid.TMin()
	}
	if tmax > c.grid.TMax() {
		tmax = c.grid.TMax()
	}

	idx, grid := c.grid.cropMask(tmin, tmax, includeTmax)
	if len(idx) == 0 {
		return fmt.Errorf("%w: [%g, %g] leaves no samples", errs.ErrInvalidTimeWindow, tmin, tmax)
	}
	c.data = c.data.SelectTimes(idx)
	c.grid = grid
	c.rawGrid = grid
	c.decimStart, c.decimStep = 0, 1

	return nil
}

// Decimate keeps every decim-th sample starting at offset, in place. For
// a lazy collection the factor composes with any pending decimation and
// is applied during materialization.
func (c *Collection) Decimate(decim, offset int) error {
	if decim < 1 {
		return fmt.Errorf("%w: %d", errs.ErrInvalidDecim, decim)
	}
	if offset < 0 || offset >= decim {
		return fmt.Errorf("%w: offset %d for factor %d", errs.ErrInvalidDecim, offset, decim)
	}
	if decim == 1 && offset == 0 {
		return nil
	}

	if c.preload {
		idx := make([]int, 0, (c.grid.NTimes()-offset+decim-1)/decim)
		for i := offset; i < c.grid.NTimes(); i += decim {
			idx = append(idx, i)
		}
		c.data = c.data.SelectTimes(idx)
		c.grid = c.grid.decimate(offset, decim)
		c.rawGrid = c.grid
		c.decimStart, c.decimStep = 0, 1

		return nil
	}

	c.decimStart += offset * c.decimStep
	c.decimStep *= decim
	c.grid = c.rawGrid.decimate(c.decimStart, c.decimStep)

	return nil
}

// SetOffset adds a constant per-channel shift to every epoch. On a lazy
// collection the shift is applied during materialization; shifts
// accumulate across calls.
func (c *Collection) SetOffset(offsets []float64) error {
	if len(offsets) != len(c.info.Channels) {
		return fmt.Errorf("%w: %d offsets for %d channels", errs.ErrChannelCount, len(offsets), len(c.info.Channels))
	}
	for _, v := range offsets {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: offset %v", errs.ErrInvalidThreshold, v)
		}
	}

	if c.preload {
		for e := 0; e < c.data.NEpochs(); e++ {
			rows := c.data.Epoch(e)
			for ch := range rows {
				for t := range rows[ch] {
					rows[ch][t] += offsets[ch]
				}
			}
		}

		return nil
	}

	if c.offset == nil {
		c.offset = make([]float64, len(offsets))
	}
	for ch, v := range offsets {
		c.offset[ch] += v
	}

	return nil
}
