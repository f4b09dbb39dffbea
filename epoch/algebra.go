package epoch

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/event"
	"github.com/epochio/epocha/internal/linfit"
	"github.com/epochio/epocha/section"
)

// Concatenate joins several compatible collections into one preloaded
// collection. Channel layout, sampling rate, time axis and baseline must
// match; inputs are materialized (committing any pending drops) first.
//
// Event samples are shifted so the combined sequence stays chronological,
// with a guard gap of (10 + tmax) seconds between inputs. If the shifted
// samples overflow the storable range, all events are renumbered 1..N.
func Concatenate(cols ...*Collection) (*Collection, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: no collections given", errs.ErrIncompatible)
	}

	first := cols[0]
	for _, c := range cols {
		// DropBad materializes lazy inputs and sweeps preloaded ones, so
		// every pending rejection is committed before epochs are merged.
		if err := c.DropBad(nil, nil); err != nil {
			return nil, err
		}
		if err := c.LoadData(); err != nil {
			return nil, err
		}
	}
	for _, c := range cols[1:] {
		if err := checkCompatible(first, c); err != nil {
			return nil, err
		}
	}

	ids := first.eventIDs.Clone()
	for _, c := range cols[1:] {
		for _, name := range c.eventIDs.SortedNames() {
			code := c.eventIDs[name]
			if have, ok := ids[name]; ok {
				if have != code {
					return nil, fmt.Errorf("%w: event id %q is %d in one input and %d in another",
						errs.ErrIncompatible, name, have, code)
				}
				continue
			}
			ids[name] = code
		}
	}

	var (
		events    []event.Event
		selection []int
		dropLog   [][]string
		metas     []*Metadata
		total     int
	)
	offset := int64(0)
	overflow := false
	guard := int64((10 + first.TMax()) * first.SFreq())
	for _, c := range cols {
		for i, ev := range c.events {
			ev.Sample += offset
			if ev.Sample > section.MaxEventSample {
				overflow = true
			}
			events = append(events, ev)
			selection = append(selection, c.selection[i]+len(dropLog))
		}
		if n := len(c.events); n > 0 {
			offset = events[len(events)-1].Sample + guard
		} else {
			offset += guard
		}
		dropLog = append(dropLog, c.dropLog...)
		metas = append(metas, c.metadata)
		total += c.data.NEpochs()
	}

	if overflow {
		slog.Warn("concatenated event samples overflow, renumbering sequentially")
		for i := range events {
			events[i].Sample = int64(i + 1)
		}
	}

	metadata, err := concatMetadata(metas)
	if err != nil {
		return nil, err
	}

	nCh := len(first.info.Channels)
	nT := first.grid.NTimes()
	data := NewArray3(total, nCh, nT)
	at := 0
	for _, c := range cols {
		for e := 0; e < c.data.NEpochs(); e++ {
			data.SetEpoch(at, c.data.Epoch(e))
			at++
		}
	}

	out := first.Copy()
	out.events = events
	out.eventIDs = ids
	out.selection = selection
	out.dropLog = dropLog
	out.metadata = metadata
	out.data = data
	out.preload = true
	out.badDropped = true
	out.source = nil
	out.filename = ""

	if err := out.CheckConsistency(); err != nil {
		return nil, err
	}
	slog.Info("concatenated collections", "inputs", len(cols), "epochs", total)

	return out, nil
}

func checkCompatible(a, b *Collection) error {
	if a.SFreq() != b.SFreq() {
		return fmt.Errorf("%w: sampling rates %g and %g", errs.ErrIncompatible, a.SFreq(), b.SFreq())
	}
	if a.grid.NTimes() != b.grid.NTimes() ||
		!closeTimes(a.TMin(), b.TMin(), a.SFreq()) ||
		!closeTimes(a.TMax(), b.TMax(), a.SFreq()) {
		return fmt.Errorf("%w: time axes differ", errs.ErrIncompatible)
	}
	an, bn := a.info.ChannelNames(), b.info.ChannelNames()
	if len(an) != len(bn) {
		return fmt.Errorf("%w: %d channels and %d channels", errs.ErrIncompatible, len(an), len(bn))
	}
	for i := range an {
		if an[i] != bn[i] || a.info.Channels[i].Type != b.info.Channels[i].Type {
			return fmt.Errorf("%w: channel %d differs (%q vs %q)", errs.ErrIncompatible, i, an[i], bn[i])
		}
	}
	ab, bb := a.baseline, b.baseline
	switch {
	case ab == nil && bb == nil:
	case ab != nil && bb != nil && ab.Min == bb.Min && ab.Max == bb.Max:
	default:
		return fmt.Errorf("%w: baseline intervals differ", errs.ErrIncompatible)
	}

	return nil
}

// EqualizeCounts drops epochs, in place, so that every collection ends up
// with the same number. Method "truncate" keeps each collection's first
// epochs; "mintime" greedily removes the epochs that minimize the pairwise
// spacing difference to the smallest collection's event times. Bad epochs
// are committed first.
func EqualizeCounts(cols []*Collection, method string) error {
	if method == "" {
		method = "mintime"
	}
	if method != "mintime" && method != "truncate" {
		return fmt.Errorf("%w: equalize method %q", errs.ErrInvalidEvents, method)
	}
	for _, c := range cols {
		if err := c.DropBad(nil, nil); err != nil {
			return err
		}
	}

	minCount, minIdx := math.MaxInt, -1
	for i, c := range cols {
		if n := c.NEpochs(); n < minCount {
			minCount, minIdx = n, i
		}
	}

	for i, c := range cols {
		if c.NEpochs() == minCount {
			continue
		}
		var drop []int
		switch method {
		case "truncate":
			for j := minCount; j < c.NEpochs(); j++ {
				drop = append(drop, j)
			}
		case "mintime":
			keep := minimizeTimeDiff(eventTimes(cols[minIdx]), eventTimes(c))
			for j, k := range keep {
				if !k {
					drop = append(drop, j)
				}
			}
		}
		if err := c.Drop(drop, ReasonEqualized); err != nil {
			return err
		}
		slog.Info("equalized epoch count", "collection", i, "dropped", len(drop))
	}

	return nil
}

func eventTimes(c *Collection) []float64 {
	out := make([]float64, len(c.events))
	for i, ev := range c.events {
		out[i] = float64(ev.Sample)
	}

	return out
}

// minimizeTimeDiff returns a keep mask over tLong, greedily removing one
// entry at a time. Each removal candidate is scored by interpolating the
// two series onto each other's index grids (clamped at the edges) and
// summing the absolute differences both ways; the candidate with the
// smallest score goes.
func minimizeTimeDiff(tShort, tLong []float64) []bool {
	keep := make([]bool, len(tLong))
	for i := range keep {
		keep[i] = true
	}
	if len(tShort) == 0 {
		for i := range keep {
			keep[i] = false
		}

		return keep
	}

	for iter := 0; iter < len(tLong)-len(tShort); iter++ {
		bestIdx := -1
		bestScore := math.Inf(1)
		for cand := range tLong {
			if !keep[cand] {
				continue
			}
			tk := make([]float64, 0, len(tLong)-iter-1)
			for j, t := range tLong {
				if keep[j] && j != cand {
					tk = append(tk, t)
				}
			}
			score := 0.0
			for i := range tShort {
				score += math.Abs(linfit.Interp(tk, float64(i)) - tShort[i])
			}
			for k := range tk {
				score += math.Abs(linfit.Interp(tShort, float64(k)) - tk[k])
			}
			if score < bestScore {
				bestScore = score
				bestIdx = cand
			}
		}
		keep[bestIdx] = false
	}

	return keep
}

// Bootstrap returns a new collection of the same size drawn uniformly
// with replacement from the epochs. Requires preloaded data.
func (c *Collection) Bootstrap(rng *rand.Rand) (*Collection, error) {
	if !c.preload {
		return nil, fmt.Errorf("%w: resampling needs in-memory data", errs.ErrNotPreloaded)
	}
	if err := c.DropBad(nil, nil); err != nil {
		return nil, err
	}

	idx := make([]int, c.NEpochs())
	for i := range idx {
		idx[i] = rng.Intn(c.NEpochs())
	}

	return c.Subset(idx)
}

// CombineEventIDs rewrites the codes of the named conditions into one new
// code under newName. A zero newCode allocates an unused value.
func (c *Collection) CombineEventIDs(names []string, newName string, newCode int32) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no conditions to combine", errs.ErrInvalidEvents)
	}
	oldCodes := make(map[int32]struct{}, len(names))
	for _, name := range names {
		code, ok := c.eventIDs[name]
		if !ok {
			return fmt.Errorf("%w: %q", errs.ErrMissingEvent, name)
		}
		oldCodes[code] = struct{}{}
	}
	combining := make(map[string]struct{}, len(names))
	for _, name := range names {
		combining[name] = struct{}{}
	}
	if have, ok := c.eventIDs[newName]; ok {
		if _, old := combining[newName]; !old {
			return fmt.Errorf("%w: name %q already maps to code %d", errs.ErrDuplicateEvents, newName, have)
		}
	}
	if newCode == 0 {
		newCode = event.AllocateCode(c.eventIDs, c.events)
	} else {
		for _, name := range c.eventIDs.SortedNames() {
			if _, old := combining[name]; old {
				continue
			}
			if c.eventIDs[name] == newCode {
				return fmt.Errorf("%w: code %d already maps to %q", errs.ErrDuplicateEvents, newCode, name)
			}
		}
	}

	for i := range c.events {
		if _, ok := oldCodes[c.events[i].Code]; ok {
			c.events[i].Code = newCode
		}
	}
	for _, name := range names {
		delete(c.eventIDs, name)
	}
	c.eventIDs[newName] = newCode

	return nil
}

// FlatRow is one (epoch, channel, time) observation in long form.
type FlatRow struct {
	Epoch     int
	Condition string
	Channel   string
	Time      float64
	Value     float64
}

// Flatten exports the data in long form, one row per observation, with
// the condition label resolved per epoch. Restricted to picks when given.
func (c *Collection) Flatten(picks ...int) ([]FlatRow, error) {
	if len(picks) == 0 {
		picks = pickAll(len(c.info.Channels))
	} else if err := c.info.checkPicks(picks); err != nil {
		return nil, err
	}

	buf, err := c.GetData()
	if err != nil {
		return nil, err
	}

	labels := c.ConditionLabels()
	names := c.info.ChannelNames()
	times := c.Times()
	out := make([]FlatRow, 0, buf.NEpochs()*len(picks)*len(times))
	for e := 0; e < buf.NEpochs(); e++ {
		rows := buf.Epoch(e)
		for _, ch := range picks {
			for t, v := range rows[ch] {
				out = append(out, FlatRow{
					Epoch:     e,
					Condition: labels[e],
					Channel:   names[ch],
					Time:      times[t],
					Value:     v,
				})
			}
		}
	}

	return out, nil
}
