// Package reject implements the quality-control policy that decides
// whether one epoch's samples are usable.
//
// A Policy carries per-channel-type bounds on peak-to-peak amplitude:
// reject thresholds are upper bounds, flat thresholds lower bounds.
// Evaluation may be restricted to a sample window inside the epoch.
// Once thresholds have been applied to a collection they may only be
// tightened; loosening silently un-rejects epochs that are already gone,
// so it is refused.
package reject

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/epochio/epocha/errs"
)

// Reason strings recorded in the drop log for epochs that never reached
// amplitude evaluation.
const (
	ReasonNoData   = "NO_DATA"
	ReasonTooShort = "TOO_SHORT"
)

// Thresholds maps a channel type (e.g. "eeg", "grad") to a peak-to-peak
// amplitude bound in the channel's unit.
type Thresholds map[string]float64

// Clone returns an independent copy.
func (t Thresholds) Clone() Thresholds {
	if t == nil {
		return nil
	}
	out := make(Thresholds, len(t))
	for k, v := range t {
		out[k] = v
	}

	return out
}

func (t Thresholds) sortedKeys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Policy evaluates epochs against amplitude bounds.
//
// The zero window (WindowStart=0, WindowStop=-1) means the whole epoch.
type Policy struct {
	Reject Thresholds
	Flat   Thresholds

	// WindowStart and WindowStop bound the evaluated samples, inclusive.
	// WindowStop < 0 means the end of the epoch.
	WindowStart int
	WindowStop  int
}

// NewPolicy creates a policy with no thresholds applied yet.
func NewPolicy() *Policy {
	return &Policy{WindowStop: -1}
}

// SetWindow restricts evaluation to samples [start, stop] inclusive.
func (p *Policy) SetWindow(start, stop int) error {
	if start < 0 || (stop >= 0 && stop < start) {
		return fmt.Errorf("%w: reject window [%d, %d]", errs.ErrInvalidTimeWindow, start, stop)
	}
	p.WindowStart = start
	p.WindowStop = stop

	return nil
}

// Apply validates the new thresholds against the channel types present and
// against any previously-applied thresholds, then installs them.
//
// Validation enforces three things: every key must name a channel type that
// exists in typeIdx with at least one channel, values must be non-negative
// finite numbers, and the new thresholds must be at least as strict as the
// current ones (reject values only decrease, flat values only increase).
func (p *Policy) Apply(reject, flat Thresholds, typeIdx map[string][]int) error {
	for _, pair := range []struct {
		kind string
		th   Thresholds
	}{{"reject", reject}, {"flat", flat}} {
		for _, key := range pair.th.sortedKeys() {
			idx, ok := typeIdx[key]
			if !ok || len(idx) == 0 {
				return fmt.Errorf("%w: no %s channel found, cannot apply %s threshold", errs.ErrUnknownChannelType, key, pair.kind)
			}
			val := pair.th[key]
			if math.IsNaN(val) || math.IsInf(val, 0) || val < 0 {
				return fmt.Errorf("%w: %s[%q] = %v, must be a number >= 0", errs.ErrInvalidThreshold, pair.kind, key, val)
			}
		}
	}

	if err := p.checkStrictness(reject, flat); err != nil {
		return err
	}

	p.Reject = reject.Clone()
	p.Flat = flat.Clone()

	return nil
}

// checkStrictness refuses threshold updates that are looser than what was
// previously applied for the same key. A key absent from the new set counts
// as infinitely loose if it was bounded before.
func (p *Policy) checkStrictness(reject, flat Thresholds) error {
	for _, key := range unionKeys(p.Reject, reject) {
		old := math.Inf(1)
		if v, ok := p.Reject[key]; ok {
			old = v
		}
		newVal := math.Inf(1)
		if v, ok := reject[key]; ok {
			newVal = v
		}
		if newVal > old {
			return fmt.Errorf("%w: reject[%q] == %g > %g", errs.ErrThresholdLoosened, key, newVal, old)
		}
	}
	for _, key := range unionKeys(p.Flat, flat) {
		old := math.Inf(-1)
		if v, ok := p.Flat[key]; ok {
			old = v
		}
		newVal := math.Inf(-1)
		if v, ok := flat[key]; ok {
			newVal = v
		}
		if newVal < old {
			return fmt.Errorf("%w: flat[%q] == %g < %g", errs.ErrThresholdLoosened, key, newVal, old)
		}
	}

	return nil
}

// Active reports whether any threshold is installed.
func (p *Policy) Active() bool {
	return len(p.Reject) > 0 || len(p.Flat) > 0
}

// Evaluate decides whether one epoch's samples are acceptable.
//
// seg holds one channel per row. names and typeIdx describe the channel
// layout; channels in ignore (externally marked bad) are never checked.
// nTimes is the expected per-channel sample count; shorter segments (end
// of recording) are unconditionally bad.
//
// The returned reasons carry one batch of offending channel names per
// (bound-kind, channel-type) violated.
func (p *Policy) Evaluate(seg [][]float64, names []string, typeIdx map[string][]int, ignore map[string]struct{}, nTimes int) (bool, []string) {
	if seg == nil {
		return false, []string{ReasonNoData}
	}
	if len(seg) == 0 || len(seg[0]) < nTimes {
		return false, []string{ReasonTooShort}
	}
	if !p.Active() {
		return true, nil
	}

	start := p.WindowStart
	stop := nTimes
	if p.WindowStop >= 0 && p.WindowStop+1 < stop {
		stop = p.WindowStop + 1
	}

	var bad []string
	for _, bounds := range []struct {
		th   Thresholds
		flat bool
	}{{p.Reject, false}, {p.Flat, true}} {
		for _, key := range bounds.th.sortedKeys() {
			thresh := bounds.th[key]
			var offenders []string
			for _, ci := range typeIdx[key] {
				name := names[ci]
				if _, skip := ignore[name]; skip {
					continue
				}
				delta := peakToPeak(seg[ci][start:stop])
				if (!bounds.flat && delta > thresh) || (bounds.flat && delta < thresh) {
					offenders = append(offenders, name)
				}
			}
			if len(offenders) > 0 {
				kind := "amplitude"
				if bounds.flat {
					kind = "flat"
				}
				slog.Debug("rejecting epoch", "kind", kind, "type", key, "channels", offenders)
				bad = append(bad, offenders...)
			}
		}
	}

	if len(bad) > 0 {
		return false, bad
	}

	return true, nil
}

func peakToPeak(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	minVal, maxVal := samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}

	return maxVal - minVal
}

func unionKeys(a, b Thresholds) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
