// Package epoch implements collections of fixed-length, time-locked data
// segments extracted from a continuous multichannel recording, together
// with their provenance (events), quality-control state and per-epoch
// transform parameters.
//
// A Collection is constructed from a preloaded array, from a continuous
// source, or by the container reader. Data access runs through one
// materialization pipeline that applies detrend, baseline correction,
// decimation, pending offsets and the linear projector, evaluates the
// rejection policy, and permanently prunes bad epochs on the first full
// pass.
package epoch

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/event"
	"github.com/epochio/epocha/reject"
)

// Detrend selects the per-epoch detrending mode.
type Detrend int

const (
	// DetrendOff applies no detrending.
	DetrendOff Detrend = iota
	// DetrendConstant removes the mean of each data channel.
	DetrendConstant
	// DetrendLinear removes the least-squares line from each data channel.
	DetrendLinear
)

// MissingPolicy selects how ids without matching events are handled.
type MissingPolicy string

const (
	MissingRaise  MissingPolicy = "raise"
	MissingWarn   MissingPolicy = "warn"
	MissingIgnore MissingPolicy = "ignore"
)

// Drop-log reason strings recorded by this package. Rejection reasons are
// channel names; these cover the bookkeeping cases.
const (
	ReasonIgnored   = "IGNORED"
	ReasonUser      = "USER"
	ReasonEqualized = "EQUALIZED_COUNT"
)

// Baseline is a resolved correction interval in seconds.
type Baseline struct {
	Min float64
	Max float64
}

// Collection is the aggregate: events, selection, drop log, metadata,
// optional in-memory data and the transform parameters applied by the
// materialization pipeline.
//
// Mutating methods are in-place and not safe for concurrent use on the
// same instance. Concurrent reads of a preloaded, bad-dropped collection
// are safe.
type Collection struct {
	info *Info

	events   []event.Event
	eventIDs event.IDMap
	// selection maps each retained event to its index in the original
	// unfiltered event stream; strictly increasing.
	selection []int
	// dropLog has one entry per original event; empty means kept. The
	// slice is treated as immutable and replaced wholesale on change, so
	// copies may share it.
	dropLog [][]string

	metadata *Metadata

	grid    *TimeGrid // current axis (after decimation/crop)
	rawGrid *TimeGrid // undecimated axis, used by the lazy pipeline

	decimStart int
	decimStep  int

	baseline   *Baseline
	doBaseline bool
	detrend    Detrend

	policy      *reject.Policy
	rejectTmin  *float64
	rejectTmax  *float64
	projector   [][]float64
	delayedProj bool
	applyProj   bool
	offset      []float64

	source DataSource
	data   *Array3

	preload    bool
	badDropped bool
	filename   string
}

type config struct {
	ids          event.IDMap
	tmin, tmax   float64
	baselineMin  float64 // NaN means epoch start
	baselineMax  float64 // NaN means time zero reference... resolved at build
	baselineOff  bool
	resolvedBase *Baseline
	reject       reject.Thresholds
	flat         reject.Thresholds
	rejectTmin   *float64
	rejectTmax   *float64
	detrend      Detrend
	decim        int
	decimOffset  int
	projector    [][]float64
	delayedProj  bool
	applyProj    bool
	onMissing    MissingPolicy
	dedup        event.DedupPolicy
	metadata     *Metadata
	preload      bool
	selection    []int
	dropLog      [][]string
	badDropped   bool
	filename     string
}

func defaultConfig() *config {
	return &config{
		tmin:        -0.2,
		tmax:        0.5,
		baselineMin: math.NaN(),
		baselineMax: 0,
		decim:       1,
		applyProj:   true,
		onMissing:   MissingRaise,
		dedup:       event.DedupError,
	}
}

// FromArray constructs a preloaded collection around an existing
// (n_epochs, n_channels, n_times) array. The array is owned by the
// collection afterwards.
func FromArray(info *Info, data *Array3, events []event.Event, opts ...Option) (*Collection, error) {
	cfg := defaultConfig()
	cfg.tmin, cfg.tmax = 0, arrayTmax(info, data)
	cfg.baselineOff = true
	if err := applyOptions(cfg, opts...); err != nil {
		return nil, err
	}

	return newCollection(info, events, data, nil, cfg)
}

func arrayTmax(info *Info, data *Array3) float64 {
	if info.SampleRate <= 0 || data == nil {
		return 0
	}

	return float64(data.NTimes()-1) / info.SampleRate
}

// FromRaw constructs a lazy collection over a continuous source. Data is
// materialized on demand, or eagerly when WithPreload is given.
func FromRaw(info *Info, src ContinuousSource, events []event.Event, opts ...Option) (*Collection, error) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, opts...); err != nil {
		return nil, err
	}

	return newCollection(info, events, nil, src, cfg)
}

// FromSource constructs a collection over an arbitrary DataSource. This is
// the entry point the container reader uses; the source indices must align
// with the retained events after selection.
func FromSource(info *Info, src DataSource, events []event.Event, opts ...Option) (*Collection, error) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, opts...); err != nil {
		return nil, err
	}

	c, err := newCollection(info, events, nil, nil, cfg)
	if err != nil {
		return nil, err
	}
	c.source = src

	return c, nil
}

func newCollection(info *Info, events []event.Event, data *Array3, raw ContinuousSource, cfg *config) (*Collection, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	if err := event.Validate(events); err != nil {
		return nil, err
	}

	ids := cfg.ids
	if ids == nil {
		ids = defaultIDs(events)
	} else {
		ids = ids.Clone()
	}
	if err := checkMissing(ids, events, cfg.onMissing); err != nil {
		return nil, err
	}

	// Retain the events whose code matches a requested id.
	wanted := make(map[int32]struct{}, len(ids))
	for _, v := range ids {
		wanted[v] = struct{}{}
	}
	var selectedIdx []int
	for i, ev := range events {
		if _, ok := wanted[ev.Code]; ok {
			selectedIdx = append(selectedIdx, i)
		}
	}

	selection := selectedIdx
	if cfg.selection != nil {
		if len(cfg.selection) != len(selectedIdx) {
			return nil, fmt.Errorf("%w: selection has %d entries, %d events retained",
				errs.ErrSelectionShape, len(cfg.selection), len(selectedIdx))
		}
		selection = append([]int(nil), cfg.selection...)
	}

	dropLog := cfg.dropLog
	if dropLog == nil {
		n := len(events)
		for _, s := range selection {
			if s+1 > n {
				n = s + 1
			}
		}
		inSel := make(map[int]struct{}, len(selection))
		for _, s := range selection {
			inSel[s] = struct{}{}
		}
		dropLog = make([][]string, n)
		for i := range dropLog {
			if _, ok := inSel[i]; !ok {
				dropLog[i] = []string{ReasonIgnored}
			}
		}
	}

	retained := make([]event.Event, len(selectedIdx))
	for i, idx := range selectedIdx {
		retained[i] = events[idx]
	}

	if cfg.metadata != nil && cfg.metadata.NRows() != len(retained) {
		return nil, fmt.Errorf("%w: %d rows for %d events", errs.ErrMetadataRows,
			cfg.metadata.NRows(), len(retained))
	}

	preDedupSel := append([]int(nil), selection...)
	retained, ids, selection, err := event.Dedup(retained, ids, selection, cfg.dedup, dropLog)
	if err != nil {
		return nil, err
	}

	metadata := cfg.metadata
	if metadata != nil && len(selection) != len(preDedupSel) {
		survived := make(map[int]struct{}, len(selection))
		for _, s := range selection {
			survived[s] = struct{}{}
		}
		var keepRows []int
		for i, s := range preDedupSel {
			if _, ok := survived[s]; ok {
				keepRows = append(keepRows, i)
			}
		}
		metadata = metadata.Subset(keepRows)
	}

	if len(retained) == 0 {
		return nil, errs.ErrNoMatchingEvents
	}
	slog.Info("matching events found", "count", len(retained))

	if cfg.detrend < DetrendOff || cfg.detrend > DetrendLinear {
		return nil, errs.ErrInvalidDetrend
	}

	grid, err := NewTimeGrid(cfg.tmin, cfg.tmax, info.SampleRate)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		info:        info.Clone(),
		events:      retained,
		eventIDs:    ids,
		selection:   selection,
		dropLog:     dropLog,
		metadata:    metadata,
		grid:        grid,
		rawGrid:     grid,
		decimStart:  0,
		decimStep:   1,
		detrend:     cfg.detrend,
		policy:      reject.NewPolicy(),
		projector:   cfg.projector,
		delayedProj: cfg.delayedProj,
		applyProj:   cfg.applyProj,
		filename:    cfg.filename,
	}

	if data != nil {
		if cfg.decim != 1 {
			return nil, fmt.Errorf("%w: decimation requires lazy construction", errs.ErrInvalidDecim)
		}
		if data.NChannels() != len(info.Channels) {
			return nil, fmt.Errorf("%w: %d data channels, %d in layout",
				errs.ErrChannelCount, data.NChannels(), len(info.Channels))
		}
		if data.NTimes() != grid.NTimes() {
			return nil, fmt.Errorf("%w: %d time samples, grid has %d",
				errs.ErrDataShape, data.NTimes(), grid.NTimes())
		}
		if data.NEpochs() != len(retained) {
			return nil, fmt.Errorf("%w: %d epochs, %d events",
				errs.ErrEventCount, data.NEpochs(), len(retained))
		}
		c.data = data
		c.preload = true
	}

	if raw != nil {
		c.source = NewRawSource(raw, event.Samples(retained), grid.FirstSample(), grid.NTimes())
	}

	if err := c.setRejectWindow(cfg.rejectTmin, cfg.rejectTmax); err != nil {
		return nil, err
	}
	if err := c.policy.Apply(cfg.reject, cfg.flat, c.info.TypeIndex()); err != nil {
		return nil, err
	}

	if cfg.decim != 1 {
		if err := c.Decimate(cfg.decim, cfg.decimOffset); err != nil {
			return nil, err
		}
	}

	if cfg.resolvedBase != nil {
		c.baseline = cfg.resolvedBase
	} else if !cfg.baselineOff {
		base, err := c.resolveBaseline(cfg.baselineMin, cfg.baselineMax)
		if err != nil {
			return nil, err
		}
		c.baseline = base
		c.doBaseline = !c.preload && base != nil
	}

	if len(cfg.projector) > 0 {
		if err := c.checkProjector(cfg.projector); err != nil {
			return nil, err
		}
	}

	c.badDropped = cfg.badDropped

	if c.preload && c.applyProj && !c.delayedProj && c.projector != nil {
		for e := 0; e < c.data.NEpochs(); e++ {
			projectInPlace(c.projector, c.data.Epoch(e))
		}
	}

	if err := c.CheckConsistency(); err != nil {
		return nil, err
	}

	if cfg.preload && !c.preload {
		if err := c.LoadData(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func defaultIDs(events []event.Event) event.IDMap {
	ids := make(event.IDMap)
	for _, ev := range events {
		name := fmt.Sprintf("%d", ev.Code)
		ids[name] = ev.Code
	}

	return ids
}

func checkMissing(ids event.IDMap, events []event.Event, policy MissingPolicy) error {
	present := make(map[int32]struct{}, len(events))
	for _, ev := range events {
		present[ev.Code] = struct{}{}
	}
	for _, name := range ids.SortedNames() {
		if _, ok := present[ids[name]]; ok {
			continue
		}
		switch policy {
		case MissingRaise:
			return fmt.Errorf("%w: %q (event id %d)", errs.ErrMissingEvent, name, ids[name])
		case MissingWarn:
			slog.Warn("no matching events found", "name", name, "code", ids[name])
		case MissingIgnore:
		default:
			return fmt.Errorf("%w: unknown missing-event policy %q", errs.ErrInvalidEvents, policy)
		}
	}

	return nil
}

func (c *Collection) setRejectWindow(tminP, tmaxP *float64) error {
	if tminP != nil {
		if *tminP < c.grid.TMin() && !closeTimes(*tminP, c.grid.TMin(), c.grid.SFreq()) {
			return fmt.Errorf("%w: reject tmin %g before epoch start %g", errs.ErrInvalidTimeWindow, *tminP, c.grid.TMin())
		}
	}
	if tmaxP != nil {
		if *tmaxP > c.grid.TMax() && !closeTimes(*tmaxP, c.grid.TMax(), c.grid.SFreq()) {
			return fmt.Errorf("%w: reject tmax %g after epoch end %g", errs.ErrInvalidTimeWindow, *tmaxP, c.grid.TMax())
		}
	}
	if tminP != nil && tmaxP != nil && *tminP >= *tmaxP {
		return fmt.Errorf("%w: reject tmin %g >= reject tmax %g", errs.ErrInvalidTimeWindow, *tminP, *tmaxP)
	}
	c.rejectTmin = tminP
	c.rejectTmax = tmaxP

	return nil
}

// resolveBaseline turns the requested interval (NaN ends meaning the epoch
// edges) into concrete times and validates it against the axis.
func (c *Collection) resolveBaseline(bmin, bmax float64) (*Baseline, error) {
	if math.IsNaN(bmin) {
		bmin = c.grid.TMin()
	}
	if math.IsNaN(bmax) {
		bmax = c.grid.TMax()
	}
	if bmin > bmax {
		return nil, fmt.Errorf("%w: [%g, %g]", errs.ErrInvalidBaseline, bmin, bmax)
	}
	if bmin < c.grid.TMin()-0.5/c.grid.SFreq() || bmax > c.grid.TMax()+0.5/c.grid.SFreq() {
		return nil, fmt.Errorf("%w: [%g, %g] outside epoch interval [%g, %g]",
			errs.ErrInvalidBaseline, bmin, bmax, c.grid.TMin(), c.grid.TMax())
	}
	slog.Info("baseline interval set", "min", bmin, "max", bmax)

	return &Baseline{Min: bmin, Max: bmax}, nil
}

func (c *Collection) checkProjector(proj [][]float64) error {
	n := len(c.info.Channels)
	if len(proj) != n {
		return fmt.Errorf("%w: projector has %d rows for %d channels", errs.ErrChannelCount, len(proj), n)
	}
	for _, row := range proj {
		if len(row) != n {
			return fmt.Errorf("%w: projector row has %d columns for %d channels", errs.ErrChannelCount, len(row), n)
		}
	}

	return nil
}

// CheckConsistency verifies the structural invariants: selection and
// events stay the same length, the drop log covers every original event,
// and its empty entries count the retained epochs.
func (c *Collection) CheckConsistency() error {
	if len(c.selection) != len(c.events) {
		return fmt.Errorf("%w: %d selection entries, %d events", errs.ErrSelectionShape, len(c.selection), len(c.events))
	}
	if len(c.dropLog) < len(c.events) {
		return fmt.Errorf("%w: drop log has %d entries for %d events", errs.ErrSelectionShape, len(c.dropLog), len(c.events))
	}
	empty := 0
	for _, entry := range c.dropLog {
		if len(entry) == 0 {
			empty++
		}
	}
	if empty != len(c.selection) {
		return fmt.Errorf("%w: %d empty drop-log entries, %d selected", errs.ErrSelectionShape, empty, len(c.selection))
	}
	for i := 1; i < len(c.selection); i++ {
		if c.selection[i] <= c.selection[i-1] {
			return fmt.Errorf("%w: selection not strictly increasing at %d", errs.ErrSelectionShape, i)
		}
	}
	if c.metadata != nil && c.metadata.NRows() != len(c.events) {
		return fmt.Errorf("%w: %d rows for %d events", errs.ErrMetadataRows, c.metadata.NRows(), len(c.events))
	}

	return nil
}

// Accessors. Slices returned here alias internal state and must be treated
// as read-only.

func (c *Collection) Info() *Info               { return c.info }
func (c *Collection) Events() []event.Event     { return c.events }
func (c *Collection) EventIDs() event.IDMap     { return c.eventIDs }
func (c *Collection) Selection() []int          { return c.selection }
func (c *Collection) DropLog() [][]string       { return c.dropLog }
func (c *Collection) Metadata() *Metadata       { return c.metadata }
func (c *Collection) Times() []float64          { return c.grid.Times() }
func (c *Collection) TMin() float64             { return c.grid.TMin() }
func (c *Collection) TMax() float64             { return c.grid.TMax() }
func (c *Collection) SFreq() float64            { return c.grid.SFreq() }
func (c *Collection) NEpochs() int              { return len(c.events) }
func (c *Collection) Baseline() *Baseline       { return c.baseline }
func (c *Collection) DetrendMode() Detrend      { return c.detrend }
func (c *Collection) Preloaded() bool           { return c.preload }
func (c *Collection) BadDropped() bool          { return c.badDropped }
func (c *Collection) Filename() string          { return c.filename }
func (c *Collection) Projector() [][]float64    { return c.projector }
func (c *Collection) Grid() *TimeGrid           { return c.grid }
func (c *Collection) RejectWindow() (tmin, tmax *float64) {
	return c.rejectTmin, c.rejectTmax
}

// RejectParams returns the currently applied thresholds.
func (c *Collection) RejectParams() (rej, flat reject.Thresholds) {
	return c.policy.Reject.Clone(), c.policy.Flat.Clone()
}

// ConditionLabels returns one condition name per epoch, resolved through
// the id map.
func (c *Collection) ConditionLabels() []string {
	byCode := make(map[int32]string, len(c.eventIDs))
	for _, name := range c.eventIDs.SortedNames() {
		code := c.eventIDs[name]
		if _, ok := byCode[code]; !ok {
			byCode[code] = name
		}
	}
	labels := make([]string, len(c.events))
	for i, ev := range c.events {
		if name, ok := byCode[ev.Code]; ok {
			labels[i] = name
		} else {
			labels[i] = fmt.Sprintf("%d", ev.Code)
		}
	}

	return labels
}

// Copy returns an independent collection. The data buffer is duplicated;
// times and the drop log are structurally shared, both being immutable and
// replaced wholesale on change.
func (c *Collection) Copy() *Collection {
	out := *c
	out.info = c.info.Clone()
	out.events = append([]event.Event(nil), c.events...)
	out.eventIDs = c.eventIDs.Clone()
	out.selection = append([]int(nil), c.selection...)
	out.metadata = c.metadata.Clone()
	if c.data != nil {
		out.data = c.data.Clone()
	}
	if c.offset != nil {
		out.offset = append([]float64(nil), c.offset...)
	}
	pol := *c.policy
	pol.Reject = c.policy.Reject.Clone()
	pol.Flat = c.policy.Flat.Clone()
	out.policy = &pol

	return &out
}

// Drop permanently removes the epochs at the given indices (relative to
// the current set of retained epochs), recording reason in the drop log.
func (c *Collection) Drop(indices []int, reason string) error {
	if reason == "" {
		reason = ReasonUser
	}
	drop := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 {
			idx += len(c.events)
		}
		if idx < 0 || idx >= len(c.events) {
			return fmt.Errorf("%w: %d of %d epochs", errs.ErrInvalidIndex, idx, len(c.events))
		}
		drop[idx] = struct{}{}
	}

	keep := make([]int, 0, len(c.events)-len(drop))
	for i := range c.events {
		if _, gone := drop[i]; !gone {
			keep = append(keep, i)
		}
	}
	c.selectEpochs(keep, reason, true)
	slog.Info("dropped epochs", "count", len(drop))

	return c.CheckConsistency()
}

// selectEpochs keeps the given epoch indices (in increasing order). When
// reason is non-empty the removed epochs get it appended in a fresh drop
// log; selectData controls whether the data buffer and lazy source are
// narrowed too.
func (c *Collection) selectEpochs(keep []int, reason string, selectData bool) {
	sort.Ints(keep)

	if reason != "" {
		kept := make(map[int]struct{}, len(keep))
		for _, k := range keep {
			kept[k] = struct{}{}
		}
		newLog := make([][]string, len(c.dropLog))
		copy(newLog, c.dropLog)
		for i := range c.events {
			if _, ok := kept[i]; !ok {
				sel := c.selection[i]
				newLog[sel] = append(append([]string(nil), newLog[sel]...), reason)
			}
		}
		c.dropLog = newLog
	}

	events := make([]event.Event, len(keep))
	selection := make([]int, len(keep))
	for i, k := range keep {
		events[i] = c.events[k]
		selection[i] = c.selection[k]
	}
	c.events = events
	c.selection = selection
	c.metadata = c.metadata.Subset(keep)

	if selectData {
		if c.data != nil {
			c.data = c.data.Select(keep)
		}
		if c.source != nil && !c.preload {
			c.source = newReorderSource(c.source, keep)
		}
	}
}

// Subset returns a new collection restricted to the given epoch indices.
// The data is duplicated; requires bad epochs to have been dropped so the
// indices are stable.
func (c *Collection) Subset(indices []int) (*Collection, error) {
	if !c.badDropped {
		return nil, errs.ErrBadsNotDropped
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(c.events) {
			return nil, fmt.Errorf("%w: %d of %d epochs", errs.ErrInvalidIndex, idx, len(c.events))
		}
	}

	out := c.Copy()
	// Subsets may repeat or reorder indices (bootstrap), which the
	// in-place selection cannot express; rebuild directly.
	events := make([]event.Event, len(indices))
	selection := make([]int, len(indices))
	for i, idx := range indices {
		events[i] = c.events[idx]
		selection[i] = c.selection[idx]
	}
	increasing := sort.SliceIsSorted(selection, func(a, b int) bool { return selection[a] < selection[b] })
	unique := true
	seen := make(map[int]struct{}, len(selection))
	for _, s := range selection {
		if _, dup := seen[s]; dup {
			unique = false
			break
		}
		seen[s] = struct{}{}
	}

	out.events = events
	out.selection = selection
	out.metadata = c.metadata.Subset(indices)
	if c.data != nil {
		out.data = c.data.Select(indices)
	} else if c.source != nil {
		out.source = newReorderSource(c.source, indices)
	}

	if !increasing || !unique {
		// Resampled selections no longer map one-to-one onto the original
		// stream; reset provenance to the trivial form.
		out.resetDropLogLocked()
	} else {
		inSel := make(map[int]struct{}, len(selection))
		for _, s := range selection {
			inSel[s] = struct{}{}
		}
		newLog := make([][]string, len(c.dropLog))
		for i, entry := range c.dropLog {
			if _, ok := inSel[i]; ok {
				newLog[i] = entry
				continue
			}
			if len(entry) == 0 {
				newLog[i] = []string{ReasonUser}
			} else {
				newLog[i] = entry
			}
		}
		out.dropLog = newLog
	}

	if err := out.CheckConsistency(); err != nil {
		return nil, err
	}

	return out, nil
}

// SubsetByName returns the epochs whose condition matches name, using
// hierarchical matching on slash-separated id keys.
func (c *Collection) SubsetByName(name string) (*Collection, error) {
	codes := c.eventIDs.CodesFor(name)
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: %q", errs.ErrMissingEvent, name)
	}
	match := make(map[int32]struct{}, len(codes))
	for _, code := range codes {
		match[code] = struct{}{}
	}
	var idx []int
	for i, ev := range c.events {
		if _, ok := match[ev.Code]; ok {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: %q", errs.ErrNoMatchingEvents, name)
	}

	return c.Subset(idx)
}

// ResetDropLog collapses the drop log and selection to their trivial form
// (no recorded reasons, selection 0..n-1). Useful before saving when a
// long history of concatenations has accumulated.
func (c *Collection) ResetDropLog() {
	c.resetDropLogLocked()
}

func (c *Collection) resetDropLogLocked() {
	sel := make([]int, len(c.events))
	for i := range sel {
		sel[i] = i
	}
	c.selection = sel
	c.dropLog = make([][]string, len(c.events))
}

// DropLogStats returns the fraction of originals dropped, ignoring the
// given reasons (by default callers pass ReasonIgnored).
func (c *Collection) DropLogStats(ignore ...string) float64 {
	skip := make(map[string]struct{}, len(ignore))
	for _, r := range ignore {
		skip[r] = struct{}{}
	}
	scored, dropped := 0, 0
	for _, entry := range c.dropLog {
		if len(entry) == 0 {
			scored++
			continue
		}
		ignored := false
		for _, r := range entry {
			if _, ok := skip[r]; ok {
				ignored = true
				break
			}
		}
		if !ignored {
			scored++
			dropped++
		}
	}
	if scored == 0 {
		return 0
	}

	return float64(dropped) / float64(scored) * 100
}

// Close releases the data source (open container file handles for lazy
// collections).
func (c *Collection) Close() error {
	if c.source == nil {
		return nil
	}
	err := c.source.Close()
	c.source = nil

	return err
}
