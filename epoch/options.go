package epoch

import (
	"fmt"
	"math"

	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/event"
	"github.com/epochio/epocha/internal/options"
	"github.com/epochio/epocha/reject"
)

// Option configures collection construction.
type Option = options.Option[*config]

func applyOptions(cfg *config, opts ...Option) error {
	return options.Apply(cfg, opts...)
}

// WithEventIDs restricts the collection to events whose code appears in
// ids and names the conditions. Without it every distinct code is kept
// under its decimal name.
func WithEventIDs(ids event.IDMap) Option {
	return options.NoError(func(cfg *config) {
		cfg.ids = ids
	})
}

// WithTimeRange sets the epoch window in seconds relative to each event.
func WithTimeRange(tmin, tmax float64) Option {
	return options.New(func(cfg *config) error {
		if tmin > tmax {
			return fmt.Errorf("%w: tmin %g > tmax %g", errs.ErrInvalidTimeWindow, tmin, tmax)
		}
		cfg.tmin, cfg.tmax = tmin, tmax

		return nil
	})
}

// WithBaseline sets the correction interval in seconds. Pass math.NaN()
// for either end to pin it to the corresponding epoch edge. The default is
// (NaN, 0): epoch start up to time zero.
func WithBaseline(bmin, bmax float64) Option {
	return options.NoError(func(cfg *config) {
		cfg.baselineMin, cfg.baselineMax = bmin, bmax
		cfg.baselineOff = false
	})
}

// WithNoBaseline disables baseline correction.
func WithNoBaseline() Option {
	return options.NoError(func(cfg *config) {
		cfg.baselineOff = true
	})
}

// WithReject sets peak-to-peak upper bounds per channel type. The epoch is
// dropped when any non-bad channel of that type exceeds its bound.
func WithReject(thresholds reject.Thresholds) Option {
	return options.NoError(func(cfg *config) {
		cfg.reject = thresholds
	})
}

// WithFlat sets peak-to-peak lower bounds per channel type.
func WithFlat(thresholds reject.Thresholds) Option {
	return options.NoError(func(cfg *config) {
		cfg.flat = thresholds
	})
}

// WithRejectWindow narrows rejection evaluation to [tmin, tmax] seconds
// within each epoch. Either bound may be NaN to keep the epoch edge.
func WithRejectWindow(tmin, tmax float64) Option {
	return options.NoError(func(cfg *config) {
		if !math.IsNaN(tmin) {
			v := tmin
			cfg.rejectTmin = &v
		}
		if !math.IsNaN(tmax) {
			v := tmax
			cfg.rejectTmax = &v
		}
	})
}

// WithDetrend enables per-epoch detrending of data channels.
func WithDetrend(mode Detrend) Option {
	return options.New(func(cfg *config) error {
		if mode < DetrendOff || mode > DetrendLinear {
			return errs.ErrInvalidDetrend
		}
		cfg.detrend = mode

		return nil
	})
}

// WithDecim keeps every decim-th sample starting at offset. Only valid for
// lazy construction; preloaded arrays are decimated with Decimate.
func WithDecim(decim, offset int) Option {
	return options.New(func(cfg *config) error {
		if decim < 1 {
			return fmt.Errorf("%w: %d", errs.ErrInvalidDecim, decim)
		}
		if offset < 0 || offset >= decim {
			return fmt.Errorf("%w: offset %d for factor %d", errs.ErrInvalidDecim, offset, decim)
		}
		cfg.decim = decim
		cfg.decimOffset = offset

		return nil
	})
}

// WithProjector installs an n_channels x n_channels projection matrix
// applied during materialization.
func WithProjector(proj [][]float64) Option {
	return options.NoError(func(cfg *config) {
		cfg.projector = proj
	})
}

// WithDelayedProjection keeps the projector pending: rejection is
// evaluated on un-projected values and the projector is applied on read.
func WithDelayedProjection() Option {
	return options.NoError(func(cfg *config) {
		cfg.delayedProj = true
	})
}

// WithOnMissing selects the reaction to id entries with no matching event.
func WithOnMissing(policy MissingPolicy) Option {
	return options.NoError(func(cfg *config) {
		cfg.onMissing = policy
	})
}

// WithDedupPolicy selects how same-sample duplicate events are handled.
func WithDedupPolicy(policy event.DedupPolicy) Option {
	return options.NoError(func(cfg *config) {
		cfg.dedup = policy
	})
}

// WithMetadata attaches one row of tabular metadata per retained event.
func WithMetadata(md *Metadata) Option {
	return options.NoError(func(cfg *config) {
		cfg.metadata = md
	})
}

// WithPreload materializes all epochs eagerly at construction.
func WithPreload() Option {
	return options.NoError(func(cfg *config) {
		cfg.preload = true
	})
}

// WithSelection supplies the original-stream indices of the retained
// events. Used when reconstructing a collection from storage.
func WithSelection(selection []int) Option {
	return options.NoError(func(cfg *config) {
		cfg.selection = selection
	})
}

// WithDropLog supplies the stored drop log. Used when reconstructing a
// collection from storage.
func WithDropLog(dropLog [][]string) Option {
	return options.NoError(func(cfg *config) {
		cfg.dropLog = dropLog
	})
}

// WithBadDropped marks the collection as already swept for bad epochs.
func WithBadDropped() Option {
	return options.NoError(func(cfg *config) {
		cfg.badDropped = true
	})
}

// WithResolvedBaseline records an already applied correction interval
// without re-applying it. Used when reconstructing from storage.
func WithResolvedBaseline(bmin, bmax float64) Option {
	return options.NoError(func(cfg *config) {
		cfg.resolvedBase = &Baseline{Min: bmin, Max: bmax}
		cfg.baselineOff = true
	})
}

// WithFilename records the backing file path.
func WithFilename(name string) Option {
	return options.NoError(func(cfg *config) {
		cfg.filename = name
	})
}
