// Package epocha stores and manipulates collections of time-locked data
// segments (epochs) extracted from continuous multichannel recordings.
//
// An epoch is a fixed-length window of samples around an event of
// interest. A collection carries the epochs together with their events,
// condition names, per-epoch metadata, a drop log explaining every
// removed epoch, and the transform parameters (detrend, baseline,
// decimation, projection, amplitude rejection) applied when the data is
// materialized.
//
// # Core Features
//
//   - Lazy or eager materialization from a continuous source, with
//     amplitude-based quality control committed on the first full pass
//   - A big-endian tagged-block container format with optional gzip
//     compression, xxhash64 data digests, and transparent splitting of
//     oversized collections across chained files
//   - Event bookkeeping: duplicate handling (error, drop, merge with
//     hierarchical "a/b" condition names), selection and drop-log
//     invariants preserved through every operation
//   - Collection algebra: concatenation, count equalization, bootstrap
//     resampling, condition combination, averaging
//
// # Basic Usage
//
// Building a collection around events in a continuous recording:
//
//	import "github.com/epochio/epocha"
//
//	col, _ := epocha.FromRaw(info, recording, events,
//	    epocha.WithTimeRange(-0.2, 0.5),
//	    epocha.WithEventIDs(epocha.IDMap{"auditory": 1, "visual": 2}),
//	    epocha.WithReject(epocha.Thresholds{"eeg": 100e-6}),
//	)
//	data, _ := col.GetData() // commits rejection drops
//
// Saving and loading:
//
//	_ = epocha.Save(col, "sub01-epo.eph", epocha.WithSplitSize(2<<30))
//	col2, _ := epocha.Read("sub01-epo.eph")
//
// # Package Structure
//
// This package re-exports the most common entry points. The epoch package
// holds the collection and its pipeline, event the event bookkeeping,
// reject the quality policy, and container the file format.
package epocha

import (
	"github.com/epochio/epocha/container"
	"github.com/epochio/epocha/epoch"
	"github.com/epochio/epocha/event"
	"github.com/epochio/epocha/reject"
)

// Re-exported core types.
type (
	// Collection is a set of epochs with shared channel layout and time axis.
	Collection = epoch.Collection
	// Info describes the channel layout and sampling rate.
	Info = epoch.Info
	// Channel describes one recorded channel.
	Channel = epoch.Channel
	// Array3 is a contiguous (n_epochs, n_channels, n_times) buffer.
	Array3 = epoch.Array3
	// Event is one (sample, prior, code) marker.
	Event = event.Event
	// IDMap names event codes.
	IDMap = event.IDMap
	// Thresholds maps channel types to peak-to-peak amplitude bounds.
	Thresholds = reject.Thresholds
)

// FromArray builds a preloaded collection around existing data.
func FromArray(info *Info, data *Array3, events []Event, opts ...epoch.Option) (*Collection, error) {
	return epoch.FromArray(info, data, events, opts...)
}

// FromRaw builds a collection over a continuous recording, materialized
// lazily unless WithPreload is given.
func FromRaw(info *Info, src epoch.ContinuousSource, events []Event, opts ...epoch.Option) (*Collection, error) {
	return epoch.FromRaw(info, src, events, opts...)
}

// Read loads a collection from an epoch container file, following chained
// parts.
func Read(path string, opts ...container.ReadOption) (*Collection, error) {
	return container.Read(path, opts...)
}

// Save writes a collection to an epoch container file, splitting it when
// a split size is set.
func Save(c *Collection, path string, opts ...container.WriteOption) error {
	return container.Save(c, path, opts...)
}

// Concatenate joins compatible collections into one.
func Concatenate(cols ...*Collection) (*Collection, error) {
	return epoch.Concatenate(cols...)
}

// EqualizeCounts drops epochs in place so every collection has the same
// number. Method is "mintime" (default) or "truncate".
func EqualizeCounts(cols []*Collection, method string) error {
	return epoch.EqualizeCounts(cols, method)
}

// Common construction options, re-exported for the basic use cases.
var (
	WithEventIDs    = epoch.WithEventIDs
	WithTimeRange   = epoch.WithTimeRange
	WithBaseline    = epoch.WithBaseline
	WithReject      = epoch.WithReject
	WithFlat        = epoch.WithFlat
	WithDecim       = epoch.WithDecim
	WithPreload     = epoch.WithPreload
	WithMetadata    = epoch.WithMetadata
	WithSplitSize   = container.WithSplitSize
	WithOverwrite   = container.WithOverwrite
	WithPrecision   = container.WithPrecision
	WithReadPreload = container.WithReadPreload
)
