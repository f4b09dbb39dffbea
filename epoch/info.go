package epoch

import (
	"fmt"

	"github.com/epochio/epocha/errs"
	"github.com/google/uuid"
)

// Channel describes one channel of the recording.
type Channel struct {
	Name string `json:"name"`
	// Type groups channels for rejection thresholds ("eeg", "grad", ...).
	Type string `json:"type"`
	// Cal is the calibration factor applied when decoding stored samples.
	Cal float64 `json:"cal"`
	// Scale is an extra scaling factor, 1.0 when unused.
	Scale float64 `json:"scale"`
	// Bad marks the channel as unusable; bad channels are ignored by the
	// rejection policy.
	Bad bool `json:"bad,omitempty"`
}

// auxTypes are channel types carried along for bookkeeping but not treated
// as data-bearing by the detrend step.
var auxTypes = map[string]struct{}{
	"stim": {}, "misc": {}, "eog": {}, "ecg": {}, "emg": {}, "resp": {},
}

// Info is the minimal measurement description a collection carries: the
// sampling rate, the channel layout and an id shared by all container parts
// the collection is written to. The full acquisition metadata schema lives
// outside this module.
type Info struct {
	SampleRate float64
	Channels   []Channel
	// MeasID identifies the measurement; uuid.Nil means unset and a fresh
	// id is minted at save time.
	MeasID uuid.UUID
}

// Validate checks the channel layout.
func (in *Info) Validate() error {
	if in.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %g", errs.ErrDataShape, in.SampleRate)
	}
	seen := make(map[string]struct{}, len(in.Channels))
	for _, ch := range in.Channels {
		if ch.Name == "" {
			return fmt.Errorf("%w: empty channel name", errs.ErrDataShape)
		}
		if _, dup := seen[ch.Name]; dup {
			return fmt.Errorf("%w: duplicate channel name %q", errs.ErrDataShape, ch.Name)
		}
		seen[ch.Name] = struct{}{}
	}

	return nil
}

// Clone returns an independent copy.
func (in *Info) Clone() *Info {
	chans := make([]Channel, len(in.Channels))
	copy(chans, in.Channels)

	return &Info{SampleRate: in.SampleRate, Channels: chans, MeasID: in.MeasID}
}

// ChannelNames returns the channel names in layout order.
func (in *Info) ChannelNames() []string {
	names := make([]string, len(in.Channels))
	for i, ch := range in.Channels {
		names[i] = ch.Name
	}

	return names
}

// TypeIndex maps each channel type to the indices of its channels.
func (in *Info) TypeIndex() map[string][]int {
	idx := make(map[string][]int)
	for i, ch := range in.Channels {
		idx[ch.Type] = append(idx[ch.Type], i)
	}

	return idx
}

// BadSet returns the names of channels marked bad.
func (in *Info) BadSet() map[string]struct{} {
	bads := make(map[string]struct{})
	for _, ch := range in.Channels {
		if ch.Bad {
			bads[ch.Name] = struct{}{}
		}
	}

	return bads
}

// DataPicks returns the indices of data-bearing channels, the ones the
// detrend step operates on.
func (in *Info) DataPicks() []int {
	var picks []int
	for i, ch := range in.Channels {
		if _, aux := auxTypes[ch.Type]; !aux {
			picks = append(picks, i)
		}
	}

	return picks
}

// Calibrations returns cal*scale per channel, defaulting scale to 1.
func (in *Info) Calibrations() []float64 {
	cals := make([]float64, len(in.Channels))
	for i, ch := range in.Channels {
		scale := ch.Scale
		if scale == 0 {
			scale = 1.0
		}
		cal := ch.Cal
		if cal == 0 {
			cal = 1.0
		}
		cals[i] = cal * scale
	}

	return cals
}

// pickAll returns 0..n-1.
func pickAll(n int) []int {
	picks := make([]int, n)
	for i := range picks {
		picks[i] = i
	}

	return picks
}

// checkPicks validates channel picks against the layout.
func (in *Info) checkPicks(picks []int) error {
	for _, p := range picks {
		if p < 0 || p >= len(in.Channels) {
			return fmt.Errorf("%w: %d of %d channels", errs.ErrInvalidPick, p, len(in.Channels))
		}
	}

	return nil
}
