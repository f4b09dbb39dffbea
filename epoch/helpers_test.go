package epoch

import (
	"math"

	"github.com/epochio/epocha/event"
)

// testInfo builds a layout of nEEG eeg channels followed by one stim
// channel, all with unit calibration.
func testInfo(nEEG int, sfreq float64) *Info {
	channels := make([]Channel, 0, nEEG+1)
	for i := 0; i < nEEG; i++ {
		channels = append(channels, Channel{
			Name: chName(i), Type: "eeg", Cal: 1, Scale: 1,
		})
	}
	channels = append(channels, Channel{Name: "STI 014", Type: "stim", Cal: 1, Scale: 1})

	return &Info{SampleRate: sfreq, Channels: channels}
}

func chName(i int) string {
	return "EEG " + string(rune('A'+i))
}

// constArray fills an (nEpochs, nChannels, nTimes) array so that every
// sample of epoch e, channel c is base + 10*e + c.
func constArray(nEpochs, nChannels, nTimes int, base float64) *Array3 {
	a := NewArray3(nEpochs, nChannels, nTimes)
	for e := 0; e < nEpochs; e++ {
		for c := 0; c < nChannels; c++ {
			for t := 0; t < nTimes; t++ {
				a.Set(e, c, t, base+10*float64(e)+float64(c))
			}
		}
	}

	return a
}

func evenEvents(n int, step int64, code int32) []event.Event {
	out := make([]event.Event, n)
	for i := range out {
		out[i] = event.Event{Sample: int64(i+1) * step, Code: code}
	}

	return out
}

// sineRaw is a fake continuous recording: channel ch carries
// amp[ch]*sin(2*pi*freq*t) plus a per-channel DC level.
type sineRaw struct {
	nCh     int
	n       int64
	sfreq   float64
	amp     []float64
	dc      []float64
	badSpan [2]int64 // half-open sample range reported as unusable
}

func (s *sineRaw) Segment(start, stop int64) ([][]float64, string, error) {
	if start < 0 || stop > s.n {
		return nil, "TOO_SHORT", nil
	}
	if s.badSpan[1] > s.badSpan[0] && start < s.badSpan[1] && stop > s.badSpan[0] {
		return nil, "BAD_ACQ_SKIP", nil
	}
	out := make([][]float64, s.nCh)
	for ch := range out {
		row := make([]float64, stop-start)
		for i := range row {
			tt := float64(start+int64(i)) / s.sfreq
			row[i] = s.amp[ch]*math.Sin(2*math.Pi*5*tt) + s.dc[ch]
		}
		out[ch] = row
	}

	return out, "", nil
}
