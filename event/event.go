// Package event defines the event records that time-lock epochs to points
// in a continuous recording, the name-to-code id mapping, and the
// deduplication logic for events that share a sample.
package event

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/section"
)

// Event marks a point of interest in the continuous source.
type Event struct {
	// Sample is the absolute sample number of the event onset.
	Sample int64
	// Prior is the code value immediately before the event.
	Prior int32
	// Code identifies the event condition.
	Code int32
}

// IDMap maps condition names to event codes. Keys may be hierarchical,
// with components joined by slashes ("auditory/left").
type IDMap map[string]int32

// Clone returns an independent copy of the map.
func (m IDMap) Clone() IDMap {
	out := make(IDMap, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// SortedNames returns the condition names in lexical order. Map iteration
// order is not deterministic, so every place that needs a reproducible
// traversal goes through this.
func (m IDMap) SortedNames() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	return names
}

// CodesFor returns the codes of every entry matching name. A hierarchical
// key matches if any of its slash-separated components equals name, or if
// the full key equals name.
func (m IDMap) CodesFor(name string) []int32 {
	var codes []int32
	for _, key := range m.SortedNames() {
		if key == name {
			codes = append(codes, m[key])
			continue
		}
		for _, comp := range strings.Split(key, "/") {
			if comp == name {
				codes = append(codes, m[key])
				break
			}
		}
	}

	return codes
}

// nameForCode returns the first name (in sorted order) mapped to code.
func (m IDMap) nameForCode(code int32) (string, bool) {
	for _, key := range m.SortedNames() {
		if m[key] == code {
			return key, true
		}
	}

	return "", false
}

// Description renders the map in the "name:code;name:code" form stored in
// the container's event description tag.
func (m IDMap) Description() string {
	parts := make([]string, 0, len(m))
	for _, name := range m.SortedNames() {
		parts = append(parts, name+":"+strconv.FormatInt(int64(m[name]), 10))
	}

	return strings.Join(parts, ";")
}

// ParseDescription parses the form produced by Description.
func ParseDescription(s string) (IDMap, error) {
	out := make(IDMap)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ";") {
		idx := strings.LastIndex(part, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("%w: bad event description entry %q", errs.ErrMalformedBlock, part)
		}
		code, err := strconv.ParseInt(part[idx+1:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: bad event code in %q", errs.ErrMalformedBlock, part)
		}
		out[part[:idx]] = int32(code)
	}

	return out, nil
}

// Validate checks the event array: samples must fit the container's int32
// event encoding, and non-chronological ordering is reported as a warning,
// not an error.
func Validate(events []Event) error {
	for _, ev := range events {
		if ev.Sample > section.MaxEventSample || ev.Sample < 0 {
			return fmt.Errorf("%w: sample %d outside the encodable range", errs.ErrInvalidEvents, ev.Sample)
		}
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sample < events[i-1].Sample {
			slog.Warn("events are not chronologically ordered")
			break
		}
	}

	return nil
}

// Samples returns the sample column of events.
func Samples(events []Event) []int64 {
	out := make([]int64, len(events))
	for i, ev := range events {
		out[i] = ev.Sample
	}

	return out
}
