package event

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/epochio/epocha/errs"
)

// DedupPolicy selects how events sharing a sample are resolved.
type DedupPolicy string

const (
	// DedupError fails on any repeated sample.
	DedupError DedupPolicy = "error"
	// DedupDrop keeps the first occurrence per repeated sample.
	DedupDrop DedupPolicy = "drop"
	// DedupMerge collapses each repeated sample into one synthetic event
	// whose name joins the constituent condition names.
	DedupMerge DedupPolicy = "merge"
)

const (
	reasonDropDuplicate  = "DROP DUPLICATE"
	reasonMergeDuplicate = "MERGE DUPLICATE"
)

// Dedup resolves events that share a sample value according to policy.
//
// sel[i] is the index of events[i] in the original unfiltered stream, and
// dropLog has one entry per original event; reasons for removed duplicates
// are appended there in place. Dedup returns the surviving events, the
// updated id map (merge may add a synthetic entry and prunes entries whose
// code no longer appears), and the surviving selection.
func Dedup(events []Event, ids IDMap, sel []int, policy DedupPolicy, dropLog [][]string) ([]Event, IDMap, []int, error) {
	if len(events) != len(sel) {
		return nil, nil, nil, fmt.Errorf("%w: %d events, %d selection entries", errs.ErrSelectionShape, len(events), len(sel))
	}

	if !hasRepeated(events) {
		return events, ids, sel, nil
	}

	switch policy {
	case DedupError:
		return nil, nil, nil, fmt.Errorf("%w: consider a drop or merge policy", errs.ErrDuplicateEvents)
	case DedupDrop:
		slog.Info("multiple event values for single event times found, keeping first occurrence")
		events, sel = dropRepeated(events, sel, dropLog)
	case DedupMerge:
		slog.Info("multiple event values for single event times found, merging simultaneous events")
		events, ids, sel = mergeRepeated(events, ids, sel, dropLog)
	default:
		return nil, nil, nil, fmt.Errorf("%w: unknown duplicate-event policy %q", errs.ErrInvalidEvents, policy)
	}

	return events, pruneIDs(ids, events), sel, nil
}

func hasRepeated(events []Event) bool {
	seen := make(map[int64]struct{}, len(events))
	for _, ev := range events {
		if _, ok := seen[ev.Sample]; ok {
			return true
		}
		seen[ev.Sample] = struct{}{}
	}

	return false
}

func dropRepeated(events []Event, sel []int, dropLog [][]string) ([]Event, []int) {
	seen := make(map[int64]struct{}, len(events))
	outEvents := events[:0:0]
	outSel := sel[:0:0]
	for i, ev := range events {
		if _, ok := seen[ev.Sample]; ok {
			dropLog[sel[i]] = append(dropLog[sel[i]], reasonDropDuplicate)
			continue
		}
		seen[ev.Sample] = struct{}{}
		outEvents = append(outEvents, ev)
		outSel = append(outSel, sel[i])
	}

	return outEvents, outSel
}

func mergeRepeated(events []Event, ids IDMap, sel []int, dropLog [][]string) ([]Event, IDMap, []int) {
	ids = ids.Clone()
	merged := make([]Event, len(events))
	copy(merged, events)

	remove := make([]bool, len(events))
	for _, group := range repeatedGroups(events) {
		first := group[0]

		priors := distinctInt32(events, group, func(ev Event) int32 { return ev.Prior })
		newPrior := int32(0)
		if len(priors) == 1 {
			newPrior = priors[0]
		}

		codes := distinctInt32(events, group, func(ev Event) int32 { return ev.Code })
		var newCode int32
		if len(codes) == 1 {
			// Same condition fired twice at one sample: merging reduces to
			// dropping, no synthetic id is created.
			newCode = codes[0]
		} else {
			newCode, ids = mergedCode(codes, ids, merged)
		}

		merged[first].Prior = newPrior
		merged[first].Code = newCode
		for _, idx := range group[1:] {
			remove[idx] = true
			dropLog[sel[idx]] = append(dropLog[sel[idx]], reasonMergeDuplicate)
		}
	}

	outEvents := make([]Event, 0, len(events))
	outSel := make([]int, 0, len(sel))
	for i := range merged {
		if remove[i] {
			continue
		}
		outEvents = append(outEvents, merged[i])
		outSel = append(outSel, sel[i])
	}

	return outEvents, ids, outSel
}

// repeatedGroups returns, for each sample value occurring more than once,
// the indices at which it occurs, groups ordered by first occurrence.
func repeatedGroups(events []Event) [][]int {
	bySample := make(map[int64][]int, len(events))
	var order []int64
	for i, ev := range events {
		if len(bySample[ev.Sample]) == 0 {
			order = append(order, ev.Sample)
		}
		bySample[ev.Sample] = append(bySample[ev.Sample], i)
	}

	var groups [][]int
	for _, samp := range order {
		if g := bySample[samp]; len(g) > 1 {
			groups = append(groups, g)
		}
	}

	return groups
}

func distinctInt32(events []Event, idxs []int, get func(Event) int32) []int32 {
	seen := make(map[int32]struct{}, len(idxs))
	var out []int32
	for _, i := range idxs {
		v := get(events[i])
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })

	return out
}

// mergedCode resolves the code for a synthetic merged event covering the
// given constituent codes. An existing entry whose component set matches
// exactly is reused; otherwise the smallest unused value is allocated,
// preferring values above 0, else the value directly above the largest
// pre-existing contiguous block.
func mergedCode(codes []int32, ids IDMap, events []Event) (int32, IDMap) {
	comps := make([]string, 0, len(codes))
	for _, code := range codes {
		if name, ok := ids.nameForCode(code); ok {
			comps = append(comps, name)
		} else {
			comps = append(comps, fmt.Sprintf("%d", code))
		}
	}

	compSet := make(map[string]struct{}, len(comps))
	for _, c := range comps {
		compSet[c] = struct{}{}
	}
	for _, key := range ids.SortedNames() {
		if sameSet(strings.Split(key, "/"), compSet) {
			return ids[key], ids
		}
	}

	newCode := allocateCode(ids, events)
	sort.Strings(comps)
	ids[strings.Join(comps, "/")] = newCode

	return newCode, ids
}

// AllocateCode picks an unused code value given everything already in
// use: id map values plus every prior and code column value. Preference
// order is 1, then the first gap in the sorted used values, then one past
// the largest.
func AllocateCode(ids IDMap, events []Event) int32 {
	return allocateCode(ids, events)
}

// allocateCode picks an unused code value given everything already in use:
// id map values plus every prior and code column value.
func allocateCode(ids IDMap, events []Event) int32 {
	used := make(map[int32]struct{})
	for _, v := range ids {
		used[v] = struct{}{}
	}
	for _, ev := range events {
		used[ev.Prior] = struct{}{}
		used[ev.Code] = struct{}{}
	}

	vals := make([]int32, 0, len(used))
	for v := range used {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(a, b int) bool { return vals[a] < vals[b] })

	if len(vals) == 0 || vals[0] > 1 {
		return 1
	}

	// First gap in the sorted values, else one past the end.
	for i := 0; i < len(vals)-1; i++ {
		if vals[i+1]-vals[i] > 1 {
			return vals[i] + 1
		}
	}

	return vals[len(vals)-1] + 1
}

func sameSet(parts []string, set map[string]struct{}) bool {
	if len(parts) != len(set) {
		return false
	}
	for _, p := range parts {
		if _, ok := set[p]; !ok {
			return false
		}
	}

	return true
}

// pruneIDs drops id entries whose code no longer appears in any event's
// prior or code column.
func pruneIDs(ids IDMap, events []Event) IDMap {
	keep := make(map[int32]struct{}, len(events)*2)
	for _, ev := range events {
		keep[ev.Prior] = struct{}{}
		keep[ev.Code] = struct{}{}
	}

	out := make(IDMap, len(ids))
	for k, v := range ids {
		if _, ok := keep[v]; ok {
			out[k] = v
		}
	}

	return out
}
