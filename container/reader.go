package container

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/epochio/epocha/epoch"
	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/event"
	"github.com/epochio/epocha/internal/options"
	"github.com/epochio/epocha/section"
)

type readConfig struct {
	preload bool
}

// ReadOption configures Read.
type ReadOption = options.Option[*readConfig]

// WithReadPreload loads all epoch data into memory immediately instead of
// keeping file handles open for on-demand access.
func WithReadPreload() ReadOption {
	return options.NoError(func(cfg *readConfig) {
		cfg.preload = true
	})
}

// nextRef points at the following part of a split collection.
type nextRef struct {
	name string
	id   uuid.UUID
	num  int32
}

// partFile is one parsed container part.
type partFile struct {
	path     string
	f        *os.File // open only for lazy access to uncompressed parts
	meas     uuid.UUID
	sfreq    float64
	channels []epoch.Channel

	first, last      int
	baseMin, baseMax *float64
	rejects          rejectParams
	dropLog          [][]string
	hasDropLog       bool
	selection        []int
	hasSelection     bool
	events           []event.Event
	ids              event.IDMap
	metadata         *epoch.Metadata

	dataOff   int64
	dataEType int32
	dataSize  uint32
	data      []byte // payload buffered eagerly (preload or gzip)
	checksum  *uint64
	ref       *nextRef
	nEpochs   int
}

// Read opens an epoch container, follows its chain of parts, and
// reconstructs the collection. Plain files default to lazy data access;
// gzip-compressed files are always fully loaded.
func Read(path string, opts ...ReadOption) (*epoch.Collection, error) {
	cfg := &readConfig{}
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}
	if !knownSuffix(path) {
		slog.Warn("unconventional epoch file name", "path", path, "expected", section.EpochFileSuffixes)
	}

	var parts []*partFile
	closeParts := func() {
		for _, p := range parts {
			if p.f != nil {
				p.f.Close()
			}
		}
	}

	next := path
	var expect *nextRef
	for {
		if len(parts) >= section.MaxParts {
			closeParts()
			return nil, fmt.Errorf("%w: more than %d chained parts", errs.ErrTooManyParts, section.MaxParts)
		}
		part, err := openPart(next, cfg.preload)
		if err != nil {
			closeParts()
			return nil, err
		}
		if expect != nil {
			if part.meas != expect.id {
				part.close()
				closeParts()
				return nil, fmt.Errorf("%w: %s carries measurement id %s, chain expects %s",
					errs.ErrPartIdentity, next, part.meas, expect.id)
			}
		}
		parts = append(parts, part)
		if part.ref == nil {
			break
		}
		expect = part.ref
		next = filepath.Join(filepath.Dir(next), part.ref.name)
	}

	col, err := assemble(parts, path, cfg.preload)
	if err != nil {
		closeParts()
		return nil, err
	}

	return col, nil
}

func (p *partFile) close() {
	if p.f != nil {
		p.f.Close()
		p.f = nil
	}
}

// openPart opens and parses one file of the chain.
func openPart(path string, preload bool) (*partFile, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrEpochsNotFound, path)
		}
		return nil, err
	}

	var sniff [2]byte
	if _, err := io.ReadFull(f, sniff[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is too short", errs.ErrMalformedBlock, path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	gzipped := sniff[0] == 0x1f && sniff[1] == 0x8b
	var part *partFile
	if gzipped {
		// Compressed parts cannot be seeked into, so the payload always
		// comes into memory.
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		part, err = parsePart(gz, true)
		gz.Close()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		part, err = parsePart(f, preload)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if preload {
			f.Close()
		} else {
			part.f = f
		}
	}
	part.path = path

	if part.data != nil && part.checksum != nil {
		if sum := xxhash.Sum64(part.data); sum != *part.checksum {
			part.close()
			return nil, fmt.Errorf("%w: %s data digest %016x, recorded %016x",
				errs.ErrChecksumMismatch, path, sum, *part.checksum)
		}
	}

	return part, nil
}

// parsePart walks the tag stream. With eagerData false the bulk payload is
// skipped and its offset recorded for later seeks.
func parsePart(r io.Reader, eagerData bool) (*partFile, error) {
	tr := newTagReader(r)
	part := &partFile{first: math.MaxInt, last: math.MinInt}
	var stack []int32

	h, err := tr.next()
	if err != nil {
		return nil, fmt.Errorf("%w: missing file-start tag", errs.ErrMalformedBlock)
	}
	if h.Kind != section.TagFileStart {
		return nil, fmt.Errorf("%w: leading tag kind %d", errs.ErrMalformedBlock, h.Kind)
	}
	b, err := tr.payload(h)
	if err != nil {
		return nil, err
	}
	magic, err := decodeInt32(h, b)
	if err != nil {
		return nil, err
	}
	if magic != section.Magic {
		return nil, fmt.Errorf("%w: magic %08x", errs.ErrMalformedBlock, magic)
	}

	done := false
	for !done {
		h, err := tr.next()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: missing file-end tag", errs.ErrMalformedBlock)
		}
		if err != nil {
			return nil, err
		}

		if h.Kind == section.TagEpochData && !eagerData {
			part.dataOff = tr.payloadOffset()
			part.dataEType = h.EType
			part.dataSize = h.Size
			if err := tr.skip(h); err != nil {
				return nil, err
			}
			continue
		}

		b, err := tr.payload(h)
		if err != nil {
			return nil, err
		}

		switch h.Kind {
		case section.TagFileEnd:
			done = true

		case section.TagBlockStart:
			kind, err := decodeInt32(h, b)
			if err != nil {
				return nil, err
			}
			stack = append(stack, kind)
			if kind == section.BlockRef {
				part.ref = &nextRef{}
			}

		case section.TagBlockEnd:
			kind, err := decodeInt32(h, b)
			if err != nil {
				return nil, err
			}
			if len(stack) == 0 || stack[len(stack)-1] != kind {
				return nil, fmt.Errorf("%w: block end %d without matching start", errs.ErrMalformedBlock, kind)
			}
			stack = stack[:len(stack)-1]

		case section.TagMeasurementID:
			if part.meas, err = decodeID(h, b); err != nil {
				return nil, err
			}

		case section.TagSampleRate:
			if part.sfreq, err = decodeFloat64(h, b); err != nil {
				return nil, err
			}

		case section.TagChannelInfo:
			if err := json.Unmarshal(b, &part.channels); err != nil {
				return nil, fmt.Errorf("%w: channel info: %v", errs.ErrMalformedBlock, err)
			}

		case section.TagFirstSample:
			v, err := decodeInt32(h, b)
			if err != nil {
				return nil, err
			}
			part.first = int(v)

		case section.TagLastSample:
			v, err := decodeInt32(h, b)
			if err != nil {
				return nil, err
			}
			part.last = int(v)

		case section.TagBaselineMin:
			v, err := decodeFloat64(h, b)
			if err != nil {
				return nil, err
			}
			part.baseMin = &v

		case section.TagBaselineMax:
			v, err := decodeFloat64(h, b)
			if err != nil {
				return nil, err
			}
			part.baseMax = &v

		case section.TagRejectFlat:
			if err := json.Unmarshal(b, &part.rejects); err != nil {
				return nil, fmt.Errorf("%w: reject parameters: %v", errs.ErrMalformedBlock, err)
			}

		case section.TagDropLog:
			if err := json.Unmarshal(b, &part.dropLog); err != nil {
				return nil, fmt.Errorf("%w: drop log: %v", errs.ErrMalformedBlock, err)
			}
			part.hasDropLog = true

		case section.TagSelection:
			vals, err := decodeInt32Vector(h, b)
			if err != nil {
				return nil, err
			}
			part.selection = make([]int, len(vals))
			for i, v := range vals {
				part.selection[i] = int(v)
			}
			part.hasSelection = true

		case section.TagEpochData:
			part.dataEType = h.EType
			part.dataSize = h.Size
			part.data = b

		case section.TagChecksum:
			v, err := decodeUint64(h, b)
			if err != nil {
				return nil, err
			}
			part.checksum = &v

		case section.TagEventList:
			vals, err := decodeInt32Vector(h, b)
			if err != nil {
				return nil, err
			}
			if len(vals)%3 != 0 {
				return nil, fmt.Errorf("%w: event list length %d", errs.ErrMalformedBlock, len(vals))
			}
			part.events = make([]event.Event, len(vals)/3)
			for i := range part.events {
				part.events[i] = event.Event{
					Sample: int64(vals[3*i]),
					Prior:  vals[3*i+1],
					Code:   vals[3*i+2],
				}
			}

		case section.TagEventIDs:
			if part.ids, err = event.ParseDescription(string(b)); err != nil {
				return nil, err
			}

		case section.TagMetadata:
			md, err := epoch.UnmarshalMetadata(b)
			if err != nil {
				return nil, err
			}
			part.metadata = md

		case section.TagRefRole:
			v, err := decodeInt32(h, b)
			if err != nil {
				return nil, err
			}
			if v != section.RefRoleNextFile {
				return nil, fmt.Errorf("%w: unknown reference role %d", errs.ErrMalformedBlock, v)
			}

		case section.TagRefFileName:
			if part.ref == nil {
				return nil, fmt.Errorf("%w: reference tag outside reference block", errs.ErrMalformedBlock)
			}
			part.ref.name = string(b)

		case section.TagRefFileID:
			if part.ref == nil {
				return nil, fmt.Errorf("%w: reference tag outside reference block", errs.ErrMalformedBlock)
			}
			if part.ref.id, err = decodeID(h, b); err != nil {
				return nil, err
			}

		case section.TagRefFileNum:
			if part.ref == nil {
				return nil, fmt.Errorf("%w: reference tag outside reference block", errs.ErrMalformedBlock)
			}
			if part.ref.num, err = decodeInt32(h, b); err != nil {
				return nil, err
			}

		default:
			// Unknown tags are skipped for forward compatibility.
			slog.Debug("skipping unknown tag", "kind", h.Kind, "size", h.Size)
		}
	}

	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: %d unclosed blocks", errs.ErrMalformedBlock, len(stack))
	}
	if part.sfreq <= 0 || len(part.channels) == 0 || part.first > part.last {
		return nil, fmt.Errorf("%w: incomplete measurement header", errs.ErrMalformedBlock)
	}

	switch part.dataEType {
	case section.ElemFloat32, section.ElemFloat64:
	case section.ElemComplex64, section.ElemComplex128:
		return nil, fmt.Errorf("%w: complex epoch data", errs.ErrUnsupportedElement)
	default:
		return nil, fmt.Errorf("%w: element type %d", errs.ErrUnsupportedElement, part.dataEType)
	}

	nT := part.last - part.first + 1
	elem := section.ElemSize(part.dataEType)
	per := len(part.channels) * nT * elem
	if per == 0 || int(part.dataSize)%per != 0 {
		return nil, fmt.Errorf("%w: %d data bytes for %d channels x %d samples",
			errs.ErrSampleCountMismatch, part.dataSize, len(part.channels), nT)
	}
	part.nEpochs = int(part.dataSize) / per
	if part.nEpochs != len(part.events) {
		return nil, fmt.Errorf("%w: %d stored epochs, %d events",
			errs.ErrSampleCountMismatch, part.nEpochs, len(part.events))
	}

	return part, nil
}

// assemble merges the chained parts into one collection.
func assemble(parts []*partFile, path string, preload bool) (*epoch.Collection, error) {
	head := parts[0]
	for _, p := range parts[1:] {
		if p.sfreq != head.sfreq || p.first != head.first || p.last != head.last ||
			len(p.channels) != len(head.channels) {
			return nil, fmt.Errorf("%w: part %s disagrees with %s", errs.ErrPartIdentity, p.path, head.path)
		}
	}

	var (
		events    []event.Event
		selection []int
		metas     []*epoch.Metadata
		total     int
	)
	hasSelection := false
	for _, p := range parts {
		events = append(events, p.events...)
		selection = append(selection, p.selection...)
		metas = append(metas, p.metadata)
		total += p.nEpochs
		hasSelection = hasSelection || p.hasSelection
	}

	// Older or foreign writers may omit selection and drop log; fall back
	// to the trivial forms.
	var dropLog [][]string
	if !hasSelection {
		selection = make([]int, total)
		for i := range selection {
			selection[i] = i
		}
		dropLog = make([][]string, total)
	} else {
		var err error
		dropLog, err = mergeDropLogs(parts)
		if err != nil {
			return nil, err
		}
	}

	renumber := false
	for _, ev := range events {
		if ev.Sample < 0 {
			renumber = true
			break
		}
	}
	if renumber {
		slog.Warn("stored event samples are negative, renumbering sequentially")
		for i := range events {
			events[i].Sample = int64(i + 1)
		}
	}

	metadata, err := concatPartMetadata(metas)
	if err != nil {
		return nil, err
	}

	sfreq := head.sfreq
	info := &epoch.Info{SampleRate: sfreq, Channels: head.channels, MeasID: head.meas}

	opts := []epoch.Option{
		epoch.WithEventIDs(head.ids),
		epoch.WithTimeRange(float64(head.first)/sfreq, float64(head.last)/sfreq),
		epoch.WithSelection(selection),
		epoch.WithDropLog(dropLog),
		epoch.WithBadDropped(),
		epoch.WithOnMissing(epoch.MissingIgnore),
		epoch.WithFilename(path),
	}
	if head.baseMin != nil && head.baseMax != nil {
		opts = append(opts, epoch.WithResolvedBaseline(*head.baseMin, *head.baseMax))
	} else {
		opts = append(opts, epoch.WithNoBaseline())
	}
	if metadata != nil {
		opts = append(opts, epoch.WithMetadata(metadata))
	}
	if len(head.rejects.Reject) > 0 {
		opts = append(opts, epoch.WithReject(head.rejects.Reject))
	}
	if len(head.rejects.Flat) > 0 {
		opts = append(opts, epoch.WithFlat(head.rejects.Flat))
	}
	if head.rejects.Tmin != nil || head.rejects.Tmax != nil {
		tmin, tmax := math.NaN(), math.NaN()
		if head.rejects.Tmin != nil {
			tmin = *head.rejects.Tmin
		}
		if head.rejects.Tmax != nil {
			tmax = *head.rejects.Tmax
		}
		opts = append(opts, epoch.WithRejectWindow(tmin, tmax))
	}

	cals := info.Calibrations()
	buffered := preload
	for _, p := range parts {
		if p.data != nil {
			buffered = true
		}
	}

	if buffered {
		arr, err := decodeAllParts(parts, len(head.channels), head.last-head.first+1, cals)
		if err != nil {
			return nil, err
		}
		col, err := epoch.FromArray(info, arr, events, opts...)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			p.close()
		}

		return col, nil
	}

	src := newFileSource(parts, len(head.channels), head.last-head.first+1, cals)

	return epoch.FromSource(info, src, events, opts...)
}

// mergeDropLogs aligns the per-part logs positionally. Every part records
// the epochs held by its siblings as ignored, so the merged entry is the
// first one that is not the bare ignored marker.
func mergeDropLogs(parts []*partFile) ([][]string, error) {
	n := 0
	for _, p := range parts {
		if !p.hasDropLog {
			continue
		}
		if n == 0 {
			n = len(p.dropLog)
		} else if len(p.dropLog) != n {
			return nil, fmt.Errorf("%w: drop logs of %d and %d entries across parts",
				errs.ErrMalformedBlock, n, len(p.dropLog))
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: selection present without drop log", errs.ErrMalformedBlock)
	}

	merged := make([][]string, n)
	for i := range merged {
		var pick []string
		for _, p := range parts {
			if !p.hasDropLog {
				continue
			}
			entry := p.dropLog[i]
			if pick == nil {
				pick = entry
			}
			if !(len(entry) == 1 && entry[0] == epoch.ReasonIgnored) {
				pick = entry
				break
			}
		}
		merged[i] = pick
	}

	return merged, nil
}

func concatPartMetadata(metas []*epoch.Metadata) (*epoch.Metadata, error) {
	any := false
	for _, m := range metas {
		if m != nil {
			any = true
			break
		}
	}
	if !any {
		return nil, nil
	}
	var cols []string
	var rows [][]string
	for _, m := range metas {
		if m == nil {
			return nil, fmt.Errorf("%w: metadata present in some parts only", errs.ErrIncompatible)
		}
		if cols == nil {
			cols = m.Columns
		} else if !equalStrings(cols, m.Columns) {
			return nil, fmt.Errorf("%w: metadata columns differ across parts", errs.ErrIncompatible)
		}
		rows = append(rows, m.Rows...)
	}

	return epoch.NewMetadata(cols, rows)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// decodeAllParts turns the buffered payloads into one calibrated array.
func decodeAllParts(parts []*partFile, nCh, nT int, cals []float64) (*epoch.Array3, error) {
	total := 0
	for _, p := range parts {
		total += p.nEpochs
	}
	flat := make([]float64, total*nCh*nT)
	at := 0
	for _, p := range parts {
		payload := p.data
		if payload == nil {
			// Lazy part in a preloading read: pull it through the handle.
			payload = make([]byte, p.dataSize)
			if _, err := p.f.ReadAt(payload, p.dataOff); err != nil {
				return nil, err
			}
			if p.checksum != nil {
				if sum := xxhash.Sum64(payload); sum != *p.checksum {
					return nil, fmt.Errorf("%w: %s data digest %016x, recorded %016x",
						errs.ErrChecksumMismatch, p.path, sum, *p.checksum)
				}
			}
		}
		elem := section.ElemSize(p.dataEType)
		rd := bytes.NewReader(payload)
		buf := make([]byte, nT*elem)
		for e := 0; e < p.nEpochs; e++ {
			for ch := 0; ch < nCh; ch++ {
				if _, err := io.ReadFull(rd, buf); err != nil {
					return nil, fmt.Errorf("%w: truncated epoch data", errs.ErrSampleCountMismatch)
				}
				off := (at*nCh + ch) * nT
				decodeRow(buf, p.dataEType, cals[ch], flat[off:off+nT])
			}
			at++
		}
	}

	return epoch.NewArray3FromSlice(total, nCh, nT, flat)
}

// decodeRow converts one channel's wire samples into calibrated float64s.
func decodeRow(b []byte, etype int32, cal float64, out []float64) {
	if cal == 0 {
		cal = 1
	}
	switch etype {
	case section.ElemFloat32:
		for i := range out {
			out[i] = float64(math.Float32frombits(wireEngine.Uint32(b[i*4:]))) * cal
		}
	default:
		for i := range out {
			out[i] = math.Float64frombits(wireEngine.Uint64(b[i*8:])) * cal
		}
	}
}

// fileSource serves epochs straight from the open part files.
type fileSource struct {
	parts []*partFile
	nCh   int
	nT    int
	cals  []float64
}

func newFileSource(parts []*partFile, nCh, nT int, cals []float64) *fileSource {
	return &fileSource{parts: parts, nCh: nCh, nT: nT, cals: cals}
}

func (s *fileSource) Fetch(idx int) (epoch.RawSegment, error) {
	if idx < 0 {
		return epoch.RawSegment{}, fmt.Errorf("%w: %d", errs.ErrInvalidIndex, idx)
	}
	rel := idx
	var part *partFile
	for _, p := range s.parts {
		if rel < p.nEpochs {
			part = p
			break
		}
		rel -= p.nEpochs
	}
	if part == nil {
		return epoch.RawSegment{}, fmt.Errorf("%w: %d", errs.ErrInvalidIndex, idx)
	}

	elem := section.ElemSize(part.dataEType)
	per := s.nCh * s.nT * elem
	buf := make([]byte, per)
	if _, err := part.f.ReadAt(buf, part.dataOff+int64(rel)*int64(per)); err != nil {
		return epoch.RawSegment{}, fmt.Errorf("reading %s: %w", part.path, err)
	}

	rows := make([][]float64, s.nCh)
	for ch := range rows {
		rows[ch] = make([]float64, s.nT)
		decodeRow(buf[ch*s.nT*elem:], part.dataEType, s.cals[ch], rows[ch])
	}

	return epoch.RawSegment{Data: rows}, nil
}

func (s *fileSource) Close() error {
	var firstErr error
	for _, p := range s.parts {
		if p.f != nil {
			if err := p.f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			p.f = nil
		}
	}

	return firstErr
}
