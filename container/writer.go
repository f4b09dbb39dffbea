package container

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/epochio/epocha/epoch"
	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/internal/options"
	"github.com/epochio/epocha/section"
)

type writeConfig struct {
	splitSize uint64
	overwrite bool
	etype     int32
}

// WriteOption configures Save.
type WriteOption = options.Option[*writeConfig]

// WithSplitSize splits the output into chained parts of at most the given
// byte size each. Zero (the default) writes a single file.
func WithSplitSize(bytes uint64) WriteOption {
	return options.NoError(func(cfg *writeConfig) {
		cfg.splitSize = bytes
	})
}

// WithOverwrite allows replacing existing files.
func WithOverwrite() WriteOption {
	return options.NoError(func(cfg *writeConfig) {
		cfg.overwrite = true
	})
}

// WithPrecision selects the stored sample width: "single" (float32) or
// "double" (float64, the default).
func WithPrecision(p string) WriteOption {
	return options.New(func(cfg *writeConfig) error {
		switch p {
		case "single":
			cfg.etype = section.ElemFloat32
		case "double":
			cfg.etype = section.ElemFloat64
		default:
			return fmt.Errorf("%w: %q", errs.ErrInvalidPrecision, p)
		}

		return nil
	})
}

// rejectParams is the serialized form of the applied quality thresholds.
type rejectParams struct {
	Reject map[string]float64 `json:"reject,omitempty"`
	Flat   map[string]float64 `json:"flat,omitempty"`
	Tmin   *float64           `json:"tmin,omitempty"`
	Tmax   *float64           `json:"tmax,omitempty"`
}

// partMeta is everything except the bulk samples, pre-serialized so the
// split planner can count bytes exactly.
type partMeta struct {
	channels []byte
	events   []int32
	idDesc   string
	dropLog  []byte
	sel      []int32
	metadata []byte
	rejects  []byte
}

// Save writes the collection to path, materializing it first (which
// commits any pending rejection drops). A non-zero split size distributes
// the epochs over as many chained parts as needed; each part carries the
// shared measurement id and a reference to the next part.
func Save(c *epoch.Collection, path string, opts ...WriteOption) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", errs.ErrBadFileName)
	}
	if !knownSuffix(path) {
		slog.Warn("unconventional epoch file name", "path", path, "expected", section.EpochFileSuffixes)
	}

	cfg := &writeConfig{etype: section.ElemFloat64}
	if err := options.Apply(cfg, opts...); err != nil {
		return err
	}

	data, err := c.GetData()
	if err != nil {
		return err
	}

	info := c.Info()
	cals := info.Calibrations()
	elemSize := section.ElemSize(cfg.etype)
	perEpoch := int64(data.NChannels()) * int64(data.NTimes()) * int64(elemSize)

	meas := uuid.New()

	overhead, err := estimateOverhead(c, path)
	if err != nil {
		return err
	}

	nParts := 1
	if cfg.splitSize > 0 {
		minSize := overhead + perEpoch + section.TagHeaderSize
		if int64(cfg.splitSize) <= minSize {
			return fmt.Errorf("%w: split size %s cannot hold one epoch, need more than %s",
				errs.ErrSplitSize, humanize.Bytes(cfg.splitSize), humanize.Bytes(uint64(minSize)))
		}
		total := overhead + int64(data.NEpochs())*perEpoch
		nParts = int((total-1)/(int64(cfg.splitSize)-overhead)) + 1
		if nParts > section.MaxParts {
			return fmt.Errorf("%w: %d parts needed, at most %d allowed",
				errs.ErrTooManyParts, nParts, section.MaxParts)
		}
		if nParts > data.NEpochs() {
			nParts = data.NEpochs()
		}
	}

	names := make([]string, nParts)
	for k := range names {
		names[k] = partName(path, k)
		if !cfg.overwrite {
			if _, statErr := os.Stat(names[k]); statErr == nil {
				return fmt.Errorf("%w: %s", errs.ErrFileExists, names[k])
			}
		}
	}

	bounds := partition(data.NEpochs(), nParts)
	for k := 0; k < nParts; k++ {
		lo, hi := bounds[k], bounds[k+1]
		nextName := ""
		if k+1 < nParts {
			nextName = filepath.Base(names[k+1])
		}
		if err := savePart(c, data, names[k], lo, hi, k, nextName, meas, cals, cfg.etype); err != nil {
			return err
		}
	}
	slog.Info("saved collection", "path", path, "epochs", data.NEpochs(), "parts", nParts)

	return nil
}

func knownSuffix(path string) bool {
	for _, s := range section.EpochFileSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}

	return false
}

// partName inserts "-k" before the first extension for parts after the
// first: "sub-epo.eph.gz" becomes "sub-epo-1.eph.gz".
func partName(path string, k int) string {
	if k == 0 {
		return path
	}
	dir, base := filepath.Split(path)
	if i := strings.Index(base, "."); i >= 0 {
		return dir + fmt.Sprintf("%s-%d%s", base[:i], k, base[i:])
	}

	return dir + fmt.Sprintf("%s-%d", base, k)
}

// partition splits n epochs into near-equal contiguous runs, returning
// nParts+1 boundary indices.
func partition(n, nParts int) []int {
	bounds := make([]int, nParts+1)
	base, rem := n/nParts, n%nParts
	for k := 0; k < nParts; k++ {
		size := base
		if k < rem {
			size++
		}
		bounds[k+1] = bounds[k] + size
	}

	return bounds
}

// estimateOverhead serializes the non-data portions once and returns their
// tagged byte count, padded for the reference block naming the next part.
func estimateOverhead(c *epoch.Collection, path string) (int64, error) {
	meta, err := buildMeta(c, 0, c.NEpochs())
	if err != nil {
		return 0, err
	}

	// Worst-case per-part drop log: a part records every epoch held by a
	// sibling as ignored, so estimate with the placeholder in every kept
	// slot rather than with the single-part log buildMeta just produced.
	full := c.DropLog()
	worst := make([][]string, len(full))
	for i, entry := range full {
		if len(entry) == 0 {
			worst[i] = []string{epoch.ReasonIgnored}
		} else {
			worst[i] = entry
		}
	}
	worstLog, err := json.Marshal(worst)
	if err != nil {
		return 0, err
	}

	var n int64
	// File framing, block framing, scalar tags.
	n += 2 * (section.TagHeaderSize + 4)                 // file start/end
	n += 10 * (section.TagHeaderSize + 4)                // block start/end pairs
	n += section.TagHeaderSize + 16                      // measurement id
	n += 3 * (section.TagHeaderSize + 8)                 // sample rate, baseline
	n += 2 * (section.TagHeaderSize + 4)                 // first/last sample
	n += section.TagHeaderSize + 8                       // checksum
	n += section.TagHeaderSize                           // epoch data header
	n += int64(section.TagHeaderSize + len(meta.channels))
	n += int64(section.TagHeaderSize + 4*len(meta.events))
	n += int64(section.TagHeaderSize + len(meta.idDesc))
	n += int64(section.TagHeaderSize + len(worstLog))
	n += int64(section.TagHeaderSize + 4*len(meta.sel))
	n += int64(section.TagHeaderSize + len(meta.metadata))
	n += int64(section.TagHeaderSize + len(meta.rejects))
	// Reference block: role, name, id, num tags plus framing.
	n += int64(6*section.TagHeaderSize + 3*4 + 16 + len(filepath.Base(path)) + 8)

	return n, nil
}

func buildMeta(c *epoch.Collection, lo, hi int) (*partMeta, error) {
	info := c.Info()
	channels, err := json.Marshal(info.Channels)
	if err != nil {
		return nil, err
	}

	events := c.Events()[lo:hi]
	evVec := make([]int32, 0, 3*len(events))
	for _, ev := range events {
		if ev.Sample > section.MaxEventSample || ev.Sample < math.MinInt32 {
			return nil, fmt.Errorf("%w: event sample %d", errs.ErrInvalidEvents, ev.Sample)
		}
		evVec = append(evVec, int32(ev.Sample), ev.Prior, ev.Code)
	}

	sel := c.Selection()[lo:hi]
	selVec := make([]int32, len(sel))
	inPart := make(map[int]struct{}, len(sel))
	for i, s := range sel {
		selVec[i] = int32(s)
		inPart[s] = struct{}{}
	}

	// Epochs living in other parts are recorded as ignored here; the
	// reader merges the chain's logs back together positionally.
	full := c.DropLog()
	partLog := make([][]string, len(full))
	for i, entry := range full {
		if _, ours := inPart[i]; !ours && len(entry) == 0 {
			partLog[i] = []string{epoch.ReasonIgnored}
		} else {
			partLog[i] = entry
		}
	}
	dropLog, err := json.Marshal(partLog)
	if err != nil {
		return nil, err
	}

	var metadata []byte
	if md := c.Metadata(); md != nil {
		idx := make([]int, hi-lo)
		for i := range idx {
			idx[i] = lo + i
		}
		metadata, err = md.Subset(idx).Encode()
		if err != nil {
			return nil, err
		}
	}

	rej, flat := c.RejectParams()
	tmin, tmax := c.RejectWindow()
	rejects, err := json.Marshal(rejectParams{Reject: rej, Flat: flat, Tmin: tmin, Tmax: tmax})
	if err != nil {
		return nil, err
	}

	return &partMeta{
		channels: channels,
		events:   evVec,
		idDesc:   c.EventIDs().Description(),
		dropLog:  dropLog,
		sel:      selVec,
		metadata: metadata,
		rejects:  rejects,
	}, nil
}

func savePart(c *epoch.Collection, data *epoch.Array3, name string, lo, hi, partIdx int,
	nextName string, meas uuid.UUID, cals []float64, etype int32) (err error) {

	meta, err := buildMeta(c, lo, hi)
	if err != nil {
		return err
	}

	dir := filepath.Dir(name)
	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	var w io.Writer = tmp
	var gz *gzip.Writer
	if strings.HasSuffix(name, ".gz") {
		gz = gzip.NewWriter(tmp)
		w = gz
	}

	tw := newTagWriter(w)
	if err = writePart(tw, c, data, meta, lo, hi, partIdx, nextName, meas, cals, etype); err != nil {
		return err
	}

	if gz != nil {
		if err = gz.Close(); err != nil {
			return err
		}
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), name)
}

func writePart(tw *tagWriter, c *epoch.Collection, data *epoch.Array3, meta *partMeta,
	lo, hi, partIdx int, nextName string, meas uuid.UUID, cals []float64, etype int32) error {

	if err := tw.writeInt32(section.TagFileStart, section.Magic); err != nil {
		return err
	}
	if err := tw.blockStart(section.BlockMeasurement); err != nil {
		return err
	}
	if err := tw.writeID(section.TagMeasurementID, meas); err != nil {
		return err
	}
	if err := tw.writeFloat64(section.TagSampleRate, c.SFreq()); err != nil {
		return err
	}
	if err := tw.writeString(section.TagChannelInfo, string(meta.channels)); err != nil {
		return err
	}

	if err := tw.blockStart(section.BlockProcessedData); err != nil {
		return err
	}
	if err := tw.blockStart(section.BlockEpochs); err != nil {
		return err
	}
	if err := tw.writeInt32(section.TagFirstSample, int32(c.Grid().FirstSample())); err != nil {
		return err
	}
	if err := tw.writeInt32(section.TagLastSample, int32(c.Grid().LastSample())); err != nil {
		return err
	}
	if b := c.Baseline(); b != nil {
		if err := tw.writeFloat64(section.TagBaselineMin, b.Min); err != nil {
			return err
		}
		if err := tw.writeFloat64(section.TagBaselineMax, b.Max); err != nil {
			return err
		}
	}
	if err := tw.writeString(section.TagRejectFlat, string(meta.rejects)); err != nil {
		return err
	}
	if err := tw.writeTag(section.TagDropLog, section.ElemString, meta.dropLog); err != nil {
		return err
	}
	if err := tw.writeInt32Vector(section.TagSelection, meta.sel); err != nil {
		return err
	}
	sum, err := writeEpochData(tw, data, lo, hi, cals, etype)
	if err != nil {
		return err
	}
	if err := tw.writeUint64(section.TagChecksum, sum); err != nil {
		return err
	}
	if err := tw.blockEnd(section.BlockEpochs); err != nil {
		return err
	}
	if err := tw.blockEnd(section.BlockProcessedData); err != nil {
		return err
	}

	if err := tw.blockStart(section.BlockEvents); err != nil {
		return err
	}
	if err := tw.writeInt32Vector(section.TagEventList, meta.events); err != nil {
		return err
	}
	if err := tw.writeString(section.TagEventIDs, meta.idDesc); err != nil {
		return err
	}
	if err := tw.blockEnd(section.BlockEvents); err != nil {
		return err
	}

	if meta.metadata != nil {
		if err := tw.blockStart(section.BlockMetadata); err != nil {
			return err
		}
		if err := tw.writeTag(section.TagMetadata, section.ElemString, meta.metadata); err != nil {
			return err
		}
		if err := tw.blockEnd(section.BlockMetadata); err != nil {
			return err
		}
	}

	if nextName != "" {
		if err := tw.blockStart(section.BlockRef); err != nil {
			return err
		}
		if err := tw.writeInt32(section.TagRefRole, section.RefRoleNextFile); err != nil {
			return err
		}
		if err := tw.writeString(section.TagRefFileName, nextName); err != nil {
			return err
		}
		if err := tw.writeID(section.TagRefFileID, meas); err != nil {
			return err
		}
		if err := tw.writeInt32(section.TagRefFileNum, int32(partIdx+1)); err != nil {
			return err
		}
		if err := tw.blockEnd(section.BlockRef); err != nil {
			return err
		}
	}

	if err := tw.blockEnd(section.BlockMeasurement); err != nil {
		return err
	}

	return tw.writeTag(section.TagFileEnd, section.ElemEmpty, nil)
}

// writeEpochData streams the part's samples, divided by the channel
// calibrations so the stored values are calibration-independent, and
// returns the xxhash64 of the payload bytes.
func writeEpochData(tw *tagWriter, data *epoch.Array3, lo, hi int, cals []float64, etype int32) (uint64, error) {
	nCh, nT := data.NChannels(), data.NTimes()
	elemSize := section.ElemSize(etype)
	size := uint32((hi - lo) * nCh * nT * elemSize)
	if err := tw.writeHeader(section.TagEpochData, etype, size); err != nil {
		return 0, err
	}

	digest := xxhash.New()
	row := make([]byte, nT*elemSize)
	for e := lo; e < hi; e++ {
		for ch := 0; ch < nCh; ch++ {
			samples := data.Row(e, ch)
			inv := 1.0
			if cals[ch] != 0 {
				inv = 1.0 / cals[ch]
			}
			b := row[:0]
			for _, v := range samples {
				switch etype {
				case section.ElemFloat32:
					b = wireEngine.AppendUint32(b, math.Float32bits(float32(v*inv)))
				default:
					b = wireEngine.AppendUint64(b, math.Float64bits(v*inv))
				}
			}
			if _, err := digest.Write(b); err != nil {
				return 0, err
			}
			n, err := tw.w.Write(b)
			tw.off += int64(n)
			if err != nil {
				return 0, err
			}
		}
	}

	return digest.Sum64(), nil
}
