// Package container reads and writes the epoch file format: a flat
// big-endian tag stream giving a block tree, with bulk epoch data in one
// tag per part and oversized collections split across chained files.
package container

import (
	"fmt"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/epochio/epocha/endian"
	"github.com/epochio/epocha/errs"
	"github.com/epochio/epocha/internal/pool"
	"github.com/epochio/epocha/section"
)

// wireEngine is the byte order of everything in the container.
var wireEngine = endian.GetBigEndianEngine()

// tagHeader is the decoded fixed-size prefix of every tag.
type tagHeader struct {
	Kind  int32
	EType int32
	Size  uint32
}

// tagWriter serializes tags onto an io.Writer, tracking the running byte
// offset so the writer can plan splits.
type tagWriter struct {
	w   io.Writer
	off int64
}

func newTagWriter(w io.Writer) *tagWriter {
	return &tagWriter{w: w}
}

func (tw *tagWriter) writeHeader(kind, etype int32, size uint32) error {
	var hdr [section.TagHeaderSize]byte
	wireEngine.PutUint32(hdr[0:4], uint32(kind))
	wireEngine.PutUint32(hdr[4:8], uint32(etype))
	wireEngine.PutUint32(hdr[8:12], size)
	// hdr[12:16] reserved, zero
	n, err := tw.w.Write(hdr[:])
	tw.off += int64(n)

	return err
}

func (tw *tagWriter) writeTag(kind, etype int32, payload []byte) error {
	if err := tw.writeHeader(kind, etype, uint32(len(payload))); err != nil {
		return err
	}
	n, err := tw.w.Write(payload)
	tw.off += int64(n)

	return err
}

func (tw *tagWriter) writeInt32(kind int32, v int32) error {
	var b [4]byte
	wireEngine.PutUint32(b[:], uint32(v))

	return tw.writeTag(kind, section.ElemInt32, b[:])
}

func (tw *tagWriter) writeFloat64(kind int32, v float64) error {
	var b [8]byte
	wireEngine.PutUint64(b[:], math.Float64bits(v))

	return tw.writeTag(kind, section.ElemFloat64, b[:])
}

func (tw *tagWriter) writeUint64(kind int32, v uint64) error {
	var b [8]byte
	wireEngine.PutUint64(b[:], v)

	return tw.writeTag(kind, section.ElemUint64, b[:])
}

func (tw *tagWriter) writeString(kind int32, s string) error {
	return tw.writeTag(kind, section.ElemString, []byte(s))
}

func (tw *tagWriter) writeID(kind int32, id uuid.UUID) error {
	return tw.writeTag(kind, section.ElemID, id[:])
}

func (tw *tagWriter) writeInt32Vector(kind int32, vals []int32) error {
	buf := pool.GetTagBuffer()
	defer pool.PutTagBuffer(buf)
	b := buf.Bytes()
	for _, v := range vals {
		b = wireEngine.AppendUint32(b, uint32(v))
	}
	if err := tw.writeHeader(kind, section.ElemInt32, uint32(len(b))); err != nil {
		return err
	}
	n, err := tw.w.Write(b)
	tw.off += int64(n)

	return err
}

func (tw *tagWriter) blockStart(kind int32) error {
	return tw.writeInt32(section.TagBlockStart, kind)
}

func (tw *tagWriter) blockEnd(kind int32) error {
	return tw.writeInt32(section.TagBlockEnd, kind)
}

// tagReader walks the tag stream of one part, tracking the byte offset of
// the payload it last saw so bulk data can be revisited lazily.
type tagReader struct {
	r   io.Reader
	off int64
}

func newTagReader(r io.Reader) *tagReader {
	return &tagReader{r: r}
}

// next decodes the following tag header. io.EOF cleanly marks the end of
// the stream only before a header; a short header is malformed.
func (tr *tagReader) next() (tagHeader, error) {
	var hdr [section.TagHeaderSize]byte
	n, err := io.ReadFull(tr.r, hdr[:])
	tr.off += int64(n)
	if err == io.EOF {
		return tagHeader{}, io.EOF
	}
	if err != nil {
		return tagHeader{}, fmt.Errorf("%w: truncated tag header", errs.ErrMalformedBlock)
	}

	return tagHeader{
		Kind:  int32(wireEngine.Uint32(hdr[0:4])),
		EType: int32(wireEngine.Uint32(hdr[4:8])),
		Size:  wireEngine.Uint32(hdr[8:12]),
	}, nil
}

// payloadOffset returns the byte offset of the payload of the header just
// returned by next.
func (tr *tagReader) payloadOffset() int64 {
	return tr.off
}

// payload reads the tag body into memory.
func (tr *tagReader) payload(h tagHeader) ([]byte, error) {
	b := make([]byte, h.Size)
	n, err := io.ReadFull(tr.r, b)
	tr.off += int64(n)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated payload for tag %d", errs.ErrMalformedBlock, h.Kind)
	}

	return b, nil
}

// skip advances past the tag body without materializing it.
func (tr *tagReader) skip(h tagHeader) error {
	if s, ok := tr.r.(io.Seeker); ok {
		if _, err := s.Seek(int64(h.Size), io.SeekCurrent); err != nil {
			return err
		}
		tr.off += int64(h.Size)

		return nil
	}
	n, err := io.CopyN(io.Discard, tr.r, int64(h.Size))
	tr.off += n
	if err != nil {
		return fmt.Errorf("%w: truncated payload for tag %d", errs.ErrMalformedBlock, h.Kind)
	}

	return nil
}

func decodeInt32(h tagHeader, b []byte) (int32, error) {
	if h.EType != section.ElemInt32 || len(b) != 4 {
		return 0, fmt.Errorf("%w: tag %d is not a single int32", errs.ErrMalformedBlock, h.Kind)
	}

	return int32(wireEngine.Uint32(b)), nil
}

func decodeFloat64(h tagHeader, b []byte) (float64, error) {
	if h.EType != section.ElemFloat64 || len(b) != 8 {
		return 0, fmt.Errorf("%w: tag %d is not a float64", errs.ErrMalformedBlock, h.Kind)
	}

	return math.Float64frombits(wireEngine.Uint64(b)), nil
}

func decodeUint64(h tagHeader, b []byte) (uint64, error) {
	if h.EType != section.ElemUint64 || len(b) != 8 {
		return 0, fmt.Errorf("%w: tag %d is not a uint64", errs.ErrMalformedBlock, h.Kind)
	}

	return wireEngine.Uint64(b), nil
}

func decodeID(h tagHeader, b []byte) (uuid.UUID, error) {
	if h.EType != section.ElemID || len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("%w: tag %d is not an id", errs.ErrMalformedBlock, h.Kind)
	}
	var id uuid.UUID
	copy(id[:], b)

	return id, nil
}

func decodeInt32Vector(h tagHeader, b []byte) ([]int32, error) {
	if h.EType != section.ElemInt32 || len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: tag %d is not an int32 vector", errs.ErrMalformedBlock, h.Kind)
	}
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = int32(wireEngine.Uint32(b[i*4:]))
	}

	return out, nil
}
