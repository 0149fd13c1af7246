package media

import (
	"time"

	"github.com/ktnrg45/goremoteplay/internal/fec"
)

// Frame is the reassembly context for one video or audio frame, per
// spec.md section 4.6's Frame type: frame index, total/source/fec unit
// counts, sparse source-unit storage, completion flag, start timestamp.
type Frame struct {
	Index     uint16
	Layout    fec.Layout
	source    [][]byte
	srcCount  int
	Complete  bool
	StartedAt time.Time
}

// newFrame starts a reassembly context sized from h, depositing h's own
// unit immediately.
func newFrame(h Header, unitPayload []byte) (*Frame, error) {
	layout, err := fec.NewLayout(h.SourceUnits, h.FECUnits)
	if err != nil {
		return nil, err
	}
	f := &Frame{
		Index:     h.FrameIndex,
		Layout:    layout,
		source:    make([][]byte, layout.SourceUnits),
		StartedAt: time.Now(),
	}
	f.addUnit(h, unitPayload)
	return f, nil
}

// addUnit deposits one unit's payload at its unit_index. FEC (parity)
// units are accepted (so the caller can tell a real gap from a benign
// FEC-unit deposit) but never contribute to completion.
func (f *Frame) addUnit(h Header, unitPayload []byte) {
	if !f.Layout.IsSourceIndex(h.UnitIndex) {
		return // parity unit: received, never used to repair (spec.md section 4.7)
	}
	if f.source[h.UnitIndex] == nil {
		f.source[h.UnitIndex] = unitPayload
		f.srcCount++
	}
	if f.srcCount == f.Layout.SourceUnits {
		f.Complete = true
	}
}

// Bytes concatenates the source units in index order. Only valid once
// Complete is true.
func (f *Frame) Bytes() []byte {
	total := 0
	for _, u := range f.source {
		total += len(u)
	}
	out := make([]byte, 0, total)
	for _, u := range f.source {
		out = append(out, u...)
	}
	return out
}
