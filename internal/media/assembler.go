package media

import (
	"github.com/ktnrg45/goremoteplay/internal/rplog"
)

// FrameSink is where completed frames are delivered, the generalized
// capability set spec.md section 9's re-architecture guidance calls for in
// place of an inheritance-based AVReceiver/QueueReceiver hierarchy.
type FrameSink interface {
	AcceptVideo(frameIndex uint16, payload []byte)
	AcceptAudio(frameIndex uint16, payload []byte)
}

// CorruptReporter emits a CORRUPTFRAME notification for the inclusive
// [start, end] frame-index range that was abandoned incomplete, per
// spec.md section 4.7. internal/bigpayload's Negotiator implements this by
// encoding and sending a CorruptPayload on the big-payload control stream.
type CorruptReporter interface {
	ReportCorruptFrame(start, end uint32) error
}

// Assembler reassembles one media kind's frames one at a time, per
// spec.md section 4.7/Testable Property 5, grounded on
// original_source/pyremoteplay/av.py's AVReceiver.handle_video /
// VideoFrame, generalized to cover both video and audio and to emit a
// CorruptFrame report instead of only logging.
type Assembler struct {
	kind     Kind
	sink     FrameSink
	reporter CorruptReporter
	log      rplog.Logger

	current      *Frame
	haveCurrent  bool
	incompleteN  int
}

// NewAssembler constructs an Assembler for kind, delivering completed
// frames to sink and CORRUPTFRAME reports to reporter (either may be nil
// for a no-op sink/reporter, e.g. in tests exercising framing logic only).
func NewAssembler(kind Kind, sink FrameSink, reporter CorruptReporter) *Assembler {
	return &Assembler{
		kind:     kind,
		sink:     sink,
		reporter: reporter,
		log:      rplog.New("media").With("kind", kind.String()),
	}
}

// IncompleteFrames is the running count of frames abandoned with at least
// one missing source unit (the "incomplete-frame metric" of Testable
// Property 5).
func (a *Assembler) IncompleteFrames() int { return a.incompleteN }

// HandlePacket feeds one decoded, decrypted A/V unit payload (the bytes
// following the 18-byte header) into the current frame's reassembly.
func (a *Assembler) HandlePacket(h Header, unitPayload []byte) {
	switch {
	case a.haveCurrent && h.FrameIndex == a.current.Index:
		a.current.addUnit(h, unitPayload)
		a.maybeDeliver()

	case !a.haveCurrent || int32(h.FrameIndex)-int32(a.current.Index) > 0:
		a.abandonCurrent(h.FrameIndex)
		f, err := newFrame(h, unitPayload)
		if err != nil {
			a.log.Warn("dropping packet with invalid fec layout", "error", err.Error())
			return
		}
		a.current = f
		a.haveCurrent = true
		a.maybeDeliver()

	default:
		// Stale frame_index behind the current frame: dropped silently,
		// per spec.md section 4.7 (no reordering across frames).
	}
}

func (a *Assembler) maybeDeliver() {
	if !a.current.Complete {
		return
	}
	payload := a.current.Bytes()
	if a.sink != nil {
		if a.kind == KindVideo {
			a.sink.AcceptVideo(a.current.Index, payload)
		} else {
			a.sink.AcceptAudio(a.current.Index, payload)
		}
	}
}

// abandonCurrent is called just before a newer frame_index supersedes the
// current one. If the current frame never completed, it counts as
// incomplete and a CORRUPTFRAME covering [current.Index, newIndex-1] is
// reported — the inclusive range of frame indices that will never be
// delivered.
func (a *Assembler) abandonCurrent(newIndex uint16) {
	if !a.haveCurrent || a.current.Complete {
		return
	}
	a.incompleteN++
	start := uint32(a.current.Index)
	end := uint32(newIndex) - 1
	if end < start {
		end = start
	}
	a.log.Warn("abandoning incomplete frame", "frame_index", a.current.Index)
	if a.reporter != nil {
		if err := a.reporter.ReportCorruptFrame(start, end); err != nil {
			a.log.Warn("failed to send corrupt frame report", "error", err.Error())
		}
	}
}
