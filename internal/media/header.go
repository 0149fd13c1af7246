// Package media implements spec.md section 4.7: parsing the 18-byte A/V
// header carried inside every video/audio DATA payload and reassembling
// frames from the source units it describes. FEC units are tracked for
// bookkeeping (see internal/fec) but never used to repair a lost source
// unit, per §4.7's explicit non-goal.
//
// Grounded on original_source/pyremoteplay/av.py's
// parse_av_packet_v9/handle_video/VideoFrame/AVReceiver, generalized from
// that file's video-only reassembly into a shared Assembler driving both
// video and audio kinds, and restructured as explicit types instead of a
// dict of parsed fields.
package media

import (
	"encoding/binary"
	"fmt"
)

// Kind distinguishes the video and audio A/V substreams.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// headerLen is the fixed 18-byte A/V header size from spec.md section 4.7:
// base_type(1) + packet_index(2) + frame_index(2) + dword2(4) + codec(1) +
// unknown(4) + key_pos(4).
const headerLen = 18

// Header is the decoded 18-byte A/V header plus the dword2 unit-layout
// fields, unpacked per the video/audio bit layouts in spec.md section 4.7.
type Header struct {
	BaseType    uint8
	NALStart    bool // base_type & 0x10 != 0 (video only)
	PacketIndex uint16
	FrameIndex  uint16
	Codec       uint8
	Unknown     uint32
	KeyPos      uint32

	UnitIndex   int
	TotalUnits  int
	SourceUnits int
	FECUnits    int
	UnitSize    int // audio only; top byte of the dword2 trailer
}

// ParseHeader decodes the 18-byte header and dword2 unit-layout fields from
// the front of data (already decrypted by the transport layer, see
// DESIGN.md's C8 entry on why this package never calls into internal/crypto
// itself), returning the header and the remaining unit payload bytes.
func ParseHeader(kind Kind, data []byte) (Header, []byte, error) {
	if len(data) < headerLen {
		return Header{}, nil, fmt.Errorf("media: av header truncated: got %d bytes, want %d", len(data), headerLen)
	}
	h := Header{
		BaseType:    data[0],
		PacketIndex: binary.BigEndian.Uint16(data[1:3]),
		FrameIndex:  binary.BigEndian.Uint16(data[3:5]),
		Codec:       data[9],
		Unknown:     binary.BigEndian.Uint32(data[10:14]),
		KeyPos:      binary.BigEndian.Uint32(data[14:18]),
	}
	h.NALStart = kind == KindVideo && h.BaseType&0x10 != 0

	dword2 := binary.BigEndian.Uint32(data[5:9])
	if kind == KindVideo {
		h.UnitIndex = int((dword2 >> 21) & 0x7ff)
		h.TotalUnits = int((dword2>>10)&0x7ff) + 1
		h.FECUnits = int(dword2 & 0x3ff)
		h.SourceUnits = h.TotalUnits - h.FECUnits
	} else {
		h.UnitIndex = int((dword2 >> 24) & 0xff)
		h.TotalUnits = int((dword2>>16)&0xff) + 1
		// spec.md section 4.7: "a 16-bit trailer encodes per-unit size and
		// counts" for audio; original_source/pyremoteplay/av.py's
		// parse_av_packet_v9 unpacks that trailer from the low 16 bits of
		// the same dword2 rather than a separate field: unit_size in the
		// top byte, source units and fec units each packed into a nibble.
		trailer := dword2 & 0xffff
		h.UnitSize = int(trailer >> 8)
		h.FECUnits = int((trailer >> 4) & 0xf)
		h.SourceUnits = int(trailer & 0xf)
	}

	return h, data[headerLen:], nil
}
