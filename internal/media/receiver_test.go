package media

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktnrg45/goremoteplay/internal/transport"
)

func rawVideoPacket(t *testing.T, frameIndex uint16, unitIndex, sourceUnits, fecUnits int, payload []byte) []byte {
	t.Helper()
	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint16(buf[3:5], frameIndex)
	dword2 := ((uint32(unitIndex) & 0x7ff) << 21) | ((uint32(sourceUnits+fecUnits-1) & 0x7ff) << 10) | (uint32(fecUnits) & 0x3ff)
	binary.BigEndian.PutUint32(buf[5:9], dword2)
	copy(buf[headerLen:], payload)
	return buf
}

func TestReceiverDispatchesByPacketType(t *testing.T) {
	sink := &fakeSink{}
	r := &Receiver{
		video: NewAssembler(KindVideo, sink, nil),
		audio: NewAssembler(KindAudio, sink, nil),
	}

	videoBody := transport.DataChunkBody{Payload: rawVideoPacket(t, 1, 0, 1, 0, []byte("vframe"))}
	r.handle(transport.TypeVideo, videoBody)
	require.Len(t, sink.videoFrames, 1)
	assert.Equal(t, []byte("vframe"), sink.videoFrames[0])

	audioRaw := make([]byte, headerLen+len("aframe"))
	binary.BigEndian.PutUint16(audioRaw[3:5], 1)
	binary.BigEndian.PutUint32(audioRaw[5:9], 1) // audio dword2: unit 0, total 1, trailer source_units=1
	copy(audioRaw[headerLen:], "aframe")
	audioBody := transport.DataChunkBody{Payload: audioRaw}
	r.handle(transport.TypeAudio, audioBody)
	require.Len(t, sink.audioFrames, 1)
	assert.Equal(t, []byte("aframe"), sink.audioFrames[0])
}

func TestReceiverIgnoresFeedbackPacketTypes(t *testing.T) {
	sink := &fakeSink{}
	r := &Receiver{
		video: NewAssembler(KindVideo, sink, nil),
		audio: NewAssembler(KindAudio, sink, nil),
	}
	r.handle(transport.TypeFeedbackState, transport.DataChunkBody{Payload: []byte("irrelevant")})
	assert.Empty(t, sink.videoFrames)
	assert.Empty(t, sink.audioFrames)
}
