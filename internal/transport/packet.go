// Package transport implements spec.md C6: a small SCTP-like subset layered
// over UDP 9296 — INIT/INIT_ACK/COOKIE/COOKIE_ACK handshake, a reliable
// DATA/DATA_ACK channel for control traffic, and unreliable, GMAC-authenticated
// delivery for the media and feedback substreams. The wire layout is
// grounded directly on spec.md section 4.5 (no single pack file in the
// retrieval corpus implements this exact subset); the struct/field-comment
// idiom is adapted from moonlight-common-go/protocol/packets.go.
package transport

import (
	"encoding/binary"
	"fmt"
)

// Packet-level type tags (the high nibble of the first wire byte).
const (
	TypeControl       uint8 = 0
	TypeVideo         uint8 = 2
	TypeAudio         uint8 = 3
	TypeFeedbackState uint8 = 4
	TypeFeedbackEvent uint8 = 5
)

// Chunk kinds.
const (
	ChunkData      uint8 = 0
	ChunkInit      uint8 = 1
	ChunkInitAck   uint8 = 2
	ChunkDataAck   uint8 = 3
	ChunkCookie    uint8 = 10
	ChunkCookieAck uint8 = 11
)

// Channel (stream_id) assignments for DATA chunks on the control (type 0)
// substream.
const (
	StreamInvalid      uint8 = 0
	StreamHeartbeat    uint8 = 1
	StreamBigPayload   uint8 = 2
	StreamInfoAck      uint8 = 9
)

// DATA chunk flags.
const (
	FlagBegin uint8 = 1 << 0
	FlagEnd   uint8 = 1 << 2
)

const (
	packetHeaderLen = 1 + 4 + 4 + 4 // type, tag, gmac, key_pos
	chunkHeaderLen  = 1 + 1 + 2     // kind, flags, length
	dataBodyLen     = 4 + 1 + 2 + 1 // tsn, stream_id, stream_seq, proto_id
)

// Chunk is one SCTP-subset chunk: a kind tag, flags, and an opaque body.
// length, on the wire, is chunkHeaderLen+len(Body).
type Chunk struct {
	Kind  uint8
	Flags uint8
	Body  []byte
}

// Encode serializes the chunk in wire order.
func (c Chunk) Encode() []byte {
	out := make([]byte, chunkHeaderLen+len(c.Body))
	out[0] = c.Kind
	out[1] = c.Flags
	binary.BigEndian.PutUint16(out[2:4], uint16(chunkHeaderLen+len(c.Body)))
	copy(out[4:], c.Body)
	return out
}

// DecodeChunk parses a Chunk from the front of data.
func DecodeChunk(data []byte) (Chunk, error) {
	if len(data) < chunkHeaderLen {
		return Chunk{}, fmt.Errorf("transport: chunk too short: %d bytes", len(data))
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if int(length) < chunkHeaderLen || int(length) > len(data) {
		return Chunk{}, fmt.Errorf("transport: chunk length %d out of range (have %d)", length, len(data))
	}
	return Chunk{
		Kind:  data[0],
		Flags: data[1],
		Body:  append([]byte(nil), data[chunkHeaderLen:length]...),
	}, nil
}

// Packet is one on-wire transport datagram: type/tag/gmac/key_pos header
// plus a single chunk, per spec.md section 4.5.
type Packet struct {
	Type   uint8
	Tag    uint32
	GMAC   uint32
	KeyPos uint32
	Chunk  Chunk
}

// Encode serializes the packet. Callers that need GMAC authentication
// compute the tag over the result of Encode with GMAC and KeyPos zeroed
// first (see Transport.sealOutbound), then re-encode with the real values.
func (p Packet) Encode() []byte {
	chunkBytes := p.Chunk.Encode()
	out := make([]byte, packetHeaderLen+len(chunkBytes))
	out[0] = p.Type << 4
	binary.BigEndian.PutUint32(out[1:5], p.Tag)
	binary.BigEndian.PutUint32(out[5:9], p.GMAC)
	binary.BigEndian.PutUint32(out[9:13], p.KeyPos)
	copy(out[packetHeaderLen:], chunkBytes)
	return out
}

// DecodePacket parses a Packet from a received UDP datagram.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < packetHeaderLen {
		return Packet{}, fmt.Errorf("transport: packet too short: %d bytes", len(data))
	}
	chunk, err := DecodeChunk(data[packetHeaderLen:])
	if err != nil {
		return Packet{}, err
	}
	return Packet{
		Type:   data[0] >> 4,
		Tag:    binary.BigEndian.Uint32(data[1:5]),
		GMAC:   binary.BigEndian.Uint32(data[5:9]),
		KeyPos: binary.BigEndian.Uint32(data[9:13]),
		Chunk:  chunk,
	}, nil
}

// zeroedForGMAC returns the packet's wire encoding with the gmac and
// key_pos fields zeroed, per spec.md section 4.5: "every non-handshake
// outbound packet has its gmac computed over the full packet (with the
// gmac and key_pos fields zeroed during the computation)".
func (p Packet) zeroedForGMAC() []byte {
	zeroed := p
	zeroed.GMAC = 0
	zeroed.KeyPos = 0
	return zeroed.Encode()
}

// DataChunkBody is the structured body of a ChunkData chunk: per-packet
// TSN, channel (stream_id), stream_seq, proto_id, and payload, per
// spec.md section 4.5.
type DataChunkBody struct {
	TSN       uint32
	StreamID  uint8
	StreamSeq uint16
	ProtoID   uint8
	Payload   []byte
}

// Encode serializes the DATA chunk body.
func (d DataChunkBody) Encode() []byte {
	out := make([]byte, dataBodyLen+len(d.Payload))
	binary.BigEndian.PutUint32(out[0:4], d.TSN)
	out[4] = d.StreamID
	binary.BigEndian.PutUint16(out[5:7], d.StreamSeq)
	out[7] = d.ProtoID
	copy(out[dataBodyLen:], d.Payload)
	return out
}

// DecodeDataChunkBody parses a DATA chunk body.
func DecodeDataChunkBody(data []byte) (DataChunkBody, error) {
	if len(data) < dataBodyLen {
		return DataChunkBody{}, fmt.Errorf("transport: DATA body too short: %d bytes", len(data))
	}
	return DataChunkBody{
		TSN:       binary.BigEndian.Uint32(data[0:4]),
		StreamID:  data[4],
		StreamSeq: binary.BigEndian.Uint16(data[5:7]),
		ProtoID:   data[7],
		Payload:   append([]byte(nil), data[dataBodyLen:]...),
	}, nil
}

// DataAckChunkBody is the structured body of a ChunkDataAck chunk:
// cumulative TSN, advertised receive window, gap-ack block count, and
// duplicate-TSN count, per spec.md section 4.5. This module always
// advertises zero gap-ack blocks and zero duplicate TSNs — selective-ack
// and dedup accounting are Non-goals.
type DataAckChunkBody struct {
	CumulativeTSN uint32
	RWND          uint32
	GapAckBlocks  uint16
	DuplicateTSNs uint16
}

const dataAckBodyLen = 4 + 4 + 2 + 2

// Encode serializes the DATA_ACK chunk body.
func (a DataAckChunkBody) Encode() []byte {
	out := make([]byte, dataAckBodyLen)
	binary.BigEndian.PutUint32(out[0:4], a.CumulativeTSN)
	binary.BigEndian.PutUint32(out[4:8], a.RWND)
	binary.BigEndian.PutUint16(out[8:10], a.GapAckBlocks)
	binary.BigEndian.PutUint16(out[10:12], a.DuplicateTSNs)
	return out
}

// DecodeDataAckChunkBody parses a DATA_ACK chunk body.
func DecodeDataAckChunkBody(data []byte) (DataAckChunkBody, error) {
	if len(data) < dataAckBodyLen {
		return DataAckChunkBody{}, fmt.Errorf("transport: DATA_ACK body too short: %d bytes", len(data))
	}
	return DataAckChunkBody{
		CumulativeTSN: binary.BigEndian.Uint32(data[0:4]),
		RWND:          binary.BigEndian.Uint32(data[4:8]),
		GapAckBlocks:  binary.BigEndian.Uint16(data[8:10]),
		DuplicateTSNs: binary.BigEndian.Uint16(data[10:12]),
	}, nil
}

// InitChunkBody is the structured body of an INIT chunk: the client's
// fresh initiate tag and initial TSN.
type InitChunkBody struct {
	InitiateTag uint32
	InitialTSN  uint32
}

func (b InitChunkBody) Encode() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], b.InitiateTag)
	binary.BigEndian.PutUint32(out[4:8], b.InitialTSN)
	return out
}

func DecodeInitChunkBody(data []byte) (InitChunkBody, error) {
	if len(data) < 8 {
		return InitChunkBody{}, fmt.Errorf("transport: INIT body too short: %d bytes", len(data))
	}
	return InitChunkBody{
		InitiateTag: binary.BigEndian.Uint32(data[0:4]),
		InitialTSN:  binary.BigEndian.Uint32(data[4:8]),
	}, nil
}

// InitAckChunkBody is the structured body of an INIT_ACK chunk: the
// server's tag, initial TSN, and opaque cookie bytes the client must echo
// back verbatim in its COOKIE chunk.
type InitAckChunkBody struct {
	InitiateTag uint32
	InitialTSN  uint32
	Cookie      []byte
}

func (b InitAckChunkBody) Encode() []byte {
	out := make([]byte, 8+len(b.Cookie))
	binary.BigEndian.PutUint32(out[0:4], b.InitiateTag)
	binary.BigEndian.PutUint32(out[4:8], b.InitialTSN)
	copy(out[8:], b.Cookie)
	return out
}

func DecodeInitAckChunkBody(data []byte) (InitAckChunkBody, error) {
	if len(data) < 8 {
		return InitAckChunkBody{}, fmt.Errorf("transport: INIT_ACK body too short: %d bytes", len(data))
	}
	return InitAckChunkBody{
		InitiateTag: binary.BigEndian.Uint32(data[0:4]),
		InitialTSN:  binary.BigEndian.Uint32(data[4:8]),
		Cookie:      append([]byte(nil), data[8:]...),
	}, nil
}
