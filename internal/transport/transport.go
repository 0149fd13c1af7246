package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
	"github.com/ktnrg45/goremoteplay/internal/rperrors"
	"github.com/ktnrg45/goremoteplay/internal/rplog"
)

const (
	// Port is the fixed UDP port the transport listens/dials on.
	Port = 9296

	defaultRWND             = 0x019000
	defaultRetransmitTimeout = time.Second
	retransmitTickInterval   = 200 * time.Millisecond
)

// DataHandler receives a decoded, decrypted DATA chunk body for one
// control-substream stream_id (heartbeat, big-payload/bang, stream-info-ack).
type DataHandler func(DataChunkBody)

// MediaHandler receives a decoded, decrypted payload for one of the
// unreliable substreams (video, audio, feedback-state, feedback-event).
type MediaHandler func(pktType uint8, body DataChunkBody)

type pendingSend struct {
	wire   []byte
	sentAt time.Time
}

// Transport is one client-initiated association of the SCTP subset of
// spec.md section 4.5, running over an unconnected net.PacketConn and
// addressing every datagram to peer.
type Transport struct {
	mu sync.Mutex

	conn net.PacketConn
	peer net.Addr

	localTag  uint32
	remoteTag uint32

	localTSN      uint32
	recvCumulTSN  uint32
	streamSeq     map[uint8]uint16
	pending       map[uint32]*pendingSend
	retransmitTimeout time.Duration

	sendCipher *crypto.MediaCipher
	recvCipher *crypto.MediaCipher

	controlHandlers map[uint8]DataHandler
	mediaHandler    MediaHandler

	log rplog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Transport over an unconnected UDP socket that sends to peer.
func New(conn net.PacketConn, peer net.Addr) *Transport {
	return &Transport{
		conn:              conn,
		peer:              peer,
		streamSeq:         make(map[uint8]uint16),
		pending:           make(map[uint32]*pendingSend),
		controlHandlers:   make(map[uint8]DataHandler),
		retransmitTimeout: defaultRetransmitTimeout,
		log:               rplog.New("transport"),
	}
}

// OnControl registers the handler invoked for decoded DATA chunks received
// on a given control stream_id (StreamHeartbeat, StreamBigPayload, StreamInfoAck).
func (t *Transport) OnControl(streamID uint8, h DataHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.controlHandlers[streamID] = h
}

// OnMedia registers the handler invoked for decoded media/feedback packets
// (TypeVideo, TypeAudio, TypeFeedbackState, TypeFeedbackEvent).
func (t *Transport) OnMedia(h MediaHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mediaHandler = h
}

// InstallCiphers arms GMAC authentication and payload encryption once the
// C7 ECDH exchange has produced the media base_key/base_iv pair for each
// direction, per spec.md section 4.6/4.8. Before this call, every packet is
// sent/verified with gmac=key_pos=0, matching the handshake's bare-wire
// requirement.
func (t *Transport) InstallCiphers(send, recv *crypto.MediaCipher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendCipher = send
	t.recvCipher = recv
}

// SetRetransmitTimeout overrides the default 1s stop-and-wait retransmit
// timer, e.g. once C7's Senkusha probe has measured an RTT.
func (t *Transport) SetRetransmitTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retransmitTimeout = d
}

// Handshake drives the client-initiated INIT/INIT_ACK/COOKIE/COOKIE_ACK
// exchange synchronously, per spec.md section 4.5. All four control packets
// carry gmac=0, key_pos=0 regardless of whether ciphers are later installed.
func (t *Transport) Handshake(timeout time.Duration) error {
	localTag, err := randomUint32()
	if err != nil {
		return rperrors.New("transport.Handshake", rperrors.Transport, err)
	}
	initTSN, err := randomUint32()
	if err != nil {
		return rperrors.New("transport.Handshake", rperrors.Transport, err)
	}
	t.localTag = localTag
	t.localTSN = initTSN

	deadline := time.Now().Add(timeout)

	initPkt := Packet{
		Type: TypeControl,
		Tag:  localTag,
		Chunk: Chunk{
			Kind: ChunkInit,
			Body: InitChunkBody{InitiateTag: localTag, InitialTSN: initTSN}.Encode(),
		},
	}
	if err := t.writeRaw(initPkt.Encode()); err != nil {
		return rperrors.New("transport.Handshake", rperrors.Unreachable, err)
	}

	initAckPkt, err := t.readUntil(deadline, ChunkInitAck)
	if err != nil {
		return err
	}
	initAck, err := DecodeInitAckChunkBody(initAckPkt.Chunk.Body)
	if err != nil {
		return rperrors.New("transport.Handshake", rperrors.Protocol, err)
	}
	t.remoteTag = initAck.InitiateTag

	cookiePkt := Packet{
		Type:  TypeControl,
		Tag:   t.remoteTag,
		Chunk: Chunk{Kind: ChunkCookie, Body: initAck.Cookie},
	}
	if err := t.writeRaw(cookiePkt.Encode()); err != nil {
		return rperrors.New("transport.Handshake", rperrors.Unreachable, err)
	}

	if _, err := t.readUntil(deadline, ChunkCookieAck); err != nil {
		return err
	}
	return nil
}

func (t *Transport) readUntil(deadline time.Time, want uint8) (Packet, error) {
	buf := make([]byte, 4096)
	for {
		if deadlined, ok := t.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			deadlined.SetReadDeadline(deadline)
		}
		n, _, err := t.conn.ReadFrom(buf)
		if err != nil {
			return Packet{}, rperrors.New("transport.Handshake", rperrors.Timeout, err)
		}
		pkt, err := DecodePacket(buf[:n])
		if err != nil {
			continue
		}
		if pkt.Chunk.Kind == want {
			return pkt, nil
		}
	}
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// Run starts the background receive loop and retransmit timer. It returns
// once ctx is cancelled or the socket errors.
func (t *Transport) Run(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(2)
	go t.receiveLoop()
	go t.retransmitLoop()
}

// Close cancels the background loops and closes the socket.
func (t *Transport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	buf := make([]byte, 8192)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		if deadlined, ok := t.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			deadlined.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		}
		n, _, err := t.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
		t.handleInbound(append([]byte(nil), buf[:n]...))
	}
}

func (t *Transport) handleInbound(raw []byte) {
	pkt, err := DecodePacket(raw)
	if err != nil {
		t.log.Warn("dropping undecodable packet", "error", err.Error())
		return
	}

	t.mu.Lock()
	recvCipher := t.recvCipher
	t.mu.Unlock()

	if recvCipher != nil && !isHandshakeChunk(pkt.Chunk.Kind) {
		recvCipher.SeekKeyPos(uint64(pkt.KeyPos))
		var tagBytes [4]byte
		binary.BigEndian.PutUint32(tagBytes[:], pkt.GMAC)
		ok, err := recvCipher.VerifyGMAC(pkt.zeroedForGMAC(), tagBytes[:])
		if err != nil || !ok {
			t.log.Warn("dropping packet with invalid gmac", "type", pkt.Type)
			return
		}
	}

	switch pkt.Chunk.Kind {
	case ChunkData:
		t.handleData(pkt, recvCipher)
	case ChunkDataAck:
		ack, err := DecodeDataAckChunkBody(pkt.Chunk.Body)
		if err == nil {
			t.ackPending(ack.CumulativeTSN)
		}
	case ChunkInit, ChunkInitAck, ChunkCookie, ChunkCookieAck:
		// Retransmitted handshake chunks arriving after Run has started are
		// stale; the handshake already completed synchronously.
	}
}

func (t *Transport) handleData(pkt Packet, recvCipher *crypto.MediaCipher) {
	body, err := DecodeDataChunkBody(pkt.Chunk.Body)
	if err != nil {
		t.log.Warn("dropping undecodable DATA chunk", "error", err.Error())
		return
	}
	if recvCipher != nil {
		body.Payload = recvCipher.Decrypt(body.Payload)
	}

	if pkt.Type == TypeControl {
		t.mu.Lock()
		// No gap-ack/reordering tracking is implemented (see DESIGN.md); the
		// cumulative TSN simply follows the most recently received DATA chunk.
		t.recvCumulTSN = body.TSN
		cumul := t.recvCumulTSN
		handler := t.controlHandlers[body.StreamID]
		t.mu.Unlock()

		t.sendDataAck(cumul)
		if handler != nil {
			handler(body)
		}
		return
	}

	t.mu.Lock()
	handler := t.mediaHandler
	t.mu.Unlock()
	if handler != nil {
		handler(pkt.Type, body)
	}
}

func (t *Transport) sendDataAck(cumulativeTSN uint32) {
	ackBody := DataAckChunkBody{CumulativeTSN: cumulativeTSN, RWND: defaultRWND}
	pkt := Packet{
		Type:  TypeControl,
		Tag:   t.remoteTag,
		Chunk: Chunk{Kind: ChunkDataAck, Body: ackBody.Encode()},
	}
	wire, err := t.sealOutbound(pkt)
	if err != nil {
		t.log.Warn("failed to seal DATA_ACK", "error", err.Error())
		return
	}
	if err := t.writeRaw(wire); err != nil {
		t.log.Warn("failed to send DATA_ACK", "error", err.Error())
	}
}

func (t *Transport) ackPending(cumulativeTSN uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tsn := range t.pending {
		if tsn <= cumulativeTSN {
			delete(t.pending, tsn)
		}
	}
}

func (t *Transport) retransmitLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(retransmitTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.retransmitDue()
		}
	}
}

func (t *Transport) retransmitDue() {
	t.mu.Lock()
	timeout := t.retransmitTimeout
	due := make([][]byte, 0)
	now := time.Now()
	for tsn, p := range t.pending {
		if now.Sub(p.sentAt) >= timeout {
			due = append(due, p.wire)
			t.pending[tsn].sentAt = now
		}
	}
	t.mu.Unlock()

	for _, wire := range due {
		if err := t.writeRaw(wire); err != nil {
			t.log.Warn("retransmit failed", "error", err.Error())
		}
	}
}

// SendControl reliably delivers payload on a control stream_id
// (StreamHeartbeat, StreamBigPayload, StreamInfoAck), tracking it for
// stop-and-wait retransmission until a DATA_ACK covers its TSN.
func (t *Transport) SendControl(streamID, protoID uint8, payload []byte) error {
	wire, tsn, err := t.buildData(TypeControl, streamID, protoID, payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.pending[tsn] = &pendingSend{wire: wire, sentAt: time.Now()}
	t.mu.Unlock()
	return t.writeRaw(wire)
}

// SendMedia delivers payload unreliably on one of the media/feedback
// packet types (TypeVideo, TypeAudio, TypeFeedbackState, TypeFeedbackEvent).
// No DATA_ACK is expected or tracked, per spec.md section 4.9.
func (t *Transport) SendMedia(pktType, streamID, protoID uint8, payload []byte) error {
	wire, _, err := t.buildData(pktType, streamID, protoID, payload)
	if err != nil {
		return err
	}
	return t.writeRaw(wire)
}

func (t *Transport) buildData(pktType, streamID, protoID uint8, payload []byte) ([]byte, uint32, error) {
	t.mu.Lock()
	keyPos := uint32(0)
	outPayload := payload
	if t.sendCipher != nil {
		keyPos = uint32(t.sendCipher.KeyPos())
		outPayload = t.sendCipher.Encrypt(payload)
	}
	tsn := t.localTSN
	t.localTSN++
	seq := t.streamSeq[streamID]
	t.streamSeq[streamID]++
	tag := t.remoteTag
	sendCipher := t.sendCipher
	t.mu.Unlock()

	body := DataChunkBody{TSN: tsn, StreamID: streamID, StreamSeq: seq, ProtoID: protoID, Payload: outPayload}
	pkt := Packet{
		Type:   pktType,
		Tag:    tag,
		KeyPos: keyPos,
		Chunk:  Chunk{Kind: ChunkData, Flags: FlagBegin | FlagEnd, Body: body.Encode()},
	}
	wire, err := t.sealOutbound(pkt)
	if err != nil {
		return nil, 0, err
	}
	if sendCipher != nil {
		sendCipher.AdvanceKeyPos(len(payload))
	}
	return wire, tsn, nil
}

// sealOutbound computes the GMAC (if ciphers are installed) over the
// packet with gmac/key_pos zeroed, then encodes the final wire form.
func (t *Transport) sealOutbound(pkt Packet) ([]byte, error) {
	t.mu.Lock()
	sendCipher := t.sendCipher
	t.mu.Unlock()

	if sendCipher == nil {
		pkt.GMAC, pkt.KeyPos = 0, 0
		return pkt.Encode(), nil
	}
	tag, err := sendCipher.GetGMAC(pkt.zeroedForGMAC())
	if err != nil {
		return nil, fmt.Errorf("transport: compute gmac: %w", err)
	}
	pkt.GMAC = binary.BigEndian.Uint32(tag)
	return pkt.Encode(), nil
}

func (t *Transport) writeRaw(wire []byte) error {
	_, err := t.conn.WriteTo(wire, t.peer)
	return err
}

func isHandshakeChunk(kind uint8) bool {
	switch kind {
	case ChunkInit, ChunkInitAck, ChunkCookie, ChunkCookieAck:
		return true
	default:
		return false
	}
}
