package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
)

// udpPair returns two unconnected loopback UDP sockets; each side addresses
// the other by LocalAddr, so a Transport can be driven against a
// hand-scripted peer without touching a real console.
func udpPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestHandshakeCompletesAgainstScriptedServer(t *testing.T) {
	clientConn, serverConn := udpPair(t)
	client := New(clientConn, serverConn.LocalAddr())

	serverDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, clientAddr, err := serverConn.ReadFrom(buf)
		if err != nil {
			serverDone <- err
			return
		}
		initPkt, err := DecodePacket(buf[:n])
		if err != nil || initPkt.Chunk.Kind != ChunkInit {
			serverDone <- err
			return
		}

		ackPkt := Packet{
			Type: TypeControl,
			Tag:  initPkt.Tag,
			Chunk: Chunk{
				Kind: ChunkInitAck,
				Body: InitAckChunkBody{InitiateTag: 0xcafef00d, InitialTSN: 100, Cookie: []byte("cookie")}.Encode(),
			},
		}
		if _, err := serverConn.WriteTo(ackPkt.Encode(), clientAddr); err != nil {
			serverDone <- err
			return
		}

		n, clientAddr, err = serverConn.ReadFrom(buf)
		if err != nil {
			serverDone <- err
			return
		}
		cookiePkt, err := DecodePacket(buf[:n])
		if err != nil || cookiePkt.Chunk.Kind != ChunkCookie {
			serverDone <- err
			return
		}
		if string(cookiePkt.Chunk.Body) != "cookie" {
			serverDone <- errors.New("cookie mismatch")
			return
		}

		cookieAckPkt := Packet{Type: TypeControl, Tag: initPkt.Tag, Chunk: Chunk{Kind: ChunkCookieAck}}
		if _, err := serverConn.WriteTo(cookieAckPkt.Encode(), clientAddr); err != nil {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	require.NoError(t, client.Handshake(2*time.Second))
	require.NoError(t, <-serverDone)
	assert.EqualValues(t, 0xcafef00d, client.remoteTag)
}

func TestSendControlRetransmitsUntilAcked(t *testing.T) {
	clientConn, serverConn := udpPair(t)
	client := New(clientConn, serverConn.LocalAddr())
	client.remoteTag = 1
	client.SetRetransmitTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.Run(ctx)
	defer client.Close()

	require.NoError(t, client.SendControl(StreamHeartbeat, 0, []byte("ping")))

	buf := make([]byte, 4096)
	serverConn.SetReadDeadline(time.Now().Add(1 * time.Second))
	n, clientAddr, err := serverConn.ReadFrom(buf)
	require.NoError(t, err)
	first, err := DecodePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, ChunkData, first.Chunk.Kind)

	// Drop the first delivery; wait for the stop-and-wait retransmit.
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err = serverConn.ReadFrom(buf)
	require.NoError(t, err, "expected a retransmit after the timeout")
	second, err := DecodePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, first.Chunk.Body, second.Chunk.Body)

	body, err := DecodeDataChunkBody(second.Chunk.Body)
	require.NoError(t, err)
	ack := DataAckChunkBody{CumulativeTSN: body.TSN, RWND: defaultRWND}
	ackPkt := Packet{Type: TypeControl, Tag: client.localTag, Chunk: Chunk{Kind: ChunkDataAck, Body: ack.Encode()}}
	_, err = serverConn.WriteTo(ackPkt.Encode(), clientAddr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.pending) == 0
	}, time.Second, 10*time.Millisecond, "DATA_ACK should clear the pending retransmit queue")
}

func TestSendMediaAuthenticatedRoundTrip(t *testing.T) {
	clientConn, serverConn := udpPair(t)
	client := New(clientConn, serverConn.LocalAddr())
	client.remoteTag = 7

	baseKey := make([]byte, 16)
	baseIV := make([]byte, 4)
	for i := range baseKey {
		baseKey[i] = byte(i + 1)
	}
	for i := range baseIV {
		baseIV[i] = byte(i + 0x10)
	}

	sendCipher, err := crypto.NewMediaCipher(baseKey, baseIV)
	require.NoError(t, err)
	recvCipher, err := crypto.NewMediaCipher(baseKey, baseIV)
	require.NoError(t, err)
	client.InstallCiphers(sendCipher, nil)

	require.NoError(t, client.SendMedia(TypeVideo, StreamInvalid, 1, []byte("frame-bytes")))

	buf := make([]byte, 4096)
	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := serverConn.ReadFrom(buf)
	require.NoError(t, err)

	pkt, err := DecodePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, TypeVideo, pkt.Type)

	recvCipher.SeekKeyPos(uint64(pkt.KeyPos))
	var tagBytes [4]byte
	binary.BigEndian.PutUint32(tagBytes[:], pkt.GMAC)
	ok, err := recvCipher.VerifyGMAC(pkt.zeroedForGMAC(), tagBytes[:])
	require.NoError(t, err)
	assert.True(t, ok, "gmac should verify against a cipher seeded with the same base key/iv")

	body, err := DecodeDataChunkBody(pkt.Chunk.Body)
	require.NoError(t, err)
	plaintext := recvCipher.Decrypt(body.Payload)
	assert.Equal(t, []byte("frame-bytes"), plaintext)
}

func TestSendMediaIsNotTrackedForRetransmit(t *testing.T) {
	clientConn, serverConn := udpPair(t)
	client := New(clientConn, serverConn.LocalAddr())
	client.remoteTag = 1

	require.NoError(t, client.SendMedia(TypeAudio, StreamInvalid, 2, []byte("audio")))

	buf := make([]byte, 4096)
	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := serverConn.ReadFrom(buf)
	require.NoError(t, err)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Empty(t, client.pending, "unreliable media sends must never populate the retransmit queue")
}
