package bigpayload

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
	"github.com/ktnrg45/goremoteplay/internal/transport"
)

func udpLoopback(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

// readControlData reads packets off conn until it finds a DATA chunk,
// silently skipping the DATA_ACK packets the transport auto-generates for
// every control message it receives from this test's scripted sends.
func readControlData(t *testing.T, conn *net.UDPConn) (transport.DataChunkBody, net.Addr) {
	t.Helper()
	buf := make([]byte, 8192)
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := conn.ReadFrom(buf)
		require.NoError(t, err)
		pkt, err := transport.DecodePacket(buf[:n])
		require.NoError(t, err)
		if pkt.Chunk.Kind == transport.ChunkDataAck {
			continue
		}
		require.Equal(t, transport.ChunkData, pkt.Chunk.Kind)
		body, err := transport.DecodeDataChunkBody(pkt.Chunk.Body)
		require.NoError(t, err)
		return body, addr
	}
}

func sendControl(t *testing.T, conn *net.UDPConn, addr net.Addr, clientTag uint32, streamID uint8, tsn uint32, msg TakionMessage) {
	t.Helper()
	body := transport.DataChunkBody{TSN: tsn, StreamID: streamID, ProtoID: 1, Payload: msg.Encode()}
	pkt := transport.Packet{
		Type:  transport.TypeControl,
		Tag:   clientTag,
		Chunk: transport.Chunk{Kind: transport.ChunkData, Flags: transport.FlagBegin | transport.FlagEnd, Body: body.Encode()},
	}
	_, err := conn.WriteTo(pkt.Encode(), addr)
	require.NoError(t, err)
}

// TestNegotiatorFullHandshake drives Negotiator.Run against a hand-scripted
// console that answers BigPayload with a real ECDH-keyed BANG (signed with
// the client's own handshake key, injected via Config.ECDH so the test
// doesn't need to invert the encrypted launch_spec), then STREAMINFO, then
// one SENKUSHA MTU reply.
func TestNegotiatorFullHandshake(t *testing.T) {
	clientConn, serverConn := udpLoopback(t)
	tr := transport.New(clientConn, serverConn.LocalAddr())
	tr.SetRetransmitTimeout(10 * time.Second) // avoid spurious retransmits racing the script

	clientECDH, err := crypto.NewECDH()
	require.NoError(t, err)

	serverDone := make(chan struct{})
	var serverTag uint32 = 0xfeed0001
	go func() {
		defer close(serverDone)

		bigBody, addr := readControlData(t, serverConn)
		bigMsg, err := DecodeTakionMessage(bigBody.Payload)
		require.NoError(t, err)
		require.Equal(t, PayloadBig, bigMsg.Type)
		require.NotNil(t, bigMsg.BigPayload)
		assert.Equal(t, []byte("sess-key"), bigMsg.BigPayload.SessionKey)

		serverECDH, err := crypto.NewECDH()
		require.NoError(t, err)

		bang := TakionMessage{
			Type: PayloadBang,
			BangPayload: &BangPayload{
				VersionAccepted:      true,
				EncryptedKeyAccepted: true,
				ECDHPubKey:           serverECDH.PublicKeyUncompressed(),
				ECDHSig:              crypto.SignPublicKey(clientECDH.HandshakeKey(), serverECDH.PublicKeyUncompressed()),
			},
		}
		sendControl(t, serverConn, addr, serverTag, transport.StreamBigPayload, 0, bang)

		info := TakionMessage{
			Type: PayloadStreamInfo,
			StreamInfo: &StreamInfoPayload{
				Resolution:           []Resolution{{Width: 1280, Height: 720, VideoHeader: []byte("vheader")}},
				AudioHeader:          make([]byte, 32),
				StartTimeout:         100,
				AfkTimeout:           100,
				AfkTimeoutDisconnect: 100,
			},
		}
		sendControl(t, serverConn, addr, serverTag, transport.StreamBigPayload, 1, info)

		ackBody, _ := readControlData(t, serverConn)
		ackMsg, err := DecodeTakionMessage(ackBody.Payload)
		require.NoError(t, err)
		assert.Equal(t, PayloadStreamInfoAck, ackMsg.Type)

		mtuBody, _ := readControlData(t, serverConn)
		mtuMsg, err := DecodeTakionMessage(mtuBody.Payload)
		require.NoError(t, err)
		require.Equal(t, PayloadSenkusha, mtuMsg.Type)
		require.Equal(t, SenkushaMTU, mtuMsg.SenkushaPayload.Command)

		mtuReply := TakionMessage{Type: PayloadSenkusha, SenkushaPayload: &SenkushaPayload{Command: SenkushaMTU, MTUReqID: mtuMsg.SenkushaPayload.MTUReqID, MTURequested: 1400}}
		sendControl(t, serverConn, addr, serverTag, transport.StreamBigPayload, 2, mtuReply)

		echoBody, _ := readControlData(t, serverConn)
		echoMsg, err := DecodeTakionMessage(echoBody.Payload)
		require.NoError(t, err)
		require.Equal(t, PayloadSenkusha, echoMsg.Type)
		require.Equal(t, SenkushaEcho, echoMsg.SenkushaPayload.Command)

		echoReply := TakionMessage{Type: PayloadSenkusha, SenkushaPayload: &SenkushaPayload{Command: SenkushaEcho, EchoState: true}}
		sendControl(t, serverConn, addr, serverTag, transport.StreamBigPayload, 3, echoReply)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Run(ctx)
	defer tr.Close()

	n := New(tr)
	cfg := Config{
		ClientVersion: 9,
		SessionKey:    []byte("sess-key"),
		Width:         1280, Height: 720, MaxFPS: 60,
		ControlKey:   bytes.Repeat([]byte{0x01}, 16),
		ControlNonce: bytes.Repeat([]byte{0x02}, 16),
		ECDH:         clientECDH,
	}

	result, err := n.Run(ctx, cfg, 2*time.Second)
	require.NoError(t, err)

	<-serverDone

	require.NotNil(t, result.LocalCipher)
	require.NotNil(t, result.RemoteCipher)
	require.Len(t, result.StreamInfo.Resolution, 1)
	assert.EqualValues(t, 1280, result.StreamInfo.Resolution[0].Width)
	assert.EqualValues(t, 1400, result.MTU)
	assert.GreaterOrEqual(t, result.RTT, time.Duration(0))
}

func TestNegotiatorRejectsBadSignature(t *testing.T) {
	clientConn, serverConn := udpLoopback(t)
	tr := transport.New(clientConn, serverConn.LocalAddr())

	clientECDH, err := crypto.NewECDH()
	require.NoError(t, err)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		_, addr := readControlData(t, serverConn)

		serverECDH, err := crypto.NewECDH()
		require.NoError(t, err)
		bang := TakionMessage{
			Type: PayloadBang,
			BangPayload: &BangPayload{
				VersionAccepted:      true,
				EncryptedKeyAccepted: true,
				ECDHPubKey:           serverECDH.PublicKeyUncompressed(),
				ECDHSig:              []byte("not-a-valid-signature-not-a-valid-sig"),
			},
		}
		sendControl(t, serverConn, addr, 1, transport.StreamBigPayload, 0, bang)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Run(ctx)
	defer tr.Close()

	n := New(tr)
	cfg := Config{
		SessionKey:   []byte("sess-key"),
		ControlKey:   bytes.Repeat([]byte{0x01}, 16),
		ControlNonce: bytes.Repeat([]byte{0x02}, 16),
		ECDH:         clientECDH,
	}
	_, err = n.Run(ctx, cfg, time.Second)
	require.Error(t, err)
	<-serverDone
}
