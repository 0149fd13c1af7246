package bigpayload

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
	"github.com/ktnrg45/goremoteplay/internal/rperrors"
	"github.com/ktnrg45/goremoteplay/internal/rplog"
	"github.com/ktnrg45/goremoteplay/internal/transport"
)

const (
	defaultSenkushaTimeout = 3 * time.Second
	defaultMTU             = 1454
	defaultRTT             = time.Second
)

// Config carries the per-session fields the launch_spec and BigPayload need;
// everything else is the fixed vendor boilerplate in DefaultLaunchSpec.
type Config struct {
	ClientVersion uint32
	SessionKey    []byte
	Width, Height uint32
	MaxFPS        uint32
	BitrateKbps   int
	MTUIn         uint32
	RTTHint       int

	// ControlKey/ControlNonce come from control.Channel.ControlCipherMaterial
	// and seed the one-off cipher launch_spec encryption uses.
	ControlKey, ControlNonce []byte

	// ECDH overrides the freshly generated key pair Run would otherwise
	// create; nil means generate one. Exposed so tests can script a
	// deterministic handshake key without intercepting real key material.
	ECDH *crypto.ECDH
}

// Result is everything the C6 transport and C8 media layer need once
// negotiation completes.
type Result struct {
	LocalCipher  *crypto.MediaCipher
	RemoteCipher *crypto.MediaCipher
	StreamInfo   StreamInfoPayload
	MTU          uint32
	RTT          time.Duration
}

// Negotiator drives the client side of spec.md section 4.6 over an already
// handshaken Transport, grounded on
// original_source/pyremoteplay/stream_packets.py:ProtoHandler's sequencing
// (big_payload send -> BANG -> STREAMINFO/STREAMINFOACK -> SENKUSHA probe).
type Negotiator struct {
	t   *transport.Transport
	log rplog.Logger

	bang       chan BangPayload
	streamInfo chan StreamInfoPayload
	disconnect chan DisconnectPayload
	senkusha   chan SenkushaPayload
}

// New wires a Negotiator's control-channel handlers onto t. Call Run once
// the Transport's handshake has completed.
func New(t *transport.Transport) *Negotiator {
	n := &Negotiator{
		t:          t,
		log:        rplog.New("bigpayload"),
		bang:       make(chan BangPayload, 1),
		streamInfo: make(chan StreamInfoPayload, 1),
		disconnect: make(chan DisconnectPayload, 1),
		senkusha:   make(chan SenkushaPayload, 4),
	}
	t.OnControl(transport.StreamBigPayload, n.handleChannel2)
	return n
}

func (n *Negotiator) handleChannel2(body transport.DataChunkBody) {
	msg, err := DecodeTakionMessage(body.Payload)
	if err != nil {
		n.log.Warn("dropping undecodable takion message", "error", err.Error())
		return
	}
	switch msg.Type {
	case PayloadBang:
		if msg.BangPayload != nil {
			n.bang <- *msg.BangPayload
		}
	case PayloadStreamInfo:
		if msg.StreamInfo != nil {
			n.streamInfo <- *msg.StreamInfo
		}
	case PayloadDisconnect:
		if msg.DisconnectPayload != nil {
			n.disconnect <- *msg.DisconnectPayload
		}
	case PayloadSenkusha:
		if msg.SenkushaPayload != nil {
			select {
			case n.senkusha <- *msg.SenkushaPayload:
			default:
			}
		}
	}
}

func (n *Negotiator) send(streamID uint8, msg TakionMessage) error {
	return n.t.SendControl(streamID, 1, msg.Encode())
}

// ReportCorruptFrame sends a CORRUPTFRAME notification for the inclusive
// [start, end] frame-index range, satisfying internal/media's
// CorruptReporter so the media layer never needs to import this package.
func (n *Negotiator) ReportCorruptFrame(start, end uint32) error {
	msg := TakionMessage{Type: PayloadCorruptFrame, CorruptPayload: &CorruptPayload{Start: start, End: end}}
	return n.send(transport.StreamBigPayload, msg)
}

// Run sends BigPayload, waits for BANG, installs media ciphers, waits for
// STREAMINFO, acks it on channel 9, then runs the best-effort SENKUSHA MTU
// and echo probe, falling back to the §4.6 defaults (MTU=1454, RTT=1s) on
// timeout.
func (n *Negotiator) Run(ctx context.Context, cfg Config, timeout time.Duration) (Result, error) {
	ecdh := cfg.ECDH
	if ecdh == nil {
		var err error
		ecdh, err = crypto.NewECDH()
		if err != nil {
			return Result{}, rperrors.New("bigpayload.Run", rperrors.Transport, err)
		}
	}

	ls := DefaultLaunchSpec()
	ls.StreamResolutions[0].Resolution.Width = int(cfg.Width)
	ls.StreamResolutions[0].Resolution.Height = int(cfg.Height)
	ls.StreamResolutions[0].MaxFPS = int(cfg.MaxFPS)
	ls.Network.BWKbpsSent = cfg.BitrateKbps
	ls.Network.MTU = int(cfg.MTUIn)
	ls.Network.RTT = cfg.RTTHint
	ls.HandshakeKey = base64.StdEncoding.EncodeToString(ecdh.HandshakeKey())

	launchSpecEnc, err := EncodeLaunchSpec(ls, cfg.ControlKey, cfg.ControlNonce)
	if err != nil {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.Transport, err)
	}

	big := TakionMessage{
		Type: PayloadBig,
		BigPayload: &BigPayload{
			ClientVersion: cfg.ClientVersion,
			SessionKey:    cfg.SessionKey,
			LaunchSpec:    []byte(launchSpecEnc),
			EncryptedKey:  make([]byte, 4),
			ECDHPubKey:    ecdh.PublicKeyUncompressed(),
			ECDHSig:       ecdh.Sign(),
		},
	}
	if err := n.send(transport.StreamBigPayload, big); err != nil {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.Transport, err)
	}

	var bang BangPayload
	select {
	case bang = <-n.bang:
	case <-time.After(timeout):
		return Result{}, rperrors.New("bigpayload.Run", rperrors.Timeout, fmt.Errorf("no BANG within %s", timeout))
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	if !bang.VersionAccepted || !bang.EncryptedKeyAccepted {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.CryptoRejected, fmt.Errorf("launch spec rejected"))
	}
	if !crypto.VerifyPeer(ecdh.HandshakeKey(), bang.ECDHPubKey, bang.ECDHSig) {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.CryptoRejected, fmt.Errorf("ecdh signature mismatch"))
	}

	secret, err := ecdh.SharedSecret(bang.ECDHPubKey)
	if err != nil {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.CryptoRejected, err)
	}

	localKey, localIV := crypto.GetBaseKeyIV(secret, ecdh.HandshakeKey(), crypto.BaseIndexLocal)
	remoteKey, remoteIV := crypto.GetBaseKeyIV(secret, ecdh.HandshakeKey(), crypto.BaseIndexRemote)
	localCipher, err := crypto.NewMediaCipher(localKey, localIV)
	if err != nil {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.Transport, err)
	}
	remoteCipher, err := crypto.NewMediaCipher(remoteKey, remoteIV)
	if err != nil {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.Transport, err)
	}
	n.t.InstallCiphers(localCipher, remoteCipher)

	var info StreamInfoPayload
	select {
	case info = <-n.streamInfo:
	case <-time.After(timeout):
		return Result{}, rperrors.New("bigpayload.Run", rperrors.Timeout, fmt.Errorf("no STREAMINFO within %s", timeout))
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	ack := TakionMessage{Type: PayloadStreamInfoAck}
	if err := n.send(transport.StreamInfoAck, ack); err != nil {
		return Result{}, rperrors.New("bigpayload.Run", rperrors.Transport, err)
	}

	mtu, rtt := n.probeSenkusha(cfg.MTUIn, defaultSenkushaTimeout)

	return Result{
		LocalCipher:  localCipher,
		RemoteCipher: remoteCipher,
		StreamInfo:   info,
		MTU:          mtu,
		RTT:          rtt,
	}, nil
}

// probeSenkusha requests an MTU echo and a round-trip echo, falling back to
// the §4.6 defaults if either times out.
func (n *Negotiator) probeSenkusha(mtuReq uint32, timeout time.Duration) (mtu uint32, rtt time.Duration) {
	mtuMsg := TakionMessage{
		Type: PayloadSenkusha,
		SenkushaPayload: &SenkushaPayload{
			Command:      SenkushaMTU,
			MTUReqID:     1,
			MTURequested: mtuReq,
		},
	}
	if err := n.send(transport.StreamBigPayload, mtuMsg); err != nil {
		n.log.Warn("senkusha mtu probe send failed", "error", err.Error())
		return defaultMTU, defaultRTT
	}

	select {
	case reply := <-n.senkusha:
		if reply.Command == SenkushaMTU {
			mtu = reply.MTURequested
		} else {
			mtu = defaultMTU
		}
	case <-time.After(timeout):
		n.log.Info("senkusha mtu probe timed out, using default", "mtu", defaultMTU)
		mtu = defaultMTU
	}

	start := time.Now()
	echoMsg := TakionMessage{Type: PayloadSenkusha, SenkushaPayload: &SenkushaPayload{Command: SenkushaEcho, EchoState: true}}
	if err := n.send(transport.StreamBigPayload, echoMsg); err != nil {
		n.log.Warn("senkusha echo probe send failed", "error", err.Error())
		return mtu, defaultRTT
	}

	select {
	case <-n.senkusha:
		rtt = time.Since(start)
	case <-time.After(timeout):
		n.log.Info("senkusha echo probe timed out, using default", "rtt", defaultRTT)
		rtt = defaultRTT
	}
	return mtu, rtt
}
