// Package control implements spec.md C5: the HTTP-over-TCP init/auth
// handshake and the long-lived framed control channel it upgrades into
// (heartbeat, session-id, standby), grounded on
// original_source/pyremoteplay/session.py's Session class and structurally
// adapted from moonlight-common-go/control/stream.go's mutex-guarded Stream.
package control

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ktnrg45/goremoteplay/internal/codec"
	"github.com/ktnrg45/goremoteplay/internal/crypto"
	"github.com/ktnrg45/goremoteplay/internal/profile"
	"github.com/ktnrg45/goremoteplay/internal/rperrors"
	"github.com/ktnrg45/goremoteplay/internal/rplog"
)

const (
	rpPort        = 9295
	rpVersion     = "10.0"
	userAgent     = "remoteplay Go"
	osType        = "Win10.0.0"
	headerLength  = 8
	heartbeatIdle = 5 * time.Second

	didPrefixLen = 10
)

// didPrefix is the fixed 10-byte device-id prefix, per session.py:DID_PREFIX.
var didPrefix = []byte{0x00, 0x18, 0x00, 0x00, 0x00, 0x07, 0x00, 0x40, 0x00, 0x80}

// heartbeatResponsePayload is the literal 8-byte HeartbeatResponse body, per
// session.py:HEARTBEAT_RESPONSE.
var heartbeatResponsePayload = []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0xfe, 0x00, 0x00}

// sessionKey0 and sessionKey1 are the vendor key tables that
// crypto.GetRPNonce/GetSessionAESKey index into (pyremoteplay/keys.py's
// SESSION_KEY_0/SESSION_KEY_1). That file was not included in the filtered
// original_source drop (see DESIGN.md); these are placeholder tables of the
// shape the nonce-derived slicing requires (32*112+16 bytes, enough to cover
// a 16-byte read at any (nonce[0]>>3) or (nonce[7]>>3) offset in 0..31).
var (
	sessionKey0 = makeSessionKeyTable(0x3c)
	sessionKey1 = makeSessionKeyTable(0xc3)
)

func makeSessionKeyTable(seed byte) []byte {
	const size = 32*112 + 16
	t := make([]byte, size)
	for i := range t {
		t[i] = byte(int(seed) + i*3)
	}
	return t
}

// MessageType enumerates the framed control-message types, per
// session.py:Session.MessageType.
type MessageType uint16

const (
	LoginPinRequest  MessageType = 0x04
	LoginPinResponse MessageType = 0x8004
	Login            MessageType = 0x05
	SessionID        MessageType = 0x33
	HeartbeatRequest MessageType = 0xfe
	HeartbeatResponse MessageType = 0x1fe
	Standby          MessageType = 0x50
	KeyboardEnableToggle    MessageType = 0x20
	KeyboardOpen            MessageType = 0x21
	KeyboardCloseRemote     MessageType = 0x22
	KeyboardTextChangeReq   MessageType = 0x23
	KeyboardTextChangeRes   MessageType = 0x24
	KeyboardCloseReq        MessageType = 0x25
)

// Message is a decoded frame off the control channel.
type Message struct {
	Type    MessageType
	Payload []byte
}

// Callbacks are the session-ready/terminated notifications a Channel's
// owner receives as the handshake and background loop progress.
type Callbacks struct {
	// SessionReady fires once, the first time a SessionID frame arrives.
	SessionReady func(sessionID []byte)
	// Terminated fires when the background receive loop exits.
	Terminated func(err error)
	// Message fires for every decoded frame not otherwise handled
	// internally (heartbeats and every SessionID frame are consumed by the
	// channel itself).
	Message func(Message)
}

// Channel is one live session control connection: the init/auth handshake
// plus the framed, ciphered message loop it upgrades into.
type Channel struct {
	mu sync.Mutex

	host        string
	hostProfile profile.HostProfile

	conn net.Conn
	send *crypto.SessionCipher
	recv *crypto.SessionCipher

	// aesKey/rpNonce are retained so C7 can derive its own one-off,
	// counter-0 SessionCipher for launch_spec encryption without
	// disturbing this channel's live send/recv counters (see
	// original_source/pyremoteplay/stream.py:_format_launch_spec, which
	// calls self._ctrl._cipher.encrypt(data, counter=0) directly).
	aesKey  []byte
	rpNonce []byte

	sessionID []byte
	serverType uint32

	hbLast time.Time

	cb Callbacks
	log rplog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannel constructs an unconnected Channel for the given host profile.
func NewChannel(host string, hostProfile profile.HostProfile, cb Callbacks) *Channel {
	return &Channel{
		host:        host,
		hostProfile: hostProfile,
		cb:    cb,
		log:   rplog.New("control"),
	}
}

// Connect drives the two-request init/auth handshake of spec.md section
// 4.4 and, on success, starts the background receive/heartbeat loop.
func (c *Channel) Connect(ctx context.Context, timeout time.Duration) error {
	nonce, err := c.sendInit(timeout)
	if err != nil {
		return err
	}

	rpNonce := crypto.GetRPNonce(nonce, sessionKey0[int(nonce[0]>>3)*112:])
	rpKeyBytes, err := hexDecode(c.hostProfile.RPKey)
	if err != nil {
		return rperrors.New("control.Connect", rperrors.AuthFailed, err)
	}
	aesKey := crypto.GetSessionAESKey(nonce, rpKeyBytes, sessionKey1[int(nonce[7]>>3)*112:])

	c.aesKey = aesKey
	c.rpNonce = rpNonce
	c.send = crypto.NewSessionCipher(aesKey, rpNonce, 0)
	c.recv = crypto.NewSessionCipher(aesKey, rpNonce, 0)

	if err := c.sendAuth(timeout); err != nil {
		return err
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.hbLast = time.Now()
	c.wg.Add(1)
	go c.receiveLoop()
	return nil
}

func hexDecode(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// sendInit issues GET /sie/ps4/rp/sess/init and returns the decoded RP-Nonce.
func (c *Channel) sendInit(timeout time.Duration) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s:%d/sie/ps4/rp/sess/init", c.host, rpPort), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("RP-Registkey", c.hostProfile.RegistKey)
	req.Header.Set("RP-Version", rpVersion)
	req.Header.Set("User-Agent", userAgent)
	req.Close = true

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, rperrors.New("control.sendInit", rperrors.Unreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		reason := resp.Header.Get("RP-Application-Reason")
		var code uint32
		fmt.Sscanf(reason, "%08x", &code)
		return nil, rperrors.New("control.sendInit", rperrors.AppReasonKind(code), fmt.Errorf("status %d", resp.StatusCode))
	}

	nonceB64 := resp.Header.Get("RP-Nonce")
	if nonceB64 == "" {
		return nil, rperrors.New("control.sendInit", rperrors.Protocol, fmt.Errorf("missing RP-Nonce"))
	}
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return nil, rperrors.New("control.sendInit", rperrors.Protocol, err)
	}
	return nonce, nil
}

// sendAuth issues GET /sie/ps4/rp/sess/ctrl with the encrypted identity
// fields, retains the raw TCP connection, and decrypts RP-Server-Type.
func (c *Channel) sendAuth(timeout time.Duration) error {
	regKey, err := hexDecode(c.hostProfile.RegistKey)
	if err != nil {
		return rperrors.New("control.sendAuth", rperrors.AuthFailed, err)
	}
	auth := append(append([]byte{}, regKey...), make([]byte, 8)...)
	authEnc, err := c.send.Encrypt(auth)
	if err != nil {
		return err
	}

	did := genDeviceID()
	didEnc, err := c.send.Encrypt(did)
	if err != nil {
		return err
	}

	osPadded := make([]byte, 10)
	copy(osPadded, osType)
	osEnc, err := c.send.Encrypt(osPadded)
	if err != nil {
		return err
	}

	bitrateEnc, err := c.send.Encrypt(make([]byte, 4))
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp4", net.JoinHostPort(c.host, strconv.Itoa(rpPort)), timeout)
	if err != nil {
		return rperrors.New("control.sendAuth", rperrors.Unreachable, err)
	}

	var req bytes.Buffer
	fmt.Fprintf(&req, "GET /sie/ps4/rp/sess/ctrl HTTP/1.1\r\n")
	fmt.Fprintf(&req, "Host: %s:%d\r\n", c.host, rpPort)
	fmt.Fprintf(&req, "User-Agent: %s\r\n", userAgent)
	fmt.Fprintf(&req, "Connection: keep-alive\r\n")
	fmt.Fprintf(&req, "RP-Auth: %s\r\n", base64.StdEncoding.EncodeToString(authEnc))
	fmt.Fprintf(&req, "RP-Version: %s\r\n", rpVersion)
	fmt.Fprintf(&req, "RP-Did: %s\r\n", base64.StdEncoding.EncodeToString(didEnc))
	fmt.Fprintf(&req, "RP-ControllerType: 3\r\n")
	fmt.Fprintf(&req, "RP-ClientType: 11\r\n")
	fmt.Fprintf(&req, "RP-OSType: %s\r\n", base64.StdEncoding.EncodeToString(osEnc))
	fmt.Fprintf(&req, "RP-ConPath: 1\r\n")
	fmt.Fprintf(&req, "RP-StartBitrate: %s\r\n\r\n", base64.StdEncoding.EncodeToString(bitrateEnc))

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(req.Bytes()); err != nil {
		conn.Close()
		return rperrors.New("control.sendAuth", rperrors.Unreachable, err)
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		conn.Close()
		return rperrors.New("control.sendAuth", rperrors.Protocol, err)
	}

	serverTypeB64 := resp.Header.Get("RP-Server-Type")
	if resp.StatusCode != http.StatusOK || serverTypeB64 == "" {
		conn.Close()
		return rperrors.New("control.sendAuth", rperrors.AuthFailed, fmt.Errorf("status %d", resp.StatusCode))
	}
	serverTypeEnc, err := base64.StdEncoding.DecodeString(serverTypeB64)
	if err != nil {
		conn.Close()
		return err
	}
	serverTypePlain, err := c.recv.Decrypt(serverTypeEnc)
	if err != nil {
		conn.Close()
		return err
	}
	c.serverType = codec.LittleEndian.Uint32(pad4(serverTypePlain))

	conn.SetDeadline(time.Time{})
	c.conn = conn
	return nil
}

func pad4(b []byte) []byte {
	if len(b) >= 4 {
		return b[:4]
	}
	out := make([]byte, 4)
	copy(out, b)
	return out
}

func genDeviceID() []byte {
	buf := make([]byte, didPrefixLen+16+6)
	copy(buf, didPrefix)
	rand.Read(buf[didPrefixLen : didPrefixLen+16])
	return buf
}

// SessionID returns the opaque session id captured from the first SessionID
// frame, or nil if not yet received.
func (c *Channel) SessionID() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ControlCipherMaterial returns the AES key and nonce this channel's
// session cipher was derived from, so C7 can build its own one-off,
// counter-0 cipher instance for launch_spec encryption (spec.md section
// 4.6) instead of advancing this channel's live counters.
func (c *Channel) ControlCipherMaterial() (key, nonce []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.aesKey...), append([]byte(nil), c.rpNonce...)
}

// ServerType returns the decrypted RP-Server-Type tag from the auth response.
func (c *Channel) ServerType() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverType
}

// Send encrypts and frames payload under msgType and writes it to the
// connection, per session.py:_build_msg.
func (c *Channel) Send(msgType MessageType, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(msgType, payload)
}

func (c *Channel) sendLocked(msgType MessageType, payload []byte) error {
	enc, err := c.send.Encrypt(payload)
	if err != nil {
		return err
	}
	buf := make([]byte, headerLength+len(enc))
	codec.PutUint32BE(buf[0:4], uint32(len(enc)))
	codec.PutUint16BE(buf[4:6], uint16(msgType))
	copy(buf[headerLength:], enc)
	_, err = c.conn.Write(buf)
	return err
}

// Standby sends the Standby frame and closes the channel, per
// session.py:Session.standby.
func (c *Channel) Standby() error {
	if err := c.Send(Standby, nil); err != nil {
		return err
	}
	return c.Close()
}

// Close cancels the background loop and closes the underlying connection.
func (c *Channel) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	c.wg.Wait()
	return err
}

func (c *Channel) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, err := c.conn.Read(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				c.checkHeartbeat()
				continue
			}
			if c.cb.Terminated != nil {
				c.cb.Terminated(err)
			}
			return
		}
		if n < headerLength {
			continue
		}
		c.handle(buf[:n])
		c.checkHeartbeat()
	}
}

func (c *Channel) checkHeartbeat() {
	c.mu.Lock()
	idle := time.Since(c.hbLast)
	c.mu.Unlock()
	if idle > heartbeatIdle {
		c.log.Info("control heartbeat timeout, sending request")
		c.Send(HeartbeatRequest, nil)
		c.mu.Lock()
		c.hbLast = time.Now()
		c.mu.Unlock()
	}
}

// handle decrypts and dispatches one framed message, per session.py:_handle.
func (c *Channel) handle(data []byte) {
	payloadLen := codec.ReadUint32BE(data[0:4])
	rawType := codec.ReadUint16BE(data[4:6])
	msgType := MessageType(rawType)

	var payload []byte
	if payloadLen > 0 {
		end := headerLength + int(payloadLen)
		if end > len(data) {
			end = len(data)
		}
		enc := data[headerLength:end]
		dec, err := c.recv.Decrypt(enc)
		if err != nil {
			c.log.Error("control decrypt failed", err)
			return
		}
		payload = dec
	}

	c.mu.Lock()
	c.hbLast = time.Now()
	c.mu.Unlock()

	switch msgType {
	case HeartbeatRequest:
		c.sendHeartbeatResponse()
	case HeartbeatResponse:
		// liveness already reset above.
	case SessionID:
		c.mu.Lock()
		already := c.sessionID != nil
		if !already && len(payload) > 2 {
			c.sessionID = sanitizeSessionID(payload[2:])
		}
		sid := c.sessionID
		c.mu.Unlock()
		if !already && c.cb.SessionReady != nil {
			c.cb.SessionReady(sid)
		}
	default:
		if c.cb.Message != nil {
			c.cb.Message(Message{Type: msgType, Payload: payload})
		}
	}
}

func (c *Channel) sendHeartbeatResponse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendLocked(HeartbeatResponse, heartbeatResponsePayload); err != nil {
		c.log.Error("control send failed", err)
	}
}

// sanitizeSessionID widens any non-ASCII byte to its low byte, per spec.md
// section 4.4: the console sometimes emits a session id with stray non-UTF-8
// bytes mixed into otherwise ASCII text (session.py's invalid_session_id
// handles the same condition by re-encoding each byte as a UTF-8 codepoint).
func sanitizeSessionID(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		out = append(out, b&0xff)
	}
	return out
}
