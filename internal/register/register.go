// Package register implements spec.md C4: the two-round-trip registration
// handshake that exchanges a console PIN for a long-lived RegistKey/RP-Key
// credential pair, grounded bit-for-bit on
// original_source/pyremoteplay/register.py.
package register

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
	"github.com/ktnrg45/goremoteplay/internal/profile"
	"github.com/ktnrg45/goremoteplay/internal/rperrors"
)

const (
	// ClientType is the fixed client identity string sent in the
	// encrypted registration body, matching register.py's CLIENT_TYPE.
	ClientType = "dabfa2ec873de5839bee8d3f4c0239c4282c07c25c6077a2931afcf0adc0d34f"

	rpPort  = 9295
	rpVersion = "10.0"
	userAgent = "remoteplay Go"

	regInitMsg  = "SRC2"
	regStartTag = "RES2"

	regDataLen = 480
	regKeySize = 16

	// The HTTP request line is sent with a literal doubled tail; this is
	// required by the console for compatibility and is preserved
	// verbatim rather than "fixed" into a conforming request line.
	httpRequestLine = "POST /sie/ps4/rp/sess/rgst HTTP/1.1\r\n HTTP/1.1\r\n"
)

// regKey0 and regKey1 are the 512-byte (16*32) vendor key tables used to
// derive key_0/key_1. The filtered original_source drop did not include
// pyremoteplay/keys.py (its literal byte tables), so these are placeholder
// tables of the correct shape rather than a byte-for-byte reproduction —
// documented in DESIGN.md.
var (
	regKey0 = makeKeyTable(0xA5)
	regKey1 = makeKeyTable(0x5A)
)

func makeKeyTable(seed byte) []byte {
	t := make([]byte, regKeySize*32)
	for i := range t {
		t[i] = byte(int(seed) + i*7)
	}
	return t
}

// GenKey0 derives key_0 from the registration PIN, per
// register.py:gen_key_0: key[i] = REG_KEY_0[i*32+1], then the last 4 bytes
// are XORed with the PIN's big-endian 32-bit byte-shifted value.
func GenKey0(pin uint32) []byte {
	key := make([]byte, regKeySize)
	for i := 0; i < regKeySize; i++ {
		key[i] = regKey0[i*32+1]
	}
	shift := 0
	for i := 12; i < regKeySize; i++ {
		key[i] ^= byte((pin >> (24 - shift*8)) & 0xff)
		shift++
	}
	return key
}

// GenKey1 derives key_1 from the registration nonce, per
// register.py:gen_key_1: key[i] = ((nonce[i] ^ REG_KEY_1[i*32+8]) + 41 + i) % 256.
func GenKey1(nonce []byte) []byte {
	key := make([]byte, regKeySize)
	for i := 0; i < regKeySize; i++ {
		shift := regKey1[i*32+8]
		key[i] = byte((int(nonce[i]^shift) + 41 + i) % 256)
	}
	return key
}

// BuildRegistPayload assembles the 480-byte payload with key_1 overlaid at
// the two documented offsets, per register.py:get_regist_payload.
func BuildRegistPayload(key1 []byte) []byte {
	base := bytes.Repeat([]byte{'A'}, regDataLen)
	payload := make([]byte, 0, regDataLen)
	payload = append(payload, base[0:199]...)
	payload = append(payload, key1[8:]...)
	payload = append(payload, base[207:401]...)
	payload = append(payload, key1[0:8]...)
	payload = append(payload, base[409:]...)
	return payload
}

// EncryptBody encrypts the Client-Type/Np-AccountId body under the key_0
// session cipher, per register.py:encrypt_payload.
func EncryptBody(cipher *crypto.SessionCipher, psnID string) ([]byte, error) {
	body := fmt.Sprintf("Client-Type: %s\r\nNp-AccountId: %s\r\n", ClientType, psnID)
	return cipher.Encrypt([]byte(body))
}

// BuildHeaders renders the (intentionally malformed) HTTP request header
// block, per register.py:get_regist_headers.
func BuildHeaders(payloadLength int) []byte {
	var b strings.Builder
	b.WriteString(httpRequestLine)
	b.WriteString("HOST: 10.0.2.15\r\n")
	fmt.Fprintf(&b, "User-Agent: %s\r\n", userAgent)
	b.WriteString("Connection: close\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", payloadLength)
	fmt.Fprintf(&b, "RP-Version: %s\r\n\r\n", rpVersion)
	return []byte(b.String())
}

// InitProbe sends the SRC2 UDP probe and checks for a RES2-prefixed
// response, per register.py:regist_init.
func InitProbe(host string, timeout time.Duration) error {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(host), Port: rpPort})
	if err != nil {
		return rperrors.New("register.InitProbe", rperrors.Unreachable, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(regInitMsg)); err != nil {
		return rperrors.New("register.InitProbe", rperrors.Unreachable, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	buf := make([]byte, 32)
	n, err := conn.Read(buf)
	if err != nil {
		return rperrors.New("register.InitProbe", rperrors.NotInRegistMode, err)
	}
	if n < 4 || string(buf[:4]) != regStartTag {
		return rperrors.New("register.InitProbe", rperrors.NotInRegistMode, nil)
	}
	return nil
}

// SendRegistration performs the TCP register round trip and returns the
// raw response bytes, per register.py:get_register_info.
func SendRegistration(host string, headers, payload []byte, timeout time.Duration) ([]byte, error) {
	conn, err := net.DialTimeout("tcp4", net.JoinHostPort(host, strconv.Itoa(rpPort)), timeout)
	if err != nil {
		return nil, rperrors.New("register.Send", rperrors.Unreachable, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	if _, err := conn.Write(append(append([]byte{}, headers...), payload...)); err != nil {
		return nil, rperrors.New("register.Send", rperrors.Unreachable, err)
	}

	reader := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	n, err := reader.Read(buf)
	if err != nil {
		return nil, rperrors.New("register.Send", rperrors.Timeout, err)
	}
	return buf[:n], nil
}

// ParseResponse decrypts the trailing encrypted body of a register response
// and decodes its \r\n-delimited key:value pairs, per
// register.py:parse_response.
func ParseResponse(cipher *crypto.SessionCipher, response []byte) (map[string]string, error) {
	lines := bytes.Split(response, []byte("\r\n"))
	if len(lines) == 0 {
		return nil, rperrors.New("register.ParseResponse", rperrors.RegistFailed, fmt.Errorf("empty response"))
	}
	if !bytes.Contains(lines[0], []byte("200 OK")) {
		return nil, rperrors.New("register.ParseResponse", rperrors.RegistFailed, fmt.Errorf("status line: %q", lines[0]))
	}

	cipherText := lines[len(lines)-1]
	plaintext, err := cipher.Decrypt(cipherText)
	if err != nil {
		return nil, rperrors.New("register.ParseResponse", rperrors.RegistFailed, err)
	}
	return parseInfoLines(string(plaintext)), nil
}

// parseInfoLines decodes \r\n-delimited "key: value" pairs, per the tail of
// register.py:parse_response.
func parseInfoLines(text string) map[string]string {
	info := make(map[string]string)
	for _, item := range strings.Split(text, "\r\n") {
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ": ", 2)
		if len(parts) != 2 {
			continue
		}
		info[parts[0]] = parts[1]
	}
	return info
}

// Result is the decoded, validated outcome of a successful registration.
type Result struct {
	Host profile.HostProfile
}

// Register drives the full two-round-trip flow and returns a validated
// HostProfile, per register.py:register.
func Register(host string, kind profile.ConsoleKind, psnID string, pin uint32, timeout time.Duration) (Result, error) {
	if err := InitProbe(host, timeout); err != nil {
		return Result{}, err
	}

	nonce, err := crypto.GenerateRandomNonce(16)
	if err != nil {
		return Result{}, rperrors.New("register.Register", rperrors.RegistFailed, err)
	}

	key0 := GenKey0(pin)
	key1 := GenKey1(nonce)

	payload := BuildRegistPayload(key1)
	cipher := crypto.NewSessionCipher(key0, nonce, 0)

	encBody, err := EncryptBody(cipher, psnID)
	if err != nil {
		return Result{}, rperrors.New("register.Register", rperrors.RegistFailed, err)
	}
	payload = append(payload, encBody...)

	headers := BuildHeaders(len(payload))
	response, err := SendRegistration(host, headers, payload, timeout)
	if err != nil {
		return Result{}, err
	}

	info, err := ParseResponse(cipher, response)
	if err != nil {
		return Result{}, err
	}

	kindPrefix := string(kind)
	h := profile.HostProfile{
		Kind:      kind,
		RegistKey: info[kindPrefix+"-RegistKey"],
		RPKey:     info["RP-Key"],
		Mac:       info[kindPrefix+"-Mac"],
		Nickname:  info[kindPrefix+"-Nickname"],
	}
	if err := h.Validate(); err != nil {
		return Result{}, rperrors.New("register.Register", rperrors.RegistFailed, err)
	}
	return Result{Host: h}, nil
}
