package register

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ktnrg45/goremoteplay/internal/crypto"
)

func TestGenKey0Length(t *testing.T) {
	key := GenKey0(12345678)
	assert.Len(t, key, regKeySize)
}

func TestGenKey1Length(t *testing.T) {
	nonce := make([]byte, 16)
	for i := range nonce {
		nonce[i] = byte(i)
	}
	key := GenKey1(nonce)
	assert.Len(t, key, regKeySize)
}

func TestBuildRegistPayloadOverlay(t *testing.T) {
	key1 := make([]byte, regKeySize)
	for i := range key1 {
		key1[i] = byte(0xF0 + i)
	}
	payload := BuildRegistPayload(key1)
	require.Len(t, payload, regDataLen)

	assert.Equal(t, key1[8:], payload[199:207])
	assert.Equal(t, key1[0:8], payload[401:409])
	assert.Equal(t, byte('A'), payload[0])
	assert.Equal(t, byte('A'), payload[regDataLen-1])
}

func TestBuildHeadersPreservesMalformedLine(t *testing.T) {
	headers := string(BuildHeaders(42))
	assert.Contains(t, headers, "POST /sie/ps4/rp/sess/rgst HTTP/1.1\r\n HTTP/1.1\r\n")
	assert.Contains(t, headers, "Content-Length: 42\r\n")
}

func TestParseInfoLines(t *testing.T) {
	body := "PS5-RegistKey: deadbeef\r\nRP-Key: 00112233445566778899aabbccddeeff\r\nPS5-Mac: aa:bb:cc:dd:ee:ff\r\nPS5-Nickname: living-room\r\n"
	info := parseInfoLines(body)
	assert.Equal(t, "deadbeef", info["PS5-RegistKey"])
	assert.Equal(t, "00112233445566778899aabbccddeeff", info["RP-Key"])
	assert.Equal(t, "living-room", info["PS5-Nickname"])
}

func TestParseResponseDecryptsBody(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := []byte("fedcba9876543210")
	enc := crypto.NewSessionCipher(key, nonce, 0)
	dec := crypto.NewSessionCipher(key, nonce, 0)

	body := "PS5-RegistKey: deadbeef"
	cipherText, err := enc.Encrypt([]byte(body))
	require.NoError(t, err)

	response := append([]byte("HTTP/1.1 200 OK\r\n\r\n"), cipherText...)

	info, err := ParseResponse(dec, response)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", info["PS5-RegistKey"])
}

func TestParseResponseRejectsFailureStatus(t *testing.T) {
	key := []byte("0123456789abcdef")
	nonce := []byte("fedcba9876543210")
	dec := crypto.NewSessionCipher(key, nonce, 0)

	_, err := ParseResponse(dec, []byte("HTTP/1.1 403 Forbidden\r\n\r\n"))
	assert.Error(t, err)
}
