package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCipherBijection(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	nonce := bytes.Repeat([]byte{0x99}, 16)
	enc := NewSessionCipher(key, nonce, 0)
	dec := NewSessionCipher(key, nonce, 0)

	plaintext := []byte("RP-Auth: deadbeefdeadbeefdeadbeefdeadbeef\r\n")

	ciphertext, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := dec.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSessionCipherCountersYieldIndependentCiphertexts(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 16)
	nonce := bytes.Repeat([]byte{0x88}, 16)
	enc := NewSessionCipher(key, nonce, 0)

	plaintext := []byte("same message, different counters")

	first, err := enc.Encrypt(plaintext)
	require.NoError(t, err)
	second, err := enc.Encrypt(plaintext)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestMediaCipherBijection(t *testing.T) {
	baseKey := bytes.Repeat([]byte{0x33}, 16)
	baseIV := bytes.Repeat([]byte{0x44}, 16)

	sender, err := NewMediaCipher(baseKey, baseIV)
	require.NoError(t, err)
	receiver, err := NewMediaCipher(baseKey, baseIV)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte{0xAB}, 1500)

	ciphertext := sender.Encrypt(plaintext)
	sender.AdvanceKeyPos(len(plaintext))

	got := receiver.Decrypt(ciphertext)
	receiver.AdvanceKeyPos(len(ciphertext))

	assert.Equal(t, plaintext, got)
}

func TestMediaCipherDistinctKeyPosDiverge(t *testing.T) {
	baseKey := bytes.Repeat([]byte{0x55}, 16)
	baseIV := bytes.Repeat([]byte{0x66}, 16)

	c, err := NewMediaCipher(baseKey, baseIV)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte{0x01}, 64)

	first := c.Encrypt(plaintext)
	c.AdvanceKeyPos(len(plaintext))
	second := c.Encrypt(plaintext)

	assert.NotEqual(t, first, second)
}

func TestGMACDetectsBitFlip(t *testing.T) {
	baseKey := bytes.Repeat([]byte{0x77}, 16)
	baseIV := bytes.Repeat([]byte{0x88}, 16)

	c, err := NewMediaCipher(baseKey, baseIV)
	require.NoError(t, err)

	data := []byte("frame payload under gmac")
	tag, err := c.GetGMAC(data)
	require.NoError(t, err)

	ok, err := c.VerifyGMAC(data, tag)
	require.NoError(t, err)
	assert.True(t, ok)

	flipped := append([]byte(nil), data...)
	flipped[0] ^= 0x01
	ok, err = c.VerifyGMAC(flipped, tag)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestECDHSharedSecretMatches(t *testing.T) {
	a, err := NewECDH()
	require.NoError(t, err)
	b, err := NewECDH()
	require.NoError(t, err)

	secretA, err := a.SharedSecret(b.PublicKeyUncompressed())
	require.NoError(t, err)
	secretB, err := b.SharedSecret(a.PublicKeyUncompressed())
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
	assert.Len(t, secretA, 32)
}

func TestECDHVerifyPeer(t *testing.T) {
	a, err := NewECDH()
	require.NoError(t, err)

	pub := a.PublicKeyUncompressed()
	sig := a.Sign()

	assert.True(t, VerifyPeer(a.HandshakeKey(), pub, sig))

	tampered := append([]byte(nil), sig...)
	tampered[0] ^= 0x01
	assert.False(t, VerifyPeer(a.HandshakeKey(), pub, tampered))
}
