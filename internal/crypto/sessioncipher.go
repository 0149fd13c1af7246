package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"sync"
)

// SessionCipher implements the AES-CFB-128 control-session/registration
// cipher of spec.md section 4.3: a fixed AES key (key_0 during registration,
// the derived session AES key for the control channel), and a fresh IV on
// every call derived by HMAC-SHA256 over the session nonce plus a
// monotonically incrementing counter, kept separately for encrypt and
// decrypt so sender/receiver stay in lockstep without exchanging IVs on the
// wire. Grounded on original_source/pyremoteplay/crypt.py:SessionCipher/
// get_aes_iv/get_hmac.
type SessionCipher struct {
	mu sync.Mutex

	key   []byte
	nonce []byte

	encryptCounter uint64
	decryptCounter uint64
}

// NewSessionCipher constructs a cipher from an AES key, the session nonce
// the IV is derived from, and an initial counter value, per
// crypt.py:SessionCipher.__init__.
func NewSessionCipher(key, nonce []byte, counter uint64) *SessionCipher {
	return &SessionCipher{
		key:            append([]byte(nil), key...),
		nonce:          append([]byte(nil), nonce...),
		encryptCounter: counter,
		decryptCounter: counter,
	}
}

// ivForCounter derives the 16-byte CFB IV for a given counter value:
// HMAC-SHA256(key=hmacKey, msg=nonce||counter_be64)[:16], per
// crypt.py:get_aes_iv/get_hmac. hmacKey is a fixed module constant (crypt.py's
// HMAC_KEY), distinct from the per-call AES key.
func (c *SessionCipher) ivForCounter(counter uint64) []byte {
	msg := make([]byte, len(c.nonce)+8)
	copy(msg, c.nonce)
	for i := 0; i < 8; i++ {
		msg[len(c.nonce)+i] = byte(counter >> (56 - 8*i))
	}
	mac := hmac.New(sha256.New, hmacKey[:])
	mac.Write(msg)
	return mac.Sum(nil)[:aes.BlockSize]
}

// Encrypt encrypts plaintext under a fresh IV derived from the current send
// counter, which is then incremented.
func (c *SessionCipher) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	iv := c.ivForCounter(c.encryptCounter)
	c.encryptCounter++

	out := make([]byte, len(plaintext))
	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

// Decrypt decrypts ciphertext under a fresh IV derived from the current
// receive counter, which is then incremented.
func (c *SessionCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	iv := c.ivForCounter(c.decryptCounter)
	c.decryptCounter++

	out := make([]byte, len(ciphertext))
	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}

// GetRPNonce derives rp_nonce from the DDP-supplied nonce and SESSION_KEY_0,
// per crypt.py:_get_rp_nonce: shift = (nonce[i]+54+i) ^ key[i].
func GetRPNonce(nonce, sessionKey0Slice []byte) []byte {
	out := make([]byte, len(nonce))
	for i := range nonce {
		shift := (int(nonce[i]) + 54 + i) & 0xff
		out[i] = byte(shift ^ int(sessionKey0Slice[i]))
	}
	return out
}

// GetSessionAESKey derives the control-channel AES key from the DDP nonce,
// the registration rp_key, and SESSION_KEY_1, per crypt.py:_get_aes_key:
// shift = ((key[i]^rp_key[i]) + 33 + i) ^ nonce[i].
func GetSessionAESKey(nonce, rpKey, sessionKey1Slice []byte) []byte {
	out := make([]byte, len(nonce))
	for i := range nonce {
		shift := ((int(sessionKey1Slice[i]) ^ int(rpKey[i])) + 33 + i) & 0xff
		out[i] = byte(shift ^ int(nonce[i]))
	}
	return out
}
