// Package crypto implements the cryptographic primitives of spec.md C2:
// AES-ECB keystream generation, AES-GCM-based GMAC tagging, the AES-CFB-128
// control-session cipher, HMAC-SHA256 key derivation, and secp256k1 ECDH.
//
// The AEAD wrapper below is adapted from moonlight-common-go/crypto/crypto.go's
// Context type (manual Seal/Open with the tag split off the end); everything
// else is new, ported from original_source/pyremoteplay/crypt.py.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AEADContext wraps an AES-GCM AEAD, adapted from the teacher's crypto.Context.
type AEADContext struct {
	gcm cipher.AEAD
}

// NewAEADContext builds an AES-GCM context over a 16-byte key, with the
// 16-byte (not the usual 12-byte) nonce size original_source/pyremoteplay
// uses throughout (GMAC nonces there are always a full counter_add'd base_iv).
func NewAEADContext(key []byte) (*AEADContext, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, err
	}
	return &AEADContext{gcm: gcm}, nil
}

// Seal encrypts plaintext (may be empty, as for GMAC) under iv/aad, returning
// ciphertext and the full 16-byte tag split apart.
func (c *AEADContext) Seal(plaintext, iv, aad []byte) (ciphertext, tag []byte, err error) {
	if len(iv) != c.gcm.NonceSize() {
		return nil, nil, errors.New("crypto: invalid GCM nonce size")
	}
	sealed := c.gcm.Seal(nil, iv, plaintext, aad)
	tagStart := len(sealed) - c.gcm.Overhead()
	return sealed[:tagStart], sealed[tagStart:], nil
}

// Open decrypts ciphertext||tag under iv/aad.
func (c *AEADContext) Open(ciphertext, iv, tag, aad []byte) ([]byte, error) {
	if len(iv) != c.gcm.NonceSize() {
		return nil, errors.New("crypto: invalid GCM nonce size")
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	return c.gcm.Open(nil, iv, sealed, aad)
}

// GMACTag computes AES-GCM's tag over an empty plaintext with data as AAD,
// truncated to 4 bytes, matching original_source/pyremoteplay/crypt.py:get_gmac_tag.
func GMACTag(key, iv, data []byte) ([]byte, error) {
	ctx, err := NewAEADContext(key)
	if err != nil {
		return nil, err
	}
	_, tag, err := ctx.Seal(nil, iv, data)
	if err != nil {
		return nil, err
	}
	return tag[:4], nil
}
