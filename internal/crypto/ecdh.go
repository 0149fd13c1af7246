package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ECDH implements the secp256k1 key exchange of spec.md section 4.7,
// adapted from original_source/pyremoteplay/crypt.py:StreamECDH.
//
// Go's standard library crypto/ecdh only supports NIST curves and X25519,
// not secp256k1, so this file uses the raw scalar-multiplication primitives
// exposed by github.com/decred/dcrd/dcrec/secp256k1/v4 (the curve math
// underlying github.com/btcsuite/btcd/btcec/v2) to reproduce the same
// raw-X-coordinate shared secret that Python's cryptography library's
// ec.ECDH() produces — neither library hashes or otherwise post-processes
// the shared point, so the two must be driven at this level to match.
//
// The signature over the public key is HMAC-SHA256 keyed by a fresh
// per-session handshake key (StreamECDH.handshake_key), not a fixed module
// constant — the handshake key itself travels alongside the public key in
// the BigPayload exchange.
type ECDH struct {
	priv         *btcec.PrivateKey
	handshakeKey []byte
}

// NewECDH generates a fresh secp256k1 key pair and a random 16-byte
// handshake key, per StreamECDH.__init__/get_handshake_key.
func NewECDH() (*ECDH, error) {
	return NewECDHWithHandshakeKey(nil)
}

// NewECDHWithHandshakeKey builds an ECDH context with an explicit handshake
// key (16 bytes); a nil key generates a fresh random one.
func NewECDHWithHandshakeKey(handshakeKey []byte) (*ECDH, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	hk := handshakeKey
	if hk == nil {
		hk = make([]byte, 16)
		if _, err := rand.Read(hk); err != nil {
			return nil, err
		}
	}
	return &ECDH{priv: priv, handshakeKey: hk}, nil
}

// HandshakeKey returns the session's handshake key, sent alongside the
// public key and signature in the BigPayload request.
func (e *ECDH) HandshakeKey() []byte { return e.handshakeKey }

// PublicKeyUncompressed returns the 65-byte uncompressed public key
// (0x04 || X || Y), the wire format spec.md's big-payload exchange expects.
func (e *ECDH) PublicKeyUncompressed() []byte {
	return e.priv.PubKey().SerializeUncompressed()
}

// Sign HMAC-SHA256-signs the local public key with the session's handshake
// key, per StreamECDH.get_key_sig.
func (e *ECDH) Sign() []byte {
	return SignPublicKey(e.handshakeKey, e.PublicKeyUncompressed())
}

// SignPublicKey computes HMAC-SHA256(key=handshakeKey, msg=pubKey).
func SignPublicKey(handshakeKey, pubKey []byte) []byte {
	mac := hmac.New(sha256.New, handshakeKey)
	mac.Write(pubKey)
	return mac.Sum(nil)
}

// VerifyPeer checks a peer's public key against its HMAC signature under the
// shared handshake key, per StreamECDH._verify_remote_sig.
func VerifyPeer(handshakeKey, peerPub, sig []byte) bool {
	expected := SignPublicKey(handshakeKey, peerPub)
	return hmac.Equal(expected, sig)
}

// SharedSecret derives the raw ECDH shared secret (the big-endian X
// coordinate of priv*peerPub) with a peer's uncompressed public key, per
// StreamECDH.get_secret.
func (e *ECDH) SharedSecret(peerPub []byte) ([]byte, error) {
	pub, err := btcec.ParsePubKey(peerPub)
	if err != nil {
		return nil, errors.New("crypto: invalid peer ecdh public key")
	}

	var pubJ secp256k1.JacobianPoint
	pub.AsJacobian(&pubJ)

	var priv secp256k1.ModNScalar
	priv.SetByteSlice(e.priv.Serialize())

	var result secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&priv, &pubJ, &result)
	result.ToAffine()

	xBytes := result.X.Bytes()
	secret := make([]byte, 32)
	copy(secret, xBytes[:])
	return secret, nil
}

// GenerateRandomNonce returns n cryptographically random bytes, used for the
// registration and big-payload nonces.
func GenerateRandomNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
