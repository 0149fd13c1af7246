package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"sync"

	"github.com/ktnrg45/goremoteplay/internal/codec"
)

const (
	// KeystreamBlockLen is the size of one look-ahead keystream block,
	// ported from original_source/pyremoteplay/crypt.py:BaseCipher.KEYSTREAM_LEN.
	KeystreamBlockLen = 0x1000

	// GMACRefreshIV is the IV-counter step between successive GMAC keys.
	GMACRefreshIV = 44910
	// GMACRefreshKeyPos is the key_pos span covered by one GMAC key.
	GMACRefreshKeyPos = 45000

	// BaseIndexLocal is used to derive the local (sending) base key/iv.
	BaseIndexLocal = 2
	// BaseIndexRemote is used to derive the remote (receiving) base key/iv.
	BaseIndexRemote = 3
)

// hmacKey is the fixed HMAC key used by SessionCipher.ivForCounter for the
// control-session cipher. It is distinct from the media base_key/base_iv derivation below.
// The filtered original_source drop did not include crypt.py's literal
// KEY_SIG constant, so this is a placeholder 32-byte value of the right
// shape/role rather than a byte-for-byte reproduction — documented in
// DESIGN.md.
var hmacKey = [32]byte{
	0x9d, 0x0e, 0x9e, 0x36, 0x68, 0x18, 0xa7, 0x9d,
	0x46, 0x32, 0x4f, 0x1c, 0x81, 0xb7, 0x98, 0x8b,
	0x4a, 0x88, 0xf1, 0x93, 0x21, 0xea, 0x9a, 0x0c,
	0x51, 0x25, 0x06, 0xa7, 0x2d, 0x8c, 0xde, 0x05,
}

// GetBaseKeyIV derives (base_key, base_iv) from the ECDH shared secret and the
// handshake key, per spec.md section 4.8:
// HMAC-SHA256(key=secret, msg=0x01||baseIndex||0x00||handshakeKey||0x01||0x00).
func GetBaseKeyIV(secret, handshakeKey []byte, baseIndex byte) (baseKey, baseIV []byte) {
	msg := make([]byte, 0, 3+len(handshakeKey)+2)
	msg = append(msg, 0x01, baseIndex, 0x00)
	msg = append(msg, handshakeKey...)
	msg = append(msg, 0x01, 0x00)
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	sum := mac.Sum(nil)
	return sum[:16], sum[16:32]
}

// GetGMACKey derives the GMAC key at rotation index from base_key/base_iv:
// SHA256(base_key || counter_add(index*GMACRefreshIV, base_iv)), folded in half
// by XOR, per spec.md section 4.8.
func GetGMACKey(index int, baseKey, baseIV []byte) []byte {
	iv := codec.CounterAdd(uint64(index)*GMACRefreshIV, baseIV)
	h := sha256.New()
	h.Write(baseKey)
	h.Write(iv)
	sum := h.Sum(nil)
	out := make([]byte, 16)
	for i := 0; i < 16; i++ {
		out[i] = sum[i] ^ sum[i+16]
	}
	return out
}

// keystreamBlock is one look-ahead block of the ECB keystream.
type keystreamBlock struct {
	index int
	data  []byte
}

// MediaCipher implements one direction (local or remote) of the media cipher:
// AES-ECB keystream with a look-ahead block queue, plus GMAC key rotation,
// adapted from original_source/pyremoteplay/crypt.py:BaseCipher.
type MediaCipher struct {
	mu sync.Mutex

	block cipher.Block // AES-ECB block cipher keyed with base_key
	baseIV []byte

	gmacBaseKey []byte
	gmacBaseIV  []byte

	keyPos uint64

	gmacIndex int
	gmacKey   []byte

	queue []keystreamBlock
}

// NewMediaCipher constructs one direction of the media cipher from the
// derived base_key/base_iv (see GetBaseKeyIV) and the GMAC base key/iv
// (the same base_key/base_iv pair, per crypt.py:BaseCipher.__init__).
func NewMediaCipher(baseKey, baseIV []byte) (*MediaCipher, error) {
	block, err := aes.NewCipher(baseKey)
	if err != nil {
		return nil, err
	}
	c := &MediaCipher{
		block:       block,
		baseIV:      append([]byte(nil), baseIV...),
		gmacBaseKey: append([]byte(nil), baseKey...),
		gmacBaseIV:  append([]byte(nil), baseIV...),
		gmacIndex:   0,
	}
	c.gmacKey = GetGMACKey(0, c.gmacBaseKey, c.gmacBaseIV)
	c.fillQueue()
	return c, nil
}

// blockAt returns (generating if necessary) the ECB keystream window
// covering byte offset blockIndex*KeystreamBlockLen.
//
// Each 16-byte AES block within the window is the ECB encryption of
// counter_add(n+1, base_iv), where n is that sub-block's absolute 16-byte
// index (n = absolutePos/16) — the "+1" (start at the NEXT 16-byte counter)
// is preserved verbatim from
// original_source/pyremoteplay/crypt.py:gen_iv_stream's block_offset.
func (c *MediaCipher) blockAt(blockIndex int) []byte {
	for _, b := range c.queue {
		if b.index == blockIndex {
			return b.data
		}
	}
	const subBlocksPerWindow = KeystreamBlockLen / aes.BlockSize
	startCounter := uint64(blockIndex)*subBlocksPerWindow + 1

	in := codec.CounterAdd(startCounter, c.baseIV)
	out := make([]byte, aes.BlockSize)
	data := make([]byte, 0, KeystreamBlockLen)
	for i := 0; i < subBlocksPerWindow; i++ {
		c.block.Encrypt(out, in)
		data = append(data, out...)
		in = codec.CounterAdd(1, in)
	}
	blk := keystreamBlock{index: blockIndex, data: data[:KeystreamBlockLen]}
	c.queue = append(c.queue, blk)
	return blk.data
}

// fillQueue ensures at least two blocks starting at the current key_pos are
// cached, and evicts blocks fully behind key_pos.
func (c *MediaCipher) fillQueue() {
	start := int(c.keyPos / KeystreamBlockLen)
	c.blockAt(start)
	c.blockAt(start + 1)
	kept := c.queue[:0]
	for _, b := range c.queue {
		if b.index >= start {
			kept = append(kept, b)
		}
	}
	c.queue = kept
}

// keystream returns n bytes of keystream starting at the cipher's current
// key_pos, splicing across a block boundary if necessary, and does NOT
// advance key_pos (callers call AdvanceKeyPos separately).
func (c *MediaCipher) keystream(n int) []byte {
	c.fillQueue()
	out := make([]byte, 0, n)
	pos := c.keyPos
	for len(out) < n {
		blockIndex := int(pos / KeystreamBlockLen)
		offset := int(pos % KeystreamBlockLen)
		block := c.blockAt(blockIndex)
		take := KeystreamBlockLen - offset
		if take > n-len(out) {
			take = n - len(out)
		}
		out = append(out, block[offset:offset+take]...)
		pos += uint64(take)
	}
	return out
}

// Encrypt/Decrypt XOR plaintext/ciphertext with the keystream at the cipher's
// current key_pos. Both directions are identical for a stream cipher.
func (c *MediaCipher) xor(data []byte) []byte {
	ks := c.keystream(len(data))
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ ks[i]
	}
	return out
}

// Encrypt encrypts plaintext without advancing key_pos.
func (c *MediaCipher) Encrypt(plaintext []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.xor(plaintext)
}

// Decrypt decrypts ciphertext without advancing key_pos.
func (c *MediaCipher) Decrypt(ciphertext []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.xor(ciphertext)
}

// AdvanceKeyPos moves key_pos forward by n bytes and updates the GMAC
// rotation key to match, per crypt.py:BaseCipher.advance_key_pos:
//   - if the rotation index increased, rotate forward and persist it
//   - if it decreased (only possible after a seek/reset), regenerate the key
//     from the base without persisting the new index
//   - if unchanged, keep using the current key
func (c *MediaCipher) AdvanceKeyPos(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyPos += uint64(n)
	c.rotateGMAC()
	c.fillQueue()
}

func (c *MediaCipher) rotateGMAC() {
	var newIndex int
	if c.keyPos > 0 {
		newIndex = int((c.keyPos - 1) / GMACRefreshKeyPos)
	}
	switch {
	case newIndex > c.gmacIndex:
		c.gmacIndex = newIndex
		c.gmacKey = GetGMACKey(c.gmacIndex, c.gmacBaseKey, c.gmacBaseIV)
	case newIndex < c.gmacIndex:
		c.gmacKey = GetGMACKey(newIndex, c.gmacBaseKey, c.gmacBaseIV)
	}
}

// SeekKeyPos sets the cipher's key_pos directly to a wire-supplied value,
// for the receive side: original_source/pyremoteplay/crypt.py's
// RemoteCipher.decrypt/verify_gmac take key_pos as an explicit per-packet
// argument rather than self-tracking it the way LocalCipher.advance_key_pos
// does; this generalized MediaCipher instead exposes SeekKeyPos so
// internal/transport can drive the receive side from each packet's key_pos field
// while reusing the same AdvanceKeyPos-based GMAC rotation logic.
func (c *MediaCipher) SeekKeyPos(pos uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyPos = pos
	c.rotateGMAC()
	c.fillQueue()
}

// KeyPos returns the cipher's current byte offset.
func (c *MediaCipher) KeyPos() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keyPos
}

// gmacIV derives the per-call GMAC nonce from key_pos, per
// crypt.py:BaseCipher.get_gmac: counter_add(key_pos//16, base_iv).
func (c *MediaCipher) gmacIV() []byte {
	return codec.CounterAdd(c.keyPos/aes.BlockSize, c.gmacBaseIV)
}

// GetGMAC computes the 4-byte GMAC tag over data at the cipher's current
// key_pos, using the current rotation key.
func (c *MediaCipher) GetGMAC(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return GMACTag(c.gmacKey, c.gmacIV(), data)
}

// VerifyGMAC reports whether tag matches the GMAC of data at the cipher's
// current key_pos.
func (c *MediaCipher) VerifyGMAC(data, tag []byte) (bool, error) {
	got, err := c.GetGMAC(data)
	if err != nil {
		return false, err
	}
	if len(got) != len(tag) {
		return false, nil
	}
	for i := range got {
		if got[i] != tag[i] {
			return false, nil
		}
	}
	return true, nil
}
