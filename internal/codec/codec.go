// Package codec provides the fixed-width byte/int packing and IV counter
// arithmetic used across the crypto, control, and transport layers
// (spec.md C1), in the struct-packing idiom of
// moonlight-common-go/protocol/packets.go.
package codec

import "encoding/binary"

var (
	// BigEndian is used for wire-format multi-byte integers unless noted.
	BigEndian = binary.BigEndian
	// LittleEndian is used where the wire format calls for it (the control
	// channel's RP-Server-Type value).
	LittleEndian = binary.LittleEndian
)

// CounterAdd returns iv with n added to it as a little-endian arbitrary
// precision integer, propagating carry across bytes, ported bit-for-bit from
// original_source/pyremoteplay/crypt.py:counter_add.
func CounterAdd(n uint64, iv []byte) []byte {
	out := make([]byte, len(iv))
	copy(out, iv)
	carry := n
	for i := 0; i < len(out) && carry > 0; i++ {
		sum := uint64(out[i]) + (carry & 0xff)
		out[i] = byte(sum & 0xff)
		carry >>= 8
		if sum > 0xff {
			carry++
		}
	}
	return out
}

// PutUint32BE writes v as big-endian into the first 4 bytes of b.
func PutUint32BE(b []byte, v uint32) { BigEndian.PutUint32(b, v) }

// PutUint16BE writes v as big-endian into the first 2 bytes of b.
func PutUint16BE(b []byte, v uint16) { BigEndian.PutUint16(b, v) }

// ReadUint32BE reads a big-endian uint32 from the first 4 bytes of b.
func ReadUint32BE(b []byte) uint32 { return BigEndian.Uint32(b) }

// ReadUint16BE reads a big-endian uint16 from the first 2 bytes of b.
func ReadUint16BE(b []byte) uint16 { return BigEndian.Uint16(b) }
