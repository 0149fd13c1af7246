// Package bigpayload implements spec.md C7: the protobuf-framed big-payload/
// ECDH negotiation that runs over transport channel 2 once the C6 association
// is up. Grounded on original_source/pyremoteplay/stream_packets.py's
// ProtoHandler for message shape and sequencing; the message types
// themselves are hand-encoded with a small protobuf-wire codec rather than
// generated .pb.go code (see DESIGN.md) in the manual-codec idiom already
// used by internal/codec and internal/transport.
package bigpayload

import "fmt"

const (
	wireVarint = 0
	wireBytes  = 2
)

// wireField is one decoded (field number, wire type, value) triple off a
// protobuf-wire message. Exactly one of Varint/Bytes is meaningful,
// depending on WireType.
type wireField struct {
	Num      int
	WireType int
	Varint   uint64
	Bytes    []byte
}

func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func appendTag(buf []byte, field, wireType int) []byte {
	return appendVarint(buf, uint64(field)<<3|uint64(wireType))
}

func appendVarintField(buf []byte, field int, v uint64) []byte {
	buf = appendTag(buf, field, wireVarint)
	return appendVarint(buf, v)
}

func appendBoolField(buf []byte, field int, v bool) []byte {
	if v {
		return appendVarintField(buf, field, 1)
	}
	return appendVarintField(buf, field, 0)
}

func appendBytesField(buf []byte, field int, b []byte) []byte {
	buf = appendTag(buf, field, wireBytes)
	buf = appendVarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendMessageField(buf []byte, field int, msg []byte) []byte {
	return appendBytesField(buf, field, msg)
}

func readVarint(data []byte) (uint64, int, error) {
	var v uint64
	for i := 0; i < len(data); i++ {
		b := data[i]
		v |= uint64(b&0x7f) << (7 * i)
		if b < 0x80 {
			return v, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("bigpayload: truncated varint")
}

// decodeWireFields walks a protobuf-wire message, returning every
// (field, value) pair it finds in order. Unknown field numbers are
// preserved rather than rejected, matching protobuf's forward-compatible
// decode behavior.
func decodeWireFields(data []byte) ([]wireField, error) {
	var fields []wireField
	for len(data) > 0 {
		tag, n, err := readVarint(data)
		if err != nil {
			return nil, err
		}
		data = data[n:]
		field := int(tag >> 3)
		wt := int(tag & 0x7)

		switch wt {
		case wireVarint:
			v, n, err := readVarint(data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			fields = append(fields, wireField{Num: field, WireType: wt, Varint: v})
		case wireBytes:
			length, n, err := readVarint(data)
			if err != nil {
				return nil, err
			}
			data = data[n:]
			if uint64(len(data)) < length {
				return nil, fmt.Errorf("bigpayload: truncated length-delimited field %d", field)
			}
			fields = append(fields, wireField{Num: field, WireType: wt, Bytes: append([]byte(nil), data[:length]...)})
			data = data[length:]
		default:
			return nil, fmt.Errorf("bigpayload: unsupported wire type %d on field %d", wt, field)
		}
	}
	return fields, nil
}

func firstVarint(fields []wireField, num int) uint64 {
	for _, f := range fields {
		if f.Num == num && f.WireType == wireVarint {
			return f.Varint
		}
	}
	return 0
}

func firstBytes(fields []wireField, num int) []byte {
	for _, f := range fields {
		if f.Num == num && f.WireType == wireBytes {
			return f.Bytes
		}
	}
	return nil
}

func allBytes(fields []wireField, num int) [][]byte {
	var out [][]byte
	for _, f := range fields {
		if f.Num == num && f.WireType == wireBytes {
			out = append(out, f.Bytes)
		}
	}
	return out
}
