// Package tlv encodes attribute values as Tag/Length/Value records.
//
// Wire layout of one record:
//
//	[2] padding (zero)
//	[1] T  tag
//	[1] L  value length, 0..255
//	[L] V  value
//
// The padding keeps V 32-bit aligned when the record itself is.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxValueLen is the largest value a record can carry.
const MaxValueLen = 255

const headerLen = 4

// ErrValueTooLong is returned when a value exceeds MaxValueLen.
var ErrValueTooLong = errors.New("tlv: value longer than 255 bytes")

// Record is one decoded TLV.
type Record struct {
	Tag   uint8
	Value []byte
}

// Encode returns the wire form of r.
func (r Record) Encode() ([]byte, error) {
	if len(r.Value) > MaxValueLen {
		return nil, ErrValueTooLong
	}
	out := make([]byte, headerLen+len(r.Value))
	out[2] = r.Tag
	out[3] = uint8(len(r.Value))
	copy(out[headerLen:], r.Value)
	return out, nil
}

// Decode parses a single record from b.
func Decode(b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, fmt.Errorf("tlv: short header (%d bytes)", len(b))
	}
	n := int(b[3])
	if len(b) < headerLen+n {
		return Record{}, fmt.Errorf("tlv: value truncated, want %d bytes have %d", n, len(b)-headerLen)
	}
	return Record{Tag: b[2], Value: append([]byte(nil), b[headerLen:headerLen+n]...)}, nil
}

// Empty is the record returned alongside a failed query: tag and length zero.
func Empty() Record { return Record{} }

// Uint32 builds a record carrying a little-endian uint32.
func Uint32(tag uint8, v uint32) Record {
	return Record{Tag: tag, Value: binary.LittleEndian.AppendUint32(nil, v)}
}

// Uint64s builds a record carrying consecutive little-endian uint64 values.
func Uint64s(tag uint8, vs ...uint64) Record {
	buf := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return Record{Tag: tag, Value: buf}
}

// String builds a record carrying s, truncated to MaxValueLen.
func String(tag uint8, s string) Record {
	if len(s) > MaxValueLen {
		s = s[:MaxValueLen]
	}
	return Record{Tag: tag, Value: []byte(s)}
}

// AsUint32 reads the value as a little-endian uint32.
func (r Record) AsUint32() (uint32, error) {
	if len(r.Value) != 4 {
		return 0, fmt.Errorf("tlv: tag %d holds %d bytes, not a uint32", r.Tag, len(r.Value))
	}
	return binary.LittleEndian.Uint32(r.Value), nil
}

// AsUint64s reads the value as consecutive little-endian uint64 values.
func (r Record) AsUint64s() ([]uint64, error) {
	if len(r.Value)%8 != 0 {
		return nil, fmt.Errorf("tlv: tag %d holds %d bytes, not a uint64 vector", r.Tag, len(r.Value))
	}
	out := make([]uint64, len(r.Value)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(r.Value[i*8:])
	}
	return out, nil
}
