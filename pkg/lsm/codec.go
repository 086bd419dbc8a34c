package lsm

import "encoding/binary"

// MaxVarintLen64 bounds the number of bytes EncodeUvarint ever emits for a
// 64-bit value: 9 full groups of 7 bits plus a final byte carrying the 64th
// bit.
const MaxVarintLen64 = 10

// EncodeUvarint appends the base-128, little-endian-group encoding of v to
// dst and returns the extended slice. The continuation bit (0x80) is set on
// every byte but the last.
func EncodeUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// UvarintSize returns the number of bytes EncodeUvarint would emit for v.
func UvarintSize(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// DecodeUvarint decodes a varint from the front of buf, returning the value,
// the number of bytes consumed, and an error. It rejects an encoding whose
// tenth byte would overflow 64 bits (that byte, with its continuation bit
// stripped, must be 0 or 1 — only the top bit of the result can come from
// it) and reports ErrTruncatedBuffer if buf ends before a terminating byte.
func DecodeUvarint(buf []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < MaxVarintLen64; i++ {
		if i >= len(buf) {
			return 0, 0, ErrTruncatedBuffer
		}
		b := buf[i]
		if i == MaxVarintLen64-1 && b&0x7f > 1 {
			return 0, 0, ErrVarintOverflow
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrVarintOverflow
}

// EncodeU32 appends the little-endian encoding of v to dst.
func EncodeU32(dst []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

// DecodeU32 reads a little-endian uint32 from the front of buf.
func DecodeU32(buf []byte) (uint32, int, error) {
	if len(buf) < 4 {
		return 0, 0, ErrTruncatedBuffer
	}
	return binary.LittleEndian.Uint32(buf), 4, nil
}

// EncodeU64 appends the little-endian encoding of v to dst.
func EncodeU64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

// DecodeU64 reads a little-endian uint64 from the front of buf.
func DecodeU64(buf []byte) (uint64, int, error) {
	if len(buf) < 8 {
		return 0, 0, ErrTruncatedBuffer
	}
	return binary.LittleEndian.Uint64(buf), 8, nil
}

// EncodeBytes appends a length-prefixed byte string (uvarint(len) || bytes)
// to dst.
func EncodeBytes(dst []byte, b []byte) []byte {
	dst = EncodeUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// DecodeBytes decodes a length-prefixed byte string from the front of buf,
// copying it out, and returns the value plus the number of bytes consumed.
func DecodeBytes(buf []byte) ([]byte, int, error) {
	b, n, err := ObserveBytes(buf)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, n, nil
}

// ObserveBytes decodes a length-prefixed byte string from the front of buf
// without copying, returning a sub-slice of buf itself. The returned slice
// is only valid for as long as buf is not mutated or released.
func ObserveBytes(buf []byte) ([]byte, int, error) {
	length, n, err := DecodeUvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	end := n + int(length)
	if end > len(buf) {
		return nil, 0, ErrTruncatedBuffer
	}
	return buf[n:end], end, nil
}
