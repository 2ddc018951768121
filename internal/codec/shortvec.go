package codec

import "fmt"

// maxShortVecLen is the largest length a 3-byte shortvec prefix can encode
// (3 groups of 7 bits). Anything beyond that cannot be length-prefixed by
// this wire format at all.
const maxShortVecLen = 1<<21 - 1

// EncodeShortVec appends the compact-u16 ("shortvec") length prefix used
// ahead of every array in a transaction: signatures, accounts,
// instructions, and each instruction's own accounts-index and data arrays.
// It is a 1-3 byte varint: 7 payload bits per byte, MSB set while more
// bytes follow.
func EncodeShortVec(n int) ([]byte, error) {
	if n < 0 || n > maxShortVecLen {
		return nil, fmt.Errorf("shortvec: encode_too_large: %d", n)
	}
	var out []byte
	v := uint32(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		out = append(out, b)
		break
	}
	return out, nil
}

// DecodeShortVec decodes a shortvec-prefixed length from buf, returning the
// decoded value and the number of bytes consumed.
func DecodeShortVec(buf []byte) (n int, consumed int, err error) {
	var v uint32
	for i := 0; i < 3; i++ {
		if i >= len(buf) {
			return 0, 0, fmt.Errorf("shortvec: short read at byte %d", i)
		}
		b := buf[i]
		v |= uint32(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return int(v), i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("shortvec: too many continuation bytes")
}
