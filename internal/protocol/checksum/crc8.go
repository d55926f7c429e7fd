// Package checksum implements the single-byte integrity check carried by
// multi-frame messages.
package checksum

// Polynomial is the CRC-8 generator (x^8 + x^5 + x^4 + 1).
const Polynomial byte = 0x31

// Sum returns the CRC-8 of b: polynomial 0x31, initial value 0, MSB first,
// no reflection and no final XOR.
func Sum(b []byte) byte {
	var crc byte
	for _, v := range b {
		crc ^= v
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Verify reports whether the last byte of b is the checksum of the bytes
// before it. Inputs shorter than one byte never verify.
func Verify(b []byte) bool {
	if len(b) < 1 {
		return false
	}
	return Sum(b[:len(b)-1]) == b[len(b)-1]
}
