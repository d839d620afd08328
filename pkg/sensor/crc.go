package sensor

const (
	crcInit       = 0xFF
	crcPolynomial = 0x31
)

// CRC8 computes the Sensirion checksum of one 2-byte word.
func CRC8(msb, lsb byte) byte {
	crc := byte(crcInit)
	for _, b := range [2]byte{msb, lsb} {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// ValidWord reports whether check is the checksum of msb, lsb.
func ValidWord(msb, lsb, check byte) bool {
	return CRC8(msb, lsb) == check
}

// EncodeWord returns the 3 bytes a sensor transmits for v.
func EncodeWord(v uint16) [3]byte {
	msb, lsb := byte(v>>8), byte(v)
	return [3]byte{msb, lsb, CRC8(msb, lsb)}
}
