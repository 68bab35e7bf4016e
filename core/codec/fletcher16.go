package codec

// Fletcher16 computes the Fletcher-16 checksum used by the serial envelope.
func Fletcher16(data []byte) uint16 {
	var lo, hi uint8
	for _, b := range data {
		lo = uint8((uint16(lo) + uint16(b)) % 255)
		hi = uint8((uint16(hi) + uint16(lo)) % 255)
	}
	return uint16(hi)<<8 | uint16(lo)
}

// ValidateChecksum verifies that the calculated checksum matches the received checksum.
func ValidateChecksum(data []byte, received uint16) bool {
	return Fletcher16(data) == received
}
