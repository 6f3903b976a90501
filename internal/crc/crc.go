package crc

// Update7 feeds one byte into a 7-bit CRC using the 0x5B (Koopman)
// polynomial. The result always has the top bit clear. Seed with 0x7f
// where leading zero bytes could otherwise be prepended undetected.
func Update7(crc, datum uint8) uint8 {
	for i := uint8(0x80); i != 0; i >>= 1 {
		bit := (crc & 0x40) != 0
		if (datum & i) != 0 {
			bit = !bit
		}
		crc <<= 1
		if bit {
			crc ^= 0x37
		}
	}
	return crc & 0x7f
}

// NonZeroAlt is substituted for a final CRC of zero so that 0x00 never
// appears as a CRC byte on the wire.
const NonZeroAlt = 0x80

// Update7NZFinal is Update7 for the last byte of a message, remapping a
// zero result to NonZeroAlt. All results remain distinct.
func Update7NZFinal(crc, datum uint8) uint8 {
	result := Update7(crc, datum)
	if result != 0 {
		return result
	}
	return NonZeroAlt
}
