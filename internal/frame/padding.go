package frame

// UnpadFailed is returned by Unpad32 when the pad-count byte is out of
// range; it cannot collide with a real length, which is at most 31.
const UnpadFailed = 0xff

// Pad32 pads plaintext in place to the fixed 32-byte block used for
// encryption. Bytes after the data up to the final byte are zeroed and
// the final byte records the number of zero bytes added, so the receiver
// can unpad unambiguously. buf must be at least 32 bytes and datalen at
// most 31. Returns the padded size (32) or 0 on error.
func Pad32(buf []byte, datalen uint8) uint8 {
	if len(buf) < PaddedBodySize {
		return 0
	}
	if datalen > MaxBodyPlaintext {
		return 0
	}
	paddingZeros := uint8(PaddedBodySize) - 1 - datalen
	for i := datalen; i < PaddedBodySize-1; i++ {
		buf[i] = 0
	}
	buf[PaddedBodySize-1] = paddingZeros
	return PaddedBodySize
}

// Unpad32 reverses Pad32, returning the data length at the start of the
// 32-byte block, or UnpadFailed if the pad-count byte exceeds 31. The
// padding bytes themselves are not checked for zero.
func Unpad32(buf []byte) uint8 {
	if len(buf) < PaddedBodySize {
		return UnpadFailed
	}
	paddingZeros := buf[PaddedBodySize-1]
	if paddingZeros > MaxBodyPlaintext {
		return UnpadFailed
	}
	return PaddedBodySize - 1 - paddingZeros
}
