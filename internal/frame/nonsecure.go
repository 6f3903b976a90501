package frame

import "github.com/thatsimonsguy/trv-controller/internal/crc"

// ComputeNonSecureCRC computes the 7-bit CRC trailer for a non-secure
// frame whose header and body are already in buf. Seeded with 0x7f so
// prepended zero bytes are detected; a result of exactly 0 is remapped
// to 0x80 since 0x00 is a forbidden trailer byte. Returns 0 on error
// (header invalid or buf too short).
func (h *Header) ComputeNonSecureCRC(buf []byte) uint8 {
	if h.IsInvalid() {
		return 0
	}
	if len(buf) < int(h.FrameLen) {
		return 0
	}
	c := uint8(0x7f)
	for _, b := range buf[:h.FrameLen] {
		c = crc.Update7(c, b)
	}
	if c == 0 {
		c = crc.NonZeroAlt
	}
	return c
}

// EncodeNonSecure composes an entire non-secure small frame, header plus
// body plus CRC trailer, into buf. Returns the total frame length
// written (fl+1) or 0 on error.
func EncodeNonSecure(buf []byte, fType Type, seqNum uint8, id []byte, body []byte) uint8 {
	var h Header
	hl := h.Encode(buf, false, fType, seqNum, id, uint8(len(body)), 1)
	if hl == 0 {
		return 0
	}
	fl := h.FrameLen
	if int(fl) >= len(buf) {
		return 0
	}
	copy(buf[h.BodyOffset():], body)
	buf[fl] = h.ComputeNonSecureCRC(buf)
	return fl + 1
}

// DecodeNonSecure verifies the CRC trailer of a non-secure frame whose
// header h has already been decoded from buf. Returns the total number
// of frame bytes consumed (fl+1) or 0 on error.
func DecodeNonSecure(h *Header, buf []byte) uint8 {
	if h == nil || h.IsInvalid() {
		return 0
	}
	if h.TrailerLen() != 1 {
		return 0
	}
	fl := h.FrameLen
	if len(buf) <= int(fl) {
		return 0
	}
	c := h.ComputeNonSecureCRC(buf)
	if c == 0 || buf[fl] != c {
		return 0
	}
	return fl + 1
}

// EncodeAliveBeacon writes a non-secure empty-body alive beacon frame.
// The frame is 5 + len(id) bytes, so buf must accommodate that.
func EncodeAliveBeacon(buf []byte, seqNum uint8, id []byte) uint8 {
	return EncodeNonSecure(buf, TypeAlive, seqNum, id, nil)
}
