package secureframe

import "github.com/thatsimonsguy/trv-controller/internal/frame"

// The raw pipelines below mirror the sentinel-return contract of the
// frame package: any structural or cryptographic failure yields 0 with
// no partial output, so a caller can hand the bytes to another decoder.

// EncodeRaw composes an entire secure small frame into buf: header,
// fixed 32-byte encrypted body (or none), then the 23-byte trailer of
// 16-byte tag, 6-byte counter tail of the IV, and the 0x80 marker.
// The caller supplies the 12-byte IV; its counter tail must have come
// from a fresh monotonic counter. The header sequence number is taken
// from the low 4 bits of the IV's final byte. Returns the total frame
// length written (fl+1) or 0 on error.
func EncodeRaw(buf []byte, fType frame.Type, id []byte, body []byte, iv *[12]byte, e Encryptor, key *[16]byte) uint8 {
	if e == nil || key == nil || iv == nil {
		return 0
	}
	bl := len(body)
	if bl > frame.MaxBodyPlaintext {
		return 0
	}
	encryptedBodyLength := uint8(0)
	if bl > 0 {
		encryptedBodyLength = frame.PaddedBodySize
	}
	seqNum := iv[11] & 0xf
	var h frame.Header
	hl := h.Encode(buf, true, fType, seqNum, id, encryptedBodyLength, frame.SecureTrailerSize)
	if hl == 0 {
		return 0
	}
	fl := h.FrameLen
	if int(fl) >= len(buf) {
		return 0
	}
	// Pad the body, if any, into a scratch block.
	var padded [frame.PaddedBodySize]byte
	var plaintext []byte
	if bl > 0 {
		copy(padded[:], body)
		if frame.Pad32(padded[:], uint8(bl)) == 0 {
			return 0
		}
		plaintext = padded[:]
	}
	// Encrypt with the header as authtext, tag straight into the buffer.
	if !e.Encrypt(key, iv, buf[:hl], plaintext, buf[hl:], buf[fl-16:]) {
		return 0
	}
	// Counter tail of the IV, then the dialect marker.
	copy(buf[fl-22:], iv[6:])
	buf[fl] = frame.SecureTrailerMarker
	return fl + 1
}

// DecodeRaw authenticates and decrypts a secure small frame whose
// header h has already been decoded from buf, using a caller-supplied
// IV. Checks, before any cryptography: trailer length exactly 23, final
// byte the 0x80 marker, body length 0 or exactly 32, and the header
// sequence number matching the IV counter's low 4 bits. The unpadded
// plaintext is copied to plaintextOut when non-nil.
//
// Returns the total frame bytes consumed (fl+1) and the plaintext body
// length; 0,0 on any failure.
func DecodeRaw(h *frame.Header, buf []byte, d Decryptor, key *[16]byte, iv *[12]byte, plaintextOut []byte) (uint8, uint8) {
	if h == nil || d == nil || key == nil || iv == nil {
		return 0, 0
	}
	if h.IsInvalid() {
		return 0, 0
	}
	fl := h.FrameLen
	if len(buf) <= int(fl) {
		return 0, 0
	}
	if h.TrailerLen() != frame.SecureTrailerSize {
		return 0, 0
	}
	if buf[fl] != frame.SecureTrailerMarker {
		return 0, 0
	}
	bl := h.BodyLen
	if bl != 0 && bl != frame.PaddedBodySize {
		return 0, 0
	}
	// The plaintext-visible sequence number must re-derive from the
	// protected counter.
	if h.Seq() != iv[11]&0xf {
		return 0, 0
	}
	var ciphertext []byte
	if bl != 0 {
		ciphertext = buf[h.BodyOffset():]
	}
	var decrypted [frame.PaddedBodySize]byte
	if !d.Decrypt(key, iv, buf[:h.HeaderLen()], ciphertext, buf[fl-16:], decrypted[:]) {
		return 0, 0
	}
	if plaintextOut == nil || bl == 0 {
		return fl + 1, 0
	}
	upbl := frame.Unpad32(decrypted[:])
	if upbl > frame.MaxBodyPlaintext {
		return 0, 0
	}
	if int(upbl) > len(plaintextOut) {
		return 0, 0
	}
	copy(plaintextOut, decrypted[:upbl])
	return fl + 1, upbl
}

// DecodeRawFromID builds the IV from a candidate full node ID (at least
// 6 bytes) and the counter at the start of the frame trailer, then runs
// DecodeRaw. When several stored nodes share the frame's ID prefix the
// caller may need to try each in turn.
func DecodeRawFromID(h *frame.Header, buf []byte, d Decryptor, adjID []byte, key *[16]byte, plaintextOut []byte) (uint8, uint8) {
	if h == nil || len(adjID) < 6 {
		return 0, 0
	}
	if h.IsInvalid() {
		return 0, 0
	}
	if h.TrailerLen() != frame.SecureTrailerSize {
		return 0, 0
	}
	if len(buf) < int(h.TrailerOffset())+6 {
		return 0, 0
	}
	var iv [12]byte
	copy(iv[:6], adjID)
	copy(iv[6:], buf[h.TrailerOffset():])
	return DecodeRaw(h, buf, d, key, &iv, plaintextOut)
}
