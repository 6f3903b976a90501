// Package frame implements the small securable radio frame wire format:
// a length-prefixed header carrying frame type, sequence number, leaf ID
// and body length, followed by the body and either a one-byte CRC trailer
// (non-secure) or a 23-byte authentication trailer (secure).
package frame

// Type is the 7-bit frame type; the top bit of the on-wire type byte is
// the secure flag.
type Type uint8

const (
	// TypeNone is never valid on the wire (all-zeros first byte).
	TypeNone Type = 0

	// TypeAlive is an "I'm alive" beacon, usually with an empty body.
	TypeAlive Type = '!'

	// TypeBasicSensorOrValve carries valve percent-open plus stats.
	TypeBasicSensorOrValve Type = 'O'

	// TypeInvalidHigh and everything above it is invalid, which also
	// excludes an all-ones first byte once the secure flag is set.
	TypeInvalidHigh Type = 0x7f
)

// SecureFlag is ORed into the on-wire type byte of secure frames.
const SecureFlag = 0x80

const (
	// MaxSmallFrameSize is the largest allowed fl value: a whole small
	// frame fits in 64 bytes including the length byte itself.
	MaxSmallFrameSize = 63

	// MaxIDLength is the most leaf ID bytes a small frame header carries.
	MaxIDLength = 8
)

const (
	// PaddedBodySize is the fixed ciphertext/padded-plaintext block size.
	PaddedBodySize = 32

	// MaxBodyPlaintext is the most unpadded body a secure frame can carry.
	MaxBodyPlaintext = PaddedBodySize - 1

	// SecureTrailerSize is the 16-byte tag, 6-byte counter and marker byte.
	SecureTrailerSize = 23

	// SecureTrailerMarker terminates every secure frame of this dialect.
	SecureTrailerMarker = 0x80
)

// Header is the decoded (or to-be-encoded) small frame header.
// FrameLen (fl) counts every frame byte after itself; it is held at the
// invalid sentinel 0 until an Encode or Decode completes successfully.
type Header struct {
	FrameLen uint8
	FType    uint8
	SeqIl    uint8
	ID       [MaxIDLength]byte
	BodyLen  uint8
}

// IsInvalid reports whether the header has not (yet) validated.
func (h *Header) IsInvalid() bool { return h.FrameLen == 0 }

// IsSecure reports the secure flag from the on-wire type byte.
func (h *Header) IsSecure() bool { return h.FType&SecureFlag != 0 }

// Seq returns the 4 lsbs of the frame sequence number.
func (h *Header) Seq() uint8 { return h.SeqIl >> 4 }

// IDLen returns the number of leaf ID bytes present in the header.
func (h *Header) IDLen() uint8 { return h.SeqIl & 0xf }

// HeaderLen returns the header length including the leading fl byte.
func (h *Header) HeaderLen() uint8 { return 4 + h.IDLen() }

// BodyOffset returns the offset of the body from the start of the frame.
func (h *Header) BodyOffset() uint8 { return h.HeaderLen() }

// TrailerLen returns tl = fl - 3 - il - bl; meaningless while invalid.
func (h *Header) TrailerLen() uint8 { return h.FrameLen + 1 - h.HeaderLen() - h.BodyLen }

// TrailerOffset returns the offset of the trailer from the frame start.
func (h *Header) TrailerOffset() uint8 { return h.HeaderLen() + h.BodyLen }

// Encode validates the parameters against the wire format's quick
// integrity checks and, when buf is non-nil, writes the encoded header to
// it. The checks mirror the receive-side set where they apply to a
// transmitter: type not 0x00/0x7f (nor 0x80/0xff once the secure bit is
// folded in), id at most 8 bytes, whole frame within the 63-byte fl
// limit, and trailerLen exactly 1 for non-secure frames.
//
// Returns the header length including the leading fl byte, or 0 on any
// violation, in which case the header remains invalid and buf untouched.
func (h *Header) Encode(buf []byte, secure bool, fType Type, seqNum uint8, id []byte, bodyLen, trailerLen uint8) uint8 {
	// Invalid until everything checks out.
	h.FrameLen = 0

	if fType == TypeNone || fType >= TypeInvalidHigh {
		return 0
	}
	if secure {
		h.FType = SecureFlag | uint8(fType)
	} else {
		h.FType = 0x7f & uint8(fType)
	}
	il := uint8(len(id))
	if il > MaxIDLength {
		return 0
	}
	h.SeqIl = il | (seqNum << 4)
	copy(h.ID[:], id)
	// Header length including the fl byte.
	hlifl := 4 + il
	if buf != nil && int(hlifl) > len(buf) {
		return 0
	}
	if bodyLen > MaxSmallFrameSize-hlifl {
		return 0
	}
	h.BodyLen = bodyLen
	if !secure {
		if trailerLen != 1 {
			return 0
		}
	} else {
		if trailerLen == 0 {
			return 0
		}
		if trailerLen > MaxSmallFrameSize+1-hlifl-bodyLen {
			return 0
		}
	}

	fl := hlifl - 1 + bodyLen + trailerLen

	if buf != nil {
		buf[0] = fl
		buf[1] = h.FType
		buf[2] = h.SeqIl
		copy(buf[3:], id)
		buf[3+il] = bodyLen
	}

	// Valid as the last action.
	h.FrameLen = fl
	return hlifl
}

// Decode performs the eight quick integrity checks on an inbound frame
// and fills in the header fields. Check 7, that the final trailer byte is
// neither 0x00 nor 0xff, runs only when buf holds the complete frame.
//
// Returns the decoded header length including the leading fl byte, or 0
// on any failure so the caller can hand the bytes to another decoder.
func (h *Header) Decode(buf []byte) uint8 {
	// Invalid until everything checks out.
	h.FrameLen = 0

	if len(buf) < 4 {
		return 0
	}
	// 1) fl >= 4: type, seq/il, bl and trailer bytes must all fit.
	fl := buf[0]
	if fl < 4 {
		return 0
	}
	// 2) small frames only.
	if fl > MaxSmallFrameSize {
		return 0
	}
	// 3) the type byte is never 0x00, 0x80, 0x7f or 0xff.
	h.FType = buf[1]
	fType := Type(h.FType & 0x7f)
	if fType == TypeNone || fType >= TypeInvalidHigh {
		return 0
	}
	// 4) il <= 8: the leaf node ID is at most 8 bytes.
	h.SeqIl = buf[2]
	il := h.IDLen()
	if il > MaxIDLength {
		return 0
	}
	// 5) il <= fl - 4: minimum of 4 bytes of other overhead.
	if il > fl-4 {
		return 0
	}
	hlifl := 4 + il
	if int(hlifl) > len(buf) {
		return 0
	}
	copy(h.ID[:il], buf[3:])
	// 6) bl <= fl - 4 - il.
	bl := buf[hlifl-1]
	if bl > fl-hlifl {
		return 0
	}
	h.BodyLen = bl
	// 7) final frame byte never 0x00 nor 0xff, if available to check.
	if len(buf) > int(fl) {
		last := buf[fl]
		if last == 0x00 || last == 0xff {
			return 0
		}
	}
	// 8) tl == 1 for non-secure, tl >= 1 for secure.
	tl := fl - 3 - il - bl
	if !h.IsSecure() {
		if tl != 1 {
			return 0
		}
	} else if tl == 0 {
		return 0
	}

	// Valid as the last action.
	h.FrameLen = fl
	return hlifl
}
