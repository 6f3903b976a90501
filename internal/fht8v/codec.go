// Package fht8v encodes and decodes the FS20 200us-per-bit command
// frames understood by FHT8V wireless radiator valve heads, and runs
// the half-second TX scheduling needed to stay in sync with one.
package fht8v

import "math/bits"

// Command byte values carried in a frame.
const (
	CmdValveSet  = 0x26 // set valve position, extension = position on the 255 scale
	CmdSync      = 0x2c // sync countdown, extension = countdown state
	CmdSyncFinal = 0x20 // sync complete, extension must be 0
)

// MinBitStreamBufSize is the buffer needed for the longest possible
// encoded frame plus the 0xff terminator. Encoded frames run 35 bytes
// (all-zero payload) to 45 bytes (all-0xff payload).
const MinBitStreamBufSize = 46

const (
	preambleByte  = 0xcc
	preambleBytes = 6
)

// Msg is one house-coded FHT8V command before bit encoding.
type Msg struct {
	HC1       uint8
	HC2       uint8
	Address   uint8
	Command   uint8
	Extension uint8
}

// PercentTo255 maps a [0,100] percent-open value onto the [0,255]
// scale the FHT8V uses, as pc * (2 + 1/2 + 1/16) with each part
// rounded down. Monotonic, and exact at both endpoints and at the
// boiler drop-out threshold (50% -> 128).
func PercentTo255(pc uint8) uint8 {
	if pc >= 100 {
		return 255
	}
	return (pc << 1) + (pc >> 1) + (pc >> 4)
}

// Scale255ToPercent is the inverse mapping, avoiding division and
// again exact at both endpoints.
func Scale255ToPercent(scale uint8) uint8 {
	switch scale {
	case 0:
		return 0
	case 255:
		return 100
	}
	return uint8((uint16(scale)*100 + 199) >> 8)
}

// appendEncBit appends the 200us encoding of one logical bit, 1100
// for 0 and 111000 for 1, msbit-first into the byte at buf[pos].
//
// A partial byte always holds an even number of bits, and its two
// least significant bits count the bit pairs still free, so the 0xff
// initialiser (never a valid filled byte) reads as empty. Returns the
// position of the byte now under construction.
func appendEncBit(buf []byte, pos int, is1 bool) int {
	pairsLeft := buf[pos] & 3
	if !is1 {
		switch pairsLeft {
		case 3: // Empty byte: msbits become 1100, two pairs remain free.
			buf[pos] = 0xcd
		case 2:
			buf[pos] = (buf[pos] & 0xc0) | 0x30
		case 1: // Fills the byte exactly.
			buf[pos] = (buf[pos] & 0xf0) | 0x0c
			pos++
			buf[pos] = 0xff
		default: // One pair free: leading 11 here, trailing 00 spill over.
			buf[pos] |= 3
			pos++
			buf[pos] = 0x3e
		}
	} else {
		switch pairsLeft {
		case 3: // Empty byte: msbits become 111000, one pair remains free.
			buf[pos] = 0xe0
		case 2: // Fills the byte exactly.
			buf[pos] = (buf[pos] & 0xc0) | 0x38
			pos++
			buf[pos] = 0xff
		case 1: // 1110 here, trailing 00 spill over.
			buf[pos] = (buf[pos] & 0xf0) | 0x0e
			pos++
			buf[pos] = 0x3e
		default: // 11 here, 1000 spill over.
			buf[pos] |= 3
			pos++
			buf[pos] = 0x8d
		}
	}
	return pos
}

// appendByteEP appends one byte msbit-first plus its trailing even
// parity bit, nine logical bits in all.
func appendByteEP(buf []byte, pos int, b uint8) int {
	for mask := uint8(0x80); mask != 0; mask >>= 1 {
		pos = appendEncBit(buf, pos, b&mask != 0)
	}
	return appendEncBit(buf, pos, bits.OnesCount8(b)&1 != 0)
}

// EncodeBitStream writes the full TX byte stream for m into buf:
// twelve 0-bit preamble (pre-encoded as six 0xcc bytes) and a 1-bit,
// then HC1, HC2, address, command and extension each with even
// parity, the checksum byte, a trailing 0-bit plus two flush 0-bits,
// terminated by 0xff (not a possible valid encoded byte).
//
// Returns the total bytes written including the terminator, or 0 if
// buf is smaller than MinBitStreamBufSize.
func EncodeBitStream(buf []byte, m *Msg) int {
	if len(buf) < MinBitStreamBufSize {
		return 0
	}
	for i := 0; i < preambleBytes; i++ {
		buf[i] = preambleByte
	}
	pos := preambleBytes
	buf[pos] = 0xff
	pos = appendEncBit(buf, pos, true)

	pos = appendByteEP(buf, pos, m.HC1)
	pos = appendByteEP(buf, pos, m.HC2)
	pos = appendByteEP(buf, pos, m.Address)
	pos = appendByteEP(buf, pos, m.Command)
	pos = appendByteEP(buf, pos, m.Extension)
	pos = appendByteEP(buf, pos, checksum(m))

	pos = appendEncBit(buf, pos, false)
	// Extra 0 bits to flush out the final required bits.
	pos = appendEncBit(buf, pos, false)
	pos = appendEncBit(buf, pos, false)
	buf[pos] = 0xff
	return pos + 1
}

func checksum(m *Msg) uint8 {
	return 0x0c + m.HC1 + m.HC2 + m.Address + m.Command + m.Extension
}

// FrameLenFFTerminated returns the length of the encoded stream up to
// but excluding the 0xff terminator, which is what actually goes on
// the air. Returns 0 for an empty (0xff-led) buffer.
func FrameLenFFTerminated(buf []byte) int {
	for i, b := range buf {
		if b == 0xff {
			return i
		}
	}
	return len(buf)
}

type decodeState struct {
	stream []byte
	pos    int
	mask   uint8 // next bit pair to read; 0 means start at 0xc0
	failed bool
}

// readOneBit decodes the pattern 1100 as 0 and 111000 as 1, reading
// two bits at a time msbit to lsbit. Any other pattern, or running
// off the end of the stream, marks the state failed.
func (s *decodeState) readOneBit() uint8 {
	if s.pos >= len(s.stream) {
		s.failed = true
	}
	if s.failed {
		return 0
	}
	if s.mask == 0 {
		s.mask = 0xc0
	}

	// First pair must be 11.
	if s.mask != s.mask&s.stream[s.pos] {
		s.failed = true
		return 0
	}
	s.mask >>= 2
	if s.mask == 0 {
		s.mask = 0xc0
		s.pos++
		if s.pos >= len(s.stream) {
			s.failed = true
			return 0
		}
	}

	// Second pair: 00 decodes a 0, 10 begins a 1.
	switch s.mask & s.stream[s.pos] {
	case 0:
		s.mask >>= 2
		if s.mask == 0 {
			s.pos++
		}
		return 0
	case 0x80, 0x20, 8, 2:
	default:
		s.failed = true
		return 0
	}
	s.mask >>= 2
	if s.mask == 0 {
		s.mask = 0xc0
		s.pos++
		if s.pos >= len(s.stream) {
			s.failed = true
			return 0
		}
	}

	// Third pair must be 00 to complete the 1.
	if s.mask&s.stream[s.pos] != 0 {
		s.failed = true
		return 0
	}
	s.mask >>= 2
	if s.mask == 0 {
		s.pos++
	}
	return 1
}

// readOneByteWithParity decodes eight bits msbit-first plus the even
// parity bit, failing the state on a parity mismatch.
func (s *decodeState) readOneByteWithParity() uint8 {
	if s.failed {
		return 0
	}
	var result, parity uint8
	for i := 0; i < 8; i++ {
		bit := s.readOneBit()
		parity ^= bit
		result = result<<1 | bit
	}
	if parity != s.readOneBit() {
		s.failed = true
	}
	return result
}

// DecodeBitStream decodes one frame from a raw encoded stream,
// absorbing any leading encoded 0s and the single 1-bit before the
// body. Returns the decoded message and the index of the next full
// byte past the frame, or nil and 0 on any parity, checksum, pattern
// or overrun failure.
func DecodeBitStream(stream []byte) (*Msg, int) {
	s := decodeState{stream: stream}

	for s.readOneBit() == 0 {
		if s.failed {
			return nil, 0
		}
	}

	var m Msg
	m.HC1 = s.readOneByteWithParity()
	m.HC2 = s.readOneByteWithParity()
	m.Address = s.readOneByteWithParity()
	m.Command = s.readOneByteWithParity()
	m.Extension = s.readOneByteWithParity()
	checksumRead := s.readOneByteWithParity()
	if s.failed {
		return nil, 0
	}
	if checksum(&m) != checksumRead {
		return nil, 0
	}

	// Trailing encoded 0 closes the frame.
	if s.readOneBit() != 0 || s.failed {
		return nil, 0
	}
	return &m, s.pos + 1
}
