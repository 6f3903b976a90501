package crc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thatsimonsguy/trv-controller/internal/crc"
)

func TestUpdate7TopBitAlwaysClear(t *testing.T) {
	for c := 0; c < 256; c++ {
		for d := 0; d < 256; d += 7 {
			out := crc.Update7(uint8(c), uint8(d))
			assert.Zero(t, out&0x80)
		}
	}
}

func TestUpdate7KnownValues(t *testing.T) {
	// Zero in, zero seed stays zero.
	assert.Equal(t, uint8(0), crc.Update7(0, 0))
	// A single-bit input must produce a nonzero CRC.
	assert.NotEqual(t, uint8(0), crc.Update7(0, 1))
	// The map from one input byte to CRC is well spread: a 7-bit CRC
	// can collide at most in pairs over a 128-value sample.
	seen := make(map[uint8]bool)
	for d := 0; d < 128; d++ {
		seen[crc.Update7(0x7f, uint8(d))] = true
	}
	assert.GreaterOrEqual(t, len(seen), 64)
}

func TestUpdate7NZFinalRemapsZero(t *testing.T) {
	remapped := false
	for c := 0; c < 128 && !remapped; c++ {
		for d := 0; d < 256; d++ {
			if crc.Update7(uint8(c), uint8(d)) == 0 {
				assert.Equal(t, uint8(crc.NonZeroAlt), crc.Update7NZFinal(uint8(c), uint8(d)))
				remapped = true
				break
			}
		}
	}
	assert.True(t, remapped, "expected at least one zero CRC to exercise the remap")

	// Nonzero results pass through unchanged.
	v := crc.Update7(0x7f, 0x42)
	if v != 0 {
		assert.Equal(t, v, crc.Update7NZFinal(0x7f, 0x42))
	}
}
