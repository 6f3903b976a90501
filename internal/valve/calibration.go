package valve

// CalibrationParameters holds the measured travel of the valve in
// motor sub-cycle ticks, plus values derived from it for
// dead-reckoning position estimates. Logically read-only outside
// (re)calibration.
type CalibrationParameters struct {
	// Minimum sub-cycle ticks for one dead-reckoning pulse; strictly positive.
	minMotorDRTicks uint8

	ticksFromOpenToClosed uint16
	ticksFromClosedToOpen uint16

	// Approximate precision of dead-reckoning in percent.
	approxPrecisionPC uint8

	// Scaled-down tick ratios allowing single dead-reckoning steps to
	// be converted between directions without much error.
	tfotcSmall uint16
	tfctoSmall uint16
}

// NewCalibrationParameters returns empty parameters carrying the
// dead-reckoning pulse length; UpdateAndCompute fills in the rest.
func NewCalibrationParameters(minMotorDRTicks uint8) CalibrationParameters {
	return CalibrationParameters{minMotorDRTicks: minMotorDRTicks}
}

// MinMotorDRTicks returns the dead-reckoning pulse length in ticks.
func (cp *CalibrationParameters) MinMotorDRTicks() uint8 { return cp.minMotorDRTicks }

// TicksFromOpenToClosed returns the measured open-to-closed travel.
func (cp *CalibrationParameters) TicksFromOpenToClosed() uint16 { return cp.ticksFromOpenToClosed }

// TicksFromClosedToOpen returns the measured closed-to-open travel.
func (cp *CalibrationParameters) TicksFromClosedToOpen() uint16 { return cp.ticksFromClosedToOpen }

// ApproxPrecisionPC returns the approximate dead-reckoning precision
// in percent, in [0,100].
func (cp *CalibrationParameters) ApproxPrecisionPC() uint8 { return cp.approxPrecisionPC }

// UpdateAndCompute repopulates the structure from freshly measured
// travel in each direction and computes the derived parameters, so
// that all necessary items are gathered at once and none forgotten.
// Returns false, forcing the caller to treat calibration as failed,
// if the values are too poor to be usable; derived values are still
// computed.
func (cp *CalibrationParameters) UpdateAndCompute(ticksFromOpenToClosed, ticksFromClosedToOpen uint16) bool {
	cp.ticksFromOpenToClosed = ticksFromOpenToClosed
	cp.ticksFromClosedToOpen = ticksFromClosedToOpen

	// Approximate precision in % as pulse size / travel, inflated
	// slightly to allow for inertia.
	minTicks := min16(ticksFromOpenToClosed, ticksFromClosedToOpen)
	if minTicks == 0 {
		cp.approxPrecisionPC = 100
	} else {
		p := 128 * uint32(cp.minMotorDRTicks) / uint32(minTicks)
		if p > 100 {
			p = 100
		}
		cp.approxPrecisionPC = uint8(p)
	}

	// Scale the ratio down until one pulse spans it.
	tfotc := ticksFromOpenToClosed
	tfcto := ticksFromClosedToOpen
	for max16(tfotc, tfcto) > uint16(cp.minMotorDRTicks) {
		tfotc >>= 1
		tfcto >>= 1
	}
	cp.tfotcSmall = tfotc
	cp.tfctoSmall = tfcto

	// Far too poor precision to be usable.
	if cp.approxPrecisionPC > 25 {
		return false
	}
	// A ratio value under 4 bits would introduce huge error.
	if min16(tfotc, tfcto) < 8 {
		return false
	}
	return true
}

// ComputePosition reconciles accumulated reverse ticks into the
// from-open count in whole dead-reckoning blocks, then converts the
// result into an estimated percent open in [0,100]. Call after
// moving the valve in normal mode.
func (cp *CalibrationParameters) ComputePosition(ticksFromOpen, ticksReverse *uint16) uint8 {
	// Back out reverse ticks in blocks; usually only about one block
	// at a time, so nothing clever here.
	for *ticksReverse >= cp.tfctoSmall {
		if cp.tfctoSmall == 0 {
			break
		}
		*ticksReverse -= cp.tfctoSmall
		if *ticksFromOpen > cp.tfotcSmall {
			*ticksFromOpen -= cp.tfotcSmall
		} else {
			*ticksFromOpen = 0
		}
	}

	if *ticksFromOpen == 0 {
		return 100
	}
	if *ticksFromOpen >= cp.ticksFromOpenToClosed {
		return 0
	}
	return uint8(uint32(cp.ticksFromOpenToClosed-*ticksFromOpen) * 100 / uint32(cp.ticksFromOpenToClosed))
}

func min16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func max16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}
