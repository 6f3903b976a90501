package model

// GPIOPin describes one pin of the H-bridge or sense circuitry and
// the polarity that counts as "active".
type GPIOPin struct {
	Number     int
	ActiveHigh bool
}

// HouseCode is the two-byte FHT8V pairing code programmed into a
// valve head. Both bytes must be in [0,99].
type HouseCode struct {
	HC1 uint8 `json:"hc1"`
	HC2 uint8 `json:"hc2"`
}

// ValveStatus is the externally visible state of the valve drive,
// served over the REST API and pushed into telemetry frames.
type ValveStatus struct {
	State          string `json:"state"`
	CurrentPercent uint8  `json:"current_percent"`
	TargetPercent  uint8  `json:"target_percent"`
	Proportional   bool   `json:"proportional"`
	CallForHeat    bool   `json:"call_for_heat"`
}
