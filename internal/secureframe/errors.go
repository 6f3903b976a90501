package secureframe

import "errors"

var (
	// ErrCounterExhausted means the persistent TX restart counter has
	// reached its ceiling. No further secure frames can be sent under
	// the current key; re-key and reset the counter.
	ErrCounterExhausted = errors.New("secureframe: message counter exhausted")

	// ErrCounterCorrupt means neither stored copy of a message counter
	// passed its checksum.
	ErrCounterCorrupt = errors.New("secureframe: stored message counter corrupt")

	// ErrCounterReplay means an inbound counter was not strictly greater
	// than the last authenticated value for the node.
	ErrCounterReplay = errors.New("secureframe: message counter not monotonically increasing")

	// ErrNotAssociated means no stored node association matched the
	// frame's ID prefix.
	ErrNotAssociated = errors.New("secureframe: no association for node ID")

	// ErrFrameInvalid covers structural or authentication failures on a
	// frame; the bytes may still parse under another decoder.
	ErrFrameInvalid = errors.New("secureframe: frame failed validation")
)
