package radio

import "sync"

// MockLink is an in-memory Link for tests and for running the
// controller on a bench with no transceiver attached.
type MockLink struct {
	mu     sync.Mutex
	frames [][]byte
	fs20   [][]byte
	recv   chan []byte
}

func NewMockLink() *MockLink {
	return &MockLink{recv: make(chan []byte, 8)}
}

func (m *MockLink) SendFrame(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, append([]byte{}, frame...))
	return nil
}

func (m *MockLink) SendFS20(stream []byte, double bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fs20 = append(m.fs20, append([]byte{}, stream...))
	if double {
		m.fs20 = append(m.fs20, append([]byte{}, stream...))
	}
	return nil
}

func (m *MockLink) Recv() <-chan []byte { return m.recv }

func (m *MockLink) Close() error {
	close(m.recv)
	return nil
}

// Inject delivers a frame as if received off the air.
func (m *MockLink) Inject(frame []byte) {
	m.recv <- append([]byte{}, frame...)
}

// SentFrames returns a copy of all small frames transmitted.
func (m *MockLink) SentFrames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

// SentFS20 returns a copy of all FS20 streams transmitted.
func (m *MockLink) SentFS20() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.fs20))
	copy(out, m.fs20)
	return out
}
