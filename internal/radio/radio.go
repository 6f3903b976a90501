// Package radio carries frames between the controller and the
// UART-attached sub-GHz transceiver module. The module speaks a small
// length-prefixed protocol: each direction sends [kind][len][bytes],
// where kind selects the secure/plain small-frame channel or the
// FS20 200us bit-stream channel used for FHT8V valve heads.
package radio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	kindFrame = 0x01 // small frame, secure or non-secure
	kindFS20  = 0x02 // raw FS20 bit stream
	kindRecv  = 0x81 // frame received by the module
)

// MaxPayload is the largest payload either channel can carry.
const MaxPayload = 64

// Gap between the two halves of a double transmission.
const doubleTXGap = 8 * time.Millisecond

var ErrPayloadTooBig = errors.New("radio: payload too big")

// Link is the transceiver contract. Send methods are safe for
// concurrent use.
type Link interface {
	// SendFrame transmits one small frame.
	SendFrame(frame []byte) error
	// SendFS20 transmits an FS20 bit stream, twice with a short gap
	// when double is set.
	SendFS20(stream []byte, double bool) error
	// Recv yields frames received off the air. The channel closes
	// when the link closes.
	Recv() <-chan []byte
	Close() error
}

// SerialLink drives the transceiver over a serial port.
type SerialLink struct {
	port serial.Port

	mu     sync.Mutex // serialises writes
	recv   chan []byte
	closed chan struct{}
}

// Open opens the given serial device at the given baud rate, 8N1, and
// starts the receive loop.
func Open(device string, baud int) (*SerialLink, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open radio port %s: %w", device, err)
	}
	l := &SerialLink{
		port:   port,
		recv:   make(chan []byte, 8),
		closed: make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

func (l *SerialLink) send(kind uint8, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooBig
	}
	buf := make([]byte, 0, 2+len(payload))
	buf = append(buf, kind, uint8(len(payload)))
	buf = append(buf, payload...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.port.Write(buf); err != nil {
		return fmt.Errorf("radio write failed: %w", err)
	}
	return nil
}

func (l *SerialLink) SendFrame(frame []byte) error {
	return l.send(kindFrame, frame)
}

func (l *SerialLink) SendFS20(stream []byte, double bool) error {
	if err := l.send(kindFS20, stream); err != nil {
		return err
	}
	if double {
		time.Sleep(doubleTXGap)
		return l.send(kindFS20, stream)
	}
	return nil
}

func (l *SerialLink) Recv() <-chan []byte { return l.recv }

func (l *SerialLink) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
	}
	close(l.closed)
	return l.port.Close()
}

// readLoop reassembles [kind][len][bytes] records from the port and
// forwards received frames. Unknown kinds are skipped by their
// declared length, which keeps the stream in sync across module
// firmware additions.
func (l *SerialLink) readLoop() {
	defer close(l.recv)
	hdr := make([]byte, 2)
	for {
		if err := l.readFull(hdr); err != nil {
			l.logReadErr(err)
			return
		}
		kind, n := hdr[0], int(hdr[1])
		if n > MaxPayload {
			log.Warn().Uint8("kind", kind).Int("len", n).Msg("radio record oversize, resyncing")
			continue
		}
		payload := make([]byte, n)
		if err := l.readFull(payload); err != nil {
			l.logReadErr(err)
			return
		}
		if kind != kindRecv {
			log.Debug().Uint8("kind", kind).Msg("radio record ignored")
			continue
		}
		select {
		case l.recv <- payload:
		default:
			log.Warn().Msg("radio rx queue full, frame dropped")
		}
	}
}

func (l *SerialLink) readFull(p []byte) error {
	for off := 0; off < len(p); {
		n, err := l.port.Read(p[off:])
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New("radio port closed")
		}
		off += n
	}
	return nil
}

func (l *SerialLink) logReadErr(err error) {
	select {
	case <-l.closed:
		// Expected during shutdown.
	default:
		log.Error().Err(err).Msg("radio read loop terminated")
	}
}
