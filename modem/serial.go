package modem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// receivePoll bounds each blocking read so the receive goroutine notices
// Close promptly.
const receivePoll = 50 * time.Millisecond

// SerialDialer opens the modem over a local serial port using
// go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	PortName string
	// BaudRate is used when Mode is nil. Zero means 115200.
	BaudRate int
	// Mode overrides the line settings entirely.
	Mode *serial.Mode
}

// Dial opens the serial port. The returned Port has not started receiving;
// NewTransport arms it.
func (d SerialDialer) Dial(ctx context.Context) (Port, error) {
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	p, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", d.PortName, err)
	}
	return newSerialPort(p), nil
}

// serialPort adapts a go.bug.st/serial port to Port. A dedicated goroutine
// plays the role of the receive interrupt: it reads one byte at a time and
// hands each to rx before reading the next.
type serialPort struct {
	port  serial.Port
	armed atomic.Bool
	done  chan struct{}
	once  sync.Once
}

func newSerialPort(p serial.Port) *serialPort {
	return &serialPort{
		port: p,
		done: make(chan struct{}),
	}
}

func (s *serialPort) Transmit(p []byte, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		_, err := s.port.Write(p)
		if err == nil {
			err = s.port.Drain()
		}
		errc <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return ErrTransmitTimeout
	}
}

func (s *serialPort) StartReceive(rx func(b byte)) error {
	if !s.armed.CompareAndSwap(false, true) {
		return ErrReceiveArmed
	}
	if err := s.port.SetReadTimeout(receivePoll); err != nil {
		s.armed.Store(false)
		return err
	}
	go s.receive(rx)
	return nil
}

func (s *serialPort) receive(rx func(b byte)) {
	var b [1]byte
	for {
		select {
		case <-s.done:
			return
		default:
		}
		n, err := s.port.Read(b[:])
		if err != nil {
			// Port closed or device unplugged; reception cannot resume.
			return
		}
		if n == 1 {
			rx(b[0])
		}
	}
}

func (s *serialPort) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.port.Close()
}
