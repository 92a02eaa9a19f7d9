package modem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"i4.energy/across/espmqtt/at"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

const (
	// StagingSize is the transmit staging buffer for one command line,
	// terminator included.
	StagingSize = 256
	// MaxCommandLen is the longest command SendText accepts.
	MaxCommandLen = StagingSize - len(at.CRLF)

	DefaultRingSize  = 256
	DefaultTxTimeout = time.Second
	DefaultPollDelay = time.Millisecond
)

// Port represents the hardware serial endpoint a Transport binds to.
//
// Typical implementations include serial ports opened with SerialDialer,
// or in-memory fakes used for testing.
type Port interface {
	// Transmit writes p synchronously and gives up after timeout.
	Transmit(p []byte, timeout time.Duration) error
	// StartReceive arms byte-at-a-time reception. The port calls rx once
	// per received byte, from its own receive context, and re-arms itself
	// for the next byte. rx never blocks.
	StartReceive(rx func(b byte)) error
	io.Closer
}

// Dialer opens a Port to the modem.
//
// Dialer abstracts how the serial endpoint is obtained and is used during
// modem construction only. Once a Port is obtained, the Dialer is no
// longer needed.
type Dialer interface {
	// Dial opens and configures the endpoint. It should respect
	// cancellation of ctx while opening.
	Dial(ctx context.Context) (Port, error)
}

// Conn is the line-oriented side of a Transport that the Engine drives.
type Conn interface {
	ClearReceiveBuffer()
	SendText(cmd string) error
	ReadLine(buf []byte, timeout time.Duration) int
}

// Transport owns the receive ring for one Port. The receive side of the
// port feeds Ingest; everything else runs on the caller's single thread
// of control.
type Transport struct {
	port      Port
	ring      *Ring
	ringSize  int
	clock     Clock
	pollDelay time.Duration
	txTimeout time.Duration
	logger    *slog.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithRingSize sets the number of receive ring slots.
func WithRingSize(n int) TransportOption {
	return func(t *Transport) { t.ringSize = n }
}

// WithClock sets the tick source used by ReadLine.
func WithClock(c Clock) TransportOption {
	return func(t *Transport) { t.clock = c }
}

// WithPollDelay sets how long ReadLine sleeps when no byte is buffered.
func WithPollDelay(d time.Duration) TransportOption {
	return func(t *Transport) { t.pollDelay = d }
}

// WithTxTimeout bounds every synchronous transmit.
func WithTxTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.txTimeout = d }
}

// WithLogger sets the logging sink.
func WithLogger(l *slog.Logger) TransportOption {
	return func(t *Transport) { t.logger = l }
}

// NewTransport binds port, resets the receive ring and arms reception.
// It returns ErrNoPort if port is nil.
func NewTransport(port Port, opts ...TransportOption) (*Transport, error) {
	if port == nil {
		return nil, ErrNoPort
	}

	t := &Transport{
		port:      port,
		ringSize:  DefaultRingSize,
		pollDelay: DefaultPollDelay,
		txTimeout: DefaultTxTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.clock == nil {
		t.clock = NewSystemClock()
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}

	t.ring = NewRing(t.ringSize)
	if err := port.StartReceive(t.Ingest); err != nil {
		return nil, fmt.Errorf("arm receive: %w", err)
	}
	return t, nil
}

// Ingest is the byte entry point for the port's receive path. It only
// touches the ring; overflow is counted, never logged here.
func (t *Transport) Ingest(b byte) {
	t.ring.Push(b)
}

// SendText transmits cmd followed by CRLF. Commands longer than
// MaxCommandLen are not sent at all and yield ErrCommandTooLong.
func (t *Transport) SendText(cmd string) error {
	if len(cmd)+len(at.CRLF) > StagingSize {
		t.logger.Warn("Command exceeds staging buffer, not sent",
			"length", len(cmd), "max", MaxCommandLen)
		return ErrCommandTooLong
	}

	var staging [StagingSize]byte
	line := append(staging[:0], cmd...)
	line = append(line, at.CRLF...)
	return t.transmit(line)
}

// SendBytes transmits p as is.
func (t *Transport) SendBytes(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	return t.transmit(p)
}

func (t *Transport) transmit(p []byte) error {
	if err := t.port.Transmit(p, t.txTimeout); err != nil {
		return fmt.Errorf("transmit: %w", err)
	}
	return nil
}

// ReadByte returns the next buffered byte without waiting.
func (t *Transport) ReadByte() (byte, bool) {
	return t.ring.Pop()
}

// ReadLine collects bytes into buf until a newline has been stored,
// len(buf)-1 bytes have been collected, or timeout has elapsed. buf is
// always zero terminated after the returned number of bytes; 0 means
// nothing arrived in time.
func (t *Transport) ReadLine(buf []byte, timeout time.Duration) int {
	if len(buf) == 0 {
		return 0
	}

	n := 0
	start := t.clock.Ticks()
	budget := toTicks(timeout)
	for n < len(buf)-1 {
		if elapsed(start, t.clock.Ticks()) >= budget {
			break
		}
		b, ok := t.ring.Pop()
		if !ok {
			t.clock.Sleep(t.pollDelay)
			continue
		}
		buf[n] = b
		n++
		if b == at.LF {
			break
		}
	}
	buf[n] = 0
	return n
}

// ClearReceiveBuffer drops everything received so far.
func (t *Transport) ClearReceiveBuffer() {
	t.ring.Clear()
}

// Buffered returns the number of unread bytes.
func (t *Transport) Buffered() int {
	return t.ring.Len()
}

// Dropped returns the number of bytes lost to ring overflow.
func (t *Transport) Dropped() uint64 {
	return t.ring.Dropped()
}

// Close releases the port.
func (t *Transport) Close() error {
	return t.port.Close()
}
