package modem

import (
	"strings"
	"sync"
	"time"

	"i4.energy/across/espmqtt/at"
)

// Reply is data the simulated modem emits After a command was received.
type Reply struct {
	After time.Duration
	Data  string
}

// TestPort is a test helper that simulates the modem end of the serial
// link. Scripted replies are delivered through a ManualClock, so they
// arrive while the code under test sleeps in its poll loop, just like
// bytes delivered by a receive interrupt.
type TestPort struct {
	// TransmitErr, when set, is returned by every Transmit.
	TransmitErr error

	mu      sync.Mutex
	clock   *ManualClock
	rx      func(byte)
	sent    []string
	scripts map[string][][]Reply
	closed  bool
}

// NewTestPort creates a test port driven by clock.
func NewTestPort(clock *ManualClock) *TestPort {
	return &TestPort{
		clock:   clock,
		scripts: make(map[string][][]Reply),
	}
}

// On queues replies for the next transmission of cmd. Each call adds one
// exchange; repeated transmissions consume them in order.
func (p *TestPort) On(cmd string, replies ...Reply) *TestPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[cmd] = append(p.scripts[cmd], replies)
	return p
}

func (p *TestPort) Transmit(b []byte, timeout time.Duration) error {
	if p.TransmitErr != nil {
		return p.TransmitErr
	}

	p.mu.Lock()
	p.sent = append(p.sent, string(b))
	cmd := strings.TrimSuffix(string(b), at.CRLF)
	var replies []Reply
	if queue := p.scripts[cmd]; len(queue) > 0 {
		replies = queue[0]
		p.scripts[cmd] = queue[1:]
	}
	p.mu.Unlock()

	for _, r := range replies {
		data := r.Data
		p.clock.AfterFunc(r.After, func() { p.Feed(data) })
	}
	return nil
}

func (p *TestPort) StartReceive(rx func(b byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rx != nil {
		return ErrReceiveArmed
	}
	p.rx = rx
	return nil
}

func (p *TestPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Feed delivers data byte by byte to the armed receiver.
func (p *TestPort) Feed(data string) {
	p.mu.Lock()
	rx := p.rx
	closed := p.closed
	p.mu.Unlock()
	if rx == nil || closed {
		return
	}
	for i := 0; i < len(data); i++ {
		rx(data[i])
	}
}

// Sent returns every transmitted chunk in order.
func (p *TestPort) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

// Closed reports whether Close was called.
func (p *TestPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
