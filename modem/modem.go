package modem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"i4.energy/across/espmqtt/at"
)

// Modem drives an ESP-AT Wi-Fi/MQTT modem. It chains single command
// exchanges of the Engine into the bring-up and MQTT workflows.
//
// All methods are serialized: the engine assumes one thread of control,
// so concurrent callers (HTTP handlers, the relay, the receive loop) take
// turns. Retry policy lives here, never in the Engine.
type Modem struct {
	mu        sync.Mutex
	config    Config
	transport *Transport
	engine    *Engine
	logger    *slog.Logger
	closed    bool
	// pending holds an unterminated line left by Receive.
	pending []byte
}

// Stats is a snapshot of the link counters.
type Stats struct {
	// Dropped counts received bytes lost to ring overflow.
	Dropped uint64
	EngineStats
}

// New creates a Modem with the given configuration. It dials the port and
// arms reception; it does not talk to the modem yet. Call FullInit (or the
// individual steps) afterwards.
func New(ctx context.Context, config Config) (*Modem, error) {
	if config.Dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()

	port, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	transport, err := NewTransport(port,
		WithClock(config.Clock),
		WithLogger(config.Logger),
		WithRingSize(config.RingSize),
		WithPollDelay(config.PollDelay),
		WithTxTimeout(config.TxTimeout),
	)
	if err != nil {
		if port != nil {
			port.Close()
		}
		return nil, fmt.Errorf("initialize transport: %w", err)
	}

	engine := NewEngine(transport, config.Clock, config.Logger)
	engine.FailFast = !config.WaitOnFailure

	return &Modem{
		config:    config,
		transport: transport,
		engine:    engine,
		logger:    config.Logger,
	}, nil
}

// Close shuts down the modem and releases the port. After calling Close(),
// the modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAlreadyClosed
	}
	m.closed = true
	return m.transport.Close()
}

// Stats returns the link counters. It is safe to call at any time.
func (m *Modem) Stats() Stats {
	return Stats{
		Dropped:     m.transport.Dropped(),
		EngineStats: m.engine.Stats(),
	}
}

// Config returns the effective configuration.
func (m *Modem) Config() Config {
	return m.config
}

// lock acquires the modem for one operation.
func (m *Modem) lock(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return err
	}
	return nil
}

// exec runs one exchange through an Engine preset and folds transmit
// errors and non-success verdicts into a single error. The exchange
// clears the receive buffer, so any line fragment kept by Receive is
// dropped with it.
func (m *Modem) exec(ctx context.Context, run func(e *Engine) (Result, error)) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.pending = m.pending[:0]
	res, err := run(m.engine)
	if err != nil {
		return res, err
	}
	return res, res.Err()
}

func (m *Modem) expectOk(ctx context.Context, cmd string) error {
	_, err := m.exec(ctx, func(e *Engine) (Result, error) {
		return e.RunUntilOk(cmd, m.config.ResponseTimeout)
	})
	return err
}

// retries returns the number of extra attempts per step.
func (m *Modem) retries() int {
	return max(m.config.MaxRetries, 0)
}

// retry runs step until it succeeds, fails with anything but ErrTimeout,
// or MaxRetries retries have been spent.
func (m *Modem) retry(ctx context.Context, name string, step func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= m.retries(); attempt++ {
		if attempt > 0 {
			m.logger.Warn("Retrying step", "step", name, "attempt", attempt, "error", err)
		}
		err = step(ctx)
		if err == nil || !errors.Is(err, ErrTimeout) {
			return err
		}
	}
	if m.retries() == 0 {
		return err
	}
	return fmt.Errorf("after %d retries: %w", m.retries(), err)
}

// BasicInit disables command echo and checks the modem answers.
func (m *Modem) BasicInit(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.basicInit(ctx)
}

func (m *Modem) basicInit(ctx context.Context) error {
	if err := m.expectOk(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}
	if err := m.expectOk(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}
	m.logger.Info("Modem responding")
	return nil
}

// Reset restarts the modem firmware and waits for its ready banner.
func (m *Modem) Reset(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	_, err := m.exec(ctx, func(e *Engine) (Result, error) {
		return e.RunUntilMarker(at.CmdReset, at.Ready, m.config.ConnectTimeout)
	})
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// JoinWiFi puts the modem in station mode and joins the configured
// access point.
func (m *Modem) JoinWiFi(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()
	return m.joinWiFi(ctx)
}

func (m *Modem) joinWiFi(ctx context.Context) error {
	if m.config.WiFi.SSID == "" {
		return fmt.Errorf("wifi ssid: %w", ErrEmptyArgument)
	}
	if err := m.expectOk(ctx, at.CmdStationMode); err != nil {
		return fmt.Errorf("set station mode: %w", err)
	}

	join := at.JoinAP(m.config.WiFi.SSID, m.config.WiFi.Password)
	_, err := m.exec(ctx, func(e *Engine) (Result, error) {
		return e.RunUntilMarker(join, at.OK, m.config.WiFiTimeout, Sensitive())
	})
	if err != nil {
		return fmt.Errorf("join %q: %w", m.config.WiFi.SSID, err)
	}
	m.logger.Info("WiFi connected", "ssid", m.config.WiFi.SSID)
	return nil
}

// Receive reads one line and returns it as a subscription message.
// Anything else, or silence, yields ErrNoMessage. A line still unterminated
// at the deadline is kept and completed by the next call. Command
// exchanges clear the receive buffer, so messages arriving during a
// command are lost.
func (m *Modem) Receive(ctx context.Context, timeout time.Duration) (at.Message, error) {
	if err := m.lock(ctx); err != nil {
		return at.Message{}, err
	}
	defer m.mu.Unlock()

	var buf [LineSize]byte
	kept := copy(buf[:], m.pending)
	n := kept + m.transport.ReadLine(buf[kept:], timeout)
	if n == 0 {
		return at.Message{}, ErrNoMessage
	}
	if buf[n-1] != at.LF && n < LineSize-1 {
		m.pending = append(m.pending[:0], buf[:n]...)
		return at.Message{}, ErrNoMessage
	}
	m.pending = m.pending[:0]

	line := string(buf[:n])
	if !strings.HasPrefix(line, at.MQTTSubRecv) {
		m.logger.Debug("Ignoring unsolicited line", "line", at.Trim(line))
		return at.Message{}, ErrNoMessage
	}

	msg, err := at.ParseMessage(line)
	if err != nil {
		m.logger.Warn("Malformed subscription message", "line", at.Trim(line), "error", err)
		return msg, err
	}
	return msg, nil
}

// FullInit runs the complete bring-up: basic checks, WiFi, MQTT user
// config, broker connection, subscription to the configured topic and a
// hello publication. Steps that time out are retried; rejected steps are
// not.
func (m *Modem) FullInit(ctx context.Context) error {
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.mu.Unlock()

	topic := m.config.MQTT.Topic
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"basic init", m.basicInit},
		{"wifi", m.joinWiFi},
		{"mqtt config", m.configureMQTT},
		{"mqtt connect", m.connectMQTT},
		{"subscribe", func(ctx context.Context) error { return m.subscribe(ctx, topic) }},
		{"hello", func(ctx context.Context) error { return m.publish(ctx, topic, HelloMessage) }},
	}

	for _, s := range steps {
		if err := m.retry(ctx, s.name, s.run); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	m.logger.Info("Modem ready", "broker", m.config.MQTT.Host, "topic", topic)
	return nil
}
