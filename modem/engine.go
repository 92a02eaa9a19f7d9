package modem

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"i4.energy/across/espmqtt/at"
)

// LineSize is the receive line buffer used per command, terminator
// included.
const LineSize = 256

// Verdict is the outcome of one command/response cycle.
type Verdict int

const (
	Success Verdict = iota
	Failure
	Timeout
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Command describes one exchange with the modem.
type Command struct {
	// Text is the command line without terminator.
	Text string
	// Marker is the substring that makes a line a success.
	Marker string
	// Failures end the wait early with Failure when seen before Marker.
	Failures []string
	// Timeout bounds the whole exchange, all line reads included.
	Timeout time.Duration
	// Sensitive keeps Text out of the logs.
	Sensitive bool
	// Skip is a line prefix whose lines are collected but never matched
	// against Marker or Failures.
	Skip string
}

// CommandOption adjusts a Command built by one of the Engine presets.
type CommandOption func(*Command)

// Sensitive keeps the command text out of the logs.
func Sensitive() CommandOption {
	return func(c *Command) {
		c.Sensitive = true
	}
}

// SkipPrefix stops lines starting with prefix from deciding the verdict.
// Listing responses use it so a listed value cannot pass for a marker.
func SkipPrefix(prefix string) CommandOption {
	return func(c *Command) {
		c.Skip = prefix
	}
}

// Result carries the verdict together with what was observed.
type Result struct {
	Verdict Verdict
	// Line is the line that decided the verdict, empty on Timeout.
	Line string
	// Lines holds every non-empty line read, in order.
	Lines []string
}

// Err maps Failure to ErrRejected and Timeout to ErrTimeout.
func (r Result) Err() error {
	switch r.Verdict {
	case Success:
		return nil
	case Failure:
		return fmt.Errorf("%w: %q", ErrRejected, at.Trim(r.Line))
	default:
		return ErrTimeout
	}
}

// EngineStats counts verdicts since the engine was created.
type EngineStats struct {
	Success uint64
	Failure uint64
	Timeout uint64
}

// Engine runs the send / await line / classify cycle over a Conn.
// It keeps no state between invocations and never retries.
//
// The state of a single Run is:
//
//	Idle -> Sent -> AwaitingLine -> {Matched, NoMatch, Expired}
//
// where every line read only gets the time left of the overall budget.
type Engine struct {
	// FailFast makes RunUntilMarker return Failure as soon as a failure
	// marker shows up instead of waiting for the deadline.
	FailFast bool

	conn     Conn
	clock    Clock
	logger   *slog.Logger
	verdicts [3]atomic.Uint64
}

// NewEngine creates an Engine. A nil clock uses the system clock and a
// nil logger discards output.
func NewEngine(conn Conn, clock Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = NewSystemClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		FailFast: true,
		conn:     conn,
		clock:    clock,
		logger:   logger,
	}
}

// RunUntilOk sends cmd and waits for a line containing OK.
func (e *Engine) RunUntilOk(cmd string, timeout time.Duration, opts ...CommandOption) (Result, error) {
	return e.run(Command{Text: cmd, Marker: at.OK, Timeout: timeout}, opts)
}

// RunUntilMarker sends cmd and waits for a line containing marker.
// ERROR and FAIL lines end the wait when FailFast is set.
func (e *Engine) RunUntilMarker(cmd, marker string, timeout time.Duration, opts ...CommandOption) (Result, error) {
	c := Command{Text: cmd, Marker: marker, Timeout: timeout}
	if e.FailFast {
		c.Failures = at.FailureMarkers
	}
	return e.run(c, opts)
}

// PublishAndAwait sends cmd and returns on whichever of OK or ERROR is
// seen first.
func (e *Engine) PublishAndAwait(cmd string, timeout time.Duration, opts ...CommandOption) (Result, error) {
	return e.run(Command{Text: cmd, Marker: at.OK, Failures: []string{at.ERROR}, Timeout: timeout}, opts)
}

func (e *Engine) run(c Command, opts []CommandOption) (Result, error) {
	for _, opt := range opts {
		opt(&c)
	}
	return e.Run(c)
}

// Run performs exactly one command/response cycle. A transmit error
// (including ErrCommandTooLong) yields Failure and the error; otherwise
// the error is nil and the verdict tells the outcome.
func (e *Engine) Run(cmd Command) (Result, error) {
	logText := cmd.Text
	if cmd.Sensitive {
		logText = "<redacted>"
	}
	e.logger.Debug(">>> send", "command", logText, "marker", cmd.Marker, "timeout", cmd.Timeout)

	e.conn.ClearReceiveBuffer()
	if err := e.conn.SendText(cmd.Text); err != nil {
		e.record(Failure)
		e.logger.Warn("Command not sent", "command", logText, "error", err)
		return Result{Verdict: Failure}, fmt.Errorf("send command: %w", err)
	}

	res := Result{Verdict: Timeout}
	var buf [LineSize]byte
	start := e.clock.Ticks()
	budget := toTicks(cmd.Timeout)
	for {
		spent := elapsed(start, e.clock.Ticks())
		if spent >= budget {
			break
		}
		n := e.conn.ReadLine(buf[:], fromTicks(budget-spent))
		if n == 0 {
			continue
		}

		line := buf[:n]
		text := string(line)
		res.Lines = append(res.Lines, text)
		e.logger.Debug("<<< recv", "line", at.Trim(text))

		if cmd.Skip != "" && bytes.HasPrefix(line, []byte(cmd.Skip)) {
			continue
		}
		if at.Contains(line, cmd.Marker) {
			res.Verdict = Success
			res.Line = text
			break
		}
		if _, ok := at.ContainsAny(line, cmd.Failures); ok {
			res.Verdict = Failure
			res.Line = text
			break
		}
	}

	e.record(res.Verdict)
	if res.Verdict == Success {
		e.logger.Debug("Command succeeded", "command", logText)
	} else {
		e.logger.Warn("Command did not succeed", "command", logText,
			"verdict", res.Verdict, "line", at.Trim(res.Line), "lines", len(res.Lines))
	}
	return res, nil
}

func (e *Engine) record(v Verdict) {
	e.verdicts[v].Add(1)
}

// Stats returns the verdict counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Success: e.verdicts[Success].Load(),
		Failure: e.verdicts[Failure].Load(),
		Timeout: e.verdicts[Timeout].Load(),
	}
}
