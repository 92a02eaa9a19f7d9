package modem

import (
	"cmp"
	"math"
	"slices"
	"sync"
	"time"
)

// Clock is the monotonic tick source used for every deadline. Ticks are
// milliseconds and wrap at 2^32; deadlines are always checked by
// subtraction, never by absolute comparison.
type Clock interface {
	Ticks() uint32
	Sleep(d time.Duration)
}

// elapsed returns the ticks between start and now, correct across one
// wraparound of the counter.
func elapsed(start, now uint32) uint32 {
	return now - start
}

// toTicks converts d to whole ticks, rounding sub-tick positive durations
// up so they never collapse into an immediate deadline.
func toTicks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(ms)
}

func fromTicks(t uint32) time.Duration {
	return time.Duration(t) * time.Millisecond
}

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Ticks() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func (c *SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

// ManualClock is a simulated Clock for tests. Time only moves through
// Sleep and Advance; callbacks scheduled with AfterFunc run when the
// clock passes their tick. Every Sleep advances at least one tick so
// zero poll delays still make progress.
type ManualClock struct {
	mu     sync.Mutex
	now    uint32
	events []clockEvent
}

type clockEvent struct {
	at uint32
	fn func()
}

// NewManualClock creates a clock reading start.
func NewManualClock(start uint32) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Ticks() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Sleep(d time.Duration) {
	t := toTicks(d)
	if t == 0 {
		t = 1
	}
	c.advance(t)
}

// Advance moves the clock forward by d, firing due callbacks in order.
func (c *ManualClock) Advance(d time.Duration) {
	c.advance(toTicks(d))
}

// AfterFunc schedules fn to run once the clock has advanced by d.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, clockEvent{at: c.now + toTicks(d), fn: fn})
}

func (c *ManualClock) advance(t uint32) {
	c.mu.Lock()
	start := c.now
	c.now += t
	var due []clockEvent
	pending := c.events[:0]
	for _, ev := range c.events {
		if elapsed(start, ev.at) <= t {
			due = append(due, ev)
		} else {
			pending = append(pending, ev)
		}
	}
	c.events = pending
	c.mu.Unlock()

	slices.SortStableFunc(due, func(a, b clockEvent) int {
		return cmp.Compare(elapsed(start, a.at), elapsed(start, b.at))
	})
	for _, ev := range due {
		ev.fn()
	}
}
