package modem

import "sync/atomic"

// Ring is a fixed-capacity single-producer/single-consumer byte queue.
//
// The producer (Push) is the receive path and may run concurrently with
// the consumer (Pop, Clear). No lock is taken: each side writes only its
// own index, and both indices are atomic, so neither side can observe a
// torn or stale-past-order value. One slot is always left empty so that
// write == read means empty; a Ring of size N holds at most N-1 bytes.
type Ring struct {
	buf     []byte
	size    uint32
	write   atomic.Uint32
	read    atomic.Uint32
	dropped atomic.Uint64
}

// NewRing allocates a ring with size slots. Size must be at least 2;
// a power of two is recommended.
func NewRing(size int) *Ring {
	if size < 2 {
		panic("modem: ring size must be at least 2")
	}
	r := &Ring{
		buf:  make([]byte, size),
		size: uint32(size),
	}
	return r
}

// Reset zeroes the storage and both indices. It must not run while the
// producer is live.
func (r *Ring) Reset() {
	clear(r.buf)
	r.write.Store(0)
	r.read.Store(0)
	r.dropped.Store(0)
}

// Push appends b. When the ring is full b is discarded, the overflow
// counter is bumped and false is returned; existing content is untouched.
// Push never blocks.
func (r *Ring) Push(b byte) bool {
	w := r.write.Load()
	next := (w + 1) % r.size
	if next == r.read.Load() {
		r.dropped.Add(1)
		return false
	}
	r.buf[w] = b
	r.write.Store(next)
	return true
}

// Pop removes the oldest byte. It reports false when the ring is empty.
func (r *Ring) Pop() (byte, bool) {
	rd := r.read.Load()
	if rd == r.write.Load() {
		return 0, false
	}
	b := r.buf[rd]
	r.read.Store((rd + 1) % r.size)
	return b, true
}

// Clear discards everything buffered so far by moving the read index to
// the current write index. A byte pushed concurrently may or may not
// survive.
func (r *Ring) Clear() {
	r.read.Store(r.write.Load())
}

// Len returns the number of buffered bytes.
func (r *Ring) Len() int {
	w, rd := r.write.Load(), r.read.Load()
	return int((w + r.size - rd) % r.size)
}

// Cap returns the number of bytes the ring can hold.
func (r *Ring) Cap() int {
	return int(r.size - 1)
}

// Dropped returns the number of bytes discarded on overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}
