package streamsplit

// ring is a fixed-capacity circular byte buffer addressed by integer offsets.
// head is the oldest byte some cursor still has to read; tail is the next
// write position. head == tail means empty.
type ring struct {
	buf  []byte
	head int
	tail int
}

func newRing(capacity int) (*ring, error) {
	if capacity <= 0 {
		return nil, allocationError("ring", capacity)
	}
	return &ring{buf: make([]byte, capacity)}, nil
}

func (r *ring) capacity() int {
	return len(r.buf)
}

// distance is the number of bytes from offset from forward to offset to.
func (r *ring) distance(from, to int) int {
	if from <= to {
		return to - from
	}
	return len(r.buf) - (from - to)
}

// used is the number of bytes between head and tail.
func (r *ring) used() int {
	return r.distance(r.head, r.tail)
}

func (r *ring) advance(off, n int) int {
	return (off + n) % len(r.buf)
}

// withinSegment reports whether off lies on the forward path from start to
// end, both ends included.
func (r *ring) withinSegment(off, start, end int) bool {
	return r.distance(start, off) <= r.distance(start, end)
}

// write copies p in at tail, splitting at the end of the buffer, and moves
// tail forward. Input longer than the ring keeps only its newest bytes.
func (r *ring) write(p []byte) {
	if len(p) > len(r.buf) {
		p = p[len(p)-len(r.buf):]
	}
	n := copy(r.buf[r.tail:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
	}
	r.tail = r.advance(r.tail, len(p))
}

// readAt copies len(p) bytes starting at off into p, splitting at the end of
// the buffer. The caller checks that enough data is available.
func (r *ring) readAt(off int, p []byte) {
	n := copy(p, r.buf[off:])
	if n < len(p) {
		copy(p[n:], r.buf)
	}
}
