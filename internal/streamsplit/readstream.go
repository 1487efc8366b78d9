package streamsplit

import (
	"sync"
	"time"

	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/observability/metrics"
)

const (
	throttleInterval = time.Second
	throttleBurst    = 3
)

// cursor is one client's read position in the ring.
type cursor struct {
	id         ClientID
	off        int
	active     bool
	registered bool
}

// ReadStream owns the ring buffer and read cursors of one hardware input.
// A single mutex guards the ring, the cursors and the active count; the poll
// goroutine takes it only to write a chunk it has already read.
type ReadStream struct {
	handle   Handle
	deviceID uint32
	input    Input
	cfg      Config

	mu      sync.Mutex
	ring    *ring
	cursors *slotTable[ClientID, *cursor]
	active  int
	poller  *poller
	closed  bool

	log       logger.Logger
	throttled *logger.Throttled
	metrics   *metrics.StreamSplitMetrics
}

// newReadStream allocates the ring and registers first as cursor 0 at the
// start of the buffer.
func newReadStream(h Handle, deviceID uint32, in Input, first ClientID, cfg Config,
	log logger.Logger, m *metrics.StreamSplitMetrics) (*ReadStream, error) {
	r, err := newRing(cfg.RingCapacity())
	if err != nil {
		return nil, err
	}
	if cfg.MaxClientsPerStream <= 0 {
		return nil, allocationError("cursor table", cfg.MaxClientsPerStream)
	}

	if log == nil {
		log = discardLogger()
	}

	rs := &ReadStream{
		handle:   h,
		deviceID: deviceID,
		input:    in,
		cfg:      cfg,
		ring:     r,
		cursors:  newSlotTable[ClientID, *cursor](cfg.MaxClientsPerStream),
		log:      log,
		metrics:  m,
	}
	rs.throttled = logger.NewThrottled(log, throttleInterval, throttleBurst)

	if err := rs.cursors.Insert(first, &cursor{id: first, registered: true}); err != nil {
		return nil, allocationError("cursor table", cfg.MaxClientsPerStream)
	}
	return rs, nil
}

// Handle returns the handle of the hardware input this stream reads.
func (rs *ReadStream) Handle() Handle { return rs.handle }

// Input returns the hardware input this stream reads.
func (rs *ReadStream) Input() Input { return rs.input }

// AddClient registers id with a cursor at the current write position.
// Registering a known id is a no-op.
func (rs *ReadStream) AddClient(id ClientID) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return streamClosedError(rs.handle)
	}
	if _, ok := rs.cursors.Get(id); ok {
		return nil
	}

	if rs.cursors.Len() == 0 {
		rs.ring.head = rs.ring.tail
	}
	if err := rs.cursors.Insert(id, &cursor{id: id, off: rs.ring.tail, registered: true}); err != nil {
		rs.metrics.RecordCapacityRejection("cursors")
		return capacityError("cursors", rs.cursors.Cap())
	}

	rs.log.Debug("read client registered",
		logger.Int("client_id", int(id)),
		logger.Int("offset", rs.ring.tail))
	return nil
}

// Read copies captured audio for client id into p and returns the number of
// bytes copied. Requests larger than the ring are clamped to its capacity.
//
// With one active client and no poll goroutine the read goes straight to
// hardware. Otherwise it drains the client's cursor, waiting up to
// ReadRetries x ReadRetryInterval for data; a read that finds nothing in
// that time returns 0 and a nil error.
func (rs *ReadStream) Read(id ClientID, p []byte) (int, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return 0, streamClosedError(rs.handle)
	}
	c, ok := rs.cursors.Get(id)
	if !ok {
		return 0, unknownClientError(rs.handle, id)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !c.active {
		rs.activateLocked(c)
	}
	if capacity := rs.ring.capacity(); len(p) > capacity {
		p = p[:capacity]
	}

	if rs.active < 2 && rs.poller == nil {
		// Bytes read past the ring are newer than anything buffered, so the
		// cursor skips what is left in the ring.
		rs.skipToTailLocked(c)
		return rs.readHardwareLocked(p)
	}

	if rs.poller == nil {
		rs.startPollerLocked()
	}

	available := rs.waitForData(c)
	if available == 0 {
		if rs.closed {
			return 0, streamClosedError(rs.handle)
		}
		if !c.registered {
			return 0, unknownClientError(rs.handle, id)
		}
		rs.metrics.RecordReadTimeout(rs.deviceID)
		rs.throttled.Warn("no data available in buffer", logger.Int("client_id", int(id)))
		return 0, nil
	}

	n := min(len(p), available)
	rs.copyOutLocked(c, p[:n])
	rs.metrics.RecordReadBytes(rs.deviceID, metrics.PathBuffered, n)
	return n, nil
}

// readHardwareLocked is the single-client bypass.
func (rs *ReadStream) readHardwareLocked(p []byte) (int, error) {
	n, err := rs.input.Read(p)
	n = max(0, min(n, len(p)))
	if err != nil {
		rs.metrics.RecordReadError(rs.deviceID, metrics.PathBypass)
		return n, hardwareError(err, "read", rs.deviceID)
	}
	rs.metrics.RecordReadBytes(rs.deviceID, metrics.PathBypass, n)
	return n, nil
}

// skipToTailLocked moves c to the write position, releasing the head if c
// was holding it.
func (rs *ReadStream) skipToTailLocked(c *cursor) {
	r := rs.ring
	if c.off == r.tail {
		return
	}
	wasHead := c.off == r.head
	c.off = r.tail
	if wasHead {
		r.head = rs.nearestCursorLocked(r.head, r.tail)
	}
	rs.metrics.SetRingFill(rs.deviceID, rs.fillLocked())
}

// waitForData returns the unread byte count at c, polling while it is zero.
// The lock is released around each sleep so the poll goroutine and other
// readers can run. It returns 0 once the retry budget is spent or when the
// stream or cursor goes away meanwhile.
func (rs *ReadStream) waitForData(c *cursor) int {
	available := rs.ring.distance(c.off, rs.ring.tail)
	for tries := 0; available == 0 && tries < rs.cfg.ReadRetries; tries++ {
		rs.mu.Unlock()
		time.Sleep(rs.cfg.ReadRetryInterval)
		rs.mu.Lock()

		if rs.closed || !c.registered {
			return 0
		}
		available = rs.ring.distance(c.off, rs.ring.tail)
	}
	return available
}

// copyOutLocked copies len(p) bytes from c's position and advances it. If c
// was holding the ring head, the head moves to the slowest remaining cursor
// between the old head and c's new position.
func (rs *ReadStream) copyOutLocked(c *cursor, p []byte) {
	r := rs.ring
	r.readAt(c.off, p)

	wasHead := c.off == r.head
	c.off = r.advance(c.off, len(p))
	if wasHead {
		r.head = rs.nearestCursorLocked(r.head, c.off)
	}
	rs.metrics.SetRingFill(rs.deviceID, rs.fillLocked())
}

// nearestCursorLocked returns the registered cursor position closest to
// start within start..end, or end if none lies there.
func (rs *ReadStream) nearestCursorLocked(start, end int) int {
	r := rs.ring
	next := end
	best := r.capacity()
	for _, c := range rs.cursors.All() {
		if !r.withinSegment(c.off, start, end) {
			continue
		}
		if d := r.distance(start, c.off); d < best {
			best = d
			next = c.off
		}
	}
	return next
}

// writeToBuffer appends a chunk at the ring tail. Called by the poll
// goroutine with the lock held.
func (rs *ReadStream) writeToBuffer(p []byte) {
	r := rs.ring
	if r.used()+len(p) >= r.capacity() {
		// The slowest cursor loses data it has not read yet.
		rs.metrics.RecordRingOverrun(rs.deviceID)
		rs.throttled.WarnFunc("slowest client is behind by more than capacity", func() []logger.Field {
			return []logger.Field{logger.Error(overrunError(rs.deviceID, r.used(), len(p), r.capacity()))}
		})
	}
	r.write(p)
	rs.metrics.SetRingFill(rs.deviceID, rs.fillLocked())
}

func (rs *ReadStream) fillLocked() float64 {
	return float64(rs.ring.used()) / float64(rs.ring.capacity())
}

// Activate marks client id as reading. Read activates implicitly.
func (rs *ReadStream) Activate(id ClientID) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closed {
		return streamClosedError(rs.handle)
	}
	c, ok := rs.cursors.Get(id)
	if !ok {
		return unknownClientError(rs.handle, id)
	}
	if !c.active {
		rs.activateLocked(c)
	}
	return nil
}

func (rs *ReadStream) activateLocked(c *cursor) {
	c.active = true
	rs.active++
	rs.metrics.SetActiveClients(rs.deviceID, rs.active)
}

func (rs *ReadStream) deactivateLocked(c *cursor) {
	c.active = false
	rs.active--
	rs.metrics.SetActiveClients(rs.deviceID, rs.active)
}

// Deactivate marks client id as no longer reading while keeping its cursor.
// When the last active client stops, the poll goroutine is stopped and
// Deactivate returns only after it has exited.
func (rs *ReadStream) Deactivate(id ClientID) error {
	rs.mu.Lock()
	c, ok := rs.cursors.Get(id)
	if !ok {
		rs.mu.Unlock()
		if rs.isClosed() {
			return streamClosedError(rs.handle)
		}
		return unknownClientError(rs.handle, id)
	}
	if !c.active {
		rs.mu.Unlock()
		return nil
	}

	rs.deactivateLocked(c)
	var p *poller
	if rs.active == 0 {
		p = rs.stopPollerLocked()
	}
	rs.mu.Unlock()

	rs.join(p)
	return nil
}

// Purge removes client id. With remainingOpen == 0 the whole stream is
// released: the poll goroutine is joined, every cursor dropped and the ring
// freed. Reads still in flight return ErrStreamClosed.
func (rs *ReadStream) Purge(id ClientID, remainingOpen int) {
	rs.mu.Lock()
	var p *poller

	switch {
	case rs.closed:
	case remainingOpen <= 0:
		rs.closed = true
		for _, c := range rs.cursors.All() {
			c.registered = false
			c.active = false
		}
		rs.cursors.Clear()
		rs.active = 0
		rs.ring = nil
		p = rs.stopPollerLocked()
	default:
		c, ok := rs.cursors.Remove(id)
		if !ok {
			break
		}
		c.registered = false
		if c.active {
			rs.deactivateLocked(c)
			if rs.active == 0 {
				p = rs.stopPollerLocked()
			}
		}
		if c.off == rs.ring.head {
			rs.ring.head = rs.nearestCursorLocked(rs.ring.head, rs.ring.tail)
		}
	}
	rs.mu.Unlock()

	rs.join(p)
}

func (rs *ReadStream) isClosed() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.closed
}

// ReadStreamStatus is a point-in-time view of a ReadStream.
type ReadStreamStatus struct {
	Capacity      int            `json:"capacity"`
	Head          int            `json:"head"`
	Tail          int            `json:"tail"`
	Used          int            `json:"used"`
	ActiveClients int            `json:"active_clients"`
	Polling       bool           `json:"polling"`
	Closed        bool           `json:"closed"`
	Cursors       []CursorStatus `json:"cursors"`
}

// CursorStatus describes one client's cursor.
type CursorStatus struct {
	ClientID  ClientID `json:"client_id"`
	Offset    int      `json:"offset"`
	Available int      `json:"available"`
	Active    bool     `json:"active"`
}

// Status returns a snapshot of the ring and cursors.
func (rs *ReadStream) Status() ReadStreamStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	st := ReadStreamStatus{
		ActiveClients: rs.active,
		Polling:       rs.poller != nil,
		Closed:        rs.closed,
	}
	if rs.ring == nil {
		return st
	}

	st.Capacity = rs.ring.capacity()
	st.Head = rs.ring.head
	st.Tail = rs.ring.tail
	st.Used = rs.ring.used()
	for id, c := range rs.cursors.All() {
		st.Cursors = append(st.Cursors, CursorStatus{
			ClientID:  id,
			Offset:    c.off,
			Available: rs.ring.distance(c.off, rs.ring.tail),
			Active:    c.active,
		})
	}
	return st
}
