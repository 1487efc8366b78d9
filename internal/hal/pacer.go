package hal

import "time"

// pacer releases PCM bytes of a synthetic input at the real-time rate of the
// stream it emulates. Audio that is not read within maxBacklog is lost, the
// way a driver buffer overflows when nobody drains it.
type pacer struct {
	bytesPerSecond int64
	frameSize      int64
	period         int64 // bytes a blocking read waits for at most
	maxBacklog     int64

	start     time.Time
	delivered int64

	now   func() time.Time
	sleep func(time.Duration)
}

func newPacer(sampleRate, frameSize, periodBytes int) *pacer {
	bps := int64(sampleRate) * int64(frameSize)
	return &pacer{
		bytesPerSecond: bps,
		frameSize:      int64(frameSize),
		period:         int64(periodBytes),
		maxBacklog:     bps,
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// due returns the number of produced but undelivered bytes.
func (p *pacer) due() int64 {
	now := p.now()
	if p.start.IsZero() {
		p.start = now
	}

	elapsed := now.Sub(p.start)
	secs := int64(elapsed / time.Second)
	rem := int64(elapsed % time.Second)
	produced := secs*p.bytesPerSecond + rem*p.bytesPerSecond/int64(time.Second)
	produced -= produced % p.frameSize

	if produced-p.delivered > p.maxBacklog {
		p.delivered = produced - p.maxBacklog
	}
	return produced - p.delivered
}

// take blocks until min(want, period) bytes are due and returns how many
// bytes may be delivered now, frame aligned and at most want.
func (p *pacer) take(want int) int {
	w := int64(want)
	w -= w % p.frameSize
	if w <= 0 {
		return 0
	}

	target := min(w, p.period)
	if avail := p.due(); avail < target {
		missing := target - avail
		wait := (missing*int64(time.Second) + p.bytesPerSecond - 1) / p.bytesPerSecond
		p.sleep(time.Duration(wait))
	}

	n := min(w, p.due())
	n -= n % p.frameSize
	p.delivered += n
	return int(n)
}
