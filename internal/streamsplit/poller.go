package streamsplit

import (
	"context"
	"io"
	"time"

	"github.com/tphakala/streamsplit/internal/logger"
)

// poller is the handle of a running poll goroutine.
type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func discardLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// startPollerLocked launches the poll goroutine. Caller holds rs.mu.
func (rs *ReadStream) startPollerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{cancel: cancel, done: make(chan struct{})}
	rs.poller = p
	rs.metrics.PollerStarted()

	rs.log.Debug("starting poll goroutine", logger.Int("active_clients", rs.active))
	go rs.poll(ctx, p)
}

// stopPollerLocked cancels the running poll goroutine and returns it for
// joining after the lock is released. Caller holds rs.mu.
func (rs *ReadStream) stopPollerLocked() *poller {
	p := rs.poller
	if p != nil {
		p.cancel()
	}
	return p
}

// join waits for p to exit and clears it if it is still the current poller.
func (rs *ReadStream) join(p *poller) {
	if p == nil {
		return
	}
	<-p.done

	rs.mu.Lock()
	if rs.poller == p {
		rs.poller = nil
	}
	rs.mu.Unlock()
	rs.log.Debug("poll goroutine joined")
}

// poll reads hardware chunks into the ring while any client is active. The
// hardware read happens without the lock. After data it sleeps for
// PollSleepRatio of the chunk's real-time duration, after an empty read for
// UnderrunSleepRatio of a full chunk.
func (rs *ReadStream) poll(ctx context.Context, p *poller) {
	defer close(p.done)
	defer rs.metrics.PollerStopped()

	chunk := make([]byte, rs.pollChunkSize())

	for ctx.Err() == nil {
		n, err := rs.input.Read(chunk)
		n = max(0, min(n, len(chunk)))

		rs.mu.Lock()
		if rs.active == 0 || rs.closed {
			rs.mu.Unlock()
			return
		}
		if n > 0 {
			rs.writeToBuffer(chunk[:n])
		}
		rs.mu.Unlock()

		var pause time.Duration
		if n > 0 {
			rs.metrics.RecordPollChunk(rs.deviceID, n)
			pause = rs.sleepFor(n, rs.cfg.PollSleepRatio)
		} else {
			rs.metrics.RecordPollUnderrun(rs.deviceID)
			if err != nil {
				rs.metrics.RecordReadError(rs.deviceID, "poll")
				rs.throttled.WarnFunc("hardware read failed in poll goroutine", func() []logger.Field {
					return []logger.Field{logger.Error(pollError(err, rs.deviceID))}
				})
			}
			pause = rs.sleepFor(len(chunk), rs.cfg.UnderrunSleepRatio)
		}

		if !sleepContext(ctx, pause) {
			return
		}
	}
}

// pollChunkSize is the hardware buffer size, bounded by the ring capacity.
func (rs *ReadStream) pollChunkSize() int {
	size := int(rs.input.BufferSize())
	if size <= 0 {
		size = rs.cfg.ChunkSize
	}
	return min(size, rs.cfg.RingCapacity())
}

// sleepFor returns ratio of the real-time duration of n bytes. Inputs that
// report no rate fall back to the read retry interval.
func (rs *ReadStream) sleepFor(n int, ratio float64) time.Duration {
	bytesPerSecond := float64(rs.input.SampleRate()) * float64(rs.input.FrameSize())
	if bytesPerSecond <= 0 {
		return rs.cfg.ReadRetryInterval
	}
	return time.Duration(float64(n) * ratio * float64(time.Second) / bytesPerSecond)
}

// sleepContext sleeps for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
