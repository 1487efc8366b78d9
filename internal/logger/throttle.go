package logger

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttled wraps a Logger and drops messages above a fixed rate. Dropped
// messages are counted and the count is attached to the next emitted line as
// "suppressed". Use it on real-time paths where a stuck device would
// otherwise log once per read.
type Throttled struct {
	log        Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewThrottled allows one message per interval with the given burst.
func NewThrottled(log Logger, interval time.Duration, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Warn logs at warn level if the limiter allows it
func (t *Throttled) Warn(msg string, fields ...Field) {
	t.emit(LogLevelWarn, msg, fields)
}

// Debug logs at debug level if the limiter allows it
func (t *Throttled) Debug(msg string, fields ...Field) {
	t.emit(LogLevelDebug, msg, fields)
}

// WarnFunc is Warn with fields built only when the line is emitted, for
// fields that are costly to construct.
func (t *Throttled) WarnFunc(msg string, fields func() []Field) {
	t.emitFunc(LogLevelWarn, msg, fields)
}

// Suppressed returns the number of messages dropped since the last emitted one
func (t *Throttled) Suppressed() int64 {
	return t.suppressed.Load()
}

func (t *Throttled) emit(level LogLevel, msg string, fields []Field) {
	t.emitFunc(level, msg, func() []Field { return fields })
}

func (t *Throttled) emitFunc(level LogLevel, msg string, build func() []Field) {
	if t == nil || t.log == nil {
		return
	}
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return
	}
	fields := build()
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, Int64("suppressed", n))
	}
	t.log.Log(level, msg, fields...)
}
