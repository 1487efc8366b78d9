// Package streamsplit shares one hardware audio input between several
// concurrent clients.
//
// A Directory maps hardware devices to an OpenStream (which clients hold the
// device) and a ReadStream (a ring buffer with one read cursor per client).
// While a single client reads, its reads go straight to hardware. As soon as
// a second client starts reading, a poll goroutine copies hardware chunks
// into the ring and every client drains the ring at its own cursor, so each
// of them sees the complete stream.
package streamsplit

import (
	"fmt"
	"time"
)

// ClientID identifies a client within one OpenStream. Zero is never issued.
type ClientID uint32

// Handle identifies an open hardware input within a Directory.
type Handle uint64

// ClientKind tells playback (echo reference) clients from record clients.
type ClientKind int

const (
	KindPlayback ClientKind = iota + 1
	KindRecord
)

// String returns the lowercase kind name used in logs and metrics labels
func (k ClientKind) String() string {
	switch k {
	case KindPlayback:
		return "playback"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// KindFromRecord maps the record flag used by callers to a ClientKind.
func KindFromRecord(isRecord bool) ClientKind {
	if isRecord {
		return KindRecord
	}
	return KindPlayback
}

const (
	DefaultMaxDevices          = 3
	DefaultMaxClientsPerStream = 3
	DefaultBufferChunks        = 10
	DefaultChunkSize           = 4800
	DefaultReadRetries         = 100
	DefaultReadRetryInterval   = time.Millisecond
	DefaultPollSleepRatio      = 0.75
	DefaultUnderrunSleepRatio  = 0.5
)

// Config holds the fixed limits and timings of the engine.
type Config struct {
	MaxDevices          int
	MaxClientsPerStream int
	BufferChunks        int
	ChunkSize           int
	ReadRetries         int
	ReadRetryInterval   time.Duration
	// PollSleepRatio is the share of a chunk's real-time duration the poll
	// goroutine sleeps after writing it.
	PollSleepRatio float64
	// UnderrunSleepRatio is the share slept after an empty hardware read.
	UnderrunSleepRatio float64
}

// DefaultConfig returns the stock limits: 3 devices, 3 clients per kind,
// a 48000 byte ring and a 100 x 1ms read wait.
func DefaultConfig() Config {
	return Config{
		MaxDevices:          DefaultMaxDevices,
		MaxClientsPerStream: DefaultMaxClientsPerStream,
		BufferChunks:        DefaultBufferChunks,
		ChunkSize:           DefaultChunkSize,
		ReadRetries:         DefaultReadRetries,
		ReadRetryInterval:   DefaultReadRetryInterval,
		PollSleepRatio:      DefaultPollSleepRatio,
		UnderrunSleepRatio:  DefaultUnderrunSleepRatio,
	}
}

// RingCapacity is the ring buffer size in bytes.
func (c Config) RingCapacity() int {
	return c.BufferChunks * c.ChunkSize
}

// withDefaults replaces zero or negative values with defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDevices <= 0 {
		c.MaxDevices = d.MaxDevices
	}
	if c.MaxClientsPerStream <= 0 {
		c.MaxClientsPerStream = d.MaxClientsPerStream
	}
	if c.BufferChunks <= 0 {
		c.BufferChunks = d.BufferChunks
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ReadRetries <= 0 {
		c.ReadRetries = d.ReadRetries
	}
	if c.ReadRetryInterval <= 0 {
		c.ReadRetryInterval = d.ReadRetryInterval
	}
	if c.PollSleepRatio <= 0 {
		c.PollSleepRatio = d.PollSleepRatio
	}
	if c.UnderrunSleepRatio <= 0 {
		c.UnderrunSleepRatio = d.UnderrunSleepRatio
	}
	return c
}
