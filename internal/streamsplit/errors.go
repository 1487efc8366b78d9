package streamsplit

import (
	"time"

	"github.com/tphakala/streamsplit/internal/errors"
)

const componentName = "streamsplit"

// Sentinel errors. Every error returned by this package wraps one of these,
// so callers can test with errors.Is.
var (
	// ErrCapacityExceeded is returned when a fixed table (devices, clients of
	// one kind, read cursors) is full.
	ErrCapacityExceeded = errors.NewStd("capacity exceeded")
	// ErrAllocation is returned when a ring buffer or table cannot be created.
	ErrAllocation = errors.NewStd("allocation failed")
	// ErrUnknownClient is returned for a client id not registered on the stream.
	ErrUnknownClient = errors.NewStd("unknown client")
	// ErrUnknownStream is returned for a handle not owned by the directory.
	ErrUnknownStream = errors.NewStd("unknown stream")
	// ErrStreamClosed is returned by reads racing with stream teardown.
	ErrStreamClosed = errors.NewStd("stream closed")
	// ErrRingOverrun is logged when the poll goroutine overwrites data the
	// slowest cursor has not read yet. Reads never return it.
	ErrRingOverrun = errors.NewStd("ring buffer overrun")
)

func capacityError(table string, limit int) error {
	return errors.New(ErrCapacityExceeded).
		Component(componentName).
		Category(errors.CategoryLimit).
		Context("table", table).
		Context("limit", limit).
		Build()
}

func unknownClientError(h Handle, id ClientID) error {
	return errors.New(ErrUnknownClient).
		Component(componentName).
		Category(errors.CategoryNotFound).
		Context("handle", uint64(h)).
		Context("client_id", uint32(id)).
		Build()
}

func unknownStreamError(h Handle) error {
	return errors.New(ErrUnknownStream).
		Component(componentName).
		Category(errors.CategoryNotFound).
		Context("handle", uint64(h)).
		Build()
}

func streamClosedError(h Handle) error {
	return errors.New(ErrStreamClosed).
		Component(componentName).
		Category(errors.CategoryState).
		Context("handle", uint64(h)).
		Build()
}

func allocationError(what string, size int) error {
	return errors.New(ErrAllocation).
		Component(componentName).
		Category(errors.CategoryResource).
		Context("object", what).
		Context("size", size).
		Build()
}

func openError(err error, deviceID uint32, elapsed time.Duration) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryAudioSource).
		Timing("open", elapsed).
		Context("device_id", deviceID).
		Build()
}

func overrunError(deviceID uint32, used, chunk, capacity int) error {
	return errors.New(ErrRingOverrun).
		Component(componentName).
		Category(errors.CategoryBuffer).
		Context("device_id", deviceID).
		Context("used", used).
		Context("chunk", chunk).
		Context("capacity", capacity).
		Build()
}

// pollError wraps a hardware read failure seen by the poll goroutine.
func pollError(err error, deviceID uint32) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryWorker).
		Context("operation", "poll").
		Context("device_id", deviceID).
		Build()
}

func hardwareError(err error, operation string, deviceID uint32) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryAudioSource).
		Context("operation", operation).
		Context("device_id", deviceID).
		Build()
}
