package streamsplit

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/streamsplit/internal/logger"
)

const (
	testChunk      = 960
	testSampleRate = 48000
	testFrameSize  = 2
)

// fakeInput replays scripted chunks, then reports no data.
type fakeInput struct {
	bufferSize uint32
	sampleRate uint32
	frameSize  uint32

	mu     sync.Mutex
	chunks [][]byte
	reads  int
	err    error
	delay  time.Duration // each Read blocks this long, like a real device
}

func newFakeInput(chunks ...[]byte) *fakeInput {
	return &fakeInput{
		bufferSize: testChunk,
		sampleRate: testSampleRate,
		frameSize:  testFrameSize,
		chunks:     chunks,
	}
}

func (f *fakeInput) BufferSize() uint32 { return f.bufferSize }
func (f *fakeInput) SampleRate() uint32 { return f.sampleRate }
func (f *fakeInput) FrameSize() uint32  { return f.frameSize }

func (f *fakeInput) Read(p []byte) (int, error) {
	f.mu.Lock()
	f.reads++
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chunks) == 0 {
		return 0, f.err
	}
	c := f.chunks[0]
	n := copy(p, c)
	if n < len(c) {
		f.chunks[0] = c[n:]
	} else {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakeInput) push(chunks ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
}

func (f *fakeInput) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeInput) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// fakeHAL hands out a fakeInput per device and counts open/close calls.
type fakeHAL struct {
	mu      sync.Mutex
	inputs  map[uint32]*fakeInput
	opened  int
	closed  []Input
	openErr error
}

func newFakeHAL() *fakeHAL {
	return &fakeHAL{inputs: make(map[uint32]*fakeInput)}
}

func (h *fakeHAL) OpenInput(_ context.Context, deviceID uint32) (Input, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.openErr != nil {
		return nil, h.openErr
	}
	h.opened++
	in, ok := h.inputs[deviceID]
	if !ok {
		in = newFakeInput()
		h.inputs[deviceID] = in
	}
	return in, nil
}

func (h *fakeHAL) CloseInput(in Input) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, in)
	return nil
}

func (h *fakeHAL) input(deviceID uint32) *fakeInput {
	h.mu.Lock()
	defer h.mu.Unlock()
	in, ok := h.inputs[deviceID]
	if !ok {
		in = newFakeInput()
		h.inputs[deviceID] = in
	}
	return in
}

func (h *fakeHAL) closedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func newTestDirectory(t *testing.T, hal HAL) *Directory {
	t.Helper()
	d, err := NewDirectory(hal, DefaultConfig(), WithLogger(testLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// pattern returns n bytes starting at seed, so chunks are distinguishable.
func pattern(seed byte, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// drain reads from client id until want bytes arrived or timeout passes.
func drain(t *testing.T, d *Directory, h Handle, id ClientID, want int, bufSize int) []byte {
	t.Helper()

	var got []byte
	buf := make([]byte, bufSize)
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		n, err := d.Read(h, id, buf[:min(bufSize, want-len(got))])
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	return got
}
