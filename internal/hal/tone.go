package hal

import (
	"encoding/binary"
	"math"
	"sync"
)

// ToneInput is a synthetic capture device producing a 16-bit sine wave at
// real-time pace. It is deterministic, which makes it useful for demos and
// for checking fan-out without a soundcard.
type ToneInput struct {
	sampleRate int
	channels   int
	frequency  float64
	amplitude  float64
	bufferSize int

	mu     sync.Mutex
	pace   *pacer
	sample int64 // index of the next frame
	closed bool
}

// ToneConfig configures a ToneInput.
type ToneConfig struct {
	SampleRate   int
	Channels     int
	BufferFrames int
	Frequency    float64
	// Amplitude is the peak level in 0..1, 0.5 when unset.
	Amplitude float64
}

// NewToneInput creates a tone input.
func NewToneInput(cfg ToneConfig) *ToneInput {
	if cfg.Amplitude <= 0 || cfg.Amplitude > 1 {
		cfg.Amplitude = 0.5
	}
	frameSize := cfg.Channels * 2
	bufferSize := cfg.BufferFrames * frameSize
	return &ToneInput{
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		frequency:  cfg.Frequency,
		amplitude:  cfg.Amplitude,
		bufferSize: bufferSize,
		pace:       newPacer(cfg.SampleRate, frameSize, bufferSize),
	}
}

func (t *ToneInput) BufferSize() uint32 { return uint32(t.bufferSize) }
func (t *ToneInput) SampleRate() uint32 { return uint32(t.sampleRate) }
func (t *ToneInput) FrameSize() uint32  { return uint32(t.channels * 2) }

// Read fills p with the next frames of the tone. It blocks for at most one
// buffer duration.
func (t *ToneInput) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrInputClosed
	}

	n := t.pace.take(len(p))
	frameSize := t.channels * 2
	step := 2 * math.Pi * t.frequency / float64(t.sampleRate)
	for off := 0; off < n; off += frameSize {
		v := int16(math.Round(t.amplitude * math.MaxInt16 * math.Sin(step*float64(t.sample))))
		for ch := range t.channels {
			binary.LittleEndian.PutUint16(p[off+ch*2:], uint16(v))
		}
		t.sample++
	}
	return n, nil
}

// Close stops the input. Further reads fail with ErrInputClosed.
func (t *ToneInput) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
