package hal

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTone(t *testing.T, channels int) (*ToneInput, *fakeClock) {
	t.Helper()
	in := NewToneInput(ToneConfig{
		SampleRate:   48000,
		Channels:     channels,
		BufferFrames: 480,
		Frequency:    1000,
	})
	clock := newFakeClock()
	clock.install(in.pace)
	return in, clock
}

func sampleAt(p []byte, frame, channels, ch int) int16 {
	off := (frame*channels + ch) * 2
	return int16(binary.LittleEndian.Uint16(p[off:]))
}

func TestToneInputFormat(t *testing.T) {
	t.Parallel()

	in, _ := newTestTone(t, 2)
	assert.Equal(t, uint32(48000), in.SampleRate())
	assert.Equal(t, uint32(4), in.FrameSize())
	assert.Equal(t, uint32(1920), in.BufferSize())
}

func TestToneInputProducesSine(t *testing.T) {
	t.Parallel()

	in, _ := newTestTone(t, 1)

	buf := make([]byte, 960)
	n, err := in.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 960, n)

	// 1kHz at 48kHz: a quarter period is 12 samples.
	assert.Zero(t, sampleAt(buf, 0, 1, 0))
	peak := 0.5 * math.MaxInt16
	assert.InDelta(t, peak, float64(sampleAt(buf, 12, 1, 0)), 1)
	assert.InDelta(t, 0, float64(sampleAt(buf, 24, 1, 0)), 1)
	assert.InDelta(t, -peak, float64(sampleAt(buf, 36, 1, 0)), 1)
}

func TestToneInputIsContinuousAcrossReads(t *testing.T) {
	t.Parallel()

	in, _ := newTestTone(t, 1)

	first := make([]byte, 20) // 10 frames
	_, err := in.Read(first)
	require.NoError(t, err)
	second := make([]byte, 20)
	_, err = in.Read(second)
	require.NoError(t, err)

	ref, _ := newTestTone(t, 1)
	whole := make([]byte, 40)
	n, err := ref.Read(whole)
	require.NoError(t, err)
	require.Equal(t, 40, n)

	assert.Equal(t, whole, append(first, second...))
}

func TestToneInputDuplicatesChannels(t *testing.T) {
	t.Parallel()

	in, _ := newTestTone(t, 2)

	buf := make([]byte, 400)
	n, err := in.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 400, n)

	for frame := range n / 4 {
		assert.Equal(t, sampleAt(buf, frame, 2, 0), sampleAt(buf, frame, 2, 1), "frame %d", frame)
	}
}

func TestToneInputClose(t *testing.T) {
	t.Parallel()

	in, _ := newTestTone(t, 1)
	require.NoError(t, in.Close())

	_, err := in.Read(make([]byte, 10))
	require.ErrorIs(t, err, ErrInputClosed)
}
