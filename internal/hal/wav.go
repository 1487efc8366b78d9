package hal

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/streamsplit/internal/errors"
)

// WAVInput replays a WAV file as a capture device at real-time pace. The
// file is decoded to 16-bit PCM when opened and kept in memory.
type WAVInput struct {
	path       string
	sampleRate int
	channels   int
	bufferSize int
	loop       bool

	mu     sync.Mutex
	pcm    []byte
	pos    int
	pace   *pacer
	closed bool
}

// OpenWAVInput decodes path and returns an input delivering bufferFrames
// frames per hardware buffer. With loop set the file restarts at its end,
// otherwise reads past the end return io.EOF.
func OpenWAVInput(path string, bufferFrames int, loop bool) (*WAVInput, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryFileIO).
			Context("operation", "open-wav").
			Context("path", path).
			Build()
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file: %s", path).
			Component("hal").
			Category(errors.CategoryValidation).
			Build()
	}

	bitDepth := int(decoder.BitDepth)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, errors.Newf("unsupported bit depth: %d", bitDepth).
			Component("hal").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryAudio).
			Context("operation", "decode-wav").
			Context("path", path).
			Build()
	}

	channels := int(decoder.NumChans)
	sampleRate := int(decoder.SampleRate)
	pcm := toPCM16(buf, bitDepth)
	if len(pcm) == 0 {
		return nil, errors.Newf("WAV file has no audio data: %s", path).
			Component("hal").
			Category(errors.CategoryValidation).
			Build()
	}

	frameSize := channels * 2
	bufferSize := bufferFrames * frameSize
	return &WAVInput{
		path:       path,
		sampleRate: sampleRate,
		channels:   channels,
		bufferSize: bufferSize,
		loop:       loop,
		pcm:        pcm,
		pace:       newPacer(sampleRate, frameSize, bufferSize),
	}, nil
}

// toPCM16 converts decoded samples to interleaved signed 16-bit little endian.
func toPCM16(buf *audio.IntBuffer, bitDepth int) []byte {
	out := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		var v int
		switch bitDepth {
		case 8:
			v = (s - 128) << 8 // 8-bit WAV is unsigned
		case 16:
			v = s
		default:
			v = s >> (bitDepth - 16)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func (w *WAVInput) BufferSize() uint32 { return uint32(w.bufferSize) }
func (w *WAVInput) SampleRate() uint32 { return uint32(w.sampleRate) }
func (w *WAVInput) FrameSize() uint32  { return uint32(w.channels * 2) }

// Path returns the replayed file.
func (w *WAVInput) Path() string { return w.path }

// Read copies the next frames of the file into p.
func (w *WAVInput) Read(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrInputClosed
	}
	if !w.loop && w.pos >= len(w.pcm) {
		return 0, io.EOF
	}

	n := w.pace.take(len(p))
	copied := 0
	for copied < n {
		if w.pos >= len(w.pcm) {
			if !w.loop {
				break
			}
			w.pos = 0
		}
		c := copy(p[copied:n], w.pcm[w.pos:])
		w.pos += c
		copied += c
	}
	return copied, nil
}

// Close stops the input. Further reads fail with ErrInputClosed.
func (w *WAVInput) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	w.pcm = nil
	return nil
}
