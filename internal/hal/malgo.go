package hal

import (
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/streamsplit/internal/errors"
	"github.com/tphakala/streamsplit/internal/logger"
)

// captureBuffers is the number of hardware buffers the capture ring holds
// between the device callback and Read.
const captureBuffers = 8

// MalgoInput captures 16-bit PCM from a soundcard. The device callback
// writes into a ring buffer; Read drains it without blocking and returns 0
// when nothing has been captured yet.
type MalgoInput struct {
	name       string
	sampleRate uint32
	frameSize  uint32
	bufferSize uint32

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rb     *ringbuffer.RingBuffer

	scratch []byte // used only by the device callback
	dropped atomic.Int64
	closed  atomic.Bool
	log     logger.Logger
}

// MalgoConfig selects and configures a capture device.
type MalgoConfig struct {
	// DeviceIndex is 0 for the preferred or default device, otherwise the
	// 1-based index into the capture device list.
	DeviceIndex  uint32
	DeviceName   string
	SampleRate   int
	Channels     int
	BufferFrames int
}

// getBackend returns the appropriate backend for the current platform
func getBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

// OpenMalgoInput initializes and starts a capture device.
func OpenMalgoInput(cfg MalgoConfig, log logger.Logger) (*MalgoInput, error) {
	malgoCtx, err := malgo.InitContext([]malgo.Backend{getBackend()}, malgo.ContextConfig{}, func(message string) {
		log.Trace("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Context("backend", runtime.GOOS).
			Build()
	}

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryAudioSource).
			Context("operation", "list_devices").
			Build()
	}

	info, err := selectCaptureDevice(infos, cfg.DeviceIndex, cfg.DeviceName)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, err
	}

	frameSize := uint32(cfg.Channels * 2)
	bufferSize := uint32(cfg.BufferFrames) * frameSize
	in := &MalgoInput{
		sampleRate: uint32(cfg.SampleRate),
		frameSize:  frameSize,
		bufferSize: bufferSize,
		ctx:        malgoCtx,
		rb:         ringbuffer.New(int(bufferSize) * captureBuffers),
		scratch:    make([]byte, bufferSize),
		log:        log,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.BufferFrames)
	deviceConfig.Alsa.NoMMap = 1
	if info != nil {
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		in.name = info.Name()
	} else {
		in.name = "default"
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: in.onReceiveFrames,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_device").
			Context("device_name", in.name).
			Build()
	}
	in.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryAudioSource).
			Context("operation", "start_device").
			Context("device_name", in.name).
			Build()
	}

	log.Info("capture device started",
		logger.String("device_name", in.name),
		logger.Uint32("sample_rate", in.sampleRate),
		logger.Int("channels", cfg.Channels),
		logger.Uint32("buffer_size", bufferSize))
	return in, nil
}

// selectCaptureDevice picks the device for index. Index 0 prefers a device
// whose name contains name, then the system default; nil means let the
// backend choose.
func selectCaptureDevice(infos []malgo.DeviceInfo, index uint32, name string) (*malgo.DeviceInfo, error) {
	if index > 0 {
		if int(index) > len(infos) {
			return nil, errors.Newf("capture device %d not found, %d devices available", index, len(infos)).
				Component("hal").
				Category(errors.CategoryNotFound).
				Build()
		}
		return &infos[index-1], nil
	}

	if name != "" {
		for i := range infos {
			if strings.Contains(infos[i].Name(), name) {
				return &infos[i], nil
			}
		}
		return nil, errors.Newf("no capture device matches %q", name).
			Component("hal").
			Category(errors.CategoryNotFound).
			Build()
	}

	for i := range infos {
		if infos[i].IsDefault == 1 {
			return &infos[i], nil
		}
	}
	return nil, nil
}

// onReceiveFrames is the device callback. When the ring is full the oldest
// captured bytes are discarded so Read always sees the newest audio.
func (m *MalgoInput) onReceiveFrames(_, pSamples []byte, _ uint32) {
	if m.closed.Load() || len(pSamples) == 0 {
		return
	}

	if need := len(pSamples) - m.rb.Free(); need > 0 {
		if need > len(m.scratch) {
			m.scratch = make([]byte, need)
		}
		n, _ := m.rb.Read(m.scratch[:need])
		m.dropped.Add(int64(n))
	}

	if _, err := m.rb.Write(pSamples); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		m.log.Warn("capture ring write failed", logger.Error(err))
	}
}

func (m *MalgoInput) BufferSize() uint32 { return m.bufferSize }
func (m *MalgoInput) SampleRate() uint32 { return m.sampleRate }
func (m *MalgoInput) FrameSize() uint32  { return m.frameSize }

// Name returns the capture device name.
func (m *MalgoInput) Name() string { return m.name }

// Dropped returns the number of captured bytes discarded because nobody read
// them in time.
func (m *MalgoInput) Dropped() int64 { return m.dropped.Load() }

// Read drains captured audio into p.
func (m *MalgoInput) Read(p []byte) (int, error) {
	if m.closed.Load() {
		return 0, ErrInputClosed
	}
	n, err := m.rb.Read(p)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, nil
	}
	return n, err
}

// Close stops the device and releases the miniaudio context.
func (m *MalgoInput) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	_ = m.device.Stop()
	m.device.Uninit()
	err := m.ctx.Uninit()
	m.ctx.Free()

	m.log.Info("capture device stopped",
		logger.String("device_name", m.name),
		logger.Int64("dropped_bytes", m.dropped.Load()))
	if err != nil {
		return errors.New(err).
			Component("hal").
			Category(errors.CategoryAudioSource).
			Context("operation", "uninit_context").
			Build()
	}
	return nil
}
