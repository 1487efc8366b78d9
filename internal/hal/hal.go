// Package hal provides the hardware inputs behind the stream splitter: a
// malgo soundcard capture, a WAV file replayed in real time and a synthetic
// sine tone. Provider picks one according to the hardware settings and
// implements streamsplit.HAL.
package hal

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/tphakala/streamsplit/internal/conf"
	"github.com/tphakala/streamsplit/internal/errors"
	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/streamsplit"
)

// ErrInputClosed is returned by reads on a closed input.
var ErrInputClosed = errors.NewStd("input closed")

const deviceCacheTTL = 30 * time.Second

// Provider opens hardware inputs for the configured backend.
type Provider struct {
	settings conf.HardwareSettings
	log      logger.Logger
	devices  *DeviceLister
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProvider creates a provider for settings.Backend.
func NewProvider(settings conf.HardwareSettings, opts ...Option) (*Provider, error) {
	settings.Backend = strings.ToLower(settings.Backend)
	switch settings.Backend {
	case conf.BackendMalgo, conf.BackendWAV, conf.BackendTone:
	default:
		return nil, errors.Newf("unknown hardware backend %q", settings.Backend).
			Component("hal").
			Category(errors.CategoryConfiguration).
			Build()
	}

	p := &Provider{
		settings: settings,
		log:      logger.Global().Module("hal"),
		devices:  NewDeviceLister(deviceCacheTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Backend returns the selected backend name.
func (p *Provider) Backend() string { return p.settings.Backend }

// Devices returns the capture device lister.
func (p *Provider) Devices() *DeviceLister { return p.devices }

// OpenInput opens deviceID on the configured backend. The wav and tone
// backends serve every device id from the same source.
func (p *Provider) OpenInput(ctx context.Context, deviceID uint32) (streamsplit.Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryCancellation).
			Context("device_id", deviceID).
			Build()
	}

	s := p.settings
	log := p.log.With(logger.Uint32("device_id", deviceID), logger.String("backend", s.Backend))

	switch s.Backend {
	case conf.BackendTone:
		log.Debug("opening tone input", logger.Float64("frequency", s.ToneFrequency))
		return NewToneInput(ToneConfig{
			SampleRate:   s.SampleRate,
			Channels:     s.Channels,
			BufferFrames: s.BufferFrames,
			Frequency:    s.ToneFrequency,
		}), nil

	case conf.BackendWAV:
		in, err := OpenWAVInput(s.WAVPath, s.BufferFrames, s.Loop)
		if err != nil {
			return nil, err
		}
		log.Info("replaying wav file",
			logger.String("path", s.WAVPath),
			logger.Uint32("sample_rate", in.SampleRate()),
			logger.Bool("loop", s.Loop))
		return in, nil

	default:
		in, err := OpenMalgoInput(MalgoConfig{
			DeviceIndex:  deviceID,
			DeviceName:   s.DeviceName,
			SampleRate:   s.SampleRate,
			Channels:     s.Channels,
			BufferFrames: s.BufferFrames,
		}, log)
		if err != nil {
			return nil, err
		}
		return in, nil
	}
}

// CloseInput closes an input opened by this provider.
func (p *Provider) CloseInput(in streamsplit.Input) error {
	c, ok := in.(io.Closer)
	if !ok {
		return nil
	}
	return c.Close()
}
