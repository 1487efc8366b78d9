package hal

import (
	"encoding/hex"
	"slices"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/streamsplit/internal/errors"
)

const captureDevicesKey = "capture-devices"

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	// DeviceID is the id to pass to OpenInput for this device.
	DeviceID  uint32 `json:"device_id"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	IsDefault bool   `json:"is_default"`
}

// DeviceLister enumerates capture devices. Enumeration initializes a
// miniaudio context, so results are cached for a short time.
type DeviceLister struct {
	cache     *cache.Cache
	enumerate func() ([]DeviceInfo, error)
}

// NewDeviceLister creates a lister caching results for ttl.
func NewDeviceLister(ttl time.Duration) *DeviceLister {
	return &DeviceLister{
		cache:     cache.New(ttl, ttl*2),
		enumerate: enumerateCaptureDevices,
	}
}

// CaptureDevices returns the available capture devices.
func (l *DeviceLister) CaptureDevices() ([]DeviceInfo, error) {
	if cached, found := l.cache.Get(captureDevicesKey); found {
		return slices.Clone(cached.([]DeviceInfo)), nil
	}

	devices, err := l.enumerate()
	if err != nil {
		return nil, err
	}
	l.cache.Set(captureDevicesKey, devices, cache.DefaultExpiration)
	return slices.Clone(devices), nil
}

// Invalidate drops the cached device list.
func (l *DeviceLister) Invalidate() {
	l.cache.Delete(captureDevicesKey)
}

func enumerateCaptureDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryAudioSource).
			Context("operation", "init_context").
			Build()
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, errors.New(err).
			Component("hal").
			Category(errors.CategoryAudioSource).
			Context("operation", "list_devices").
			Build()
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			DeviceID:  uint32(i + 1),
			Name:      infos[i].Name(),
			ID:        hexToASCII(infos[i].ID.String()),
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices, nil
}

// hexToASCII decodes a hex device id, returning it unchanged if it is not hex.
func hexToASCII(hexStr string) string {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return hexStr
	}
	return string(b)
}
