package streamsplit

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/streamsplit/internal/errors"
	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/observability/metrics"
)

// entry pairs the open-stream registry of a device with its read stream.
// read stays nil until the first client reads.
type entry struct {
	open *OpenStream
	read *ReadStream
}

// Directory is the entry point for opening, reading and closing shared
// hardware inputs. It holds at most Config.MaxDevices devices.
type Directory struct {
	cfg     Config
	hal     HAL
	log     logger.Logger
	metrics *metrics.StreamSplitMetrics

	mu         sync.Mutex
	entries    *slotTable[Handle, *entry]
	lastHandle Handle
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger used by the directory and its streams.
func WithLogger(log logger.Logger) Option {
	return func(d *Directory) {
		if log != nil {
			d.log = log
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.StreamSplitMetrics) Option {
	return func(d *Directory) {
		d.metrics = m
	}
}

// NewDirectory creates an empty directory that opens inputs through hal.
// Zero or negative values in cfg are replaced with defaults.
func NewDirectory(hal HAL, cfg Config, opts ...Option) (*Directory, error) {
	if hal == nil {
		return nil, errors.Newf("hardware abstraction is required").
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}

	cfg = cfg.withDefaults()
	d := &Directory{
		cfg:     cfg,
		hal:     hal,
		log:     logger.Global().Module(componentName),
		entries: newSlotTable[Handle, *entry](cfg.MaxDevices),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the effective configuration.
func (d *Directory) Config() Config { return d.cfg }

// GetOrCreateOpenStream registers a new client of kind on deviceID, opening
// the hardware input if the device is not open yet. It returns the device's
// OpenStream and the new client id.
func (d *Directory) GetOrCreateOpenStream(ctx context.Context, deviceID uint32, kind ClientKind) (*OpenStream, ClientID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.findDeviceLocked(deviceID)
	created := false
	if e == nil {
		if d.entries.Full() {
			d.metrics.RecordCapacityRejection("devices")
			d.log.Warn("device table full, rejecting open",
				logger.Uint32("device_id", deviceID),
				logger.Int("max_devices", d.entries.Cap()))
			return nil, 0, capacityError("devices", d.entries.Cap())
		}

		start := time.Now()
		in, err := d.hal.OpenInput(ctx, deviceID)
		if err != nil {
			return nil, 0, openError(err, deviceID, time.Since(start))
		}
		if in == nil {
			return nil, 0, allocationError("input", 0)
		}

		d.lastHandle++
		h := d.lastHandle
		e = &entry{open: newOpenStream(deviceID, h, in, d.cfg.MaxClientsPerStream)}
		if err := d.entries.Insert(h, e); err != nil {
			_ = d.hal.CloseInput(in)
			return nil, 0, capacityError("devices", d.entries.Cap())
		}
		created = true

		d.metrics.SetOpenDevices(d.entries.Len())
		d.log.Info("hardware input opened",
			logger.Uint32("device_id", deviceID),
			logger.Uint64("handle", uint64(h)),
			logger.Uint32("buffer_size", in.BufferSize()),
			logger.Uint32("sample_rate", in.SampleRate()),
			logger.Uint32("frame_size", in.FrameSize()))
	}

	id, err := e.open.AddClient(kind)
	if err != nil {
		d.metrics.RecordCapacityRejection(kind.String())
		if created {
			d.entries.Remove(e.open.handle)
			_ = d.hal.CloseInput(e.open.input)
			d.metrics.SetOpenDevices(d.entries.Len())
		}
		return nil, 0, err
	}

	d.metrics.SetOpenClients(deviceID, kind.String(), e.open.CountOf(kind))
	d.log.Info("client opened",
		logger.Uint32("device_id", deviceID),
		logger.Int("client_id", int(id)),
		logger.String("kind", kind.String()),
		logger.Int("clients", e.open.ClientCount()))
	return e.open, id, nil
}

// GetOrCreateReadStream returns the read stream of h with client id
// registered on it, creating the stream on first use. Registering a known id
// is a no-op.
func (d *Directory) GetOrCreateReadStream(h Handle, id ClientID) (*ReadStream, error) {
	d.mu.Lock()
	rs, created, err := d.readStreamLocked(h, id)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if created {
		return rs, nil
	}

	// A bypass read holds the stream lock across a hardware read, so the
	// cursor is registered outside the directory lock.
	if err := rs.AddClient(id); err != nil {
		return nil, err
	}
	return rs, nil
}

// readStreamLocked returns the read stream of h, creating it with id as its
// first cursor if it does not exist yet. created reports whether id is
// already registered on the returned stream.
func (d *Directory) readStreamLocked(h Handle, id ClientID) (rs *ReadStream, created bool, err error) {
	e, ok := d.entries.Get(h)
	if !ok {
		return nil, false, unknownStreamError(h)
	}
	if !e.open.HasClient(id) {
		return nil, false, unknownClientError(h, id)
	}
	if e.read != nil {
		return e.read, false, nil
	}

	log := d.log.With(logger.Uint32("device_id", e.open.deviceID), logger.Uint64("handle", uint64(h)))
	rs, err = newReadStream(h, e.open.deviceID, e.open.input, id, d.cfg, log, d.metrics)
	if err != nil {
		return nil, false, err
	}
	e.read = rs
	log.Debug("read stream created",
		logger.Int("client_id", int(id)),
		logger.Int("capacity", d.cfg.RingCapacity()))
	return rs, true, nil
}

// Read reads captured audio for client id of h into p. See ReadStream.Read.
func (d *Directory) Read(h Handle, id ClientID, p []byte) (int, error) {
	// Neither registration nor the read itself holds the directory lock;
	// reads can block for the retry budget and must not stall other devices.
	rs, err := d.GetOrCreateReadStream(h, id)
	if err != nil {
		return 0, err
	}
	return rs.Read(id, p)
}

// Deactivate stops client id of h from counting as an active reader without
// closing it. Stopping the last active reader joins the poll goroutine.
func (d *Directory) Deactivate(h Handle, id ClientID) error {
	d.mu.Lock()
	e, ok := d.entries.Get(h)
	if !ok {
		d.mu.Unlock()
		return unknownStreamError(h)
	}
	known := e.open.HasClient(id)
	rs := e.read
	d.mu.Unlock()

	if !known {
		return unknownClientError(h, id)
	}
	if rs == nil {
		return nil
	}
	return rs.Deactivate(id)
}

// CloseClient removes client id from h. When it was the last client, the
// read stream is released, the hardware input closed and the device removed
// from the directory. Unknown handles and clients are ignored.
func (d *Directory) CloseClient(h Handle, id ClientID) error {
	d.mu.Lock()
	e, ok := d.entries.Get(h)
	if !ok {
		d.mu.Unlock()
		return nil
	}
	kind, _ := e.open.KindOf(id)
	remaining, ok := e.open.Purge(id)
	if !ok {
		d.mu.Unlock()
		return nil
	}
	d.metrics.SetOpenClients(e.open.deviceID, kind.String(), e.open.CountOf(kind))
	d.log.Info("client closed",
		logger.Uint32("device_id", e.open.deviceID),
		logger.Int("client_id", int(id)),
		logger.Int("remaining", remaining))

	if remaining > 0 {
		rs := e.read
		d.mu.Unlock()
		if rs != nil {
			// The client may never have read; an unknown cursor is fine.
			_ = rs.Deactivate(id)
			rs.Purge(id, remaining)
		}
		return nil
	}

	d.entries.Remove(h)
	d.metrics.SetOpenDevices(d.entries.Len())
	d.mu.Unlock()

	return d.teardown(e)
}

// teardown joins the poll goroutine, releases the ring and closes the
// hardware input of an entry already removed from the table.
func (d *Directory) teardown(e *entry) error {
	if e.read != nil {
		e.read.Purge(0, 0)
	}
	d.metrics.ForgetDevice(e.open.deviceID)

	if err := d.hal.CloseInput(e.open.input); err != nil {
		d.log.Warn("failed to close hardware input",
			logger.Uint32("device_id", e.open.deviceID),
			logger.Error(err))
		return hardwareError(err, "close", e.open.deviceID)
	}

	d.log.Info("hardware input closed",
		logger.Uint32("device_id", e.open.deviceID),
		logger.Uint64("handle", uint64(e.open.handle)))
	return nil
}

// Close tears down every open stream.
func (d *Directory) Close() error {
	d.mu.Lock()
	var all []*entry
	for _, e := range d.entries.All() {
		all = append(all, e)
	}
	d.entries.Clear()
	d.metrics.SetOpenDevices(0)
	d.mu.Unlock()

	var errs []error
	for _, e := range all {
		if err := d.teardown(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClientKindOf reports whether client id of h is a playback or record client.
func (d *Directory) ClientKindOf(h Handle, id ClientID) (ClientKind, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries.Get(h)
	if !ok {
		return 0, unknownStreamError(h)
	}
	kind, ok := e.open.KindOf(id)
	if !ok {
		return 0, unknownClientError(h, id)
	}
	return kind, nil
}

// OpenStreamFor returns the OpenStream of h.
func (d *Directory) OpenStreamFor(h Handle) (*OpenStream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries.Get(h)
	if !ok {
		return nil, false
	}
	return e.open, true
}

// ReadStreamFor returns the ReadStream of h if one has been created.
func (d *Directory) ReadStreamFor(h Handle) (*ReadStream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries.Get(h)
	if !ok || e.read == nil {
		return nil, false
	}
	return e.read, true
}

// OpenStreamForDevice returns the OpenStream of deviceID.
func (d *Directory) OpenStreamForDevice(deviceID uint32) (*OpenStream, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e := d.findDeviceLocked(deviceID); e != nil {
		return e.open, true
	}
	return nil, false
}

// Len returns the number of open devices.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries.Len()
}

func (d *Directory) findDeviceLocked(deviceID uint32) *entry {
	for _, e := range d.entries.All() {
		if e.open.deviceID == deviceID {
			return e
		}
	}
	return nil
}

// StreamStatus is a point-in-time view of one open device.
type StreamStatus struct {
	Handle          Handle            `json:"handle"`
	DeviceID        uint32            `json:"device_id"`
	PlaybackClients []ClientID        `json:"playback_clients"`
	RecordClients   []ClientID        `json:"record_clients"`
	TotalClients    int               `json:"total_clients"`
	LatestClientID  ClientID          `json:"latest_client_id"`
	Read            *ReadStreamStatus `json:"read,omitempty"`
}

// Snapshot returns the status of every open device in slot order.
func (d *Directory) Snapshot() []StreamStatus {
	d.mu.Lock()
	all := make([]entry, 0, d.entries.Len())
	for _, e := range d.entries.All() {
		all = append(all, *e)
	}
	d.mu.Unlock()

	out := make([]StreamStatus, 0, len(all))
	for _, e := range all {
		st := StreamStatus{
			Handle:          e.open.handle,
			DeviceID:        e.open.deviceID,
			PlaybackClients: e.open.Clients(KindPlayback),
			RecordClients:   e.open.Clients(KindRecord),
			TotalClients:    e.open.ClientCount(),
			LatestClientID:  e.open.LatestClientID(),
		}
		if e.read != nil {
			rs := e.read.Status()
			st.Read = &rs
		}
		out = append(out, st)
	}
	return out
}
