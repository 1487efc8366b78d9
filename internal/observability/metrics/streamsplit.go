// Package metrics provides Prometheus metrics for the stream split engine
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Read path labels
const (
	PathBypass   = "bypass"
	PathBuffered = "buffered"
)

// StreamSplitMetrics contains Prometheus metrics for the shared input fan-out
type StreamSplitMetrics struct {
	registry *prometheus.Registry

	// Directory state
	openDevicesGauge       prometheus.Gauge
	openClientsGauge       *prometheus.GaugeVec
	activeClientsGauge     *prometheus.GaugeVec
	capacityRejectionTotal *prometheus.CounterVec

	// Read path
	readBytesTotal    *prometheus.CounterVec
	readTimeoutsTotal *prometheus.CounterVec
	readErrorsTotal   *prometheus.CounterVec

	// Poll goroutine
	pollChunksTotal    *prometheus.CounterVec
	pollBytesTotal     *prometheus.CounterVec
	pollUnderrunsTotal *prometheus.CounterVec
	pollersRunning     prometheus.Gauge

	// Ring buffer
	ringOverrunsTotal *prometheus.CounterVec
	ringFillGauge     *prometheus.GaugeVec
}

// NewStreamSplitMetrics creates and registers stream split metrics
func NewStreamSplitMetrics(registry *prometheus.Registry) (*StreamSplitMetrics, error) {
	m := &StreamSplitMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StreamSplitMetrics) initMetrics() {
	m.openDevicesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamsplit_open_devices",
		Help: "Number of hardware devices with an open split stream",
	})

	m.openClientsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamsplit_open_clients",
			Help: "Number of clients registered per device",
		},
		[]string{"device", "kind"}, // kind: playback, record
	)

	m.activeClientsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamsplit_active_clients",
			Help: "Number of actively reading clients per device",
		},
		[]string{"device"},
	)

	m.capacityRejectionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_capacity_rejections_total",
			Help: "Total number of requests rejected because a fixed table was full",
		},
		[]string{"table"}, // table: devices, playback, record, cursors
	)

	m.readBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_read_bytes_total",
			Help: "Total bytes delivered to clients",
		},
		[]string{"device", "path"}, // path: bypass, buffered
	)

	m.readTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_read_timeouts_total",
			Help: "Total number of reads that returned no data after the retry budget",
		},
		[]string{"device"},
	)

	m.readErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_read_errors_total",
			Help: "Total number of hardware read errors",
		},
		[]string{"device", "path"},
	)

	m.pollChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_poll_chunks_total",
			Help: "Total number of chunks written to ring buffers by poll goroutines",
		},
		[]string{"device"},
	)

	m.pollBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_poll_bytes_total",
			Help: "Total bytes written to ring buffers by poll goroutines",
		},
		[]string{"device"},
	)

	m.pollUnderrunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_poll_underruns_total",
			Help: "Total number of hardware reads by poll goroutines that returned no data",
		},
		[]string{"device"},
	)

	m.pollersRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamsplit_pollers_running",
		Help: "Number of running poll goroutines",
	})

	m.ringOverrunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamsplit_ring_overruns_total",
			Help: "Total number of writes that overwrote data not yet read by the slowest client",
		},
		[]string{"device"},
	)

	m.ringFillGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamsplit_ring_fill_ratio",
			Help: "Ring buffer fill between head and tail as a fraction of capacity",
		},
		[]string{"device"},
	)
}

// Describe implements prometheus.Collector
func (m *StreamSplitMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.openDevicesGauge.Describe(ch)
	m.openClientsGauge.Describe(ch)
	m.activeClientsGauge.Describe(ch)
	m.capacityRejectionTotal.Describe(ch)
	m.readBytesTotal.Describe(ch)
	m.readTimeoutsTotal.Describe(ch)
	m.readErrorsTotal.Describe(ch)
	m.pollChunksTotal.Describe(ch)
	m.pollBytesTotal.Describe(ch)
	m.pollUnderrunsTotal.Describe(ch)
	m.pollersRunning.Describe(ch)
	m.ringOverrunsTotal.Describe(ch)
	m.ringFillGauge.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *StreamSplitMetrics) Collect(ch chan<- prometheus.Metric) {
	m.openDevicesGauge.Collect(ch)
	m.openClientsGauge.Collect(ch)
	m.activeClientsGauge.Collect(ch)
	m.capacityRejectionTotal.Collect(ch)
	m.readBytesTotal.Collect(ch)
	m.readTimeoutsTotal.Collect(ch)
	m.readErrorsTotal.Collect(ch)
	m.pollChunksTotal.Collect(ch)
	m.pollBytesTotal.Collect(ch)
	m.pollUnderrunsTotal.Collect(ch)
	m.pollersRunning.Collect(ch)
	m.ringOverrunsTotal.Collect(ch)
	m.ringFillGauge.Collect(ch)
}

func deviceLabel(deviceID uint32) string {
	return strconv.FormatUint(uint64(deviceID), 10)
}

// All recorder methods are safe to call on a nil receiver so the engine can
// run without a registry.

// SetOpenDevices sets the number of open devices
func (m *StreamSplitMetrics) SetOpenDevices(n int) {
	if m == nil {
		return
	}
	m.openDevicesGauge.Set(float64(n))
}

// SetOpenClients sets the registered client count for a device and kind
func (m *StreamSplitMetrics) SetOpenClients(deviceID uint32, kind string, n int) {
	if m == nil {
		return
	}
	m.openClientsGauge.WithLabelValues(deviceLabel(deviceID), kind).Set(float64(n))
}

// SetActiveClients sets the active reader count for a device
func (m *StreamSplitMetrics) SetActiveClients(deviceID uint32, n int) {
	if m == nil {
		return
	}
	m.activeClientsGauge.WithLabelValues(deviceLabel(deviceID)).Set(float64(n))
}

// ForgetDevice removes per-device series after teardown
func (m *StreamSplitMetrics) ForgetDevice(deviceID uint32) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"device": deviceLabel(deviceID)}
	m.openClientsGauge.DeletePartialMatch(labels)
	m.activeClientsGauge.DeletePartialMatch(labels)
	m.ringFillGauge.DeletePartialMatch(labels)
}

// RecordCapacityRejection records a request rejected by a full table
func (m *StreamSplitMetrics) RecordCapacityRejection(table string) {
	if m == nil {
		return
	}
	m.capacityRejectionTotal.WithLabelValues(table).Inc()
}

// RecordReadBytes records bytes delivered to a client on the given path
func (m *StreamSplitMetrics) RecordReadBytes(deviceID uint32, path string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.readBytesTotal.WithLabelValues(deviceLabel(deviceID), path).Add(float64(n))
}

// RecordReadTimeout records a read that exhausted its retry budget
func (m *StreamSplitMetrics) RecordReadTimeout(deviceID uint32) {
	if m == nil {
		return
	}
	m.readTimeoutsTotal.WithLabelValues(deviceLabel(deviceID)).Inc()
}

// RecordReadError records a hardware read error
func (m *StreamSplitMetrics) RecordReadError(deviceID uint32, path string) {
	if m == nil {
		return
	}
	m.readErrorsTotal.WithLabelValues(deviceLabel(deviceID), path).Inc()
}

// RecordPollChunk records a chunk written to the ring by a poll goroutine
func (m *StreamSplitMetrics) RecordPollChunk(deviceID uint32, n int) {
	if m == nil {
		return
	}
	device := deviceLabel(deviceID)
	m.pollChunksTotal.WithLabelValues(device).Inc()
	m.pollBytesTotal.WithLabelValues(device).Add(float64(n))
}

// RecordPollUnderrun records an empty hardware read by a poll goroutine
func (m *StreamSplitMetrics) RecordPollUnderrun(deviceID uint32) {
	if m == nil {
		return
	}
	m.pollUnderrunsTotal.WithLabelValues(deviceLabel(deviceID)).Inc()
}

// PollerStarted increments the running poller gauge
func (m *StreamSplitMetrics) PollerStarted() {
	if m == nil {
		return
	}
	m.pollersRunning.Inc()
}

// PollerStopped decrements the running poller gauge
func (m *StreamSplitMetrics) PollerStopped() {
	if m == nil {
		return
	}
	m.pollersRunning.Dec()
}

// RecordRingOverrun records a write that overtook the slowest reader
func (m *StreamSplitMetrics) RecordRingOverrun(deviceID uint32) {
	if m == nil {
		return
	}
	m.ringOverrunsTotal.WithLabelValues(deviceLabel(deviceID)).Inc()
}

// SetRingFill sets the ring fill ratio for a device
func (m *StreamSplitMetrics) SetRingFill(deviceID uint32, ratio float64) {
	if m == nil {
		return
	}
	m.ringFillGauge.WithLabelValues(deviceLabel(deviceID)).Set(ratio)
}
