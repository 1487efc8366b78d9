package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/streamsplit/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry    *prometheus.Registry
	StreamSplit *metrics.StreamSplitMetrics
}

// NewMetrics creates a registry with the process and Go runtime collectors
// and the stream splitter metrics.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	streamSplitMetrics, err := metrics.NewStreamSplitMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream split metrics: %w", err)
	}

	return &Metrics{
		registry:    registry,
		StreamSplit: streamSplitMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// promErrorLogger forwards promhttp errors to the telemetry logger.
type promErrorLogger struct{}

func (promErrorLogger) Println(v ...any) {
	getLogger().Error("metrics handler: " + fmt.Sprint(v...))
}
