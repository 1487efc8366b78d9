// Package observability wires the Prometheus registry and metric collectors
// of streamsplit together.
package observability

import "github.com/tphakala/streamsplit/internal/logger"

// getLogger returns the package logger. It is looked up on each call since
// the central logger may be installed after package init.
func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
