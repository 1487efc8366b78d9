package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/streamsplit"
)

// HealthCheck reports liveness and the number of open devices.
func (s *StatusServer) HealthCheck(c echo.Context) error {
	uptime := time.Since(s.started)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.build.Version(),
		"open_devices":   s.streams.Len(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// ListStreams returns the status of every open device.
func (s *StatusServer) ListStreams(c echo.Context) error {
	return c.JSON(http.StatusOK, s.streams.Snapshot())
}

// GetStream returns the status of the stream with the given handle.
func (s *StatusServer) GetStream(c echo.Context) error {
	raw := c.Param("handle")
	h, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid stream handle: "+raw)
	}

	for _, st := range s.streams.Snapshot() {
		if st.Handle == streamsplit.Handle(h) {
			return c.JSON(http.StatusOK, st)
		}
	}
	return echo.NewHTTPError(http.StatusNotFound, "stream not found")
}

// ListDevices returns the capture devices known to the audio backend.
func (s *StatusServer) ListDevices(c echo.Context) error {
	devices, err := s.devices.CaptureDevices()
	if err != nil {
		s.log.Warn("device enumeration failed", logger.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "device enumeration failed")
	}
	return c.JSON(http.StatusOK, devices)
}
