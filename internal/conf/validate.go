// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tphakala/streamsplit/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. All problems are
// collected into one ValidationError.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateSplitSettings(&settings.Split)...)
	ve.Errors = append(ve.Errors, validateHardwareSettings(&settings.Hardware)...)
	ve.Errors = append(ve.Errors, validateTelemetrySettings(&settings.Telemetry)...)
	ve.Errors = append(ve.Errors, validateSentrySettings(&settings.Sentry)...)

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("configuration").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateSplitSettings(s *SplitSettings) []string {
	var errs []string

	if s.MaxDevices < 1 {
		errs = append(errs, "split.maxdevices must be at least 1")
	}
	if s.MaxClientsPerStream < 1 {
		errs = append(errs, "split.maxclientsperstream must be at least 1")
	}
	if s.BufferChunks < 1 {
		errs = append(errs, "split.bufferchunks must be at least 1")
	}
	if s.DefaultChunkSize < 1 {
		errs = append(errs, "split.defaultchunksize must be at least 1")
	}
	if s.ReadRetries < 1 {
		errs = append(errs, "split.readretries must be at least 1")
	}
	if s.ReadRetryInterval <= 0 || s.ReadRetryInterval > time.Second {
		errs = append(errs, fmt.Sprintf("split.readretryinterval must be between 1ns and 1s, got %s", s.ReadRetryInterval))
	}
	if s.PollSleepRatio <= 0 || s.PollSleepRatio > 1 {
		errs = append(errs, "split.pollsleepratio must be in (0, 1]")
	}
	if s.UnderrunSleepRatio <= 0 || s.UnderrunSleepRatio > 1 {
		errs = append(errs, "split.underrunsleepratio must be in (0, 1]")
	}
	return errs
}

func validateHardwareSettings(h *HardwareSettings) []string {
	var errs []string

	switch strings.ToLower(h.Backend) {
	case BackendMalgo, BackendTone:
	case BackendWAV:
		if h.WAVPath == "" {
			errs = append(errs, "hardware.wavpath is required for the wav backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("hardware.backend must be one of %s, %s, %s; got %q",
			BackendMalgo, BackendWAV, BackendTone, h.Backend))
	}

	if h.SampleRate < 8000 || h.SampleRate > 384000 {
		errs = append(errs, fmt.Sprintf("hardware.samplerate %d is outside 8000-384000", h.SampleRate))
	}
	if h.Channels < 1 || h.Channels > 8 {
		errs = append(errs, fmt.Sprintf("hardware.channels %d is outside 1-8", h.Channels))
	}
	if h.BufferFrames < 1 {
		errs = append(errs, "hardware.bufferframes must be at least 1")
	}
	if h.ToneFrequency <= 0 || h.ToneFrequency >= float64(h.SampleRate)/2 {
		errs = append(errs, "hardware.tonefrequency must be positive and below the Nyquist frequency")
	}
	return errs
}

func validateTelemetrySettings(t *TelemetrySettings) []string {
	if !t.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(t.Listen); err != nil {
		return []string{fmt.Sprintf("telemetry.listen %q is not a host:port address: %v", t.Listen, err)}
	}
	return nil
}

func validateSentrySettings(s *SentrySettings) []string {
	if s.Enabled && s.DSN == "" {
		return []string{"sentry.dsn is required when sentry is enabled"}
	}
	return nil
}
