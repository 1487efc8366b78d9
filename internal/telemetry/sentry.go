// Package telemetry connects the enhanced error reporter to Sentry.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/streamsplit/internal/conf"
	"github.com/tphakala/streamsplit/internal/errors"
	"github.com/tphakala/streamsplit/internal/logger"
)

var (
	mu          sync.Mutex
	initialized bool
)

func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// InitSentry initializes the Sentry SDK and installs it as the error
// reporter. It is a no-op when Sentry is disabled.
func InitSentry(settings *conf.SentrySettings, release string) error {
	return initSentry(settings, release, nil)
}

func initSentry(settings *conf.SentrySettings, release string, transport sentry.Transport) error {
	if settings == nil || !settings.Enabled {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		Debug:            settings.Debug,
		AttachStacktrace: false,
		Environment:      settings.Environment,
		ServerName:       "",
		Release:          fmt.Sprintf("streamsplit@%s", release),
		Transport:        transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized = true

	getLogger().Info("sentry error reporting enabled",
		logger.String("environment", settings.Environment),
		logger.String("release", release))
	return nil
}

// Flush waits up to timeout for buffered events and detaches the reporter.
func Flush(timeout time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		return
	}
	errors.SetTelemetryReporter(nil)
	if !sentry.Flush(timeout) {
		getLogger().Warn("sentry flush timed out", logger.Duration("timeout", timeout))
	}
	initialized = false
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
