// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"

	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/streamsplit"
)

// setDefaultConfig sets default values for every configuration key. Keys
// need a default to be picked up from the environment.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("split.maxdevices", streamsplit.DefaultMaxDevices)
	v.SetDefault("split.maxclientsperstream", streamsplit.DefaultMaxClientsPerStream)
	v.SetDefault("split.bufferchunks", streamsplit.DefaultBufferChunks)
	v.SetDefault("split.defaultchunksize", streamsplit.DefaultChunkSize)
	v.SetDefault("split.readretries", streamsplit.DefaultReadRetries)
	v.SetDefault("split.readretryinterval", streamsplit.DefaultReadRetryInterval)
	v.SetDefault("split.pollsleepratio", streamsplit.DefaultPollSleepRatio)
	v.SetDefault("split.underrunsleepratio", streamsplit.DefaultUnderrunSleepRatio)

	v.SetDefault("hardware.backend", BackendMalgo)
	v.SetDefault("hardware.samplerate", 48000)
	v.SetDefault("hardware.channels", 1)
	v.SetDefault("hardware.bufferframes", 2400) // 50ms at 48kHz
	v.SetDefault("hardware.devicename", "")
	v.SetDefault("hardware.wavpath", "")
	v.SetDefault("hardware.loop", true)
	v.SetDefault("hardware.tonefrequency", 440.0)

	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "localhost:8090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.debug", false)
}
