// config.go: settings struct and functions to load and save the streamsplit configuration.
package conf

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/streamsplit/internal/errors"
	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/streamsplit"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. STREAMSPLIT_SPLIT_MAXDEVICES.
const EnvPrefix = "STREAMSPLIT"

// Hardware backends.
const (
	BackendMalgo = "malgo"
	BackendWAV   = "wav"
	BackendTone  = "tone"
)

// SplitSettings contains the limits and timings of the split engine.
type SplitSettings struct {
	MaxDevices          int           // maximum number of simultaneously open hardware devices
	MaxClientsPerStream int           // maximum clients per kind (playback, record) on one device
	BufferChunks        int           // ring buffer size in chunks
	DefaultChunkSize    int           // chunk size in bytes when the device does not report one
	ReadRetries         int           // number of waits before a buffered read gives up
	ReadRetryInterval   time.Duration // length of one wait
	PollSleepRatio      float64       // share of a chunk's duration the poller sleeps after data
	UnderrunSleepRatio  float64       // share of a chunk's duration the poller sleeps after an empty read
}

// HardwareSettings selects and configures the hardware input backend.
type HardwareSettings struct {
	Backend       string  // malgo, wav or tone
	SampleRate    int     // capture sample rate in Hz
	Channels      int     // capture channel count, 16-bit samples
	BufferFrames  int     // frames per hardware buffer
	DeviceName    string  // malgo: substring of the capture device to prefer for device 0
	WAVPath       string  // wav: file replayed as the device
	Loop          bool    // wav: restart from the beginning at end of file
	ToneFrequency float64 // tone: sine frequency in Hz
}

// FrameSize returns bytes per frame for 16-bit samples.
func (h HardwareSettings) FrameSize() int {
	return h.Channels * 2
}

// BufferBytes returns the size of one hardware buffer in bytes.
func (h HardwareSettings) BufferBytes() int {
	return h.BufferFrames * h.FrameSize()
}

// TelemetrySettings controls the metrics and status HTTP endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to serve /metrics and the status API
	Listen  string // listen address, e.g. "localhost:8090"
}

// SentrySettings controls error reporting to Sentry.
type SentrySettings struct {
	Enabled     bool   // true to report errors
	DSN         string // Sentry DSN
	Environment string // environment tag
	Debug       bool   // sentry SDK debug output
}

// Settings is the root of the configuration.
type Settings struct {
	Debug     bool                 // true to force debug logging
	Split     SplitSettings        // split engine limits
	Hardware  HardwareSettings     // hardware input backend
	Logging   logger.LoggingConfig // logging outputs and levels
	Telemetry TelemetrySettings    // metrics endpoint
	Sentry    SentrySettings       // error telemetry
}

// SplitConfig converts the split settings to an engine config.
func (s *Settings) SplitConfig() streamsplit.Config {
	return streamsplit.Config{
		MaxDevices:          s.Split.MaxDevices,
		MaxClientsPerStream: s.Split.MaxClientsPerStream,
		BufferChunks:        s.Split.BufferChunks,
		ChunkSize:           s.Split.DefaultChunkSize,
		ReadRetries:         s.Split.ReadRetries,
		ReadRetryInterval:   s.Split.ReadRetryInterval,
		PollSleepRatio:      s.Split.PollSleepRatio,
		UnderrunSleepRatio:  s.Split.UnderrunSleepRatio,
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables. An empty
// configFile searches the default config paths; a missing file is not an
// error and leaves every value at its default.
func Load(configFile string) (*Settings, error) {
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	if used := v.ConfigFileUsed(); used != "" {
		GetLogger().Debug("configuration loaded", logger.String("path", used))
	}
	return settings, nil
}

// newViper creates a viper instance with defaults, environment overrides and
// the config file, if one is found.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("operation", "read-config").
			Context("config_file", configFile).
			Build()
	}
	return v, nil
}

// GetSettings returns the most recently loaded settings, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
// When one of them already holds a config.yaml only that one is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("configuration").
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "streamsplit"),
		}
	default:
		configPaths = []string{
			".",
			filepath.Join(homeDir, ".config", "streamsplit"),
			"/etc/streamsplit",
		}
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}
	return configPaths, nil
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() []byte {
	return defaultConfigYAML
}

// WriteDefaultConfig writes the embedded default config to path. An existing
// file is left untouched unless overwrite is set.
func WriteDefaultConfig(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf("config file already exists: %s", path).
				Component("configuration").
				Category(errors.CategoryFileIO).
				Build()
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Context("operation", "create-config-dir").
			Build()
	}
	if err := os.WriteFile(path, defaultConfigYAML, 0o644); err != nil {
		return errors.New(err).
			Component("configuration").
			Category(errors.CategoryFileIO).
			Context("operation", "write-default-config").
			Build()
	}
	return nil
}

// SaveYAMLConfig writes settings to configPath. It overwrites the existing
// file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temporary file first so the replace is atomic
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// GetLogger returns the config package logger. It is fetched from the global
// logger each time since the central logger may be installed after init.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
