// Package cmd wires the command line interface of streamsplit.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/streamsplit/cmd/config"
	"github.com/tphakala/streamsplit/cmd/devices"
	"github.com/tphakala/streamsplit/cmd/monitor"
	"github.com/tphakala/streamsplit/internal/buildinfo"
	"github.com/tphakala/streamsplit/internal/conf"
	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/telemetry"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configFile string
		debug      bool
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "streamsplit",
		Short:         "Fan out one audio capture device to several readers",
		Version:       build.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: search ., ~/.config/streamsplit, /etc/streamsplit)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	configCmd := config.Command(settings)
	initCmd := config.InitCommand(&configFile)
	configCmd.AddCommand(initCmd)

	rootCmd.AddCommand(
		monitor.Command(settings, build),
		devices.Command(settings),
		configCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// init writes the config file and must work while the current one is broken
		if cmd.Name() == initCmd.Name() {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if debug {
			loaded.Debug = true
		}
		if loaded.Debug {
			loaded.Logging.DefaultLevel = "debug"
			if loaded.Logging.Console != nil {
				loaded.Logging.Console.Level = "debug"
			}
		}
		*settings = *loaded

		central, err = logger.NewCentralLogger(&settings.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)

		if err := telemetry.InitSentry(&settings.Sentry, build.Version()); err != nil {
			logger.Global().Module("main").Warn("sentry initialization failed", logger.Error(err))
		}
		return nil
	}

	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		telemetry.Flush(sentryFlushTimeout)
		if central != nil {
			return central.Close()
		}
		return nil
	}

	return rootCmd
}
