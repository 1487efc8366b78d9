// Package monitor implements the monitor command: it opens one capture device
// for several simulated clients and reports how much audio each receives.
package monitor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/streamsplit/internal/buildinfo"
	"github.com/tphakala/streamsplit/internal/conf"
	"github.com/tphakala/streamsplit/internal/errors"
	"github.com/tphakala/streamsplit/internal/hal"
	"github.com/tphakala/streamsplit/internal/httpserver"
	"github.com/tphakala/streamsplit/internal/logger"
	"github.com/tphakala/streamsplit/internal/observability"
	"github.com/tphakala/streamsplit/internal/streamsplit"
)

// Options controls one monitor run.
type Options struct {
	DeviceID        uint32
	RecordClients   int
	PlaybackClients int
	ReadSize        int           // bytes requested per read
	Duration        time.Duration // zero runs until the context is cancelled
	ReportInterval  time.Duration // zero disables periodic progress logs
}

// ClientReport summarizes what one client received.
type ClientReport struct {
	ClientID   streamsplit.ClientID
	Kind       streamsplit.ClientKind
	TraceID    string
	Bytes      int64
	Reads      int
	EmptyReads int
}

// Command creates the monitor command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	opts := Options{}
	var (
		telemetry bool
		listen    string
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Share one capture device between several readers",
		Long: "Open a capture device for the given number of record and playback clients, " +
			"read from all of them concurrently and report the bytes each one received.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("telemetry") {
				settings.Telemetry.Enabled = telemetry
			}
			if cmd.Flags().Changed("listen") {
				settings.Telemetry.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reports, err := Run(ctx, settings, build, opts)
			if len(reports) > 0 {
				if werr := writeReports(cmd.OutOrStdout(), reports); werr != nil && err == nil {
					err = werr
				}
			}
			return err
		},
	}

	cmd.Flags().Uint32Var(&opts.DeviceID, "device", 1, "Capture device id (see the devices command)")
	cmd.Flags().IntVar(&opts.RecordClients, "record", 2, "Number of record clients")
	cmd.Flags().IntVar(&opts.PlaybackClients, "playback", 1, "Number of playback (echo reference) clients")
	cmd.Flags().IntVar(&opts.ReadSize, "read-size", 960, "Bytes requested per read")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.ReportInterval, "report-interval", 5*time.Second, "Interval of per-client progress logs (0 disables)")
	cmd.Flags().BoolVar(&telemetry, "telemetry", false, "Serve /metrics and the status API")
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address of the telemetry endpoint")

	return cmd
}

type client struct {
	handle streamsplit.Handle
	id     streamsplit.ClientID
	kind   streamsplit.ClientKind
}

// Run opens the configured device for every client, reads from all of them
// until ctx is done or opts.Duration elapses and closes them again.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts Options) ([]ClientReport, error) {
	log := logger.Global().Module("monitor")

	if opts.RecordClients < 0 || opts.PlaybackClients < 0 || opts.RecordClients+opts.PlaybackClients == 0 {
		return nil, errors.Newf("monitor needs at least one client, got %d record and %d playback",
			opts.RecordClients, opts.PlaybackClients).
			Component("monitor").
			Category(errors.CategoryValidation).
			Build()
	}
	if opts.ReadSize <= 0 {
		return nil, errors.Newf("read size must be positive, got %d", opts.ReadSize).
			Component("monitor").
			Category(errors.CategoryValidation).
			Build()
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	provider, err := hal.NewProvider(settings.Hardware)
	if err != nil {
		return nil, err
	}
	dir, err := streamsplit.NewDirectory(provider, settings.SplitConfig(), streamsplit.WithMetrics(metrics.StreamSplit))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := dir.Close(); cerr != nil {
			log.Warn("closing directory failed", logger.Error(cerr))
		}
	}()

	if settings.Telemetry.Enabled {
		srv, err := httpserver.New(httpserver.DefaultConfig(settings.Telemetry.Listen), dir,
			httpserver.WithMetricsHandler(metrics.Handler()),
			httpserver.WithDevices(provider.Devices()),
			httpserver.WithBuildInfo(build))
		if err != nil {
			return nil, err
		}
		srv.Start()
		defer func() {
			if serr := srv.Shutdown(); serr != nil {
				log.Warn("status server shutdown failed", logger.Error(serr))
			}
		}()
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	clients, err := openClients(ctx, dir, opts)
	defer closeClients(dir, clients, log)
	if err != nil {
		return nil, err
	}

	log.Info("monitor started",
		logger.Uint32("device_id", opts.DeviceID),
		logger.String("backend", provider.Backend()),
		logger.Int("record_clients", opts.RecordClients),
		logger.Int("playback_clients", opts.PlaybackClients))

	reports := make([]ClientReport, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range clients {
		g.Go(func() error {
			return readLoop(gctx, dir, c, opts, &reports[i], log)
		})
	}
	err = g.Wait()

	log.Info("monitor stopped", logger.Int("clients", len(clients)))
	return reports, err
}

func openClients(ctx context.Context, dir *streamsplit.Directory, opts Options) ([]client, error) {
	kinds := make([]streamsplit.ClientKind, 0, opts.RecordClients+opts.PlaybackClients)
	for range opts.RecordClients {
		kinds = append(kinds, streamsplit.KindRecord)
	}
	for range opts.PlaybackClients {
		kinds = append(kinds, streamsplit.KindPlayback)
	}

	clients := make([]client, 0, len(kinds))
	for _, kind := range kinds {
		o, id, err := dir.GetOrCreateOpenStream(ctx, opts.DeviceID, kind)
		if err != nil {
			return clients, err
		}
		clients = append(clients, client{handle: o.Handle(), id: id, kind: kind})
	}
	return clients, nil
}

func closeClients(dir *streamsplit.Directory, clients []client, log logger.Logger) {
	for _, c := range clients {
		if err := dir.CloseClient(c.handle, c.id); err != nil {
			log.Warn("closing client failed",
				logger.Uint32("client_id", uint32(c.id)),
				logger.Error(err))
		}
	}
}

func readLoop(ctx context.Context, dir *streamsplit.Directory, c client, opts Options, r *ClientReport, base logger.Logger) error {
	r.ClientID = c.id
	r.Kind = c.kind
	r.TraceID = uuid.NewString()

	log := base.WithContext(logger.WithTraceID(ctx, r.TraceID)).With(
		logger.Uint32("client_id", uint32(c.id)),
		logger.String("kind", c.kind.String()))
	log.Debug("reader started")

	var tick <-chan time.Time
	if opts.ReportInterval > 0 {
		ticker := time.NewTicker(opts.ReportInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	buf := make([]byte, opts.ReadSize)
	var reported int64
	for {
		select {
		case <-ctx.Done():
			log.Debug("reader stopped", logger.Int64("bytes", r.Bytes))
			return nil
		case <-tick:
			log.Info("client progress",
				logger.Int64("bytes", r.Bytes),
				logger.Int64("bytes_since_last", r.Bytes-reported),
				logger.Int("empty_reads", r.EmptyReads))
			reported = r.Bytes
		default:
		}

		n, err := dir.Read(c.handle, c.id, buf)
		r.Reads++
		switch {
		case errors.Is(err, io.EOF):
			log.Info("input exhausted", logger.Int64("bytes", r.Bytes))
			return nil
		case errors.Is(err, streamsplit.ErrStreamClosed):
			return nil
		case err != nil:
			return err
		}
		if n == 0 {
			r.EmptyReads++
			continue
		}
		r.Bytes += int64(n)
	}
}

func writeReports(w io.Writer, reports []ClientReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT\tKIND\tBYTES\tREADS\tEMPTY\tTRACE ID")
	for _, r := range reports {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n", r.ClientID, r.Kind, r.Bytes, r.Reads, r.EmptyReads, r.TraceID)
	}
	return tw.Flush()
}
