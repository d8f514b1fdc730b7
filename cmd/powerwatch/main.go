// Command powerwatch supervises network devices and power-cycles them
// through a remote switch when they stop responding.
//
//	powerwatch [-config] <file>
//	powerwatch version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/powerwatch/internal/config"
	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/metrics"
	"github.com/HerbHall/powerwatch/internal/notify"
	"github.com/HerbHall/powerwatch/internal/server"
	"github.com/HerbHall/powerwatch/internal/status"
	"github.com/HerbHall/powerwatch/internal/supervisor"
	"github.com/HerbHall/powerwatch/internal/version"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"github.com/HerbHall/powerwatch/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process globals so it can be driven from tests.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "version" {
		fmt.Fprintln(stdout, version.Info())
		return exitOK
	}

	fs := flag.NewFlagSet("powerwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	showVersion := fs.Bool("version", false, "print version information and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: powerwatch [-config] <file>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *showVersion {
		fmt.Fprintln(stdout, version.Info())
		return exitOK
	}
	path := *configPath
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		fs.Usage()
		return exitUsage
	}

	// Load configuration before the logger so level and format apply.
	v, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitError
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Decode(v)
	if err != nil {
		logger.Error("invalid configuration", zap.String("source", path), zap.Error(err))
		return exitError
	}
	if err := cfg.Resolve(ctx, net.DefaultResolver); err != nil {
		logger.Error("failed to resolve device addresses", zap.Error(err))
		return exitError
	}

	logger.Info("powerwatch starting",
		zap.String("version", version.Short()),
		zap.String("config", path),
	)

	if len(cfg.Devices) == 0 {
		logger.Warn("no devices to monitor")
		return exitOK
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("powerwatch stopped with errors", zap.Error(err))
		return exitError
	}
	logger.Info("powerwatch stopped")
	return exitOK
}

// serve wires the event observers, notification sinks and watchdogs, then
// runs until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	bus := event.NewBus(logger.Named("event"))

	devices := make([]watchdog.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, d.Watchdog())
	}
	tracker := status.NewTracker(devices...)
	defer tracker.Attach(bus)()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	defer metrics.New(registry).Attach(bus)()

	dispatcher, err := notify.FromConfig(cfg.Notifications, logger)
	if err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("closing notification sinks", zap.Error(err))
		}
	}()
	if sinks := dispatcher.Sinks(); len(sinks) > 0 {
		logger.Info("notifications enabled", zap.Strings("sinks", sinks))
	}

	watchdogs, err := supervisor.Build(cfg, supervisor.Dependencies{
		Notifier: notifierFor(dispatcher),
		Bus:      bus,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	sup := supervisor.New(logger.Named("supervisor"), watchdogs...)
	logger.Info(fmt.Sprintf("monitoring %d device(s)", sup.Len()), zap.Strings("devices", sup.Devices()))

	var srv *server.Server
	srvErr := make(chan error, 1)
	if cfg.Server.Addr != "" {
		events := ws.NewHandler(bus, logger.Named("ws"))
		defer events.Close()

		srv = server.New(server.Options{
			Addr:     cfg.Server.Addr,
			Devices:  tracker,
			Registry: registry,
			Logger:   logger.Named("server"),
			Routes:   []server.RouteRegistrar{events},
			Ready: func(context.Context) error {
				if tracker.Running() == 0 {
					return errors.New("no watchdogs running")
				}
				return nil
			},
		})
		go func() {
			err := srv.Start()
			if err != nil {
				logger.Error("HTTP server failed", zap.Error(err))
			}
			srvErr <- err
		}()
	}

	runErr := sup.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", zap.Error(err))
		}
		if err := <-srvErr; err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	return runErr
}

// notifierFor returns nil when d has no sinks, so watchdogs neither attempt
// delivery nor report a notification nobody received.
func notifierFor(d *notify.Dispatcher) watchdog.Notifier {
	if len(d.Sinks()) == 0 {
		return nil
	}
	return d
}
