package main

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/spf13/cobra"

	"mercator-hq/interpose/pkg/bridge"
	"mercator-hq/interpose/pkg/ca"
	"mercator-hq/interpose/pkg/cli"
	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/endpoint"
	"mercator-hq/interpose/pkg/forward"
	"mercator-hq/interpose/pkg/inventory"
	"mercator-hq/interpose/pkg/inventory/recorder"
	"mercator-hq/interpose/pkg/inventory/retention"
	"mercator-hq/interpose/pkg/inventory/storage"
	"mercator-hq/interpose/pkg/issuer"
	"mercator-hq/interpose/pkg/proxy"
	"mercator-hq/interpose/pkg/server"
	"mercator-hq/interpose/pkg/telemetry/health"
	"mercator-hq/interpose/pkg/telemetry/logging"
	"mercator-hq/interpose/pkg/telemetry/metrics"
	"mercator-hq/interpose/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	mode          string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Interpose proxy",
	Long: `Start the CONNECT proxy and, when enabled, the admin server.

The root CA is loaded from disk or generated on first start. Every CONNECT
is answered with 200 once a certificate for the domain is ready (mitm mode)
or the origin is reachable (bypass mode).

Examples:
  # Start with defaults (no config file needed)
  interpose run

  # Start with a custom config
  interpose run --config /etc/interpose/interpose.yaml

  # Relay everything without interception
  interpose run --mode bypass

  # Validate config without starting
  interpose run --dry-run`,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.mode, "mode", "", "override interception mode (mitm, bypass)")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the proxy")
}

// runtimeConfig loads the configuration, applies the run flag overrides
// and makes it the running configuration.
func runtimeConfig() (*config.Config, error) {
	reload, err := config.ReloadConfig(cfgFile, applyRunFlags)
	if err != nil {
		return nil, err
	}
	return reload.Current, nil
}

// applyRunFlags overrides cfg with the run command's flags.
func applyRunFlags(cfg *config.Config) {
	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.mode != "" {
		cfg.Proxy.Mode = runFlags.mode
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := runtimeConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err == nil {
		app.cfgPath = cfgFile
	}
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer app.close()

	fmt.Fprintf(out, "Interpose v%s\n", Version)
	fmt.Fprintf(out, "✓ Root CA: %s (sha256 %s)\n", app.root.Subject(), ca.Fingerprint(app.root.Certificate))
	fmt.Fprintf(out, "✓ Proxy listening on %s (mode %s)\n", app.proxyLn.Addr(), cfg.Proxy.Mode)
	if app.adminLn != nil {
		fmt.Fprintf(out, "✓ Admin server on http://%s (CA download at /ca.pem)\n", app.adminLn.Addr())
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop, send SIGHUP to reload the configuration")

	if err := app.serve(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Proxy stopped")
	return nil
}

// app is the wired process: proxy, admin server and inventory.
type app struct {
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger

	root      *ca.RootCA
	watcher   *ca.Watcher
	collector *metrics.Collector
	tracer    *tracing.Tracer
	fetcher   *forward.HTTPFetcher
	store     inventory.Storage
	recorder  *recorder.Recorder
	scheduler *retention.Scheduler
	proxy     *proxy.Server
	admin     *server.Server

	proxyLn net.Listener
	adminLn net.Listener
}

// buildApp constructs every component from cfg and binds the listeners.
// On error everything built so far is released.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	a.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return a, fmt.Errorf("initialize tracing: %w", err)
	}

	a.root, err = loadRoot(cfg, logger)
	if err != nil {
		return a, err
	}
	a.collector.SetCAExpiry(a.root.Certificate.NotAfter)

	if cfg.CA.Watch {
		a.watcher, err = ca.NewWatcher(cfg.CA.CertFile, cfg.CA.KeyFile, logger)
		if err != nil {
			logger.Warn("root CA watcher unavailable", "error", err)
			err = nil
		}
	}

	var observer endpoint.Observer
	var tunnelRecorder proxy.Recorder
	if cfg.Inventory.Enabled {
		a.store, err = storage.New(cfg.Inventory, logger)
		if err != nil {
			return a, fmt.Errorf("open inventory: %w", err)
		}
		a.recorder = recorder.NewRecorder(a.store, &recorder.Config{
			AsyncBuffer:  cfg.Inventory.AsyncBuffer,
			WriteTimeout: cfg.Inventory.WriteTimeout,
		}, logger, a.collector)
		observer = a.recorder
		tunnelRecorder = a.recorder

		pruner := retention.NewPruner(a.store, cfg.Inventory.Retention, logger)
		a.scheduler = retention.NewScheduler(pruner)
	}

	cache := endpoint.NewCache(issuer.New(a.root, cfg.Issuer.ValidityDays), endpoint.Options{
		RenewBefore: cfg.Issuer.RenewBefore,
		Logger:      logger,
		Metrics:     a.collector,
		Observer:    observer,
		Tracer:      a.tracer,
	})

	a.fetcher = forward.NewHTTPFetcher(cfg.Upstream)
	a.proxy, err = proxy.New(proxy.Deps{
		Config:   cfg.Proxy,
		Root:     a.root,
		Cache:    cache,
		Bridge:   bridge.New(cfg.Proxy.BufferSize),
		Handler:  forward.NewHandler(a.fetcher, logger, a.collector).WithTracer(a.tracer),
		Dialer:   &net.Dialer{Timeout: cfg.Proxy.DialTimeout},
		Logger:   logger,
		Metrics:  a.collector,
		Recorder: tunnelRecorder,
		Tracer:   a.tracer,
	})
	if err != nil {
		return a, err
	}

	a.proxyLn, err = net.Listen("tcp", cfg.Proxy.ListenAddress)
	if err != nil {
		return a, fmt.Errorf("listen on %s: %w", cfg.Proxy.ListenAddress, err)
	}

	if cfg.Admin.Enabled {
		checker := health.New(cfg.Telemetry.Health.CheckTimeout)
		root := a.root
		checker.RegisterCheck("root_ca", health.CertificateCheck(func() *x509.Certificate {
			return root.Certificate
		}, cfg.Telemetry.Health.CAExpiryWarning))
		if a.store != nil {
			checker.RegisterCheck("inventory", health.PingCheck(a.store))
		}

		deps := server.Deps{
			Config:    cfg.Admin,
			Build:     server.Build{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
			Checker:   checker,
			Root:      a.root,
			Endpoints: cache,
			Tunnels:   a.proxy,
			Inventory: a.store,
			Logger:    logger,
		}
		if cfg.Telemetry.Metrics.Enabled {
			deps.Metrics = a.collector
			deps.MetricsPath = cfg.Telemetry.Metrics.Path
		}
		a.admin = server.NewServer(deps)

		a.adminLn, err = net.Listen("tcp", cfg.Admin.ListenAddress)
		if err != nil {
			return a, fmt.Errorf("admin listen on %s: %w", cfg.Admin.ListenAddress, err)
		}
	}

	return a, nil
}

// serve runs the proxy, admin server, watcher and retention scheduler
// until ctx ends or one of the servers fails.
func (a *app) serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			a.logger.Warn("failed to start retention scheduler", "error", err)
		} else if next := a.scheduler.NextRun(); next != nil {
			a.logger.Debug("inventory retention scheduler started", "next_run", next)
		}
	}

	if a.watcher != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.watcher.Watch(ctx, ca.WarnOnChange(a.logger, a.root)); err != nil {
				a.logger.Warn("root CA watcher stopped", "error", err)
			}
		}()
	}

	if a.cfgPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cli.OnReload(ctx, a.reload)
		}()
	}

	errChan := make(chan error, 2)
	running := 1
	go func() {
		errChan <- a.proxy.Serve(ctx, a.proxyLn)
	}()
	if a.admin != nil {
		running++
		go func() {
			errChan <- a.admin.Serve(ctx, a.adminLn)
		}()
	}

	var errs []error
	for ; running > 0; running-- {
		if err := <-errChan; err != nil {
			errs = append(errs, err)
			cancel()
		}
	}
	return errors.Join(errs...)
}

// reload re-reads the configuration file and applies the settings that
// can change while running. Other changes are reported and wait for a
// restart.
func (a *app) reload() {
	r, err := config.ReloadConfig(a.cfgPath, applyRunFlags)
	if err != nil {
		a.logger.Warn("configuration reload failed, keeping current settings", "error", err)
		return
	}

	applied := r.Applied()
	for _, field := range applied {
		switch field {
		case config.FieldBypassDomains:
			a.proxy.SetBypassDomains(r.Current.Proxy.BypassDomains)
		case config.FieldLoggingLevel:
			level, err := logging.ParseLevel(r.Current.Telemetry.Logging.Level)
			if err != nil {
				a.logger.Warn("invalid log level on reload", "error", err)
				continue
			}
			logLevel.Set(level)
		}
	}
	if restart := r.RestartRequired(); len(restart) > 0 {
		a.logger.Warn("configuration changes take effect after a restart", "sections", restart)
	}
	a.logger.Info("configuration reloaded", "path", a.cfgPath, "applied", applied)
}

// close releases everything buildApp created, in reverse order.
func (a *app) close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Debug("root CA watcher stop", "error", err)
		}
	}
	if a.proxyLn != nil {
		a.proxyLn.Close()
	}
	if a.adminLn != nil {
		a.adminLn.Close()
	}
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.logger.Warn("inventory recorder close", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("inventory close", "error", err)
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Telemetry.Tracing.Timeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown", "error", err)
		}
	}
}
