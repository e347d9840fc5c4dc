package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"invcrawler/internal/worker"
	"invcrawler/pkg/auth"
	"invcrawler/pkg/config"
	"invcrawler/pkg/gate"
	"invcrawler/pkg/logger"
	"invcrawler/pkg/metrics"
	"invcrawler/pkg/steam"
	"invcrawler/pkg/store"
)

// app holds what every command that touches the store needs
type app struct {
	cfg      *config.Config
	log      logger.Logger
	store    store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// loadConfig loads the configuration with the explicitly set flags merged in
func loadConfig(cmd *cobra.Command, flags map[string]interface{}) (*config.Config, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if f := cmd.Flag("log-level"); f != nil && f.Changed {
		flags["log-level"] = logLevel
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newApp loads the configuration, initializes logging and opens the store
func newApp(ctx context.Context, cmd *cobra.Command, flags map[string]interface{}) (*app, error) {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}

	// the progress line owns the console unless asked otherwise
	if cmd.Name() == "crawl" && !verbose && cfg.Logging.File == "" {
		if f := cmd.Flag("log-level"); f == nil || !f.Changed {
			cfg.Logging.Level = "warn"
		}
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger().WithField("version", version)

	s, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		log:      log,
		store:    s,
		registry: reg,
		metrics:  metrics.New(reg),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close store")
	}
}

// serveMetrics exposes the registry until ctx is done when an address is set
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, a.registry, a.log); err != nil {
			a.log.WithError(err).Error("Metrics endpoint failed")
		}
	}()
}

// apiKeys returns the stored upstream keys. A missing key store is not an
// error; the crawl runs without keys.
func (a *app) apiKeys() []string {
	manager, err := auth.NewManager()
	if err != nil {
		a.log.WithError(err).Warn("API key store unavailable, crawling without keys")
		return nil
	}
	keys, err := manager.Keys()
	if err != nil {
		a.log.WithError(err).Warn("Failed to read API keys, crawling without keys")
		return nil
	}
	a.log.WithField("keys", len(keys)).Debug("API keys loaded")
	return keys
}

// newPool builds one worker per configured proxy
func (a *app) newPool() (*worker.Pool, error) {
	cfg := a.cfg
	return worker.NewPool(worker.Options{
		Proxies: cfg.Crawl.Proxies,
		Steam: steam.Options{
			BaseURL:           cfg.Steam.BaseURL,
			Language:          cfg.Steam.Language,
			PageSize:          cfg.Steam.PageSize,
			Timeout:           cfg.Steam.RequestTimeout,
			RequestsPerSecond: cfg.Steam.RequestsPerSecond,
			UserAgent:         cfg.Steam.UserAgent,
		},
		Gate: gate.Options{
			MinBackoff:   cfg.Gate.MinBackoff,
			MaxBackoff:   cfg.Gate.MaxBackoff,
			PollInterval: cfg.Gate.PollInterval,
		},
		SharedGate: cfg.Gate.Shared,
		Keys:       a.apiKeys(),
		Logger:     a.log,
		Metrics:    a.metrics,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
