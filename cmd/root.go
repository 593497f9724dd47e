// Package cmd implements the proxywhirl CLI using Cobra.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wyattowalsh/proxywhirl/internal/config"
	"github.com/wyattowalsh/proxywhirl/internal/fetcher"
	"github.com/wyattowalsh/proxywhirl/internal/httpapi"
	"github.com/wyattowalsh/proxywhirl/internal/logging"
	"github.com/wyattowalsh/proxywhirl/internal/monitor"
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/ratelimit"
	"github.com/wyattowalsh/proxywhirl/internal/rotator"
	"github.com/wyattowalsh/proxywhirl/internal/strategy"
	"github.com/wyattowalsh/proxywhirl/internal/validator"
)

// version is injected at build time via ldflags.
var version = "dev"

// -----------------------------------------------------------------------
// Flag variables
// -----------------------------------------------------------------------

var (
	flagConfigPath     string
	flagListen         string
	flagStrategy       string
	flagRedisAddr      string
	flagRateLimitMode  string
	flagFetcherConfig  string
	flagDebugLogs      bool
)

// -----------------------------------------------------------------------
// Root command
// -----------------------------------------------------------------------

var rootCmd = &cobra.Command{
	Use:   "proxywhirl",
	Short: "HTTP proxy rotation engine with pluggable selection strategies",
	Long: `proxywhirl — forwards application-level HTTP requests through a pool of
upstream HTTP/HTTPS/SOCKS proxies, picking one per request via a pluggable
strategy (round-robin, random, weighted, least-used, performance-based,
session-sticky, geo-targeted, or a composite of these) and failing over to
another proxy on transport failure.

It does not run a CONNECT listener — callers submit requests through the
REST API (POST /api/v1/request) or the Go API (Rotator.Forward) directly.
`,
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.Flags()

	f.StringVarP(&flagConfigPath, "config", "c", "", "Path to a YAML/TOML/JSON config file (optional; env vars and defaults always apply)")
	f.StringVarP(&flagListen, "listen", "l", "", "REST API listen address (overrides config)")
	f.StringVar(&flagStrategy, "strategy", "", "Initial selection strategy name (overrides config)")
	f.StringVar(&flagRedisAddr, "redis-addr", "", "Redis address for the shared rate-limit store (overrides config); with no address set, an in-memory store is used")
	f.StringVar(&flagRateLimitMode, "rate-limit-fail-mode", "", "fail_open or fail_closed on rate-limit store error (overrides config)")
	f.StringVar(&flagFetcherConfig, "fetcher-config", "", "Path to the fetcher source list config (optional)")
	f.BoolVar(&flagDebugLogs, "debug", false, "Enable development-mode structured logging")
}

// -----------------------------------------------------------------------
// Main run logic
// -----------------------------------------------------------------------

func run(_ *cobra.Command, _ []string) error {
	log, err := logging.New(flagDebugLogs)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(&cfg)

	p := pool.New(0)

	registry := strategy.Default()
	strat, err := registry.Get(cfg.DefaultStrategy, nil)
	if err != nil {
		return fmt.Errorf("init strategy %q: %w", cfg.DefaultStrategy, err)
	}

	rot := rotator.New(p, strat, rotator.Config{
		MaxRetries: cfg.RotatorMaxRetries,
		ReqTimeout: cfg.RotatorReqTimeout,
	}, log)

	limiter, tier := buildRateLimiter(cfg)
	if limiter != nil {
		rot.AttachRateLimiter(limiter, tier)
	}

	val := validator.New(validator.Config{
		ProbeURL:    cfg.ValidatorProbeURL,
		Timeout:     cfg.ValidatorTimeout,
		Concurrency: cfg.ValidatorConcurrency,
	})

	probeLevel := validator.BASIC
	switch cfg.MonitorProbeLevel {
	case "standard":
		probeLevel = validator.STANDARD
	case "full":
		probeLevel = validator.FULL
	}
	mon := monitor.New(p, val, monitor.Config{
		CheckInterval:    cfg.MonitorCheckInterval,
		FailureThreshold: cfg.MonitorFailureThreshold,
		ConcurrencyCap:   cfg.MonitorConcurrencyCap,
		ProbeLevel:       probeLevel,
		EvictionHandler: func(ep pool.Endpoint) {
			log.Info("evicted dead proxy", zap.String("endpoint", ep.String()))
		},
	}, log)
	mon.Start()
	defer mon.Stop()

	var fetch *fetcher.Fetcher
	fetchCtx, cancelFetch := context.WithCancel(context.Background())
	defer cancelFetch()
	if flagFetcherConfig != "" {
		fetch = fetcher.New(fetcher.DefaultConfig())
		if err := loadFetcherSources(flagFetcherConfig, fetch); err != nil {
			return fmt.Errorf("load fetcher sources: %w", err)
		}
		go runFetchLoop(fetchCtx, fetch, val, p, log)
	}

	api := httpapi.New(httpapi.Deps{
		Pool:      p,
		Rotator:   rot,
		Validator: val,
		Fetcher:   fetch,
		Registry:  registry,
		Limiter:   limiter,
		Tier:      tier,
		Log:       log,
	})

	listenAddr := cfg.ListenAddr
	srv := &httpServer{addr: listenAddr, handler: api.Handler()}

	log.Info("starting proxywhirl",
		zap.String("version", version),
		zap.String("listen_addr", listenAddr),
		zap.String("strategy", cfg.DefaultStrategy))

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-srvErr:
		if err != nil {
			log.Error("http server stopped", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.stop(ctx)
}

func applyFlagOverrides(cfg *config.Config) {
	if flagListen != "" {
		cfg.ListenAddr = flagListen
	}
	if flagStrategy != "" {
		cfg.DefaultStrategy = flagStrategy
	}
	if flagRateLimitMode != "" {
		cfg.RateLimitFailMode = flagRateLimitMode
	}
	if flagRedisAddr != "" {
		cfg.RateLimitStoreDSN = flagRedisAddr
	}
}

func buildRateLimiter(cfg config.Config) (*ratelimit.Limiter, ratelimit.Tier) {
	var store ratelimit.Store
	if cfg.RateLimitStoreDSN != "" {
		store = newRedisStoreFromDSN(cfg.RateLimitStoreDSN)
	} else {
		store = ratelimit.NewMemStore()
	}

	failMode := ratelimit.FailClosed
	if cfg.RateLimitFailMode == string(ratelimit.FailOpen) {
		failMode = ratelimit.FailOpen
	}

	limiter := ratelimit.New(store, failMode, cfg.RateLimitWhitelist)

	tier := ratelimit.Tier{Name: "default", Limit: 100, Window: time.Minute}
	if t, ok := cfg.RateLimitTiers["default"]; ok {
		tier = t
	}
	return limiter, tier
}
