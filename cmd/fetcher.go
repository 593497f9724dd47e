package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wyattowalsh/proxywhirl/internal/fetcher"
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/validator"
)

// fetcherIngestInterval is how often the background loop below re-queries
// every registered source and folds new candidates into the pool. Not
// user-configurable today — spec's fetcher model leaves this to caller
// policy, and 5 minutes is a reasonable default for list-provider churn.
const fetcherIngestInterval = 5 * time.Minute

// loadFetcherSources reads a YAML/TOML/JSON file describing named fetch
// sources into the shape fetcher.Source expects and registers each one.
func loadFetcherSources(path string, f *fetcher.Fetcher) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read fetcher config %s: %w", path, err)
	}

	var wrapper struct {
		Sources []fetcher.Source `mapstructure:"sources"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return fmt.Errorf("unmarshal fetcher config: %w", err)
	}
	for _, s := range wrapper.Sources {
		f.AddSource(s)
	}
	return nil
}

// runFetchLoop periodically calls FetchAll, BASIC-validates every new
// candidate, and adds the ones that pass to the pool. Candidates already
// present (same host:port) are rejected by Pool.Add's dedup check, which is
// treated as expected steady-state noise rather than an error worth logging.
func runFetchLoop(ctx context.Context, f *fetcher.Fetcher, val *validator.Validator, p *pool.Pool, log *zap.Logger) {
	log = log.Named("fetcher")
	ticker := time.NewTicker(fetcherIngestInterval)
	defer ticker.Stop()

	ingestOnce(ctx, f, val, p, log)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ingestOnce(ctx, f, val, p, log)
		}
	}
}

func ingestOnce(ctx context.Context, f *fetcher.Fetcher, val *validator.Validator, p *pool.Pool, log *zap.Logger) {
	candidates := f.FetchAll(ctx)
	added := 0
	for _, c := range candidates {
		px := pool.NewProxy(pool.Endpoint{Scheme: c.Scheme, Host: c.Host, Port: c.Port}, nil, "", "", c.SourceTag, 0)
		res := val.Validate(ctx, px, validator.BASIC)
		if !res.Success {
			continue
		}
		if err := p.Add(px); err != nil {
			continue
		}
		added++
	}
	log.Info("fetch ingest complete", zap.Int("candidates", len(candidates)), zap.Int("added", added))
}
