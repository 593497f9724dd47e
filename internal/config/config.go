// Package config loads ProxyWhirl's tunables — retry/dial/monitor
// intervals, strategy defaults, rate-limit tiers, and the fetcher source
// list — layering environment variables over an optional config file over
// built-in defaults, the way a cobra+viper CLI conventionally does. File
// parsing for encrypted-at-rest credentials is out of scope; Config only
// ever surfaces already-decrypted plain values to the core.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wyattowalsh/proxywhirl/internal/ratelimit"
)

// Config is the fully-resolved set of tunables handed to the core on
// startup.
type Config struct {
	// Rotator
	RotatorMaxRetries int           `mapstructure:"rotator_max_retries"`
	RotatorReqTimeout time.Duration `mapstructure:"rotator_req_timeout"`

	// Monitor
	MonitorCheckInterval    time.Duration `mapstructure:"monitor_check_interval"`
	MonitorFailureThreshold int64         `mapstructure:"monitor_failure_threshold"`
	MonitorConcurrencyCap   int           `mapstructure:"monitor_concurrency_cap"`
	MonitorProbeLevel       string        `mapstructure:"monitor_probe_level"`

	// Validator
	ValidatorProbeURL    string        `mapstructure:"validator_probe_url"`
	ValidatorTimeout     time.Duration `mapstructure:"validator_timeout"`
	ValidatorConcurrency int           `mapstructure:"validator_concurrency"`

	// Strategy
	DefaultStrategy string `mapstructure:"default_strategy"`

	// Rate limiter
	RateLimitStoreDSN string                     `mapstructure:"rate_limit_store_dsn"`
	RateLimitFailMode string                     `mapstructure:"rate_limit_fail_mode"`
	RateLimitWhitelist []string                  `mapstructure:"rate_limit_whitelist"`
	RateLimitTiers     map[string]ratelimit.Tier `mapstructure:"-"`

	// Fetcher
	FetcherSourceConfigPath string `mapstructure:"fetcher_source_config_path"`

	// REST adapter
	ListenAddr string `mapstructure:"listen_addr"`
}

// Defaults mirrors the built-in values every component's own DefaultConfig
// already provides, so config.Load never needs the core packages to agree
// with it independently.
func Defaults() Config {
	return Config{
		RotatorMaxRetries:       3,
		RotatorReqTimeout:       10 * time.Second,
		MonitorCheckInterval:    30 * time.Second,
		MonitorFailureThreshold: 5,
		MonitorConcurrencyCap:   20,
		MonitorProbeLevel:       "basic",
		ValidatorProbeURL:       "http://httpbin.org/headers",
		ValidatorTimeout:        5 * time.Second,
		ValidatorConcurrency:    50,
		DefaultStrategy:         "round-robin",
		RateLimitFailMode:       string(ratelimit.FailClosed),
		ListenAddr:              "127.0.0.1:8080",
	}
}

// Load layers (in increasing priority): built-in defaults, a config file at
// path (if non-empty), then PROXYWHIRL_-prefixed environment variables. An
// empty path skips the file layer entirely; a non-empty path that cannot be
// read or parsed is an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("proxywhirl")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("rotator_max_retries", defaults.RotatorMaxRetries)
	v.SetDefault("rotator_req_timeout", defaults.RotatorReqTimeout)
	v.SetDefault("monitor_check_interval", defaults.MonitorCheckInterval)
	v.SetDefault("monitor_failure_threshold", defaults.MonitorFailureThreshold)
	v.SetDefault("monitor_concurrency_cap", defaults.MonitorConcurrencyCap)
	v.SetDefault("monitor_probe_level", defaults.MonitorProbeLevel)
	v.SetDefault("validator_probe_url", defaults.ValidatorProbeURL)
	v.SetDefault("validator_timeout", defaults.ValidatorTimeout)
	v.SetDefault("validator_concurrency", defaults.ValidatorConcurrency)
	v.SetDefault("default_strategy", defaults.DefaultStrategy)
	v.SetDefault("rate_limit_fail_mode", defaults.RateLimitFailMode)
	v.SetDefault("listen_addr", defaults.ListenAddr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.RateLimitTiers = loadTiers(v)
	return cfg, nil
}

// loadTiers reads the "rate_limit_tiers" table, keyed by tier name, into
// ratelimit.Tier values. Absent entirely, no error — the caller falls back
// to a single default tier.
func loadTiers(v *viper.Viper) map[string]ratelimit.Tier {
	raw := v.GetStringMap("rate_limit_tiers")
	if len(raw) == 0 {
		return nil
	}
	tiers := make(map[string]ratelimit.Tier, len(raw))
	for name := range raw {
		prefix := "rate_limit_tiers." + name + "."
		tiers[name] = ratelimit.Tier{
			Name:   name,
			Limit:  v.GetInt(prefix + "limit"),
			Window: v.GetDuration(prefix + "window"),
		}
	}
	return tiers
}
