// Package config loads seekd configuration from a YAML file and
// SEEKD_* environment variables, with defaults for everything.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nvoss/seekd/internal/retry"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Runner  RunnerConfig  `mapstructure:"runner"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data-dir"`
}

// RetryConfig is the externally recognized retry policy surface.
// Error classification is supplied in code, not configuration.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max-attempts"`
	BaseDelay         time.Duration `mapstructure:"base-delay"`
	MaxDelay          time.Duration `mapstructure:"max-delay"`
	ExponentialFactor float64       `mapstructure:"exponential-factor"`
	Jitter            bool          `mapstructure:"jitter"`
	JitterFactor      float64       `mapstructure:"jitter-factor"`
	Strategy          string        `mapstructure:"strategy"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure-threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery-timeout"`
}

type RunnerConfig struct {
	PollInterval time.Duration `mapstructure:"poll-interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.data-dir", defaultDataDir())

	v.SetDefault("retry.max-attempts", 3)
	v.SetDefault("retry.base-delay", time.Second)
	v.SetDefault("retry.max-delay", 60*time.Second)
	v.SetDefault("retry.exponential-factor", 2.0)
	v.SetDefault("retry.jitter", true)
	v.SetDefault("retry.jitter-factor", 0.1)
	v.SetDefault("retry.strategy", string(retry.StrategyExponential))

	v.SetDefault("breaker.failure-threshold", 5)
	v.SetDefault("breaker.recovery-timeout", 60*time.Second)

	v.SetDefault("runner.poll-interval", 500*time.Millisecond)
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "seekd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "seekd")
}

// Load unmarshals configuration from v after applying defaults and
// SEEKD_* environment overrides, and validates the retry settings.
func Load(v *viper.Viper) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("SEEKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if _, err := retry.ParseStrategy(cfg.Retry.Strategy); err != nil {
		return Config{}, err
	}
	if cfg.Retry.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("retry.max-attempts must be >= 1, got %d", cfg.Retry.MaxAttempts)
	}

	return cfg, nil
}

// Policy converts the configured retry options into a retry.Policy.
// The classifier is left to the caller.
func (c RetryConfig) Policy() (retry.Policy, error) {
	strategy, err := retry.ParseStrategy(c.Strategy)
	if err != nil {
		return retry.Policy{}, err
	}
	return retry.Policy{
		MaxAttempts:  c.MaxAttempts,
		BaseDelay:    c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		Factor:       c.ExponentialFactor,
		Jitter:       c.Jitter,
		JitterFactor: c.JitterFactor,
		Strategy:     strategy,
	}, nil
}
