// Package config resolves the process configuration exactly once, from
// defaults, an optional YAML config file, an optional env file, and
// POSSUMCTL_* environment variables (highest precedence).
//
// The resolved Config is a plain value handed into constructors; nothing
// re-reads configuration mid-loop.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	CANFAR       CANFARConfig       `mapstructure:"canfar"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	Supervise    SuperviseConfig    `mapstructure:"supervise"`
	Watch        WatchConfig        `mapstructure:"watch"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// CANFARConfig configures the session service client.
type CANFARConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// OrchestratorConfig configures the orchestrator API client.
type OrchestratorConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	AuthKey string        `mapstructure:"auth_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ReconcileConfig configures reconciliation passes.
type ReconcileConfig struct {
	Limit         int      `mapstructure:"limit"`
	TagFilter     []string `mapstructure:"tag_filter"`
	MissThreshold int      `mapstructure:"miss_threshold"`
	StateDir      string   `mapstructure:"state_dir"`
}

// SuperviseConfig configures job supervision.
type SuperviseConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxRetries     int           `mapstructure:"max_retries"`
	PollErrorLimit int           `mapstructure:"poll_error_limit"`
}

// WatchConfig configures the periodic reconcile loop.
type WatchConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	MaxPending int           `mapstructure:"max_pending"`
	Listen     string        `mapstructure:"listen"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load resolves configuration. configFile may be empty; envFile is loaded if
// it exists (the historical config.env convention) and never overrides
// variables already set in the environment.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POSSUMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("canfar.base_url", "https://ws-uv.canfar.net/skaha/v0")
	v.SetDefault("canfar.token", "")
	v.SetDefault("canfar.timeout", "30s")
	v.SetDefault("canfar.rate_limit", 0.0)

	v.SetDefault("orchestrator.api_url", "http://127.0.0.1:4200/api")
	v.SetDefault("orchestrator.auth_key", "")
	v.SetDefault("orchestrator.timeout", "30s")

	v.SetDefault("reconcile.limit", 200)
	v.SetDefault("reconcile.miss_threshold", 1)
	v.SetDefault("reconcile.state_dir", defaultStateDir())

	v.SetDefault("supervise.poll_interval", "60s")
	v.SetDefault("supervise.max_retries", 2)
	v.SetDefault("supervise.poll_error_limit", 5)

	v.SetDefault("watch.interval", "10m")
	v.SetDefault("watch.max_pending", 10)
	v.SetDefault("watch.listen", "")

	v.SetDefault("logging.level", "info")
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".possumctl"
	}
	return filepath.Join(home, ".possumctl")
}
