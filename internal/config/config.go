// Package config loads the agent's runtime configuration by layering
// defaults, an optional config file, and environment variables.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of runtime parameters the composition root needs.
type Config struct {
	ServerURL      string `mapstructure:"server_url"`
	APIURL         string `mapstructure:"api_url"`
	DataDir        string `mapstructure:"data_dir"`
	InstallDir     string `mapstructure:"install_dir"`
	UpdaterBinary  string `mapstructure:"updater_binary"`
	CurrentVersion string `mapstructure:"current_version"`
	LogLevel       string `mapstructure:"log_level"`

	MinBackoff  time.Duration `mapstructure:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	MaxAttempts int           `mapstructure:"max_attempts"`

	QueueCapacity int           `mapstructure:"queue_capacity"`
	Workers       int           `mapstructure:"workers"`
	GlobalTimeout time.Duration `mapstructure:"global_timeout"`

	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`
}

// Load builds a Config from defaults, an optional file at configPath (if
// non-empty), and environment variables prefixed SENTINEL_AGENT_ (e.g.
// SENTINEL_AGENT_SERVER_URL). Command-line flags are not read here; the
// caller applies any flag overrides to the returned Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("sentinel_agent")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "wss://localhost:8443/v1/agent/session")
	v.SetDefault("api_url", "https://localhost:8443")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("install_dir", defaultInstallDir())
	v.SetDefault("updater_binary", "updater")
	v.SetDefault("current_version", "dev")
	v.SetDefault("log_level", "info")

	v.SetDefault("min_backoff", "1s")
	v.SetDefault("max_backoff", "60s")
	v.SetDefault("max_attempts", -1) // unbounded

	v.SetDefault("queue_capacity", 256)
	v.SetDefault("workers", 4)
	v.SetDefault("global_timeout", "5m")

	v.SetDefault("telemetry_interval", "30s")
}
