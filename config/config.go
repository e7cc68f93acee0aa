// Package config loads the YAML configuration of the task launchers.
//
// Every key can be overridden from the environment with the REMOTEOBJ prefix,
// dots replaced by underscores: REMOTEOBJ_SERVER_PORT=6000.
package config

import (
	stderrors "errors"
	"net"
	"os"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/viper"

	"remoteobj/codec"
	"remoteobj/transport"
)

// Config is the root configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	Store  StoreConfig  `mapstructure:"store"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// ServerConfig configures the task service.
type ServerConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Lossy    bool          `mapstructure:"lossy"`
	Delayed  bool          `mapstructure:"delayed"`
	LossRate float64       `mapstructure:"loss_rate"`
	MaxDelay time.Duration `mapstructure:"max_delay"`

	// MaxWorkers caps concurrent calls; 0 is unlimited.
	MaxWorkers int `mapstructure:"max_workers"`
	// RateLimit is calls per second; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// CallTimeout bounds each dispatched call; 0 disables it.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	// MetricsAddr serves /metrics when set, e.g. ":9090".
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// ClientConfig configures the interactive client.
type ClientConfig struct {
	Address string        `mapstructure:"address"`
	Lossy   bool          `mapstructure:"lossy"`
	Delayed bool          `mapstructure:"delayed"`
	Codec   string        `mapstructure:"codec"`
	Backoff time.Duration `mapstructure:"backoff"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects where tasks are kept.
type StoreConfig struct {
	// Kind: memory or etcd
	Kind        string        `mapstructure:"kind"`
	Endpoints   []string      `mapstructure:"endpoints"`
	Prefix      string        `mapstructure:"prefix"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      5000,
			LossRate:  transport.DefaultLossRate,
			MaxDelay:  transport.DefaultMaxDelay,
			RateBurst: 10,
		},
		Client: ClientConfig{
			Address: "localhost:5000",
			Codec:   codec.CodecTypeJSON.String(),
			Backoff: time.Second,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Kind:        "memory",
			Endpoints:   []string{"localhost:2379"},
			Prefix:      "/remoteobj/tasks",
			DialTimeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from path, or from REMOTEOBJ_CONFIG, or from
// remoteobj.yaml in the working directory or ./configs. A missing file is not
// an error; defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REMOTEOBJ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv("REMOTEOBJ_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("remoteobj")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.Annotate(err, "read config")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Annotate(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

// setDefaults seeds viper so that env-only configurations work.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.lossy", cfg.Server.Lossy)
	v.SetDefault("server.delayed", cfg.Server.Delayed)
	v.SetDefault("server.loss_rate", cfg.Server.LossRate)
	v.SetDefault("server.max_delay", cfg.Server.MaxDelay)
	v.SetDefault("server.max_workers", cfg.Server.MaxWorkers)
	v.SetDefault("server.rate_limit", cfg.Server.RateLimit)
	v.SetDefault("server.rate_burst", cfg.Server.RateBurst)
	v.SetDefault("server.call_timeout", cfg.Server.CallTimeout)
	v.SetDefault("server.metrics_addr", cfg.Server.MetricsAddr)

	v.SetDefault("client.address", cfg.Client.Address)
	v.SetDefault("client.lossy", cfg.Client.Lossy)
	v.SetDefault("client.delayed", cfg.Client.Delayed)
	v.SetDefault("client.codec", cfg.Client.Codec)
	v.SetDefault("client.backoff", cfg.Client.Backoff)
	v.SetDefault("client.timeout", cfg.Client.Timeout)

	v.SetDefault("store.kind", cfg.Store.Kind)
	v.SetDefault("store.endpoints", cfg.Store.Endpoints)
	v.SetDefault("store.prefix", cfg.Store.Prefix)
	v.SetDefault("store.dial_timeout", cfg.Store.DialTimeout)
}

// Validate checks the configuration and normalizes its enumerations.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NotValidf("log.level %q", c.Log.Level)
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "console"
	case "console", "json":
	default:
		return errors.NotValidf("log.format %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.NotValidf("server.port %d", c.Server.Port)
	}
	if c.Server.LossRate < 0 || c.Server.LossRate > 1 {
		return errors.NotValidf("server.loss_rate %v", c.Server.LossRate)
	}
	if c.Server.MaxWorkers < 0 {
		return errors.NotValidf("server.max_workers %d", c.Server.MaxWorkers)
	}
	if c.Server.RateLimit < 0 {
		return errors.NotValidf("server.rate_limit %v", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return errors.NotValidf("server.rate_burst %d", c.Server.RateBurst)
	}

	if _, _, err := net.SplitHostPort(c.Client.Address); err != nil {
		return errors.NewNotValid(err, "client.address "+c.Client.Address)
	}
	if _, err := c.Client.CodecType(); err != nil {
		return errors.Trace(err)
	}

	c.Store.Kind = strings.ToLower(strings.TrimSpace(c.Store.Kind))
	switch c.Store.Kind {
	case "", "memory":
		c.Store.Kind = "memory"
	case "etcd":
		if len(c.Store.Endpoints) == 0 {
			return errors.NotValidf("empty store.endpoints for etcd")
		}
	default:
		return errors.NotValidf("store.kind %q", c.Store.Kind)
	}
	return nil
}

// CodecType resolves the configured codec name.
func (c ClientConfig) CodecType() (codec.CodecType, error) {
	t, err := codec.ParseCodecType(c.Codec)
	if err != nil {
		return 0, errors.NewNotValid(err, "client.codec")
	}
	return t, nil
}

// Transport returns the channel options for the service.
func (s ServerConfig) Transport() transport.Options {
	return transport.Options{
		Lossy:    s.Lossy,
		Delayed:  s.Delayed,
		Loss:     transport.RandomLoss(s.LossRate),
		MaxDelay: s.MaxDelay,
	}
}
