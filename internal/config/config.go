// Package config loads shotread settings from file, environment and flags
// through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/internal/session"
	"github.com/psantana5/shotread/pkg/models"
)

// EnvPrefix prefixes every environment override, e.g. SHOTREAD_SESSION_LENGTH
const EnvPrefix = "SHOTREAD"

// Config is the full application configuration
type Config struct {
	Player  PlayerConfig  `mapstructure:"player" yaml:"player" json:"player"`
	Session SessionConfig `mapstructure:"session" yaml:"session" json:"session"`
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog" json:"catalog"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
}

type PlayerConfig struct {
	Driver            string        `mapstructure:"driver" yaml:"driver" json:"driver"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	InitRetryInterval time.Duration `mapstructure:"init_retry_interval" yaml:"init_retry_interval" json:"init_retry_interval"`
	InitMaxAttempts   int           `mapstructure:"init_max_attempts" yaml:"init_max_attempts" json:"init_max_attempts"`
	StopGrace         time.Duration `mapstructure:"stop_grace" yaml:"stop_grace" json:"stop_grace"`
	MPV               MPVConfig     `mapstructure:"mpv" yaml:"mpv" json:"mpv"`
	Sim               SimConfig     `mapstructure:"sim" yaml:"sim" json:"sim"`
}

type MPVConfig struct {
	Binary      string   `mapstructure:"binary" yaml:"binary" json:"binary"`
	SocketDir   string   `mapstructure:"socket_dir" yaml:"socket_dir" json:"socket_dir"`
	URLTemplate string   `mapstructure:"url_template" yaml:"url_template" json:"url_template"`
	ExtraArgs   []string `mapstructure:"extra_args" yaml:"extra_args" json:"extra_args"`
}

type SimConfig struct {
	Speed      float64       `mapstructure:"speed" yaml:"speed" json:"speed"`
	BootDelay  time.Duration `mapstructure:"boot_delay" yaml:"boot_delay" json:"boot_delay"`
	ReadyDelay time.Duration `mapstructure:"ready_delay" yaml:"ready_delay" json:"ready_delay"`
}

type SessionConfig struct {
	Length        int           `mapstructure:"length" yaml:"length" json:"length"`
	ExtendBy      time.Duration `mapstructure:"extend_by" yaml:"extend_by" json:"extend_by"`
	BlackoutTicks int           `mapstructure:"blackout_ticks" yaml:"blackout_ticks" json:"blackout_ticks"`
	BlackoutTick  time.Duration `mapstructure:"blackout_tick" yaml:"blackout_tick" json:"blackout_tick"`
	AutoPlay      bool          `mapstructure:"autoplay" yaml:"autoplay" json:"autoplay"`
	Level         string        `mapstructure:"level" yaml:"level" json:"level"`
}

type CatalogConfig struct {
	File string `mapstructure:"file" yaml:"file" json:"file"`
	DB   string `mapstructure:"db" yaml:"db" json:"db"`
}

type ServerConfig struct {
	Addr      string  `mapstructure:"addr" yaml:"addr" json:"addr"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst" json:"rate_burst"`
	// APIKeyHash is a bcrypt hash; empty leaves the API open
	APIKeyHash string `mapstructure:"api_key_hash" yaml:"api_key_hash" json:"api_key_hash"`
	TLSCert    string `mapstructure:"tls_cert" yaml:"tls_cert" json:"tls_cert"`
	TLSKey     string `mapstructure:"tls_key" yaml:"tls_key" json:"tls_key"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json" json:"json"`
	Dir   string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	pd := player.DefaultConfig()
	sd := session.DefaultConfig()

	v.SetDefault("player.driver", "sim")
	v.SetDefault("player.poll_interval", pd.PollInterval)
	v.SetDefault("player.init_retry_interval", pd.RetryInterval)
	v.SetDefault("player.init_max_attempts", pd.InitMaxAttempts)
	v.SetDefault("player.stop_grace", pd.StopGrace)
	v.SetDefault("player.mpv.binary", "mpv")
	v.SetDefault("player.mpv.socket_dir", os.TempDir())
	v.SetDefault("player.mpv.url_template", "https://www.youtube.com/watch?v=%s")
	v.SetDefault("player.mpv.extra_args", []string{})
	v.SetDefault("player.sim.speed", 1.0)
	v.SetDefault("player.sim.boot_delay", 200*time.Millisecond)
	v.SetDefault("player.sim.ready_delay", 300*time.Millisecond)

	v.SetDefault("session.length", sd.SessionLength)
	v.SetDefault("session.extend_by", sd.ExtendBy)
	v.SetDefault("session.blackout_ticks", sd.BlackoutTicks)
	v.SetDefault("session.blackout_tick", sd.TickInterval)
	v.SetDefault("session.autoplay", sd.AutoPlay)
	v.SetDefault("session.level", string(models.LevelStandard))

	v.SetDefault("catalog.file", "")
	v.SetDefault("catalog.db", "")

	v.SetDefault("server.addr", "127.0.0.1:8090")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.api_key_hash", "")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.dir", "")
}

// New returns a viper instance with defaults and environment binding.
// cfgFile overrides the search in ~/.shotread.
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".shotread"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file if there is one and decodes v. A missing
// file in the default search path is not an error.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the controllers cannot run with
func (c *Config) Validate() error {
	switch c.Player.Driver {
	case "sim", "mpv":
	default:
		return fmt.Errorf("unknown player driver %q (want sim or mpv)", c.Player.Driver)
	}
	positive := map[string]time.Duration{
		"player.poll_interval":       c.Player.PollInterval,
		"player.init_retry_interval": c.Player.InitRetryInterval,
		"player.stop_grace":          c.Player.StopGrace,
		"session.extend_by":          c.Session.ExtendBy,
		"session.blackout_tick":      c.Session.BlackoutTick,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Player.InitMaxAttempts < 0 {
		return fmt.Errorf("player.init_max_attempts must not be negative")
	}
	if c.Session.Length < 1 || c.Session.Length > session.MaxSessionLength {
		return fmt.Errorf("session.length must be between 1 and %d, got %d", session.MaxSessionLength, c.Session.Length)
	}
	if c.Session.BlackoutTicks < 1 {
		return fmt.Errorf("session.blackout_ticks must be at least 1")
	}
	if _, err := models.ParseLevel(c.Session.Level); err != nil {
		return err
	}
	if c.Player.Sim.Speed <= 0 {
		return fmt.Errorf("player.sim.speed must be positive")
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst < 1 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must be positive")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	return nil
}

// ManagerConfig converts to the player manager settings
func (c *Config) ManagerConfig() player.Config {
	return player.Config{
		PollInterval:    c.Player.PollInterval,
		RetryInterval:   c.Player.InitRetryInterval,
		InitMaxAttempts: c.Player.InitMaxAttempts,
		StopGrace:       c.Player.StopGrace,
	}
}

// OrchestratorConfig converts to the session settings
func (c *Config) OrchestratorConfig() session.Config {
	return session.Config{
		SessionLength: c.Session.Length,
		ExtendBy:      c.Session.ExtendBy,
		BlackoutTicks: c.Session.BlackoutTicks,
		TickInterval:  c.Session.BlackoutTick,
		AutoPlay:      c.Session.AutoPlay,
	}
}

// Level returns the configured starting level
func (c *Config) Level() models.Level {
	level, err := models.ParseLevel(c.Session.Level)
	if err != nil {
		return models.LevelStandard
	}
	return level
}
