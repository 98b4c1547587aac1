package config

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Stored   StoredConfig   `yaml:"stored" mapstructure:"stored"`
	Scorer   ScorerConfig   `yaml:"scorer" mapstructure:"scorer"`
	Exchange ExchangeConfig `yaml:"exchange" mapstructure:"exchange"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Driver      string          `yaml:"driver" mapstructure:"driver"`
	DataDir     string          `yaml:"data_dir" mapstructure:"data_dir"`
	RemoteAddr  string          `yaml:"remote_addr" mapstructure:"remote_addr"`
	DisableTLS  bool            `yaml:"disable_tls" mapstructure:"disable_tls"`
	SQLitePath  string          `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DatabaseURL string          `yaml:"database_url" mapstructure:"database_url"`
	Firestore   FirestoreConfig `yaml:"firestore" mapstructure:"firestore"`
}

// FirestoreConfig holds the Google Cloud project and optional service account file.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// StoredConfig configures the store daemon.
type StoredConfig struct {
	Port       int  `yaml:"port" mapstructure:"port"`
	DisableTLS bool `yaml:"disable_tls" mapstructure:"disable_tls"`
}

// ScorerConfig describes the external scoring command.
type ScorerConfig struct {
	Command        string        `yaml:"command" mapstructure:"command"`
	Args           []string      `yaml:"args" mapstructure:"args"`
	Dir            string        `yaml:"dir" mapstructure:"dir"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxOutputBytes int64         `yaml:"max_output_bytes" mapstructure:"max_output_bytes"`
}

// ExchangeConfig configures the recommendation exchange.
type ExchangeConfig struct {
	// Concurrency is "shared" (overlapping calls join one run) or "concurrent".
	Concurrency string `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

var (
	drivers          = []string{"memory", "embedded", "remote", "sqlite", "postgres", "firestore"}
	concurrencyModes = []string{"shared", "concurrent"}
)

// Load reads configuration from config.yaml (optional) and CARBON_* environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CARBON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "embedded")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("store.remote_addr", "")
	v.SetDefault("store.disable_tls", false)
	v.SetDefault("store.sqlite_path", "./data/carbon.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.firestore.project_id", "")
	v.SetDefault("store.firestore.credentials_file", "")
	v.SetDefault("server.port", 7002)
	v.SetDefault("stored.port", 7001)
	v.SetDefault("stored.disable_tls", false)
	v.SetDefault("scorer.command", "carbon-scorer")
	v.SetDefault("scorer.args", []string{})
	v.SetDefault("scorer.dir", "")
	v.SetDefault("scorer.timeout", "60s")
	v.SetDefault("scorer.max_output_bytes", 16<<20)
	v.SetDefault("exchange.concurrency", "shared")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values no component could act on.
func (c *Config) Validate() error {
	if !slices.Contains(drivers, c.Store.Driver) {
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if !slices.Contains(concurrencyModes, c.Exchange.Concurrency) {
		return eris.Errorf("config: unknown exchange.concurrency %q", c.Exchange.Concurrency)
	}
	if c.Scorer.Command == "" {
		return eris.New("config: scorer.command is required")
	}
	if c.Scorer.Timeout < 0 {
		return eris.New("config: scorer.timeout must not be negative")
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "firestore":
		if c.Store.Firestore.ProjectID == "" {
			return eris.New("config: store.firestore.project_id is required for the firestore driver")
		}
	case "remote":
		if c.Store.RemoteAddr == "" {
			return eris.New("config: store.remote_addr is required for the remote driver")
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
