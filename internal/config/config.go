package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// EnvPrefix prefixes environment overrides, e.g. BACKOFFICE_SERVER_PORT.
const EnvPrefix = "BACKOFFICE"

// Config is the top-level back office configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host" mapstructure:"host"`
	Port            int        `yaml:"port" mapstructure:"port"`
	MaxBodySize     int64      `yaml:"max_body_size" mapstructure:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors" mapstructure:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins" mapstructure:"origins"`
}

// AuthConfig controls credential handling.
type AuthConfig struct {
	SessionHeader   string `yaml:"session_header" mapstructure:"session_header"`
	APIKeyHeader    string `yaml:"api_key_header" mapstructure:"api_key_header"`
	LoginSessionTTL string `yaml:"login_session_ttl" mapstructure:"login_session_ttl"`
	PruneSchedule   string `yaml:"prune_schedule" mapstructure:"prune_schedule"`
	TimingHardening bool   `yaml:"timing_hardening" mapstructure:"timing_hardening"`
	BcryptCost      int    `yaml:"bcrypt_cost" mapstructure:"bcrypt_cost"`
}

// DatabaseConfig selects the credential store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" mapstructure:"driver"`
	DSN             string `yaml:"dsn" mapstructure:"dsn"`
	DataDir         string `yaml:"data_dir" mapstructure:"data_dir"`
	MaxOpenConns    int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     1 << 20,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Auth: AuthConfig{
			SessionHeader:   "X-Session-Token",
			APIKeyHeader:    "X-Admin-Key",
			LoginSessionTTL: "168h",
			PruneSchedule:   "@every 15m",
			TimingHardening: true,
			BcryptCost:      12,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: "5m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Bind registers every key with its default and enables environment
// overrides on v, so Unmarshal sees env-only values too.
func Bind(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.cors.origins", d.Server.CORS.Origins)

	v.SetDefault("auth.session_header", d.Auth.SessionHeader)
	v.SetDefault("auth.api_key_header", d.Auth.APIKeyHeader)
	v.SetDefault("auth.login_session_ttl", d.Auth.LoginSessionTTL)
	v.SetDefault("auth.prune_schedule", d.Auth.PruneSchedule)
	v.SetDefault("auth.timing_hardening", d.Auth.TimingHardening)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.data_dir", d.Database.DataDir)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the settings held by v (file, env and flag overrides on top
// of the defaults registered by Bind) and validates them.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field that is parsed later and reports all
// problems at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout: %w", err))
	}

	if c.Auth.SessionHeader == "" || c.Auth.APIKeyHeader == "" {
		errs = append(errs, errors.New("auth: session_header and api_key_header are required"))
	} else if strings.EqualFold(c.Auth.SessionHeader, c.Auth.APIKeyHeader) {
		errs = append(errs, errors.New("auth: session_header and api_key_header must differ"))
	}
	if _, err := time.ParseDuration(c.Auth.LoginSessionTTL); err != nil {
		errs = append(errs, fmt.Errorf("auth.login_session_ttl: %w", err))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost: %d outside [%d, %d]", c.Auth.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.Auth.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.Auth.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("auth.prune_schedule: %w", err))
		}
	}

	switch c.Database.Driver {
	case "sqlite":
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if c.Database.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
			errs = append(errs, fmt.Errorf("database.conn_max_lifetime: %w", err))
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ShutdownTimeoutDuration returns the parsed server shutdown timeout.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(s.ShutdownTimeout)
	return d
}

// LoginTTL returns the parsed login session lifetime.
func (a AuthConfig) LoginTTL() time.Duration {
	d, _ := time.ParseDuration(a.LoginSessionTTL)
	return d
}

// Lifetime returns the parsed connection lifetime, zero when unset.
func (d DatabaseConfig) Lifetime() time.Duration {
	out, _ := time.ParseDuration(d.ConnMaxLifetime)
	return out
}

// SlogLevel parses Level as a slog level name.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}
