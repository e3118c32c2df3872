// Package config loads service settings from .env files, an optional
// config file and CHALLENGEZONE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "CHALLENGEZONE"

// MemoryDSN selects the in-memory store.
const MemoryDSN = "memory"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	DSN       string        `mapstructure:"dsn"`
	SlowQuery time.Duration `mapstructure:"slow_query"`
}

type AuthConfig struct {
	TokenSecret   string        `mapstructure:"token_secret"`
	TokenIssuer   string        `mapstructure:"token_issuer"`
	SessionSecret string        `mapstructure:"session_secret"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	LoginRPS      float64       `mapstructure:"login_rps"`
	LoginBurst    int           `mapstructure:"login_burst"`
}

type AppConfig struct {
	DebugEvents       bool          `mapstructure:"debug_events"`
	EventHistoryLimit int           `mapstructure:"event_history_limit"`
	AutoRefresh       bool          `mapstructure:"auto_refresh"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval"`
	EventStarted      bool          `mapstructure:"event_started"`
	SessionWait       time.Duration `mapstructure:"session_wait"`
	BackendTimeout    time.Duration `mapstructure:"backend_timeout"`
	AdminUsernames    []string      `mapstructure:"admin_usernames"`
	HostUsername      string        `mapstructure:"host_username"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{
			DSN:       MemoryDSN,
			SlowQuery: 200 * time.Millisecond,
		},
		Auth: AuthConfig{
			TokenIssuer: "challengezone-otp",
			SessionTTL:  7 * 24 * time.Hour,
			LoginRPS:    1,
			LoginBurst:  5,
		},
		App: AppConfig{
			EventHistoryLimit: 100,
			AutoRefresh:       true,
			RefreshInterval:   30 * time.Second,
			SessionWait:       5 * time.Second,
			BackendTimeout:    10 * time.Second,
			AdminUsernames:    []string{"brianc"},
			HostUsername:      "brianc",
		},
		Log: LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.slow_query", d.Database.SlowQuery)

	v.SetDefault("auth.token_secret", d.Auth.TokenSecret)
	v.SetDefault("auth.token_issuer", d.Auth.TokenIssuer)
	v.SetDefault("auth.session_secret", d.Auth.SessionSecret)
	v.SetDefault("auth.cookie_secure", d.Auth.CookieSecure)
	v.SetDefault("auth.session_ttl", d.Auth.SessionTTL)
	v.SetDefault("auth.login_rps", d.Auth.LoginRPS)
	v.SetDefault("auth.login_burst", d.Auth.LoginBurst)

	v.SetDefault("app.debug_events", d.App.DebugEvents)
	v.SetDefault("app.event_history_limit", d.App.EventHistoryLimit)
	v.SetDefault("app.auto_refresh", d.App.AutoRefresh)
	v.SetDefault("app.refresh_interval", d.App.RefreshInterval)
	v.SetDefault("app.event_started", d.App.EventStarted)
	v.SetDefault("app.session_wait", d.App.SessionWait)
	v.SetDefault("app.backend_timeout", d.App.BackendTimeout)
	v.SetDefault("app.admin_usernames", d.App.AdminUsernames)
	v.SetDefault("app.host_username", d.App.HostUsername)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Load reads .env (if present), then file (if non-empty), then the
// environment. The result is validated.
func Load(file string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var ErrInvalid = errors.New("invalid config")

func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Auth.TokenSecret == "" {
		errs = append(errs, errors.New("auth.token_secret is required"))
	}
	if c.Auth.SessionSecret == "" {
		errs = append(errs, errors.New("auth.session_secret is required"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	if c.Auth.LoginRPS <= 0 || c.Auth.LoginBurst <= 0 {
		errs = append(errs, errors.New("auth.login_rps and auth.login_burst must be positive"))
	}
	if c.App.RefreshInterval <= 0 {
		errs = append(errs, errors.New("app.refresh_interval must be positive"))
	}
	if c.App.SessionWait <= 0 {
		errs = append(errs, errors.New("app.session_wait must be positive"))
	}
	if c.App.BackendTimeout <= 0 {
		errs = append(errs, errors.New("app.backend_timeout must be positive"))
	}
	if c.App.EventHistoryLimit < 0 {
		errs = append(errs, errors.New("app.event_history_limit must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// MemoryStore reports whether the in-memory store is selected.
func (c Config) MemoryStore() bool { return c.Database.DSN == MemoryDSN }
