// Package config loads process configuration from an optional YAML file
// overlaid with SCHEDULERS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the API and migrate binaries need.
type Config struct {
	Env      string          `yaml:"env"`
	HTTP     HTTPConfig      `yaml:"http"`
	GRPC     GRPCConfig      `yaml:"grpc"`
	Database DatabaseConfig  `yaml:"database"`
	Session  SessionConfig   `yaml:"session"`
	Lockout  LockoutConfig   `yaml:"lockout"`
	Password PasswordConfig  `yaml:"password"`
	Audit    AuditConfig     `yaml:"audit"`
	Logging  LoggingConfig   `yaml:"logging"`
	Boot     BootstrapConfig `yaml:"bootstrap"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	LoginRPS       float64       `yaml:"login_rps"`
	LoginBurst     int           `yaml:"login_burst"`
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy     bool          `yaml:"trust_proxy"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	CookieName    string        `yaml:"cookie_name"`
	CookieSecure  bool          `yaml:"cookie_secure"`
	Secret        string        `yaml:"secret"`
	PurgeInterval time.Duration `yaml:"purge_interval"`
}

type LockoutConfig struct {
	Threshold int           `yaml:"threshold"`
	Duration  time.Duration `yaml:"duration"`
}

type PasswordConfig struct {
	Iterations int `yaml:"iterations"`
}

type AuditConfig struct {
	// AsyncBuffer > 0 enables the queued dispatcher with that capacity.
	AsyncBuffer  int           `yaml:"async_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type BootstrapConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
	Email       string `yaml:"email"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Env: "dev",
		HTTP: HTTPConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   15 * time.Second,
			MaxBodyBytes:   1 << 20,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			LoginRPS:       1,
			LoginBurst:     10,
		},
		GRPC: GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Session: SessionConfig{
			TTL:           time.Hour,
			CookieName:    "schedulers_session",
			CookieSecure:  true,
			PurgeInterval: 10 * time.Minute,
		},
		Lockout:  LockoutConfig{Threshold: 5, Duration: 30 * time.Minute},
		Password: PasswordConfig{Iterations: 210_000},
		Audit:    AuditConfig{AsyncBuffer: 0, WriteTimeout: 3 * time.Second},
		Logging:  LoggingConfig{Level: "info"},
		Boot: BootstrapConfig{
			Enabled:     true,
			Username:    "admin",
			Password:    "admin123",
			DisplayName: "System Administrator",
			Email:       "admin@sportsschedulers.com",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// SCHEDULERS_CONFIG (if any), then environment overrides. The result is validated.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	if path, ok := lookup("SCHEDULERS_CONFIG"); ok && strings.TrimSpace(path) != "" {
		if err := c.mergeFile(strings.TrimSpace(path)); err != nil {
			return Config{}, err
		}
	}
	if err := c.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("SCHEDULERS_ENV", &c.Env)
	e.str("SCHEDULERS_HTTP_ADDR", &c.HTTP.Addr)
	e.duration("SCHEDULERS_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.duration("SCHEDULERS_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	e.int64("SCHEDULERS_MAX_BODY_BYTES", &c.HTTP.MaxBodyBytes)
	e.float("SCHEDULERS_RATE_LIMIT_RPS", &c.HTTP.RateLimitRPS)
	e.int("SCHEDULERS_RATE_LIMIT_BURST", &c.HTTP.RateLimitBurst)
	e.float("SCHEDULERS_LOGIN_RPS", &c.HTTP.LoginRPS)
	e.int("SCHEDULERS_LOGIN_BURST", &c.HTTP.LoginBurst)
	e.bool("SCHEDULERS_TRUST_PROXY", &c.HTTP.TrustProxy)
	e.str("SCHEDULERS_GRPC_ADDR", &c.GRPC.Addr)

	e.str("SCHEDULERS_PG_DSN", &c.Database.DSN)
	e.int("SCHEDULERS_PG_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	e.int("SCHEDULERS_PG_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	e.duration("SCHEDULERS_PG_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetime)
	e.bool("SCHEDULERS_AUTO_MIGRATE", &c.Database.AutoMigrate)

	e.duration("SCHEDULERS_SESSION_TTL", &c.Session.TTL)
	e.str("SCHEDULERS_SESSION_COOKIE", &c.Session.CookieName)
	e.bool("SCHEDULERS_SESSION_COOKIE_SECURE", &c.Session.CookieSecure)
	e.str("SCHEDULERS_SESSION_SECRET", &c.Session.Secret)
	e.duration("SCHEDULERS_SESSION_PURGE_INTERVAL", &c.Session.PurgeInterval)

	e.int("SCHEDULERS_LOCKOUT_THRESHOLD", &c.Lockout.Threshold)
	e.duration("SCHEDULERS_LOCKOUT_DURATION", &c.Lockout.Duration)
	e.int("SCHEDULERS_PBKDF2_ITERATIONS", &c.Password.Iterations)

	e.int("SCHEDULERS_AUDIT_ASYNC_BUFFER", &c.Audit.AsyncBuffer)
	e.duration("SCHEDULERS_AUDIT_WRITE_TIMEOUT", &c.Audit.WriteTimeout)
	e.str("SCHEDULERS_LOG_LEVEL", &c.Logging.Level)

	e.bool("SCHEDULERS_BOOTSTRAP", &c.Boot.Enabled)
	e.str("SCHEDULERS_BOOTSTRAP_USERNAME", &c.Boot.Username)
	e.str("SCHEDULERS_BOOTSTRAP_PASSWORD", &c.Boot.Password)
	e.str("SCHEDULERS_BOOTSTRAP_EMAIL", &c.Boot.Email)

	return errors.Join(e.errs...)
}

// Validate aggregates every problem instead of stopping at the first.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("http.max_body_bytes must be positive, got %d", c.HTTP.MaxBodyBytes))
	}
	if c.HTTP.RateLimitRPS < 0 || c.HTTP.LoginRPS < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database pool sizes must not be negative"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL))
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		errs = append(errs, errors.New("session.cookie_name is required"))
	}
	if c.Session.Secret == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("SCHEDULERS_SESSION_SECRET is required in production"))
		}
	} else if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 bytes"))
	}
	if c.Lockout.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("lockout.threshold must be positive, got %d", c.Lockout.Threshold))
	}
	if c.Lockout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("lockout.duration must be positive, got %s", c.Lockout.Duration))
	}
	if c.Password.Iterations < 100_000 {
		errs = append(errs, fmt.Errorf("password.iterations must be at least 100000, got %d", c.Password.Iterations))
	}
	if c.Audit.AsyncBuffer < 0 {
		errs = append(errs, fmt.Errorf("audit.async_buffer must not be negative, got %d", c.Audit.AsyncBuffer))
	}
	if c.Boot.Enabled && (strings.TrimSpace(c.Boot.Username) == "" || c.Boot.Password == "") {
		errs = append(errs, errors.New("bootstrap username and password are required when bootstrap is enabled"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the process runs with env=production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s must be an integer: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s must be an integer: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s must be a number: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s must be a boolean: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s must be a duration: %w", key, err))
			return
		}
		*dst = d
	}
}
