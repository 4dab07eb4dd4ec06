package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/familyhealth/health-core/internal/auth"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FH_"

// minJWTSecretLength is the shortest accepted token signing secret.
const minJWTSecretLength = 32

// Config is the root configuration structure.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Sentry   SentryConfig   `yaml:"sentry"`
	Security SecurityConfig `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// TrustedProxies lists IPs or CIDRs allowed to set X-Forwarded-For.
	// Empty means the connection address is always the client address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// APITimeoutConfig contains HTTP timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating log file settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// MQTTConfig contains MQTT broker settings for audit event fan-out.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains reconnection delays in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains settings for the auth metrics sink.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt"`
	Lockout   LockoutConfig   `yaml:"lockout"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// JWTConfig contains token settings. TTLs are in minutes.
type JWTConfig struct {
	Secret          string `yaml:"secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
}

// LockoutConfig contains brute-force protection settings. Duration is in
// minutes; MaxAttempts of zero disables locking.
type LockoutConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	Duration    int `yaml:"duration"`
}

// SessionsConfig controls housekeeping of the session table.
type SessionsConfig struct {
	CleanupInterval int `yaml:"cleanup_interval"` // minutes, 0 disables
}

// RateLimitConfig limits login and refresh requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// BootstrapConfig names the admin account created on first boot.
type BootstrapConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Load reads the YAML file at path, applies .env and FH_* overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/healthcore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/healthcore.log",
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "health-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Sentry: SentryConfig{
			Environment: "development",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  15,
				RefreshTokenTTL: 7 * 24 * 60,
			},
			Lockout: LockoutConfig{
				MaxAttempts: 5,
				Duration:    15,
			},
			Sessions: SessionsConfig{
				CleanupInterval: 60,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 30,
				Burst:             10,
			},
			Bootstrap: BootstrapConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies FH_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"DATABASE_PATH":      &cfg.Database.Path,
		"API_HOST":           &cfg.API.Host,
		"LOG_LEVEL":          &cfg.Logging.Level,
		"LOG_FORMAT":         &cfg.Logging.Format,
		"LOG_OUTPUT":         &cfg.Logging.Output,
		"MQTT_HOST":          &cfg.MQTT.Broker.Host,
		"MQTT_USERNAME":      &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":      &cfg.MQTT.Auth.Password,
		"INFLUXDB_URL":       &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":     &cfg.InfluxDB.Token,
		"SENTRY_DSN":         &cfg.Sentry.DSN,
		"SENTRY_ENVIRONMENT": &cfg.Sentry.Environment,
		"JWT_SECRET":         &cfg.Security.JWT.Secret,
		"BOOTSTRAP_USERNAME": &cfg.Security.Bootstrap.Username,
		"BOOTSTRAP_PASSWORD": &cfg.Security.Bootstrap.Password,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"API_PORT":             &cfg.API.Port,
		"ACCESS_TOKEN_TTL":     &cfg.Security.JWT.AccessTokenTTL,
		"REFRESH_TOKEN_TTL":    &cfg.Security.JWT.RefreshTokenTTL,
		"LOCKOUT_MAX_ATTEMPTS": &cfg.Security.Lockout.MaxAttempts,
		"LOCKOUT_DURATION":     &cfg.Security.Lockout.Duration,
	}
	for key, dst := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	for _, p := range c.API.TrustedProxies {
		if !validProxyEntry(p) {
			errs = append(errs, fmt.Sprintf("api.trusted_proxies: %q is not an IP or CIDR", p))
		}
	}

	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, "logging.output must be stdout, stderr or file")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "" || c.InfluxDB.Org == "") {
		errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set "+EnvPrefix+"JWT_SECRET)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}
	if c.Security.JWT.AccessTokenTTL <= 0 || c.Security.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt token ttls must be positive")
	}
	if c.Security.JWT.RefreshTokenTTL < c.Security.JWT.AccessTokenTTL {
		errs = append(errs, "security.jwt.refresh_token_ttl must not be shorter than access_token_ttl")
	}
	if c.Security.Lockout.MaxAttempts < 0 {
		errs = append(errs, "security.lockout.max_attempts must not be negative")
	}
	if c.Security.Lockout.MaxAttempts > 0 && c.Security.Lockout.Duration <= 0 {
		errs = append(errs, "security.lockout.duration must be positive when lockout is enabled")
	}
	if c.Security.RateLimit.Enabled && c.Security.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validProxyEntry(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(s)
	return err == nil
}

// Auth returns the immutable authentication configuration.
func (c *Config) Auth() auth.Config {
	return auth.Config{
		Secret:     []byte(c.Security.JWT.Secret),
		AccessTTL:  time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute,
		RefreshTTL: time.Duration(c.Security.JWT.RefreshTokenTTL) * time.Minute,
		Lockout: auth.LockoutPolicy{
			MaxAttempts: c.Security.Lockout.MaxAttempts,
			Duration:    time.Duration(c.Security.Lockout.Duration) * time.Minute,
		},
	}
}

// Bootstrap returns the first-boot admin settings.
func (c *Config) Bootstrap() auth.Bootstrap {
	return auth.Bootstrap{
		Username: c.Security.Bootstrap.Username,
		Password: c.Security.Bootstrap.Password,
	}
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// SessionCleanupInterval returns how often expired sessions are purged.
func (c *Config) SessionCleanupInterval() time.Duration {
	return time.Duration(c.Security.Sessions.CleanupInterval) * time.Minute
}
