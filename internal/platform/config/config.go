package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is read from the environment. Every backend is optional: without
// DB_DSN the service runs on in-memory stores, without REDIS_URL key locks
// are process-local, without KAFKA_BROKERS audit events are not streamed.
type Config struct {
	Port    string `envconfig:"PORT" default:"8080"`
	AppName string `envconfig:"APP_NAME" default:"patient-access"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	DBDSN    string `envconfig:"DB_DSN"`
	Migrate  bool   `envconfig:"DB_MIGRATE" default:"true"`
	RedisURL string `envconfig:"REDIS_URL"`

	KafkaBrokers    []string `envconfig:"KAFKA_BROKERS"`
	KafkaAuditTopic string   `envconfig:"KAFKA_AUDIT_TOPIC" default:"access-audit"`

	IdentityURL    string `envconfig:"IDENTITY_URL"`
	IdentityAPIKey string `envconfig:"IDENTITY_API_KEY"`

	StoreTimeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
	LockTTL         time.Duration `envconfig:"LOCK_TTL" default:"10s"`
	LockPrefix      string        `envconfig:"LOCK_PREFIX" default:"patient-access:lock:"`
	MaxRequestTTL   time.Duration `envconfig:"MAX_REQUEST_TTL" default:"720h"`
	AllowSelfAccess bool          `envconfig:"ALLOW_SELF_ACCESS" default:"true"`
	AdminPrincipals []string      `envconfig:"ADMIN_PRINCIPALS"`

	CreateRatePerSecond float64 `envconfig:"CREATE_RATE_PER_SECOND" default:"2"`
	CreateRateBurst     int     `envconfig:"CREATE_RATE_BURST" default:"10"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.LockTTL < c.StoreTimeout {
		errs = append(errs, errors.New("LOCK_TTL must be at least STORE_TIMEOUT"))
	}
	if c.MaxRequestTTL < 0 {
		errs = append(errs, errors.New("MAX_REQUEST_TTL must not be negative"))
	}
	if c.CreateRatePerSecond < 0 || c.CreateRateBurst < 0 {
		errs = append(errs, errors.New("create rate limit must not be negative"))
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.KafkaAuditTopic) == "" {
		errs = append(errs, errors.New("KAFKA_AUDIT_TOPIC required when KAFKA_BROKERS is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
