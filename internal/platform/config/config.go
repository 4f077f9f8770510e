// Package config loads the service configuration from the environment so
// main stays lean.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	strutil "tunnus/pkg/platform/strings"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	OIDC           OIDCConfig
	Profile        ProfileConfig
	Authentication AuthenticationConfig
	GDPR           GDPRConfig
	Audit          AuditConfig
	LogLevel       string `env:"TUNNUS_LOG_LEVEL" envDefault:"info"`
}

type ServerConfig struct {
	Addr            string        `env:"TUNNUS_ADDR" envDefault:":8080"`
	MetricsAddr     string        `env:"TUNNUS_METRICS_ADDR" envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"TUNNUS_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type DatabaseConfig struct {
	// URL is the PostgreSQL DSN. Empty falls back to the in-memory stores,
	// which only makes sense for local development.
	URL string `env:"TUNNUS_DATABASE_URL"`
}

type RedisConfig struct {
	// URL is the Redis connection string. Empty disables the session
	// registry's shared backend.
	URL          string        `env:"TUNNUS_REDIS_URL"`
	PoolSize     int           `env:"TUNNUS_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"TUNNUS_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"TUNNUS_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"TUNNUS_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"TUNNUS_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// OIDCConfig holds the per-server provider settings. The auth server issues
// the login tokens; the GDPR server issues the tokens the profile backend
// uses to call our GDPR API.
type OIDCConfig struct {
	AuthBaseURI      string `env:"TUNNUS_OIDC_AUTH_URI"`
	AuthClientID     string `env:"TUNNUS_OIDC_AUTH_CLIENT_ID"`
	AuthClientSecret string `env:"TUNNUS_OIDC_AUTH_CLIENT_SECRET"`
	GDPRBaseURI      string `env:"TUNNUS_OIDC_GDPR_URI"`
	GDPRClientID     string `env:"TUNNUS_OIDC_GDPR_CLIENT_ID"`
	GDPRClientSecret string `env:"TUNNUS_OIDC_GDPR_CLIENT_SECRET"`
}

type ProfileConfig struct {
	TokenURL   string `env:"TUNNUS_PROFILE_TOKEN_URL"`
	ProfileURL string `env:"TUNNUS_PROFILE_API_URL"`
	Audience   string `env:"TUNNUS_PROFILE_AUDIENCE"`
}

// Enabled reports whether profile API enrichment is configured.
func (c ProfileConfig) Enabled() bool {
	return c.TokenURL != "" && c.ProfileURL != ""
}

type AuthenticationConfig struct {
	// DigestSecret feeds the pseudonymization digests. It must stay stable
	// across deployments or duplicate detection breaks.
	DigestSecret            string   `env:"TUNNUS_DIGEST_SECRET,notEmpty"`
	Provider                string   `env:"TUNNUS_AUTH_PROVIDER" envDefault:"helsinki"`
	AuthorizationName       string   `env:"TUNNUS_AUTHORIZATION_NAME" envDefault:"external_idp"`
	EmailPrefix             string   `env:"TUNNUS_EMAIL_PREFIX" envDefault:"helsinki"`
	AutoEmailDomain         string   `env:"TUNNUS_AUTO_EMAIL_DOMAIN"`
	UntrustedEmailProviders []string `env:"TUNNUS_UNTRUSTED_EMAIL_PROVIDERS" envSeparator:","`
	OrganizationSlug        string   `env:"TUNNUS_ORGANIZATION" envDefault:"default"`
	OrganizationHost        string   `env:"TUNNUS_ORGANIZATION_HOST" envDefault:"localhost"`
}

type GDPRConfig struct {
	QueryScope  string `env:"TUNNUS_GDPR_QUERY_SCOPE" envDefault:"gdprquery"`
	DeleteScope string `env:"TUNNUS_GDPR_DELETE_SCOPE" envDefault:"gdprdelete"`
}

type AuditConfig struct {
	// KafkaBrokers enables publishing compliance events to Kafka. Empty
	// keeps events on the local store only.
	KafkaBrokers []string `env:"TUNNUS_AUDIT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"TUNNUS_AUDIT_KAFKA_TOPIC" envDefault:"tunnus.audit"`
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Authentication.UntrustedEmailProviders = strutil.DedupeAndTrimLower(cfg.Authentication.UntrustedEmailProviders)
	cfg.Audit.KafkaBrokers = strutil.DedupeAndTrim(cfg.Audit.KafkaBrokers)
	return cfg, nil
}
