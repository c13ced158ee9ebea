// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; when empty the server runs on the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; signs access and sync tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; verifies access and sync tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim on access tokens.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim on access tokens.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4-31) used for personal access token secrets; default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// ChallengeSecret signs the stateless email-challenge cookie. Required for auth.
	ChallengeSecret string `mapstructure:"CHALLENGE_SECRET"`
	// ChallengeTTL is how long a pending email challenge stays valid (e.g. "10m").
	ChallengeTTL string `mapstructure:"CHALLENGE_TTL"`
	// ChallengeStaticCode, when set, replaces the random one-time code for every
	// challenge. Dev/test only; must not be set when Env is production.
	ChallengeStaticCode string `mapstructure:"CHALLENGE_STATIC_CODE"`

	// SyncIssuer is the iss claim on sync claim tokens.
	SyncIssuer string `mapstructure:"SYNC_ISSUER"`
	// SyncAudience is the aud claim on sync claim tokens.
	SyncAudience string `mapstructure:"SYNC_AUDIENCE"`
	// SyncTTL is the sync claim token lifetime (e.g. "5m").
	SyncTTL string `mapstructure:"SYNC_TTL"`
	// KhalaPrivateKey is the PEM private key (or path) for the khala claim family.
	// When empty, khala token minting answers khala_token_unavailable.
	KhalaPrivateKey string `mapstructure:"KHALA_PRIVATE_KEY"`
	// KhalaPublicKey is the PEM public key (or path) for the khala claim family.
	KhalaPublicKey string `mapstructure:"KHALA_PUBLIC_KEY"`
	// KhalaIssuer is the iss claim on khala tokens.
	KhalaIssuer string `mapstructure:"KHALA_ISSUER"`
	// KhalaAudience is the aud claim on khala tokens.
	KhalaAudience string `mapstructure:"KHALA_AUDIENCE"`
	// KhalaTTL is the khala claim token lifetime (e.g. "5m").
	KhalaTTL string `mapstructure:"KHALA_TTL"`

	// MachineKeys is a comma-separated list of key-id:secret pairs for signed
	// machine-to-machine requests (e.g. "runtime:s3cr3t,billing:0th3r").
	MachineKeys string `mapstructure:"MACHINE_KEYS"`
	// NonceTTL is how long a (key-id, nonce) pair is remembered for replay defense.
	NonceTTL string `mapstructure:"NONCE_TTL"`

	// RuntimeNotifyURL is the external runtime endpoint that mirrors revocations.
	// Empty disables revocation propagation.
	RuntimeNotifyURL string `mapstructure:"RUNTIME_NOTIFY_URL"`
	// RuntimeNotifySecret signs the revocation payload delivered to the runtime.
	RuntimeNotifySecret string `mapstructure:"RUNTIME_NOTIFY_SECRET"`
	// RuntimeNotifyTimeout bounds the outbound notify call (e.g. "3s").
	RuntimeNotifyTimeout string `mapstructure:"RUNTIME_NOTIFY_TIMEOUT"`

	// EmailRatePerMinute is the per-client-key rate for POST /api/auth/email.
	EmailRatePerMinute int `mapstructure:"EMAIL_RATE_PER_MINUTE"`
	// EmailRateBurst is the burst size for the same limiter.
	EmailRateBurst int `mapstructure:"EMAIL_RATE_BURST"`

	// ProtocolVersion is the protocol accepted by the /api/v1/sync/token
	// compatibility handshake (X-Protocol-Version header).
	ProtocolVersion string `mapstructure:"PROTOCOL_VERSION"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Events (optional). When Kafka brokers are set, the server mirrors security
	// events to Kafka in addition to OTel logs.
	// EventsKafkaBrokers is a comma-separated list of broker addresses.
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for security events.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// OTLPEndpoint is the OTLP gRPC endpoint for traces and logs; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Worker-only: Loki URL for the event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "scp-auth")
	v.SetDefault("JWT_AUDIENCE", "scp-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("CHALLENGE_TTL", "10m")
	v.SetDefault("CHALLENGE_STATIC_CODE", "")
	v.SetDefault("SYNC_ISSUER", "scp-auth")
	v.SetDefault("SYNC_AUDIENCE", "scp-sync")
	v.SetDefault("SYNC_TTL", "5m")
	v.SetDefault("KHALA_ISSUER", "scp-khala")
	v.SetDefault("KHALA_AUDIENCE", "scp-khala-runtime")
	v.SetDefault("KHALA_TTL", "5m")
	v.SetDefault("NONCE_TTL", "5m")
	v.SetDefault("RUNTIME_NOTIFY_TIMEOUT", "3s")
	v.SetDefault("EMAIL_RATE_PER_MINUTE", 3)
	v.SetDefault("EMAIL_RATE_BURST", 3)
	v.SetDefault("PROTOCOL_VERSION", "1")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "scp-security-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "scp-event-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.ChallengeStaticCode != "" && cfg.Env == "production" {
		return nil, errors.New("config: CHALLENGE_STATIC_CODE must not be set when APP_ENV=production")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.JWTRefreshTTL, 168*time.Hour)
}

// ChallengeLifetime parses ChallengeTTL. Returns 10m if unset or invalid.
func (c *Config) ChallengeLifetime() time.Duration {
	return durationOr(c.ChallengeTTL, 10*time.Minute)
}

// SyncTokenTTL parses SyncTTL. Returns 5m if unset or invalid.
func (c *Config) SyncTokenTTL() time.Duration {
	return durationOr(c.SyncTTL, 5*time.Minute)
}

// KhalaTokenTTL parses KhalaTTL. Returns 5m if unset or invalid.
func (c *Config) KhalaTokenTTL() time.Duration {
	return durationOr(c.KhalaTTL, 5*time.Minute)
}

// NonceLifetime parses NonceTTL. Returns 5m if unset or invalid.
func (c *Config) NonceLifetime() time.Duration {
	return durationOr(c.NonceTTL, 5*time.Minute)
}

// NotifyTimeout parses RuntimeNotifyTimeout. Returns 3s if unset or invalid.
func (c *Config) NotifyTimeout() time.Duration {
	return durationOr(c.RuntimeNotifyTimeout, 3*time.Second)
}

// MachineKeyMap parses MachineKeys into key-id → shared secret.
// Malformed entries (no colon, empty id or secret) are skipped.
func (c *Config) MachineKeyMap() map[string]string {
	out := make(map[string]string)
	if c == nil || c.MachineKeys == "" {
		return out
	}
	for _, pair := range strings.Split(c.MachineKeys, ",") {
		id, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		id = strings.TrimSpace(id)
		secret = strings.TrimSpace(secret)
		if id == "" || secret == "" {
			continue
		}
		out[id] = secret
	}
	return out
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event mirroring is enabled (non-empty list) and to create the producer.
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil || c.EventsKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.EventsKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
