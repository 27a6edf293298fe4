package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Mpesa        MpesaConfig
	Frontend     FrontendConfig
	Reservations ReservationConfig
	Sweeper      SweeperConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Mpesa.validateEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FARMLINK_APP_ENV" required:"true"`
	Port         string `envconfig:"FARMLINK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FARMLINK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"FARMLINK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FARMLINK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"FARMLINK_DB_DSN"`

	LegacyHost     string `envconfig:"FARMLINK_DB_HOST"`
	LegacyPort     int    `envconfig:"FARMLINK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FARMLINK_DB_USER"`
	LegacyPassword string `envconfig:"FARMLINK_DB_PASSWORD"`
	LegacyName     string `envconfig:"FARMLINK_DB_NAME"`
	LegacySSLMode  string `envconfig:"FARMLINK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FARMLINK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FARMLINK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FARMLINK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FARMLINK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"FARMLINK_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FARMLINK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FARMLINK_REDIS_ADDR"`
	Password     string        `envconfig:"FARMLINK_REDIS_PASSWORD"`
	DB           int           `envconfig:"FARMLINK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FARMLINK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FARMLINK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FARMLINK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FARMLINK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FARMLINK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FARMLINK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FARMLINK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FARMLINK_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"FARMLINK_AUTO_MIGRATE" default:"false"`
}

// MpesaConfig holds the Daraja credentials. Nothing here is required at boot:
// a missing value surfaces as a configuration error on the request that needs it.
type MpesaConfig struct {
	Env             string        `envconfig:"MPESA_ENV" default:"sandbox"`
	ConsumerKey     string        `envconfig:"MPESA_CONSUMER_KEY"`
	ConsumerSecret  string        `envconfig:"MPESA_CONSUMER_SECRET"`
	Shortcode       string        `envconfig:"MPESA_SHORTCODE"`
	Passkey         string        `envconfig:"MPESA_PASSKEY"`
	CallbackURL     string        `envconfig:"MPESA_CALLBACK_URL"`
	TransactionType string        `envconfig:"MPESA_TRANSACTION_TYPE" default:"CustomerPayBillOnline"`
	BaseURL         string        `envconfig:"MPESA_BASE_URL"`
	HTTPTimeout     time.Duration `envconfig:"MPESA_HTTP_TIMEOUT" default:"15s"`
}

// Environment returns the normalized Daraja environment (sandbox/production).
func (m MpesaConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(m.Env))
	if env == "" {
		return MpesaEnvSandbox
	}
	return env
}

// MissingCredentials lists the unset variables needed to request a token.
func (m MpesaConfig) MissingCredentials() []string {
	missing := []string{}
	if strings.TrimSpace(m.ConsumerKey) == "" {
		missing = append(missing, EnvMpesaConsumerKey)
	}
	if strings.TrimSpace(m.ConsumerSecret) == "" {
		missing = append(missing, EnvMpesaConsumerSecret)
	}
	return missing
}

// MissingPushSettings lists the unset variables needed to send an STK push.
func (m MpesaConfig) MissingPushSettings() []string {
	missing := m.MissingCredentials()
	if strings.TrimSpace(m.Shortcode) == "" {
		missing = append(missing, EnvMpesaShortcode)
	}
	if strings.TrimSpace(m.Passkey) == "" {
		missing = append(missing, EnvMpesaPasskey)
	}
	if strings.TrimSpace(m.CallbackURL) == "" {
		missing = append(missing, EnvMpesaCallbackURL)
	}
	return missing
}

func (m MpesaConfig) validateEnv() error {
	switch m.Environment() {
	case MpesaEnvSandbox, MpesaEnvProduction:
		return nil
	}
	return fmt.Errorf("%s must be %s or %s, got %q", EnvMpesaEnv, MpesaEnvSandbox, MpesaEnvProduction, m.Env)
}

type FrontendConfig struct {
	URL string `envconfig:"FRONTEND_URL" default:"http://localhost:3000"`
}

// Origins splits FRONTEND_URL on commas so staging and preview hosts can share a deployment.
func (f FrontendConfig) Origins() []string {
	origins := []string{}
	for _, part := range strings.Split(f.URL, ",") {
		if trimmed := strings.TrimRight(strings.TrimSpace(part), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

type ReservationConfig struct {
	TTL time.Duration `envconfig:"FARMLINK_RESERVATION_TTL" default:"15m"`
}

type SweeperConfig struct {
	Interval  time.Duration `envconfig:"FARMLINK_SWEEPER_INTERVAL" default:"60s"`
	BatchSize int           `envconfig:"FARMLINK_SWEEPER_BATCH_SIZE" default:"100"`
	InProcess bool          `envconfig:"FARMLINK_SWEEPER_IN_PROCESS" default:"true"`
	LockTTL   time.Duration `envconfig:"FARMLINK_SWEEPER_LOCK_TTL" default:"5m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FARMLINK_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FARMLINK_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentsTopic     string `envconfig:"FARMLINK_PUBSUB_PAYMENTS_TOPIC" default:"farmlink-payment-events"`
	NotificationTopic string `envconfig:"FARMLINK_PUBSUB_NOTIFICATION_TOPIC" default:"farmlink-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FARMLINK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FARMLINK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FARMLINK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"FARMLINK_OUTBOX_RETENTION_DAYS" default:"30"`
}

// RateLimitConfig bounds STK push attempts per client IP and per phone.
type RateLimitConfig struct {
	PushWindow     time.Duration `envconfig:"FARMLINK_STKPUSH_RATE_WINDOW" default:"1m"`
	PushIPLimit    int           `envconfig:"FARMLINK_STKPUSH_RATE_IP_LIMIT" default:"20"`
	PushPhoneLimit int           `envconfig:"FARMLINK_STKPUSH_RATE_PHONE_LIMIT" default:"3"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
