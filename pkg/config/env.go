package config

// EnvPrefix scopes envconfig lookups; every field carries an explicit key so
// the prefix only matters for untagged fields.
const EnvPrefix = "FARMLINK"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv       = "FARMLINK_APP_ENV"
	EnvPort         = "FARMLINK_APP_PORT"
	EnvLogLevel     = "FARMLINK_LOG_LEVEL"
	EnvLogWarnStack = "FARMLINK_LOG_WARN_STACK"

	EnvDBDSN      = "FARMLINK_DB_DSN"
	EnvDBHost     = "FARMLINK_DB_HOST"
	EnvDBUser     = "FARMLINK_DB_USER"
	EnvDBName     = "FARMLINK_DB_NAME"
	EnvRedisURL   = "FARMLINK_REDIS_URL"
	EnvJWTSecret  = "FARMLINK_JWT_SECRET"
	EnvJWTIssuer  = "FARMLINK_JWT_ISSUER"
	EnvJWTExpMins = "FARMLINK_JWT_EXPIRATION_MINUTES"

	EnvMpesaEnv            = "MPESA_ENV"
	EnvMpesaConsumerKey    = "MPESA_CONSUMER_KEY"
	EnvMpesaConsumerSecret = "MPESA_CONSUMER_SECRET"
	EnvMpesaShortcode      = "MPESA_SHORTCODE"
	EnvMpesaPasskey        = "MPESA_PASSKEY"
	EnvMpesaCallbackURL    = "MPESA_CALLBACK_URL"
	EnvFrontendURL         = "FRONTEND_URL"

	EnvReservationTTL   = "FARMLINK_RESERVATION_TTL"
	EnvSweeperInterval  = "FARMLINK_SWEEPER_INTERVAL"
	EnvSweeperInProcess = "FARMLINK_SWEEPER_IN_PROCESS"
	EnvSweeperLockTTL   = "FARMLINK_SWEEPER_LOCK_TTL"
	EnvOutboxRetention  = "FARMLINK_OUTBOX_RETENTION_DAYS"
	EnvPushRateWindow   = "FARMLINK_STKPUSH_RATE_WINDOW"
	EnvPushRateIPLimit  = "FARMLINK_STKPUSH_RATE_IP_LIMIT"
	EnvPushRatePhoneLim = "FARMLINK_STKPUSH_RATE_PHONE_LIMIT"

	EnvGCPProjectID          = "FARMLINK_GCP_PROJECT_ID"
	EnvPubSubPaymentsTopic   = "FARMLINK_PUBSUB_PAYMENTS_TOPIC"
	EnvPubSubNotificationTop = "FARMLINK_PUBSUB_NOTIFICATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

const (
	MpesaEnvSandbox    = "sandbox"
	MpesaEnvProduction = "production"
)
