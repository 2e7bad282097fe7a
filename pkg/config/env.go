package config

const (
	EnvPrefix = "GIFTSHIP"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "GIFTSHIP_APP_ENV"
	EnvPort     = "GIFTSHIP_APP_PORT"
	EnvLogLevel = "GIFTSHIP_LOG_LEVEL"

	EnvDBDSN  = "GIFTSHIP_DB_DSN"
	EnvDBHost = "GIFTSHIP_DB_HOST"
	EnvDBUser = "GIFTSHIP_DB_USER"
	EnvDBName = "GIFTSHIP_DB_NAME"

	EnvRedisURL = "GIFTSHIP_REDIS_URL"

	EnvRatesMaxConcurrency = "GIFTSHIP_RATES_MAX_CONCURRENCY"
	EnvRatesMaxAttempts    = "GIFTSHIP_RATES_MAX_ATTEMPTS"
	EnvRatesQuoteTimeout   = "GIFTSHIP_RATES_QUOTE_TIMEOUT"
	EnvFlatRatePrice       = "GIFTSHIP_FLAT_RATE_PRICE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
