package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	Rates         RatesConfig
	FlatRate      FlatRateConfig
	Carrier       CarrierConfig
	Notifications NotificationsConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	RateLimit     RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Rates.validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.FlatRate.Amount(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"GIFTSHIP_APP_ENV" required:"true"`
	Port         string   `envconfig:"GIFTSHIP_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"GIFTSHIP_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"GIFTSHIP_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"GIFTSHIP_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"GIFTSHIP_DB_DSN"`

	LegacyHost     string `envconfig:"GIFTSHIP_DB_HOST"`
	LegacyPort     int    `envconfig:"GIFTSHIP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GIFTSHIP_DB_USER"`
	LegacyPassword string `envconfig:"GIFTSHIP_DB_PASSWORD"`
	LegacyName     string `envconfig:"GIFTSHIP_DB_NAME"`
	LegacySSLMode  string `envconfig:"GIFTSHIP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GIFTSHIP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GIFTSHIP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GIFTSHIP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GIFTSHIP_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GIFTSHIP_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GIFTSHIP_REDIS_ADDR"`
	Password     string        `envconfig:"GIFTSHIP_REDIS_PASSWORD"`
	DB           int           `envconfig:"GIFTSHIP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GIFTSHIP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GIFTSHIP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GIFTSHIP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GIFTSHIP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GIFTSHIP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"GIFTSHIP_AUTO_MIGRATE" default:"false"`
}

// RatesConfig bounds the carrier rate fan-out.
type RatesConfig struct {
	MaxConcurrency int           `envconfig:"GIFTSHIP_RATES_MAX_CONCURRENCY" default:"4"`
	MaxAttempts    int           `envconfig:"GIFTSHIP_RATES_MAX_ATTEMPTS" default:"3"`
	QuoteTimeout   time.Duration `envconfig:"GIFTSHIP_RATES_QUOTE_TIMEOUT" default:"5s"`
	BackoffBase    time.Duration `envconfig:"GIFTSHIP_RATES_BACKOFF_BASE" default:"200ms"`
	BackoffCap     time.Duration `envconfig:"GIFTSHIP_RATES_BACKOFF_CAP" default:"2s"`
}

func (r RatesConfig) validate() error {
	if r.MaxConcurrency <= 0 {
		return fmt.Errorf("%s must be positive", EnvRatesMaxConcurrency)
	}
	if r.MaxAttempts <= 0 {
		return fmt.Errorf("%s must be positive", EnvRatesMaxAttempts)
	}
	return nil
}

// FlatRateConfig describes the synthesized option used when live quotes are unavailable.
type FlatRateConfig struct {
	Price       string `envconfig:"GIFTSHIP_FLAT_RATE_PRICE" default:"14.99"`
	Currency    string `envconfig:"GIFTSHIP_FLAT_RATE_CURRENCY" default:"USD"`
	TransitDays int    `envconfig:"GIFTSHIP_FLAT_RATE_TRANSIT_DAYS" default:"7"`
	Label       string `envconfig:"GIFTSHIP_FLAT_RATE_LABEL" default:"Standard shipping (estimated)"`
}

// Amount parses the configured flat-rate price.
func (f FlatRateConfig) Amount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(f.Price))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s: %w", EnvFlatRatePrice, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", EnvFlatRatePrice)
	}
	return amount, nil
}

type CarrierConfig struct {
	BaseURL      string        `envconfig:"GIFTSHIP_CARRIER_BASE_URL" default:"https://carrier.example.com/v1"`
	APIKey       string        `envconfig:"GIFTSHIP_CARRIER_API_KEY"`
	BookTimeout  time.Duration `envconfig:"GIFTSHIP_CARRIER_BOOK_TIMEOUT" default:"10s"`
	HTTPTimeout  time.Duration `envconfig:"GIFTSHIP_CARRIER_HTTP_TIMEOUT" default:"15s"`
	DefaultLabel string        `envconfig:"GIFTSHIP_CARRIER_NAME" default:"carrier"`
}

type NotificationsConfig struct {
	ServiceURL   string        `envconfig:"GIFTSHIP_NOTIFICATIONS_URL" default:"https://notify.example.com/v1/messages"`
	APIKey       string        `envconfig:"GIFTSHIP_NOTIFICATIONS_API_KEY"`
	SendTimeout  time.Duration `envconfig:"GIFTSHIP_NOTIFICATIONS_SEND_TIMEOUT" default:"5s"`
	RetryQueue   string        `envconfig:"GIFTSHIP_NOTIFICATIONS_RETRY_QUEUE" default:"shipping-notifications"`
	RetryDelay   time.Duration `envconfig:"GIFTSHIP_NOTIFICATIONS_RETRY_DELAY" default:"30s"`
	HandledTTL   time.Duration `envconfig:"GIFTSHIP_NOTIFICATIONS_HANDLED_TTL" default:"24h"`
	PollInterval time.Duration `envconfig:"GIFTSHIP_NOTIFICATIONS_POLL_INTERVAL" default:"2s"`
	MaxAttempts  int           `envconfig:"GIFTSHIP_NOTIFICATIONS_MAX_ATTEMPTS" default:"5"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"GIFTSHIP_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	OrdersTopic       string `envconfig:"GIFTSHIP_PUBSUB_ORDERS_TOPIC" default:"giftship-order-events"`
	NotificationTopic string `envconfig:"GIFTSHIP_PUBSUB_NOTIFICATION_TOPIC"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GIFTSHIP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GIFTSHIP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GIFTSHIP_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// RateLimitConfig throttles checkout submissions per client IP and buyer email.
type RateLimitConfig struct {
	Window     time.Duration `envconfig:"GIFTSHIP_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit    int           `envconfig:"GIFTSHIP_CHECKOUT_RATE_LIMIT_IP" default:"30"`
	EmailLimit int           `envconfig:"GIFTSHIP_CHECKOUT_RATE_LIMIT_EMAIL" default:"10"`
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
