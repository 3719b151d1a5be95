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
	Authority    AuthorityConfig
	Treasury     TreasuryConfig
	Trading      TradingConfig
	Scheduler    SchedulerConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Gateway      GatewayConfig
	Notify       NotifyConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VAULTLINE_APP_ENV" required:"true"`
	Port         string `envconfig:"VAULTLINE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"VAULTLINE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VAULTLINE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VAULTLINE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"VAULTLINE_DB_DSN"`
	Driver string `envconfig:"VAULTLINE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"VAULTLINE_DB_HOST"`
	LegacyPort     int    `envconfig:"VAULTLINE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VAULTLINE_DB_USER"`
	LegacyPassword string `envconfig:"VAULTLINE_DB_PASSWORD"`
	LegacyName     string `envconfig:"VAULTLINE_DB_NAME"`
	LegacySSLMode  string `envconfig:"VAULTLINE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VAULTLINE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VAULTLINE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VAULTLINE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VAULTLINE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"VAULTLINE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"VAULTLINE_REDIS_ADDR"`
	Password     string        `envconfig:"VAULTLINE_REDIS_PASSWORD"`
	DB           int           `envconfig:"VAULTLINE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VAULTLINE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VAULTLINE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VAULTLINE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VAULTLINE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VAULTLINE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig covers bearer verification. Tokens are minted by the external
// identity service with the same secret; this service only validates them.
type JWTConfig struct {
	Secret            string `envconfig:"VAULTLINE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"VAULTLINE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"VAULTLINE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// AuthorityConfig identifies the single privileged principal allowed to
// approve escalated money movement.
type AuthorityConfig struct {
	Token        string `envconfig:"VAULTLINE_AUTHORITY_TOKEN" required:"true"`
	ID           string `envconfig:"VAULTLINE_AUTHORITY_ID" default:"authority"`
	NotifyTarget string `envconfig:"VAULTLINE_AUTHORITY_NOTIFY_TARGET"`
}

type TreasuryConfig struct {
	Currency                string `envconfig:"VAULTLINE_TREASURY_CURRENCY" default:"KES"`
	MinDepositCents         int64  `envconfig:"VAULTLINE_TREASURY_MIN_DEPOSIT_CENTS" default:"100"`
	MinWithdrawalCents      int64  `envconfig:"VAULTLINE_TREASURY_MIN_WITHDRAWAL_CENTS" default:"100"`
	AutoApproveCeilingCents int64  `envconfig:"VAULTLINE_TREASURY_AUTO_APPROVE_CEILING_CENTS" default:"5000000"`
}

type TradingConfig struct {
	MinTradeCents         int64         `envconfig:"VAULTLINE_TRADING_MIN_TRADE_CENTS" default:"1000"`
	AutoApproveConfidence int           `envconfig:"VAULTLINE_TRADING_AUTO_APPROVE_CONFIDENCE" default:"80"`
	PendingTTL            time.Duration `envconfig:"VAULTLINE_TRADING_PENDING_TTL" default:"24h"`
}

type SchedulerConfig struct {
	TickInterval   time.Duration `envconfig:"VAULTLINE_SCHEDULER_TICK_INTERVAL" default:"30s"`
	LockTTL        time.Duration `envconfig:"VAULTLINE_SCHEDULER_LOCK_TTL" default:"5m"`
	DefaultTimeout time.Duration `envconfig:"VAULTLINE_SCHEDULER_DEFAULT_TIMEOUT" default:"10m"`
	MaxBackoff     time.Duration `envconfig:"VAULTLINE_SCHEDULER_MAX_BACKOFF" default:"5m"`
	ReconcileAge   time.Duration `envconfig:"VAULTLINE_SCHEDULER_RECONCILE_AGE" default:"30m"`
}

type RateLimitConfig struct {
	MoneyWindow     time.Duration `envconfig:"VAULTLINE_RATE_LIMIT_MONEY_WINDOW" default:"1m"`
	MoneyActorLimit int           `envconfig:"VAULTLINE_RATE_LIMIT_MONEY_ACTOR_LIMIT" default:"30"`
	MoneyIPLimit    int           `envconfig:"VAULTLINE_RATE_LIMIT_MONEY_IP_LIMIT" default:"120"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"VAULTLINE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"VAULTLINE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"VAULTLINE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// GatewayConfig points at the external payment rail used for collections
// and payouts. The rail's wire protocol is its own concern.
type GatewayConfig struct {
	BaseURL string        `envconfig:"VAULTLINE_GATEWAY_BASE_URL"`
	APIKey  string        `envconfig:"VAULTLINE_GATEWAY_API_KEY"`
	Timeout time.Duration `envconfig:"VAULTLINE_GATEWAY_TIMEOUT" default:"15s"`
}

type NotifyConfig struct {
	WebhookURL string        `envconfig:"VAULTLINE_NOTIFY_WEBHOOK_URL"`
	Timeout    time.Duration `envconfig:"VAULTLINE_NOTIFY_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"VAULTLINE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"VAULTLINE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"VAULTLINE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"VAULTLINE_PUBSUB_DOMAIN_TOPIC" required:"true"`
	NotifySubscription string `envconfig:"VAULTLINE_PUBSUB_NOTIFY_SUBSCRIPTION" required:"true"`
	AuditSubscription  string `envconfig:"VAULTLINE_PUBSUB_AUDIT_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"VAULTLINE_BIGQUERY_DATASET" default:"vaultline"`
	AuditEventsTable string `envconfig:"VAULTLINE_BIGQUERY_AUDIT_TABLE" default:"audit_events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"VAULTLINE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"VAULTLINE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"VAULTLINE_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
