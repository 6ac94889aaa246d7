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
	GCP          GCPConfig
	PubSub       PubSubConfig
	Billing      BillingConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Grace        GraceConfig
	Limits       LimitsConfig
	Webhooks     WebhooksConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DBDriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Grace.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Limits.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TENANTBILLING_APP_ENV" required:"true"`
	Port         string `envconfig:"TENANTBILLING_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TENANTBILLING_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TENANTBILLING_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TENANTBILLING_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TENANTBILLING_DB_DSN"`
	Driver string `envconfig:"TENANTBILLING_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TENANTBILLING_DB_HOST"`
	LegacyPort     int    `envconfig:"TENANTBILLING_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TENANTBILLING_DB_USER"`
	LegacyPassword string `envconfig:"TENANTBILLING_DB_PASSWORD"`
	LegacyName     string `envconfig:"TENANTBILLING_DB_NAME"`
	LegacySSLMode  string `envconfig:"TENANTBILLING_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TENANTBILLING_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TENANTBILLING_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TENANTBILLING_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TENANTBILLING_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"TENANTBILLING_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TENANTBILLING_REDIS_ADDR"`
	Password     string        `envconfig:"TENANTBILLING_REDIS_PASSWORD"`
	DB           int           `envconfig:"TENANTBILLING_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TENANTBILLING_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TENANTBILLING_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TENANTBILLING_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TENANTBILLING_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TENANTBILLING_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TENANTBILLING_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	WebhookTopic        string `envconfig:"TENANTBILLING_PUBSUB_WEBHOOK_TOPIC" required:"true"`
	WebhookSubscription string `envconfig:"TENANTBILLING_PUBSUB_WEBHOOK_SUBSCRIPTION" required:"true"`
	ReceiveGoroutines   int    `envconfig:"TENANTBILLING_PUBSUB_RECEIVE_GOROUTINES" default:"4"`
	MaxOutstanding      int    `envconfig:"TENANTBILLING_PUBSUB_MAX_OUTSTANDING" default:"100"`
}

type BillingConfig struct {
	Provider      string `envconfig:"TENANTBILLING_BILLING_PROVIDER" default:"stripe"`
	DefaultPlanID string `envconfig:"TENANTBILLING_BILLING_DEFAULT_PLAN_ID"`
}

type StripeConfig struct {
	APIKey             string        `envconfig:"TENANTBILLING_STRIPE_API_KEY"`
	Secret             string        `envconfig:"TENANTBILLING_STRIPE_SECRET"`
	Env                string        `envconfig:"TENANTBILLING_STRIPE_ENV" default:"test"`
	SuccessURL         string        `envconfig:"TENANTBILLING_STRIPE_SUCCESS_URL"`
	CancelURL          string        `envconfig:"TENANTBILLING_STRIPE_CANCEL_URL"`
	PortalReturnURL    string        `envconfig:"TENANTBILLING_STRIPE_PORTAL_RETURN_URL"`
	SignatureTolerance time.Duration `envconfig:"TENANTBILLING_STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken   string `envconfig:"TENANTBILLING_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"TENANTBILLING_SQUARE_WEBHOOK_SECRET"`
	Env           string `envconfig:"TENANTBILLING_SQUARE_ENV" default:"sandbox"`
	LocationID    string `envconfig:"TENANTBILLING_SQUARE_LOCATION_ID"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GraceConfig struct {
	Days             int   `envconfig:"TENANTBILLING_GRACE_DAYS" default:"7"`
	NotificationDays []int `envconfig:"TENANTBILLING_GRACE_NOTIFICATION_DAYS" default:"1,3,7"`
}

func (g GraceConfig) validate() error {
	if g.Days < 0 {
		return fmt.Errorf("%s must not be negative", EnvGraceDays)
	}
	for _, day := range g.NotificationDays {
		if day <= 0 {
			return fmt.Errorf("%s entries must be positive, got %d", EnvGraceNotificationDays, day)
		}
	}
	return nil
}

type LimitsConfig struct {
	WarningThreshold float64       `envconfig:"TENANTBILLING_LIMITS_WARNING_THRESHOLD" default:"0.8"`
	PlanCacheSize    int           `envconfig:"TENANTBILLING_LIMITS_PLAN_CACHE_SIZE" default:"256"`
	PlanCacheTTL     time.Duration `envconfig:"TENANTBILLING_LIMITS_PLAN_CACHE_TTL" default:"5m"`
}

func (l LimitsConfig) validate() error {
	if l.WarningThreshold <= 0 || l.WarningThreshold >= 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %v", EnvLimitsWarningThreshold, l.WarningThreshold)
	}
	return nil
}

type WebhooksConfig struct {
	InFlightTTL  time.Duration `envconfig:"TENANTBILLING_WEBHOOKS_INFLIGHT_TTL" default:"15m"`
	MaxBodyBytes int64         `envconfig:"TENANTBILLING_WEBHOOKS_MAX_BODY_BYTES" default:"1048576"`
}

type CronConfig struct {
	Schedule string        `envconfig:"TENANTBILLING_CRON_SCHEDULE" default:"@every 1h"`
	LockTTL  time.Duration `envconfig:"TENANTBILLING_CRON_LOCK_TTL" default:"55m"`
	// NotificationRetentionDays bounds how long read notifications are kept.
	NotificationRetentionDays int `envconfig:"TENANTBILLING_CRON_NOTIFICATION_RETENTION_DAYS" default:"30"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"TENANTBILLING_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"TENANTBILLING_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = defaultSQLiteDSN
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
