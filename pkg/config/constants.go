package config

const (
	EnvPrefix = "TENANTBILLING"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	defaultSQLiteDSN = "file:tenantbilling.db?cache=shared&_fk=1"
)

const (
	EnvAppEnv    = "TENANTBILLING_APP_ENV"
	EnvPort      = "TENANTBILLING_APP_PORT"
	EnvLogLevel  = "TENANTBILLING_LOG_LEVEL"
	EnvDBDSN     = "TENANTBILLING_DB_DSN"
	EnvDBDriver  = "TENANTBILLING_DB_DRIVER"
	EnvDBHost    = "TENANTBILLING_DB_HOST"
	EnvDBUser    = "TENANTBILLING_DB_USER"
	EnvDBName    = "TENANTBILLING_DB_NAME"
	EnvRedisURL  = "TENANTBILLING_REDIS_URL"
	EnvUseSQLite = "TENANTBILLING_USE_SQLITE"

	EnvGCPProjectID          = "TENANTBILLING_GCP_PROJECT_ID"
	EnvPubSubWebhookTopic    = "TENANTBILLING_PUBSUB_WEBHOOK_TOPIC"
	EnvPubSubWebhookSub      = "TENANTBILLING_PUBSUB_WEBHOOK_SUBSCRIPTION"
	EnvBillingProvider       = "TENANTBILLING_BILLING_PROVIDER"
	EnvGraceDays             = "TENANTBILLING_GRACE_DAYS"
	EnvGraceNotificationDays = "TENANTBILLING_GRACE_NOTIFICATION_DAYS"

	EnvLimitsWarningThreshold = "TENANTBILLING_LIMITS_WARNING_THRESHOLD"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
