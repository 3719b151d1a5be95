package config

// EnvPrefix namespaces every environment variable this service reads.
const EnvPrefix = "VAULTLINE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names shared between Load, tooling and tests.
const (
	EnvAppEnv = "VAULTLINE_APP_ENV"
	EnvPort   = "VAULTLINE_APP_PORT"

	EnvDBDSN  = "VAULTLINE_DB_DSN"
	EnvDBHost = "VAULTLINE_DB_HOST"
	EnvDBUser = "VAULTLINE_DB_USER"
	EnvDBName = "VAULTLINE_DB_NAME"

	EnvRedisURL = "VAULTLINE_REDIS_URL"

	EnvJWTSecret  = "VAULTLINE_JWT_SECRET"
	EnvJWTIssuer  = "VAULTLINE_JWT_ISSUER"
	EnvJWTExpMins = "VAULTLINE_JWT_EXPIRATION_MINUTES"

	EnvAuthorityToken = "VAULTLINE_AUTHORITY_TOKEN"
	EnvAuthorityID    = "VAULTLINE_AUTHORITY_ID"

	EnvGatewayBaseURL = "VAULTLINE_GATEWAY_BASE_URL"
	EnvGatewayAPIKey  = "VAULTLINE_GATEWAY_API_KEY"

	EnvGCPProjectID = "VAULTLINE_GCP_PROJECT_ID"

	EnvPubSubDomainTopic = "VAULTLINE_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubNotifySub   = "VAULTLINE_PUBSUB_NOTIFY_SUBSCRIPTION"
	EnvPubSubAuditSub    = "VAULTLINE_PUBSUB_AUDIT_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
