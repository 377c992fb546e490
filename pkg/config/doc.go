// Package config loads idlink configuration from environment variables.
//
// # Server
//
//	IDLINK_HOST="0.0.0.0"
//	IDLINK_PORT="8080"
//	IDLINK_READ_TIMEOUT="15s"
//	IDLINK_WRITE_TIMEOUT="30s"
//	IDLINK_REQUEST_TIMEOUT="25s"
//	IDLINK_CORS_ORIGINS="https://app.example.com,https://admin.example.com"
//
// # Storage
//
//	IDLINK_DB_DRIVER="postgres"  # sqlite or postgres
//	IDLINK_DB_DSN="postgres://localhost/idlink?sslmode=disable"
//	IDLINK_DB_MAX_OPEN_CONNS="20"
//	IDLINK_REDIS_URL="localhost:6379"  # enables the session cache and shared rate limits
//	IDLINK_SESSION_CACHE_TTL="5m"
//
// # Auth
//
//	IDLINK_TOKEN_SECRET="..."  # required, at least 32 bytes
//	IDLINK_BCRYPT_COST="12"
//	IDLINK_SESSION_UPDATE_AGE="24h"
//	IDLINK_MAGIC_LINK_BASE_URL="https://app.example.com/identity/magic-link/verify"
//	IDLINK_ANONYMOUS_PER_MINUTE="30"
//
// # Policy
//
// The linking and retry policy comes from the environment and may be
// overridden by a YAML file that is reloaded when it changes:
//
//	IDLINK_RETENTION_MODE="delete"  # delete or archive
//	IDLINK_LEASE_TTL="30s"
//	IDLINK_SESSION_TTL="720h"
//	IDLINK_RETRY_MAX_ATTEMPTS="3"
//	IDLINK_POLICY_FILE="/etc/idlink/policy.yaml"
//
// # Janitor
//
//	IDLINK_JANITOR_SCHEDULE="@every 10m"
//	IDLINK_JANITOR_STRANDED_AFTER="10m"
//	IDLINK_JANITOR_REDIRECT_RETENTION="720h"
//
// # Observability
//
//	IDLINK_LOG_LEVEL="info"
//	IDLINK_METRICS_ENABLED="true"
//	IDLINK_OTEL_ENABLED="false"
//	IDLINK_OTEL_ENDPOINT="localhost:4317"
package config
