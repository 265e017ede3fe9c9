// Package config provides application configuration management.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file named by AUTHD_CONFIG_FILE (if any), then environment variables.
// The result is validated before use.
//
// Server settings:
//
//	AUTHD_HOST="0.0.0.0"
//	AUTHD_PORT="8080"
//	AUTHD_HEALTH_PORT="9090"
//	AUTHD_RATE_LIMIT="50"           # requests/min per client, 0 disables
//
// Authorization:
//
//	AUTHD_CACHE_TTL="5s"
//	AUTHD_CACHE_MAX_ENTRIES="1000"
//	AUTHD_ROLES_FILE="/etc/authd/roles.yaml"
//
// Lockout:
//
//	AUTHD_LOCKOUT_THRESHOLD="5"
//	AUTHD_LOCKOUT_DURATION="15m"
//	AUTHD_LOCKOUT_WINDOW="15m"
//	AUTHD_LOCKOUT_BACKEND="memory"  # memory, redis
//
// Session:
//
//	AUTHD_SESSION_BROADCASTER="local"  # none, local, redis, file
//	AUTHD_SESSION_PERSISTER="none"     # none, file, postgres, sqlite
//	AUTHD_SESSION_DATABASE_URL="postgres://..."
//	AUTHD_REFRESH_LEEWAY="60s"
//
// Identity server and Redis:
//
//	AUTHD_IDENTITY_URL="https://id.example.com/api/auth"
//	AUTHD_REDIS_URL="localhost:6379"
//
// The YAML file uses the same structure with snake_case keys:
//
//	lockout:
//	  threshold: 3
//	  duration: 30m
//	session:
//	  broadcaster: redis
package config
