// package config provides functions and values
// for reading and validating veil proxy service configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veil-labs/veil-proxy-service/nodepool"
)

type Config struct {
	LogLevel string

	ProxyServicePort string

	NodePoolMapRaw string
	NodePools      map[string]nodepool.Pool

	UpstreamTimeout          time.Duration
	UpstreamServiceAuthToken string

	CacheEnabled            bool
	RedisEndpointURL        string
	RedisPassword           string
	CacheWhitelistedHeaders []string
	CacheStaticTTL          time.Duration
	CacheFixedBlockTTL      time.Duration
	CacheLogRangeTTL        time.Duration
	CacheVolatileTTL        time.Duration

	RateLimitBurstMultiplier float64
	UsageFlushQueueSize      int64

	DatabaseName                     string
	DatabaseEndpointURL              string
	DatabaseUsername                 string
	DatabasePassword                 string
	DatabaseReadTimeoutSeconds       int64
	DatabaseMaxIdleConnections       int64
	DatabaseConnectionMaxIdleSeconds int64
	DatabaseMaxOpenConnections       int64
	DatabaseSSLEnabled               bool
	DatabaseQueryLoggingEnabled      bool
	DatabaseEnabled                  bool

	NodePoolRefreshEnabled  bool
	NodePoolRefreshInterval time.Duration
	NodePoolRedisKeyPrefix  string

	MetricPruningEnabled                 bool
	MetricPruningRoutineInterval         time.Duration
	MetricPruningRoutineDelayFirstRun    time.Duration
	MetricPruningMaxRequestMetricAgeDays int64
}

const (
	LOG_LEVEL_ENVIRONMENT_KEY = "LOG_LEVEL"
	DEFAULT_LOG_LEVEL         = "INFO"

	PROXY_SERVICE_PORT_ENVIRONMENT_KEY = "PROXY_SERVICE_PORT"
	DEFAULT_PROXY_SERVICE_PORT         = "7777"

	NODE_POOL_MAP_ENVIRONMENT_KEY = "NODE_POOL_MAP"

	UPSTREAM_TIMEOUT_SECONDS_ENVIRONMENT_KEY    = "UPSTREAM_TIMEOUT_SECONDS"
	DEFAULT_UPSTREAM_TIMEOUT_SECONDS            = 30
	UPSTREAM_SERVICE_AUTH_TOKEN_ENVIRONMENT_KEY = "UPSTREAM_SERVICE_AUTH_TOKEN"

	CACHE_ENABLED_ENVIRONMENT_KEY             = "CACHE_ENABLED"
	REDIS_ENDPOINT_URL_ENVIRONMENT_KEY        = "REDIS_ENDPOINT_URL"
	REDIS_PASSWORD_ENVIRONMENT_KEY            = "REDIS_PASSWORD"
	CACHE_WHITELISTED_HEADERS_ENVIRONMENT_KEY = "CACHE_WHITELISTED_HEADERS"
	DEFAULT_CACHE_WHITELISTED_HEADERS         = "Content-Type"

	CACHE_STATIC_TTL_SECONDS_ENVIRONMENT_KEY      = "CACHE_STATIC_TTL_SECONDS"
	DEFAULT_CACHE_STATIC_TTL_SECONDS              = 86400
	CACHE_FIXED_BLOCK_TTL_SECONDS_ENVIRONMENT_KEY = "CACHE_FIXED_BLOCK_TTL_SECONDS"
	DEFAULT_CACHE_FIXED_BLOCK_TTL_SECONDS         = 3600
	CACHE_LOG_RANGE_TTL_SECONDS_ENVIRONMENT_KEY   = "CACHE_LOG_RANGE_TTL_SECONDS"
	DEFAULT_CACHE_LOG_RANGE_TTL_SECONDS           = 600
	CACHE_VOLATILE_TTL_SECONDS_ENVIRONMENT_KEY    = "CACHE_VOLATILE_TTL_SECONDS"
	DEFAULT_CACHE_VOLATILE_TTL_SECONDS            = 3

	RATE_LIMIT_BURST_MULTIPLIER_ENVIRONMENT_KEY = "RATE_LIMIT_BURST_MULTIPLIER"
	DEFAULT_RATE_LIMIT_BURST_MULTIPLIER         = 1.5
	USAGE_FLUSH_QUEUE_SIZE_ENVIRONMENT_KEY      = "USAGE_FLUSH_QUEUE_SIZE"
	DEFAULT_USAGE_FLUSH_QUEUE_SIZE              = 1024

	DATABASE_NAME_ENVIRONMENT_KEY                        = "DATABASE_NAME"
	DATABASE_ENDPOINT_URL_ENVIRONMENT_KEY                = "DATABASE_ENDPOINT_URL"
	DATABASE_USERNAME_ENVIRONMENT_KEY                    = "DATABASE_USERNAME"
	DATABASE_PASSWORD_ENVIRONMENT_KEY                    = "DATABASE_PASSWORD"
	DATABASE_READ_TIMEOUT_SECONDS_ENVIRONMENT_KEY        = "DATABASE_READ_TIMEOUT_SECONDS"
	DEFAULT_DATABASE_READ_TIMEOUT_SECONDS                = 60
	DATABASE_MAX_IDLE_CONNECTIONS_ENVIRONMENT_KEY        = "DATABASE_MAX_IDLE_CONNECTIONS"
	DEFAULT_DATABASE_MAX_IDLE_CONNECTIONS                = 20
	DATABASE_CONNECTION_MAX_IDLE_SECONDS_ENVIRONMENT_KEY = "DATABASE_CONNECTION_MAX_IDLE_SECONDS"
	DEFAULT_DATABASE_CONNECTION_MAX_IDLE_SECONDS         = 5
	DATABASE_MAX_OPEN_CONNECTIONS_ENVIRONMENT_KEY        = "DATABASE_MAX_OPEN_CONNECTIONS"
	DEFAULT_DATABASE_MAX_OPEN_CONNECTIONS                = 100
	DATABASE_SSL_ENABLED_ENVIRONMENT_KEY                 = "DATABASE_SSL_ENABLED"
	DATABASE_QUERY_LOGGING_ENABLED_ENVIRONMENT_KEY       = "DATABASE_QUERY_LOGGING_ENABLED"
	DATABASE_ENABLED_ENVIRONMENT_KEY                     = "DATABASE_ENABLED"

	NODE_POOL_REFRESH_ENABLED_ENVIRONMENT_KEY          = "NODE_POOL_REFRESH_ENABLED"
	NODE_POOL_REFRESH_INTERVAL_SECONDS_ENVIRONMENT_KEY = "NODE_POOL_REFRESH_INTERVAL_SECONDS"
	DEFAULT_NODE_POOL_REFRESH_INTERVAL_SECONDS         = 60
	NODE_POOL_REDIS_KEY_PREFIX_ENVIRONMENT_KEY         = "NODE_POOL_REDIS_KEY_PREFIX"
	DEFAULT_NODE_POOL_REDIS_KEY_PREFIX                 = "nodepool"

	METRIC_PRUNING_ENABLED_ENVIRONMENT_KEY                         = "METRIC_PRUNING_ENABLED"
	DEFAULT_METRIC_PRUNING_ENABLED                                 = true
	METRIC_PRUNING_ROUTINE_INTERVAL_SECONDS_ENVIRONMENT_KEY        = "METRIC_PRUNING_ROUTINE_INTERVAL_SECONDS"
	DEFAULT_METRIC_PRUNING_ROUTINE_INTERVAL_SECONDS                = 86400
	METRIC_PRUNING_ROUTINE_DELAY_FIRST_RUN_SECONDS_ENVIRONMENT_KEY = "METRIC_PRUNING_ROUTINE_DELAY_FIRST_RUN_SECONDS"
	DEFAULT_METRIC_PRUNING_ROUTINE_DELAY_FIRST_RUN_SECONDS         = 10
	METRIC_PRUNING_MAX_REQUEST_METRICS_AGE_DAYS_ENVIRONMENT_KEY    = "METRIC_PRUNING_MAX_REQUEST_METRICS_AGE_DAYS"
	DEFAULT_METRIC_PRUNING_MAX_REQUEST_METRICS_AGE_DAYS            = 45
)

// EnvOrDefault fetches an environment variable value, or if not set returns the fallback value
func EnvOrDefault(key string, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

// EnvOrDefaultBool fetches a boolean environment variable value, or if not set returns the fallback value
func EnvOrDefaultBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}

// EnvOrDefaultInt64 fetches an int64 environment variable value, or if not set returns the fallback value
func EnvOrDefaultInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}

// EnvOrDefaultFloat64 fetches a float64 environment variable value, or if not set returns the fallback value
func EnvOrDefaultFloat64(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}

// ReadConfig attempts to parse service config from environment values
// the returned config may be invalid and should be validated via the `Validate`
// function of the config package before use
func ReadConfig() Config {
	rawNodePoolMap := os.Getenv(NODE_POOL_MAP_ENVIRONMENT_KEY)
	// errors are handled by Validate
	parsedNodePools, _ := nodepool.ParsePools(rawNodePoolMap)

	return Config{
		LogLevel: EnvOrDefault(LOG_LEVEL_ENVIRONMENT_KEY, DEFAULT_LOG_LEVEL),

		ProxyServicePort: EnvOrDefault(PROXY_SERVICE_PORT_ENVIRONMENT_KEY, DEFAULT_PROXY_SERVICE_PORT),

		NodePoolMapRaw: rawNodePoolMap,
		NodePools:      parsedNodePools,

		UpstreamTimeout:          time.Duration(EnvOrDefaultInt64(UPSTREAM_TIMEOUT_SECONDS_ENVIRONMENT_KEY, DEFAULT_UPSTREAM_TIMEOUT_SECONDS)) * time.Second,
		UpstreamServiceAuthToken: os.Getenv(UPSTREAM_SERVICE_AUTH_TOKEN_ENVIRONMENT_KEY),

		CacheEnabled:            EnvOrDefaultBool(CACHE_ENABLED_ENVIRONMENT_KEY, false),
		RedisEndpointURL:        os.Getenv(REDIS_ENDPOINT_URL_ENVIRONMENT_KEY),
		RedisPassword:           os.Getenv(REDIS_PASSWORD_ENVIRONMENT_KEY),
		CacheWhitelistedHeaders: strings.Split(EnvOrDefault(CACHE_WHITELISTED_HEADERS_ENVIRONMENT_KEY, DEFAULT_CACHE_WHITELISTED_HEADERS), ","),
		CacheStaticTTL:          time.Duration(EnvOrDefaultInt64(CACHE_STATIC_TTL_SECONDS_ENVIRONMENT_KEY, DEFAULT_CACHE_STATIC_TTL_SECONDS)) * time.Second,
		CacheFixedBlockTTL:      time.Duration(EnvOrDefaultInt64(CACHE_FIXED_BLOCK_TTL_SECONDS_ENVIRONMENT_KEY, DEFAULT_CACHE_FIXED_BLOCK_TTL_SECONDS)) * time.Second,
		CacheLogRangeTTL:        time.Duration(EnvOrDefaultInt64(CACHE_LOG_RANGE_TTL_SECONDS_ENVIRONMENT_KEY, DEFAULT_CACHE_LOG_RANGE_TTL_SECONDS)) * time.Second,
		CacheVolatileTTL:        time.Duration(EnvOrDefaultInt64(CACHE_VOLATILE_TTL_SECONDS_ENVIRONMENT_KEY, DEFAULT_CACHE_VOLATILE_TTL_SECONDS)) * time.Second,

		RateLimitBurstMultiplier: EnvOrDefaultFloat64(RATE_LIMIT_BURST_MULTIPLIER_ENVIRONMENT_KEY, DEFAULT_RATE_LIMIT_BURST_MULTIPLIER),
		UsageFlushQueueSize:      EnvOrDefaultInt64(USAGE_FLUSH_QUEUE_SIZE_ENVIRONMENT_KEY, DEFAULT_USAGE_FLUSH_QUEUE_SIZE),

		DatabaseName:                     os.Getenv(DATABASE_NAME_ENVIRONMENT_KEY),
		DatabaseEndpointURL:              os.Getenv(DATABASE_ENDPOINT_URL_ENVIRONMENT_KEY),
		DatabaseUsername:                 os.Getenv(DATABASE_USERNAME_ENVIRONMENT_KEY),
		DatabasePassword:                 os.Getenv(DATABASE_PASSWORD_ENVIRONMENT_KEY),
		DatabaseReadTimeoutSeconds:       EnvOrDefaultInt64(DATABASE_READ_TIMEOUT_SECONDS_ENVIRONMENT_KEY, DEFAULT_DATABASE_READ_TIMEOUT_SECONDS),
		DatabaseMaxIdleConnections:       EnvOrDefaultInt64(DATABASE_MAX_IDLE_CONNECTIONS_ENVIRONMENT_KEY, DEFAULT_DATABASE_MAX_IDLE_CONNECTIONS),
		DatabaseConnectionMaxIdleSeconds: EnvOrDefaultInt64(DATABASE_CONNECTION_MAX_IDLE_SECONDS_ENVIRONMENT_KEY, DEFAULT_DATABASE_CONNECTION_MAX_IDLE_SECONDS),
		DatabaseMaxOpenConnections:       EnvOrDefaultInt64(DATABASE_MAX_OPEN_CONNECTIONS_ENVIRONMENT_KEY, DEFAULT_DATABASE_MAX_OPEN_CONNECTIONS),
		DatabaseSSLEnabled:               EnvOrDefaultBool(DATABASE_SSL_ENABLED_ENVIRONMENT_KEY, false),
		DatabaseQueryLoggingEnabled:      EnvOrDefaultBool(DATABASE_QUERY_LOGGING_ENABLED_ENVIRONMENT_KEY, false),
		DatabaseEnabled:                  EnvOrDefaultBool(DATABASE_ENABLED_ENVIRONMENT_KEY, true),

		NodePoolRefreshEnabled:  EnvOrDefaultBool(NODE_POOL_REFRESH_ENABLED_ENVIRONMENT_KEY, false),
		NodePoolRefreshInterval: time.Duration(EnvOrDefaultInt64(NODE_POOL_REFRESH_INTERVAL_SECONDS_ENVIRONMENT_KEY, DEFAULT_NODE_POOL_REFRESH_INTERVAL_SECONDS)) * time.Second,
		NodePoolRedisKeyPrefix:  EnvOrDefault(NODE_POOL_REDIS_KEY_PREFIX_ENVIRONMENT_KEY, DEFAULT_NODE_POOL_REDIS_KEY_PREFIX),

		MetricPruningEnabled:                 EnvOrDefaultBool(METRIC_PRUNING_ENABLED_ENVIRONMENT_KEY, DEFAULT_METRIC_PRUNING_ENABLED),
		MetricPruningRoutineInterval:         time.Duration(EnvOrDefaultInt64(METRIC_PRUNING_ROUTINE_INTERVAL_SECONDS_ENVIRONMENT_KEY, DEFAULT_METRIC_PRUNING_ROUTINE_INTERVAL_SECONDS)) * time.Second,
		MetricPruningRoutineDelayFirstRun:    time.Duration(EnvOrDefaultInt64(METRIC_PRUNING_ROUTINE_DELAY_FIRST_RUN_SECONDS_ENVIRONMENT_KEY, DEFAULT_METRIC_PRUNING_ROUTINE_DELAY_FIRST_RUN_SECONDS)) * time.Second,
		MetricPruningMaxRequestMetricAgeDays: EnvOrDefaultInt64(METRIC_PRUNING_MAX_REQUEST_METRICS_AGE_DAYS_ENVIRONMENT_KEY, DEFAULT_METRIC_PRUNING_MAX_REQUEST_METRICS_AGE_DAYS),
	}
}
