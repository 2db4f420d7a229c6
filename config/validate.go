package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/veil-labs/veil-proxy-service/nodepool"
)

var (
	ValidLogLevels = [4]string{"TRACE", "DEBUG", "INFO", "ERROR"}
)

// Validate validates the provided config
// returning a list of errors that can be unwrapped with `errors.Unwrap`
// or nil if the config is valid
func Validate(config Config) error {
	var validLogLevel bool
	var allErrs error

	for _, validLevel := range ValidLogLevels {
		if config.LogLevel == validLevel {
			validLogLevel = true
			break
		}
	}

	if !validLogLevel {
		allErrs = fmt.Errorf("invalid %s specified %s, supported values are %v", LOG_LEVEL_ENVIRONMENT_KEY, config.LogLevel, ValidLogLevels)
	}

	_, err := strconv.Atoi(config.ProxyServicePort)

	if err != nil {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s", PROXY_SERVICE_PORT_ENVIRONMENT_KEY, config.ProxyServicePort))
	}

	_, err = nodepool.ParsePools(config.NodePoolMapRaw)

	if err != nil {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s: %s", NODE_POOL_MAP_ENVIRONMENT_KEY, config.NodePoolMapRaw, err))
	}

	if config.UpstreamTimeout <= 0 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must be greater than zero", UPSTREAM_TIMEOUT_SECONDS_ENVIRONMENT_KEY, config.UpstreamTimeout))
	}

	if config.CacheEnabled {
		if config.RedisEndpointURL == "" {
			allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not be empty when cache is enabled", REDIS_ENDPOINT_URL_ENVIRONMENT_KEY, config.RedisEndpointURL))
		}

		for _, ttlConfig := range []struct {
			key   string
			value time.Duration
		}{
			{CACHE_STATIC_TTL_SECONDS_ENVIRONMENT_KEY, config.CacheStaticTTL},
			{CACHE_FIXED_BLOCK_TTL_SECONDS_ENVIRONMENT_KEY, config.CacheFixedBlockTTL},
			{CACHE_LOG_RANGE_TTL_SECONDS_ENVIRONMENT_KEY, config.CacheLogRangeTTL},
			{CACHE_VOLATILE_TTL_SECONDS_ENVIRONMENT_KEY, config.CacheVolatileTTL},
		} {
			if ttlConfig.value <= 0 {
				allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must be greater than zero", ttlConfig.key, ttlConfig.value))
			}
		}
	}

	if config.RateLimitBurstMultiplier < 1 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %f, must be at least 1", RATE_LIMIT_BURST_MULTIPLIER_ENVIRONMENT_KEY, config.RateLimitBurstMultiplier))
	}

	if config.UsageFlushQueueSize < 1 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %d, must be at least 1", USAGE_FLUSH_QUEUE_SIZE_ENVIRONMENT_KEY, config.UsageFlushQueueSize))
	}

	if config.DatabaseEnabled {
		if config.DatabaseName == "" {
			allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not be empty when database is enabled", DATABASE_NAME_ENVIRONMENT_KEY, config.DatabaseName))
		}
		if config.DatabaseEndpointURL == "" {
			allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not be empty when database is enabled", DATABASE_ENDPOINT_URL_ENVIRONMENT_KEY, config.DatabaseEndpointURL))
		}
		if config.DatabaseUsername == "" {
			allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must not be empty when database is enabled", DATABASE_USERNAME_ENVIRONMENT_KEY, config.DatabaseUsername))
		}
	}

	if config.NodePoolRefreshEnabled && config.NodePoolRefreshInterval <= 0 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %s, must be greater than zero", NODE_POOL_REFRESH_INTERVAL_SECONDS_ENVIRONMENT_KEY, config.NodePoolRefreshInterval))
	}

	if config.MetricPruningMaxRequestMetricAgeDays < 1 {
		allErrs = errors.Join(allErrs, fmt.Errorf("invalid %s specified %d, must be at least 1", METRIC_PRUNING_MAX_REQUEST_METRICS_AGE_DAYS_ENVIRONMENT_KEY, config.MetricPruningMaxRequestMetricAgeDays))
	}

	return allErrs
}
