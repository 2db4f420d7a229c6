// package main reads & validates configuration for the proxy service
// and if the config is valid starts and monitors an instance of the proxy service
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/veil-labs/veil-proxy-service/config"
	"github.com/veil-labs/veil-proxy-service/logging"
	"github.com/veil-labs/veil-proxy-service/routines"
	"github.com/veil-labs/veil-proxy-service/service"
)

var (
	serviceConfig config.Config
	serviceLogger logging.ServiceLogger

	startupTimeout = 30 * time.Second
)

func init() {
	serviceConfig = config.ReadConfig()

	err := config.Validate(serviceConfig)

	if err != nil {
		panic(err)
	}

	serviceLogger, err = logging.New(serviceConfig.LogLevel)

	if err != nil {
		panic(err)
	}
}

// waitForDependencies blocks until the service's external dependencies
// answer their healthchecks, retrying with exponential backoff up to
// the startup timeout
func waitForDependencies(proxyService *service.ProxyService) error {
	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = startupTimeout

	if serviceConfig.DatabaseEnabled {
		err := backoff.Retry(func() error {
			return proxyService.TenantStore.HealthCheck()
		}, retryPolicy)

		if err != nil {
			return fmt.Errorf("database never became healthy: %w", err)
		}
	}

	if serviceConfig.CacheEnabled {
		retryPolicy.Reset()

		err := backoff.Retry(func() error {
			return proxyService.CacheClient.Healthcheck(context.Background())
		}, retryPolicy)

		if err != nil {
			return fmt.Errorf("cache never became healthy: %w", err)
		}
	}

	return nil
}

func startNodePoolRefreshRoutine(proxyService *service.ProxyService) {
	refreshRoutine, err := routines.NewNodePoolRefreshRoutine(routines.NodePoolRefreshRoutineConfig{
		Interval:       serviceConfig.NodePoolRefreshInterval,
		DelayFirstRun:  serviceConfig.NodePoolRefreshInterval,
		Registry:       proxyService.Pools,
		CacheClient:    proxyService.CacheClient,
		RedisKeyPrefix: serviceConfig.NodePoolRedisKeyPrefix,
		Logger:         serviceLogger,
	})

	if err != nil {
		serviceLogger.Error().Msg(fmt.Sprintf("error %s creating node pool refresh routine", err))
		return
	}

	errChan, err := refreshRoutine.Run()

	if err != nil {
		serviceLogger.Error().Msg(fmt.Sprintf("error %s starting node pool refresh routine", err))
		return
	}

	go func() {
		for routineErr := range errChan {
			serviceLogger.Error().Msg(fmt.Sprintf("node pool refresh routine encountered error %s", routineErr))
		}
	}()
}

func startMetricPruningRoutine(proxyService *service.ProxyService) {
	pruningRoutine, err := routines.NewMetricPruningRoutine(routines.MetricPruningRoutineConfig{
		Interval:                serviceConfig.MetricPruningRoutineInterval,
		StartDelay:              serviceConfig.MetricPruningRoutineDelayFirstRun,
		MaxRequestMetricAgeDays: serviceConfig.MetricPruningMaxRequestMetricAgeDays,
		Database:                proxyService.MetricsStore,
		Logger:                  serviceLogger,
	})

	if err != nil {
		serviceLogger.Error().Msg(fmt.Sprintf("error %s creating metric pruning routine", err))
		return
	}

	errChan, err := pruningRoutine.Run()

	if err != nil {
		serviceLogger.Error().Msg(fmt.Sprintf("error %s starting metric pruning routine", err))
		return
	}

	go func() {
		for routineErr := range errChan {
			serviceLogger.Error().Msg(fmt.Sprintf("metric pruning routine encountered error %s", routineErr))
		}
	}()
}

func main() {
	serviceLogger.Debug().Msg(fmt.Sprintf("initial config: %+v", serviceConfig))

	proxyService, err := service.New(serviceConfig, &serviceLogger)

	if err != nil {
		serviceLogger.Panic().Msg(fmt.Sprintf("%v", errors.Unwrap(err)))
	}

	if err := waitForDependencies(proxyService); err != nil {
		serviceLogger.Panic().Msg(fmt.Sprintf("%v", err))
	}

	if serviceConfig.NodePoolRefreshEnabled && serviceConfig.CacheEnabled {
		startNodePoolRefreshRoutine(proxyService)
	}

	if serviceConfig.MetricPruningEnabled && serviceConfig.DatabaseEnabled {
		startMetricPruningRoutine(proxyService)
	}

	proxyService.Run()
}
