package routines

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veil-labs/veil-proxy-service/clients/database"
	"github.com/veil-labs/veil-proxy-service/logging"
)

// MetricPruningRoutineConfig wraps values used
// for creating a new metric pruning routine
type MetricPruningRoutineConfig struct {
	Interval                time.Duration
	StartDelay              time.Duration
	MaxRequestMetricAgeDays int64
	Database                database.MetricsStore
	Logger                  logging.ServiceLogger
}

// MetricPruningRoutine can be used to run a background routine on a
// configurable interval to prune proxied request metrics older than
// the configured retention window
type MetricPruningRoutine struct {
	id                      string
	interval                time.Duration
	startDelay              time.Duration
	maxRequestMetricAgeDays int64
	db                      database.MetricsStore
	logging.ServiceLogger
}

// Run runs the metric pruning routine, returning error (if any)
// from starting the routine and an error channel which any errors
// encountered during running will be sent on
func (mpr *MetricPruningRoutine) Run() (<-chan error, error) {
	errorChannel := make(chan error)

	go func() {
		time.Sleep(mpr.startDelay)

		mpr.prune(errorChannel)

		timer := time.Tick(mpr.interval)

		for tick := range timer {
			mpr.Trace().Msg(fmt.Sprintf("%s tick at %+v", mpr.id, tick))

			mpr.prune(errorChannel)
		}
	}()

	return errorChannel, nil
}

func (mpr *MetricPruningRoutine) prune(errorChannel chan<- error) {
	ctx, cancel := context.WithTimeout(context.Background(), mpr.interval)
	defer cancel()

	err := mpr.db.DeleteProxiedRequestMetricsOlderThanNDays(ctx, mpr.maxRequestMetricAgeDays)
	if err != nil {
		errorChannel <- err
	}
}

// NewMetricPruningRoutine creates a new metric pruning routine
// using the provided config, returning the routine and error (if any)
func NewMetricPruningRoutine(config MetricPruningRoutineConfig) (*MetricPruningRoutine, error) {
	return &MetricPruningRoutine{
		id:                      uuid.New().String(),
		interval:                config.Interval,
		startDelay:              config.StartDelay,
		maxRequestMetricAgeDays: config.MaxRequestMetricAgeDays,
		db:                      config.Database,
		ServiceLogger:           config.Logger,
	}, nil
}
