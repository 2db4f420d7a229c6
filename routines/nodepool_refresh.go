// package routines provides configuration and logic for running
// background routines such as refreshing node pools from the external
// health prober and pruning historical request metrics
package routines

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veil-labs/veil-proxy-service/clients/cache"
	"github.com/veil-labs/veil-proxy-service/logging"
	"github.com/veil-labs/veil-proxy-service/nodepool"
)

// NodePoolRefreshRoutineConfig wraps values used
// for creating a new node pool refresh routine
type NodePoolRefreshRoutineConfig struct {
	Interval       time.Duration
	DelayFirstRun  time.Duration
	Registry       *nodepool.Registry
	CacheClient    cache.Cache
	RedisKeyPrefix string
	Logger         logging.ServiceLogger
}

// NodePoolRefreshRoutine runs a background routine on a configurable
// interval to swap refreshed node pools published by the external
// health prober into the dispatcher's registry
type NodePoolRefreshRoutine struct {
	id             string
	interval       time.Duration
	delayFirstRun  time.Duration
	registry       *nodepool.Registry
	cacheClient    cache.Cache
	redisKeyPrefix string
	logging.ServiceLogger
}

// Run runs the node pool refresh routine, returning error (if any)
// from starting the routine and an error channel which any errors
// encountered during running will be sent on
func (npr *NodePoolRefreshRoutine) Run() (<-chan error, error) {
	errorChannel := make(chan error)

	go func() {
		time.Sleep(npr.delayFirstRun)

		npr.refresh(errorChannel)

		timer := time.Tick(npr.interval)

		for tick := range timer {
			npr.Trace().Msg(fmt.Sprintf("%s tick at %+v", npr.id, tick))

			npr.refresh(errorChannel)
		}
	}()

	return errorChannel, nil
}

// refresh reads the prober's pool document for every registered chain
// and swaps valid pools into the registry, keeping the previous pool
// whenever the document is missing or malformed
func (npr *NodePoolRefreshRoutine) refresh(errorChannel chan<- error) {
	ctx, cancel := context.WithTimeout(context.Background(), npr.interval)
	defer cancel()

	for _, chainID := range npr.registry.Chains() {
		key := fmt.Sprintf("%s:%s", npr.redisKeyPrefix, chainID)

		poolDocument, err := npr.cacheClient.Get(ctx, key)
		if err != nil {
			if err != cache.ErrNotFound {
				errorChannel <- fmt.Errorf("unable to read pool document %s: %w", key, err)
			}
			continue
		}

		var pool nodepool.Pool
		if err := json.Unmarshal(poolDocument, &pool); err != nil {
			errorChannel <- fmt.Errorf("unable to decode pool document %s: %w", key, err)
			continue
		}

		pool.ChainID = chainID

		if err := npr.registry.Set(pool); err != nil {
			errorChannel <- fmt.Errorf("refusing refreshed pool for chain %s: %w", chainID, err)
			continue
		}

		npr.Debug().Msg(fmt.Sprintf("%s refreshed node pool for chain %s with %d nodes", npr.id, chainID, len(pool.Nodes)))
	}
}

// NewNodePoolRefreshRoutine creates a new node pool refresh routine
// using the provided config, returning the routine and error (if any)
func NewNodePoolRefreshRoutine(config NodePoolRefreshRoutineConfig) (*NodePoolRefreshRoutine, error) {
	return &NodePoolRefreshRoutine{
		id:             uuid.New().String(),
		interval:       config.Interval,
		delayFirstRun:  config.DelayFirstRun,
		registry:       config.Registry,
		cacheClient:    config.CacheClient,
		redisKeyPrefix: config.RedisKeyPrefix,
		ServiceLogger:  config.Logger,
	}, nil
}
