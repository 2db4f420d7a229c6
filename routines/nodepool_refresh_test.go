package routines

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-labs/veil-proxy-service/clients/cache"
	"github.com/veil-labs/veil-proxy-service/logging"
	"github.com/veil-labs/veil-proxy-service/nodepool"
)

var testRoutineLogger = func() logging.ServiceLogger { l, _ := logging.New("ERROR"); return l }()

func newRefreshRoutineFixture(t *testing.T) (*NodePoolRefreshRoutine, *nodepool.Registry, cache.Cache) {
	registry := nodepool.NewRegistry(map[string]nodepool.Pool{
		"eth-mainnet": {
			ChainID: "eth-mainnet",
			Nodes:   []string{"http://node-a:8545"},
		},
	})

	cacheClient := cache.NewInMemoryCache()

	routine, err := NewNodePoolRefreshRoutine(NodePoolRefreshRoutineConfig{
		Interval:       time.Minute,
		Registry:       registry,
		CacheClient:    cacheClient,
		RedisKeyPrefix: "nodepool",
		Logger:         testRoutineLogger,
	})
	require.NoError(t, err)

	return routine, registry, cacheClient
}

func TestUnitTestRefreshSwapsPublishedPools(t *testing.T) {
	routine, registry, cacheClient := newRefreshRoutineFixture(t)

	published, err := json.Marshal(nodepool.Pool{
		Nodes:          []string{"http://node-b:8545", "http://node-c:8545"},
		ProtectedRelay: "http://relay:8545",
	})
	require.NoError(t, err)

	require.NoError(t, cacheClient.Set(context.Background(), "nodepool:eth-mainnet", published, time.Minute))

	errorChannel := make(chan error, 10)
	routine.refresh(errorChannel)

	require.Empty(t, errorChannel)

	pool, found := registry.Get("eth-mainnet")
	require.True(t, found)
	assert.Equal(t, []string{"http://node-b:8545", "http://node-c:8545"}, pool.Nodes)
	assert.Equal(t, "http://relay:8545", pool.ProtectedRelay)
}

func TestUnitTestRefreshKeepsPoolWhenDocumentMissing(t *testing.T) {
	routine, registry, _ := newRefreshRoutineFixture(t)

	errorChannel := make(chan error, 10)
	routine.refresh(errorChannel)

	// a missing document is not an error, the current pool stays
	assert.Empty(t, errorChannel)

	pool, found := registry.Get("eth-mainnet")
	require.True(t, found)
	assert.Equal(t, []string{"http://node-a:8545"}, pool.Nodes)
}

func TestUnitTestRefreshKeepsPoolOnInvalidDocument(t *testing.T) {
	testCases := []struct {
		desc     string
		document string
	}{
		{
			desc:     "malformed json document",
			document: `nodes=http://node-b`,
		},
		{
			desc:     "pool without nodes",
			document: `{"nodes":[]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			routine, registry, cacheClient := newRefreshRoutineFixture(t)

			require.NoError(t, cacheClient.Set(context.Background(), "nodepool:eth-mainnet", []byte(tc.document), time.Minute))

			errorChannel := make(chan error, 10)
			routine.refresh(errorChannel)

			assert.NotEmpty(t, errorChannel)

			pool, found := registry.Get("eth-mainnet")
			require.True(t, found)
			assert.Equal(t, []string{"http://node-a:8545"}, pool.Nodes)
		})
	}
}
