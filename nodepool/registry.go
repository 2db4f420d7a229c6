package nodepool

import (
	"sync"
)

// Registry holds the current pool for every supported chain.
// Reads vastly outnumber writes: every proxied request looks up
// a pool while writes only happen when the external prober
// publishes a refreshed pool.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]Pool
}

// NewRegistry creates a Registry seeded with the provided pools
func NewRegistry(pools map[string]Pool) *Registry {
	seeded := make(map[string]Pool, len(pools))
	for chainID, pool := range pools {
		seeded[chainID] = pool
	}

	return &Registry{
		pools: seeded,
	}
}

// Get returns the current pool for the requested chain and
// whether the chain is supported
func (r *Registry) Get(chainID string) (Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, found := r.pools[chainID]
	return pool, found
}

// Set swaps in a refreshed pool for the pool's chain,
// rejecting pools that fail validation so a bad prober
// publish never clobbers a working pool
func (r *Registry) Set(pool Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pools[pool.ChainID] = pool
	return nil
}

// Chains returns the chain slugs currently registered
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chains := make([]string, 0, len(r.pools))
	for chainID := range r.pools {
		chains = append(chains, chainID)
	}
	return chains
}
