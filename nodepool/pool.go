// package nodepool provides the per chain registry of upstream
// node urls consumed by the dispatcher for request forwarding.
// Pools are produced externally by the health prober and are
// read-only from the perspective of this service.
package nodepool

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Pool contains the upstream urls for a single chain
type Pool struct {
	// ChainID is the chain slug the pool serves, e.g. "ethereum"
	ChainID string `json:"chain_id"`
	// Nodes is the ordered list of upstream urls used for round-robin selection
	Nodes []string `json:"nodes"`
	// ArchiveNodes is the optional subset of Nodes capable of serving historical state
	ArchiveNodes []string `json:"archive_nodes,omitempty"`
	// ProtectedRelay is the optional url used for sensitive broadcast calls
	ProtectedRelay string `json:"protected_relay,omitempty"`
}

// Validate checks that the pool has at least one node and that
// every configured url parses, returning error (if any)
func (p Pool) Validate() error {
	if p.ChainID == "" {
		return fmt.Errorf("pool is missing a chain id")
	}

	if len(p.Nodes) == 0 {
		return fmt.Errorf("pool for chain %s has no nodes", p.ChainID)
	}

	for _, node := range p.Nodes {
		if _, err := url.ParseRequestURI(node); err != nil {
			return fmt.Errorf("invalid node url %s for chain %s: %w", node, p.ChainID, err)
		}
	}

	if p.ProtectedRelay != "" {
		if _, err := url.ParseRequestURI(p.ProtectedRelay); err != nil {
			return fmt.Errorf("invalid protected relay url %s for chain %s: %w", p.ProtectedRelay, p.ChainID, err)
		}
	}

	return nil
}

// ParsePools parses a json encoded map of chain slug to pool,
// validating each pool, returning the parsed map and error (if any)
func ParsePools(raw string) (map[string]Pool, error) {
	pools := make(map[string]Pool)

	err := json.Unmarshal([]byte(raw), &pools)
	if err != nil {
		return nil, fmt.Errorf("unable to parse node pool map from %s: %w", raw, err)
	}

	for chainID, pool := range pools {
		// the map key is authoritative for the chain slug
		pool.ChainID = chainID
		pools[chainID] = pool

		if err := pool.Validate(); err != nil {
			return nil, err
		}
	}

	return pools, nil
}
