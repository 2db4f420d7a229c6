// package cachepolicy provides the protocol aware cache layer of the
// proxy service: table driven TTL classification of JSON-RPC methods,
// deterministic cache key derivation, and a ServiceCache for reading
// and populating the shared edge cache
package cachepolicy

import (
	"strings"
	"time"

	"github.com/veil-labs/veil-proxy-service/decode"
)

// Config wraps the TTL values assigned to each classification class.
// The thresholds are deployment tunables, not protocol invariants.
type Config struct {
	// StaticTTL is used for methods whose result never changes,
	// e.g. chain id, client version, and content-hash keyed lookups
	StaticTTL time.Duration
	// FixedBlockTTL is used for methods parameterized by a block
	// reference when the reference is a fixed historical block
	FixedBlockTTL time.Duration
	// LogRangeTTL is used for log queries with fully fixed range bounds
	LogRangeTTL time.Duration
	// VolatileTTL is used for methods referencing a moving block tag
	VolatileTTL time.Duration
}

// List of methods whose responses are immutable independent of params:
// protocol identity values and lookups keyed by a content hash
var StaticMethods = []string{
	"eth_chainId",
	"net_version",
	"web3_clientVersion",
	"web3_sha3",
	"eth_protocolVersion",
	"eth_getBlockByHash",
	"eth_getTransactionByHash",
	"eth_getRawTransactionByHash",
	"eth_getTransactionReceipt",
	"eth_getBlockTransactionCountByHash",
	"eth_getUncleCountByBlockHash",
	"eth_getUncleByBlockHashAndIndex",
	"eth_getTransactionByBlockHashAndIndex",
}

// List of methods that must never be served from cache: state
// mutations, signing, account-local dynamic counters, and
// stateful filter / subscription management
var NeverCacheMethods = []string{
	"eth_sendRawTransaction",
	"eth_sendTransaction",
	"eth_sign",
	"eth_signTransaction",
	"eth_signTypedData",
	"eth_getTransactionCount",
	"eth_estimateGas",
	"eth_createAccessList",
	"eth_newFilter",
	"eth_newBlockFilter",
	"eth_newPendingTransactionFilter",
	"eth_uninstallFilter",
	"eth_getFilterChanges",
	"eth_getFilterLogs",
	"eth_subscribe",
	"eth_unsubscribe",
}

// Method namespaces that are never cached: debugging, tracing and
// mempool introspection results depend on node-local state
var neverCacheMethodPrefixes = []string{
	"debug_",
	"trace_",
	"txpool_",
	"personal_",
	"miner_",
}

var (
	staticMethodSet     = toSet(StaticMethods)
	neverCacheMethodSet = toSet(NeverCacheMethods)
)

func toSet(methods []string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		set[method] = struct{}{}
	}
	return set
}

// IsMethodStatic returns true when the method's response is
// immutable regardless of its params
func IsMethodStatic(method string) bool {
	_, static := staticMethodSet[method]
	return static
}

// IsMethodNeverCacheable returns true when the method's response
// must never be served from cache
func IsMethodNeverCacheable(method string) bool {
	if _, never := neverCacheMethodSet[method]; never {
		return true
	}

	for _, prefix := range neverCacheMethodPrefixes {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}

	return false
}

// Classify returns the cache TTL for the provided method and params,
// 0 meaning the request must never be cached. Classification is a pure
// function of its arguments. Unknown methods classify as never cache.
func (c *Config) Classify(method string, params []interface{}) time.Duration {
	if IsMethodNeverCacheable(method) {
		return 0
	}

	if IsMethodStatic(method) {
		return c.StaticTTL
	}

	if decode.MethodHasBlockRefParam(method) {
		blockNumber, err := decode.ParseBlockRefFromParams(method, params)
		if err != nil {
			// an unparseable block reference is never safe to cache
			return 0
		}

		if decode.IsFixedBlockNumber(blockNumber) {
			return c.FixedBlockTTL
		}

		return c.VolatileTTL
	}

	if method == "eth_getLogs" {
		blockRange, err := decode.ParseLogFilterBlockRange(params)
		if err != nil {
			return 0
		}

		if decode.IsFixedBlockNumber(blockRange.FromBlock) && decode.IsFixedBlockNumber(blockRange.ToBlock) {
			return c.LogRangeTTL
		}

		return c.VolatileTTL
	}

	return 0
}
