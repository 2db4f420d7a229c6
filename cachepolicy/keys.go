package cachepolicy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veil-labs/veil-proxy-service/decode"
)

type CacheItemType int

const (
	CacheItemTypeQuery CacheItemType = iota + 1
)

func (t CacheItemType) String() string {
	switch t {
	case CacheItemTypeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// BuildCacheKey joins the chain namespace, item type and parts into
// the externally visible cache key
func BuildCacheKey(chainID string, cacheItemType CacheItemType, parts []string) string {
	fullParts := append(
		[]string{
			chainID,
			cacheItemType.String(),
		},
		parts...,
	)

	return strings.Join(fullParts, ":")
}

// DeriveQueryKey calculates the cache key for a request.
// The canonical form hashed covers only the method name and params,
// so requests differing solely in id or jsonrpc version share one
// entry, while the chain namespace prefix keeps identical calls on
// different chains apart.
func DeriveQueryKey(
	chainID string,
	req *decode.EVMRPCRequestEnvelope,
) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request shouldn't be nil")
	}

	serializedParams, err := json.Marshal(req.Params)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0)
	data = append(data, []byte(req.Method)...)
	data = append(data, serializedParams...)

	hashedReq := crypto.Keccak256Hash(data)

	parts := []string{
		req.Method,
		hashedReq.Hex(),
	}

	return BuildCacheKey(chainID, CacheItemTypeQuery, parts), nil
}
