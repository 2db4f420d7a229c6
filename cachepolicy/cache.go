package cachepolicy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/veil-labs/veil-proxy-service/clients/cache"
	"github.com/veil-labs/veil-proxy-service/decode"
	"github.com/veil-labs/veil-proxy-service/logging"
)

var (
	ErrRequestIsNotCacheable  = errors.New("request is not cacheable")
	ErrResponseIsNotCacheable = errors.New("response is not cacheable")
	ErrResponseIsNotFinal     = errors.New("response is not final")
)

// ServiceCache ties the classification engine to the shared edge
// cache. It can work with any underlying storage implementing the
// simple cache.Cache interface.
type ServiceCache struct {
	cacheClient  cache.Cache
	config       *Config
	cacheEnabled bool
	// whitelistedHeaders is the full set of response headers persisted
	// with a cache entry; everything else, including any
	// session-identifying header, is stripped before the write
	whitelistedHeaders []string

	*logging.ServiceLogger
}

// NewServiceCache returns a ServiceCache using the provided cache
// client, TTL config and response header whitelist
func NewServiceCache(
	cacheClient cache.Cache,
	config *Config,
	cacheEnabled bool,
	whitelistedHeaders []string,
	logger *logging.ServiceLogger,
) *ServiceCache {
	return &ServiceCache{
		cacheClient:        cacheClient,
		config:             config,
		cacheEnabled:       cacheEnabled,
		whitelistedHeaders: whitelistedHeaders,
		ServiceLogger:      logger,
	}
}

// QueryResponse represents the structure stored in the cache for
// every cacheable request
type QueryResponse struct {
	// JsonRpcResponseResult is an EVM JSON-RPC response's result
	JsonRpcResponseResult []byte `json:"json_rpc_response_result"`
	// HeaderMap is a map of HTTP headers cached along with the response
	HeaderMap map[string]string `json:"header_map"`
}

// Lookup derives the cache key for the request and attempts to fetch
// a previously cached response for it.
// NOTE: only the JSON-RPC response's result is stored in the cache;
// the response's ID and Version are reconstructed to match the request.
func (c *ServiceCache) Lookup(
	ctx context.Context,
	chainID string,
	req *decode.EVMRPCRequestEnvelope,
) (*QueryResponse, error) {
	if req == nil {
		return nil, ErrRequestIsNotCacheable
	}

	ttl := c.config.Classify(req.Method, req.Params)
	if ttl <= 0 {
		return nil, ErrRequestIsNotCacheable
	}

	key, err := DeriveQueryKey(chainID, req)
	if err != nil {
		return nil, err
	}

	queryResponseInJSON, err := c.cacheClient.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var queryResponse QueryResponse
	if err := json.Unmarshal(queryResponseInJSON, &queryResponse); err != nil {
		return nil, err
	}

	// JSON-RPC response's ID and Version should match the JSON-RPC request
	id, err := json.Marshal(req.ID)
	if err != nil {
		return nil, err
	}
	response := JsonRpcResponse{
		Version: req.JSONRPCVersion,
		ID:      id,
		Result:  queryResponse.JsonRpcResponseResult,
	}
	responseInJSON, err := json.Marshal(response)
	if err != nil {
		return nil, err
	}
	responseInJSON = append(responseInJSON, '\n')

	queryResponse.JsonRpcResponseResult = responseInJSON

	return &queryResponse, nil
}

// Store classifies the request, validates the upstream response and
// writes it to the cache under the request's derived key with the
// classified TTL. A TTL of zero is a no-op. Store runs out of band of
// the response path, so every error is reported only to the caller
// for logging and never surfaces to the user-facing request.
func (c *ServiceCache) Store(
	ctx context.Context,
	chainID string,
	req *decode.EVMRPCRequestEnvelope,
	responseInBytes []byte,
	header http.Header,
) error {
	if req == nil {
		return ErrRequestIsNotCacheable
	}

	ttl := c.config.Classify(req.Method, req.Params)
	if ttl <= 0 {
		return ErrRequestIsNotCacheable
	}

	response, err := UnmarshalJsonRpcResponse(responseInBytes)
	if err != nil {
		return fmt.Errorf("can't unmarshal json-rpc response: %w", err)
	}
	// don't cache error or empty responses
	if !response.IsCacheable() {
		return ErrResponseIsNotCacheable
	}
	if !response.IsFinal(req.Method) {
		return ErrResponseIsNotFinal
	}

	key, err := DeriveQueryKey(chainID, req)
	if err != nil {
		return err
	}

	// cache the JSON-RPC response's result along with only the
	// whitelisted headers
	queryResponse := &QueryResponse{
		JsonRpcResponseResult: response.Result,
		HeaderMap:             stripHeaders(header, c.whitelistedHeaders),
	}
	queryResponseInJSON, err := json.Marshal(queryResponse)
	if err != nil {
		return err
	}

	return c.cacheClient.Set(ctx, key, queryResponseInJSON, ttl)
}

func (c *ServiceCache) Healthcheck(ctx context.Context) error {
	return c.cacheClient.Healthcheck(ctx)
}

func (c *ServiceCache) IsCacheEnabled() bool {
	return c.cacheEnabled
}

// TTL exposes the engine's classification for the request so the
// service can decide whether a cache status header applies at all
func (c *ServiceCache) TTL(req *decode.EVMRPCRequestEnvelope) time.Duration {
	if req == nil {
		return 0
	}

	return c.config.Classify(req.Method, req.Params)
}

// stripHeaders reduces a response header set to the whitelisted
// subset cached along with the response
func stripHeaders(header http.Header, whitelistedHeaders []string) map[string]string {
	headersToCache := make(map[string]string, 0)

	for _, headerName := range whitelistedHeaders {
		headerValue := header.Get(headerName)
		if headerValue == "" {
			continue
		}

		headersToCache[headerName] = headerValue
	}

	return headersToCache
}
