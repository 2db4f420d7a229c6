package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/veil-labs/veil-proxy-service/admission"
	"github.com/veil-labs/veil-proxy-service/cachepolicy"
	"github.com/veil-labs/veil-proxy-service/clients/cache"
	"github.com/veil-labs/veil-proxy-service/clients/database"
	"github.com/veil-labs/veil-proxy-service/decode"
	"github.com/veil-labs/veil-proxy-service/dispatch"
)

// createCacheLookupMiddleware returns a handler which works in the following way:
// - tries to get the decoded request from context (previous middleware sets it)
// - tries to get a response from the cache
//   - if present sets the cached response in context, marks as cached in
//     context and forwards to the next handler
//   - if not present marks as uncached in context and forwards to the next handler
func (p *ProxyService) createCacheLookupMiddleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !p.Cache.IsCacheEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		uncachedContext := context.WithValue(r.Context(), CachedContextKey, false)

		decodedReq, ok := r.Context().Value(DecodedRequestContextKey).(*decode.EVMRPCRequestEnvelope)
		if !ok {
			// an undecodable body skips the cache but still dispatches
			next.ServeHTTP(w, r.WithContext(uncachedContext))
			return
		}

		chainID, _ := r.Context().Value(ChainIDContextKey).(string)

		cachedQueryResponse, err := p.Cache.Lookup(r.Context(), chainID, decodedReq)
		if err != nil {
			if err != cache.ErrNotFound && err != cachepolicy.ErrRequestIsNotCacheable {
				p.Error().Err(err).Msg("error during getting response from cache")
			}

			next.ServeHTTP(w, r.WithContext(uncachedContext))
			return
		}

		cachedContext := context.WithValue(r.Context(), CachedContextKey, true)
		responseContext := context.WithValue(cachedContext, CachedResponseContextKey, cachedQueryResponse)

		next.ServeHTTP(w, r.WithContext(responseContext))
	}
}

// IsRequestCached returns whether a previous middleware marked the
// request as served from cache
func IsRequestCached(ctx context.Context) bool {
	cached, ok := ctx.Value(CachedContextKey).(bool)
	return ok && cached
}

// createProxyRequestHandler returns the terminal handler of the
// middleware chain: it serves cache hits directly and otherwise
// forwards the request to an upstream node, triggering asynchronous
// cache population and metric persistence after the response is
// written. Neither side effect can delay or fail the response.
func (p *ProxyService) createProxyRequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proxyRequestAt := time.Now()

		chainID, _ := r.Context().Value(ChainIDContextKey).(string)
		rawBody, _ := r.Context().Value(RawRequestBodyContextKey).([]byte)
		decodedReq, decoded := r.Context().Value(DecodedRequestContextKey).(*decode.EVMRPCRequestEnvelope)

		if IsRequestCached(r.Context()) {
			cachedResponse, ok := r.Context().Value(CachedResponseContextKey).(*cachepolicy.QueryResponse)
			if ok {
				for headerName, headerValue := range cachedResponse.HeaderMap {
					w.Header().Set(headerName, headerValue)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(CacheHeaderKey, CacheHitHeaderValue)
				w.WriteHeader(http.StatusOK)
				w.Write(cachedResponse.JsonRpcResponseResult)

				p.emitRequestMetric(r, chainID, decodedReq, http.StatusOK, true, time.Since(proxyRequestAt))
				return
			}

			p.Error().Msg("request marked as cached but no cached response found in context")
		}

		var method string
		if decoded {
			method = decodedReq.Method
		}

		upstreamResponse, err := p.dispatcher.Forward(r.Context(), chainID, method, rawBody)
		if err != nil {
			requestID := decodedRequestID(r.Context())

			if errors.Is(err, dispatch.ErrChainNotSupported) {
				writeErrorResponse(w, ErrorReasonChainNotSupported, fmt.Sprintf("chain %s is not supported", chainID), requestID)
				return
			}

			p.Error().Err(err).Msg("unable to forward request upstream")
			writeErrorResponse(w, ErrorReasonUpstreamError, "unable to forward request upstream", requestID)
			return
		}

		// the cache status header is only present for cacheable requests
		if p.Cache.IsCacheEnabled() && decoded && p.Cache.TTL(decodedReq) > 0 {
			w.Header().Set(CacheHeaderKey, CacheMissHeaderValue)
		}

		if contentType := upstreamResponse.Header.Get("Content-Type"); contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}

		// non-2xx upstream responses pass through with status and body preserved
		w.WriteHeader(upstreamResponse.StatusCode)
		w.Write(upstreamResponse.Body)

		requestRoundtrip := time.Since(proxyRequestAt)

		if p.Cache.IsCacheEnabled() && decoded && upstreamResponse.CacheEligible {
			go p.populateCache(chainID, decodedReq, upstreamResponse)
		}

		p.emitRequestMetric(r, chainID, decodedReq, upstreamResponse.StatusCode, false, requestRoundtrip)
	}
}

// populateCache writes a successful upstream response to the cache
// out of band of the response path, absorbing every error
func (p *ProxyService) populateCache(chainID string, decodedReq *decode.EVMRPCRequestEnvelope, upstreamResponse *dispatch.UpstreamResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
	defer cancel()

	err := p.Cache.Store(ctx, chainID, decodedReq, upstreamResponse.Body, upstreamResponse.Header)
	if err != nil && err != cachepolicy.ErrRequestIsNotCacheable && err != cachepolicy.ErrResponseIsNotCacheable && err != cachepolicy.ErrResponseIsNotFinal {
		p.Error().Err(err).Msg("can't cache upstream response")
	}
}

// emitRequestMetric persists a metric for the proxied request on a
// background goroutine, absorbing every error
func (p *ProxyService) emitRequestMetric(r *http.Request, chainID string, decodedReq *decode.EVMRPCRequestEnvelope, statusCode int, cacheHit bool, latency time.Duration) {
	var methodName string
	var blockNumber *int64

	if decodedReq != nil {
		methodName = decodedReq.Method

		if decode.MethodHasBlockRefParam(decodedReq.Method) {
			parsed, err := decode.ParseBlockRefFromParams(decodedReq.Method, decodedReq.Params)
			if err == nil {
				blockNumber = &parsed
			}
		}
	}

	var planID string
	if decision, ok := r.Context().Value(AdmissionContextKey).(admission.Decision); ok {
		planID = decision.PlanID
	}

	metric := &database.ProxiedRequestMetric{
		ChainID:                     chainID,
		MethodName:                  methodName,
		BlockNumber:                 blockNumber,
		ResponseLatencyMilliseconds: latency.Milliseconds(),
		ResponseHTTPStatusCode:      int64(statusCode),
		CacheHit:                    cacheHit,
		PlanID:                      planID,
		RequestTime:                 time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricWriteTimeout)
		defer cancel()

		if err := p.MetricsStore.SaveProxiedRequestMetric(ctx, metric); err != nil {
			p.Error().Err(err).Msg("can't save proxied request metric")
		}
	}()
}

const (
	cacheWriteTimeout  = 10 * time.Second
	metricWriteTimeout = 10 * time.Second
)
