package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/negroni"

	"github.com/veil-labs/veil-proxy-service/admission"
	"github.com/veil-labs/veil-proxy-service/decode"
	"github.com/veil-labs/veil-proxy-service/logging"
)

const (
	DecodedRequestContextKey = "X-VEIL-PROXY-DECODED-REQUEST-BODY"
	RawRequestBodyContextKey = "X-VEIL-PROXY-RAW-REQUEST-BODY"
	ChainIDContextKey        = "X-VEIL-PROXY-CHAIN-ID"
	TenantTokenContextKey    = "X-VEIL-PROXY-TENANT-TOKEN"
	AdmissionContextKey      = "X-VEIL-PROXY-ADMISSION-DECISION"
	CachedContextKey         = "X-VEIL-PROXY-CACHED"
	CachedResponseContextKey = "X-VEIL-PROXY-CACHED-RESPONSE"

	CacheHeaderKey       = "X-Veil-Proxy-Cache-Status"
	CacheHitHeaderValue  = "HIT"
	CacheMissHeaderValue = "MISS"

	QuotaRemainingHeaderKey = "X-Veil-Proxy-Quota-Remaining"
)

// createAccessLogMiddleware returns a handler that wraps the response
// writer to capture the final status code and logs one line per
// request after the chain completes
func createAccessLogMiddleware(next http.Handler, serviceLogger *logging.ServiceLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestAt := time.Now()

		lrw := negroni.NewResponseWriter(w)

		next.ServeHTTP(lrw, r)

		serviceLogger.Debug().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", lrw.Status()).
			Int("size", lrw.Size()).
			Dur("latency", time.Since(requestAt)).
			Msg("request served")
	}
}

// createPathExtractionMiddleware returns a handler that extracts the
// chain slug and the optional tenant bearer token from the request.
// The public path is /{chain}; the authenticated path is
// /{chain}/{token}, with an Authorization bearer header accepted as
// an alternative token carrier.
func createPathExtractionMiddleware(next http.Handler, serviceLogger *logging.ServiceLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		segments := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

		if len(segments) == 0 || segments[0] == "" || len(segments) > 2 {
			writeErrorResponse(w, ErrorReasonChainNotSupported, fmt.Sprintf("no chain slug in path %s", r.URL.Path), nil)
			return
		}

		chainID := segments[0]

		var token string
		if len(segments) == 2 {
			token = segments[1]
		}
		if token == "" {
			token = bearerToken(r)
		}

		requestContext := context.WithValue(r.Context(), ChainIDContextKey, chainID)
		requestContext = context.WithValue(requestContext, TenantTokenContextKey, token)

		next.ServeHTTP(w, r.WithContext(requestContext))
	}
}

func bearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")

	const bearerPrefix = "Bearer "
	if strings.HasPrefix(authorization, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(authorization, bearerPrefix))
	}

	return ""
}

// createRequestDecodingMiddleware returns a handler that reads the
// request body and if able to decode it to a JSON-RPC request
// envelope adds it as a context key. With this middleware the request
// body is read once and then accessed by all future middleware and
// the final handler via the raw body context key. A body that fails
// to decode skips classification and caching but still proceeds to
// dispatch.
func createRequestDecodingMiddleware(next http.Handler, serviceLogger *logging.ServiceLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rawBody []byte

		if r.Body != nil {
			var err error

			rawBody, err = io.ReadAll(r.Body)

			if err != nil {
				writeErrorResponse(w, ErrorReasonInvalidRequestBody, "unable to read request body", nil)
				return
			}

			// Repopulate the request body for any downstream consumer
			r.Body = io.NopCloser(bytes.NewBuffer(rawBody))
		}

		requestContext := context.WithValue(r.Context(), RawRequestBodyContextKey, rawBody)

		decodedRequest, err := decode.DecodeEVMRPCRequest(rawBody)

		if err != nil {
			serviceLogger.Debug().Msg(fmt.Sprintf("error %s decoding request body %s", err, rawBody))

			next.ServeHTTP(w, r.WithContext(requestContext))

			return
		}

		requestContext = context.WithValue(requestContext, DecodedRequestContextKey, decodedRequest)

		next.ServeHTTP(w, r.WithContext(requestContext))
	}
}

// createAdmissionMiddleware returns a handler that runs the admission
// check for authenticated requests. Public requests carry no token
// and bypass admission entirely; denied requests never reach the
// cache or an upstream.
func createAdmissionMiddleware(next http.Handler, actor *admission.Actor, serviceLogger *logging.ServiceLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, _ := r.Context().Value(TenantTokenContextKey).(string)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		decision := actor.CheckLimit(r.Context(), token)

		if !decision.Allowed {
			requestID := decodedRequestID(r.Context())

			switch decision.Reason {
			case admission.ReasonMonthlyLimit:
				writeErrorResponse(w, ErrorReasonMonthlyLimit, "monthly request limit exceeded for plan", requestID)
			case admission.ReasonRateLimit:
				writeErrorResponse(w, ErrorReasonRateLimit, "request rate limit exceeded, retry shortly", requestID)
			default:
				writeErrorResponse(w, ErrorReasonTenantNotFound, "no tenant found for provided token", requestID)
			}

			return
		}

		if decision.Remaining >= 0 {
			w.Header().Set(QuotaRemainingHeaderKey, fmt.Sprintf("%d", decision.Remaining))
		}

		decisionContext := context.WithValue(r.Context(), AdmissionContextKey, decision)

		next.ServeHTTP(w, r.WithContext(decisionContext))
	}
}

// decodedRequestID returns the JSON-RPC id of the decoded request in
// context, nil when the request was not decodable
func decodedRequestID(ctx context.Context) interface{} {
	decodedReq, ok := ctx.Value(DecodedRequestContextKey).(*decode.EVMRPCRequestEnvelope)
	if !ok {
		return nil
	}
	return decodedReq.ID
}
