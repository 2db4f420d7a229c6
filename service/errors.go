package service

import (
	"encoding/json"
	"net/http"
)

// ErrorReason identifies a user-visible failure class. Quota and
// burst denials map to distinct HTTP status codes so clients can tell
// "upgrade plan" apart from "slow down and retry shortly".
type ErrorReason string

const (
	ErrorReasonTenantNotFound     ErrorReason = "tenant_not_found"
	ErrorReasonMonthlyLimit       ErrorReason = "monthly_limit_exceeded"
	ErrorReasonRateLimit          ErrorReason = "rate_limit_exceeded"
	ErrorReasonChainNotSupported  ErrorReason = "chain_not_supported"
	ErrorReasonUpstreamError      ErrorReason = "upstream_error"
	ErrorReasonInvalidRequestBody ErrorReason = "invalid_request_body"
)

var errorReasonToHTTPStatus = map[ErrorReason]int{
	ErrorReasonTenantNotFound:     http.StatusUnauthorized,
	ErrorReasonMonthlyLimit:       http.StatusPaymentRequired,
	ErrorReasonRateLimit:          http.StatusTooManyRequests,
	ErrorReasonChainNotSupported:  http.StatusNotFound,
	ErrorReasonUpstreamError:      http.StatusBadGateway,
	ErrorReasonInvalidRequestBody: http.StatusBadRequest,
}

var errorReasonToJSONRPCCode = map[ErrorReason]int{
	ErrorReasonTenantNotFound:     -32001,
	ErrorReasonMonthlyLimit:       -32002,
	ErrorReasonRateLimit:          -32003,
	ErrorReasonChainNotSupported:  -32004,
	ErrorReasonUpstreamError:      -32000,
	ErrorReasonInvalidRequestBody: -32600,
}

// HTTPStatusForReason returns the HTTP status code the reason maps to
func HTTPStatusForReason(reason ErrorReason) int {
	status, exists := errorReasonToHTTPStatus[reason]
	if !exists {
		return http.StatusInternalServerError
	}
	return status
}

type errorResponseBody struct {
	Version string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Error   errorResponseInfo `json:"error"`
}

type errorResponseInfo struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Reason  ErrorReason `json:"reason"`
}

// writeErrorResponse writes a json-rpc styled error body for the
// reason along with its mapped HTTP status code. The request id is
// echoed back when the request body was decodable.
func writeErrorResponse(w http.ResponseWriter, reason ErrorReason, message string, requestID interface{}) {
	body := errorResponseBody{
		Version: "2.0",
		ID:      requestID,
		Error: errorResponseInfo{
			Code:    errorReasonToJSONRPCCode[reason],
			Message: message,
			Reason:  reason,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatusForReason(reason))

	// encoding a flat struct of strings and ints can't fail
	_ = json.NewEncoder(w).Encode(body)
}
