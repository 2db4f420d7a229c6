package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitTestHTTPStatusForReason(t *testing.T) {
	testCases := []struct {
		desc           string
		reason         ErrorReason
		expectedStatus int
	}{
		{
			desc:           "unknown tenant maps to unauthorized",
			reason:         ErrorReasonTenantNotFound,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			desc:           "exhausted monthly quota maps to payment required",
			reason:         ErrorReasonMonthlyLimit,
			expectedStatus: http.StatusPaymentRequired,
		},
		{
			desc:           "burst denial maps to too many requests",
			reason:         ErrorReasonRateLimit,
			expectedStatus: http.StatusTooManyRequests,
		},
		{
			desc:           "unsupported chain maps to not found",
			reason:         ErrorReasonChainNotSupported,
			expectedStatus: http.StatusNotFound,
		},
		{
			desc:           "upstream failure maps to bad gateway",
			reason:         ErrorReasonUpstreamError,
			expectedStatus: http.StatusBadGateway,
		},
		{
			desc:           "unreadable body maps to bad request",
			reason:         ErrorReasonInvalidRequestBody,
			expectedStatus: http.StatusBadRequest,
		},
		{
			desc:           "unmapped reason maps to internal server error",
			reason:         ErrorReason("mystery"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expectedStatus, HTTPStatusForReason(tc.reason))
		})
	}
}

func TestUnitTestWriteErrorResponse(t *testing.T) {
	recorder := httptest.NewRecorder()

	writeErrorResponse(recorder, ErrorReasonRateLimit, "request rate limit exceeded, retry shortly", float64(7))

	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var body errorResponseBody
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	assert.Equal(t, "2.0", body.Version)
	assert.Equal(t, float64(7), body.ID)
	assert.Equal(t, -32003, body.Error.Code)
	assert.Equal(t, ErrorReasonRateLimit, body.Error.Reason)
}
