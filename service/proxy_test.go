package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-labs/veil-proxy-service/decode"
)

const testBlockRequestBody = `{"jsonrpc":"2.0","id":1,"method":"eth_getBlockByNumber","params":["0x2",false]}`

func testBlockRequestEnvelope() *decode.EVMRPCRequestEnvelope {
	return &decode.EVMRPCRequestEnvelope{
		JSONRPCVersion: "2.0",
		ID:             float64(1),
		Method:         "eth_getBlockByNumber",
		Params:         []interface{}{"0x2", false},
	}
}

func TestUnitTestCacheableRequestCarriesMissHeader(t *testing.T) {
	upstream := newTestUpstream(t, `{"jsonrpc":"2.0","id":1,"result":{"number":"0x2"}}`)
	_, handler := newTestProxyService(t, upstream.URL, nil)

	recorder := serveRequest(handler, "/eth-mainnet", testBlockRequestBody)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, CacheMissHeaderValue, recorder.Header().Get(CacheHeaderKey))
}

func TestUnitTestNeverCacheableRequestCarriesNoCacheHeader(t *testing.T) {
	upstream := newTestUpstream(t, `{"jsonrpc":"2.0","id":1,"result":"0x5"}`)
	_, handler := newTestProxyService(t, upstream.URL, nil)

	recorder := serveRequest(handler, "/eth-mainnet", `{"jsonrpc":"2.0","id":1,"method":"eth_getTransactionCount","params":["0xabc","latest"]}`)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, recorder.Header().Get(CacheHeaderKey))
}

func TestUnitTestCachedRequestServedWithoutUpstreamCall(t *testing.T) {
	var upstreamCalls int64

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&upstreamCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"number":"0x2"}}`))
	}))
	t.Cleanup(upstream.Close)

	service, handler := newTestProxyService(t, upstream.URL, nil)

	// populate the cache out of band the way the proxy handler does
	upstreamHeader := http.Header{}
	upstreamHeader.Set("Content-Type", "application/json")

	err := service.Cache.Store(
		context.Background(),
		"eth-mainnet",
		testBlockRequestEnvelope(),
		[]byte(`{"jsonrpc":"2.0","id":1,"result":{"number":"0x2"}}`),
		upstreamHeader,
	)
	require.NoError(t, err)

	recorder := serveRequest(handler, "/eth-mainnet", testBlockRequestBody)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, CacheHitHeaderValue, recorder.Header().Get(CacheHeaderKey))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"number":"0x2"}}`, recorder.Body.String())
	assert.Equal(t, int64(0), atomic.LoadInt64(&upstreamCalls))
}

func TestUnitTestCachedResponseEchoesRequestID(t *testing.T) {
	upstream := newTestUpstream(t, `{"jsonrpc":"2.0","id":1,"result":{"number":"0x2"}}`)
	service, handler := newTestProxyService(t, upstream.URL, nil)

	upstreamHeader := http.Header{}
	upstreamHeader.Set("Content-Type", "application/json")

	err := service.Cache.Store(
		context.Background(),
		"eth-mainnet",
		testBlockRequestEnvelope(),
		[]byte(`{"jsonrpc":"2.0","id":1,"result":{"number":"0x2"}}`),
		upstreamHeader,
	)
	require.NoError(t, err)

	// same method and params but a different request id
	recorder := serveRequest(handler, "/eth-mainnet", `{"jsonrpc":"2.0","id":99,"method":"eth_getBlockByNumber","params":["0x2",false]}`)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, CacheHitHeaderValue, recorder.Header().Get(CacheHeaderKey))
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":99,"result":{"number":"0x2"}}`, recorder.Body.String())
}

func TestUnitTestUpstreamErrorStatusPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"node syncing"}}`))
	}))
	t.Cleanup(upstream.Close)

	_, handler := newTestProxyService(t, upstream.URL, nil)

	recorder := serveRequest(handler, "/eth-mainnet", testBlockRequestBody)

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"node syncing"}}`, recorder.Body.String())
}

func TestUnitTestDeadUpstreamReturnsBadGateway(t *testing.T) {
	deadUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadUpstream.Close()

	_, handler := newTestProxyService(t, deadUpstream.URL, nil)

	recorder := serveRequest(handler, "/eth-mainnet", testBlockRequestBody)

	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}
