// package dispatch provides upstream node selection and request
// forwarding for the proxy service: round-robin over the chain's
// node pool with a protected relay override for raw transaction
// broadcasts
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/veil-labs/veil-proxy-service/logging"
	"github.com/veil-labs/veil-proxy-service/nodepool"
)

// MethodSendRawTransaction is the broadcast method always routed to a
// chain's protected relay when one is configured, so signed
// transactions never enter the public mempool via load-balanced nodes
const MethodSendRawTransaction = "eth_sendRawTransaction"

// ServiceAuthHeaderName carries the internal auth token expected by
// upstream providers fronted by this service
const ServiceAuthHeaderName = "X-Veil-Service-Auth"

const DefaultUpstreamTimeout = 30 * time.Second

// ErrChainNotSupported is returned when no pool exists for the
// requested chain
var ErrChainNotSupported = errors.New("chain is not supported")

// UpstreamResponse wraps the upstream's answer to a forwarded request
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// CacheEligible is true only for 2xx upstream responses;
	// callers must not populate the cache otherwise
	CacheEligible bool
}

// DispatcherConfig wraps values used for creating a new Dispatcher
type DispatcherConfig struct {
	Pools *nodepool.Registry
	// UpstreamTimeout bounds the whole upstream exchange,
	// defaulting to DefaultUpstreamTimeout
	UpstreamTimeout time.Duration
	// ServiceAuthToken, when set, is sent on every upstream request
	// in the ServiceAuthHeaderName header
	ServiceAuthToken string
	Logger           *logging.ServiceLogger
}

// Dispatcher selects an upstream node per chain and forwards
// requests to it. The round-robin counter is scoped to one running
// process, so global balance across instances is approximate.
type Dispatcher struct {
	pools            *nodepool.Registry
	client           *http.Client
	serviceAuthToken string
	counter          uint64

	*logging.ServiceLogger
}

// NewDispatcher returns a new Dispatcher using the provided config
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	timeout := config.UpstreamTimeout
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}

	return &Dispatcher{
		pools:            config.Pools,
		client:           &http.Client{Timeout: timeout},
		serviceAuthToken: config.ServiceAuthToken,
		ServiceLogger:    config.Logger,
	}
}

// Forward sends the request body to an upstream node for the chain
// and returns the upstream's response. Transport failures synthesize
// a 502 response rather than retrying against another node; the
// request is cheap to retry at the client.
func (d *Dispatcher) Forward(ctx context.Context, chainID string, method string, body []byte) (*UpstreamResponse, error) {
	pool, found := d.pools.Get(chainID)
	if !found {
		return nil, ErrChainNotSupported
	}

	nodeURL := d.selectNode(pool, method)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	// the upstream sees only a minimal header set: no inbound
	// connection or caller-identifying headers are carried over
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if d.serviceAuthToken != "" {
		request.Header.Set(ServiceAuthHeaderName, d.serviceAuthToken)
	}

	response, err := d.client.Do(request)
	if err != nil {
		d.Error().Err(err).Msg(fmt.Sprintf("upstream request to %s failed", nodeURL))
		return synthesizeBadGateway(err), nil
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		d.Error().Err(err).Msg(fmt.Sprintf("reading upstream response from %s failed", nodeURL))
		return synthesizeBadGateway(err), nil
	}

	return &UpstreamResponse{
		StatusCode:    response.StatusCode,
		Header:        response.Header,
		Body:          responseBody,
		CacheEligible: response.StatusCode >= 200 && response.StatusCode <= 299,
	}, nil
}

// selectNode picks the upstream url for the call: the protected
// relay for raw transaction broadcasts when the chain has one,
// round-robin over the pool otherwise
func (d *Dispatcher) selectNode(pool nodepool.Pool, method string) string {
	if method == MethodSendRawTransaction && pool.ProtectedRelay != "" {
		return pool.ProtectedRelay
	}

	next := atomic.AddUint64(&d.counter, 1) - 1

	return pool.Nodes[next%uint64(len(pool.Nodes))]
}

type jsonRpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRpcErrorEnvelope struct {
	Version string           `json:"jsonrpc"`
	Error   jsonRpcErrorBody `json:"error"`
}

// synthesizeBadGateway builds the 502 response returned to the
// caller when the upstream exchange fails at the transport layer
func synthesizeBadGateway(cause error) *UpstreamResponse {
	envelope := jsonRpcErrorEnvelope{
		Version: "2.0",
		Error: jsonRpcErrorBody{
			Code:    -32000,
			Message: fmt.Sprintf("upstream request failed: %s", cause),
		},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		body = []byte(`{"jsonrpc":"2.0","error":{"code":-32000,"message":"upstream request failed"}}`)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return &UpstreamResponse{
		StatusCode:    http.StatusBadGateway,
		Header:        header,
		Body:          body,
		CacheEligible: false,
	}
}
