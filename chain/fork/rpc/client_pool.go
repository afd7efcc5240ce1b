package rpc

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/crytic/medusa-geth/rpc"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

// DefaultMaxRetries is the number of attempts made for each request before its error is reported.
const DefaultMaxRetries = 3

// retryBackoff is the base delay between attempts. Attempt n waits n times this long.
var retryBackoff = 100 * time.Millisecond

// ClientPool spreads JSON-RPC requests over a fixed number of connections to one endpoint. Concurrent requests with
// the same method and arguments share a single network round trip.
type ClientPool struct {
	rpcClients       []*rpc.Client
	currentClientIdx int
	clientLock       sync.Mutex

	inflightRequests map[requestKey]*inflightRequest
	inflightLock     sync.Mutex

	endpoint   string
	maxRetries int
}

// NewClientPool dials poolSize connections to endpoint.
func NewClientPool(endpoint string, poolSize uint) (*ClientPool, error) {
	if poolSize == 0 {
		poolSize = 1
	}
	pool := &ClientPool{
		rpcClients:       make([]*rpc.Client, poolSize),
		inflightRequests: make(map[requestKey]*inflightRequest),
		endpoint:         endpoint,
		maxRetries:       DefaultMaxRetries,
	}

	for i := uint(0); i < poolSize; i++ {
		client, err := rpc.Dial(endpoint)
		if err != nil {
			pool.Close()
			return nil, errors.Wrapf(err, "could not dial %s", endpoint)
		}
		pool.rpcClients[i] = client
	}
	return pool, nil
}

// Endpoint returns the URL the pool is connected to.
func (c *ClientPool) Endpoint() string {
	return c.endpoint
}

// Close closes every connection.
func (c *ClientPool) Close() {
	for _, client := range c.rpcClients {
		if client != nil {
			client.Close()
		}
	}
}

// ExecuteRequestBlocking performs a request and decodes its result into result, which must be a pointer.
func (c *ClientPool) ExecuteRequestBlocking(ctx context.Context, result any, method string, args ...any) error {
	pending, err := c.ExecuteRequestAsync(ctx, method, args...)
	if err != nil {
		return err
	}
	return pending.GetResultBlocking(ctx, result)
}

// ExecuteRequestAsync starts a request, or joins an identical one already in flight, and returns a handle to its
// result.
func (c *ClientPool) ExecuteRequestAsync(ctx context.Context, method string, args ...any) (*PendingResult, error) {
	key, err := makeRequestKey(method, args...)
	if err != nil {
		return nil, err
	}

	c.inflightLock.Lock()
	defer c.inflightLock.Unlock()
	if inflight, exists := c.inflightRequests[key]; exists {
		return newPendingResult(inflight), nil
	}

	inflight := &inflightRequest{Done: make(chan struct{})}
	c.inflightRequests[key] = inflight
	go c.launchRequest(ctx, c.getClient(), key, inflight, method, args...)
	return newPendingResult(inflight), nil
}

func (c *ClientPool) getClient() *rpc.Client {
	c.clientLock.Lock()
	defer c.clientLock.Unlock()

	client := c.rpcClients[c.currentClientIdx]
	c.currentClientIdx = (c.currentClientIdx + 1) % len(c.rpcClients)
	return client
}

// launchRequest performs the request with linear backoff between attempts, then publishes the outcome and removes
// the request from the in-flight set so later requests hit the network again.
func (c *ClientPool) launchRequest(ctx context.Context, client *rpc.Client, key requestKey, request *inflightRequest, method string, args ...any) {
	defer func() {
		c.inflightLock.Lock()
		delete(c.inflightRequests, key)
		c.inflightLock.Unlock()
		close(request.Done)
	}()

	var err error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		var result json.RawMessage
		err = client.CallContext(ctx, &result, method, args...)
		if err == nil {
			request.Result = result
			return
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < c.maxRetries {
			select {
			case <-time.After(time.Duration(attempt) * retryBackoff):
			case <-ctx.Done():
			}
		}
	}
	request.Error = errors.Wrapf(err, "%s failed", method)
}
