package courier

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Client issues logical requests to one service by name. The service's host
// list, timeouts, and retry budget come from a ServiceConfig; the client
// handles node selection, retries, and failover behind a single Do call.
//
// A Client is safe for concurrent use. Configuration reloads (via
// ClientFactory) swap the internal state atomically without disturbing
// in-flight requests.
type Client struct {
	cfg         *clientConfig
	state       atomic.Pointer[clientState]
	unsubscribe func()
}

// NewClient builds a client for the given service from a static
// configuration. Returns a ConfigError when a configured base URI is
// malformed; an empty host list is accepted and makes every request
// fail fast.
func NewClient(service string, svc ServiceConfig, opts ...Option) (*Client, error) {
	cfg := newClientConfig(service, opts...)

	metrics, err := newClientMetrics(cfg.meter(), service)
	if err != nil {
		return nil, err
	}
	cfg.metrics = metrics

	state, err := newClientState(cfg, svc.withDefaults())
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	c.state.Store(state)
	return c, nil
}

// Do executes one logical request and returns the response. The request may
// be retried against multiple hosts per the client's retry policy; the
// returned response is always from the final attempt.
//
// Error returns follow the client's error taxonomy: TransportError,
// QosError, ServiceError (possibly wrapped), BudgetExhaustedError, or
// ConfigError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	state := c.state.Load()

	if state.limiter != nil {
		if err := state.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	st := newRequestState(req.Body)
	ctx = withRequestState(ctx, st)

	// The URL is relative here; the node layer resolves it against the
	// selected host per attempt.
	hreq := (&http.Request{
		Method:     method,
		URL:        urlFromPath(req.Path, req.Query),
		Header:     make(http.Header),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}).WithContext(ctx)
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	logRequest(c.cfg.logger, c.cfg.service, hreq)
	start := time.Now()

	resp, err := state.pipeline.RoundTrip(hreq)
	if err != nil {
		return nil, err
	}

	logResponse(c.cfg.logger, c.cfg.service, resp, st.attempts, time.Since(start))
	return newResponse(resp), nil
}

// Get issues a GET request for the given path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// Post issues a POST request with the given body.
func (c *Client) Post(ctx context.Context, path string, body Body) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Close releases the client's configuration subscription, if any. Requests
// already in flight are unaffected.
func (c *Client) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}
