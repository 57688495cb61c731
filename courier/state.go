package courier

import (
	"net/http"

	"golang.org/x/time/rate"
)

// clientState is one immutable snapshot of a client: the composed transport
// pipeline plus the node selector it routes through. Configuration reloads
// build a new state and swap it in atomically; in-flight requests keep the
// snapshot they started with.
type clientState struct {
	service  string
	svc      ServiceConfig
	pipeline http.RoundTripper
	selector *nodeSelector
	limiter  *rate.Limiter
}

// newClientState composes the transport pipeline bottom-up:
//
//	pooled transport
//	  -> per-attempt timeout
//	  -> node selection
//	  -> retry loop
//	  -> circuit breaker (optional)
//	  -> error mapping
//	  -> gzip
//	  -> user agent / request id
//	  -> tracing
func newClientState(cfg *clientConfig, svc ServiceConfig) (*clientState, error) {
	selector, err := newNodeSelector(cfg.service, svc.URIs, cfg.hostMetrics)
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = buildPooledTransport(cfg, svc)
	rt = newTimeoutTransport(rt, svc.RequestTimeout)
	rt = newNodeTransport(rt, selector, cfg.hostMetrics, cfg.service)
	rt = newRetryTransport(rt, cfg, svc)
	if cfg.breaker != nil {
		rt = newBreakerTransport(rt, cfg.service, *cfg.breaker)
	}
	rt = newErrorMappingTransport(rt, cfg.serviceErrorMode)
	rt = newGzipTransport(rt)
	rt = newUserAgentTransport(rt, cfg.userAgent)
	rt = newTraceTransport(rt, cfg.service, cfg.tracer(), cfg.metrics)

	return &clientState{
		service:  cfg.service,
		svc:      svc,
		pipeline: rt,
		selector: selector,
		limiter:  cfg.rateLimit,
	}, nil
}
