package courier

import (
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig enables a per-client circuit breaker around the whole
// retry loop. When the breaker is open, logical requests fail fast without
// consuming retry budget or touching the network.
type BreakerConfig struct {
	// MaxRequests is the number of probe requests allowed while half-open.
	// Zero means one.
	MaxRequests uint32

	// Interval is the cyclic period over which the closed-state counters
	// reset. Zero keeps counters for the lifetime of the closed state.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	// Zero means 60s.
	Timeout time.Duration

	// ConsecutiveFailures trips the breaker once this many requests fail
	// in a row. Zero means 5.
	ConsecutiveFailures uint32
}

// errBreakerFailure marks a completed exchange the breaker should count as
// a failure (QoS responses and 5xx). It never escapes this layer.
var errBreakerFailure = errors.New("courier: breaker synthetic failure")

type breakerTransport struct {
	base    http.RoundTripper
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func newBreakerTransport(base http.RoundTripper, service string, cfg BreakerConfig) *breakerTransport {
	consecutive := cfg.ConsecutiveFailures
	if consecutive == 0 {
		consecutive = 5
	}
	settings := gobreaker.Settings{
		Name:        service,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutive
		},
	}
	return &breakerTransport{
		base:    base,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](settings),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.breaker.Execute(func() (*http.Response, error) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			// Count against the breaker but keep the response so the
			// caller still sees the server's answer.
			return resp, errBreakerFailure
		}
		return resp, nil
	})
	if errors.Is(err, errBreakerFailure) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
