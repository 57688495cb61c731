package courier

import (
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Idempotency determines which requests are safe to retry after a failure
// that may have reached the server.
type Idempotency int

const (
	// IdempotencyByMethod treats GET, HEAD, OPTIONS, TRACE, PUT, and
	// DELETE as idempotent. This is the default.
	IdempotencyByMethod Idempotency = iota

	// IdempotencyAlways treats every request as idempotent.
	IdempotencyAlways

	// IdempotencyNever treats no request as idempotent.
	IdempotencyNever
)

func (i Idempotency) idempotent(method string) bool {
	switch i {
	case IdempotencyAlways:
		return true
	case IdempotencyNever:
		return false
	default:
		switch method {
		case http.MethodGet, http.MethodHead, http.MethodOptions,
			http.MethodTrace, http.MethodPut, http.MethodDelete:
			return true
		default:
			return false
		}
	}
}

// ServerQosMode controls how the client reacts to server QoS signals.
type ServerQosMode int

const (
	// ServerQosAutomaticRetry retries throttle/unavailable responses per
	// the retry policy. This is the default.
	ServerQosAutomaticRetry ServerQosMode = iota

	// ServerQosPropagate surfaces 429/503 responses to the caller as a
	// QosError without retrying, for callers that manage backpressure
	// themselves.
	ServerQosPropagate
)

// ServiceErrorMode controls how structured server errors surface.
type ServiceErrorMode int

const (
	// ServiceErrorWrapInNewError wraps the server's error in a generic
	// client error. This is the default.
	ServiceErrorWrapInNewError ServiceErrorMode = iota

	// ServiceErrorPropagateDistinct surfaces the decoded ServiceError
	// directly so callers can branch on its code and parameters.
	ServiceErrorPropagateDistinct
)

// RetryDecision is the policy's verdict on a failed attempt.
type RetryDecision struct {
	Retry bool
	Delay time.Duration
}

var giveUp = RetryDecision{}

// Compile-time check that the jitter strategy satisfies the shared
// backoff contract so custom strategies can be swapped in.
var _ backoff.BackOff = (*exponentialJitterBackOff)(nil)

// exponentialJitterBackOff is full-jitter exponential backoff: the delay
// for attempt n is uniform in [0, min(base<<(n-1), cap)). Full jitter
// spreads retries from many clients failing in lockstep evenly across the
// backoff window.
type exponentialJitterBackOff struct {
	base    time.Duration
	cap     time.Duration
	attempt int

	// randFloat is injectable for deterministic tests.
	randFloat func() float64
}

func newExponentialJitterBackOff(base, cap time.Duration) *exponentialJitterBackOff {
	return &exponentialJitterBackOff{base: base, cap: cap, randFloat: rand.Float64}
}

// NextBackOff implements backoff.BackOff.
func (b *exponentialJitterBackOff) NextBackOff() time.Duration {
	ceiling := b.base << b.attempt
	if ceiling > b.cap || ceiling <= 0 {
		ceiling = b.cap
	}
	b.attempt++
	return time.Duration(b.randFloat() * float64(ceiling))
}

// Reset implements backoff.BackOff.
func (b *exponentialJitterBackOff) Reset() {
	b.attempt = 0
}

// retryPolicy decides whether a failed attempt is retried and how long to
// wait first. One policy instance serves one logical request; its backoff
// state advances with each consulted failure.
type retryPolicy struct {
	maxAttempts  int
	idempotency  Idempotency
	serverQos    ServerQosMode
	delayBackoff backoff.BackOff
}

func newRetryPolicy(cfg ServiceConfig, idempotency Idempotency, serverQos ServerQosMode, delay backoff.BackOff) *retryPolicy {
	if delay == nil {
		delay = newExponentialJitterBackOff(cfg.BackoffBase, cfg.BackoffCap)
	}
	delay.Reset()
	return &retryPolicy{
		maxAttempts:  cfg.MaxRetries + 1,
		idempotency:  idempotency,
		serverQos:    serverQos,
		delayBackoff: delay,
	}
}

// ShouldRetryTransport decides on a transport-level failure. preSendSafe
// marks failures guaranteed to predate the server seeing the request: the
// explicit classification here is that only connect-phase failures are
// pre-send safe, everything else counts as an ambiguous mid-stream failure.
func (p *retryPolicy) ShouldRetryTransport(attempt int, method string, terr *TransportError) RetryDecision {
	if attempt >= p.maxAttempts {
		return giveUp
	}

	preSendSafe := terr.Kind == TransportErrorConnect
	if !preSendSafe && !p.idempotency.idempotent(method) {
		return giveUp
	}

	return RetryDecision{Retry: true, Delay: p.delayBackoff.NextBackOff()}
}

// ShouldRetryQos decides on a server QoS signal. Throttle honors the
// server-supplied delay when present; Unavailable always reselects a node
// immediately with only the computed backoff delay. QoS retries are safe
// for non-idempotent requests because the server explicitly declined to
// process the request.
func (p *retryPolicy) ShouldRetryQos(attempt int, signal QosSignal) RetryDecision {
	if p.serverQos == ServerQosPropagate {
		return giveUp
	}
	if attempt >= p.maxAttempts {
		return giveUp
	}

	delay := p.delayBackoff.NextBackOff()
	if signal.Kind == QosThrottle && signal.RetryAfter > 0 {
		delay = signal.RetryAfter
	}
	return RetryDecision{Retry: true, Delay: delay}
}
