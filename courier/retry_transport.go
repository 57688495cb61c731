package courier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// retryTransport owns the attempt loop: it turns one logical request into a
// sequence of physical attempts, resetting the body, reselecting a node
// (via the tried-host set consumed by the node layer below), and delaying
// between attempts per the retry policy.
//
// The loop is an explicit state machine — select, attempt, classify, reset,
// delay — so budget and cancellation semantics stay independently testable.
type retryTransport struct {
	base            http.RoundTripper
	cfg             ServiceConfig
	idempotency     Idempotency
	serverQos       ServerQosMode
	followRedirects bool
	backoffProvider func() backoff.BackOff
	clock           clockwork.Clock
	metrics         *clientMetrics
	logger          zerolog.Logger
}

func newRetryTransport(base http.RoundTripper, c *clientConfig, svc ServiceConfig) *retryTransport {
	return &retryTransport{
		base:            base,
		cfg:             svc,
		idempotency:     c.idempotency,
		serverQos:       c.serverQos,
		followRedirects: c.followRedirects,
		backoffProvider: c.backoffProvider,
		clock:           c.clock,
		metrics:         c.metrics,
		logger:          c.logger,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	st := requestStateFromContext(ctx)
	if st == nil {
		st = newRequestState(nil)
		ctx = withRequestState(ctx, st)
		req = req.WithContext(ctx)
	}

	var delay backoff.BackOff
	if t.backoffProvider != nil {
		delay = t.backoffProvider()
	}
	policy := newRetryPolicy(t.cfg, t.idempotency, t.serverQos, delay)

	var lastErr error
	var stream *bodyStream
	// closeStream joins the previous attempt's body producer: after it
	// returns, no goroutine touches the body until the next attempt starts
	// its own producer.
	closeStream := func() {
		if stream != nil {
			//nolint:errcheck // the abandoned producer's error is irrelevant
			stream.Close()
			stream = nil
		}
	}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			closeStream()
			if st.body != nil && st.body.needsReset {
				if !st.body.Reset() {
					// The body refused to rewind: the logical request is
					// permanently non-retryable and the last failure stands.
					t.logger.Debug().Int("attempt", attempt-1).Msg("body reset refused, aborting retries")
					if lastErr == nil {
						lastErr = ErrBodyNotResettable
					}
					return nil, lastErr
				}
			}
		}

		st.attempts = attempt
		var attemptReq *http.Request
		attemptReq, stream = t.prepareAttempt(req, st)
		resp, err := t.base.RoundTrip(attemptReq)

		if err != nil {
			if ctx.Err() != nil {
				// Caller-initiated cancellation or logical deadline: no
				// retry, no pending delay.
				closeStream()
				return nil, err
			}

			var cerr *ConfigError
			if errors.As(err, &cerr) {
				// Unusable configuration is fatal: no classification, no
				// budget, no delay.
				closeStream()
				return nil, err
			}

			terr := classifyTransportError(err)
			lastErr = terr
			decision := policy.ShouldRetryTransport(attempt, req.Method, terr)
			if !decision.Retry {
				closeStream()
				if policy.maxAttempts > 1 && attempt >= policy.maxAttempts {
					t.metrics.recordRetryExhausted(ctx)
					return nil, &BudgetExhaustedError{Attempts: attempt, Err: terr}
				}
				return nil, terr
			}
			t.logAttemptFailure(attempt, terr.Kind.String(), decision)
			if err := t.waitForRetry(ctx, attempt, decision.Delay); err != nil {
				closeStream()
				return nil, err
			}
			continue
		}

		signal := classifyResponse(resp)
		switch signal.Kind {
		case QosThrottle, QosUnavailable:
			if t.serverQos == ServerQosPropagate {
				// Caller manages backpressure itself; hand the response
				// to the error-mapping layer untouched.
				return resp, nil
			}
			lastErr = &QosError{Signal: signal}
			decision := policy.ShouldRetryQos(attempt, signal)
			if !decision.Retry {
				drainBody(resp)
				closeStream()
				t.metrics.recordRetryExhausted(ctx)
				return nil, &BudgetExhaustedError{Attempts: attempt, Err: lastErr}
			}
			drainBody(resp)
			t.logAttemptFailure(attempt, signal.Kind.String(), decision)
			if err := t.waitForRetry(ctx, attempt, decision.Delay); err != nil {
				closeStream()
				return nil, err
			}
			continue

		case QosRedirect:
			if !t.followRedirects || attempt >= policy.maxAttempts {
				return resp, nil
			}
			target, perr := resp.Request.URL.Parse(signal.Location)
			if perr != nil {
				return resp, nil
			}
			drainBody(resp)
			st.redirect = target
			t.logger.Debug().Int("attempt", attempt).Str("location", target.String()).Msg("following redirect")
			continue

		default:
			// Success and service errors are terminal for the retry layer;
			// the error-mapping layer above owns the error taxonomy.
			return resp, nil
		}
	}
}

// prepareAttempt clones the logical request for one physical attempt and
// attaches a fresh body. Streamed bodies get a new producer per attempt so
// chunks always restart from the beginning after a reset; the returned
// stream is the handle the retry loop joins before the next attempt.
func (t *retryTransport) prepareAttempt(req *http.Request, st *requestState) (*http.Request, *bodyStream) {
	clone := req.Clone(req.Context())
	if st.body != nil {
		stream := attachBody(clone, st.body)
		if stream != nil {
			// Recorded here, before the producer starts, so the loop only
			// ever consults state it wrote itself.
			st.body.needsReset = true
		}
		return clone, stream
	}
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			clone.Body = body
		}
	}
	return clone, nil
}

// waitForRetry suspends until the backoff delay elapses or the caller
// cancels. The injected clock keeps delays deterministic under test.
func (t *retryTransport) waitForRetry(ctx context.Context, attempt int, delay time.Duration) error {
	t.metrics.recordRetryAttempt(ctx, attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-t.clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *retryTransport) logAttemptFailure(attempt int, reason string, decision RetryDecision) {
	t.logger.Debug().
		Int("attempt", attempt).
		Str("reason", reason).
		Dur("delay", decision.Delay).
		Msg("attempt failed, retrying")
}

// drainBody discards and closes a response body that will not be surfaced,
// so the underlying connection can be reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	//nolint:errcheck // best-effort drain before close
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// urlFromPath builds the per-request relative URL the node layer later
// resolves against the selected host.
func urlFromPath(path string, query url.Values) *url.URL {
	u := &url.URL{Path: path}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u
}
