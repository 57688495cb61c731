package courier

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// zeroBackOff removes backoff delays so retry tests run without a clock.
type zeroBackOff struct{}

func (zeroBackOff) NextBackOff() time.Duration { return 0 }
func (zeroBackOff) Reset()                     {}

func zeroBackoffProvider() backoff.BackOff { return zeroBackOff{} }

func newTestClient(t *testing.T, mock *MockTransport, svc ServiceConfig, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseTransport(mock),
		WithBackoffProvider(zeroBackoffProvider),
	}, opts...)
	client, err := NewClient("widgets", svc, opts...)
	require.NoError(t, err)
	return client
}

func dialError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestClient_Success(t *testing.T) {
	mock := NewMockTransport().StubResponse(200, `{"ok":true}`)
	client := newTestClient(t, mock, ServiceConfig{URIs: []string{"https://a.example.com/api"}})

	resp, err := client.Get(context.Background(), "/widgets")
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, resp.JSON(&out))
	assert.True(t, out.OK)

	attempts := mock.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, "a.example.com", attempts[0].Host)
	// The request path is joined onto the node's base path.
	assert.Equal(t, "/api/widgets", attempts[0].Path)
}

func TestClient_RequestHeadersStamped(t *testing.T) {
	mock := NewMockTransport().StubResponse(200, "ok")
	client := newTestClient(t, mock,
		ServiceConfig{URIs: []string{"https://a.example.com"}},
		WithUserAgent("widgets-client/1.2"),
	)

	_, err := client.Do(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/ping",
		Header: http.Header{"X-Custom": []string{"yes"}},
	})
	require.NoError(t, err)

	attempts := mock.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, "widgets-client/1.2", attempts[0].Header.Get("User-Agent"))
	assert.Equal(t, "yes", attempts[0].Header.Get("X-Custom"))
	assert.NotEmpty(t, attempts[0].Header.Get("X-Request-Id"))
	assert.Equal(t, "gzip", attempts[0].Header.Get("Accept-Encoding"))
}

func TestClient_FailoverAcrossHosts(t *testing.T) {
	mock := NewMockTransport().
		Enqueue(503, "", nil).
		Enqueue(503, "", nil).
		Enqueue(200, "served", nil)
	client := newTestClient(t, mock, ServiceConfig{URIs: []string{
		"https://a.example.com",
		"https://b.example.com",
		"https://c.example.com",
	}})

	resp, err := client.Get(context.Background(), "/x")
	require.NoError(t, err)
	body, err := resp.String()
	require.NoError(t, err)
	assert.Equal(t, "served", body)

	hosts := mock.Hosts()
	require.Len(t, hosts, 3)
	seen := map[string]struct{}{}
	for _, h := range hosts {
		seen[h] = struct{}{}
	}
	assert.Len(t, seen, 3, "each attempt should land on a distinct host")
}

func TestClient_BudgetExhausted(t *testing.T) {
	mock := NewMockTransport().StubHostError("a.example.com", dialError())
	client := newTestClient(t, mock, ServiceConfig{
		URIs:       []string{"https://a.example.com"},
		MaxRetries: 2,
	})

	_, err := client.Get(context.Background(), "/x")
	var berr *BudgetExhaustedError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 3, berr.Attempts)
	assert.Len(t, mock.Attempts(), 3)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, TransportErrorConnect, terr.Kind)
}

func TestClient_NonIdempotentNotRetried(t *testing.T) {
	// An IO failure on a POST might have reached the server; by-method
	// idempotency refuses to replay it.
	mock := NewMockTransport().StubHostError("a.example.com", errors.New("unexpected EOF"))
	client := newTestClient(t, mock, ServiceConfig{URIs: []string{"https://a.example.com"}})

	_, err := client.Post(context.Background(), "/x", NewBytesBody([]byte("p"), "text/plain"))
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, TransportErrorIO, terr.Kind)
	assert.Len(t, mock.Attempts(), 1)
}

func TestClient_ThrottleHonorsRetryAfter(t *testing.T) {
	mock := NewMockTransport().
		Enqueue(429, "", http.Header{"Retry-After": []string{"1"}}).
		Enqueue(200, "ok", nil)
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, mock,
		ServiceConfig{URIs: []string{"https://a.example.com", "https://b.example.com"}},
		WithClock(clock),
	)

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Get(context.Background(), "/x")
		done <- result{resp, err}
	}()

	// The retry loop must be parked on the server-dictated delay.
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.True(t, res.resp.IsSuccess())
		assert.Len(t, mock.Attempts(), 2)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete after advancing the clock")
	}
}

func TestClient_PropagateQos(t *testing.T) {
	mock := NewMockTransport().StubResponse(429, "")
	client := newTestClient(t, mock,
		ServiceConfig{URIs: []string{"https://a.example.com"}},
		WithServerQos(ServerQosPropagate),
	)

	_, err := client.Get(context.Background(), "/x")
	var qerr *QosError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, QosThrottle, qerr.Signal.Kind)
	assert.Len(t, mock.Attempts(), 1)
}

func TestClient_StreamedBodyReplayedAfterReset(t *testing.T) {
	payload := bytes.Repeat([]byte("data"), 3000) // 12000 bytes
	body := &streamBody{data: payload, chunkSize: 1024, resetOK: true}
	mock := NewMockTransport().
		Enqueue(503, "", nil).
		Enqueue(200, "ok", nil)
	client := newTestClient(t, mock, ServiceConfig{URIs: []string{
		"https://a.example.com",
		"https://b.example.com",
	}})

	resp, err := client.Do(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "/x",
		Body:   body,
	})
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())

	attempts := mock.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, payload, attempts[0].Body)
	assert.Equal(t, payload, attempts[1].Body)
	assert.Equal(t, 2, body.writes)
	assert.Equal(t, 1, body.resets)
}

func TestClient_NonResettableBodyStopsRetries(t *testing.T) {
	body := &streamBody{data: []byte("once"), chunkSize: 4, resetOK: false}
	mock := NewMockTransport().StubResponse(503, "")
	client := newTestClient(t, mock, ServiceConfig{URIs: []string{
		"https://a.example.com",
		"https://b.example.com",
	}})

	_, err := client.Do(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "/x",
		Body:   body,
	})
	var qerr *QosError
	require.ErrorAs(t, err, &qerr)
	assert.Len(t, mock.Attempts(), 1)
	assert.Equal(t, 1, body.resets)
}

func TestClient_FollowsRedirects(t *testing.T) {
	mock := NewMockTransport().
		Enqueue(307, "", http.Header{"Location": []string{"https://b.example.com/other"}}).
		Enqueue(200, "moved", nil)
	client := newTestClient(t, mock, ServiceConfig{URIs: []string{"https://a.example.com"}})

	resp, err := client.Get(context.Background(), "/x")
	require.NoError(t, err)
	body, err := resp.String()
	require.NoError(t, err)
	assert.Equal(t, "moved", body)

	attempts := mock.Attempts()
	require.Len(t, attempts, 2)
	assert.Equal(t, "a.example.com", attempts[0].Host)
	assert.Equal(t, "b.example.com", attempts[1].Host)
	assert.Equal(t, "/other", attempts[1].Path)
}

func TestClient_RedirectsDisabled(t *testing.T) {
	mock := NewMockTransport().
		StubResponse(307, "")
	client := newTestClient(t, mock,
		ServiceConfig{URIs: []string{"https://a.example.com"}},
		WithFollowRedirects(false),
	)

	resp, err := client.Get(context.Background(), "/x")
	require.NoError(t, err)
	assert.Equal(t, 307, resp.StatusCode)
	assert.Len(t, mock.Attempts(), 1)
}

func TestClient_ServiceErrorModes(t *testing.T) {
	const errBody = `{"errorCode":"CONFLICT","errorName":"Widget:AlreadyExists","errorInstanceId":"abc123","parameters":{"widgetId":"w-1"}}`

	t.Run("given wrap mode, then the service error is wrapped", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(409, errBody)
		client := newTestClient(t, mock, ServiceConfig{URIs: []string{"https://a.example.com"}})

		_, err := client.Get(context.Background(), "/x")
		require.Error(t, err)

		var serr *ServiceError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "Widget:AlreadyExists", serr.Name)
		assert.NotEqual(t, err.Error(), serr.Error(), "wrapped error should add context")
	})

	t.Run("given propagate-distinct mode, then the service error is returned as-is", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(409, errBody)
		client := newTestClient(t, mock,
			ServiceConfig{URIs: []string{"https://a.example.com"}},
			WithServiceErrorMode(ServiceErrorPropagateDistinct),
		)

		_, err := client.Get(context.Background(), "/x")
		var serr *ServiceError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, 409, serr.StatusCode)
		assert.Equal(t, "CONFLICT", serr.Code)
		assert.Equal(t, "w-1", serr.Params["widgetId"])
	})
}

func TestClient_GzipResponseDecompressed(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("compressed payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	mock := NewMockTransport().
		Enqueue(200, buf.String(), http.Header{"Content-Encoding": []string{"gzip"}})
	client := newTestClient(t, mock, ServiceConfig{URIs: []string{"https://a.example.com"}})

	resp, err := client.Get(context.Background(), "/x")
	require.NoError(t, err)
	body, err := resp.String()
	require.NoError(t, err)
	assert.Equal(t, "compressed payload", body)
}

func TestClient_NoHostsFailsFast(t *testing.T) {
	mock := NewMockTransport().StubResponse(200, "never reached")
	client := newTestClient(t, mock, ServiceConfig{})

	_, err := client.Get(context.Background(), "/x")
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, mock.Attempts())
}

func TestClient_RateLimit(t *testing.T) {
	mock := NewMockTransport().StubResponse(200, "ok")

	t.Run("given available burst, then requests pass", func(t *testing.T) {
		client := newTestClient(t, mock,
			ServiceConfig{URIs: []string{"https://a.example.com"}},
			WithRateLimit(rate.Inf, 1),
		)
		_, err := client.Get(context.Background(), "/x")
		assert.NoError(t, err)
	})

	t.Run("given zero burst, then requests are rejected", func(t *testing.T) {
		client := newTestClient(t, mock,
			ServiceConfig{URIs: []string{"https://a.example.com"}},
			WithRateLimit(1, 0),
		)
		_, err := client.Get(context.Background(), "/x")
		assert.Error(t, err)
	})
}

// countingBackOff records how often the retry loop consults it.
type countingBackOff struct {
	calls atomic.Int32
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.calls.Add(1)
	return 0
}

func (b *countingBackOff) Reset() {}

func TestClient_ConfigErrorNotRetried(t *testing.T) {
	mock := NewMockTransport().StubResponse(200, "never reached")
	delay := &countingBackOff{}
	client, err := NewClient("widgets", ServiceConfig{MaxRetries: 5},
		WithBaseTransport(mock),
		WithBackoffProvider(func() backoff.BackOff { return delay }),
	)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/x")
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "widgets", cerr.Service)

	// Unusable configuration is terminal: it must not be burned through
	// the retry budget and resurface as exhaustion.
	var berr *BudgetExhaustedError
	assert.False(t, errors.As(err, &berr))
	assert.Zero(t, delay.calls.Load())
	assert.Empty(t, mock.Attempts())
}

// concurrencyTrackingBody counts concurrent producers driving it. The
// payload is far larger than the channel can buffer, so a producer whose
// attempt fails without consuming the body stays parked on a send until
// the retry loop joins it.
type concurrencyTrackingBody struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	writes  atomic.Int32
}

func (b *concurrencyTrackingBody) ContentLength() (int64, bool) { return 0, false }
func (b *concurrencyTrackingBody) ContentType() string          { return "application/octet-stream" }
func (b *concurrencyTrackingBody) FullBody() []byte             { return nil }
func (b *concurrencyTrackingBody) Reset() bool                  { return true }

func (b *concurrencyTrackingBody) Write(w *BodyWriter) error {
	b.writes.Add(1)
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		seen := b.maxSeen.Load()
		if n <= seen || b.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	_, err := w.Write(make([]byte, 20000))
	return err
}

func TestClient_OnePendingProducerAcrossRetries(t *testing.T) {
	body := &concurrencyTrackingBody{}
	base := roundTripFunc(func(*http.Request) (*http.Response, error) {
		// Fail before reading the body, leaving the producer mid-stream.
		return nil, dialError()
	})
	client, err := NewClient("widgets",
		ServiceConfig{URIs: []string{"https://a.example.com"}, MaxRetries: 2},
		WithBaseTransport(base),
		WithBackoffProvider(zeroBackoffProvider),
	)
	require.NoError(t, err)

	_, err = client.Do(context.Background(), Request{
		Method: http.MethodPut,
		Path:   "/x",
		Body:   body,
	})
	var berr *BudgetExhaustedError
	require.ErrorAs(t, err, &berr)

	assert.Equal(t, int32(3), body.writes.Load(), "one producer per attempt")
	assert.Equal(t, int32(1), body.maxSeen.Load(), "producers must never overlap")
	assert.Zero(t, body.active.Load(), "final producer joined before returning")
}

func TestClient_ConsecutiveThrottlesThenSuccess(t *testing.T) {
	mock := NewMockTransport().
		Enqueue(429, "", http.Header{"Retry-After": []string{"1"}}).
		Enqueue(429, "", http.Header{"Retry-After": []string{"1"}}).
		Enqueue(200, "ok", nil)
	clock := clockwork.NewFakeClock()
	client := newTestClient(t, mock,
		ServiceConfig{URIs: []string{
			"https://a.example.com",
			"https://b.example.com",
			"https://c.example.com",
		}},
		WithClock(clock),
	)

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Get(context.Background(), "/x")
		done <- result{resp, err}
	}()

	// Each throttle parks the loop for the full server-dictated second.
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		select {
		case <-done:
			t.Fatalf("request completed before delay %d elapsed", i+1)
		default:
		}
		clock.Advance(time.Second)
	}

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.True(t, res.resp.IsSuccess())
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete after advancing the clock")
	}

	hosts := mock.Hosts()
	require.Len(t, hosts, 3)
	seen := map[string]struct{}{}
	for _, h := range hosts {
		seen[h] = struct{}{}
	}
	assert.Len(t, seen, 3, "each attempt should land on a distinct host")
}

func TestClient_NoRetries(t *testing.T) {
	mock := NewMockTransport().StubHostError("a.example.com", dialError())
	client := newTestClient(t, mock, ServiceConfig{
		URIs:       []string{"https://a.example.com"},
		MaxRetries: NoRetries,
	})

	_, err := client.Get(context.Background(), "/x")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, TransportErrorConnect, terr.Kind)

	var berr *BudgetExhaustedError
	assert.False(t, errors.As(err, &berr))
	assert.Len(t, mock.Attempts(), 1)
}

func TestClient_CanceledContextStopsRetries(t *testing.T) {
	mock := NewMockTransport().StubHostError("a.example.com", dialError())
	clock := clockwork.NewFakeClock()
	client, err := NewClient("widgets",
		ServiceConfig{URIs: []string{"https://a.example.com"}, MaxRetries: 5},
		WithBaseTransport(mock),
		WithClock(clock),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.Get(ctx, "/x")
		done <- err
	}()

	// Let the first attempt fail and the loop park on the backoff delay,
	// then cancel instead of advancing the clock.
	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not interrupt the retry delay")
	}
}
