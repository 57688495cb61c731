package courier

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// clientMetrics holds the OpenTelemetry instruments for one client. All
// record helpers are nil-safe so instrument creation failures degrade to
// no-op metrics rather than failing the client.
type clientMetrics struct {
	// requestDuration measures logical request duration, all attempts and
	// delays included.
	requestDuration metric.Float64Histogram

	// activeRequests tracks in-flight logical requests.
	activeRequests metric.Int64UpDownCounter

	// retryAttempts counts physical retry attempts.
	retryAttempts metric.Int64Counter

	// retryExhausted counts logical requests that ran out of budget.
	retryExhausted metric.Int64Counter

	attrs []attribute.KeyValue
}

func newClientMetrics(meter metric.Meter, service string) (*clientMetrics, error) {
	m := &clientMetrics{
		attrs: []attribute.KeyValue{attribute.String("courier.service", service)},
	}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"courier.client.request.duration",
		metric.WithDescription("Duration of logical requests in seconds, including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
		),
	)
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"courier.client.active_requests",
		metric.WithDescription("Number of in-flight logical requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryAttempts, err = meter.Int64Counter(
		"courier.client.retry.attempts",
		metric.WithDescription("Number of retried physical attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryExhausted, err = meter.Int64Counter(
		"courier.client.retry.exhausted",
		metric.WithDescription("Number of logical requests that exhausted their retry budget"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *clientMetrics) recordRequestDuration(ctx context.Context, d time.Duration, extra ...attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	attrs := append(append([]attribute.KeyValue{}, m.attrs...), extra...)
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *clientMetrics) recordRequestStart(ctx context.Context) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(m.attrs...))
}

func (m *clientMetrics) recordRequestEnd(ctx context.Context) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(m.attrs...))
}

func (m *clientMetrics) recordRetryAttempt(ctx context.Context, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	attrs := append(append([]attribute.KeyValue{}, m.attrs...), attribute.Int("retry.attempt", attempt))
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *clientMetrics) recordRetryExhausted(ctx context.Context) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(m.attrs...))
}
