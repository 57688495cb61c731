package courier

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Compile-time interface check.
var _ http.RoundTripper = (*traceTransport)(nil)

// traceTransport wraps the pipeline with OpenTelemetry instrumentation. It
// sits at the top of the chain so one span covers the whole logical request,
// retries and backoff delays included.
type traceTransport struct {
	base       http.RoundTripper
	service    string
	tracer     trace.Tracer
	metrics    *clientMetrics
	propagator propagation.TextMapPropagator
}

func newTraceTransport(base http.RoundTripper, service string, tracer trace.Tracer, metrics *clientMetrics) *traceTransport {
	return &traceTransport{
		base:    base,
		service: service,
		tracer:  tracer,
		metrics: metrics,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := t.tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.URL.Path),
			attribute.String("courier.service", t.service),
		),
	)
	defer span.End()

	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	t.metrics.recordRequestStart(ctx)
	defer t.metrics.recordRequestEnd(ctx)

	req = req.WithContext(ctx)

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if st := requestStateFromContext(ctx); st != nil && st.attempts > 1 {
		span.SetAttributes(attribute.Int("courier.attempts", st.attempts))
	}

	if err != nil {
		errorType := "other"
		if terr := classifyTransportError(err); terr != nil {
			errorType = terr.Kind.String()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.type", errorType))
		t.metrics.recordRequestDuration(ctx, duration,
			attribute.String("error.type", errorType),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}

	t.metrics.recordRequestDuration(ctx, duration,
		attribute.String("http.request.method", req.Method),
		attribute.Int("http.response.status_code", resp.StatusCode),
	)
	return resp, nil
}
