package courier

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/arcline-labs/courier-go/courier"
)

// clientConfig collects everything a client needs beyond the per-service
// wire configuration. Populated by Options and then frozen.
type clientConfig struct {
	service          string
	userAgent        string
	idempotency      Idempotency
	serverQos        ServerQosMode
	serviceErrorMode ServiceErrorMode
	followRedirects  bool

	breaker   *BreakerConfig
	rateLimit *rate.Limiter

	hostMetrics *HostMetricsRegistry

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metrics        *clientMetrics

	tlsConfig *tls.Config
	clock     clockwork.Clock
	logger    zerolog.Logger

	// backoffProvider yields a fresh BackOff per logical request so
	// concurrent requests never share mutable backoff state. Nil selects
	// the default full-jitter exponential strategy.
	backoffProvider func() backoff.BackOff

	// baseTransport replaces the pooled transport when set. Used by tests
	// and callers that bring their own connection management.
	baseTransport http.RoundTripper
}

func newClientConfig(service string, opts ...Option) *clientConfig {
	cfg := &clientConfig{
		service:          service,
		idempotency:      IdempotencyByMethod,
		serverQos:        ServerQosAutomaticRetry,
		serviceErrorMode: ServiceErrorWrapInNewError,
		followRedirects:  true,
		tracerProvider:   otel.GetTracerProvider(),
		meterProvider:    otel.GetMeterProvider(),
		clock:            clockwork.NewRealClock(),
		logger:           debugLogger,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *clientConfig) tracer() trace.Tracer {
	return c.tracerProvider.Tracer(scope)
}

func (c *clientConfig) meter() metric.Meter {
	return c.meterProvider.Meter(scope)
}

// Option customizes a Client or ClientFactory.
type Option func(*clientConfig)

// WithUserAgent sets the User-Agent header stamped on each request that
// does not already carry one.
func WithUserAgent(ua string) Option {
	return func(cfg *clientConfig) {
		cfg.userAgent = ua
	}
}

// WithIdempotency controls which requests may be retried after an attempt
// that might have reached the server. The default is IdempotencyByMethod.
func WithIdempotency(mode Idempotency) Option {
	return func(cfg *clientConfig) {
		cfg.idempotency = mode
	}
}

// WithServerQos controls whether throttle and unavailable responses are
// retried in-client or propagated to the caller. The default is
// ServerQosAutomaticRetry.
func WithServerQos(mode ServerQosMode) Option {
	return func(cfg *clientConfig) {
		cfg.serverQos = mode
	}
}

// WithServiceErrorMode controls how structured server errors surface to the
// caller. The default is ServiceErrorWrapInNewError.
func WithServiceErrorMode(mode ServiceErrorMode) Option {
	return func(cfg *clientConfig) {
		cfg.serviceErrorMode = mode
	}
}

// WithFollowRedirects controls whether the client chases 3xx responses
// across nodes. Enabled by default.
func WithFollowRedirects(follow bool) Option {
	return func(cfg *clientConfig) {
		cfg.followRedirects = follow
	}
}

// WithBreaker wraps the retry loop in a circuit breaker.
func WithBreaker(bc BreakerConfig) Option {
	return func(cfg *clientConfig) {
		cfg.breaker = &bc
	}
}

// WithRateLimit caps the rate of logical requests leaving this client.
// Burst must be at least one for any request to proceed.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(cfg *clientConfig) {
		cfg.rateLimit = rate.NewLimiter(limit, burst)
	}
}

// WithHostMetrics shares a host health registry across clients so node
// ranking reflects observations from every client talking to a host.
func WithHostMetrics(reg *HostMetricsRegistry) Option {
	return func(cfg *clientConfig) {
		cfg.hostMetrics = reg
	}
}

// WithTracerProvider overrides the global TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *clientConfig) {
		cfg.tracerProvider = tp
	}
}

// WithMeterProvider overrides the global MeterProvider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *clientConfig) {
		cfg.meterProvider = mp
	}
}

// WithTLSConfig sets the TLS configuration for the pooled transport.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *clientConfig) {
		cfg.tlsConfig = tlsCfg
	}
}

// WithLogger sets the zerolog logger for debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithClock injects the clock used for retry delays. Tests pass a fake
// clock to step through backoff without sleeping.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *clientConfig) {
		cfg.clock = clock
	}
}

// WithBackoffProvider replaces the default full-jitter exponential backoff.
// The provider is called once per logical request.
func WithBackoffProvider(provider func() backoff.BackOff) Option {
	return func(cfg *clientConfig) {
		cfg.backoffProvider = provider
	}
}

// WithBaseTransport replaces the pooled transport at the bottom of the
// pipeline. The per-service connect timeout and proxy settings do not
// apply to a caller-supplied transport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(cfg *clientConfig) {
		cfg.baseTransport = rt
	}
}

// buildPooledTransport constructs the http.Transport at the bottom of the
// pipeline. Compression is disabled here because the gzip layer owns it.
func buildPooledTransport(cfg *clientConfig, svc ServiceConfig) http.RoundTripper {
	if cfg.baseTransport != nil {
		return cfg.baseTransport
	}

	dialer := &net.Dialer{
		Timeout:   svc.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	proxy := http.ProxyFromEnvironment
	if svc.ProxyURL != "" {
		if u, err := url.Parse(svc.ProxyURL); err == nil {
			proxy = http.ProxyURL(u)
		}
	}

	return &http.Transport{
		Proxy:                 proxy,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       cfg.tlsConfig,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
	}
}
