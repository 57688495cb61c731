package courier

import "time"

// Default knobs applied when a ServiceConfig leaves a field zero.
const (
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = 250 * time.Millisecond
	DefaultBackoffCap     = 5 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// NoRetries disables retrying entirely when set as MaxRetries: every
// logical request gets exactly one attempt.
const NoRetries = -1

// ServiceConfig is the immutable snapshot describing how to reach one
// logical service. A zero ServiceConfig is valid: it has no candidate
// hosts, so every request fails fast with a ConfigError.
type ServiceConfig struct {
	// URIs is the ordered candidate host list, e.g.
	// ["https://a.internal:8443/api", "https://b.internal:8443/api"].
	URIs []string

	// ConnectTimeout bounds TCP dial plus TLS handshake.
	ConnectTimeout time.Duration

	// RequestTimeout bounds one physical attempt end to end. It does not
	// bound the logical request: each retry gets a fresh deadline.
	RequestTimeout time.Duration

	// ProxyURL routes attempts through an HTTP proxy when non-empty.
	ProxyURL string

	// MaxRetries is the number of retries after the initial attempt. Zero
	// means DefaultMaxRetries; set NoRetries to disable retrying.
	MaxRetries int

	// BackoffBase and BackoffCap parameterize exponential backoff between
	// attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// withDefaults fills zero-valued knobs. URIs are deliberately left alone:
// an unset host list must stay empty so requests fail fast.
func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	return c
}

// ServicesConfig is the refreshable process-wide configuration: defaults
// shared by every service plus per-service overrides.
type ServicesConfig struct {
	// Default supplies fallback values for fields a service leaves unset.
	Default ServiceConfig

	// Services maps logical service names to their configuration.
	Services map[string]ServiceConfig
}

// MergedService resolves the effective configuration for a service by
// overlaying its entry on the defaults. ok is false when the service has
// no entry at all; the returned config is then just the defaults minus
// URIs, which causes requests to fail fast.
func (c ServicesConfig) MergedService(name string) (ServiceConfig, bool) {
	svc, ok := c.Services[name]
	merged := svc
	if len(merged.URIs) == 0 {
		merged.URIs = nil
		if ok {
			merged.URIs = c.Default.URIs
		}
	}
	if merged.ConnectTimeout == 0 {
		merged.ConnectTimeout = c.Default.ConnectTimeout
	}
	if merged.RequestTimeout == 0 {
		merged.RequestTimeout = c.Default.RequestTimeout
	}
	if merged.ProxyURL == "" {
		merged.ProxyURL = c.Default.ProxyURL
	}
	if merged.MaxRetries == 0 {
		merged.MaxRetries = c.Default.MaxRetries
	}
	if merged.BackoffBase == 0 {
		merged.BackoffBase = c.Default.BackoffBase
	}
	if merged.BackoffCap == 0 {
		merged.BackoffCap = c.Default.BackoffCap
	}
	return merged.withDefaults(), ok
}
