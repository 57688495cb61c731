package courier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
)

// ErrBodyNotResettable is returned when a retry was warranted but the
// request body refused to rewind. Once a body refuses to reset, the
// logical request is permanently non-retryable.
var ErrBodyNotResettable = errors.New("courier: request body could not be reset")

// TransportErrorKind classifies low-level transport failures.
type TransportErrorKind int

const (
	// TransportErrorConnect covers failures establishing a connection:
	// dial errors, DNS resolution failures, connection refused. The
	// request is guaranteed not to have reached the server.
	TransportErrorConnect TransportErrorKind = iota

	// TransportErrorTimeout covers attempt deadlines and network timeouts.
	TransportErrorTimeout

	// TransportErrorTLS covers handshake and certificate failures.
	TransportErrorTLS

	// TransportErrorIO covers all other I/O failures, including failures
	// partway through sending the request or reading the response.
	TransportErrorIO
)

// String returns a stable name for the kind, used in logs and metrics.
func (k TransportErrorKind) String() string {
	switch k {
	case TransportErrorConnect:
		return "connect"
	case TransportErrorTimeout:
		return "timeout"
	case TransportErrorTLS:
		return "tls"
	default:
		return "io"
	}
}

// TransportError wraps a failure from the underlying transport with a
// classification the retry policy can act on.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("courier: transport error (%s): %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigError indicates the client cannot execute any request with its
// current configuration. It is fatal and never retried.
type ConfigError struct {
	Service string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("courier: service %q: %s", e.Service, e.Reason)
	}
	return "courier: " + e.Reason
}

// QosError surfaces a server QoS signal (throttle or unavailable) that was
// not resolved by retrying, either because retries were exhausted or because
// the client is configured to propagate QoS responses to the caller.
type QosError struct {
	Signal QosSignal
}

func (e *QosError) Error() string {
	switch e.Signal.Kind {
	case QosThrottle:
		return fmt.Sprintf("courier: server throttled the request (status %d)", e.Signal.StatusCode)
	case QosUnavailable:
		return fmt.Sprintf("courier: server unavailable (status %d)", e.Signal.StatusCode)
	default:
		return fmt.Sprintf("courier: qos error (status %d)", e.Signal.StatusCode)
	}
}

// ServiceError is a structured application-level error reported by the
// server. The wire format is a JSON object carrying an error code, name,
// instance id, and free-form parameters.
type ServiceError struct {
	StatusCode int
	Code       string         `json:"errorCode"`
	Name       string         `json:"errorName"`
	InstanceID string         `json:"errorInstanceId"`
	Params     map[string]any `json:"parameters"`
}

func (e *ServiceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("courier: server returned error %s (%s), status %d, instance %s",
			e.Name, e.Code, e.StatusCode, e.InstanceID)
	}
	return fmt.Sprintf("courier: server returned status %d", e.StatusCode)
}

// BudgetExhaustedError reports that every allowed attempt failed. It wraps
// the error observed on the final attempt.
type BudgetExhaustedError struct {
	Attempts int
	Err      error
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("courier: retry budget exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *BudgetExhaustedError) Unwrap() error { return e.Err }

// classifyTransportError maps an error returned by the underlying transport
// to a TransportError. Errors that are already classified pass through.
func classifyTransportError(err error) *TransportError {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return &TransportError{Kind: TransportErrorTimeout, Err: err}
	}

	var certErr *tls.CertificateVerificationError
	var recErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &recErr) {
		return &TransportError{Kind: TransportErrorTLS, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &TransportError{Kind: TransportErrorConnect, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &TransportError{Kind: TransportErrorConnect, Err: err}
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return &TransportError{Kind: TransportErrorConnect, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: TransportErrorTimeout, Err: err}
	}

	return &TransportError{Kind: TransportErrorIO, Err: err}
}

// errorTypeFromStatusCode returns a metrics/trace error classification for
// HTTP status codes. 4xx/5xx use the status code itself.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= http.StatusBadRequest {
		return fmt.Sprintf("%d", statusCode)
	}
	return ""
}
