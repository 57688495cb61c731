package courier

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// QosKind classifies the outcome of one completed physical attempt.
type QosKind int

const (
	// QosSuccess means the server served the request.
	QosSuccess QosKind = iota

	// QosThrottle means the server signaled rate limiting (429), possibly
	// with a server-dictated Retry-After delay.
	QosThrottle

	// QosUnavailable means the server cannot serve right now (503); the
	// right response is to try another node.
	QosUnavailable

	// QosRedirect means the server answered with a 3xx and a Location.
	QosRedirect

	// QosServiceError means the server reported a structured application
	// error; it is not inherently retryable.
	QosServiceError
)

func (k QosKind) String() string {
	switch k {
	case QosSuccess:
		return "success"
	case QosThrottle:
		return "throttle"
	case QosUnavailable:
		return "unavailable"
	case QosRedirect:
		return "redirect"
	default:
		return "service_error"
	}
}

// QosSignal is the classification of a completed attempt. It is a pure
// function of the response status and headers and holds no mutable state.
type QosSignal struct {
	Kind       QosKind
	StatusCode int

	// RetryAfter is the server-supplied delay for QosThrottle; zero when
	// the server did not send one.
	RetryAfter time.Duration

	// Location is the redirect target for QosRedirect.
	Location string
}

// classifyResponse maps a response to its QoS signal.
func classifyResponse(resp *http.Response) QosSignal {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return QosSignal{
			Kind:       QosThrottle,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode == http.StatusServiceUnavailable:
		return QosSignal{Kind: QosUnavailable, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		if loc := resp.Header.Get("Location"); loc != "" {
			return QosSignal{Kind: QosRedirect, StatusCode: resp.StatusCode, Location: loc}
		}
		return QosSignal{Kind: QosSuccess, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return QosSignal{Kind: QosServiceError, StatusCode: resp.StatusCode}
	default:
		return QosSignal{Kind: QosSuccess, StatusCode: resp.StatusCode}
	}
}

// maxRetryAfter caps server-dictated delays so a misbehaving server cannot
// park clients indefinitely.
const maxRetryAfter = time.Hour

// parseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Unparseable or non-positive values yield zero.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return min(time.Duration(seconds)*time.Second, maxRetryAfter)
	}

	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay <= 0 {
			return 0
		}
		return min(delay, maxRetryAfter)
	}

	return 0
}
