package courier

import (
	"fmt"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
)

// maxServiceErrorBody bounds how much of an error response body is read
// when decoding a structured service error.
const maxServiceErrorBody = 64 * 1024

// errorMappingTransport converts non-success responses into the caller's
// error taxonomy. The retry layer below has already dealt with
// retryability; whatever reaches this layer is terminal.
type errorMappingTransport struct {
	base             http.RoundTripper
	serviceErrorMode ServiceErrorMode
}

func newErrorMappingTransport(base http.RoundTripper, mode ServiceErrorMode) *errorMappingTransport {
	return &errorMappingTransport{base: base, serviceErrorMode: mode}
}

// RoundTrip implements http.RoundTripper.
func (t *errorMappingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	signal := classifyResponse(resp)
	switch signal.Kind {
	case QosThrottle, QosUnavailable:
		// Only reachable when the client propagates QoS responses instead
		// of retrying them.
		drainBody(resp)
		return nil, &QosError{Signal: signal}

	case QosServiceError:
		serr := decodeServiceError(resp)
		drainBody(resp)
		if t.serviceErrorMode == ServiceErrorPropagateDistinct {
			return nil, serr
		}
		return nil, fmt.Errorf("courier: request failed: %w", serr)

	default:
		return resp, nil
	}
}

// decodeServiceError extracts the structured error payload from a 4xx/5xx
// response. Responses that are not structured errors still yield a
// ServiceError carrying the status code.
func decodeServiceError(resp *http.Response) *ServiceError {
	serr := &ServiceError{StatusCode: resp.StatusCode}
	if resp.Body == nil {
		return serr
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxServiceErrorBody))
	if err != nil || len(body) == 0 {
		return serr
	}
	//nolint:errcheck // undecodable bodies leave the bare status error
	json.Unmarshal(body, serr)
	serr.StatusCode = resp.StatusCode
	return serr
}
