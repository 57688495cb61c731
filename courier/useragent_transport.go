package courier

import (
	"net/http"

	"github.com/google/uuid"
)

// userAgentTransport stamps the configured user agent and a request id on
// each logical request. It runs outside the retry layer, so all physical
// attempts of one logical request share the same id.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newUserAgentTransport(base http.RoundTripper, userAgent string) *userAgentTransport {
	return &userAgentTransport{base: base, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("X-Request-Id") == "" {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}
	return t.base.RoundTrip(req)
}
