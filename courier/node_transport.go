package courier

import (
	"net/http"
	"time"
)

// nodeTransport resolves the attempt's relative URL against the host chosen
// by the node selector and feeds the attempt outcome back into the host
// metrics registry.
type nodeTransport struct {
	base        http.RoundTripper
	selector    *nodeSelector
	hostMetrics *HostMetricsRegistry
	service     string
}

func newNodeTransport(base http.RoundTripper, selector *nodeSelector, hostMetrics *HostMetricsRegistry, service string) *nodeTransport {
	return &nodeTransport{
		base:        base,
		selector:    selector,
		hostMetrics: hostMetrics,
		service:     service,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *nodeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	st := requestStateFromContext(req.Context())
	if st == nil {
		st = newRequestState(nil)
	}

	var hostKey string
	out := req.Clone(req.Context())
	// Clone does not carry the body over untouched when it was attached by
	// the retry layer; keep the exact reader.
	out.Body = req.Body
	out.GetBody = req.GetBody

	if st.redirect != nil {
		// A redirect target from the previous attempt overrides node
		// selection for exactly one attempt.
		out.URL = st.redirect
		hostKey = st.redirect.Scheme + "://" + st.redirect.Host
		st.redirect = nil
	} else {
		node, err := t.selector.Select(st.tried)
		if err != nil {
			return nil, err
		}
		st.markTried(node)
		hostKey = node.Key()

		base := node.URL()
		resolved := *base
		resolved.Path = joinURLPath(base.Path, req.URL.Path)
		resolved.RawQuery = req.URL.RawQuery
		out.URL = &resolved
	}
	out.Host = ""

	start := time.Now()
	resp, err := t.base.RoundTrip(out)

	if t.hostMetrics != nil {
		// A host "serves" an attempt when the exchange completes and the
		// response is not a QoS signal; application-level 4xx still counts
		// as served.
		served := err == nil &&
			resp.StatusCode != http.StatusTooManyRequests &&
			resp.StatusCode != http.StatusServiceUnavailable &&
			resp.StatusCode < 500
		t.hostMetrics.Record(t.service, hostKey, served, time.Since(start))
	}

	return resp, err
}

func joinURLPath(base, rel string) string {
	if base == "" {
		return rel
	}
	if rel == "" {
		return base
	}
	switch {
	case base[len(base)-1] == '/' && rel[0] == '/':
		return base + rel[1:]
	case base[len(base)-1] != '/' && rel[0] != '/':
		return base + "/" + rel
	default:
		return base + rel
	}
}
