package courier

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
)

// Node is one candidate host for a service: a base URI plus the host key
// under which its health is tracked in the host metrics registry.
type Node struct {
	base *url.URL
	key  string
}

// Key returns the stable identifier for the node, its base URI string.
func (n *Node) Key() string { return n.key }

// URL returns the node's base URI.
func (n *Node) URL() *url.URL { return n.base }

// nodeSelector maintains the ordered candidate host list with a shared
// rotation cursor so load spreads round-robin across logical requests.
// Per-host health read from the host metrics registry is an optional
// ranking signal; it never shrinks the candidate set, it only reorders
// preference within one selection.
type nodeSelector struct {
	service string
	nodes   []*Node
	cursor  atomic.Uint64
	metrics *HostMetricsRegistry
}

func newNodeSelector(service string, uris []string, metrics *HostMetricsRegistry) (*nodeSelector, error) {
	nodes := make([]*Node, 0, len(uris))
	for _, raw := range uris {
		u, err := url.Parse(strings.TrimSuffix(raw, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, &ConfigError{Service: service, Reason: fmt.Sprintf("invalid base URI %q", raw)}
		}
		nodes = append(nodes, &Node{base: u, key: u.String()})
	}
	return &nodeSelector{service: service, nodes: nodes, metrics: metrics}, nil
}

// Select chooses the host for the next physical attempt. Hosts already
// tried in this logical request are excluded while untried hosts remain;
// among untried hosts the next one in rotation order wins, with hosts the
// registry reports as suspect considered last. Once every host has been
// tried the rotation simply wraps around.
//
// An empty candidate list is a configuration error, not a retryable
// failure.
func (s *nodeSelector) Select(tried map[string]struct{}) (*Node, error) {
	if len(s.nodes) == 0 {
		return nil, &ConfigError{Service: s.service, Reason: "no candidate hosts configured"}
	}

	start := s.cursor.Add(1)
	var fallback *Node
	for i := range s.nodes {
		n := s.nodes[(start+uint64(i))%uint64(len(s.nodes))]
		if _, ok := tried[n.key]; ok {
			continue
		}
		if s.suspect(n) {
			if fallback == nil {
				fallback = n
			}
			continue
		}
		return n, nil
	}
	if fallback != nil {
		return fallback, nil
	}
	// Every host has been tried; wrap around.
	return s.nodes[start%uint64(len(s.nodes))], nil
}

// suspect reports whether the host metrics registry has seen enough
// consecutive failures on this host to deprioritize it.
func (s *nodeSelector) suspect(n *Node) bool {
	if s.metrics == nil {
		return false
	}
	return s.metrics.ConsecutiveFailures(s.service, n.key) >= suspectFailureThreshold
}

// suspectFailureThreshold is the consecutive-failure count after which a
// host is ranked behind healthy alternatives.
const suspectFailureThreshold = 3
