package courier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeSelector(t *testing.T) {
	t.Run("given valid uris, then nodes are parsed", func(t *testing.T) {
		s, err := newNodeSelector("widgets", []string{
			"https://a.example.com:8443/api/",
			"https://b.example.com:8443/api",
		}, nil)
		require.NoError(t, err)
		require.Len(t, s.nodes, 2)
		// Trailing slashes are normalized away so keys are stable.
		assert.Equal(t, "https://a.example.com:8443/api", s.nodes[0].Key())
	})

	t.Run("given a malformed uri, then a config error", func(t *testing.T) {
		_, err := newNodeSelector("widgets", []string{"not a url"}, nil)
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "widgets", cerr.Service)
	})

	t.Run("given a relative uri, then a config error", func(t *testing.T) {
		_, err := newNodeSelector("widgets", []string{"/just/a/path"}, nil)
		var cerr *ConfigError
		assert.ErrorAs(t, err, &cerr)
	})
}

func TestNodeSelector_Select(t *testing.T) {
	uris := []string{
		"https://a.example.com",
		"https://b.example.com",
		"https://c.example.com",
	}

	t.Run("given no candidates, then a config error", func(t *testing.T) {
		s, err := newNodeSelector("widgets", nil, nil)
		require.NoError(t, err)
		_, err = s.Select(map[string]struct{}{})
		var cerr *ConfigError
		assert.ErrorAs(t, err, &cerr)
	})

	t.Run("given untried hosts, then no host repeats within a request", func(t *testing.T) {
		s, err := newNodeSelector("widgets", uris, nil)
		require.NoError(t, err)

		tried := map[string]struct{}{}
		seen := map[string]struct{}{}
		for i := 0; i < len(uris); i++ {
			n, err := s.Select(tried)
			require.NoError(t, err)
			_, dup := seen[n.Key()]
			assert.False(t, dup, "host %s selected twice", n.Key())
			seen[n.Key()] = struct{}{}
			tried[n.Key()] = struct{}{}
		}
		assert.Len(t, seen, len(uris))
	})

	t.Run("given every host tried, then selection wraps around", func(t *testing.T) {
		s, err := newNodeSelector("widgets", uris, nil)
		require.NoError(t, err)

		tried := map[string]struct{}{}
		for _, u := range uris {
			tried[u] = struct{}{}
		}
		n, err := s.Select(tried)
		require.NoError(t, err)
		assert.Contains(t, uris, n.Key())
	})

	t.Run("given concurrent requests, then the cursor rotates across them", func(t *testing.T) {
		s, err := newNodeSelector("widgets", uris, nil)
		require.NoError(t, err)

		// Each logical request has its own empty tried set; rotation still
		// spreads them over distinct hosts.
		first, err := s.Select(map[string]struct{}{})
		require.NoError(t, err)
		second, err := s.Select(map[string]struct{}{})
		require.NoError(t, err)
		assert.NotEqual(t, first.Key(), second.Key())
	})
}

func TestNodeSelector_SuspectRanking(t *testing.T) {
	uris := []string{"https://a.example.com", "https://b.example.com"}
	metrics := NewHostMetricsRegistry(nil)
	s, err := newNodeSelector("widgets", uris, metrics)
	require.NoError(t, err)

	// Push host a past the suspect threshold.
	for i := 0; i < suspectFailureThreshold; i++ {
		metrics.Record("widgets", "https://a.example.com", false, time.Millisecond)
	}

	// With b untried and healthy, a is never preferred.
	for i := 0; i < 10; i++ {
		n, err := s.Select(map[string]struct{}{})
		require.NoError(t, err)
		assert.Equal(t, "https://b.example.com", n.Key())
	}

	t.Run("given only suspect hosts remain, then a suspect is still used", func(t *testing.T) {
		tried := map[string]struct{}{"https://b.example.com": {}}
		n, err := s.Select(tried)
		require.NoError(t, err)
		assert.Equal(t, "https://a.example.com", n.Key())
	})

	t.Run("given a success, then the failure run resets", func(t *testing.T) {
		metrics.Record("widgets", "https://a.example.com", true, time.Millisecond)
		assert.EqualValues(t, 0, metrics.ConsecutiveFailures("widgets", "https://a.example.com"))
	})
}
