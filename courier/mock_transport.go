package courier

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// MockTransport is a configurable http.RoundTripper for testing retry and
// failover behavior. Responses can be stubbed per host or enqueued as a
// sequence consumed one per attempt; every attempt is recorded with its
// target host and fully read body.
type MockTransport struct {
	mu        sync.Mutex
	queue     []mockResult
	hostStubs map[string]mockResult
	fallback  *mockResult
	attempts  []MockAttempt
}

type mockResult struct {
	status int
	header http.Header
	body   string
	err    error
}

// MockAttempt records one physical attempt seen by the transport.
type MockAttempt struct {
	Method string
	Host   string
	Path   string
	Header http.Header
	Body   []byte
}

// NewMockTransport creates an empty MockTransport. With no stubs configured
// every attempt fails with an error.
func NewMockTransport() *MockTransport {
	return &MockTransport{hostStubs: make(map[string]mockResult)}
}

// Enqueue appends a response to the sequence. Queued results are consumed
// in order, one per attempt, before host stubs are consulted.
func (m *MockTransport) Enqueue(status int, body string, header http.Header) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{status: status, body: body, header: header})
	return m
}

// EnqueueError appends a transport error to the sequence.
func (m *MockTransport) EnqueueError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{err: err})
	return m
}

// StubHost makes every attempt against the given host (e.g.
// "api1.example.com") return the response.
func (m *MockTransport) StubHost(host string, status int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostStubs[host] = mockResult{status: status, body: body}
	return m
}

// StubHostError makes every attempt against the given host fail.
func (m *MockTransport) StubHostError(host string, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostStubs[host] = mockResult{err: err}
	return m
}

// StubResponse sets the fallback response for attempts no queue entry or
// host stub covers.
func (m *MockTransport) StubResponse(status int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &mockResult{status: status, body: body}
	return m
}

// Attempts returns the recorded attempts in order.
func (m *MockTransport) Attempts() []MockAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockAttempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

// Hosts returns the host of each recorded attempt in order.
func (m *MockTransport) Hosts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	hosts := make([]string, len(m.attempts))
	for i, a := range m.attempts {
		hosts[i] = a.Host
	}
	return hosts
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		//nolint:errcheck // the request body carries no close semantics here
		req.Body.Close()
	}

	m.mu.Lock()
	m.attempts = append(m.attempts, MockAttempt{
		Method: req.Method,
		Host:   req.URL.Host,
		Path:   req.URL.Path,
		Header: req.Header.Clone(),
		Body:   body,
	})

	var res mockResult
	switch {
	case len(m.queue) > 0:
		res = m.queue[0]
		m.queue = m.queue[1:]
	default:
		if stub, ok := m.hostStubs[req.URL.Host]; ok {
			res = stub
		} else if m.fallback != nil {
			res = *m.fallback
		} else {
			m.mu.Unlock()
			return nil, errors.New("no stub for request: " + req.Method + " " + req.URL.String())
		}
	}
	m.mu.Unlock()

	if res.err != nil {
		return nil, res.err
	}

	header := make(http.Header)
	for k, vs := range res.header {
		header[k] = vs
	}
	return &http.Response{
		StatusCode:    res.status,
		Status:        http.StatusText(res.status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(res.body)),
		ContentLength: int64(len(res.body)),
		Request:       req,
	}, nil
}
