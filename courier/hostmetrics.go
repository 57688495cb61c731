package courier

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HostMetricsRegistry tracks per-host attempt outcomes across all clients
// that share it. Outcomes are exported through a prometheus registerer and
// kept as cheap atomic counters for the node selector's health signal.
//
// A registry is typically created once per process and passed to every
// ClientFactory.
type HostMetricsRegistry struct {
	mu    sync.Mutex
	hosts map[hostKey]*hostRecord

	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type hostKey struct {
	service string
	host    string
}

type hostRecord struct {
	successes           atomic.Int64
	failures            atomic.Int64
	consecutiveFailures atomic.Int64
}

// NewHostMetricsRegistry creates a registry exporting through reg. A nil
// registerer disables prometheus export; the selector health signal still
// works.
func NewHostMetricsRegistry(reg prometheus.Registerer) *HostMetricsRegistry {
	r := &HostMetricsRegistry{
		hosts: make(map[hostKey]*hostRecord),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "courier_host_attempts_total",
			Help: "Physical request attempts by service, host, and outcome.",
		}, []string{"service", "host", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "courier_host_attempt_seconds",
			Help:    "Physical request attempt latency by service and host.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service", "host"}),
	}
	if reg != nil {
		reg.MustRegister(r.attempts, r.latency)
	}
	return r
}

// Record registers the outcome of one physical attempt against a host.
// success should reflect whether the host served the attempt, not whether
// the application call succeeded: a 4xx still counts as a served attempt.
func (r *HostMetricsRegistry) Record(service, host string, success bool, elapsed time.Duration) {
	rec := r.record(service, host)
	outcome := "failure"
	if success {
		outcome = "success"
		rec.successes.Add(1)
		rec.consecutiveFailures.Store(0)
	} else {
		rec.failures.Add(1)
		rec.consecutiveFailures.Add(1)
	}
	r.attempts.WithLabelValues(service, host, outcome).Inc()
	r.latency.WithLabelValues(service, host).Observe(elapsed.Seconds())
}

// ConsecutiveFailures returns the host's current run of failed attempts.
func (r *HostMetricsRegistry) ConsecutiveFailures(service, host string) int64 {
	return r.record(service, host).consecutiveFailures.Load()
}

// Successes returns the host's total successful attempts.
func (r *HostMetricsRegistry) Successes(service, host string) int64 {
	return r.record(service, host).successes.Load()
}

// Failures returns the host's total failed attempts.
func (r *HostMetricsRegistry) Failures(service, host string) int64 {
	return r.record(service, host).failures.Load()
}

func (r *HostMetricsRegistry) record(service, host string) *hostRecord {
	key := hostKey{service: service, host: host}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.hosts[key]
	if !ok {
		rec = &hostRecord{}
		r.hosts[key] = rec
	}
	return rec
}
