// Package metrics exposes Prometheus instruments for the admission flow.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/and161185/attendgate/internal/errs"
)

const namespace = "attendgate"

// Outcome label for successful operations.
const OutcomeOK = "ok"

// Metrics holds every instrument on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	Issued      *prometheus.CounterVec
	Verified    *prometheus.CounterVec
	Committed   *prometheus.CounterVec
	Degraded    prometheus.Counter
	FeedDropped prometheus.Counter
	Duration    *prometheus.HistogramVec
}

// New registers all instruments. liveSessions is sampled on scrape.
func New(liveSessions func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_issued_total",
			Help:      "Issuance calls by outcome.",
		}, []string{"outcome"}),
		Verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_verified_total",
			Help:      "Payload verifications by outcome.",
		}, []string{"outcome"}),
		Committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_commits_total",
			Help:      "Attendance commits by outcome.",
		}, []string{"outcome"}),
		Degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fingerprints_degraded_total",
			Help:      "Fingerprints computed by the fallback hash.",
		}),
		FeedDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_subscribers_dropped_total",
			Help:      "Live feed subscribers disconnected for being slow.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	reg.MustRegister(
		m.Issued, m.Verified, m.Committed, m.Degraded, m.FeedDropped, m.Duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if liveSessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Sessions currently held in memory.",
		}, func() float64 { return float64(liveSessions()) }))
	}
	return m
}

// Outcome labels err: OutcomeOK for nil, its kind, or "Internal".
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if k := errs.KindOf(err); k != "" {
		return string(k)
	}
	return "Internal"
}

// ObserveIssue counts an issuance outcome. Methods are no-ops on nil.
func (m *Metrics) ObserveIssue(err error) {
	if m != nil {
		m.Issued.WithLabelValues(Outcome(err)).Inc()
	}
}

// ObserveVerify counts a verification outcome.
func (m *Metrics) ObserveVerify(err error) {
	if m != nil {
		m.Verified.WithLabelValues(Outcome(err)).Inc()
	}
}

// ObserveCommit counts a commit outcome.
func (m *Metrics) ObserveCommit(err error) {
	if m != nil {
		m.Committed.WithLabelValues(Outcome(err)).Inc()
	}
}

// ObserveDegraded counts a fallback fingerprint.
func (m *Metrics) ObserveDegraded() {
	if m != nil {
		m.Degraded.Inc()
	}
}

// ObserveFeedDrop counts a dropped feed subscriber.
func (m *Metrics) ObserveFeedDrop() {
	if m != nil {
		m.FeedDropped.Inc()
	}
}

// ObserveRequest records one HTTP request duration.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m != nil {
		m.Duration.WithLabelValues(route, strconv.Itoa(code)).Observe(d.Seconds())
	}
}

// Handler serves the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
