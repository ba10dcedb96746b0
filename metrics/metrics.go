// Package metrics holds the Prometheus instruments shared by the mailbox,
// the multisig ISM and the query API. A Metrics value is created once per
// process and handed to each component; NewNoop gives tests a private
// registry so nothing leaks into the global one.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "interchain"

const reasonLabel = "reason"

// Verification outcome reasons used as the "reason" label value.
const (
	ReasonOK         = "ok"
	ReasonMerkle     = "merkle"
	ReasonSignatures = "signatures"
	ReasonNoSet      = "no_validator_set"
	ReasonDecode     = "decode"
)

// Metrics bundles the counters and gauges exported by the interchain core.
type Metrics struct {
	Dispatched     prometheus.Counter
	Processed      prometheus.Counter
	Verifications  *prometheus.CounterVec // reason
	VerifyDuration prometheus.Histogram
	TreeCount      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates the instruments and registers them with reg. Registration
// errors are joined so every collision is reported at once.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "dispatched_total",
			Help:      "Number of messages inserted into the outbound tree",
		}),
		Processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "processed_total",
			Help:      "Number of inbound messages delivered to recipients",
		}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ism",
			Name:      "verifications_total",
			Help:      "Multisig verification outcomes by reason",
		}, []string{reasonLabel}),
		VerifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ism",
			Name:      "verify_duration_seconds",
			Help:      "Time spent verifying multisig metadata",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		TreeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "tree_count",
			Help:      "Number of leaves in the outbound merkle tree",
		}),
	}
	if r, ok := reg.(*prometheus.Registry); ok {
		m.registry = r
	}
	return m, errors.Join(
		reg.Register(m.Dispatched),
		reg.Register(m.Processed),
		reg.Register(m.Verifications),
		reg.Register(m.VerifyDuration),
		reg.Register(m.TreeCount),
	)
}

// NewNoop returns Metrics registered against a fresh private registry.
func NewNoop() *Metrics {
	m, err := New(prometheus.NewRegistry(), DefaultNamespace)
	if err != nil {
		// A fresh registry cannot collide.
		panic(err)
	}
	return m
}

// Registry returns the registry the instruments were created with when it
// is a *prometheus.Registry, or nil.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveVerify records a verification outcome and its latency.
func (m *Metrics) ObserveVerify(reason string, start time.Time) {
	m.Verifications.WithLabelValues(reason).Inc()
	m.VerifyDuration.Observe(time.Since(start).Seconds())
}
