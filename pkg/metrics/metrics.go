// Package metrics exposes the node's operational counters over
// Prometheus. core itself never imports this package (metrics are an
// outside observer, not a consensus dependency); cmd/findagd wires a
// Prometheus sink into the Node's producer and finalizer via WithMetrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the boundary interface a Node's caller can implement to observe
// consensus activity without core depending on any particular metrics
// backend.
type Sink interface {
	BlockProduced(txCount int)
	RoundFinalized(blockCount int)
	AdmissionRejected(code string)
}

// Prometheus is the concrete Sink backed by client_golang.
type Prometheus struct {
	blocksProduced   prometheus.Counter
	roundsFinalized  prometheus.Counter
	txsPerBlock      prometheus.Histogram
	blocksPerRound   prometheus.Histogram
	admissionRejects *prometheus.CounterVec
	registry         *prometheus.Registry
}

// NewPrometheus constructs a Sink and registers its collectors on a fresh
// registry (kept private per instance rather than the global default
// registry, so multiple nodes in one process (as in tests) don't
// collide).
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		blocksProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "findag_blocks_produced_total",
			Help: "Total number of blocks produced by this node.",
		}),
		roundsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "findag_rounds_finalized_total",
			Help: "Total number of rounds finalized by this node.",
		}),
		txsPerBlock: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "findag_block_tx_count",
			Help:    "Number of transactions included per produced block.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		blocksPerRound: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "findag_round_block_count",
			Help:    "Number of blocks bound per finalized round.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		admissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "findag_admission_rejected_total",
			Help: "Transaction pool admission rejections by reason code.",
		}, []string{"code"}),
	}
	reg.MustRegister(p.blocksProduced, p.roundsFinalized, p.txsPerBlock, p.blocksPerRound, p.admissionRejects)
	return p
}

func (p *Prometheus) BlockProduced(txCount int) {
	p.blocksProduced.Inc()
	p.txsPerBlock.Observe(float64(txCount))
}

func (p *Prometheus) RoundFinalized(blockCount int) {
	p.roundsFinalized.Inc()
	p.blocksPerRound.Observe(float64(blockCount))
}

func (p *Prometheus) AdmissionRejected(code string) {
	p.admissionRejects.WithLabelValues(code).Inc()
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
