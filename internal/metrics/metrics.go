// Package metrics records Prometheus counters/gauges for the dispatcher.
// The teacher repo carries no metrics of its own; this is ambient
// observability pulled in from the rest of the retrieval pack
// (prometheus/client_golang, used by neogan74-konsul) to give every
// dispatcher transition a signal an operator can graph.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Recorder wraps a dedicated registry so tests can build throwaway
// instances without clobbering the global default registry.
type Recorder struct {
	registry *prometheus.Registry

	localWrites      prometheus.Counter
	replicateOutcome *prometheus.CounterVec
	pendingDepth     prometheus.Gauge
	reads            *prometheus.CounterVec
}

// New builds a Recorder registered on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		localWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "causalkv_local_writes_total",
			Help: "Total number of local writes accepted by this node.",
		}),
		replicateOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "causalkv_replicate_outcome_total",
			Help: "Inbound replication outcomes, by status (processed/buffered/duplicate/rejected).",
		}, []string{"outcome"}),
		pendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "causalkv_pending_buffer_depth",
			Help: "Number of replications currently buffered awaiting causal prerequisites.",
		}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "causalkv_reads_total",
			Help: "Total number of read requests, by hit/miss.",
		}, []string{"result"}),
	}

	reg.MustRegister(r.localWrites, r.replicateOutcome, r.pendingDepth, r.reads)
	return r
}

// Handler exposes the Prometheus exposition format for this recorder.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveLocalWrite() {
	r.localWrites.Inc()
}

func (r *Recorder) ObserveReplicate(outcome string) {
	r.replicateOutcome.WithLabelValues(outcome).Inc()
}

func (r *Recorder) SetPendingDepth(n int) {
	r.pendingDepth.Set(float64(n))
}

func (r *Recorder) ObserveRead(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.reads.WithLabelValues(result).Inc()
}
