package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChunksIndexed   prometheus.Counter
	ChunksMissing   *prometheus.CounterVec
	ChunksPlaced    prometheus.Counter
	IndexUnmatched  prometheus.Counter
	TemplateLookups *prometheus.CounterVec
}

// New registers the counters on reg. A nil reg registers on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ChunksIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vzarr_chunks_indexed_total",
			Help: "Chunk index records extracted from virtual stores",
		}),
		ChunksMissing: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vzarr_chunks_missing_total",
			Help: "Chunks expected but absent (stage=extract|reinflate)",
		}, []string{"stage"}),
		ChunksPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "vzarr_chunks_placed_total",
			Help: "Chunk references written into reinflated stores",
		}),
		IndexUnmatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "vzarr_index_unmatched_total",
			Help: "Sidecar index rows without a mapping row",
		}),
		TemplateLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vzarr_template_cache_lookups_total",
			Help: "Template cache lookups (result=hit|miss)",
		}, []string{"result"}),
	}
}

func (m *Metrics) Indexed() {
	if m != nil {
		m.ChunksIndexed.Inc()
	}
}

func (m *Metrics) Missing(stage string) {
	if m != nil {
		m.ChunksMissing.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) Placed() {
	if m != nil {
		m.ChunksPlaced.Inc()
	}
}

func (m *Metrics) Unmatched(n int) {
	if m != nil {
		m.IndexUnmatched.Add(float64(n))
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.TemplateLookups.WithLabelValues("hit").Inc()
	} else {
		m.TemplateLookups.WithLabelValues("miss").Inc()
	}
}
