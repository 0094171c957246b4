package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Indexed()
	m.Indexed()
	m.Missing("extract")
	m.Missing("reinflate")
	m.Missing("reinflate")
	m.Placed()
	m.Unmatched(3)
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	require.Equal(t, 2.0, testutil.ToFloat64(m.ChunksIndexed))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ChunksMissing.WithLabelValues("extract")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ChunksMissing.WithLabelValues("reinflate")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ChunksPlaced))
	require.Equal(t, 3.0, testutil.ToFloat64(m.IndexUnmatched))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TemplateLookups.WithLabelValues("hit")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.TemplateLookups.WithLabelValues("miss")))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Indexed()
		m.Missing("extract")
		m.Placed()
		m.Unmatched(1)
		m.CacheLookup(true)
	})
}
