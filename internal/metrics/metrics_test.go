package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, nil)

	m.CacheHits.WithLabelValues("local").Inc()
	m.CacheMisses.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawHits bool
	for _, f := range families {
		if f.GetName() == "covered_cache_hits_total" {
			sawHits = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(1), *f.Metric[0].Counter.Value)
		}
	}
	assert.True(t, sawHits)
}

func TestDuplicateRegistrationIsIsolatedPerRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	New(reg1, nil)
	assert.NotPanics(t, func() { New(reg2, nil) })
}
