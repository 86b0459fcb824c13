package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRecordRequestIncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("imposter_test", reg)

	m.RecordRequest("orders-api", "rule", "503", 15*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "imposter_test_requests_total" {
			found = true
			require.Len(t, f.Metric, 1)
			require.Equal(t, float64(1), f.Metric[0].GetCounter().GetValue())
		}
	}
	require.True(t, found, "requests_total metric should be registered and incremented")
}

func TestSyncCacheMetricsSetsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("imposter_test", reg)
	m.SyncCacheMetrics(3, 7, 42)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.Metric {
			if g := metric.GetGauge(); g != nil {
				values[f.GetName()] = g.GetValue()
			}
		}
	}
	require.Equal(t, float64(3), values["imposter_test_decision_cache_evictions_total"])
	require.Equal(t, float64(7), values["imposter_test_decision_cache_expirations_total"])
	require.Equal(t, float64(42), values["imposter_test_decision_cache_size"])
}
