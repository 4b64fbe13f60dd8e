package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics_RegistersOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveFetch("scraper", "not_found", 120*time.Millisecond)
	m.ObserveFetch("ai", "success", 2*time.Second)
	m.CacheResult("memory", "hit")
	m.RefreshEntity(true)
	m.RefreshEntity(false)
	m.AlertChecked(true)
	m.SetSchemaMode("modeB")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceFetches.WithLabelValues("scraper", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshEntities.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTriggered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchemaMode.WithLabelValues("modeB")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("scraper", "error", time.Second)
		m.CacheResult("store", "miss")
		m.SetRefreshRunning(true)
		m.AddDiscovered(3)
		m.EmailFailed()
	})
}
