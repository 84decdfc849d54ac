package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMonitor_Counters(t *testing.T) {
	m := NewMonitor()

	m.BatchStarted("3")
	m.BatchStarted("3")
	m.BatchFinished("3", "Completed")
	m.StepClosed("AutomaticDosing", "Resin", 120, true)
	m.StepClosed("Mix", "", 60, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchesStarted.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchesFinished.WithLabelValues("3", "Completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stepDeviations.WithLabelValues("Resin")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stepDuration))
}

func TestMonitor_Gauges(t *testing.T) {
	m := NewMonitor()

	m.InventoryLevel("Resin", 420)
	m.AlarmRaised("1", "Critical")
	m.AlarmRaised("1", "Critical")
	m.AlarmCleared("1", "Critical")

	assert.Equal(t, 420.0, testutil.ToFloat64(m.inventoryQuantity.WithLabelValues("Resin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeAlarms.WithLabelValues("1", "Critical")))
}

func TestMonitor_NilIsSafe(t *testing.T) {
	var m *Monitor
	assert.NotPanics(t, func() {
		m.BatchStarted("1")
		m.StepClosed("Mix", "", 1, true)
		m.AlarmCleared("1", "Info")
	})
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	m.BatchStarted("2")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mixerline_batches_started_total")
	assert.Contains(t, w.Body.String(), "mixerline_uptime_seconds")
}
