package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/api/tickets", "POST", 201, 10*time.Millisecond)
	m.RecordRequest("/api/tickets", "POST", 201, 30*time.Millisecond)
	m.RecordError("/api/tickets", "POST", "VALIDATION_FAILED")
	m.RecordTriage("success")
	m.RecordTriage("fallback")
	m.RecordTriage("success")
	m.RecordDroppedEvent()

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Requests["/api/tickets|POST|201"])
	assert.Equal(t, int64(1), snap.Errors["/api/tickets|POST|VALIDATION_FAILED"])
	assert.Equal(t, int64(2), snap.TriageOutcomes["success"])
	assert.Equal(t, int64(1), snap.DroppedEvents)
	assert.Equal(t, "20ms", snap.AvgRequestLatency)

	// Snapshots are copies.
	snap.TriageOutcomes["success"] = 100
	assert.Equal(t, int64(2), m.Snapshot().TriageOutcomes["success"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, time.Millisecond)
	m.RecordError("/", "GET", "X")
	m.RecordTriage("error")
	m.RecordDroppedEvent()
}
