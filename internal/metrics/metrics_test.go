package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRegistered_Idempotent(t *testing.T) {
	// A second registration of the same collectors would panic.
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}

func TestRecordersDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordPollCycle(true, 3)
		RecordPollCycle(false, 0)
		SetConsecutiveFailures(2)
		SetPollInterval(10 * time.Second)
		RecordJob("sum", 150*time.Millisecond, true)
		RecordJob("sum", time.Second, false)
		RecordReportError()
	})
}

func TestMetricsHandler_Scrape(t *testing.T) {
	RecordPollCycle(true, 1)
	RecordJob("echo", time.Millisecond, true)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	MetricsHandler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "meshrpc_poll_cycles_total")
	assert.Contains(t, body, "meshrpc_jobs_total")
}
