package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenewalMetrics_Registered(t *testing.T) {
	c := newTestCollector(t)
	m := NewRenewalMetrics(c)
	require.NotNil(t, m.BatchesTotal)
	require.NotNil(t, m.PendingByStep)
	require.NotNil(t, m.HTTPRequestsTotal)

	// Registering twice reuses the same vectors.
	again := NewRenewalMetrics(c)
	m.NotificationsTotal.WithLabelValues("first_call", "success").Inc()
	again.NotificationsTotal.WithLabelValues("first_call", "success").Inc()
	assert.Contains(t, scrapeMetrics(t, c), `test_unit_renewal_notifications_total{kind="first_call",outcome="success"} 2`)
}

func TestObserveBatch(t *testing.T) {
	c := newTestCollector(t)
	m := NewRenewalMetrics(c)

	m.ObserveBatch("update_step", "success", 3, 20*time.Millisecond)
	m.ObserveBatch("update_step", "rejected", 0, time.Millisecond)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_renewal_batches_total{operation="update_step",outcome="success"} 1`)
	assert.Contains(t, out, `test_unit_renewal_batches_total{operation="update_step",outcome="rejected"} 1`)
	assert.Contains(t, out, `test_unit_renewal_transitions_total{operation="update_step"} 3`)
	assert.Contains(t, out, `test_unit_renewal_batch_duration_seconds_count{operation="update_step"} 2`)
}

func TestObserveSendAndExport(t *testing.T) {
	c := newTestCollector(t)
	m := NewRenewalMetrics(c)

	m.ObserveSend("warn", "failure")
	m.ObserveExport("csv", "success", time.Second)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_renewal_notifications_total{kind="warn",outcome="failure"} 1`)
	assert.Contains(t, out, `test_unit_renewal_exports_total{format="csv",outcome="success"} 1`)
}

func TestSetPending(t *testing.T) {
	c := newTestCollector(t)
	m := NewRenewalMetrics(c)

	m.SetPending(map[string]int{"OPEN": 4, "INVOICED": 1}, map[string]int{"NONE": 5})
	m.SetPending(map[string]int{"OPEN": 0, "INVOICED": 1}, map[string]int{"NONE": 1})

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_renewal_pending_by_step{step="OPEN"} 0`)
	assert.Contains(t, out, `test_unit_renewal_pending_by_step{step="INVOICED"} 1`)
	assert.Contains(t, out, `test_unit_renewal_pending_by_invoice_step{invoice_step="NONE"} 1`)
}

func TestHelpers(t *testing.T) {
	c := newTestCollector(t)
	m := NewRenewalMetrics(c)

	RecordHTTPRequest(m, "POST", "/api/v1/renewals/step", 207, 15*time.Millisecond)
	RecordJobRun(m, "reminders", time.Second, errors.New("db down"))
	RecordJobRun(m, "reminders", time.Second, nil)
	RecordHealth(m, "postgres", true)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_http_requests_total{method="POST",path="/api/v1/renewals/step",status_code="207"} 1`)
	assert.Contains(t, out, `test_unit_worker_job_runs_total{job="reminders",outcome="failure"} 1`)
	assert.Contains(t, out, `test_unit_worker_job_runs_total{job="reminders",outcome="success"} 1`)
	assert.Contains(t, out, `test_unit_errors_total{component="worker",error_type="reminders"} 1`)
	assert.Contains(t, out, `test_unit_health_check_status{component="postgres"} 1`)
}
