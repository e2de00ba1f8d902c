package prometheus

import (
	"strconv"
	"time"
)

// RenewalMetrics holds the pipeline metrics. It satisfies the application
// layer's Metrics port.
type RenewalMetrics struct {
	// Pipeline
	BatchesTotal         CounterVec
	BatchDuration        HistogramVec
	TransitionsTotal     CounterVec
	NotificationsTotal   CounterVec
	ExportsTotal         CounterVec
	ExportDuration       HistogramVec
	PendingByStep        GaugeVec
	PendingByInvoiceStep GaugeVec

	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec

	// Worker
	JobRunsTotal   CounterVec
	JobRunDuration HistogramVec
	ServiceUptime  GaugeVec
	HealthCheckUp  GaugeVec
	ErrorsTotal    CounterVec
}

var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultBatchDurationBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
)

// NewRenewalMetrics registers every metric on collector.
func NewRenewalMetrics(collector MetricsCollector) *RenewalMetrics {
	m := &RenewalMetrics{}

	m.BatchesTotal = collector.RegisterCounter("renewal_batches_total", "Batch operations by outcome", "operation", "outcome")
	m.BatchDuration = collector.RegisterHistogram("renewal_batch_duration_seconds", "Batch operation duration", DefaultBatchDurationBuckets, "operation")
	m.TransitionsTotal = collector.RegisterCounter("renewal_transitions_total", "Tasks changed by batch operations", "operation")
	m.NotificationsTotal = collector.RegisterCounter("renewal_notifications_total", "Notifications sent by kind and outcome", "kind", "outcome")
	m.ExportsTotal = collector.RegisterCounter("renewal_exports_total", "Invoicing exports by format and outcome", "format", "outcome")
	m.ExportDuration = collector.RegisterHistogram("renewal_export_duration_seconds", "Invoicing export duration", DefaultBatchDurationBuckets, "format")
	m.PendingByStep = collector.RegisterGauge("renewal_pending_by_step", "Open renewal tasks per step", "step")
	m.PendingByInvoiceStep = collector.RegisterGauge("renewal_pending_by_invoice_step", "Open renewal tasks per invoice step", "invoice_step")

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")

	m.JobRunsTotal = collector.RegisterCounter("worker_job_runs_total", "Scheduled job runs by outcome", "job", "outcome")
	m.JobRunDuration = collector.RegisterHistogram("worker_job_duration_seconds", "Scheduled job duration", DefaultBatchDurationBuckets, "job")
	m.ServiceUptime = collector.RegisterGauge("service_uptime_seconds", "Service uptime", "service")
	m.HealthCheckUp = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Total errors", "component", "error_type")

	return m
}

func (m *RenewalMetrics) ObserveBatch(operation, outcome string, affected int, took time.Duration) {
	m.BatchesTotal.WithLabelValues(operation, outcome).Inc()
	m.BatchDuration.WithLabelValues(operation).Observe(took.Seconds())
	if affected > 0 {
		m.TransitionsTotal.WithLabelValues(operation).Add(float64(affected))
	}
}

func (m *RenewalMetrics) ObserveSend(kind, outcome string) {
	m.NotificationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *RenewalMetrics) ObserveExport(format, outcome string, took time.Duration) {
	m.ExportsTotal.WithLabelValues(format, outcome).Inc()
	m.ExportDuration.WithLabelValues(format).Observe(took.Seconds())
}

// SetPending overwrites the pending gauges. Callers pass zero-filled maps so
// a step that emptied out drops to 0 instead of keeping its last value.
func (m *RenewalMetrics) SetPending(byStep, byInvoiceStep map[string]int) {
	for step, n := range byStep {
		m.PendingByStep.WithLabelValues(step).Set(float64(n))
	}
	for step, n := range byInvoiceStep {
		m.PendingByInvoiceStep.WithLabelValues(step).Set(float64(n))
	}
}

// Helpers

func RecordHTTPRequest(m *RenewalMetrics, method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordJobRun(m *RenewalMetrics, job string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
		m.ErrorsTotal.WithLabelValues("worker", job).Inc()
	}
	m.JobRunsTotal.WithLabelValues(job, outcome).Inc()
	m.JobRunDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func RecordHealth(m *RenewalMetrics, component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckUp.WithLabelValues(component).Set(v)
}
