// Package renewal implements the renewal pipeline use cases: fee
// calculation, pipeline queries, workflow transitions, client
// communications and payment exports.
package renewal

import (
	"context"
	"strings"
	"time"

	commontypes "github.com/turtacn/keyip-renewals/pkg/types/common"
)

// Logger abstracts structured logging.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Metrics receives pipeline measurements. The Prometheus adapter lives in
// the monitoring package.
type Metrics interface {
	ObserveBatch(operation, outcome string, affected int, took time.Duration)
	ObserveSend(kind, outcome string)
	ObserveExport(format, outcome string, took time.Duration)
	SetPending(byStep, byInvoiceStep map[string]int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveBatch(string, string, int, time.Duration) {}
func (noopMetrics) ObserveSend(string, string)                      {}
func (noopMetrics) ObserveExport(string, string, time.Duration)     {}
func (noopMetrics) SetPending(map[string]int, map[string]int)       {}

// NoopMetrics discards every measurement.
func NoopMetrics() Metrics { return noopMetrics{} }

const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailure  = "failure"
	outcomeSkipped  = "skipped"
)

// SystemActor is recorded when no user is attached to the context.
const SystemActor = "system"

// WithActor attaches the acting user to ctx.
func WithActor(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, commontypes.ContextKeyUserID, login)
}

// ActorFromContext returns the acting user, or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(commontypes.ContextKeyUserID).(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return SystemActor
}

func outcomeOf(res *commontypes.BatchResult) string {
	if res == nil || !res.Success {
		return outcomeRejected
	}
	return outcomeSuccess
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Debug(string, ...interface{}) {}

func orNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
