package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	redisclient "github.com/turtacn/keyip-renewals/internal/infrastructure/database/redis"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/prometheus"
)

// Guard decides whether this replica runs a tick of the named job. It
// reports whether fn ran.
type Guard func(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)

// LocalGuard always runs fn. Used when the worker runs as a single replica.
func LocalGuard(ctx context.Context, _ string, fn func(ctx context.Context) error) (bool, error) {
	return true, fn(ctx)
}

// LockGuard runs fn under a redis lock named after the job, so that one
// replica executes each tick.
func LockGuard(factory redisclient.LockFactory, ttl time.Duration) Guard {
	return func(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
		return redisclient.RunExclusive(ctx, factory, "job:"+name, ttl, fn)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Scheduler
// ─────────────────────────────────────────────────────────────────────────────

// Scheduler runs Jobs on their cron specs.
type Scheduler struct {
	cron    *cron.Cron
	guard   Guard
	metrics *prometheus.RenewalMetrics
	logger  logging.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler builds a stopped Scheduler. metrics may be nil; timeout
// bounds every run (zero means no bound).
func NewScheduler(guard Guard, metrics *prometheus.RenewalMetrics, logger logging.Logger, timeout time.Duration) *Scheduler {
	if guard == nil {
		guard = LocalGuard
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		guard:   guard,
		metrics: metrics,
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers job. An empty spec disables the job.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.logger.Info("Job disabled", logging.String("job", job.Name))
		return nil
	}
	if _, err := s.cron.AddFunc(job.Spec, func() { _ = s.RunOnce(s.ctx, job) }); err != nil {
		return fmt.Errorf("schedule %s %q: %w", job.Name, job.Spec, err)
	}
	s.logger.Info("Job scheduled", logging.String("job", job.Name), logging.String("schedule", job.Spec))
	return nil
}

// RunOnce executes one guarded tick of job and records its outcome.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	ran, err := s.guard(ctx, job.Name, job.Run)
	took := time.Since(start)

	if !ran && err == nil {
		s.logger.Debug("Job tick skipped, another replica holds the lock", logging.String("job", job.Name))
		return nil
	}
	if s.metrics != nil {
		prometheus.RecordJobRun(s.metrics, job.Name, took, err)
	}
	if err != nil {
		s.logger.Error("Job failed", logging.String("job", job.Name), logging.Duration("took", took), logging.Err(err))
		return err
	}
	s.logger.Info("Job finished", logging.String("job", job.Name), logging.Duration("took", took))
	return nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new ticks, cancels running ones and waits for them until ctx
// ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(kvFields(keysAndValues), logging.Err(err))...)
}

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields = append(fields, logging.Any(key, kv[i+1]))
	}
	return fields
}
