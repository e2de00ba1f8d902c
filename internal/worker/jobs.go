// Package worker runs the scheduled renewal jobs and the ops endpoints of the
// worker process.
package worker

import (
	"context"
	"time"

	appRenewal "github.com/turtacn/keyip-renewals/internal/application/renewal"
	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
)

const (
	JobReminderSweep = "reminder_sweep"
	JobStageGauges   = "stage_gauges"
)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression or a descriptor such as
	// "@every 5m".
	Spec string
	Run  func(ctx context.Context) error
}

// ReminderJob sends the reminder call for every task still waiting for
// instructions whose due date falls within horizon.
func ReminderJob(spec string, horizon time.Duration, pipeline appRenewal.PipelineService, comms appRenewal.CommunicationService, logger logging.Logger) Job {
	return Job{
		Name: JobReminderSweep,
		Spec: spec,
		Run: func(ctx context.Context) error {
			ids, err := pipeline.DueForReminder(ctx, horizon)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				logger.Debug("No renewal due for a reminder")
				return nil
			}
			ctx = appRenewal.WithActor(ctx, appRenewal.SystemActor)
			report, err := comms.Send(ctx, ids, domainRenewal.KindReminder)
			if err != nil {
				return err
			}
			logger.Info("Reminder sweep sent",
				logging.Int("due", len(ids)),
				logging.Int("sent", report.Succeeded),
				logging.Int("failed_groups", len(report.Errors)),
				logging.Int64("batch_id", report.BatchID),
			)
			return nil
		},
	}
}

// GaugeJob republishes the pending-per-stage gauges.
func GaugeJob(spec string, pipeline appRenewal.PipelineService) Job {
	return Job{
		Name: JobStageGauges,
		Spec: spec,
		Run:  pipeline.RefreshGauges,
	}
}
