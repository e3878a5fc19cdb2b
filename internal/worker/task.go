// Package worker runs pipeline tasks. A dispatcher queues tasks, workers
// execute them, hand the outcome back to the coordinator and advance the
// job so the next stage is planned as soon as a stage finishes.
package worker

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
	"github.com/muzaffar640/vidread-backend/internal/pipeline"
)

// Runner executes one task with retries.
type Runner interface {
	Execute(ctx context.Context, task pipeline.Task) pipeline.Outcome
}

// Coordinator is the part of pipeline.Coordinator workers talk to.
type Coordinator interface {
	Complete(ctx context.Context, task pipeline.Task, outcome pipeline.Outcome) error
	Advance(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// runTask executes task, records the outcome and advances the job.
func runTask(ctx context.Context, runner Runner, coord Coordinator, task pipeline.Task, log logrus.FieldLogger) {
	entry := log.WithFields(logrus.Fields{
		"job_id": task.JobID,
		"stage":  task.Stage,
		"seq":    task.Seq,
	})

	outcome := runner.Execute(ctx, task)
	if ctx.Err() != nil {
		// Shutting down: the chunk stays running and is picked up again
		// once its lease expires.
		entry.WithField("attempts", outcome.Attempts).Info("Worker stopping, task left for re-dispatch")
		return
	}
	if outcome.Err != nil {
		entry.WithError(outcome.Err).WithField("attempts", outcome.Attempts).Warn("Task failed")
	}

	if err := coord.Complete(ctx, task, outcome); err != nil {
		switch {
		case errors.Is(err, models.ErrUnknownChunk), errors.Is(err, models.ErrJobNotFound):
			entry.WithError(err).Warn("Dropping task outcome")
			return
		default:
			entry.WithError(err).Error("Failed to record task outcome")
			return
		}
	}

	if _, err := coord.Advance(ctx, task.JobID); err != nil {
		entry.WithError(err).Error("Failed to advance job")
	}
}
