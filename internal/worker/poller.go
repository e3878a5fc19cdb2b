package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/models"
)

// ActiveJobLister lists jobs that are not in a terminal state.
type ActiveJobLister interface {
	ListActiveJobs(ctx context.Context) ([]uuid.UUID, error)
}

type Advancer interface {
	Advance(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Poller periodically advances every active job. It resumes jobs after a
// restart and re-dispatches chunks whose lease expired.
type Poller struct {
	jobs     ActiveJobLister
	coord    Advancer
	interval time.Duration
	log      logrus.FieldLogger
}

func NewPoller(jobs ActiveJobLister, coord Advancer, interval time.Duration, log logrus.FieldLogger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{jobs: jobs, coord: coord, interval: interval, log: log}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.WithField("interval", p.interval).Info("Job poller started")
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.log.WithError(err).Error("Failed to list active jobs")
		}
		select {
		case <-ctx.Done():
			p.log.Info("Job poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// PollOnce advances every active job once and returns how many were
// advanced without error.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	ids, err := p.jobs.ListActiveJobs(ctx)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return advanced, ctx.Err()
		}
		if _, err := p.coord.Advance(ctx, id); err != nil {
			p.log.WithError(err).WithField("job_id", id).Warn("Failed to advance job")
			continue
		}
		advanced++
	}
	return advanced, nil
}
