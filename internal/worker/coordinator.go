package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/store"
)

// Coordinator resolves batch-job progress after each game lands. It
// never increments counters: every update recounts analyzed games from
// the store, so redelivered tasks and out-of-order completions cannot
// overshoot, and progress only moves forward.
type Coordinator struct {
	db  store.Store
	log *logrus.Entry
}

// NewCoordinator builds a coordinator over the store.
func NewCoordinator(db store.Store) *Coordinator {
	return &Coordinator{db: db, log: logrus.WithField("component", "coordinator")}
}

// SyncUser recomputes progress for every live started job of the user
// and completes those that reached their total. Errors are logged; a
// failed sync is repaired by the next one.
func (c *Coordinator) SyncUser(ctx context.Context, userID int64) {
	jobs, err := c.db.ActiveStartedJobs(ctx, userID)
	if err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("job listing failed")
		return
	}

	for _, job := range jobs {
		count, err := c.db.CountAnalyzedSince(ctx, userID, *job.StartedAt)
		if err != nil {
			c.log.WithError(err).WithField("job_id", job.ID).Warn("analyzed count failed")
			continue
		}

		analyzed := count
		if analyzed > job.TotalGames {
			analyzed = job.TotalGames
		}
		progress := 100
		if job.TotalGames > 0 {
			progress = analyzed * 100 / job.TotalGames
		}

		if err := c.db.UpdateAnalysisProgress(ctx, job.ID, analyzed, progress); err != nil {
			c.log.WithError(err).WithField("job_id", job.ID).Warn("progress write failed")
			continue
		}
		if analyzed >= job.TotalGames {
			if err := c.db.CompleteAnalysisJob(ctx, job.ID); err != nil {
				c.log.WithError(err).WithField("job_id", job.ID).Warn("completion write failed")
			}
		}
	}
}
