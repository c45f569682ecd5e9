// Package reconcile supplies the orphan-job reconciliation pass spec.md
// §4.3 bullet 6 calls out as a separate, out-of-scope-for-the-pool offline
// path. Directly adapted from the teacher's
// JobQueueStore.ResetRunningJobs + JobManager.Start startup recovery call,
// but deliberately redesigned: instead of resetting stuck jobs back to
// queued, this marks them failed(dead_lettered), matching spec.md §4.3's
// stated semantics (see DESIGN.md for the behavior-change justification).
package reconcile

import (
	"context"
	"time"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
)

// Service periodically reclaims jobs stuck in processing past the
// queue's own redelivery budget, a backstop for jobs whose worker never
// recorded a terminal state for them.
type Service struct {
	jobs      interfaces.JobStore
	queue     interfaces.Queue
	threshold time.Duration
	logger    *common.Logger
}

// NewService creates a reconciliation service. threshold should be
// queue.visibility_seconds * (queue.max_redeliveries + 1), the longest a
// job can legitimately stay in processing under normal redelivery.
func NewService(jobs interfaces.JobStore, queue interfaces.Queue, threshold time.Duration, logger *common.Logger) *Service {
	return &Service{jobs: jobs, queue: queue, threshold: threshold, logger: logger}
}

// Run scans for stuck jobs once and marks each failed(dead_lettered).
func (s *Service) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.threshold)
	stuck, err := s.jobs.ListStuck(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, job := range stuck {
		err := s.jobs.TransitionState(ctx, job.ID, models.StateProcessing, models.StateFailed, func(j *models.Job) {
			j.ErrorKind = string(errs.KindDeadLettered)
			j.ErrorMsg = "reconciled: exceeded maximum processing time without completion"
			now := time.Now()
			j.CompletedAt = &now
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to reconcile stuck job")
			continue
		}
		if err := s.queue.DeadLetter(ctx, job.ID, "orphaned: exceeded processing threshold"); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to dead-letter orphaned queue message")
		}
		reconciled++
		s.logger.Warn().Str("job_id", job.ID).Msg("reconciled orphaned job")
	}

	if reconciled > 0 {
		s.logger.Info().Int("count", reconciled).Msg("orphan reconciliation pass complete")
	}
	return reconciled, nil
}

// StartPeriodic runs Run on a ticker until ctx is cancelled, the shape the
// teacher's warmcache.go/scheduler.go background loops follow.
func (s *Service) StartPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Run(ctx); err != nil {
				s.logger.Error().Err(err).Msg("orphan reconciliation pass failed")
			}
		}
	}
}
