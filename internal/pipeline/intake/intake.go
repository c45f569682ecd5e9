// Package intake implements C6: validate, quota-precheck, persist queued,
// publish, return — grounded on the teacher's JobQueueStore.Enqueue flow,
// generalized from a single-table enqueue into the explicit
// validate/quota/persist/publish sequence spec.md §4.1 requires.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
	"github.com/snapmagictest/snapmagic/internal/pipeline/metrics"
)

// Result is returned by Submit.
type Result struct {
	JobID       string `json:"job_id"`
	UserOrdinal int    `json:"user_ordinal"`
	Remaining   int    `json:"remaining"`
}

// Service implements C6.
type Service struct {
	jobs   interfaces.JobStore
	queue  interfaces.Queue
	quota  interfaces.QuotaLedger
	prompt common.PromptConfig
	base   common.QuotaConfig
	logger *common.Logger

	// Notify, if set, is called with a "queued" event after a job is
	// durably enqueued — wired to the admin ops websocket feed.
	Notify func(models.JobEvent)
}

// NewService creates a new intake service.
func NewService(jobs interfaces.JobStore, queue interfaces.Queue, quota interfaces.QuotaLedger, prompt common.PromptConfig, base common.QuotaConfig, logger *common.Logger) *Service {
	return &Service{jobs: jobs, queue: queue, quota: quota, prompt: prompt, base: base, logger: logger}
}

func (s *Service) boundsFor(kind models.Kind) common.PromptBounds {
	if kind == models.KindVideo {
		return s.prompt.Video
	}
	return s.prompt.Card
}

func (s *Service) baseFor(kind models.Kind) int {
	if kind == models.KindVideo {
		return s.base.BaseVideo
	}
	return s.base.BaseCard
}

// Submit validates, quota-checks, persists, and publishes a new job,
// returning immediately per spec.md's sub-second intake deadline.
func (s *Service) Submit(ctx context.Context, sessionID string, kind models.Kind, prompt string) (*Result, error) {
	if kind != models.KindCard && kind != models.KindVideo {
		return nil, errs.New(errs.KindInvalidInput, fmt.Sprintf("unsupported kind %q", kind))
	}
	bounds := s.boundsFor(kind)
	promptLen := len([]rune(prompt))
	if promptLen < bounds.MinLen || promptLen > bounds.MaxLen {
		return nil, errs.New(errs.KindInvalidInput, fmt.Sprintf("prompt length %d out of bounds [%d,%d]", promptLen, bounds.MinLen, bounds.MaxLen))
	}

	base := s.baseFor(kind)
	remaining, err := s.quota.Remaining(ctx, sessionID, kind, base)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "quota precheck failed", err)
	}
	if remaining < 1 {
		metrics.QuotaAdmissionRejectionsTotal.WithLabelValues(string(kind)).Inc()
		return nil, errs.New(errs.KindQuotaExceeded, "quota exhausted for this session and kind")
	}

	ordinal, err := s.jobs.NextOrdinal(ctx, sessionID, kind)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to assign user ordinal", err)
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Kind:        kind,
		State:       models.StateQueued,
		Prompt:      prompt,
		CreatedAt:   time.Now(),
		Attempt:     0,
		UserOrdinal: ordinal,
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to persist job", err)
	}

	if err := s.queue.Publish(ctx, job.ID); err != nil {
		markErr := s.jobs.TransitionState(ctx, job.ID, models.StateQueued, models.StateFailed, func(j *models.Job) {
			j.ErrorKind = string(errs.KindEnqueueFailed)
			j.ErrorMsg = err.Error()
		})
		if markErr != nil {
			s.logger.Error().Err(markErr).Str("job_id", job.ID).Msg("failed to mark job failed after enqueue failure")
		}
		return nil, errs.Wrap(errs.KindEnqueueFailed, "failed to publish job to queue", err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Info().
		Str("job_id", job.ID).
		Str("session_id", sessionID).
		Str("kind", string(kind)).
		Int("user_ordinal", ordinal).
		Msg("job submitted")

	if s.Notify != nil {
		s.Notify(models.JobEvent{Type: "queued", Job: job, Timestamp: time.Now()})
	}

	return &Result{JobID: job.ID, UserOrdinal: ordinal, Remaining: remaining - 1}, nil
}
