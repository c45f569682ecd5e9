// Package worker implements C7: a bounded-concurrency claim/invoke/complete
// loop, generalized from the teacher's internal/services/jobmanager
// package (semaphore-bounded dispatch, panic-recovering goroutine
// launchers, retry/requeue-on-failure) from "stock data collection" jobs
// to generative-artifact jobs.
package worker

import (
	"context"
	"fmt"
	"mime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
	"github.com/snapmagictest/snapmagic/internal/pipeline/metrics"
)

// idlePoll is how long a worker sleeps after an empty Receive before
// trying again — the in-process stand-in for the queue's own long-poll.
const idlePoll = 500 * time.Millisecond

// videoPollInitialInterval/videoPollMaxInterval/videoPollDeadline bound the
// video poll loop in invokeVideo.
const (
	videoPollInitialInterval = 2 * time.Second
	videoPollMaxInterval     = 15 * time.Second
	videoPollDeadline        = 6 * time.Minute
)

// Pool is the worker pool. Concurrency is enforced two ways: a buffered
// channel sized N gates how many goroutines may be inside a C5 call at
// once, and a golang.org/x/time/rate.Limiter paces the rate at which new
// calls are allowed to start, matching the teacher's eodhd client's
// limiter.Wait(ctx) pattern generalized from an HTTP client to C5 itself.
type Pool struct {
	jobs    interfaces.JobStore
	queue   interfaces.Queue
	blobs   interfaces.BlobStore
	quota   interfaces.QuotaLedger
	backend interfaces.GenerationClient

	sem     chan struct{}
	limiter *rate.Limiter

	visibility      time.Duration
	maxRedeliveries int

	logger *common.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	// Notify, if set, is called on every lifecycle transition — wired to
	// the admin ops websocket feed.
	Notify func(models.JobEvent)
}

// Config configures the pool.
type Config struct {
	Concurrency       int
	VisibilitySeconds int
	MaxRedeliveries   int
}

// New constructs a worker pool.
func New(jobs interfaces.JobStore, queue interfaces.Queue, blobs interfaces.BlobStore, quota interfaces.QuotaLedger, backend interfaces.GenerationClient, cfg Config, logger *common.Logger) *Pool {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		jobs:            jobs,
		queue:           queue,
		blobs:           blobs,
		quota:           quota,
		backend:         backend,
		sem:             make(chan struct{}, concurrency),
		limiter:         rate.NewLimiter(rate.Limit(concurrency), concurrency),
		visibility:      time.Duration(cfg.VisibilitySeconds) * time.Second,
		maxRedeliveries: cfg.MaxRedeliveries,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

// Start launches one receive loop per concurrency slot.
func (p *Pool) Start(ctx context.Context) {
	n := cap(p.sem)
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.safeReceiveLoop(ctx, i)
	}
	p.logger.Info().Int("concurrency", n).Msg("worker pool started")
}

// Stop signals every receive loop to exit and waits for in-flight jobs to
// finish their current message before returning.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info().Msg("worker pool stopped")
}

// safeReceiveLoop recovers a panic in message processing so one bad job
// can't take down its receive loop, mirroring the teacher's safeGo pattern.
func (p *Pool) safeReceiveLoop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.queue.Receive(ctx, p.visibility)
		if err != nil {
			p.logger.Error().Err(err).Int("worker", id).Msg("queue receive failed")
			time.Sleep(idlePoll)
			continue
		}
		if msg == nil {
			time.Sleep(idlePoll)
			continue
		}

		p.processWithRecover(ctx, msg)
	}
}

func (p *Pool) processWithRecover(ctx context.Context, msg *interfaces.QueueMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("job_id", msg.JobID).Msg("recovered panic while processing job")
		}
	}()
	p.process(ctx, msg)
}

func (p *Pool) process(ctx context.Context, msg *interfaces.QueueMessage) {
	job, err := p.jobs.Get(ctx, msg.JobID)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("job record missing for queued message")
		return
	}

	// Idempotent no-op: a message redelivered after its completion already
	// landed must not re-run the job or write a duplicate artifact.
	if job.State == models.StateCompleted || job.State == models.StateFailed {
		if err := p.queue.Delete(ctx, msg.JobID); err != nil {
			p.logger.Warn().Err(err).Str("job_id", msg.JobID).Msg("failed to delete message for already-terminal job")
		}
		return
	}

	if err := p.claim(ctx, job); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to claim job")
		return
	}

	p.sem <- struct{}{}
	metrics.BackendInflightCalls.Inc()
	if err := p.limiter.Wait(ctx); err != nil {
		metrics.BackendInflightCalls.Dec()
		<-p.sem
		return
	}

	data, contentType, genErr := p.invoke(ctx, job)

	metrics.BackendInflightCalls.Dec()
	<-p.sem

	if genErr != nil {
		p.handleFailure(ctx, job, msg, genErr)
		return
	}

	p.handleSuccess(ctx, job, msg, data, contentType)
}

// claim transitions the job into processing regardless of whether this is
// the first delivery (queued) or a redelivery (still processing from a
// now-expired visibility window) — spec.md §4.3 step 1.
func (p *Pool) claim(ctx context.Context, job *models.Job) error {
	if err := p.jobs.TransitionState(ctx, job.ID, job.State, models.StateProcessing, func(j *models.Job) {
		now := time.Now()
		j.StartedAt = &now
		j.Attempt++
	}); err != nil {
		return err
	}
	p.notify("started", job)
	return nil
}

// notify invokes Notify if set, filling in the job's current state.
func (p *Pool) notify(eventType string, job *models.Job) {
	if p.Notify == nil {
		return
	}
	p.Notify(models.JobEvent{Type: eventType, Job: job, Timestamp: time.Now()})
}

func (p *Pool) invoke(ctx context.Context, job *models.Job) ([]byte, string, error) {
	switch job.Kind {
	case models.KindCard:
		return p.backend.GenerateImage(ctx, job.Prompt)
	case models.KindVideo:
		return p.invokeVideo(ctx, job)
	default:
		return nil, "", errs.New(errs.KindInvalidInput, fmt.Sprintf("unsupported job kind %q", job.Kind))
	}
}

// invokeVideo starts an async operation and polls it with a bounded
// exponential backoff until it resolves or the overall deadline expires,
// per spec.md §4.4's "bounded exponential backoff with a hard overall
// deadline." Grounded on fairyhunter13's backoff.NewExponentialBackOff/
// backoff.Retry poll pattern: a not-yet-done poll is an ordinary retryable
// error, a poll error from the backend is wrapped backoff.Permanent to
// stop retrying immediately.
func (p *Pool) invokeVideo(ctx context.Context, job *models.Job) ([]byte, string, error) {
	opName, err := p.backend.StartVideo(ctx, job.Prompt)
	if err != nil {
		return nil, "", err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = videoPollInitialInterval
	b.MaxInterval = videoPollMaxInterval
	b.MaxElapsedTime = videoPollDeadline
	b.Multiplier = 2

	var data []byte
	var contentType string
	poll := func() error {
		done, d, ct, pollErr := p.backend.PollVideo(ctx, opName)
		if pollErr != nil {
			return backoff.Permanent(pollErr)
		}
		if !done {
			return fmt.Errorf("video operation %s not yet complete", opName)
		}
		data, contentType = d, ct
		return nil
	}

	if err := backoff.Retry(poll, backoff.WithContext(b, ctx)); err != nil {
		if tagged, ok := errs.As(err); ok {
			return nil, "", tagged
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", errs.Wrap(errs.KindBackendUnavailable, "video generation exceeded poll deadline", err)
	}
	return data, contentType, nil
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, msg *interfaces.QueueMessage, genErr error) {
	tagged, _ := errs.As(genErr)
	transient := tagged == nil || tagged.Transient()

	exhausted := msg.DeliveryCount >= p.maxRedeliveries+1

	if transient && !exhausted {
		// Leave the message undeleted; the visibility timeout expiring is
		// what triggers redelivery. C1 keeps the attempt count already
		// bumped by claim().
		p.logger.Warn().Err(genErr).Str("job_id", job.ID).Int("attempt", job.Attempt).Msg("transient generation failure, awaiting redelivery")
		return
	}

	kind := errs.KindInternal
	msgText := genErr.Error()
	if tagged != nil {
		kind = tagged.Kind
		msgText = tagged.Msg
	}
	if exhausted && transient {
		kind = errs.KindDeadLettered
	}

	if err := p.jobs.TransitionState(ctx, job.ID, models.StateProcessing, models.StateFailed, func(j *models.Job) {
		j.ErrorKind = string(kind)
		j.ErrorMsg = msgText
		now := time.Now()
		j.CompletedAt = &now
	}); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to transition job to failed")
		return
	}

	if exhausted && transient {
		if err := p.queue.DeadLetter(ctx, job.ID, msgText); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to dead-letter message")
		}
	} else {
		if err := p.queue.Delete(ctx, job.ID); err != nil {
			p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to delete message after permanent failure")
		}
	}

	metrics.JobsFailedTotal.WithLabelValues(string(job.Kind), string(kind)).Inc()
	p.logger.Warn().Str("job_id", job.ID).Str("error_kind", string(kind)).Msg("job failed")
	p.notify("failed", job)
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job, msg *interfaces.QueueMessage, data []byte, contentType string) {
	overrideLevel, err := p.quota.GetOverrideLevel(ctx, job.SessionID)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to read override level for artifact key, defaulting to 0")
	}
	key := artifactKey(job, overrideLevel, contentType)

	if err := p.blobs.Put(ctx, key, data, contentType); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to write artifact, leaving message for redelivery")
		return
	}

	if err := p.jobs.TransitionState(ctx, job.ID, models.StateProcessing, models.StateCompleted, func(j *models.Job) {
		j.ArtifactKey = key
		now := time.Now()
		j.CompletedAt = &now
	}); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to transition job to completed")
		return
	}

	if err := p.quota.Increment(ctx, job.SessionID, job.Kind); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to increment quota after completion")
	}

	if err := p.queue.Delete(ctx, job.ID); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to delete message after completion")
	}

	metrics.JobsCompletedTotal.WithLabelValues(string(job.Kind)).Inc()
	p.logger.Info().Str("job_id", job.ID).Str("artifact_key", key).Msg("job completed")
	p.notify("completed", job)
}

// artifactKey builds the deterministic key from spec.md §3/§6:
// kind_plural/{session_id}_user_{ordinal:03d}_override{level}_{seq}_{yyyymmdd_hhmmss}.{ext}
// seq is the job's attempt count, already tracked by C1 and requiring no
// extra coordination to stay collision-free.
func artifactKey(job *models.Job, overrideLevel int, contentType string) string {
	ext := extensionFor(job.Kind, contentType)
	ts := time.Now().Format("20060102_150405")
	return fmt.Sprintf("%s/%s_user_%03d_override%d_%d_%s.%s",
		job.Kind.Plural(), job.SessionID, job.UserOrdinal, overrideLevel, job.Attempt, ts, ext)
}

func extensionFor(kind models.Kind, contentType string) string {
	if kind == models.KindVideo {
		return "mp4"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err == nil {
		for _, e := range exts {
			if e == ".png" || e == ".jpg" || e == ".jpeg" {
				return e[1:]
			}
		}
	}
	return "png"
}
