package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
)

const tableJob = "job"
const tableOrdinal = "ordinal"

// ordinalRow is the per-(session_id, kind) counter row backing NextOrdinal.
type ordinalRow struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Seq       int    `json:"seq"`
}

func ordinalRecordID(sessionID string, kind models.Kind) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(tableOrdinal, fmt.Sprintf("%s_%s", sessionID, kind))
}

// jobSelectFields aliases job_id to id so SurrealDB's row maps onto
// models.Job, the same pattern the teacher's job_queue store used.
const jobSelectFields = "job_id as id, session_id, kind, state, prompt, artifact_key, error_kind, error, created_at, started_at, completed_at, attempt, user_ordinal"

// JobStore implements interfaces.JobStore (C1) using SurrealDB.
type JobStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *surrealdb.DB, logger *common.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func jobRecordID(jobID string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(tableJob, jobID)
}

// Create persists a newly submitted job in models.StateQueued.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	sql := `UPSERT $rid SET
		job_id = $job_id, session_id = $session_id, kind = $kind, state = $state,
		prompt = $prompt, artifact_key = $artifact_key, error_kind = $error_kind,
		error = $error, created_at = $created_at, started_at = $started_at,
		completed_at = $completed_at, attempt = $attempt, user_ordinal = $user_ordinal`
	vars := map[string]any{
		"rid":          jobRecordID(job.ID),
		"job_id":       job.ID,
		"session_id":   job.SessionID,
		"kind":         job.Kind,
		"state":        job.State,
		"prompt":       job.Prompt,
		"artifact_key": job.ArtifactKey,
		"error_kind":   job.ErrorKind,
		"error":        job.ErrorMsg,
		"created_at":   job.CreatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
		"attempt":      job.Attempt,
		"user_ordinal": job.UserOrdinal,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// Get fetches a single job by id.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	sql := "SELECT " + jobSelectFields + " FROM $rid"
	vars := map[string]any{"rid": jobRecordID(jobID)}

	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, errs.New(errs.KindInvalidInput, fmt.Sprintf("job %s not found", jobID))
	}
	job := (*results)[0].Result[0]
	return &job, nil
}

// TransitionState loads the job, verifies it is in expected, sets job.State
// to next, applies mutate (for whatever other fields the transition
// requires), then conditionally writes it back with
// WHERE state = $expected so a concurrent claim never double-applies.
// It re-reads the row after the write to confirm the condition held,
// returning a conflict error when another worker won the race.
func (s *JobStore) TransitionState(ctx context.Context, jobID string, expected, next models.State, mutate func(*models.Job)) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != expected {
		return errs.New(errs.KindInternal, fmt.Sprintf("job %s state conflict: expected %s, found %s", jobID, expected, job.State))
	}

	job.State = next
	if mutate != nil {
		mutate(job)
	}

	sql := `UPDATE $rid SET
		state = $state, artifact_key = $artifact_key, error_kind = $error_kind,
		error = $error, started_at = $started_at, completed_at = $completed_at,
		attempt = $attempt
		WHERE state = $expected`
	vars := map[string]any{
		"rid":          jobRecordID(jobID),
		"state":        job.State,
		"artifact_key": job.ArtifactKey,
		"error_kind":   job.ErrorKind,
		"error":        job.ErrorMsg,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
		"attempt":      job.Attempt,
		"expected":     expected,
	}

	if _, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to transition job %s: %w", jobID, err)
	}

	after, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if after.State != next {
		return errs.New(errs.KindInternal, fmt.Sprintf("job %s lost transition race: still %s", jobID, after.State))
	}
	return nil
}

// ListBySession returns the most recent jobs for a session, in any state.
func (s *JobStore) ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := "SELECT " + jobSelectFields + " FROM " + tableJob + " WHERE session_id = $session_id ORDER BY created_at DESC LIMIT $limit"
	vars := map[string]any{"session_id": sessionID, "limit": limit}
	return s.queryJobs(ctx, sql, vars)
}

// ListCompletedBySession returns the most recent completed jobs for a
// session. The state filter is applied in the query itself, before LIMIT,
// so the bound is on completed items rather than on the unfiltered job set
// (a caller that filtered client-side after an unfiltered LIMIT would see
// fewer than limit completed items whenever other states are interleaved).
func (s *JobStore) ListCompletedBySession(ctx context.Context, sessionID string, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := "SELECT " + jobSelectFields + " FROM " + tableJob + " WHERE session_id = $session_id AND state = $state ORDER BY created_at DESC LIMIT $limit"
	vars := map[string]any{"session_id": sessionID, "state": models.StateCompleted, "limit": limit}
	return s.queryJobs(ctx, sql, vars)
}

// ListStuck returns jobs that have been in StateProcessing since before
// cutoff, the input to orphan-job reconciliation.
func (s *JobStore) ListStuck(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	sql := "SELECT " + jobSelectFields + " FROM " + tableJob + " WHERE state = $processing AND started_at < $cutoff"
	vars := map[string]any{"processing": models.StateProcessing, "cutoff": cutoff}
	return s.queryJobs(ctx, sql, vars)
}

func (s *JobStore) queryJobs(ctx context.Context, sql string, vars map[string]any) ([]*models.Job, error) {
	results, err := surrealdb.Query[[]models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	var jobs []*models.Job
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}

// NextOrdinal atomically increments and returns the per-(session_id, kind)
// ordinal counter, mirroring QuotaStore.Increment's UPSERT ... SET x += 1
// pattern: the increment happens in a single conditionless UPSERT against the
// counter's own record id (creating it at 1 on first use), so two concurrent
// Submit calls for the same
// session+kind can never read-then-write the same count (the failure mode of
// the previous ListBySession-count-based scheme).
func (s *JobStore) NextOrdinal(ctx context.Context, sessionID string, kind models.Kind) (int, error) {
	sql := `UPSERT $rid SET session_id = $session_id, kind = $kind, seq += 1`
	vars := map[string]any{
		"rid":        ordinalRecordID(sessionID, kind),
		"session_id": sessionID,
		"kind":       kind,
	}
	results, err := surrealdb.Query[[]ordinalRow](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to increment ordinal counter for %s/%s: %w", sessionID, kind, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, fmt.Errorf("ordinal increment returned no row for %s/%s", sessionID, kind)
	}
	return (*results)[0].Result[0].Seq, nil
}

func (s *JobStore) Close() error { return nil }

var _ interfaces.JobStore = (*JobStore)(nil)
