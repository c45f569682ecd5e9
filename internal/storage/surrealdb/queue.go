package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
)

const (
	tableQueue      = "work_queue"
	tableDeadLetter = "dead_letter"
)

// queueRow mirrors one row of work_queue.
type queueRow struct {
	JobID         string    `json:"job_id"`
	DeliveryCount int       `json:"delivery_count"`
	VisibleAt     time.Time `json:"visible_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// deadLetterRow mirrors one row of dead_letter.
type deadLetterRow struct {
	JobID          string    `json:"job_id"`
	Reason         string    `json:"reason"`
	DeliveryCount  int       `json:"delivery_count"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// Queue implements interfaces.Queue (C3) using SurrealDB, generalizing the
// teacher's select-candidate-then-conditionally-claim pattern from a
// priority job queue to a visibility-timeout work queue.
type Queue struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewQueue creates a new Queue.
func NewQueue(db *surrealdb.DB, logger *common.Logger) *Queue {
	return &Queue{db: db, logger: logger}
}

func queueRecordID(jobID string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(tableQueue, jobID)
}

// Publish enqueues job_id. Idempotent: republishing a job_id that is
// already queued (visible or in-flight) is a no-op.
func (q *Queue) Publish(ctx context.Context, jobID string) error {
	sql := "SELECT job_id FROM $rid"
	existing, err := surrealdb.Query[[]queueRow](ctx, q.db, sql, map[string]any{"rid": queueRecordID(jobID)})
	if err != nil {
		return fmt.Errorf("failed to check existing queue message for %s: %w", jobID, err)
	}
	if existing != nil && len(*existing) > 0 && len((*existing)[0].Result) > 0 {
		return nil
	}

	now := time.Now()
	insertSQL := `CREATE $rid SET job_id = $job_id, delivery_count = 0, visible_at = $now, created_at = $now`
	vars := map[string]any{"rid": queueRecordID(jobID), "job_id": jobID, "now": now}
	if _, err := surrealdb.Query[any](ctx, q.db, insertSQL, vars); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}
	return nil
}

// Receive claims the oldest message whose visibility window has elapsed,
// making it invisible for the given duration. Two-step select-then-claim,
// guarded by a WHERE on the read visible_at so a concurrent Receive can't
// double-claim the same row.
func (q *Queue) Receive(ctx context.Context, visibility time.Duration) (*interfaces.QueueMessage, error) {
	now := time.Now()
	selectSQL := "SELECT job_id, delivery_count, visible_at FROM " + tableQueue + " WHERE visible_at <= $now ORDER BY created_at ASC LIMIT 1"
	candidates, err := surrealdb.Query[[]queueRow](ctx, q.db, selectSQL, map[string]any{"now": now})
	if err != nil {
		return nil, fmt.Errorf("failed to select queue candidate: %w", err)
	}
	if candidates == nil || len(*candidates) == 0 || len((*candidates)[0].Result) == 0 {
		return nil, nil
	}
	candidate := (*candidates)[0].Result[0]

	newVisibleAt := now.Add(visibility)
	newCount := candidate.DeliveryCount + 1
	updateSQL := `UPDATE $rid SET visible_at = $new_visible_at, delivery_count = $new_count WHERE visible_at = $old_visible_at`
	updateVars := map[string]any{
		"rid":             queueRecordID(candidate.JobID),
		"new_visible_at":  newVisibleAt,
		"new_count":       newCount,
		"old_visible_at":  candidate.VisibleAt,
	}
	if _, err := surrealdb.Query[any](ctx, q.db, updateSQL, updateVars); err != nil {
		return nil, fmt.Errorf("failed to claim queue message %s: %w", candidate.JobID, err)
	}

	verifySQL := "SELECT job_id, delivery_count, visible_at FROM $rid"
	verify, err := surrealdb.Query[[]queueRow](ctx, q.db, verifySQL, map[string]any{"rid": queueRecordID(candidate.JobID)})
	if err != nil {
		return nil, fmt.Errorf("failed to verify claim on %s: %w", candidate.JobID, err)
	}
	if verify == nil || len(*verify) == 0 || len((*verify)[0].Result) == 0 {
		return nil, nil
	}
	claimed := (*verify)[0].Result[0]
	if claimed.DeliveryCount != newCount {
		// Another receiver won the race for this row; caller retries.
		return nil, nil
	}

	return &interfaces.QueueMessage{JobID: claimed.JobID, DeliveryCount: claimed.DeliveryCount}, nil
}

// Delete acknowledges successful processing.
func (q *Queue) Delete(ctx context.Context, jobID string) error {
	sql := "DELETE $rid"
	if _, err := surrealdb.Query[any](ctx, q.db, sql, map[string]any{"rid": queueRecordID(jobID)}); err != nil {
		return fmt.Errorf("failed to delete queue message %s: %w", jobID, err)
	}
	return nil
}

// Release makes a message immediately visible again instead of waiting
// out the full visibility timeout.
func (q *Queue) Release(ctx context.Context, jobID string) error {
	sql := "UPDATE $rid SET visible_at = $now"
	if _, err := surrealdb.Query[any](ctx, q.db, sql, map[string]any{"rid": queueRecordID(jobID), "now": time.Now()}); err != nil {
		return fmt.Errorf("failed to release queue message %s: %w", jobID, err)
	}
	return nil
}

// DeadLetter moves a message out of work_queue and into dead_letter after
// it has exhausted its redelivery budget.
func (q *Queue) DeadLetter(ctx context.Context, jobID string, reason string) error {
	row := queueRow{}
	selectSQL := "SELECT job_id, delivery_count FROM $rid"
	existing, err := surrealdb.Query[[]queueRow](ctx, q.db, selectSQL, map[string]any{"rid": queueRecordID(jobID)})
	if err == nil && existing != nil && len(*existing) > 0 && len((*existing)[0].Result) > 0 {
		row = (*existing)[0].Result[0]
	}

	insertSQL := `CREATE $rid SET job_id = $job_id, reason = $reason, delivery_count = $delivery_count, dead_lettered_at = $now`
	vars := map[string]any{
		"rid":            surrealmodels.NewRecordID(tableDeadLetter, jobID),
		"job_id":         jobID,
		"reason":         reason,
		"delivery_count": row.DeliveryCount,
		"now":            time.Now(),
	}
	if _, err := surrealdb.Query[any](ctx, q.db, insertSQL, vars); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", jobID, err)
	}

	if err := q.Delete(ctx, jobID); err != nil {
		return err
	}
	return nil
}

// ListDeadLetters returns the most recent dead-lettered messages for the
// admin dead-letter listing endpoint.
func (q *Queue) ListDeadLetters(ctx context.Context, limit int) ([]interfaces.DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT job_id, reason, delivery_count, dead_lettered_at FROM " + tableDeadLetter + " ORDER BY dead_lettered_at DESC LIMIT $limit"
	results, err := surrealdb.Query[[]deadLetterRow](ctx, q.db, sql, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	var entries []interfaces.DeadLetterEntry
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			entries = append(entries, interfaces.DeadLetterEntry{
				JobID:          r.JobID,
				Reason:         r.Reason,
				DeliveryCount:  r.DeliveryCount,
				DeadLetteredAt: r.DeadLetteredAt,
			})
		}
	}
	return entries, nil
}

func (q *Queue) Close() error { return nil }

var _ interfaces.Queue = (*Queue)(nil)
