// Package interfaces defines the service contracts between the pipeline
// components and their storage/transport/backend adapters.
package interfaces

import (
	"context"
	"time"

	"github.com/snapmagictest/snapmagic/internal/models"
)

// JobStore is C1: the durable per-job record, keyed by job_id with a
// secondary index on session_id.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	// TransitionState performs a conditional update: it only applies when
	// the stored state matches expected, enforcing the transition matrix.
	TransitionState(ctx context.Context, jobID string, expected, next models.State, mutate func(*models.Job)) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*models.Job, error)
	// ListCompletedBySession returns the most recent StateCompleted jobs for a
	// session, filtered before limit is applied so the gallery's bound is on
	// completed items, not on the unfiltered job set.
	ListCompletedBySession(ctx context.Context, sessionID string, limit int) ([]*models.Job, error)
	// ListStuck returns jobs that have been in StateProcessing since before cutoff.
	ListStuck(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
	// NextOrdinal atomically increments and returns the per-(session_id, kind)
	// ordinal counter. Must be a single atomic read-modify-write so two
	// concurrent callers for the same session+kind never observe and assign
	// the same value.
	NextOrdinal(ctx context.Context, sessionID string, kind models.Kind) (int, error)
	Close() error
}

// BlobStore is C2: deterministic-key artifact storage plus signed read URLs.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// QueueMessage is a single delivery of a work-queue item.
type QueueMessage struct {
	JobID         string
	DeliveryCount int
}

// Queue is C3: at-least-once delivery with a per-message visibility
// timeout, a redelivery cap, and an explicit dead-letter sink.
type Queue interface {
	// Publish enqueues a message idempotent on job_id: republishing the same
	// job_id while a prior message is still outstanding is a no-op.
	Publish(ctx context.Context, jobID string) error
	// Receive claims up to one message invisible for visibility for the caller
	// to process. Returns nil, nil when the queue is empty.
	Receive(ctx context.Context, visibility time.Duration) (*QueueMessage, error)
	// Delete acknowledges successful processing, removing the message.
	Delete(ctx context.Context, jobID string) error
	// Release makes a message visible again immediately, without waiting out
	// its visibility timeout.
	Release(ctx context.Context, jobID string) error
	// DeadLetter moves a message to the dead-letter sink after max redeliveries.
	DeadLetter(ctx context.Context, jobID string, reason string) error
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetterEntry, error)
	Close() error
}

// DeadLetterEntry is an operator-visible record of an abandoned message.
type DeadLetterEntry struct {
	JobID         string    `json:"job_id"`
	Reason        string    `json:"reason"`
	DeliveryCount int       `json:"delivery_count"`
	DeadLetteredAt time.Time `json:"dead_lettered_at"`
}

// QuotaLedger is C4: per-(session_id, kind) completed-unit counters with a
// per-session override level.
type QuotaLedger interface {
	// Remaining returns how many more completions are allowed for kind,
	// given base and the session's override level: base*(1+override_level) - completed.
	Remaining(ctx context.Context, sessionID string, kind models.Kind, base int) (int, error)
	// Increment atomically records one more completed unit for (session, kind).
	Increment(ctx context.Context, sessionID string, kind models.Kind) error
	GetOverrideLevel(ctx context.Context, sessionID string) (int, error)
	SetOverrideLevel(ctx context.Context, sessionID string, level int) error
	Close() error
}

// GenerationClient is C5: the generative backend. GenerateImage is a
// synchronous call; StartVideo starts an async operation that is polled
// via PollVideo until it resolves.
type GenerationClient interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) // data, content-type, error
	StartVideo(ctx context.Context, prompt string) (operationName string, err error)
	PollVideo(ctx context.Context, operationName string) (done bool, data []byte, contentType string, err error)
}
