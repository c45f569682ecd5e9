// Package models holds the persistent record shapes for the generation pipeline.
package models

import "time"

// Kind identifies what a job produces.
type Kind string

const (
	KindCard  Kind = "card"
	KindVideo Kind = "video"
	// KindPrint is quota-tracked (see QuotaConfig.BasePrint) but has no
	// generation pipeline of its own — prints are fulfilled out of band,
	// so KindPrint never appears as a Job.Kind.
	KindPrint Kind = "print"
)

// State is a job's position in the lifecycle state machine.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Job is a single generation request and its current lifecycle state.
type Job struct {
	ID          string     `json:"job_id"`
	SessionID   string     `json:"session_id"`
	Kind        Kind       `json:"kind"`
	State       State      `json:"state"`
	Prompt      string     `json:"prompt"`
	ArtifactKey string     `json:"artifact_key,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	ErrorMsg    string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Attempt     int        `json:"attempt"`
	UserOrdinal int        `json:"user_ordinal"`
}

// JobEvent is broadcast on the admin ops feed whenever a job changes state.
type JobEvent struct {
	Type      string    `json:"type"` // queued | started | completed | failed
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"`
}

// Plural returns the artifact-key path segment for a kind ("cards", "videos").
func (k Kind) Plural() string {
	switch k {
	case KindVideo:
		return "videos"
	default:
		return "cards"
	}
}
