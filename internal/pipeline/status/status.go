// Package status implements C8: point status lookup with a freshly minted
// signed URL, and bounded session gallery listing — grounded on the
// teacher's handlers_service.go-style read paths that mint presigned URLs
// on demand rather than storing them.
package status

import (
	"context"
	"time"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
)

// JobStatus is the response shape for get_status.
type JobStatus struct {
	JobID       string     `json:"job_id"`
	State       models.State `json:"state"`
	ArtifactURL string     `json:"artifact_url,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	UserOrdinal int        `json:"user_ordinal"`
	Kind        models.Kind  `json:"kind"`
	CreatedAt   time.Time  `json:"created_at"`
}

// GalleryItem is one entry in load_gallery's response.
type GalleryItem struct {
	JobID       string    `json:"job_id"`
	Kind        models.Kind `json:"kind"`
	Prompt      string    `json:"prompt"`
	ArtifactURL string    `json:"artifact_url"`
	CreatedAt   time.Time `json:"created_at"`
	UserOrdinal int       `json:"user_ordinal"`
}

// Service implements C8.
type Service struct {
	jobs     interfaces.JobStore
	blobs    interfaces.BlobStore
	shortTTL time.Duration
	galleryTTL time.Duration
	logger   *common.Logger
}

// NewService creates a new status/gallery service.
func NewService(jobs interfaces.JobStore, blobs interfaces.BlobStore, shortTTL, galleryTTL time.Duration, logger *common.Logger) *Service {
	return &Service{jobs: jobs, blobs: blobs, shortTTL: shortTTL, galleryTTL: galleryTTL, logger: logger}
}

// GetStatus returns a job's current state, minting a fresh signed URL when
// completed. Bytes are never inlined. sessionID scopes visibility: a job
// belonging to another session is reported as not found rather than
// leaking its existence or state.
func (s *Service) GetStatus(ctx context.Context, sessionID, jobID string) (*JobStatus, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.SessionID != sessionID {
		return nil, errs.New(errs.KindInvalidInput, "job not found")
	}

	status := &JobStatus{
		JobID:       job.ID,
		State:       job.State,
		UserOrdinal: job.UserOrdinal,
		Kind:        job.Kind,
		CreatedAt:   job.CreatedAt,
	}

	switch job.State {
	case models.StateCompleted:
		url, err := s.blobs.PresignGet(ctx, job.ArtifactKey, s.shortTTL)
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "failed to presign artifact URL", err)
		}
		status.ArtifactURL = url
	case models.StateFailed:
		status.ErrorKind = job.ErrorKind
		status.Error = job.ErrorMsg
	}

	return status, nil
}

// LoadGallery lists completed jobs for a session, minting one signed URL
// per item. Response size is O(items) per Testable Property 6 — never
// O(sum of artifact sizes).
func (s *Service) LoadGallery(ctx context.Context, sessionID string, limit int) ([]GalleryItem, error) {
	jobs, err := s.jobs.ListCompletedBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list session jobs", err)
	}

	items := make([]GalleryItem, 0, len(jobs))
	for _, job := range jobs {
		url, err := s.blobs.PresignGet(ctx, job.ArtifactKey, s.galleryTTL)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to presign gallery item, skipping")
			continue
		}
		items = append(items, GalleryItem{
			JobID:       job.ID,
			Kind:        job.Kind,
			Prompt:      job.Prompt,
			ArtifactURL: url,
			CreatedAt:   job.CreatedAt,
			UserOrdinal: job.UserOrdinal,
		})
	}
	return items, nil
}
