package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
)

// fakeJobStore is an in-memory interfaces.JobStore for HTTP-layer tests.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.Job)}
}

func (f *fakeJobStore) Create(_ context.Context, job *models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) Get(_ context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, errs.New(errs.KindInvalidInput, "job not found")
	}
	return job, nil
}

func (f *fakeJobStore) TransitionState(_ context.Context, jobID string, expected, next models.State, mutate func(*models.Job)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return errs.New(errs.KindInvalidInput, "job not found")
	}
	if job.State != expected {
		return fmt.Errorf("state mismatch: expected %s, got %s", expected, job.State)
	}
	job.State = next
	if mutate != nil {
		mutate(job)
	}
	return nil
}

func (f *fakeJobStore) ListBySession(_ context.Context, sessionID string, limit int) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Job
	for _, job := range f.jobs {
		if job.SessionID == sessionID {
			out = append(out, job)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeJobStore) ListCompletedBySession(_ context.Context, sessionID string, limit int) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Job
	for _, job := range f.jobs {
		if job.SessionID == sessionID && job.State == models.StateCompleted {
			out = append(out, job)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeJobStore) ListStuck(_ context.Context, _ time.Time) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) NextOrdinal(_ context.Context, sessionID string, kind models.Kind) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, job := range f.jobs {
		if job.SessionID == sessionID && job.Kind == kind {
			count++
		}
	}
	return count + 1, nil
}

func (f *fakeJobStore) Close() error { return nil }

// fakeQuotaLedger is an in-memory interfaces.QuotaLedger.
type fakeQuotaLedger struct {
	mu         sync.Mutex
	completed  map[string]int
	overrides  map[string]int
}

func newFakeQuotaLedger() *fakeQuotaLedger {
	return &fakeQuotaLedger{completed: make(map[string]int), overrides: make(map[string]int)}
}

func (f *fakeQuotaLedger) key(sessionID string, kind models.Kind) string {
	return sessionID + ":" + string(kind)
}

func (f *fakeQuotaLedger) Remaining(_ context.Context, sessionID string, kind models.Kind, base int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	level := f.overrides[sessionID]
	allowed := base * (1 + level)
	return allowed - f.completed[f.key(sessionID, kind)], nil
}

func (f *fakeQuotaLedger) Increment(_ context.Context, sessionID string, kind models.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[f.key(sessionID, kind)]++
	return nil
}

func (f *fakeQuotaLedger) GetOverrideLevel(_ context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overrides[sessionID], nil
}

func (f *fakeQuotaLedger) SetOverrideLevel(_ context.Context, sessionID string, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[sessionID] = level
	return nil
}

func (f *fakeQuotaLedger) Close() error { return nil }

// fakeQueue is an in-memory interfaces.Queue.
type fakeQueue struct {
	mu          sync.Mutex
	published   map[string]bool
	deadLetters []interfaces.DeadLetterEntry
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string]bool)}
}

func (f *fakeQueue) Publish(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[jobID] = true
	return nil
}

func (f *fakeQueue) Receive(_ context.Context, _ time.Duration) (*interfaces.QueueMessage, error) {
	return nil, nil
}

func (f *fakeQueue) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.published, jobID)
	return nil
}

func (f *fakeQueue) Release(_ context.Context, _ string) error { return nil }

func (f *fakeQueue) DeadLetter(_ context.Context, jobID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, interfaces.DeadLetterEntry{JobID: jobID, Reason: reason, DeadLetteredAt: time.Now()})
	return nil
}

func (f *fakeQueue) ListDeadLetters(_ context.Context, limit int) ([]interfaces.DeadLetterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deadLetters) > limit {
		return f.deadLetters[:limit], nil
	}
	return f.deadLetters, nil
}

func (f *fakeQueue) Close() error { return nil }

// fakeBlobStore is an in-memory interfaces.BlobStore.
type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	return nil
}

func (f *fakeBlobStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s?exp=%d", key, time.Now().Add(ttl).Unix()), nil
}

func (f *fakeBlobStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeBlobStore) Close() error { return nil }
