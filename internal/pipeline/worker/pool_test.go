package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/snapmagictest/snapmagic/internal/common"
	"github.com/snapmagictest/snapmagic/internal/interfaces"
	"github.com/snapmagictest/snapmagic/internal/models"
	"github.com/snapmagictest/snapmagic/internal/pipeline/errs"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{jobs: make(map[string]*models.Job)} }

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
		return nil, errs.New(errs.KindInvalidInput, "not found")
	}
	return job, nil
}

func (f *fakeJobStore) TransitionState(_ context.Context, jobID string, expected, next models.State, mutate func(*models.Job)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.State != expected {
		return errs.New(errs.KindInvalidInput, "state mismatch")
	}
	job.State = next
	if mutate != nil {
		mutate(job)
	}
	return nil
}

func (f *fakeJobStore) ListBySession(_ context.Context, _ string, _ int) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) ListCompletedBySession(_ context.Context, _ string, _ int) ([]*models.Job, error) {
	return nil, nil
}

func (f *fakeJobStore) NextOrdinal(_ context.Context, _ string, _ models.Kind) (int, error) {
	return 0, nil
}
func (f *fakeJobStore) ListStuck(_ context.Context, _ time.Time) ([]*models.Job, error) {
	return nil, nil
}
func (f *fakeJobStore) Close() error { return nil }

type fakeQueue struct {
	mu          sync.Mutex
	deleted     map[string]bool
	deadLetters map[string]string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{deleted: make(map[string]bool), deadLetters: make(map[string]string)}
}

func (f *fakeQueue) Publish(_ context.Context, _ string) error { return nil }
func (f *fakeQueue) Receive(_ context.Context, _ time.Duration) (*interfaces.QueueMessage, error) {
	return nil, nil
}
func (f *fakeQueue) Delete(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[jobID] = true
	return nil
}
func (f *fakeQueue) Release(_ context.Context, _ string) error { return nil }
func (f *fakeQueue) DeadLetter(_ context.Context, jobID string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters[jobID] = reason
	return nil
}
func (f *fakeQueue) ListDeadLetters(_ context.Context, _ int) ([]interfaces.DeadLetterEntry, error) {
	return nil, nil
}
func (f *fakeQueue) Close() error { return nil }

type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{data: make(map[string][]byte)} }

func (f *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = data
	return nil
}
func (f *fakeBlobStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key, nil
}
func (f *fakeBlobStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}
func (f *fakeBlobStore) Close() error { return nil }

type fakeQuotaLedger struct {
	mu        sync.Mutex
	completed map[string]int
}

func newFakeQuotaLedger() *fakeQuotaLedger {
	return &fakeQuotaLedger{completed: make(map[string]int)}
}

func (f *fakeQuotaLedger) Remaining(_ context.Context, _ string, _ models.Kind, base int) (int, error) {
	return base, nil
}
func (f *fakeQuotaLedger) Increment(_ context.Context, sessionID string, kind models.Kind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[sessionID+":"+string(kind)]++
	return nil
}
func (f *fakeQuotaLedger) GetOverrideLevel(_ context.Context, _ string) (int, error) { return 0, nil }
func (f *fakeQuotaLedger) SetOverrideLevel(_ context.Context, _ string, _ int) error { return nil }
func (f *fakeQuotaLedger) Close() error                                             { return nil }

type fakeBackend struct {
	imageErr  error
	imageData []byte
	imageCT   string
}

func (f *fakeBackend) GenerateImage(_ context.Context, _ string) ([]byte, string, error) {
	if f.imageErr != nil {
		return nil, "", f.imageErr
	}
	return f.imageData, f.imageCT, nil
}
func (f *fakeBackend) StartVideo(_ context.Context, _ string) (string, error) { return "op-1", nil }
func (f *fakeBackend) PollVideo(_ context.Context, _ string) (bool, []byte, string, error) {
	return true, []byte("video-bytes"), "video/mp4", nil
}

func newTestPool(backend interfaces.GenerationClient) (*Pool, *fakeJobStore, *fakeQueue, *fakeBlobStore, *fakeQuotaLedger) {
	jobs := newFakeJobStore()
	queue := newFakeQueue()
	blobs := newFakeBlobStore()
	quota := newFakeQuotaLedger()
	pool := New(jobs, queue, blobs, quota, backend, Config{Concurrency: 2, VisibilitySeconds: 30, MaxRedeliveries: 2}, common.NewSilentLogger())
	return pool, jobs, queue, blobs, quota
}

func TestProcess_SuccessTransitionsJobAndWritesArtifact(t *testing.T) {
	backend := &fakeBackend{imageData: []byte("pixels"), imageCT: "image/png"}
	pool, jobs, queue, blobs, quota := newTestPool(backend)

	job := &models.Job{ID: "job-1", SessionID: "alice", Kind: models.KindCard, State: models.StateQueued, UserOrdinal: 1, CreatedAt: time.Now()}
	jobs.Create(context.Background(), job)
	msg := &interfaces.QueueMessage{JobID: "job-1", DeliveryCount: 1}

	pool.process(context.Background(), msg)

	got, _ := jobs.Get(context.Background(), "job-1")
	if got.State != models.StateCompleted {
		t.Fatalf("expected job completed, got %s", got.State)
	}
	if got.ArtifactKey == "" {
		t.Error("expected an artifact key to be set")
	}
	if len(blobs.data) != 1 {
		t.Errorf("expected one blob written, got %d", len(blobs.data))
	}
	if !queue.deleted["job-1"] {
		t.Error("expected the queue message to be deleted on success")
	}
	if quota.completed["alice:card"] != 1 {
		t.Errorf("expected quota incremented once, got %d", quota.completed["alice:card"])
	}
}

func TestProcess_TransientFailureLeavesMessageForRedelivery(t *testing.T) {
	backend := &fakeBackend{imageErr: errs.New(errs.KindThrottled, "rate limited")}
	pool, jobs, queue, _, _ := newTestPool(backend)

	job := &models.Job{ID: "job-2", SessionID: "alice", Kind: models.KindCard, State: models.StateQueued, CreatedAt: time.Now()}
	jobs.Create(context.Background(), job)
	msg := &interfaces.QueueMessage{JobID: "job-2", DeliveryCount: 1}

	pool.process(context.Background(), msg)

	got, _ := jobs.Get(context.Background(), "job-2")
	if got.State != models.StateProcessing {
		t.Errorf("expected job to remain processing awaiting redelivery, got %s", got.State)
	}
	if queue.deleted["job-2"] {
		t.Error("expected no ack for a transient failure awaiting redelivery")
	}
}

func TestProcess_ExhaustedRedeliveriesDeadLetters(t *testing.T) {
	backend := &fakeBackend{imageErr: errs.New(errs.KindThrottled, "still rate limited")}
	pool, jobs, queue, _, _ := newTestPool(backend)

	job := &models.Job{ID: "job-3", SessionID: "alice", Kind: models.KindCard, State: models.StateQueued, CreatedAt: time.Now()}
	jobs.Create(context.Background(), job)
	msg := &interfaces.QueueMessage{JobID: "job-3", DeliveryCount: 3} // maxRedeliveries(2)+1

	pool.process(context.Background(), msg)

	got, _ := jobs.Get(context.Background(), "job-3")
	if got.State != models.StateFailed {
		t.Fatalf("expected job failed, got %s", got.State)
	}
	if got.ErrorKind != string(errs.KindDeadLettered) {
		t.Errorf("expected error_kind dead_lettered, got %s", got.ErrorKind)
	}
	if _, ok := queue.deadLetters["job-3"]; !ok {
		t.Error("expected the message to be dead-lettered")
	}
}

func TestProcess_PermanentFailureFailsImmediately(t *testing.T) {
	backend := &fakeBackend{imageErr: errs.New(errs.KindPolicyBlocked, "prompt violates content policy")}
	pool, jobs, queue, _, _ := newTestPool(backend)

	job := &models.Job{ID: "job-4", SessionID: "alice", Kind: models.KindCard, State: models.StateQueued, CreatedAt: time.Now()}
	jobs.Create(context.Background(), job)
	msg := &interfaces.QueueMessage{JobID: "job-4", DeliveryCount: 1}

	pool.process(context.Background(), msg)

	got, _ := jobs.Get(context.Background(), "job-4")
	if got.State != models.StateFailed {
		t.Fatalf("expected job failed, got %s", got.State)
	}
	if got.ErrorKind != string(errs.KindPolicyBlocked) {
		t.Errorf("expected error_kind policy_blocked, got %s", got.ErrorKind)
	}
	if !queue.deleted["job-4"] {
		t.Error("expected the message to be deleted (acked) after a permanent failure")
	}
}

func TestProcess_AlreadyTerminalJobIsIdempotentNoOp(t *testing.T) {
	backend := &fakeBackend{imageData: []byte("pixels"), imageCT: "image/png"}
	pool, jobs, queue, blobs, _ := newTestPool(backend)

	job := &models.Job{ID: "job-5", SessionID: "alice", Kind: models.KindCard, State: models.StateCompleted, ArtifactKey: "cards/existing.png", CreatedAt: time.Now()}
	jobs.Create(context.Background(), job)
	msg := &interfaces.QueueMessage{JobID: "job-5", DeliveryCount: 2}

	pool.process(context.Background(), msg)

	if len(blobs.data) != 0 {
		t.Error("expected a redelivered already-completed job to not write a duplicate artifact")
	}
	if !queue.deleted["job-5"] {
		t.Error("expected the redelivered message to be acked")
	}
}

func TestProcess_NotifiesStartedAndCompleted(t *testing.T) {
	backend := &fakeBackend{imageData: []byte("pixels"), imageCT: "image/png"}
	pool, jobs, _, _, _ := newTestPool(backend)

	var events []string
	pool.Notify = func(e models.JobEvent) { events = append(events, e.Type) }

	job := &models.Job{ID: "job-6", SessionID: "alice", Kind: models.KindCard, State: models.StateQueued, CreatedAt: time.Now()}
	jobs.Create(context.Background(), job)
	msg := &interfaces.QueueMessage{JobID: "job-6", DeliveryCount: 1}

	pool.process(context.Background(), msg)

	if len(events) != 2 || events[0] != "started" || events[1] != "completed" {
		t.Errorf("expected [started, completed] events, got %v", events)
	}
}

func TestInvoke_VideoKindPolls(t *testing.T) {
	backend := &fakeBackend{}
	pool, _, _, _, _ := newTestPool(backend)

	job := &models.Job{ID: "job-7", SessionID: "alice", Kind: models.KindVideo, CreatedAt: time.Now()}
	data, ct, err := pool.invoke(context.Background(), job)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(data) != "video-bytes" || ct != "video/mp4" {
		t.Errorf("unexpected video result: %s %s", data, ct)
	}
}
