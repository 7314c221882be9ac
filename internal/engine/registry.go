package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the shared store of job records. Every mutation goes through
// Update so the lifecycle rules hold for all writers.
type Registry interface {
	// Create stores a new queued job with progress 0 and returns it.
	Create(ctx context.Context, spec JobSpec) (*Job, error)
	// Update applies u atomically. Terminal jobs reject updates with
	// ErrTerminal; a From that does not match gives ErrStatusMismatch.
	Update(ctx context.Context, id string, u JobUpdate) (*Job, error)
	// Get returns ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (*Job, error)
	Delete(ctx context.Context, id string) error
}

// NewJobID returns a fresh job identifier.
func NewJobID() string { return uuid.NewString() }

func newJob(spec JobSpec, now time.Time) *Job {
	return &Job{
		ID:        NewJobID(),
		URL:       spec.URL,
		Platform:  spec.Platform,
		Quality:   spec.Quality,
		Format:    spec.Format,
		UserID:    spec.UserID,
		ChatID:    spec.ChatID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// applyUpdate enforces the job lifecycle:
//   - status only moves forward along queued → downloading → uploading → completed
//   - error is reachable from any non-terminal state
//   - terminal jobs never change
//   - progress never decreases and stays within 0..100
//   - completed carries a result
//   - u.From, when set, must match the current status
func applyUpdate(j *Job, u JobUpdate, now time.Time) error {
	if j.Status.Terminal() {
		return ErrTerminal
	}
	if u.From != "" && u.From != j.Status {
		return ErrStatusMismatch
	}
	next := u.Status
	if next == "" {
		next = j.Status
	}
	if !next.Valid() {
		return ErrInvalidTransition
	}
	if next != StatusError && next.rank() < j.Status.rank() {
		return ErrInvalidTransition
	}

	switch next {
	case StatusCompleted:
		if u.Result == nil {
			return ErrMissingResult
		}
		j.Result = u.Result
		j.Progress = 100
	case StatusError:
		msg := u.Error
		if msg == "" {
			msg = "unknown error"
		}
		j.Error = TruncateError(msg)
		j.ErrorKind = u.Kind
		if j.ErrorKind == "" {
			j.ErrorKind = KindExtractionFailed
		}
	default:
		p := min(max(u.Progress, 0), 100)
		if p > j.Progress {
			j.Progress = p
		}
	}

	if j.Status == StatusQueued && next != StatusQueued {
		t := now
		j.StartedAt = &t
	}
	if next.Terminal() {
		t := now
		j.FinishedAt = &t
	}
	j.Status = next
	j.UpdatedAt = now
	return nil
}

// MemoryRegistry is a process-local Registry used when Redis is absent.
type MemoryRegistry struct {
	mu   sync.Mutex
	jobs map[string]*memJob
	ttl  time.Duration
	now  func() time.Time
}

type memJob struct {
	job       Job
	expiresAt time.Time
}

// NewMemoryRegistry returns a registry whose records expire after ttl.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{jobs: make(map[string]*memJob), ttl: ttl, now: time.Now}
}

func (r *MemoryRegistry) Create(_ context.Context, spec JobSpec) (*Job, error) {
	now := r.now()
	j := newJob(spec, now)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked(now)
	r.jobs[j.ID] = &memJob{job: *j, expiresAt: now.Add(r.ttl)}
	return j, nil
}

func (r *MemoryRegistry) Update(_ context.Context, id string, u JobUpdate) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.lookupLocked(id)
	if !ok {
		return nil, ErrNotFound
	}
	j := m.job
	if err := applyUpdate(&j, u, r.now()); err != nil {
		return nil, err
	}
	m.job = j
	return &j, nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.lookupLocked(id)
	if !ok {
		return nil, ErrNotFound
	}
	j := m.job
	return &j, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *MemoryRegistry) lookupLocked(id string) (*memJob, bool) {
	m, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	if r.now().After(m.expiresAt) {
		delete(r.jobs, id)
		return nil, false
	}
	return m, true
}

func (r *MemoryRegistry) purgeLocked(now time.Time) {
	for id, m := range r.jobs {
		if now.After(m.expiresAt) {
			delete(r.jobs, id)
		}
	}
}
