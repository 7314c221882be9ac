package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ServiceDeps are the collaborators a Service is built from.
type ServiceDeps struct {
	Registry Registry
	Cache    *ContentCache
	Queue    TaskPublisher
	Prober   Prober        // optional, enables Info
	Recorder Recorder      // optional
	Redis    *redis.Client // optional L2 for probe metadata
}

// Submission is the outcome of Submit. Exactly one of Entry (cache hit) or
// Job is set.
type Submission struct {
	Cached    bool        `json:"cached"`
	Entry     *CacheEntry `json:"entry,omitempty"`
	Job       *Job        `json:"job,omitempty"`
	Queued    bool        `json:"queued"`    // waiting for a permit
	Coalesced bool        `json:"coalesced"` // attached to an identical in-flight job
}

// Stats is a point-in-time view of load.
type Stats struct {
	ActiveJobs    int `json:"active_jobs"`
	QueueDepth    int `json:"queue_depth"`
	MaxConcurrent int `json:"max_concurrent"`
	QueueCapacity int `json:"queue_capacity"`
	CacheEntries  int `json:"cache_entries"`
}

// Service is the front-end facing orchestration API: cache-first submit,
// admission control, status and watching.
type Service struct {
	cfg      Config
	reg      Registry
	cache    *ContentCache
	queue    TaskPublisher
	prober   Prober
	recorder Recorder
	info     *infoCache
	limiter  *Limiter
	notifier *Notifier
	releaser *Notifier

	mu       sync.Mutex
	inflight map[string]string // cache key → job id
}

// NewService builds a Service. cfg zero fields take defaults.
func NewService(cfg Config, deps ServiceDeps) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:      cfg,
		reg:      deps.Registry,
		cache:    deps.Cache,
		queue:    deps.Queue,
		prober:   deps.Prober,
		recorder: deps.Recorder,
		info:     newInfoCache(deps.Redis, cfg.InfoCacheTTL, 1000),
		inflight: make(map[string]string),
	}
	if s.recorder == nil {
		s.recorder = NopRecorder{}
	}
	s.limiter = NewLimiter(cfg.MaxConcurrent, cfg.QueueCapacity, s.dispatch)
	s.notifier = NewNotifier(s.reg, cfg.WatchInterval, cfg.WatchTimeout, cfg.ProgressStep)
	// One releaser wait covers a full job timeout; awaitRelease decides
	// whether to keep waiting.
	s.releaser = NewNotifier(s.reg, cfg.WatchInterval, cfg.JobTimeout+cfg.WatchInterval, 100)
	return s
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Check looks the request up in the content cache without creating work.
func (s *Service) Check(ctx context.Context, rawURL string, q Quality, f Format) (*CacheEntry, bool, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, false, err
	}
	return s.cache.Lookup(ctx, rawURL, q, f)
}

// Submit serves req from cache when possible, attaches to an identical
// in-flight job, or creates a new job and hands it to the limiter. When
// both the permits and the pending queue are exhausted it returns
// ErrQueueFull and no job is created.
func (s *Service) Submit(ctx context.Context, req Request) (*Submission, error) {
	metrics.Submissions.Add(1)
	if err := ValidateURL(req.URL); err != nil {
		return nil, err
	}
	q := ParseQuality(string(req.Quality))
	f := ParseFormat(string(req.Format))
	platform := DetectPlatform(req.URL)

	entry, hit, err := s.cache.Lookup(ctx, req.URL, q, f)
	if err != nil {
		slog.Warn("submit: cache lookup failed, treating as miss", slog.Any("error", err))
	}
	if hit {
		return &Submission{Cached: true, Entry: entry}, nil
	}

	sub, admitted, err := s.admit(ctx, req, q, f, platform)
	if err != nil {
		return nil, err
	}
	if sub.Coalesced {
		return sub, nil
	}
	s.record(ctx, sub.Job)
	if admitted != nil {
		s.dispatch(*admitted)
	}
	slog.Info("submit: job created",
		slog.String("job_id", sub.Job.ID), slog.String("platform", platform),
		slog.String("quality", string(q)), slog.String("format", string(f)),
		slog.Bool("queued", sub.Queued))
	return sub, nil
}

// admit coalesces, creates the job and takes a limiter slot under s.mu.
// A non-nil ticket was admitted at once and must be dispatched by the
// caller after the lock is gone.
func (s *Service) admit(ctx context.Context, req Request, q Quality, f Format, platform string) (*Submission, *Ticket, error) {
	key := CacheKey(req.URL, q, f)
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.inflight[key]; ok {
		j, err := s.reg.Get(ctx, id)
		if err == nil && !j.Status.Terminal() {
			metrics.Coalesced.Add(1)
			return &Submission{Job: j, Coalesced: true, Queued: j.Status == StatusQueued}, nil, nil
		}
	}

	if !s.limiter.HasRoom() {
		metrics.QueueRejected.Add(1)
		return nil, nil, ErrQueueFull
	}

	j, err := s.reg.Create(ctx, JobSpec{
		URL:      req.URL,
		Platform: platform,
		Quality:  q,
		Format:   f,
		UserID:   req.UserID,
		ChatID:   req.ChatID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}

	admitted, err := s.limiter.Admit(Ticket{Task: Task{
		JobID:    j.ID,
		URL:      j.URL,
		Platform: j.Platform,
		Quality:  j.Quality,
		Format:   j.Format,
	}})
	if err != nil {
		if derr := s.reg.Delete(ctx, j.ID); derr != nil {
			slog.Warn("submit: rollback failed", slog.String("job_id", j.ID), slog.Any("error", derr))
		}
		metrics.QueueRejected.Add(1)
		return nil, nil, err
	}
	s.inflight[key] = j.ID
	return &Submission{Job: j, Queued: admitted == nil}, admitted, nil
}

// Status returns the current job record.
func (s *Service) Status(ctx context.Context, id string) (*Job, error) {
	return s.reg.Get(ctx, id)
}

// Watch streams progress and terminal events for id.
func (s *Service) Watch(ctx context.Context, id string) <-chan Event {
	return s.notifier.Watch(ctx, id)
}

// Info returns probe metadata for rawURL, cached for InfoCacheTTL.
func (s *Service) Info(ctx context.Context, rawURL string) (*ProbeInfo, error) {
	if err := ValidateURL(rawURL); err != nil {
		return nil, err
	}
	if info, ok := s.info.get(ctx, rawURL); ok {
		metrics.InfoCacheHits.Add(1)
		return info, nil
	}
	if s.prober == nil {
		return nil, errors.New("metadata probing is not configured")
	}
	metrics.ProbeRequests.Add(1)
	info, err := s.prober.Probe(ctx, rawURL)
	if err != nil {
		return nil, AsJobError(err)
	}
	s.info.set(ctx, rawURL, info)
	return info, nil
}

// Stats reports limiter gauges and cache size.
func (s *Service) Stats(ctx context.Context) Stats {
	st := Stats{
		ActiveJobs:    s.limiter.Active(),
		QueueDepth:    s.limiter.Depth(),
		MaxConcurrent: s.limiter.Max(),
		QueueCapacity: s.limiter.Capacity(),
	}
	if n, err := s.cache.Size(ctx); err == nil {
		st.CacheEntries = n
	}
	return st
}

// SweepCache runs one eviction pass.
func (s *Service) SweepCache(ctx context.Context) (int, error) {
	return s.cache.EvictStale(ctx)
}

// RunSweeper evicts stale cache entries every CacheSweepInterval until ctx
// is done. It also drives probe-metadata cleanup.
func (s *Service) RunSweeper(ctx context.Context) error {
	go s.info.cleanupLoop(ctx)
	ticker := time.NewTicker(s.cfg.CacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.SweepCache(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("sweeper: eviction failed", slog.Any("error", err))
			}
		}
	}
}

// dispatch publishes an admitted ticket. It is the limiter start callback
// for tickets promoted by Release and is called by Submit for immediate
// admissions. It never runs under s.mu.
func (s *Service) dispatch(t Ticket) {
	ctx := context.Background()
	if err := s.queue.Publish(ctx, t.Task); err != nil {
		slog.Error("dispatch: publish failed", slog.String("job_id", t.Task.JobID), slog.Any("error", err))
		if _, uerr := s.reg.Update(ctx, t.Task.JobID, JobUpdate{
			Status: StatusError,
			Error:  "could not hand job to workers: " + err.Error(),
			Kind:   KindTransient,
		}); uerr != nil {
			slog.Debug("dispatch: mark failed", slog.Any("error", uerr))
		}
		go s.finish(t)
		return
	}
	slog.Debug("dispatch: task published",
		slog.String("job_id", t.Task.JobID), slog.Uint64("seq", t.Seq),
		slog.Duration("waited", waited(t)))
	go s.awaitRelease(t)
}

// awaitRelease holds the permit until the job is terminal. The job timeout
// is counted from the moment a worker claimed the job, so time spent in the
// task queue does not shorten it; a job never claimed holds its permit until
// its record expires. Past those limits the permit is released anyway so a
// crashed worker cannot leak it.
func (s *Service) awaitRelease(t Ticket) {
	ctx := context.Background()
	expires := time.Now().Add(s.cfg.JobTTL)
	for {
		ev := s.releaser.Wait(ctx, t.Task.JobID)
		if ev.Kind != EventTimeout {
			break
		}
		if !s.mayStillRun(ctx, t.Task.JobID, expires) {
			slog.Warn("limiter: releasing permit of unfinished job", slog.String("job_id", t.Task.JobID))
			break
		}
	}
	s.finish(t)
}

// mayStillRun reports whether a worker could still be running id.
func (s *Service) mayStillRun(ctx context.Context, id string, expires time.Time) bool {
	j, err := s.reg.Get(ctx, id)
	if err != nil || j.Status.Terminal() {
		return false
	}
	if j.StartedAt == nil {
		return time.Now().Before(expires)
	}
	return time.Since(*j.StartedAt) < s.cfg.JobTimeout+s.cfg.WatchInterval
}

func (s *Service) finish(t Ticket) {
	key := CacheKey(t.Task.URL, t.Task.Quality, t.Task.Format)
	s.mu.Lock()
	if s.inflight[key] == t.Task.JobID {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
	s.limiter.Release()
}

func (s *Service) record(ctx context.Context, j *Job) {
	if err := s.recorder.RecordDownload(ctx, RecordFor(j)); err != nil {
		slog.Debug("analytics: record failed", slog.String("job_id", j.ID), slog.Any("error", err))
	}
}

func waited(t Ticket) time.Duration {
	if t.EnqueuedAt.IsZero() {
		return 0
	}
	return t.AdmittedAt.Sub(t.EnqueuedAt)
}
