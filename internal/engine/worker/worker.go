// Package worker drives queued download jobs to a terminal state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/toolutil"
)

// Deps are the collaborators of a Worker.
type Deps struct {
	Registry  engine.Registry
	Cache     *engine.ContentCache
	Blobs     engine.BlobStore
	Primary   engine.Extractor
	Alternate engine.Extractor // used once for platforms with a fallback path
	Prober    engine.Prober    // optional pre-check
	Recorder  engine.Recorder  // optional
}

// Worker executes tasks. It is the only writer of the jobs it runs.
type Worker struct {
	cfg       engine.Config
	reg       engine.Registry
	cache     *engine.ContentCache
	blobs     engine.BlobStore
	primary   engine.Extractor
	alternate engine.Extractor
	prober    engine.Prober
	recorder  engine.Recorder
}

// New builds a Worker.
func New(cfg engine.Config, d Deps) *Worker {
	w := &Worker{
		cfg:       cfg.Normalized(),
		reg:       d.Registry,
		cache:     d.Cache,
		blobs:     d.Blobs,
		primary:   d.Primary,
		alternate: d.Alternate,
		prober:    d.Prober,
		recorder:  d.Recorder,
	}
	if w.recorder == nil {
		w.recorder = engine.NopRecorder{}
	}
	return w
}

// Execute runs one task. The job is claimed by moving it from queued to
// downloading in one registry update; a delivery that loses the claim is
// skipped. Job failures are recorded in the registry, not returned; the
// returned error only reports registry trouble.
func (w *Worker) Execute(ctx context.Context, t engine.Task) error {
	job, err := w.reg.Update(ctx, t.JobID, engine.JobUpdate{
		From:   engine.StatusQueued,
		Status: engine.StatusDownloading,
	})
	switch {
	case errors.Is(err, engine.ErrNotFound):
		slog.Warn("worker: job expired before start", slog.String("job_id", t.JobID))
		engine.IncrJobsSkipped()
		return nil
	case errors.Is(err, engine.ErrStatusMismatch), errors.Is(err, engine.ErrTerminal):
		slog.Info("worker: duplicate delivery skipped", slog.String("job_id", t.JobID))
		engine.IncrJobsSkipped()
		return nil
	case err != nil:
		return fmt.Errorf("claim job %s: %w", t.JobID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	engine.IncrJobsStarted()
	start := time.Now()
	res, runErr := w.run(ctx, job)

	// Terminal updates must land even when the job context expired.
	uctx, ucancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer ucancel()

	var final *engine.Job
	if runErr != nil {
		kind := engine.Classify(runErr)
		final, err = w.reg.Update(uctx, job.ID, engine.JobUpdate{
			Status: engine.StatusError,
			Error:  engine.TruncateError(runErr.Error()),
			Kind:   kind,
		})
		engine.IncrJobsFailed()
		slog.Warn("worker: job failed",
			slog.String("job_id", job.ID), slog.String("platform", job.Platform),
			slog.String("kind", string(kind)), slog.Any("error", runErr))
	} else {
		final, err = w.reg.Update(uctx, job.ID, engine.JobUpdate{Status: engine.StatusCompleted, Result: res})
		engine.IncrJobsCompleted()
		slog.Info("worker: job completed",
			slog.String("job_id", job.ID), slog.String("blob", res.BlobKey),
			slog.String("size", toolutil.HumanBytes(res.Size)), slog.Duration("took", time.Since(start)))
	}
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", job.ID, err)
	}
	if rerr := w.recorder.RecordDownload(uctx, engine.RecordFor(final)); rerr != nil {
		slog.Debug("worker: analytics record failed", slog.String("job_id", job.ID), slog.Any("error", rerr))
	}
	return nil
}

// run performs the download and upload for a claimed job. The scratch
// directory is removed on every path.
func (w *Worker) run(ctx context.Context, job *engine.Job) (*engine.Result, error) {
	if err := os.MkdirAll(w.cfg.DownloadPath, 0o755); err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	dir, err := os.MkdirTemp(w.cfg.DownloadPath, job.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("worker: scratch cleanup failed", slog.String("dir", dir), slog.Any("error", err))
		}
	}()

	if err := w.precheck(ctx, job); err != nil {
		return nil, err
	}

	choice := engine.SelectFormat(job.Platform, job.Quality, job.Format, w.cfg.MaxFileSize)
	req := engine.ExtractRequest{
		JobID:     job.ID,
		URL:       job.URL,
		Platform:  job.Platform,
		Selector:  choice.Selector,
		AudioOnly: choice.AudioOnly,
		Merge:     choice.Merge,
		OutputDir: dir,
	}
	info, err := w.extract(ctx, req, w.progressHook(ctx, job.ID))
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(info.FilePath)
	if err != nil {
		return nil, fmt.Errorf("stat output: %w", err)
	}
	if w.cfg.MaxFileSize > 0 && st.Size() > w.cfg.MaxFileSize {
		return nil, engine.Errorf(engine.KindSizeExceeded, "file is %s, limit is %s",
			toolutil.HumanBytes(st.Size()), toolutil.HumanBytes(w.cfg.MaxFileSize))
	}

	if _, err := w.reg.Update(ctx, job.ID, engine.JobUpdate{Status: engine.StatusUploading}); err != nil {
		return nil, fmt.Errorf("mark uploading: %w", err)
	}
	key, err := w.upload(ctx, job, info, st.Size())
	if err != nil {
		return nil, err
	}

	res := &engine.Result{
		BlobKey:     key,
		Title:       info.Title,
		Description: info.Description,
		Ext:         info.Ext,
		Size:        st.Size(),
		Duration:    info.Duration,
		Width:       info.Width,
		Height:      info.Height,
		Thumbnail:   info.Thumbnail,
	}
	if err := w.cache.Store(ctx, job.URL, job.Quality, job.Format, engine.CacheEntry{
		Platform: job.Platform,
		BlobKey:  key,
		Title:    res.Title,
		Ext:      res.Ext,
		Size:     res.Size,
		Duration: res.Duration,
		Width:    res.Width,
		Height:   res.Height,
	}); err != nil {
		slog.Warn("worker: cache store failed", slog.String("job_id", job.ID), slog.Any("error", err))
	}
	return res, nil
}

// precheck asks the prober whether the post has a video at all, for
// platforms where text-only posts are common.
func (w *Worker) precheck(ctx context.Context, job *engine.Job) error {
	if w.prober == nil || job.Format == engine.FormatAudio || !w.cfg.ShouldProbe(job.Platform) {
		return nil
	}
	engine.IncrProbeRequests()
	info, err := w.prober.Probe(ctx, job.URL)
	if err != nil {
		if engine.Classify(err) == engine.KindNoMedia {
			return err
		}
		// Inconclusive probe: let the full extraction decide.
		slog.Debug("worker: probe failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return nil
	}
	if !info.HasVideo {
		return engine.Errorf(engine.KindNoMedia, "no video in this post")
	}
	return nil
}

// extract runs the primary extractor with transient retries, then the
// alternate path once for platforms that have one.
func (w *Worker) extract(ctx context.Context, req engine.ExtractRequest, progress engine.ProgressFunc) (*engine.MediaInfo, error) {
	info, err := engine.RetryDo(ctx, w.cfg.Retry(), func() (*engine.MediaInfo, error) {
		return w.primary.Extract(ctx, req, progress)
	})
	if err == nil {
		return info, nil
	}
	if w.alternate == nil || !w.cfg.HasFallback(req.Platform) ||
		engine.Classify(err) == engine.KindNoMedia || ctx.Err() != nil {
		return nil, err
	}
	engine.IncrFallbacks()
	slog.Info("worker: trying alternate extractor",
		slog.String("job_id", req.JobID), slog.String("extractor", w.alternate.Name()),
		slog.Any("primary_error", err))
	info, altErr := w.alternate.Extract(ctx, req, progress)
	if altErr != nil {
		return nil, altErr
	}
	return info, nil
}

func (w *Worker) upload(ctx context.Context, job *engine.Job, info *engine.MediaInfo, size int64) (string, error) {
	key := engine.BlobKey(job.Platform, job.ID, info.Ext)
	f, err := os.Open(info.FilePath)
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer f.Close()
	err = engine.TrackOperation(ctx, "upload", 30*time.Second, func(ctx context.Context) error {
		return w.blobs.Put(ctx, key, f, size, engine.ContentType(info.Ext))
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	engine.AddBytesUploaded(size)
	return key, nil
}

// progressHook converts byte counts to whole percents and writes only
// increases to the registry.
func (w *Worker) progressHook(ctx context.Context, id string) engine.ProgressFunc {
	last := 0
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		pct := int(done * 100 / total)
		if pct > 99 {
			pct = 99 // 100 is reserved for completed
		}
		if pct <= last {
			return
		}
		last = pct
		if _, err := w.reg.Update(ctx, id, engine.JobUpdate{Progress: pct}); err != nil {
			slog.Debug("worker: progress update failed", slog.String("job_id", id), slog.Any("error", err))
		}
	}
}
