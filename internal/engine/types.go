package engine

import (
	"context"
	"io"
	"strings"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// rank orders the forward path queued → downloading → uploading → completed.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusDownloading:
		return 1
	case StatusUploading:
		return 2
	case StatusCompleted:
		return 3
	case StatusError:
		return 3
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() >= 0 }

// Terminal reports whether s is completed or error.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusError }

// Quality is the requested resolution preference.
type Quality string

const (
	QualityAuto Quality = "auto"
	Quality360  Quality = "360p"
	Quality480  Quality = "480p"
	Quality720  Quality = "720p"
	Quality1080 Quality = "1080p"
	QualityBest Quality = "best"
)

// Qualities lists the accepted quality values in menu order.
var Qualities = []Quality{QualityAuto, Quality360, Quality480, Quality720, Quality1080, QualityBest}

// Height returns the pixel ceiling for fixed qualities, 0 otherwise.
func (q Quality) Height() int {
	switch q {
	case Quality360:
		return 360
	case Quality480:
		return 480
	case Quality720:
		return 720
	case Quality1080:
		return 1080
	}
	return 0
}

// ParseQuality maps user input to a Quality. Unknown values become auto.
func ParseQuality(s string) Quality {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	switch q {
	case QualityAuto, Quality360, Quality480, Quality720, Quality1080, QualityBest:
		return q
	case "360", "480", "720", "1080":
		return q + "p"
	}
	return QualityAuto
}

// Format selects what kind of media is produced.
type Format string

const (
	FormatVideo Format = "video"
	FormatAudio Format = "audio"
	FormatMedia Format = "media" // images or galleries, served as-is
)

// ParseFormat maps user input to a Format. Unknown values become video.
func ParseFormat(s string) Format {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatVideo, FormatAudio, FormatMedia:
		return f
	case "mp3":
		return FormatAudio
	}
	return FormatVideo
}

// Request is a download request as received from a front-end.
type Request struct {
	URL     string  `json:"url"`
	Quality Quality `json:"quality,omitempty"`
	Format  Format  `json:"format,omitempty"`
	UserID  int64   `json:"user_id,omitempty"`
	ChatID  int64   `json:"chat_id,omitempty"`
}

// JobSpec is the immutable description a job is created from.
type JobSpec struct {
	URL      string
	Platform string
	Quality  Quality
	Format   Format
	UserID   int64
	ChatID   int64
}

// Result describes a finished artifact in blob storage.
type Result struct {
	BlobKey   string  `json:"blob_key"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Ext         string  `json:"ext"`
	Size      int64   `json:"size"`
	Duration  float64 `json:"duration,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// Job is the shared record of one download attempt.
type Job struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	Platform   string     `json:"platform"`
	Quality    Quality    `json:"quality"`
	Format     Format     `json:"format"`
	UserID     int64      `json:"user_id,omitempty"`
	ChatID     int64      `json:"chat_id,omitempty"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobUpdate is a partial update applied through Registry.Update.
// An empty Status keeps the current one. A non-empty From makes the update
// conditional on the job's current status.
type JobUpdate struct {
	From     Status
	Status   Status
	Progress int
	Error    string
	Kind     ErrorKind
	Result   *Result
}

// CacheEntry records where the artifact for (url, quality, format) lives.
type CacheEntry struct {
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Platform     string    `json:"platform"`
	Quality      Quality   `json:"quality"`
	Format       Format    `json:"format"`
	BlobKey      string    `json:"blob_key"`
	Title        string    `json:"title,omitempty"`
	Ext          string    `json:"ext,omitempty"`
	Size         int64     `json:"size"`
	Duration     float64   `json:"duration,omitempty"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int64     `json:"access_count"`
}

// Result converts the entry into the artifact description handed to callers.
func (e *CacheEntry) Result() *Result {
	return &Result{
		BlobKey:  e.BlobKey,
		Title:    e.Title,
		Ext:      e.Ext,
		Size:     e.Size,
		Duration: e.Duration,
		Width:    e.Width,
		Height:   e.Height,
	}
}

// Task is the queue message that hands a job to a worker.
type Task struct {
	JobID    string  `json:"job_id"`
	URL      string  `json:"url"`
	Platform string  `json:"platform"`
	Quality  Quality `json:"quality"`
	Format   Format  `json:"format"`
}

// MediaInfo is what an extractor reports about a downloaded file.
type MediaInfo struct {
	FilePath    string
	Ext         string
	Title       string
	Description string
	Uploader    string
	Thumbnail string
	Duration  float64
	Width     int
	Height    int
}

// ProbeInfo is metadata read without downloading.
type ProbeInfo struct {
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	ViewCount int64   `json:"view_count,omitempty"`
	Heights   []int   `json:"qualities,omitempty"`
	HasVideo  bool    `json:"has_video"`
}

// ProgressFunc receives byte counts while a download runs. total may be 0
// when the size is unknown.
type ProgressFunc func(downloaded, total int64)

// ExtractRequest tells an extractor what to fetch and where to put it.
type ExtractRequest struct {
	JobID     string
	URL       string
	Platform  string
	Selector  string // format selector expression
	AudioOnly bool
	Merge     string // container for merged video+audio, empty for none
	OutputDir string
}

// Extractor downloads media for a URL into a directory.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req ExtractRequest, progress ProgressFunc) (*MediaInfo, error)
}

// Prober reads metadata without downloading.
type Prober interface {
	Probe(ctx context.Context, url string) (*ProbeInfo, error)
}

// BlobStore holds finished artifacts.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// TaskPublisher hands tasks to the worker side.
type TaskPublisher interface {
	Publish(ctx context.Context, t Task) error
}

// DownloadRecord is one row of download history.
type DownloadRecord struct {
	JobID     string
	URL       string
	Platform  string
	Quality   Quality
	Format    Format
	UserID    int64
	ChatID    int64
	Status    Status
	ErrorKind ErrorKind
	Error     string
	BlobKey   string
	Size      int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recorder persists download history. Failures never affect a job.
type Recorder interface {
	RecordDownload(ctx context.Context, rec DownloadRecord) error
}

// NopRecorder discards records.
type NopRecorder struct{}

func (NopRecorder) RecordDownload(context.Context, DownloadRecord) error { return nil }

// RecordFor builds a history row from the current state of j.
func RecordFor(j *Job) DownloadRecord {
	rec := DownloadRecord{
		JobID:     j.ID,
		URL:       j.URL,
		Platform:  j.Platform,
		Quality:   j.Quality,
		Format:    j.Format,
		UserID:    j.UserID,
		ChatID:    j.ChatID,
		Status:    j.Status,
		ErrorKind: j.ErrorKind,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Result != nil {
		rec.BlobKey = j.Result.BlobKey
		rec.Size = j.Result.Size
		rec.Title = j.Result.Title
	}
	return rec
}
