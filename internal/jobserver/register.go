package jobserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/engine/analytics"
	"github.com/anatolykoptev/go_media/internal/toolutil"
)

// MediaInput identifies a (url, quality, format) request.
type MediaInput struct {
	URL     string `json:"url" jsonschema:"Link to a post or video on a supported platform (YouTube, TikTok, Instagram, Twitter/X, Reddit, Facebook, Pinterest, Threads, Twitch)"`
	Quality string `json:"quality,omitempty" jsonschema:"Quality: auto (default, fits the 50MB delivery limit), 360p, 480p, 720p, 1080p, best"`
	Format  string `json:"format,omitempty" jsonschema:"Format: video (default), audio (mp3), media (any attachment)"`
}

// CheckOutput reports whether a request can be served from cache.
type CheckOutput struct {
	Cached   bool           `json:"cached"`
	Platform string         `json:"platform"`
	Result   *engine.Result `json:"result,omitempty"`
}

// SubmitOutput describes the accepted request.
type SubmitOutput struct {
	Cached    bool           `json:"cached"`
	JobID     string         `json:"job_id,omitempty"`
	Status    engine.Status  `json:"status,omitempty"`
	Queued    bool           `json:"queued"`
	Coalesced bool           `json:"coalesced"`
	Result    *engine.Result `json:"result,omitempty"`
	Message   string         `json:"message"`
}

// StatusInput selects a job.
type StatusInput struct {
	JobID string `json:"job_id" jsonschema:"Job id returned by media_submit"`
}

// StatusOutput is the job state. Found is false once the record expired.
type StatusOutput struct {
	Found     bool             `json:"found"`
	Summary   string           `json:"summary,omitempty"`
	Status    engine.Status    `json:"status,omitempty"`
	Progress  int              `json:"progress"`
	Platform  string           `json:"platform,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind engine.ErrorKind `json:"error_kind,omitempty"`
	Result    *engine.Result   `json:"result,omitempty"`
	CreatedAt string           `json:"created_at,omitempty"`
}

func statusOutput(j *engine.Job) StatusOutput {
	return StatusOutput{
		Found:     true,
		Summary:   toolutil.StatusLine(j),
		Status:    j.Status,
		Progress:  j.Progress,
		Platform:  j.Platform,
		Error:     j.Error,
		ErrorKind: j.ErrorKind,
		Result:    j.Result,
		CreatedAt: j.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// InfoInput selects a URL to probe.
type InfoInput struct {
	URL string `json:"url" jsonschema:"Link to inspect without downloading"`
}

// InfoOutput is probe metadata.
type InfoOutput struct {
	Platform string            `json:"platform"`
	Duration string            `json:"duration,omitempty"`
	Info     *engine.ProbeInfo `json:"info"`
}

// StatsInput takes no parameters.
type StatsInput struct{}

// StatsOutput exposes load gauges and counters.
type StatsOutput struct {
	Load      engine.Stats              `json:"load"`
	Counters  map[string]int64          `json:"counters"`
	Platforms []analytics.PlatformCount `json:"platforms_24h,omitempty"`
}

// HistoryInput selects a user.
type HistoryInput struct {
	UserID int64 `json:"user_id" jsonschema:"Telegram user id"`
}

// HistoryOutput summarizes a user's downloads.
type HistoryOutput struct {
	UserID    int64  `json:"user_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Delivered string `json:"delivered"`
	LastAt    string `json:"last_at,omitempty"`
}

// RegisterTools registers the media tools on the given MCP server:
// media_check, media_submit, media_status, media_info, media_stats and,
// when history is non-nil, media_history.
func RegisterTools(server *mcp.Server, svc *engine.Service, history analytics.Store) {
	registerCheck(server, svc)
	registerSubmit(server, svc)
	registerStatus(server, svc)
	registerInfo(server, svc)
	registerStats(server, svc, history)
	if history != nil {
		registerHistory(server, history)
	}
}

func registerCheck(server *mcp.Server, svc *engine.Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "media_check",
		Description: "Check whether a media link was already downloaded in the requested quality and format. Never starts a download.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input MediaInput) (*mcp.CallToolResult, CheckOutput, error) {
		if input.URL == "" {
			return nil, CheckOutput{}, errors.New("url is required")
		}
		q, f := engine.ParseQuality(input.Quality), engine.ParseFormat(input.Format)
		e, hit, err := svc.Check(ctx, input.URL, q, f)
		if err != nil {
			return nil, CheckOutput{}, err
		}
		out := CheckOutput{Cached: hit, Platform: engine.DetectPlatform(input.URL)}
		if hit {
			out.Result = e.Result()
		}
		return nil, out, nil
	})
}

func registerSubmit(server *mcp.Server, svc *engine.Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "media_submit",
		Description: "Download media from a link. Cached results return immediately; otherwise a job is queued and its id returned for media_status. Fails fast with a busy error when the queue is full.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input MediaInput) (*mcp.CallToolResult, SubmitOutput, error) {
		if input.URL == "" {
			return nil, SubmitOutput{}, errors.New("url is required")
		}
		sub, err := svc.Submit(ctx, engine.Request{
			URL:     input.URL,
			Quality: engine.Quality(input.Quality),
			Format:  engine.Format(input.Format),
		})
		if errors.Is(err, engine.ErrQueueFull) {
			return nil, SubmitOutput{}, errors.New(engine.UserMessage(engine.KindQueueFull))
		}
		if err != nil {
			return nil, SubmitOutput{}, err
		}
		return nil, submitOutput(sub), nil
	})
}

func submitOutput(sub *engine.Submission) SubmitOutput {
	if sub.Cached {
		return SubmitOutput{Cached: true, Result: sub.Entry.Result(), Message: "Served from cache."}
	}
	out := SubmitOutput{
		JobID:     sub.Job.ID,
		Status:    sub.Job.Status,
		Queued:    sub.Queued,
		Coalesced: sub.Coalesced,
	}
	switch {
	case sub.Coalesced:
		out.Message = "An identical download is already running; attached to it."
	case sub.Queued:
		out.Message = "All workers are busy; the job is waiting in line."
	default:
		out.Message = "Download started."
	}
	return out
}

func registerStatus(server *mcp.Server, svc *engine.Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "media_status",
		Description: "Get the status, progress and result of a download job. Job records expire one hour after creation.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
		if input.JobID == "" {
			return nil, StatusOutput{}, errors.New("job_id is required")
		}
		j, err := svc.Status(ctx, input.JobID)
		if errors.Is(err, engine.ErrNotFound) {
			return nil, StatusOutput{Found: false}, nil
		}
		if err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, statusOutput(j), nil
	})
}

func registerInfo(server *mcp.Server, svc *engine.Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "media_info",
		Description: "Read title, duration, uploader and available qualities of a media link without downloading it.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input InfoInput) (*mcp.CallToolResult, InfoOutput, error) {
		if input.URL == "" {
			return nil, InfoOutput{}, errors.New("url is required")
		}
		info, err := svc.Info(ctx, input.URL)
		if err != nil {
			if je := engine.AsJobError(err); je != nil && je.Kind == engine.KindNoMedia {
				return nil, InfoOutput{}, errors.New(engine.UserMessage(je.Kind))
			}
			return nil, InfoOutput{}, err
		}
		return nil, InfoOutput{
			Platform: engine.DetectPlatform(input.URL),
			Duration: toolutil.FormatDuration(info.Duration),
			Info:     info,
		}, nil
	})
}

func registerStats(server *mcp.Server, svc *engine.Service, history analytics.Store) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "media_stats",
		Description: "Show active jobs, queue depth, cache size and service counters.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
		out := StatsOutput{Load: svc.Stats(ctx), Counters: engine.GetMetrics()}
		if history != nil {
			pcs, err := history.PlatformCounts(ctx, time.Now().Add(-24*time.Hour))
			if err != nil {
				return nil, StatsOutput{}, fmt.Errorf("platform counts: %w", err)
			}
			out.Platforms = pcs
		}
		return nil, out, nil
	})
}

func registerHistory(server *mcp.Server, history analytics.Store) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "media_history",
		Description: "Summarize a user's download history: totals, failures and bytes delivered.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input HistoryInput) (*mcp.CallToolResult, HistoryOutput, error) {
		if input.UserID == 0 {
			return nil, HistoryOutput{}, errors.New("user_id is required")
		}
		sum, err := history.UserSummary(ctx, input.UserID)
		if err != nil {
			return nil, HistoryOutput{}, err
		}
		out := HistoryOutput{
			UserID:    sum.UserID,
			Total:     sum.Total,
			Completed: sum.Completed,
			Failed:    sum.Failed,
			Delivered: toolutil.HumanBytes(sum.Bytes),
		}
		if !sum.LastAt.IsZero() {
			out.LastAt = sum.LastAt.UTC().Format(time.RFC3339)
		}
		return nil, out, nil
	})
}
