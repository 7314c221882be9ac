package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	Submissions      atomic.Int64
	Coalesced        atomic.Int64
	QueueRejected    atomic.Int64
	JobsStarted      atomic.Int64
	JobsCompleted    atomic.Int64
	JobsFailed       atomic.Int64
	JobsSkipped      atomic.Int64
	Retries          atomic.Int64
	Fallbacks        atomic.Int64
	StaleBlobs       atomic.Int64
	CacheEvictions   atomic.Int64
	BytesUploaded    atomic.Int64
	ProbeRequests    atomic.Int64
	InfoCacheHits    atomic.Int64
	RateLimited      atomic.Int64
	WatchTimeouts    atomic.Int64
	RegistryConflict atomic.Int64
}

var metricKeys = []string{
	"submissions", "coalesced", "queue_rejected",
	"jobs_started", "jobs_completed", "jobs_failed", "jobs_skipped",
	"retries", "fallbacks",
	"cache_hits", "cache_misses", "stale_blobs", "cache_evictions",
	"bytes_uploaded", "probe_requests", "info_cache_hits",
	"rate_limited", "watch_timeouts", "registry_conflicts",
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"submissions":        metrics.Submissions.Load(),
		"coalesced":          metrics.Coalesced.Load(),
		"queue_rejected":     metrics.QueueRejected.Load(),
		"jobs_started":       metrics.JobsStarted.Load(),
		"jobs_completed":     metrics.JobsCompleted.Load(),
		"jobs_failed":        metrics.JobsFailed.Load(),
		"jobs_skipped":       metrics.JobsSkipped.Load(),
		"retries":            metrics.Retries.Load(),
		"fallbacks":          metrics.Fallbacks.Load(),
		"cache_hits":         hits,
		"cache_misses":       misses,
		"stale_blobs":        metrics.StaleBlobs.Load(),
		"cache_evictions":    metrics.CacheEvictions.Load(),
		"bytes_uploaded":     metrics.BytesUploaded.Load(),
		"probe_requests":     metrics.ProbeRequests.Load(),
		"info_cache_hits":    metrics.InfoCacheHits.Load(),
		"rate_limited":       metrics.RateLimited.Load(),
		"watch_timeouts":     metrics.WatchTimeouts.Load(),
		"registry_conflicts": metrics.RegistryConflict.Load(),
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	for _, k := range metricKeys {
		fmt.Fprintf(&sb, "media_%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for worker and front-end packages.
func IncrJobsStarted()   { metrics.JobsStarted.Add(1) }
func IncrJobsCompleted() { metrics.JobsCompleted.Add(1) }
func IncrJobsFailed()    { metrics.JobsFailed.Add(1) }
func IncrJobsSkipped()   { metrics.JobsSkipped.Add(1) }
func IncrFallbacks()     { metrics.Fallbacks.Add(1) }
func IncrProbeRequests() { metrics.ProbeRequests.Add(1) }

// AddBytesUploaded accumulates artifact bytes written to blob storage.
func AddBytesUploaded(n int64) { metrics.BytesUploaded.Add(n) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, threshold time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > threshold {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
