package engine

import (
	"slices"
	"time"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	MaxConcurrent int // simultaneous jobs admitted by the limiter
	QueueCapacity int // pending tickets held while all permits are taken

	JobTTL        time.Duration // lifetime of a job record in the registry
	JobTimeout    time.Duration // hard ceiling for one job
	WatchInterval time.Duration
	WatchTimeout  time.Duration
	ProgressStep  int // percentage points between progress events

	CacheRetention     time.Duration
	CacheMinAccess     int64
	CacheSweepInterval time.Duration
	InfoCacheTTL       time.Duration

	MaxFileSize      int64
	TransientRetries int
	RetryBackoff     time.Duration

	RateLimitPerMinute int

	DownloadPath string
	CookiesPath  string

	// ProbePlatforms get a metadata pre-check before download so that
	// posts without media fail fast.
	ProbePlatforms []string
	// FallbackPlatforms are retried once through the alternate extractor.
	FallbackPlatforms []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      2,
		QueueCapacity:      5,
		JobTTL:             time.Hour,
		JobTimeout:         10 * time.Minute,
		WatchInterval:      2 * time.Second,
		WatchTimeout:       300 * time.Second,
		ProgressStep:       5,
		CacheRetention:     7 * 24 * time.Hour,
		CacheMinAccess:     2,
		CacheSweepInterval: time.Hour,
		InfoCacheTTL:       time.Hour,
		MaxFileSize:        50 << 20,
		TransientRetries:   DefaultRetryConfig.MaxRetries,
		RetryBackoff:       DefaultRetryConfig.Wait,
		RateLimitPerMinute: 10,
		DownloadPath:       "/tmp/downloads",
		ProbePlatforms:     []string{PlatformTwitter, PlatformThreads},
		FallbackPlatforms:  []string{PlatformInstagram, PlatformTwitter, PlatformThreads, PlatformPinterest},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.QueueCapacity < 0 {
		c.QueueCapacity = 0
	}
	if c.JobTTL <= 0 {
		c.JobTTL = d.JobTTL
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = d.WatchInterval
	}
	if c.WatchTimeout <= 0 {
		c.WatchTimeout = d.WatchTimeout
	}
	if c.ProgressStep <= 0 {
		c.ProgressStep = d.ProgressStep
	}
	if c.CacheRetention <= 0 {
		c.CacheRetention = d.CacheRetention
	}
	if c.CacheMinAccess <= 0 {
		c.CacheMinAccess = d.CacheMinAccess
	}
	if c.CacheSweepInterval <= 0 {
		c.CacheSweepInterval = d.CacheSweepInterval
	}
	if c.InfoCacheTTL <= 0 {
		c.InfoCacheTTL = d.InfoCacheTTL
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.TransientRetries < 0 {
		c.TransientRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = d.RateLimitPerMinute
	}
	if c.DownloadPath == "" {
		c.DownloadPath = d.DownloadPath
	}
	return c
}

// Normalized returns c with zero fields replaced by defaults.
func (c Config) Normalized() Config { return c.withDefaults() }

// Retry returns the transient-failure retry policy derived from c.
func (c Config) Retry() RetryConfig {
	return RetryConfig{MaxRetries: c.TransientRetries, Wait: c.RetryBackoff}
}

// ShouldProbe reports whether jobs for platform get a metadata pre-check.
func (c Config) ShouldProbe(platform string) bool { return slices.Contains(c.ProbePlatforms, platform) }

// HasFallback reports whether platform may be retried via the alternate extractor.
func (c Config) HasFallback(platform string) bool {
	return slices.Contains(c.FallbackPlatforms, platform)
}
