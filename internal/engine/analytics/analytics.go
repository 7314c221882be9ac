// Package analytics keeps long-term download history outside the
// short-lived job registry.
package analytics

import (
	"context"
	"time"

	"github.com/anatolykoptev/go_media/internal/engine"
)

// UserSummary aggregates the downloads of one user.
type UserSummary struct {
	UserID    int64     `json:"user_id"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Bytes     int64     `json:"bytes"`
	LastAt    time.Time `json:"last_at,omitzero"`
}

// PlatformCount is the number of downloads per platform.
type PlatformCount struct {
	Platform string `json:"platform"`
	Count    int    `json:"count"`
}

// Store persists download records. RecordDownload upserts by job id, so a
// job recorded at creation and again at its terminal state is one row.
type Store interface {
	engine.Recorder
	UserSummary(ctx context.Context, userID int64) (*UserSummary, error)
	PlatformCounts(ctx context.Context, since time.Time) ([]PlatformCount, error)
	Close()
}
