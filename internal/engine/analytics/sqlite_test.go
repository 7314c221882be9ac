package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_media/internal/engine"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func record(id, platform string, user int64, status engine.Status, size int64, at time.Time) engine.DownloadRecord {
	return engine.DownloadRecord{
		JobID:     id,
		URL:       "https://example.com/" + id,
		Platform:  platform,
		Quality:   engine.QualityAuto,
		Format:    engine.FormatVideo,
		UserID:    user,
		Status:    status,
		Size:      size,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestRecordDownloadUpserts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordDownload(ctx, record("j1", "tiktok", 7, engine.StatusQueued, 0, at)))
	done := record("j1", "tiktok", 7, engine.StatusCompleted, 2048, at)
	done.UpdatedAt = at.Add(time.Minute)
	done.BlobKey = "tiktok/j1.mp4"
	require.NoError(t, s.RecordDownload(ctx, done))

	sum, err := s.UserSummary(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total, "second record updates the first")
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, int64(2048), sum.Bytes)
	assert.True(t, sum.LastAt.Equal(at))
}

func TestRecordDownloadKeepsTerminalRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordDownload(ctx, record("j1", "tiktok", 7, engine.StatusCompleted, 2048, at)))
	// A late queued record for the same job must not reopen it.
	require.NoError(t, s.RecordDownload(ctx, record("j1", "tiktok", 7, engine.StatusQueued, 0, at)))

	sum, err := s.UserSummary(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, int64(2048), sum.Bytes)
}

func TestUserSummary(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []engine.DownloadRecord{
		record("a", "tiktok", 1, engine.StatusCompleted, 100, at),
		record("b", "youtube", 1, engine.StatusCompleted, 50, at.Add(time.Hour)),
		record("c", "youtube", 1, engine.StatusError, 0, at),
		record("d", "youtube", 2, engine.StatusCompleted, 999, at),
	}
	for _, r := range recs {
		require.NoError(t, s.RecordDownload(ctx, r))
	}

	tests := []struct {
		user int64
		want UserSummary
	}{
		{1, UserSummary{UserID: 1, Total: 3, Completed: 2, Failed: 1, Bytes: 150, LastAt: at.Add(time.Hour)}},
		{2, UserSummary{UserID: 2, Total: 1, Completed: 1, Bytes: 999, LastAt: at}},
		{3, UserSummary{UserID: 3}},
	}
	for _, tt := range tests {
		got, err := s.UserSummary(ctx, tt.user)
		require.NoError(t, err)
		assert.Equal(t, tt.want.Total, got.Total)
		assert.Equal(t, tt.want.Completed, got.Completed)
		assert.Equal(t, tt.want.Failed, got.Failed)
		assert.Equal(t, tt.want.Bytes, got.Bytes)
		assert.True(t, tt.want.LastAt.Equal(got.LastAt), "user %d last_at = %v", tt.user, got.LastAt)
	}
}

func TestPlatformCounts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, p := range []string{"youtube", "tiktok", "youtube", "reddit"} {
		require.NoError(t, s.RecordDownload(ctx, record(string(rune('a'+i)), p, 1, engine.StatusCompleted, 1, at)))
	}
	require.NoError(t, s.RecordDownload(ctx, record("old", "tiktok", 1, engine.StatusCompleted, 1, at.Add(-48*time.Hour))))

	got, err := s.PlatformCounts(ctx, at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []PlatformCount{
		{Platform: "youtube", Count: 2},
		{Platform: "reddit", Count: 1},
		{Platform: "tiktok", Count: 1},
	}, got)
}
