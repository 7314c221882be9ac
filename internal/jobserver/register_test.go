package jobserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/engine/analytics"
	"github.com/anatolykoptev/go_media/internal/engine/queue"
	"github.com/anatolykoptev/go_media/internal/engine/storage"
)

type harness struct {
	session *mcp.ClientSession
	cache   *engine.ContentCache
	blobs   *storage.FSStore
	history *analytics.SQLiteStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	history, err := analytics.OpenSQLite(filepath.Join(t.TempDir(), "a.db"))
	require.NoError(t, err)
	t.Cleanup(history.Close)

	cache := engine.NewContentCache(engine.NewMemoryCacheIndex(), blobs, time.Hour, 2)
	cfg := engine.DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.QueueCapacity = 0
	cfg.JobTimeout = time.Second
	cfg.WatchInterval = 10 * time.Millisecond
	svc := engine.NewService(cfg, engine.ServiceDeps{
		Registry: engine.NewMemoryRegistry(time.Hour),
		Cache:    cache,
		Queue:    queue.NewMemoryQueue(4),
		Recorder: history,
	})

	server := mcp.NewServer(&mcp.Implementation{Name: "go_media", Version: "test"}, nil)
	RegisterTools(server, svc, history)

	ct, st := mcp.NewInMemoryTransports()
	_, err = server.Connect(ctx, st, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return &harness{session: session, cache: cache, blobs: blobs, history: history}
}

// call invokes a tool and decodes its text content into out. It returns
// the tool error text, if any.
func (h *harness) call(t *testing.T, name string, args map[string]any, out any) string {
	t.Helper()
	res, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text := res.Content[0].(*mcp.TextContent).Text
	if res.IsError {
		return text
	}
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(text), out))
	}
	return ""
}

func TestListTools(t *testing.T) {
	h := newHarness(t)
	res, err := h.session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"media_check", "media_submit", "media_status", "media_info", "media_stats", "media_history",
	}, names)
}

func TestCheckAndSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=abc"

	var check CheckOutput
	require.Empty(t, h.call(t, "media_check", map[string]any{"url": url, "quality": "720p"}, &check))
	assert.False(t, check.Cached)
	assert.Equal(t, engine.PlatformYouTube, check.Platform)

	require.NoError(t, h.blobs.Put(ctx, "youtube/j.mp4", strings.NewReader("v"), 1, "video/mp4"))
	require.NoError(t, h.cache.Store(ctx, url, engine.Quality720, engine.FormatVideo,
		engine.CacheEntry{BlobKey: "youtube/j.mp4", Ext: "mp4", Size: 1}))

	require.Empty(t, h.call(t, "media_check", map[string]any{"url": url, "quality": "720p"}, &check))
	assert.True(t, check.Cached)
	require.NotNil(t, check.Result)
	assert.Equal(t, "youtube/j.mp4", check.Result.BlobKey)

	var sub SubmitOutput
	require.Empty(t, h.call(t, "media_submit", map[string]any{"url": url, "quality": "720"}, &sub))
	assert.True(t, sub.Cached)
	assert.Empty(t, sub.JobID)
}

func TestSubmitStatusAndBusy(t *testing.T) {
	h := newHarness(t)

	var sub SubmitOutput
	require.Empty(t, h.call(t, "media_submit", map[string]any{"url": "https://www.tiktok.com/@a/video/1"}, &sub))
	require.NotEmpty(t, sub.JobID)
	assert.Equal(t, engine.StatusQueued, sub.Status)
	assert.False(t, sub.Queued)

	var st StatusOutput
	require.Empty(t, h.call(t, "media_status", map[string]any{"job_id": sub.JobID}, &st))
	assert.True(t, st.Found)
	assert.Equal(t, "Queued", st.Summary)

	// One permit, no pending slots: a different URL is refused.
	msg := h.call(t, "media_submit", map[string]any{"url": "https://www.tiktok.com/@a/video/2"}, nil)
	assert.Contains(t, msg, "busy")

	require.Empty(t, h.call(t, "media_status", map[string]any{"job_id": "missing"}, &st))
	assert.False(t, st.Found)
}

func TestSubmitRejectsUnsupportedURL(t *testing.T) {
	h := newHarness(t)
	msg := h.call(t, "media_submit", map[string]any{"url": "https://example.com/video"}, nil)
	assert.Contains(t, msg, "unsupported")
}

func TestStatsAndHistory(t *testing.T) {
	h := newHarness(t)
	var sub SubmitOutput
	require.Empty(t, h.call(t, "media_submit", map[string]any{"url": "https://www.tiktok.com/@a/video/1"}, &sub))

	var stats StatsOutput
	require.Empty(t, h.call(t, "media_stats", map[string]any{}, &stats))
	assert.Equal(t, 1, stats.Load.ActiveJobs)
	assert.Equal(t, 1, stats.Load.MaxConcurrent)
	assert.Contains(t, stats.Counters, "submissions")
	require.Len(t, stats.Platforms, 1)
	assert.Equal(t, engine.PlatformTikTok, stats.Platforms[0].Platform)

	msg := h.call(t, "media_history", map[string]any{"user_id": 0}, nil)
	assert.Contains(t, msg, "user_id is required")
}
