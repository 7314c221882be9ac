package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/engine/queue"
	"github.com/anatolykoptev/go_media/internal/engine/storage"
)

type testEnv struct {
	srv   *httptest.Server
	reg   *engine.MemoryRegistry
	cache *engine.ContentCache
	blobs *storage.FSStore
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	reg := engine.NewMemoryRegistry(time.Hour)
	cache := engine.NewContentCache(engine.NewMemoryCacheIndex(), blobs, time.Hour, 2)
	cfg := engine.DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.QueueCapacity = 1
	svc := engine.NewService(cfg, engine.ServiceDeps{Registry: reg, Cache: cache, Queue: queue.NewMemoryQueue(8)})

	srv := httptest.NewServer(NewRouter(svc, blobs, Options{Token: token}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, reg: reg, cache: cache, blobs: blobs}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSubmitAndStatus(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.do(t, http.MethodPost, "/v1/jobs", `{"url":"https://www.tiktok.com/@a/video/1","quality":"720p"}`, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[engine.Submission](t, resp)
	require.NotNil(t, sub.Job)
	assert.Equal(t, "/v1/jobs/"+sub.Job.ID, resp.Header.Get("Location"))

	resp = env.do(t, http.MethodGet, "/v1/jobs/"+sub.Job.ID, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[map[string]any](t, resp)
	assert.Equal(t, "queued", st["status"])
	assert.Equal(t, "Queued", st["summary"])

	resp = env.do(t, http.MethodGet, "/v1/jobs/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitErrors(t *testing.T) {
	env := newTestEnv(t, "")
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing url", `{}`, http.StatusBadRequest},
		{"unsupported", `{"url":"https://example.com/v"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/v1/jobs", tt.body, "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestSubmitQueueFull(t *testing.T) {
	env := newTestEnv(t, "")
	// One permit plus one pending slot.
	for i, want := range []int{http.StatusAccepted, http.StatusAccepted, http.StatusServiceUnavailable} {
		body := `{"url":"https://www.tiktok.com/@a/video/` + string(rune('1'+i)) + `"}`
		resp := env.do(t, http.MethodPost, "/v1/jobs", body, "")
		assert.Equal(t, want, resp.StatusCode, "request %d", i)
		if want == http.StatusServiceUnavailable {
			assert.Equal(t, "60", resp.Header.Get("Retry-After"))
		}
	}
}

func TestCheckAndFile(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	url := "https://www.youtube.com/watch?v=x"

	resp := env.do(t, http.MethodPost, "/v1/check", `{"url":"`+url+`"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[checkResponse](t, resp).Cached)

	require.NoError(t, env.blobs.Put(ctx, "youtube/j1.mp4", strings.NewReader("movie"), 5, "video/mp4"))
	require.NoError(t, env.cache.Store(ctx, url, engine.QualityAuto, engine.FormatVideo,
		engine.CacheEntry{BlobKey: "youtube/j1.mp4", Ext: "mp4", Size: 5}))

	resp = env.do(t, http.MethodPost, "/v1/check", `{"url":"`+url+`"}`, "")
	got := decode[checkResponse](t, resp)
	assert.True(t, got.Cached)
	assert.Equal(t, "youtube/j1.mp4", got.Result.BlobKey)

	// A completed job streams its blob.
	j, err := env.reg.Create(ctx, engine.JobSpec{URL: url, Platform: engine.PlatformYouTube})
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/v1/jobs/"+j.ID+"/file", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, err = env.reg.Update(ctx, j.ID, engine.JobUpdate{Status: engine.StatusCompleted,
		Result: &engine.Result{BlobKey: "youtube/j1.mp4", Ext: "mp4", Size: 5}})
	require.NoError(t, err)
	resp = env.do(t, http.MethodGet, "/v1/jobs/"+j.ID+"/file", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "movie", string(data))
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	body := `{"url":"https://www.tiktok.com/@a/video/1"}`

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/v1/check", body, "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/v1/check", body, "wrong").StatusCode)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/check", body, "s3cret").StatusCode)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", "").StatusCode, "health is public")
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, "")
	resp := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "media_submissions ")
	assert.Contains(t, string(data), "media_active_jobs 0")
}
