// Package httpapi exposes the media service over JSON HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/anatolykoptev/go_media/internal/engine"
	"github.com/anatolykoptev/go_media/internal/toolutil"
)

// Options configure the router.
type Options struct {
	// Token, when set, is required as "Authorization: Bearer <token>" on
	// everything under /v1.
	Token string
}

// presigner is implemented by object stores that can hand out direct links.
type presigner interface {
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

const presignTTL = 15 * time.Minute

type api struct {
	svc   *engine.Service
	blobs engine.BlobStore
	token string
}

// NewRouter returns the HTTP handler.
func NewRouter(svc *engine.Service, blobs engine.BlobStore, opts Options) http.Handler {
	a := &api{svc: svc, blobs: blobs, token: opts.Token}
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Get("/metrics", a.handleMetrics)
	r.Route("/v1", func(r chi.Router) {
		r.Use(a.auth)
		r.Post("/check", a.handleCheck)
		r.Post("/jobs", a.handleSubmit)
		r.Get("/jobs/{id}", a.handleStatus)
		r.Get("/jobs/{id}/file", a.handleFile)
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (a *api) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.token != "" {
			expected := "Bearer " + a.token
			if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(expected)) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type mediaRequest struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	Format  string `json:"format"`
	UserID  int64  `json:"user_id"`
	ChatID  int64  `json:"chat_id"`
}

func decodeRequest(r *http.Request) (mediaRequest, error) {
	var body mediaRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		return body, fmt.Errorf("invalid JSON body: %w", err)
	}
	if body.URL == "" {
		return body, errors.New("url is required")
	}
	return body, nil
}

type checkResponse struct {
	Cached bool           `json:"cached"`
	Result *engine.Result `json:"result,omitempty"`
}

func (a *api) handleCheck(w http.ResponseWriter, r *http.Request) {
	body, err := decodeRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, hit, err := a.svc.Check(r.Context(), body.URL, engine.ParseQuality(body.Quality), engine.ParseFormat(body.Format))
	if err != nil {
		a.fail(w, err)
		return
	}
	resp := checkResponse{Cached: hit}
	if hit {
		resp.Result = e.Result()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := decodeRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := a.svc.Submit(r.Context(), engine.Request{
		URL:     body.URL,
		Quality: engine.Quality(body.Quality),
		Format:  engine.Format(body.Format),
		UserID:  body.UserID,
		ChatID:  body.ChatID,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	if sub.Cached {
		respondJSON(w, http.StatusOK, sub)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+sub.Job.ID)
	respondJSON(w, http.StatusAccepted, sub)
}

type statusResponse struct {
	*engine.Job
	Summary string `json:"summary"`
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	j, err := a.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Job: j, Summary: toolutil.StatusLine(j)})
}

// handleFile serves the finished artifact of a completed job, by redirect
// when the store can presign links and by streaming otherwise.
func (a *api) handleFile(w http.ResponseWriter, r *http.Request) {
	j, err := a.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	if j.Status != engine.StatusCompleted || j.Result == nil {
		respondError(w, http.StatusConflict, "job is not completed")
		return
	}
	if p, ok := a.blobs.(presigner); ok {
		u, err := p.PresignedURL(r.Context(), j.Result.BlobKey, presignTTL)
		if err == nil {
			http.Redirect(w, r, u, http.StatusFound)
			return
		}
		slog.Warn("http: presign failed, streaming", slog.String("blob", j.Result.BlobKey), slog.Any("error", err))
	}
	rc, size, err := a.blobs.Get(r.Context(), j.Result.BlobKey)
	if errors.Is(err, engine.ErrNotFound) {
		respondError(w, http.StatusGone, "file no longer available")
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", engine.ContentType(j.Result.Ext))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, path.Base(j.Result.BlobKey)))
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("http: file stream interrupted", slog.String("job_id", j.ID), slog.Any("error", err))
	}
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": a.svc.Stats(r.Context())})
}

func (a *api) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st := a.svc.Stats(r.Context())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, engine.FormatMetrics())
	fmt.Fprintf(w, "media_active_jobs %d\nmedia_queue_depth %d\nmedia_cache_entries %d\n",
		st.ActiveJobs, st.QueueDepth, st.CacheEntries)
}

// fail maps service errors to status codes.
func (a *api) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, engine.ErrUnsupportedURL):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		w.Header().Set("Retry-After", "60")
		respondError(w, http.StatusServiceUnavailable, engine.UserMessage(engine.KindQueueFull))
	default:
		slog.Error("http: request failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
