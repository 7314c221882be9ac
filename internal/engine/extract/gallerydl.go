package extract

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/anatolykoptev/go_media/internal/engine"
)

var videoExts = []string{"mp4", "webm", "mkv", "mov", "m4v"}

// GalleryDL runs gallery-dl, the alternate path for image-heavy platforms.
// It reports no byte progress, only completion.
type GalleryDL struct {
	Bin         string
	CookiesPath string
}

// NewGalleryDL returns an extractor for bin ("gallery-dl" when empty).
func NewGalleryDL(bin, cookiesPath string) *GalleryDL {
	if bin == "" {
		bin = "gallery-dl"
	}
	return &GalleryDL{Bin: bin, CookiesPath: cookiesPath}
}

func (g *GalleryDL) Name() string { return "gallery-dl" }

func (g *GalleryDL) args(req engine.ExtractRequest, dir string) []string {
	args := []string{
		"--quiet",
		"-D", dir,
		"-f", req.JobID + "_{num:>02}.{extension}",
	}
	if g.CookiesPath != "" {
		if _, err := os.Stat(g.CookiesPath); err == nil {
			args = append(args, "--cookies", g.CookiesPath)
		}
	}
	return append(args, req.URL)
}

// Extract downloads all media of the post and returns the preferred file:
// the first video, otherwise the first file.
func (g *GalleryDL) Extract(ctx context.Context, req engine.ExtractRequest, progress engine.ProgressFunc) (*engine.MediaInfo, error) {
	dir := filepath.Join(req.OutputDir, "gallery")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, g.Bin, g.args(req, dir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classified(err, strings.Split(strings.TrimSpace(stderr.String()), "\n"))
	}

	path, err := pickMedia(dir, req.AudioOnly)
	if err != nil {
		return nil, engine.NewJobError(engine.KindNoMedia, "no media found in post", err)
	}
	if fi, err := os.Stat(path); err == nil && progress != nil {
		progress(fi.Size(), fi.Size())
	}
	return &engine.MediaInfo{
		FilePath: path,
		Ext:      strings.TrimPrefix(filepath.Ext(path), "."),
	}, nil
}

func pickMedia(dir string, needsAV bool) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var first string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
		if slices.Contains(videoExts, ext) {
			return p, nil
		}
		if first == "" {
			first = p
		}
	}
	if first == "" || needsAV {
		return "", errors.New("empty download directory")
	}
	return first, nil
}
