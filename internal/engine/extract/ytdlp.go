package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/anatolykoptev/go_media/internal/engine"
)

// progressPrefix marks machine-readable progress lines in yt-dlp output.
const progressPrefix = "progress:"

// progressTemplate makes yt-dlp print "progress:<done>/<total>/<estimate>".
const progressTemplate = "download:" + progressPrefix +
	"%(progress.downloaded_bytes)s/%(progress.total_bytes)s/%(progress.total_bytes_estimate)s"

// infoTemplate prints a JSON summary once the final file is in place.
const infoTemplate = "after_move:%(.{filepath,ext,title,description,uploader,thumbnail,duration,width,height})j"

// YtDlp runs the yt-dlp binary.
type YtDlp struct {
	Bin         string
	CookiesPath string
}

// NewYtDlp returns an extractor for bin ("yt-dlp" when empty).
func NewYtDlp(bin, cookiesPath string) *YtDlp {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YtDlp{Bin: bin, CookiesPath: cookiesPath}
}

func (y *YtDlp) Name() string { return "yt-dlp" }

// downloadArgs builds the command line for one download.
func (y *YtDlp) downloadArgs(req engine.ExtractRequest) []string {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--newline",
		"--progress",
		"--progress-template", progressTemplate,
		"--print", infoTemplate,
		"--socket-timeout", "30",
		"-f", req.Selector,
		"-o", filepath.Join(req.OutputDir, req.JobID+".%(ext)s"),
	}
	if req.AudioOnly {
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", "192K")
	}
	if req.Merge != "" {
		args = append(args, "--merge-output-format", req.Merge)
	}
	args = append(args, y.cookieArgs()...)
	return append(args, req.URL)
}

func (y *YtDlp) cookieArgs() []string {
	if y.CookiesPath == "" {
		return nil
	}
	if _, err := os.Stat(y.CookiesPath); err != nil {
		return nil
	}
	return []string{"--cookies", y.CookiesPath}
}

// Extract downloads req.URL into req.OutputDir.
func (y *YtDlp) Extract(ctx context.Context, req engine.ExtractRequest, progress engine.ProgressFunc) (*engine.MediaInfo, error) {
	cmd := exec.CommandContext(ctx, y.Bin, y.downloadArgs(req)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, engine.NewJobError(engine.KindExtractionFailed, "start yt-dlp", err)
	}

	var (
		mu      sync.Mutex
		info    *engine.MediaInfo
		errTail []string
		wg      sync.WaitGroup
	)
	consume := func(r io.Reader) {
		defer wg.Done()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			switch {
			case strings.HasPrefix(line, progressPrefix):
				if done, total, ok := parseProgress(line); ok && progress != nil {
					progress(done, total)
				}
			case strings.HasPrefix(line, "{"):
				if mi, err := parseInfo(line); err == nil {
					mu.Lock()
					info = mi
					mu.Unlock()
				}
			case line != "":
				mu.Lock()
				errTail = appendTail(errTail, line, 5)
				mu.Unlock()
			}
		}
	}
	wg.Add(2)
	go consume(stdout)
	go consume(stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, classified(waitErr, errTail)
	}
	if info == nil || info.FilePath == "" {
		path, err := findOutput(req.OutputDir, req.JobID)
		if err != nil {
			return nil, classified(err, errTail)
		}
		if info == nil {
			info = &engine.MediaInfo{}
		}
		info.FilePath = path
	}
	if info.Ext == "" {
		info.Ext = strings.TrimPrefix(filepath.Ext(info.FilePath), ".")
	}
	return info, nil
}

// Probe reads metadata without downloading.
func (y *YtDlp) Probe(ctx context.Context, url string) (*engine.ProbeInfo, error) {
	args := append([]string{"-J", "--no-warnings", "--skip-download", "--no-playlist"}, y.cookieArgs()...)
	args = append(args, url)
	cmd := exec.CommandContext(ctx, y.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classified(err, strings.Split(strings.TrimSpace(stderr.String()), "\n"))
	}
	return parseProbe(stdout.Bytes())
}

type probeJSON struct {
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	ViewCount int64   `json:"view_count"`
	VCodec    string  `json:"vcodec"`
	Formats   []struct {
		Height int    `json:"height"`
		VCodec string `json:"vcodec"`
	} `json:"formats"`
}

func parseProbe(data []byte) (*engine.ProbeInfo, error) {
	var p probeJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	info := &engine.ProbeInfo{
		Title:     p.Title,
		Uploader:  p.Uploader,
		Thumbnail: p.Thumbnail,
		Duration:  p.Duration,
		ViewCount: p.ViewCount,
	}
	for _, f := range p.Formats {
		if f.VCodec != "" && f.VCodec != "none" {
			info.HasVideo = true
		}
		if f.Height > 0 && !slices.Contains(info.Heights, f.Height) {
			info.Heights = append(info.Heights, f.Height)
		}
	}
	if len(p.Formats) == 0 && p.VCodec != "" && p.VCodec != "none" {
		info.HasVideo = true
	}
	slices.Sort(info.Heights)
	return info, nil
}

type infoJSON struct {
	FilePath  string   `json:"filepath"`
	Ext       string   `json:"ext"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Uploader    string   `json:"uploader"`
	Thumbnail string   `json:"thumbnail"`
	Duration  *float64 `json:"duration"`
	Width     *int     `json:"width"`
	Height    *int     `json:"height"`
}

func parseInfo(line string) (*engine.MediaInfo, error) {
	var v infoJSON
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		return nil, err
	}
	if v.FilePath == "" {
		return nil, errors.New("no filepath in info line")
	}
	mi := &engine.MediaInfo{
		FilePath:  v.FilePath,
		Ext:       v.Ext,
		Title:       v.Title,
		Description: v.Description,
		Uploader:    v.Uploader,
		Thumbnail: v.Thumbnail,
	}
	if v.Duration != nil {
		mi.Duration = *v.Duration
	}
	if v.Width != nil {
		mi.Width = *v.Width
	}
	if v.Height != nil {
		mi.Height = *v.Height
	}
	return mi, nil
}

// parseProgress reads "progress:<done>/<total>/<estimate>". yt-dlp prints
// "NA" for unknown values.
func parseProgress(line string) (done, total int64, ok bool) {
	parts := strings.Split(strings.TrimPrefix(line, progressPrefix), "/")
	if len(parts) != 3 {
		return 0, 0, false
	}
	num := func(s string) int64 {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		return int64(f)
	}
	done = num(parts[0])
	total = num(parts[1])
	if total <= 0 {
		total = num(parts[2])
	}
	return done, total, true
}

// findOutput locates the file yt-dlp wrote for jobID.
func findOutput(dir, jobID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, jobID+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			continue
		}
		return m, nil
	}
	return "", errors.New("no output file produced")
}

func appendTail(tail []string, line string, n int) []string {
	tail = append(tail, line)
	if len(tail) > n {
		tail = tail[len(tail)-n:]
	}
	return tail
}

// classified turns a tool failure into a JobError using its stderr tail,
// where yt-dlp puts the real reason.
func classified(err error, tail []string) *engine.JobError {
	msg := strings.TrimSpace(strings.Join(tail, " "))
	if msg == "" {
		msg = err.Error()
	}
	for _, l := range tail {
		if strings.HasPrefix(l, "ERROR:") {
			msg = strings.TrimSpace(strings.TrimPrefix(l, "ERROR:"))
		}
	}
	kind := engine.Classify(errors.New(msg))
	slog.Debug("extract: tool failed", slog.String("kind", string(kind)), slog.String("stderr", msg))
	return engine.NewJobError(kind, engine.TruncateError(msg), nil)
}
