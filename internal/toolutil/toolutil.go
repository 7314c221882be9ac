// Package toolutil provides shared rendering helpers for the MCP tools, the
// HTTP API and the Telegram bot.
package toolutil

import (
	"fmt"
	"strings"

	"github.com/anatolykoptev/go_media/internal/engine"
)

const (
	barFull  = "▓"
	barEmpty = "░"
)

// ProgressBar renders pct (0..100) as a bar of length cells.
func ProgressBar(pct, length int) string {
	pct = min(max(pct, 0), 100)
	filled := pct * length / 100
	return strings.Repeat(barFull, filled) + strings.Repeat(barEmpty, length-filled)
}

// HumanBytes formats n as B, KB, MB or GB with one decimal.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 2; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMG"[exp])
}

// FormatDuration renders seconds as m:ss or h:mm:ss.
func FormatDuration(seconds float64) string {
	s := int(seconds)
	if s <= 0 {
		return "0:00"
	}
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

var statusLabels = map[engine.Status]string{
	engine.StatusQueued:      "Queued",
	engine.StatusDownloading: "Downloading",
	engine.StatusUploading:   "Uploading",
	engine.StatusCompleted:   "Done",
	engine.StatusError:       "Failed",
}

// StatusLine is a one-line human summary of a job.
func StatusLine(j *engine.Job) string {
	label := statusLabels[j.Status]
	switch j.Status {
	case engine.StatusDownloading, engine.StatusUploading:
		return fmt.Sprintf("%s [%s] %d%%", label, ProgressBar(j.Progress, 10), j.Progress)
	case engine.StatusError:
		return label + ": " + engine.UserMessage(j.ErrorKind)
	case engine.StatusCompleted:
		if j.Result != nil && j.Result.Size > 0 {
			return fmt.Sprintf("%s (%s)", label, HumanBytes(j.Result.Size))
		}
	}
	return label
}
