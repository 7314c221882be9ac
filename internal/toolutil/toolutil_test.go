package toolutil

import (
	"testing"

	"github.com/anatolykoptev/go_media/internal/engine"
)

func TestProgressBar(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{0, "░░░░░░░░░░"},
		{45, "▓▓▓▓░░░░░░"},
		{100, "▓▓▓▓▓▓▓▓▓▓"},
		{150, "▓▓▓▓▓▓▓▓▓▓"},
		{-5, "░░░░░░░░░░"},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.pct, 10); got != tt.want {
			t.Errorf("ProgressBar(%d) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{50 << 20, "50.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := HumanBytes(tt.n); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		s    float64
		want string
	}{
		{0, "0:00"},
		{65.4, "1:05"},
		{3725, "1:02:05"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.s); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name string
		job  engine.Job
		want string
	}{
		{"queued", engine.Job{Status: engine.StatusQueued}, "Queued"},
		{"downloading", engine.Job{Status: engine.StatusDownloading, Progress: 50}, "Downloading [▓▓▓▓▓░░░░░] 50%"},
		{"failed", engine.Job{Status: engine.StatusError, ErrorKind: engine.KindNoMedia}, "Failed: No video could be found in this post."},
		{"done", engine.Job{Status: engine.StatusCompleted, Result: &engine.Result{Size: 2048}}, "Done (2.0 KB)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusLine(&tt.job); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
