package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"job error", Errorf(KindSizeExceeded, "too big"), KindSizeExceeded},
		{"wrapped job error", fmt.Errorf("run: %w", NewJobError(KindNoMedia, "x", nil)), KindNoMedia},
		{"twitter no video", errors.New("ERROR: [twitter] 123: No video could be found in this tweet"), KindNoMedia},
		{"no formats", errors.New("ERROR: No video formats found!"), KindNoMedia},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"queue full", ErrQueueFull, KindQueueFull},
		{"gateway", errors.New("HTTP Error 502: Bad Gateway"), KindTransient},
		{"private", errors.New("ERROR: This video is private"), KindExtractionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestJobErrorMessage(t *testing.T) {
	err := NewJobError(KindExtractionFailed, "yt-dlp", errors.New("exit status 1"))
	if got, want := err.Error(), "yt-dlp: exit status 1"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("JobError should unwrap to its cause")
	}
}

func TestTruncateError(t *testing.T) {
	short := "boom"
	if got := TruncateError(short); got != short {
		t.Errorf("got %q, want %q", got, short)
	}
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'я'
	}
	if got := []rune(TruncateError(string(long))); len(got) != 200 {
		t.Errorf("got %d runes, want 200", len(got))
	}
}
