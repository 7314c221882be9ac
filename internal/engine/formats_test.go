package engine

import "testing"

func TestSelectFormat(t *testing.T) {
	const limit = 50 << 20
	tests := []struct {
		name      string
		platform  string
		q         Quality
		f         Format
		want      string
		audioOnly bool
		merge     string
	}{
		{"tiktok auto", PlatformTikTok, QualityAuto, FormatVideo,
			"bestvideo[filesize<50M]+bestaudio/best[filesize<50M]/bestvideo[height<=720]+bestaudio/best[height<=720]/best", false, "mp4"},
		{"tiktok 480", PlatformTikTok, Quality480, FormatVideo, "best[height<=480]/best", false, ""},
		{"tiktok best", PlatformTikTok, QualityBest, FormatVideo, "best", false, ""},
		{"youtube 1080", PlatformYouTube, Quality1080, FormatVideo,
			"bestvideo[height<=1080]+bestaudio/best[height<=1080]/best", false, "mp4"},
		{"youtube auto", PlatformYouTube, QualityAuto, FormatVideo,
			"bestvideo[filesize<50M]+bestaudio/best[filesize<50M]/bestvideo[height<=720]+bestaudio/best", false, "mp4"},
		{"reddit best", PlatformReddit, QualityBest, FormatVideo, "bestvideo+bestaudio/best", false, "mp4"},
		{"audio", PlatformYouTube, Quality720, FormatAudio, "bestaudio/best", true, ""},
		{"media", PlatformInstagram, QualityAuto, FormatMedia, "best", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectFormat(tt.platform, tt.q, tt.f, limit)
			if got.Selector != tt.want {
				t.Errorf("Selector = %q, want %q", got.Selector, tt.want)
			}
			if got.AudioOnly != tt.audioOnly {
				t.Errorf("AudioOnly = %v, want %v", got.AudioOnly, tt.audioOnly)
			}
			if got.Merge != tt.merge {
				t.Errorf("Merge = %q, want %q", got.Merge, tt.merge)
			}
		})
	}
}

func TestParseQuality(t *testing.T) {
	tests := map[string]Quality{
		"":      QualityAuto,
		"auto":  QualityAuto,
		"720":   Quality720,
		"1080p": Quality1080,
		"BEST":  QualityBest,
		"4k":    QualityAuto,
	}
	for in, want := range tests {
		if got := ParseQuality(in); got != want {
			t.Errorf("ParseQuality(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":      FormatVideo,
		"audio": FormatAudio,
		"mp3":   FormatAudio,
		"media": FormatMedia,
		"gif":   FormatVideo,
	}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBlobKey(t *testing.T) {
	if got := BlobKey(PlatformTikTok, "abc", "mp4"); got != "tiktok/abc.mp4" {
		t.Errorf("got %q, want %q", got, "tiktok/abc.mp4")
	}
	if got := BlobKey(PlatformTikTok, "abc", ""); got != "tiktok/abc.bin" {
		t.Errorf("got %q, want %q", got, "tiktok/abc.bin")
	}
}
