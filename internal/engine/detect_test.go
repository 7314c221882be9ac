package engine

import (
	"errors"
	"testing"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.tiktok.com/@user/video/123", PlatformTikTok},
		{"https://vm.tiktok.com/ZMabc/", PlatformTikTok},
		{"https://www.instagram.com/reel/Cxyz/", PlatformInstagram},
		{"https://youtu.be/dQw4w9WgXcQ", PlatformYouTube},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", PlatformYouTube},
		{"https://x.com/user/status/1", PlatformTwitter},
		{"https://twitter.com/user/status/1", PlatformTwitter},
		{"https://fb.watch/abc/", PlatformFacebook},
		{"https://old.reddit.com/r/golang/comments/1/x/", PlatformReddit},
		{"https://pin.it/abc", PlatformPinterest},
		{"https://www.threads.net/@user/post/1", PlatformThreads},
		{"https://www.twitch.tv/videos/1", PlatformTwitch},
		{"https://example.com/video.mp4", PlatformUnknown},
		{"https://notx.com/video", PlatformUnknown},
		{"::not a url", PlatformUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := DetectPlatform(tt.url); got != tt.want {
				t.Errorf("DetectPlatform(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://www.tiktok.com/@user/video/123", false},
		{"http://youtu.be/abc", false},
		{"ftp://youtube.com/watch?v=1", true},
		{"youtube.com/watch?v=1", true},
		{"https://example.com/a", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsupportedURL) {
				t.Errorf("error %v does not wrap ErrUnsupportedURL", err)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.tiktok.com/@user/video/123?is_from_webapp=1&sender_device=pc", "https://tiktok.com/@user/video/123"},
		{"https://www.instagram.com/reel/Cxyz/?igsh=abc", "https://instagram.com/reel/Cxyz"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "https://youtube.com/watch?v=dQw4w9WgXcQ"},
		{"HTTPS://X.com/user/status/1?s=20", "https://x.com/user/status/1"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExtractURL(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"look at this https://youtu.be/abc!", "https://youtu.be/abc"},
		{"(https://x.com/a/status/1)", "https://x.com/a/status/1"},
		{"no links here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := ExtractURL(tt.text); got != tt.want {
				t.Errorf("ExtractURL(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
