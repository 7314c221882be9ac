package engine

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Supported platforms.
const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
	PlatformTwitter   = "twitter"
	PlatformFacebook  = "facebook"
	PlatformReddit    = "reddit"
	PlatformPinterest = "pinterest"
	PlatformThreads   = "threads"
	PlatformTwitch    = "twitch"
	PlatformUnknown   = "unknown"
)

// platformHosts maps host suffixes to platforms. Checked in order.
var platformHosts = []struct {
	host     string
	platform string
}{
	{"tiktok.com", PlatformTikTok},
	{"instagram.com", PlatformInstagram},
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"twitter.com", PlatformTwitter},
	{"x.com", PlatformTwitter},
	{"facebook.com", PlatformFacebook},
	{"fb.watch", PlatformFacebook},
	{"reddit.com", PlatformReddit},
	{"redd.it", PlatformReddit},
	{"pinterest.com", PlatformPinterest},
	{"pin.it", PlatformPinterest},
	{"threads.net", PlatformThreads},
	{"threads.com", PlatformThreads},
	{"twitch.tv", PlatformTwitch},
}

// urlPattern finds http(s) links in free text.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// DetectPlatform classifies a URL by host. Unknown hosts return PlatformUnknown.
func DetectPlatform(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range platformHosts {
		if host == p.host || strings.HasSuffix(host, "."+p.host) {
			return p.platform
		}
	}
	return PlatformUnknown
}

// ValidateURL rejects anything that is not an absolute http(s) URL on a
// supported platform.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}
	if DetectPlatform(raw) == PlatformUnknown {
		return fmt.Errorf("%w: %s", ErrUnsupportedURL, u.Hostname())
	}
	return nil
}

// keepQuery lists query parameters that identify content rather than
// tracking, per host.
var keepQuery = map[string][]string{
	PlatformYouTube: {"v"},
}

// NormalizeURL reduces a URL to scheme://host/path so that tracking
// parameters do not split the cache. Identifying parameters such as the
// YouTube video id survive.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	path := strings.TrimRight(u.Path, "/")
	out := strings.ToLower(u.Scheme) + "://" + host + path

	var kept url.Values
	for _, k := range keepQuery[DetectPlatform(raw)] {
		if v := u.Query().Get(k); v != "" {
			if kept == nil {
				kept = url.Values{}
			}
			kept.Set(k, v)
		}
	}
	if kept != nil {
		out += "?" + kept.Encode()
	}
	return out
}

// ExtractURL returns the first http(s) link in text, or "".
func ExtractURL(text string) string {
	return strings.TrimRight(urlPattern.FindString(text), ".,;!?)")
}
