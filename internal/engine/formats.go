package engine

import "fmt"

// FormatChoice is the extractor-facing rendering of (platform, quality, format).
type FormatChoice struct {
	Selector  string
	AudioOnly bool
	Merge     string
}

// splitStreams lists platforms that serve video and audio as separate
// streams that must be merged.
var splitStreams = map[string]bool{
	PlatformYouTube: true,
	PlatformReddit:  true,
}

// SelectFormat builds the format selector for a request. maxBytes caps the
// size preferred by the auto quality.
func SelectFormat(platform string, q Quality, f Format, maxBytes int64) FormatChoice {
	switch f {
	case FormatAudio:
		return FormatChoice{Selector: "bestaudio/best", AudioOnly: true}
	case FormatMedia:
		return FormatChoice{Selector: "best"}
	}

	limit := fmt.Sprintf("%dM", maxBytes>>20)
	split := splitStreams[platform]
	var sel string
	switch h := q.Height(); {
	case h > 0 && split:
		sel = fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]/best", h, h)
	case h > 0:
		sel = fmt.Sprintf("best[height<=%d]/best", h)
	case q == QualityBest && split:
		sel = "bestvideo+bestaudio/best"
	case q == QualityBest:
		sel = "best"
	case split:
		sel = fmt.Sprintf("bestvideo[filesize<%s]+bestaudio/best[filesize<%s]/bestvideo[height<=720]+bestaudio/best", limit, limit)
	default:
		sel = fmt.Sprintf("bestvideo[filesize<%s]+bestaudio/best[filesize<%s]/bestvideo[height<=720]+bestaudio/best[height<=720]/best", limit, limit)
	}

	fc := FormatChoice{Selector: sel}
	if split || q == QualityAuto {
		fc.Merge = "mp4"
	}
	return fc
}

var contentTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"opus": "audio/opus",
	"ogg":  "audio/ogg",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"gif":  "image/gif",
}

// ContentType maps a file extension to a MIME type.
func ContentType(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// BlobKey returns the storage key for a job artifact: platform/jobid.ext.
func BlobKey(platform, jobID, ext string) string {
	if ext == "" {
		ext = "bin"
	}
	return platform + "/" + jobID + "." + ext
}
