package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrQueueFull         = errors.New("queue full")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStatusMismatch    = errors.New("job status changed")
	ErrMissingResult     = errors.New("completed job requires a result")
	ErrUnsupportedURL    = errors.New("unsupported url")
)

// ErrorKind classifies a job failure.
type ErrorKind string

const (
	KindNoMedia          ErrorKind = "no_media"
	KindExtractionFailed ErrorKind = "extraction_failed"
	KindTransient        ErrorKind = "transient_network"
	KindSizeExceeded     ErrorKind = "size_exceeded"
	KindQueueFull        ErrorKind = "queue_full"
	KindStaleBlob        ErrorKind = "stale_cache_blob"
	KindTimeout          ErrorKind = "timeout"
)

// maxErrorLen bounds error text stored on a job.
const maxErrorLen = 200

// JobError is a classified failure.
type JobError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *JobError) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *JobError) Unwrap() error { return e.Err }

// NewJobError builds a JobError. err may be nil.
func NewJobError(kind ErrorKind, msg string, err error) *JobError {
	return &JobError{Kind: kind, Msg: msg, Err: err}
}

// Errorf builds a JobError with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

var noMediaSignatures = []string{
	"no video could be found",
	"no video formats found",
	"there's no video",
	"there is no video",
	"no video in this",
	"no media found",
	"does not contain any video",
	"no downloadable media",
}

// transientSignatures mark failures worth retrying. HTTP 429 is not one.
var transientSignatures = []string{
	"timed out",
	"timeout",
	"connection reset",
	"connection refused",
	"connection aborted",
	"temporary failure in name resolution",
	"network is unreachable",
	"remote end closed connection",
	"unexpected eof",
	"http error 500",
	"http error 502",
	"http error 503",
	"http error 504",
}

// Classify assigns an ErrorKind to err. Unknown failures are ExtractionFailed.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	if errors.Is(err, ErrQueueFull) {
		return KindQueueFull
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if isNetworkError(err) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, s := range noMediaSignatures {
		if strings.Contains(msg, s) {
			return KindNoMedia
		}
	}
	for _, s := range transientSignatures {
		if strings.Contains(msg, s) {
			return KindTransient
		}
	}
	return KindExtractionFailed
}

// AsJobError wraps err as a JobError unless it already is one.
func AsJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	return &JobError{Kind: Classify(err), Err: err}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// TruncateError cuts msg to at most 200 characters.
func TruncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}
	r := []rune(msg)
	return string(r[:maxErrorLen])
}

// UserMessage returns a short human explanation for a failure kind.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case KindNoMedia:
		return "No video could be found in this post."
	case KindSizeExceeded:
		return "The file is too large to deliver."
	case KindTransient:
		return "The source did not respond. Please try again later."
	case KindQueueFull:
		return "The server is busy. Please try again in a minute."
	case KindTimeout:
		return "The download took too long and was stopped."
	case KindStaleBlob:
		return "The cached copy was lost. Please request it again."
	}
	return "The download failed."
}
