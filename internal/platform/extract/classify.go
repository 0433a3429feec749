package extract

import (
	"fmt"
	"strings"

	"grabbit/pkg/subproc"
)

// Kind is a stable classification of an extraction failure, decided as close
// to the cause as possible and carried upward unchanged.
type Kind string

const (
	KindPrivate           Kind = "private"
	KindNotFound          Kind = "not_found"
	KindTimeout           Kind = "timeout"
	KindNetwork           Kind = "network_error"
	KindFormatUnavailable Kind = "format_unavailable"
	KindExtractor         Kind = "extractor_error"
)

// Retriable reports whether the pipeline may retry this kind within one URL.
func (k Kind) Retriable() bool {
	return k == KindTimeout || k == KindNetwork
}

// Error is a classified extraction failure.
type Error struct {
	Kind   Kind
	Err    error
	Output string // trailing tool output, for logs only
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("extract (%s): %v: %s", e.Kind, e.Err, e.Output)
	}
	return fmt.Sprintf("extract (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify turns a failed run into an *Error by sniffing the tool output.
// Deadline expiry wins over everything else.
func classify(err error, res subproc.Result) *Error {
	return &Error{
		Kind:   ClassifyOutput(res.Output, res.TimedOut),
		Err:    err,
		Output: tail(res.Output),
	}
}

// ClassifyOutput maps yt-dlp output to a Kind. timedOut reports whether the
// run was cut off by its deadline.
func ClassifyOutput(output string, timedOut bool) Kind {
	if timedOut {
		return KindTimeout
	}
	lower := strings.ToLower(output)

	switch {
	case containsAny(lower,
		"requested format is not available",
		"no video formats found",
		"format is not available"):
		return KindFormatUnavailable
	case containsAny(lower,
		"private video",
		"this post is private",
		"login required",
		"sign in to confirm",
		"members-only",
		"account cookies are needed",
		"requires authentication"):
		return KindPrivate
	case containsAny(lower,
		"video unavailable",
		"not found",
		"404",
		"no longer available",
		"has been removed",
		"does not exist",
		"page not found"):
		return KindNotFound
	case containsAny(lower,
		"unable to download webpage",
		"connection reset",
		"connection refused",
		"timed out",
		"temporary failure",
		"network is unreachable",
		"getaddrinfo",
		"too many requests",
		"429",
		"503"):
		return KindNetwork
	default:
		return KindExtractor
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
