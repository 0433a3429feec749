package delivery

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"grabbit/internal/pipeline"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyUploadErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want pipeline.UploadKind
	}{
		{"deadline", context.DeadlineExceeded, pipeline.UploadTimeout},
		{"net timeout", timeoutErr{}, pipeline.UploadTimeout},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, pipeline.UploadNetwork},
		{"plain error", errors.New("413 payload too large"), pipeline.UploadRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ue := classifyUploadErr(tc.err)
			if ue.Kind != tc.want {
				t.Errorf("got %s, want %s", ue.Kind, tc.want)
			}
			if ue.Unwrap() == nil {
				t.Error("classified error must wrap the original")
			}
		})
	}
}

func TestRenderSummary(t *testing.T) {
	job := &pipeline.Job{ID: "abc"}
	s := pipeline.Summarize([]pipeline.URLResult{
		{URL: "https://youtube.com/watch?v=x", Status: "completed"},
		{URL: "https://tiktok.com/@u/video/1", Status: "failed", ErrorKind: "Private", Reason: "this media is private or requires a login"},
		{URL: "https://vimeo.com/2", Status: "cancelled"},
	})
	out := renderSummary(job, s)
	if !strings.Contains(out, "1 succeeded, 1 failed, 1 cancelled") {
		t.Errorf("counts missing: %s", out)
	}
	if !strings.Contains(out, "this media is private") {
		t.Errorf("failure reason missing: %s", out)
	}
	if strings.Contains(out, "youtube.com") {
		t.Errorf("successful urls should not be itemized: %s", out)
	}
}

func TestRenderSummaryTruncatesLongURLs(t *testing.T) {
	long := "https://youtube.com/watch?v=" + strings.Repeat("a", 100)
	s := pipeline.Summarize([]pipeline.URLResult{
		{URL: long, Status: "failed", Reason: "the site took too long to respond"},
	})
	out := renderSummary(&pipeline.Job{ID: "abc"}, s)
	if strings.Contains(out, long) {
		t.Error("long urls must be truncated")
	}
	if !strings.Contains(out, "...") {
		t.Errorf("expected ellipsis: %s", out)
	}
}

func TestRenderProgress(t *testing.T) {
	job := &pipeline.Job{ID: "abc"}
	single := renderProgress(job, pipeline.Progress{TotalURLs: 1, Fraction: 0.42, Phase: pipeline.StateFetching})
	if !strings.Contains(single, "42%") || strings.Contains(single, "0/1") {
		t.Errorf("single-url rendering wrong: %s", single)
	}
	multi := renderProgress(job, pipeline.Progress{CompletedURLs: 1, TotalURLs: 3, Fraction: 0.5, Phase: pipeline.StateUploading})
	if !strings.Contains(multi, "1/3") {
		t.Errorf("multi-url rendering wrong: %s", multi)
	}
}
