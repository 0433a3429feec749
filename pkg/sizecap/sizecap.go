// Package sizecap re-encodes a video until it fits a delivery size ceiling.
// The input file is never modified or removed. If no attempt fits, the
// smallest attempt is returned for the caller to decide what to do with it.
package sizecap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Data-Corruption/stdx/xlog"

	"grabbit/pkg/mediaprobe"
	"grabbit/pkg/subproc"
)

// DefaultMaxAttempts is the bitrate ladder depth.
const DefaultMaxAttempts = 3

// audioBitrate is fixed across attempts; only video bitrate steps down.
const audioBitrate = "128k"

var ErrNoDuration = errors.New("sizecap: source duration unknown")

// Result describes a normalization outcome.
type Result struct {
	Path     string
	Size     int64
	Fits     bool // Size <= ceiling
	Attempts int
}

// Normalize re-encodes input toward ceilingBytes. The first attempt targets
// 90% of the ceiling spread over the probed duration; each subsequent attempt
// multiplies the video bitrate by 0.9. Returns the first attempt that fits,
// or the smallest one produced.
func Normalize(ctx context.Context, input string, ceilingBytes int64, maxAttempts int) (Result, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	info, err := mediaprobe.File(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("sizecap probe: %w", err)
	}
	if info.Duration <= 0 {
		return Result{}, ErrNoDuration
	}

	runner, err := subproc.New("ffmpeg")
	if err != nil {
		return Result{}, err
	}

	// Target bitrate in bits/s for 90% of the ceiling over the full duration.
	baseBitrate := int64(float64(ceilingBytes) * 0.90 * 8 / info.Duration.Seconds())
	if baseBitrate < 1000 {
		baseBitrate = 1000
	}

	best := Result{Size: -1}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		bitrate := baseBitrate
		for i := 1; i < attempt; i++ {
			bitrate = bitrate * 9 / 10
		}

		out := attemptPath(input, attempt)
		if err := encode(ctx, runner, input, out, bitrate, info.Duration); err != nil {
			_ = os.Remove(out)
			if best.Path != "" {
				xlog.Warnf(ctx, "sizecap: attempt %d failed, keeping best so far: %v", attempt, err)
				break
			}
			return Result{}, err
		}

		st, err := os.Stat(out)
		if err != nil {
			return Result{}, fmt.Errorf("sizecap stat: %w", err)
		}

		if best.Size < 0 || st.Size() < best.Size {
			if best.Path != "" && best.Path != out {
				_ = os.Remove(best.Path)
			}
			best = Result{Path: out, Size: st.Size(), Attempts: attempt}
		} else {
			_ = os.Remove(out)
			best.Attempts = attempt
		}

		if best.Size <= ceilingBytes {
			best.Fits = true
			return best, nil
		}
		xlog.Infof(ctx, "sizecap: attempt %d produced %d bytes (ceiling %d)", attempt, st.Size(), ceilingBytes)
	}

	return best, nil
}

func attemptPath(input string, attempt int) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + fmt.Sprintf(".fit%d", attempt) + ext
}

func encode(ctx context.Context, runner *subproc.Runner, input, output string, bitrate int64, duration time.Duration) error {
	timeout := 3*duration + 2*time.Minute
	if timeout < 10*time.Minute {
		timeout = 10 * time.Minute
	}
	dCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-hide_banner", "-nostdin", "-nostats", "-loglevel", "warning",
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-b:v", fmt.Sprintf("%d", bitrate),
		"-maxrate", fmt.Sprintf("%d", bitrate*12/10),
		"-bufsize", fmt.Sprintf("%d", bitrate*2),
		"-preset", "fast",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-ac", "2",
		output,
	}
	res, err := runner.Run(dCtx, args...)
	if err != nil {
		if errors.Is(dCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("sizecap encode timed out: %s", lastLine(res.Output))
		}
		return fmt.Errorf("sizecap encode: %w (%s)", err, lastLine(res.Output))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
