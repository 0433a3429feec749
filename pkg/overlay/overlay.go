// Package overlay composites an animated image overlay onto a video file.
//
// Example Usage:
//
//	comp := overlay.New(ctx)
//	out, err := comp.Compose(ctx, src, overlay.Params{
//	    AssetPath: "logo.png",
//	    Position:  overlay.PosBottomRight,
//	    Animation: overlay.AnimBounce,
//	    SizePx:    120,
//	    Opacity:   70,
//	})
//
// The source file is never modified or removed, whatever happens. On failure
// callers are expected to fall back to delivering the source as-is.
package overlay

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

// ErrorCause describes why composition failed.
type ErrorCause string

const (
	CauseTimeout ErrorCause = "timeout"
	CauseDecode  ErrorCause = "decode"
	CauseEncode  ErrorCause = "encode"
	CauseOutput  ErrorCause = "output" // result missing, empty, or unprobeable
	CauseUnknown ErrorCause = "unknown"
)

// ComposeError wraps composition failures with the cause. The source file is
// intact whenever a ComposeError is returned.
type ComposeError struct {
	Cause  ErrorCause
	Err    error
	Output string // ffmpeg stderr/stdout for debugging
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("overlay composition failed (%s): %v", e.Cause, e.Err)
}

func (e *ComposeError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a composition timeout.
func IsTimeout(err error) bool {
	var ce *ComposeError
	return errors.As(err, &ce) && ce.Cause == CauseTimeout
}

// maxAssetPx is the largest axis an overlay asset may have before a resized
// copy is produced and cached.
const maxAssetPx = 500

// inset is the pixel gap between an anchor and the frame edge.
const inset = 10

// Params controls one composition.
type Params struct {
	AssetPath string
	Position  Position
	Animation Animation
	SizePx    int // overlay width after scaling; height follows aspect
	Opacity   int // percent, 1..100
}

// Compositor owns the detected encoder configuration. Create once at startup.
type Compositor struct {
	encoder     string   // video encoder passed to -c:v
	encoderArgs []string // encoder tuning args
	hwAccel     bool
}

// New probes for a usable hardware H.264 encoder (a 0.1s null-output test
// encode) and falls back to software x264.
func New(ctx context.Context) *Compositor {
	c := &Compositor{}
	if enc, ok := detectHWEncoder(ctx); ok {
		c.encoder = enc
		c.hwAccel = true
		c.encoderArgs = []string{"-b:v", "0"}
		xlog.Infof(ctx, "overlay: using hardware encoder %s", enc)
		return c
	}
	c.encoder = "libx264"
	c.encoderArgs = []string{"-crf", "24", "-preset", "fast", "-threads", "4"}
	xlog.Infof(ctx, "overlay: using software encoder libx264")
	return c
}

// HWAccel reports whether a hardware encoder is in use.
func (c *Compositor) HWAccel() bool { return c.hwAccel }

// Compose renders src with the overlay described by p into a new file next to
// src and returns its path. The source file is left untouched on every path.
func (c *Compositor) Compose(ctx context.Context, src string, p Params) (string, error) {
	if p.Opacity <= 0 || p.Opacity > 100 {
		p.Opacity = 100
	}
	if p.SizePx <= 0 {
		p.SizePx = 120
	}

	srcInfo, err := mediaprobe.File(ctx, src)
	if err != nil {
		return "", &ComposeError{Cause: CauseDecode, Err: err}
	}

	asset, err := prepareAsset(ctx, p.AssetPath)
	if err != nil {
		return "", &ComposeError{Cause: CauseDecode, Err: err}
	}

	out := composedPath(src)
	xExpr, yExpr := p.Animation.Exprs(p.Position)
	graph := fmt.Sprintf(
		"[1:v]scale=%d:-1,format=rgba,colorchannelmixer=aa=%.2f[wm];[0:v][wm]overlay=x='%s':y='%s'",
		p.SizePx, float64(p.Opacity)/100.0, xExpr, yExpr,
	)

	runner, err := subproc.New("ffmpeg")
	if err != nil {
		return "", &ComposeError{Cause: CauseUnknown, Err: err}
	}

	// Audio is stream-copied; only video is re-encoded. No finalize-time
	// options that would re-open the input (the output is a distinct file and
	// faststart-style second passes are deliberately absent).
	args := []string{
		"-hide_banner", "-nostdin", "-nostats", "-loglevel", "warning",
		"-y",
		"-i", src,
		"-i", asset,
		"-filter_complex", graph,
		"-c:v", c.encoder,
	}
	args = append(args, c.encoderArgs...)
	args = append(args, "-c:a", "copy", out)

	dCtx, cancel := context.WithTimeout(ctx, encodeTimeout(srcInfo.Duration))
	defer cancel()

	xlog.Debugf(ctx, "overlay: running ffmpeg %v", args)
	res, runErr := runner.Run(dCtx, args...)
	if runErr != nil {
		_ = os.Remove(out)
		return "", classifyError(dCtx, runErr, res.Output)
	}

	if err := validateOutput(ctx, out); err != nil {
		_ = os.Remove(out)
		return "", &ComposeError{Cause: CauseOutput, Err: err, Output: res.Output}
	}
	return out, nil
}

// encodeTimeout bounds a transcode at max(10min, 3*duration + 2min).
func encodeTimeout(duration time.Duration) time.Duration {
	t := 3*duration + 2*time.Minute
	if t < 10*time.Minute {
		t = 10 * time.Minute
	}
	return t
}

func composedPath(src string) string {
	ext := filepath.Ext(src)
	return strings.TrimSuffix(src, ext) + ".marked" + ext
}

// prepareAsset returns the overlay asset path to use, producing and caching a
// resized copy when either axis exceeds maxAssetPx. Alpha is preserved.
func prepareAsset(ctx context.Context, assetPath string) (string, error) {
	info, err := mediaprobe.File(ctx, assetPath)
	if err != nil {
		return "", fmt.Errorf("overlay asset probe: %w", err)
	}
	if info.Width <= maxAssetPx && info.Height <= maxAssetPx {
		return assetPath, nil
	}

	ext := filepath.Ext(assetPath)
	cached := strings.TrimSuffix(assetPath, ext) + fmt.Sprintf(".%dpx", maxAssetPx) + ext
	if st, err := os.Stat(cached); err == nil && st.Size() > 0 {
		return cached, nil
	}

	runner, err := subproc.New("ffmpeg")
	if err != nil {
		return "", err
	}
	rCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease", maxAssetPx, maxAssetPx)
	res, err := runner.Run(rCtx,
		"-hide_banner", "-nostdin", "-y",
		"-i", assetPath,
		"-vf", scale,
		"-pix_fmt", "rgba",
		cached,
	)
	if err != nil {
		_ = os.Remove(cached)
		return "", fmt.Errorf("overlay asset resize: %w (%s)", err, res.Output)
	}
	return cached, nil
}

func validateOutput(ctx context.Context, out string) error {
	st, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if st.Size() < 1024 {
		return fmt.Errorf("output suspiciously small (%d bytes)", st.Size())
	}
	if _, err := mediaprobe.File(ctx, out); err != nil {
		return fmt.Errorf("output not probeable: %w", err)
	}
	return nil
}

// classifyError inspects ffmpeg output and context to determine the cause.
func classifyError(dCtx context.Context, err error, output string) *ComposeError {
	if errors.Is(dCtx.Err(), context.DeadlineExceeded) {
		return &ComposeError{Cause: CauseTimeout, Err: err, Output: output}
	}

	outLower := strings.ToLower(output)

	decodeIndicators := []string{
		"invalid data found",
		"could not find codec",
		"decoder",
		"demuxer",
		"error while decoding",
		"moov atom not found",
		"corrupt",
	}
	for _, indicator := range decodeIndicators {
		if strings.Contains(outLower, indicator) {
			return &ComposeError{Cause: CauseDecode, Err: err, Output: output}
		}
	}

	encodeIndicators := []string{
		"encoder",
		"nvenc",
		"vaapi",
		"x264",
		"encoding",
		"filter",
		"overlay",
		"scale",
	}
	for _, indicator := range encodeIndicators {
		if strings.Contains(outLower, indicator) {
			return &ComposeError{Cause: CauseEncode, Err: err, Output: output}
		}
	}

	return &ComposeError{Cause: CauseUnknown, Err: err, Output: output}
}

// detectHWEncoder tests candidate hardware encoders with a 0.1s null encode.
func detectHWEncoder(ctx context.Context) (string, bool) {
	runner, err := subproc.New("ffmpeg")
	if err != nil {
		return "", false
	}
	for _, enc := range []string{"h264_nvenc", "h264_vaapi"} {
		pCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		args := []string{
			"-hide_banner", "-nostdin",
			"-f", "lavfi",
			"-i", "color=c=black:s=128x128:r=10",
			"-t", "0.1",
		}
		if enc == "h264_vaapi" {
			args = append(args, "-vf", "format=nv12,hwupload", "-vaapi_device", "/dev/dri/renderD128")
		}
		args = append(args, "-c:v", enc, "-f", "null", "-")
		_, err := runner.Run(pCtx, args...)
		cancel()
		if err == nil {
			return enc, true
		}
	}
	return "", false
}
