// Package extract wraps the yt-dlp binary: non-downloading metadata probes,
// format-selected fetches with progress reporting, and classification of the
// tool's stderr into stable error kinds.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Data-Corruption/stdx/xlog"

	"grabbit/pkg/subproc"
	"grabbit/pkg/x"
)

// DefaultProbeTimeout bounds one metadata probe.
const DefaultProbeTimeout = 30 * time.Second

// progressPrefix tags progress lines so they can be told apart from the
// tool's other stdout chatter.
const progressPrefix = "dlp-progress:"

// Format is one downloadable format descriptor from a probe.
type Format struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Height         int     `json:"height"`
	TBR            float64 `json:"tbr"`
	ABR            float64 `json:"abr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

// HasVideo reports whether the descriptor carries a video track.
func (f Format) HasVideo() bool { return f.VCodec != "" && f.VCodec != "none" }

// HasAudio reports whether the descriptor carries an audio track.
func (f Format) HasAudio() bool { return f.ACodec != "" && f.ACodec != "none" }

// Size returns the best available size estimate, 0 when unknown.
func (f Format) Size() int64 {
	if f.Filesize > 0 {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// Metadata is the probe result for one URL.
type Metadata struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Duration   float64  `json:"duration"`
	WebpageURL string   `json:"webpage_url"`
	Formats    []Format `json:"formats"`
}

// Extractor runs yt-dlp. Safe for concurrent use.
type Extractor struct {
	runner       *subproc.Runner
	probeTimeout time.Duration
	userAgent    string
}

// New returns an Extractor, failing early when yt-dlp is not on PATH.
// probeTimeout <= 0 selects the default.
func New(probeTimeout time.Duration, userAgent string) (*Extractor, error) {
	runner, err := subproc.New("yt-dlp")
	if err != nil {
		return nil, err
	}
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Extractor{runner: runner, probeTimeout: probeTimeout, userAgent: userAgent}, nil
}

func (e *Extractor) commonArgs(cookieFile string) []string {
	args := []string{"--no-playlist", "--no-warnings"}
	if e.userAgent != "" {
		args = append(args, "--user-agent", e.userAgent)
	}
	if cookieFile != "" {
		args = append(args, "--cookies", cookieFile)
	}
	return args
}

// Probe extracts metadata for rawURL without downloading anything. cookieFile
// may be empty. Failures come back as *Error with a classified Kind.
func (e *Extractor) Probe(ctx context.Context, rawURL, cookieFile string) (*Metadata, error) {
	pCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	args := append(e.commonArgs(cookieFile), "-J", rawURL)
	res, err := e.runner.Run(pCtx, args...)
	if err != nil {
		return nil, classify(err, res)
	}

	// -J prints one JSON document; ignore any banner lines before it.
	out := res.Output
	if i := strings.IndexByte(out, '{'); i > 0 {
		out = out[i:]
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		return nil, &Error{Kind: KindExtractor, Err: fmt.Errorf("metadata decode: %w", err), Output: tail(res.Output)}
	}
	xlog.Debugf(ctx, "probed %q: duration=%.0fs formats=%d", meta.Title, meta.Duration, len(meta.Formats))
	return &meta, nil
}

// ProbeWithCookies runs a probe purely as a credential check, discarding the
// metadata. It satisfies the vault's prober contract.
func (e *Extractor) ProbeWithCookies(ctx context.Context, rawURL, cookieFile string) error {
	_, err := e.Probe(ctx, rawURL, cookieFile)
	return err
}

// FetchSpec describes one download.
type FetchSpec struct {
	URL        string
	Selector   string // format selector from the catalog
	CookieFile string // empty for none
	Dir        string // destination directory, must exist
	Stem       string // output file name without extension
	OnProgress func(fraction float64)
}

// Fetch downloads spec.URL into spec.Dir as spec.Stem.<ext> and returns the
// final path. Progress fractions in [0,1] are pushed to OnProgress as the tool
// reports them; coalescing is the caller's concern. Fetch has no overall
// timeout; cancel ctx to abort (TERM, grace, KILL).
func (e *Extractor) Fetch(ctx context.Context, spec FetchSpec) (string, error) {
	if spec.Stem == "" {
		spec.Stem = "media"
	}
	outTpl := filepath.Join(spec.Dir, spec.Stem+".%(ext)s")

	args := append(e.commonArgs(spec.CookieFile),
		"-f", spec.Selector,
		"--newline", "--progress",
		"--progress-template", progressPrefix+"%(progress._percent_str)s",
		"-o", outTpl,
		spec.URL,
	)

	onLine := func(line string) {
		frac, ok := parseProgressLine(line)
		if ok && spec.OnProgress != nil {
			spec.OnProgress(frac)
		}
	}

	res, err := e.runner.RunStreaming(ctx, onLine, args...)
	if err != nil {
		return "", classify(err, res)
	}

	path, err := locateOutput(spec.Dir, spec.Stem)
	if err != nil {
		return "", &Error{Kind: KindExtractor, Err: err, Output: tail(res.Output)}
	}
	return path, nil
}

// parseProgressLine pulls a [0,1] fraction out of a tagged progress line.
func parseProgressLine(line string) (float64, bool) {
	rest, ok := strings.CutPrefix(line, progressPrefix)
	if !ok {
		return 0, false
	}
	rest = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "%"))
	var pct float64
	if _, err := fmt.Sscanf(rest, "%f", &pct); err != nil {
		return 0, false
	}
	return x.Clamp(pct, 0, 100) / 100, true
}

// locateOutput finds the file the tool wrote for the stem. Merged downloads
// can briefly leave .part or .fNNN intermediates; those are skipped.
func locateOutput(dir, stem string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem+".") {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		return filepath.Join(dir, name), nil
	}
	return "", fmt.Errorf("no output file for stem %q in %s", stem, dir)
}

// SanitizeTitle reduces a media title to a safe file-name stem.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.Trim(out, ".")
	if len(out) > 80 {
		out = strings.TrimSpace(out[:80])
	}
	if out == "" {
		return "media"
	}
	return out
}

// tail returns the last few lines of tool output for error context.
func tail(out string) string {
	out = strings.TrimSpace(out)
	lines := strings.Split(out, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
