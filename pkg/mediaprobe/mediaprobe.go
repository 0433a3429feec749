// Package mediaprobe wraps ffprobe for the handful of facts the pipeline
// needs about a local media file.
package mediaprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"grabbit/pkg/subproc"
)

const probeTimeout = 20 * time.Second

type ffprobeOut struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Info describes a probed media file.
type Info struct {
	Duration time.Duration
	Width    int
	Height   int
	HasVideo bool
	HasAudio bool
}

// File probes path with ffprobe. An error means the file is unreadable or not
// parseable media.
func File(ctx context.Context, path string) (Info, error) {
	runner, err := subproc.New("ffprobe")
	if err != nil {
		return Info{}, err
	}

	pCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	res, err := runner.Run(pCtx,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe %s: %w (%s)", path, err, firstLine(res.Output))
	}

	var raw ffprobeOut
	if err := json.Unmarshal([]byte(res.Output), &raw); err != nil {
		return Info{}, fmt.Errorf("ffprobe output parse: %w", err)
	}

	var info Info
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			info.HasVideo = true
			if s.Width > info.Width {
				info.Width = s.Width
			}
			if s.Height > info.Height {
				info.Height = s.Height
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if sec, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil && sec > 0 {
		info.Duration = time.Duration(sec * float64(time.Second))
	}
	return info, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
