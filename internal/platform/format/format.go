// Package format picks a downloadable format from probed metadata. Pure
// selection logic; the extractor consumes the resulting selector string.
package format

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"grabbit/internal/platform/extract"
)

var ErrNoMatchingFormat = errors.New("no matching format")

// Selection is the catalog's verdict for one URL.
type Selection struct {
	Selector       string // extractor format selector ("22" or "137+140")
	Ext            string // expected container extension
	Height         int    // video mode only
	NeedsTranscode bool   // audio mode: chosen codec differs from the target
	TargetCodec    string // audio mode: requested codec
}

// candidate is one viable pick, progressive or mux pair.
type candidate struct {
	selector string
	sortID   string // lexicographic tie-break key
	ext      string
	height   int
	h264     bool
	mp4      bool
	size     int64 // 0 = unknown
}

// SelectVideo picks the format with the greatest height not exceeding
// maxHeight that carries both tracks, or that can be muxed from a video-only
// and an audio-only descriptor of the same container family. H.264 in MP4 is
// preferred; ties break by filesize ascending, then format id.
func SelectVideo(meta *extract.Metadata, maxHeight int) (Selection, error) {
	if maxHeight <= 0 {
		return Selection{}, fmt.Errorf("invalid height ceiling %d", maxHeight)
	}

	var cands []candidate
	for _, f := range meta.Formats {
		if !f.HasVideo() || !f.HasAudio() || f.Height <= 0 || f.Height > maxHeight {
			continue
		}
		cands = append(cands, candidate{
			selector: f.FormatID,
			sortID:   f.FormatID,
			ext:      f.Ext,
			height:   f.Height,
			h264:     isH264(f.VCodec),
			mp4:      f.Ext == "mp4",
			size:     f.Size(),
		})
	}

	// Video-only descriptors are viable when a same-family audio-only
	// descriptor exists to mux against.
	for _, f := range meta.Formats {
		if !f.HasVideo() || f.HasAudio() || f.Height <= 0 || f.Height > maxHeight {
			continue
		}
		audio, ok := bestAudioForFamily(meta.Formats, family(f.Ext))
		if !ok {
			continue
		}
		cands = append(cands, candidate{
			selector: f.FormatID + "+" + audio.FormatID,
			sortID:   f.FormatID,
			ext:      f.Ext,
			height:   f.Height,
			h264:     isH264(f.VCodec),
			mp4:      f.Ext == "mp4",
			size:     addSizes(f.Size(), audio.Size()),
		})
	}

	if len(cands) == 0 {
		return Selection{}, fmt.Errorf("%w: no descriptor at or below %dp", ErrNoMatchingFormat, maxHeight)
	}

	sort.SliceStable(cands, func(i, j int) bool { return videoLess(cands[i], cands[j]) })
	best := cands[0]
	return Selection{Selector: best.selector, Ext: best.ext, Height: best.height}, nil
}

// videoLess orders candidates best-first.
func videoLess(a, b candidate) bool {
	if a.height != b.height {
		return a.height > b.height
	}
	if a.h264 != b.h264 {
		return a.h264
	}
	if a.mp4 != b.mp4 {
		return a.mp4
	}
	if sa, sb := sizeKey(a.size), sizeKey(b.size); sa != sb {
		return sa < sb
	}
	return a.sortID < b.sortID
}

// SelectAudio picks the highest-bitrate audio-only descriptor. When the
// chosen codec is not the target, the selection is marked for a post-fetch
// transcode.
func SelectAudio(meta *extract.Metadata, targetCodec string) (Selection, error) {
	var cands []extract.Format
	for _, f := range meta.Formats {
		if f.HasAudio() && !f.HasVideo() {
			cands = append(cands, f)
		}
	}
	if len(cands) == 0 {
		return Selection{}, fmt.Errorf("%w: no audio-only descriptor", ErrNoMatchingFormat)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if ba, bb := bitrate(a), bitrate(b); ba != bb {
			return ba > bb
		}
		if sa, sb := sizeKey(a.Size()), sizeKey(b.Size()); sa != sb {
			return sa < sb
		}
		return a.FormatID < b.FormatID
	})

	best := cands[0]
	return Selection{
		Selector:       best.FormatID,
		Ext:            best.Ext,
		NeedsTranscode: !codecMatches(best.ACodec, targetCodec),
		TargetCodec:    targetCodec,
	}, nil
}

func bitrate(f extract.Format) float64 {
	if f.ABR > 0 {
		return f.ABR
	}
	return f.TBR
}

// sizeKey orders unknown sizes after every known size.
func sizeKey(size int64) int64 {
	if size <= 0 {
		return 1<<63 - 1
	}
	return size
}

func addSizes(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return a + b
}

func isH264(vcodec string) bool {
	return strings.HasPrefix(vcodec, "avc1") || strings.HasPrefix(vcodec, "h264")
}

// family groups container extensions that mux together losslessly.
func family(ext string) string {
	switch ext {
	case "mp4", "m4a", "m4v", "mov":
		return "mp4"
	case "webm", "weba":
		return "webm"
	default:
		return ext
	}
}

// bestAudioForFamily returns the highest-bitrate audio-only descriptor whose
// container belongs to fam.
func bestAudioForFamily(formats []extract.Format, fam string) (extract.Format, bool) {
	var best extract.Format
	var found bool
	for _, f := range formats {
		if !f.HasAudio() || f.HasVideo() || family(f.Ext) != fam {
			continue
		}
		if !found || bitrate(f) > bitrate(best) {
			best, found = f, true
		}
	}
	return best, found
}

// codecMatches reports whether an extractor acodec string satisfies the
// requested target codec tag.
func codecMatches(acodec, target string) bool {
	lower := strings.ToLower(acodec)
	switch target {
	case "mp3":
		return strings.Contains(lower, "mp3")
	case "m4a":
		return strings.Contains(lower, "mp4a") || strings.Contains(lower, "aac")
	default:
		return strings.Contains(lower, strings.ToLower(target))
	}
}
