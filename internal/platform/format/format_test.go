package format

import (
	"errors"
	"testing"

	"grabbit/internal/platform/extract"
)

func meta(formats ...extract.Format) *extract.Metadata {
	return &extract.Metadata{Formats: formats}
}

func TestSelectVideoGreatestHeightUnderCeiling(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "18", Ext: "mp4", VCodec: "avc1.42001E", ACodec: "mp4a.40.2", Height: 360, Filesize: 10},
		extract.Format{FormatID: "22", Ext: "mp4", VCodec: "avc1.64001F", ACodec: "mp4a.40.2", Height: 720, Filesize: 50},
		extract.Format{FormatID: "37", Ext: "mp4", VCodec: "avc1.640028", ACodec: "mp4a.40.2", Height: 1080, Filesize: 90},
	)
	sel, err := SelectVideo(m, 720)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Selector != "22" || sel.Height != 720 {
		t.Errorf("got %+v, want format 22 at 720", sel)
	}
}

func TestSelectVideoPrefersH264MP4(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "vp9", Ext: "webm", VCodec: "vp9", ACodec: "opus", Height: 720, Filesize: 40},
		extract.Format{FormatID: "avc", Ext: "mp4", VCodec: "avc1.64001F", ACodec: "mp4a.40.2", Height: 720, Filesize: 60},
	)
	sel, err := SelectVideo(m, 720)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Selector != "avc" {
		t.Errorf("H.264/MP4 should win at equal height, got %s", sel.Selector)
	}
}

func TestSelectVideoMuxPair(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "18", Ext: "mp4", VCodec: "avc1.42001E", ACodec: "mp4a.40.2", Height: 360, Filesize: 10},
		extract.Format{FormatID: "137", Ext: "mp4", VCodec: "avc1.640028", Height: 1080, Filesize: 80},
		extract.Format{FormatID: "140", Ext: "m4a", ACodec: "mp4a.40.2", ABR: 128, Filesize: 8},
	)
	sel, err := SelectVideo(m, 1080)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Selector != "137+140" || sel.Height != 1080 {
		t.Errorf("expected mux pair 137+140, got %+v", sel)
	}
}

func TestSelectVideoNoCrossFamilyMux(t *testing.T) {
	// 1080p video-only is webm but only mp4-family audio exists; the mux is
	// not viable and the 360p progressive must win.
	m := meta(
		extract.Format{FormatID: "vp9hd", Ext: "webm", VCodec: "vp9", Height: 1080, Filesize: 80},
		extract.Format{FormatID: "140", Ext: "m4a", ACodec: "mp4a.40.2", ABR: 128},
		extract.Format{FormatID: "18", Ext: "mp4", VCodec: "avc1.42001E", ACodec: "mp4a.40.2", Height: 360},
	)
	sel, err := SelectVideo(m, 1080)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Selector != "18" {
		t.Errorf("expected progressive fallback, got %s", sel.Selector)
	}
}

func TestSelectVideoTieBreaks(t *testing.T) {
	// Same height, codec, and container: smaller file wins.
	m := meta(
		extract.Format{FormatID: "b", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720, Filesize: 100},
		extract.Format{FormatID: "a", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720, Filesize: 50},
	)
	sel, err := SelectVideo(m, 720)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Selector != "a" {
		t.Errorf("smaller filesize should win, got %s", sel.Selector)
	}

	// Sizes equal: format id lexicographic.
	m = meta(
		extract.Format{FormatID: "zz", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720, Filesize: 50},
		extract.Format{FormatID: "aa", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720, Filesize: 50},
	)
	sel, err = SelectVideo(m, 720)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Selector != "aa" {
		t.Errorf("lexicographic id should win, got %s", sel.Selector)
	}
}

func TestSelectVideoUnknownSizeSortsLast(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "unknown", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720},
		extract.Format{FormatID: "known", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720, Filesize: 50},
	)
	sel, err := SelectVideo(m, 720)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Selector != "known" {
		t.Errorf("known size should beat unknown, got %s", sel.Selector)
	}
}

func TestSelectVideoNoMatch(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "audio", Ext: "m4a", ACodec: "mp4a", ABR: 128},
	)
	if _, err := SelectVideo(m, 720); !errors.Is(err, ErrNoMatchingFormat) {
		t.Errorf("expected ErrNoMatchingFormat, got %v", err)
	}
}

func TestSelectAudioHighestBitrate(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "low", Ext: "m4a", ACodec: "mp4a.40.2", ABR: 48},
		extract.Format{FormatID: "high", Ext: "m4a", ACodec: "mp4a.40.2", ABR: 160},
		extract.Format{FormatID: "video", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720},
	)
	sel, err := SelectAudio(m, "m4a")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Selector != "high" {
		t.Errorf("highest bitrate should win, got %s", sel.Selector)
	}
	if sel.NeedsTranscode {
		t.Error("mp4a satisfies m4a target, no transcode needed")
	}
}

func TestSelectAudioTranscodeMarker(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "opus", Ext: "webm", ACodec: "opus", ABR: 160},
	)
	sel, err := SelectAudio(m, "mp3")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !sel.NeedsTranscode || sel.TargetCodec != "mp3" {
		t.Errorf("opus pick must be marked for mp3 transcode: %+v", sel)
	}
}

func TestSelectAudioNoMatch(t *testing.T) {
	m := meta(
		extract.Format{FormatID: "video", Ext: "mp4", VCodec: "avc1", ACodec: "mp4a", Height: 720},
	)
	if _, err := SelectAudio(m, "mp3"); !errors.Is(err, ErrNoMatchingFormat) {
		t.Errorf("expected ErrNoMatchingFormat, got %v", err)
	}
}

func TestCodecMatches(t *testing.T) {
	cases := []struct {
		acodec, target string
		want           bool
	}{
		{"mp4a.40.2", "m4a", true},
		{"aac", "m4a", true},
		{"mp3", "mp3", true},
		{"opus", "mp3", false},
		{"opus", "m4a", false},
	}
	for _, tc := range cases {
		if got := codecMatches(tc.acodec, tc.target); got != tc.want {
			t.Errorf("codecMatches(%q, %q) = %v, want %v", tc.acodec, tc.target, got, tc.want)
		}
	}
}
