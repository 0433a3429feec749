package overlay

import (
	"strings"
	"testing"
)

func TestPositionBase(t *testing.T) {
	tests := []struct {
		pos   Position
		wantX string
		wantY string
	}{
		{PosTopLeft, "10", "10"},
		{PosTop, "(W-w)/2", "10"},
		{PosTopRight, "W-w-10", "10"},
		{PosLeft, "10", "(H-h)/2"},
		{PosCenter, "(W-w)/2", "(H-h)/2"},
		{PosRight, "W-w-10", "(H-h)/2"},
		{PosBottomLeft, "10", "H-h-10"},
		{PosBottom, "(W-w)/2", "H-h-10"},
		{PosBottomRight, "W-w-10", "H-h-10"},
	}
	for _, tt := range tests {
		x, y := tt.pos.Base()
		if x != tt.wantX || y != tt.wantY {
			t.Errorf("%s: got (%s, %s), want (%s, %s)", tt.pos, x, y, tt.wantX, tt.wantY)
		}
	}
}

func TestParsePositionDefaults(t *testing.T) {
	if got := ParsePosition("nonsense"); got != PosBottomRight {
		t.Errorf("expected default bottom_right, got %s", got)
	}
	if got := ParsePosition("center"); got != PosCenter {
		t.Errorf("expected center, got %s", got)
	}
}

func TestAnimationExprs(t *testing.T) {
	x, y := AnimStatic.Exprs(PosTopLeft)
	if x != "10" || y != "10" {
		t.Errorf("static: got (%s, %s)", x, y)
	}

	x, y = AnimBounce.Exprs(PosBottomRight)
	if x != "W-w-10+30*sin(n/20)" {
		t.Errorf("bounce x: got %s", x)
	}
	if y != "H-h-10+30*cos(n/20)" {
		t.Errorf("bounce y: got %s", y)
	}

	x, y = AnimSlide.Exprs(PosBottom)
	if x != "(W-w)/2+50*sin(n/40)" {
		t.Errorf("slide x: got %s", x)
	}
	if y != "H-h-10" {
		t.Errorf("slide y should stay anchored, got %s", y)
	}

	x, y = AnimCornerRotation.Exprs(PosCenter)
	if !strings.Contains(x, "mod(n\\,240)") {
		t.Errorf("corner rotation x missing 240-frame period: %s", x)
	}
	if !strings.Contains(y, "mod(n+60\\,240)") {
		t.Errorf("corner rotation y missing quarter-period phase: %s", y)
	}
}

func TestReservedAnimationsDegradeToStatic(t *testing.T) {
	for _, anim := range []Animation{AnimFade, AnimZoom} {
		x, y := anim.Exprs(PosTopRight)
		sx, sy := AnimStatic.Exprs(PosTopRight)
		if x != sx || y != sy {
			t.Errorf("%s should degrade to static, got (%s, %s)", anim, x, y)
		}
	}
}

func TestComposedPathKeepsSourceIntact(t *testing.T) {
	out := composedPath("/tmp/work/clip.mp4")
	if out == "/tmp/work/clip.mp4" {
		t.Fatal("composed path must differ from source")
	}
	if out != "/tmp/work/clip.marked.mp4" {
		t.Errorf("unexpected composed path: %s", out)
	}
}

func TestEncodeTimeoutFloor(t *testing.T) {
	if got := encodeTimeout(0); got.Minutes() != 10 {
		t.Errorf("expected 10m floor, got %v", got)
	}
	if got := encodeTimeout(3600e9); got.Minutes() != 3*60+2 {
		t.Errorf("expected 3*dur+2m, got %v", got)
	}
}
