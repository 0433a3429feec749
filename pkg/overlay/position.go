package overlay

import "fmt"

// Position is one of nine overlay anchor points. Anchors sit inset pixels in
// from the frame edge.
type Position string

const (
	PosTopLeft     Position = "top_left"
	PosTop         Position = "top"
	PosTopRight    Position = "top_right"
	PosLeft        Position = "left"
	PosCenter      Position = "center"
	PosRight       Position = "right"
	PosBottomLeft  Position = "bottom_left"
	PosBottom      Position = "bottom"
	PosBottomRight Position = "bottom_right"
)

// ParsePosition maps a stored position tag to a Position, defaulting to
// bottom-right for unknown tags.
func ParsePosition(s string) Position {
	switch Position(s) {
	case PosTopLeft, PosTop, PosTopRight, PosLeft, PosCenter, PosRight,
		PosBottomLeft, PosBottom, PosBottomRight:
		return Position(s)
	default:
		return PosBottomRight
	}
}

// Base returns the anchor's (x, y) ffmpeg overlay expressions. W/H are the
// main frame dimensions, w/h the overlay's.
func (p Position) Base() (x, y string) {
	left := fmt.Sprintf("%d", inset)
	right := fmt.Sprintf("W-w-%d", inset)
	top := fmt.Sprintf("%d", inset)
	bottom := fmt.Sprintf("H-h-%d", inset)
	hMid := "(W-w)/2"
	vMid := "(H-h)/2"

	switch p {
	case PosTopLeft:
		return left, top
	case PosTop:
		return hMid, top
	case PosTopRight:
		return right, top
	case PosLeft:
		return left, vMid
	case PosCenter:
		return hMid, vMid
	case PosRight:
		return right, vMid
	case PosBottomLeft:
		return left, bottom
	case PosBottom:
		return hMid, bottom
	default: // PosBottomRight
		return right, bottom
	}
}

// Animation selects how the overlay moves over time.
type Animation string

const (
	AnimStatic         Animation = "static"
	AnimCornerRotation Animation = "corner_rotation"
	AnimBounce         Animation = "bounce"
	AnimSlide          Animation = "slide"

	// Reserved tags. Both currently render as static.
	AnimFade Animation = "fade"
	AnimZoom Animation = "zoom"
)

// ParseAnimation maps a stored animation tag to an Animation, defaulting to
// static for unknown tags.
func ParseAnimation(s string) Animation {
	switch Animation(s) {
	case AnimStatic, AnimCornerRotation, AnimBounce, AnimSlide, AnimFade, AnimZoom:
		return Animation(s)
	default:
		return AnimStatic
	}
}

// Exprs returns the (x, y) overlay expressions for the animation anchored at
// pos. n is ffmpeg's frame counter variable.
func (a Animation) Exprs(pos Position) (x, y string) {
	bx, by := pos.Base()
	switch a {
	case AnimCornerRotation:
		// Four offsets of +-30px from the anchor, 60 frames each, 240-frame
		// period. The y phase trails x by a quarter period so the overlay
		// walks the corners instead of flipping diagonally.
		x = fmt.Sprintf("%s+if(lt(mod(n\\,240)\\,120)\\,30\\,-30)", bx)
		y = fmt.Sprintf("%s+if(lt(mod(n+60\\,240)\\,120)\\,30\\,-30)", by)
		return x, y
	case AnimBounce:
		return fmt.Sprintf("%s+30*sin(n/20)", bx), fmt.Sprintf("%s+30*cos(n/20)", by)
	case AnimSlide:
		return fmt.Sprintf("%s+50*sin(n/40)", bx), by
	default: // static, fade, zoom
		return bx, by
	}
}
