// Package geometry holds the coordinate types shared by the selection state
// machine and the page hosts.
//
// Two spaces are in play. Document space is pointer position plus the page
// scroll offset and is used for all rectangle math. Viewport space is what is
// on screen right now; capture requests are derived from it at release time.
package geometry

import (
	"image"
	"math"
)

type Point struct {
	X float64
	Y float64
}

type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Normalize returns the bounding box between two points: origin at the
// component-wise minimum, size equal to the absolute differences.
func Normalize(a, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

func (r Rect) Empty() bool { return r.Width == 0 || r.Height == 0 }

// Translate shifts the rectangle origin by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// Image rounds the rectangle outward to integer pixel bounds.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.Width)),
		int(math.Ceil(r.Y+r.Height)),
	)
}

// Viewport describes the page scroll state at one instant.
type Viewport struct {
	ScrollX      float64
	ScrollY      float64
	ScrollWidth  float64
	ScrollHeight float64
}

// ToDocument converts a viewport-relative point into document space.
func (v Viewport) ToDocument(p Point) Point {
	return Point{X: p.X + v.ScrollX, Y: p.Y + v.ScrollY}
}

// ToViewport converts a document-space rectangle into viewport space.
func (v Viewport) ToViewport(r Rect) Rect {
	return r.Translate(-v.ScrollX, -v.ScrollY)
}

// CaptureRequest is what a rasterizer receives: a region given as the
// viewport rectangle re-offset by the live scroll position, plus the full
// document size to render against.
type CaptureRequest struct {
	X            float64
	Y            float64
	Width        float64
	Height       float64
	WindowWidth  float64
	WindowHeight float64
}

// NewCaptureRequest builds the rasterizer input from a viewport-space
// rectangle and the viewport it was measured in.
func NewCaptureRequest(viewportRect Rect, v Viewport) CaptureRequest {
	return CaptureRequest{
		X:            viewportRect.X + v.ScrollX,
		Y:            viewportRect.Y + v.ScrollY,
		Width:        viewportRect.Width,
		Height:       viewportRect.Height,
		WindowWidth:  v.ScrollWidth,
		WindowHeight: v.ScrollHeight,
	}
}

func (c CaptureRequest) Rect() Rect {
	return Rect{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height}
}

type PointerKind int

const (
	PointerDown PointerKind = iota + 1
	PointerMove
	PointerUp
)

func (k PointerKind) String() string {
	switch k {
	case PointerDown:
		return "down"
	case PointerMove:
		return "move"
	case PointerUp:
		return "up"
	default:
		return "unknown"
	}
}

// PointerEvent carries viewport-relative pointer coordinates.
type PointerEvent struct {
	Kind    PointerKind
	ClientX float64
	ClientY float64
}

func (e PointerEvent) Client() Point { return Point{X: e.ClientX, Y: e.ClientY} }
