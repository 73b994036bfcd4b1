// Package desktop hosts a single page context spanning the whole virtual
// screen: pointer input comes from a global mouse hook and regions are
// rasterized with an OS screen capture.
package desktop

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"

	"snapsight/src/geometry"
	"snapsight/src/imagedata"
)

// VirtualScreen returns the union of all active display bounds.
func VirtualScreen() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}
	return union, nil
}

type captureFunc func(image.Rectangle) (*image.RGBA, error)

// Rasterizer captures screen regions. Coordinates are absolute virtual
// screen pixels.
type Rasterizer struct {
	capture captureFunc
}

func NewRasterizer() *Rasterizer {
	return &Rasterizer{capture: screenshot.CaptureRect}
}

func (r *Rasterizer) Rasterize(ctx context.Context, req geometry.CaptureRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bounds := req.Rect().Image()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		// a click without a drag still yields an image
		bounds = image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Min.X+1, bounds.Min.Y+1)
	}

	img, err := r.capture(bounds)
	if err != nil {
		return "", fmt.Errorf("failed to capture region: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return imagedata.EncodePNG(buf.Bytes()), nil
}
