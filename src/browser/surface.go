package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"snapsight/src/geometry"
	"snapsight/src/imagedata"
)

// surface drives window.__snapsight, defined by selection.js.
type surface struct {
	page *rod.Page
}

func (s *surface) call(ctx context.Context, js string, args ...interface{}) (gson.JSON, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (s *surface) SetTextSelection(ctx context.Context, enabled bool) error {
	_, err := s.call(ctx, `(on) => window.__snapsight.textSelection(on)`, enabled)
	return err
}

func (s *surface) DrawOverlay(ctx context.Context, r geometry.Rect, visible bool) error {
	_, err := s.call(ctx, `(x, y, w, h, v) => window.__snapsight.draw(x, y, w, h, v)`,
		r.X, r.Y, r.Width, r.Height, visible)
	return err
}

func (s *surface) RemoveOverlay(ctx context.Context) error {
	_, err := s.call(ctx, `() => window.__snapsight.remove()`)
	return err
}

func (s *surface) ListenPointer(ctx context.Context, enabled bool) error {
	_, err := s.call(ctx, `(on) => window.__snapsight.listen(on)`, enabled)
	return err
}

func (s *surface) Viewport(ctx context.Context) (geometry.Viewport, error) {
	v, err := s.call(ctx, `() => window.__snapsightMetrics()`)
	if err != nil {
		return geometry.Viewport{}, err
	}
	return parseViewport(v), nil
}

func parseViewport(v gson.JSON) geometry.Viewport {
	return geometry.Viewport{
		ScrollX:      v.Get("scrollX").Num(),
		ScrollY:      v.Get("scrollY").Num(),
		ScrollWidth:  v.Get("scrollWidth").Num(),
		ScrollHeight: v.Get("scrollHeight").Num(),
	}
}

// rasterizer renders a document region with a clipped CDP screenshot.
type rasterizer struct {
	page *rod.Page
}

func (r *rasterizer) Rasterize(ctx context.Context, req geometry.CaptureRequest) (string, error) {
	data, err := r.page.Context(ctx).Screenshot(false, clipRequest(req))
	if err != nil {
		return "", fmt.Errorf("browser: screenshot: %w", err)
	}
	return imagedata.EncodePNG(data), nil
}

// clipRequest maps a capture request onto a document-space clip. Chrome
// rejects empty clips, so a zero-area selection renders one pixel.
func clipRequest(req geometry.CaptureRequest) *proto.PageCaptureScreenshot {
	w, h := req.Width, req.Height
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      req.X,
			Y:      req.Y,
			Width:  w,
			Height: h,
			Scale:  1,
		},
		CaptureBeyondViewport: true,
	}
}

func parsePointer(payload string) (geometry.PointerEvent, error) {
	v := gson.NewFrom(payload)
	var kind geometry.PointerKind
	switch v.Get("kind").Str() {
	case "down":
		kind = geometry.PointerDown
	case "move":
		kind = geometry.PointerMove
	case "up":
		kind = geometry.PointerUp
	default:
		return geometry.PointerEvent{}, fmt.Errorf("unknown pointer kind in %q", payload)
	}
	return geometry.PointerEvent{
		Kind:    kind,
		ClientX: v.Get("x").Num(),
		ClientY: v.Get("y").Num(),
	}, nil
}
