package desktop

import (
	"context"
	"errors"
	"image"
	"sync"

	"go.uber.org/zap"

	"snapsight/src/assets"
	"snapsight/src/eventloop"
	"snapsight/src/geometry"
)

// PageID is the only page context the desktop host exposes.
const PageID = "desktop"

// Host implements coordinator.PageHost for the local screen.
type Host struct {
	registry *eventloop.Registry
	logger   *zap.Logger
	screen   func() (image.Rectangle, error)
	raster   *Rasterizer
	pointer  *pointerSource

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	events <-chan geometry.PointerEvent
}

func NewHost(registry *eventloop.Registry, logger *zap.Logger) (*Host, error) {
	if registry == nil {
		return nil, errors.New("desktop: registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "desktop"))
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		registry: registry,
		logger:   logger,
		screen:   VirtualScreen,
		raster:   NewRasterizer(),
		pointer:  &pointerSource{hook: systemHook, logger: logger},
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (h *Host) ActivePage(ctx context.Context) (string, error) {
	if _, err := h.screen(); err != nil {
		return "", err
	}
	return PageID, nil
}

// Install starts the pointer hook and page runtime for the selection script.
// Other assets have native equivalents and are accepted as is.
func (h *Host) Install(ctx context.Context, pageID string, a assets.Asset) error {
	if pageID != PageID {
		return errors.New("desktop: unknown page " + pageID)
	}
	if a.Role != assets.RoleSelection {
		h.logger.Debug("asset served natively", zap.String("asset", a.Name))
		return nil
	}

	h.once.Do(func() { h.events = h.pointer.run(h.ctx) })
	outcome, err := h.registry.Attach(ctx, PageID, &surface{host: h}, h.raster, h.events)
	if err != nil {
		return err
	}
	h.logger.Info("selection runtime", zap.Stringer("outcome", outcome))
	return nil
}

// Close stops the pointer hook.
func (h *Host) Close() {
	h.cancel()
}

// surface has no drawable overlay; it tracks the rectangle in the log and
// gates the pointer hook.
type surface struct {
	host *Host
}

func (s *surface) SetTextSelection(context.Context, bool) error { return nil }

func (s *surface) DrawOverlay(_ context.Context, r geometry.Rect, visible bool) error {
	s.host.logger.Debug("selection", zap.Float64("x", r.X), zap.Float64("y", r.Y),
		zap.Float64("width", r.Width), zap.Float64("height", r.Height), zap.Bool("visible", visible))
	return nil
}

func (s *surface) RemoveOverlay(context.Context) error { return nil }

func (s *surface) ListenPointer(_ context.Context, enabled bool) error {
	s.host.pointer.listening.Store(enabled)
	return nil
}

// Viewport treats the virtual screen as a document that never scrolls.
func (s *surface) Viewport(context.Context) (geometry.Viewport, error) {
	b, err := s.host.screen()
	if err != nil {
		return geometry.Viewport{}, err
	}
	return geometry.Viewport{ScrollWidth: float64(b.Dx()), ScrollHeight: float64(b.Dy())}, nil
}
