// Package selection implements the drag-to-select-and-capture state machine
// that runs inside one page context.
//
// The machine is single-threaded: its owner (the page event loop) must call
// Start and Handle from one goroutine.
package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"snapsight/src/geometry"
)

// Surface is the page-level API the machine drives.
type Surface interface {
	// SetTextSelection toggles page-wide text selection.
	SetTextSelection(ctx context.Context, enabled bool) error
	// DrawOverlay creates or moves the selection rectangle, in document space.
	DrawOverlay(ctx context.Context, r geometry.Rect, visible bool) error
	RemoveOverlay(ctx context.Context) error
	// ListenPointer attaches or detaches the pointer listeners feeding Handle.
	ListenPointer(ctx context.Context, enabled bool) error
	Viewport(ctx context.Context) (geometry.Viewport, error)
}

// Rasterizer renders a page region into a data URI.
type Rasterizer interface {
	Rasterize(ctx context.Context, req geometry.CaptureRequest) (string, error)
}

type State int

const (
	Idle State = iota
	Armed
	Dragging
	Capturing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Dragging:
		return "dragging"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// ArmOutcome tells the caller whether Start opened a new session.
type ArmOutcome int

const (
	NewlyArmed ArmOutcome = iota + 1
	AlreadyActive
)

func (o ArmOutcome) String() string {
	switch o {
	case NewlyArmed:
		return "newly-armed"
	case AlreadyActive:
		return "already-active"
	default:
		return "unknown"
	}
}

// initialOverlay is the overlay placed at arm time, before any press.
var initialOverlay = geometry.Rect{X: 0, Y: 0, Width: 1, Height: 1}

// Capture is the result of one completed session.
type Capture struct {
	SessionID string
	ImageURI  string
	Request   geometry.CaptureRequest
}

type Machine struct {
	surface Surface
	raster  Rasterizer
	logger  *zap.Logger

	state     State
	active    bool
	anchor    geometry.Point
	rect      geometry.Rect
	sessionID string
}

func New(surface Surface, raster Rasterizer, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		surface: surface,
		raster:  raster,
		logger:  logger.With(zap.String("component", "selection")),
	}
}

func (m *Machine) State() State { return m.state }

// Rect returns the current selection rectangle in document space.
func (m *Machine) Rect() geometry.Rect { return m.rect }

// Start arms a new session: text selection off, overlay created, pointer
// listeners attached. Starting while a session is open changes nothing.
func (m *Machine) Start(ctx context.Context) (ArmOutcome, error) {
	if m.state != Idle {
		return AlreadyActive, nil
	}

	if err := m.surface.SetTextSelection(ctx, false); err != nil {
		return 0, fmt.Errorf("suppress text selection: %w", err)
	}
	if err := m.surface.DrawOverlay(ctx, initialOverlay, true); err != nil {
		_ = m.surface.SetTextSelection(ctx, true)
		return 0, fmt.Errorf("create overlay: %w", err)
	}
	if err := m.surface.ListenPointer(ctx, true); err != nil {
		_ = m.surface.RemoveOverlay(ctx)
		_ = m.surface.SetTextSelection(ctx, true)
		return 0, fmt.Errorf("attach pointer listeners: %w", err)
	}

	m.sessionID = uuid.NewString()
	m.rect = initialOverlay
	m.active = true
	m.state = Armed
	m.logger.Debug("armed", zap.String("session", m.sessionID))
	return NewlyArmed, nil
}

// Handle feeds one pointer event. It returns a non-nil Capture only when the
// event was a release that completed a session.
func (m *Machine) Handle(ctx context.Context, ev geometry.PointerEvent) (*Capture, error) {
	if !m.active {
		return nil, nil
	}

	switch ev.Kind {
	case geometry.PointerDown:
		return nil, m.onDown(ctx, ev)
	case geometry.PointerMove:
		return nil, m.onMove(ctx, ev)
	case geometry.PointerUp:
		return m.onUp(ctx)
	default:
		return nil, fmt.Errorf("unknown pointer event kind %d", ev.Kind)
	}
}

func (m *Machine) onDown(ctx context.Context, ev geometry.PointerEvent) error {
	if m.state != Armed {
		return nil
	}
	vp, err := m.surface.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("read viewport: %w", err)
	}

	m.anchor = vp.ToDocument(ev.Client())
	m.rect = geometry.Rect{X: m.anchor.X, Y: m.anchor.Y}
	m.state = Dragging
	return m.surface.DrawOverlay(ctx, m.rect, true)
}

func (m *Machine) onMove(ctx context.Context, ev geometry.PointerEvent) error {
	if m.state != Dragging {
		return nil
	}
	vp, err := m.surface.Viewport(ctx)
	if err != nil {
		return fmt.Errorf("read viewport: %w", err)
	}

	m.rect = geometry.Normalize(m.anchor, vp.ToDocument(ev.Client()))
	return m.surface.DrawOverlay(ctx, m.rect, true)
}

// onUp closes the session whatever the rectangle size. The machine is back
// in Idle with listeners detached on every return path.
func (m *Machine) onUp(ctx context.Context) (*Capture, error) {
	m.active = false
	m.state = Capturing
	sessionID := m.sessionID
	docRect := m.rect

	defer m.reset(ctx)

	vp, vpErr := m.surface.Viewport(ctx)
	hideErr := m.surface.DrawOverlay(ctx, docRect, false)
	listenErr := m.surface.ListenPointer(ctx, false)
	if vpErr != nil {
		return nil, fmt.Errorf("read viewport: %w", vpErr)
	}

	// Geometry is tracked in document space; the rasterizer gets the on-screen
	// rectangle re-offset by the scroll position at release.
	req := geometry.NewCaptureRequest(vp.ToViewport(docRect), vp)
	uri, err := m.raster.Rasterize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("rasterize region: %w", err)
	}

	if cleanup := errors.Join(hideErr, listenErr); cleanup != nil {
		m.logger.Warn("selection cleanup incomplete", zap.String("session", sessionID), zap.Error(cleanup))
	}
	m.logger.Debug("captured",
		zap.String("session", sessionID),
		zap.Float64("x", req.X),
		zap.Float64("y", req.Y),
		zap.Float64("width", req.Width),
		zap.Float64("height", req.Height),
	)
	return &Capture{SessionID: sessionID, ImageURI: uri, Request: req}, nil
}

func (m *Machine) reset(ctx context.Context) {
	if err := m.surface.RemoveOverlay(ctx); err != nil {
		m.logger.Warn("remove overlay", zap.Error(err))
	}
	if err := m.surface.SetTextSelection(ctx, true); err != nil {
		m.logger.Warn("restore text selection", zap.Error(err))
	}
	m.active = false
	m.state = Idle
	m.anchor = geometry.Point{}
	m.rect = geometry.Rect{}
	m.sessionID = ""
}
