package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapsight/src/geometry"
	"snapsight/src/messages"
	"snapsight/src/router"
)

type stubSurface struct {
	mu        sync.Mutex
	listening bool
}

func (s *stubSurface) SetTextSelection(context.Context, bool) error { return nil }
func (s *stubSurface) DrawOverlay(context.Context, geometry.Rect, bool) error {
	return nil
}
func (s *stubSurface) RemoveOverlay(context.Context) error { return nil }
func (s *stubSurface) ListenPointer(_ context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listening = enabled
	return nil
}
func (s *stubSurface) Viewport(context.Context) (geometry.Viewport, error) {
	return geometry.Viewport{ScrollWidth: 800, ScrollHeight: 600}, nil
}

type stubRasterizer struct{}

func (stubRasterizer) Rasterize(context.Context, geometry.CaptureRequest) (string, error) {
	return "data:image/png;base64,AAAA", nil
}

func TestAttachRunsSelectionAndBroadcastsCapture(t *testing.T) {
	bus := router.NewRouter(nil)
	defer bus.Shutdown()
	reg := NewRegistry(bus, nil)
	defer reg.Close()

	bg, err := bus.Register(messages.AddressBackground, 4)
	require.NoError(t, err)
	panel, err := bus.Register(messages.AddressSidePanel, 4)
	require.NoError(t, err)

	pointer := make(chan geometry.PointerEvent, 4)
	outcome, err := reg.Attach(context.Background(), "tab-1", &stubSurface{}, stubRasterizer{}, pointer)
	require.NoError(t, err)
	assert.Equal(t, Installed, outcome)

	rep, err := bus.Request(context.Background(), messages.MessageEnvelope{
		From:    messages.AddressBackground,
		To:      messages.ContentAddress("tab-1"),
		Message: messages.StartSelection{},
	})
	require.NoError(t, err)
	assert.True(t, rep.Success)

	pointer <- geometry.PointerEvent{Kind: geometry.PointerDown, ClientX: 10, ClientY: 10}
	pointer <- geometry.PointerEvent{Kind: geometry.PointerMove, ClientX: 40, ClientY: 30}
	pointer <- geometry.PointerEvent{Kind: geometry.PointerUp}

	for _, ch := range []<-chan messages.MessageEnvelope{bg, panel} {
		env, err := router.WaitForMessage(ch, messages.TypeScreenshotCaptured, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, messages.ContentAddress("tab-1"), env.From)
		assert.Equal(t, "data:image/png;base64,AAAA", env.Message.(messages.ScreenshotCaptured).ImageURI)
	}
}

func TestAttachTwiceReportsAlreadyInstalled(t *testing.T) {
	bus := router.NewRouter(nil)
	defer bus.Shutdown()
	reg := NewRegistry(bus, nil)
	defer reg.Close()

	outcome, err := reg.Attach(context.Background(), "tab-2", &stubSurface{}, stubRasterizer{}, nil)
	require.NoError(t, err)
	assert.Equal(t, Installed, outcome)

	outcome, err = reg.Attach(context.Background(), "tab-2", &stubSurface{}, stubRasterizer{}, nil)
	require.NoError(t, err)
	assert.Equal(t, AlreadyInstalled, outcome)
	assert.True(t, reg.Attached("tab-2"))
}

func TestDetachUnregistersPage(t *testing.T) {
	bus := router.NewRouter(nil)
	defer bus.Shutdown()
	reg := NewRegistry(bus, nil)
	defer reg.Close()

	_, err := reg.Attach(context.Background(), "tab-3", &stubSurface{}, stubRasterizer{}, nil)
	require.NoError(t, err)
	require.True(t, bus.IsRegistered(messages.ContentAddress("tab-3")))

	reg.Detach("tab-3")
	assert.False(t, reg.Attached("tab-3"))
	assert.False(t, bus.IsRegistered(messages.ContentAddress("tab-3")))

	err = bus.Send(messages.MessageEnvelope{To: messages.ContentAddress("tab-3"), Message: messages.StartSelection{}})
	assert.ErrorIs(t, err, router.ErrUnknownAddress)
}

func TestRuntimeRejectsUnexpectedMessage(t *testing.T) {
	bus := router.NewRouter(nil)
	defer bus.Shutdown()
	reg := NewRegistry(bus, nil)
	defer reg.Close()

	_, err := reg.Attach(context.Background(), "tab-4", &stubSurface{}, stubRasterizer{}, nil)
	require.NoError(t, err)

	rep, err := bus.Request(context.Background(), messages.MessageEnvelope{
		To:      messages.ContentAddress("tab-4"),
		Message: messages.InjectCode{},
	})
	require.NoError(t, err)
	assert.False(t, rep.Success)
	assert.Equal(t, "unknown message type", rep.Error)
}

func TestInstallOutcomeString(t *testing.T) {
	assert.Equal(t, "installed", Installed.String())
	assert.Equal(t, "already-installed", AlreadyInstalled.String())
}
