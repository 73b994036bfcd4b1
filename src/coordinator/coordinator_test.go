package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapsight/src/assets"
	"snapsight/src/messages"
	"snapsight/src/router"
	"snapsight/src/store"
)

type fakeHost struct {
	pageID    string
	pageErr   error
	failOn    string
	installed []string
}

func (h *fakeHost) ActivePage(context.Context) (string, error) {
	return h.pageID, h.pageErr
}

func (h *fakeHost) Install(_ context.Context, _ string, a assets.Asset) error {
	if a.Name == h.failOn {
		return errors.New("executeScript rejected")
	}
	h.installed = append(h.installed, a.Name)
	return nil
}

// runtimeHost registers a page runtime on the bus when the selection script
// is installed, as the real hosts do through the eventloop registry.
type runtimeHost struct {
	bus      *router.Router
	attached map[string]bool
}

func (h *runtimeHost) ActivePage(context.Context) (string, error) { return "desktop", nil }

func (h *runtimeHost) Install(_ context.Context, pageID string, a assets.Asset) error {
	if a.Role != assets.RoleSelection || h.attached[pageID] {
		return nil
	}
	if _, err := h.bus.Register(messages.ContentAddress(pageID), 4); err != nil {
		return err
	}
	h.attached[pageID] = true
	return nil
}

func (h *runtimeHost) Attached(pageID string) bool { return h.attached[pageID] }

type harness struct {
	coord *Coordinator
	host  *fakeHost
	flags *store.Memory
	bus   *router.Router
	page  <-chan messages.MessageEnvelope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := router.NewRouter(nil)
	t.Cleanup(bus.Shutdown)

	page, err := bus.Register(messages.ContentAddress("tab-1"), 16)
	require.NoError(t, err)

	host := &fakeHost{pageID: "tab-1"}
	flags := store.NewMemory()
	coord, err := New(Options{Host: host, Flags: flags, Bus: bus})
	require.NoError(t, err)

	return &harness{coord: coord, host: host, flags: flags, bus: bus, page: page}
}

func TestEnsureInstallsInOrderThenStarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.coord.EnsureCapabilityAndStart(ctx))
	assert.Equal(t, []string{"selection.js", "rasterize.js", "selection.css"}, h.host.installed)

	injected, err := h.flags.Get(ctx, store.KeyCodeInjected)
	require.NoError(t, err)
	assert.True(t, injected)

	env, err := router.WaitForMessage(h.page, messages.TypeStartSelection, time.Second)
	require.NoError(t, err)
	assert.Equal(t, messages.AddressBackground, env.From)
}

func TestEnsureInstallsOnceAcrossRepeatedStarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.coord.EnsureCapabilityAndStart(ctx))
	}

	assert.Len(t, h.host.installed, 3, "manifest installed exactly once")
	assert.Equal(t, 5, router.DrainChannel(h.page), "every request still starts a selection")
}

func TestEnsureFailsWithoutActivePage(t *testing.T) {
	h := newHarness(t)
	h.host.pageID = ""

	err := h.coord.EnsureCapabilityAndStart(context.Background())
	assert.ErrorIs(t, err, ErrNoActivePage)

	h.host.pageErr = errors.New("tabs.query failed")
	err = h.coord.EnsureCapabilityAndStart(context.Background())
	assert.ErrorIs(t, err, ErrNoActivePage)
	assert.Empty(t, h.host.installed)
}

func TestEnsureStopsAtFailedInstallStep(t *testing.T) {
	h := newHarness(t)
	h.host.failOn = "rasterize.js"
	ctx := context.Background()

	err := h.coord.EnsureCapabilityAndStart(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rasterize.js")
	assert.Equal(t, []string{"selection.js"}, h.host.installed)

	injected, err := h.flags.Get(ctx, store.KeyCodeInjected)
	require.NoError(t, err)
	assert.False(t, injected, "flag stays false when installation fails")
	assert.Equal(t, 0, router.DrainChannel(h.page))
}

func TestEnsureReportsMissingPageRuntime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.flags.Set(ctx, store.KeyCodeInjected, true))
	h.host.pageID = "reloaded-tab"

	err := h.coord.EnsureCapabilityAndStart(ctx)
	assert.ErrorIs(t, err, router.ErrUnknownAddress)
	assert.Empty(t, h.host.installed)
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		pageID   string
		stored   bool
		attached bool
		want     bool
	}{
		{"stale flag cleared", "tab-1", true, false, false},
		{"live runtime kept", "tab-1", true, true, true},
		{"unset flag untouched", "tab-1", false, false, false},
		{"no active page", "", true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.host.pageID = tt.pageID
			ctx := context.Background()
			require.NoError(t, h.flags.Set(ctx, store.KeyCodeInjected, tt.stored))

			require.NoError(t, h.coord.Reconcile(ctx, func(string) bool { return tt.attached }))

			got, err := h.flags.Get(ctx, store.KeyCodeInjected)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPersistedFlagAcrossProcessRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	for run := 1; run <= 3; run++ {
		flags, err := store.OpenSQLite(ctx, path)
		require.NoError(t, err)
		bus := router.NewRouter(nil)
		host := &runtimeHost{bus: bus, attached: make(map[string]bool)}
		coord, err := New(Options{Host: host, Flags: flags, Bus: bus})
		require.NoError(t, err)

		require.NoError(t, coord.Reconcile(ctx, host.Attached), "run %d", run)
		assert.NoError(t, coord.EnsureCapabilityAndStart(ctx), "run %d", run)
		assert.True(t, host.Attached("desktop"), "run %d installs its own runtime", run)

		bus.Shutdown()
		require.NoError(t, flags.Close())
	}
}

func TestReceiveCapturedImageOverwrites(t *testing.T) {
	h := newHarness(t)

	_, ok := h.coord.LatestImage()
	assert.False(t, ok)

	rep := h.coord.ReceiveCapturedImage("data:image/png;base64,AAAA")
	assert.True(t, rep.Success)
	assert.Equal(t, "data:image/png;base64,AAAA", rep.ImageURI)

	h.coord.ReceiveCapturedImage("data:image/png;base64,BBBB")
	latest, ok := h.coord.LatestImage()
	assert.True(t, ok)
	assert.Equal(t, "data:image/png;base64,BBBB", latest)

	h.coord.ClearImage()
	_, ok = h.coord.LatestImage()
	assert.False(t, ok)
}

func TestServeDispatchesMessages(t *testing.T) {
	h := newHarness(t)
	inbox, err := h.bus.Register(messages.AddressBackground, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.coord.Serve(ctx, inbox)

	rep, err := h.bus.Request(ctx, messages.MessageEnvelope{From: messages.AddressSidePanel, To: messages.AddressBackground, Message: messages.InjectCode{}})
	require.NoError(t, err)
	assert.True(t, rep.Success)

	rep, err = h.bus.Request(ctx, messages.MessageEnvelope{
		From:    messages.ContentAddress("tab-1"),
		To:      messages.AddressBackground,
		Message: messages.ScreenshotCaptured{ImageURI: "data:image/png;base64,AAAA"},
	})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", rep.ImageURI)

	h.host.pageID = ""
	rep, err = h.bus.Request(ctx, messages.MessageEnvelope{To: messages.AddressBackground, Message: messages.InjectCode{}})
	require.NoError(t, err)
	assert.False(t, rep.Success)
	assert.Contains(t, rep.Error, "no active page context")
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Host: &fakeHost{}})
	assert.Error(t, err)
	_, err = New(Options{Host: &fakeHost{}, Flags: store.NewMemory()})
	assert.Error(t, err)
}
