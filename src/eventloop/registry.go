package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"snapsight/src/geometry"
	"snapsight/src/messages"
	"snapsight/src/router"
	"snapsight/src/selection"
)

// InstallOutcome reports whether Attach started a page runtime.
type InstallOutcome int

const (
	Installed InstallOutcome = iota + 1
	AlreadyInstalled
)

func (o InstallOutcome) String() string {
	switch o {
	case Installed:
		return "installed"
	case AlreadyInstalled:
		return "already-installed"
	default:
		return "unknown"
	}
}

const inboxSize = 4

type attached struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks which page contexts already run a selection runtime.
type Registry struct {
	bus    *router.Router
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	pages map[string]*attached
}

func NewRegistry(bus *router.Router, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		bus:    bus,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		pages:  make(map[string]*attached),
	}
}

// Attach starts the selection runtime for pageID unless one is already
// running there. The runtime outlives ctx; it ends on Detach or Close.
func (g *Registry) Attach(ctx context.Context, pageID string, surface selection.Surface, raster selection.Rasterizer, pointer <-chan geometry.PointerEvent) (InstallOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx.Err() != nil {
		return 0, errors.New("registry is closed")
	}
	if _, ok := g.pages[pageID]; ok {
		return AlreadyInstalled, nil
	}

	inbox, err := g.bus.Register(messages.ContentAddress(pageID), inboxSize)
	if err != nil {
		return 0, fmt.Errorf("register page %s: %w", pageID, err)
	}

	runCtx, cancel := context.WithCancel(g.ctx)
	a := &attached{cancel: cancel, done: make(chan struct{})}
	g.pages[pageID] = a

	rt := newRuntime(pageID, selection.New(surface, raster, g.logger), g.bus, inbox, pointer, g.logger)
	go func() {
		defer close(a.done)
		err := rt.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			g.logger.Error("page runtime stopped", zap.String("page", pageID), zap.Error(err))
		}
		g.forget(pageID, a)
	}()

	g.logger.Info("page runtime attached", zap.String("page", pageID))
	return Installed, nil
}

func (g *Registry) forget(pageID string, a *attached) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.pages[pageID]; ok && cur == a {
		delete(g.pages, pageID)
		g.bus.Unregister(messages.ContentAddress(pageID))
	}
}

// Attached reports whether pageID currently runs a selection runtime.
func (g *Registry) Attached(pageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pages[pageID]
	return ok
}

// Detach stops the runtime of a page that was closed or replaced.
func (g *Registry) Detach(pageID string) {
	g.mu.Lock()
	a, ok := g.pages[pageID]
	g.mu.Unlock()
	if !ok {
		return
	}
	a.cancel()
	<-a.done
}

// Close stops every runtime and waits for them to exit.
func (g *Registry) Close() {
	g.cancel()

	g.mu.Lock()
	var pending []*attached
	for _, a := range g.pages {
		pending = append(pending, a)
	}
	g.mu.Unlock()

	for _, a := range pending {
		<-a.done
	}
}
