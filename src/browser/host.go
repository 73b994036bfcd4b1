// Package browser hosts page contexts in a Chrome instance driven over the
// DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"snapsight/src/assets"
	"snapsight/src/eventloop"
	"snapsight/src/geometry"
)

// pointerBinding is the page function selection.js reports pointer events to.
const pointerBinding = "__snapsightPointer"

const pointerBuffer = 256

type Config struct {
	// ControlURL is the DevTools WebSocket of a running Chrome.
	// Empty launches a local one.
	ControlURL string
	Headless   bool
	Registry   *eventloop.Registry
	Logger     *zap.Logger
}

// Host implements coordinator.PageHost on top of rod.
type Host struct {
	browser  *rod.Browser
	lnch     *launcher.Launcher
	registry *eventloop.Registry
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active string
	// pointers holds the single binding subscription of each page.
	pointers map[string]<-chan geometry.PointerEvent
}

// Connect attaches to (or launches) Chrome.
func Connect(ctx context.Context, cfg Config) (*Host, error) {
	if cfg.Registry == nil {
		return nil, errors.New("browser: Registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "browser"))

	h := &Host{registry: cfg.Registry, logger: logger, pointers: make(map[string]<-chan geometry.PointerEvent)}

	wsURL := cfg.ControlURL
	if wsURL == "" {
		l := launcher.New().Context(ctx).Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		h.lnch = l
		logger.Info("launched local chrome", zap.String("url", wsURL))
	} else {
		logger.Info("connecting to remote chrome", zap.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		h.cleanup()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	h.browser = b
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h, nil
}

// Open creates a page at url, waits for it to load and makes it active.
func (h *Host) Open(ctx context.Context, url string) (string, error) {
	page, err := h.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("browser: open %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("browser: load %s: %w", url, err)
	}
	id := string(page.TargetID)
	h.mu.Lock()
	h.active = id
	h.mu.Unlock()
	return id, nil
}

// ActivePage returns the page opened last, or the first page Chrome reports.
func (h *Host) ActivePage(ctx context.Context) (string, error) {
	h.mu.Lock()
	active := h.active
	h.mu.Unlock()
	if active != "" {
		return active, nil
	}

	pages, err := h.browser.Context(ctx).Pages()
	if err != nil {
		return "", fmt.Errorf("browser: list pages: %w", err)
	}
	if len(pages) == 0 {
		return "", nil
	}
	return string(pages.First().TargetID), nil
}

// Install injects one asset. The selection script also gets a pointer
// binding and a page runtime.
func (h *Host) Install(ctx context.Context, pageID string, a assets.Asset) error {
	page, err := h.browser.PageFromTarget(proto.TargetTargetID(pageID))
	if err != nil {
		return fmt.Errorf("browser: page %s: %w", pageID, err)
	}

	switch {
	case a.Kind == assets.Stylesheet:
		return page.Context(ctx).AddStyleTag("", a.Content)
	case a.Role == assets.RoleSelection:
		pointer, err := h.pointerFor(pageID, func() (<-chan geometry.PointerEvent, error) {
			return h.bindPointer(page)
		})
		if err != nil {
			return err
		}
		if err := page.Context(ctx).AddScriptTag("", a.Content); err != nil {
			return fmt.Errorf("browser: inject %s: %w", a.Name, err)
		}
		outcome, err := h.registry.Attach(ctx, pageID, &surface{page: page}, &rasterizer{page: page}, pointer)
		if err != nil {
			return err
		}
		h.logger.Debug("selection runtime", zap.String("page", pageID), zap.Stringer("outcome", outcome))
		return nil
	default:
		return page.Context(ctx).AddScriptTag("", a.Content)
	}
}

// pointerFor returns the page's pointer channel, binding it on first use.
// Reinstalling into a page reuses the existing subscription.
func (h *Host) pointerFor(pageID string, bind func() (<-chan geometry.PointerEvent, error)) (<-chan geometry.PointerEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.pointers[pageID]; ok {
		return ch, nil
	}
	ch, err := bind()
	if err != nil {
		return nil, err
	}
	h.pointers[pageID] = ch
	return ch, nil
}

func (h *Host) bindPointer(page *rod.Page) (<-chan geometry.PointerEvent, error) {
	if err := (proto.RuntimeAddBinding{Name: pointerBinding}).Call(page); err != nil {
		return nil, fmt.Errorf("browser: add binding: %w", err)
	}

	out := make(chan geometry.PointerEvent, pointerBuffer)
	wait := page.Context(h.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != pointerBinding {
			return
		}
		ev, err := parsePointer(e.Payload)
		if err != nil {
			h.logger.Warn("bad pointer payload", zap.Error(err))
			return
		}
		select {
		case out <- ev:
		default:
			h.logger.Warn("pointer buffer full, event dropped", zap.Stringer("kind", ev.Kind))
		}
	})
	go wait()
	return out, nil
}

// Close stops event listeners and the browser, if this host launched it.
func (h *Host) Close() error {
	if h.cancel != nil {
		h.cancel()
	}
	return h.cleanup()
}

func (h *Host) cleanup() error {
	var err error
	if h.lnch != nil {
		if h.browser != nil {
			err = h.browser.Close()
		}
		h.lnch.Cleanup()
	}
	return err
}
