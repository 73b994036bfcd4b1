// Package coordinator is the background context: it installs the capture
// capability into the active page once and keeps the latest captured image.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"snapsight/src/assets"
	"snapsight/src/messages"
	"snapsight/src/router"
	"snapsight/src/store"
)

var ErrNoActivePage = errors.New("no active page context")

// PageHost resolves page contexts and installs assets into them.
type PageHost interface {
	ActivePage(ctx context.Context) (string, error)
	Install(ctx context.Context, pageID string, asset assets.Asset) error
}

// ImageSlot holds the most recently captured image. It lives as long as the
// coordinator; every capture overwrites it and Clear empties it.
type ImageSlot struct {
	mu  sync.Mutex
	uri string
}

func (s *ImageSlot) Store(uri string) {
	s.mu.Lock()
	s.uri = uri
	s.mu.Unlock()
}

func (s *ImageSlot) Latest() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri, s.uri != ""
}

func (s *ImageSlot) Clear() { s.Store("") }

type Options struct {
	Host   PageHost
	Flags  store.Flags
	Bus    *router.Router
	Logger *zap.Logger
	// Assets overrides the install manifest; nil means assets.Manifest().
	Assets []assets.Asset
}

type Coordinator struct {
	host   PageHost
	flags  store.Flags
	bus    *router.Router
	assets []assets.Asset
	images ImageSlot
	logger *zap.Logger
}

func New(opts Options) (*Coordinator, error) {
	if opts.Host == nil {
		return nil, errors.New("Host is required")
	}
	if opts.Flags == nil {
		return nil, errors.New("Flags is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("Bus is required")
	}
	manifest := opts.Assets
	if manifest == nil {
		var err error
		if manifest, err = assets.Manifest(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		host:   opts.Host,
		flags:  opts.Flags,
		bus:    opts.Bus,
		assets: manifest,
		logger: logger.With(zap.String("component", "coordinator")),
	}, nil
}

// EnsureCapabilityAndStart installs the capture capability into the active
// page unless the injection flag says it is already there, then tells that
// page to start a selection. Nothing is retried.
func (c *Coordinator) EnsureCapabilityAndStart(ctx context.Context) error {
	pageID, err := c.host.ActivePage(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoActivePage, err)
	}
	if pageID == "" {
		return ErrNoActivePage
	}

	injected, err := c.flags.Get(ctx, store.KeyCodeInjected)
	if err != nil {
		// unreadable state counts as not installed
		c.logger.Warn("read injection flag", zap.Error(err))
		injected = false
	}

	if !injected {
		for _, a := range c.assets {
			if err := c.host.Install(ctx, pageID, a); err != nil {
				return fmt.Errorf("install %s: %w", a.Name, err)
			}
			c.logger.Info("asset installed", zap.String("page", pageID), zap.String("asset", a.Name))
		}
		if err := c.flags.Set(ctx, store.KeyCodeInjected, true); err != nil {
			c.logger.Error("set injection flag", zap.Error(err))
		}
	}

	err = c.bus.Send(messages.MessageEnvelope{
		From:    messages.AddressBackground,
		To:      messages.ContentAddress(pageID),
		Message: messages.StartSelection{},
	})
	if err != nil {
		return fmt.Errorf("start selection in %s: %w", pageID, err)
	}
	return nil
}

// Reconcile clears a stale injection flag. A flag persisted by an earlier
// process says installed, but page runtimes die with that process; attached
// reports whether the active page runs one now. Without an active page there
// is nothing to reconcile.
func (c *Coordinator) Reconcile(ctx context.Context, attached func(pageID string) bool) error {
	pageID, err := c.host.ActivePage(ctx)
	if err != nil || pageID == "" {
		c.logger.Debug("reconcile skipped, no active page", zap.Error(err))
		return nil
	}
	injected, err := c.flags.Get(ctx, store.KeyCodeInjected)
	if err != nil {
		return fmt.Errorf("read injection flag: %w", err)
	}
	if !injected || attached(pageID) {
		return nil
	}
	c.logger.Info("clearing stale injection flag", zap.String("page", pageID))
	if err := c.flags.Set(ctx, store.KeyCodeInjected, false); err != nil {
		return fmt.Errorf("clear injection flag: %w", err)
	}
	return nil
}

// ReceiveCapturedImage stores the image and echoes it back.
func (c *Coordinator) ReceiveCapturedImage(uri string) messages.Reply {
	c.images.Store(uri)
	return messages.Reply{Success: true, ImageURI: uri}
}

// LatestImage returns the last image received, if any.
func (c *Coordinator) LatestImage() (string, bool) { return c.images.Latest() }

// ClearImage empties the image slot.
func (c *Coordinator) ClearImage() { c.images.Clear() }

// Serve is the background dispatch loop.
func (c *Coordinator) Serve(ctx context.Context, inbox <-chan messages.MessageEnvelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			env.Respond(c.dispatch(ctx, env))
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, env messages.MessageEnvelope) messages.Reply {
	switch m := env.Message.(type) {
	case messages.InjectCode:
		if err := c.EnsureCapabilityAndStart(ctx); err != nil {
			c.logger.Error("inject code failed", zap.Error(err))
			return messages.Fail(err)
		}
		return messages.OK()
	case messages.ScreenshotCaptured:
		if page, ok := messages.PageIDFromAddress(env.From); ok {
			c.logger.Debug("screenshot captured", zap.String("page", page))
		}
		return c.ReceiveCapturedImage(m.ImageURI)
	default:
		c.logger.Warn("unknown message type", zap.String("type", env.Message.Type()))
		return messages.Fail(errors.New("unknown message type"))
	}
}
