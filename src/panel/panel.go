// Package panel is the side-panel context: it triggers captures, shows the
// captured image and renders the relayed analysis.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"snapsight/src/messages"
	"snapsight/src/router"
	"snapsight/src/store"
)

const (
	// PlaceholderImage is shown before any capture and after Reset.
	PlaceholderImage = "https://dummyimage.com/1080x720"
	// FailureMessage replaces the result whenever the relay call fails.
	FailureMessage = "An error occurred while analyzing the image."
)

var ErrNothingCaptured = errors.New("no captured image to analyze")

// Relay analyzes an image data URI.
type Relay interface {
	Analyze(ctx context.Context, imageURI string) (string, error)
}

// Result is reported after every analysis attempt.
type Result struct {
	ImageURI string
	HTML     string
	Err      error
}

type Options struct {
	Bus     *router.Router
	Flags   store.Flags
	Relay   Relay
	Display Display
	Logger  *zap.Logger
	// OnResult, if set, is called after each analysis attempt.
	OnResult func(Result)
}

type Panel struct {
	bus      *router.Router
	flags    store.Flags
	relay    Relay
	display  Display
	policy   *bluemonday.Policy
	onResult func(Result)
	logger   *zap.Logger

	mu    sync.Mutex
	bound string
}

func New(opts Options) (*Panel, error) {
	if opts.Bus == nil || opts.Flags == nil || opts.Relay == nil {
		return nil, errors.New("panel: Bus, Flags and Relay are required")
	}
	display := opts.Display
	if display == nil {
		display = NewMemoryDisplay()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Panel{
		bus:      opts.Bus,
		flags:    opts.Flags,
		relay:    opts.Relay,
		display:  display,
		policy:   bluemonday.UGCPolicy(),
		onResult: opts.OnResult,
		logger:   logger.With(zap.String("component", "panel")),
	}, nil
}

// TakeScreenshot asks the background to start a capture. The injection flag
// is flipped on every call, whatever the reply.
func (p *Panel) TakeScreenshot(ctx context.Context) error {
	prev, err := p.flags.Get(ctx, store.KeyCodeInjected)
	if err != nil {
		p.logger.Warn("read injection flag", zap.Error(err))
		prev = false
	}

	rep, reqErr := p.bus.Request(ctx, messages.MessageEnvelope{
		From:    messages.AddressSidePanel,
		To:      messages.AddressBackground,
		Message: messages.InjectCode{},
	})

	if err := p.flags.Set(ctx, store.KeyCodeInjected, !prev); err != nil {
		p.logger.Error("write injection flag", zap.Error(err))
	}

	if reqErr != nil {
		return fmt.Errorf("request capture: %w", reqErr)
	}
	if !rep.Success {
		return fmt.Errorf("request capture: %s", rep.Error)
	}
	return nil
}

// OnScreenshotCaptured shows the image, binds retry to it and analyzes it.
func (p *Panel) OnScreenshotCaptured(ctx context.Context, uri string) error {
	if err := p.display.ShowImage(uri); err != nil {
		p.logger.Warn("show image", zap.Error(err))
	}
	p.mu.Lock()
	p.bound = uri
	p.mu.Unlock()

	_, err := p.Analyze(ctx, uri)
	return err
}

// Analyze relays uri and renders the sanitized analysis or the failure text.
func (p *Panel) Analyze(ctx context.Context, uri string) (string, error) {
	text, err := p.relay.Analyze(ctx, uri)
	if err != nil {
		p.logger.Error("analyze image", zap.Error(err))
		if derr := p.display.ShowError(FailureMessage); derr != nil {
			p.logger.Warn("show error", zap.Error(derr))
		}
		p.report(Result{ImageURI: uri, Err: err})
		return "", err
	}

	clean := p.policy.Sanitize(text)
	if derr := p.display.ShowAnalysis(clean); derr != nil {
		p.logger.Warn("show analysis", zap.Error(derr))
	}
	p.report(Result{ImageURI: uri, HTML: clean})
	return clean, nil
}

// Retry analyzes the last captured image again.
func (p *Panel) Retry(ctx context.Context) (string, error) {
	p.mu.Lock()
	uri := p.bound
	p.mu.Unlock()
	if uri == "" {
		return "", ErrNothingCaptured
	}
	return p.Analyze(ctx, uri)
}

// Reset restores the placeholder, clears the result and the injection flag.
// The retry binding is kept.
func (p *Panel) Reset(ctx context.Context) error {
	return multierr.Combine(
		p.display.ShowImage(PlaceholderImage),
		p.display.ClearResult(),
		p.flags.Set(ctx, store.KeyCodeInjected, false),
	)
}

// Run is the side-panel dispatch loop.
func (p *Panel) Run(ctx context.Context, inbox <-chan messages.MessageEnvelope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-inbox:
			if !ok {
				return nil
			}
			switch m := env.Message.(type) {
			case messages.ScreenshotCaptured:
				if m.ImageURI == "" {
					p.logger.Error("no image URI received")
					env.Respond(messages.Fail(ErrNothingCaptured))
					continue
				}
				err := p.OnScreenshotCaptured(ctx, m.ImageURI)
				if err != nil {
					env.Respond(messages.Fail(err))
					continue
				}
				env.Respond(messages.OK())
			default:
				p.logger.Warn("unknown message type", zap.String("type", env.Message.Type()))
				env.Respond(messages.Fail(errors.New("unknown message type")))
			}
		}
	}
}

func (p *Panel) report(r Result) {
	if p.onResult != nil {
		p.onResult(r)
	}
}
