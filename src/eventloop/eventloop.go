package eventloop

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"snapsight/src/geometry"
	"snapsight/src/messages"
	"snapsight/src/router"
	"snapsight/src/selection"
)

// Runtime is the single-threaded loop of one page context. It owns the
// selection machine and is the only goroutine that touches it.
type Runtime struct {
	pageID  string
	address string
	machine *selection.Machine
	bus     *router.Router
	inbox   <-chan messages.MessageEnvelope
	pointer <-chan geometry.PointerEvent
	logger  *zap.Logger
}

func newRuntime(pageID string, machine *selection.Machine, bus *router.Router, inbox <-chan messages.MessageEnvelope, pointer <-chan geometry.PointerEvent, logger *zap.Logger) *Runtime {
	return &Runtime{
		pageID:  pageID,
		address: messages.ContentAddress(pageID),
		machine: machine,
		bus:     bus,
		inbox:   inbox,
		pointer: pointer,
		logger:  logger.With(zap.String("component", "page"), zap.String("page", pageID)),
	}
}

// Run processes bus commands and pointer events until ctx ends or the inbox
// is closed.
func (r *Runtime) Run(ctx context.Context) error {
	pointer := r.pointer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-r.inbox:
			if !ok {
				return nil
			}
			r.handleMessage(ctx, env)
		case ev, ok := <-pointer:
			if !ok {
				pointer = nil
				continue
			}
			r.handlePointer(ctx, ev)
		}
	}
}

func (r *Runtime) handleMessage(ctx context.Context, env messages.MessageEnvelope) {
	switch env.Message.(type) {
	case messages.StartSelection:
		outcome, err := r.machine.Start(ctx)
		if err != nil {
			r.logger.Error("start selection failed", zap.Error(err))
			env.Respond(messages.Fail(err))
			return
		}
		r.logger.Info("selection started", zap.Stringer("outcome", outcome))
		env.Respond(messages.OK())
	default:
		r.logger.Warn("unexpected message", zap.String("type", env.Message.Type()))
		env.Respond(messages.Fail(errors.New("unknown message type")))
	}
}

func (r *Runtime) handlePointer(ctx context.Context, ev geometry.PointerEvent) {
	capture, err := r.machine.Handle(ctx, ev)
	if err != nil {
		r.logger.Error("pointer handling failed", zap.Stringer("kind", ev.Kind), zap.Error(err))
		return
	}
	if capture == nil {
		return
	}

	err = r.bus.Broadcast(messages.MessageEnvelope{
		ID:      capture.SessionID,
		From:    r.address,
		Message: messages.ScreenshotCaptured{ImageURI: capture.ImageURI},
	})
	if err != nil {
		r.logger.Error("emit capture failed", zap.Error(err))
		return
	}
	r.logger.Info("capture emitted", zap.String("session", capture.SessionID), zap.Int("uri_bytes", len(capture.ImageURI)))
}
