package desktop

import (
	"context"
	"sync/atomic"

	gohook "github.com/robotn/gohook"
	"go.uber.org/zap"

	"snapsight/src/geometry"
)

const leftButton = 1

// translate maps a global hook event onto a pointer event. gohook reports a
// press as MouseHold and a completed click as MouseDown, so the latter is
// ignored.
func translate(ev gohook.Event) (geometry.PointerEvent, bool) {
	var kind geometry.PointerKind
	switch ev.Kind {
	case gohook.MouseHold:
		if ev.Button != leftButton {
			return geometry.PointerEvent{}, false
		}
		kind = geometry.PointerDown
	case gohook.MouseUp:
		if ev.Button != leftButton {
			return geometry.PointerEvent{}, false
		}
		kind = geometry.PointerUp
	case gohook.MouseMove, gohook.MouseDrag:
		kind = geometry.PointerMove
	default:
		return geometry.PointerEvent{}, false
	}
	return geometry.PointerEvent{Kind: kind, ClientX: float64(ev.X), ClientY: float64(ev.Y)}, true
}

type hookFuncs struct {
	start func() chan gohook.Event
	end   func()
}

var systemHook = hookFuncs{start: gohook.Start, end: gohook.End}

// pointerSource forwards hook events while listening is set.
type pointerSource struct {
	hook      hookFuncs
	listening atomic.Bool
	logger    *zap.Logger
}

func (p *pointerSource) run(ctx context.Context) <-chan geometry.PointerEvent {
	out := make(chan geometry.PointerEvent, 256)
	evChan := p.hook.start()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("panic in pointer hook", zap.Any("panic", r))
			}
		}()
		defer p.hook.end()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-evChan:
				if !ok {
					return
				}
				if !p.listening.Load() {
					continue
				}
				pe, ok := translate(ev)
				if !ok {
					continue
				}
				if pe.Kind == geometry.PointerMove {
					select {
					case out <- pe:
					default:
					}
					continue
				}
				select {
				case out <- pe:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
