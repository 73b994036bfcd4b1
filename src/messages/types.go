package messages

import "strings"

// Message is the closed set of commands and events exchanged between the
// background, page and side-panel contexts. The unexported method seals it.
type Message interface {
	Type() string
	isMessage()
}

// MessageType constants for type identification
const (
	TypeInjectCode         = "injectCode"
	TypeStartSelection     = "startSelection"
	TypeScreenshotCaptured = "screenshotCaptured"
)

// InjectCode - sent by the side panel to ask the background to make the
// capture capability available in the active page and start a selection
type InjectCode struct{}

func (InjectCode) Type() string { return TypeInjectCode }
func (InjectCode) isMessage() {}

// StartSelection - sent by the background to a page context to arm a selection
type StartSelection struct{}

func (StartSelection) Type() string { return TypeStartSelection }
func (StartSelection) isMessage() {}

// ScreenshotCaptured - broadcast by a page context when a region has been rasterized
type ScreenshotCaptured struct {
	ImageURI string
}

func (ScreenshotCaptured) Type() string { return TypeScreenshotCaptured }
func (ScreenshotCaptured) isMessage() {}

// Reply is the acknowledgment shape shared by every request.
type Reply struct {
	Success  bool
	Error    string
	ImageURI string
}

func OK() Reply { return Reply{Success: true} }

func Fail(err error) Reply {
	if err == nil {
		return Reply{Success: false, Error: "unknown error"}
	}
	return Reply{Success: false, Error: err.Error()}
}

// MessageEnvelope wraps messages with metadata for routing
type MessageEnvelope struct {
	ID      string  // Correlation id, assigned by the router when empty
	From    string  // Source context address
	To      string  // Destination context address ("*" for broadcast)
	Message Message // The actual message

	reply chan Reply
}

// WithReply returns a copy of the envelope that expects an answer on ch.
func (e MessageEnvelope) WithReply(ch chan Reply) MessageEnvelope {
	e.reply = ch
	return e
}

// ExpectsReply reports whether the sender is waiting for Respond.
func (e MessageEnvelope) ExpectsReply() bool { return e.reply != nil }

// Respond delivers r to the waiting sender. Fire-and-forget envelopes ignore it.
func (e MessageEnvelope) Respond(r Reply) {
	if e.reply == nil {
		return
	}
	select {
	case e.reply <- r:
	default:
	}
}

// Context addresses
const (
	AddressBackground = "background"
	AddressSidePanel  = "sidepanel"
	AddressBroadcast  = "*"

	contentPrefix = "content:"
)

// ContentAddress names the bus address of one page context.
func ContentAddress(pageID string) string { return contentPrefix + pageID }

// PageIDFromAddress is the inverse of ContentAddress.
func PageIDFromAddress(addr string) (string, bool) {
	if !strings.HasPrefix(addr, contentPrefix) {
		return "", false
	}
	return strings.TrimPrefix(addr, contentPrefix), true
}
