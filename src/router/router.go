package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"snapsight/src/messages"
)

var (
	ErrUnknownAddress = errors.New("address not registered")
	ErrShuttingDown   = errors.New("router is shutting down")
)

const sendTimeout = 5 * time.Second

// ChannelInfo holds information about one context inbox
type ChannelInfo struct {
	Channel chan messages.MessageEnvelope
	Address string
	Active  bool
}

// Router carries typed messages between the background, page and side-panel
// contexts. Each context owns one buffered inbox.
type Router struct {
	channels    map[string]*ChannelInfo
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	logMessages bool
}

// NewRouter creates a new message router
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		channels:    make(map[string]*ChannelInfo),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With(zap.String("component", "router")),
		logMessages: true,
	}
}

// Register creates the inbox for a context address
func (r *Router) Register(address string, bufferSize int) (<-chan messages.MessageEnvelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[address]; exists {
		return nil, fmt.Errorf("address %s already registered", address)
	}

	ch := make(chan messages.MessageEnvelope, bufferSize)
	r.channels[address] = &ChannelInfo{
		Channel: ch,
		Address: address,
		Active:  true,
	}

	r.logger.Debug("registered context", zap.String("address", address), zap.Int("buffer", bufferSize))
	return ch, nil
}

// Unregister removes a context and closes its inbox
func (r *Router) Unregister(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, exists := r.channels[address]; exists {
		info.Active = false
		close(info.Channel)
		delete(r.channels, address)
		r.logger.Debug("unregistered context", zap.String("address", address))
	}
}

// IsRegistered reports whether an address currently has an inbox.
func (r *Router) IsRegistered(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.channels[address]
	return ok && info.Active
}

// Send delivers a message to one address, or to every other address when To is "*".
func (r *Router) Send(envelope messages.MessageEnvelope) error {
	if envelope.Message == nil {
		return errors.New("envelope has no message")
	}
	if envelope.ID == "" {
		envelope.ID = uuid.NewString()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.logMessages {
		r.logger.Debug("route",
			zap.String("id", envelope.ID),
			zap.String("from", envelope.From),
			zap.String("to", envelope.To),
			zap.String("type", envelope.Message.Type()),
		)
	}

	if envelope.To == messages.AddressBroadcast {
		return r.broadcastMessage(envelope)
	}

	info, exists := r.channels[envelope.To]
	if !exists || !info.Active {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, envelope.To)
	}

	select {
	case info.Channel <- envelope:
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timeout sending message to %s", envelope.To)
	case <-r.ctx.Done():
		return ErrShuttingDown
	}
}

// Request sends a message and waits for the receiver to Respond.
func (r *Router) Request(ctx context.Context, envelope messages.MessageEnvelope) (messages.Reply, error) {
	if envelope.To == messages.AddressBroadcast {
		return messages.Reply{}, errors.New("cannot request a reply from a broadcast")
	}
	reply := make(chan messages.Reply, 1)
	if err := r.Send(envelope.WithReply(reply)); err != nil {
		return messages.Reply{}, err
	}

	select {
	case rep := <-reply:
		return rep, nil
	case <-ctx.Done():
		return messages.Reply{}, ctx.Err()
	case <-r.ctx.Done():
		return messages.Reply{}, ErrShuttingDown
	}
}

// Broadcast sends a message to all registered contexts except the sender
func (r *Router) Broadcast(envelope messages.MessageEnvelope) error {
	envelope.To = messages.AddressBroadcast
	return r.Send(envelope)
}

// broadcastMessage sends to all active contexts (caller holds the read lock)
func (r *Router) broadcastMessage(envelope messages.MessageEnvelope) error {
	var failed []string

	for address, info := range r.channels {
		if !info.Active || address == envelope.From {
			continue
		}

		envCopy := envelope
		envCopy.To = address

		select {
		case info.Channel <- envCopy:
		case <-time.After(1 * time.Second): // Shorter timeout for broadcast
			failed = append(failed, address)
		case <-r.ctx.Done():
			return ErrShuttingDown
		}
	}

	if len(failed) > 0 {
		r.logger.Warn("broadcast incomplete", zap.Strings("timed_out", failed))
	}

	return nil
}

// ActiveAddresses returns the registered addresses in sorted order
func (r *Router) ActiveAddresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []string
	for address, info := range r.channels {
		if info.Active {
			active = append(active, address)
		}
	}
	sort.Strings(active)
	return active
}

// SetMessageLogging enables or disables per-message debug logging
func (r *Router) SetMessageLogging(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logMessages = enabled
}

// Shutdown closes every inbox; pending senders return ErrShuttingDown
func (r *Router) Shutdown() {
	r.cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	for address, info := range r.channels {
		if info.Active {
			info.Active = false
			close(info.Channel)
			r.logger.Debug("closed inbox", zap.String("address", address))
		}
	}
	r.channels = make(map[string]*ChannelInfo)
}

// WaitForMessage waits for a specific message type from a channel with timeout
func WaitForMessage(ch <-chan messages.MessageEnvelope, messageType string, timeout time.Duration) (messages.MessageEnvelope, error) {
	deadline := time.After(timeout)

	for {
		select {
		case envelope, ok := <-ch:
			if !ok {
				return messages.MessageEnvelope{}, fmt.Errorf("channel closed waiting for %s", messageType)
			}
			if envelope.Message.Type() == messageType {
				return envelope, nil
			}
		case <-deadline:
			return messages.MessageEnvelope{}, fmt.Errorf("timeout waiting for message type %s", messageType)
		}
	}
}

// DrainChannel drains all queued messages from a channel
func DrainChannel(ch <-chan messages.MessageEnvelope) int {
	count := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return count
			}
			count++
		default:
			return count
		}
	}
}
