// Package sink receives envelopes from the bus and hands each one to the
// handlers registered for its name.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/pkg/message"
)

// Handler processes one envelope.
type Handler interface {
	Handle(ctx context.Context, env message.Envelope) error
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, env message.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env message.Envelope) error {
	return f(ctx, env)
}

// Registry maps message names to the handlers interested in them.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		handlers: make(map[string][]Handler),
		logger:   logger.Component("sink"),
	}
}

// Register adds h for envelopes named name. Handlers run in registration
// order.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = append(r.handlers[name], h)
}

// Names returns the message names with at least one handler.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch runs every handler registered for env's name. An unnamed
// envelope, or one nobody handles, is ignored. Every handler runs even if
// an earlier one fails; the failures are joined.
func (r *Registry) Dispatch(ctx context.Context, env message.Envelope) error {
	if env.Name() == "" {
		return nil
	}

	r.mu.RLock()
	handlers := r.handlers[env.Name()]
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.logger.Debugw("No handler for message", "name", env.Name(), "correlation_id", env.CorrelationID())
		return nil
	}

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReplyStore is the write side of the correlation store.
type ReplyStore interface {
	PublishReply(ctx context.Context, correlationID, reply string, ttl time.Duration) error
}

// ReplySink writes reply envelopes into the correlation store, which
// arms the notification for any caller waiting on the correlation id.
type ReplySink struct {
	store  ReplyStore
	ttl    time.Duration
	logger *logging.Logger
}

// NewReplySink creates a ReplySink keeping replies for ttl.
func NewReplySink(store ReplyStore, ttl time.Duration, logger *logging.Logger) *ReplySink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ReplySink{store: store, ttl: ttl, logger: logger.Component("reply-sink")}
}

// Handle implements Handler.
func (s *ReplySink) Handle(ctx context.Context, env message.Envelope) error {
	if env.Name() == "" {
		return nil
	}
	if env.CorrelationID() == "" {
		return fmt.Errorf("reply %s has no correlation id", env.MessageID())
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to serialize reply %s: %w", env.MessageID(), err)
	}

	if err := s.store.PublishReply(ctx, env.CorrelationID(), string(data), s.ttl); err != nil {
		return err
	}

	s.logger.Debugw("Stored reply",
		"correlation_id", env.CorrelationID(),
		"message_id", env.MessageID(),
		"ttl", s.ttl)
	return nil
}
