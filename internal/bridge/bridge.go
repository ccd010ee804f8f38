// Package bridge turns an asynchronous publish and a later reply into a
// call that either blocks for the reply or hands back a correlation id to
// poll with.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dyluth/gateway/internal/config"
	"github.com/dyluth/gateway/internal/correlation"
	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/pkg/message"
	"github.com/google/uuid"
)

// Publisher sends an envelope onto the bus.
type Publisher interface {
	Publish(ctx context.Context, env message.Envelope) error
}

// Store is the part of the correlation store the bridge reads from.
type Store interface {
	MarkPending(ctx context.Context, correlationID string, ttl time.Duration) error
	WaitForReply(ctx context.Context, correlationID string, timeout time.Duration) (message.Envelope, error)
	TTLOf(ctx context.Context, correlationID string) (time.Duration, error)
}

// Options configures a Bridge.
type Options struct {
	RequestName     string
	ResponseName    string
	ResponseEnabled bool          // Submissions wait by default
	DefaultWait     int           // Seconds
	MaxWait         int           // Seconds; 0 = never wait
	RequestTTL      time.Duration // Request marker lifetime

	// Location builds the URL a caller polls for a correlation id.
	Location func(correlationID string) string
}

// OptionsFromConfig derives bridge options from the gateway configuration.
func OptionsFromConfig(cfg config.Config, location func(string) string) Options {
	return Options{
		RequestName:     cfg.Request.Message.Name,
		ResponseName:    cfg.Request.Response.Message.Name,
		ResponseEnabled: cfg.ResponseEnabled(),
		DefaultWait:     cfg.Request.Response.TimeoutSec,
		MaxWait:         cfg.Request.Response.TimeoutMaxSec,
		RequestTTL:      cfg.RequestTTL(),
		Location:        location,
	}
}

// Bridge coordinates the publisher and the correlation store. It holds no
// per-request state and is safe for concurrent use.
type Bridge struct {
	publisher Publisher
	store     Store
	opts      Options
	logger    *logging.Logger
}

// New creates a Bridge.
func New(publisher Publisher, store Store, opts Options, logger *logging.Logger) (*Bridge, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if opts.RequestName == "" || opts.ResponseName == "" {
		return nil, fmt.Errorf("request and response message names are required")
	}
	if opts.Location == nil {
		opts.Location = func(id string) string { return id }
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Bridge{
		publisher: publisher,
		store:     store,
		opts:      opts,
		logger:    logger.Component("bridge"),
	}, nil
}

// Submit publishes content as a new request and, depending on w, waits for
// the reply. Without a reply in time the result is Accepted and the caller
// may poll with Fetch.
func (b *Bridge) Submit(ctx context.Context, content []byte, w Wait) Result {
	req := message.New(b.opts.RequestName, content)
	id := req.CorrelationID()
	log := b.logger.WithFields(map[string]interface{}{
		"correlation_id": id,
		"wait":           w.String(),
	})

	// The marker goes in first so a poll racing the publish sees "pending".
	if err := b.store.MarkPending(ctx, id, b.opts.RequestTTL); err != nil {
		log.Errorw("Failed to mark request pending", "error", err)
		return errorResult(id, err)
	}

	if err := b.publisher.Publish(ctx, req); err != nil {
		log.Errorw("Failed to publish request", "error", err)
		return errorResult(id, err)
	}

	timeout := b.submitWait(w)
	if timeout == 0 {
		log.Debug("Request accepted without waiting")
		return b.respond(ctx, req)
	}

	reply, err := b.store.WaitForReply(ctx, id, timeout)
	switch {
	case correlation.IsNotFound(err):
		log.Debugw("No reply in time", "timeout", timeout)
		return b.respond(ctx, req)
	case err != nil:
		log.Errorw("Failed waiting for reply", "error", err)
		return errorResult(id, err)
	}

	return b.respond(ctx, reply)
}

// Fetch waits for the reply to an earlier submission. Unknown or expired
// ids, and replies that do not arrive in time, yield NotFound.
func (b *Bridge) Fetch(ctx context.Context, correlationID string, w Wait) Result {
	if _, err := uuid.Parse(correlationID); err != nil {
		return Result{Kind: NotFound, Status: http.StatusNotFound}
	}

	timeout := b.fetchWait(w)
	reply, err := b.store.WaitForReply(ctx, correlationID, timeout)
	switch {
	case correlation.IsNotFound(err):
		return Result{Kind: NotFound, Status: http.StatusNotFound, CorrelationID: correlationID}
	case err != nil:
		b.logger.Errorw("Failed fetching reply", "correlation_id", correlationID, "error", err)
		return errorResult(correlationID, err)
	}

	return b.respond(ctx, reply)
}

// respond maps env and attaches the remaining response lifetime.
func (b *Bridge) respond(ctx context.Context, env message.Envelope) Result {
	res := b.mapEnvelope(env)
	if res.Kind == Error {
		return res
	}
	if ttl, err := b.store.TTLOf(ctx, env.CorrelationID()); err == nil && ttl > 0 {
		res.Expires = ttl
	}
	return res
}

// mapEnvelope applies the status mapping:
//
//	request name   -> 202 with a polling location
//	response name  -> 200 with the content, or the worker's {status, content}
//	anything else  -> 204
func (b *Bridge) mapEnvelope(env message.Envelope) Result {
	id := env.CorrelationID()

	switch env.Name() {
	case b.opts.RequestName:
		location := b.opts.Location(id)
		body, err := json.Marshal(acceptedBody{CorrelationID: id, URL: location})
		if err != nil {
			return errorResult(id, err)
		}
		return Result{
			Kind:          Accepted,
			Status:        http.StatusAccepted,
			Body:          body,
			CorrelationID: id,
			Location:      location,
		}

	case b.opts.ResponseName:
		status, body, err := unwrapReply(env.Content())
		if err != nil {
			return errorResult(id, err)
		}
		return Result{Kind: Resolved, Status: status, Body: body, CorrelationID: id}
	}

	return Result{Kind: Resolved, Status: http.StatusNoContent, CorrelationID: id}
}

type acceptedBody struct {
	CorrelationID string `json:"correlation_id"`
	URL           string `json:"url"`
}

// ErrMalformedContent is returned (wrapped) when reply content is not JSON.
var ErrMalformedContent = errors.New("malformed reply content")

// unwrapReply decodes a reply's content. An object carrying both status and
// content is a worker-declared response; anything else is a plain 200 body.
// An unusable status degrades to 422 with no body.
func unwrapReply(content []byte) (int, []byte, error) {
	if !json.Valid(content) {
		return 0, nil, fmt.Errorf("%w: %q", ErrMalformedContent, truncate(content, 64))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(content, &fields); err != nil {
		return http.StatusOK, content, nil
	}

	rawStatus, hasStatus := fields["status"]
	rawContent, hasContent := fields["content"]
	if !hasStatus || !hasContent {
		return http.StatusOK, content, nil
	}

	status, ok := parseStatus(rawStatus)
	if !ok {
		return http.StatusUnprocessableEntity, nil, nil
	}
	return status, rawContent, nil
}

// parseStatus accepts a JSON integer, or a string holding one, in the HTTP
// status range.
func parseStatus(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		n = json.Number(s)
	}
	v, err := n.Int64()
	if err != nil || v < 100 || v > 599 {
		return 0, false
	}
	return int(v), true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
