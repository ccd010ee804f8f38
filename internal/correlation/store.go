package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/gateway/internal/config"
	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/pkg/message"
)

// Wait timing. A round is one second of patience; within it the store first
// listens for a notification, then polls for whatever budget is left.
const (
	DefaultRound          = time.Second
	DefaultReceiveTimeout = 850 * time.Millisecond
	DefaultPollInterval   = time.Second / 256
)

// ErrMalformedReply is returned (wrapped) when a captured reply cannot be
// decoded into an envelope.
var ErrMalformedReply = errors.New("malformed reply")

// Options configures a Store.
type Options struct {
	RequestPrefix  string        // Request marker key prefix
	ResponsePrefix string        // Response record key prefix (also the notify channel)
	RequestTTL     time.Duration // Marker lifetime applied when a reply arrives

	Round          time.Duration
	ReceiveTimeout time.Duration
	PollInterval   time.Duration
}

// OptionsFromConfig takes the key prefixes and marker lifetime from cfg and
// leaves the timing at its defaults.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		RequestPrefix:  cfg.Request.Cache.Prefix,
		ResponsePrefix: cfg.Request.Response.Cache.Prefix,
		RequestTTL:     cfg.RequestTTL(),
	}
}

// Store keeps two records per correlation id: a request marker proving the
// id was submitted, and the serialized reply once a worker answers. Both
// expire independently; expiry is the only cleanup.
//
//	marker present, response absent -> pending
//	response present                -> resolved
//	both absent                     -> unknown or expired
type Store struct {
	backend Backend
	opts    Options
	logger  *logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStore creates a Store over backend. Zero timing options take the
// package defaults.
func NewStore(backend Backend, opts Options, logger *logging.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if opts.RequestPrefix == "" || opts.ResponsePrefix == "" {
		return nil, fmt.Errorf("request and response prefixes cannot be empty")
	}
	if opts.RequestPrefix == opts.ResponsePrefix {
		return nil, fmt.Errorf("request and response prefixes must differ")
	}
	if opts.Round <= 0 {
		opts.Round = DefaultRound
	}
	if opts.ReceiveTimeout <= 0 || opts.ReceiveTimeout > opts.Round {
		opts.ReceiveTimeout = min(DefaultReceiveTimeout, opts.Round)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Store{
		backend: backend,
		opts:    opts,
		logger:  logger.Component("correlation"),
		now:     time.Now,
		sleep:   sleepContext,
	}, nil
}

// RequestKey returns the marker key for a correlation id.
func (s *Store) RequestKey(correlationID string) string {
	return s.opts.RequestPrefix + correlationID
}

// ResponseKey returns the response record key for a correlation id. The
// notification channel shares this name.
func (s *Store) ResponseKey(correlationID string) string {
	return s.opts.ResponsePrefix + correlationID
}

// MarkPending sets the request marker. Calling it again only refreshes
// the expiry.
func (s *Store) MarkPending(ctx context.Context, correlationID string, ttl time.Duration) error {
	if err := s.backend.SetEx(ctx, s.RequestKey(correlationID), "", ttl); err != nil {
		return fmt.Errorf("failed to mark %s pending: %w", correlationID, err)
	}
	return nil
}

// IsPending reports whether the request marker exists.
func (s *Store) IsPending(ctx context.Context, correlationID string) (bool, error) {
	return s.backend.Exists(ctx, s.RequestKey(correlationID))
}

// PublishReply stores a serialized reply and notifies waiters. The marker
// is refreshed first and the record written before the notification, so a
// waiter that misses the notification can still find the record by polling.
func (s *Store) PublishReply(ctx context.Context, correlationID, reply string, ttl time.Duration) error {
	markerTTL := s.opts.RequestTTL
	if markerTTL <= 0 {
		markerTTL = ttl
	}

	if err := s.backend.SetEx(ctx, s.RequestKey(correlationID), "", markerTTL); err != nil {
		return fmt.Errorf("failed to refresh marker for %s: %w", correlationID, err)
	}

	key := s.ResponseKey(correlationID)
	if err := s.backend.SetEx(ctx, key, reply, ttl); err != nil {
		return fmt.Errorf("failed to store reply for %s: %w", correlationID, err)
	}

	if err := s.backend.Publish(ctx, key, reply); err != nil {
		return fmt.Errorf("failed to notify reply for %s: %w", correlationID, err)
	}

	return nil
}

// TTLOf returns the remaining lifetime of the response record, or
// ErrNotFound if there is none.
func (s *Store) TTLOf(ctx context.Context, correlationID string) (time.Duration, error) {
	return s.backend.TTL(ctx, s.ResponseKey(correlationID))
}

// Snapshot is the stored state of one correlation id at a point in time.
type Snapshot struct {
	Pending   bool          // Request marker present
	MarkerTTL time.Duration // Remaining marker lifetime, zero if absent or unbounded
	HasReply  bool
	Reply     string        // Serialized reply
	ReplyTTL  time.Duration // Remaining reply lifetime
}

// Lookup reads both records for correlationID without waiting.
func (s *Store) Lookup(ctx context.Context, correlationID string) (Snapshot, error) {
	var snap Snapshot

	ttl, err := s.backend.TTL(ctx, s.RequestKey(correlationID))
	switch {
	case err == nil:
		snap.Pending = true
		snap.MarkerTTL = ttl
	case !IsNotFound(err):
		return Snapshot{}, err
	}

	reply, err := s.backend.Get(ctx, s.ResponseKey(correlationID))
	switch {
	case err == nil:
		snap.HasReply = true
		snap.Reply = reply
	case !IsNotFound(err):
		return Snapshot{}, err
	}

	if snap.HasReply {
		if snap.ReplyTTL, err = s.TTLOf(ctx, correlationID); err != nil && !IsNotFound(err) {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// WaitForReply waits up to timeout for the reply to correlationID and
// returns it decoded. It returns ErrNotFound when the id is unknown or
// nothing arrived in time, and ErrMalformedReply when the captured payload
// does not decode.
//
// A stored reply is returned without waiting. Otherwise the wait runs in
// rounds. Each round subscribes with a short read timeout;
// if no notification arrives (silence or a broken subscription) the rest of
// the round is spent polling the response record at fine granularity. The
// total wait stays close to timeout however the pub/sub transport behaves.
func (s *Store) WaitForReply(ctx context.Context, correlationID string, timeout time.Duration) (message.Envelope, error) {
	log := s.logger.WithField("correlation_id", correlationID)

	pending, err := s.IsPending(ctx, correlationID)
	if err != nil {
		return message.Envelope{}, err
	}
	if !pending {
		// A resolved exchange whose marker already lapsed is still resolved.
		payload, err := s.backend.Get(ctx, s.ResponseKey(correlationID))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return message.Envelope{}, ErrNotFound
			}
			return message.Envelope{}, err
		}
		return decodeReply(payload)
	}

	key := s.ResponseKey(correlationID)
	rounds := int((timeout + s.opts.Round - 1) / s.opts.Round)

	// One look before subscribing answers an already-resolved exchange at once.
	payload, err := s.poll(ctx, key, s.now())
	if err != nil {
		return message.Envelope{}, err
	}
	for round := 0; round < rounds && payload == ""; round++ {
		roundEnd := s.now().Add(s.opts.Round)

		d := s.backend.Receive(ctx, key, s.opts.ReceiveTimeout)
		if d.Status == Notified && d.Payload != "" {
			payload = d.Payload
			break
		}
		if err := ctx.Err(); err != nil {
			return message.Envelope{}, err
		}
		if d.Status == Unavailable {
			log.Debugw("Subscribe unavailable, polling", "round", round, "error", d.Err)
		}

		payload, err = s.poll(ctx, key, roundEnd)
		if err != nil {
			return message.Envelope{}, err
		}
	}

	if payload == "" {
		return message.Envelope{}, ErrNotFound
	}
	return decodeReply(payload)
}

// poll checks the response record every PollInterval until deadline. It
// always checks at least once. Backend errors count as "not yet".
func (s *Store) poll(ctx context.Context, key string, deadline time.Time) (string, error) {
	for {
		exists, err := s.backend.Exists(ctx, key)
		if err == nil && exists {
			v, err := s.backend.Get(ctx, key)
			if err == nil && v != "" {
				return v, nil
			}
		}

		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			return "", nil
		}
		if err := s.sleep(ctx, min(s.opts.PollInterval, remaining)); err != nil {
			return "", err
		}
	}
}

func decodeReply(payload string) (message.Envelope, error) {
	env, err := message.Decode([]byte(payload))
	if err != nil {
		return message.Envelope{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return env, nil
}

// IsNotFound returns true if err means "no such correlation or no reply".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
