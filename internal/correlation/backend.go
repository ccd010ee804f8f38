package correlation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or a reply does not exist.
var ErrNotFound = errors.New("not found")

// Backend is the key/value + pub/sub surface the correlation store needs.
// Implementations must be safe for concurrent use; the backend is the only
// state shared between gateway instances.
type Backend interface {
	// SetEx sets key to value with an expiry.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the value of key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// TTL returns the remaining lifetime of key, or ErrNotFound. A key
	// without expiry reports zero.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Publish sends payload to every current subscriber of channel.
	Publish(ctx context.Context, channel, payload string) error
	// Receive subscribes to channel and waits at most timeout for one
	// message. It never blocks past timeout.
	Receive(ctx context.Context, channel string, timeout time.Duration) Delivery
}

// DeliveryStatus says what happened during one bounded Receive.
type DeliveryStatus int

const (
	// Silent means the subscription worked but nothing arrived in time.
	Silent DeliveryStatus = iota
	// Notified means a message arrived; Payload holds it.
	Notified
	// Unavailable means the subscription itself failed; Err says why.
	Unavailable
)

func (s DeliveryStatus) String() string {
	switch s {
	case Silent:
		return "silent"
	case Notified:
		return "notified"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Delivery is the outcome of Backend.Receive.
type Delivery struct {
	Status  DeliveryStatus
	Payload string
	Err     error
}
