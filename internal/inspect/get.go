package inspect

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/gateway/internal/correlation"
	"github.com/dyluth/gateway/pkg/message"
	"github.com/google/uuid"
)

// State is where an exchange stands.
type State string

const (
	StatePending  State = "pending"
	StateResolved State = "resolved"
)

// Exchange is the stored view of one request/reply pair.
type Exchange struct {
	CorrelationID string            `json:"correlation_id"`
	State         State             `json:"state"`
	RequestTTL    int64             `json:"request_ttl_sec,omitempty"`
	ResponseTTL   int64             `json:"response_ttl_sec,omitempty"`
	Reply         *message.Envelope `json:"reply,omitempty"`
	Raw           string            `json:"raw,omitempty"` // Stored reply that does not decode as an envelope
}

// Lookuper reads the stored records for a correlation id.
type Lookuper interface {
	Lookup(ctx context.Context, correlationID string) (correlation.Snapshot, error)
}

// GetExchange retrieves the state of a single exchange.
// Returns an error if the id is not a UUID; use IsNotFound() to tell an
// unknown or expired id from other failures.
func GetExchange(ctx context.Context, store Lookuper, correlationID string) (Exchange, error) {
	if _, err := uuid.Parse(correlationID); err != nil {
		return Exchange{}, fmt.Errorf("invalid correlation ID format: must be a valid UUID")
	}

	snap, err := store.Lookup(ctx, correlationID)
	if err != nil {
		return Exchange{}, fmt.Errorf("failed to read exchange: %w", err)
	}
	if !snap.Pending && !snap.HasReply {
		return Exchange{}, &ExchangeNotFoundError{CorrelationID: correlationID}
	}

	ex := Exchange{
		CorrelationID: correlationID,
		State:         StatePending,
		RequestTTL:    seconds(snap.MarkerTTL),
	}
	if snap.HasReply {
		ex.State = StateResolved
		ex.ResponseTTL = seconds(snap.ReplyTTL)
		if env, err := message.Decode([]byte(snap.Reply)); err == nil {
			ex.Reply = &env
		} else {
			ex.Raw = snap.Reply
		}
	}
	return ex, nil
}

func seconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

// ExchangeNotFoundError means neither record exists for the id.
type ExchangeNotFoundError struct {
	CorrelationID string
}

func (e *ExchangeNotFoundError) Error() string {
	return fmt.Sprintf("no exchange with correlation ID '%s' (never submitted or expired)", e.CorrelationID)
}

// IsNotFound returns true if the error is an ExchangeNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*ExchangeNotFoundError)
	return ok
}
