package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalid is returned (wrapped) when an envelope fails validation.
var ErrInvalid = errors.New("invalid envelope")

// Envelope is the unit exchanged across every boundary of the gateway:
// the request published onto the bus, the reply a worker publishes back,
// and the record cached in Redis for a waiting caller.
//
// An Envelope is immutable after construction. Use New for a root message
// and Reply to derive a message within the same exchange.
type Envelope struct {
	name          string
	content       string
	messageID     string
	correlationID string
	causationID   string
	timestamp     time.Time
}

// wireEnvelope is the JSON shape shared with workers.
type wireEnvelope struct {
	Name          string    `json:"name"`
	Content       string    `json:"content"`
	MessageID     string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// New creates the first envelope of an exchange. It mints a fresh message
// id and correlation id; the causation id of a root message is its own id.
func New(name string, content []byte) Envelope {
	id := uuid.New().String()
	return Envelope{
		name:          name,
		content:       string(content),
		messageID:     id,
		correlationID: uuid.New().String(),
		causationID:   id,
		timestamp:     time.Now().UTC(),
	}
}

// Reply derives an envelope caused by e. The correlation id is carried over
// unchanged, the causation id points at e.
func (e Envelope) Reply(name string, content []byte) Envelope {
	return Envelope{
		name:          name,
		content:       string(content),
		messageID:     uuid.New().String(),
		correlationID: e.correlationID,
		causationID:   e.messageID,
		timestamp:     time.Now().UTC(),
	}
}

// Name is the logical message kind. An empty name means "no message".
func (e Envelope) Name() string { return e.name }

// Content returns a copy of the opaque payload.
func (e Envelope) Content() []byte { return []byte(e.content) }

func (e Envelope) MessageID() string { return e.messageID }

func (e Envelope) CorrelationID() string { return e.correlationID }

func (e Envelope) CausationID() string { return e.causationID }

func (e Envelope) Timestamp() time.Time { return e.timestamp }

// IsZero reports whether e carries no message at all.
func (e Envelope) IsZero() bool {
	return e.name == "" && e.messageID == ""
}

// Validate checks the identifiers and timestamp. An empty name is valid.
func (e Envelope) Validate() error {
	if !isValidUUID(e.messageID) {
		return fmt.Errorf("%w: message_id %q is not a valid UUID", ErrInvalid, e.messageID)
	}
	if !isValidUUID(e.correlationID) {
		return fmt.Errorf("%w: correlation_id %q is not a valid UUID", ErrInvalid, e.correlationID)
	}
	if e.causationID != "" && !isValidUUID(e.causationID) {
		return fmt.Errorf("%w: causation_id %q is not a valid UUID", ErrInvalid, e.causationID)
	}
	if e.timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is not set", ErrInvalid)
	}
	return nil
}

// MarshalJSON encodes the envelope in the wire format.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Name:          e.name,
		Content:       e.content,
		MessageID:     e.messageID,
		CorrelationID: e.correlationID,
		CausationID:   e.causationID,
		Timestamp:     e.timestamp,
	})
}

// UnmarshalJSON decodes the wire format. It does not validate; use Decode
// for untrusted input.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{
		name:          w.Name,
		content:       w.Content,
		messageID:     w.MessageID,
		correlationID: w.CorrelationID,
		causationID:   w.CausationID,
		timestamp:     w.Timestamp,
	}
	return nil
}

// Decode parses and validates a serialized envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
