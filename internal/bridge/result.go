package bridge

import (
	"net/http"
	"time"
)

// Kind classifies a Result. Every call yields exactly one kind.
type Kind int

const (
	Accepted Kind = iota // Published, no reply yet; poll Location
	Resolved             // A reply was mapped to Status and Body
	NotFound             // Unknown, expired, or nothing arrived in time
	Error                // The bridge itself failed; see Detail
)

func (k Kind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case Error:
		return "error"
	}
	return "unknown"
}

// Result is the caller-facing outcome of Submit or Fetch.
type Result struct {
	Kind          Kind
	Status        int    // HTTP-style status
	Body          []byte // JSON body; nil for none
	CorrelationID string
	Location      string        // Set on Accepted
	Expires       time.Duration // Remaining response lifetime; 0 = unknown
	Detail        string        // Set on Error
}

func errorResult(correlationID string, err error) Result {
	return Result{
		Kind:          Error,
		Status:        http.StatusInternalServerError,
		CorrelationID: correlationID,
		Detail:        err.Error(),
	}
}
