package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/gateway/pkg/message"
	"github.com/redis/go-redis/v9"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSONL   OutputFormat = "jsonl"
)

// Subscriber opens pattern subscriptions.
type Subscriber interface {
	PSubscribe(ctx context.Context, pattern string) *redis.PubSub
}

// Options controls a StreamReplies run.
type Options struct {
	ResponsePrefix string
	Format         OutputFormat
	Limit          int       // Stop after this many events; 0 = unlimited
	Until          time.Time // Stop at this time; zero = never
	OnReady        func()    // Called once the subscription is confirmed
}

// Event is one reply notification.
type Event struct {
	CorrelationID string            `json:"correlation_id"`
	ReceivedAt    time.Time         `json:"received_at"`
	Reply         *message.Envelope `json:"reply,omitempty"`
	Raw           string            `json:"raw,omitempty"`
}

// StreamReplies writes every reply notified under opts.ResponsePrefix to w
// until ctx ends, opts.Until passes or opts.Limit events were written.
// Returns the number of events written.
func StreamReplies(ctx context.Context, sub Subscriber, opts Options, w io.Writer) (int, error) {
	if opts.ResponsePrefix == "" {
		return 0, fmt.Errorf("response prefix cannot be empty")
	}
	if opts.Format == "" {
		opts.Format = OutputFormatDefault
	}
	if !opts.Until.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, opts.Until)
		defer cancel()
	}

	pubsub := sub.PSubscribe(ctx, escapePattern(opts.ResponsePrefix)+"*")
	defer pubsub.Close()

	// Wait for confirmation so nothing published after OnReady is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to subscribe: %w", err)
	}
	if opts.OnReady != nil {
		opts.OnReady()
	}

	ch := pubsub.Channel()
	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, nil

		case msg, ok := <-ch:
			if !ok {
				return count, fmt.Errorf("subscription closed")
			}
			ev := newEvent(strings.TrimPrefix(msg.Channel, opts.ResponsePrefix), msg.Payload, time.Now())
			if err := writeEvent(w, ev, opts.Format); err != nil {
				return count, err
			}
			count++
			if opts.Limit > 0 && count >= opts.Limit {
				return count, nil
			}
		}
	}
}

func newEvent(correlationID, payload string, at time.Time) Event {
	ev := Event{CorrelationID: correlationID, ReceivedAt: at.UTC()}
	if env, err := message.Decode([]byte(payload)); err == nil {
		ev.Reply = &env
	} else {
		ev.Raw = payload
	}
	return ev
}

func writeEvent(w io.Writer, ev Event, format OutputFormat) error {
	if format == OutputFormatJSONL {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	content := ev.Raw
	if ev.Reply != nil {
		content = string(ev.Reply.Content())
	}
	content = strings.Join(strings.Fields(content), " ")
	if len(content) > 60 {
		content = content[:57] + "..."
	}
	_, err := fmt.Fprintf(w, "[%s] %s %s\n", ev.ReceivedAt.Format("15:04:05"), ev.CorrelationID, content)
	return err
}

// escapePattern quotes the glob metacharacters Redis recognises.
func escapePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
