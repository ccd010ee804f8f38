package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/gateway/internal/correlation"
	"github.com/dyluth/gateway/pkg/message"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*correlation.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	backend := correlation.NewRedisBackend(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { backend.Close() })

	store, err := correlation.NewStore(backend, correlation.Options{
		RequestPrefix:  "Gateway.Request-",
		ResponsePrefix: "Gateway.Response-",
		RequestTTL:     10 * time.Minute,
	}, nil)
	require.NoError(t, err)
	return store, mr
}

func TestRegistry_Dispatch(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()

	var seen []string
	reg.Register("Order.Placed", HandlerFunc(func(ctx context.Context, env message.Envelope) error {
		seen = append(seen, "first:"+env.Name())
		return nil
	}))
	reg.Register("Order.Placed", HandlerFunc(func(ctx context.Context, env message.Envelope) error {
		seen = append(seen, "second:"+env.Name())
		return nil
	}))

	require.NoError(t, reg.Dispatch(ctx, message.New("Order.Placed", nil)))
	assert.Equal(t, []string{"first:Order.Placed", "second:Order.Placed"}, seen)

	t.Run("unknown name is ignored", func(t *testing.T) {
		seen = nil
		require.NoError(t, reg.Dispatch(ctx, message.New("Order.Cancelled", nil)))
		assert.Empty(t, seen)
	})

	t.Run("empty name is a no-op", func(t *testing.T) {
		seen = nil
		require.NoError(t, reg.Dispatch(ctx, message.New("", nil)))
		assert.Empty(t, seen)
	})

	assert.ElementsMatch(t, []string{"Order.Placed"}, reg.Names())
}

func TestRegistry_DispatchJoinsErrors(t *testing.T) {
	reg := NewRegistry(nil)
	boom := errors.New("boom")
	ran := 0

	reg.Register("X", HandlerFunc(func(context.Context, message.Envelope) error {
		ran++
		return boom
	}))
	reg.Register("X", HandlerFunc(func(context.Context, message.Envelope) error {
		ran++
		return nil
	}))

	err := reg.Dispatch(context.Background(), message.New("X", nil))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ran, "a failing handler does not stop the others")
}

func TestReplySink_RoundTrip(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	sink := NewReplySink(store, 5*time.Minute, nil)

	tests := []struct {
		name    string
		content string
	}{
		{name: "plain body", content: `{"total":3}`},
		{name: "status and content", content: `{"status":201,"content":{"id":7}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := message.New("Gateway.Request", []byte(`{}`))
			id := req.CorrelationID()
			require.NoError(t, store.MarkPending(ctx, id, time.Minute))

			reply := req.Reply("Gateway.Response", []byte(tt.content))
			require.NoError(t, sink.Handle(ctx, reply))

			got, err := store.WaitForReply(ctx, id, 0)
			require.NoError(t, err)
			assert.Equal(t, reply.MessageID(), got.MessageID())
			assert.Equal(t, id, got.CorrelationID())
			assert.Equal(t, req.MessageID(), got.CausationID())
			assert.JSONEq(t, tt.content, string(got.Content()))

			assert.Equal(t, 5*time.Minute, mr.TTL("Gateway.Response-"+id))
		})
	}
}

func TestReplySink_IgnoresUnnamed(t *testing.T) {
	store, mr := setupTestStore(t)
	sink := NewReplySink(store, time.Minute, nil)

	require.NoError(t, sink.Handle(context.Background(), message.Envelope{}))
	assert.Empty(t, mr.Keys())
}

func TestReplySink_StoreFailure(t *testing.T) {
	store, mr := setupTestStore(t)
	sink := NewReplySink(store, time.Minute, nil)
	mr.Close()

	err := sink.Handle(context.Background(), message.New("Gateway.Response", []byte(`{}`)))
	assert.Error(t, err)
}

func TestReplySink_ViaRegistry(t *testing.T) {
	store, mr := setupTestStore(t)
	reg := NewRegistry(nil)
	reg.Register("Gateway.Response", NewReplySink(store, time.Minute, nil))

	req := message.New("Gateway.Request", nil)
	require.NoError(t, reg.Dispatch(context.Background(), req.Reply("Gateway.Response", []byte(`{}`))))
	assert.True(t, mr.Exists("Gateway.Response-"+req.CorrelationID()))

	// Requests are not replies; nothing is written for them.
	other := message.New("Gateway.Request", nil)
	require.NoError(t, reg.Dispatch(context.Background(), other))
	assert.False(t, mr.Exists("Gateway.Response-"+other.CorrelationID()))
}
