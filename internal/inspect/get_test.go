package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/gateway/internal/correlation"
	"github.com/dyluth/gateway/pkg/message"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*correlation.Store, *miniredis.Miniredis) {
	t.Helper()
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

func TestGetExchange(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid id", func(t *testing.T) {
		store, _ := setupStore(t)
		_, err := GetExchange(ctx, store, "not-a-uuid")
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "UUID")
	})

	t.Run("unknown id", func(t *testing.T) {
		store, _ := setupStore(t)
		id := uuid.NewString()
		_, err := GetExchange(ctx, store, id)
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.Contains(t, err.Error(), id)
	})

	t.Run("pending", func(t *testing.T) {
		store, _ := setupStore(t)
		id := uuid.NewString()
		require.NoError(t, store.MarkPending(ctx, id, 90*time.Second))

		ex, err := GetExchange(ctx, store, id)
		require.NoError(t, err)
		assert.Equal(t, StatePending, ex.State)
		assert.Equal(t, int64(90), ex.RequestTTL)
		assert.Nil(t, ex.Reply)
	})

	t.Run("resolved", func(t *testing.T) {
		store, _ := setupStore(t)
		req := message.New("Gateway.Request", []byte(`{}`))
		reply := req.Reply("Gateway.Response", []byte(`{"ok":true}`))
		data, err := json.Marshal(reply)
		require.NoError(t, err)

		require.NoError(t, store.MarkPending(ctx, req.CorrelationID(), time.Minute))
		require.NoError(t, store.PublishReply(ctx, req.CorrelationID(), string(data), 5*time.Minute))

		ex, err := GetExchange(ctx, store, req.CorrelationID())
		require.NoError(t, err)
		assert.Equal(t, StateResolved, ex.State)
		assert.Equal(t, int64(300), ex.ResponseTTL)
		assert.Equal(t, int64(600), ex.RequestTTL)
		require.NotNil(t, ex.Reply)
		assert.Equal(t, req.MessageID(), ex.Reply.CausationID())
		assert.Empty(t, ex.Raw)
	})

	t.Run("undecodable reply", func(t *testing.T) {
		store, _ := setupStore(t)
		id := uuid.NewString()
		require.NoError(t, store.PublishReply(ctx, id, "{broken", time.Minute))

		ex, err := GetExchange(ctx, store, id)
		require.NoError(t, err)
		assert.Equal(t, StateResolved, ex.State)
		assert.Nil(t, ex.Reply)
		assert.Equal(t, "{broken", ex.Raw)
	})

	t.Run("expired", func(t *testing.T) {
		store, mr := setupStore(t)
		id := uuid.NewString()
		require.NoError(t, store.MarkPending(ctx, id, time.Minute))
		mr.FastForward(2 * time.Minute)

		_, err := GetExchange(ctx, store, id)
		assert.True(t, IsNotFound(err))
	})

	t.Run("store failure", func(t *testing.T) {
		store, mr := setupStore(t)
		mr.Close()

		_, err := GetExchange(ctx, store, uuid.NewString())
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
	})
}

func TestFormatJSON(t *testing.T) {
	req := message.New("Gateway.Request", []byte(`{}`))
	reply := req.Reply("Gateway.Response", []byte(`{"ok":true}`))
	ex := Exchange{CorrelationID: req.CorrelationID(), State: StateResolved, ResponseTTL: 30, Reply: &reply}

	var buf bytes.Buffer
	require.NoError(t, FormatJSON(&buf, ex))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "resolved", decoded["state"])
	assert.Equal(t, float64(30), decoded["response_ttl_sec"])
	assert.NotContains(t, decoded, "request_ttl_sec")
	assert.NotContains(t, decoded, "raw")

	r, ok := decoded["reply"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Gateway.Response", r["name"])
	assert.Equal(t, req.CorrelationID(), r["correlation_id"])
}

func TestFormatDefault(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		var buf bytes.Buffer
		FormatDefault(&buf, Exchange{CorrelationID: "abc", State: StatePending, RequestTTL: 90})

		out := buf.String()
		assert.Contains(t, out, "STATE          pending")
		assert.Contains(t, out, "REQUEST TTL    1m30s")
		assert.NotContains(t, out, "REPLY")
	})

	t.Run("resolved", func(t *testing.T) {
		req := message.New("Gateway.Request", []byte(`{}`))
		reply := req.Reply("Gateway.Response", []byte("\n  first line\nsecond"))

		var buf bytes.Buffer
		FormatDefault(&buf, Exchange{CorrelationID: "abc", State: StateResolved, Reply: &reply})

		out := buf.String()
		assert.Contains(t, out, "REPLY NAME     Gateway.Response")
		assert.Contains(t, out, "CONTENT        first line")
		assert.Contains(t, out, "REQUEST TTL    -")
	})

	t.Run("undecodable", func(t *testing.T) {
		var buf bytes.Buffer
		FormatDefault(&buf, Exchange{CorrelationID: "abc", State: StateResolved, Raw: "{broken"})
		assert.Contains(t, buf.String(), "(undecodable) {broken")
	})
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatContent(""))
	assert.Equal(t, "-", formatContent("\n \n"))
	long := bytes.Repeat([]byte("x"), 80)
	assert.Equal(t, string(long[:57])+"...", formatContent(string(long)))

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", formatAge(time.Time{}, now))
	assert.Equal(t, "5s ago", formatAge(now.Add(-5*time.Second), now))
	assert.Equal(t, "3m ago", formatAge(now.Add(-3*time.Minute), now))
	assert.Equal(t, "2h ago", formatAge(now.Add(-2*time.Hour), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour), now))

	assert.Equal(t, "-", formatTTL(0))
	assert.Equal(t, "10m0s", formatTTL(600))
}
