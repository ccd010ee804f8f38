package message

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e := New("Gateway.Request", []byte(`{"uri":"/api/"}`))

	assert.Equal(t, "Gateway.Request", e.Name())
	assert.Equal(t, `{"uri":"/api/"}`, string(e.Content()))
	assert.NotEqual(t, e.MessageID(), e.CorrelationID())
	assert.Equal(t, e.MessageID(), e.CausationID())
	assert.False(t, e.Timestamp().IsZero())
	assert.NoError(t, e.Validate())
}

func TestNew_UniqueIDs(t *testing.T) {
	a := New("x", nil)
	b := New("x", nil)

	assert.NotEqual(t, a.MessageID(), b.MessageID())
	assert.NotEqual(t, a.CorrelationID(), b.CorrelationID())
}

func TestReply(t *testing.T) {
	req := New("Gateway.Request", []byte("{}"))
	rep := req.Reply("Gateway.Response", []byte(`{"ok":true}`))

	assert.Equal(t, req.CorrelationID(), rep.CorrelationID())
	assert.Equal(t, req.MessageID(), rep.CausationID())
	assert.NotEqual(t, req.MessageID(), rep.MessageID())
	assert.Equal(t, "Gateway.Response", rep.Name())
	assert.NoError(t, rep.Validate())
}

func TestContent_ReturnsCopy(t *testing.T) {
	e := New("x", []byte("abc"))
	c := e.Content()
	c[0] = 'z'

	assert.Equal(t, "abc", string(e.Content()))
}

func TestJSONWireFormat(t *testing.T) {
	e := New("Gateway.Response", []byte(`{"status":201}`))

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Gateway.Response", raw["name"])
	assert.Equal(t, `{"status":201}`, raw["content"])
	assert.Equal(t, e.MessageID(), raw["message_id"])
	assert.Equal(t, e.CorrelationID(), raw["correlation_id"])
	assert.Equal(t, e.CausationID(), raw["causation_id"])
	assert.Contains(t, raw, "timestamp")

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, e.CorrelationID(), decoded.CorrelationID())
	assert.True(t, e.Timestamp().Equal(decoded.Timestamp()))
}

func TestDecode(t *testing.T) {
	t.Run("rejects malformed JSON", func(t *testing.T) {
		_, err := Decode([]byte("{not json"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode envelope")
	})

	t.Run("rejects invalid correlation id", func(t *testing.T) {
		data := `{"name":"x","message_id":"` + uuid.NewString() + `","correlation_id":"nope","timestamp":"2025-01-01T00:00:00Z"}`
		_, err := Decode([]byte(data))
		assert.ErrorIs(t, err, ErrInvalid)
		assert.Contains(t, err.Error(), "correlation_id")
	})

	t.Run("rejects missing timestamp", func(t *testing.T) {
		data := `{"name":"x","message_id":"` + uuid.NewString() + `","correlation_id":"` + uuid.NewString() + `"}`
		_, err := Decode([]byte(data))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("accepts empty name", func(t *testing.T) {
		data := `{"name":"","message_id":"` + uuid.NewString() + `","correlation_id":"` + uuid.NewString() + `","timestamp":"2025-01-01T00:00:00Z"}`
		e, err := Decode([]byte(data))
		require.NoError(t, err)
		assert.Empty(t, e.Name())
	})
}

func TestIsZero(t *testing.T) {
	assert.True(t, Envelope{}.IsZero())
	assert.False(t, New("", nil).IsZero())
}
