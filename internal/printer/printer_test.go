package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects Out and Err for the duration of the test.
func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	prevOut, prevErr, prevNoColor := Out, Err, color.NoColor
	Out, Err, color.NoColor = out, errOut, true
	t.Cleanup(func() { Out, Err, color.NoColor = prevOut, prevErr, prevNoColor })
	return out, errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Redis unreachable", "Could not connect", nil)
		require.Error(t, err)
		require.Equal(t, "Redis unreachable", err.Error())
		assert.Contains(t, errOut.String(), "Could not connect")
	})

	t.Run("single suggestion", func(t *testing.T) {
		_, errOut := capture(t)
		_ = Error("Bad config", "Explanation", []string{"Fix redis.url"})
		assert.Contains(t, errOut.String(), "\nFix redis.url\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions", func(t *testing.T) {
		_, errOut := capture(t)
		_ = Error("Bad config", "Explanation", []string{"First option", "Second option"})
		assert.Contains(t, errOut.String(), "Either:")
		assert.Contains(t, errOut.String(), "  2. Second option")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Blob not found", "", []Field{{Label: "Hash", Value: "abc"}}, nil)
	require.Equal(t, "Blob not found", err.Error())
	assert.Contains(t, errOut.String(), "  Hash: abc")
}

func TestFields(t *testing.T) {
	out, _ := capture(t)
	Fields("Blob", []Field{
		{Label: "Hash", Value: "abc"},
		{Label: "Size", Value: 12},
	})
	assert.Equal(t, "Blob\n  Hash:  abc\n  Size:  12\n", out.String())
}

func TestSuccessAndWarning(t *testing.T) {
	out, errOut := capture(t)
	Success("stored %d files\n", 2)
	Warning("slow\n")
	assert.Equal(t, "✓ stored 2 files\n", out.String())
	assert.Equal(t, "⚠️  slow\n", errOut.String())
}

func TestJSON(t *testing.T) {
	out, _ := capture(t)
	require.NoError(t, JSON(map[string]int{"size": 3}))
	assert.JSONEq(t, `{"size":3}`, out.String())
}
