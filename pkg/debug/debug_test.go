package debug

import (
	"bytes"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("X-Agent-ID", "4")
	h.Set("Authorization", "Bearer abcdef")

	out := SanitizeHeaders(h)
	assert.Contains(t, out, "X-Agent-Id:[4]")
	assert.Contains(t, out, "[REDACTED:authorization:len=13]")
	assert.NotContains(t, out, "abcdef")
}

func TestSanitizePayload(t *testing.T) {
	in := `{"task_id":"t","cracks":[{"hash_value":"5f4d","plaintext":"pass\"word"}]}`
	out := SanitizePayload(in)
	assert.Equal(t, `{"task_id":"t","cracks":[{"hash_value":"5f4d","plaintext":"[REDACTED]"}]}`, out)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetEnabled(true)
	SetLogLevel(LevelWarning)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Reinitialize()
	})

	Info("hidden")
	Warning("shown %d", 1)
	Log("also hidden", map[string]interface{}{"b": 2, "a": 1})

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARNING]")
	assert.Contains(t, buf.String(), "shown 1")

	SetLogLevel(LevelInfo)
	buf.Reset()
	Log("event", map[string]interface{}{"b": 2, "a": 1})
	assert.Contains(t, buf.String(), "event [a=1, b=2]")
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("warn")
	assert.True(t, ok)
	assert.Equal(t, LevelWarning, level)

	_, ok = ParseLevel("verbose")
	assert.False(t, ok)
}
