package diagnostic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestSlogSink_Log(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(newJSONLogger(&buf))

	sink.Log(SourceWorker, "model loaded")

	recs := decodeRecords(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.Equal(t, "model loaded", recs[0]["msg"])
	assert.Equal(t, SourceWorker, recs[0]["source"])
	assert.Equal(t, "diagnostic", recs[0]["component"])
}

func TestSlogSink_Error(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(newJSONLogger(&buf))

	sink.Error(ContextDecode, "decode payload (6 bytes) failed")

	recs := decodeRecords(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, ContextDecode, recs[0]["context"])
}

func TestSlogSink_StderrLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(newJSONLogger(&buf))

	sink.Error(ContextStderr, "2024 [WARNING] low fps\n\n2024 [ERROR] camera lost\r\nplain progress\n")

	recs := decodeRecords(t, &buf)
	require.Len(t, recs, 3)
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "2024 [WARNING] low fps", recs[0]["msg"])
	assert.Equal(t, "ERROR", recs[1]["level"])
	assert.Equal(t, "INFO", recs[2]["level"])
	assert.Equal(t, SourceWorker, recs[2]["source"])
}

func TestStderrLevel(t *testing.T) {
	tests := []struct {
		line string
		want slog.Level
	}{
		{"[ERROR] boom", slog.LevelError},
		{"[CRITICAL] gone", slog.LevelError},
		{"Traceback (most recent call last):", slog.LevelError},
		{"[WARNING] slow", slog.LevelWarn},
		{"[WARN] slow", slog.LevelWarn},
		{"[DEBUG] tick", slog.LevelDebug},
		{"[INFO] ready", slog.LevelInfo},
		{"anything else", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, StderrLevel(tt.line))
		})
	}
}

func TestRecentSink(t *testing.T) {
	r := NewRecentSink(3)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	r.Log(SourceWorker, "one")
	r.Error(ContextDecode, "two")
	r.Log(SourceWorker, "three")
	r.Log(SourceWorker, "four")

	got := r.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, Entry{Time: at, Channel: ChannelError, Source: ContextDecode, Text: "two"}, got[0])
	assert.Equal(t, "four", got[2].Text)
	assert.Equal(t, int64(1), r.Evicted())
}

func TestRecentSink_DefaultCapacity(t *testing.T) {
	r := NewRecentSink(0)
	for i := 0; i < DefaultRecentCapacity+5; i++ {
		r.Log(SourceWorker, fmt.Sprint(i))
	}
	got := r.Recent()
	assert.Len(t, got, DefaultRecentCapacity)
	assert.Equal(t, "5", got[0].Text)
}

type countingSink struct {
	mu     sync.Mutex
	logs   []string
	errors []string
}

func (c *countingSink) Log(source, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, source+":"+text)
}

func (c *countingSink) Error(ctx, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, ctx+":"+text)
}

func TestMulti(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	sink := Multi(a, nil, b)

	sink.Log("worker", "hello")
	sink.Error("decode", "bad")

	for _, s := range []*countingSink{a, b} {
		assert.Equal(t, []string{"worker:hello"}, s.logs)
		assert.Equal(t, []string{"decode:bad"}, s.errors)
	}
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Log("a", "b")
		Discard.Error("c", "d")
	})
}
