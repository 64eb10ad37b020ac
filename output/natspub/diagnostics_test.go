package natspub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framerelay/diagnostic"
	"github.com/c360/framerelay/testutil"
)

func TestDiagnosticSink_JSON(t *testing.T) {
	client := testutil.NewPublishRecorder()
	sink, err := NewDiagnosticSink(Config{}, client, nil)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	sink.Log(diagnostic.SourceWorker, "model loaded")
	sink.Error(diagnostic.ContextDecode, "bad payload")

	logs := client.Messages("framerelay.diag.log")
	require.Len(t, logs, 1)
	var entry diagnostic.Entry
	require.NoError(t, json.Unmarshal(logs[0], &entry))
	assert.Equal(t, diagnostic.Entry{
		Time: fixed, Channel: diagnostic.ChannelLog, Source: diagnostic.SourceWorker, Text: "model loaded",
	}, entry)

	errs := client.Messages("framerelay.diag.error")
	require.Len(t, errs, 1)
	require.NoError(t, json.Unmarshal(errs[0], &entry))
	assert.Equal(t, diagnostic.ChannelError, entry.Channel)
	assert.Equal(t, diagnostic.ContextDecode, entry.Source)
	assert.Equal(t, "bad payload", entry.Text)
}

func TestDiagnosticSink_CBOR(t *testing.T) {
	client := testutil.NewPublishRecorder()
	sink, err := NewDiagnosticSink(Config{SubjectPrefix: "cam", Codec: CodecCBOR}, client, nil)
	require.NoError(t, err)

	sink.Error(diagnostic.ContextStderr, "Traceback")

	msgs := client.Messages("cam.diag.error")
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, cbor.Unmarshal(msgs[0], &got))
	assert.Equal(t, "Traceback", got["text"])
	assert.Equal(t, diagnostic.ContextStderr, got["source"])
}

func TestDiagnosticSink_PublishFailureIsSilent(t *testing.T) {
	client := testutil.NewPublishRecorder()
	client.SetFailure(errors.New("connection closed"))
	sink, err := NewDiagnosticSink(Config{}, client, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		sink.Log("worker", "x")
		sink.Error("decode", "y")
	})
}

func TestNewDiagnosticSink_BadCodec(t *testing.T) {
	_, err := NewDiagnosticSink(Config{Codec: "avro"}, testutil.NewPublishRecorder(), nil)
	assert.Error(t, err)
}
