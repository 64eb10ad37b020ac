package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/framerelay/config"
	"github.com/c360/framerelay/health"
	"github.com/c360/framerelay/input/process"
	wsout "github.com/c360/framerelay/output/websocket"
)

// workerScript emits numbered frames every 20ms until stopped, with a log
// line, a stderr line and a malformed payload up front.
const workerScript = `
echo "model loaded"
echo "[WARNING] low light" >&2
echo "DATA_START:{broken"
i=1
while true; do
  printf 'DATA_START:{"frame":%d,"detections":[{"label":"person","score":0.9}]}\n' "$i"
  i=$((i+1))
  sleep 0.02
done
`

// RelaySuite runs the whole relay against a shell worker.
type RelaySuite struct {
	suite.Suite
	relay *relay
	base  string
}

func (s *RelaySuite) SetupTest() {
	cfg := config.Default()
	cfg.Worker.Command = "/bin/sh"
	cfg.Worker.Args = []string{"-c", workerScript}
	cfg.Worker.StopTimeout = time.Second
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.IndexFile = ""
	s.Require().NoError(cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r, err := newRelay(context.Background(), cfg, logger)
	s.Require().NoError(err)
	s.Require().NoError(r.start(context.Background()))
	s.relay = r
	s.base = "http://" + r.gateway.Addr()
}

func (s *RelaySuite) TearDownTest() {
	if s.relay != nil {
		s.NoError(s.relay.stop(5 * time.Second))
		s.relay = nil
	}
}

func (s *RelaySuite) dial() *websocket.Conn {
	url := "ws" + s.base[len("http"):] + s.relay.cfg.HTTP.WebSocketPath
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	_ = resp.Body.Close()
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *RelaySuite) read(conn *websocket.Conn) (wsout.MessageEnvelope, int) {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	var env wsout.MessageEnvelope
	s.Require().NoError(conn.ReadJSON(&env))

	var payload struct {
		Frame int `json:"frame"`
	}
	s.Require().NoError(json.Unmarshal(env.Payload, &payload))
	return env, payload.Frame
}

func (s *RelaySuite) getJSON(path string, v any) int {
	resp, err := http.Get(s.base + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	if v != nil {
		s.Require().NoError(json.Unmarshal(body, v), string(body))
	}
	return resp.StatusCode
}

func (s *RelaySuite) TestFramesReachWebSocketInOrder() {
	conn := s.dial()

	env, first := s.read(conn)
	s.Equal("video_frame", env.Type)
	s.Equal(strconv.Itoa(first), env.ID, "decode failures do not consume sequence numbers")
	s.NotZero(env.Timestamp)

	prev := first
	for range 10 {
		_, frame := s.read(conn)
		s.Equal(prev+1, frame)
		prev = frame
	}
}

func (s *RelaySuite) TestTwoClientsSeeTheSameStream() {
	a := s.dial()
	b := s.dial()

	_, fa := s.read(a)
	_, fb := s.read(b)
	// Subscriptions may start one frame apart; from then on both advance together.
	for fa < fb {
		_, fa = s.read(a)
	}
	for fb < fa {
		_, fb = s.read(b)
	}
	for range 5 {
		_, fa = s.read(a)
		_, fb = s.read(b)
		s.Equal(fa, fb)
	}
}

func (s *RelaySuite) TestHealthReportsEveryComponent() {
	s.Require().Eventually(func() bool {
		return s.relay.supervisor.Status() == process.StatusRunning
	}, 3*time.Second, 10*time.Millisecond)

	var status health.Status
	s.Equal(http.StatusOK, s.getJSON("/health", &status))
	s.True(status.IsHealthy(), "%+v", status)

	names := make([]string, 0, len(status.SubStatuses))
	for _, sub := range status.SubStatuses {
		names = append(names, sub.Component)
	}
	s.ElementsMatch([]string{"http", "hub", "pipeline", "websocket", "worker"}, names)
}

func (s *RelaySuite) TestDiagnosticsCaptureWorkerOutput() {
	type entry struct {
		Channel string `json:"channel"`
		Source  string `json:"source"`
		Text    string `json:"text"`
	}
	var resp struct {
		Entries []entry `json:"entries"`
	}

	s.Require().Eventually(func() bool {
		s.getJSON("/diagnostics", &resp)
		var log, stderr, decode bool
		for _, e := range resp.Entries {
			switch {
			case e.Channel == "log" && e.Text == "model loaded":
				log = true
			case e.Channel == "error" && e.Source == "stderr":
				stderr = true
			case e.Channel == "error" && e.Source == "decode":
				decode = true
			}
		}
		return log && stderr && decode
	}, 3*time.Second, 20*time.Millisecond)
}

func (s *RelaySuite) TestMetricsExposeStreamCounters() {
	s.Require().Eventually(func() bool {
		resp, err := http.Get(s.base + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return bytes.Contains(body, []byte("framerelay_stream_decode_errors_total 1")) &&
			bytes.Contains(body, []byte("framerelay_worker_up 1"))
	}, 3*time.Second, 20*time.Millisecond)
}

func (s *RelaySuite) TestIndexServed() {
	resp, err := http.Get(s.base + "/")
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(string(body), "new WebSocket")
}

func (s *RelaySuite) TestShutdownClosesClientsAndWorker() {
	conn := s.dial()
	s.read(conn)

	r := s.relay
	s.relay = nil
	s.Require().NoError(r.stop(5 * time.Second))

	s.Equal(process.StatusStopped, r.supervisor.Status())
	s.Zero(r.hub.Len())

	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
			break
		}
	}

	_, err := http.Get(s.base + "/health")
	s.Error(err)
}

func TestRelaySuite(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	suite.Run(t, new(RelaySuite))
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Command = "/bin/sh"
	cfg.Worker.Args = []string{"-c", "exec sleep 30"}
	cfg.Worker.StopTimeout = time.Second
	cfg.HTTP.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Second)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return")
	}
}

func TestNewRelay_BadSchemaPath(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Command = "/bin/true"
	cfg.Schema.Path = filepath.Join(t.TempDir(), "missing.json")

	_, err := newRelay(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected schema load error")
	}
}

func TestRelay_RecordsEvents(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	cfg := config.Default()
	cfg.Worker.Command = "/bin/sh"
	cfg.Worker.Args = []string{"-c", workerScript}
	cfg.Worker.StopTimeout = time.Second
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Record.Enabled = true
	cfg.Record.Directory = filepath.Join(t.TempDir(), "rec")
	cfg.Record.BufferSize = 0
	require.NoError(t, cfg.Validate())

	r, err := newRelay(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, r.start(context.Background()))

	path := filepath.Join(cfg.Record.Directory, "events.jsonl")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && bytes.Count(data, []byte("\n")) >= 3
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, r.manager.Health(), "recorder")
	require.NoError(t, r.stop(5*time.Second))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	first := bytes.SplitN(data, []byte("\n"), 2)[0]
	var rec struct {
		Seq     uint64          `json:"seq"`
		Topic   string          `json:"topic"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(first, &rec))
	assert.Equal(t, uint64(1), rec.Seq)
	assert.Equal(t, "video_frame", rec.Topic)
	assert.Contains(t, string(rec.Payload), `"frame":1`)
}
