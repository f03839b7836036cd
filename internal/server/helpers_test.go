package server

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/ws-audio-echo/internal/config"
	"github.com/skypro1111/ws-audio-echo/internal/events"
	"github.com/skypro1111/ws-audio-echo/internal/metrics"
	"github.com/skypro1111/ws-audio-echo/internal/ogg"
	"github.com/skypro1111/ws-audio-echo/internal/session"
	"github.com/skypro1111/ws-audio-echo/internal/storage"
)

type testServer struct {
	ws        *WSServer
	http      *HTTPServer
	registry  *session.Registry
	sink      *events.ChannelSink
	store     *storage.Local
	config    *config.Config
	metrics   *metrics.Metrics
	promReg   *prometheus.Registry
	wsURL     string
	wsBackend *httptest.Server
}

type testOptions struct {
	maxSessions int
	readLimit   int64
	modifyCfg   func(*config.Config)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer serves the WebSocket handler on an httptest server at /ws.
func newTestServer(t *testing.T, opts testOptions) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Recording.OutputDir = t.TempDir()
	if opts.modifyCfg != nil {
		opts.modifyCfg(cfg)
	}

	store, err := storage.NewLocal(cfg.Recording.OutputDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	promReg := prometheus.NewRegistry()
	m := metrics.NewMetrics(promReg)
	sink := events.NewChannelSink(1024)

	registry, err := session.NewRegistry(session.Options{
		Ogg:             ogg.DefaultConfig(),
		EchoEnabled:     true,
		Recording:       true,
		RecordingFormat: session.FormatOgg,
		MaxSessions:     opts.maxSessions,
	}, nil, store, events.Multi{sink, m}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}

	wsServer := NewWSServer(WSServerConfig{
		Path:         "/ws",
		ReadLimit:    opts.readLimit,
		WriteTimeout: time.Second,
	}, registry, m, testLogger())

	httpServer := NewHTTPServer(HTTPServerConfig{Address: "127.0.0.1", Port: 0}, HTTPDeps{
		Config:     cfg,
		Registry:   registry,
		WSServer:   wsServer,
		Metrics:    m,
		Gatherer:   promReg,
		Recordings: store,
	}, testLogger())

	backend := httptest.NewServer(wsServer.handler())
	t.Cleanup(func() {
		backend.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wsServer.Stop(ctx)
	})

	return &testServer{
		ws:        wsServer,
		http:      httpServer,
		registry:  registry,
		sink:      sink,
		store:     store,
		config:    cfg,
		metrics:   m,
		promReg:   promReg,
		wsURL:     "ws" + strings.TrimPrefix(backend.URL, "http") + "/ws",
		wsBackend: backend,
	}
}

func mustDialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	return mt, data
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

// waitForEvent returns the first event of kind published within two seconds.
func (ts *testServer) waitForEvent(t *testing.T, kind events.Kind) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ts.sink.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s event", kind)
			return events.Event{}
		}
	}
}

// waitForSession waits until n sessions are registered.
func (ts *testServer) waitForSessions(t *testing.T, n int) {
	t.Helper()
	eventually(t, "session count", func() bool { return ts.registry.Count() == n })
}
