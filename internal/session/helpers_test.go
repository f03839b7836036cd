package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/skypro1111/ws-audio-echo/internal/decode"
	"github.com/skypro1111/ws-audio-echo/internal/events"
	"github.com/skypro1111/ws-audio-echo/internal/ogg"
	"github.com/skypro1111/ws-audio-echo/internal/storage"
)

var errConnClosed = errors.New("connection closed")

// fakeConn records outbound frames. failAfter < 0 never fails.
type fakeConn struct {
	mu        sync.Mutex
	binary    [][]byte
	text      [][]byte
	failAfter int
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{failAfter: -1}
}

func (c *fakeConn) SendBinary(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.failAfter >= 0 && len(c.binary) >= c.failAfter {
		return errConnClosed
	}
	c.binary = append(c.binary, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SendText(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.text = append(c.text, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) binaryFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.binary...)
}

func (c *fakeConn) textFrames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.text...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	registry *Registry
	sink     *events.ChannelSink
	store    *storage.Local
}

// newTestEnv builds a registry recording ogg artifacts into a temp dir.
func newTestEnv(t *testing.T, modify func(*Options), strategy *decode.Strategy) *testEnv {
	t.Helper()

	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	opts := Options{
		Ogg:             ogg.DefaultConfig(),
		EchoEnabled:     true,
		Recording:       true,
		RecordingFormat: FormatOgg,
	}
	if modify != nil {
		modify(&opts)
	}

	sink := events.NewChannelSink(1024)
	registry, err := NewRegistry(opts, strategy, store, sink, testLogger())
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	t.Cleanup(func() { registry.Stop(context.Background()) })

	return &testEnv{registry: registry, sink: sink, store: store}
}

// drain returns the events published so far.
func (e *testEnv) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-e.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func filterKind(evs []events.Event, kind events.Kind) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
