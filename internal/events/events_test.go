package events

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestMultiPublishesInOrder(t *testing.T) {
	var got []string
	record := func(name string) Sink {
		return SinkFunc(func(e Event) { got = append(got, name+":"+string(e.Kind)) })
	}

	m := Multi{record("a"), nil, record("b")}
	m.Publish(Event{Kind: KindConnected})

	want := []string{"a:connected", "b:connected"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d deliveries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Delivery %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(2)

	for i := 0; i < 5; i++ {
		sink.Publish(Event{Kind: KindAudio, Bytes: i})
	}

	if sink.Dropped() != 3 {
		t.Errorf("Expected 3 dropped events, got %d", sink.Dropped())
	}

	first := <-sink.Events()
	second := <-sink.Events()
	if first.Bytes != 0 || second.Bytes != 1 {
		t.Errorf("Expected oldest events to be kept, got %d and %d", first.Bytes, second.Bytes)
	}
}

func TestChannelSinkClose(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Close()
	sink.Close()

	sink.Publish(Event{Kind: KindAudio})
	if sink.Dropped() != 1 {
		t.Errorf("Expected publish after close to be dropped, got %d", sink.Dropped())
	}

	if _, ok := <-sink.Events(); ok {
		t.Error("Expected closed channel")
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewLogSink(logger)

	sink.Publish(Event{Kind: KindConnected, SessionID: "s1", Peer: "10.0.0.2:5000"})
	sink.Publish(Event{Kind: KindError, SessionID: "s1", ErrorClass: ErrorMalformedFrame, Err: errors.New("length mismatch")})
	sink.Publish(Event{Kind: KindMessage, SessionID: "s1", Type: "status", Text: strings.Repeat("x", 600)})

	out := buf.String()
	for _, want := range []string{
		"Client connected",
		"session_id=s1",
		"level=WARN",
		"class=malformed_frame",
		"length mismatch",
		"type=status",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %q, got:\n%s", want, out)
		}
	}

	if strings.Contains(out, strings.Repeat("x", 501)) {
		t.Error("Expected message text to be truncated to 500 bytes")
	}
}
