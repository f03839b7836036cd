package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skypro1111/ws-audio-echo/internal/events"
)

// knownMessageTypes are the device message types that get their own series.
// The type string comes from the device, so anything else is counted as
// "other" to keep the label set bounded.
var knownMessageTypes = map[string]bool{
	"status":  true,
	"sensor":  true,
	"video":   true,
	"capture": true,
	"error":   true,
	"unknown": true,
}

func messageTypeLabel(msgType string) string {
	if knownMessageTypes[msgType] {
		return msgType
	}
	return "other"
}

// Metrics contains all Prometheus metrics for the echo bridge
type Metrics struct {
	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsOpened   prometheus.Counter
	SessionsClosed   prometheus.Counter
	SessionDuration  prometheus.Histogram
	SessionsRejected prometheus.Counter

	// Packet metrics
	PacketsReceived   *prometheus.CounterVec
	PacketBytes       prometheus.Histogram
	MessagesForwarded *prometheus.CounterVec
	Errors            *prometheus.CounterVec

	// Utterance metrics
	Utterances       prometheus.Counter
	UtterancePackets prometheus.Histogram
	EchoFrames       prometheus.Counter

	// Artifact metrics
	ArtifactsSaved  prometheus.Counter
	ArtifactBytes   prometheus.Histogram
	DecodesFinished prometheus.Counter
	DecodeDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echo_active_sessions",
			Help: "Current number of connected devices",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_sessions_opened_total",
			Help: "Total number of sessions opened",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_sessions_closed_total",
			Help: "Total number of sessions closed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_session_duration_seconds",
			Help:    "Lifetime of device sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		SessionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_sessions_rejected_total",
			Help: "Total number of connections refused at the session limit",
		}),

		// Packet metrics
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_packets_received_total",
			Help: "Total number of encoded packets buffered",
		}, []string{"framing"}),
		PacketBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_packet_size_bytes",
			Help:    "Size of buffered encoded packets",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10), // 8B to 4KB
		}),
		MessagesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_messages_forwarded_total",
			Help: "Total number of non-audio messages forwarded to observers",
		}, []string{"type"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_errors_total",
			Help: "Total number of recoverable session errors",
		}, []string{"class"}),

		// Utterance metrics
		Utterances: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_utterances_total",
			Help: "Total number of audio_end signals processed",
		}),
		UtterancePackets: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_utterance_packets",
			Help:    "Number of packets per utterance",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 to 2048 packets
		}),
		EchoFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_frames_sent_total",
			Help: "Total number of binary frames echoed to devices",
		}),

		// Artifact metrics
		ArtifactsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_artifacts_saved_total",
			Help: "Total number of recordings persisted",
		}),
		ArtifactBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_artifact_size_bytes",
			Help:    "Size of persisted recordings",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		DecodesFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_decodes_finished_total",
			Help: "Total number of recordings decoded to WAV",
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_offline_decode_duration_seconds",
			Help:    "Duration of external decode tool runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echo_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Publish updates the collectors from a session event
func (m *Metrics) Publish(e events.Event) {
	switch e.Kind {
	case events.KindConnected:
		m.SessionsOpened.Inc()
		m.ActiveSessions.Inc()

	case events.KindDisconnected:
		m.SessionsClosed.Inc()
		m.ActiveSessions.Dec()
		m.SessionDuration.Observe(e.Duration.Seconds())

	case events.KindAudio:
		framing := "binary"
		if e.Legacy {
			framing = "legacy"
		}
		m.PacketsReceived.WithLabelValues(framing).Inc()
		m.PacketBytes.Observe(float64(e.Bytes))

	case events.KindUtterance:
		m.Utterances.Inc()
		m.UtterancePackets.Observe(float64(e.Packets))

	case events.KindEcho:
		m.EchoFrames.Add(float64(e.Packets))

	case events.KindPersisted:
		m.ArtifactsSaved.Inc()
		m.ArtifactBytes.Observe(float64(e.Bytes))

	case events.KindDecoded:
		m.DecodesFinished.Inc()
		if e.Duration > 0 {
			m.DecodeDuration.Observe(e.Duration.Seconds())
		}

	case events.KindMessage:
		if e.ErrorClass != "" {
			m.Errors.WithLabelValues(e.ErrorClass).Inc()
			return
		}
		m.MessagesForwarded.WithLabelValues(messageTypeLabel(e.Type)).Inc()

	case events.KindError:
		m.Errors.WithLabelValues(e.ErrorClass).Inc()
		if e.ErrorClass == events.ErrorOfflineDecode && e.Duration > 0 {
			m.DecodeDuration.Observe(e.Duration.Seconds())
		}
	}
}

// RecordSessionRejected increments the rejected sessions counter
func (m *Metrics) RecordSessionRejected() {
	m.SessionsRejected.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

var _ events.Sink = (*Metrics)(nil)
