package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/ws-audio-echo/internal/audio"
	"github.com/skypro1111/ws-audio-echo/internal/config"
	"github.com/skypro1111/ws-audio-echo/internal/metrics"
	"github.com/skypro1111/ws-audio-echo/internal/session"
	"github.com/skypro1111/ws-audio-echo/internal/storage"
)

const (
	serviceName    = "ws-audio-echo"
	serviceVersion = "1.0.0"

	maxCommandBody = 64 * 1024
	sendTimeout    = 5 * time.Second
)

// HTTPServer provides HTTP API endpoints for monitoring and device commands
type HTTPServer struct {
	server     *http.Server
	listener   net.Listener
	serveErr   chan error
	logger     *slog.Logger
	config     *config.Config
	registry   *session.Registry
	wsServer   *WSServer
	metrics    *metrics.Metrics
	gatherer   prometheus.Gatherer
	recordings *storage.Local

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
}

// HTTPDeps bundles what the API reports on. Metrics, Gatherer and
// Recordings are optional.
type HTTPDeps struct {
	Config     *config.Config
	Registry   *session.Registry
	WSServer   *WSServer
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Recordings *storage.Local
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, deps HTTPDeps, logger *slog.Logger) *HTTPServer {
	h := &HTTPServer{
		logger:     logger,
		serveErr:   make(chan error, 1),
		config:     deps.Config,
		registry:   deps.Registry,
		wsServer:   deps.WSServer,
		metrics:    deps.Metrics,
		gatherer:   deps.Gatherer,
		recordings: deps.Recordings,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// handler returns the API handler
func (h *HTTPServer) handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Sessions and device commands
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	mux.HandleFunc("/broadcast", h.withMetrics("/broadcast", h.handleBroadcast))

	mux.HandleFunc("/recordings", h.withMetrics("/recordings", h.handleRecordings))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	gatherer := h.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, time.Since(startTime).Seconds())

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and begins serving
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.serveErr <- err
		}
	}()

	return nil
}

// Run starts the server and blocks until ctx is done or serving fails
func (h *HTTPServer) Run(ctx context.Context) error {
	if err := h.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case err := <-h.serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Stop(shutdownCtx)
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	regStats := h.registry.Stats()

	components := map[string]interface{}{
		"session_registry": map[string]interface{}{
			"status":          "running",
			"active_sessions": regStats.ActiveSessions,
			"pending_jobs":    regStats.PendingJobs,
		},
		"decoder": map[string]interface{}{
			"status": "running",
			"mode":   regStats.DecodeMode,
		},
	}
	if h.wsServer != nil {
		wsStats := h.wsServer.GetStatistics()
		components["websocket_server"] = map[string]interface{}{
			"status":            "running",
			"messages_received": wsStats.MessagesReceived,
			"bytes_received":    wsStats.BytesReceived,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	})
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	infos := h.registry.List()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleSessionDetail implements GET /sessions/{id} and POST
// /sessions/{id}/send
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session ID required")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s, ok := h.registry.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, s.Info())

	case "send":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, ok := h.readCommand(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
		defer cancel()

		if err := h.registry.SendText(ctx, id, body); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "sent",
			"session_id": id,
		})

	default:
		http.NotFound(w, r)
	}
}

// handleBroadcast implements POST /broadcast
func (h *HTTPServer) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, ok := h.readCommand(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	sent := h.registry.Broadcast(ctx, body)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "sent",
		"sent":   sent,
		"total":  h.registry.Count(),
	})
}

// readCommand reads a device command body. Commands are JSON objects with a
// string "type" field, the same shape devices send.
func (h *HTTPServer) readCommand(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "command too large")
		return nil, false
	}

	var command map[string]interface{}
	if err := json.Unmarshal(body, &command); err != nil {
		writeError(w, http.StatusBadRequest, "command must be a JSON object")
		return nil, false
	}
	if t, ok := command["type"].(string); !ok || t == "" {
		writeError(w, http.StatusBadRequest, "command must have a string type field")
		return nil, false
	}

	return body, true
}

// handleRecordings implements the /recordings endpoint
func (h *HTTPServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.recordings == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled":    false,
			"recordings": []storage.ArtifactInfo{},
		})
		return
	}

	list, err := h.recordings.List()
	if err != nil {
		h.logger.Error("Failed to list recordings", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	items := make([]recordingItem, 0, len(list))
	for _, info := range list {
		item := recordingItem{ArtifactInfo: info}
		if strings.HasSuffix(info.Name, ".wav") {
			item.WAV = h.wavInfo(info.Name)
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":    true,
		"directory":  h.recordings.Root(),
		"total":      len(items),
		"recordings": items,
	})
}

type recordingItem struct {
	storage.ArtifactInfo
	WAV *audio.WAVInfo `json:"wav,omitempty"`
}

// wavInfo reads the header of a stored WAV recording; nil when unreadable
func (h *HTTPServer) wavInfo(name string) *audio.WAVInfo {
	head, err := h.recordings.ReadHead(name, audio.WAVHeaderSize)
	if err != nil {
		h.logger.Debug("Failed to read recording header",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return nil
	}
	info, err := audio.GetWAVInfo(head)
	if err != nil {
		h.logger.Debug("Recording is not a canonical WAV",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return nil
	}
	return info
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"bind_address":  c.Server.BindAddress,
			"port":          c.Server.Port,
			"path":          c.Server.Path,
			"read_limit":    c.Server.ReadLimit,
			"write_timeout": c.Server.WriteTimeout,
			"max_sessions":  c.Server.MaxSessions,
		},
		"audio": map[string]interface{}{
			"sample_rate":               c.Audio.SampleRate,
			"channels":                  c.Audio.Channels,
			"frame_duration_ms":         c.Audio.FrameDurationMs,
			"pre_skip":                  c.Audio.PreSkip,
			"output_gain":               c.Audio.OutputGain,
			"mapping_family":            c.Audio.MappingFamily,
			"serial":                    c.Audio.Serial,
			"vendor":                    c.Audio.Vendor,
			"terminate_aligned_packets": c.Audio.TerminateAlignedPackets,
		},
		"echo": map[string]interface{}{
			"enabled": c.Echo.Enabled,
		},
		"recording": map[string]interface{}{
			"enabled":    c.Recording.Enabled,
			"output_dir": c.Recording.OutputDir,
			"format":     c.Recording.Format,
		},
		"decode": map[string]interface{}{
			"mode":         c.Decode.Mode,
			"active_mode":  string(h.registry.Strategy().Mode()),
			"opusdec_path": c.Decode.OpusdecPath,
			"timeout":      c.Decode.Timeout,
		},
		"storage": map[string]interface{}{
			"s3": map[string]interface{}{
				"enabled":  c.Storage.S3.Enabled(),
				"bucket":   c.Storage.S3.Bucket,
				"prefix":   c.Storage.S3.Prefix,
				"region":   c.Storage.S3.Region,
				"endpoint": c.Storage.S3.Endpoint,
				// Credentials are intentionally omitted
			},
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions":  h.registry.Stats(),
	}
	if h.wsServer != nil {
		stats["websocket"] = h.wsServer.GetStatistics()
	}
	if offline := h.registry.Strategy().Offline(); offline != nil {
		stats["offline_decode"] = offline.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "WebSocket Audio Echo Service",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /sessions":            "List connected devices",
			"GET /sessions/{id}":       "Get detailed session information",
			"POST /sessions/{id}/send": "Send a JSON command to one device",
			"POST /broadcast":          "Send a JSON command to every device",
			"GET /recordings":          "List persisted recordings",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get service statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
