package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/ws-audio-echo/internal/metrics"
	"github.com/skypro1111/ws-audio-echo/internal/session"
)

// WSServerConfig contains WebSocket listener configuration
type WSServerConfig struct {
	Address      string // host:port
	Path         string
	ReadLimit    int64
	WriteTimeout time.Duration
}

// WSServer accepts device connections and runs one read loop per session
type WSServer struct {
	config   WSServerConfig
	logger   *slog.Logger
	registry *session.Registry
	metrics  *metrics.Metrics

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
	serveErr chan error

	// Connection goroutines
	wg sync.WaitGroup

	messagesReceived atomic.Uint64
	bytesReceived    atomic.Uint64
	upgradeErrors    atomic.Uint64
}

// ServerStatistics represents WebSocket listener statistics
type ServerStatistics struct {
	MessagesReceived uint64 `json:"messages_received"`
	BytesReceived    uint64 `json:"bytes_received"`
	UpgradeErrors    uint64 `json:"upgrade_errors"`
	ActiveSessions   int    `json:"active_sessions"`
}

// NewWSServer creates a WebSocket server. m may be nil.
func NewWSServer(cfg WSServerConfig, registry *session.Registry, m *metrics.Metrics, logger *slog.Logger) *WSServer {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	s := &WSServer{
		config:   cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		serveErr: make(chan error, 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices do not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// handler returns the upgrade handler
func (s *WSServer) handler() http.Handler {
	return s.server.Handler
}

// Start binds the listener and begins accepting connections. A bind failure
// is returned to the caller.
func (s *WSServer) Start() error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = listener

	s.logger.Info("WebSocket server started",
		slog.String("address", listener.Addr().String()),
		slog.String("path", s.config.Path),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start
func (s *WSServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx is done or serving fails, then
// shuts down
func (s *WSServer) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case err := <-s.serveErr:
		return fmt.Errorf("websocket server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

// Stop stops accepting connections, closes every session and waits for the
// read loops to exit
func (s *WSServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")

	err := s.server.Shutdown(ctx)

	// Hijacked connections are not tracked by http.Server.
	s.registry.Stop(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for connections to close")
	}

	stats := s.GetStatistics()
	s.logger.Info("WebSocket server stopped",
		slog.Uint64("messages_received", stats.MessagesReceived),
		slog.Uint64("bytes_received", stats.BytesReceived),
	)

	return err
}

// handleUpgrade upgrades the request and serves the connection until it
// closes
func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.config.Path {
		http.NotFound(w, r)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.upgradeErrors.Add(1)
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.serveConn(ws, r.RemoteAddr)
}

func (s *WSServer) serveConn(ws *websocket.Conn, peer string) {
	conn := newWSConn(ws, s.config.WriteTimeout)
	defer conn.Close()

	sess, err := s.registry.Open(conn, peer)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) && s.metrics != nil {
			s.metrics.RecordSessionRejected()
		}
		s.logger.Warn("Connection refused",
			slog.String("peer", peer),
			slog.String("error", err.Error()),
		)
		conn.closeWith(websocket.CloseTryAgainLater, err.Error())
		return
	}
	defer sess.Close()

	if s.config.ReadLimit > 0 {
		ws.SetReadLimit(s.config.ReadLimit)
	}

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn("Connection closed unexpectedly",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		s.messagesReceived.Add(1)
		s.bytesReceived.Add(uint64(len(data)))

		switch messageType {
		case websocket.BinaryMessage:
			sess.HandleMessage(true, data)
		case websocket.TextMessage:
			sess.HandleMessage(false, data)
		}
	}
}

// GetStatistics returns current server statistics
func (s *WSServer) GetStatistics() ServerStatistics {
	return ServerStatistics{
		MessagesReceived: s.messagesReceived.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		UpgradeErrors:    s.upgradeErrors.Load(),
		ActiveSessions:   s.registry.Count(),
	}
}
