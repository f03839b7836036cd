package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/ws-audio-echo/internal/decode"
	"github.com/skypro1111/ws-audio-echo/internal/events"
	"github.com/skypro1111/ws-audio-echo/internal/ogg"
	"github.com/skypro1111/ws-audio-echo/internal/storage"
)

var (
	// ErrTooManySessions is returned by Open when the session limit is reached
	ErrTooManySessions = errors.New("too many sessions")

	// ErrSessionNotFound is returned for an unknown session ID
	ErrSessionNotFound = errors.New("session not found")

	// ErrRegistryClosed is returned by Open after Stop
	ErrRegistryClosed = errors.New("registry closed")
)

// Recording formats
const (
	FormatOgg = "ogg"
	FormatRaw = "raw"
)

// Options configures how sessions treat an utterance
type Options struct {
	Ogg             ogg.Config
	EchoEnabled     bool
	Recording       bool
	RecordingFormat string // FormatOgg or FormatRaw
	MaxSessions     int    // 0 means unlimited

	// Playback receives decoded PCM in in-process mode. Optional.
	Playback decode.PCMSink
}

// Stats represents registry-wide statistics
type Stats struct {
	ActiveSessions int       `json:"active_sessions"`
	TotalSessions  uint64    `json:"total_sessions"`
	Rejected       uint64    `json:"rejected_sessions"`
	Utterances     uint64    `json:"utterances"`
	PendingJobs    int64     `json:"pending_artifact_jobs"`
	DecodeMode     string    `json:"decode_mode"`
	StartTime      time.Time `json:"start_time"`
}

// Registry tracks live sessions and holds what they share: the decode
// strategy, the artifact store and the event sink
type Registry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	closed   bool

	opts     Options
	strategy *decode.Strategy
	store    storage.Store
	sink     events.Sink
	logger   *slog.Logger

	// Artifact jobs outlive the session that started them
	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup

	totalSessions atomic.Uint64
	rejected      atomic.Uint64
	utterances    atomic.Uint64
	pendingJobs   atomic.Int64
	startTime     time.Time
}

// NewRegistry creates a registry. store may be nil when recording is
// disabled; strategy may be nil for persist-only operation.
func NewRegistry(opts Options, strategy *decode.Strategy, store storage.Store, sink events.Sink, logger *slog.Logger) (*Registry, error) {
	if err := opts.Ogg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid container config: %w", err)
	}

	if opts.Recording {
		if store == nil {
			return nil, fmt.Errorf("recording enabled without an artifact store")
		}
		if opts.RecordingFormat != FormatOgg && opts.RecordingFormat != FormatRaw {
			return nil, fmt.Errorf("unknown recording format %q", opts.RecordingFormat)
		}
	}

	if strategy == nil {
		strategy = decode.Persistent()
	}

	if strategy.Mode() == decode.ModeOffline && (!opts.Recording || opts.RecordingFormat != FormatOgg) {
		return nil, fmt.Errorf("offline decoding needs ogg recording enabled")
	}

	if sink == nil {
		sink = events.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		sessions:  make(map[string]*Session),
		opts:      opts,
		strategy:  strategy,
		store:     store,
		sink:      sink,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}, nil
}

// Open admits a connection and returns its session
func (r *Registry) Open(conn Conn, peer string) (*Session, error) {
	s, err := r.newSession(conn, peer)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		s.cancel()
		return nil, ErrRegistryClosed
	}
	if r.opts.MaxSessions > 0 && len(r.sessions) >= r.opts.MaxSessions {
		r.mu.Unlock()
		s.cancel()
		r.rejected.Add(1)
		return nil, fmt.Errorf("%w: limit is %d", ErrTooManySessions, r.opts.MaxSessions)
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.totalSessions.Add(1)
	r.sink.Publish(events.Event{
		Kind:      events.KindConnected,
		SessionID: s.ID,
		Peer:      s.Peer,
		Time:      s.ConnectedAt,
	})

	return s, nil
}

func (r *Registry) newSession(conn Conn, peer string) (*Session, error) {
	enc, err := ogg.NewEncoder(r.opts.Ogg)
	if err != nil {
		return nil, err
	}

	dec, err := r.strategy.NewPacketDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create packet decoder: %w", err)
	}

	return newSession(r, uuid.NewString(), peer, conn, enc, dec), nil
}

// Close removes a session, cancels its pending sends and publishes the
// disconnect. Closing an unknown or already closed session is a no-op.
func (r *Registry) Close(s *Session) {
	r.mu.Lock()
	current, exists := r.sessions[s.ID]
	if exists && current == s {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	if !exists || current != s {
		return
	}

	s.cancel()
	r.sink.Publish(events.Event{
		Kind:      events.KindDisconnected,
		SessionID: s.ID,
		Peer:      s.Peer,
		Time:      time.Now(),
		Packets:   int(s.packetsReceived.Load()),
		Duration:  time.Since(s.ConnectedAt),
	})
}

// Get returns the session with the given ID
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns information on all live sessions, oldest first
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// SendText sends a text frame to one session
func (r *Registry) SendText(ctx context.Context, id string, text []byte) error {
	s, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.SendText(ctx, text)
}

// Broadcast sends a text frame to every live session and returns how many
// sends succeeded
func (r *Registry) Broadcast(ctx context.Context, text []byte) int {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sent := 0
	for _, s := range sessions {
		if err := s.SendText(ctx, text); err != nil {
			r.logger.Warn("Broadcast send failed",
				slog.String("session_id", s.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}
	return sent
}

// Stats returns registry statistics
func (r *Registry) Stats() Stats {
	return Stats{
		ActiveSessions: r.Count(),
		TotalSessions:  r.totalSessions.Load(),
		Rejected:       r.rejected.Load(),
		Utterances:     r.utterances.Load(),
		PendingJobs:    r.pendingJobs.Load(),
		DecodeMode:     string(r.strategy.Mode()),
		StartTime:      r.startTime,
	}
}

// Strategy returns the decode strategy in use
func (r *Registry) Strategy() *decode.Strategy {
	return r.strategy
}

// Wait blocks until all started artifact jobs have finished
func (r *Registry) Wait() {
	r.jobs.Wait()
}

// Stop closes every session, refuses new ones and waits for artifact jobs
// until ctx is done, then cancels the rest
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.conn.Close(); err != nil {
			r.logger.Debug("Error closing connection", slog.String("session_id", s.ID), slog.String("error", err.Error()))
		}
		r.Close(s)
	}

	done := make(chan struct{})
	go func() {
		r.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("Artifact jobs still running at shutdown, cancelling",
			slog.Int64("pending", r.pendingJobs.Load()))
		r.cancel()
		<-done
	}
	r.cancel()

	r.logger.Info("Session registry stopped",
		slog.Uint64("total_sessions", r.totalSessions.Load()),
		slog.Uint64("utterances", r.utterances.Load()),
	)
}
