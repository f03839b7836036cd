package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/ws-audio-echo/internal/config"
	"github.com/skypro1111/ws-audio-echo/internal/decode"
	"github.com/skypro1111/ws-audio-echo/internal/events"
	"github.com/skypro1111/ws-audio-echo/internal/metrics"
	"github.com/skypro1111/ws-audio-echo/internal/server"
	"github.com/skypro1111/ws-audio-echo/internal/session"
	"github.com/skypro1111/ws-audio-echo/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket listener and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, logCloser := initLogger(cfg.Logging, verbose)
		defer logCloser.Close()

		logger.Info("Service starting",
			slog.String("service", serviceName),
			slog.String("version", serviceVersion),
			slog.String("config_path", configPath),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServer(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServer wires the components and blocks until ctx is cancelled or a
// listener fails
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Configuration loaded",
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("port", cfg.Server.Port),
		slog.String("path", cfg.Server.Path),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_duration_ms", cfg.Audio.FrameDurationMs),
		slog.Bool("echo", cfg.Echo.Enabled),
		slog.Bool("recording", cfg.Recording.Enabled),
		slog.String("decode_mode", cfg.Decode.Mode),
		slog.String("log_level", cfg.Logging.Level),
	)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(promRegistry)
	sink := events.Multi{events.NewLogSink(logger), appMetrics}

	strategy, err := decode.Select(decode.Config{
		Mode:       cfg.Decode.Mode,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		ToolPath:   cfg.Decode.OpusdecPath,
		Timeout:    cfg.Decode.GetTimeoutDuration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to select decoder: %w", err)
	}
	defer strategy.Close()

	var (
		store      storage.Store
		recordings *storage.Local
	)
	if cfg.Recording.Enabled {
		recordings, err = storage.NewLocal(cfg.Recording.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to create recordings directory: %w", err)
		}
		store = recordings

		if s3cfg := cfg.Storage.S3; s3cfg.Enabled() {
			client := storage.NewS3Client(storage.S3Options{
				Region:          s3cfg.Region,
				Endpoint:        s3cfg.Endpoint,
				AccessKeyID:     s3cfg.AccessKeyID,
				SecretAccessKey: s3cfg.SecretAccessKey,
				PathStyle:       s3cfg.PathStyle,
			})
			mirror := storage.NewS3(client, s3cfg.Bucket, s3cfg.Prefix)
			checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := mirror.Check(checkCtx); err != nil {
				logger.Warn("S3 mirror unreachable, recordings stay local until it recovers",
					slog.String("error", err.Error()))
			}
			cancel()
			store = storage.NewMirrored(recordings, logger, mirror)
			logger.Info("S3 mirror enabled",
				slog.String("bucket", s3cfg.Bucket),
				slog.String("prefix", s3cfg.Prefix),
			)
		}
	}

	registry, err := session.NewRegistry(session.Options{
		Ogg:             cfg.Audio.OggConfig(),
		EchoEnabled:     cfg.Echo.Enabled,
		Recording:       cfg.Recording.Enabled,
		RecordingFormat: cfg.Recording.Format,
		MaxSessions:     cfg.Server.MaxSessions,
	}, strategy, store, sink, logger)
	if err != nil {
		return fmt.Errorf("failed to create session registry: %w", err)
	}
	logger.Info("Session registry initialized",
		slog.String("decode_mode", string(strategy.Mode())),
	)

	wsServer := server.NewWSServer(server.WSServerConfig{
		Address:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port),
		Path:         cfg.Server.Path,
		ReadLimit:    cfg.Server.ReadLimit,
		WriteTimeout: cfg.Server.GetWriteTimeoutDuration(),
	}, registry, appMetrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return wsServer.Run(gctx)
	})

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
		}, server.HTTPDeps{
			Config:     cfg,
			Registry:   registry,
			WSServer:   wsServer,
			Metrics:    appMetrics,
			Gatherer:   promRegistry,
			Recordings: recordings,
		}, logger)

		g.Go(func() error {
			return httpServer.Run(gctx)
		})
	}

	err = g.Wait()

	stats := registry.Stats()
	logger.Info("Final session statistics",
		slog.Uint64("total_sessions", stats.TotalSessions),
		slog.Uint64("rejected_sessions", stats.Rejected),
		slog.Uint64("utterances", stats.Utterances),
	)

	if err != nil {
		return err
	}
	logger.Info("Service stopped")
	return nil
}
