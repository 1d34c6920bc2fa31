package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/voiced/internal/config"
	"github.com/ent0n29/voiced/internal/journal"
	"github.com/ent0n29/voiced/internal/observability"
	"github.com/ent0n29/voiced/internal/stt"
	"github.com/ent0n29/voiced/internal/synth"
	"github.com/ent0n29/voiced/internal/transport"
	"github.com/ent0n29/voiced/internal/voice"
	"github.com/ent0n29/voiced/internal/wake"
)

const serviceName = "voiced"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("voiced exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("APP_LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTLPEndpoint, cfg.OTLPInsecure, logger)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := journal.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("journal init: %w", err)
	}
	defer store.Close()

	engine, err := synth.New(cfg.TTSEngine)
	if err != nil {
		logger.Warn("tts engine unavailable, using tone engine", zap.String("engine", cfg.TTSEngine), zap.Error(err))
		engine = synth.NewTone()
	}

	transcriber := stt.NewService(stt.Config{
		Model:       cfg.STTModel,
		Language:    cfg.STTLanguage,
		Threads:     cfg.STTThreads,
		LoadTimeout: cfg.STTLoadTimeout,
		Probe:       stt.HostProbe(cfg.STTDevice),
	}, stt.NewWhisperServer(cfg.STTServer), metrics, logger)
	defer transcriber.Close()
	if err := transcriber.Available(); err != nil {
		logger.Warn("transcription backend missing, /v1/stt/transcribe will answer 503", zap.Error(err))
	} else if cfg.STTPreload {
		transcriber.Preload()
	}

	svc := voice.NewService(voice.Config{ChunkMS: cfg.ChunkMS, RedactJournal: cfg.JournalRedact}, engine, transcriber, store, metrics, logger)

	srv, err := transport.Select(cfg.Transport, transport.Deps{
		Service: svc,
		Logger:  logger,
		Options: transport.Options{
			AllowAnyOrigin:  cfg.AllowAnyOrigin,
			STTRateLimit:    cfg.STTRateLimit,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
	})
	if err != nil {
		return err
	}
	logger.Info("transport selected",
		zap.String("transport", srv.Name()),
		zap.String("tts_engine", engine.Name()),
		zap.String("addr", cfg.Addr()),
	)

	listener, err := newWakeListener(cfg, transcriber, store, metrics, logger)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Serve(groupCtx, cfg.Addr())
	})
	if listener != nil {
		if err := listener.Start(groupCtx); err != nil {
			logger.Warn("wake listener disabled", zap.Error(err))
		} else {
			group.Go(func() error {
				<-groupCtx.Done()
				listener.Stop()
				return nil
			})
		}
	}

	err = group.Wait()
	logger.Info("shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newWakeListener(cfg config.Config, transcriber *stt.Service, store journal.Store,
	metrics *observability.Metrics, logger *zap.Logger) (*wake.Listener, error) {
	if !cfg.WakeEnabled {
		return nil, nil
	}
	openEngine, err := wake.NewEngineOpener(cfg.WakeEngine, wake.EngineConfig{
		Phrase:      cfg.WakePhrase,
		Transcriber: transcriber,
		Language:    cfg.STTLanguage,
		Command:     cfg.WakeCommand,
		Keyword: wake.KeywordConfig{
			Path:      cfg.PorcupineKeywordPath,
			Dir:       cfg.PorcupineKeywordDir,
			ModelPath: cfg.PorcupineModelPath,
		},
		AccessKey:   cfg.PorcupineAccessKey,
		Sensitivity: cfg.PorcupineSensitivity,
	})
	if err != nil {
		return nil, err
	}
	return wake.NewListener(
		wake.Config{Refractory: cfg.WakeRefractory},
		openEngine,
		wake.NewExecCaptureOpener(cfg.WakeCaptureCmd),
		wake.NewHTTPNotifier(cfg.CoreBaseURL, cfg.RealtimeVoice),
		store, metrics, logger,
	), nil
}
