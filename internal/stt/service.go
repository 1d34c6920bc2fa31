// Package stt owns the process-wide transcription model and its load lifecycle.
package stt

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/audio"
	"github.com/ent0n29/voiced/internal/observability"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

type Config struct {
	Model       string
	Language    string
	Threads     int
	LoadTimeout time.Duration
	Probe       DeviceProbe
}

// Request carries per-call transcription options.
type Request struct {
	Language   string
	SampleRate int
}

// Result is a successful transcription.
type Result struct {
	Text     string
	Language string
	Device   Device
	Audio    time.Duration
	Took     time.Duration
}

// Snapshot is a point-in-time view of the model handle. Taking one never blocks on a load.
type Snapshot struct {
	State         State
	Ready         bool
	Loading       bool
	HaveNative    bool
	HaveNumeric   bool
	Model         string
	Device        string
	HalfPrecision bool
	Backend       string
	LastLoadError string
}

// Service guards a single model behind a load state tag and a condition variable.
// The load runs at most once per process; a failed load is kept and returned to every later caller.
type Service struct {
	cfg     Config
	backend Backend
	metrics *observability.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	state   State
	device  Device
	model   Model
	loadErr error

	// inferMu serializes inference on non-reentrant models. It is never held during a load.
	inferMu sync.Mutex
}

func NewService(cfg Config, backend Backend, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:     cfg,
		backend: backend,
		metrics: metrics,
		logger:  logger.Named("stt"),
	}
	s.cond = sync.NewCond(&s.mu)
	metrics.SetModelState(observability.ModelIdle)
	return s
}

// Available reports whether the inference runtime is installed.
func (s *Service) Available() error {
	return s.backend.Available()
}

// EnsureLoaded starts the load if none has begun. With wait set it blocks until the load settles
// or ctx is done, otherwise a load in progress yields a not_ready error immediately.
// Canceling ctx abandons only this caller's wait; the load itself keeps running.
func (s *Service) EnsureLoaded(ctx context.Context, wait bool) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReady:
		return StateReady, nil
	case StateFailed:
		return StateFailed, s.loadErr
	case StateIdle:
		if err := s.backend.Available(); err != nil {
			return StateIdle, err
		}
		s.startLoadLocked()
	}

	if !wait {
		return s.state, apperr.New(apperr.KindNotReady, "stt.ensure", "model loading")
	}
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()
	for s.state == StateLoading {
		if err := ctx.Err(); err != nil {
			return StateLoading, err
		}
		s.cond.Wait()
	}
	if s.state == StateFailed {
		return StateFailed, s.loadErr
	}
	return s.state, nil
}

// Preload begins loading in the background. Readiness is observed the same way as a lazy load.
func (s *Service) Preload() {
	go func() {
		if _, err := s.EnsureLoaded(context.Background(), true); err != nil {
			s.logger.Warn("stt preload failed", zap.Error(err))
		}
	}()
}

func (s *Service) startLoadLocked() {
	s.state = StateLoading
	s.device = SelectDevice(s.cfg.Probe)
	s.metrics.SetModelState(observability.ModelLoading)
	opts := LoadOptions{
		Model:         s.cfg.Model,
		Device:        s.device,
		HalfPrecision: HalfPrecision(s.device),
		Language:      s.cfg.Language,
		Threads:       s.cfg.Threads,
	}
	s.logger.Info("stt model loading",
		zap.String("backend", s.backend.Name()),
		zap.String("model", opts.Model),
		zap.String("device", string(opts.Device)),
		zap.Bool("half_precision", opts.HalfPrecision),
	)
	go s.load(opts)
}

func (s *Service) load(opts LoadOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LoadTimeout)
	defer cancel()
	ctx, span := observability.Tracer().Start(ctx, "stt.load")
	span.SetAttributes(
		attribute.String("stt.model", opts.Model),
		attribute.String("stt.device", string(opts.Device)),
	)
	defer span.End()

	started := time.Now()
	model, err := s.backend.Load(ctx, opts)

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
		s.loadErr = apperr.Wrap(apperr.KindLoadFailure, "stt.load", "model load failed", err)
		s.metrics.SetModelState(observability.ModelFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		s.logger.Error("stt model load failed", zap.Error(err), zap.Duration("took", time.Since(started)))
	} else {
		s.model = model
		s.state = StateReady
		s.metrics.SetModelState(observability.ModelReady)
		s.logger.Info("stt model ready", zap.Duration("took", time.Since(started)))
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Snapshot reads the current state under the mutex without touching the load.
func (s *Service) Snapshot() Snapshot {
	haveNative := s.backend.Available() == nil
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:       s.state,
		Ready:       s.state == StateReady,
		Loading:     s.state == StateLoading,
		HaveNative:  haveNative,
		HaveNumeric: true,
		Model:       s.cfg.Model,
		Device:      string(s.device),
		Backend:     s.backend.Name(),
	}
	if snap.Device == "" {
		snap.Device = "auto"
	} else {
		snap.HalfPrecision = HalfPrecision(s.device)
	}
	if s.loadErr != nil {
		snap.LastLoadError = apperr.Message(s.loadErr)
	}
	return snap
}

// Transcribe decodes pcm as PCM16LE mono and runs it through the loaded model, loading it first if needed.
func (s *Service) Transcribe(ctx context.Context, pcm []byte, req Request) (Result, error) {
	if len(pcm) < audio.BytesPerSample {
		return Result{}, apperr.New(apperr.KindInvalidInput, "stt.transcribe", "empty body")
	}
	if err := s.backend.Available(); err != nil {
		return Result{}, err
	}
	if _, err := s.EnsureLoaded(ctx, true); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	model, device := s.model, s.device
	s.mu.Unlock()

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.InputSampleRate
	}
	language := req.Language
	if language == "" {
		language = s.cfg.Language
	}
	samples := audio.DecodePCM16(pcm)

	ctx, span := observability.Tracer().Start(ctx, "stt.transcribe")
	span.SetAttributes(attribute.Int("stt.samples", len(samples)), attribute.String("stt.language", language))
	defer span.End()

	if !model.Reentrant() {
		s.inferMu.Lock()
		defer s.inferMu.Unlock()
	}
	started := time.Now()
	text, err := model.Transcribe(ctx, samples, sampleRate, language)
	took := time.Since(started)
	s.metrics.ObserveInference(took)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		return Result{}, apperr.Wrap(apperr.KindInternal, "stt.transcribe", "inference failed", err)
	}
	return Result{
		Text:     text,
		Language: language,
		Device:   device,
		Audio:    time.Duration(len(samples)) * time.Second / time.Duration(sampleRate),
		Took:     took,
	}, nil
}

// Close releases a loaded model.
func (s *Service) Close() error {
	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if model == nil {
		return nil
	}
	return model.Close()
}
