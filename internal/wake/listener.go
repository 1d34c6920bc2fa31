package wake

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/journal"
	"github.com/ent0n29/voiced/internal/observability"
	"github.com/ent0n29/voiced/internal/reliability"
)

type State int

const (
	StateNew State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

const (
	DefaultRefractory = 3 * time.Second
	readBackoffBase   = 100 * time.Millisecond
	readBackoffCap    = 2 * time.Second
	journalTimeout    = time.Second
)

var (
	ErrAlreadyStarted = errors.New("wake listener already started")
	ErrStopped        = errors.New("wake listener stopped")
)

type Config struct {
	// Refractory is the minimum spacing between accepted detections.
	Refractory time.Duration
}

type Option func(*Listener)

// WithClock replaces time.Now for refractory bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// Listener runs the capture, detect, notify loop on one goroutine. It can be started once; once
// stopped it stays stopped.
type Listener struct {
	cfg         Config
	openEngine  EngineOpener
	openCapture CaptureOpener
	notifier    Notifier
	store       journal.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	engine  Engine
	capture Capture

	notifies sync.WaitGroup
	// lastAccepted is owned by the loop goroutine.
	lastAccepted time.Time
}

func NewListener(cfg Config, openEngine EngineOpener, openCapture CaptureOpener, notifier Notifier,
	store journal.Store, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Listener {
	if cfg.Refractory <= 0 {
		cfg.Refractory = DefaultRefractory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Listener{
		cfg:         cfg,
		openEngine:  openEngine,
		openCapture: openCapture,
		notifier:    notifier,
		store:       store,
		metrics:     metrics,
		logger:      logger.Named("wake"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start probes the keyword engine and the capture device and launches the loop. When a probe
// fails the listener is disabled and the error says which dependency is missing.
func (l *Listener) Start(ctx context.Context) error {
	const op = "wake.start"
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	engine, err := l.openEngine()
	if err != nil {
		l.state = StateStopped
		l.logger.Warn("wake disabled", zap.String("reason", "keyword engine"), zap.Error(err))
		return apperr.Wrap(apperr.KindDependencyMissing, op, "keyword engine unavailable", err)
	}
	capture, err := l.openCapture(SampleRate, engine.FrameLength())
	if err != nil {
		_ = engine.Close()
		l.state = StateStopped
		l.logger.Warn("wake disabled", zap.String("reason", "capture"), zap.Error(err))
		return apperr.Wrap(apperr.KindDependencyMissing, op, "capture unavailable", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.engine, l.capture = engine, capture
	l.cancel = cancel
	l.done = make(chan struct{})
	l.state = StateRunning
	go l.run(runCtx, l.done, engine, capture)
	l.logger.Info("wake listener started",
		zap.String("engine", engine.Name()),
		zap.Int("frame_length", engine.FrameLength()),
		zap.Duration("refractory", l.cfg.Refractory),
	)
	return nil
}

// Stop ends the loop and waits for it and for in-flight notifications. Safe to call repeatedly.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.state != StateRunning {
		l.state = StateStopped
		l.mu.Unlock()
		return
	}
	l.state = StateStopped
	l.cancel()
	_ = l.capture.Close()
	done, engine := l.done, l.engine
	l.mu.Unlock()

	<-done
	l.notifies.Wait()
	_ = engine.Close()
	l.logger.Info("wake listener stopped")
}

func (l *Listener) run(ctx context.Context, done chan struct{}, engine Engine, capture Capture) {
	defer close(done)
	frame := make([]int16, engine.FrameLength())
	failures, engineFailures := 0, 0
	for ctx.Err() == nil {
		if err := capture.ReadFrame(frame); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrCaptureClosed) {
				return
			}
			delay := reliability.ExponentialBackoff(failures, readBackoffBase, readBackoffCap)
			failures++
			l.logger.Warn("wake capture read failed", zap.Error(err), zap.Duration("retry_in", delay))
			reliability.Sleep(ctx, delay)
			continue
		}
		failures = 0

		det, ok, err := engine.Process(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := reliability.ExponentialBackoff(engineFailures, readBackoffBase, readBackoffCap)
			engineFailures++
			l.logger.Warn("wake engine error", zap.Error(err), zap.Duration("retry_in", delay))
			reliability.Sleep(ctx, delay)
			continue
		}
		engineFailures = 0
		if ok {
			l.accept(ctx, det)
		}
	}
}

// accept applies the refractory window and dispatches the notification without waiting for it.
func (l *Listener) accept(ctx context.Context, det Detection) {
	now := l.now()
	if !l.lastAccepted.IsZero() && now.Sub(l.lastAccepted) < l.cfg.Refractory {
		l.metrics.ObserveWake("suppressed")
		l.logger.Debug("wake detection suppressed", zap.Duration("since_last", now.Sub(l.lastAccepted)))
		return
	}
	l.lastAccepted = now
	l.metrics.ObserveWake("accepted")
	l.logger.Info("wake detected", zap.String("keyword", det.Keyword), zap.String("text", det.Text))

	bg := context.WithoutCancel(ctx)
	l.notifies.Add(1)
	go func() {
		defer l.notifies.Done()
		if err := l.notifier.Notify(bg); err != nil {
			l.metrics.WakeNotifyFailed()
			l.logger.Warn("wake notify failed", zap.Error(err))
		}
	}()
	l.record(bg, det, now)
}

func (l *Listener) record(ctx context.Context, det Detection, at time.Time) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	text := det.Text
	if text == "" {
		text = det.Keyword
	}
	if _, err := l.store.Append(ctx, journal.Entry{Kind: journal.KindWake, Text: text, CreatedAt: at}); err != nil {
		l.logger.Warn("wake journal append failed", zap.Error(err))
	}
}
