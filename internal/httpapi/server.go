// Package httpapi is the concurrent transport: chi over net/http with a websocket synthesis stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/voiced/internal/apperr"
	"github.com/ent0n29/voiced/internal/observability"
	"github.com/ent0n29/voiced/internal/protocol"
	"github.com/ent0n29/voiced/internal/synth"
	"github.com/ent0n29/voiced/internal/voice"
)

const (
	transportName   = "concurrent"
	writeTimeout    = 10 * time.Second
	defaultMaxBody  = 32 << 20
	streamReadLimit = 64 << 10
)

type Config struct {
	AllowAnyOrigin  bool
	STTRateLimit    int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg      Config
	svc      *voice.Service
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg Config, svc *voice.Service, logger *zap.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: svc.Metrics(),
		logger:  logger.Named("httpapi"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Name() string { return transportName }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler())

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/tts/health", s.handleTTSHealth)
	r.Get("/v1/tts/stream", s.handleTTSStream)
	r.Get("/v1/stt/health", s.handleSTTHealth)
	r.Get("/v1/stt/recent", s.handleRecent)
	r.Group(func(r chi.Router) {
		if s.cfg.STTRateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.STTRateLimit, time.Minute))
		}
		r.Post("/v1/stt/transcribe", s.handleTranscribe)
	})
	return r
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	origins := []string{"http://localhost:*", "http://127.0.0.1:*"}
	if s.cfg.AllowAnyOrigin {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Sample-Rate"},
	})
}

// Serve listens on addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln and shuts down gracefully when ctx is canceled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("transport", transportName))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "transport": transportName})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	stt := s.svc.STTHealth()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ready",
		"tts_ready": s.svc.TTSHealth().TTSReady,
		"stt_ready": stt.STTReady,
	})
}

func (s *Server) handleTTSHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.TTSHealth())
}

func (s *Server) handleSTTHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.STTHealth())
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	sampleRate, err := voice.ParseSampleRate(r.Header.Get("X-Sample-Rate"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, string(apperr.KindInvalidInput), "body too large")
			return
		}
		respondAppError(w, apperr.Wrap(apperr.KindInvalidInput, "httpapi.transcribe", "read body", err))
		return
	}
	out, err := s.svc.Transcribe(r.Context(), body, r.URL.Query().Get("language"), sampleRate)
	if err != nil {
		if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
			s.logger.Warn("transcription failed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err),
			)
		}
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, err := voice.ParseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondAppError(w, err)
		return
	}
	entries, err := s.svc.Recent(r.Context(), limit)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleTTSStream synthesizes the first text frame, sends it as binary frames and closes the socket.
func (s *Server) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.ObserveStream(transportName, "upgrade_failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(streamReadLimit)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		text, err := protocol.ParseStreamRequest(data, synth.DefaultText)
		if err != nil {
			s.metrics.ObserveStream(transportName, "invalid")
			s.closeWithError(conn, websocket.CloseUnsupportedData,
				apperr.Wrap(apperr.KindInvalidInput, "httpapi.stream", "invalid stream request", err))
			return
		}
		s.stream(r.Context(), conn, text)
		return
	}
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, text string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("synthesis panic", zap.Any("panic", rec))
			s.metrics.ObserveStream(transportName, "error")
			s.closeWithError(conn, websocket.CloseInternalServerErr,
				apperr.New(apperr.KindInternal, "httpapi.stream", "synthesis failed"))
		}
	}()

	st := s.svc.Synthesize(text)
	for chunk := range st.Chunks() {
		if ctx.Err() != nil {
			s.metrics.ObserveStream(transportName, "aborted")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.metrics.ObserveStream(transportName, "aborted")
			s.logger.Debug("stream client gone", zap.Error(err))
			return
		}
		s.metrics.AddChunk(transportName)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	s.metrics.ObserveStream(transportName, "ok")
}

func (s *Server) closeWithError(conn *websocket.Conn, code int, err error) {
	_, body := voice.ErrorBody(err)
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(body)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, body.Code),
		time.Now().Add(writeTimeout))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorMessage{Error: message, Code: code})
}

func respondAppError(w http.ResponseWriter, err error) {
	status, body := voice.ErrorBody(err)
	respondJSON(w, status, body)
}
